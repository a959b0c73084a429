package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/bowtie/internal/flatten"
	"github.com/dshills/bowtie/internal/report"
)

func row(vals map[string]any) flatten.Row {
	r := make(flatten.Row, len(flatten.Columns))
	for i, c := range flatten.Columns {
		if v, ok := vals[c.Name]; ok {
			r[i] = v
		}
	}
	return r
}

func failedControl(incident, id, name string) flatten.Row {
	return row(map[string]any{
		"incident_id":    incident,
		"control_id":     id,
		"control_name":   name,
		"barrier_status": "failed",
		"barrier_failed": true,
	})
}

func table(rows ...flatten.Row) *flatten.Table {
	return &flatten.Table{Columns: flatten.Columns, Rows: rows}
}

// sample has six controls over two incidents plus a padding row.
func sample() *flatten.Table {
	ctl := func(inc, id, name, status, side, typ, lod string, failed bool) map[string]any {
		return map[string]any{
			"incident_id":     inc,
			"control_id":      id,
			"control_name":    name,
			"barrier_status":  status,
			"side":            side,
			"barrier_type":    typ,
			"line_of_defense": lod,
			"barrier_failed":  failed,
		}
	}
	psv := ctl("INC-001", "C-001", "PSV", "failed", "prevention", "engineering", "1st", true)
	psv["human_contribution_value"] = "valve left isolated"
	psv["barrier_failed_human"] = true
	return table(
		row(psv),
		row(ctl("INC-001", "C-002", "Deluge", "failed", "mitigation", "engineering", "2nd", true)),
		row(ctl("INC-001", "C-003", "Alarm", "active", "prevention", "administrative", "1st", false)),
		row(ctl("INC-002", "C-001", "PSV", "failed", "prevention", "engineering", "1st", true)),
		row(ctl("INC-002", "C-002", "Deluge", "failed", "mitigation", "engineering", "2nd", true)),
		row(ctl("INC-002", "C-003", "PSV", "degraded", "prevention", "engineering", "1st", true)),
		row(map[string]any{"incident_id": "INC-003"}),
	)
}

func TestSummarize(t *testing.T) {
	got := Summarize(sample())
	want := &report.Baseline{
		TotalControls:  6,
		TotalIncidents: 2,
		StatusDistribution: map[string]report.Share{
			"failed":   {Count: 4, Pct: 0.6667},
			"active":   {Count: 1, Pct: 0.1667},
			"degraded": {Count: 1, Pct: 0.1667},
		},
		FailureByBarrierType: map[string]report.Rate{
			"engineering":    {Failed: 5, Total: 5, Rate: 1},
			"administrative": {Failed: 0, Total: 1, Rate: 0},
		},
		FailureBySide: map[string]report.Rate{
			"prevention": {Failed: 3, Total: 4, Rate: 0.75},
			"mitigation": {Failed: 2, Total: 2, Rate: 1},
		},
		FailureByLineOfDef: map[string]report.Rate{
			"1st": {Failed: 3, Total: 4, Rate: 0.75},
			"2nd": {Failed: 2, Total: 2, Rate: 1},
		},
		Human: report.HumanContribution{
			TotalControls:  6,
			Mentioned:      1,
			MentionedPct:   0.1667,
			FailedHuman:    1,
			FailedHumanPct: 0.1667,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_EmptyGroupValueLeftOut(t *testing.T) {
	got := Summarize(table(failedControl("INC-001", "C-001", "PSV")))
	if len(got.FailureBySide) != 0 || len(got.FailureByBarrierType) != 0 {
		t.Errorf("controls without a side or type were grouped: %+v %+v", got.FailureBySide, got.FailureByBarrierType)
	}
	if got.StatusDistribution["failed"] != (report.Share{Count: 1, Pct: 1}) {
		t.Errorf("status = %+v", got.StatusDistribution)
	}
}

func TestSummarize_NoControls(t *testing.T) {
	got := Summarize(table(row(map[string]any{"incident_id": "INC-001"})))
	if got.TotalControls != 0 || got.TotalIncidents != 0 {
		t.Errorf("totals = %d controls, %d incidents, want 0 and 0", got.TotalControls, got.TotalIncidents)
	}
	if got.Human.MentionedPct != 0 || got.Human.FailedHumanPct != 0 {
		t.Errorf("fractions over no controls = %+v, want 0", got.Human)
	}
	if got.StatusDistribution == nil || got.FailureBySide == nil {
		t.Error("empty groupings should encode as {} not null")
	}
}

func TestCrosstab_PairsCountedOncePerIncident(t *testing.T) {
	got := Crosstab(sample())
	want := []Pair{{NameA: "Deluge", NameB: "PSV", CoOccurrences: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Crosstab mismatch (-want +got):\n%s", diff)
	}
}

func TestCrosstab_OrderingAndNoSelfPairs(t *testing.T) {
	got := Crosstab(table(
		failedControl("INC-001", "C-001", "PSV"),
		failedControl("INC-001", "C-002", "PSV"),
		failedControl("INC-002", "C-001", "PSV"),
		failedControl("INC-002", "C-002", "Deluge"),
		failedControl("INC-002", "C-003", "Alarm"),
		failedControl("INC-003", "C-001", "Deluge"),
		failedControl("INC-003", "C-002", "PSV"),
		row(map[string]any{"incident_id": "INC-003", "control_id": "C-003", "control_name": "Alarm", "barrier_failed": false}),
	))
	want := []Pair{
		{NameA: "Alarm", NameB: "Deluge", CoOccurrences: 1},
		{NameA: "Alarm", NameB: "PSV", CoOccurrences: 1},
		{NameA: "Deluge", NameB: "PSV", CoOccurrences: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Crosstab mismatch (-want +got):\n%s", diff)
	}
	for _, p := range got {
		if p.NameA >= p.NameB {
			t.Errorf("pair %q/%q is not strictly ordered", p.NameA, p.NameB)
		}
	}
}

func TestWriteCrosstab(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCrosstab(&buf, nil); err != nil {
		t.Fatalf("WriteCrosstab: %v", err)
	}
	if got := buf.String(); got != "name_a,name_b,co_occurrences\n" {
		t.Errorf("empty crosstab = %q, want header only", got)
	}

	buf.Reset()
	if err := WriteCrosstab(&buf, []Pair{{NameA: "Deluge, fixed", NameB: "PSV", CoOccurrences: 3}}); err != nil {
		t.Fatalf("WriteCrosstab: %v", err)
	}
	want := "name_a,name_b,co_occurrences\n\"Deluge, fixed\",PSV,3\n"
	if got := buf.String(); got != want {
		t.Errorf("crosstab = %q, want %q", got, want)
	}
}

func TestWriteSummary_Keys(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, Summarize(sample())); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	for _, k := range []string{
		"total_controls", "total_incidents", "barrier_status_distribution",
		"failure_rate_by_barrier_type", "failure_rate_by_side",
		"failure_rate_by_line_of_defense", "human_contribution",
	} {
		if _, ok := doc[k]; !ok {
			t.Errorf("summary missing %q", k)
		}
	}
	human := doc["human_contribution"].(map[string]any)
	if human["barrier_failed_human_count"] != 1.0 {
		t.Errorf("barrier_failed_human_count = %v, want 1", human["barrier_failed_human_count"])
	}
}

func TestRun(t *testing.T) {
	const corpus = `[
  {
    "incident_id": "INC-001",
    "bowtie": {"controls": [
      {"control_id": "C-001", "name": "PSV", "side": "prevention", "performance": {"barrier_status": "failed", "barrier_failed": true}},
      {"control_id": "C-002", "name": "ESD", "side": "prevention", "performance": {"barrier_status": "failed", "barrier_failed": true}}
    ]}
  },
  {"incident_id": "INC-002", "bowtie": {"controls": []}},
  "not an incident"
]`
	res, err := Run(context.Background(), "incidents.json", []byte(corpus), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Report.Command != "analyze" {
		t.Errorf("command = %q", res.Report.Command)
	}
	if res.Report.Baseline != res.Baseline {
		t.Error("report does not carry the baseline")
	}
	if res.Report.Summary.Failed != 1 || res.Report.Summary.Passed != 2 {
		t.Errorf("summary = %+v, want 2 passed and 1 failed", res.Report.Summary)
	}
	if res.Baseline.TotalControls != 2 || res.Baseline.TotalIncidents != 1 {
		t.Errorf("baseline totals = %d/%d, want 2/1", res.Baseline.TotalControls, res.Baseline.TotalIncidents)
	}
	if diff := cmp.Diff([]Pair{{NameA: "ESD", NameB: "PSV", CoOccurrences: 1}}, res.Pairs); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
	if len(res.Table.Rows) != 2 {
		t.Errorf("rows = %d, want 2 (controls-only)", len(res.Table.Rows))
	}

	if _, err := Run(context.Background(), "bad.json", []byte(`{}`), Options{}); err == nil {
		t.Error("non-array input should be an error")
	}
}
