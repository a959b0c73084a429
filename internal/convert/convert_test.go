package convert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

// driftRecord is model output with the usual key drift and enum noise.
const driftRecord = `{
  "incident_id": "CSB-2019-04",
  "source": {"doc_type": "investigation_report", "title": "Refinery fire", "url": null},
  "context": {"region": "US Gulf Coast", "operating_phase": ["Startup", "Maintenance"], "materials": {"primary": "naphtha", "secondary": null}},
  "event": {"type": "Loss of containment", "description": "A line ruptured.", "category": ["fire"], "costs": {}},
  "bowtie": {
    "hazards": [{"id": "H1", "name": "Flammable hydrocarbons"}],
    "threats": [{"threat_id": "T-001", "name": "Corrosion"}, {"threat_id": "T-001", "name": "Overpressure"}],
    "consequences": [{"consequence_id": "CON-001", "name": "Fire", "severity": "major"}],
    "controls": [
      {"control_id": "C-001", "name": "Inspection", "side": "left", "line_of_defense": 1,
       "linked_threat_ids": ["T-001"],
       "performance": {"barrier_status": "Broken", "detection_mentioned": false, "detection_value": "UT gauging"},
       "human": {"human_contribution_value": ["missed reading"], "human_contribution_mentioned": true},
       "evidence": {"supporting_text": "inspection was overdue", "confidence": "certain"}},
      {"control_id": "C-001", "name": "Deluge", "side": "sideways", "barrier_type": "Hardware",
       "linked_consequence_ids": ["CON-001"]}
    ]
  },
  "pifs": {"people": {"fatigue_value": "long shift"}},
  "notes": {"schema_version": "2.2"}
}`

// v1Record is a flat pre-bowtie record.
const v1Record = `{
  "incident_id": "INC-2024-001",
  "date": "2024-01-15",
  "location": "Gulf of Mexico",
  "incident_type": "Gas Release",
  "severity": "Major",
  "description": "Uncontrolled gas release from wellhead.",
  "hazard": "Hydrocarbon Release",
  "top_event": "Loss of Containment",
  "causes": ["Equipment failure", "Corrosion"],
  "consequences": ["Fire", "Platform evacuation"],
  "prevention_barriers": ["Pressure monitoring"],
  "mitigation_barriers": ["Emergency shutdown", "Fire suppression"],
  "injuries": 2,
  "source": "BSEE Investigation Report"
}`

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	doc, err := validate.Decode([]byte(s))
	require.NoError(t, err)
	return doc
}

func convertText(t *testing.T, s string) (*schema.Incident, []byte, Counts) {
	t.Helper()
	inc, counts, err := Normalize(decode(t, s))
	require.NoError(t, err)
	out, err := Encode(inc)
	require.NoError(t, err)
	return inc, out, counts
}

func TestNormalize_Idempotent(t *testing.T) {
	for name, in := range map[string]string{
		"drift":   driftRecord,
		"v1":      v1Record,
		"minimal": `{"incident_id": "X-1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, first, _ := convertText(t, in)
			_, second, counts := convertText(t, string(first))
			assert.Equal(t, string(first), string(second))
			assert.Empty(t, counts, "canonical input needed coercions")
		})
	}
}

func TestNormalize_OutputValidates(t *testing.T) {
	for _, in := range []string{driftRecord, v1Record, `{"incident_id": "X-1"}`} {
		_, out, _ := convertText(t, in)
		for _, r := range validate.File(schema.V23, out, false) {
			assert.False(t, r.Blocking, "%s: %s", r.Path, r.Message)
		}
	}
}

func TestNormalize_MentionedFalseClearsValue(t *testing.T) {
	inc, out, counts := convertText(t, driftRecord)
	ctl := inc.Bowtie.Controls[0]
	assert.False(t, ctl.Performance.DetectionMentioned)
	assert.Nil(t, ctl.Performance.DetectionValue)
	assert.Equal(t, 1, counts["value_cleared_not_mentioned"])

	// value without a flag is treated as mentioned
	assert.True(t, inc.PIFs.People.FatigueMentioned)
	require.NotNil(t, inc.PIFs.People.FatigueValue)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	schema.V23.Walk(doc, schema.Visitor{Object: func(path string, fields []schema.Field, obj map[string]any) {
		for _, p := range schema.Pairs(fields) {
			if obj[p.Mentioned] == false {
				assert.Nil(t, obj[p.Value], "%s.%s", path, p.Value)
			}
		}
	}})
}

func TestNormalize_RenumbersDuplicateIDsAndRelinks(t *testing.T) {
	inc, _, counts := convertText(t, driftRecord)

	assert.Equal(t, "H-001", inc.Bowtie.Hazards[0].HazardID)
	assert.Equal(t, "T-001", inc.Bowtie.Threats[0].ThreatID)
	assert.Equal(t, "T-002", inc.Bowtie.Threats[1].ThreatID)
	assert.Equal(t, "CON-001", inc.Bowtie.Consequences[0].ConsequenceID)
	assert.Equal(t, "C-001", inc.Bowtie.Controls[0].ControlID)
	assert.Equal(t, "C-002", inc.Bowtie.Controls[1].ControlID)
	assert.Equal(t, []string{"T-001"}, inc.Bowtie.Controls[0].LinkedThreatIDs)
	assert.Equal(t, []string{"CON-001"}, inc.Bowtie.Controls[1].LinkedConsequenceIDs)
	assert.Equal(t, 1, counts["threats_renumbered"])
	assert.Equal(t, 1, counts["controls_renumbered"])
	assert.Equal(t, 1, counts["hazard_id_remapped"])
}

func TestNormalize_RelinksThroughMapping(t *testing.T) {
	in := `{"incident_id": "I", "bowtie": {
	  "threats": [{"threat_id": "T-9", "name": "a"}, {"threat_id": "T-5", "name": "b"}],
	  "controls": [{"control_id": "C-001", "linked_threat_ids": ["T-5", "T-9", "T-5"]}]}}`
	inc, _, _ := convertText(t, in)
	assert.Equal(t, "T-001", inc.Bowtie.Threats[0].ThreatID)
	assert.Equal(t, "T-002", inc.Bowtie.Threats[1].ThreatID)
	assert.Equal(t, []string{"T-002", "T-001"}, inc.Bowtie.Controls[0].LinkedThreatIDs)
}

func TestNormalize_EnumMapping(t *testing.T) {
	inc, _, _ := convertText(t, driftRecord)
	prev, mit := inc.Bowtie.Controls[0], inc.Bowtie.Controls[1]

	assert.Equal(t, schema.SidePrevention, prev.Side)
	assert.Equal(t, schema.LOD1st, prev.LineOfDefense)
	assert.Equal(t, schema.StatusFailed, prev.Performance.BarrierStatus)
	assert.Equal(t, schema.ConfidenceLow, prev.Evidence.Confidence)
	assert.Equal(t, []string{"inspection was overdue"}, prev.Evidence.SupportingText)
	require.NotNil(t, prev.Human.HumanContributionValue)
	assert.Equal(t, "missed reading", *prev.Human.HumanContributionValue)

	// unmappable side with only consequence links lands on mitigation
	assert.Equal(t, schema.SideMitigation, mit.Side)
	assert.Equal(t, schema.TypeEngineering, mit.BarrierType)
	assert.Equal(t, schema.LODUnknown, mit.LineOfDefense)
	assert.Equal(t, schema.StatusUnknown, mit.Performance.BarrierStatus)
}

func TestNormalize_KeyDriftAndCoercions(t *testing.T) {
	inc, _, _ := convertText(t, driftRecord)
	assert.Equal(t, "Loss of containment", inc.Event.TopEvent)
	assert.Equal(t, "A line ruptured.", inc.Event.Summary)
	assert.Equal(t, "fire", inc.Event.IncidentType)
	assert.Nil(t, inc.Event.Costs)
	assert.Equal(t, "startup; maintenance", inc.Context.OperatingPhase)
	assert.Equal(t, []string{"naphtha"}, inc.Context.Materials)
	assert.Equal(t, schema.Version, inc.Notes.SchemaVersion)
	assert.Equal(t, schema.DefaultRules, inc.Notes.Rules)
	assert.Equal(t, "unknown", inc.Context.Operator)
	assert.NotNil(t, inc.Event.ActionsTaken)
}

func TestNormalize_LiftsV1Record(t *testing.T) {
	inc, _, counts := convertText(t, v1Record)
	want := schema.Bowtie{
		Hazards: []schema.Hazard{{HazardID: "H-001", Name: "Hydrocarbon Release"}},
		Threats: []schema.Threat{
			{ThreatID: "T-001", Name: "Equipment failure"},
			{ThreatID: "T-002", Name: "Corrosion"},
		},
		Consequences: []schema.Consequence{
			{ConsequenceID: "CON-001", Name: "Fire", Severity: ptr("Major")},
			{ConsequenceID: "CON-002", Name: "Platform evacuation", Severity: ptr("Major")},
		},
	}
	got := inc.Bowtie
	got.Controls = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bowtie mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, inc.Bowtie.Controls, 3)
	assert.Equal(t, []schema.Side{schema.SidePrevention, schema.SideMitigation, schema.SideMitigation},
		[]schema.Side{inc.Bowtie.Controls[0].Side, inc.Bowtie.Controls[1].Side, inc.Bowtie.Controls[2].Side})
	assert.Equal(t, "C-003", inc.Bowtie.Controls[2].ControlID)
	assert.Equal(t, "Gulf of Mexico", inc.Context.Region)
	assert.Equal(t, "BSEE Investigation Report", inc.Source.Title)
	assert.Equal(t, "Uncontrolled gas release from wellhead.", inc.Event.Summary)
	require.NotNil(t, inc.Source.DateOccurred)
	assert.Equal(t, "2024-01-15", *inc.Source.DateOccurred)
	assert.Equal(t, 1, counts["v1_record_lifted"])
}

func TestNormalize_TopLevelControlsMoved(t *testing.T) {
	inc, _, _ := convertText(t, `{"incident_id": "I", "controls": [{"name": "PSV"}]}`)
	require.Len(t, inc.Bowtie.Controls, 1)
	assert.Equal(t, "C-001", inc.Bowtie.Controls[0].ControlID)
	assert.Equal(t, "PSV", inc.Bowtie.Controls[0].Name)
}

func TestNormalize_MissingIncidentID(t *testing.T) {
	for _, in := range []string{`{}`, `{"incident_id": ""}`, `{"incident_id": null}`} {
		_, _, err := Normalize(decode(t, in))
		assert.True(t, errors.Is(err, ErrMissingID), in)
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "INC-001.json", OutputName("INC-001"))
	assert.Equal(t, "CSB_2019_04_a.json", OutputName("CSB/2019 04:a"))
	assert.Equal(t, "_.json", OutputName(".."))
}

func TestRun_PartialFailuresAndCollisions(t *testing.T) {
	in := store.NewMemory("raw")
	out := store.NewMemory("v23")
	require.NoError(t, in.Write("a.json", []byte(`{"incident_id": "INC-001"}`)))
	require.NoError(t, in.Write("b.json", []byte(`{"incident_id": "INC/002"}`)))
	require.NoError(t, in.Write("c.json", []byte(`{"incident_id": "INC:002"}`)))
	require.NoError(t, in.Write("d.json", []byte(`{not json`)))
	require.NoError(t, in.Write("e.json", []byte(`{"source": {}}`)))
	require.NoError(t, in.Write("f.json", []byte("\xEF\xBB\xBF"+`{"incident_id": "INC-003", "controls": [{"side": "left"}]}`)))

	res, err := Run(context.Background(), in, out, Options{Workers: 3, Patches: true})
	require.NoError(t, err)
	rep := res.Report

	assert.Equal(t, report.Summary{Checked: 6, Passed: 2, Failed: 4}, rep.Summary)
	assert.Equal(t, []string{"INC-001.json", "INC-003.json"}, rep.Outputs)
	kinds := map[string]report.Kind{}
	for _, f := range rep.Failures {
		kinds[f.File] = f.Reasons[len(f.Reasons)-1].Kind
	}
	assert.Equal(t, map[string]report.Kind{
		"b.json": report.KindOutputCollision,
		"c.json": report.KindOutputCollision,
		"d.json": report.KindParseError,
		"e.json": report.KindMissingField,
	}, kinds)

	keys, err := out.List(context.Background(), ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"INC-001.json", "INC-003.json"}, keys)
	assert.False(t, out.Exists("INC_002.json"))

	assert.Equal(t, 1, rep.Coercions["side_mapped"])
	assert.Contains(t, res.Patch, "# patch for f.json")
}

func TestRun_ReconvertIsByteIdentical(t *testing.T) {
	in := store.NewMemory("raw")
	mid := store.NewMemory("v23")
	again := store.NewMemory("v23b")
	require.NoError(t, in.Write("x.json", []byte(driftRecord)))

	_, err := Run(context.Background(), in, mid, Options{})
	require.NoError(t, err)
	_, err = Run(context.Background(), mid, again, Options{})
	require.NoError(t, err)

	first, err := mid.Read("CSB-2019-04.json")
	require.NoError(t, err)
	second, err := again.Read("CSB-2019-04.json")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func ptr(s string) *string { return &s }
