package quality

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bowtie/internal/profile"
	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/store"
)

func fullControl(id string, evidence ...any) map[string]any {
	return map[string]any{
		"control_id":        id,
		"name":              "pressure relief valve",
		"side":              "prevention",
		"barrier_type":      "engineering",
		"line_of_defense":   "1st",
		"linked_threat_ids": []any{"T-001"},
		"performance":       map[string]any{"barrier_status": "active"},
		"evidence":          map[string]any{"supporting_text": evidence, "confidence": "high"},
	}
}

func record(id, summary string, controls ...any) map[string]any {
	doc := map[string]any{
		"incident_id": id,
		"event":       map[string]any{"summary": summary},
		"bowtie": map[string]any{
			"threats":  []any{map[string]any{"threat_id": "T-001", "name": "overpressure"}},
			"controls": controls,
		},
	}
	schema.V23.ApplyDefaults(doc)
	return doc
}

func write(t *testing.T, m *store.Memory, key string, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, m.Write(key, data))
}

func corpus(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory("corpus")
	c1 := fullControl("C-001", "valve lifted at set pressure")
	c1["performance"].(map[string]any)["detection_mentioned"] = true
	c1["performance"].(map[string]any)["detection_value"] = "operator noticed the alarm"
	c2 := fullControl("C-002")
	c2["performance"].(map[string]any)["alarm_mentioned"] = true
	write(t, m, "a.json", record("INC-001", "release during startup", c1, c2))
	write(t, m, "b.json", record("INC-002", ""))
	require.NoError(t, m.Write("c.json", []byte("not json")))
	return m
}

func TestMeasure_CountsPairsEvidenceAndEnums(t *testing.T) {
	ctl := fullControl("C-001")
	ctl["barrier_type"] = "unknown"
	ctl["performance"].(map[string]any)["alarm_mentioned"] = true
	doc := record("INC-001", "summary", ctl)

	m := measure(schema.V23, doc)
	assert.False(t, m.noControls)
	assert.True(t, m.hasSummary)
	assert.Equal(t, 1, m.controls)
	assert.Equal(t, 1, m.missingEvidence)
	assert.Equal(t, 1, m.mentioned)
	assert.Equal(t, 1, m.mentionedMissing)
	assert.Equal(t, 5, m.enumFields)
	assert.Equal(t, 1, m.unknownEnums)
	assert.Equal(t, map[string]int{"barrier_type": 1}, m.unknownByField)
	assert.Equal(t, map[string]int{"high": 1}, m.confidence)
}

func TestMeasure_BlankEvidenceIsMissing(t *testing.T) {
	doc := record("INC-001", "", fullControl("C-001", "  ", ""))
	m := measure(schema.V23, doc)
	assert.Equal(t, 1, m.missingEvidence)
	assert.False(t, m.hasSummary)
}

func TestRun_Metrics(t *testing.T) {
	m := corpus(t)
	rep, err := Run(context.Background(), m, Options{Profile: "default", Thresholds: mustProfile(t, "default"), Workers: 2})
	require.NoError(t, err)
	require.NotNil(t, rep.Metrics)

	got := rep.Metrics
	assert.Equal(t, 3, got.Files)
	assert.Equal(t, 1, got.ParseFailures)
	assert.Equal(t, 1, got.NoControlsFiles)
	assert.Equal(t, 0.5, got.NoControlsRatio)
	assert.Equal(t, 1, got.FilesWithSummary)
	assert.Equal(t, 2, got.Controls)
	assert.Equal(t, 1, got.ControlsMissingEvidence)
	assert.Equal(t, 0.5, got.EvidenceCompleteness)
	assert.Equal(t, 2, got.MentionedFields)
	assert.Equal(t, 1, got.MentionedMissingValue)
	assert.Equal(t, 0.5, got.MentionedMissingValueRatio)
	assert.Equal(t, 10, got.EnumFields)
	assert.Equal(t, 0, got.UnknownEnums)
	assert.Equal(t, map[string]int{"high": 2}, got.ConfidenceDistribution)

	assert.Equal(t, report.Summary{Checked: 3, Passed: 2, Skipped: 1, Warned: 1}, rep.Summary)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "c.json", rep.Warnings[0].File)
	assert.Equal(t, report.KindParseError, rep.Warnings[0].Reasons[0].Kind)
}

func TestRun_DefaultProfileFails(t *testing.T) {
	rep, err := Run(context.Background(), corpus(t), Options{Profile: "default", Thresholds: mustProfile(t, "default")})
	require.NoError(t, err)

	g := rep.Gate
	require.NotNil(t, g)
	assert.False(t, g.Passed)
	assert.Equal(t, report.VerdictFail, g.Verdict)
	var metrics []string
	for _, b := range g.Breaches {
		assert.Equal(t, report.KindThresholdBreach, b.Kind)
		metrics = append(metrics, b.Metric)
	}
	assert.Equal(t, []string{
		"parse_failures",
		"no_controls_ratio",
		"mentioned_missing_value_ratio",
		"evidence_completeness",
	}, metrics)
	assert.False(t, rep.OK())
}

func TestRun_DoesNotModifyInput(t *testing.T) {
	m := corpus(t)
	before, err := m.Read("a.json")
	require.NoError(t, err)
	_, err = Run(context.Background(), m, Options{Thresholds: mustProfile(t, "lenient")})
	require.NoError(t, err)
	after, err := m.Read("a.json")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEvaluate_Verdicts(t *testing.T) {
	lenient := mustProfile(t, "lenient")

	clean := &report.Metrics{Files: 2, EvidenceCompleteness: 1}
	g := Evaluate(clean, "lenient", lenient)
	assert.True(t, g.Passed)
	assert.Equal(t, report.VerdictPass, g.Verdict)
	assert.Empty(t, g.Breaches)

	warned := &report.Metrics{Files: 2, ParseFailures: 1, EvidenceCompleteness: 1}
	g = Evaluate(warned, "lenient", lenient)
	assert.True(t, g.Passed)
	assert.Equal(t, report.VerdictPassWithWarnings, g.Verdict)

	breached := &report.Metrics{Files: 2, UnknownEnumRatio: 0.9, EvidenceCompleteness: 1}
	g = Evaluate(breached, "lenient", lenient)
	assert.False(t, g.Passed)
	require.Len(t, g.Breaches, 1)
	assert.Equal(t, "unknown_enum_ratio", g.Breaches[0].Metric)
	assert.Equal(t, 0.9, g.Breaches[0].Value)
	assert.Equal(t, 0.8, g.Breaches[0].Limit)
}

func TestEvaluate_BoundaryIsInclusive(t *testing.T) {
	th := mustProfile(t, "default")
	m := &report.Metrics{
		NoControlsRatio:            th.MaxNoControlsRatio,
		MentionedMissingValueRatio: th.MaxMentionedMissingValueRatio,
		EvidenceCompleteness:       th.MinEvidenceCompleteness,
		UnknownEnumRatio:           th.MaxUnknownEnumRatio,
	}
	g := Evaluate(m, "default", th)
	assert.True(t, g.Passed)
}

func TestRun_EmptyCorpus(t *testing.T) {
	rep, err := Run(context.Background(), store.NewMemory("empty"), Options{Thresholds: mustProfile(t, "default")})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Metrics.Files)
	assert.Equal(t, 1.0, rep.Metrics.EvidenceCompleteness)
	assert.True(t, rep.Gate.Passed)
}

func TestRun_BOMParsesTrailingBraceDoesNot(t *testing.T) {
	data, err := json.Marshal(record("INC-001", "release", fullControl("C-001", "valve lifted")))
	require.NoError(t, err)
	m := store.NewMemory("corpus")
	require.NoError(t, m.Write("bom.json", append([]byte("\ufeff"), data...)))
	require.NoError(t, m.Write("brace.json", append(append([]byte{}, data...), '}')))

	rep, err := Run(context.Background(), m, Options{Thresholds: mustProfile(t, "lenient")})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Metrics.Files)
	assert.Equal(t, 1, rep.Metrics.ParseFailures)
	assert.Equal(t, 1, rep.Metrics.Controls)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "brace.json", rep.Warnings[0].File)
}

func mustProfile(t *testing.T, name string) report.Thresholds {
	t.Helper()
	p, err := profile.Get(name)
	require.NoError(t, err)
	return p.Thresholds
}
