// Package quality computes corpus completeness metrics and applies the
// quality gate thresholds.
package quality

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/batch"
	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

// fileMetrics are the raw counts for one record.
type fileMetrics struct {
	noControls       bool
	hasSummary       bool
	controls         int
	missingEvidence  int
	mentioned        int
	mentionedMissing int
	enumFields       int
	unknownEnums     int
	unknownByField   map[string]int
	confidence       map[string]int
}

// measure computes the metrics of one decoded record.
func measure(s schema.Schema, doc map[string]any) fileMetrics {
	m := fileMetrics{unknownByField: map[string]int{}, confidence: map[string]int{}}

	bt, _ := doc["bowtie"].(map[string]any)
	controls, _ := bt["controls"].([]any)
	m.noControls = len(controls) == 0
	if ev, ok := doc["event"].(map[string]any); ok {
		sum, _ := ev["summary"].(string)
		m.hasSummary = strings.TrimSpace(sum) != ""
	}

	s.Walk(doc, schema.Visitor{
		Field: func(_ string, f schema.Field, v any, present bool) {
			if !present || len(f.Enum) == 0 {
				return
			}
			str, ok := v.(string)
			if !ok {
				return
			}
			m.enumFields++
			if str == schema.Unknown || !f.Allows(str) {
				m.unknownEnums++
				m.unknownByField[f.Name]++
			}
			if f.Name == "confidence" {
				m.confidence[str]++
			}
		},
		Object: func(_ string, fields []schema.Field, obj map[string]any) {
			for _, p := range schema.Pairs(fields) {
				if mentioned, _ := obj[p.Mentioned].(bool); mentioned {
					m.mentioned++
					if v, _ := obj[p.Value].(string); strings.TrimSpace(v) == "" {
						m.mentionedMissing++
					}
				}
			}
		},
	})

	for _, c := range controls {
		m.controls++
		ctl, _ := c.(map[string]any)
		ev, _ := ctl["evidence"].(map[string]any)
		if !hasText(ev["supporting_text"]) {
			m.missingEvidence++
		}
	}
	return m
}

func hasText(v any) bool {
	items, _ := v.([]any)
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// aggregate sums per-file metrics into corpus metrics.
func aggregate(files []fileMetrics, parseFailures int) *report.Metrics {
	out := &report.Metrics{
		Files:                  len(files) + parseFailures,
		ParseFailures:          parseFailures,
		UnknownByField:         map[string]int{},
		ConfidenceDistribution: map[string]int{},
	}
	for _, m := range files {
		if m.noControls {
			out.NoControlsFiles++
		}
		if m.hasSummary {
			out.FilesWithSummary++
		}
		out.Controls += m.controls
		out.ControlsMissingEvidence += m.missingEvidence
		out.MentionedFields += m.mentioned
		out.MentionedMissingValue += m.mentionedMissing
		out.EnumFields += m.enumFields
		out.UnknownEnums += m.unknownEnums
		for k, v := range m.unknownByField {
			out.UnknownByField[k] += v
		}
		for k, v := range m.confidence {
			out.ConfidenceDistribution[k] += v
		}
	}
	out.NoControlsRatio = ratio(out.NoControlsFiles, len(files))
	out.MissingEvidenceRatio = ratio(out.ControlsMissingEvidence, out.Controls)
	out.EvidenceCompleteness = round(1 - out.MissingEvidenceRatio)
	out.MentionedMissingValueRatio = ratio(out.MentionedMissingValue, out.MentionedFields)
	out.UnknownEnumRatio = ratio(out.UnknownEnums, out.EnumFields)
	return out
}

// ratio returns n/d rounded to four places, or 0 when d is 0.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round(float64(n) / float64(d))
}

func round(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// Evaluate checks metrics against thresholds and lists every breach.
func Evaluate(m *report.Metrics, profileName string, t report.Thresholds) *report.Gate {
	g := &report.Gate{Profile: profileName, Thresholds: t, Breaches: []report.Breach{}}
	above := func(metric string, v, limit float64) {
		if v > limit {
			g.Breaches = append(g.Breaches, report.Breach{
				Kind: report.KindThresholdBreach, Metric: metric, Value: v, Limit: limit,
				Message: fmt.Sprintf("%s %.4g exceeds max %.4g", metric, v, limit),
			})
		}
	}
	below := func(metric string, v, limit float64) {
		if v < limit {
			g.Breaches = append(g.Breaches, report.Breach{
				Kind: report.KindThresholdBreach, Metric: metric, Value: v, Limit: limit,
				Message: fmt.Sprintf("%s %.4g is below min %.4g", metric, v, limit),
			})
		}
	}
	above("parse_failures", float64(m.ParseFailures), float64(t.MaxParseFailures))
	above("no_controls_ratio", m.NoControlsRatio, t.MaxNoControlsRatio)
	above("mentioned_missing_value_ratio", m.MentionedMissingValueRatio, t.MaxMentionedMissingValueRatio)
	below("evidence_completeness", m.EvidenceCompleteness, t.MinEvidenceCompleteness)
	above("unknown_enum_ratio", m.UnknownEnumRatio, t.MaxUnknownEnumRatio)

	switch {
	case len(g.Breaches) > 0:
		g.Verdict = report.VerdictFail
	case m.ParseFailures > 0 || m.MentionedMissingValue > 0 || m.NoControlsFiles > 0:
		g.Passed = true
		g.Verdict = report.VerdictPassWithWarnings
	default:
		g.Passed = true
		g.Verdict = report.VerdictPass
	}
	return g
}

// Options controls a quality-gate run.
type Options struct {
	Profile    string
	Thresholds report.Thresholds
	Workers    int
	Logger     *zap.Logger
}

// Run computes corpus metrics over every *.json file in the collection and
// applies the gate. Files that cannot be parsed count as parse failures and
// are listed as warnings; the input is never modified.
func Run(ctx context.Context, coll store.Collection, opts Options) (*report.Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	entries, corpusID, err := store.Snapshot(ctx, coll, ".json")
	if err != nil {
		return nil, err
	}

	type outcome struct {
		m   fileMetrics
		err error
	}
	outcomes := make([]outcome, len(entries))
	err = batch.ForEach(ctx, len(entries), opts.Workers, func(_ context.Context, i int) error {
		e := entries[i]
		if e.Err != nil {
			outcomes[i].err = e.Err
			return nil
		}
		doc, err := validate.Decode(e.Data)
		if err != nil {
			outcomes[i].err = err
			return nil
		}
		outcomes[i].m = measure(schema.V23, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rep := report.New("quality-gate")
	rep.Input = report.Input{Dir: coll.Name(), CorpusID: corpusID, Files: len(entries)}
	var parsed []fileMetrics
	failures := 0
	for i, o := range outcomes {
		rep.Summary.Checked++
		if o.err != nil {
			failures++
			rep.Summary.Skipped++
			rep.Summary.Warned++
			rep.Warnings = append(rep.Warnings, report.FileResult{
				File:    entries[i].Key,
				Reasons: []report.Reason{{Kind: report.KindParseError, Message: o.err.Error()}},
			})
			continue
		}
		rep.Summary.Passed++
		parsed = append(parsed, o.m)
	}

	rep.Metrics = aggregate(parsed, failures)
	rep.Gate = Evaluate(rep.Metrics, opts.Profile, opts.Thresholds)
	log.Info("quality-gate complete",
		zap.Int("files", rep.Metrics.Files),
		zap.Float64("no_controls_ratio", rep.Metrics.NoControlsRatio),
		zap.Float64("evidence_completeness", rep.Metrics.EvidenceCompleteness),
		zap.String("verdict", string(rep.Gate.Verdict)),
		zap.Int("breaches", len(rep.Gate.Breaches)))
	return rep, nil
}
