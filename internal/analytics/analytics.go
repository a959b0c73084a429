// Package analytics computes baseline barrier statistics over a flattened
// corpus and the pairs of controls that failed in the same incident.
package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/flatten"
	"github.com/dshills/bowtie/internal/report"
)

// Output file names inside the derived directory.
const (
	SummaryFile  = "control_summary.json"
	CrosstabFile = "failure_crosstab.csv"
	ControlsFile = "controls.csv"
)

// CrosstabHeader is written even when no controls failed together.
var CrosstabHeader = []string{"name_a", "name_b", "co_occurrences"}

// Pair is two distinct control names that both failed in CoOccurrences
// incidents. NameA sorts before NameB.
type Pair struct {
	NameA         string
	NameB         string
	CoOccurrences int
}

// Options controls an analyze run.
type Options struct {
	Logger *zap.Logger
}

// Result holds the run report, the flattened controls and the computed
// statistics.
type Result struct {
	Report   *report.Report
	Table    *flatten.Table
	Baseline *report.Baseline
	Pairs    []Pair
}

// Run flattens an aggregated incident array in controls-only mode and
// computes the baseline over it. Elements that cannot be decoded are reported
// as failures and left out of the statistics.
func Run(ctx context.Context, name string, data []byte, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	flat, err := flatten.Run(ctx, name, data, flatten.Options{Mode: flatten.ModeControlsOnly, Logger: log})
	if err != nil {
		return nil, err
	}
	rep := flat.Report
	rep.Command = "analyze"

	base := Summarize(flat.Table)
	pairs := Crosstab(flat.Table)
	rep.Baseline = base
	if base.TotalControls == 0 {
		log.Warn("no controls to analyze", zap.String("input", name))
	}
	log.Info("baseline computed",
		zap.Int("controls", base.TotalControls),
		zap.Int("incidents", base.TotalIncidents),
		zap.Int("pairs", len(pairs)))
	return &Result{Report: rep, Table: flat.Table, Baseline: base, Pairs: pairs}, nil
}

// control is the subset of a flattened row the statistics read.
type control struct {
	incident      string
	name          string
	status        string
	side          string
	barrierType   string
	lineOfDefense string
	failed        bool
	humanRecorded bool
	failedHuman   bool
}

// controls extracts one control per row. Padding rows for incidents without
// controls carry no control_id and are skipped.
func controls(t *flatten.Table) []control {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		idx[c.Name] = i
	}
	cell := func(r flatten.Row, col string) any {
		i, ok := idx[col]
		if !ok || i >= len(r) {
			return nil
		}
		return r[i]
	}
	str := func(r flatten.Row, col string) string {
		s, _ := cell(r, col).(string)
		return s
	}
	flag := func(r flatten.Row, col string) bool {
		b, _ := cell(r, col).(bool)
		return b
	}

	out := make([]control, 0, len(t.Rows))
	for _, r := range t.Rows {
		if cell(r, "control_id") == nil {
			continue
		}
		out = append(out, control{
			incident:      str(r, "incident_id"),
			name:          str(r, "control_name"),
			status:        str(r, "barrier_status"),
			side:          str(r, "side"),
			barrierType:   str(r, "barrier_type"),
			lineOfDefense: str(r, "line_of_defense"),
			failed:        flag(r, "barrier_failed"),
			humanRecorded: cell(r, "human_contribution_value") != nil,
			failedHuman:   flag(r, "barrier_failed_human"),
		})
	}
	return out
}

// Summarize computes the status distribution, failure rates by barrier type,
// side and line of defense, and human contribution counts. Fractions are
// rounded to four decimal places; they are 0 when there are no controls.
func Summarize(t *flatten.Table) *report.Baseline {
	cs := controls(t)
	total := len(cs)
	b := &report.Baseline{
		TotalControls:        total,
		StatusDistribution:   map[string]report.Share{},
		FailureByBarrierType: map[string]report.Rate{},
		FailureBySide:        map[string]report.Rate{},
		FailureByLineOfDef:   map[string]report.Rate{},
		Human:                report.HumanContribution{TotalControls: total},
	}

	incidents := map[string]struct{}{}
	status := map[string]int{}
	for _, c := range cs {
		incidents[c.incident] = struct{}{}
		if c.status != "" {
			status[c.status]++
		}
		tallyFailure(b.FailureByBarrierType, c.barrierType, c.failed)
		tallyFailure(b.FailureBySide, c.side, c.failed)
		tallyFailure(b.FailureByLineOfDef, c.lineOfDefense, c.failed)
		if c.humanRecorded {
			b.Human.Mentioned++
		}
		if c.failedHuman {
			b.Human.FailedHuman++
		}
	}
	b.TotalIncidents = len(incidents)

	for s, n := range status {
		b.StatusDistribution[s] = report.Share{Count: n, Pct: fraction(n, total)}
	}
	for _, m := range []map[string]report.Rate{b.FailureByBarrierType, b.FailureBySide, b.FailureByLineOfDef} {
		for k, r := range m {
			r.Rate = fraction(r.Failed, r.Total)
			m[k] = r
		}
	}
	b.Human.MentionedPct = fraction(b.Human.Mentioned, total)
	b.Human.FailedHumanPct = fraction(b.Human.FailedHuman, total)
	return b
}

// tallyFailure counts one control into its group. Controls with no value for
// the grouping column are left out of that grouping.
func tallyFailure(m map[string]report.Rate, key string, failed bool) {
	if key == "" {
		return
	}
	r := m[key]
	r.Total++
	if failed {
		r.Failed++
	}
	m[key] = r
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1e4) / 1e4
}

// Crosstab counts, for every pair of distinct control names, the incidents in
// which both failed. A name failing twice in one incident counts once there.
// Pairs are sorted by NameA, then NameB.
func Crosstab(t *flatten.Table) []Pair {
	failed := map[string]map[string]struct{}{}
	for _, c := range controls(t) {
		if !c.failed || c.name == "" {
			continue
		}
		names := failed[c.incident]
		if names == nil {
			names = map[string]struct{}{}
			failed[c.incident] = names
		}
		names[c.name] = struct{}{}
	}

	counts := map[[2]string]int{}
	for _, names := range failed {
		sorted := make([]string, 0, len(names))
		for n := range names {
			sorted = append(sorted, n)
		}
		sort.Strings(sorted)
		for i := range sorted {
			for j := i + 1; j < len(sorted); j++ {
				counts[[2]string{sorted[i], sorted[j]}]++
			}
		}
	}

	pairs := make([]Pair, 0, len(counts))
	for k, n := range counts {
		pairs = append(pairs, Pair{NameA: k[0], NameB: k[1], CoOccurrences: n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].NameA != pairs[j].NameA {
			return pairs[i].NameA < pairs[j].NameA
		}
		return pairs[i].NameB < pairs[j].NameB
	})
	return pairs
}

// WriteSummary encodes the baseline as indented JSON.
func WriteSummary(w io.Writer, b *report.Baseline) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	return nil
}

// WriteCrosstab writes the pairs as CSV under CrosstabHeader.
func WriteCrosstab(w io.Writer, pairs []Pair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CrosstabHeader); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := cw.Write([]string{p.NameA, p.NameB, strconv.Itoa(p.CoOccurrences)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
