package convert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/batch"
	"github.com/dshills/bowtie/internal/patch"
	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

// Options controls a convert-schema run.
type Options struct {
	Workers int
	Logger  *zap.Logger
	// Patches collects a raw-to-canonical diff per converted file.
	Patches bool
}

// Result is the outcome of a convert-schema run.
type Result struct {
	Report *report.Report
	// Patch holds diff-match-patch text when Options.Patches is set.
	Patch string
}

type converted struct {
	res    report.FileResult
	name   string
	data   []byte
	counts Counts
}

// Run converts every *.json file of in and writes the canonical records to
// out. Files that fail to parse, lack an incident_id, or collide on output
// name are reported and not written. A write failure aborts the run.
func Run(ctx context.Context, in, out store.Collection, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	entries, corpusID, err := store.Snapshot(ctx, in, ".json")
	if err != nil {
		return nil, err
	}

	results := make([]converted, len(entries))
	err = batch.ForEach(ctx, len(entries), opts.Workers, func(_ context.Context, i int) error {
		results[i] = convertOne(entries[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	markCollisions(results)

	rep := report.New("convert-schema")
	rep.Input = report.Input{Dir: in.Name(), OutDir: out.Name(), CorpusID: corpusID, Files: len(entries)}
	totals := Counts{}
	var changes []patch.Change
	for i, c := range results {
		if c.res.Blocking() {
			validate.Tally(rep, c.res)
			log.Warn("file not converted", zap.String("file", c.res.File), zap.String("reason", c.res.Reasons[0].Message))
			continue
		}
		if err := out.Write(c.name, c.data); err != nil {
			return nil, fmt.Errorf("writing output: %w", err)
		}
		validate.Tally(rep, c.res)
		totals.Merge(c.counts)
		rep.Outputs = append(rep.Outputs, c.name)
		if opts.Patches {
			changes = append(changes, patch.Change{File: c.res.File, Before: string(entries[i].Data), After: string(c.data)})
		}
		log.Debug("converted file",
			zap.String("file", c.res.File),
			zap.String("output", c.name),
			zap.Int("coercions", sum(c.counts)))
	}
	if len(totals) > 0 {
		rep.Coercions = totals
	}
	log.Info("convert-schema complete",
		zap.Int("checked", rep.Summary.Checked),
		zap.Int("converted", rep.Summary.Passed),
		zap.Int("failed", rep.Summary.Failed))

	result := &Result{Report: rep}
	if opts.Patches {
		var warn strings.Builder
		result.Patch = patch.GenerateDiff(changes, &warn)
		if warn.Len() > 0 {
			log.Warn(strings.TrimSpace(warn.String()))
		}
	}
	return result, nil
}

func convertOne(e store.Entry) converted {
	c := converted{res: report.FileResult{File: e.Key}}
	fail := func(kind report.Kind, path, msg string) converted {
		c.res.Reasons = []report.Reason{{Kind: kind, Path: path, Message: msg, Blocking: true}}
		return c
	}
	if e.Err != nil {
		return fail(report.KindIOError, "", e.Err.Error())
	}
	doc, err := validate.Decode(e.Data)
	if err != nil {
		return fail(report.KindParseError, "", err.Error())
	}
	inc, counts, err := Normalize(doc)
	if errors.Is(err, ErrMissingID) {
		return fail(report.KindMissingField, "incident_id", err.Error())
	}
	if err != nil {
		return fail(report.KindInvalidType, "", err.Error())
	}
	data, err := Encode(inc)
	if err != nil {
		return fail(report.KindInvalidType, "", err.Error())
	}
	c.name = OutputName(inc.IncidentID)
	c.res.Output = c.name
	c.data = data
	c.counts = counts
	return c
}

// markCollisions fails every converted file whose output name is shared
// with another input.
func markCollisions(results []converted) {
	byName := map[string][]int{}
	for i, c := range results {
		if c.res.Blocking() {
			continue
		}
		byName[c.name] = append(byName[c.name], i)
	}
	for name, idx := range byName {
		if len(idx) < 2 {
			continue
		}
		files := make([]string, len(idx))
		for j, i := range idx {
			files[j] = results[i].res.File
		}
		sort.Strings(files)
		for _, i := range idx {
			results[i].res.Reasons = append(results[i].res.Reasons, report.Reason{
				Kind:     report.KindOutputCollision,
				Path:     "incident_id",
				Message:  fmt.Sprintf("output %s is produced by %s", name, strings.Join(files, ", ")),
				Blocking: true,
			})
		}
	}
}

func sum(c Counts) int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
