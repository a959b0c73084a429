package validate

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/batch"
	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/store"
)

// Options controls a schema-check run.
type Options struct {
	Schema  schema.Schema
	Strict  bool
	Workers int
	Logger  *zap.Logger
}

// Run validates every *.json file in the collection. Per-file problems are
// recorded in the report; only listing the collection can fail the run.
func Run(ctx context.Context, coll store.Collection, opts Options) (*report.Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := opts.Schema
	if s.Version == "" {
		s = schema.V23
	}

	entries, corpusID, err := store.Snapshot(ctx, coll, ".json")
	if err != nil {
		return nil, err
	}

	results := make([]report.FileResult, len(entries))
	err = batch.ForEach(ctx, len(entries), opts.Workers, func(_ context.Context, i int) error {
		e := entries[i]
		res := report.FileResult{File: e.Key}
		if e.Err != nil {
			res.Reasons = []report.Reason{{Kind: report.KindIOError, Message: e.Err.Error(), Blocking: true}}
		} else {
			res.Reasons = File(s, e.Data, opts.Strict)
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	rep := report.New("schema-check")
	rep.Input = report.Input{Dir: coll.Name(), Strict: opts.Strict, CorpusID: corpusID, Files: len(entries)}
	for _, res := range results {
		Tally(rep, res)
		log.Debug("validated file",
			zap.String("file", res.File),
			zap.Int("reasons", len(res.Reasons)),
			zap.Bool("blocking", res.Blocking()))
	}
	log.Info("schema-check complete",
		zap.Int("checked", rep.Summary.Checked),
		zap.Int("passed", rep.Summary.Passed),
		zap.Int("failed", rep.Summary.Failed),
		zap.Int("warned", rep.Summary.Warned))
	return rep, nil
}

// Tally adds one file result to the report summary and failure or warning
// lists.
func Tally(rep *report.Report, res report.FileResult) {
	rep.Summary.Checked++
	switch {
	case res.Blocking():
		rep.Summary.Failed++
		rep.Failures = append(rep.Failures, res)
	case len(res.Reasons) > 0:
		rep.Summary.Passed++
		rep.Summary.Warned++
		rep.Warnings = append(rep.Warnings, res)
	default:
		rep.Summary.Passed++
	}
}
