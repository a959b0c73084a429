// Package aggregate combines a directory tree of incident files into one
// JSON array.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

var bom = []byte("\ufeff")

// Options controls an aggregate run.
type Options struct {
	Logger *zap.Logger
}

// Result holds the run report and the rendered array.
type Result struct {
	Report *report.Report
	JSON   []byte
}

// Run reads every *.json file of the collection in key order and renders
// them as one indented JSON array. Each element keeps its source key order.
// Files that are not a single JSON object are reported and left out.
func Run(ctx context.Context, coll store.Collection, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	entries, corpusID, err := store.Snapshot(ctx, coll, ".json")
	if err != nil {
		return nil, err
	}

	rep := report.New("aggregate")
	rep.Input = report.Input{Dir: coll.Name(), CorpusID: corpusID, Files: len(entries)}

	var arr bytes.Buffer
	arr.WriteByte('[')
	n := 0
	for _, e := range entries {
		res := report.FileResult{File: e.Key}
		elem, reason := element(e)
		if reason != nil {
			res.Reasons = []report.Reason{*reason}
			validate.Tally(rep, res)
			log.Warn("file skipped", zap.String("file", e.Key), zap.String("reason", reason.Message))
			continue
		}
		if n > 0 {
			arr.WriteByte(',')
		}
		arr.Write(elem)
		n++
		validate.Tally(rep, res)
	}
	arr.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, arr.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("rendering aggregate: %w", err)
	}
	out.WriteByte('\n')

	log.Info("aggregate complete",
		zap.Int("files", len(entries)),
		zap.Int("records", n),
		zap.Int("skipped", rep.Summary.Failed))
	return &Result{Report: rep, JSON: out.Bytes()}, nil
}

// element returns the compacted source object of one entry.
func element(e store.Entry) ([]byte, *report.Reason) {
	if e.Err != nil {
		return nil, &report.Reason{Kind: report.KindIOError, Message: e.Err.Error(), Blocking: true}
	}
	data := bytes.TrimPrefix(e.Data, bom)
	if _, err := validate.Decode(data); err != nil {
		return nil, &report.Reason{Kind: report.KindParseError, Message: err.Error(), Blocking: true}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, &report.Reason{Kind: report.KindParseError, Message: err.Error(), Blocking: true}
	}
	return buf.Bytes(), nil
}
