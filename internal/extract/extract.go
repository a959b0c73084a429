// Package extract turns incident narratives into raw v2.3 JSON records with
// a language model.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/batch"
	"github.com/dshills/bowtie/internal/llm"
	"github.com/dshills/bowtie/internal/redact"
	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

// Options controls an extract run.
type Options struct {
	Generator llm.Generator
	// Template is the prompt template; empty selects llm.DefaultTemplate.
	Template string
	// Resume skips narratives whose output already exists.
	Resume bool
	// Limit caps the number of narratives sent to the model; 0 means all.
	Limit   int
	Workers int
	Logger  *zap.Logger
}

type extracted struct {
	res  report.FileResult
	name string
	data []byte
}

// Run extracts one record per *.txt narrative of in and writes <stem>.json
// to out with incident_id set to the stem. Records are written even when
// they do not yet conform to the schema; conformance findings are reported
// as warnings for convert-schema to resolve.
func Run(ctx context.Context, in, out store.Collection, opts Options) (*report.Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("extract: no generator configured")
	}
	tmpl := opts.Template
	if tmpl == "" {
		tmpl = llm.DefaultTemplate
	}
	if err := llm.ValidateTemplate(tmpl); err != nil {
		return nil, err
	}

	keys, err := in.List(ctx, ".txt")
	if err != nil {
		return nil, err
	}

	rep := report.New("extract")
	rep.Input = report.Input{Dir: in.Name(), OutDir: out.Name(), Files: len(keys)}

	var todo []string
	for _, k := range keys {
		if opts.Resume && out.Exists(outputName(k)) {
			rep.Summary.Skipped++
			log.Debug("output exists, skipping", zap.String("file", k))
			continue
		}
		if opts.Limit > 0 && len(todo) == opts.Limit {
			rep.Summary.Skipped++
			continue
		}
		todo = append(todo, k)
	}

	var fp store.Fingerprint
	results := make([]extracted, len(todo))
	inputs := make([][]byte, len(todo))
	for i, k := range todo {
		data, err := in.Read(k)
		if err != nil {
			results[i].res = report.FileResult{File: k, Reasons: []report.Reason{
				{Kind: report.KindIOError, Message: err.Error(), Blocking: true},
			}}
			continue
		}
		inputs[i] = data
		fp.Add(k, data)
	}
	rep.Input.CorpusID = fp.ID()

	schemaTemplate := schema.V23.Template()
	err = batch.ForEach(ctx, len(todo), opts.Workers, func(ctx context.Context, i int) error {
		if results[i].res.Blocking() {
			return nil
		}
		results[i] = extractOne(ctx, opts.Generator, tmpl, schemaTemplate, todo[i], inputs[i], log)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if !r.res.Blocking() {
			if err := out.Write(r.name, r.data); err != nil {
				return nil, fmt.Errorf("writing output: %w", err)
			}
			rep.Outputs = append(rep.Outputs, r.name)
		}
		validate.Tally(rep, r.res)
	}
	log.Info("extract complete",
		zap.Int("narratives", len(keys)),
		zap.Int("extracted", rep.Summary.Passed),
		zap.Int("failed", rep.Summary.Failed),
		zap.Int("skipped", rep.Summary.Skipped))
	return rep, nil
}

func extractOne(ctx context.Context, gen llm.Generator, tmpl, schemaTemplate, key string, data []byte, log *zap.Logger) extracted {
	e := extracted{res: report.FileResult{File: key}, name: outputName(key)}
	fail := func(kind report.Kind, msg string) extracted {
		e.res.Reasons = []report.Reason{{Kind: kind, Message: msg, Blocking: true}}
		return e
	}

	text := Normalize(string(data))
	if reason, m := Gate(text); reason != "" {
		log.Info("narrative rejected", zap.String("file", key), zap.String("reason", reason), zap.Int("text_len", m.TextLen))
		return fail(report.KindTextRejected, describeRejection(reason, m))
	}
	text, counts := redact.Redact(text)
	if n := counts.Total(); n > 0 {
		log.Debug("redacted narrative", zap.String("file", key), zap.Int("replacements", n))
	}

	prompt := llm.BuildPrompt(tmpl, schemaTemplate, text)
	raw, err := gen.Generate(ctx, prompt)
	if err != nil {
		return fail(report.KindExtractionFailed, err.Error())
	}
	doc, err := validate.Parse(raw)
	if err != nil {
		log.Warn("model output did not parse, retrying", zap.String("file", key), zap.Error(err))
		raw, err = gen.Generate(ctx, llm.RepairPrompt(prompt, err))
		if err != nil {
			return fail(report.KindExtractionFailed, err.Error())
		}
		if doc, err = validate.Parse(raw); err != nil {
			return fail(report.KindParseError, err.Error())
		}
	}
	doc["incident_id"] = stem(key)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fail(report.KindExtractionFailed, err.Error())
	}
	e.data = buf.Bytes()
	e.res.Output = e.name

	for _, r := range validate.Record(schema.V23, doc, false) {
		r.Blocking = false
		e.res.Reasons = append(e.res.Reasons, r)
	}
	return e
}

func stem(key string) string {
	return strings.TrimSuffix(path.Base(key), path.Ext(key))
}

func outputName(key string) string {
	return stem(key) + ".json"
}
