package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/aggregate"
	"github.com/dshills/bowtie/internal/analytics"
	"github.com/dshills/bowtie/internal/config"
	"github.com/dshills/bowtie/internal/convert"
	"github.com/dshills/bowtie/internal/extract"
	"github.com/dshills/bowtie/internal/flatten"
	"github.com/dshills/bowtie/internal/llm"
	"github.com/dshills/bowtie/internal/profile"
	"github.com/dshills/bowtie/internal/quality"
	"github.com/dshills/bowtie/internal/schema"
	"github.com/dshills/bowtie/internal/schema/validate"
	"github.com/dshills/bowtie/internal/store"
)

func newExtractCmd(a *app) *cobra.Command {
	var f struct {
		textDir, outDir, model string
		resume                 bool
		limit                  int
	}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract raw incident records from narrative text with an LLM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if f.limit < 0 {
				return codeError(3, "invalid flags: --limit must be >= 0, got %d", f.limit)
			}
			model := pick(cmd, "model", f.model, cfg.LLM.Model)

			tmpl := ""
			if cfg.LLM.PromptFile != "" {
				b, err := os.ReadFile(cfg.LLM.PromptFile)
				if err != nil {
					return codeError(3, "reading prompt file: %s", err)
				}
				tmpl = string(b)
				if err := llm.ValidateTemplate(tmpl); err != nil {
					return codeError(3, "%s", err)
				}
			}

			provider, err := llm.NewProvider(cmd.Context(), model, llm.Options{
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: cfg.LLM.Temperature,
				Retries:     cfg.LLM.Retries,
				BaseURL:     cfg.LLM.BaseURL,
				Logger:      a.log,
			})
			if err != nil {
				return codeError(4, "creating LLM provider: %s", err)
			}
			a.log.Debug("extracting", zap.String("model", model))

			in := store.NewDir(pick(cmd, "text-dir", f.textDir, cfg.Paths.TextDir), false)
			out := store.NewDir(pick(cmd, "out-dir", f.outDir, cfg.Paths.RawDir), false)
			rep, err := extract.Run(cmd.Context(), in, out, extract.Options{
				Generator: &llm.Client{
					Provider:    provider,
					System:      llm.SystemPrompt,
					MaxTokens:   cfg.LLM.MaxTokens,
					Temperature: cfg.LLM.Temperature,
				},
				Template: tmpl,
				Resume:   f.resume,
				Limit:    f.limit,
				Workers:  cfg.Workers,
				Logger:   a.log,
			})
			if err != nil {
				return codeError(3, "extract: %s", err)
			}
			return a.emit(rep)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.textDir, "text-dir", "", "Directory of *.txt narratives (default from config)")
	fl.StringVar(&f.outDir, "out-dir", "", "Directory for raw JSON records (default from config)")
	fl.StringVar(&f.model, "model", "", "provider:model, or stub (default from config)")
	fl.BoolVar(&f.resume, "resume", false, "Skip narratives whose output already exists")
	fl.IntVar(&f.limit, "limit", 0, "Process at most N narratives (0 = all)")
	return cmd
}

func newConvertCmd(a *app) *cobra.Command {
	var f struct{ incidentDir, outDir, patchOut string }
	cmd := &cobra.Command{
		Use:   "convert-schema",
		Short: "Normalize raw incident records into canonical Schema v2.3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			in := store.NewDir(pick(cmd, "incident-dir", f.incidentDir, cfg.Paths.RawDir), false)
			out := store.NewDir(pick(cmd, "out-dir", f.outDir, cfg.Paths.IncidentDir), false)
			res, err := convert.Run(cmd.Context(), in, out, convert.Options{
				Workers: cfg.Workers,
				Logger:  a.log,
				Patches: f.patchOut != "",
			})
			if err != nil {
				return codeError(3, "convert-schema: %s", err)
			}
			if f.patchOut != "" {
				a.log.Debug("writing patches", zap.String("path", f.patchOut))
				if err := writeFile(f.patchOut, []byte(res.Patch)); err != nil {
					// Patches are advisory; the conversion itself succeeded.
					a.log.Warn("patch write failed", zap.Error(err))
				}
			}
			return a.emit(res.Report)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.incidentDir, "incident-dir", "", "Directory of raw incident JSON (default from config)")
	fl.StringVar(&f.outDir, "out-dir", "", "Directory for canonical v2.3 records (default from config)")
	fl.StringVar(&f.patchOut, "patch-out", "", "Write raw-to-canonical patches in diff-match-patch format to this file")
	return cmd
}

func newSchemaCheckCmd(a *app) *cobra.Command {
	var f struct {
		incidentDir, profileName string
		strict                   bool
	}
	cmd := &cobra.Command{
		Use:   "schema-check",
		Short: "Validate incident records against Schema v2.3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			prof, err := profile.Get(pick(cmd, "profile", f.profileName, cfg.Quality.Profile))
			if err != nil {
				return codeError(3, "loading profile: %s", err)
			}
			strict := cfg.Strict || prof.Strict
			if cmd.Flags().Changed("strict") {
				strict = f.strict
			}
			coll := store.NewDir(pick(cmd, "incident-dir", f.incidentDir, cfg.Paths.IncidentDir), false)
			rep, err := validate.Run(cmd.Context(), coll, validate.Options{
				Schema:  schema.V23,
				Strict:  strict,
				Workers: cfg.Workers,
				Logger:  a.log,
			})
			if err != nil {
				return codeError(3, "schema-check: %s", err)
			}
			return a.emit(rep)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.incidentDir, "incident-dir", "", "Directory of v2.3 incident JSON (default from config)")
	fl.StringVar(&f.profileName, "profile", "", "Profile whose strictness applies: "+strings.Join(profile.Names, ", "))
	fl.BoolVar(&f.strict, "strict", false, "Make soft findings (mentioned without value, link conflicts) blocking")
	return cmd
}

// thresholdFlags maps quality-gate flags to config threshold names.
var thresholdFlags = map[string]string{
	"max-no-controls-ratio":             "max_no_controls_ratio",
	"max-mentioned-missing-value-ratio": "max_mentioned_missing_value_ratio",
	"min-evidence-completeness":         "min_evidence_completeness",
	"max-unknown-enum-ratio":            "max_unknown_enum_ratio",
	"max-parse-failures":                "max_parse_failures",
}

func newQualityGateCmd(a *app) *cobra.Command {
	var f struct {
		incidentDir, profileName string
		listProfiles             bool
	}
	cmd := &cobra.Command{
		Use:   "quality-gate",
		Short: "Measure corpus completeness and apply threshold gates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.listProfiles {
				var b bytes.Buffer
				for _, name := range profile.Names {
					p, _ := profile.Get(name)
					fmt.Fprintf(&b, "%s: %s\n%s\n", p.Name, p.Summary, p.Describe())
				}
				return a.write(b.Bytes())
			}

			cfg := a.cfg
			cfg.Quality.Profile = pick(cmd, "profile", f.profileName, cfg.Quality.Profile)
			thresholds, err := cfg.Thresholds()
			if err != nil {
				return codeError(3, "loading profile: %s", err)
			}
			overrides := map[string]float64{}
			for flagName, key := range thresholdFlags {
				if !cmd.Flags().Changed(flagName) {
					continue
				}
				v, err := cmd.Flags().GetFloat64(flagName)
				if err != nil {
					return codeError(3, "invalid flags: %s", err)
				}
				overrides[key] = v
			}
			if err := config.ApplyOverrides(&thresholds, overrides); err != nil {
				return codeError(3, "invalid flags: %s", err)
			}

			coll := store.NewDir(pick(cmd, "incident-dir", f.incidentDir, cfg.Paths.IncidentDir), false)
			rep, err := quality.Run(cmd.Context(), coll, quality.Options{
				Profile:    cfg.Quality.Profile,
				Thresholds: thresholds,
				Workers:    cfg.Workers,
				Logger:     a.log,
			})
			if err != nil {
				return codeError(3, "quality-gate: %s", err)
			}
			return a.emit(rep)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.incidentDir, "incident-dir", "", "Directory of v2.3 incident JSON (default from config)")
	fl.StringVar(&f.profileName, "profile", "", "Threshold profile: "+strings.Join(profile.Names, ", "))
	fl.BoolVar(&f.listProfiles, "list-profiles", false, "Print the built-in profiles and exit")
	fl.Float64("max-no-controls-ratio", 0, "Override the profile's max_no_controls_ratio")
	fl.Float64("max-mentioned-missing-value-ratio", 0, "Override the profile's max_mentioned_missing_value_ratio")
	fl.Float64("min-evidence-completeness", 0, "Override the profile's min_evidence_completeness")
	fl.Float64("max-unknown-enum-ratio", 0, "Override the profile's max_unknown_enum_ratio")
	fl.Float64("max-parse-failures", 0, "Override the profile's max_parse_failures")
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	var f struct{ inputDir, outputJSON string }
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Combine every incident JSON under a directory into one array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			coll := store.NewDir(pick(cmd, "input-dir", f.inputDir, cfg.Paths.IncidentDir), true)
			res, err := aggregate.Run(cmd.Context(), coll, aggregate.Options{Logger: a.log})
			if err != nil {
				return codeError(3, "aggregate: %s", err)
			}
			path := pick(cmd, "output-json", f.outputJSON, cfg.Paths.OutputJSON)
			if err := writeFile(path, res.JSON); err != nil {
				return codeError(3, "writing %s: %s", path, err)
			}
			res.Report.Input.OutDir = path
			res.Report.Outputs = append(res.Report.Outputs, path)
			return a.emit(res.Report)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.inputDir, "input-dir", "", "Directory searched recursively for *.json (default from config)")
	fl.StringVar(&f.outputJSON, "output-json", "", "Aggregated JSON array path (default from config)")
	return cmd
}

func newFlattenCmd(a *app) *cobra.Command {
	var f struct{ inputJSON, outputCSV, outputXLSX, outputSQLite, mode string }
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Flatten aggregated incidents into one row per control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			mode, err := flatten.ParseMode(pick(cmd, "mode", f.mode, cfg.Flatten.Mode))
			if err != nil {
				return codeError(3, "invalid flags: %s", err)
			}
			input := pick(cmd, "input-json", f.inputJSON, cfg.Paths.OutputJSON)
			data, err := os.ReadFile(input)
			if err != nil {
				return codeError(3, "reading input: %s", err)
			}
			res, err := flatten.Run(cmd.Context(), input, data, flatten.Options{Mode: mode, Logger: a.log})
			if err != nil {
				return codeError(3, "flatten: %s", err)
			}
			rep := res.Report

			csvPath := pick(cmd, "output-csv", f.outputCSV, cfg.Paths.OutputCSV)
			var buf bytes.Buffer
			if err := flatten.WriteCSV(&buf, res.Table); err != nil {
				return codeError(3, "encoding CSV: %s", err)
			}
			if err := writeFile(csvPath, buf.Bytes()); err != nil {
				return codeError(3, "writing %s: %s", csvPath, err)
			}
			rep.Outputs = append(rep.Outputs, csvPath)

			if p := pick(cmd, "output-xlsx", f.outputXLSX, cfg.Paths.OutputXLSX); p != "" {
				if err := flatten.WriteXLSX(p, res.Table); err != nil {
					return codeError(3, "writing %s: %s", p, err)
				}
				rep.Outputs = append(rep.Outputs, p)
			}
			if p := pick(cmd, "output-sqlite", f.outputSQLite, cfg.Paths.OutputSQLite); p != "" {
				if err := flatten.WriteSQLite(cmd.Context(), p, res.Table); err != nil {
					return codeError(3, "writing %s: %s", p, err)
				}
				rep.Outputs = append(rep.Outputs, p)
			}
			a.log.Debug("flattened", zap.Int("rows", len(res.Table.Rows)), zap.String("mode", string(mode)))
			return a.emit(rep)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.inputJSON, "input-json", "", "Aggregated JSON array (default from config)")
	fl.StringVar(&f.outputCSV, "output-csv", "", "CSV output path (default from config)")
	fl.StringVar(&f.outputXLSX, "output-xlsx", "", "Also write an XLSX workbook to this path")
	fl.StringVar(&f.outputSQLite, "output-sqlite", "", "Also write a SQLite database to this path")
	fl.StringVar(&f.mode, "mode", "", "Incidents without controls: controls-only or pad-empty (default from config)")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f struct{ inputJSON, outDir string }
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute baseline barrier statistics and co-failing control pairs",
		Long: "analyze flattens the aggregated incidents (controls only) and writes " + analytics.ControlsFile + ",\n" +
			analytics.SummaryFile + " and " + analytics.CrosstabFile + " into the derived directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			input := pick(cmd, "input-json", f.inputJSON, cfg.Paths.OutputJSON)
			outDir := pick(cmd, "out-dir", f.outDir, cfg.Paths.DerivedDir)
			data, err := os.ReadFile(input)
			if err != nil {
				return codeError(3, "reading input: %s", err)
			}
			res, err := analytics.Run(cmd.Context(), input, data, analytics.Options{Logger: a.log})
			if err != nil {
				return codeError(3, "analyze: %s", err)
			}
			rep := res.Report
			rep.Input.OutDir = outDir

			outputs := []struct {
				name  string
				write func(*bytes.Buffer) error
			}{
				{analytics.ControlsFile, func(b *bytes.Buffer) error { return flatten.WriteCSV(b, res.Table) }},
				{analytics.SummaryFile, func(b *bytes.Buffer) error { return analytics.WriteSummary(b, res.Baseline) }},
				{analytics.CrosstabFile, func(b *bytes.Buffer) error { return analytics.WriteCrosstab(b, res.Pairs) }},
			}
			for _, o := range outputs {
				var buf bytes.Buffer
				if err := o.write(&buf); err != nil {
					return codeError(3, "encoding %s: %s", o.name, err)
				}
				path := filepath.Join(outDir, o.name)
				if err := writeFile(path, buf.Bytes()); err != nil {
					return codeError(3, "writing %s: %s", path, err)
				}
				rep.Outputs = append(rep.Outputs, path)
			}
			return a.emit(rep)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.inputJSON, "input-json", "", "Aggregated JSON array (default from config)")
	fl.StringVar(&f.outDir, "out-dir", "", "Directory for the derived files (default from config)")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema v2.3 utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print the v2.3 record template with default values",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.write([]byte(schema.V23.Template()))
		},
	})
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			b, err := a.cfg.YAML()
			if err != nil {
				return codeError(3, "rendering config: %s", err)
			}
			return a.write(b)
		},
	})
	return cmd
}
