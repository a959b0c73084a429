package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dshills/bowtie/internal/report"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bowtie.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "controls-only", cfg.Flatten.Mode)
	assert.Equal(t, "default", cfg.Quality.Profile)
	assert.Equal(t, 8192, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.0, cfg.LLM.Temperature)
	assert.Equal(t, "data/structured/incidents/schema_v2_3", cfg.Paths.IncidentDir)
	assert.Empty(t, cfg.Paths.OutputXLSX)
	assert.Equal(t, "data/derived", cfg.Paths.DerivedDir)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
workers: 4
format: md
paths:
  incident_dir: corpus/v23
quality:
  profile: lenient
  overrides:
    max_parse_failures: 3
flatten:
  mode: pad-empty
`)
	t.Setenv("BOWTIE_WORKERS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, "md", cfg.Format)
	assert.Equal(t, "corpus/v23", cfg.Paths.IncidentDir)
	assert.Equal(t, "pad-empty", cfg.Flatten.Mode)
	assert.Equal(t, "data/processed/incidents.json", cfg.Paths.OutputJSON)

	th, err := cfg.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, 3, th.MaxParseFailures)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	for name, body := range map[string]string{
		"workers":     "workers: -2\n",
		"retries":     "llm:\n  retries: -1\n",
		"format":      "format: html\n",
		"log format":  "log:\n  format: xml\n",
		"mode":        "flatten:\n  mode: sideways\n",
		"profile":     "quality:\n  profile: nope\n",
		"temperature": "llm:\n  temperature: 3\n",
		"override":    "quality:\n  overrides:\n    max_no_controls_ratio: 1.5\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	th := report.Thresholds{MaxNoControlsRatio: 0.2}
	require.NoError(t, ApplyOverrides(&th, map[string]float64{
		"max_no_controls_ratio":     0.5,
		"min_evidence_completeness": 0.9,
		"max_parse_failures":        2,
	}))
	assert.Equal(t, report.Thresholds{
		MaxNoControlsRatio:      0.5,
		MinEvidenceCompleteness: 0.9,
		MaxParseFailures:        2,
	}, th)

	assert.Error(t, ApplyOverrides(&th, map[string]float64{"max_bogus": 0.1}))
	assert.Error(t, ApplyOverrides(&th, map[string]float64{"max_parse_failures": 1.5}))
	assert.Error(t, ApplyOverrides(&th, map[string]float64{"max_unknown_enum_ratio": -0.1}))
}

func TestYAML_RoundTrips(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "model: anthropic:claude-sonnet-4-5")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *cfg, back)
}
