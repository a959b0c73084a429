// Package config loads bowtie settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/bowtie/internal/flatten"
	"github.com/dshills/bowtie/internal/logging"
	"github.com/dshills/bowtie/internal/profile"
	"github.com/dshills/bowtie/internal/report"
)

// DefaultFile is read when no --config path is given and it exists.
const DefaultFile = "bowtie.yaml"

// Config is the effective bowtie configuration.
type Config struct {
	Workers int    `yaml:"workers" env:"BOWTIE_WORKERS" env-default:"1"`
	Format  string `yaml:"format" env:"BOWTIE_FORMAT" env-default:"json"`
	// Strict makes soft schema findings blocking in schema-check.
	Strict  bool          `yaml:"strict" env:"BOWTIE_STRICT" env-default:"false"`
	Log     LogConfig     `yaml:"log"`
	Paths   PathsConfig   `yaml:"paths"`
	LLM     LLMConfig     `yaml:"llm"`
	Quality QualityConfig `yaml:"quality"`
	Flatten FlattenConfig `yaml:"flatten"`
}

type LogConfig struct {
	Format  string `yaml:"format" env:"BOWTIE_LOG_FORMAT" env-default:"json"`
	Verbose bool   `yaml:"verbose" env:"BOWTIE_VERBOSE" env-default:"false"`
}

// PathsConfig holds the default locations of each pipeline stage.
type PathsConfig struct {
	TextDir      string `yaml:"text_dir" env:"BOWTIE_TEXT_DIR" env-default:"data/raw/text"`
	RawDir       string `yaml:"raw_dir" env:"BOWTIE_RAW_DIR" env-default:"data/structured/raw"`
	IncidentDir  string `yaml:"incident_dir" env:"BOWTIE_INCIDENT_DIR" env-default:"data/structured/incidents/schema_v2_3"`
	OutputJSON   string `yaml:"output_json" env:"BOWTIE_OUTPUT_JSON" env-default:"data/processed/incidents.json"`
	OutputCSV    string `yaml:"output_csv" env:"BOWTIE_OUTPUT_CSV" env-default:"data/processed/controls.csv"`
	OutputXLSX   string `yaml:"output_xlsx" env:"BOWTIE_OUTPUT_XLSX"`
	OutputSQLite string `yaml:"output_sqlite" env:"BOWTIE_OUTPUT_SQLITE"`
	DerivedDir   string `yaml:"derived_dir" env:"BOWTIE_DERIVED_DIR" env-default:"data/derived"`
}

type LLMConfig struct {
	Model       string  `yaml:"model" env:"BOWTIE_MODEL" env-default:"anthropic:claude-sonnet-4-5"`
	MaxTokens   int     `yaml:"max_tokens" env:"BOWTIE_MAX_TOKENS" env-default:"8192"`
	Temperature float64 `yaml:"temperature" env:"BOWTIE_TEMPERATURE" env-default:"0"`
	Retries     int     `yaml:"retries" env:"BOWTIE_RETRIES" env-default:"2"`
	BaseURL     string  `yaml:"base_url" env:"BOWTIE_LLM_BASE_URL"`
	// PromptFile replaces the built-in extraction template.
	PromptFile string `yaml:"prompt_file" env:"BOWTIE_PROMPT_FILE"`
}

type QualityConfig struct {
	Profile string `yaml:"profile" env:"BOWTIE_PROFILE" env-default:"default"`
	// Overrides replaces individual profile thresholds by name.
	Overrides map[string]float64 `yaml:"overrides,omitempty"`
}

type FlattenConfig struct {
	Mode string `yaml:"mode" env:"BOWTIE_FLATTEN_MODE" env-default:"controls-only"`
}

// Load reads path, or DefaultFile when path is empty and the file exists,
// then applies environment overrides and defaults. An explicit path that
// does not exist is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.Format {
	case "json", "md":
	default:
		return fmt.Errorf("format must be json or md, got %q", c.Format)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return err
	}
	if _, err := flatten.ParseMode(c.Flatten.Mode); err != nil {
		return err
	}
	if _, err := c.Thresholds(); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0, got %g", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be > 0, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Retries < 0 {
		return fmt.Errorf("llm.retries must be >= 0, got %d", c.LLM.Retries)
	}
	return nil
}

// Thresholds resolves the configured profile with overrides applied.
func (c *Config) Thresholds() (report.Thresholds, error) {
	p, err := profile.Get(c.Quality.Profile)
	if err != nil {
		return report.Thresholds{}, err
	}
	t := p.Thresholds
	if err := ApplyOverrides(&t, c.Quality.Overrides); err != nil {
		return report.Thresholds{}, err
	}
	return t, nil
}

// ThresholdNames lists the keys accepted by ApplyOverrides.
var ThresholdNames = []string{
	"max_no_controls_ratio",
	"max_mentioned_missing_value_ratio",
	"min_evidence_completeness",
	"max_unknown_enum_ratio",
	"max_parse_failures",
}

// ApplyOverrides sets the named thresholds on t. Ratios must lie in [0, 1]
// and max_parse_failures must be a non-negative whole number.
func ApplyOverrides(t *report.Thresholds, overrides map[string]float64) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := overrides[k]
		if k == "max_parse_failures" {
			if v < 0 || v != float64(int(v)) {
				return fmt.Errorf("threshold %s must be a non-negative integer, got %g", k, v)
			}
			t.MaxParseFailures = int(v)
			continue
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s must be between 0 and 1, got %g", k, v)
		}
		switch k {
		case "max_no_controls_ratio":
			t.MaxNoControlsRatio = v
		case "max_mentioned_missing_value_ratio":
			t.MaxMentionedMissingValueRatio = v
		case "min_evidence_completeness":
			t.MinEvidenceCompleteness = v
		case "max_unknown_enum_ratio":
			t.MaxUnknownEnumRatio = v
		default:
			return fmt.Errorf("unknown threshold %q: valid thresholds are %s", k, strings.Join(ThresholdNames, ", "))
		}
	}
	return nil
}

// YAML renders the configuration as it would appear in bowtie.yaml.
func (c *Config) YAML() ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	return yaml.Marshal(c)
}
