// Package logging builds the zap logger shared by the bowtie commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoder.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// ParseFormat validates a --log-format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatConsole:
		return FormatConsole, nil
	}
	return "", fmt.Errorf("log format must be json or console, got %q", s)
}

// Config returns the zap configuration for format. Logs always go to stderr
// so stdout carries only reports.
func Config(format Format, verbose bool) zap.Config {
	cfg := zap.NewProductionConfig()
	if format == FormatConsole {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.Sampling = nil
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

// New builds a logger for the given --log-format and --verbose values.
func New(format string, verbose bool) (*zap.Logger, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	logger, err := Config(f, verbose).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
