package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/config"
	"github.com/dshills/bowtie/internal/logging"
	"github.com/dshills/bowtie/internal/report"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	logFormat  string
	workers    int
	format     string
	out        string
}

// app is the resolved state a subcommand runs with. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	out    string
	stdout io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var g globalFlags
	a := &app{stdout: stdout}

	root := &cobra.Command{
		Use:   "bowtie",
		Short: "Convert, validate and mine bowtie incident records",
		Long: "bowtie turns incident narratives into Schema v2.3 bowtie records, checks and gates\n" +
			"the corpus, and flattens it into one row per control for association mining.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, g)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return codeError(3, "invalid flags: %s", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (default ./"+config.DefaultFile+" when present)")
	pf.BoolVar(&g.verbose, "verbose", false, "Enable debug logging")
	pf.StringVar(&g.logFormat, "log-format", "json", "Log encoding on stderr: json or console")
	pf.IntVar(&g.workers, "workers", 1, "Files processed concurrently")
	pf.StringVar(&g.format, "format", "json", "Report format: json or md")
	pf.StringVar(&g.out, "out", "", "Write the report to file instead of stdout")

	root.AddCommand(
		newExtractCmd(a),
		newConvertCmd(a),
		newSchemaCheckCmd(a),
		newQualityGateCmd(a),
		newAggregateCmd(a),
		newFlattenCmd(a),
		newAnalyzeCmd(a),
		newSchemaCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads the config, lets explicitly set flags override it, and builds
// the logger.
func (a *app) setup(cmd *cobra.Command, g globalFlags) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return codeError(3, "%s", err)
	}
	fl := cmd.Flags()
	if fl.Changed("workers") {
		cfg.Workers = g.workers
	}
	if fl.Changed("format") {
		cfg.Format = g.format
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
	if fl.Changed("verbose") {
		cfg.Log.Verbose = g.verbose
	}
	if err := cfg.Validate(); err != nil {
		return codeError(3, "invalid flags: %s", err)
	}

	log, err := logging.New(cfg.Log.Format, cfg.Log.Verbose)
	if err != nil {
		return codeError(3, "%s", err)
	}
	a.cfg = cfg
	a.log = log.With(zap.String("command", cmd.Name()))
	a.out = g.out
	return nil
}

// pick returns the flag value when it was set on the command line and the
// configured value otherwise.
func pick(cmd *cobra.Command, name, flagVal, cfgVal string) string {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

// emit stamps, renders and writes the report, then maps its outcome to an
// exit code.
func (a *app) emit(rep *report.Report) error {
	rep.Tool = "bowtie"
	rep.Version = version
	a.log.Info("run complete",
		zap.Int("checked", rep.Summary.Checked),
		zap.Int("passed", rep.Summary.Passed),
		zap.Int("failed", rep.Summary.Failed),
		zap.Int("skipped", rep.Summary.Skipped))

	renderer, err := report.NewRenderer(a.cfg.Format)
	if err != nil {
		return codeError(3, "invalid format: %s", err)
	}
	outputBytes, err := renderer.Render(rep)
	if err != nil {
		return codeError(3, "rendering output: %s", err)
	}
	if err := a.write(outputBytes); err != nil {
		return err
	}

	if rep.Gate != nil && !rep.Gate.Passed {
		return codeError(2, "quality gate %s: %d threshold(s) breached", rep.Gate.Verdict, len(rep.Gate.Breaches))
	}
	if rep.Summary.Failed > 0 {
		names := make([]string, len(rep.Failures))
		for i, f := range rep.Failures {
			names[i] = f.File
		}
		return codeError(2, "%d of %d file(s) failed: %s", rep.Summary.Failed, rep.Summary.Checked, strings.Join(names, ", "))
	}
	return nil
}

// write sends bytes to --out or stdout.
func (a *app) write(b []byte) error {
	if a.out != "" {
		if err := writeFile(a.out, b); err != nil {
			return codeError(3, "writing output file: %s", err)
		}
		return nil
	}
	if _, err := a.stdout.Write(b); err != nil {
		return codeError(3, "writing output: %s", err)
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(b) > 0 && b[len(b)-1] != '\n' {
		fmt.Fprintln(a.stdout)
	}
	return nil
}

// writeFile creates the parent directory of path before writing.
func writeFile(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}
