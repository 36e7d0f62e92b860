package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/unbound-force/amplify/internal/amplify"
	"github.com/unbound-force/amplify/internal/config"
	"github.com/unbound-force/amplify/internal/replay"
	"github.com/unbound-force/amplify/internal/report"
	"github.com/unbound-force/amplify/internal/scaffold"
	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/internal/taxonomy"
	"github.com/unbound-force/amplify/probe"
)

// logger is the application-wide structured logger (writes to stderr).
var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: false,
})

// Set by build flags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "amplify",
		Short: "Amplify - grow unit tests from recorded executions",
		Long: `Amplify turns traced calls of a Go package into unit tests:
it samples recorded calls, generates a test per call, removes the
tests that do not compile, fail or add no branch coverage, and
replaces observed values with assertions.`,
		Version: version,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newSchemaCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// overrides holds config values set on the command line. Negative
// numbers, zero durations and empty strings mean "not set".
type overrides struct {
	cap       int
	runs      int
	timeout   time.Duration
	logDir    string
	idiom     string
	allowlist []string
	seed      uint64
	seedSet   bool
}

func noOverrides() overrides {
	return overrides{cap: -1, runs: -1}
}

// loadConfig reads the config file at path (or the defaults when path
// is empty) and applies command-line overrides on top.
func loadConfig(path string, o overrides) (*config.AmplifyConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.cap >= 0 {
		cfg.Generate.Cap = o.cap
	}
	if o.runs >= 0 {
		cfg.Prune.Runs = o.runs
	}
	if o.timeout > 0 {
		cfg.Prune.Timeout = o.timeout
	}
	if o.logDir != "" {
		cfg.Trace.LogDir = o.logDir
	}
	if o.idiom != "" {
		cfg.Style.Idiom = o.idiom
	}
	if len(o.allowlist) > 0 {
		cfg.Generate.Allowlist = o.allowlist
	}
	if o.seedSet {
		cfg.Generate.Seed = o.seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("command line: %w", err)
	}
	return cfg, nil
}

// runParams holds the parsed flags for the run command.
type runParams struct {
	pattern     string
	dir         string
	format      string
	configPath  string
	overrides   overrides
	minKept     int
	interactive bool
	stdout      io.Writer
	stderr      io.Writer

	// newBackend replaces the go tool runner in tests.
	newBackend func(dir, pkgPath string) (amplify.Backend, error)
}

// runRun is the extracted, testable body of the run command.
func runRun(ctx context.Context, p runParams) error {
	if p.format != "text" && p.format != "json" {
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", p.format)
	}
	if p.configPath == "" {
		p.configPath = config.Find(p.dir)
	}
	cfg, err := loadConfig(p.configPath, p.overrides)
	if err != nil {
		return err
	}

	logger.Info("amplifying package", "pkg", p.pattern)
	rpt, runErr := amplify.Run(ctx, amplify.Options{
		Dir:        p.dir,
		Pattern:    p.pattern,
		Config:     cfg,
		Version:    version,
		Logger:     logger,
		NewBackend: p.newBackend,
	})
	if rpt == nil {
		return runErr
	}

	if p.interactive {
		if err := runInteractiveReport(rpt); err != nil {
			return err
		}
	} else if err := writeRunReport(p.stdout, p.format, rpt); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	printCISummary(p.stderr, rpt, p.minKept)
	return checkCIThresholds(rpt, p.minKept)
}

// writeRunReport outputs the run report in the requested format.
func writeRunReport(w io.Writer, format string, rpt *taxonomy.RunReport) error {
	switch format {
	case "json":
		return report.WriteJSON(w, rpt, version)
	default:
		return report.WriteText(w, rpt)
	}
}

// printCISummary prints a one-line CI summary to stderr when the
// threshold flag is set.
func printCISummary(w io.Writer, rpt *taxonomy.RunReport, minKept int) {
	if minKept <= 0 {
		return
	}
	status := "PASS"
	if rpt.Summary.Kept < minKept {
		status = "FAIL"
	}
	fmt.Fprintf(w, "Kept tests: %d/%d (%s)\n", rpt.Summary.Kept, minKept, status)
}

// checkCIThresholds returns an error when fewer tests than minKept
// survived pruning.
func checkCIThresholds(rpt *taxonomy.RunReport, minKept int) error {
	if minKept > 0 && rpt.Summary.Kept < minKept {
		return fmt.Errorf("kept tests %d below minimum %d", rpt.Summary.Kept, minKept)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		format      string
		configPath  string
		sampleCap   int
		runs        int
		seed        uint64
		timeout     time.Duration
		logDir      string
		idiom       string
		allowlist   []string
		minKept     int
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run [package]",
		Short: "Generate, prune and write amplified tests",
		Long: `Load the trace recorded for a package, generate a test for each
sampled call and keep the tests that compile, pass, add branch
coverage and can carry assertions. Surviving tests are written as
*_amplified_test.go files next to the package's own tests.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "."
			if len(args) == 1 {
				pattern = args[0]
			}
			o := noOverrides()
			if cmd.Flags().Changed("cap") {
				o.cap = sampleCap
			}
			if cmd.Flags().Changed("runs") {
				o.runs = runs
			}
			o.timeout = timeout
			o.logDir = logDir
			o.idiom = idiom
			o.allowlist = allowlist
			o.seed, o.seedSet = seed, cmd.Flags().Changed("seed")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRun(ctx, runParams{
				pattern:     pattern,
				dir:         ".",
				format:      format,
				configPath:  configPath,
				overrides:   o,
				minKept:     minKept,
				interactive: interactive,
				stdout:      os.Stdout,
				stderr:      os.Stderr,
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "text",
		"output format: text or json")
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"config file (default: "+config.FileName+" in the working directory)")
	cmd.Flags().IntVar(&sampleCap, "cap", 50,
		"most calls sampled per traced method")
	cmd.Flags().IntVar(&runs, "runs", 3,
		"executions per test when observing values")
	cmd.Flags().Uint64Var(&seed, "seed", 0,
		"sampler seed (default: new seed each run)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0,
		"deadline of one test run (default 10s)")
	cmd.Flags().StringVar(&logDir, "log-dir", "",
		"trace log directory (default: search upward for log/)")
	cmd.Flags().StringVar(&idiom, "idiom", "",
		"assertion idiom: "+strings.Join(kindNames(), ", ")+" (default: detect)")
	cmd.Flags().StringSliceVar(&allowlist, "allowlist", nil,
		"import path prefixes whose calls may be inlined into tests")
	cmd.Flags().IntVar(&minKept, "min-kept", 0,
		"fail when fewer tests are kept (0 = no limit)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"launch interactive TUI for browsing the report")

	return cmd
}

func kindNames() []string {
	out := make([]string, 0, len(style.Kinds))
	for _, k := range style.Kinds {
		out = append(out, string(k))
	}
	return out
}

// initParams holds the parsed flags for the init command.
type initParams struct {
	targetDir string
	force     bool
	stdout    io.Writer
}

func runInit(p initParams) error {
	_, err := scaffold.Run(scaffold.Options{
		TargetDir: p.targetDir,
		Force:     p.force,
		Version:   version,
		Stdout:    p.stdout,
	})
	return err
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create " + config.FileName + " and the trace log directory",
		Long: `Write a commented ` + config.FileName + ` holding the default settings
and create log/ with its info marker in the current directory.
Existing files are kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(initParams{
				force:  force,
				stdout: cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// replayParams holds the parsed flags for the replay command.
type replayParams struct {
	input    io.Reader
	logDir   string
	compress bool
	clear    bool
	stderr   io.Writer
}

// runReplay feeds a JSON-lines event stream through a recording
// session, producing the same trace logs an instrumented process
// would.
func runReplay(ctx context.Context, p replayParams) error {
	if p.clear && p.logDir != "" {
		n := probe.ClearLogs(p.logDir)
		logger.Info("cleared previous trace logs", "count", n)
	}
	session, err := probe.NewSession(probe.Options{
		Dir:      p.logDir,
		Compress: p.compress,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	stop := session.HandleSignals(ctx)
	counts, runErr := replay.Run(ctx, session, p.input, replay.Options{Logger: logger})
	stop()
	closeErr := session.Close()

	fmt.Fprintf(p.stderr, "Replayed %d event(s) on %d thread(s), %d malformed.\n",
		counts.Events, counts.Threads, counts.Malformed)
	for _, o := range []probe.Outcome{probe.Completed, probe.Corrupted, probe.Skipped} {
		if n := counts.Outcomes[o]; n > 0 {
			fmt.Fprintf(p.stderr, "  %s: %d\n", o, n)
		}
	}
	return errors.Join(runErr, closeErr)
}

func newReplayCmd() *cobra.Command {
	var (
		logDir    string
		compress  bool
		clearLogs bool
	)
	cmd := &cobra.Command{
		Use:   "replay [events.jsonl]",
		Short: "Record a trace from a JSON-lines event stream",
		Long: `Read instrumentation events (one JSON object per line) from a
file or stdin and record them into the trace log directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runReplay(cmd.Context(), replayParams{
				input:    in,
				logDir:   logDir,
				compress: compress,
				clear:    clearLogs,
				stderr:   os.Stderr,
			})
		},
	}
	cmd.Flags().StringVar(&logDir, "log-dir", "",
		"trace log directory (default: search upward for log/)")
	cmd.Flags().BoolVar(&compress, "compress", false, "write zstd-compressed logs")
	cmd.Flags().BoolVar(&clearLogs, "clear", false, "remove previous logs first (requires --log-dir)")
	return cmd
}

// reportParams holds the parsed flags for the report command.
type reportParams struct {
	input       io.Reader
	format      string
	interactive bool
	stdout      io.Writer
}

// runReport re-renders a JSON report written by run --format=json.
func runReport(p reportParams) error {
	if p.format != "text" && p.format != "json" {
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", p.format)
	}
	doc, err := report.ReadJSON(p.input)
	if err != nil {
		return err
	}
	if p.interactive {
		return runInteractiveReport(&doc.Run)
	}
	if p.format == "json" {
		return report.WriteJSON(p.stdout, &doc.Run, doc.Version)
	}
	return report.WriteText(p.stdout, &doc.Run)
}

func newReportCmd() *cobra.Command {
	var (
		format      string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "report [report.json]",
		Short: "Render a saved JSON run report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runReport(reportParams{
				input:       in,
				format:      format,
				interactive: interactive,
				stdout:      cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"launch interactive TUI for browsing the report")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for amplify run reports",
		Long: `Print the JSON Schema (Draft 2020-12) that documents the
structure of amplify run --format=json output. Useful for
validating output or generating client types.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), report.Schema)
			return err
		},
	}
}
