package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/driver/registry"
	"github.com/roach88/strata/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // glob over scenario file names, without extension
	Driver string // run every scenario against this driver
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarizes a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run adapter scenarios",
		Long: `Run YAML adapter scenarios, each against a fresh store.

Steps run in order and are checked against their expectations and the
scenario's assertions. When golden/<file>.golden exists next to a scenario,
its trace must match byte for byte. Golden files are skipped when --driver
overrides the scenario's own driver.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing directory, bad filter, unknown driver)

Examples:
  strata test ./scenarios
  strata test ./scenarios --filter "lock_*"
  strata test ./scenarios --driver sqlite
  strata test ./scenarios --update
  strata test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run only scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "run every scenario against this driver ("+strings.Join(registry.Names(), "|")+")")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}
	if opts.Driver != "" && !slices.Contains(registry.Names(), opts.Driver) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown driver %q", opts.Driver))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if len(files) == 0 {
		if f.JSON() {
			return f.Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	r := &scenarioRunner{opts: opts, out: f, logger: scenarioLogger(opts, cmd.ErrOrStderr())}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sr := r.run(ctx, file)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return reportTests(f, result)
}

func scenarioLogger(opts *TestOptions, w io.Writer) *slog.Logger {
	if !opts.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// findScenarioFiles returns the .yaml and .yml files under dir whose base
// name matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

type scenarioRunner struct {
	opts   *TestOptions
	out    *OutputFormatter
	logger *slog.Logger
}

func (r *scenarioRunner) run(ctx context.Context, file string) ScenarioResult {
	s, err := harness.LoadScenario(file)
	if err != nil {
		return r.report(ScenarioResult{Name: filepath.Base(file), Errors: []string{"failed to load scenario: " + err.Error()}}, "")
	}
	if r.opts.Driver != "" {
		s.Driver = r.opts.Driver
	}

	result, err := harness.Run(ctx, s, harness.WithLogger(r.logger))
	if err != nil {
		return r.report(ScenarioResult{Name: s.Name, Errors: []string{"execution failed: " + err.Error()}}, "")
	}
	sr := ScenarioResult{Name: s.Name, Pass: result.Pass, Steps: len(result.Trace), Errors: result.Errors}

	// Golden traces are recorded against the scenario's own driver.
	if r.opts.Driver != "" {
		return r.report(sr, "")
	}
	snap := harness.TraceSnapshot{ScenarioName: s.Name, Trace: result.Trace}
	golden := goldenFilePath(file)
	if r.opts.Update {
		if err := writeGolden(snap, golden); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, "failed to update golden file: "+err.Error())
			return r.report(sr, "")
		}
		return r.report(sr, "golden updated")
	}
	if msg := checkGolden(snap, golden); msg != "" {
		sr.Pass = false
		sr.Errors = append(sr.Errors, msg)
	}
	return r.report(sr, "")
}

// report prints one scenario line in text mode and returns sr.
func (r *scenarioRunner) report(sr ScenarioResult, note string) ScenarioResult {
	if r.out.JSON() {
		return sr
	}
	w := r.out.Writer
	if !sr.Pass {
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return sr
	}
	if note != "" {
		fmt.Fprintf(w, "✓ %s (%s)\n", sr.Name, note)
	} else {
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
	}
	return sr
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(snap harness.TraceSnapshot, path string) error {
	data, err := snap.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// checkGolden returns a failure message, or "" when path is absent or
// matches.
func checkGolden(snap harness.TraceSnapshot, path string) string {
	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		return "golden comparison failed: " + err.Error()
	}
	got, err := snap.MarshalCanonical()
	if err != nil {
		return "golden comparison failed: " + err.Error()
	}
	if !bytes.Equal(want, got) {
		return "trace does not match golden file (run with --update to regenerate)"
	}
	return ""
}

func reportTests(f *OutputFormatter, result TestResult) error {
	var failure *ExitError
	if result.Failed > 0 {
		failure = &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d scenario(s) failed", result.Failed), Reported: true}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenario, Message: failure.Message}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		if failure == nil {
			fmt.Fprintln(f.Writer, "✓ All scenarios passed")
		}
	}
	if failure != nil {
		return failure
	}
	return nil
}
