package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/schema"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DryRun bool
}

// SyncReport is the JSON form of one collection's synchronization.
type SyncReport struct {
	Collection string   `json:"collection"`
	Mode       string   `json:"mode"`
	Created    bool     `json:"created"`
	Applied    []string `json:"applied,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Mismatches []string `json:"mismatches,omitempty"`
	Matches    bool     `json:"matches"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize declared collections with the store",
		Long: `Synchronize every collection declared by the configured models.

Non-persistent stores are synchronized in drop mode: each collection is
dropped and defined again, losing its data. Persistent stores are altered
in place. With --dry-run the planned changes are printed and nothing is
applied.

Exit codes:
  0 - Every collection matches its declaration
  1 - A change failed or a field's stored type differs from its declaration
  2 - Command error (bad config, driver unavailable, etc.)

Examples:
  strata sync --config strata.yaml
  strata sync --config strata.yaml --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without applying it")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	env, err := LoadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, envErrorCode(err), err)
	}
	if len(env.Catalog.Models) == 0 {
		return f.Fail(ExitCommandError, ErrCodeModels, fmt.Errorf("no collections declared (set models in the config file)"))
	}

	a, closeFn, err := env.Open(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDriver, err)
	}
	defer closeFn()

	var (
		reports []SyncReport
		syncErr error
	)
	if opts.DryRun {
		for _, c := range env.Catalog.Collections() {
			declared, err := schema.Prepare(c, env.Config.Policy())
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeModels, err)
			}
			actual, err := a.Describe(cmd.Context(), c.Identity)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeDriver, err)
			}
			reports = append(reports, planReport(c.Identity, a.SyncMode(), declared, actual))
		}
	} else {
		var rs []*schema.Report
		rs, syncErr = a.SyncAll(cmd.Context(), env.Catalog.Collections())
		for _, r := range rs {
			if r != nil {
				reports = append(reports, newSyncReport(r))
			}
		}
		if syncErr != nil && len(reports) == 0 {
			return f.Fail(ExitFailure, ErrCodeSync, syncErr)
		}
	}

	failed := 0
	for _, r := range reports {
		if len(r.Failed) > 0 || (!opts.DryRun && !r.Matches) {
			failed++
		}
	}

	if f.JSON() {
		if err := f.Success(reports); err != nil {
			return err
		}
	} else {
		writeSyncText(cmd, reports, opts.DryRun)
	}
	if syncErr != nil {
		return WrapExitError(ExitFailure, "sync failed", syncErr)
	}
	if failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d collection(s) out of sync", failed), Reported: f.JSON()}
	}
	return nil
}

func newSyncReport(r *schema.Report) SyncReport {
	out := SyncReport{
		Collection: r.Collection,
		Mode:       string(r.Mode),
		Created:    r.Created,
		Applied:    changeStrings(r.Applied),
		Failed:     changeStrings(r.Failed),
		Matches:    r.Matches,
	}
	for _, m := range r.Mismatches {
		out.Mismatches = append(out.Mismatches, mismatchString(m))
	}
	return out
}

// planReport describes what a sync would do without applying it.
func planReport(collection string, mode schema.Mode, declared, actual schema.Schema) SyncReport {
	out := SyncReport{Collection: collection, Mode: string(mode)}
	switch {
	case actual == nil:
		out.Created = true
	case mode == schema.ModeDrop:
		out.Created = true
		out.Applied = []string{"drop " + collection}
	default:
		plan := schema.Diff(declared, actual)
		out.Applied = changeStrings(plan.Changes)
		for _, m := range plan.Mismatches {
			out.Mismatches = append(out.Mismatches, mismatchString(m))
		}
		out.Matches = plan.Empty() && len(plan.Mismatches) == 0
	}
	return out
}

func changeStrings(cs []schema.Change) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Op == schema.AddAttribute {
			out = append(out, fmt.Sprintf("add %s %s", c.Name, c.Attribute))
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", c.Op, c.Name))
	}
	return out
}

func mismatchString(m schema.Mismatch) string {
	return fmt.Sprintf("%s: declared %s, stored %s", m.Name, m.Declared, m.Actual)
}

func writeSyncText(cmd *cobra.Command, reports []SyncReport, dryRun bool) {
	w := cmd.OutOrStdout()
	verb := "synced"
	if dryRun {
		verb = "would sync"
	}
	for _, r := range reports {
		mark := "✓"
		if len(r.Failed) > 0 || (!dryRun && !r.Matches) {
			mark = "✗"
		}
		state := ""
		if r.Created {
			state = " (created)"
		}
		fmt.Fprintf(w, "%s %s %s in %s mode%s\n", mark, verb, r.Collection, r.Mode, state)
		for _, c := range r.Applied {
			fmt.Fprintf(w, "    %s\n", c)
		}
		for _, c := range r.Failed {
			fmt.Fprintf(w, "    failed: %s\n", c)
		}
		for _, m := range r.Mismatches {
			fmt.Fprintf(w, "    mismatch: %s\n", m)
		}
	}
}
