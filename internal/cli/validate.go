package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/catalog"
	"github.com/roach88/strata/internal/schema"
)

// CollectionSummary describes one validated model.
type CollectionSummary struct {
	Name       string            `json:"name"`
	Lock       string            `json:"lock"`
	Attributes map[string]string `json:"attributes"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	Driver      string              `json:"driver"`
	SyncMode    string              `json:"sync_mode"`
	Files       int                 `json:"files"`
	Collections []CollectionSummary `json:"collections"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and models without touching the store",
		Long: `Validate the config file and the CUE models it lists.

Each model is prepared exactly as sync would prepare it, including the
implicit id and timestamp attributes, but no driver is opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	env, err := LoadEnvironment(opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, envErrorCode(err), err)
	}
	f.VerboseLog("Loaded %d model file(s)", env.Catalog.Files)

	policy := env.Config.Policy()
	result := ValidationResult{
		Valid:       true,
		Driver:      env.Config.Driver.Name,
		SyncMode:    string(env.Config.SyncMode()),
		Files:       env.Catalog.Files,
		Collections: make([]CollectionSummary, 0, len(env.Catalog.Models)),
	}
	prepared := make([]schema.Schema, 0, len(env.Catalog.Models))
	for _, m := range env.Catalog.Models {
		s, err := schema.Prepare(m.Collection, policy)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeModels, fmt.Errorf("%s: %w", m.Collection.Identity, err))
		}
		prepared = append(prepared, s)
		result.Collections = append(result.Collections, CollectionSummary{
			Name:       m.Collection.Identity,
			Lock:       lockMode(env, m.Collection.Identity),
			Attributes: attributeStrings(s),
		})
	}

	if f.JSON() {
		return f.Success(result)
	}
	w := cmd.OutOrStdout()
	for i, c := range result.Collections {
		fmt.Fprintf(w, "✓ %s (%s lock)\n", c.Name, c.Lock)
		if opts.Verbose {
			writeSchema(w, prepared[i])
		}
	}
	fmt.Fprintf(w, "%d collection(s) valid, driver %s, sync mode %s\n", len(result.Collections), result.Driver, result.SyncMode)
	return nil
}

// envErrorCode picks the error code for a LoadEnvironment failure.
func envErrorCode(err error) string {
	var cerr *catalog.Error
	if errors.As(err, &cerr) {
		return ErrCodeModels
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee.Message == "failed to load models" {
		return ErrCodeModels
	}
	return ErrCodeConfig
}

func attributeStrings(s schema.Schema) map[string]string {
	out := make(map[string]string, len(s))
	for name, attr := range s {
		out[name] = attr.String()
	}
	return out
}

func writeSchema(w io.Writer, s schema.Schema) {
	for _, name := range s.Names() {
		fmt.Fprintf(w, "    %-16s %s\n", name, s[name])
	}
}

func lockMode(env *Environment, collection string) string {
	if m, ok := env.Config.Lock.Collections[collection]; ok {
		return m
	}
	return env.Config.Lock.Mode
}
