package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/driver"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	One bool
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <collection> [criteria]",
		Short: "Query a collection",
		Long: `Query a collection with the same criteria the adapter accepts.

The criteria argument is JSON or YAML flow syntax: a primary key value, or a
mapping with where, limit, skip and order.

Examples:
  strata find users --config strata.yaml
  strata find users 42 --config strata.yaml
  strata find users '{where: {age: {">": 30}}, order: "name ASC", limit: 10}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			return runFind(opts, args[0], raw, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.One, "one", false, "return the first match only")
	return cmd
}

// parseCriteria decodes a criteria argument. An empty argument selects
// everything.
func parseCriteria(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	return v, nil
}

func runFind(opts *FindOptions, collection, raw string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	c, err := parseCriteria(raw)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeQuery, err)
	}
	env, err := LoadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, envErrorCode(err), err)
	}
	a, closeFn, err := env.Open(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDriver, err)
	}
	defer closeFn()

	var records []driver.Record
	if opts.One {
		r, err := a.FindOne(cmd.Context(), collection, c)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeQuery, err)
		}
		if r != nil {
			records = append(records, r)
		}
	} else {
		records, err = a.Find(cmd.Context(), collection, c)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeQuery, err)
		}
	}
	f.VerboseLog("%d record(s) from %s", len(records), collection)

	if f.JSON() {
		if records == nil {
			records = []driver.Record{}
		}
		return f.Success(records)
	}
	w := cmd.OutOrStdout()
	for _, r := range records {
		line, err := criteria.MarshalCanonical(map[string]any(r))
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeQuery, err)
		}
		fmt.Fprintln(w, string(line))
	}
	return nil
}
