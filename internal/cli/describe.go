package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DescribeResult is the stored schema of one collection, with the
// collection's record count when the driver reports one.
type DescribeResult struct {
	Collection string            `json:"collection"`
	Exists     bool              `json:"exists"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Records    *int64            `json:"records,omitempty"`
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <collection>",
		Short: "Show a collection's stored schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDescribe(opts *RootOptions, collection string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	env, err := LoadEnvironment(opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(ExitCommandError, envErrorCode(err), err)
	}
	a, closeFn, err := env.Open(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDriver, err)
	}
	defer closeFn()

	s, err := a.Describe(cmd.Context(), collection)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDriver, err)
	}
	result := DescribeResult{Collection: collection, Exists: s != nil}
	if s != nil {
		result.Attributes = attributeStrings(s)
		status, err := a.Status(cmd.Context(), collection)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDriver, err)
		}
		if status != nil {
			result.Records = &status.Records
		}
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if s == nil {
			fmt.Fprintf(w, "%s: not found\n", collection)
		} else {
			fmt.Fprintf(w, "%s\n", collection)
			writeSchema(w, s)
			if result.Records != nil {
				fmt.Fprintf(w, "%d record(s)\n", *result.Records)
			}
		}
	}
	if s == nil {
		return &ExitError{Code: ExitFailure, Message: collection + " not found", Reported: true}
	}
	return nil
}
