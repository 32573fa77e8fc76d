package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/driver"
)

// CapsResult lists what the configured driver can do.
type CapsResult struct {
	Driver string `json:"driver"`
	// Native operations are implemented by the driver itself.
	Native []string `json:"native"`
	// Composed operations are built by the adapter from native ones.
	Composed []string `json:"composed,omitempty"`
	// Defaulted operations are missing and return an empty result.
	Defaulted []string `json:"defaulted,omitempty"`
	// Unsupported operations fail with an unsupported-operation error.
	Unsupported []string `json:"unsupported,omitempty"`
}

// composedFrom lists the operations the adapter builds when the driver
// lacks them, with the native operations each one needs.
var composedFrom = []struct {
	op    driver.Capability
	needs driver.Capability
}{
	{driver.CapFindOrCreate, driver.CapFind | driver.CapCreate},
	{driver.CapFindAndUpdate, driver.CapFind | driver.CapUpdate},
	{driver.CapFindAndDestroy, driver.CapFind | driver.CapDestroy},
	{driver.CapLock, 0},
}

// NewCapsCommand creates the caps command.
func NewCapsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caps [operation]",
		Short: "Show the configured driver's capabilities",
		Long: `Show which operations the configured driver implements natively, which
the adapter composes from other operations, and which are unsupported.

Missing lifecycle and inspection operations fall back to an empty result;
a missing join is an error.

With an operation name, exits 0 when the operation is available (natively
or composed) and 1 otherwise.

Examples:
  strata caps --config strata.yaml
  strata caps join --config strata.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaps(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCaps(opts *RootOptions, args []string, cmd *cobra.Command) error {
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

	result := capsOf(a.Driver().Name(), a.Capabilities())

	if len(args) == 1 {
		op, ok := driver.ParseCapability(args[0])
		if !ok {
			return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Errorf("unknown operation %q", args[0]))
		}
		available := a.Supports(op) || slices.Contains(result.Composed, op.String())
		if f.JSON() {
			if err := f.Success(map[string]any{"operation": op.String(), "available": available}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", op, availability(a.Supports(op), available))
		}
		if !available {
			return &ExitError{Code: ExitFailure, Message: op.String() + " is not supported by " + result.Driver, Reported: true}
		}
		return nil
	}

	if f.JSON() {
		return f.Success(result)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "driver:      %s\n", result.Driver)
	fmt.Fprintf(w, "native:      %s\n", strings.Join(result.Native, ", "))
	if len(result.Composed) > 0 {
		fmt.Fprintf(w, "composed:    %s\n", strings.Join(result.Composed, ", "))
	}
	if len(result.Defaulted) > 0 {
		fmt.Fprintf(w, "defaulted:   %s\n", strings.Join(result.Defaulted, ", "))
	}
	if len(result.Unsupported) > 0 {
		fmt.Fprintf(w, "unsupported: %s\n", strings.Join(result.Unsupported, ", "))
	}
	return nil
}

func capsOf(name string, native driver.Capabilities) CapsResult {
	result := CapsResult{Driver: name, Native: native.List()}
	covered := native
	for _, c := range composedFrom {
		if native.Has(c.op) || !native.Has(c.needs) {
			continue
		}
		result.Composed = append(result.Composed, c.op.String())
		covered |= driver.Capabilities(c.op)
	}
	all := driver.Capabilities(^driver.Capability(0))
	for _, op := range all.List() {
		c, _ := driver.ParseCapability(op)
		switch {
		case covered.Has(c):
		case c == driver.CapJoin:
			result.Unsupported = append(result.Unsupported, op)
		default:
			result.Defaulted = append(result.Defaulted, op)
		}
	}
	return result
}

func availability(native, available bool) string {
	switch {
	case native:
		return "native"
	case available:
		return "composed"
	default:
		return "not available"
	}
}

