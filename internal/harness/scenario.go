package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/lock"
)

// Scenario is a scripted sequence of adapter operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Models lists CUE files or directories declaring the collections.
	// Relative paths are resolved against the scenario file.
	Models []string `yaml:"models"`

	// Driver selects the store: memory (default) or sqlite.
	Driver string `yaml:"driver,omitempty"`

	// Persistent selects alter-mode synchronization.
	Persistent bool `yaml:"persistent,omitempty"`

	// Lock overrides per-collection lock modes declared by the models.
	Lock map[string]string `yaml:"lock,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one adapter operation.
type Step struct {
	// Op is the operation name, e.g. "create" or "findAndUpdate".
	Op string `yaml:"op"`

	Collection string `yaml:"collection,omitempty"`

	// Criteria is passed to the adapter unnormalized.
	Criteria any `yaml:"criteria,omitempty"`

	Values map[string]any `yaml:"values,omitempty"`

	// Records is the batch for createEach.
	Records []map[string]any `yaml:"records,omitempty"`

	Join *JoinStep `yaml:"join,omitempty"`

	// Attributes declares the collection for define and sync steps.
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// As names the token a lock step returns.
	As string `yaml:"as,omitempty"`

	// Token names a token from an earlier lock step. Mutations run inside
	// it; unlock, discard, renew and edit act on it.
	Token string `yaml:"token,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// JoinStep mirrors driver.JoinSpec.
type JoinStep struct {
	Left       string `yaml:"left"`
	Right      string `yaml:"right"`
	Key        string `yaml:"key"`
	ForeignKey string `yaml:"foreignKey"`
	LeftOuter  bool   `yaml:"leftOuter,omitempty"`
	RightOuter bool   `yaml:"rightOuter,omitempty"`
}

// Expect checks the outcome of a step. A step without Expect must succeed.
type Expect struct {
	// Error is the expected error kind (see ErrorKind), or "any".
	Error string `yaml:"error,omitempty"`

	// Count is the expected number of returned records.
	Count *int `yaml:"count,omitempty"`

	// Records are matched in order against the returned records. Each
	// expected record is a subset of the actual one.
	Records []map[string]any `yaml:"records,omitempty"`

	// Value is compared against scalar results such as autoIncrement.
	Value any `yaml:"value,omitempty"`
}

// Assertion validates the trace or final store state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Collection and Criteria select records for final_state.
	Collection string `yaml:"collection,omitempty"`
	Criteria   any    `yaml:"criteria,omitempty"`

	// Expect records are matched in order (final_state).
	Expect []map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of records (final_state) or of matching
	// steps (trace_count).
	Count *int `yaml:"count,omitempty"`

	// Op and Error select trace events (trace_count, trace_contains).
	Op    string `yaml:"op,omitempty"`
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertFinalState    = "final_state"
	AssertTraceCount    = "trace_count"
	AssertTraceContains = "trace_contains"
)

// Step operations.
var stepOps = map[string]bool{
	"define": true, "sync": true, "describe": true, "drop": true,
	"create": true, "createEach": true, "find": true, "findOne": true,
	"update": true, "destroy": true,
	"findOrCreate": true, "findAndUpdate": true, "findAndDestroy": true,
	"lock": true, "unlock": true, "renew": true, "discard": true, "edit": true,
	"join": true, "status": true, "autoIncrement": true,
}

// LoadScenario reads and validates a scenario file. Model paths are
// resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes a scenario, rejecting unknown fields, and resolves
// relative model paths against basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range s.Models {
		if !filepath.IsAbs(p) && basePath != "" {
			s.Models[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	switch s.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	for _, p := range s.Models {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("model path: %w", err)
		}
	}
	for name, mode := range s.Lock {
		if _, err := lock.ParseMode(mode); err != nil {
			return fmt.Errorf("lock.%s: %w", name, err)
		}
	}

	tokens := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, tokens); err != nil {
			return err
		}
		if step.As != "" {
			tokens[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, tokens map[string]bool) error {
	if !stepOps[step.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	switch step.Op {
	case "join":
		if step.Join == nil {
			return fmt.Errorf("steps[%d]: join requires a join block", i)
		}
	case "unlock", "renew", "discard", "edit":
		if step.Token == "" {
			return fmt.Errorf("steps[%d]: %s requires a token", i, step.Op)
		}
	default:
		if step.Collection == "" {
			return fmt.Errorf("steps[%d]: collection is required for %s", i, step.Op)
		}
	}
	if step.As != "" && step.Op != "lock" {
		return fmt.Errorf("steps[%d]: only lock steps can name a token", i)
	}
	if step.Token != "" && !tokens[step.Token] {
		return fmt.Errorf("steps[%d]: token %q is not named by an earlier lock step", i, step.Token)
	}
	if step.Expect != nil && step.Expect.Error != "" && !knownErrorKind(step.Expect.Error) {
		return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for final_state", i)
		}
		if a.Count == nil && a.Expect == nil {
			return fmt.Errorf("assertions[%d]: count or expect is required for final_state", i)
		}
	case AssertTraceCount:
		if a.Op == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: op and count are required for trace_count", i)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	if a.Error != "" && !knownErrorKind(a.Error) {
		return fmt.Errorf("assertions[%d]: unknown error kind %q", i, a.Error)
	}
	return nil
}
