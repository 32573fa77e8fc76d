package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/strata/internal/adapter"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/lock"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s", e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\n\ntrace:")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "\n  [%d] %s %s", ev.Seq, ev.Op, ev.Collection)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " -> %s", ev.Error)
			}
		}
	}
	return buf.String()
}

// AssertionContext gives final_state assertions access to the store.
type AssertionContext struct {
	Ctx     context.Context
	Adapter *adapter.Adapter
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalState:
			if actx == nil || actx.Adapter == nil {
				err = fmt.Errorf("assertions[%d]: final_state requires an adapter", i)
			} else {
				err = assertFinalState(actx, a)
			}
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertFinalState(actx *AssertionContext, a Assertion) error {
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	records, err := actx.Adapter.Find(ctx, a.Collection, a.Criteria)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "find " + a.Collection,
			Actual:   fmt.Sprintf("%s: %v", ErrorKind(err), err),
		}
	}
	if a.Count != nil && len(records) != *a.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d records in %s", *a.Count, a.Collection),
			Actual:   fmt.Sprintf("%d records", len(records)),
		}
	}
	if msg := matchRecords(a.Expect, records); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("records in %s matching %v", a.Collection, a.Expect),
			Actual:   msg,
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := len(matchingEvents(trace, a))
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s", *a.Count, describeSelector(a)),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	if len(matchingEvents(trace, a)) == 0 {
		return &AssertionError{
			Type:     AssertTraceContains,
			Expected: describeSelector(a),
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}
	return nil
}

func matchingEvents(trace []TraceEvent, a Assertion) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		if a.Collection != "" && ev.Collection != a.Collection {
			continue
		}
		if a.Error != "" && !errorMatches(a.Error, ev.Error) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func describeSelector(a Assertion) string {
	s := a.Op + " steps"
	if a.Collection != "" {
		s += " on " + a.Collection
	}
	if a.Error != "" {
		s += " failing with " + a.Error
	}
	return s
}

func errorMatches(want, got string) bool {
	if want == kindAny {
		return got != ""
	}
	return want == got
}

// checkExpect compares one step's outcome with its expectation and returns
// a message per mismatch.
func checkExpect(e *Expect, out any, err error) []string {
	kind := ErrorKind(err)
	if e == nil || e.Error == "" {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error (%s): %v", kind, err)}
		}
	} else {
		if !errorMatches(e.Error, kind) {
			if err == nil {
				return []string{fmt.Sprintf("expected %s error, got success", e.Error)}
			}
			return []string{fmt.Sprintf("expected %s error, got %s: %v", e.Error, kind, err)}
		}
		return nil
	}
	if e == nil {
		return nil
	}

	var msgs []string
	recs, isList := records(out)
	if e.Count != nil {
		switch {
		case !isList:
			msgs = append(msgs, fmt.Sprintf("count: result %T holds no records", out))
		case len(recs) != *e.Count:
			msgs = append(msgs, fmt.Sprintf("count: expected %d records, got %d", *e.Count, len(recs)))
		}
	}
	if e.Records != nil {
		if !isList {
			msgs = append(msgs, fmt.Sprintf("records: result %T holds no records", out))
		} else if msg := matchRecords(e.Records, recs); msg != "" {
			msgs = append(msgs, "records: "+msg)
		}
	}
	if e.Value != nil && !valuesEqual(e.Value, out) {
		msgs = append(msgs, fmt.Sprintf("value: expected %v, got %v", e.Value, out))
	}
	return msgs
}

// records extracts the records an operation returned. A single record
// counts as a list of one; an optimistic token yields its snapshot.
func records(out any) ([]driver.Record, bool) {
	switch v := out.(type) {
	case []driver.Record:
		return v, true
	case driver.Record:
		if v == nil {
			return nil, true
		}
		return []driver.Record{v}, true
	case *lock.Token:
		if v != nil && v.Mode == lock.ModeOptimistic {
			return adapter.Snapshot(v), true
		}
	}
	return nil, false
}

// matchRecords matches expected against actual in order. Each expected
// record must be a subset of the actual record at the same position.
func matchRecords(expected []map[string]any, actual []driver.Record) string {
	if len(expected) > len(actual) {
		return fmt.Sprintf("expected at least %d records, got %d", len(expected), len(actual))
	}
	for i, want := range expected {
		if msg := matchRecord(want, actual[i]); msg != "" {
			return fmt.Sprintf("[%d] %s", i, msg)
		}
	}
	return ""
}

func matchRecord(want map[string]any, got driver.Record) string {
	for k, v := range want {
		actual, ok := got[k]
		if !ok {
			if v == nil {
				continue
			}
			return fmt.Sprintf("field %q missing", k)
		}
		if !valuesEqual(v, actual) {
			return fmt.Sprintf("field %q = %v (%T), expected %v (%T)", k, actual, actual, v, v)
		}
	}
	return ""
}

// valuesEqual compares a YAML-decoded expectation with a stored value.
// Numbers compare by value across integer and float types, and times
// compare with RFC 3339 strings.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		return ok && ef == af
	}
	if at, ok := actual.(time.Time); ok {
		switch e := expected.(type) {
		case time.Time:
			return e.Equal(at)
		case string:
			et, err := time.Parse(time.RFC3339Nano, e)
			return err == nil && et.Equal(at)
		}
		return false
	}
	if b, ok := actual.([]byte); ok {
		if s, ok := expected.(string); ok {
			return s == string(b)
		}
	}

	ev, av := reflect.ValueOf(expected), reflect.ValueOf(actual)
	switch {
	case ev.Kind() == reflect.Map && av.Kind() == reflect.Map:
		if ev.Len() != av.Len() {
			return false
		}
		for _, k := range ev.MapKeys() {
			a := av.MapIndex(k)
			if !a.IsValid() || !valuesEqual(ev.MapIndex(k).Interface(), a.Interface()) {
				return false
			}
		}
		return true
	case ev.Kind() == reflect.Slice && av.Kind() == reflect.Slice:
		if ev.Len() != av.Len() {
			return false
		}
		for i := 0; i < ev.Len(); i++ {
			if !valuesEqual(ev.Index(i).Interface(), av.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
