package schema

import "sort"

// ChangeOp is the kind of a single alteration.
type ChangeOp string

const (
	AddAttribute    ChangeOp = "add"
	RemoveAttribute ChangeOp = "remove"
)

// Change is one attribute-level alteration handed to a driver.
type Change struct {
	Op        ChangeOp
	Name      string
	Attribute Attribute // zero for RemoveAttribute
}

// Mismatch is a field present on both sides with a different descriptor.
// Mismatches are reported but never altered so that the field keeps its data.
type Mismatch struct {
	Name     string
	Declared Attribute
	Actual   Attribute
}

// Plan is the delta between a declared schema and the store's schema.
// It lives only for the duration of one sync call.
type Plan struct {
	Changes    []Change
	Mismatches []Mismatch
}

// Empty reports whether the plan has nothing to apply.
func (p Plan) Empty() bool {
	return len(p.Changes) == 0
}

// Diff computes the plan that turns actual into declared. Additions come
// first, then removals; each group is sorted by name so the plan does not
// depend on map iteration order.
func Diff(declared, actual Schema) Plan {
	var plan Plan

	for _, name := range sortedNames(declared) {
		want := declared[name]
		have, ok := actual[name]
		switch {
		case !ok:
			plan.Changes = append(plan.Changes, Change{Op: AddAttribute, Name: name, Attribute: want})
		case !Comparable(want, have):
			plan.Mismatches = append(plan.Mismatches, Mismatch{Name: name, Declared: want, Actual: have})
		}
	}

	for _, name := range sortedNames(actual) {
		if _, ok := declared[name]; !ok {
			plan.Changes = append(plan.Changes, Change{Op: RemoveAttribute, Name: name})
		}
	}
	return plan
}

// Comparable reports whether a stored field satisfies a declared one:
// same canonical type and same primary-key status.
func Comparable(declared, actual Attribute) bool {
	dt, _ := CanonicalType(declared.Type)
	at, _ := CanonicalType(actual.Type)
	return dt == at && declared.PrimaryKey == actual.PrimaryKey
}

// Matches reports whether actual has exactly the declared field set with
// comparable descriptors.
func Matches(declared, actual Schema) bool {
	if len(declared) != len(actual) {
		return false
	}
	for name, want := range declared {
		have, ok := actual[name]
		if !ok || !Comparable(want, have) {
			return false
		}
	}
	return true
}

func sortedNames(s Schema) []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
