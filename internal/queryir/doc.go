// Package queryir provides a driver-neutral query intermediate representation
// built from normalized criteria.
//
// ARCHITECTURE:
//
// QueryIR sits between the criteria normalizer and the store drivers:
//
//	[criteria.Criteria] → [Query IR] → [SQL compiler]      (driver/sqlite)
//	                                 → [Match evaluator]   (driver/memory)
//
// Drivers never interpret raw Where mappings themselves; they receive a
// Select whose Filter is a tree of sealed Predicate values.
//
// WHERE TRANSLATION:
//
//	{"name": "ada"}                  Equals{name, "ada"}
//	{"deletedAt": nil}               IsNull{deletedAt}
//	{"id": []any{1, 2}}              In{id, [1 2]}
//	{"age": {">": 30, "<=": 60}}     And{Compare{age > 30}, Compare{age <= 60}}
//	{"name": {"startsWith": "a"}}    Like{name, "a%"}
//	{"role": {"!": "admin"}}         Not{Equals{role, "admin"}}
//
// Unknown modifiers fail with *criteria.InvalidCriteriaError so that callers
// learn about typos before any I/O.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with marker methods. Only types in this
// package implement them, which keeps backend type switches exhaustive:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case Compare:
//	case Like:
//	case IsNull:
//	case Not:
//	case And:
//	}
package queryir
