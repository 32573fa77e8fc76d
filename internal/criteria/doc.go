// Package criteria normalizes caller-supplied query descriptors into one
// canonical form.
//
// Callers of the adapter may describe a query in several ways:
//
//	nil                                  // every record in the collection
//	42, "42"                             // shorthand for {where: {id: 42}}
//	map[string]any{"name": "ada"}        // bare filter, wrapped as {where: ...}
//	map[string]any{"where": ..., "limit": 10, "skip": 20, "order": "name DESC"}
//
// Normalize turns all of them into a Criteria value. It never mutates its
// input and is idempotent: normalizing a normalized Criteria yields an equal
// value.
//
// # Numeric coercion
//
// Every top-level value in Where that reads as a finite number whose square
// is positive is replaced with its numeric form (int64 when integral, float64
// otherwise). This is a legacy rule kept on purpose:
//
//   - "30" becomes 30, "-4" becomes -4
//   - "0", "abc", "" and "Infinity" are left untouched
//   - nested modifier mappings ({">": "30"}) and slices are left untouched
//
// # Lock keys
//
// Key and Overlaps derive the resource identity used by the lock package. Key
// is a stable canonical encoding (sorted keys, NFC-normalized strings).
// Overlaps is conservative: two criteria are only considered disjoint when
// they pin the same field to different scalar values.
package criteria
