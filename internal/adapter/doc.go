// Package adapter is the facade over a store driver.
//
// The adapter normalizes criteria, prepares schemas, serializes mutations
// through the lock coordinator, and routes each operation to the driver's
// matching capability. Operations the driver lacks return a benign empty
// result, except Join, which fails with *UnsupportedOperationError.
// Capabilities and Supports report which operations are native.
//
// Mutations in pessimistic collections run under the lock for the records
// they touch; a caller holding a token passes it with WithToken to mutate
// inside its own lock. In optimistic collections Lock hands out a snapshot
// and Unlock merges it back, failing with *lock.StaleStateError when an
// overlapping write got there first.
//
// Composed fallbacks for FindOrCreate, FindAndUpdate and FindAndDestroy
// are serialized against other callers of the same adapter only. They are
// not atomic against other processes sharing the store.
package adapter
