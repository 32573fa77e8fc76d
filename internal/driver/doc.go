// Package driver defines the store driver contract.
//
// A driver implements Driver and any subset of the optional capability
// interfaces (Definer, Finder, Joiner, ...). Absence of an interface is a
// valid, detected condition: Probe records the capability set once when the
// driver is registered with an adapter, and the adapter routes each
// operation to the driver or to a benign default accordingly.
//
// Drivers receive prepared inputs only: schemas from schema.Prepare and
// queries built by queryir from normalized criteria. Errors are returned
// as-is and are passed through to callers unchanged.
package driver
