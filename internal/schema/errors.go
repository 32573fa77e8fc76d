package schema

import (
	"errors"
	"fmt"
	"strings"
)

// CollectionAlreadyExistsError is returned by Define when the store already
// reports a schema for the collection. Existing carries that schema for
// diagnostics.
type CollectionAlreadyExistsError struct {
	Collection string
	Existing   Schema
}

// Error implements the error interface.
func (e *CollectionAlreadyExistsError) Error() string {
	fields := e.Existing.Names()
	return fmt.Sprintf("collection %q already exists (fields: %s)", e.Collection, strings.Join(fields, ", "))
}

// IsCollectionAlreadyExists returns true if err is a CollectionAlreadyExistsError.
// Uses errors.As to handle wrapped errors.
func IsCollectionAlreadyExists(err error) bool {
	var ce *CollectionAlreadyExistsError
	return errors.As(err, &ce)
}

// AttributeError reports a failure scoped to one attribute: an invalid
// descriptor during Prepare, or a rejected change during an alter sync.
type AttributeError struct {
	Collection string
	Attribute  string
	Op         ChangeOp // zero when raised by Prepare
	Err        error
}

// Error implements the error interface.
func (e *AttributeError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Collection, e.Attribute, e.Err)
	}
	return fmt.Sprintf("attribute %s.%s: %v", e.Collection, e.Attribute, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AttributeError) Unwrap() error {
	return e.Err
}

// IsAttributeError returns true if err is, or wraps, an AttributeError.
func IsAttributeError(err error) bool {
	var ae *AttributeError
	return errors.As(err, &ae)
}
