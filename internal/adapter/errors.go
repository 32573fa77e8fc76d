package adapter

import (
	"errors"
	"fmt"
)

// UnsupportedOperationError is returned when the driver lacks an operation
// and the adapter has no safe fallback for it.
type UnsupportedOperationError struct {
	Operation string
	Driver    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: not supported by driver %q", e.Operation, e.Driver)
}

// IsUnsupported reports whether err is an *UnsupportedOperationError.
func IsUnsupported(err error) bool {
	var u *UnsupportedOperationError
	return errors.As(err, &u)
}
