package param

import (
	"errors"
	"fmt"
)

// ErrInvalidID is returned when a parameter identifier is malformed.
var ErrInvalidID = errors.New("param: invalid parameter id")

// ValidationError reports one malformed user-supplied identifier.
type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("param: invalid parameter id %q", e.Input)
}

// Unwrap allows errors.Is(err, ErrInvalidID).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidID
}
