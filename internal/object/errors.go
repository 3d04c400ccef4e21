package object

import "errors"

// Domain errors for the object package.
//
//	if errors.Is(err, object.ErrObjectNotFound) {
//	    // handle not found case
//	}
var (
	// ErrObjectNotFound is returned when an object ID does not exist.
	ErrObjectNotFound = errors.New("object: not found")

	// ErrObjectExists is returned when creating an object whose ID is taken.
	ErrObjectExists = errors.New("object: already exists")

	// ErrInvalidObject is returned when object validation fails.
	ErrInvalidObject = errors.New("object: invalid")

	// ErrStateNotFound is returned when an object has never had a value.
	ErrStateNotFound = errors.New("object: no state")
)
