package object

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxIDLength bounds object identifiers.
const MaxIDLength = 255

// ValidateObject checks that an object can be persisted.
func ValidateObject(o *Object) error {
	if o == nil {
		return fmt.Errorf("%w: nil object", ErrInvalidObject)
	}
	if err := ValidateID(o.ID); err != nil {
		return err
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidObject, o.Type)
	}
	if strings.TrimSpace(o.Common.Name) == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidObject, o.ID)
	}
	return nil
}

// ValidateID checks an object identifier.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidObject)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidObject, MaxIDLength)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: id contains control characters", ErrInvalidObject)
	}
	return nil
}
