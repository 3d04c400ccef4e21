package param

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	validPattern = regexp.MustCompile(`^\d+(\.\d+)?(!\d+)?$`)

	// zeroAddress matches an explicit all-zero address, keeping any destination in $2.
	zeroAddress = regexp.MustCompile(`^(\d+)\.0+(!\d+)?$`)
)

// ParameterID is the structured form of an identifier.
type ParameterID struct {
	Parameter int
	Address   int

	// Destination is only meaningful when HasDestination is set.
	// "710" and "710!0" are distinct identities.
	Destination    int
	HasDestination bool
}

// Validate reports whether s is a well-formed identifier:
// digits, an optional ".digits" address and an optional "!digits" destination.
func Validate(s string) bool {
	return validPattern.MatchString(s)
}

// Parse validates s and returns its structured form.
func Parse(s string) (ParameterID, error) {
	if !Validate(s) {
		return ParameterID{}, &ValidationError{Input: s}
	}

	var p ParameterID
	rest := s
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		p.Destination, _ = strconv.Atoi(rest[i+1:]) //nolint:errcheck // digits checked by Validate
		p.HasDestination = true
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		p.Address, _ = strconv.Atoi(rest[i+1:]) //nolint:errcheck // digits checked by Validate
		rest = rest[:i]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return ParameterID{}, &ValidationError{Input: s}
	}
	p.Parameter = n
	return p, nil
}

// String returns the canonical trimmed text form.
func (p ParameterID) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(p.Parameter))
	if p.Address != 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(p.Address))
	}
	if p.HasDestination {
		b.WriteByte('!')
		b.WriteString(strconv.Itoa(p.Destination))
	}
	return b.String()
}

// Trim removes a redundant zero address: "100.0" becomes "100" and
// "100.0!1" becomes "100!1". Any other input is returned unchanged.
// Trim is idempotent.
func Trim(s string) string {
	return zeroAddress.ReplaceAllString(s, "$1$2")
}

// ID strips the destination and keeps the address: "100.0!1" gives "100.0".
func ID(s string) string {
	if i := strings.IndexByte(s, '!'); i >= 0 {
		return s[:i]
	}
	return s
}

// BaseID returns the parameter number alone: "100.0!1" gives "100".
func BaseID(s string) string {
	if i := strings.IndexAny(s, ".!"); i >= 0 {
		return s[:i]
	}
	return s
}

// Destination returns the "!n" suffix without the separator, or "" when absent.
func Destination(s string) string {
	if i := strings.IndexByte(s, '!'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// InCategory reports whether the parameter number of s lies within
// [min, max]. The comparison is numeric.
func InCategory(s string, min, max int) bool {
	n, err := strconv.Atoi(BaseID(s))
	if err != nil {
		return false
	}
	return n >= min && n <= max
}
