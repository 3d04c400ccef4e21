package param

import "strings"

// List is the result of resolving the configured tracking list.
type List struct {
	// IDs holds the valid, trimmed, de-duplicated identifiers in canonical order.
	IDs []string

	// Invalid holds one *ValidationError per rejected entry.
	Invalid []error

	// Duplicates holds raw entries that collapsed onto an identity already
	// in IDs, such as "100.0" next to "100".
	Duplicates []string
}

// ParseList splits a comma or newline separated list of identifiers.
// Surrounding whitespace is stripped from each entry and empty entries are
// skipped; whitespace inside an entry makes it invalid.
//
//	ParseList("100, 100.0\n710!1").IDs == []string{"100", "710!1"}
func ParseList(text string) List {
	var fields []string
	for _, f := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}

	var l List
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !Validate(f) {
			l.Invalid = append(l.Invalid, &ValidationError{Input: f})
			continue
		}
		id := Trim(f)
		if seen[id] {
			l.Duplicates = append(l.Duplicates, f)
			continue
		}
		seen[id] = true
		l.IDs = append(l.IDs, id)
	}

	Sort(l.IDs)
	return l
}
