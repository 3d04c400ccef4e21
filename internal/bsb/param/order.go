package param

import (
	"sort"
	"strings"
)

// Code returns the sort key of an identifier:
// destination, then the parameter zero-padded to five digits, then the address.
//
//	"20200.1!2" -> "220200.1"
//	"100"       -> "000100.0"
func Code(s string) string {
	dest := Destination(s)
	if dest == "" {
		dest = "0"
	}

	address := "0"
	if i := strings.IndexByte(ID(s), '.'); i >= 0 {
		address = ID(s)[i+1:]
	}

	parameter := BaseID(s)
	if n := 5 - len(parameter); n > 0 {
		parameter = strings.Repeat("0", n) + parameter
	}

	return dest + parameter + "." + address
}

// Compare orders two identifiers by Code. It returns -1, 0 or +1.
func Compare(a, b string) int {
	return strings.Compare(Code(a), Code(b))
}

// Sort orders ids in place by Compare.
func Sort(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return Compare(ids[i], ids[j]) < 0
	})
}
