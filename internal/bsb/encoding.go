package bsb

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NoData is the device's placeholder for a value it cannot currently read.
const NoData = "---"

// programMarker matches the "1. ", " 2. " slot prefixes of a time program.
var programMarker = regexp.MustCompile(`(?:^|\s+)\d+\.\s+`)

// EncodeValue converts a value into the form the device expects on write.
//
//	EncodeValue("07:00", TypeTime)                 == "07.00"
//	EncodeValue("25.03.2021 20:47:53", TypeDateTime) == "25.03.2021_20:47:53"
//	EncodeValue("1. 04:12-21:00 2. --:-- - --:-- 3. --:-- - --:--", TypeTimeProgram)
//	    == "04:12-21:00_xx:xx-xx:xx_xx:xx-xx:xx"
//
// All other types are returned unchanged.
func EncodeValue(value string, t DataType) string {
	switch t {
	case TypeTime:
		return strings.ReplaceAll(value, ":", ".")
	case TypeDateTime:
		return strings.Replace(value, " ", "_", 1)
	case TypeTimeProgram:
		var slots []string
		for _, s := range programMarker.Split(value, -1) {
			if s = strings.TrimSpace(s); s != "" {
				slots = append(slots, s)
			}
		}
		out := strings.Join(slots, "_")
		out = strings.ReplaceAll(out, "--", "xx")
		return strings.ReplaceAll(out, " - ", "-")
	default:
		return value
	}
}

// ParseUnit decodes the HTML entities the device uses in unit strings.
func ParseUnit(raw string) string {
	return strings.NewReplacer("&deg;", "°", "&#037;", "%").Replace(raw)
}

// ParseNumber parses a numeric wire value. The no-data placeholder "---"
// reads as 0.
func ParseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == NoData {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

// DecodeValue converts a wire value into its stored form: a float64 for
// numeric and enum types, the raw string otherwise. A numeric value that
// does not parse is returned as the raw string.
func DecodeValue(raw string, t DataType) any {
	if !t.Numeric() {
		return raw
	}
	n, err := ParseNumber(raw)
	if err != nil {
		return raw
	}
	return n
}

// FormatValue renders a stored value as wire text before EncodeValue.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return strings.Trim(string(b), `"`)
	}
}
