package bsb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DataType is the device's classification of a parameter value.
type DataType int

// Data types as reported in the "dataType" field.
const (
	TypeNumber DataType = iota
	TypeEnum
	TypeBitmask
	TypeWeekday
	TypeTime
	TypeDateTime
	TypeDayMonth
	TypeString
	TypeTimeTuple
	TypeTimeProgram
)

var dataTypeNames = map[DataType]string{
	TypeNumber:      "number",
	TypeEnum:        "enum",
	TypeBitmask:     "bitmask",
	TypeWeekday:     "weekday",
	TypeTime:        "time",
	TypeDateTime:    "datetime",
	TypeDayMonth:    "daymonth",
	TypeString:      "string",
	TypeTimeTuple:   "timetuple",
	TypeTimeProgram: "timeprogram",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Numeric reports whether values of this type are parsed as numbers.
func (t DataType) Numeric() bool {
	return t == TypeNumber || t == TypeEnum
}

// StorageType is the type of a value in the local object store.
type StorageType string

// Storage types.
const (
	StorageNumber  StorageType = "number"
	StorageString  StorageType = "string"
	StorageBoolean StorageType = "boolean"
)

// StorageType maps a data type onto the local store. Enums are stored by
// their numeric enumValue with the labels kept in the object's states.
func (t DataType) StorageType() StorageType {
	if t.Numeric() {
		return StorageNumber
	}
	return StorageString
}

// Text is a JSON value that the device sends either as a string or as a
// number. It always holds the textual form.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bsb: expected string or number, got %s", data)
	}
	*t = Text(n.String())
	return nil
}

// Flag is a boolean the device sends as 0/1, "0"/"1" or true/false.
type Flag bool

// UnmarshalJSON accepts booleans, numbers and numeric strings.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}

	var t Text
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	switch string(t) {
	case "", "0", "false":
		*f = false
	default:
		*f = true
	}
	return nil
}

// Bool returns the flag as a plain bool.
func (f *Flag) Bool() bool {
	return f != nil && bool(*f)
}

// PossibleValue is one label of an enumerated parameter.
type PossibleValue struct {
	EnumValue Text   `json:"enumValue"`
	Desc      string `json:"desc"`
}

// CategoryDescriptor groups parameters by numeric range (from /JK=ALL).
type CategoryDescriptor struct {
	Name string `json:"name"`
	Min  int    `json:"min"`
	Max  int    `json:"max"`
}

// ParameterDefinition is the metadata of one parameter (from /JK={cat} or /JC).
type ParameterDefinition struct {
	Name           string          `json:"name"`
	DataType       DataType        `json:"dataType"`
	PossibleValues []PossibleValue `json:"possibleValues,omitempty"`
	Unit           string          `json:"unit"`

	// Readonly is only reported by firmware v2 and later.
	Readonly *Flag `json:"readonly,omitempty"`
}

// States returns the enum labels keyed by enumValue, or nil when there are none.
func (d *ParameterDefinition) States() map[string]string {
	if d == nil || len(d.PossibleValues) == 0 {
		return nil
	}
	states := make(map[string]string, len(d.PossibleValues))
	for _, pv := range d.PossibleValues {
		states[string(pv.EnumValue)] = pv.Desc
	}
	return states
}

// ParameterValue is the current value snapshot of one parameter (from /JQ).
type ParameterValue struct {
	Name  string `json:"name"`
	Value Text   `json:"value"`
	Unit  string `json:"unit"`
	Desc  string `json:"desc,omitempty"`

	// Reported by firmware v2 and later.
	DataType *DataType `json:"dataType,omitempty"`
	Readonly *Flag     `json:"readonly,omitempty"`
}
