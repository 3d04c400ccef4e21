package object

import (
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
)

// Type distinguishes value-carrying objects from grouping objects.
type Type string

// Object types.
const (
	TypeState   Type = "state"
	TypeChannel Type = "channel"
)

// Valid reports whether t is a known object type.
func (t Type) Valid() bool {
	return t == TypeState || t == TypeChannel
}

// Object is one entry of the local store.
type Object struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Common Common `json:"common"`
	Native Native `json:"native"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Common is the descriptor shown to users: name, value type, access.
type Common struct {
	Name  string          `json:"name"`
	Type  bsb.StorageType `json:"type,omitempty"`
	Role  string          `json:"role,omitempty"`
	Read  bool            `json:"read"`
	Write bool            `json:"write"`
	Unit  string          `json:"unit,omitempty"`

	// States maps enum values to labels. nil means "no states"; an empty
	// non-nil map is a leftover that reconciliation clears.
	States map[string]string `json:"states"`
}

// Native is the device-side payload of a parameter object.
type Native struct {
	// ID is the trimmed parameter id, destination included.
	ID  string                   `json:"id,omitempty"`
	BSB *bsb.ParameterDefinition `json:"bsb,omitempty"`
}

// IsParameter reports whether the object mirrors a device parameter.
func (o *Object) IsParameter() bool {
	return o != nil && o.Native.ID != "" && o.Native.BSB != nil
}

// DeepCopy creates an independent copy of the object. Maps, slices and
// pointers are cloned so the cache can hand out copies safely.
func (o *Object) DeepCopy() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Common.States != nil {
		cp.Common.States = maps.Clone(o.Common.States)
	}
	if o.Native.BSB != nil {
		def := *o.Native.BSB
		def.PossibleValues = slices.Clone(o.Native.BSB.PossibleValues)
		if o.Native.BSB.Readonly != nil {
			ro := *o.Native.BSB.Readonly
			def.Readonly = &ro
		}
		cp.Native.BSB = &def
	}
	return &cp
}

// State is the current value of an object.
//
// Ack is true when the value came from the device and false when it is a
// requested change that has not been confirmed yet.
type State struct {
	Value     any       `json:"val"`
	Ack       bool      `json:"ack"`
	Timestamp time.Time `json:"ts"`
}

// StateChange is delivered to listeners after every SetValue.
type StateChange struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Previous *State `json:"previous,omitempty"`
}

// Changed reports whether the value differs from the previous one.
func (c StateChange) Changed() bool {
	return c.Previous == nil || !reflect.DeepEqual(c.Previous.Value, c.State.Value)
}
