package bsblan

import (
	"regexp"
	"strings"

	"github.com/nerrad567/bsblan-bridge/internal/bsb"
	"github.com/nerrad567/bsblan-bridge/internal/object"
)

// Well-known object IDs.
const (
	// AveragesChannel groups the 24h average objects.
	AveragesChannel = "avg"

	// ConnectionObject holds the device connection health flag.
	ConnectionObject = "info.connection"

	infoPrefix = "info."
)

// unsafeRun matches characters an object name may not contain.
var unsafeRun = regexp.MustCompile(`[^\p{L}\p{N} _\-()!,/°%]+`)

// sanitizeName drops dots and replaces every run of unsupported
// characters with a single underscore.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, ".", "")
	return unsafeRun.ReplaceAllString(strings.TrimSpace(name), "_")
}

// ObjectID derives the local object identifier of a parameter:
//
//	ObjectID("Komfortsollwert Heizkreis 1", "710") == "Komfortsollwert Heizkreis 1 (710)"
func ObjectID(name, paramID string) string {
	return sanitizeName(name) + " (" + paramID + ")"
}

// AverageObjectID is the object holding the 24h average of a parameter.
func AverageObjectID(name, paramID string) string {
	return AveragesChannel + "." + ObjectID(name, paramID)
}

// staleObjectID reports whether the name part of a parameter object ID
// contains characters sanitizeName would not produce.
func staleObjectID(id string) bool {
	name := id
	if i := strings.LastIndex(id, " ("); i >= 0 && strings.HasSuffix(id, ")") {
		name = id[:i]
	}
	return sanitizeName(name) != name
}

// objectName is the display name of a parameter object.
func objectName(name, paramID string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), ".", "") + " (" + paramID + ")"
}

func roleFor(write bool) string {
	if write {
		return "level"
	}
	return "value"
}

// infoField describes one gateway info object.
type infoField struct {
	key     string
	name    string
	role    string
	valType bsb.StorageType
	unit    string
}

// infoFields is the fixed set of /JI keys mirrored into info.<key>.
var infoFields = []infoField{
	{key: "name", name: "Name of Device", role: "info.name", valType: bsb.StorageString},
	{key: "version", name: "Firmware Version", role: "info.version", valType: bsb.StorageString},
	{key: "freeram", name: "Free RAM", role: "value", valType: bsb.StorageNumber, unit: "byte"},
	{key: "uptime", name: "Uptime", role: "value", valType: bsb.StorageNumber, unit: "ms"},
	{key: "MAC", name: "MAC Address", role: "info.mac", valType: bsb.StorageString},
	{key: "bus", name: "Bus Type", role: "value", valType: bsb.StorageString},
	{key: "buswritable", name: "Can data be written on the bus", role: "value", valType: bsb.StorageNumber},
	{key: "busaddr", name: "Bus Address", role: "value", valType: bsb.StorageNumber},
	{key: "busdest", name: "Bus Destination", role: "value", valType: bsb.StorageNumber},
	{key: "monitor", name: "Monitor", role: "value", valType: bsb.StorageNumber},
	{key: "verbose", name: "Verbose Active", role: "value", valType: bsb.StorageNumber},
	{key: "logvalues", name: "Log Values", role: "value", valType: bsb.StorageNumber},
	{key: "loginterval", name: "Log Interval", role: "value", valType: bsb.StorageNumber},
}

func (f infoField) object() *object.Object {
	return &object.Object{
		ID:   infoPrefix + f.key,
		Type: object.TypeState,
		Common: object.Common{
			Name: f.name,
			Type: f.valType,
			Role: f.role,
			Read: true,
			Unit: f.unit,
		},
	}
}

func connectionObject() *object.Object {
	return &object.Object{
		ID:   ConnectionObject,
		Type: object.TypeState,
		Common: object.Common{
			Name: "Device connected",
			Type: bsb.StorageBoolean,
			Role: "indicator.connected",
			Read: true,
		},
	}
}

func averagesChannel() *object.Object {
	return &object.Object{
		ID:     AveragesChannel,
		Type:   object.TypeChannel,
		Common: object.Common{Name: "24h averages"},
	}
}

// parameterObject builds the object of a newly tracked parameter.
func parameterObject(paramID string, def bsb.ParameterDefinition, dataType bsb.DataType, write bool, unit string) *object.Object {
	def.DataType = dataType
	if unit == "" {
		unit = def.Unit
	}
	return &object.Object{
		ID:   ObjectID(def.Name, paramID),
		Type: object.TypeState,
		Common: object.Common{
			Name:   objectName(def.Name, paramID),
			Type:   dataType.StorageType(),
			Role:   roleFor(write),
			Read:   true,
			Write:  write,
			Unit:   bsb.ParseUnit(unit),
			States: def.States(),
		},
		Native: object.Native{ID: paramID, BSB: &def},
	}
}

// averageObject builds the object of one 24h average.
func averageObject(id, paramID string, v bsb.ParameterValue) *object.Object {
	return &object.Object{
		ID:   id,
		Type: object.TypeState,
		Common: object.Common{
			Name: objectName(v.Name, paramID) + " 24h",
			Type: bsb.StorageNumber,
			Role: "value",
			Read: true,
			Unit: bsb.ParseUnit(v.Unit),
		},
		Native: object.Native{ID: paramID},
	}
}
