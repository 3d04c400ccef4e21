package client

import (
	"strconv"
	"strings"
)

// Generation is the API family of the gateway firmware.
type Generation int

// Firmware generations.
const (
	// GenerationV1 firmware has no /JC or /JI, does not report readonly
	// flags and serves 24h averages from /JA.
	GenerationV1 Generation = 1

	// GenerationV2 firmware reports readonly flags and definitions by id,
	// and keeps 24h averages as ordinary parameters from 20050 on.
	GenerationV2 Generation = 2
)

// FirmwareProfile is resolved once from /JV and decides which endpoints
// the client uses.
type FirmwareProfile struct {
	// APIVersion is the raw api_version, empty on v1 firmware.
	APIVersion string
	Generation Generation
}

// profileFromVersion maps the api_version field onto a profile. A missing
// field means v1.
func profileFromVersion(apiVersion string) FirmwareProfile {
	apiVersion = strings.TrimSpace(apiVersion)
	p := FirmwareProfile{APIVersion: apiVersion, Generation: GenerationV1}
	if apiVersion == "" {
		return p
	}
	major, _, _ := strings.Cut(apiVersion, ".")
	if n, err := strconv.Atoi(major); err == nil && n >= 2 {
		p.Generation = GenerationV2
	}
	return p
}

// V2 reports whether the firmware speaks the v2 API.
func (p FirmwareProfile) V2() bool {
	return p.Generation >= GenerationV2
}

func (p FirmwareProfile) String() string {
	if p.APIVersion == "" {
		return "v1"
	}
	return "v" + strconv.Itoa(int(p.Generation)) + " (api " + p.APIVersion + ")"
}
