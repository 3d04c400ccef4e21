package bsblan

import "errors"

// Domain errors for the bsblan bridge package.
var (
	// ErrMissingDependency is returned by NewBridge when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("bsblan: missing dependency")

	// ErrNotRunning is returned when an operation needs a started bridge.
	ErrNotRunning = errors.New("bsblan: bridge not running")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("bsblan: bridge already started")

	// ErrUnknownParameter is returned for commands addressing a parameter
	// that has no local object.
	ErrUnknownParameter = errors.New("bsblan: unknown parameter")

	// ErrUnknownState is returned when decoding an unrecognised state name.
	ErrUnknownState = errors.New("bsblan: unknown state")
)

// WarningKind names a non-fatal reconciliation finding. Warnings are
// logged with a "warning" attribute and never returned as errors.
type WarningKind string

// Reconciliation warnings.
const (
	// WarnValueNotFound: a configured parameter is missing from every
	// category definition map.
	WarnValueNotFound WarningKind = "value_not_found"

	// WarnDuplicateAddress: two configured entries resolve to the same
	// parameter identity or object.
	WarnDuplicateAddress WarningKind = "duplicate_address"

	// WarnStaleObject: an object ID contains characters the current
	// sanitiser would not produce and should be deleted by hand.
	WarnStaleObject WarningKind = "stale_object"
)
