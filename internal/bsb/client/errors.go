package client

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the device client.
var (
	// ErrHostRequired is returned by New when no device host is configured.
	ErrHostRequired = errors.New("client: host is required")

	// ErrTransport marks network, timeout, HTTP status and decode failures.
	// These are retried before being returned.
	ErrTransport = errors.New("client: transport failure")

	// ErrWriteRejected marks a write the device answered with status 0 or 2.
	ErrWriteRejected = errors.New("client: write rejected")

	// ErrUnsupported is returned for endpoints the firmware does not provide.
	ErrUnsupported = errors.New("client: not supported by firmware")
)

// TransportError is returned after all attempts of a request failed.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client: %s %s failed after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.Err)
}

// Unwrap exposes both ErrTransport and the last underlying failure.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// HTTPStatusError is a non-2xx answer from the device.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("device returned HTTP %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// WriteStatus is the per-parameter result code of a write.
type WriteStatus int

// Write status codes from /JS.
const (
	StatusError    WriteStatus = 0
	StatusOK       WriteStatus = 1
	StatusReadOnly WriteStatus = 2
)

func (s WriteStatus) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusOK:
		return "ok"
	case StatusReadOnly:
		return "readonly"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WriteRejectedError carries the raw device answer of a refused write.
// It is never retried.
type WriteRejectedError struct {
	ID     string
	Status WriteStatus
	Raw    string
}

func (e *WriteRejectedError) Error() string {
	if e.Status == StatusReadOnly {
		return fmt.Sprintf("client: write to read-only parameter %s rejected: %s", e.ID, e.Raw)
	}
	return fmt.Sprintf("client: write to parameter %s failed: %s", e.ID, e.Raw)
}

// Unwrap allows errors.Is(err, ErrWriteRejected).
func (e *WriteRejectedError) Unwrap() error {
	return ErrWriteRejected
}

// ReadOnly reports whether the device refused because the parameter is read-only.
func (e *WriteRejectedError) ReadOnly() bool {
	return e.Status == StatusReadOnly
}
