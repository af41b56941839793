// Package crasderr defines the error-kind taxonomy of spec.md section 7,
// so callers can branch on kind (Transport/Resource/Protocol/Device/
// Fatal) without string matching, following the teacher's
// fmt.Errorf("...: %w", err) wrapping discipline.
package crasderr

import (
	"errors"
	"fmt"
)

// Kind is one of the five error categories named in spec.md section 7.
type Kind int

const (
	// Transport: socket read/write returned short, closed, or EAGAIN
	// past retry budget. Propagated as stream-level disconnect.
	Transport Kind = iota
	// Resource: shm attach/allocate/mmap failure, out of memory. Fatal
	// for the affected stream; server continues.
	Resource
	// Protocol: unknown message id, length mismatch, invalid direction,
	// invalid volume range. Logged; current message dropped; connection
	// kept.
	Protocol
	// Device: open failure, xrun, format negotiation failure. Device
	// moved to suspended state; streams reattached to fallback.
	Device
	// Fatal: fallback device creation failed, audio thread spawn
	// failed. Daemon exits nonzero.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Resource:
		return "resource"
	case Protocol:
		return "protocol"
	case Device:
		return "device"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, for local-recovery
// decisions at the finest grain (stream, then device, then daemon) per
// spec.md section 7.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is a crasderr.Error of
// the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
