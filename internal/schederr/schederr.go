// Package schederr defines the error kinds shared by the group tree, the
// CPU scheduler, the NUMA placement controller, and the memory scheduler
// interface.
package schederr

import "errors"

// Sentinel error kinds. Callers classify an error with errors.Is against
// these, never by inspecting a concrete type.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLimitExceeded   = errors.New("limit exceeded")
	ErrBusy            = errors.New("busy")
	ErrAdmissionDenied = errors.New("admission denied")
	ErrNoMemory        = errors.New("no memory")
	ErrNoFreeHandles   = errors.New("no free handles")
	ErrBadState        = errors.New("bad state")
	ErrTimeout         = errors.New("timeout")
	ErrInterrupted     = errors.New("interrupted")
)

// IsAny reports whether err matches any of targets via errors.Is.
func IsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// Kind classifies err into one of the kind strings from spec §7, or ""
// if err is nil, or "unknown" if it matches no known sentinel.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid-argument"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrAlreadyExists):
		return "already-exists"
	case errors.Is(err, ErrLimitExceeded):
		return "limit-exceeded"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrAdmissionDenied):
		return "admission-denied"
	case errors.Is(err, ErrNoMemory):
		return "no-memory"
	case errors.Is(err, ErrNoFreeHandles):
		return "no-free-handles"
	case errors.Is(err, ErrBadState):
		return "bad-state"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	default:
		return "unknown"
	}
}
