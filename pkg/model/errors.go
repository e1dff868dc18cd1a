package model

import "errors"

// ErrorKind classifies a failure per the propagation policy: everything
// except fatalInternal is recovered locally and never escapes the
// scheduler loop.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindProbeUnavailable
	KindPathDenied
	KindFormatError
	KindIntegrityError
	KindResourceError
	KindFatalInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindProbeUnavailable:
		return "probe_unavailable"
	case KindPathDenied:
		return "path_denied"
	case KindFormatError:
		return "format_error"
	case KindIntegrityError:
		return "integrity_error"
	case KindResourceError:
		return "resource_error"
	case KindFatalInternal:
		return "fatal_internal"
	default:
		return "unknown"
	}
}

// KindError wraps an underlying cause with a classification so callers
// can decide whether to skip, degrade, or quarantine.
type KindError struct {
	Kind  ErrorKind
	Cause error
}

func (e *KindError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *KindError) Unwrap() error { return e.Cause }

// Wrap annotates an error with a kind. A nil cause returns nil.
func Wrap(kind ErrorKind, cause error) error {
	if cause == nil {
		return nil
	}
	return &KindError{Kind: kind, Cause: cause}
}

// KindOf extracts the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

var (
	// ErrInvariantViolation marks a corrupted in-memory model (e.g. a
	// registered Map with refcount 0). Fatal: the caller should abort
	// the process rather than continue mutating bad state.
	ErrInvariantViolation = errors.New("model: invariant violation")

	// ErrUnknownExe is returned when a path has no tracked Exe.
	ErrUnknownExe = errors.New("model: unknown exe")

	// ErrUnknownMap is returned when a seq does not resolve to a registered Map.
	ErrUnknownMap = errors.New("model: unknown map")

	// ErrMarkovSelfPair is returned when a Markov is requested between an Exe and itself.
	ErrMarkovSelfPair = errors.New("model: markov pair must have distinct endpoints")
)
