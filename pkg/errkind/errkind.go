// Package errkind classifies task and transport errors into a fixed taxonomy so
// retry and compensation policy can switch on a kind instead of a string.
package errkind

import "errors"

// Kind is one of the error taxonomy entries. It is a closed set deliberately:
// policy code should exhaustively switch on it rather than grow new cases ad hoc.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindAuth
	KindValidation
	KindResource
	KindIntegrity
	KindBuild
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindIntegrity:
		return "integrity"
	case KindBuild:
		return "build"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry loop should ever reconsider an error of
// this kind. Auth and validation errors short-circuit straight to compensation.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindResource:
		return true
	case KindBuild:
		return true // caller must still check the wrapped cause is transient
	default:
		return false
	}
}

// TaskError wraps an error with its taxonomy kind.
type TaskError struct {
	Kind Kind
	Err  error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TaskError) Unwrap() error { return e.Err }

// Wrap annotates err with a taxonomy kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to KindUnknown if err
// was never classified.
func KindOf(err error) Kind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
