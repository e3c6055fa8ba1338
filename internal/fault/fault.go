package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by the mind's engines or its store.
type Kind int

const (
	KindPrecondition Kind = iota + 1
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is against any *Error of the matching kind.
var (
	ErrPrecondition = errors.New("precondition failed")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
)

// Error carries the failing operation and its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrPrecondition:
		return e.Kind == KindPrecondition
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrStorage:
		return e.Kind == KindStorage
	}
	return false
}

// NotInitialized reports an operation invoked before Initialize.
func NotInitialized(op string) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: errors.New("engine not initialized")}
}

// NotFound reports a missing memory or record.
func NotFound(op, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%q", id)}
}

// Storage wraps an underlying store error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
