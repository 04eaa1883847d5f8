package tevent

import (
	"errors"

	"tevent/internal/threadlocal"
)

var (
	// ErrUninitialized means the registry was never initialized (Init not
	// called, or the one-shot register creation failed).
	ErrUninitialized = errors.New("tevent: registry not initialized")
	// ErrDestroyed means Cleanup already ran. The registry cannot be reused.
	ErrDestroyed = errors.New("tevent: registry destroyed")
	// ErrCapacity means a configured slot or handler limit was reached.
	ErrCapacity = errors.New("tevent: capacity exhausted")
	// ErrNilHandler is returned by Start for a nil callback.
	ErrNilHandler = errors.New("tevent: nil handler")
	// ErrNilThread is returned when no thread handle is supplied.
	ErrNilThread = errors.New("tevent: nil thread")
	// ErrNilKey is returned by Deregister for a nil key.
	ErrNilKey = errors.New("tevent: nil key")
	// ErrNilContext is returned by Embedded when no context is supplied.
	ErrNilContext = errors.New("tevent: nil context")
	// ErrHostUnavailable means the embedded host refused or is missing.
	ErrHostUnavailable = errors.New("tevent: host thread-start unavailable")
	// ErrContextNotComparable is returned when a handler arg or context
	// cannot be compared with ==, for example a struct holding a slice.
	ErrContextNotComparable = errors.New("tevent: context is not comparable")
)

// IsUninitialized reports whether err indicates the registry is not usable yet.
func IsUninitialized(err error) bool { return errors.Is(err, ErrUninitialized) }

// IsDestroyed reports whether err indicates the registry was torn down.
func IsDestroyed(err error) bool { return errors.Is(err, ErrDestroyed) }

// IsCapacity reports whether err indicates a configured limit was hit.
func IsCapacity(err error) bool { return errors.Is(err, ErrCapacity) }

// IsThreadExited reports whether err came from registering on a stopped thread.
func IsThreadExited(err error) bool { return errors.Is(err, threadlocal.ErrThreadExited) }

// IsContextNotComparable reports whether err came from an uncomparable context.
func IsContextNotComparable(err error) bool { return errors.Is(err, ErrContextNotComparable) }
