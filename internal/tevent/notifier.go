package tevent

import "tevent/internal/threadlocal"

// Notifier is the registration surface other subsystems use. Registry and
// Embedded are the two implementations.
type Notifier interface {
	// Start registers fn to be called with arg when t stops (or when the
	// context arg is stopped on t). key is ignored by Embedded.
	Start(t *threadlocal.Thread, key *Key, arg any, fn StopHandler) error
	// StopThread fires and removes every handler registered on t.
	StopThread(t *threadlocal.Thread)
	// StopContext fires and removes handlers registered on t with arg == ctx.
	StopContext(t *threadlocal.Thread, ctx any)
}

// Host is asked by Embedded to call fn(arg) when t stops. *Registry is a Host.
type Host interface {
	ThreadStart(t *threadlocal.Thread, fn StopHandler, arg any) error
}

var (
	_ Notifier = (*Registry)(nil)
	_ Notifier = (*Embedded)(nil)
	_ Host     = (*Registry)(nil)
)
