package tevent

import "tevent/internal/threadlocal"

// State is the lifecycle of the process-wide slot register.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Key identifies a group of handlers so they can be removed from every
// thread at once with Registry.Deregister. Keys compare by identity.
type Key struct{ name string }

// NewKey returns a fresh key. name is only used in logs and events.
func NewKey(name string) *Key { return &Key{name: name} }

func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.name
}

// StopHandler is invoked with the arg it was registered with.
type StopHandler func(arg any)

// handler is one registered callback.
type handler struct {
	key *Key
	arg any
	fn  StopHandler
}

// slot is a thread's list of handlers. The most recently registered handler
// is at the end of the slice.
type slot struct {
	thread   uint64
	handlers []*handler
}

func newSlot(t *threadlocal.Thread) *slot { return &slot{thread: t.ID()} }

func (s *slot) push(h *handler) { s.handlers = append(s.handlers, h) }

// Snapshot is a read-only projection of a Registry.
type Snapshot struct {
	State             State
	Slots             int
	Handlers          int
	RegisteredTotal   uint64
	FiredTotal        uint64
	DeregisteredTotal uint64
}
