package tevent

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config encapsulates all tunables for Registry construction.
// Zero limits mean "unlimited".
type Config struct {
	// MaxSlots caps how many threads may hold a slot at once.
	MaxSlots int
	// MaxHandlersPerSlot caps the handlers registered on one thread.
	MaxHandlersPerSlot int
	Logger             *zerolog.Logger
	Publisher          EventPublisher
	Metrics            *Metrics
}

func (c Config) validate() error {
	if c.MaxSlots < 0 {
		return fmt.Errorf("max slots must be >= 0, got %d", c.MaxSlots)
	}
	if c.MaxHandlersPerSlot < 0 {
		return fmt.Errorf("max handlers per slot must be >= 0, got %d", c.MaxHandlersPerSlot)
	}
	return nil
}

// Activation decides when an embedded context asks its host for thread-stop
// notification on the thread that created it.
type Activation int

const (
	// ActivateOnCreate performs the host upcall inside NewContext.
	ActivateOnCreate Activation = iota
	// ActivateDeferred waits for an explicit Activate call, for hosts that
	// are not ready to accept upcalls while the context is being built.
	ActivateDeferred
)

func (a Activation) String() string {
	switch a {
	case ActivateOnCreate:
		return "on_create"
	case ActivateDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// ParseActivation maps a config string to an Activation. Empty means on_create.
func ParseActivation(s string) (Activation, error) {
	switch s {
	case "", "on_create":
		return ActivateOnCreate, nil
	case "deferred":
		return ActivateDeferred, nil
	default:
		return 0, fmt.Errorf("unknown activation %q", s)
	}
}

// EmbeddedConfig encapsulates all tunables for Embedded construction.
type EmbeddedConfig struct {
	Host               Host
	Activation         Activation
	MaxHandlersPerSlot int
	Logger             *zerolog.Logger
	Publisher          EventPublisher
	Metrics            *Metrics
}

func loggerOrNop(l *zerolog.Logger, component string) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.With().Str("component", component).Logger()
}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
