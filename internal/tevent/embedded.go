package tevent

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tevent/internal/threadlocal"
)

// Embedded is the constrained mode. It keeps no process-wide register: each
// (thread, context) pair owns a slot in thread-local storage, and the context
// itself is the handler arg. The first handler registered for a pair asks the
// Host to report when the thread stops; the host's callback stops the context.
//
// The host callback may run on any goroutine, for example during a host
// registry teardown, so slots are only touched under mu. Handlers fire after
// their slot has been detached, without mu held.
type Embedded struct {
	cfg       EmbeddedConfig
	log       zerolog.Logger
	publisher EventPublisher
	metrics   *Metrics

	mu sync.Mutex
	// tls maps (thread, context) to its *slot.
	tls *threadlocal.Key
	// active marks (thread, context) pairs whose host handler is still
	// registered. It outlives the slot: an explicit StopContext does not
	// unregister from the host, so a later Start reuses the same upcall.
	active *threadlocal.Key
}

// NewEmbedded constructs an Embedded notifier.
func NewEmbedded(cfg EmbeddedConfig) *Embedded {
	return &Embedded{
		cfg:       cfg,
		log:       loggerOrNop(cfg.Logger, "tevent.embedded"),
		publisher: publisherOrNoop(cfg.Publisher),
		metrics:   cfg.Metrics,
		tls:       threadlocal.NewKey(nil),
		active:    threadlocal.NewKey(nil),
	}
}

func checkContext(t *threadlocal.Thread, ctx any) error {
	switch {
	case t == nil:
		return ErrNilThread
	case ctx == nil:
		return ErrNilContext
	case !threadlocal.Comparable(ctx):
		return ErrContextNotComparable
	}
	return nil
}

// NewContext allocates the slot for ctx on the creating thread t. With
// ActivateOnCreate the host is notified right away; with ActivateDeferred the
// caller must call Activate once the host can accept upcalls.
func (e *Embedded) NewContext(t *threadlocal.Thread, ctx any) error {
	if err := checkContext(t, ctx); err != nil {
		return err
	}
	e.mu.Lock()
	_, err := e.slotFor(t, ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if e.cfg.Activation == ActivateOnCreate {
		if err := e.Activate(t, ctx); err != nil {
			e.FreeContext(t, ctx)
			return err
		}
	}
	return nil
}

// Activate asks the host to report when t stops, on behalf of ctx. It is
// idempotent until the host reports the stop.
func (e *Embedded) Activate(t *threadlocal.Thread, ctx any) error {
	if err := checkContext(t, ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.activeSlot(t, ctx)
	return err
}

// activeSlot returns the (t, ctx) slot once the host holds a handler for the
// pair. e.mu must be held; it is released around the host upcall, because
// the host may call back into e while holding its own lock.
func (e *Embedded) activeSlot(t *threadlocal.Thread, ctx any) (*slot, error) {
	for {
		s, err := e.slotFor(t, ctx)
		if err != nil {
			return nil, err
		}
		if t.GetEx(e.active, ctx) != nil {
			return s, nil
		}
		if e.cfg.Host == nil {
			return nil, ErrHostUnavailable
		}
		e.mu.Unlock()
		err = e.cfg.Host.ThreadStart(t, func(arg any) { e.hostStop(t, arg) }, ctx)
		e.mu.Lock()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHostUnavailable, err)
		}
		if e.lookup(t, ctx) != s {
			// the new host handler already fired and took s with it
			continue
		}
		if err := t.SetEx(e.active, ctx, true); err != nil {
			return nil, fmt.Errorf("mark context active: %w", err)
		}
		e.publisher.Publish(Event{Name: EventHostNotified, Thread: t.ID()})
		e.log.Debug().Uint64("thread", t.ID()).Msg("host notified")
		return s, nil
	}
}

// FreeContext drops the (t, ctx) slot without firing its handlers.
func (e *Embedded) FreeContext(t *threadlocal.Thread, ctx any) {
	if checkContext(t, ctx) != nil {
		return
	}
	e.mu.Lock()
	s := e.detach(t, ctx)
	e.mu.Unlock()
	if s != nil {
		e.metrics.slotRemoved()
		e.metrics.handlersDeregistered(len(s.handlers))
	}
}

func (e *Embedded) lookup(t *threadlocal.Thread, ctx any) *slot {
	s, _ := t.GetEx(e.tls, ctx).(*slot)
	return s
}

// slotFor returns the (t, ctx) slot, creating it on first use. e.mu must be held.
func (e *Embedded) slotFor(t *threadlocal.Thread, ctx any) (*slot, error) {
	if s := e.lookup(t, ctx); s != nil {
		return s, nil
	}
	s := newSlot(t)
	if err := t.SetEx(e.tls, ctx, s); err != nil {
		return nil, fmt.Errorf("set context slot: %w", err)
	}
	e.metrics.slotAdded()
	e.publisher.Publish(Event{Name: EventSlotCreated, Thread: t.ID()})
	return s, nil
}

// detach removes the (t, ctx) slot from t and returns it. e.mu must be held.
func (e *Embedded) detach(t *threadlocal.Thread, ctx any) *slot {
	s := e.lookup(t, ctx)
	if s != nil {
		_ = t.SetEx(e.tls, ctx, nil)
	}
	return s
}

// Start registers fn to be called with arg when the context arg is stopped
// on t or when t stops. key is ignored: the (thread, context) slot plays its
// role. arg must be non-nil and comparable with ==. The first registration
// on a pair notifies the host.
func (e *Embedded) Start(t *threadlocal.Thread, _ *Key, arg any, fn StopHandler) (err error) {
	defer func() {
		if err != nil {
			e.metrics.startFailed(err)
			e.log.Debug().Err(err).Msg("start failed")
		}
	}()
	if t == nil {
		return ErrNilThread
	}
	if fn == nil {
		return ErrNilHandler
	}
	if err := checkContext(t, arg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.activeSlot(t, arg)
	if err != nil {
		return err
	}
	if limit := e.cfg.MaxHandlersPerSlot; limit > 0 && len(s.handlers) >= limit {
		return fmt.Errorf("%w: thread %d already has %d handlers", ErrCapacity, t.ID(), len(s.handlers))
	}
	s.push(&handler{arg: arg, fn: fn})
	e.metrics.handlerRegistered()
	e.publisher.Publish(Event{Name: EventHandlerRegistered, Thread: t.ID()})
	return nil
}

// StopContext clears the (t, ctx) slot and fires its handlers, most recent
// first. The host handler for the pair stays registered.
func (e *Embedded) StopContext(t *threadlocal.Thread, ctx any) {
	if checkContext(t, ctx) != nil {
		return
	}
	e.mu.Lock()
	s := e.detach(t, ctx)
	e.mu.Unlock()
	e.release(ctx, s)
}

// hostStop is the callback handed to the host: its handler is consumed, so
// the next Start on the pair upcalls again.
func (e *Embedded) hostStop(t *threadlocal.Thread, ctx any) {
	e.mu.Lock()
	_ = t.SetEx(e.active, ctx, nil)
	s := e.detach(t, ctx)
	e.mu.Unlock()
	e.release(ctx, s)
}

// release fires the handlers of a detached slot.
func (e *Embedded) release(ctx any, s *slot) {
	if s == nil {
		return
	}
	n := fire(ctx, s, func(*handler) {
		e.publisher.Publish(Event{Name: EventHandlerFired, Thread: s.thread, Fields: map[string]any{"reason": reasonContextStop}})
	})
	e.metrics.handlersFired(reasonContextStop, n)
	e.metrics.slotRemoved()
	e.publisher.Publish(Event{Name: EventSlotReleased, Thread: s.thread, Fields: map[string]any{"fired": n}})
}

// StopThread stops every context that holds a slot on t.
func (e *Embedded) StopThread(t *threadlocal.Thread) {
	if t == nil {
		return
	}
	e.mu.Lock()
	scopes := t.Scopes(e.tls)
	e.mu.Unlock()
	for _, ctx := range scopes {
		e.StopContext(t, ctx)
	}
}
