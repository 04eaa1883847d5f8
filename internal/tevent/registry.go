package tevent

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tevent/internal/threadlocal"
)

// Registry is the full-library mode. Each thread gets one slot, kept in its
// thread-local storage, and every live slot is also listed in a process-wide
// register so Deregister and Cleanup can reach threads other than the caller.
//
// A single RWMutex guards the register and every slot's handler list. Firing,
// deregistration, registration and teardown all take it for writing, so a
// handler is observed by exactly one of them.
type Registry struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher
	metrics   *Metrics
	hostKey   *Key

	once    sync.Once
	initErr error

	mu    sync.RWMutex
	state State
	slots []*slot

	// tls is nil before Init and after Cleanup; thread exits are no-ops then.
	tlsMu sync.RWMutex
	tls   *threadlocal.Key
	torn  bool

	registered   atomic.Uint64
	fired        atomic.Uint64
	deregistered atomic.Uint64
}

// NewRegistry constructs a Registry. Call Init before the first Start.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:       cfg,
		log:       loggerOrNop(cfg.Logger, "tevent.registry"),
		publisher: publisherOrNoop(cfg.Publisher),
		metrics:   cfg.Metrics,
		hostKey:   NewKey("host"),
		state:     StateUninitialized,
	}
}

// Init installs the thread-local slot key and its thread-exit destructor.
// It is idempotent while the registry is alive and fails with ErrDestroyed
// after Cleanup.
func (r *Registry) Init() error {
	r.tlsMu.Lock()
	defer r.tlsMu.Unlock()
	if r.torn {
		r.log.Error().Msg("init after teardown refused")
		return ErrDestroyed
	}
	if r.tls == nil {
		r.tls = threadlocal.NewKey(r.threadDestructor)
	}
	return nil
}

// State returns the lifecycle state of the slot register.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// HostKey is the key under which ThreadStart registers handlers.
func (r *Registry) HostKey() *Key { return r.hostKey }

func (r *Registry) key() (*threadlocal.Key, error) {
	r.tlsMu.RLock()
	defer r.tlsMu.RUnlock()
	if r.tls != nil {
		return r.tls, nil
	}
	if r.torn {
		return nil, ErrDestroyed
	}
	return nil, ErrUninitialized
}

// liveKey returns the slot key, or nil when thread-local state is not in use.
func (r *Registry) liveKey() *threadlocal.Key {
	k, _ := r.key()
	return k
}

// createRegister moves the register from uninitialized to ready exactly once.
// A failure is permanent.
func (r *Registry) createRegister() error {
	r.once.Do(func() {
		if err := r.cfg.validate(); err != nil {
			r.initErr = err
			r.log.Error().Err(err).Msg("slot register creation failed")
			return
		}
		r.mu.Lock()
		if r.state == StateUninitialized {
			r.state = StateReady
			r.slots = make([]*slot, 0)
		}
		r.mu.Unlock()
	})
	if r.initErr != nil {
		return fmt.Errorf("%w: %v", ErrUninitialized, r.initErr)
	}
	return nil
}

// Start registers fn to be called with arg when t stops, when arg is stopped
// as a context on t, or when the registry is torn down. Handlers registered
// under key can be removed from every thread with Deregister(key); key may
// be nil. arg must be comparable with ==. On error nothing is registered and
// t's existing handlers are intact.
func (r *Registry) Start(t *threadlocal.Thread, key *Key, arg any, fn StopHandler) (err error) {
	defer func() {
		if err != nil {
			r.metrics.startFailed(err)
			if IsDestroyed(err) {
				r.log.Error().Err(err).Str("key", key.String()).Msg("start after teardown")
			} else {
				r.log.Debug().Err(err).Str("key", key.String()).Msg("start failed")
			}
		}
	}()
	if t == nil {
		return ErrNilThread
	}
	if fn == nil {
		return ErrNilHandler
	}
	if !threadlocal.Comparable(arg) {
		return ErrContextNotComparable
	}
	tls, err := r.key()
	if err != nil {
		return err
	}
	s, err := r.slotFor(t, tls)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady {
		return ErrDestroyed
	}
	if limit := r.cfg.MaxHandlersPerSlot; limit > 0 && len(s.handlers) >= limit {
		return fmt.Errorf("%w: thread %d already has %d handlers", ErrCapacity, t.ID(), len(s.handlers))
	}
	s.push(&handler{key: key, arg: arg, fn: fn})
	r.registered.Add(1)
	r.metrics.handlerRegistered()
	r.publisher.Publish(Event{Name: EventHandlerRegistered, Thread: t.ID(), Fields: map[string]any{"key": key.String()}})
	return nil
}

// ThreadStart implements Host: fn(arg) runs when t stops or on teardown.
func (r *Registry) ThreadStart(t *threadlocal.Thread, fn StopHandler, arg any) error {
	return r.Start(t, r.hostKey, arg, fn)
}

// slotFor returns t's slot, creating it and adding it to the register on
// first use. A slot that cannot be registered is discarded.
func (r *Registry) slotFor(t *threadlocal.Thread, tls *threadlocal.Key) (*slot, error) {
	if s, ok := t.Get(tls).(*slot); ok {
		return s, nil
	}
	if err := r.createRegister(); err != nil {
		return nil, err
	}
	s := newSlot(t)
	if err := t.Set(tls, s); err != nil {
		return nil, fmt.Errorf("set thread slot: %w", err)
	}
	if err := r.pushSlot(s); err != nil {
		_ = t.Set(tls, nil)
		return nil, err
	}
	return s, nil
}

func (r *Registry) pushSlot(s *slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateUninitialized:
		return ErrUninitialized
	case StateDestroyed:
		return ErrDestroyed
	}
	if limit := r.cfg.MaxSlots; limit > 0 && len(r.slots) >= limit {
		r.log.Warn().Int("max_slots", limit).Uint64("thread", s.thread).Msg("slot limit reached")
		return fmt.Errorf("%w: %d slots in use", ErrCapacity, len(r.slots))
	}
	r.slots = append(r.slots, s)
	r.metrics.slotAdded()
	r.publisher.Publish(Event{Name: EventSlotCreated, Thread: s.thread})
	r.log.Debug().Uint64("thread", s.thread).Int("slots", len(r.slots)).Msg("slot created")
	return nil
}

// fireLocked runs fire on s and records the outcome. r.mu must be held.
func (r *Registry) fireLocked(filter any, s *slot, reason string) int {
	n := fire(filter, s, func(h *handler) {
		r.publisher.Publish(Event{Name: EventHandlerFired, Thread: s.thread, Fields: map[string]any{"key": h.key.String(), "reason": reason}})
	})
	r.fired.Add(uint64(n))
	r.metrics.handlersFired(reason, n)
	return n
}

// release fires every handler on s and drops s from the register.
func (r *Registry) release(s *slot) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// teardown has already fired and dropped every slot
	if r.state != StateReady {
		return
	}
	n := r.fireLocked(nil, s, reasonThreadStop)
	if i := slices.Index(r.slots, s); i >= 0 {
		r.slots = slices.Delete(r.slots, i, i+1)
		r.metrics.slotRemoved()
		r.publisher.Publish(Event{Name: EventSlotReleased, Thread: s.thread, Fields: map[string]any{"fired": n}})
		r.log.Debug().Uint64("thread", s.thread).Int("fired", n).Msg("slot released")
	}
}

func (r *Registry) threadDestructor(v any) {
	s, _ := v.(*slot)
	r.release(s)
}

// StopThread fires every handler registered on t, most recent first, and
// releases t's slot. Stopping a thread with no handlers does nothing.
func (r *Registry) StopThread(t *threadlocal.Thread) {
	if t == nil {
		return
	}
	tls := r.liveKey()
	if tls == nil {
		return
	}
	s, _ := t.Get(tls).(*slot)
	if s == nil {
		return
	}
	_ = t.Set(tls, nil)
	r.release(s)
}

// StopContext fires the handlers on t whose arg is ctx. The slot and its
// other handlers stay registered. A nil or uncomparable ctx is ignored; use
// StopThread to fire everything.
func (r *Registry) StopContext(t *threadlocal.Thread, ctx any) {
	if t == nil || ctx == nil || !threadlocal.Comparable(ctx) {
		return
	}
	tls := r.liveKey()
	if tls == nil {
		return
	}
	s, _ := t.Get(tls).(*slot)
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady {
		return
	}
	r.fireLocked(ctx, s, reasonContextStop)
}

// Deregister removes, without firing, every handler registered under key on
// every thread.
func (r *Registry) Deregister(key *Key) error {
	if key == nil {
		return ErrNilKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateUninitialized:
		return ErrUninitialized
	case StateDestroyed:
		return ErrDestroyed
	}
	n := 0
	for _, s := range r.slots {
		n += removeKey(key, s)
	}
	r.deregistered.Add(uint64(n))
	r.metrics.handlersDeregistered(n)
	r.publisher.Publish(Event{Name: EventHandlerDeregistered, Fields: map[string]any{"key": key.String(), "removed": n}})
	r.log.Debug().Str("key", key.String()).Int("removed", n).Msg("deregistered")
	return nil
}

// Cleanup tears the registry down: every remaining handler on every thread
// fires once (order across threads unspecified), all slots are dropped and
// the thread-local key is removed so threads exiting later do nothing.
// The registry cannot be used again afterwards.
func (r *Registry) Cleanup() {
	// a later Start must not create a fresh register
	r.once.Do(func() {})

	slots, fired, ok := r.sweep()
	if !ok {
		return
	}

	r.tlsMu.Lock()
	if r.tls != nil {
		r.tls.Cleanup()
		r.tls = nil
	}
	r.torn = true
	r.tlsMu.Unlock()

	r.publisher.Publish(Event{Name: EventTeardownDone, Fields: map[string]any{"slots": slots, "fired": fired}})
	r.log.Info().Int("slots", slots).Int("fired", fired).Msg("registry torn down")
}

func (r *Registry) sweep() (slots, fired int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return 0, 0, false
	}
	r.state = StateDestroyed
	all := r.slots
	r.slots = nil
	r.publisher.Publish(Event{Name: EventTeardownStart, Fields: map[string]any{"slots": len(all)}})
	for _, s := range all {
		fired += r.fireLocked(nil, s, reasonTeardown)
		r.metrics.slotRemoved()
	}
	return len(all), fired, true
}

// Snapshot returns a read-only view of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		State:             r.state,
		Slots:             len(r.slots),
		RegisteredTotal:   r.registered.Load(),
		FiredTotal:        r.fired.Load(),
		DeregisteredTotal: r.deregistered.Load(),
	}
	for _, s := range r.slots {
		snap.Handlers += len(s.handlers)
	}
	return snap
}
