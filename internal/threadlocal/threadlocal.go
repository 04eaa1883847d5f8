package threadlocal

import (
	"errors"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrThreadExited is returned by Set/SetEx once the thread has run its destructors.
	ErrThreadExited = errors.New("threadlocal: thread has exited")
	// ErrKeyCleanedUp is returned by Set/SetEx for a key that was cleaned up.
	ErrKeyCleanedUp = errors.New("threadlocal: key cleaned up")
	// ErrScopeNotComparable is returned by SetEx for a scope that cannot be
	// compared with ==, such as a struct holding a slice.
	ErrScopeNotComparable = errors.New("threadlocal: scope is not comparable")
)

// Comparable reports whether v can be compared with == without panicking.
// Interface-typed fields are checked against their dynamic values.
func Comparable(v any) bool {
	return v == nil || reflect.ValueOf(v).Comparable()
}

// Key identifies one thread-local variable. The zero value is not usable.
type Key struct {
	destructor func(any)
	dead       atomic.Bool
}

// NewKey creates a key. destructor may be nil.
func NewKey(destructor func(any)) *Key {
	return &Key{destructor: destructor}
}

// Cleanup tears the key down. Values already stored become unreachable and
// their destructor will not run on thread exit. Idempotent.
func (k *Key) Cleanup() { k.dead.Store(true) }

// Live reports whether the key has not been cleaned up.
func (k *Key) Live() bool { return k != nil && !k.dead.Load() }

type slotID struct {
	key   *Key
	scope any
}

type entry struct {
	id slotID
	v  any
}

var lastID atomic.Uint64

// Thread is an explicit handle standing in for an OS thread.
type Thread struct {
	id     uint64
	mu     sync.Mutex
	values map[slotID]any
	exited bool
	done   chan struct{}
}

// New returns a handle for the calling goroutine. The caller owns it and must
// call Exit when the work it represents ends.
func New() *Thread {
	return &Thread{
		id:     lastID.Add(1),
		values: make(map[slotID]any),
		done:   make(chan struct{}),
	}
}

// Go runs fn on a new goroutine locked to its OS thread and exits the handle
// when fn returns, including when fn panics.
func Go(fn func(*Thread)) *Thread {
	t := New()
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer t.Exit()
		fn(t)
	}()
	return t
}

// ID returns a process-unique identifier for the thread.
func (t *Thread) ID() uint64 { return t.id }

// Done returns a channel closed after Exit has run all destructors.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Exited reports whether Exit has been called.
func (t *Thread) Exited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Get returns the value stored under k, or nil.
func (t *Thread) Get(k *Key) any { return t.GetEx(k, nil) }

// Set stores v under k. A nil v clears the value without running the destructor.
func (t *Thread) Set(k *Key, v any) error { return t.SetEx(k, nil, v) }

// GetEx returns the value stored under (k, scope), or nil. An uncomparable
// scope never holds a value.
func (t *Thread) GetEx(k *Key, scope any) any {
	if !k.Live() || !Comparable(scope) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[slotID{key: k, scope: scope}]
}

// SetEx stores v under (k, scope). A nil v clears the value; clearing is
// still allowed while destructors run, storing is not.
func (t *Thread) SetEx(k *Key, scope any, v any) error {
	if !k.Live() {
		return ErrKeyCleanedUp
	}
	if !Comparable(scope) {
		return ErrScopeNotComparable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := slotID{key: k, scope: scope}
	if v == nil {
		delete(t.values, id)
		return nil
	}
	if t.exited {
		return ErrThreadExited
	}
	t.values[id] = v
	return nil
}

// Scopes returns every scope that currently holds a value under k.
func (t *Thread) Scopes(k *Key) []any {
	if !k.Live() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []any
	for id := range t.values {
		if id.key == k {
			out = append(out, id.scope)
		}
	}
	return out
}

// Exit marks the thread as stopped and runs destructors. Values stay
// readable until every destructor has returned, so a destructor may look up
// other values of the same thread. Only the first call does any work; later
// calls return immediately.
func (t *Thread) Exit() {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return
	}
	t.exited = true
	vals := make([]entry, 0, len(t.values))
	for id, v := range t.values {
		vals = append(vals, entry{id: id, v: v})
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		clear(t.values)
		t.mu.Unlock()
		close(t.done)
	}()
	for _, e := range vals {
		if e.v == nil || e.id.key.destructor == nil || !e.id.key.Live() {
			continue
		}
		e.id.key.destructor(e.v)
	}
}
