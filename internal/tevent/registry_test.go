package tevent

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"tevent/internal/threadlocal"
)

func TestRegistry_StartBeforeInit(t *testing.T) {
	r := NewRegistry(Config{})
	th := newThread(t)
	err := r.Start(th, nil, "c", func(any) {})
	if !IsUninitialized(err) {
		t.Fatalf("expected ErrUninitialized, got %v", err)
	}
	if err := r.Deregister(NewKey("k")); !IsUninitialized(err) {
		t.Fatalf("Deregister before init: %v", err)
	}
	// stop without init is a no-op
	r.StopThread(th)
	r.StopContext(th, "c")
}

func TestRegistry_StartValidatesArgs(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	if err := r.Start(nil, nil, nil, func(any) {}); err != ErrNilThread {
		t.Fatalf("nil thread: %v", err)
	}
	if err := r.Start(th, nil, nil, nil); err != ErrNilHandler {
		t.Fatalf("nil handler: %v", err)
	}
	if err := r.Deregister(nil); err != ErrNilKey {
		t.Fatalf("nil key: %v", err)
	}
}

func TestRegistry_FiresMostRecentFirst(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	var log callLog
	if err := r.Start(th, nil, "ctx", log.handler("A")); err != nil {
		t.Fatalf("start A: %v", err)
	}
	if err := r.Start(th, nil, "ctx", log.handler("B")); err != nil {
		t.Fatalf("start B: %v", err)
	}
	r.StopThread(th)
	if got := log.names(); !slices.Equal(got, []string{"B", "A"}) {
		t.Fatalf("order = %v, want [B A]", got)
	}
	if snap := r.Snapshot(); snap.Slots != 0 || snap.Handlers != 0 {
		t.Fatalf("slot not released: %+v", snap)
	}
}

func TestRegistry_StopContextFiltersByArg(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	x, y := new(int), new(int)
	var log callLog
	_ = r.Start(th, nil, x, log.handler("X"))
	_ = r.Start(th, nil, y, log.handler("Y"))

	r.StopContext(th, x)
	if got := log.names(); !slices.Equal(got, []string{"X"}) {
		t.Fatalf("after StopContext(x) = %v", got)
	}
	if snap := r.Snapshot(); snap.Slots != 1 || snap.Handlers != 1 {
		t.Fatalf("slot should be kept with Y: %+v", snap)
	}
	r.StopContext(th, nil)
	if n := len(log.names()); n != 1 {
		t.Fatalf("nil ctx must not fire, fired %d", n)
	}
	r.StopThread(th)
	if got := log.names(); !slices.Equal(got, []string{"X", "Y"}) {
		t.Fatalf("after StopThread = %v", got)
	}
	if log.args[1] != y {
		t.Fatalf("Y fired with wrong arg")
	}
}

func TestRegistry_EmptyStopIsNoop(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	r.StopThread(th)
	r.StopThread(th)
	r.StopContext(th, "c")
	r.StopThread(nil)
	if snap := r.Snapshot(); snap.Slots != 0 || snap.State != StateUninitialized {
		t.Fatalf("empty stop must not allocate: %+v", snap)
	}
}

func TestRegistry_DeregisterRemovesWithoutFiring(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	k := NewKey("k")
	var log callLog
	_ = r.Start(th, k, "c", log.handler("F"))
	if err := r.Deregister(k); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	r.StopThread(th)
	if n := log.count("F"); n != 0 {
		t.Fatalf("deregistered handler fired %d times", n)
	}
	if snap := r.Snapshot(); snap.DeregisteredTotal != 1 || snap.FiredTotal != 0 {
		t.Fatalf("counters wrong: %+v", snap)
	}
}

func TestRegistry_DeregisterSweepsAllThreads(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	k, other := NewKey("k"), NewKey("other")
	var log callLog
	threads := []*threadlocal.Thread{newThread(t), newThread(t), newThread(t)}
	for _, th := range threads {
		_ = r.Start(th, k, "c", log.handler("k"))
		_ = r.Start(th, other, "c", log.handler("other"))
	}
	if err := r.Deregister(k); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	for _, th := range threads {
		th.Exit()
	}
	if log.count("k") != 0 || log.count("other") != 3 {
		t.Fatalf("calls = %v", log.names())
	}
	if snap := r.Snapshot(); snap.Slots != 0 {
		t.Fatalf("slots left after exits: %d", snap.Slots)
	}
}

func TestRegistry_EndToEnd(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	k1, k2 := NewKey("K1"), NewKey("K2")
	c1 := new(int)
	var f1, f2 atomic.Int32
	var f2arg atomic.Value

	registered := make(chan error, 1)
	release := make(chan struct{})
	th := threadlocal.Go(func(th *threadlocal.Thread) {
		if err := r.Start(th, k1, c1, func(any) { f1.Add(1) }); err != nil {
			registered <- err
			return
		}
		err := r.Start(th, k2, c1, func(arg any) {
			f2.Add(1)
			f2arg.Store(arg)
		})
		registered <- err
		<-release
	})
	if err := <-registered; err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Deregister(k1); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	close(release)
	waitDone(t, th)

	if f1.Load() != 0 {
		t.Fatalf("F1 fired %d times", f1.Load())
	}
	if f2.Load() != 1 {
		t.Fatalf("F2 fired %d times, want 1", f2.Load())
	}
	if f2arg.Load() != c1 {
		t.Fatalf("F2 got wrong arg")
	}
	if snap := r.Snapshot(); snap.Slots != 0 {
		t.Fatalf("registry still references exited thread: %+v", snap)
	}
}

func TestRegistry_TeardownSweep(t *testing.T) {
	r := NewRegistry(Config{})
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var fired [3]atomic.Int32
	var ready sync.WaitGroup
	release := make(chan struct{})
	threads := make([]*threadlocal.Thread, 3)
	for i := range threads {
		ready.Add(1)
		i := i
		threads[i] = threadlocal.Go(func(th *threadlocal.Thread) {
			if err := r.Start(th, nil, i, func(any) { fired[i].Add(1) }); err != nil {
				t.Errorf("start %d: %v", i, err)
			}
			ready.Done()
			<-release
		})
	}
	ready.Wait()

	r.Cleanup()
	for i := range fired {
		if n := fired[i].Load(); n != 1 {
			t.Fatalf("handler %d fired %d times at teardown", i, n)
		}
	}
	snap := r.Snapshot()
	if snap.State != StateDestroyed || snap.Slots != 0 || snap.Handlers != 0 {
		t.Fatalf("registry not released: %+v", snap)
	}

	// threads exiting after teardown do nothing
	close(release)
	for _, th := range threads {
		waitDone(t, th)
	}
	for i := range fired {
		if n := fired[i].Load(); n != 1 {
			t.Fatalf("handler %d fired again after teardown: %d", i, n)
		}
	}
}

func TestRegistry_DestroyedIsTerminal(t *testing.T) {
	r := NewRegistry(Config{})
	_ = r.Init()
	r.Cleanup()
	r.Cleanup()
	th := newThread(t)
	if err := r.Init(); !IsDestroyed(err) {
		t.Fatalf("Init after Cleanup: %v", err)
	}
	if err := r.Start(th, nil, "c", func(any) {}); !IsDestroyed(err) {
		t.Fatalf("Start after Cleanup: %v", err)
	}
	if err := r.Deregister(NewKey("k")); !IsDestroyed(err) {
		t.Fatalf("Deregister after Cleanup: %v", err)
	}
	if r.State() != StateDestroyed {
		t.Fatalf("state = %v", r.State())
	}
}

func TestRegistry_CleanupBeforeFirstStart(t *testing.T) {
	r := NewRegistry(Config{})
	_ = r.Init()
	r.Cleanup()
	if err := r.Start(newThread(t), nil, "c", func(any) {}); !IsDestroyed(err) {
		t.Fatalf("register must not be created after teardown: %v", err)
	}
}

func TestRegistry_InvalidConfigFailsPermanently(t *testing.T) {
	r := newReadyRegistry(t, Config{MaxSlots: -1})
	th := newThread(t)
	for i := 0; i < 2; i++ {
		if err := r.Start(th, nil, "c", func(any) {}); !IsUninitialized(err) {
			t.Fatalf("attempt %d: expected ErrUninitialized, got %v", i, err)
		}
	}
	if r.State() != StateUninitialized {
		t.Fatalf("state = %v", r.State())
	}
}

func TestRegistry_HandlerLimitKeepsExisting(t *testing.T) {
	r := newReadyRegistry(t, Config{MaxHandlersPerSlot: 1})
	th := newThread(t)
	var log callLog
	if err := r.Start(th, nil, "c", log.handler("first")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := r.Start(th, nil, "c", log.handler("second")); !IsCapacity(err) {
		t.Fatalf("second: expected ErrCapacity, got %v", err)
	}
	r.StopThread(th)
	if got := log.names(); !slices.Equal(got, []string{"first"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestRegistry_SlotLimitDiscardsNewSlot(t *testing.T) {
	r := newReadyRegistry(t, Config{MaxSlots: 1})
	a, b := newThread(t), newThread(t)
	if err := r.Start(a, nil, "c", func(any) {}); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := r.Start(b, nil, "c", func(any) {}); !IsCapacity(err) {
		t.Fatalf("b: expected ErrCapacity, got %v", err)
	}
	if b.Get(r.liveKey()) != nil {
		t.Fatalf("rejected slot left in thread-local storage")
	}
	r.StopThread(a)
	if err := r.Start(b, nil, "c", func(any) {}); err != nil {
		t.Fatalf("b after a released: %v", err)
	}
}

func TestRegistry_StartOnExitedThread(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := threadlocal.New()
	th.Exit()
	err := r.Start(th, nil, "c", func(any) {})
	if !IsThreadExited(err) {
		t.Fatalf("expected thread exited error, got %v", err)
	}
	if snap := r.Snapshot(); snap.Slots != 0 {
		t.Fatalf("slot leaked for exited thread")
	}
}

func TestRegistry_RestartAfterStop(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	var log callLog
	_ = r.Start(th, nil, "c", log.handler("one"))
	r.StopThread(th)
	_ = r.Start(th, nil, "c", log.handler("two"))
	th.Exit()
	if got := log.names(); !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestRegistry_PublishesEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	r := newReadyRegistry(t, Config{Publisher: pub})
	th := newThread(t)
	k := NewKey("k")
	_ = r.Start(th, k, "c", func(any) {})
	_ = r.Start(th, nil, "c", func(any) {})
	_ = r.Deregister(k)
	r.StopThread(th)
	r.Cleanup()
	want := map[string]int{
		EventSlotCreated:         1,
		EventHandlerRegistered:   2,
		EventHandlerDeregistered: 1,
		EventHandlerFired:        1,
		EventSlotReleased:        1,
		EventTeardownStart:       1,
		EventTeardownDone:        1,
	}
	for name, n := range want {
		if got := pub.Count(name); got != n {
			t.Fatalf("event %q published %d times, want %d; events: %+v", name, got, n, pub.Events())
		}
	}
}

// Concurrent deregistration, context stops and thread exits must never fire
// a handler twice, and a handler removed before its thread stops never fires.
func TestRegistry_AtMostOnceUnderContention(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	const threads, perThread = 16, 8
	keys := make([]*Key, perThread)
	for i := range keys {
		keys[i] = NewKey("k")
	}
	ctxs := []any{new(int), new(int)}
	counts := make([]atomic.Int32, threads*perThread)

	var ready sync.WaitGroup
	release := make(chan struct{})
	handles := make([]*threadlocal.Thread, threads)
	for i := 0; i < threads; i++ {
		ready.Add(1)
		i := i
		handles[i] = threadlocal.Go(func(th *threadlocal.Thread) {
			for j := 0; j < perThread; j++ {
				idx := i*perThread + j
				if err := r.Start(th, keys[j], ctxs[j%2], func(any) { counts[idx].Add(1) }); err != nil {
					t.Errorf("start: %v", err)
				}
			}
			ready.Done()
			<-release
			r.StopContext(th, ctxs[0])
		})
	}
	ready.Wait()

	var wg sync.WaitGroup
	for j := 0; j < perThread; j += 3 {
		wg.Add(1)
		go func(k *Key) {
			defer wg.Done()
			_ = r.Deregister(k)
		}(keys[j])
	}
	close(release)
	wg.Wait()
	for _, th := range handles {
		waitDone(t, th)
	}
	for idx := range counts {
		if n := counts[idx].Load(); n > 1 {
			t.Fatalf("handler %d fired %d times", idx, n)
		}
	}
	snap := r.Snapshot()
	if snap.Slots != 0 {
		t.Fatalf("slots left: %d", snap.Slots)
	}
	if snap.FiredTotal+snap.DeregisteredTotal != threads*perThread {
		t.Fatalf("fired %d + deregistered %d != %d", snap.FiredTotal, snap.DeregisteredTotal, threads*perThread)
	}
}

type namesCtx struct{ names []string }

func TestRegistry_UncomparableContext(t *testing.T) {
	r := newReadyRegistry(t, Config{})
	th := newThread(t)
	var log callLog
	if err := r.Start(th, nil, namesCtx{names: []string{"a"}}, log.handler("bad")); !IsContextNotComparable(err) {
		t.Fatalf("expected ErrContextNotComparable, got %v", err)
	}
	if err := r.Start(th, nil, "ok", log.handler("good")); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.StopContext(th, namesCtx{names: []string{"a"}})
	if n := len(log.names()); n != 0 {
		t.Fatalf("uncomparable StopContext fired %v", log.names())
	}
	r.StopThread(th)
	if got := log.names(); !slices.Equal(got, []string{"good"}) {
		t.Fatalf("calls = %v", got)
	}
}
