package tevent

import (
	"sync"
	"testing"
	"time"

	"tevent/internal/threadlocal"
)

// callLog records handler invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
	args  []any
}

func (c *callLog) handler(name string) StopHandler {
	return func(arg any) {
		c.mu.Lock()
		c.calls = append(c.calls, name)
		c.args = append(c.args, arg)
		c.mu.Unlock()
	}
}

func (c *callLog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.calls {
		if s == name {
			n++
		}
	}
	return n
}

// newReadyRegistry returns an initialized registry and tears it down on cleanup.
func newReadyRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(cfg)
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(r.Cleanup)
	return r
}

// newThread returns a thread handle that exits on test cleanup.
func newThread(t *testing.T) *threadlocal.Thread {
	t.Helper()
	th := threadlocal.New()
	t.Cleanup(th.Exit)
	return th
}

func waitDone(t *testing.T, th *threadlocal.Thread) {
	t.Helper()
	select {
	case <-th.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("thread %d did not exit", th.ID())
	}
}
