// Package scenario drives reproducible multi-thread workloads against a
// stop-event registry and checks the outcome: every handler fires at most
// once, and handlers removed with Deregister never fire.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tevent/internal/tevent"
	"tevent/internal/threadlocal"
)

// Defaults applied when corresponding Plan fields are unset.
const (
	defaultThreads           = 4
	defaultHandlersPerThread = 4
	defaultContexts          = 1
)

// Plan describes one workload.
type Plan struct {
	Threads           int `json:"threads" yaml:"threads" toml:"threads"`
	HandlersPerThread int `json:"handlers_per_thread" yaml:"handlers_per_thread" toml:"handlers_per_thread"`
	Contexts          int `json:"contexts" yaml:"contexts" toml:"contexts"`

	// DeregisterEvery removes the handlers of every Nth key from all threads
	// before they stop (0 disables). Ignored for embedded notifiers.
	DeregisterEvery int `json:"deregister_every" yaml:"deregister_every" toml:"deregister_every"`

	// StopContexts makes each thread stop its first context before exiting.
	StopContexts bool `json:"stop_contexts" yaml:"stop_contexts" toml:"stop_contexts"`

	// Teardown cleans the registry up while every thread is still running.
	Teardown bool `json:"teardown" yaml:"teardown" toml:"teardown"`
}

func (p Plan) withDefaults() Plan {
	if p.Threads <= 0 {
		p.Threads = defaultThreads
	}
	if p.HandlersPerThread <= 0 {
		p.HandlersPerThread = defaultHandlersPerThread
	}
	if p.Contexts <= 0 {
		p.Contexts = defaultContexts
	}
	if p.DeregisterEvery < 0 {
		p.DeregisterEvery = 0
	}
	return p
}

// Report summarizes a run.
type Report struct {
	Threads              int           `json:"threads" yaml:"threads"`
	Registered           int           `json:"registered" yaml:"registered"`
	Fired                int           `json:"fired" yaml:"fired"`
	Deregistered         int           `json:"deregistered" yaml:"deregistered"`
	DoubleFired          int           `json:"double_fired" yaml:"double_fired"`
	FiredAfterDeregister int           `json:"fired_after_deregister" yaml:"fired_after_deregister"`
	Unfired              int           `json:"unfired" yaml:"unfired"`
	Elapsed              time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Err reports a violated invariant, or nil.
func (r Report) Err() error {
	var errs []error
	if r.DoubleFired > 0 {
		errs = append(errs, fmt.Errorf("%d handlers fired more than once", r.DoubleFired))
	}
	if r.FiredAfterDeregister > 0 {
		errs = append(errs, fmt.Errorf("%d deregistered handlers fired", r.FiredAfterDeregister))
	}
	if r.Unfired > 0 {
		errs = append(errs, fmt.Errorf("%d handlers never fired", r.Unfired))
	}
	return errors.Join(errs...)
}

// Env is what a run drives. Notifier defaults to Registry; when it is
// something else (an Embedded layered on Registry) keys are not used.
type Env struct {
	Registry *tevent.Registry
	Notifier tevent.Notifier
}

// Run executes plan against env. The registry must be initialized.
func Run(ctx context.Context, env Env, plan Plan) (Report, error) {
	if env.Registry == nil {
		return Report{}, errors.New("scenario: nil registry")
	}
	n := env.Notifier
	keyed := n == nil
	if keyed {
		n = env.Registry
	}
	plan = plan.withDefaults()
	start := time.Now()

	keys := make([]*tevent.Key, plan.HandlersPerThread)
	for j := range keys {
		keys[j] = tevent.NewKey(fmt.Sprintf("scenario-%d", j))
	}
	contexts := make([]*int, plan.Contexts)
	for i := range contexts {
		contexts[i] = new(int)
	}
	fires := make([]atomic.Int32, plan.Threads*plan.HandlersPerThread)

	var (
		ready    sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	release := make(chan struct{})
	threads := make([]*threadlocal.Thread, plan.Threads)
	for i := range threads {
		ready.Add(1)
		i := i
		threads[i] = threadlocal.Go(func(t *threadlocal.Thread) {
			for j := 0; j < plan.HandlersPerThread; j++ {
				idx := i*plan.HandlersPerThread + j
				if err := n.Start(t, keys[j], contexts[j%plan.Contexts], func(any) { fires[idx].Add(1) }); err != nil {
					fail(fmt.Errorf("thread %d handler %d: %w", i, j, err))
					break
				}
			}
			ready.Done()
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
			if plan.StopContexts {
				n.StopContext(t, contexts[0])
			}
		})
	}
	ready.Wait()

	removed := make([]bool, plan.HandlersPerThread)
	if keyed && plan.DeregisterEvery > 0 {
		var wg sync.WaitGroup
		for j := 0; j < plan.HandlersPerThread; j += plan.DeregisterEvery {
			removed[j] = true
			wg.Add(1)
			go func(k *tevent.Key) {
				defer wg.Done()
				if err := env.Registry.Deregister(k); err != nil {
					fail(fmt.Errorf("deregister %s: %w", k, err))
				}
			}(keys[j])
		}
		wg.Wait()
	}
	if plan.Teardown {
		env.Registry.Cleanup()
	}
	close(release)
	for _, t := range threads {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
	}

	rep := Report{Threads: plan.Threads, Elapsed: time.Since(start)}
	if firstErr != nil {
		return rep, firstErr
	}
	for idx := range fires {
		rep.Registered++
		c := int(fires[idx].Load())
		gone := removed[idx%plan.HandlersPerThread]
		if gone {
			rep.Deregistered++
		}
		switch {
		case c > 1:
			rep.DoubleFired++
		case c == 1 && gone:
			rep.FiredAfterDeregister++
		case c == 0 && !gone:
			rep.Unfired++
		}
		if c > 0 {
			rep.Fired++
		}
	}
	return rep, nil
}
