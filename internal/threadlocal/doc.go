// Package threadlocal provides explicit thread handles with thread-local
// storage and per-key destructors.
//
// Go does not expose OS threads, so code that needs "run this when the
// current thread stops" semantics carries a *Thread around instead. A Thread
// owns a set of values indexed by (Key, scope). When the thread exits, every
// live key's destructor is called once for each non-nil value it holds.
//
//   - Key: created with NewKey(destructor). Cleanup tears the key down; after
//     that Get returns nil, Set fails and Exit skips its destructor.
//   - Thread: New() for the calling goroutine (the caller must Exit), or Go(fn)
//     which runs fn on a goroutine locked to its OS thread and exits the handle
//     when fn returns.
//
// A Thread is intended to be used by the goroutine that owns it; the internal
// lock only makes Exit safe to race with a late Set from another goroutine.
package threadlocal
