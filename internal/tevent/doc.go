// Package tevent lets subsystems register callbacks that run when a thread
// stops or when a library context is stopped on that thread. It is structured
// into small files by concern:
//
//   - notifier.go: the Notifier interface shared by both deployment modes, and Host.
//   - types.go: Key, StopHandler, handler records, slots, State, Snapshot.
//   - dispatch.go: fire, the walk that invokes and unlinks matching handlers.
//   - registry.go: Registry, the full-library mode with a process-wide slot
//     register guarded by one RWMutex.
//   - embedded.go: Embedded, the constrained mode with one slot per
//     (thread, context) and an upcall to a Host for thread-stop notification.
//   - config.go: Config/EmbeddedConfig and defaults.
//   - errors.go: sentinel errors and Is* helpers.
//   - events.go, eventpub_memory.go: lifecycle events for observers.
//   - metrics.go: Prometheus collectors.
//
// Handlers run synchronously on the goroutine that triggers the stop. In the
// full-library mode they run while the registry lock is held, so a handler
// must be fast and must not call back into the same Registry. Contexts and
// handler args must be comparable with ==.
package tevent
