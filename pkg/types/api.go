package types

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the slot register (uninitialized, ready, destroyed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Registration mode served by this process (full or embedded).
	// example: full
	Mode string `json:"mode" example:"full"`
	// Threads currently holding a handler slot.
	// example: 4
	Slots int `json:"slots" example:"4"`
	// Handlers currently registered across all slots.
	// example: 16
	Handlers int `json:"handlers" example:"16"`
	// Total handlers registered since start.
	// example: 128
	RegisteredTotal uint64 `json:"registered_total" example:"128"`
	// Total handlers fired since start.
	// example: 100
	FiredTotal uint64 `json:"fired_total" example:"100"`
	// Total handlers removed without firing.
	// example: 12
	DeregisteredTotal uint64 `json:"deregistered_total" example:"12"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Result of the most recent sweep, if any.
	LastSweep *SweepReport `json:"last_sweep,omitempty"`
}

// SweepRequest configures a workload run by POST /sweep.
type SweepRequest struct {
	// Number of threads to start.
	// example: 8
	Threads int `json:"threads,omitempty" example:"8"`
	// Handlers each thread registers.
	// example: 4
	HandlersPerThread int `json:"handlers_per_thread,omitempty" example:"4"`
	// Distinct contexts handlers are spread across.
	// example: 2
	Contexts int `json:"contexts,omitempty" example:"2"`
	// Deregister every Nth key before threads stop (0 disables).
	// example: 3
	DeregisterEvery int `json:"deregister_every,omitempty" example:"3"`
	// Stop the first context on each thread before it exits.
	// example: true
	StopContexts bool `json:"stop_contexts,omitempty" example:"true"`
}

// SweepReport is returned by POST /sweep.
type SweepReport struct {
	Threads              int   `json:"threads" yaml:"threads"`
	Registered           int   `json:"registered" yaml:"registered"`
	Fired                int   `json:"fired" yaml:"fired"`
	Deregistered         int   `json:"deregistered" yaml:"deregistered"`
	DoubleFired          int   `json:"double_fired" yaml:"double_fired"`
	FiredAfterDeregister int   `json:"fired_after_deregister" yaml:"fired_after_deregister"`
	Unfired              int   `json:"unfired" yaml:"unfired"`
	ElapsedMS            int64 `json:"elapsed_ms" yaml:"elapsed_ms"`
	// Whether every invariant held.
	OK bool `json:"ok" yaml:"ok"`
	// Invariant violations, when OK is false.
	Violation string `json:"violation,omitempty" yaml:"violation,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
