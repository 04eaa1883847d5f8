package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tevent/internal/tevent"
	"tevent/pkg/types"
)

// Service exposes a live registry to the HTTP layer: status, ad-hoc sweeps
// and teardown.
type Service struct {
	env     Env
	mode    string
	log     zerolog.Logger
	started time.Time

	sweepMu sync.Mutex // one sweep at a time
	mu      sync.RWMutex
	last    *types.SweepReport
}

// NewService wraps env. mode is reported verbatim in /status.
func NewService(env Env, mode string, log zerolog.Logger) *Service {
	return &Service{env: env, mode: mode, log: log, started: time.Now()}
}

// Status builds the /status payload.
func (s *Service) Status() types.StatusResponse {
	snap := s.env.Registry.Snapshot()
	now := time.Now()
	resp := types.StatusResponse{
		State:             snap.State.String(),
		Mode:              s.mode,
		Slots:             snap.Slots,
		Handlers:          snap.Handlers,
		RegisteredTotal:   snap.RegisteredTotal,
		FiredTotal:        snap.FiredTotal,
		DeregisteredTotal: snap.DeregisteredTotal,
		UptimeSeconds:     int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix:    now.Unix(),
	}
	s.mu.RLock()
	if s.last != nil {
		last := *s.last
		resp.LastSweep = &last
	}
	s.mu.RUnlock()
	return resp
}

// Ready reports whether the registry can still accept registrations.
func (s *Service) Ready() bool {
	return s.env.Registry.State() != tevent.StateDestroyed
}

// Sweep runs one workload against the live registry. Teardown is never part
// of a sweep; use Teardown.
func (s *Service) Sweep(ctx context.Context, req types.SweepRequest) (types.SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	plan := Plan{
		Threads:           req.Threads,
		HandlersPerThread: req.HandlersPerThread,
		Contexts:          req.Contexts,
		DeregisterEvery:   req.DeregisterEvery,
		StopContexts:      req.StopContexts,
	}
	rep, err := Run(ctx, s.env, plan)
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep failed")
		return types.SweepReport{}, err
	}
	out := ToSweepReport(rep)
	s.mu.Lock()
	s.last = &out
	s.mu.Unlock()
	ev := s.log.Info()
	if !out.OK {
		ev = s.log.Error().Str("violation", out.Violation)
	}
	ev.Int("threads", rep.Threads).Int("fired", rep.Fired).Int("deregistered", rep.Deregistered).Dur("elapsed", rep.Elapsed).Msg("sweep done")
	return out, nil
}

// Teardown destroys the registry. Later sweeps fail.
func (s *Service) Teardown() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	s.env.Registry.Cleanup()
}

// ToSweepReport converts a Report into its wire form.
func ToSweepReport(rep Report) types.SweepReport {
	out := types.SweepReport{
		Threads:              rep.Threads,
		Registered:           rep.Registered,
		Fired:                rep.Fired,
		Deregistered:         rep.Deregistered,
		DoubleFired:          rep.DoubleFired,
		FiredAfterDeregister: rep.FiredAfterDeregister,
		Unfired:              rep.Unfired,
		ElapsedMS:            rep.Elapsed.Milliseconds(),
		OK:                   true,
	}
	if err := rep.Err(); err != nil {
		out.OK = false
		out.Violation = err.Error()
	}
	return out
}
