package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tevent/internal/config"
	"tevent/internal/httpapi"
	"tevent/internal/scenario"
	"tevent/internal/tevent"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(o *options) *cobra.Command {
	var (
		addr        string
		corsOrigins string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the debug HTTP server over a live registry",
		Example: "  teventd serve --addr :8080\n  teventd serve --mode embedded --cors-origins http://localhost:5173",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if origins := splitCSV(corsOrigins); len(origins) > 0 {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = origins
			}
			return serve(cmd.Context(), cfg, o.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address (defaults TEVENT_ADDR or :8080)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down and
// tears the registry down.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	m, err := tevent.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	env, err := buildEnv(cfg, log.With().Str("component", "registry").Logger(), m)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	defer env.Registry.Cleanup()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetSweepTimeout(time.Duration(cfg.SweepTimeoutSec) * time.Second)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	svc := scenario.NewService(env, cfg.Mode, log.With().Str("component", "scenario").Logger())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("mode", cfg.Mode).Msg("teventd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
