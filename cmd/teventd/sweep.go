package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tevent/internal/config"
	"tevent/internal/scenario"
	"tevent/pkg/types"
)

func newSweepCmd(o *options) *cobra.Command {
	var (
		output string
		flags  scenario.Plan
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one workload against a fresh registry and print the report",
		Long: "sweep starts a private registry, runs the configured scenario plan " +
			"against it and exits non-zero when any handler fired twice, fired " +
			"after being deregistered, or never fired.",
		Example: "  teventd sweep --threads 16 --handlers 8 --deregister-every 3\n  teventd sweep --teardown -o json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := o.cfg.Scenario
			f := cmd.Flags()
			if f.Changed("threads") {
				plan.Threads = flags.Threads
			}
			if f.Changed("handlers") {
				plan.HandlersPerThread = flags.HandlersPerThread
			}
			if f.Changed("contexts") {
				plan.Contexts = flags.Contexts
			}
			if f.Changed("deregister-every") {
				plan.DeregisterEvery = flags.DeregisterEvery
			}
			if f.Changed("stop-contexts") {
				plan.StopContexts = flags.StopContexts
			}
			if f.Changed("teardown") {
				plan.Teardown = flags.Teardown
			}
			return runSweep(cmd.Context(), cmd.OutOrStdout(), o.cfg, plan, output, o.log)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&flags.Threads, "threads", 0, "Threads to start (default 4)")
	fl.IntVar(&flags.HandlersPerThread, "handlers", 0, "Handlers per thread (default 4)")
	fl.IntVar(&flags.Contexts, "contexts", 0, "Distinct contexts (default 1)")
	fl.IntVar(&flags.DeregisterEvery, "deregister-every", 0, "Deregister every Nth key before threads stop (0 disables)")
	fl.BoolVar(&flags.StopContexts, "stop-contexts", false, "Stop the first context on each thread before it exits")
	fl.BoolVar(&flags.Teardown, "teardown", false, "Tear the registry down while threads are still running")
	fl.StringVarP(&output, "output", "o", "yaml", "Report format: yaml|json")
	return cmd
}

// runSweep runs plan against a private registry built from cfg, writes the
// report to w and returns the report's invariant violations, if any.
func runSweep(ctx context.Context, w io.Writer, cfg config.Config, plan scenario.Plan, format string, log zerolog.Logger) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	env, err := buildEnv(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	defer env.Registry.Cleanup()

	rep, err := scenario.Run(ctx, env, plan)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if err := writeReport(w, format, scenario.ToSweepReport(rep)); err != nil {
		return err
	}
	return rep.Err()
}

func checkFormat(format string) error {
	switch format {
	case "", "yaml", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

func writeReport(w io.Writer, format string, rep types.SweepReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}
