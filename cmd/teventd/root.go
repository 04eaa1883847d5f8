package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tevent/internal/common/fsutil"
	"tevent/internal/config"
	"tevent/internal/scenario"
	"tevent/internal/tevent"
)

const (
	defaultConfigPath = "~/.config/tevent/teventd.yaml"
	defaultAddr       = ":8080"
)

// options is shared by every subcommand; it is filled in PersistentPreRunE.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	mode       string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "teventd",
		Short:         "Thread stop-event registry: debug server and workload sweeps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> options
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", envOr("TEVENT_CONFIG", defaultConfigPath), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&o.logLevel, "log-level", os.Getenv("TEVENT_LOG_LEVEL"), "Log level: debug|info|warn|error (defaults TEVENT_LOG_LEVEL or info)")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: json|console")
	pf.StringVar(&o.mode, "mode", "", "Registration mode: full|embedded")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return o.load(cmd.ErrOrStderr(), cmd.Flags().Changed("config"))
	}

	root.AddCommand(newServeCmd(o), newSweepCmd(o))
	return root
}

// load reads the config file, applies flag overrides and defaults, and
// builds the process logger. A missing default config file is not an error.
func (o *options) load(stderr io.Writer, explicit bool) error {
	cfg, err := loadConfig(o.configPath, explicit)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.mode != "" {
		cfg.Mode = o.mode
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	o.cfg = cfg
	o.log = newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	return nil
}

func loadConfig(path string, explicit bool) (config.Config, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return config.Config{}, err
	}
	if p == "" || (!explicit && !fsutil.PathExists(p)) {
		return config.Config{}, nil
	}
	cfg, err := config.Load(p)
	if err != nil {
		return config.Config{}, fmt.Errorf("load %s: %w", p, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = envOr("TEVENT_ADDR", defaultAddr)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Mode == "" {
		cfg.Mode = "full"
	}
	if cfg.Activation == "" {
		cfg.Activation = tevent.ActivateOnCreate.String()
	}
}

func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "teventd").Logger()
}

// buildEnv initializes a registry from cfg and, in embedded mode, layers an
// Embedded notifier on top of it with the registry as host.
func buildEnv(cfg config.Config, log zerolog.Logger, m *tevent.Metrics) (scenario.Env, error) {
	reg := tevent.NewRegistry(tevent.Config{
		MaxSlots:           cfg.MaxSlots,
		MaxHandlersPerSlot: cfg.MaxHandlersPerSlot,
		Logger:             &log,
		Metrics:            m,
	})
	if err := reg.Init(); err != nil {
		return scenario.Env{}, err
	}
	env := scenario.Env{Registry: reg}
	if cfg.Mode != "embedded" {
		return env, nil
	}
	act, err := tevent.ParseActivation(cfg.Activation)
	if err != nil {
		reg.Cleanup()
		return scenario.Env{}, err
	}
	env.Notifier = tevent.NewEmbedded(tevent.EmbeddedConfig{
		Host:               reg,
		Activation:         act,
		MaxHandlersPerSlot: cfg.MaxHandlersPerSlot,
		Logger:             &log,
		Metrics:            m,
	})
	return env, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
