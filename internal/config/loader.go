package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"tevent/internal/common/fsutil"
	"tevent/internal/scenario"
)

// Config holds runtime parameters for teventd.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// Mode selects the registration surface: "full" or "embedded".
	Mode               string `json:"mode" yaml:"mode" toml:"mode"`
	MaxSlots           int    `json:"max_slots" yaml:"max_slots" toml:"max_slots"`
	MaxHandlersPerSlot int    `json:"max_handlers_per_slot" yaml:"max_handlers_per_slot" toml:"max_handlers_per_slot"`
	// Activation is the embedded context activation policy: "on_create" or "deferred".
	Activation      string        `json:"activation" yaml:"activation" toml:"activation"`
	SweepTimeoutSec int           `json:"sweep_timeout_sec" yaml:"sweep_timeout_sec" toml:"sweep_timeout_sec"`
	Scenario        scenario.Plan `json:"scenario" yaml:"scenario" toml:"scenario"`
	CORS            CORS          `json:"cors" yaml:"cors" toml:"cors"`
}

// CORS mirrors httpapi.SetCORSOptions.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml. A leading ~ is expanded.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated fields and limits.
func (c Config) Validate() error {
	switch c.Mode {
	case "", "full", "embedded":
	default:
		return fmt.Errorf("unknown mode %q (want full or embedded)", c.Mode)
	}
	switch c.Activation {
	case "", "on_create", "deferred":
	default:
		return fmt.Errorf("unknown activation %q (want on_create or deferred)", c.Activation)
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q (want json or console)", c.LogFormat)
	}
	if c.MaxSlots < 0 || c.MaxHandlersPerSlot < 0 || c.SweepTimeoutSec < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	return nil
}
