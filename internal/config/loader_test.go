package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: ":9999"
mode: embedded
activation: deferred
max_slots: 12
max_handlers_per_slot: 3
scenario:
  threads: 5
  handlers_per_thread: 2
  deregister_every: 2
  stop_contexts: true
cors:
  enabled: true
  origins: ["https://a.example"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Mode != "embedded" || cfg.Activation != "deferred" || cfg.MaxSlots != 12 || cfg.MaxHandlersPerSlot != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Scenario.Threads != 5 || cfg.Scenario.HandlersPerThread != 2 || cfg.Scenario.DeregisterEvery != 2 || !cfg.Scenario.StopContexts {
		t.Fatalf("unexpected scenario: %+v", cfg.Scenario)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.Origins) != 1 {
		t.Fatalf("unexpected cors: %+v", cfg.CORS)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","mode":"full","log_level":"debug","scenario":{"threads":3,"teardown":true}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Mode != "full" || cfg.LogLevel != "debug" || cfg.Scenario.Threads != 3 || !cfg.Scenario.Teardown {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nlog_format=\"console\"\nsweep_timeout_sec=4\n\n[scenario]\ncontexts=2\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.LogFormat != "console" || cfg.SweepTimeoutSec != 4 || cfg.Scenario.Contexts != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeTempFile(t, home, "tevent.yaml", "addr: \":1\"\n")
	cfg, err := Load("~/tevent.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(writeTempFile(t, d, "cfg.txt", "not supported")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := Load(writeTempFile(t, d, "bad.yaml", "mode: turbo\n")); err == nil {
		t.Fatalf("expected invalid mode error")
	}
	if _, err := Load(writeTempFile(t, d, "neg.json", `{"max_slots":-1}`)); err == nil {
		t.Fatalf("expected negative limit error")
	}
	if _, err := Load(writeTempFile(t, d, "act.toml", "activation=\"later\"\n")); err == nil {
		t.Fatalf("expected invalid activation error")
	}
}
