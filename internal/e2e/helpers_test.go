package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"tevent/internal/httpapi"
	"tevent/internal/scenario"
	"tevent/internal/tevent"
)

// newServer wires a real registry, optionally fronted by an embedded
// notifier, behind the HTTP API.
func newServer(t *testing.T, cfg tevent.Config, embedded bool) (*httptest.Server, *tevent.Registry) {
	t.Helper()
	reg := tevent.NewRegistry(cfg)
	if err := reg.Init(); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	t.Cleanup(reg.Cleanup)
	env := scenario.Env{Registry: reg}
	mode := "full"
	if embedded {
		mode = "embedded"
		env.Notifier = tevent.NewEmbedded(tevent.EmbeddedConfig{Host: reg, Activation: tevent.ActivateDeferred})
	}
	svc := scenario.NewService(env, mode, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return srv, reg
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
