package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/montabano1/RyanScraper/internal/config"
	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/scrape"
)

func TestBuildSourcesSkipsDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Sources = []config.Source{
		{ID: "cbre", Name: "CBRE", Enabled: true, IntervalMinutes: 30, Kind: "selector", URL: "https://example.com", Item: "div", Fields: map[string]string{"property_name": ".n"}},
		{ID: "off", Enabled: false, Kind: "selector"},
	}
	srcs, err := buildSources(cfg)
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	if len(srcs) != 1 || srcs[0].Name != "cbre" || srcs[0].DisplayName != "CBRE" || srcs[0].Interval.Minutes() != 30 {
		t.Fatalf("sources = %+v", srcs)
	}

	cfg.Sources[0].Kind = "browser"
	if _, err := buildSources(cfg); !errors.Is(err, scrape.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Store.Strategy = "upsert"
	cfg.Store.DeleteOnRemoval = true
	cfg.Store.EmptyResult = "clear"

	p := reconcilePolicy(cfg)
	if p.Strategy != reconcile.Upsert || !p.DeleteOnRemoval || p.EmptyResult != reconcile.Clear {
		t.Fatalf("policy = %+v", p)
	}
	if r := retryPolicy(cfg); r.MaxAttempts != 3 || r.BaseDelay.Seconds() != 1 || r.Multiplier != 2 {
		t.Fatalf("retry = %+v", r)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, backend := range []string{"sqlite", "file"} {
		dir := t.TempDir()
		cfg := config.Default()
		cfg.Store.Backend = backend
		st, err := openStore(cfg, dir, log)
		if err != nil {
			t.Fatalf("%s: openStore: %v", backend, err)
		}
		if _, err := st.GetSnapshot(t.Context(), "cbre"); err != nil {
			t.Fatalf("%s: GetSnapshot: %v", backend, err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("%s: Close: %v", backend, err)
		}
		if backend == "sqlite" {
			if m, _ := filepath.Glob(filepath.Join(dir, "listings.db*")); len(m) == 0 {
				t.Fatalf("sqlite file not created in data dir")
			}
		}
	}
}

func TestShutdownHandlerGuards(t *testing.T) {
	t.Parallel()

	token := "secret"
	srv := &http.Server{}
	h := shutdownHandler(&token, srv)

	tests := []struct {
		method string
		remote string
		token  string
		want   int
	}{
		{http.MethodGet, "127.0.0.1:1", "secret", http.StatusMethodNotAllowed},
		{http.MethodPost, "10.0.0.2:1", "secret", http.StatusForbidden},
		{http.MethodPost, "127.0.0.1:1", "wrong", http.StatusUnauthorized},
		{http.MethodPost, "127.0.0.1:1", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/shutdown", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Shutdown-Token", tt.token)
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s from %s with %q: status %d, want %d", tt.method, tt.remote, tt.token, rec.Code, tt.want)
		}
	}
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	got, err := readLine(strings.NewReader("hunter2\r\nignored\n"))
	if err != nil || got != "hunter2" {
		t.Fatalf("readLine = %q, %v", got, err)
	}
	if got, _ := readLine(strings.NewReader("no-newline")); got != "no-newline" {
		t.Fatalf("readLine without newline = %q", got)
	}
}
