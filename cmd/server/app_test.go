// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/supervisor"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`
storage:
  in_memory: true
  gc_interval: 1h
server:
  host: 127.0.0.1
  port: %d
  shutdown_timeout: 2s
logging:
  level: error
`, freePort(t))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	return cfg
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	if a.holder.CurrentUser() != 0 {
		t.Errorf("CurrentUser() = %d, want 0", a.holder.CurrentUser())
	}

	w := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/ratelimit = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Data    []struct {
			Label string `json:"label"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Data) != len(cfg.RateLimit.Tiers()) {
		t.Errorf("rate limiter status = %+v, want %d tiers", resp, len(cfg.RateLimit.Tiers()))
	}
}

func TestAppUnderSupervisor(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		t.Fatalf("NewSupervisorTree() error = %v", err)
	}
	a.register(tree)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	url := "http://" + a.server.Addr + "/api/v1/health/live"
	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET %s: %v", url, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor tree did not stop")
	}
}
