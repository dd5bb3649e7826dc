// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/tomtom215/athletesync/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarted(t *testing.T, svc *MockService, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for svc.StartCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("%s started %d times, want >= %d", svc, svc.StartCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewSupervisorTree(t *testing.T) {
	t.Run("applies defaults for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), config.SupervisorConfig{})
		if err != nil {
			t.Fatalf("NewSupervisorTree() error = %v", err)
		}
		if tree.Root() == nil {
			t.Fatal("root supervisor is nil")
		}
		if got, want := tree.Config(), DefaultTreeConfig(); got != want {
			t.Errorf("Config() = %+v, want %+v", got, want)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := config.SupervisorConfig{
			FailureThreshold: 3,
			FailureDecay:     5,
			FailureBackoff:   time.Second,
			ShutdownTimeout:  2 * time.Second,
		}
		tree, err := NewSupervisorTree(testLogger(), cfg)
		if err != nil {
			t.Fatalf("NewSupervisorTree() error = %v", err)
		}
		if tree.Config() != cfg {
			t.Errorf("Config() = %+v, want %+v", tree.Config(), cfg)
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), config.SupervisorConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewSupervisorTree() error = %v", err)
	}

	data := NewMockService("mock-data")
	syncSvc := NewMockService("mock-sync")
	api := NewMockService("mock-api")
	tree.AddDataService(data)
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*MockService{data, syncSvc, api} {
		waitStarted(t, svc, 1)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	for _, svc := range []*MockService{data, syncSvc, api} {
		if svc.StopCount() != svc.StartCount() {
			t.Errorf("%s: starts=%d stops=%d", svc, svc.StartCount(), svc.StopCount())
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestSupervisorTreeFailureIsolation(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), config.SupervisorConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	failing := NewMockService("failing")
	failing.SetFailCount(2)
	stable := NewMockService("stable")

	tree.AddSyncService(failing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitStarted(t, failing, 3)
	waitStarted(t, stable, 1)

	if stable.StartCount() != 1 {
		t.Errorf("stable service restarted %d times, want 1 start", stable.StartCount())
	}

	cancel()
	<-errCh
}

func TestSupervisorTreeRemoveSyncService(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), config.SupervisorConfig{ShutdownTimeout: time.Second})

	svc := NewMockService("removable")
	token := tree.AddSyncService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)
	waitStarted(t, svc, 1)

	if err := tree.RemoveSyncService(token); err != nil {
		t.Fatalf("RemoveSyncService() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for svc.StopCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.StopCount() < 1 {
		t.Error("removed service was not stopped")
	}

	cancel()
	<-errCh
}
