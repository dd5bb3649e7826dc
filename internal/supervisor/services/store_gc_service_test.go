// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/athletesync/internal/store"
)

var _ suture.Service = (*StoreGCService)(nil)

type fakeGC struct {
	calls    atomic.Int32
	rewrites int
	err      error
	ratio    atomic.Value
}

func (f *fakeGC) RunGC(discardRatio float64) (int, error) {
	f.calls.Add(1)
	f.ratio.Store(discardRatio)
	return f.rewrites, f.err
}

func TestNewStoreGCService_DiscardRatio(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.7, 0.7},
		{0, defaultDiscardRatio},
		{1, defaultDiscardRatio},
		{-0.1, defaultDiscardRatio},
	}
	for _, tt := range tests {
		if got := NewStoreGCService(&fakeGC{}, time.Minute, tt.in).discardRatio; got != tt.want {
			t.Errorf("discardRatio(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStoreGCService_Serve(t *testing.T) {
	t.Run("runs on interval", func(t *testing.T) {
		gc := &fakeGC{rewrites: 1}
		svc := NewStoreGCService(gc, 10*time.Millisecond, 0.25)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		deadline := time.Now().Add(time.Second)
		for gc.calls.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if gc.calls.Load() < 2 {
			t.Errorf("RunGC called %d times, want >= 2", gc.calls.Load())
		}
		if r, _ := gc.ratio.Load().(float64); r != 0.25 {
			t.Errorf("discard ratio = %v, want 0.25", r)
		}
	})

	t.Run("disabled interval does not restart", func(t *testing.T) {
		svc := NewStoreGCService(&fakeGC{}, 0, 0.5)
		if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
		}
	})

	t.Run("gc error stops serve", func(t *testing.T) {
		gcErr := errors.New("vlog corrupted")
		svc := NewStoreGCService(&fakeGC{err: gcErr}, 5*time.Millisecond, 0.5)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := svc.Serve(ctx); !errors.Is(err, gcErr) {
			t.Errorf("Serve() = %v, want %v", err, gcErr)
		}
	})
}

func TestStoreGCService_RunOnceBadger(t *testing.T) {
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil // Disable logging for tests
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	st := store.New(db)

	svc := NewStoreGCService(st, time.Hour, 0.5)
	if err := svc.RunOnce(); err != nil {
		t.Errorf("RunOnce() on fresh store = %v, want nil", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := svc.RunOnce(); !errors.Is(err, store.ErrClosed) {
		t.Errorf("RunOnce() on closed store = %v, want ErrClosed", err)
	}
}
