// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*MockService)(nil)

func TestMockService(t *testing.T) {
	t.Run("runs until context canceled", func(t *testing.T) {
		svc := NewMockService("test")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if svc.StartCount() != 1 || svc.StopCount() != 1 {
			t.Errorf("starts=%d stops=%d, want 1/1", svc.StartCount(), svc.StopCount())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		svc := NewMockService("one-shot")
		svc.SetError(suture.ErrDoNotRestart)

		if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("expected ErrDoNotRestart, got %v", err)
		}
	})

	t.Run("fails N times then runs", func(t *testing.T) {
		svc := NewMockService("retry")
		svc.SetFailCount(2)

		for i := 0; i < 2; i++ {
			if err := svc.Serve(context.Background()); !errors.Is(err, ErrSimulatedFailure) {
				t.Fatalf("call %d: expected simulated failure, got %v", i+1, err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("third call should run until timeout, got %v", err)
		}
	})
}

func TestSupervisorRestartsCrashedService(t *testing.T) {
	svc := NewMockService("crasher")
	svc.SetFailCount(2)

	sup := suture.New("restart-test", suture.Spec{
		FailureThreshold: 10,
		FailureDecay:     1,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          100 * time.Millisecond,
	})
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(400 * time.Millisecond)
	for svc.StartCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.StartCount() < 3 {
		t.Errorf("expected at least 3 starts (2 failures + 1 success), got %d", svc.StartCount())
	}

	cancel()
	<-errCh
}
