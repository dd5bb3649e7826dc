// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/athletesync/internal/analysis"
	"github.com/tomtom215/athletesync/internal/config"
)

// testRegistry adds controllable functions to the default registry.
func testRegistry(block <-chan struct{}) Registry {
	reg := DefaultRegistry()
	reg["echo"] = func(ctx context.Context, args ...any) (any, error) {
		return args[0], nil
	}
	reg["block"] = func(ctx context.Context, args ...any) (any, error) {
		<-block
		return "unblocked", nil
	}
	reg["panic"] = func(ctx context.Context, args ...any) (any, error) {
		panic("kaboom")
	}
	return reg
}

func newTestPool(t *testing.T, maxWorkers int, idle time.Duration, block <-chan struct{}) *Pool {
	t.Helper()
	p := New(config.WorkerPoolConfig{MaxWorkers: maxWorkers, IdleTimeout: idle}, testRegistry(block))
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecAnalysis(t *testing.T) {
	p := newTestPool(t, 2, time.Minute, nil)
	ctx := context.Background()

	got, err := p.Exec(ctx, CallFindPeaks,
		[]analysis.PeaksInput{{Activity: 1, Time: []float64{0, 1, 2}, Values: []float64{0, 100, 200}}},
		[]int{1})
	if err != nil {
		t.Fatalf("Exec(findPeaks) error = %v", err)
	}
	peaks, ok := got.([]analysis.Peak)
	if !ok || len(peaks) != 1 || peaks[0].Value != 200 {
		t.Errorf("findPeaks = %#v", got)
	}

	got, err = p.Exec(ctx, CallBulkTSS, []analysis.TSSInput{{Activity: 5}})
	if err != nil {
		t.Fatalf("Exec(bulkTSS) error = %v", err)
	}
	res, ok := got.([]analysis.TSSResult)
	if !ok || len(res) != 1 || res[0].Activity != 5 {
		t.Errorf("bulkTSS = %#v", got)
	}

	if s := p.Stats(); s.Spawned != 1 || s.Idle != 1 || s.Busy != 0 {
		t.Errorf("Stats() = %+v, want one reused worker", s)
	}
}

func TestExecErrors(t *testing.T) {
	p := newTestPool(t, 1, time.Minute, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call string
		args []any
		want error
	}{
		{"unknown call", "nope", nil, ErrUnknownCall},
		{"bad argument count", CallBulkTSS, nil, ErrBadArguments},
		{"bad argument type", CallFindPeaks, []any{"x", []int{1}}, ErrBadArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Exec(ctx, tt.call, tt.args...)
			var ce *CallError
			if !errors.As(err, &ce) || ce.Call != tt.call {
				t.Fatalf("error = %v, want *CallError for %s", err, tt.call)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("panic", func(t *testing.T) {
		_, err := p.Exec(ctx, "panic")
		var ce *CallError
		if !errors.As(err, &ce) {
			t.Fatalf("error = %v, want *CallError", err)
		}
		// The worker survives the panic.
		if v, err := p.Exec(ctx, "echo", 3); err != nil || v != 3 {
			t.Errorf("echo after panic = %v, %v", v, err)
		}
	})
}

func TestCapacityBlocks(t *testing.T) {
	block := make(chan struct{})
	p := newTestPool(t, 1, time.Minute, block)

	first := make(chan error, 1)
	go func() {
		_, err := p.Exec(context.Background(), "block")
		first <- err
	}()
	waitFor(t, func() bool { return p.Stats().Busy == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Exec(ctx, "echo", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Exec() at capacity error = %v, want deadline exceeded", err)
	}

	queued := make(chan any, 1)
	go func() {
		v, _ := p.Exec(context.Background(), "echo", 2)
		queued <- v
	}()
	close(block)

	if err := <-first; err != nil {
		t.Errorf("blocked call error = %v", err)
	}
	select {
	case v := <-queued:
		if v != 2 {
			t.Errorf("queued call = %v, want 2", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued call never ran")
	}
	if s := p.Stats(); s.Spawned != 1 {
		t.Errorf("Spawned = %d, want 1", s.Spawned)
	}
}

func TestStaleReplyIgnored(t *testing.T) {
	block := make(chan struct{})
	p := newTestPool(t, 1, time.Minute, block)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Exec(ctx, "block"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Exec(block) error = %v, want deadline exceeded", err)
	}

	// The worker finishes the abandoned call; its reply must not be taken
	// as the result of the next call.
	close(block)
	v, err := p.Exec(context.Background(), "echo", "fresh")
	if err != nil || v != "fresh" {
		t.Errorf("Exec(echo) = %v, %v, want fresh", v, err)
	}
}

func TestInvalidMessage(t *testing.T) {
	p := newTestPool(t, 1, time.Minute, nil)

	w, err := p.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	w.responses <- response{}
	p.release(w)

	if _, err := p.Exec(context.Background(), "echo", 1); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestIdleWorkerCollected(t *testing.T) {
	p := newTestPool(t, 2, 20*time.Millisecond, nil)

	if _, err := p.Exec(context.Background(), "echo", 1); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	waitFor(t, func() bool {
		s := p.Stats()
		return s.Terminated == 1 && s.Idle == 0
	})

	if _, err := p.Exec(context.Background(), "echo", 1); err != nil {
		t.Fatalf("Exec() after collection error = %v", err)
	}
	if s := p.Stats(); s.Spawned != 2 {
		t.Errorf("Spawned = %d, want 2", s.Spawned)
	}
}

func TestClose(t *testing.T) {
	p := newTestPool(t, 1, time.Minute, nil)
	if _, err := p.Exec(context.Background(), "echo", 1); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	p.Close()

	if s := p.Stats(); s.Idle != 0 || s.Terminated != 1 {
		t.Errorf("Stats() after Close = %+v", s)
	}
	if _, err := p.Exec(context.Background(), "echo", 1); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("error = %v, want ErrPoolClosed", err)
	}
}
