// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewBus(config.EventsConfig{BufferSize: 16})
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
	}
	return Event{}
}

func TestTopic(t *testing.T) {
	if got := Topic(42); got != "athlete.42" {
		t.Errorf("Topic(42) = %q", got)
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, err := b.Subscribe(ctx, 7)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	other, err := b.Subscribe(ctx, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish(Event{Kind: KindStart, Athlete: 7}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(Event{
		Kind:     KindProgress,
		Athlete:  7,
		Progress: &Progress{Sync: ProgressLocal, Activities: []int64{1, 2}},
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(Event{Kind: KindStop, Athlete: 8, Status: "complete"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	start := receive(t, mine)
	if start.Kind != KindStart || start.Athlete != 7 || start.TS.IsZero() {
		t.Errorf("first event = %+v", start)
	}
	prog := receive(t, mine)
	if prog.Kind != KindProgress || prog.Progress == nil || len(prog.Progress.Activities) != 2 {
		t.Errorf("second event = %+v", prog)
	}

	stop := receive(t, other)
	if stop.Kind != KindStop || stop.Status != "complete" {
		t.Errorf("other athlete event = %+v", stop)
	}
}

func TestSubscribeEndsWithContext(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, 7)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected event after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestClosedBus(t *testing.T) {
	b, err := NewBus(config.EventsConfig{})
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := b.Publish(Event{Kind: KindStart, Athlete: 1}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish() error = %v, want ErrBusClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), 1); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Subscribe() error = %v, want ErrBusClosed", err)
	}
}

func TestLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := &LoggerAdapter{logger: logging.NewTestLogger(&buf)}

	l.With(watermill.LogFields{"topic": "athlete.7"}).Info("subscribed", watermill.LogFields{"n": 1})
	l.Error("failed", errors.New("boom"), nil)

	out := buf.String()
	for _, want := range []string{`"topic":"athlete.7"`, `"n":1`, `"message":"subscribed"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
