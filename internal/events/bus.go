// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
)

// ErrBusClosed is returned when publishing or subscribing after Close.
var ErrBusClosed = errors.New("event bus closed")

// Publisher is the publishing side of the bus.
type Publisher interface {
	Publish(ev Event) error
}

// Bus is the in-process event bus.
type Bus struct {
	pubsub  *gochannel.GoChannel
	forward *natsForwarder
	logger  watermill.LoggerAdapter
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewBus creates the bus. Forwarding is enabled when cfg.NATSURL is set.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	logger := NewLoggerAdapter()
	b := &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, logger),
		logger: logger,
		now:    time.Now,
	}
	if cfg.NATSURL != "" {
		fwd, err := newNATSForwarder(cfg, logger)
		if err != nil {
			_ = b.pubsub.Close()
			return nil, err
		}
		b.forward = fwd
	}
	return b, nil
}

// Publish sends ev to the athlete's topic. A zero TS is set to now.
// Forwarding failures are logged and do not fail the publish.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if ev.TS.IsZero() {
		ev.TS = b.now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))

	if err := b.pubsub.Publish(Topic(ev.Athlete), msg); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	if b.forward != nil {
		if err := b.forward.publish(ev.Athlete, msg.Copy()); err != nil {
			logging.Warn().Err(err).Str("kind", string(ev.Kind)).Int64("athlete_id", ev.Athlete).
				Msg("Failed to forward sync event")
		}
	}
	return nil
}

// Subscribe returns the athlete's events until ctx ends. The channel is
// closed when the subscription ends.
func (b *Bus) Subscribe(ctx context.Context, athlete int64) (<-chan Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	msgs, err := b.pubsub.Subscribe(ctx, Topic(athlete))
	if err != nil {
		return nil, fmt.Errorf("subscribe athlete %d: %w", athlete, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("Dropping undecodable event", err, watermill.LogFields{"uuid": msg.UUID})
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus. Open subscriptions are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.pubsub.Close()
	if b.forward != nil {
		err = errors.Join(err, b.forward.close())
	}
	return err
}
