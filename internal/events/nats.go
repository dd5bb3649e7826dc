// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/athletesync/internal/config"
)

// natsForwarder republishes bus events to core NATS subjects.
type natsForwarder struct {
	publisher message.Publisher
	subject   string
}

func newNATSForwarder(cfg config.EventsConfig, logger watermill.LoggerAdapter) (*natsForwarder, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name(cfg.NATSClientID),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATSReconnect),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return &natsForwarder{publisher: pub, subject: cfg.NATSSubject}, nil
}

func (f *natsForwarder) publish(athlete int64, msg *message.Message) error {
	return f.publisher.Publish(f.subject+"."+strconv.FormatInt(athlete, 10), msg)
}

func (f *natsForwarder) close() error {
	return f.publisher.Close()
}
