/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process events to NATS so other processes can
// follow the queue.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/events"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "jukebox.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Message is the envelope published on every subject.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Subject returns the NATS subject for an event type.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// NATSBridge subscribes to the local bus and republishes every event on NATS.
type NATSBridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	subs map[events.EventType]events.Subscriber
	wg   sync.WaitGroup
	once sync.Once
}

// NewNATSBridge connects to NATS and starts forwarding events from bus.
func NewNATSBridge(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*NATSBridge, error) {
	logger = logger.With().Str("component", "eventbus").Logger()

	opts := []nats.Option{
		nats.Name("jukebox"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	b := &NATSBridge{
		conn:   conn,
		bus:    bus,
		logger: logger,
		nodeID: generateNodeID(),
		subs:   make(map[events.EventType]events.Subscriber, len(events.AllTypes)),
	}

	for _, eventType := range events.AllTypes {
		sub := bus.Subscribe(eventType)
		b.subs[eventType] = sub
		b.wg.Add(1)
		go b.forward(eventType, sub)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", b.nodeID).Msg("forwarding events to NATS")
	return b, nil
}

func (b *NATSBridge) forward(eventType events.EventType, sub events.Subscriber) {
	defer b.wg.Done()
	subject := Subject(eventType)
	for payload := range sub {
		data, err := json.Marshal(Message{
			EventType: eventType,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
			NodeID:    b.nodeID,
			MessageID: uuid.NewString(),
		})
		if err != nil {
			b.logger.Debug().Err(err).Str("event", string(eventType)).Msg("failed to encode event")
			continue
		}
		if err := b.conn.Publish(subject, data); err != nil {
			b.logger.Debug().Err(err).Str("subject", subject).Msg("failed to publish event")
		}
	}
}

// NodeID identifies this process in published messages.
func (b *NATSBridge) NodeID() string {
	return b.nodeID
}

// Close stops forwarding and drains the connection.
func (b *NATSBridge) Close() error {
	var err error
	b.once.Do(func() {
		for eventType, sub := range b.subs {
			b.bus.Unsubscribe(eventType, sub)
		}
		b.wg.Wait()
		err = b.conn.Drain()
	})
	return err
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "jukebox"
	}
	return host + "-" + uuid.NewString()[:8]
}
