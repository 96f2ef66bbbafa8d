// Package messaging exports domain events to NATS so that out-of-process
// consumers (search indexing, notification workers, audit) can follow new
// messages and relationship changes. Live socket fan-out does not go through
// NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject prefixes for exported events.
const (
	SubjectMessage      = "dm.message"      // + .<chat_id>
	SubjectRelationship = "dm.relationship" // + .<user_id>
	SubjectPresence     = "dm.presence"     // + .<user_id>
)

// NATSClient wraps the NATS connection with typed publish helpers. A nil
// *NATSClient is valid and drops every event.
type NATSClient struct {
	conn *nats.Conn
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222, empty disables export
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "",
		Name:          "dm-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{conn: nc}, nil
}

// Publish sends data to the given NATS subject. A nil client drops the event.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if c == nil {
		return nil
	}
	return c.conn.Publish(subject, data)
}

// PublishJSON encodes v and publishes it to subject.
func (c *NATSClient) PublishJSON(subject string, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats: encode %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// PublishMessage exports a saved chat message.
func (c *NATSClient) PublishMessage(chatID string, v any) error {
	return c.PublishJSON(SubjectMessage+"."+chatID, v)
}

// PublishRelationship exports a relationship change for userID.
func (c *NATSClient) PublishRelationship(userID string, v any) error {
	return c.PublishJSON(SubjectRelationship+"."+userID, v)
}

// PublishPresence exports a presence change for userID.
func (c *NATSClient) PublishPresence(userID string, v any) error {
	return c.PublishJSON(SubjectPresence+"."+userID, v)
}

// Close flushes pending publishes and closes the NATS connection.
func (c *NATSClient) Close() {
	if c == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
