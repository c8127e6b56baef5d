package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	alertevents "fleetpulse-cloud/internal/alerts/application/events"
)

const defaultNATSSubject = "fleetpulse.alerts"

// NATSChannel publishes alert transitions to a NATS subject.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
}

// NewNATSChannel connects to a NATS server.
func NewNATSChannel(url, subject string) (*NATSChannel, error) {
	if url == "" {
		return nil, errors.New("nats channel: empty url")
	}
	if subject == "" {
		subject = defaultNATSSubject
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSChannel{conn: conn, subject: subject}, nil
}

// Send publishes the transition payload.
func (c *NATSChannel) Send(_ context.Context, event alertevents.AlertTransitioned) error {
	if c == nil || c.conn == nil {
		return errors.New("nats channel: not connected")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.conn.Publish(c.subject+"."+event.Transition, data)
}

// Close drains and closes the connection.
func (c *NATSChannel) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Drain()
	c.conn.Close()
}
