package events

import (
	"encoding/json"
	"time"
)

// CommandIssued is emitted when an operator enqueues a command.
type CommandIssued struct {
	EventID      string          `json:"event_id"`
	CommandID    string          `json:"command_id"`
	DeviceID     string          `json:"device_id"`
	CommandType  string          `json:"command_type"`
	Payload      json.RawMessage `json:"payload"`
	SupersededID string          `json:"superseded_id,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// CommandAcknowledged is emitted when the device confirms application.
type CommandAcknowledged struct {
	EventID    string    `json:"event_id"`
	CommandID  string    `json:"command_id"`
	DeviceID   string    `json:"device_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
