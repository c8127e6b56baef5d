package commands

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Command statuses. Pending is the only live state; the other three are
// terminal. Expired is a normal outcome, not an error.
const (
	StatusPending      = "pending"
	StatusSuperseded   = "superseded"
	StatusExpired      = "expired"
	StatusAcknowledged = "acknowledged"
)

// ErrNotFound indicates the command does not exist.
var ErrNotFound = errors.New("commands: not found")

// Payload is the device-facing command body. Shutdown intent travels inside
// the payload rather than as a separate command type.
type Payload struct {
	ReportIntervalS   int  `json:"report_interval_s,omitempty"`
	ShutdownRequested bool `json:"shutdown_requested,omitempty"`
	ShutdownGraceS    int  `json:"shutdown_grace_s,omitempty"`
}

// ControlCommand is one queued configuration command for a device. At most
// one pending command exists per device; enqueueing a new one supersedes
// the previous pending row in the same transaction.
type ControlCommand struct {
	ID             string          `json:"id"`
	DeviceID       string          `json:"device_id"`
	CommandType    string          `json:"command_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	SupersededAt   time.Time       `json:"superseded_at,omitempty"`
	AcknowledgedAt time.Time       `json:"acknowledged_at,omitempty"`
}

// Expired reports whether the command's TTL has lapsed.
func (c ControlCommand) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Repository persists control commands.
type Repository interface {
	// Enqueue inserts a pending command, marking any existing pending row
	// for the device superseded inside the same transaction. Returns the
	// id of the superseded command, empty when the queue was empty.
	Enqueue(ctx context.Context, cmd *ControlCommand) (supersededID string, err error)
	// NextPending returns the live pending command for a device, expiring
	// a stale one lazily. Nil when the queue is empty.
	NextPending(ctx context.Context, deviceID string, now time.Time) (*ControlCommand, error)
	// Ack transitions pending to acknowledged. Returns false when the
	// command was not pending, which callers treat as a no-op.
	Ack(ctx context.Context, commandID string, at time.Time) (bool, error)
	// ExpireBefore marks overdue pending commands expired and returns the
	// count.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	GetByID(ctx context.Context, commandID string) (*ControlCommand, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]ControlCommand, error)
}
