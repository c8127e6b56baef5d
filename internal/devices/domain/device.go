package devices

import (
	"context"
	"errors"
	"time"
)

const (
	ModeActive   = "active"
	ModeSleep    = "sleep"
	ModeDisabled = "disabled"
)

// ErrNotFound indicates the device does not exist.
var ErrNotFound = errors.New("devices: not found")

// Device is a provisioned field device.
type Device struct {
	DeviceID           string    `json:"device_id"`
	Name               string    `json:"name"`
	Enabled            bool      `json:"enabled"`
	OperationMode      string    `json:"operation_mode"`
	OfflineAfterS      int       `json:"offline_after_s"`
	HeartbeatIntervalS int       `json:"heartbeat_interval_s"`
	AlertsMutedUntil   time.Time `json:"alerts_muted_until,omitempty"`
	LastSeenAt         time.Time `json:"last_seen_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ValidMode reports whether value is a known operation mode.
func ValidMode(value string) bool {
	switch value {
	case ModeActive, ModeSleep, ModeDisabled:
		return true
	default:
		return false
	}
}

// Muted reports whether alert notifications are muted at the given instant.
func (d Device) Muted(now time.Time) bool {
	return !d.AlertsMutedUntil.IsZero() && now.Before(d.AlertsMutedUntil)
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.DeviceID == "" {
		return errors.New("devices: empty device id")
	}
	if !ValidMode(d.OperationMode) {
		return errors.New("devices: invalid operation mode")
	}
	if d.OfflineAfterS <= 0 {
		return errors.New("devices: offline_after_s must be positive")
	}
	if d.HeartbeatIntervalS <= 0 {
		return errors.New("devices: heartbeat_interval_s must be positive")
	}
	return nil
}

// Repository persists devices.
type Repository interface {
	Get(ctx context.Context, deviceID string) (*Device, error)
	Create(ctx context.Context, device *Device) error
	List(ctx context.Context) ([]Device, error)
	// AdvanceLastSeen raises last_seen_at to ts when ts is newer. The update
	// uses GREATEST at the storage layer so out-of-order batches never
	// regress the value.
	AdvanceLastSeen(ctx context.Context, deviceID string, ts time.Time) error
	SetOperationMode(ctx context.Context, deviceID, mode string, updatedAt time.Time) error
	SetMutedUntil(ctx context.Context, deviceID string, until time.Time, updatedAt time.Time) error
}

// TokenRecord is a stored device credential. Only the fingerprint and the
// SHA-256 digest of the token are persisted.
type TokenRecord struct {
	Fingerprint string
	TokenHash   string
	DeviceID    string
	CreatedAt   time.Time
}

// TokenRepository persists device bearer tokens.
type TokenRepository interface {
	Insert(ctx context.Context, record TokenRecord) error
	FindByFingerprint(ctx context.Context, fingerprint string) (*TokenRecord, error)
}
