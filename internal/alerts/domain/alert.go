package alerts

import (
	"context"
	"errors"
	"time"
)

// TypeOffline is the alert type raised when a device stays silent past its
// offline window. Metric alerts use the type configured on their rule.
const TypeOffline = "DEVICE_OFFLINE"

// Alert transitions.
const (
	TransitionOpened   = "opened"
	TransitionResolved = "resolved"
)

// ErrNotFound indicates the alert does not exist.
var ErrNotFound = errors.New("alerts: not found")

// Alert is one open or resolved alert instance. At most one row per
// (device_id, alert_type) has a null resolved_at at any instant; the
// storage layer enforces this with a partial unique index.
type Alert struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	AlertType  string    `json:"alert_type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the alert is unresolved.
func (a Alert) Open() bool {
	return a.ResolvedAt.IsZero()
}

// Repository persists alerts. Open and Resolve are idempotent against
// current state so concurrent sweeps and duplicate evaluations are safe.
type Repository interface {
	FindOpen(ctx context.Context, deviceID, alertType string) (*Alert, error)
	// Open inserts an open alert unless one already exists for the pair.
	// Returns false when the pair was already open.
	Open(ctx context.Context, alert *Alert) (bool, error)
	// Resolve closes the open alert for the pair and returns it. Returns
	// nil when nothing was open.
	Resolve(ctx context.Context, deviceID, alertType string, value float64, at time.Time) (*Alert, error)
	GetByID(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, deviceID, status string, from, to time.Time) ([]Alert, error)
}
