package alerts

import (
	"context"
	"time"
)

// Notification decision outcomes.
const (
	DecisionDeliver  = "deliver"
	DecisionDedupe   = "dedupe"
	DecisionThrottle = "throttle"
	DecisionSuppress = "suppress"
)

// Decision records the routing outcome for one alert transition. Every
// transition yields exactly one decision row, whatever the outcome, so the
// notification history is auditable.
type Decision struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	AlertID    string    `json:"alert_id"`
	AlertType  string    `json:"alert_type"`
	Transition string    `json:"transition"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// DecisionRepository persists notification decisions.
type DecisionRepository interface {
	Record(ctx context.Context, decision *Decision) error
	// HasDelivered reports whether this alert instance already had a
	// delivered decision for the transition.
	HasDelivered(ctx context.Context, alertID, transition string) (bool, error)
	// LastDeliveredAt returns the newest delivered decision time for a
	// (device, alert type) pair, zero when none.
	LastDeliveredAt(ctx context.Context, deviceID, alertType string) (time.Time, error)
	List(ctx context.Context, deviceID string, limit int) ([]Decision, error)
}
