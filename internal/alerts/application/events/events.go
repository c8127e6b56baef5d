package events

import "time"

// AlertTransitioned is published on every opened/resolved transition. The
// notification router consumes it to make a delivery decision.
type AlertTransitioned struct {
	EventID    string    `json:"event_id"`
	DeviceID   string    `json:"device_id"`
	AlertID    string    `json:"alert_id"`
	AlertType  string    `json:"alert_type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	Transition string    `json:"transition"`
	Value      float64   `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
}
