package events

import "time"

// AcceptedPoint is one newly stored telemetry point inside a
// TelemetryAccepted event.
type AcceptedPoint struct {
	MessageID string         `json:"message_id"`
	TS        time.Time      `json:"ts"`
	Metrics   map[string]any `json:"metrics"`
}

// TelemetryAccepted is published after a batch commit for every ingest call
// that stored at least one new point. Consumers evaluate alerts from it.
type TelemetryAccepted struct {
	EventID    string          `json:"event_id"`
	DeviceID   string          `json:"device_id"`
	BatchID    string          `json:"batch_id"`
	Points     []AcceptedPoint `json:"points"`
	OccurredAt time.Time       `json:"occurred_at"`
}
