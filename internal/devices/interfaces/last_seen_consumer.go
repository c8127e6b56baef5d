package interfaces

import (
	"context"
	"errors"
	"time"

	devices "fleetpulse-cloud/internal/devices/domain"
	ingestevents "fleetpulse-cloud/internal/ingest/application/events"
)

// LastSeenConsumer advances a device's last_seen_at from accepted
// telemetry. The offline sweep reads that timestamp, so heartbeat tracking
// rides the same event the alert engine consumes.
type LastSeenConsumer struct {
	repo devices.Repository
}

// NewLastSeenConsumer constructs a consumer.
func NewLastSeenConsumer(repo devices.Repository) (*LastSeenConsumer, error) {
	if repo == nil {
		return nil, errors.New("devices consumer: nil repository")
	}
	return &LastSeenConsumer{repo: repo}, nil
}

// Consume raises last_seen_at to the newest accepted point timestamp.
func (c *LastSeenConsumer) Consume(ctx context.Context, event ingestevents.TelemetryAccepted) error {
	var newest time.Time
	for _, point := range event.Points {
		if point.TS.After(newest) {
			newest = point.TS
		}
	}
	if newest.IsZero() {
		newest = event.OccurredAt
	}
	if newest.IsZero() {
		return nil
	}
	return c.repo.AdvanceLastSeen(ctx, event.DeviceID, newest)
}
