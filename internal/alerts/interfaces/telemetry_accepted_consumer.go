package interfaces

import (
	"context"
	"errors"

	alertapp "fleetpulse-cloud/internal/alerts/application"
	ingestevents "fleetpulse-cloud/internal/ingest/application/events"
)

// TelemetryAcceptedConsumer adapts accepted telemetry events into the alert
// engine.
type TelemetryAcceptedConsumer struct {
	engine *alertapp.Engine
}

// NewTelemetryAcceptedConsumer constructs a consumer.
func NewTelemetryAcceptedConsumer(engine *alertapp.Engine) (*TelemetryAcceptedConsumer, error) {
	if engine == nil {
		return nil, errors.New("alerts consumer: nil engine")
	}
	return &TelemetryAcceptedConsumer{engine: engine}, nil
}

// Consume handles a telemetry accepted event.
func (c *TelemetryAcceptedConsumer) Consume(ctx context.Context, event ingestevents.TelemetryAccepted) error {
	return c.engine.HandleTelemetryAccepted(ctx, event)
}
