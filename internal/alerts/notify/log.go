package notify

import (
	"context"
	"errors"
	"log"

	alertevents "fleetpulse-cloud/internal/alerts/application/events"
)

// LogChannel writes transitions to the process log. It stands in when no
// webhook or broker channel is configured so routing decisions still get
// exercised and recorded.
type LogChannel struct {
	logger *log.Logger
}

// NewLogChannel constructs a log channel.
func NewLogChannel(logger *log.Logger) *LogChannel {
	if logger == nil {
		logger = log.Default()
	}
	return &LogChannel{logger: logger}
}

// Send logs the transition.
func (c *LogChannel) Send(_ context.Context, event alertevents.AlertTransitioned) error {
	if c == nil {
		return errors.New("notify: nil log channel")
	}
	c.logger.Printf("notify %s alert=%s device=%s type=%s severity=%s",
		event.Transition, event.AlertID, event.DeviceID, event.AlertType, event.Severity)
	return nil
}
