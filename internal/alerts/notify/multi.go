package notify

import (
	"context"
	"errors"

	alertevents "fleetpulse-cloud/internal/alerts/application/events"
)

// MultiChannel fans a transition out to several channels. Delivery errors
// are joined so one broken channel does not hide the others.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

// Send forwards the event to every channel.
func (m *MultiChannel) Send(ctx context.Context, event alertevents.AlertTransitioned) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if ch == nil {
			continue
		}
		if err := ch.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
