package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	alertevents "fleetpulse-cloud/internal/alerts/application/events"
	alerts "fleetpulse-cloud/internal/alerts/domain"
	devices "fleetpulse-cloud/internal/devices/domain"
	"fleetpulse-cloud/internal/observability/metrics"
)

// Clock provides time for routing decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// QuietHours suppresses delivery inside a daily UTC window. Start and End
// are minutes since midnight; a window may wrap past midnight.
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if q.Start == q.End {
		return false
	}
	minute := t.UTC().Hour()*60 + t.UTC().Minute()
	if q.Start < q.End {
		return minute >= q.Start && minute < q.End
	}
	return minute >= q.Start || minute < q.End
}

// Router turns alert transitions into notification decisions. Every
// transition produces exactly one recorded decision; delivery only happens
// on a deliver outcome.
type Router struct {
	decisions alerts.DecisionRepository
	devices   devices.Repository
	channel   Channel
	logger    *log.Logger
	clock     Clock
	cooldown  time.Duration
	quiet     *QuietHours
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClock overrides the time source.
func WithClock(c Clock) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithCooldown sets the per (device, alert type) delivery cooldown.
func WithCooldown(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// WithQuietHours sets a daily suppression window.
func WithQuietHours(q QuietHours) RouterOption {
	return func(r *Router) { r.quiet = &q }
}

// NewRouter constructs a notification router.
func NewRouter(decisions alerts.DecisionRepository, deviceRepo devices.Repository, channel Channel, logger *log.Logger, opts ...RouterOption) (*Router, error) {
	if decisions == nil {
		return nil, errors.New("notify router: nil decision repository")
	}
	if deviceRepo == nil {
		return nil, errors.New("notify router: nil device repository")
	}
	if channel == nil {
		return nil, errors.New("notify router: nil channel")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Router{
		decisions: decisions,
		devices:   deviceRepo,
		channel:   channel,
		logger:    logger,
		clock:     systemClock{},
		cooldown:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HandleAlertTransitioned decides and records the routing outcome for one
// transition, then delivers when the outcome is deliver.
func (r *Router) HandleAlertTransitioned(ctx context.Context, event alertevents.AlertTransitioned) error {
	outcome, reason, err := r.decide(ctx, event)
	if err != nil {
		return err
	}
	decision := &alerts.Decision{
		ID:         uuid.NewString(),
		DeviceID:   event.DeviceID,
		AlertID:    event.AlertID,
		AlertType:  event.AlertType,
		Transition: event.Transition,
		Outcome:    outcome,
		Reason:     reason,
		CreatedAt:  r.clock.Now(),
	}
	if err := r.decisions.Record(ctx, decision); err != nil {
		return fmt.Errorf("notify router: record decision: %w", err)
	}
	metrics.IncNotifyDecision(outcome)
	if outcome != alerts.DecisionDeliver {
		r.logger.Printf("notification %s device=%s alert=%s reason=%q", outcome, event.DeviceID, event.AlertType, reason)
		return nil
	}
	if err := r.channel.Send(ctx, event); err != nil {
		// The decision stands; delivery is retried by the next
		// transition, not by replaying this one.
		r.logger.Printf("notification send failed device=%s alert=%s: %v", event.DeviceID, event.AlertType, err)
	}
	return nil
}

func (r *Router) decide(ctx context.Context, event alertevents.AlertTransitioned) (outcome, reason string, err error) {
	now := r.clock.Now()

	device, err := r.devices.Get(ctx, event.DeviceID)
	if err != nil && !errors.Is(err, devices.ErrNotFound) {
		return "", "", fmt.Errorf("notify router: load device: %w", err)
	}
	if device != nil && device.Muted(now) {
		return alerts.DecisionSuppress, "device muted until " + device.AlertsMutedUntil.Format(time.RFC3339), nil
	}
	if r.quiet != nil && r.quiet.Contains(now) {
		return alerts.DecisionSuppress, "quiet hours", nil
	}

	delivered, err := r.decisions.HasDelivered(ctx, event.AlertID, event.Transition)
	if err != nil {
		return "", "", fmt.Errorf("notify router: dedupe lookup: %w", err)
	}
	if delivered {
		return alerts.DecisionDedupe, "already delivered for this alert instance", nil
	}

	last, err := r.decisions.LastDeliveredAt(ctx, event.DeviceID, event.AlertType)
	if err != nil {
		return "", "", fmt.Errorf("notify router: throttle lookup: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < r.cooldown {
		return alerts.DecisionThrottle, fmt.Sprintf("cooldown %s not elapsed", r.cooldown), nil
	}

	return alerts.DecisionDeliver, "", nil
}
