package application

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
	"fleetpulse-cloud/internal/eventing"
	ingestevents "fleetpulse-cloud/internal/ingest/application/events"
	"fleetpulse-cloud/internal/observability/metrics"
)

// Publisher publishes alert transition events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine evaluates threshold rules against accepted telemetry and drives the
// open/resolved alert lifecycle. One open alert per (device, alert type) at a
// time; evaluation is idempotent against re-delivered events.
type Engine struct {
	repo    alerts.Repository
	devices devices.Repository
	rules   []alerts.ThresholdRule
	pub     Publisher
	logger  *log.Logger
	clock   Clock

	offlineMessage string
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPublisher attaches a transition event publisher.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) { e.pub = p }
}

// NewEngine constructs an alert engine.
func NewEngine(repo alerts.Repository, deviceRepo devices.Repository, rules []alerts.ThresholdRule, logger *log.Logger, opts ...EngineOption) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("alert engine: nil repository")
	}
	if deviceRepo == nil {
		return nil, errors.New("alert engine: nil device repository")
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		repo:           repo,
		devices:        deviceRepo,
		rules:          rules,
		logger:         logger,
		clock:          systemClock{},
		offlineMessage: "device missed its heartbeat window",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleTelemetryAccepted evaluates every rule against the accepted points of
// a batch. Points arrive oldest first, so the newest sample decides the final
// state even when a single batch crosses a threshold in both directions.
// Threshold rules run regardless of operation mode; only the offline sweep
// honors sleep and disabled modes.
func (e *Engine) HandleTelemetryAccepted(ctx context.Context, event ingestevents.TelemetryAccepted) error {
	if event.DeviceID == "" || len(event.Points) == 0 {
		return nil
	}
	device, err := e.devices.Get(ctx, event.DeviceID)
	if errors.Is(err, devices.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("alert engine: load device: %w", err)
	}
	// Fresh telemetry means the device is reachable again.
	if err := e.resolveIfOpen(ctx, device.DeviceID, alerts.TypeOffline, 0, event.OccurredAt); err != nil {
		return err
	}
	for _, rule := range e.rules {
		if err := e.evaluateRule(ctx, device.DeviceID, rule, event.Points); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evaluateRule(ctx context.Context, deviceID string, rule alerts.ThresholdRule, points []ingestevents.AcceptedPoint) error {
	for _, p := range points {
		value, ok := metricValue(p.Metrics, rule.Metric)
		if !ok {
			continue
		}
		open, err := e.repo.FindOpen(ctx, deviceID, rule.AlertType)
		if err != nil {
			return fmt.Errorf("alert engine: find open: %w", err)
		}
		switch {
		case open == nil && rule.ShouldTrigger(value):
			if err := e.open(ctx, deviceID, rule.AlertType, rule.Severity, rule.Message, value, p.TS); err != nil {
				return err
			}
		case open != nil && rule.ShouldRecover(value):
			if err := e.resolveIfOpen(ctx, deviceID, rule.AlertType, value, p.TS); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateOffline opens or resolves DEVICE_OFFLINE alerts for the whole
// fleet. Devices that are disabled or deliberately sleeping are skipped; a
// sleeping device going quiet is expected, not an incident. One device
// failing never stops the sweep for the rest of the fleet.
func (e *Engine) EvaluateOffline(ctx context.Context) error {
	now := e.clock.Now()
	list, err := e.devices.List(ctx)
	if err != nil {
		return fmt.Errorf("alert engine: list devices: %w", err)
	}
	for _, d := range list {
		if e.suppressed(&d) {
			continue
		}
		if d.LastSeenAt.IsZero() {
			continue
		}
		window := time.Duration(d.OfflineAfterS) * time.Second
		var evalErr error
		if now.Sub(d.LastSeenAt) > window {
			evalErr = e.open(ctx, d.DeviceID, alerts.TypeOffline, "critical", e.offlineMessage, 0, now)
		} else {
			evalErr = e.resolveIfOpen(ctx, d.DeviceID, alerts.TypeOffline, 0, now)
		}
		if evalErr != nil {
			e.logger.Printf("alert engine: offline sweep device=%s: %v", d.DeviceID, evalErr)
		}
	}
	return nil
}

func (e *Engine) suppressed(d *devices.Device) bool {
	if d == nil {
		return true
	}
	if !d.Enabled {
		return true
	}
	return d.OperationMode == devices.ModeSleep || d.OperationMode == devices.ModeDisabled
}

func (e *Engine) open(ctx context.Context, deviceID, alertType, severity, message string, value float64, at time.Time) error {
	alert := &alerts.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		Value:     value,
		CreatedAt: at,
	}
	created, err := e.repo.Open(ctx, alert)
	if err != nil {
		return fmt.Errorf("alert engine: open: %w", err)
	}
	if !created {
		return nil
	}
	metrics.IncAlertTransition(alerts.TransitionOpened)
	e.logger.Printf("alert opened device=%s type=%s value=%v", deviceID, alertType, value)
	return e.publish(ctx, alert, alerts.TransitionOpened, value, at)
}

func (e *Engine) resolveIfOpen(ctx context.Context, deviceID, alertType string, value float64, at time.Time) error {
	resolved, err := e.repo.Resolve(ctx, deviceID, alertType, value, at)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("alert engine: resolve: %w", err)
	}
	if resolved == nil {
		return nil
	}
	metrics.IncAlertTransition(alerts.TransitionResolved)
	e.logger.Printf("alert resolved device=%s type=%s", deviceID, alertType)
	return e.publish(ctx, resolved, alerts.TransitionResolved, value, at)
}

func (e *Engine) publish(ctx context.Context, alert *alerts.Alert, transition string, value float64, at time.Time) error {
	if e.pub == nil {
		return nil
	}
	ctx = eventing.WithDeviceID(ctx, alert.DeviceID)
	return e.pub.Publish(ctx, alertevents.AlertTransitioned{
		EventID:    eventing.NewEventID(),
		DeviceID:   alert.DeviceID,
		AlertID:    alert.ID,
		AlertType:  alert.AlertType,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Transition: transition,
		Value:      value,
		OccurredAt: at,
	})
}

func metricValue(metrics map[string]any, key string) (float64, bool) {
	raw, ok := metrics[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
