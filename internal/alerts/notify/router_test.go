package notify

import (
	"context"
	"testing"
	"time"

	alertevents "fleetpulse-cloud/internal/alerts/application/events"
	alerts "fleetpulse-cloud/internal/alerts/domain"
	devices "fleetpulse-cloud/internal/devices/domain"
)

type memDecisionRepo struct {
	decisions []alerts.Decision
}

func (m *memDecisionRepo) Record(_ context.Context, d *alerts.Decision) error {
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *memDecisionRepo) HasDelivered(_ context.Context, alertID, transition string) (bool, error) {
	for _, d := range m.decisions {
		if d.AlertID == alertID && d.Transition == transition && d.Outcome == alerts.DecisionDeliver {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDecisionRepo) LastDeliveredAt(_ context.Context, deviceID, alertType string) (time.Time, error) {
	var last time.Time
	for _, d := range m.decisions {
		if d.DeviceID == deviceID && d.AlertType == alertType && d.Outcome == alerts.DecisionDeliver && d.CreatedAt.After(last) {
			last = d.CreatedAt
		}
	}
	return last, nil
}

func (m *memDecisionRepo) List(_ context.Context, _ string, _ int) ([]alerts.Decision, error) {
	return m.decisions, nil
}

func (m *memDecisionRepo) last(t *testing.T) alerts.Decision {
	t.Helper()
	if len(m.decisions) == 0 {
		t.Fatal("no decision recorded")
	}
	return m.decisions[len(m.decisions)-1]
}

type stubDeviceRepo struct {
	device *devices.Device
}

func (s stubDeviceRepo) Get(_ context.Context, _ string) (*devices.Device, error) {
	if s.device == nil {
		return nil, devices.ErrNotFound
	}
	return s.device, nil
}

func (s stubDeviceRepo) Create(_ context.Context, _ *devices.Device) error { return nil }

func (s stubDeviceRepo) List(_ context.Context) ([]devices.Device, error) { return nil, nil }

func (s stubDeviceRepo) AdvanceLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (s stubDeviceRepo) SetOperationMode(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (s stubDeviceRepo) SetMutedUntil(_ context.Context, _ string, _, _ time.Time) error { return nil }

type captureChannel struct {
	sent []alertevents.AlertTransitioned
}

func (c *captureChannel) Send(_ context.Context, event alertevents.AlertTransitioned) error {
	c.sent = append(c.sent, event)
	return nil
}

type fixedClock struct{ at time.Time }

func (f fixedClock) Now() time.Time { return f.at }

func transition(alertID, transition string) alertevents.AlertTransitioned {
	return alertevents.AlertTransitioned{
		EventID:    "evt-" + alertID,
		DeviceID:   "dev-1",
		AlertID:    alertID,
		AlertType:  "BATTERY_LOW",
		Severity:   "warning",
		Transition: transition,
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(t *testing.T, repo *memDecisionRepo, device *devices.Device, ch Channel, opts ...RouterOption) *Router {
	t.Helper()
	router, err := NewRouter(repo, stubDeviceRepo{device: device}, ch, nil, opts...)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router
}

func TestRouterDeliversAndRecords(t *testing.T) {
	repo := &memDecisionRepo{}
	ch := &captureChannel{}
	device := &devices.Device{DeviceID: "dev-1", Enabled: true, OperationMode: devices.ModeActive}
	router := newTestRouter(t, repo, device, ch)

	if err := router.HandleAlertTransitioned(context.Background(), transition("a-1", alerts.TransitionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(ch.sent))
	}
	if got := repo.last(t); got.Outcome != alerts.DecisionDeliver {
		t.Fatalf("expected deliver outcome, got %s", got.Outcome)
	}
}

func TestRouterDedupesRepeatedTransition(t *testing.T) {
	repo := &memDecisionRepo{}
	ch := &captureChannel{}
	device := &devices.Device{DeviceID: "dev-1", Enabled: true, OperationMode: devices.ModeActive}
	router := newTestRouter(t, repo, device, ch)

	event := transition("a-1", alerts.TransitionOpened)
	for i := 0; i < 2; i++ {
		if err := router.HandleAlertTransitioned(context.Background(), event); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected a single delivery, got %d", len(ch.sent))
	}
	if got := repo.last(t); got.Outcome != alerts.DecisionDedupe {
		t.Fatalf("expected dedupe outcome, got %s", got.Outcome)
	}
	if len(repo.decisions) != 2 {
		t.Fatalf("every transition must record a decision, got %d", len(repo.decisions))
	}
}

func TestRouterThrottlesWithinCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := &memDecisionRepo{}
	ch := &captureChannel{}
	device := &devices.Device{DeviceID: "dev-1", Enabled: true, OperationMode: devices.ModeActive}
	router := newTestRouter(t, repo, device, ch,
		WithClock(fixedClock{at: now}),
		WithCooldown(10*time.Minute),
	)

	if err := router.HandleAlertTransitioned(context.Background(), transition("a-1", alerts.TransitionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	// A different alert instance of the same type inside the cooldown.
	if err := router.HandleAlertTransitioned(context.Background(), transition("a-2", alerts.TransitionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(ch.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(ch.sent))
	}
	if got := repo.last(t); got.Outcome != alerts.DecisionThrottle {
		t.Fatalf("expected throttle outcome, got %s", got.Outcome)
	}
}

func TestRouterSuppressesMutedDevice(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := &memDecisionRepo{}
	ch := &captureChannel{}
	device := &devices.Device{
		DeviceID:         "dev-1",
		Enabled:          true,
		OperationMode:    devices.ModeActive,
		AlertsMutedUntil: now.Add(time.Hour),
	}
	router := newTestRouter(t, repo, device, ch, WithClock(fixedClock{at: now}))

	if err := router.HandleAlertTransitioned(context.Background(), transition("a-1", alerts.TransitionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatal("muted device must not receive deliveries")
	}
	got := repo.last(t)
	if got.Outcome != alerts.DecisionSuppress {
		t.Fatalf("expected suppress outcome, got %s", got.Outcome)
	}
	if got.Reason == "" {
		t.Fatal("suppress decision must carry a reason")
	}
}

func TestRouterSuppressesDuringQuietHours(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	repo := &memDecisionRepo{}
	ch := &captureChannel{}
	device := &devices.Device{DeviceID: "dev-1", Enabled: true, OperationMode: devices.ModeActive}
	router := newTestRouter(t, repo, device, ch,
		WithClock(fixedClock{at: now}),
		WithQuietHours(QuietHours{Start: 22 * 60, End: 6 * 60}),
	)

	if err := router.HandleAlertTransitioned(context.Background(), transition("a-1", alerts.TransitionOpened)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatal("quiet hours must suppress delivery")
	}
	if got := repo.last(t); got.Reason != "quiet hours" {
		t.Fatalf("expected quiet hours reason, got %q", got.Reason)
	}
}

func TestQuietHoursWindow(t *testing.T) {
	wrap := QuietHours{Start: 22 * 60, End: 6 * 60}
	if !wrap.Contains(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatal("23:00 is inside a 22:00-06:00 window")
	}
	if !wrap.Contains(time.Date(2026, 3, 1, 5, 59, 0, 0, time.UTC)) {
		t.Fatal("05:59 is inside a 22:00-06:00 window")
	}
	if wrap.Contains(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("noon is outside a 22:00-06:00 window")
	}
	if (QuietHours{}).Contains(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("empty window suppresses nothing")
	}
}
