package interfaces

import (
	"context"
	"testing"
	"time"

	devices "fleetpulse-cloud/internal/devices/domain"
	ingestevents "fleetpulse-cloud/internal/ingest/application/events"
)

type trackingDeviceRepo struct {
	lastSeen map[string]time.Time
	history  []time.Time
}

func newTrackingDeviceRepo() *trackingDeviceRepo {
	return &trackingDeviceRepo{lastSeen: make(map[string]time.Time)}
}

func (r *trackingDeviceRepo) Get(_ context.Context, _ string) (*devices.Device, error) {
	return nil, devices.ErrNotFound
}

func (r *trackingDeviceRepo) Create(_ context.Context, _ *devices.Device) error { return nil }

func (r *trackingDeviceRepo) List(_ context.Context) ([]devices.Device, error) { return nil, nil }

func (r *trackingDeviceRepo) AdvanceLastSeen(_ context.Context, deviceID string, ts time.Time) error {
	if ts.After(r.lastSeen[deviceID]) {
		r.lastSeen[deviceID] = ts
	}
	r.history = append(r.history, r.lastSeen[deviceID])
	return nil
}

func (r *trackingDeviceRepo) SetOperationMode(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (r *trackingDeviceRepo) SetMutedUntil(_ context.Context, _ string, _, _ time.Time) error {
	return nil
}

func acceptedAt(deviceID string, ts time.Time) ingestevents.TelemetryAccepted {
	return ingestevents.TelemetryAccepted{
		DeviceID:   deviceID,
		OccurredAt: ts,
		Points: []ingestevents.AcceptedPoint{
			{TS: ts, Metrics: map[string]any{"battery_pct": 50.0}},
		},
	}
}

func TestLastSeenNeverRegresses(t *testing.T) {
	repo := newTrackingDeviceRepo()
	consumer, err := NewLastSeenConsumer(repo)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for _, offset := range []time.Duration{10 * time.Minute, 5 * time.Minute, 15 * time.Minute} {
		if err := consumer.Consume(ctx, acceptedAt("dev-1", base.Add(offset))); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}

	for i := 1; i < len(repo.history); i++ {
		if repo.history[i].Before(repo.history[i-1]) {
			t.Fatalf("last_seen regressed from %v to %v", repo.history[i-1], repo.history[i])
		}
	}
	want := base.Add(15 * time.Minute)
	if !repo.lastSeen["dev-1"].Equal(want) {
		t.Fatalf("expected last_seen %v, got %v", want, repo.lastSeen["dev-1"])
	}
}

func TestLastSeenUsesNewestPointInBatch(t *testing.T) {
	repo := newTrackingDeviceRepo()
	consumer, err := NewLastSeenConsumer(repo)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	event := ingestevents.TelemetryAccepted{
		DeviceID:   "dev-1",
		OccurredAt: base,
		Points: []ingestevents.AcceptedPoint{
			{TS: base.Add(2 * time.Minute)},
			{TS: base.Add(9 * time.Minute)},
			{TS: base.Add(4 * time.Minute)},
		},
	}
	if err := consumer.Consume(context.Background(), event); err != nil {
		t.Fatalf("consume: %v", err)
	}
	want := base.Add(9 * time.Minute)
	if !repo.lastSeen["dev-1"].Equal(want) {
		t.Fatalf("expected last_seen %v, got %v", want, repo.lastSeen["dev-1"])
	}
}
