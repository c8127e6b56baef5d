package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	alerts "fleetpulse-cloud/internal/alerts/domain"
	commands "fleetpulse-cloud/internal/commands/domain"
	devices "fleetpulse-cloud/internal/devices/domain"
)

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

type stubCommandReader struct {
	pending *commands.ControlCommand
}

func (s stubCommandReader) NextPending(_ context.Context, _ string, _ time.Time) (*commands.ControlCommand, error) {
	return s.pending, nil
}

func testConfig() Config {
	return Config{
		Defaults: Settings{
			ReportIntervalS:      300,
			SleepReportIntervalS: 3600,
			DeltaThresholds:      map[string]float64{"temp_c": 0.5},
			CostCaps:             CostCaps{DailyEnergyWh: 1000, MonthlyCost: 42},
		},
		AlertRules: []alerts.ThresholdRule{{
			Metric:    "battery_pct",
			AlertType: "BATTERY_LOW",
			Trigger:   20,
			Recover:   25,
			Severity:  "warning",
			Message:   "battery below threshold",
		}},
	}
}

func newTestComposer(t *testing.T, device *devices.Device, pending *commands.ControlCommand) *Composer {
	t.Helper()
	composer, err := NewComposer(testConfig(), stubDeviceRepo{device: device}, stubCommandReader{pending: pending})
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	return composer
}

func activeDevice() *devices.Device {
	return &devices.Device{DeviceID: "dev-1", Enabled: true, OperationMode: devices.ModeActive}
}

func TestComposeIsDeterministic(t *testing.T) {
	composer := newTestComposer(t, activeDevice(), nil)

	_, first, err := composer.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	_, second, err := composer.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if first != second {
		t.Fatalf("identical state must yield identical etags: %s vs %s", first, second)
	}
}

func TestPendingCommandChangesETag(t *testing.T) {
	without := newTestComposer(t, activeDevice(), nil)
	with := newTestComposer(t, activeDevice(), &commands.ControlCommand{
		ID:       "cmd-1",
		DeviceID: "dev-1",
		Status:   commands.StatusPending,
		Payload:  json.RawMessage(`{"report_interval_s":60}`),
	})

	_, etagWithout, err := without.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	payload, etagWith, err := with.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if etagWithout == etagWith {
		t.Fatal("pending command must change the etag")
	}
	if payload.PendingCommand == nil || payload.PendingCommand.ID != "cmd-1" {
		t.Fatal("expected pending command in payload")
	}
}

func TestSleepModeUsesSleepInterval(t *testing.T) {
	sleeping := activeDevice()
	sleeping.OperationMode = devices.ModeSleep
	composer := newTestComposer(t, sleeping, nil)

	payload, _, err := composer.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if payload.ReportIntervalS != 3600 {
		t.Fatalf("expected sleep interval 3600, got %d", payload.ReportIntervalS)
	}
	if payload.OperationMode != devices.ModeSleep {
		t.Fatalf("expected sleep mode, got %s", payload.OperationMode)
	}
}

func TestOperationModeChangesETag(t *testing.T) {
	active := newTestComposer(t, activeDevice(), nil)
	sleeping := activeDevice()
	sleeping.OperationMode = devices.ModeSleep
	asleep := newTestComposer(t, sleeping, nil)

	_, a, err := active.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	_, b, err := asleep.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if a == b {
		t.Fatal("operation mode must change the etag")
	}
}

func TestComposeIncludesAlertThresholds(t *testing.T) {
	composer := newTestComposer(t, activeDevice(), nil)
	payload, _, err := composer.Compose(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(payload.AlertThresholds) != 1 {
		t.Fatalf("expected one threshold, got %d", len(payload.AlertThresholds))
	}
	got := payload.AlertThresholds[0]
	if got.Metric != "battery_pct" || got.Trigger != 20 || got.Recover != 25 {
		t.Fatalf("unexpected threshold %+v", got)
	}
}
