package application

import (
	"context"
	"testing"
	"time"

	"fleetpulse-cloud/internal/auth"
	devices "fleetpulse-cloud/internal/devices/domain"
)

type memDeviceRepo struct {
	devices map[string]*devices.Device
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{devices: make(map[string]*devices.Device)}
}

func (r *memDeviceRepo) Get(_ context.Context, deviceID string) (*devices.Device, error) {
	if d, ok := r.devices[deviceID]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, devices.ErrNotFound
}

func (r *memDeviceRepo) Create(_ context.Context, device *devices.Device) error {
	copied := *device
	r.devices[device.DeviceID] = &copied
	return nil
}

func (r *memDeviceRepo) List(_ context.Context) ([]devices.Device, error) {
	var list []devices.Device
	for _, d := range r.devices {
		list = append(list, *d)
	}
	return list, nil
}

func (r *memDeviceRepo) AdvanceLastSeen(_ context.Context, deviceID string, ts time.Time) error {
	if d, ok := r.devices[deviceID]; ok && ts.After(d.LastSeenAt) {
		d.LastSeenAt = ts
	}
	return nil
}

func (r *memDeviceRepo) SetOperationMode(_ context.Context, deviceID, mode string, updatedAt time.Time) error {
	if d, ok := r.devices[deviceID]; ok {
		d.OperationMode = mode
		d.UpdatedAt = updatedAt
	}
	return nil
}

func (r *memDeviceRepo) SetMutedUntil(_ context.Context, deviceID string, until time.Time, updatedAt time.Time) error {
	if d, ok := r.devices[deviceID]; ok {
		d.AlertsMutedUntil = until
		d.UpdatedAt = updatedAt
	}
	return nil
}

type memTokenRepo struct {
	records map[string]devices.TokenRecord
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{records: make(map[string]devices.TokenRecord)}
}

func (r *memTokenRepo) Insert(_ context.Context, record devices.TokenRecord) error {
	r.records[record.Fingerprint] = record
	return nil
}

func (r *memTokenRepo) FindByFingerprint(_ context.Context, fingerprint string) (*devices.TokenRecord, error) {
	if rec, ok := r.records[fingerprint]; ok {
		return &rec, nil
	}
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *memDeviceRepo, *memTokenRepo) {
	t.Helper()
	repo := newMemDeviceRepo()
	tokens := newMemTokenRepo()
	service, err := NewService(repo, tokens)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, repo, tokens
}

func TestRegisterIssuesTokenOnce(t *testing.T) {
	service, repo, tokens := newTestService(t)

	resp, err := service.Register(context.Background(), RegisterRequest{DeviceID: "dev-1", Name: "pump house"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected plaintext token in response")
	}
	if resp.Device.OperationMode != devices.ModeActive || !resp.Device.Enabled {
		t.Fatalf("unexpected device defaults: %+v", resp.Device)
	}
	if repo.devices["dev-1"] == nil {
		t.Fatal("device not persisted")
	}

	record, err := tokens.FindByFingerprint(context.Background(), auth.TokenFingerprint(resp.Token))
	if err != nil || record == nil {
		t.Fatalf("token record lookup: %v %v", record, err)
	}
	if record.TokenHash != auth.HashToken(resp.Token) {
		t.Fatal("stored hash does not match token")
	}
	if record.TokenHash == resp.Token {
		t.Fatal("plaintext token must not be stored")
	}
}

func TestRegisterRejectsDuplicateDevice(t *testing.T) {
	service, _, _ := newTestService(t)

	req := RegisterRequest{DeviceID: "dev-1"}
	if _, err := service.Register(context.Background(), req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := service.Register(context.Background(), req); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestSetOperationModeValidates(t *testing.T) {
	service, repo, _ := newTestService(t)
	if _, err := service.Register(context.Background(), RegisterRequest{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := service.SetOperationMode(context.Background(), "dev-1", "hibernate"); err == nil {
		t.Fatal("expected invalid mode error")
	}
	if err := service.SetOperationMode(context.Background(), "dev-1", devices.ModeSleep); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if repo.devices["dev-1"].OperationMode != devices.ModeSleep {
		t.Fatal("mode not applied")
	}
}

func TestMuteAndUnmuteWindow(t *testing.T) {
	service, repo, _ := newTestService(t)
	if _, err := service.Register(context.Background(), RegisterRequest{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	until := time.Now().UTC().Add(time.Hour)
	if err := service.Mute(context.Background(), "dev-1", until); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !repo.devices["dev-1"].Muted(time.Now().UTC()) {
		t.Fatal("device should report muted inside window")
	}
	if err := service.Unmute(context.Background(), "dev-1"); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if repo.devices["dev-1"].Muted(time.Now().UTC()) {
		t.Fatal("device should not report muted after unmute")
	}
}

func TestGetUnknownDevice(t *testing.T) {
	service, _, _ := newTestService(t)
	if _, err := service.Get(context.Background(), "ghost"); err != devices.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
