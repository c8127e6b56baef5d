package application

import (
	"context"
	"errors"
	"time"

	"fleetpulse-cloud/internal/auth"
	devices "fleetpulse-cloud/internal/devices/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service handles device provisioning and control-state mutations.
type Service struct {
	repo   devices.Repository
	tokens devices.TokenRepository
	clock  Clock
}

// ServiceOption customizes the device service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a device service.
func NewService(repo devices.Repository, tokens devices.TokenRepository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repository")
	}
	if tokens == nil {
		return nil, errors.New("devices: nil token repository")
	}
	service := &Service{repo: repo, tokens: tokens, clock: systemClock{}}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RegisterRequest provisions a new device.
type RegisterRequest struct {
	DeviceID           string `json:"device_id"`
	Name               string `json:"name"`
	OfflineAfterS      int    `json:"offline_after_s"`
	HeartbeatIntervalS int    `json:"heartbeat_interval_s"`
}

// RegisterResponse returns the provisioned device and its bearer token.
// The plaintext token is returned exactly once and never stored.
type RegisterResponse struct {
	Device devices.Device `json:"device"`
	Token  string         `json:"token"`
}

// Register provisions a device and issues its bearer token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if s == nil {
		return nil, errors.New("devices: nil service")
	}
	now := s.clock.Now().UTC()
	device := devices.Device{
		DeviceID:           req.DeviceID,
		Name:               req.Name,
		Enabled:            true,
		OperationMode:      devices.ModeActive,
		OfflineAfterS:      req.OfflineAfterS,
		HeartbeatIntervalS: req.HeartbeatIntervalS,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if device.OfflineAfterS <= 0 {
		device.OfflineAfterS = 900
	}
	if device.HeartbeatIntervalS <= 0 {
		device.HeartbeatIntervalS = 300
	}
	if err := device.Validate(); err != nil {
		return nil, err
	}
	switch _, err := s.repo.Get(ctx, device.DeviceID); {
	case err == nil:
		return nil, errors.New("devices: device already registered")
	case !errors.Is(err, devices.ErrNotFound):
		return nil, err
	}
	if err := s.repo.Create(ctx, &device); err != nil {
		return nil, err
	}

	token := auth.NewDeviceToken()
	record := devices.TokenRecord{
		Fingerprint: auth.TokenFingerprint(token),
		TokenHash:   auth.HashToken(token),
		DeviceID:    device.DeviceID,
		CreatedAt:   now,
	}
	if err := s.tokens.Insert(ctx, record); err != nil {
		return nil, err
	}
	return &RegisterResponse{Device: device, Token: token}, nil
}

// Get returns one device.
func (s *Service) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	if s == nil {
		return nil, errors.New("devices: nil service")
	}
	return s.repo.Get(ctx, deviceID)
}

// List returns all devices.
func (s *Service) List(ctx context.Context) ([]devices.Device, error) {
	if s == nil {
		return nil, errors.New("devices: nil service")
	}
	return s.repo.List(ctx)
}

// SetOperationMode updates a device's operation mode.
func (s *Service) SetOperationMode(ctx context.Context, deviceID, mode string) error {
	if s == nil {
		return errors.New("devices: nil service")
	}
	if !devices.ValidMode(mode) {
		return errors.New("devices: invalid operation mode")
	}
	return s.repo.SetOperationMode(ctx, deviceID, mode, s.clock.Now().UTC())
}

// Mute sets the notification mute window. Alerts still open and resolve
// while muted; only delivery decisions observe the window.
func (s *Service) Mute(ctx context.Context, deviceID string, until time.Time) error {
	if s == nil {
		return errors.New("devices: nil service")
	}
	return s.repo.SetMutedUntil(ctx, deviceID, until, s.clock.Now().UTC())
}

// Unmute clears the mute window.
func (s *Service) Unmute(ctx context.Context, deviceID string) error {
	if s == nil {
		return errors.New("devices: nil service")
	}
	return s.repo.SetMutedUntil(ctx, deviceID, time.Time{}, s.clock.Now().UTC())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
