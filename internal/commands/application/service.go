package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	commandsevents "fleetpulse-cloud/internal/commands/application/events"
	commands "fleetpulse-cloud/internal/commands/domain"
	devices "fleetpulse-cloud/internal/devices/domain"
	"fleetpulse-cloud/internal/eventing"
	"fleetpulse-cloud/internal/observability/metrics"
)

// ErrValidation wraps request validation failures.
var ErrValidation = errors.New("commands: validation")

const defaultTTL = time.Hour

// Publisher publishes command lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IssueRequest is an operator enqueue request.
type IssueRequest struct {
	DeviceID    string           `json:"device_id"`
	CommandType string           `json:"command_type"`
	Payload     commands.Payload `json:"payload"`
	TTLSeconds  int              `json:"ttl_s"`
}

// IssueResponse is returned after enqueueing a command.
type IssueResponse struct {
	CommandID    string    `json:"command_id"`
	DeviceID     string    `json:"device_id"`
	Status       string    `json:"status"`
	SupersededID string    `json:"superseded_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Service handles command enqueue, ack and expiry.
type Service struct {
	repo    commands.Repository
	devices devices.Repository
	pub     Publisher
	logger  *log.Logger
	clock   Clock
	ttl     time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDefaultTTL overrides the default command TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPublisher attaches an event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// NewService constructs a command service.
func NewService(repo commands.Repository, deviceRepo devices.Repository, logger *log.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("commands: nil repository")
	}
	if deviceRepo == nil {
		return nil, errors.New("commands: nil device repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		repo:    repo,
		devices: deviceRepo,
		logger:  logger,
		clock:   systemClock{},
		ttl:     defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue enqueues a command, superseding any pending one for the device. A
// shutdown payload also flips the device to disabled mode so the alerting
// side stops treating silence as an incident.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	if err := validateIssue(req); err != nil {
		return nil, err
	}
	device, err := s.devices.Get(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown device %q", ErrValidation, req.DeviceID)
		}
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("%w: unknown device %q", ErrValidation, req.DeviceID)
	}

	now := s.clock.Now()
	ttl := s.ttl
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}

	cmd := &commands.ControlCommand{
		ID:          uuid.NewString(),
		DeviceID:    device.DeviceID,
		CommandType: req.CommandType,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	supersededID, err := s.repo.Enqueue(ctx, cmd)
	if err != nil {
		return nil, err
	}
	metrics.IncCommandIssued()
	if supersededID != "" {
		metrics.IncCommandResult(commands.StatusSuperseded)
	}

	if req.Payload.ShutdownRequested {
		if err := s.devices.SetOperationMode(ctx, device.DeviceID, devices.ModeDisabled, now); err != nil {
			return nil, fmt.Errorf("commands: set shutdown mode: %w", err)
		}
		s.logger.Printf("command shutdown device=%s grace=%ds", device.DeviceID, req.Payload.ShutdownGraceS)
	}

	if err := s.publishIssued(ctx, cmd, supersededID); err != nil {
		return nil, err
	}
	return &IssueResponse{
		CommandID:    cmd.ID,
		DeviceID:     cmd.DeviceID,
		Status:       cmd.Status,
		SupersededID: supersededID,
		ExpiresAt:    cmd.ExpiresAt,
		CreatedAt:    cmd.CreatedAt,
	}, nil
}

// Ack transitions a pending command to acknowledged for the device that
// owns it. Acking a superseded, expired or already acknowledged command is
// a no-op, not an error.
func (s *Service) Ack(ctx context.Context, deviceID, commandID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrValidation)
	}
	if commandID == "" {
		return fmt.Errorf("%w: empty command id", ErrValidation)
	}
	cmd, err := s.repo.GetByID(ctx, commandID)
	if err != nil {
		if errors.Is(err, commands.ErrNotFound) {
			return fmt.Errorf("%w: unknown command %q", ErrValidation, commandID)
		}
		return err
	}
	if cmd.DeviceID != deviceID {
		return fmt.Errorf("%w: command %q does not belong to device", ErrValidation, commandID)
	}

	now := s.clock.Now()
	acked, err := s.repo.Ack(ctx, commandID, now)
	if err != nil {
		return err
	}
	if !acked {
		return nil
	}
	metrics.IncCommandResult(commands.StatusAcknowledged)
	if s.pub != nil {
		ctx = eventing.WithDeviceID(ctx, deviceID)
		return s.pub.Publish(ctx, commandsevents.CommandAcknowledged{
			EventID:    eventing.NewEventID(),
			CommandID:  commandID,
			DeviceID:   deviceID,
			OccurredAt: now,
		})
	}
	return nil
}

// NextPending returns the live pending command for a device, nil when none.
func (s *Service) NextPending(ctx context.Context, deviceID string) (*commands.ControlCommand, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrValidation)
	}
	return s.repo.NextPending(ctx, deviceID, s.clock.Now())
}

// List returns the newest commands for a device.
func (s *Service) List(ctx context.Context, deviceID string, limit int) ([]commands.ControlCommand, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrValidation)
	}
	return s.repo.ListByDevice(ctx, deviceID, limit)
}

// ExpireOverdue marks overdue pending commands expired. Run from a ticker.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddCommandExpired(n)
		s.logger.Printf("command sweep expired=%d", n)
	}
	return n, nil
}

func validateIssue(req IssueRequest) error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrValidation)
	}
	if req.CommandType == "" {
		return fmt.Errorf("%w: empty command type", ErrValidation)
	}
	if req.TTLSeconds < 0 {
		return fmt.Errorf("%w: negative ttl", ErrValidation)
	}
	if req.Payload.ShutdownGraceS < 0 {
		return fmt.Errorf("%w: negative shutdown grace", ErrValidation)
	}
	if req.Payload.ShutdownGraceS > 0 && !req.Payload.ShutdownRequested {
		return fmt.Errorf("%w: shutdown grace without shutdown request", ErrValidation)
	}
	return nil
}

func (s *Service) publishIssued(ctx context.Context, cmd *commands.ControlCommand, supersededID string) error {
	if s.pub == nil {
		return nil
	}
	eventID := eventing.NewEventID()
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithDeviceID(ctx, cmd.DeviceID)
	return s.pub.Publish(ctx, commandsevents.CommandIssued{
		EventID:      eventID,
		CommandID:    cmd.ID,
		DeviceID:     cmd.DeviceID,
		CommandType:  cmd.CommandType,
		Payload:      cmd.Payload,
		SupersededID: supersededID,
		ExpiresAt:    cmd.ExpiresAt,
		OccurredAt:   cmd.CreatedAt,
	})
}
