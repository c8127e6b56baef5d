package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commands "fleetpulse-cloud/internal/commands/domain"
	devices "fleetpulse-cloud/internal/devices/domain"
)

// PendingCommand is the command slice of a policy payload.
type PendingCommand struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Payload is the full policy a device pulls. The ETag covers every field,
// pending command included, so a supersede or ack changes the ETag and the
// device re-reads.
type Payload struct {
	DeviceID        string             `json:"device_id"`
	OperationMode   string             `json:"operation_mode"`
	ReportIntervalS int                `json:"report_interval_s"`
	DeltaThresholds map[string]float64 `json:"delta_thresholds"`
	AlertThresholds []AlertThreshold   `json:"alert_thresholds"`
	CostCaps        CostCaps           `json:"cost_caps"`
	PendingCommand  *PendingCommand    `json:"pending_command"`
}

// AlertThreshold is the device-visible slice of a threshold rule.
type AlertThreshold struct {
	Metric  string  `json:"metric"`
	Trigger float64 `json:"trigger"`
	Recover float64 `json:"recover"`
}

// CommandReader surfaces the live pending command for a device.
type CommandReader interface {
	NextPending(ctx context.Context, deviceID string, now time.Time) (*commands.ControlCommand, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Composer assembles policy payloads and their ETags.
type Composer struct {
	cfg      Config
	devices  devices.Repository
	commands CommandReader
	clock    Clock
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithClock overrides the time source.
func WithClock(c Clock) ComposerOption {
	return func(p *Composer) {
		if c != nil {
			p.clock = c
		}
	}
}

// NewComposer constructs a policy composer.
func NewComposer(cfg Config, deviceRepo devices.Repository, commandReader CommandReader, opts ...ComposerOption) (*Composer, error) {
	if deviceRepo == nil {
		return nil, errors.New("policy composer: nil device repository")
	}
	if commandReader == nil {
		return nil, errors.New("policy composer: nil command reader")
	}
	p := &Composer{
		cfg:      cfg,
		devices:  deviceRepo,
		commands: commandReader,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Compose builds the policy payload for a device and its ETag. The payload
// is deterministic for identical inputs, so identical state always yields
// the same ETag.
func (p *Composer) Compose(ctx context.Context, deviceID string) (*Payload, string, error) {
	device, err := p.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, "", fmt.Errorf("policy composer: load device: %w", err)
	}
	if device == nil {
		return nil, "", fmt.Errorf("policy composer: load device: %w", devices.ErrNotFound)
	}
	settings := p.cfg.SettingsFor(deviceID)

	interval := settings.ReportIntervalS
	if device.OperationMode == devices.ModeSleep {
		interval = settings.SleepReportIntervalS
	}

	thresholds := make([]AlertThreshold, 0, len(p.cfg.AlertRules))
	for _, rule := range p.cfg.AlertRules {
		thresholds = append(thresholds, AlertThreshold{
			Metric:  rule.Metric,
			Trigger: rule.Trigger,
			Recover: rule.Recover,
		})
	}

	payload := &Payload{
		DeviceID:        device.DeviceID,
		OperationMode:   device.OperationMode,
		ReportIntervalS: interval,
		DeltaThresholds: settings.DeltaThresholds,
		AlertThresholds: thresholds,
		CostCaps:        settings.CostCaps,
	}

	pending, err := p.commands.NextPending(ctx, deviceID, p.clock.Now())
	if err != nil {
		return nil, "", fmt.Errorf("policy composer: pending command: %w", err)
	}
	if pending != nil {
		payload.PendingCommand = &PendingCommand{
			ID:        pending.ID,
			Status:    pending.Status,
			Payload:   pending.Payload,
			ExpiresAt: pending.ExpiresAt,
		}
	}

	etag, err := ETag(payload)
	if err != nil {
		return nil, "", err
	}
	return payload, etag, nil
}

// ETag computes the SHA-256 hex digest of the canonical JSON encoding of a
// payload. encoding/json sorts map keys, which keeps the encoding stable.
func ETag(payload *Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
