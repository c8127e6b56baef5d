package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"fleetpulse-cloud/internal/contract"
	"fleetpulse-cloud/internal/eventing"
	"fleetpulse-cloud/internal/ingest/application/events"
	ingest "fleetpulse-cloud/internal/ingest/domain"
	"fleetpulse-cloud/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Publisher publishes pipeline events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Request is one ingest call.
type Request struct {
	Source string       `json:"source,omitempty"`
	Points []PointInput `json:"points"`
}

// PointInput is one submitted telemetry report.
type PointInput struct {
	MessageID string         `json:"message_id"`
	TS        string         `json:"ts"`
	Metrics   map[string]any `json:"metrics"`
}

// PointRejection names a point that failed type validation in reject mode.
type PointRejection struct {
	MessageID string   `json:"message_id"`
	Keys      []string `json:"keys"`
}

// Result is the disposition of one ingest call.
type Result struct {
	BatchID     string           `json:"batch_id"`
	Accepted    int              `json:"accepted"`
	Duplicates  int              `json:"duplicates"`
	Quarantined int              `json:"quarantined"`
	Rejected    []PointRejection `json:"rejected,omitempty"`
}

// Pipeline is the contract-aware, idempotent ingestion pipeline.
type Pipeline struct {
	store     ingest.Store
	registry  *contract.Registry
	publisher Publisher
	mode      string
	clock     Clock
}

// PipelineOption customizes the pipeline.
type PipelineOption func(*Pipeline)

// WithClock assigns a clock.
func WithClock(clock Clock) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithMismatchMode sets the type-mismatch disposition mode.
func WithMismatchMode(mode string) PipelineOption {
	return func(p *Pipeline) {
		if ingest.ValidMode(mode) {
			p.mode = mode
		}
	}
}

// NewPipeline constructs an ingestion pipeline.
func NewPipeline(store ingest.Store, registry *contract.Registry, publisher Publisher, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("ingest: nil store")
	}
	if registry == nil {
		return nil, errors.New("ingest: nil contract registry")
	}
	pipeline := &Pipeline{
		store:     store,
		registry:  registry,
		publisher: publisher,
		mode:      ingest.ModeQuarantine,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Ingest processes one batch of points for an authenticated device. The
// whole call is safe to retry: the (device_id, message_id) key makes every
// resubmission converge on the same stored rows, with repeats counted as
// duplicates.
func (p *Pipeline) Ingest(ctx context.Context, deviceID string, req Request) (*Result, error) {
	if p == nil {
		return nil, errors.New("ingest: nil pipeline")
	}
	if err := validateRequest(deviceID, req); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = ingest.SourceDirect
	}

	now := p.clock.Now().UTC()
	batch := &ingest.Batch{
		BatchID:         uuid.NewString(),
		DeviceID:        deviceID,
		ReceivedAt:      now,
		ContractVersion: p.registry.Version(),
		ContractHash:    p.registry.Hash(),
		Source:          source,
		Status:          ingest.BatchCompleted,
	}

	var accepted []ingest.Point
	var quarantined []ingest.QuarantinedPoint
	var rejected []PointRejection
	unknownSet := make(map[string]struct{})
	mismatchSet := make(map[string]struct{})

	for _, input := range req.Points {
		ts, err := parseTimestamp(input.TS)
		if err != nil {
			return nil, fmt.Errorf("%w: point %s: %v", ingest.ErrValidation, input.MessageID, err)
		}

		validation, err := p.registry.Validate(input.Metrics)
		if err != nil {
			return nil, fmt.Errorf("%w: point %s: %v", ingest.ErrValidation, input.MessageID, err)
		}
		for _, key := range validation.UnknownKeys() {
			unknownSet[key] = struct{}{}
		}
		mismatchKeys := validation.MismatchedKeys()
		for _, key := range mismatchKeys {
			mismatchSet[key] = struct{}{}
		}

		point := ingest.Point{
			DeviceID:  deviceID,
			MessageID: input.MessageID,
			TS:        ts,
			Metrics:   input.Metrics,
		}
		if !validation.HasMismatch() {
			accepted = append(accepted, point)
			continue
		}
		switch p.mode {
		case ingest.ModeQuarantine:
			quarantined = append(quarantined, ingest.QuarantinedPoint{Point: point, MismatchKeys: mismatchKeys})
		default:
			rejected = append(rejected, PointRejection{MessageID: input.MessageID, Keys: mismatchKeys})
		}
	}

	batch.UnknownKeys = sortedKeys(unknownSet)
	batch.MismatchKeys = sortedKeys(mismatchSet)
	batch.Rejected = len(rejected)
	if len(rejected) > 0 {
		batch.Status = ingest.BatchPartial
	}

	commit, err := p.store.CommitBatch(ctx, batch, accepted, quarantined)
	if err != nil {
		metrics.IncIngestError("storage")
		return nil, err
	}

	metrics.AddIngestPoints("accepted", batch.Accepted)
	metrics.AddIngestPoints("duplicate", batch.Duplicates)
	metrics.AddIngestPoints("quarantined", batch.Quarantined)
	metrics.AddIngestPoints("rejected", batch.Rejected)

	p.publishAccepted(ctx, batch, accepted, commit, now)

	return &Result{
		BatchID:     batch.BatchID,
		Accepted:    batch.Accepted,
		Duplicates:  batch.Duplicates,
		Quarantined: batch.Quarantined,
		Rejected:    rejected,
	}, nil
}

func (p *Pipeline) publishAccepted(ctx context.Context, batch *ingest.Batch, accepted []ingest.Point, commit ingest.CommitResult, now time.Time) {
	if p.publisher == nil || len(commit.StoredAccepted) == 0 {
		return
	}
	stored := make([]events.AcceptedPoint, 0, len(commit.StoredAccepted))
	for _, point := range accepted {
		if !commit.StoredAccepted[point.MessageID] {
			continue
		}
		stored = append(stored, events.AcceptedPoint{
			MessageID: point.MessageID,
			TS:        point.TS,
			Metrics:   point.Metrics,
		})
	}
	// Evaluation order matters for the alert tie-break: oldest first, the
	// newest sample decides the final state.
	sort.Slice(stored, func(i, j int) bool { return stored[i].TS.Before(stored[j].TS) })

	eventID := eventing.NewEventID()
	event := events.TelemetryAccepted{
		EventID:    eventID,
		DeviceID:   batch.DeviceID,
		BatchID:    batch.BatchID,
		Points:     stored,
		OccurredAt: now,
	}
	ctx = eventing.WithEventID(ctx, eventID)
	ctx = eventing.WithDeviceID(ctx, batch.DeviceID)
	_ = p.publisher.Publish(ctx, event)
}

func validateRequest(deviceID string, req Request) error {
	if deviceID == "" {
		return fmt.Errorf("%w: missing device id", ingest.ErrValidation)
	}
	if len(req.Points) == 0 {
		return fmt.Errorf("%w: no points", ingest.ErrValidation)
	}
	if req.Source != "" && !ingest.ValidSource(req.Source) {
		return fmt.Errorf("%w: unknown source %q", ingest.ErrValidation, req.Source)
	}
	seen := make(map[string]struct{}, len(req.Points))
	for i, point := range req.Points {
		if point.MessageID == "" {
			return fmt.Errorf("%w: point %d missing message_id", ingest.ErrValidation, i)
		}
		if len(point.Metrics) == 0 {
			return fmt.Errorf("%w: point %s has no metrics", ingest.ErrValidation, point.MessageID)
		}
		if _, dup := seen[point.MessageID]; dup {
			return fmt.Errorf("%w: message_id %s repeated within request", ingest.ErrValidation, point.MessageID)
		}
		seen[point.MessageID] = struct{}{}
	}
	return nil
}

// parseTimestamp accepts RFC3339 timestamps and naive timestamps without a
// zone. Naive values are taken as UTC.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("missing ts")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable ts %q", value)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
