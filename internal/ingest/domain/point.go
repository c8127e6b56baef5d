package ingest

import (
	"context"
	"errors"
	"time"
)

// Mismatch modes control what happens to a point whose known keys carry the
// wrong type.
const (
	ModeReject     = "reject"
	ModeQuarantine = "quarantine"
)

// Batch source tags.
const (
	SourceDirect     = "direct"
	SourceReplay     = "replay"
	SourceSimulation = "simulation"
)

// Batch processing statuses.
const (
	BatchCompleted = "completed"
	BatchPartial   = "partial"
)

// ErrValidation marks a malformed ingest request. Nothing is written.
var ErrValidation = errors.New("ingest: invalid request")

// ValidMode reports whether value is a known mismatch mode.
func ValidMode(value string) bool {
	return value == ModeReject || value == ModeQuarantine
}

// ValidSource reports whether value is a known batch source tag.
func ValidSource(value string) bool {
	switch value {
	case SourceDirect, SourceReplay, SourceSimulation:
		return true
	default:
		return false
	}
}

// Point is one telemetry report. (device_id, message_id) is the idempotency
// key: the canonical series stores at most one row per pair.
type Point struct {
	DeviceID  string         `json:"device_id"`
	MessageID string         `json:"message_id"`
	TS        time.Time      `json:"ts"`
	Metrics   map[string]any `json:"metrics"`
}

// QuarantinedPoint shadows a Point that failed type validation under
// quarantine mode. It is excluded from the canonical series and kept for
// forensics.
type QuarantinedPoint struct {
	Point
	MismatchKeys []string `json:"mismatch_keys"`
}

// Batch is the immutable audit record of one ingest call.
type Batch struct {
	BatchID         string    `json:"batch_id"`
	DeviceID        string    `json:"device_id"`
	ReceivedAt      time.Time `json:"received_at"`
	ContractVersion int       `json:"contract_version"`
	ContractHash    string    `json:"contract_hash"`
	Accepted        int       `json:"points_accepted"`
	Duplicates      int       `json:"duplicates"`
	Quarantined     int       `json:"points_quarantined"`
	Rejected        int       `json:"points_rejected"`
	UnknownKeys     []string  `json:"unknown_metric_keys"`
	MismatchKeys    []string  `json:"type_mismatch_keys"`
	Source          string    `json:"source"`
	Status          string    `json:"processing_status"`
}

// CommitResult reports per-message storage outcomes of one batch commit.
// A message id absent from the stored set hit the idempotency key and was
// classified duplicate.
type CommitResult struct {
	StoredAccepted    map[string]bool
	StoredQuarantined map[string]bool
	NewestAcceptedTS  time.Time
}

// Store persists one ingest call atomically: point rows, quarantine rows,
// the batch record and the last_seen advance commit in a single
// transaction. Idempotency-key reservation happens inside via
// insert-or-ignore, so racing duplicate submissions resolve at the storage
// layer without application locks.
type Store interface {
	CommitBatch(ctx context.Context, batch *Batch, accepted []Point, quarantined []QuarantinedPoint) (CommitResult, error)
}

// BatchReader loads batch audit records.
type BatchReader interface {
	ListByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]Batch, error)
}
