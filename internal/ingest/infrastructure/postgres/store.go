package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	ingest "fleetpulse-cloud/internal/ingest/domain"
)

// Store is the Postgres implementation of the ingest commit. One ingest
// call is one transaction: telemetry rows, quarantine rows, the batch
// record and the device last_seen advance all land together or not at all.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CommitBatch implements ingest.Store. Point inserts use
// ON CONFLICT DO NOTHING on the (device_id, message_id) key; zero rows
// affected classifies the point as duplicate. The batch counts are derived
// from those outcomes and written in the same transaction.
func (s *Store) CommitBatch(ctx context.Context, batch *ingest.Batch, accepted []ingest.Point, quarantined []ingest.QuarantinedPoint) (ingest.CommitResult, error) {
	result := ingest.CommitResult{
		StoredAccepted:    make(map[string]bool, len(accepted)),
		StoredQuarantined: make(map[string]bool, len(quarantined)),
	}
	if s == nil || s.db == nil {
		return result, errors.New("ingest store: nil db")
	}
	if batch == nil {
		return result, errors.New("ingest store: nil batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}

	duplicates := 0
	var newest time.Time
	for _, point := range accepted {
		stored, err := insertPoint(ctx, tx, point)
		if err != nil {
			_ = tx.Rollback()
			return result, err
		}
		if !stored {
			duplicates++
			continue
		}
		result.StoredAccepted[point.MessageID] = true
		if point.TS.After(newest) {
			newest = point.TS
		}
	}

	for _, point := range quarantined {
		stored, err := insertQuarantined(ctx, tx, point)
		if err != nil {
			_ = tx.Rollback()
			return result, err
		}
		if !stored {
			duplicates++
			continue
		}
		result.StoredQuarantined[point.MessageID] = true
	}

	batch.Accepted = len(result.StoredAccepted)
	batch.Duplicates = duplicates
	batch.Quarantined = len(result.StoredQuarantined)

	if err := insertBatch(ctx, tx, batch); err != nil {
		_ = tx.Rollback()
		return result, err
	}

	if !newest.IsZero() {
		if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at = GREATEST(COALESCE(last_seen_at, 'epoch'::timestamptz), $2),
	updated_at = NOW()
WHERE device_id = $1`, batch.DeviceID, newest.UTC()); err != nil {
			_ = tx.Rollback()
			return result, err
		}
		result.NewestAcceptedTS = newest.UTC()
	}

	if err := tx.Commit(); err != nil {
		return ingest.CommitResult{
			StoredAccepted:    make(map[string]bool),
			StoredQuarantined: make(map[string]bool),
		}, err
	}
	return result, nil
}

func insertPoint(ctx context.Context, tx *sql.Tx, point ingest.Point) (bool, error) {
	if point.DeviceID == "" || point.MessageID == "" || point.TS.IsZero() {
		return false, errors.New("ingest store: invalid point")
	}
	metrics, err := json.Marshal(point.Metrics)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO telemetry_points (device_id, message_id, ts, metrics, received_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (device_id, message_id)
DO NOTHING`, point.DeviceID, point.MessageID, point.TS.UTC(), metrics)
	if err != nil {
		return false, err
	}
	count, _ := res.RowsAffected()
	return count > 0, nil
}

func insertQuarantined(ctx context.Context, tx *sql.Tx, point ingest.QuarantinedPoint) (bool, error) {
	if point.DeviceID == "" || point.MessageID == "" || point.TS.IsZero() {
		return false, errors.New("ingest store: invalid quarantined point")
	}
	metrics, err := json.Marshal(point.Metrics)
	if err != nil {
		return false, err
	}
	keys, err := json.Marshal(point.MismatchKeys)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO quarantined_points (device_id, message_id, ts, metrics, mismatch_keys, received_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (device_id, message_id)
DO NOTHING`, point.DeviceID, point.MessageID, point.TS.UTC(), metrics, keys)
	if err != nil {
		return false, err
	}
	count, _ := res.RowsAffected()
	return count > 0, nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch *ingest.Batch) error {
	unknown, err := json.Marshal(batch.UnknownKeys)
	if err != nil {
		return err
	}
	mismatch, err := json.Marshal(batch.MismatchKeys)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO ingestion_batches (
	batch_id, device_id, received_at, contract_version, contract_hash,
	points_accepted, duplicates, points_quarantined, points_rejected,
	unknown_metric_keys, type_mismatch_keys, source, processing_status
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)`, batch.BatchID, batch.DeviceID, batch.ReceivedAt.UTC(), batch.ContractVersion, batch.ContractHash,
		batch.Accepted, batch.Duplicates, batch.Quarantined, batch.Rejected,
		unknown, mismatch, batch.Source, batch.Status)
	return err
}
