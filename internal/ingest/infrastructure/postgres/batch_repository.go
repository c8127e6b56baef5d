package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	ingest "fleetpulse-cloud/internal/ingest/domain"
)

// BatchRepository reads ingestion batch audit records.
type BatchRepository struct {
	db *sql.DB
}

// NewBatchRepository constructs a repository.
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// ListByDevice lists batches for a device in a time range.
func (r *BatchRepository) ListByDevice(ctx context.Context, deviceID string, from, to time.Time) ([]ingest.Batch, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("batch repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("batch repo: empty device id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT batch_id, device_id, received_at, contract_version, contract_hash,
	points_accepted, duplicates, points_quarantined, points_rejected,
	unknown_metric_keys, type_mismatch_keys, source, processing_status
FROM ingestion_batches
WHERE device_id = $1 AND received_at >= $2 AND received_at < $3
ORDER BY received_at ASC`, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ingest.Batch
	for rows.Next() {
		var batch ingest.Batch
		var unknown, mismatch []byte
		if err := rows.Scan(
			&batch.BatchID,
			&batch.DeviceID,
			&batch.ReceivedAt,
			&batch.ContractVersion,
			&batch.ContractHash,
			&batch.Accepted,
			&batch.Duplicates,
			&batch.Quarantined,
			&batch.Rejected,
			&unknown,
			&mismatch,
			&batch.Source,
			&batch.Status,
		); err != nil {
			return nil, err
		}
		if len(unknown) > 0 {
			if err := json.Unmarshal(unknown, &batch.UnknownKeys); err != nil {
				return nil, err
			}
		}
		if len(mismatch) > 0 {
			if err := json.Unmarshal(mismatch, &batch.MismatchKeys); err != nil {
				return nil, err
			}
		}
		batch.ReceivedAt = batch.ReceivedAt.UTC()
		result = append(result, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
