package postgres

import (
	"context"
	"database/sql"
	"errors"

	devices "fleetpulse-cloud/internal/devices/domain"
)

// TokenRepository is a Postgres implementation for device tokens.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository constructs a repository.
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a token record.
func (r *TokenRepository) Insert(ctx context.Context, record devices.TokenRecord) error {
	if r == nil || r.db == nil {
		return errors.New("token repo: nil db")
	}
	if record.Fingerprint == "" || record.TokenHash == "" || record.DeviceID == "" {
		return errors.New("token repo: incomplete record")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_tokens (fingerprint, token_hash, device_id, created_at)
VALUES ($1, $2, $3, $4)`,
		record.Fingerprint, record.TokenHash, record.DeviceID, record.CreatedAt)
	return err
}

// FindByFingerprint looks up a token record.
func (r *TokenRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*devices.TokenRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("token repo: nil db")
	}
	if fingerprint == "" {
		return nil, errors.New("token repo: empty fingerprint")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT fingerprint, token_hash, device_id, created_at
FROM device_tokens
WHERE fingerprint = $1`, fingerprint)

	var record devices.TokenRecord
	if err := row.Scan(&record.Fingerprint, &record.TokenHash, &record.DeviceID, &record.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}
