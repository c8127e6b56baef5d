package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "fleetpulse-cloud/internal/devices/domain"
)

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get fetches a device by id. It returns devices.ErrNotFound when no
// such device exists.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("device repo: empty device id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT device_id, name, enabled, operation_mode, offline_after_s, heartbeat_interval_s,
	alerts_muted_until, last_seen_at, created_at, updated_at
FROM devices
WHERE device_id = $1`, deviceID)
	device, err := scanDevice(row)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, devices.ErrNotFound
	}
	return device, nil
}

// Create inserts a device.
func (r *DeviceRepository) Create(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (
	device_id, name, enabled, operation_mode, offline_after_s, heartbeat_interval_s,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, device.DeviceID, device.Name, device.Enabled, device.OperationMode,
		device.OfflineAfterS, device.HeartbeatIntervalS, device.CreatedAt, device.UpdatedAt)
	return err
}

// List returns all devices ordered by id.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id, name, enabled, operation_mode, offline_after_s, heartbeat_interval_s,
	alerts_muted_until, last_seen_at, created_at, updated_at
FROM devices
ORDER BY device_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AdvanceLastSeen raises last_seen_at to ts when newer.
func (r *DeviceRepository) AdvanceLastSeen(ctx context.Context, deviceID string, ts time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" || ts.IsZero() {
		return errors.New("device repo: invalid last seen update")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices
SET last_seen_at = GREATEST(COALESCE(last_seen_at, 'epoch'::timestamptz), $2),
	updated_at = NOW()
WHERE device_id = $1`, deviceID, ts.UTC())
	return err
}

// SetOperationMode updates the operation mode.
func (r *DeviceRepository) SetOperationMode(ctx context.Context, deviceID, mode string, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if !devices.ValidMode(mode) {
		return errors.New("device repo: invalid operation mode")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET operation_mode = $2, updated_at = $3
WHERE device_id = $1`, deviceID, mode, updatedAt.UTC())
	if err != nil {
		return err
	}
	count, _ := result.RowsAffected()
	if count == 0 {
		return devices.ErrNotFound
	}
	return nil
}

// SetMutedUntil updates the notification mute window. A zero until clears it.
func (r *DeviceRepository) SetMutedUntil(ctx context.Context, deviceID string, until time.Time, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	muted := sql.NullTime{}
	if !until.IsZero() {
		muted = sql.NullTime{Time: until.UTC(), Valid: true}
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET alerts_muted_until = $2, updated_at = $3
WHERE device_id = $1`, deviceID, muted, updatedAt.UTC())
	if err != nil {
		return err
	}
	count, _ := result.RowsAffected()
	if count == 0 {
		return devices.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var device devices.Device
	var mutedUntil sql.NullTime
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.DeviceID,
		&device.Name,
		&device.Enabled,
		&device.OperationMode,
		&device.OfflineAfterS,
		&device.HeartbeatIntervalS,
		&mutedUntil,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if mutedUntil.Valid {
		device.AlertsMutedUntil = mutedUntil.Time.UTC()
	}
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
