package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	commands "fleetpulse-cloud/internal/commands/domain"
)

// CommandRepository is a Postgres repository for control commands.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// Enqueue inserts a pending command and supersedes the previous pending row
// for the device in one transaction. The device row is locked first; locking
// only the pending command row would leave nothing to lock when the queue is
// empty, and two concurrent enqueues could both insert a pending row.
func (r *CommandRepository) Enqueue(ctx context.Context, cmd *commands.ControlCommand) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("command repo: nil db")
	}
	if cmd == nil {
		return "", errors.New("command repo: nil command")
	}
	if cmd.ID == "" || cmd.DeviceID == "" || cmd.CommandType == "" {
		return "", errors.New("command repo: missing fields")
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return "", errors.New("command repo: invalid payload")
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID string
	err = tx.QueryRowContext(ctx, `
SELECT device_id FROM devices
WHERE device_id = $1
FOR UPDATE`, cmd.DeviceID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("command repo: unknown device")
	}
	if err != nil {
		return "", err
	}

	var supersededID string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM control_commands
WHERE device_id = $1 AND status = $2`, cmd.DeviceID, commands.StatusPending).Scan(&supersededID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if supersededID != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE control_commands
SET status = $1, superseded_at = $2
WHERE id = $3 AND status = $4`,
			commands.StatusSuperseded, cmd.CreatedAt, supersededID, commands.StatusPending); err != nil {
			return "", err
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO control_commands (id, device_id, command_type, payload, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cmd.ID, cmd.DeviceID, cmd.CommandType, payload, commands.StatusPending, cmd.CreatedAt, cmd.ExpiresAt); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	cmd.Status = commands.StatusPending
	return supersededID, nil
}

// NextPending returns the live pending command for a device. A pending row
// past its TTL is marked expired here rather than waiting for the sweep, so
// readers never see a stale command.
func (r *CommandRepository) NextPending(ctx context.Context, deviceID string, now time.Time) (*commands.ControlCommand, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("command repo: empty device id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, command_type, payload, status, created_at, expires_at, superseded_at, acknowledged_at
FROM control_commands
WHERE device_id = $1 AND status = $2`, deviceID, commands.StatusPending)
	cmd, err := scanCommand(row)
	if err != nil || cmd == nil {
		return nil, err
	}
	if cmd.Expired(now) {
		if _, err := r.db.ExecContext(ctx, `
UPDATE control_commands
SET status = $1
WHERE id = $2 AND status = $3`,
			commands.StatusExpired, cmd.ID, commands.StatusPending); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return cmd, nil
}

// Ack transitions a pending command to acknowledged. The status guard in
// the WHERE clause makes repeated acks a no-op.
func (r *CommandRepository) Ack(ctx context.Context, commandID string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	if commandID == "" {
		return false, errors.New("command repo: empty command id")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE control_commands
SET status = $1, acknowledged_at = $2
WHERE id = $3 AND status = $4`,
		commands.StatusAcknowledged, at, commandID, commands.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireBefore marks overdue pending commands expired.
func (r *CommandRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("command repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE control_commands
SET status = $1
WHERE status = $2 AND expires_at <= $3`,
		commands.StatusExpired, commands.StatusPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByID fetches a command by id.
func (r *CommandRepository) GetByID(ctx context.Context, commandID string) (*commands.ControlCommand, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, command_type, payload, status, created_at, expires_at, superseded_at, acknowledged_at
FROM control_commands
WHERE id = $1`, commandID)
	cmd, err := scanCommand(row)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, commands.ErrNotFound
	}
	return cmd, nil
}

// ListByDevice returns the newest commands for a device.
func (r *CommandRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]commands.ControlCommand, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, command_type, payload, status, created_at, expires_at, superseded_at, acknowledged_at
FROM control_commands
WHERE device_id = $1
ORDER BY created_at DESC
LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commands.ControlCommand
	for rows.Next() {
		cmd, err := scanCommandRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

func scanCommand(row *sql.Row) (*commands.ControlCommand, error) {
	var (
		cmd          commands.ControlCommand
		payload      []byte
		expiresAt    sql.NullTime
		supersededAt sql.NullTime
		ackedAt      sql.NullTime
	)
	err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.CommandType, &payload, &cmd.Status, &cmd.CreatedAt, &expiresAt, &supersededAt, &ackedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fillCommand(&cmd, payload, expiresAt, supersededAt, ackedAt)
	return &cmd, nil
}

func scanCommandRows(rows *sql.Rows) (*commands.ControlCommand, error) {
	var (
		cmd          commands.ControlCommand
		payload      []byte
		expiresAt    sql.NullTime
		supersededAt sql.NullTime
		ackedAt      sql.NullTime
	)
	if err := rows.Scan(&cmd.ID, &cmd.DeviceID, &cmd.CommandType, &payload, &cmd.Status, &cmd.CreatedAt, &expiresAt, &supersededAt, &ackedAt); err != nil {
		return nil, err
	}
	fillCommand(&cmd, payload, expiresAt, supersededAt, ackedAt)
	return &cmd, nil
}

func fillCommand(cmd *commands.ControlCommand, payload []byte, expiresAt, supersededAt, ackedAt sql.NullTime) {
	cmd.Payload = json.RawMessage(payload)
	if expiresAt.Valid {
		cmd.ExpiresAt = expiresAt.Time
	}
	if supersededAt.Valid {
		cmd.SupersededAt = supersededAt.Time
	}
	if ackedAt.Valid {
		cmd.AcknowledgedAt = ackedAt.Time
	}
}
