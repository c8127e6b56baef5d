package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	alerts "fleetpulse-cloud/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alerts. A partial unique
// index on (device_id, alert_type) WHERE resolved_at IS NULL guarantees at
// most one open alert per pair even under concurrent evaluation.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// FindOpen returns the open alert for a (device, type) pair, or nil.
func (r *AlertRepository) FindOpen(ctx context.Context, deviceID, alertType string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if deviceID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, alert_type, severity, message, value, created_at, resolved_at
FROM alerts
WHERE device_id = $1 AND alert_type = $2 AND resolved_at IS NULL`, deviceID, alertType)
	return scanAlert(row)
}

// Open inserts an open alert unless the pair is already open. Returns false
// when a concurrent or earlier evaluation won the insert.
func (r *AlertRepository) Open(ctx context.Context, alert *alerts.Alert) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if alert == nil {
		return false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.DeviceID == "" || alert.AlertType == "" {
		return false, errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (id, device_id, alert_type, severity, message, value, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (device_id, alert_type) WHERE resolved_at IS NULL DO NOTHING`,
		alert.ID,
		alert.DeviceID,
		alert.AlertType,
		alert.Severity,
		alert.Message,
		alert.Value,
		alert.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Resolve closes the open alert for the pair and returns it. Returns nil
// when nothing was open, which keeps duplicate resolutions a no-op.
func (r *AlertRepository) Resolve(ctx context.Context, deviceID, alertType string, value float64, at time.Time) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if deviceID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE alerts
SET resolved_at = $1, value = $2
WHERE device_id = $3 AND alert_type = $4 AND resolved_at IS NULL
RETURNING id, device_id, alert_type, severity, message, value, created_at, resolved_at`,
		at, value, deviceID, alertType)
	alert, err := scanAlert(row)
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, alert_type, severity, message, value, created_at, resolved_at
FROM alerts
WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return alert, nil
}

// List returns alerts filtered by device, status and time range. Empty
// filters match everything.
func (r *AlertRepository) List(ctx context.Context, deviceID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := `
SELECT id, device_id, alert_type, severity, message, value, created_at, resolved_at
FROM alerts
WHERE 1=1`
	args := make([]any, 0, 4)
	if deviceID != "" {
		args = append(args, deviceID)
		query += ` AND device_id = $` + strconv.Itoa(len(args))
	}
	switch status {
	case "open":
		query += ` AND resolved_at IS NULL`
	case "resolved":
		query += ` AND resolved_at IS NOT NULL`
	case "":
	default:
		return nil, errors.New("alert repo: invalid status filter")
	}
	if !from.IsZero() {
		args = append(args, from)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a        alerts.Alert
			resolved sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.AlertType, &a.Severity, &a.Message, &a.Value, &a.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			a.ResolvedAt = resolved.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row *sql.Row) (*alerts.Alert, error) {
	var (
		a        alerts.Alert
		resolved sql.NullTime
	)
	err := row.Scan(&a.ID, &a.DeviceID, &a.AlertType, &a.Severity, &a.Message, &a.Value, &a.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		a.ResolvedAt = resolved.Time
	}
	return &a, nil
}

