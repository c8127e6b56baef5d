package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "fleetpulse-cloud/internal/alerts/domain"
)

// DecisionRepository is a Postgres repository for notification decisions.
type DecisionRepository struct {
	db *sql.DB
}

// NewDecisionRepository constructs a repository.
func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Record inserts a decision row.
func (r *DecisionRepository) Record(ctx context.Context, decision *alerts.Decision) error {
	if r == nil || r.db == nil {
		return errors.New("decision repo: nil db")
	}
	if decision == nil {
		return errors.New("decision repo: nil decision")
	}
	if decision.ID == "" || decision.DeviceID == "" || decision.AlertID == "" {
		return errors.New("decision repo: missing fields")
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_decisions (id, device_id, alert_id, alert_type, transition, outcome, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		decision.ID,
		decision.DeviceID,
		decision.AlertID,
		decision.AlertType,
		decision.Transition,
		decision.Outcome,
		decision.Reason,
		decision.CreatedAt,
	)
	return err
}

// HasDelivered reports whether the alert instance already got a delivered
// decision for the transition.
func (r *DecisionRepository) HasDelivered(ctx context.Context, alertID, transition string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("decision repo: nil db")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM notification_decisions
	WHERE alert_id = $1 AND transition = $2 AND outcome = $3
)`, alertID, transition, alerts.DecisionDeliver).Scan(&exists)
	return exists, err
}

// LastDeliveredAt returns the newest delivered decision time for the pair.
func (r *DecisionRepository) LastDeliveredAt(ctx context.Context, deviceID, alertType string) (time.Time, error) {
	if r == nil || r.db == nil {
		return time.Time{}, errors.New("decision repo: nil db")
	}
	var at sql.NullTime
	err := r.db.QueryRowContext(ctx, `
SELECT MAX(created_at) FROM notification_decisions
WHERE device_id = $1 AND alert_type = $2 AND outcome = $3`,
		deviceID, alertType, alerts.DecisionDeliver).Scan(&at)
	if err != nil {
		return time.Time{}, err
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

// List returns the newest decisions for a device.
func (r *DecisionRepository) List(ctx context.Context, deviceID string, limit int) ([]alerts.Decision, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("decision repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, alert_id, alert_type, transition, outcome, reason, created_at
FROM notification_decisions
WHERE device_id = $1
ORDER BY created_at DESC
LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Decision
	for rows.Next() {
		var d alerts.Decision
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.AlertID, &d.AlertType, &d.Transition, &d.Outcome, &d.Reason, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
