package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/copybot/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL. Dedupe is pushed
// into the insert itself so concurrent workers raising the same alert cannot
// both get through the window.
type AlertStore struct {
	pool *pgxpool.Pool
}

var _ domain.AlertStore = (*AlertStore)(nil)

// NewAlertStore creates a new AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Create inserts the alert unless an alert with the same dedupe key exists
// inside the window, in which case it returns domain.ErrAlreadyExists. Alerts
// with an empty dedupe key are always inserted.
func (s *AlertStore) Create(ctx context.Context, a *domain.Alert, dedupeWindow time.Duration) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert data: %w", err)
	}

	const query = `
		INSERT INTO alerts (id, severity, title, message, data, requires_action, dedupe_key, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE $7 = ''
		   OR NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE dedupe_key = $7 AND created_at > $8::timestamptz - $9::interval
		)`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Severity), a.Title, a.Message, data,
		a.RequiresAction, a.DedupeKey, a.CreatedAt, dedupeWindow,
	)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// ListRecent returns the latest alerts, newest first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, severity, title, message, data, requires_action, dedupe_key, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity string
		var data []byte
		if err := rows.Scan(&a.ID, &severity, &a.Title, &a.Message, &data, &a.RequiresAction, &a.DedupeKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Severity = domain.AlertSeverity(severity)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &a.Data); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal alert data: %w", err)
			}
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate alerts: %w", err)
	}
	return alerts, nil
}
