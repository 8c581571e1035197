package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/copybot/internal/domain"
)

// SizingAuditStore implements domain.SizingAuditStore using PostgreSQL. The
// table is append-only: rows are inserted and later pruned by retention, never
// updated. Request, config snapshot, and result are JSONB documents so the
// schema survives parameter additions without migrations.
type SizingAuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.SizingAuditStore = (*SizingAuditStore)(nil)

// NewSizingAuditStore creates a new SizingAuditStore backed by the given pool.
func NewSizingAuditStore(pool *pgxpool.Pool) *SizingAuditStore {
	return &SizingAuditStore{pool: pool}
}

// Append inserts one audit record.
func (s *SizingAuditStore) Append(ctx context.Context, a *domain.PositionSizeAudit) error {
	request, err := json.Marshal(a.Request)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit request: %w", err)
	}
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit config: %w", err)
	}
	result, err := json.Marshal(a.Result)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit result: %w", err)
	}

	const query = `
		INSERT INTO sizing_audits (id, signal_id, decision, request, config, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Request.SignalID, string(a.Result.Decision),
		request, config, result, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append sizing audit %s: %w", a.ID, err)
	}
	return nil
}

// List returns audit records newest first.
func (s *SizingAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]*domain.PositionSizeAudit, error) {
	query := `SELECT id, request, config, result, created_at FROM sizing_audits`
	args := []any{}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" WHERE created_at >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sizing audits: %w", err)
	}
	defer rows.Close()

	var audits []*domain.PositionSizeAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sizing audit: %w", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sizing audits: %w", err)
	}
	return audits, nil
}

// DeleteBefore prunes audit records older than the cutoff after archival.
func (s *SizingAuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM sizing_audits WHERE created_at < $1`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete sizing audits: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAudit(rows pgx.Rows) (*domain.PositionSizeAudit, error) {
	var a domain.PositionSizeAudit
	var request, config, result []byte
	if err := rows.Scan(&a.ID, &request, &config, &result, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &a.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := json.Unmarshal(config, &a.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(result, &a.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &a, nil
}
