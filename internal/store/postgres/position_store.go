package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/copybot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Exit levels
// are stored as a JSONB document since they are always read and written as a
// unit with the position.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	levels, err := json.Marshal(p.Levels)
	if err != nil {
		return fmt.Errorf("postgres: marshal levels for position %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, signal_id, token_mint, token_symbol, status,
			entry_price, entry_amount, entry_tokens, entry_time,
			tokens_left, realized_pnl, exit_strategy, conviction,
			levels, moonbag_enabled, moonbag_pct,
			exit_reason, exit_time, exit_price, exit_fill_ids,
			peak_price, max_slippage_bps, simulated, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.SignalID, p.TokenMint, p.TokenSymbol, string(p.Status),
		p.EntryPrice, p.EntryAmount, p.EntryTokens, p.EntryTime,
		p.TokensLeft, p.RealizedPnl, p.ExitStrategy, string(p.Conviction),
		levels, p.MoonbagEnabled, p.MoonbagPct,
		p.ExitReason, p.ExitTime, p.ExitPrice, p.ExitFillIDs,
		p.PeakPrice, p.MaxSlippageBps, p.Simulated, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update persists the full mutable state of a position.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	levels, err := json.Marshal(p.Levels)
	if err != nil {
		return fmt.Errorf("postgres: marshal levels for position %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			status = $2, tokens_left = $3, realized_pnl = $4,
			levels = $5, moonbag_enabled = $6, moonbag_pct = $7,
			exit_reason = $8, exit_time = $9, exit_price = $10,
			exit_fill_ids = $11, peak_price = $12, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Status), p.TokensLeft, p.RealizedPnl,
		levels, p.MoonbagEnabled, p.MoonbagPct,
		p.ExitReason, p.ExitTime, p.ExitPrice,
		p.ExitFillIDs, p.PeakPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const positionSelectCols = `id, signal_id, token_mint, token_symbol, status,
	entry_price, entry_amount, entry_tokens, entry_time,
	tokens_left, realized_pnl, exit_strategy, conviction,
	levels, moonbag_enabled, moonbag_pct,
	exit_reason, exit_time, exit_price, exit_fill_ids,
	peak_price, max_slippage_bps, simulated, created_at, updated_at`

func scanPositionFromRow(
	scanner interface{ Scan(dest ...any) error },
) (*domain.Position, error) {
	var p domain.Position
	var status, conviction string
	var levels []byte

	err := scanner.Scan(
		&p.ID, &p.SignalID, &p.TokenMint, &p.TokenSymbol, &status,
		&p.EntryPrice, &p.EntryAmount, &p.EntryTokens, &p.EntryTime,
		&p.TokensLeft, &p.RealizedPnl, &p.ExitStrategy, &conviction,
		&levels, &p.MoonbagEnabled, &p.MoonbagPct,
		&p.ExitReason, &p.ExitTime, &p.ExitPrice, &p.ExitFillIDs,
		&p.PeakPrice, &p.MaxSlippageBps, &p.Simulated, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PositionStatus(status)
	p.Conviction = domain.ConvictionTier(conviction)
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &p.Levels); err != nil {
			return nil, fmt.Errorf("unmarshal levels: %w", err)
		}
	}
	return &p, nil
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPositionFromRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position the monitor must track.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionSelectCols + `
		FROM positions
		WHERE status IN ('open', 'partial_exit', 'moonbag')
		ORDER BY entry_time ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListHistory returns positions newest first with pagination and an optional
// time window on entry_time.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]*domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions`
	args := []any{}
	where := ""
	if opts.Since != nil {
		args = append(args, *opts.Since)
		where = fmt.Sprintf(" WHERE entry_time >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		if where == "" {
			where = fmt.Sprintf(" WHERE entry_time < $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND entry_time < $%d", len(args))
		}
	}
	query += where + " ORDER BY entry_time DESC"

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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// DeleteClosedBefore removes closed positions older than the cutoff. Callers
// archive them to cold storage first.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM positions WHERE status = 'closed' AND exit_time < $1`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return positions, nil
}
