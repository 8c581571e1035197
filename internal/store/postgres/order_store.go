package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/copybot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o *domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, order_type, side, signal_id, position_id, exit_reason,
			token_mint, token_symbol, amount_sol, amount_tokens,
			expected_price, actual_price, max_slippage_bps,
			status, fill_tx, filled_at,
			attempt_count, max_attempts, last_error, next_retry_at,
			locked_by, locked_until, simulated, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Type), string(o.Side), o.SignalID, o.PositionID, o.ExitReason,
		o.TokenMint, o.TokenSymbol, o.AmountSol, o.AmountTokens,
		o.ExpectedPrice, o.ActualPrice, o.MaxSlippageBps,
		string(o.Status), o.FillTx, o.FilledAt,
		o.AttemptCount, o.MaxAttempts, o.LastError, o.NextRetryAt,
		o.LockedBy, o.LockedUntil, o.Simulated, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Update persists the full mutable state of an order.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	const query = `
		UPDATE orders SET
			position_id = $2, exit_reason = $3,
			amount_sol = $4, amount_tokens = $5,
			actual_price = $6, status = $7, fill_tx = $8, filled_at = $9,
			attempt_count = $10, max_attempts = $11, last_error = $12,
			next_retry_at = $13, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.ExitReason,
		o.AmountSol, o.AmountTokens,
		o.ActualPrice, string(o.Status), o.FillTx, o.FilledAt,
		o.AttemptCount, o.MaxAttempts, o.LastError, o.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `id, order_type, side, signal_id, position_id, exit_reason,
	token_mint, token_symbol, amount_sol, amount_tokens,
	expected_price, actual_price, max_slippage_bps,
	status, fill_tx, filled_at,
	attempt_count, max_attempts, last_error, next_retry_at,
	locked_by, locked_until, simulated, created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (*domain.Order, error) {
	var o domain.Order
	var orderType, side, status string

	err := scanner.Scan(
		&o.ID, &orderType, &side, &o.SignalID, &o.PositionID, &o.ExitReason,
		&o.TokenMint, &o.TokenSymbol, &o.AmountSol, &o.AmountTokens,
		&o.ExpectedPrice, &o.ActualPrice, &o.MaxSlippageBps,
		&status, &o.FillTx, &o.FilledAt,
		&o.AttemptCount, &o.MaxAttempts, &o.LastError, &o.NextRetryAt,
		&o.LockedBy, &o.LockedUntil, &o.Simulated, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Type = domain.OrderType(orderType)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

// GetByID fetches a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`
	o, err := scanOrderFromRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Claim leases the order for the worker until now+ttl. The claim is a single
// conditional UPDATE: it succeeds only when the current lease is unset or
// expired, so two workers can never both hold a live lease on the same order.
func (s *OrderStore) Claim(ctx context.Context, id, workerID string, ttl time.Duration) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET locked_by = $2, locked_until = NOW() + $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_until IS NULL OR locked_until < NOW() OR locked_by = $2)
		RETURNING ` + orderSelectCols

	o, err := scanOrderFromRow(s.pool.QueryRow(ctx, query, id, workerID, ttl))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the order does not exist or another worker holds a live
			// lease; distinguish for the caller.
			var exists bool
			if exErr := s.pool.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id,
			).Scan(&exists); exErr != nil {
				return nil, fmt.Errorf("postgres: claim order %s: %w", id, exErr)
			}
			if !exists {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("postgres: claim order %s: %w", id, err)
	}
	return o, nil
}

// Release drops the worker's lease. Releasing a lease owned by a different
// worker is a no-op rather than an error.
func (s *OrderStore) Release(ctx context.Context, id, workerID string) error {
	const query = `
		UPDATE orders
		SET locked_by = '', locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`
	if _, err := s.pool.Exec(ctx, query, id, workerID); err != nil {
		return fmt.Errorf("postgres: release order %s: %w", id, err)
	}
	return nil
}

// ListReclaimable returns pending orders whose lease is unset or expired,
// plus failed orders whose retry backoff has elapsed. Ordered oldest first so
// starvation is impossible.
func (s *OrderStore) ListReclaimable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderSelectCols + `
		FROM orders
		WHERE (locked_until IS NULL OR locked_until < $1)
		  AND (
			status = 'pending'
			OR (status = 'failed' AND attempt_count < max_attempts AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
		  )
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reclaimable orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListByPosition returns every order attached to a position, oldest first.
func (s *OrderStore) ListByPosition(ctx context.Context, positionID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE position_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for position %s: %w", positionID, err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return orders, nil
}
