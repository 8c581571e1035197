package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists orders. Claim implements the cross-process lease: it is
// a single conditional update that succeeds only when the order's lease is
// unset or expired, so two workers can never both believe they own an order.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// Claim leases the order for the worker until now+ttl. It returns
	// ErrLockHeld when another worker holds an unexpired lease.
	Claim(ctx context.Context, id, workerID string, ttl time.Duration) (*Order, error)
	// Release drops the worker's lease. Releasing a lease owned by a
	// different worker is a no-op.
	Release(ctx context.Context, id, workerID string) error
	// ListReclaimable returns pending orders whose lease is unset or expired,
	// plus failed orders whose retry backoff has elapsed.
	ListReclaimable(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	ListByPosition(ctx context.Context, positionID string) ([]*Order, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, p *Position) error
	Update(ctx context.Context, p *Position) error
	GetByID(ctx context.Context, id string) (*Position, error)
	// ListOpen returns every position the monitor must track: open,
	// partial-exit, and moonbag.
	ListOpen(ctx context.Context) ([]*Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]*Position, error)
	// DeleteClosedBefore removes closed positions older than the cutoff after
	// they have been archived to cold storage.
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SizingAuditStore persists the append-only sizing audit trail. Records are
// never updated or deleted except by retention pruning after archival.
type SizingAuditStore interface {
	Append(ctx context.Context, a *PositionSizeAudit) error
	List(ctx context.Context, opts ListOpts) ([]*PositionSizeAudit, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists operator alerts. Create returns ErrAlreadyExists when
// an alert with the same dedupe key was stored within the dedupe window.
type AlertStore interface {
	Create(ctx context.Context, a *Alert, dedupeWindow time.Duration) error
	ListRecent(ctx context.Context, limit int) ([]*Alert, error)
}
