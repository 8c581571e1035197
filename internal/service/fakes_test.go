package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSizingConfig() domain.PositionSizingConfig {
	return domain.PositionSizingConfig{
		BasePositionPct:          5,
		MinPositionSol:           0.05,
		MaxPositionSol:           1.0,
		HighConvictionThreshold:  80,
		MinConvictionThreshold:   50,
		HighConvictionMultiplier: 1.5,
		StandardMultiplier:       1.0,
		MaxConcurrentPositions:   5,
		MaxCapitalAllocationPct:  60,
		ReserveSol:               0.1,
	}
}

func testStrategy() domain.ExitStrategy {
	return domain.ExitStrategy{
		ID:               "default",
		Name:             "default",
		StopLossFraction: 0.5,
		TakeProfits: []domain.TakeProfitRule{
			{TriggerMultiplier: 2.0, SellPct: 50},
			{TriggerMultiplier: 3.0, SellPct: 50},
		},
		TrailingStop: domain.TrailingStopConfig{Enabled: true, ActivationMultiplier: 2.0, DistancePct: 0.15},
		Moonbag:      domain.MoonbagConfig{Enabled: true, Percent: 0.10, StopFraction: 0.80},
	}
}

type stubPositions struct {
	mu      sync.Mutex
	byID    map[string]*domain.Position
	open    []*domain.Position
	created []*domain.Position
	updates int
}

func newStubPositions(open ...*domain.Position) *stubPositions {
	s := &stubPositions{byID: make(map[string]*domain.Position), open: open}
	for _, p := range open {
		s.byID[p.ID] = p
	}
	return s
}

func (s *stubPositions) Create(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	s.created = append(s.created, p)
	s.open = append(s.open, p)
	return nil
}

func (s *stubPositions) Update(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.byID[p.ID] = p
	return nil
}

func (s *stubPositions) GetByID(_ context.Context, id string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPositions) ListOpen(context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Position(nil), s.open...), nil
}

func (s *stubPositions) ListHistory(context.Context, domain.ListOpts) ([]*domain.Position, error) {
	return nil, nil
}

func (s *stubPositions) DeleteClosedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubAudits struct {
	mu       sync.Mutex
	appended []*domain.PositionSizeAudit
	err      error
}

func (s *stubAudits) Append(_ context.Context, a *domain.PositionSizeAudit) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, a)
	return nil
}

func (s *stubAudits) List(context.Context, domain.ListOpts) ([]*domain.PositionSizeAudit, error) {
	return nil, nil
}

func (s *stubAudits) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type stubOrders struct {
	mu      sync.Mutex
	updated []*domain.Order
}

func (s *stubOrders) Create(context.Context, *domain.Order) error { return nil }
func (s *stubOrders) Update(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, o)
	return nil
}
func (s *stubOrders) GetByID(context.Context, string) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}
func (s *stubOrders) Claim(context.Context, string, string, time.Duration) (*domain.Order, error) {
	return nil, domain.ErrNotFound
}
func (s *stubOrders) Release(context.Context, string, string) error { return nil }
func (s *stubOrders) ListReclaimable(context.Context, time.Time, int) ([]*domain.Order, error) {
	return nil, nil
}
func (s *stubOrders) ListByPosition(context.Context, string) ([]*domain.Order, error) {
	return nil, nil
}

type stubBalance struct {
	sol float64
	err error
}

func (b *stubBalance) AvailableSol(context.Context) (float64, error) { return b.sol, b.err }

type stubSubmitter struct {
	mu        sync.Mutex
	orders    []*domain.Order
	emergency []bool
	err       error
}

func (s *stubSubmitter) Submit(_ context.Context, o *domain.Order, emergency bool) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	s.emergency = append(s.emergency, emergency)
	return nil
}

type stubAlertStore struct {
	mu      sync.Mutex
	created []*domain.Alert
	err     error
}

func (s *stubAlertStore) Create(_ context.Context, a *domain.Alert, _ time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, a)
	return nil
}

func (s *stubAlertStore) ListRecent(context.Context, int) ([]*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Alert(nil), s.created...), nil
}
