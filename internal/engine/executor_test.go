package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
)

// memOrderStore implements the lease protocol in memory for executor tests.
type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]domain.Order)}
}

func (s *memOrderStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *memOrderStore) Update(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (s *memOrderStore) Claim(_ context.Context, id, workerID string, ttl time.Duration) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	if o.LockedBy != "" && o.LockedBy != workerID && o.LockedUntil != nil && o.LockedUntil.After(now) {
		return nil, domain.ErrLockHeld
	}
	until := now.Add(ttl)
	o.LockedBy = workerID
	o.LockedUntil = &until
	s.orders[id] = o
	return &o, nil
}

func (s *memOrderStore) Release(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.LockedBy != workerID {
		return nil
	}
	o.LockedBy = ""
	o.LockedUntil = nil
	s.orders[id] = o
	return nil
}

func (s *memOrderStore) ListReclaimable(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for id := range s.orders {
		o := s.orders[id]
		leased := o.LockedUntil != nil && o.LockedUntil.After(now)
		switch {
		case o.Status == domain.OrderStatusPending && !leased:
		case o.Status == domain.OrderStatusFailed && o.CanRetry() && o.RetryDue(now):
		default:
			continue
		}
		out = append(out, &o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memOrderStore) ListByPosition(_ context.Context, positionID string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for id := range s.orders {
		o := s.orders[id]
		if o.PositionID == positionID {
			out = append(out, &o)
		}
	}
	return out, nil
}

func (s *memOrderStore) status(id string) domain.OrderStatus {
	o, err := s.GetByID(context.Background(), id)
	if err != nil {
		return ""
	}
	return o.Status
}

// fakeExecClient tracks the peak number of concurrent Execute calls.
type fakeExecClient struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   map[string]int
	errFor  map[string]error
	delay   time.Duration
}

func newFakeExecClient() *fakeExecClient {
	return &fakeExecClient{calls: make(map[string]int), errFor: make(map[string]error)}
}

func (c *fakeExecClient) Execute(_ context.Context, o *domain.Order) (domain.Fill, error) {
	c.mu.Lock()
	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.calls[o.ID]++
	err := c.errFor[o.ID]
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.current--
	c.mu.Unlock()

	if err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		TxID:   "tx-" + o.ID,
		Price:  o.ExpectedPrice,
		Tokens: o.AmountSol / o.ExpectedPrice,
	}, nil
}

func (c *fakeExecClient) callCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *fakeExecClient) peakConcurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

type fakeAlerts struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeAlerts) CreateAlert(_ context.Context, _ domain.AlertSeverity, _, _ string, _ map[string]any, _ bool, dedupeKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, dedupeKey)
	return nil
}

func (a *fakeAlerts) dedupeKeys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.keys...)
}

type fakeFills struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (f *fakeFills) ApplyFill(_ context.Context, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, o.ID)
	return nil
}

func (f *fakeFills) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

type executorFixture struct {
	store  *memOrderStore
	client *fakeExecClient
	alerts *fakeAlerts
	fills  *fakeFills
	queue  *PriorityQueue
	exec   *QueuedExecutor
}

func newExecutorFixture(cfg ExecutorConfig) *executorFixture {
	f := &executorFixture{
		store:  newMemOrderStore(),
		client: newFakeExecClient(),
		alerts: &fakeAlerts{},
		fills:  &fakeFills{},
		queue:  NewPriorityQueue(),
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-test"
	}
	if cfg.IdleWait == 0 {
		cfg.IdleWait = 10 * time.Millisecond
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = time.Hour
	}
	f.exec = NewQueuedExecutor(cfg, f.queue, f.client, f.store, f.alerts, f.fills, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func TestExecutorFillsOrdersWithBoundedConcurrency(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 2})
	f.client.delay = 50 * time.Millisecond

	ctx := context.Background()
	var ids []string
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		o := domain.NewEntryOrder("sig-"+sym, "Mint"+sym, sym, 0.5, 0.001, 300)
		require.NoError(t, f.exec.Submit(ctx, o, false))
		ids = append(ids, o.ID)
	}

	f.exec.Start(ctx)
	defer f.exec.Stop()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if f.store.status(id) != domain.OrderStatusFilled {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, f.client.peakConcurrency(), 2, "in-flight executions must respect MaxConcurrent")
	assert.ElementsMatch(t, ids, f.fills.appliedIDs())

	o, err := f.store.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "tx-"+ids[0], o.FillTx)
	assert.InDelta(t, 500, o.AmountTokens, 1e-9)
	assert.Empty(t, o.LockedBy, "lease must be released after execution")
}

func TestExecutorPermanentFailureAlertsOnce(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1})

	ctx := context.Background()
	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	f.client.errFor[o.ID] = &domain.PermanentExecutionError{Reason: "token account frozen"}
	require.NoError(t, f.exec.Submit(ctx, o, false))

	f.exec.Start(ctx)
	defer f.exec.Stop()

	require.Eventually(t, func() bool {
		return f.store.status(o.ID) == domain.OrderStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.MaxAttempts, stored.AttemptCount, "permanent errors exhaust the budget immediately")
	assert.False(t, stored.CanRetry())
	assert.Equal(t, []string{"order_failed:" + o.ID}, f.alerts.dedupeKeys())
	assert.Equal(t, 1, f.client.callCount(o.ID))
}

func TestExecutorTransientFailureSchedulesRetry(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1})

	ctx := context.Background()
	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	f.client.errFor[o.ID] = &domain.TransientExecutionError{Err: domain.ErrRateLimited}
	require.NoError(t, f.exec.Submit(ctx, o, false))

	f.exec.Start(ctx)
	defer f.exec.Stop()

	require.Eventually(t, func() bool {
		return f.store.status(o.ID) == domain.OrderStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.True(t, stored.CanRetry())
	require.NotNil(t, stored.NextRetryAt)
	assert.Empty(t, f.alerts.dedupeKeys(), "retriable failures must not alert")
}

func TestExecutorSkipsOrderLeasedElsewhere(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1})

	ctx := context.Background()
	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	until := time.Now().UTC().Add(time.Minute)
	o.LockedBy = "worker-other"
	o.LockedUntil = &until
	require.NoError(t, f.store.Create(ctx, o))
	f.queue.Enqueue(o, false)

	f.exec.Start(ctx)
	defer f.exec.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, f.client.callCount(o.ID))
	assert.Equal(t, domain.OrderStatusPending, f.store.status(o.ID))

	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-other", stored.LockedBy, "foreign lease must survive the skip")
}

func TestExecutorUnappliedFillRaisesCriticalAlert(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1})
	f.fills.err = domain.ErrNotFound

	ctx := context.Background()
	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	require.NoError(t, f.exec.Submit(ctx, o, false))

	f.exec.Start(ctx)
	defer f.exec.Stop()

	require.Eventually(t, func() bool {
		return f.store.status(o.ID) == domain.OrderStatusFilled
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.alerts.dedupeKeys()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "fill_unapplied:"+o.ID, f.alerts.dedupeKeys()[0])
}

func TestExecutorReclaimSweepPicksUpUnleasedOrders(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1, ReclaimInterval: 20 * time.Millisecond})

	// Persisted but never enqueued, as if the enqueueing process crashed.
	ctx := context.Background()
	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	require.NoError(t, f.store.Create(ctx, o))

	f.exec.Start(ctx)
	defer f.exec.Stop()

	require.Eventually(t, func() bool {
		return f.store.status(o.ID) == domain.OrderStatusFilled
	}, 3*time.Second, 10*time.Millisecond)
}

func TestExecutorSubmitAppliesAttemptBudgetOverride(t *testing.T) {
	f := newExecutorFixture(ExecutorConfig{MaxConcurrent: 1, MaxAttempts: 5})

	o := domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)
	require.NoError(t, f.exec.Submit(context.Background(), o, false))
	assert.Equal(t, 5, o.MaxAttempts)
}

func TestIsEmergency(t *testing.T) {
	pos := &domain.Position{ID: "pos-1", TokenMint: "MintAAA", TokenSymbol: "AAA"}

	assert.True(t, isEmergency(domain.NewExitOrder(pos, 10, 0.001, domain.ExitReasonStopLoss)))
	assert.True(t, isEmergency(domain.NewExitOrder(pos, 10, 0.001, domain.ExitReasonTrailingStop)))
	assert.True(t, isEmergency(domain.NewExitOrder(pos, 10, 0.001, domain.ExitReasonMoonbagStop)))
	assert.False(t, isEmergency(domain.NewExitOrder(pos, 10, 0.001, domain.ExitReasonTakeProfit)))
	assert.False(t, isEmergency(domain.NewEntryOrder("sig-1", "MintAAA", "AAA", 0.5, 0.001, 300)))
}
