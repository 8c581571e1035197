package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/throttle"
)

// ExecutorConfig holds the queued executor's tunables.
type ExecutorConfig struct {
	// WorkerID identifies this process in order leases.
	WorkerID string
	// MaxConcurrent bounds simultaneous in-flight executions; it is the
	// backpressure ceiling against the downstream execution client.
	MaxConcurrent int
	// MaxAttempts, when positive, overrides the per-order execution budget at
	// submit time.
	MaxAttempts int
	// LeaseTTL is how long an order claim lasts before another worker may
	// reclaim it.
	LeaseTTL time.Duration
	// ReclaimInterval is how often the store is swept for expired-lease
	// pending orders and retriable failed orders.
	ReclaimInterval time.Duration
	// IdleWait caps how long the coordinating loop sleeps when the queue is
	// empty and no enqueue wakes it.
	IdleWait time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 60 * time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 5 * time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = time.Second
	}
}

// ExecutorStats is an observability snapshot; none of it is used for
// correctness decisions.
type ExecutorStats struct {
	Running       bool
	QueueDepth    int
	InFlight      int
	Executed      uint64
	Failed        uint64
	Retried       uint64
	MaxConcurrent int
}

// QueuedExecutor drains the priority queue through the execution client. A
// single coordinating loop dequeues orders, claims their lease, and hands
// each to a bounded pool of in-flight goroutines. Failures are isolated per
// order: the loop logs, marks the order failed, alerts on permanent failure,
// and keeps going.
type QueuedExecutor struct {
	cfg    ExecutorConfig
	queue  *PriorityQueue
	client domain.ExecutionClient
	orders domain.OrderStore
	alerts domain.AlertService
	fills  domain.FillApplier
	bus    domain.SignalBus
	rpc    *throttle.Throttle
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	slots    chan struct{}
	executed atomic.Uint64
	failed   atomic.Uint64
	retried  atomic.Uint64
	inFlight atomic.Int64
}

// NewQueuedExecutor creates an executor. The signal bus is optional; pass nil
// to skip event publishing.
func NewQueuedExecutor(
	cfg ExecutorConfig,
	queue *PriorityQueue,
	client domain.ExecutionClient,
	orders domain.OrderStore,
	alerts domain.AlertService,
	fills domain.FillApplier,
	bus domain.SignalBus,
	rpc *throttle.Throttle,
	logger *slog.Logger,
) *QueuedExecutor {
	cfg.applyDefaults()
	return &QueuedExecutor{
		cfg:    cfg,
		queue:  queue,
		client: client,
		orders: orders,
		alerts: alerts,
		fills:  fills,
		bus:    bus,
		rpc:    rpc,
		logger: logger.With(slog.String("component", "executor")),
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches the coordinating loop and the reclaim sweep. Calling Start
// while already running is a no-op.
func (e *QueuedExecutor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.logger.Warn("start called while already running")
		return
	}
	e.running = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.reclaimLoop(runCtx)
	}()

	e.logger.Info("executor started",
		slog.String("worker_id", e.cfg.WorkerID),
		slog.Int("max_concurrent", e.cfg.MaxConcurrent),
		slog.Duration("lease_ttl", e.cfg.LeaseTTL),
	)
}

// Stop cancels the loops and waits for them and every in-flight execution to
// finish. In-flight orders are allowed to complete rather than being aborted.
func (e *QueuedExecutor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("executor stopped",
		slog.Uint64("executed", e.executed.Load()),
		slog.Uint64("failed", e.failed.Load()),
	)
}

// Stats returns a point-in-time snapshot of executor counters.
func (e *QueuedExecutor) Stats() ExecutorStats {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	return ExecutorStats{
		Running:       running,
		QueueDepth:    e.queue.Len(),
		InFlight:      int(e.inFlight.Load()),
		Executed:      e.executed.Load(),
		Failed:        e.failed.Load(),
		Retried:       e.retried.Load(),
		MaxConcurrent: e.cfg.MaxConcurrent,
	}
}

// Submit persists a new order and enqueues it for execution.
func (e *QueuedExecutor) Submit(ctx context.Context, o *domain.Order, emergency bool) error {
	if e.cfg.MaxAttempts > 0 {
		o.MaxAttempts = e.cfg.MaxAttempts
	}
	if err := e.orders.Create(ctx, o); err != nil {
		return fmt.Errorf("engine: create order %s: %w", o.ID, err)
	}
	e.queue.Enqueue(o, emergency)
	e.logger.Info("order enqueued",
		slog.String("order_id", o.ID),
		slog.String("type", string(o.Type)),
		slog.String("token", o.TokenSymbol),
		slog.Bool("emergency", emergency),
	)
	return nil
}

// runLoop is the single coordinating loop: it acquires a concurrency slot,
// dequeues the next order, and spawns its execution.
func (e *QueuedExecutor) runLoop(ctx context.Context) {
	idle := time.NewTimer(e.cfg.IdleWait)
	defer idle.Stop()

	for {
		// Acquire a slot first so the queue is only drained when there is
		// capacity to execute.
		select {
		case <-ctx.Done():
			return
		case e.slots <- struct{}{}:
		}

		o := e.queue.Dequeue()
		if o == nil {
			<-e.slots // give the slot back while idle
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.cfg.IdleWait)
			select {
			case <-ctx.Done():
				return
			case <-e.queue.Wake():
			case <-idle.C:
			}
			continue
		}

		e.wg.Add(1)
		e.inFlight.Add(1)
		go func(o *domain.Order) {
			defer func() {
				e.inFlight.Add(-1)
				<-e.slots
				e.wg.Done()
			}()
			e.executeOne(ctx, o)
		}(o)
	}
}

// executeOne drives one order through claim, execution, and state update. All
// errors are contained here; nothing propagates to the loop.
func (e *QueuedExecutor) executeOne(ctx context.Context, queued *domain.Order) {
	log := e.logger.With(slog.String("order_id", queued.ID))

	// Claim the lease. The claimed copy is the authoritative current state:
	// another worker may have completed this order since it was enqueued.
	o, err := e.orders.Claim(ctx, queued.ID, e.cfg.WorkerID, e.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Debug("order leased by another worker, skipping")
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("queued order no longer exists")
			return
		}
		log.Error("claim failed", slog.String("error", err.Error()))
		return
	}
	defer func() {
		if relErr := e.orders.Release(context.WithoutCancel(ctx), o.ID, e.cfg.WorkerID); relErr != nil {
			log.Warn("lease release failed", slog.String("error", relErr.Error()))
		}
	}()

	// Leases expire rather than being proactively released, so the same
	// logical work can be picked up twice; terminal orders are never re-run.
	if o.IsTerminal() {
		log.Debug("order already terminal, skipping", slog.String("status", string(o.Status)))
		return
	}
	if o.Status == domain.OrderStatusFailed {
		if !o.RetryDue(time.Now().UTC()) {
			return
		}
		if err := o.ScheduleRetry(); err != nil {
			log.Warn("retry not schedulable", slog.String("error", err.Error()))
			return
		}
		e.retried.Add(1)
	}
	if o.Status != domain.OrderStatusPending {
		log.Debug("order not executable", slog.String("status", string(o.Status)))
		return
	}

	if err := e.runOrder(ctx, o, log); err != nil {
		e.handleFailure(ctx, o, err, log)
		return
	}

	e.executed.Add(1)
	if e.fills != nil {
		if err := e.fills.ApplyFill(ctx, o); err != nil {
			log.Error("fill application failed", slog.String("error", err.Error()))
			if alertErr := e.alerts.CreateAlert(ctx, domain.AlertCritical,
				"Fill not applied to position",
				fmt.Sprintf("order %s filled but position update failed: %v", o.ID, err),
				map[string]any{"order_id": o.ID, "position_id": o.PositionID},
				true, "fill_unapplied:"+o.ID); alertErr != nil {
				log.Error("alert creation failed", slog.String("error", alertErr.Error()))
			}
		}
	}
	log.Info("order filled",
		slog.String("fill_tx", o.FillTx),
		slog.Float64("price", o.ActualPrice),
		slog.Float64("tokens", o.AmountTokens),
		slog.Float64("slippage_bps", o.SlippageBps()),
	)
	e.publish(ctx, "orders", map[string]any{
		"event":        "order_filled",
		"order_id":     o.ID,
		"position_id":  o.PositionID,
		"type":         string(o.Type),
		"token":        o.TokenMint,
		"price":        o.ActualPrice,
		"tokens":       o.AmountTokens,
		"slippage_bps": o.SlippageBps(),
	})
}

// runOrder performs the submit -> execute -> confirm -> fill sequence.
func (e *QueuedExecutor) runOrder(ctx context.Context, o *domain.Order, log *slog.Logger) error {
	if err := o.MarkSubmitted(); err != nil {
		return err
	}
	if err := e.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("engine: persist submitted: %w", err)
	}

	if e.rpc != nil {
		if err := e.rpc.Wait(ctx); err != nil {
			return &domain.TransientExecutionError{Err: err}
		}
	}

	log.Debug("executing order",
		slog.String("side", string(o.Side)),
		slog.Float64("amount_sol", o.AmountSol),
		slog.Float64("expected_price", o.ExpectedPrice),
	)
	fill, err := e.client.Execute(ctx, o)
	if err != nil {
		return err
	}

	if err := o.MarkConfirming(fill.TxID); err != nil {
		return err
	}
	if err := e.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("engine: persist confirming: %w", err)
	}

	if err := o.MarkFilled(fill.Price, fill.Tokens); err != nil {
		return err
	}
	if err := e.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("engine: persist filled: %w", err)
	}
	return nil
}

// handleFailure marks the order failed, persists it, and alerts exactly once
// when the order will never be retried again.
func (e *QueuedExecutor) handleFailure(ctx context.Context, o *domain.Order, execErr error, log *slog.Logger) {
	e.failed.Add(1)
	log.Error("order execution failed",
		slog.String("error", execErr.Error()),
		slog.Int("attempt", o.AttemptCount+1),
		slog.Int("max_attempts", o.MaxAttempts),
		slog.Bool("permanent", domain.IsPermanent(execErr)),
	)

	if err := o.MarkFailed(execErr); err != nil {
		// No FAILED transition from the order's current state. Log and
		// leave it; runOrder moves orders to SUBMITTED before any failure
		// can surface, so this only trips on an already-terminal order.
		log.Error("could not mark failed", slog.String("error", err.Error()))
		return
	}
	if err := e.orders.Update(ctx, o); err != nil {
		log.Error("persist failed state", slog.String("error", err.Error()))
	}

	e.publish(ctx, "orders", map[string]any{
		"event":       "order_failed",
		"order_id":    o.ID,
		"position_id": o.PositionID,
		"error":       o.LastError,
		"can_retry":   o.CanRetry(),
	})

	if o.CanRetry() {
		return
	}

	// Terminal failure: one alert per order, deduped on the order id.
	severity := domain.AlertWarning
	requiresAction := false
	if o.Type == domain.OrderTypeExit {
		// An exit that cannot fill leaves the position exposed.
		severity = domain.AlertCritical
		requiresAction = true
	}
	title := fmt.Sprintf("Order failed permanently: %s %s", o.Side, o.TokenSymbol)
	msg := fmt.Sprintf("order %s failed after %d attempts: %s", o.ID, o.AttemptCount, o.LastError)
	if err := e.alerts.CreateAlert(ctx, severity, title, msg, map[string]any{
		"order_id":    o.ID,
		"position_id": o.PositionID,
		"token":       o.TokenMint,
		"exit_reason": o.ExitReason,
	}, requiresAction, "order_failed:"+o.ID); err != nil {
		log.Error("alert creation failed", slog.String("error", err.Error()))
	}
}

// reclaimLoop periodically re-enqueues orders whose lease expired before
// completion and failed orders whose retry backoff has elapsed. This is the
// eventual-consistency half of the lease protocol: a crashed worker's orders
// reappear here once the lease runs out.
func (e *QueuedExecutor) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		orders, err := e.orders.ListReclaimable(ctx, now, 100)
		if err != nil {
			e.logger.Error("reclaim sweep failed", slog.String("error", err.Error()))
			continue
		}
		for _, o := range orders {
			if o.Status == domain.OrderStatusFailed && !o.RetryDue(now) {
				continue
			}
			if e.queue.Enqueue(o, isEmergency(o)) {
				e.logger.Debug("order reclaimed",
					slog.String("order_id", o.ID),
					slog.String("status", string(o.Status)),
				)
			}
		}
	}
}

func (e *QueuedExecutor) publish(ctx context.Context, channel string, event map[string]any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.bus.Announce(ctx, channel, payload); err != nil {
		e.logger.Warn("event announce failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// isEmergency reports whether the order should jump the queue. Protective
// exits go first: every tick they wait, the book bleeds.
func isEmergency(o *domain.Order) bool {
	if o.Type != domain.OrderTypeExit {
		return false
	}
	switch o.ExitReason {
	case domain.ExitReasonStopLoss, domain.ExitReasonTrailingStop, domain.ExitReasonMoonbagStop:
		return true
	default:
		return false
	}
}
