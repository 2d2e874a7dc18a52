// Package orchestrator runs the signal-to-execution loop.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"arb_bot/pkg/concurrency"
	"arb_bot/pkg/telemetry"

	"arb_bot/internal/capital"
	"arb_bot/internal/core"
	"arb_bot/internal/executor"
	"arb_bot/internal/recovery"
	"arb_bot/internal/strategy"
)

// Config tunes the main loop.
type Config struct {
	TickInterval        time.Duration
	SizeQuoteUSD        decimal.Decimal
	StatusIntervalTicks int
}

// Orchestrator ties the pipeline together: generate, score, queue,
// execute, settle. One instance owns the whole trading loop.
type Orchestrator struct {
	cfg   Config
	pairs []core.Pair

	generator *strategy.SignalGenerator
	scorer    *strategy.SignalScorer
	queue     *strategy.SignalQueue
	engine    *executor.Engine
	capital   *capital.Manager
	history   *strategy.HistoryTracker
	recovery  *recovery.Manager
	store     core.ITradeStore
	pool      *concurrency.WorkerPool

	events core.IEventSink
	logger core.ILogger

	killed atomic.Bool

	// inFlight serializes execution per pair; concurrent trades on one
	// pair would race the same inventory.
	mu       sync.Mutex
	inFlight map[string]bool

	ticks int64
}

// New creates the orchestrator.
func New(
	cfg Config,
	pairs []core.Pair,
	generator *strategy.SignalGenerator,
	scorer *strategy.SignalScorer,
	queue *strategy.SignalQueue,
	engine *executor.Engine,
	capitalMgr *capital.Manager,
	history *strategy.HistoryTracker,
	recoveryMgr *recovery.Manager,
	store core.ITradeStore,
	pool *concurrency.WorkerPool,
	events core.IEventSink,
	logger core.ILogger,
) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.StatusIntervalTicks <= 0 {
		cfg.StatusIntervalTicks = 30
	}
	return &Orchestrator{
		cfg:       cfg,
		pairs:     pairs,
		generator: generator,
		scorer:    scorer,
		queue:     queue,
		engine:    engine,
		capital:   capitalMgr,
		history:   history,
		recovery:  recoveryMgr,
		store:     store,
		pool:      pool,
		events:    events,
		logger:    logger.WithField("component", "orchestrator"),
		inFlight:  make(map[string]bool),
	}
}

// SetKillSwitch pauses or resumes signal intake; wired to the sentinel
// file watcher.
func (o *Orchestrator) SetKillSwitch(active bool) {
	o.killed.Store(active)
	if active {
		o.queue.Clear()
	}
}

// Run drives the loop until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.logger.Info("Orchestrator started",
		"pairs", len(o.pairs),
		"tick_interval", o.cfg.TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			o.pool.Stop()
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.ticks++
	if o.ticks%int64(o.cfg.StatusIntervalTicks) == 0 {
		o.logStatus()
	}

	if o.killed.Load() {
		return
	}
	if o.recovery.Breaker().GlobalState() == recovery.BreakerOpen {
		// Intake pauses entirely; the breaker recovers on its own clock.
		return
	}

	snapshot := o.capital.Snapshot()
	for _, pair := range o.pairs {
		sig := o.generator.Generate(ctx, pair, o.sizeFor(pair), snapshot)
		if sig == nil {
			continue
		}
		telemetry.GetGlobalMetrics().SignalsGenerated.Add(ctx, 1)

		if !o.scorer.Score(sig) {
			continue
		}
		if o.queue.Push(sig) {
			telemetry.GetGlobalMetrics().SignalsQueued.Add(ctx, 1)
		}
	}
	telemetry.GetGlobalMetrics().SetQueueDepth(int64(o.queue.Size()))

	for _, sig := range o.queue.Drain() {
		o.dispatch(ctx, sig)
	}
}

// dispatch hands a signal to the worker pool unless its pair already
// has a trade in flight.
func (o *Orchestrator) dispatch(ctx context.Context, sig *core.Signal) {
	pair := sig.Pair.String()

	o.mu.Lock()
	if o.inFlight[pair] {
		o.mu.Unlock()
		return
	}
	o.inFlight[pair] = true
	o.mu.Unlock()

	err := o.pool.Submit(func() {
		defer o.release(pair)
		o.execute(ctx, sig)
	})
	if err != nil {
		o.release(pair)
		o.logger.Warn("Execution pool rejected signal", "signal_id", sig.ID, "error", err)
	}
}

func (o *Orchestrator) release(pair string) {
	o.mu.Lock()
	delete(o.inFlight, pair)
	o.mu.Unlock()
}

func (o *Orchestrator) execute(ctx context.Context, sig *core.Signal) {
	rec, err := o.engine.Execute(ctx, sig)
	if rec == nil {
		// Denied before any leg was submitted; nothing to settle.
		if err != nil {
			o.logger.Debug("Signal not admitted", "signal_id", sig.ID, "reason", err)
		}
		return
	}

	o.settle(ctx, sig, rec)
}

// settle applies a terminal trade everywhere it must land: capital,
// persistence, the history EMA and route health.
func (o *Orchestrator) settle(ctx context.Context, sig *core.Signal, rec *core.TradeRecord) {
	o.capital.ApplyTrade(rec)

	if err := o.store.SaveTrade(ctx, rec); err != nil {
		o.logger.Error("Failed to persist trade", "signal_id", sig.ID, "error", err)
	}

	if rec.ExpectedUSD.IsPositive() {
		o.history.Record(rec.Pair, rec.NetPnLUSD.Div(rec.ExpectedUSD))
	}

	failed := rec.FinalState != executor.StateDone.String()
	o.generator.RecordRouteOutcome(rec.Pair, sig.Quote.Route.Kind, rec.GasUSD, failed)
}

func (o *Orchestrator) sizeFor(pair core.Pair) decimal.Decimal {
	size := o.cfg.SizeQuoteUSD
	if size.LessThan(pair.MinSizeQuote) {
		size = pair.MinSizeQuote
	}
	return size
}

func (o *Orchestrator) logStatus() {
	stats := o.queue.Stats()
	snapshot := o.capital.Snapshot()

	o.logger.Info("Status",
		"queued", stats.Queued,
		"pushed_total", stats.TotalPushed,
		"dropped_total", stats.TotalDropped,
		"yielded_total", stats.TotalYielded,
		"realized_pnl_usd", snapshot.RealizedPnLUSD.StringFixed(4),
		"daily_loss_usd", snapshot.DailyLossUSD.StringFixed(4),
		"trades_last_hour", snapshot.TradesLastHour,
		"global_breaker", o.recovery.Breaker().GlobalState().String(),
		"pool", o.pool.Stats())
}
