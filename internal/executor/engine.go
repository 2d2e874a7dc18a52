package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "arb_bot/pkg/errors"
	"arb_bot/pkg/retry"
	"arb_bot/pkg/telemetry"

	"arb_bot/internal/core"
	"arb_bot/internal/recovery"
)

// LegOrder selects which venue executes first.
type LegOrder string

const (
	DexFirst LegOrder = "dex_first"
	CexFirst LegOrder = "cex_first"
)

// Config tunes the execution engine.
type Config struct {
	LegOrder LegOrder `yaml:"leg_order"`

	Leg1Timeout  time.Duration `yaml:"leg1_timeout"`
	Leg2Timeout  time.Duration `yaml:"leg2_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	SwapDeadline time.Duration `yaml:"swap_deadline"`
	SlippageBps  int64         `yaml:"slippage_bps"`
	Sender       string        `yaml:"sender"`

	UnwindSlippageBps int64 `yaml:"unwind_slippage_bps"`
	UnwindAttempts    int   `yaml:"unwind_attempts"`

	// QuoteMaxAge forces a fresh DEX quote when the one carried by the
	// signal is older than this.
	QuoteMaxAge time.Duration `yaml:"quote_max_age"`

	Simulate bool `yaml:"simulate"`
}

// DefaultConfig returns conservative execution settings.
func DefaultConfig() Config {
	return Config{
		LegOrder:          DexFirst,
		Leg1Timeout:       20 * time.Second,
		Leg2Timeout:       30 * time.Second,
		PollInterval:      500 * time.Millisecond,
		SwapDeadline:      30 * time.Second,
		SlippageBps:       30,
		UnwindSlippageBps: 100,
		UnwindAttempts:    3,
		QuoteMaxAge:       5 * time.Second,
	}
}

// aggressiveOffset prices unwind limit orders through the book.
var aggressiveOffset = decimal.NewFromFloat(0.005)

// legPlan describes one leg before execution.
type legPlan struct {
	venue string // "cex" or "dex"
	side  core.Side
}

// Engine runs one signal at a time through the state machine. It is
// safe for concurrent use; each Execute call owns its own context.
type Engine struct {
	cfg Config

	cex    core.ICexAdapter
	routes map[core.RouteKind]core.IDexAdapter

	recovery   core.IRecovery
	classifier recovery.Classifier
	capital    func() core.CapitalState

	events core.IEventSink
	logger core.ILogger
	now    func() time.Time

	audit func(signalID string, trail []byte)
}

// SetAuditSink registers a receiver for the serialized transition trail
// of every finished execution.
func (e *Engine) SetAuditSink(fn func(signalID string, trail []byte)) {
	e.audit = fn
}

// NewEngine wires the engine. routes maps each route kind to the
// adapter that executes it; a signal whose route has no adapter fails
// at validation.
func NewEngine(
	cfg Config,
	cex core.ICexAdapter,
	routes map[core.RouteKind]core.IDexAdapter,
	rec core.IRecovery,
	capital func() core.CapitalState,
	events core.IEventSink,
	logger core.ILogger,
) *Engine {
	if cfg.LegOrder == "" {
		cfg.LegOrder = DexFirst
	}
	return &Engine{
		cfg:      cfg,
		cex:      cex,
		routes:   routes,
		recovery: rec,
		capital:  capital,
		events:   events,
		logger:   logger.WithField("component", "executor"),
		now:      time.Now,
	}
}

// Execute drives a signal to a terminal state. The returned record is
// nil when the signal was denied before any leg was submitted; those
// denials never reach the breaker. A non-nil error alongside a record
// means the trade terminated FAILED.
func (e *Engine) Execute(ctx context.Context, sig *core.Signal) (*core.TradeRecord, error) {
	ec := NewExecutionContext(sig)
	log := e.logger.WithFields(map[string]interface{}{
		"signal_id": sig.ID,
		"pair":      sig.Pair.String(),
	})

	if err := ec.Transition(StateValidating, "admission"); err != nil {
		return nil, err
	}
	e.events.Emit(core.NewEvent(core.EventExecutionStarted, sig.Pair.String(), sig.ID, map[string]string{
		"direction": sig.Direction.String(),
		"score":     sig.Score.String(),
	}))

	if err := e.validate(ctx, ec, sig); err != nil {
		if terr := ec.Transition(StateFailed, "validation: "+err.Error()); terr != nil {
			return nil, terr
		}
		log.Info("Signal denied before submission", "reason", err)
		e.events.Emit(core.NewEvent(core.EventExecutionFailed, sig.Pair.String(), sig.ID, map[string]string{
			"reason": err.Error(),
			"stage":  "validation",
		}))
		return nil, err
	}

	leg1, leg2 := e.plan(sig)

	if err := e.runLeg(ctx, ec, sig, leg1, 1, sig.SizeBase); err != nil {
		// Nothing filled on leg one means no exposure. A partial fill
		// is surfaced as a nil error with a reduced quantity.
		if terr := ec.Transition(StateFailed, "leg1: "+err.Error()); terr != nil {
			return nil, terr
		}
		return e.finalize(ctx, ec, err)
	}

	leg2Size := ec.Leg1.Qty
	if err := e.runLeg(ctx, ec, sig, leg2, 2, leg2Size); err != nil {
		if uerr := e.unwind(ctx, ec, sig, leg1); uerr != nil {
			ec.ManualIntervention = true
			if terr := ec.Transition(StateFailed, "unwind failed: "+uerr.Error()); terr != nil {
				return nil, terr
			}
			return e.finalize(ctx, ec, fmt.Errorf("%w: %v", apperrors.ErrUnwindFailed, uerr))
		}
		ec.Unwound = true
		if terr := ec.Transition(StateFailed, "unwound after leg2 failure: "+err.Error()); terr != nil {
			return nil, terr
		}
		return e.finalize(ctx, ec, err)
	}

	if err := ec.Transition(StateDone, "both legs filled"); err != nil {
		return nil, err
	}
	return e.finalize(ctx, ec, nil)
}

// validate is the last look before money moves: recovery admission,
// route availability and a fresh-price profitability check. A failure
// after admission releases the admission so a breaker probe slot
// reserved for this signal is not stranded.
func (e *Engine) validate(ctx context.Context, ec *ExecutionContext, sig *core.Signal) error {
	if err := e.recovery.Admit(sig, e.capital()); err != nil {
		return err
	}
	if err := e.lastLook(ctx, sig); err != nil {
		e.recovery.Release(sig)
		return err
	}
	return nil
}

func (e *Engine) lastLook(ctx context.Context, sig *core.Signal) error {
	if _, ok := e.routes[sig.Quote.Route.Kind]; !ok {
		return fmt.Errorf("no adapter for route %s", sig.Quote.Route.Kind)
	}

	if e.cfg.Simulate {
		return nil
	}

	quote, err := e.freshQuote(ctx, sig, sig.SizeBase, sig.SizeQuote)
	if err != nil {
		return fmt.Errorf("revalidation quote: %w", err)
	}
	if !e.stillProfitable(sig, quote) {
		return fmt.Errorf("spread decayed below breakeven at revalidation")
	}
	sig.Quote = quote
	return nil
}

// stillProfitable recomputes expected gross against the refreshed DEX
// price and requires it to clear the signal's breakeven.
func (e *Engine) stillProfitable(sig *core.Signal, quote *core.DexQuote) bool {
	var grossBps decimal.Decimal
	switch sig.Direction {
	case core.BuyDexSellCex:
		if quote.EffectivePrice.IsZero() {
			return false
		}
		grossBps = sig.CexSidePrice.Sub(quote.EffectivePrice).
			Div(quote.EffectivePrice).Mul(decimal.NewFromInt(10000))
	default:
		if sig.CexSidePrice.IsZero() {
			return false
		}
		grossBps = quote.EffectivePrice.Sub(sig.CexSidePrice).
			Div(sig.CexSidePrice).Mul(decimal.NewFromInt(10000))
	}
	return grossBps.GreaterThanOrEqual(sig.BreakevenBps)
}

// plan orders the legs by configured venue priority.
func (e *Engine) plan(sig *core.Signal) (legPlan, legPlan) {
	dexLeg := legPlan{venue: "dex", side: sig.CexSide().Opposite()}
	cexLeg := legPlan{venue: "cex", side: sig.CexSide()}
	if e.cfg.LegOrder == CexFirst {
		return cexLeg, dexLeg
	}
	return dexLeg, cexLeg
}

// runLeg executes one leg and walks the SUBMITTING/PENDING/FILLED arc.
func (e *Engine) runLeg(ctx context.Context, ec *ExecutionContext, sig *core.Signal, leg legPlan, index int, sizeBase decimal.Decimal) error {
	submitting, pending, filled := StateLeg1Submitting, StateLeg1Pending, StateLeg1Filled
	timeout := e.cfg.Leg1Timeout
	if index == 2 {
		submitting, pending, filled = StateLeg2Submitting, StateLeg2Pending, StateLeg2Filled
		timeout = e.cfg.Leg2Timeout
	}

	if err := ec.Transition(submitting, leg.venue+" "+string(leg.side)); err != nil {
		return err
	}
	e.events.Emit(core.NewEvent(core.EventLegSubmitted, sig.Pair.String(), sig.ID, map[string]string{
		"leg":   fmt.Sprintf("%d", index),
		"venue": leg.venue,
		"side":  string(leg.side),
	}))

	legCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := e.now()
	var fill *LegFill
	var err error
	if leg.venue == "dex" {
		fill, err = e.runDexLeg(legCtx, ec, sig, leg, pending, sizeBase)
	} else {
		fill, err = e.runCexLeg(legCtx, ec, sig, leg, pending, sizeBase)
	}
	if err != nil {
		e.events.Emit(core.NewEvent(core.EventLegFailed, sig.Pair.String(), sig.ID, map[string]string{
			"leg":   fmt.Sprintf("%d", index),
			"venue": leg.venue,
			"error": err.Error(),
		}))
		return err
	}

	fill.FilledAt = e.now()
	if index == 1 {
		ec.Leg1 = fill
	} else {
		ec.Leg2 = fill
	}

	telemetry.GetGlobalMetrics().LegLatency.Record(ctx,
		float64(e.now().Sub(started).Milliseconds()),
		metric.WithAttributes(attribute.String("venue", leg.venue)))

	if err := ec.Transition(filled, fmt.Sprintf("qty=%s avg=%s", fill.Qty, fill.AvgPrice)); err != nil {
		return err
	}
	e.events.Emit(core.NewEvent(core.EventLegFilled, sig.Pair.String(), sig.ID, map[string]string{
		"leg":       fmt.Sprintf("%d", index),
		"venue":     leg.venue,
		"qty":       fill.Qty.String(),
		"avg_price": fill.AvgPrice.String(),
	}))
	return nil
}

// runDexLeg swaps on chain. The swap either mines or errors; PENDING is
// the window between broadcast and receipt.
func (e *Engine) runDexLeg(ctx context.Context, ec *ExecutionContext, sig *core.Signal, leg legPlan, pending State, sizeBase decimal.Decimal) (*LegFill, error) {
	if e.cfg.Simulate {
		if err := ec.Transition(pending, "simulated swap"); err != nil {
			return nil, err
		}
		return e.simulatedFill("dex", leg.side, sizeBase, sig.DexSidePrice), nil
	}

	adapter := e.routes[sig.Quote.Route.Kind]

	quote := sig.Quote
	if e.now().Sub(quote.FetchedAt) > e.cfg.QuoteMaxAge || !quote.AmountIn.Equal(e.amountIn(sig, leg.side, sizeBase)) {
		var err error
		quote, err = e.freshQuoteForSide(ctx, sig, leg.side, sizeBase)
		if err != nil {
			return nil, err
		}
	}

	if err := ec.Transition(pending, "swap broadcast"); err != nil {
		return nil, err
	}

	var result *core.SwapResult
	policy := retry.Policy{
		MaxAttempts:    2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
	err := retry.Do(ctx, policy, e.retryable, func(ctx context.Context) error {
		var swapErr error
		result, swapErr = adapter.Swap(ctx, quote, e.cfg.SwapDeadline, e.cfg.SlippageBps, e.cfg.Sender)
		return swapErr
	})
	if err != nil {
		return nil, err
	}

	return e.dexFill(leg.side, quote, result), nil
}

// dexFill normalizes a swap result into base quantity and quote-per-base
// average price.
func (e *Engine) dexFill(side core.Side, quote *core.DexQuote, result *core.SwapResult) *LegFill {
	fill := &LegFill{
		Venue:  "dex",
		TxHash: result.TxHash,
		Side:   side,
		GasUSD: result.GasSpentUSD,
	}
	if side == core.SideBuy {
		fill.Qty = result.EffectiveOut
		if !result.EffectiveOut.IsZero() {
			fill.AvgPrice = quote.AmountIn.Div(result.EffectiveOut)
		}
	} else {
		fill.Qty = quote.AmountIn
		if !quote.AmountIn.IsZero() {
			fill.AvgPrice = result.EffectiveOut.Div(quote.AmountIn)
		}
	}
	return fill
}

// runCexLeg places a post-only limit order and polls it to completion.
// On timeout the order is cancelled; a partial fill is kept and the leg
// succeeds with the reduced quantity.
func (e *Engine) runCexLeg(ctx context.Context, ec *ExecutionContext, sig *core.Signal, leg legPlan, pending State, sizeBase decimal.Decimal) (*LegFill, error) {
	price := sig.CexSidePrice

	if e.cfg.Simulate {
		if err := ec.Transition(pending, "simulated order"); err != nil {
			return nil, err
		}
		fill := e.simulatedFill("cex", leg.side, sizeBase, price)
		fill.FeesUSD = fill.Value().Mul(sig.Fees.CexFeeBps).Div(decimal.NewFromInt(10000))
		return fill, nil
	}

	var orderID string
	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
	err := retry.Do(ctx, policy, e.retryable, func(ctx context.Context) error {
		var placeErr error
		orderID, placeErr = e.cex.PlaceLimitPostOnly(ctx, sig.Pair, leg.side, price, sizeBase)
		return placeErr
	})
	if err != nil {
		return nil, err
	}

	if err := ec.Transition(pending, "order "+orderID); err != nil {
		return nil, err
	}

	update, err := e.pollUntilDone(ctx, sig.Pair, orderID)
	if err != nil {
		return nil, err
	}

	fill := &LegFill{
		Venue:    "cex",
		OrderID:  orderID,
		Side:     leg.side,
		Qty:      update.FilledQty,
		AvgPrice: update.AvgPrice,
	}
	fill.FeesUSD = fill.Value().Mul(sig.Fees.CexFeeBps).Div(decimal.NewFromInt(10000))
	return fill, nil
}

// pollUntilDone polls an order until it fills or the leg context
// expires. On expiry the order is cancelled and any partial fill is
// returned; zero fill surfaces as a leg timeout.
func (e *Engine) pollUntilDone(ctx context.Context, pair core.Pair, orderID string) (*core.OrderUpdate, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.cancelAndSettle(pair, orderID)
		case <-ticker.C:
			update, err := e.cex.PollOrder(ctx, pair, orderID)
			if err != nil {
				if e.retryable(err) {
					continue
				}
				return nil, err
			}
			switch update.Status {
			case core.OrderFilled:
				return update, nil
			case core.OrderRejected:
				return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, update.Reason)
			case core.OrderCanceled:
				if update.FilledQty.IsPositive() {
					return update, nil
				}
				return nil, fmt.Errorf("%w: order canceled unfilled", apperrors.ErrLegTimeout)
			}
		}
	}
}

// cancelAndSettle runs outside the expired leg context so the cancel
// itself is not starved.
func (e *Engine) cancelAndSettle(pair core.Pair, orderID string) (*core.OrderUpdate, error) {
	settleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.cex.Cancel(settleCtx, pair, orderID); err != nil {
		e.logger.Warn("Cancel after timeout failed", "order_id", orderID, "error", err)
	}
	update, err := e.cex.PollOrder(settleCtx, pair, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: poll after cancel: %v", apperrors.ErrLegTimeout, err)
	}
	if update.FilledQty.IsPositive() {
		return update, nil
	}
	return nil, apperrors.ErrLegTimeout
}

// unwind reverses leg one on its own venue with a dedicated retry
// budget. Failure here is the only path to manual intervention.
func (e *Engine) unwind(ctx context.Context, ec *ExecutionContext, sig *core.Signal, leg1 legPlan) error {
	if err := ec.Transition(StateUnwinding, "reversing leg1"); err != nil {
		return err
	}
	e.events.Emit(core.NewEvent(core.EventUnwindStarted, sig.Pair.String(), sig.ID, map[string]string{
		"venue": leg1.venue,
		"qty":   ec.Leg1.Qty.String(),
	}))
	telemetry.GetGlobalMetrics().UnwindsTotal.Add(ctx, 1)

	unwindCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Leg2Timeout)
	defer cancel()

	attempts := e.cfg.UnwindAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := retry.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}

	reverse := ec.Leg1.Side.Opposite()
	return retry.Do(unwindCtx, policy, func(error) bool { return true }, func(ctx context.Context) error {
		if leg1.venue == "dex" {
			return e.unwindDex(ctx, ec, sig, reverse)
		}
		return e.unwindCex(ctx, ec, sig, reverse)
	})
}

func (e *Engine) unwindDex(ctx context.Context, ec *ExecutionContext, sig *core.Signal, side core.Side) error {
	if e.cfg.Simulate {
		ec.Leg2 = e.simulatedFill("dex", side, ec.Leg1.Qty, ec.Leg1.AvgPrice)
		return nil
	}

	quote, err := e.freshQuoteForSide(ctx, sig, side, ec.Leg1.Qty)
	if err != nil {
		return err
	}
	adapter, ok := e.routes[quote.Route.Kind]
	if !ok {
		return fmt.Errorf("no adapter for route %s", quote.Route.Kind)
	}
	result, err := adapter.Swap(ctx, quote, e.cfg.SwapDeadline, e.cfg.UnwindSlippageBps, e.cfg.Sender)
	if err != nil {
		return err
	}
	ec.Leg2 = e.dexFill(side, quote, result)
	ec.Leg2.FilledAt = e.now()
	return nil
}

func (e *Engine) unwindCex(ctx context.Context, ec *ExecutionContext, sig *core.Signal, side core.Side) error {
	qty := ec.Leg1.Qty

	if e.cfg.Simulate {
		ec.Leg2 = e.simulatedFill("cex", side, qty, ec.Leg1.AvgPrice)
		return nil
	}

	var orderID string
	var err error
	if e.cex.SupportsMarketUnwind() {
		orderID, err = e.cex.PlaceMarket(ctx, sig.Pair, side, qty)
	} else {
		price := ec.Leg1.AvgPrice
		if side == core.SideSell {
			price = price.Mul(decimal.NewFromInt(1).Sub(aggressiveOffset))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Add(aggressiveOffset))
		}
		orderID, err = e.cex.PlaceLimitAggressive(ctx, sig.Pair, side, price, qty)
	}
	if err != nil {
		return err
	}

	update, err := e.pollUntilDone(ctx, sig.Pair, orderID)
	if err != nil {
		return err
	}
	ec.Leg2 = &LegFill{
		Venue:    "cex",
		OrderID:  orderID,
		Side:     side,
		Qty:      update.FilledQty,
		AvgPrice: update.AvgPrice,
		FilledAt: e.now(),
	}
	ec.Leg2.FeesUSD = ec.Leg2.Value().Mul(sig.Fees.CexFeeBps).Div(decimal.NewFromInt(10000))
	return nil
}

// finalize books the result: telemetry, events, the recovery callback
// and the persisted record.
func (e *Engine) finalize(ctx context.Context, ec *ExecutionContext, execErr error) (*core.TradeRecord, error) {
	sig := ec.Signal
	pnl := e.realizedPnL(ec)

	metrics := telemetry.GetGlobalMetrics()
	metrics.ExecutionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", ec.State().String()),
		attribute.Bool("unwound", ec.Unwound),
	))
	metrics.PnLRealizedTotal.Add(ctx, pnl.InexactFloat64())

	outcome := core.Outcome{
		SignalID:           sig.ID,
		Pair:               sig.Pair.String(),
		Success:            ec.State() == StateDone,
		Unwound:            ec.Unwound,
		NetPnLUSD:          pnl,
		Err:                execErr,
		ManualIntervention: ec.ManualIntervention,
	}
	if execErr != nil {
		outcome.FailureKind = e.classifier.Classify(execErr).String()
	}
	e.recovery.RecordOutcome(sig, outcome)

	evType := core.EventExecutionDone
	if !outcome.Success {
		evType = core.EventExecutionFailed
	}
	fields := map[string]string{
		"state":       ec.State().String(),
		"net_pnl_usd": pnl.String(),
		"unwound":     fmt.Sprintf("%t", ec.Unwound),
	}
	if execErr != nil {
		fields["error"] = execErr.Error()
	}
	e.events.Emit(core.NewEvent(evType, sig.Pair.String(), sig.ID, fields))

	rec := &core.TradeRecord{
		SignalID:    sig.ID,
		Pair:        sig.Pair.String(),
		Direction:   sig.Direction.String(),
		SizeQuote:   sig.SizeQuote,
		ExpectedUSD: sig.ExpectedNetUSD,
		NetPnLUSD:   pnl,
		Unwound:     ec.Unwound,
		FinalState:  ec.State().String(),
		LatencyMS:   ec.LatencyMS(),
		CompletedAt: ec.FinishedAt,
	}
	if ec.Leg1 != nil {
		rec.SizeBase = ec.Leg1.Qty
		rec.EntryPrice = ec.Leg1.AvgPrice
		rec.FeesUSD = rec.FeesUSD.Add(ec.Leg1.FeesUSD)
		rec.GasUSD = rec.GasUSD.Add(ec.Leg1.GasUSD)
	}
	if ec.Leg2 != nil {
		rec.ExitPrice = ec.Leg2.AvgPrice
		rec.FeesUSD = rec.FeesUSD.Add(ec.Leg2.FeesUSD)
		rec.GasUSD = rec.GasUSD.Add(ec.Leg2.GasUSD)
	}
	rec.GrossPnLUSD = e.grossPnL(ec)

	if e.audit != nil {
		e.audit(sig.ID, ec.TrailJSON())
	}

	e.logger.Info("Execution finished",
		"signal_id", sig.ID,
		"state", ec.State().String(),
		"net_pnl_usd", pnl.String(),
		"latency_ms", rec.LatencyMS)

	return rec, execErr
}

// grossPnL is sell proceeds minus buy cost over whatever legs filled.
func (e *Engine) grossPnL(ec *ExecutionContext) decimal.Decimal {
	gross := decimal.Zero
	for _, fill := range []*LegFill{ec.Leg1, ec.Leg2} {
		if fill == nil {
			continue
		}
		if fill.Side == core.SideSell {
			gross = gross.Add(fill.Value())
		} else {
			gross = gross.Sub(fill.Value())
		}
	}
	if ec.Leg1 == nil || ec.Leg2 == nil {
		return decimal.Zero
	}
	return gross
}

// realizedPnL nets out venue fees, gas and the amortized bridge share.
func (e *Engine) realizedPnL(ec *ExecutionContext) decimal.Decimal {
	if ec.Leg1 == nil || ec.Leg2 == nil {
		return decimal.Zero
	}
	pnl := e.grossPnL(ec)
	for _, fill := range []*LegFill{ec.Leg1, ec.Leg2} {
		pnl = pnl.Sub(fill.FeesUSD).Sub(fill.GasUSD)
	}
	if ec.State() == StateDone {
		pnl = pnl.Sub(ec.Signal.Fees.BridgeAmortizedUSD)
	}
	return pnl
}

func (e *Engine) retryable(err error) bool {
	return e.classifier.Retryable(e.classifier.Classify(err))
}

// amountIn returns the input amount a swap of the given side consumes.
func (e *Engine) amountIn(sig *core.Signal, side core.Side, sizeBase decimal.Decimal) decimal.Decimal {
	if side == core.SideBuy {
		return sig.SizeQuote
	}
	return sizeBase
}

// freshQuote re-prices the signal's own DEX side at its original size.
func (e *Engine) freshQuote(ctx context.Context, sig *core.Signal, sizeBase, sizeQuote decimal.Decimal) (*core.DexQuote, error) {
	side := sig.CexSide().Opposite()
	return e.freshQuoteForSide(ctx, sig, side, sizeBase)
}

// freshQuoteForSide prices a swap for an arbitrary side and base size,
// preferring the signal's chosen route.
func (e *Engine) freshQuoteForSide(ctx context.Context, sig *core.Signal, side core.Side, sizeBase decimal.Decimal) (*core.DexQuote, error) {
	adapter, ok := e.routes[sig.Quote.Route.Kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for route %s", sig.Quote.Route.Kind)
	}

	req := core.QuoteRequest{Pair: sig.Pair, RouteHint: &sig.Quote.Route}
	if side == core.SideBuy {
		req.TokenIn = sig.Pair.QuoteTokenAddr
		req.TokenOut = sig.Pair.TokenAddress
		req.AmountIn = sig.SizeQuote
	} else {
		req.TokenIn = sig.Pair.TokenAddress
		req.TokenOut = sig.Pair.QuoteTokenAddr
		req.AmountIn = sizeBase
	}
	return adapter.Quote(ctx, req)
}

// simulatedFill fabricates a fill at the signal price for dry runs.
func (e *Engine) simulatedFill(venue string, side core.Side, qty, price decimal.Decimal) *LegFill {
	return &LegFill{
		Venue:    venue,
		OrderID:  "sim",
		Side:     side,
		Qty:      qty,
		AvgPrice: price,
		FilledAt: e.now(),
	}
}
