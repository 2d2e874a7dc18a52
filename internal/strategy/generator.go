package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// BridgeCoster exposes the amortized bridge cost charged to each signal.
type BridgeCoster interface {
	EffectiveBridgeCostUSD() decimal.Decimal
}

// GeneratorConfig controls the signal generation gates.
type GeneratorConfig struct {
	MinProfitUSD   decimal.Decimal
	MaxPositionUSD decimal.Decimal
	SignalTTL      time.Duration
	Cooldown       time.Duration
	BookDepth      int
	// BalanceBuffer scales the funding preflight, e.g. 1.01 for a 1% margin.
	BalanceBuffer decimal.Decimal
}

// SignalGenerator composes candidate signals from live venue data.
type SignalGenerator struct {
	cfg        GeneratorConfig
	fees       FeeModel
	cex        core.ICexAdapter
	aggregator core.IDexAdapter
	pool       core.IDexAdapter // nil when no direct pool is configured
	bridge     BridgeCoster
	health     *RouteHealth
	events     core.IEventSink
	logger     core.ILogger

	mu         sync.Mutex
	lastSignal map[string]time.Time

	now func() time.Time
}

// NewSignalGenerator creates a generator. pool may be nil.
func NewSignalGenerator(
	cfg GeneratorConfig,
	fees FeeModel,
	cex core.ICexAdapter,
	aggregator core.IDexAdapter,
	pool core.IDexAdapter,
	bridge BridgeCoster,
	health *RouteHealth,
	events core.IEventSink,
	logger core.ILogger,
) *SignalGenerator {
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 10
	}
	if cfg.BalanceBuffer.IsZero() {
		cfg.BalanceBuffer = decimal.RequireFromString("1.01")
	}
	return &SignalGenerator{
		cfg:        cfg,
		fees:       fees,
		cex:        cex,
		aggregator: aggregator,
		pool:       pool,
		bridge:     bridge,
		health:     health,
		events:     events,
		logger:     logger.WithField("component", "signal_generator"),
		lastSignal: make(map[string]time.Time),
		now:        time.Now,
	}
}

// routeQuote pairs a candidate quote with its computed economics.
type routeQuote struct {
	quote    *core.DexQuote
	gross    decimal.Decimal
	fees     core.FeeBreakdown
	net      decimal.Decimal
	adjusted decimal.Decimal
}

// Generate evaluates one pair and returns a signal, or nil when no
// executable opportunity exists. Adapter failures never propagate; they
// are logged and produce a nil signal.
func (g *SignalGenerator) Generate(ctx context.Context, pair core.Pair, sizeQuote decimal.Decimal, capital core.CapitalState) *core.Signal {
	now := g.now()

	g.mu.Lock()
	last, seen := g.lastSignal[pair.String()]
	g.mu.Unlock()
	if seen && now.Sub(last) < g.cfg.Cooldown {
		return nil
	}

	book, dexBuyQuotes := g.fetchBuySide(ctx, pair, sizeQuote)
	if book == nil {
		return nil
	}
	if err := book.Validate(); err != nil {
		g.logger.Warn("Discarding invalid order book", "pair", pair.String(), "error", err)
		return nil
	}

	cexBuyPx, baseAtAsk, okBuy := book.VWAPForQuote(core.SideBuy, sizeQuote)
	cexSellPx, _, okSell := book.VWAPForQuote(core.SideSell, sizeQuote)
	if !okBuy || !okSell {
		g.drop(pair, "", "insufficient_cex_depth")
		return nil
	}

	dexSellQuotes := g.fetchSellSide(ctx, pair, baseAtAsk)

	bestDexBuy := bestEffectivePrice(dexBuyQuotes, false)
	bestDexSell := bestEffectivePrice(dexSellQuotes, true)

	// Direction A: buy on the CEX ask, sell into the DEX route.
	// Direction B: buy from the DEX route, sell into the CEX bid.
	spreadA := decimal.Zero
	if bestDexSell != nil {
		spreadA = SpreadBps(bestDexSell.EffectivePrice, cexBuyPx)
	}
	spreadB := decimal.Zero
	if bestDexBuy != nil {
		spreadB = SpreadBps(cexSellPx, bestDexBuy.EffectivePrice)
	}

	var (
		direction  core.Direction
		gross      decimal.Decimal
		cexPx      decimal.Decimal
		candidates []*core.DexQuote
	)
	if spreadA.GreaterThanOrEqual(spreadB) {
		direction, gross, cexPx, candidates = core.BuyCexSellDex, spreadA, cexBuyPx, dexSellQuotes
	} else {
		direction, gross, cexPx, candidates = core.BuyDexSellCex, spreadB, cexSellPx, dexBuyQuotes
	}

	if gross.LessThan(pair.TierMinSpreadBps) {
		g.drop(pair, "", "below_tier_min_spread")
		return nil
	}

	chosen := g.selectRoute(pair, direction, cexPx, sizeQuote, candidates)
	if chosen == nil {
		g.drop(pair, "", "no_route")
		return nil
	}

	if chosen.net.LessThan(g.cfg.MinProfitUSD) {
		g.drop(pair, "", "below_min_profit")
		return nil
	}

	sizeBase := sizeQuote.Div(cexPx)
	if direction == core.BuyDexSellCex {
		sizeBase = sizeQuote.Div(chosen.quote.EffectivePrice)
	}

	if reason := g.checkBalances(pair, direction, sizeBase, sizeQuote, capital); reason != "" {
		g.drop(pair, "", reason)
		return nil
	}

	if sizeQuote.GreaterThan(g.cfg.MaxPositionUSD) {
		g.drop(pair, "", "position_limit")
		return nil
	}

	sig := &core.Signal{
		ID:             core.NewSignalID(pair),
		Pair:           pair,
		Direction:      direction,
		SizeBase:       sizeBase,
		SizeQuote:      sizeQuote,
		CexSidePrice:   cexPx,
		DexSidePrice:   chosen.quote.EffectivePrice,
		GrossSpreadBps: chosen.gross,
		Fees:           chosen.fees,
		ExpectedNetUSD: chosen.net,
		BreakevenBps:   BreakevenBps(sizeQuote, chosen.fees),
		Quote:          chosen.quote,
		RouteScores:    g.routeScores(pair, direction, cexPx, sizeQuote, candidates),
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.cfg.SignalTTL),
		Meta: map[string]string{
			"cex_bid":       book.BestBid().String(),
			"cex_ask":       book.BestAsk().String(),
			"bid_depth_usd": book.DepthQuote(core.SideSell).String(),
			"ask_depth_usd": book.DepthQuote(core.SideBuy).String(),
			"route":         chosen.quote.Route.String(),
		},
	}

	g.mu.Lock()
	g.lastSignal[pair.String()] = now
	g.mu.Unlock()

	g.events.Emit(core.NewEvent(core.EventSignalGenerated, pair.String(), sig.ID, map[string]string{
		"direction": direction.String(),
		"gross_bps": gross.StringFixed(2),
		"net_usd":   chosen.net.StringFixed(4),
		"route":     chosen.quote.Route.String(),
	}))
	return sig
}

// RecordRouteOutcome feeds an execution result back into route health.
func (g *SignalGenerator) RecordRouteOutcome(pair string, kind core.RouteKind, gasUSD decimal.Decimal, failed bool) {
	g.health.Record(pair, kind, gasUSD, failed)
}

func (g *SignalGenerator) fetchBuySide(ctx context.Context, pair core.Pair, sizeQuote decimal.Decimal) (*core.OrderBook, []*core.DexQuote) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		book   *core.OrderBook
		quotes []*core.DexQuote
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := g.cex.FetchOrderBook(ctx, pair, g.cfg.BookDepth)
		if err != nil {
			g.logger.Warn("Order book fetch failed", "pair", pair.String(), "error", err)
			return
		}
		book = b
	}()

	req := core.QuoteRequest{
		Pair:     pair,
		TokenIn:  pair.QuoteTokenAddr,
		TokenOut: pair.TokenAddress,
		AmountIn: sizeQuote,
	}
	for _, adapter := range g.dexAdapters() {
		wg.Add(1)
		go func(a core.IDexAdapter) {
			defer wg.Done()
			q, err := a.Quote(ctx, req)
			if err != nil {
				g.logger.Debug("DEX buy quote failed", "pair", pair.String(), "error", err)
				return
			}
			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
		}(adapter)
	}

	wg.Wait()
	return book, quotes
}

func (g *SignalGenerator) fetchSellSide(ctx context.Context, pair core.Pair, sizeBase decimal.Decimal) []*core.DexQuote {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		quotes []*core.DexQuote
	)

	req := core.QuoteRequest{
		Pair:     pair,
		TokenIn:  pair.TokenAddress,
		TokenOut: pair.QuoteTokenAddr,
		AmountIn: sizeBase,
	}
	for _, adapter := range g.dexAdapters() {
		wg.Add(1)
		go func(a core.IDexAdapter) {
			defer wg.Done()
			q, err := a.Quote(ctx, req)
			if err != nil {
				g.logger.Debug("DEX sell quote failed", "pair", pair.String(), "error", err)
				return
			}
			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
		}(adapter)
	}

	wg.Wait()
	return quotes
}

// bestEffectivePrice picks the extreme quote: highest effective price when
// selling base (more quote out), lowest when buying base.
func bestEffectivePrice(quotes []*core.DexQuote, wantHighest bool) *core.DexQuote {
	var best *core.DexQuote
	for _, q := range quotes {
		if best == nil {
			best = q
			continue
		}
		if wantHighest && q.EffectivePrice.GreaterThan(best.EffectivePrice) {
			best = q
		}
		if !wantHighest && q.EffectivePrice.LessThan(best.EffectivePrice) {
			best = q
		}
	}
	return best
}

func (g *SignalGenerator) dexAdapters() []core.IDexAdapter {
	adapters := []core.IDexAdapter{g.aggregator}
	if g.pool != nil {
		adapters = append(adapters, g.pool)
	}
	return adapters
}

// selectRoute scores each candidate by net profit minus the route's
// unreliability penalty, tie-breaking on lower gas cost.
func (g *SignalGenerator) selectRoute(pair core.Pair, direction core.Direction, cexPx, sizeQuote decimal.Decimal, candidates []*core.DexQuote) *routeQuote {
	var best *routeQuote
	for _, q := range candidates {
		rq := g.evalRoute(pair, direction, cexPx, sizeQuote, q)
		if best == nil ||
			rq.adjusted.GreaterThan(best.adjusted) ||
			(rq.adjusted.Equal(best.adjusted) && rq.fees.GasUSD.LessThan(best.fees.GasUSD)) {
			best = rq
		}
	}
	return best
}

func (g *SignalGenerator) evalRoute(pair core.Pair, direction core.Direction, cexPx, sizeQuote decimal.Decimal, q *core.DexQuote) *routeQuote {
	var gross decimal.Decimal
	if direction == core.BuyCexSellDex {
		gross = SpreadBps(q.EffectivePrice, cexPx)
	} else {
		gross = SpreadBps(cexPx, q.EffectivePrice)
	}
	fees := g.fees.Breakdown(pair, q, g.bridge.EffectiveBridgeCostUSD())
	net := NetProfitUSD(sizeQuote, gross, fees)
	adjusted := net.Sub(g.health.PenaltyUSD(pair.String(), q.Route.Kind))
	return &routeQuote{quote: q, gross: gross, fees: fees, net: net, adjusted: adjusted}
}

func (g *SignalGenerator) routeScores(pair core.Pair, direction core.Direction, cexPx, sizeQuote decimal.Decimal, candidates []*core.DexQuote) map[string]decimal.Decimal {
	scores := make(map[string]decimal.Decimal, len(candidates))
	for _, q := range candidates {
		rq := g.evalRoute(pair, direction, cexPx, sizeQuote, q)
		scores[q.Route.String()] = rq.adjusted
	}
	return scores
}

func (g *SignalGenerator) checkBalances(pair core.Pair, direction core.Direction, sizeBase, sizeQuote decimal.Decimal, capital core.CapitalState) string {
	needQuote := sizeQuote.Mul(g.cfg.BalanceBuffer)
	switch direction {
	case core.BuyCexSellDex:
		if capital.CexBalances[pair.Quote].LessThan(needQuote) {
			return "insufficient_cex_quote"
		}
		if capital.ChainBalances[pair.Base].LessThan(sizeBase) {
			return "insufficient_chain_base"
		}
	case core.BuyDexSellCex:
		if capital.ChainBalances[pair.Quote].LessThan(needQuote) {
			return "insufficient_chain_quote"
		}
		if capital.CexBalances[pair.Base].LessThan(sizeBase) {
			return "insufficient_cex_base"
		}
	}
	return ""
}

func (g *SignalGenerator) drop(pair core.Pair, signalID, reason string) {
	g.events.Emit(core.NewEvent(core.EventSignalDropped, pair.String(), signalID, map[string]string{
		"reason": reason,
	}))
}
