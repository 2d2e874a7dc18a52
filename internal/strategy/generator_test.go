package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb_bot/pkg/logging"

	"arb_bot/internal/core"
	"arb_bot/internal/exchange/mock"
)

var genPair = core.Pair{
	Base:             "ARB",
	Quote:            "USDT",
	VenueSymbol:      "ARBUSDT",
	TokenAddress:     "0x912ce59144191c1204e64559fe8253a0e49e6548",
	QuoteTokenAddr:   "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9",
	TierMinSpreadBps: decimal.NewFromInt(35),
}

type fixedBridge struct{ cost decimal.Decimal }

func (b fixedBridge) EffectiveBridgeCostUSD() decimal.Decimal { return b.cost }

func generatorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinProfitUSD:   decimal.RequireFromString("0.05"),
		MaxPositionUSD: decimal.NewFromInt(25),
		SignalTTL:      3 * time.Second,
		Cooldown:       5 * time.Second,
		BookDepth:      10,
	}
}

func generatorCapital() core.CapitalState {
	return core.CapitalState{
		CexBalances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(100),
			"ARB":  decimal.NewFromInt(50),
		},
		ChainBalances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(100),
			"ARB":  decimal.NewFromInt(50),
		},
	}
}

func newTestGenerator(cfg GeneratorConfig, cex *mock.MockCex, agg, pool core.IDexAdapter, health *RouteHealth) (*SignalGenerator, *time.Time) {
	if health == nil {
		health = NewRouteHealth(50, decimal.RequireFromString("0.05"))
	}
	fees := FeeModel{
		CexMakerFeeBps:    decimal.NewFromInt(10),
		SlippageBufferBps: decimal.NewFromInt(10),
		GasPriceGwei:      decimal.RequireFromString("0.1"),
		NativeUSD:         decimal.NewFromInt(2500),
	}
	g := NewSignalGenerator(cfg, fees, cex, agg, pool,
		fixedBridge{cost: decimal.RequireFromString("0.1")},
		health, core.NullSink{}, logging.NewTestLogger())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGenerateProducesExecutableSignal(t *testing.T) {
	// CEX mid 1.00 against a DEX quoting 0.95: buy the chain leg, sell
	// into the CEX bid.
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, _ := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	sig := g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital())
	require.NotNil(t, sig)

	assert.Equal(t, core.BuyDexSellCex, sig.Direction)
	assert.True(t, sig.SizeQuote.Equal(decimal.NewFromInt(20)))
	assert.True(t, sig.SizeBase.Equal(decimal.NewFromInt(20).Div(decimal.RequireFromString("0.95"))))
	assert.True(t, sig.GrossSpreadBps.GreaterThan(decimal.NewFromInt(500)), "got %s", sig.GrossSpreadBps)
	assert.True(t, sig.ExpectedNetUSD.GreaterThan(decimal.RequireFromString("0.5")), "got %s", sig.ExpectedNetUSD)
	assert.True(t, sig.BreakevenBps.IsPositive())
	assert.Equal(t, core.RouteAggregator, sig.Quote.Route.Kind)
	assert.Equal(t, sig.CreatedAt.Add(3*time.Second), sig.ExpiresAt)
	assert.Contains(t, sig.ID, "ARBUSDT_")
	assert.Equal(t, "aggregator", sig.Meta["route"])
	assert.NotEmpty(t, sig.Meta["cex_bid"])
}

func TestGenerateCooldownSuppressesPair(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, now := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	require.NotNil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
	callsAfterFirst := dex.QuoteCalls

	// Within the cooldown the pair is skipped before any venue I/O.
	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
	assert.Equal(t, callsAfterFirst, dex.QuoteCalls)

	*now = now.Add(6 * time.Second)
	assert.NotNil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

func TestGenerateDropBelowTierMinSpreadSkipsCooldown(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.999"))
	g, _ := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	// Roughly 9 bps gross against a 35 bps tier floor.
	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))

	// A drop does not start the cooldown; the next tick may still signal.
	dex.Price = decimal.RequireFromString("0.95")
	assert.NotNil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

func TestGenerateDropBelowMinProfit(t *testing.T) {
	cfg := generatorConfig()
	cfg.MinProfitUSD = decimal.NewFromInt(2)

	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, _ := newTestGenerator(cfg, cex, dex, nil, nil)

	// Net on a $20 clip at this spread is around $0.9.
	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

func TestGenerateDropInsufficientFunding(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, _ := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	// Buying the chain leg needs chain quote with a 1% buffer.
	capital := generatorCapital()
	capital.ChainBalances["USDT"] = decimal.NewFromInt(20)
	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), capital))

	// Selling into the CEX needs base inventory there.
	capital = generatorCapital()
	capital.CexBalances["ARB"] = decimal.NewFromInt(10)
	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), capital))
}

func TestGenerateDropPositionLimit(t *testing.T) {
	cfg := generatorConfig()
	cfg.MaxPositionUSD = decimal.NewFromInt(10)

	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, _ := newTestGenerator(cfg, cex, dex, nil, nil)

	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

func TestGenerateBookFetchFailureIsNil(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	cex.SetBook(nil)
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	g, _ := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

func TestGenerateQuoteFailureIsNil(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))
	dex.NextQuoteErr = context.DeadlineExceeded
	g, _ := newTestGenerator(generatorConfig(), cex, dex, nil, nil)

	assert.Nil(t, g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital()))
}

// scenarioPair trades a 30 bps pool with a 20 bps tier floor.
func scenarioPair() core.Pair {
	p := genPair
	p.PoolFeeTierBps = 30
	p.TierMinSpreadBps = decimal.NewFromInt(20)
	return p
}

func scenarioBook(t *testing.T, bid, ask string, levelSize int64) *core.OrderBook {
	t.Helper()
	bestBid := decimal.RequireFromString(bid)
	bestAsk := decimal.RequireFromString(ask)
	step := decimal.RequireFromString("0.0001")
	size := decimal.NewFromInt(levelSize)

	book := &core.OrderBook{FetchedAt: time.Now()}
	for i := 0; i < 5; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, core.PriceLevel{Price: bestBid.Sub(offset), Size: size})
		book.Asks = append(book.Asks, core.PriceLevel{Price: bestAsk.Add(offset), Size: size})
	}
	return book
}

// scenarioGenerator prices gas at $0.02 per 500k-unit swap and amortizes
// one cent of bridge cost, with no CEX maker fee or slippage buffer.
func scenarioGenerator(cex *mock.MockCex, dex core.IDexAdapter) *SignalGenerator {
	fees := FeeModel{
		GasPriceGwei: decimal.RequireFromString("0.016"),
		NativeUSD:    decimal.NewFromInt(2500),
	}
	g := NewSignalGenerator(generatorConfig(), fees, cex, dex, nil,
		fixedBridge{cost: decimal.RequireFromString("0.01")},
		NewRouteHealth(50, decimal.RequireFromString("0.05")),
		core.NullSink{}, logging.NewTestLogger())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g
}

func TestGenerateNarrowSpreadNetNegativeDropped(t *testing.T) {
	// A 1.2500 bid against a 1.2469 effective DEX buy is roughly 25 bps
	// gross: positive, above the tier floor, but under water after the
	// 30 bps LP fee and three cents of fixed cost on a $5 clip.
	cex := mock.NewMockCex(decimal.RequireFromString("1.2505"))
	cex.SetBook(scenarioBook(t, "1.2500", "1.2510", 100))
	dex := mock.NewMockDex(decimal.RequireFromString("1.2469"))
	g := scenarioGenerator(cex, dex)

	assert.Nil(t, g.Generate(context.Background(), scenarioPair(), decimal.NewFromInt(5), generatorCapital()))
}

func TestGenerateWideSpreadClearsFeesAndScore(t *testing.T) {
	// The bid moved to 1.2600 against the same 1.2469 DEX side: about
	// 105 bps gross on a $20 clip nets twelve cents after fees.
	cex := mock.NewMockCex(decimal.RequireFromString("1.2605"))
	cex.SetBook(scenarioBook(t, "1.2600", "1.2610", 1000))
	dex := mock.NewMockDex(decimal.RequireFromString("1.2469"))
	g := scenarioGenerator(cex, dex)

	sig := g.Generate(context.Background(), scenarioPair(), decimal.NewFromInt(20), generatorCapital())
	require.NotNil(t, sig)

	assert.Equal(t, core.BuyDexSellCex, sig.Direction)
	assert.True(t, sig.GrossSpreadBps.GreaterThan(decimal.NewFromInt(104)), "got %s", sig.GrossSpreadBps)
	assert.True(t, sig.GrossSpreadBps.LessThan(decimal.NewFromInt(106)), "got %s", sig.GrossSpreadBps)
	assert.True(t, sig.ExpectedNetUSD.GreaterThanOrEqual(decimal.RequireFromString("0.10")), "got %s", sig.ExpectedNetUSD)
	assert.True(t, sig.ExpectedNetUSD.LessThanOrEqual(decimal.RequireFromString("0.15")), "got %s", sig.ExpectedNetUSD)

	// The same signal clears the production scoring floor.
	scorer, _ := newTestScorer(DefaultScorerConfig(), stubInventory{}, NewHistoryTracker(decimal.RequireFromString("0.15")))
	require.True(t, scorer.Score(sig))
	assert.True(t, sig.Score.GreaterThanOrEqual(decimal.NewFromInt(55)), "got %s", sig.Score)
}

func TestGenerateRouteSelectionPenalizesFlakyRoute(t *testing.T) {
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	agg := mock.NewMockDex(decimal.RequireFromString("0.95"))
	pool := mock.NewMockDex(decimal.RequireFromString("0.94"))
	pool.Route = core.RouteTag{Kind: core.RouteDirectPool, PoolAddress: "0xpool", FeeTierBps: 30}

	health := NewRouteHealth(50, decimal.NewFromInt(5))
	g, _ := newTestGenerator(generatorConfig(), cex, agg, pool, health)

	// Undamaged, the cheaper direct pool wins on raw net.
	sig := g.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital())
	require.NotNil(t, sig)
	assert.Equal(t, core.RouteDirectPool, sig.Quote.Route.Kind)
	assert.Len(t, sig.RouteScores, 2)

	// A recent failure on the pool route flips selection to the
	// aggregator despite its worse price.
	g2, _ := newTestGenerator(generatorConfig(), cex, agg, pool, health)
	health.Record(genPair.String(), core.RouteDirectPool, decimal.Zero, true)

	sig = g2.Generate(context.Background(), genPair, decimal.NewFromInt(20), generatorCapital())
	require.NotNil(t, sig)
	assert.Equal(t, core.RouteAggregator, sig.Quote.Route.Kind)
}
