package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"arb_bot/pkg/concurrency"
	"arb_bot/pkg/logging"
	"arb_bot/pkg/telemetry"

	"arb_bot/internal/alert"
	"arb_bot/internal/capital"
	"arb_bot/internal/core"
	"arb_bot/internal/exchange/mock"
	"arb_bot/internal/executor"
	"arb_bot/internal/history"
	"arb_bot/internal/recovery"
	"arb_bot/internal/safety"
	"arb_bot/internal/strategy"
)

func init() {
	// The default provider hands out no-op instruments, which is all the
	// loop needs here.
	_ = telemetry.GetGlobalMetrics().InitMetrics(otel.Meter("orchestrator_test"))
}

var orchPair = core.Pair{
	Base:             "ARB",
	Quote:            "USDT",
	VenueSymbol:      "ARBUSDT",
	TokenAddress:     "0x912ce59144191c1204e64559fe8253a0e49e6548",
	QuoteTokenAddr:   "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9",
	TierMinSpreadBps: decimal.NewFromInt(35),
}

// testHarness wires a full simulated pipeline around scriptable venues.
type testHarness struct {
	orch  *Orchestrator
	cex   *mock.MockCex
	dex   *mock.MockDex
	store *history.SQLiteStore
	rec   *recovery.Manager
	cap   *capital.Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := logging.NewTestLogger()
	events := core.NullSink{}

	// A 5% CEX/DEX gap leaves a fat spread after fees.
	cex := mock.NewMockCex(decimal.NewFromInt(1))
	dex := mock.NewMockDex(decimal.RequireFromString("0.95"))

	capitalMgr := capital.NewManager(capital.Config{
		QuoteAsset:               "USDT",
		StartingCexQuote:         decimal.NewFromInt(100),
		StartingChainQuote:       decimal.NewFromInt(100),
		StartingCexBase:          decimal.NewFromInt(50),
		StartingChainBase:        decimal.NewFromInt(50),
		BridgeThresholdUSD:       decimal.NewFromInt(10),
		BridgeFixedCostUSD:       decimal.NewFromInt(2),
		AmortizationTargetTrades: 20,
	}, []core.Pair{orchPair}, logger)

	gate := safety.NewGate(events, logger)
	recoveryMgr := recovery.NewManager(
		recovery.BreakerConfig{FailureThreshold: 3, Window: 2 * time.Minute, Cooldown: 5 * time.Minute, MaxDrawdownUSD: decimal.NewFromInt(5)},
		recovery.BreakerConfig{FailureThreshold: 6, Window: 2 * time.Minute, Cooldown: 10 * time.Minute, MaxDrawdownUSD: decimal.NewFromInt(10)},
		recovery.ReplayConfig{TTL: time.Minute, MaxAge: 30 * time.Second},
		gate, events, alert.NewManager(logger), logger)

	health := strategy.NewRouteHealth(50, decimal.RequireFromString("0.05"))
	generator := strategy.NewSignalGenerator(strategy.GeneratorConfig{
		MinProfitUSD:   decimal.RequireFromString("0.05"),
		MaxPositionUSD: decimal.NewFromInt(25),
		SignalTTL:      3 * time.Second,
		Cooldown:       5 * time.Second,
		BookDepth:      10,
	}, strategy.FeeModel{
		CexMakerFeeBps:    decimal.NewFromInt(10),
		SlippageBufferBps: decimal.NewFromInt(10),
		GasPriceGwei:      decimal.RequireFromString("0.1"),
		NativeUSD:         decimal.NewFromInt(2500),
	}, cex, dex, nil, capitalMgr, health, events, logger)

	tracker := strategy.NewHistoryTracker(decimal.RequireFromString("0.2"))
	scorer := strategy.NewSignalScorer(strategy.DefaultScorerConfig(), capitalMgr, tracker, events, logger)
	queue := strategy.NewSignalQueue(strategy.QueueConfig{MaxDepth: 10, MaxPerPair: 3}, events)

	engineCfg := executor.DefaultConfig()
	engineCfg.Simulate = true
	engine := executor.NewEngine(engineCfg, cex,
		map[core.RouteKind]core.IDexAdapter{core.RouteAggregator: dex},
		recoveryMgr, capitalMgr.Snapshot, events, logger)

	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "executor",
		MaxWorkers:  2,
		MaxCapacity: 8,
	}, logger)
	t.Cleanup(pool.Stop)

	orch := New(Config{
		TickInterval: 50 * time.Millisecond,
		SizeQuoteUSD: decimal.NewFromInt(20),
	}, []core.Pair{orchPair}, generator, scorer, queue, engine,
		capitalMgr, tracker, recoveryMgr, store, pool, events, logger)

	return &testHarness{orch: orch, cex: cex, dex: dex, store: store, rec: recoveryMgr, cap: capitalMgr}
}

func tradeCount(t *testing.T, h *testHarness) int {
	t.Helper()
	trades, err := h.store.RecentTrades(context.Background(), "", 50)
	require.NoError(t, err)
	return len(trades)
}

func TestTickGeneratesExecutesAndSettles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.tick(ctx)

	require.Eventually(t, func() bool { return tradeCount(t, h) == 1 },
		2*time.Second, 20*time.Millisecond)

	trades, err := h.store.RecentTrades(ctx, orchPair.String(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "DONE", trades[0].FinalState)
	assert.Equal(t, core.BuyDexSellCex.String(), trades[0].Direction)
	assert.True(t, trades[0].NetPnLUSD.IsPositive(), "got %s", trades[0].NetPnLUSD)

	snap := h.cap.Snapshot()
	assert.Equal(t, 1, snap.TradesLastHour)
	assert.True(t, snap.RealizedPnLUSD.Equal(trades[0].NetPnLUSD))
}

func TestTickRespectsGeneratorCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.tick(ctx)
	require.Eventually(t, func() bool { return tradeCount(t, h) == 1 },
		2*time.Second, 20*time.Millisecond)

	// The pair is cooling down and the signal id ledger holds the first
	// execution, so an immediate second tick settles nothing new.
	h.orch.tick(ctx)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, tradeCount(t, h))
}

func TestTickSkipsWhenKilled(t *testing.T) {
	h := newHarness(t)

	h.orch.SetKillSwitch(true)
	h.orch.tick(context.Background())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, h.dex.QuoteCalls)
	assert.Equal(t, 0, tradeCount(t, h))

	// Clearing the switch resumes intake.
	h.orch.SetKillSwitch(false)
	h.orch.tick(context.Background())
	require.Eventually(t, func() bool { return tradeCount(t, h) == 1 },
		2*time.Second, 20*time.Millisecond)
}

func TestTickSkipsWhenGlobalBreakerOpen(t *testing.T) {
	h := newHarness(t)

	// Force enough failures through the recovery plane to open the
	// global scope.
	for i := 0; i < 6; i++ {
		sig := &core.Signal{
			ID:        core.NewSignalID(orchPair),
			Pair:      orchPair,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(3 * time.Second),
		}
		h.rec.RecordOutcome(sig, core.Outcome{Success: false, Err: errors.New("request timed out")})
	}
	require.Equal(t, recovery.BreakerOpen, h.rec.Breaker().GlobalState())

	h.orch.tick(context.Background())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, h.dex.QuoteCalls)
	assert.Equal(t, 0, tradeCount(t, h))
}
