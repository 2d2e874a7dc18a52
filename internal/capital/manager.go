package capital

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// Config carries the capital plan for a session.
type Config struct {
	QuoteAsset string `yaml:"quote_asset"`

	StartingCexQuote   decimal.Decimal `yaml:"starting_cex_quote"`
	StartingChainQuote decimal.Decimal `yaml:"starting_chain_quote"`
	StartingCexBase    decimal.Decimal `yaml:"starting_cex_base"`
	StartingChainBase  decimal.Decimal `yaml:"starting_chain_base"`

	BridgeThresholdUSD       decimal.Decimal `yaml:"bridge_threshold_usd"`
	BridgeFixedCostUSD       decimal.Decimal `yaml:"bridge_fixed_cost_usd"`
	AmortizationTargetTrades int             `yaml:"amortization_target_trades"`

	// RebalanceSkewPct triggers a bridge recommendation when one venue
	// holds more than this share of the combined quote balance.
	RebalanceSkewPct decimal.Decimal `yaml:"rebalance_skew_pct"`
}

// Manager owns balances, realized results and bridge economics. All
// mutations funnel through ApplyTrade, which is idempotent per signal so
// a retried terminal callback cannot double-count.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	inventory *InventoryTracker

	realizedPnL       decimal.Decimal
	pnlAtLastBridge   decimal.Decimal
	tradesSinceBridge int

	dailyLoss decimal.Decimal
	dayStart  time.Time

	tradeTimes []time.Time
	applied    map[string]bool

	logger core.ILogger
	now    func() time.Time
}

// NewManager seeds a manager from the configured starting balances.
func NewManager(cfg Config, pairs []core.Pair, logger core.ILogger) *Manager {
	inv := NewInventoryTracker()
	inv.SetFree(VenueCex, cfg.QuoteAsset, cfg.StartingCexQuote)
	inv.SetFree(VenueChain, cfg.QuoteAsset, cfg.StartingChainQuote)
	for _, p := range pairs {
		inv.SetFree(VenueCex, p.Base, cfg.StartingCexBase)
		inv.SetFree(VenueChain, p.Base, cfg.StartingChainBase)
	}

	m := &Manager{
		cfg:       cfg,
		inventory: inv,
		applied:   make(map[string]bool),
		logger:    logger.WithField("component", "capital"),
		now:       time.Now,
	}
	m.dayStart = m.utcDayStart(m.now())
	return m
}

// Inventory exposes the balance book for leg locking.
func (m *Manager) Inventory() *InventoryTracker {
	return m.inventory
}

// Snapshot returns the read-only view the signal path and the safety
// gate consume.
func (m *Manager) Snapshot() core.CapitalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.pruneTradeTimesLocked()

	return core.CapitalState{
		CexBalances:           m.inventory.FreeMap(VenueCex),
		ChainBalances:         m.inventory.FreeMap(VenueChain),
		RealizedPnLUSD:        m.realizedPnL,
		DailyLossUSD:          m.dailyLoss,
		TradesLastHour:        len(m.tradeTimes),
		TradesSinceLastBridge: m.tradesSinceBridge,
		BridgeThresholdUSD:    m.cfg.BridgeThresholdUSD,
		BridgeFixedCostUSD:    m.cfg.BridgeFixedCostUSD,
	}
}

// EffectiveBridgeCostUSD spreads the fixed bridge fee over the trades it
// is expected to enable. The projection is the configured amortization
// target, never less than one trade.
func (m *Manager) EffectiveBridgeCostUSD() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	projected := m.cfg.AmortizationTargetTrades
	if projected < 1 {
		projected = 1
	}
	return m.cfg.BridgeFixedCostUSD.Div(decimal.NewFromInt(int64(projected)))
}

// ShouldBridge recommends a rebalance when accumulated profit since the
// last bridge covers the threshold and quote inventory has drifted to
// one venue. Returns the venue funds should move toward.
func (m *Manager) ShouldBridge() (bool, Venue, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profit := m.realizedPnL.Sub(m.pnlAtLastBridge)
	if profit.LessThan(m.cfg.BridgeThresholdUSD) {
		return false, "", "profit below bridge threshold"
	}

	cexQ := m.inventory.Free(VenueCex, m.cfg.QuoteAsset)
	chainQ := m.inventory.Free(VenueChain, m.cfg.QuoteAsset)
	total := cexQ.Add(chainQ)
	if total.IsZero() {
		return false, "", "no quote inventory"
	}

	skewPct := m.cfg.RebalanceSkewPct
	if skewPct.IsZero() {
		skewPct = decimal.NewFromFloat(0.75)
	}
	if cexQ.Div(total).GreaterThan(skewPct) {
		return true, VenueChain, "cex quote balance over skew limit"
	}
	if chainQ.Div(total).GreaterThan(skewPct) {
		return true, VenueCex, "chain quote balance over skew limit"
	}
	return false, "", "inventory balanced"
}

// MarkBridged resets the amortization window after an operator bridge.
func (m *Manager) MarkBridged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnlAtLastBridge = m.realizedPnL
	m.tradesSinceBridge = 0
}

// ApplyTrade applies a terminal round-trip to balances and counters.
// Returns false when the signal was already applied.
func (m *Manager) ApplyTrade(rec *core.TradeRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[rec.SignalID] {
		m.logger.Warn("Duplicate terminal application ignored", "signal_id", rec.SignalID)
		return false
	}
	m.applied[rec.SignalID] = true

	m.rollDayLocked()
	m.applyBalancesLocked(rec)

	m.realizedPnL = m.realizedPnL.Add(rec.NetPnLUSD)
	if rec.NetPnLUSD.IsNegative() {
		m.dailyLoss = m.dailyLoss.Add(rec.NetPnLUSD.Neg())
	}
	m.tradesSinceBridge++
	m.tradeTimes = append(m.tradeTimes, m.now())
	m.pruneTradeTimesLocked()

	m.logger.Info("Applied trade",
		"signal_id", rec.SignalID,
		"net_pnl_usd", rec.NetPnLUSD.String(),
		"daily_loss_usd", m.dailyLoss.String(),
		"unwound", rec.Unwound)
	return true
}

// applyBalancesLocked moves the round-trip through the balance book.
// A completed arb shifts quote from the buy venue to the sell venue and
// base the other way; an unwound trade leaves base flat and books the
// loss on the leg-one venue.
func (m *Manager) applyBalancesLocked(rec *core.TradeRecord) {
	quote := m.cfg.QuoteAsset
	pairBase := baseFromPair(rec.Pair)

	buyVenue, sellVenue := VenueCex, VenueChain
	if rec.Direction == core.BuyDexSellCex.String() {
		buyVenue, sellVenue = VenueChain, VenueCex
	}

	if rec.Unwound {
		m.inventory.Adjust(buyVenue, quote, rec.NetPnLUSD)
		return
	}

	proceeds := rec.SizeQuote.Add(rec.NetPnLUSD)
	m.inventory.Adjust(buyVenue, quote, rec.SizeQuote.Neg())
	m.inventory.Adjust(buyVenue, pairBase, rec.SizeBase)
	m.inventory.Adjust(sellVenue, pairBase, rec.SizeBase.Neg())
	m.inventory.Adjust(sellVenue, quote, proceeds)
}

// SkewImpact scores how a prospective trade direction moves base-asset
// inventory relative to the balanced point. Positive when the trade
// reduces the current imbalance, negative when it grows it.
func (m *Manager) SkewImpact(pair core.Pair, direction core.Direction) int {
	skew := m.inventory.BaseSkew(pair)

	// BuyCexSellDex accumulates base on the CEX and drains the chain
	// wallet, pushing skew positive. The other direction is the mirror.
	push := 1
	if direction == core.BuyDexSellCex {
		push = -1
	}

	switch {
	case skew.IsZero():
		return 0
	case skew.IsPositive() && push < 0, skew.IsNegative() && push > 0:
		return 1
	default:
		return -1
	}
}

func (m *Manager) rollDayLocked() {
	day := m.utcDayStart(m.now())
	if day.After(m.dayStart) {
		m.dayStart = day
		m.dailyLoss = decimal.Zero
	}
}

func (m *Manager) pruneTradeTimesLocked() {
	cutoff := m.now().Add(-time.Hour)
	kept := m.tradeTimes[:0]
	for _, t := range m.tradeTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.tradeTimes = kept
}

func (m *Manager) utcDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func baseFromPair(pair string) string {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '/' {
			return pair[:i]
		}
	}
	return pair
}
