package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// InventoryView is what the scorer needs to know about inventory: whether
// executing a signal reduces (+1), keeps (0) or worsens (-1) the absolute
// skew between venues.
type InventoryView interface {
	SkewImpact(pair core.Pair, direction core.Direction) int
}

// ScoreWeights are the five component weights; they should sum to 1.
type ScoreWeights struct {
	Spread    decimal.Decimal
	Depth     decimal.Decimal
	Inventory decimal.Decimal
	History   decimal.Decimal
	Freshness decimal.Decimal
}

// DefaultScoreWeights mirror the production tuning.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Spread:    decimal.RequireFromString("0.40"),
		Depth:     decimal.RequireFromString("0.20"),
		Inventory: decimal.RequireFromString("0.15"),
		History:   decimal.RequireFromString("0.15"),
		Freshness: decimal.RequireFromString("0.10"),
	}
}

// ScorerConfig holds the normalization anchors for the component curves.
type ScorerConfig struct {
	Weights  ScoreWeights
	MinScore decimal.Decimal

	// Net spread anchors: at MinSpreadBps the component is 0, at
	// ExcellentSpreadBps it saturates at 1.
	MinSpreadBps       decimal.Decimal
	ExcellentSpreadBps decimal.Decimal

	// Thinner-side depth anchors in quote USD.
	MinDepthUSD       decimal.Decimal
	ExcellentDepthUSD decimal.Decimal

	// History EMA of realized-to-expected PnL ratio.
	EMAAlpha   decimal.Decimal
	MinSamples int
}

// DefaultScorerConfig returns the anchors used in production.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:            DefaultScoreWeights(),
		MinScore:           decimal.NewFromInt(55),
		MinSpreadBps:       decimal.NewFromInt(30),
		ExcellentSpreadBps: decimal.NewFromInt(100),
		MinDepthUSD:        decimal.NewFromInt(500),
		ExcellentDepthUSD:  decimal.NewFromInt(10000),
		EMAAlpha:           decimal.RequireFromString("0.15"),
		MinSamples:         3,
	}
}

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")
	one     = decimal.NewFromInt(1)
)

// HistoryTracker keeps a per-pair EMA of realized-to-expected PnL ratios.
type HistoryTracker struct {
	mu      sync.Mutex
	alpha   decimal.Decimal
	values  map[string]decimal.Decimal
	samples map[string]int
}

// NewHistoryTracker creates a tracker with the given EMA alpha.
func NewHistoryTracker(alpha decimal.Decimal) *HistoryTracker {
	return &HistoryTracker{
		alpha:   alpha,
		values:  make(map[string]decimal.Decimal),
		samples: make(map[string]int),
	}
}

// Record folds one realized-to-expected ratio into the pair EMA. Ratios
// are clamped to [0, 2] so a single outlier cannot dominate.
func (h *HistoryTracker) Record(pair string, ratio decimal.Decimal) {
	if ratio.LessThan(decimal.Zero) {
		ratio = decimal.Zero
	}
	two := decimal.NewFromInt(2)
	if ratio.GreaterThan(two) {
		ratio = two
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.values[pair]
	if !ok {
		prev = half
	}
	h.values[pair] = h.alpha.Mul(ratio).Add(one.Sub(h.alpha).Mul(prev))
	h.samples[pair]++
}

// Value returns the EMA and the sample count for a pair.
func (h *HistoryTracker) Value(pair string) (decimal.Decimal, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[pair]
	if !ok {
		return half, 0
	}
	return v, h.samples[pair]
}

// SignalScorer assigns each signal a 0-100 score from five weighted
// components.
type SignalScorer struct {
	cfg       ScorerConfig
	inventory InventoryView
	history   *HistoryTracker
	events    core.IEventSink
	logger    core.ILogger
	now       func() time.Time
}

// NewSignalScorer creates a scorer.
func NewSignalScorer(cfg ScorerConfig, inventory InventoryView, history *HistoryTracker, events core.IEventSink, logger core.ILogger) *SignalScorer {
	return &SignalScorer{
		cfg:       cfg,
		inventory: inventory,
		history:   history,
		events:    events,
		logger:    logger.WithField("component", "signal_scorer"),
		now:       time.Now,
	}
}

// Score computes the weighted score, stores it on the signal together with
// the breakdown, and reports whether the signal clears MinScore.
func (s *SignalScorer) Score(sig *core.Signal) bool {
	now := s.now()

	spread := s.spreadComponent(sig)
	depth := s.depthComponent(sig)
	inventory := s.inventoryComponent(sig)
	history := s.historyComponent(sig)
	freshness := FreshnessComponent(sig, now)

	w := s.cfg.Weights
	total := spread.Mul(w.Spread).
		Add(depth.Mul(w.Depth)).
		Add(inventory.Mul(w.Inventory)).
		Add(history.Mul(w.History)).
		Add(freshness.Mul(w.Freshness))

	sig.Score = total.Mul(hundred).Round(2)
	sig.Breakdown = core.ScoreBreakdown{
		Spread:    spread,
		Depth:     depth,
		Inventory: inventory,
		History:   history,
		Freshness: freshness,
	}

	s.events.Emit(core.NewEvent(core.EventSignalScored, sig.Pair.String(), sig.ID, map[string]string{
		"score": sig.Score.String(),
	}))

	return sig.Score.GreaterThanOrEqual(s.cfg.MinScore)
}

// spreadComponent interpolates the net-of-fees spread between the anchors.
func (s *SignalScorer) spreadComponent(sig *core.Signal) decimal.Decimal {
	netBps := sig.GrossSpreadBps.Sub(sig.Fees.TotalBps())
	return interpolate(netBps, s.cfg.MinSpreadBps, s.cfg.ExcellentSpreadBps)
}

// depthComponent uses the thinner side of the book as reported by the
// generator metadata; a missing reading scores neutral.
func (s *SignalScorer) depthComponent(sig *core.Signal) decimal.Decimal {
	bid, bidErr := decimal.NewFromString(sig.Meta["bid_depth_usd"])
	ask, askErr := decimal.NewFromString(sig.Meta["ask_depth_usd"])
	if bidErr != nil || askErr != nil {
		return half
	}
	thinner := decimal.Min(bid, ask)
	return interpolate(thinner, s.cfg.MinDepthUSD, s.cfg.ExcellentDepthUSD)
}

func (s *SignalScorer) inventoryComponent(sig *core.Signal) decimal.Decimal {
	impact := s.inventory.SkewImpact(sig.Pair, sig.Direction)
	// -1/0/+1 mapped onto [0, 1]
	return decimal.NewFromInt(int64(impact)).Add(one).Div(decimal.NewFromInt(2))
}

func (s *SignalScorer) historyComponent(sig *core.Signal) decimal.Decimal {
	v, samples := s.history.Value(sig.Pair.String())
	if samples < s.cfg.MinSamples {
		return half
	}
	return clamp01(v)
}

// FreshnessComponent is max(0, 1 - age/ttl). The queue reuses it when
// re-scoring at drain time.
func FreshnessComponent(sig *core.Signal, now time.Time) decimal.Decimal {
	ttl := sig.ExpiresAt.Sub(sig.CreatedAt)
	if ttl <= 0 {
		return decimal.Zero
	}
	age := decimal.NewFromFloat(now.Sub(sig.CreatedAt).Seconds())
	ttlSec := decimal.NewFromFloat(ttl.Seconds())
	return clamp01(one.Sub(age.Div(ttlSec)))
}

func interpolate(v, lo, hi decimal.Decimal) decimal.Decimal {
	if hi.LessThanOrEqual(lo) {
		return decimal.Zero
	}
	return clamp01(v.Sub(lo).Div(hi.Sub(lo)))
}

func clamp01(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if v.GreaterThan(one) {
		return one
	}
	return v
}
