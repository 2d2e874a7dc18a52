package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb_bot/pkg/logging"

	"arb_bot/internal/core"
)

type stubInventory struct {
	impact int
}

func (s stubInventory) SkewImpact(core.Pair, core.Direction) int { return s.impact }

func scorerSignal(now time.Time) *core.Signal {
	return &core.Signal{
		ID:             "ARBUSDT_sc000001",
		Pair:           pairARB,
		GrossSpreadBps: decimal.NewFromInt(130),
		Fees: core.FeeBreakdown{
			CexFeeBps:         decimal.NewFromInt(10),
			DexLPFeeBps:       decimal.NewFromInt(10),
			SlippageBufferBps: decimal.NewFromInt(10),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(3 * time.Second),
		Meta: map[string]string{
			"bid_depth_usd": "10000",
			"ask_depth_usd": "12000",
		},
	}
}

func newTestScorer(cfg ScorerConfig, inv InventoryView, history *HistoryTracker) (*SignalScorer, *time.Time) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := NewSignalScorer(cfg, inv, history, core.NullSink{}, logging.NewTestLogger())
	s.now = func() time.Time { return now }
	return s, &now
}

func TestHistoryTrackerEMA(t *testing.T) {
	h := NewHistoryTracker(decimal.RequireFromString("0.5"))

	// First sample folds into the neutral prior of 0.5.
	h.Record("ARB/USDT", decimal.NewFromInt(1))
	v, samples := h.Value("ARB/USDT")
	assert.True(t, v.Equal(decimal.RequireFromString("0.75")), "got %s", v)
	assert.Equal(t, 1, samples)

	// Unseen pairs report the prior with zero samples.
	v, samples = h.Value("ETH/USDT")
	assert.True(t, v.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 0, samples)
}

func TestHistoryTrackerClampsOutliers(t *testing.T) {
	h := NewHistoryTracker(decimal.NewFromInt(1))

	h.Record("ARB/USDT", decimal.NewFromInt(50))
	v, _ := h.Value("ARB/USDT")
	assert.True(t, v.Equal(decimal.NewFromInt(2)), "ratio should clamp at 2, got %s", v)

	h.Record("ARB/USDT", decimal.NewFromInt(-3))
	v, _ = h.Value("ARB/USDT")
	assert.True(t, v.Equal(decimal.Zero), "ratio should clamp at 0, got %s", v)
}

func TestScorePerfectSignal(t *testing.T) {
	cfg := DefaultScorerConfig()
	history := NewHistoryTracker(decimal.NewFromInt(1))
	for i := 0; i < cfg.MinSamples; i++ {
		history.Record(pairARB.String(), decimal.NewFromInt(2))
	}
	s, now := newTestScorer(cfg, stubInventory{impact: 1}, history)

	sig := scorerSignal(*now)
	require.True(t, s.Score(sig))

	assert.True(t, sig.Score.Equal(decimal.NewFromInt(100)), "got %s", sig.Score)
	assert.True(t, sig.Breakdown.Spread.Equal(decimal.NewFromInt(1)))
	assert.True(t, sig.Breakdown.Freshness.Equal(decimal.NewFromInt(1)))
}

func TestScoreBelowMinScoreRejected(t *testing.T) {
	cfg := DefaultScorerConfig()
	s, now := newTestScorer(cfg, stubInventory{impact: -1}, NewHistoryTracker(cfg.EMAAlpha))

	sig := scorerSignal(*now)
	// Net spread right at the floor zeroes the dominant component.
	sig.GrossSpreadBps = decimal.NewFromInt(60)

	assert.False(t, s.Score(sig))
	assert.True(t, sig.Score.LessThan(cfg.MinScore))
}

func TestScoreMissingDepthIsNeutral(t *testing.T) {
	cfg := DefaultScorerConfig()
	s, now := newTestScorer(cfg, stubInventory{}, NewHistoryTracker(cfg.EMAAlpha))

	sig := scorerSignal(*now)
	sig.Meta = nil

	s.Score(sig)
	assert.True(t, sig.Breakdown.Depth.Equal(decimal.RequireFromString("0.5")))
}

func TestScoreHistoryNeutralBelowMinSamples(t *testing.T) {
	cfg := DefaultScorerConfig()
	history := NewHistoryTracker(cfg.EMAAlpha)
	history.Record(pairARB.String(), decimal.NewFromInt(2))
	s, now := newTestScorer(cfg, stubInventory{}, history)

	sig := scorerSignal(*now)
	s.Score(sig)

	assert.True(t, sig.Breakdown.History.Equal(decimal.RequireFromString("0.5")))
}

func TestScoreInventoryMapping(t *testing.T) {
	cfg := DefaultScorerConfig()
	for impact, want := range map[int]string{-1: "0", 0: "0.5", 1: "1"} {
		s, now := newTestScorer(cfg, stubInventory{impact: impact}, NewHistoryTracker(cfg.EMAAlpha))
		sig := scorerSignal(*now)
		s.Score(sig)
		assert.True(t, sig.Breakdown.Inventory.Equal(decimal.RequireFromString(want)),
			"impact %d: got %s", impact, sig.Breakdown.Inventory)
	}
}

func TestFreshnessComponentDecay(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sig := scorerSignal(now)

	assert.True(t, FreshnessComponent(sig, now).Equal(decimal.NewFromInt(1)))

	half := FreshnessComponent(sig, now.Add(1500*time.Millisecond))
	assert.True(t, half.Equal(decimal.RequireFromString("0.5")), "got %s", half)

	assert.True(t, FreshnessComponent(sig, now.Add(time.Minute)).IsZero())
}

func TestInterpolateAnchors(t *testing.T) {
	lo := decimal.NewFromInt(30)
	hi := decimal.NewFromInt(100)

	assert.True(t, interpolate(decimal.NewFromInt(20), lo, hi).IsZero())
	assert.True(t, interpolate(decimal.NewFromInt(30), lo, hi).IsZero())
	assert.True(t, interpolate(decimal.NewFromInt(65), lo, hi).Equal(decimal.RequireFromString("0.5")))
	assert.True(t, interpolate(decimal.NewFromInt(200), lo, hi).Equal(decimal.NewFromInt(1)))
	assert.True(t, interpolate(decimal.NewFromInt(50), hi, lo).IsZero())
}
