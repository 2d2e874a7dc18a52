package recovery

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "arb_bot/pkg/errors"
)

const testPair = "ARB/USDT"

func newTestBreaker(t *testing.T, pairCfg, globalCfg BreakerConfig) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(pairCfg, globalCfg, nil)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func defaultPairCfg() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Window:           2 * time.Minute,
		Cooldown:         5 * time.Minute,
		MaxDrawdownUSD:   decimal.NewFromInt(5),
	}
}

func defaultGlobalCfg() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 100,
		Window:           2 * time.Minute,
		Cooldown:         10 * time.Minute,
		MaxDrawdownUSD:   decimal.NewFromInt(1000),
	}
}

func TestBreakerTripsOnFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 2; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
		assert.NoError(t, cb.Allow(testPair))
	}
	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)

	err := cb.Allow(testPair)
	require.ErrorIs(t, err, apperrors.ErrBreakerOpen)

	_, pairState := cb.State(testPair)
	assert.Equal(t, BreakerOpen, pairState)
	assert.Equal(t, BreakerClosed, cb.GlobalState())
}

func TestPermanentFailuresWeighDouble(t *testing.T) {
	cb, _ := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	cb.RecordOutcome(testPair, false, KindPermanent, decimal.Zero)
	assert.NoError(t, cb.Allow(testPair))

	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
}

func TestBreakerTripsOnDrawdown(t *testing.T) {
	cb, _ := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	cb.RecordOutcome(testPair, false, KindTransient, decimal.NewFromInt(-6))
	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
}

func TestBreakerWindowPrunesOldFailures(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)

	*now = now.Add(3 * time.Minute)
	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)

	assert.NoError(t, cb.Allow(testPair))
}

func TestSuccessDecaysOneFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	cb.RecordOutcome(testPair, true, KindUnknown, decimal.NewFromFloat(0.5))
	cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)

	assert.NoError(t, cb.Allow(testPair))
}

func TestCooldownOffersSingleProbe(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	require.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)

	*now = now.Add(5*time.Minute + time.Second)

	// Cooldown elapsed: one probe passes, concurrent admissions do not.
	assert.NoError(t, cb.Allow(testPair))
	_, pairState := cb.State(testPair)
	assert.Equal(t, BreakerHalfOpen, pairState)
	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
}

func TestProbeSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	*now = now.Add(6 * time.Minute)
	require.NoError(t, cb.Allow(testPair))

	cb.RecordOutcome(testPair, true, KindUnknown, decimal.NewFromFloat(0.2))

	_, pairState := cb.State(testPair)
	assert.Equal(t, BreakerClosed, pairState)
	assert.NoError(t, cb.Allow(testPair))
}

func TestProbeFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	*now = now.Add(6 * time.Minute)
	require.NoError(t, cb.Allow(testPair))

	cb.RecordOutcome(testPair, false, KindTransient, decimal.NewFromFloat(-0.1))

	_, pairState := cb.State(testPair)
	assert.Equal(t, BreakerOpen, pairState)
	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)

	// The reopened cooldown starts over.
	*now = now.Add(5*time.Minute + time.Second)
	assert.NoError(t, cb.Allow(testPair))
}

func TestProbeReleaseRestoresSlot(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	*now = now.Add(6 * time.Minute)
	require.NoError(t, cb.Allow(testPair))

	// The reserved probe went to a trade that was denied downstream;
	// handing it back lets the next signal probe instead.
	cb.Release(testPair)
	assert.NoError(t, cb.Allow(testPair))
}

func TestPairDenialReleasesGlobalProbe(t *testing.T) {
	pairCfg := defaultPairCfg()
	pairCfg.Cooldown = 20 * time.Minute
	globalCfg := defaultGlobalCfg()
	globalCfg.FailureThreshold = 3

	cb, now := newTestBreaker(t, pairCfg, globalCfg)
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	require.Equal(t, BreakerOpen, cb.GlobalState())

	// The global cooldown has elapsed but the pair's has not. The
	// global slot reserved during Allow must come back when the pair
	// scope denies, or every other pair stays locked out.
	*now = now.Add(11 * time.Minute)
	require.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
	assert.NoError(t, cb.Allow("ETH/USDT"))
}

func TestAbandonedProbeReclaimedAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}
	*now = now.Add(6 * time.Minute)
	require.NoError(t, cb.Allow(testPair))
	require.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)

	// A probe that never reported back stops blocking the scope after
	// a full cooldown; the slot goes to the next candidate.
	*now = now.Add(5*time.Minute + time.Second)
	assert.NoError(t, cb.Allow(testPair))
	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
}

func TestBreakerTripProbeRecoveryArc(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, Window: 60 * time.Second, Cooldown: 5 * time.Minute}
	var transitions []string
	cb := NewCircuitBreaker(cfg, defaultGlobalCfg(), func(scope string, from, to BreakerState, reason string) {
		if scope == testPair {
			transitions = append(transitions, from.String()+"->"+to.String())
		}
	})
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	// Three failed unwinds ten seconds apart, all inside the window.
	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.NewFromFloat(-0.04))
		now = now.Add(10 * time.Second)
	}
	require.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)

	now = now.Add(5 * time.Minute)
	require.NoError(t, cb.Allow(testPair))
	cb.RecordOutcome(testPair, true, KindUnknown, decimal.NewFromFloat(0.12))

	assert.NoError(t, cb.Allow(testPair))
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestGlobalBreakerBlocksAllPairs(t *testing.T) {
	globalCfg := defaultGlobalCfg()
	globalCfg.FailureThreshold = 2
	cb, _ := newTestBreaker(t, defaultPairCfg(), globalCfg)

	cb.RecordOutcome("ETH/USDT", false, KindTransient, decimal.Zero)
	cb.RecordOutcome("ARB/USDT", false, KindTransient, decimal.Zero)

	assert.Equal(t, BreakerOpen, cb.GlobalState())
	assert.ErrorIs(t, cb.Allow("SOL/USDT"), apperrors.ErrBreakerOpen)
}

func TestForceOpenPair(t *testing.T) {
	cb, _ := newTestBreaker(t, defaultPairCfg(), defaultGlobalCfg())

	cb.ForceOpenPair(testPair, "unwind failed")

	assert.ErrorIs(t, cb.Allow(testPair), apperrors.ErrBreakerOpen)
	assert.NoError(t, cb.Allow("ETH/USDT"))
}

func TestTransitionCallbackFires(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(defaultPairCfg(), defaultGlobalCfg(), func(scope string, from, to BreakerState, reason string) {
		transitions = append(transitions, scope+":"+from.String()+"->"+to.String())
	})
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordOutcome(testPair, false, KindTransient, decimal.Zero)
	}

	assert.Contains(t, transitions, testPair+":CLOSED->OPEN")
}
