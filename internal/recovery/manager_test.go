package recovery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	apperrors "arb_bot/pkg/errors"
	"arb_bot/pkg/logging"
	"arb_bot/pkg/telemetry"

	"arb_bot/internal/alert"
	"arb_bot/internal/core"
	"arb_bot/internal/safety"
)

func init() {
	// The default provider hands out no-op instruments, which is all the
	// admission path needs here.
	_ = telemetry.GetGlobalMetrics().InitMetrics(otel.Meter("recovery_test"))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := logging.NewTestLogger()
	events := core.NullSink{}
	gate := safety.NewGate(events, logger)
	return NewManager(
		defaultPairCfg(),
		defaultGlobalCfg(),
		ReplayConfig{TTL: time.Minute, MaxAge: 30 * time.Second},
		gate,
		events,
		alert.NewManager(logger),
		logger,
	)
}

func newTestManagerWithClock(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	m := newTestManager(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.breaker.now = func() time.Time { return now }
	m.replay.now = func() time.Time { return now }
	return m, &now
}

func admitSignal(id string) *core.Signal {
	return admitSignalAt(id, time.Now())
}

func admitSignalAt(id string, createdAt time.Time) *core.Signal {
	return &core.Signal{
		ID:        id,
		Pair:      core.Pair{Base: "ARB", Quote: "USDT"},
		SizeQuote: decimal.NewFromInt(20),
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(3 * time.Second),
	}
}

func healthyCapital() core.CapitalState {
	return core.CapitalState{
		CexBalances:   map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100)},
		ChainBalances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100)},
	}
}

func TestAdmitHappyPath(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.Admit(admitSignal("ARBUSDT_mgr00001"), healthyCapital()))
}

func TestAdmitRejectsReplay(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00002")
	require.NoError(t, m.Admit(sig, healthyCapital()))
	assert.ErrorIs(t, m.Admit(sig, healthyCapital()), apperrors.ErrReplayRejected)
}

func TestAdmitRejectsSafetyViolation(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00003")
	sig.SizeQuote = decimal.NewFromInt(100)
	assert.ErrorIs(t, m.Admit(sig, healthyCapital()), apperrors.ErrSafetyViolation)
}

func TestRecordOutcomeTripsBreaker(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 3; i++ {
		sig := admitSignal(fmt.Sprintf("ARBUSDT_mgr1%04d", i))
		m.RecordOutcome(sig, core.Outcome{
			Success:   false,
			Err:       errors.New("request timed out"),
			NetPnLUSD: decimal.Zero,
		})
	}

	sig := admitSignal("ARBUSDT_mgr00004")
	assert.ErrorIs(t, m.Admit(sig, healthyCapital()), apperrors.ErrBreakerOpen)
}

func TestManualInterventionForceOpensPair(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00005")
	m.RecordOutcome(sig, core.Outcome{
		Success:            false,
		Err:                apperrors.ErrUnwindFailed,
		ManualIntervention: true,
		NetPnLUSD:          decimal.NewFromFloat(-0.5),
	})

	next := admitSignal("ARBUSDT_mgr00006")
	assert.ErrorIs(t, m.Admit(next, healthyCapital()), apperrors.ErrBreakerOpen)

	// Other pairs are untouched.
	other := admitSignal("ETHUSDT_mgr00007")
	other.Pair = core.Pair{Base: "ETH", Quote: "USDT"}
	assert.NoError(t, m.Admit(other, healthyCapital()))
}

func TestAdmitDenialReturnsProbeSlot(t *testing.T) {
	m, now := newTestManagerWithClock(t)

	for i := 0; i < 3; i++ {
		sig := admitSignalAt(fmt.Sprintf("ARBUSDT_mgr2%04d", i), *now)
		m.RecordOutcome(sig, core.Outcome{
			Success:   false,
			Err:       errors.New("request timed out"),
			NetPnLUSD: decimal.Zero,
		})
	}
	denied := admitSignalAt("ARBUSDT_mgr00009", *now)
	require.ErrorIs(t, m.Admit(denied, healthyCapital()), apperrors.ErrBreakerOpen)

	// Cooldown elapsed. A stale signal takes the half-open slot but is
	// denied by the ledger; the slot must come back so a fresh signal
	// can run the trial instead of the pair wedging shut.
	*now = now.Add(5*time.Minute + time.Second)
	stale := admitSignalAt("ARBUSDT_mgr00010", now.Add(-time.Minute))
	require.ErrorIs(t, m.Admit(stale, healthyCapital()), apperrors.ErrStaleSignal)

	fresh := admitSignalAt("ARBUSDT_mgr00011", *now)
	assert.NoError(t, m.Admit(fresh, healthyCapital()))
}

func TestGateDeniedSignalGetsCleanSecondLook(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00012")
	sig.SizeQuote = decimal.NewFromInt(30)
	require.ErrorIs(t, m.Admit(sig, healthyCapital()), apperrors.ErrSafetyViolation)

	// The gate denial happened before the ledger committed the id, so a
	// resized resubmission is not mistaken for a replay.
	sig.SizeQuote = decimal.NewFromInt(20)
	assert.NoError(t, m.Admit(sig, healthyCapital()))
}

func TestExecutedSignalIDIsNotReadmitted(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00013")
	require.NoError(t, m.Admit(sig, healthyCapital()))
	m.RecordOutcome(sig, core.Outcome{Success: true, NetPnLUSD: decimal.NewFromFloat(0.12)})

	resubmitted := admitSignal(sig.ID)
	assert.ErrorIs(t, m.Admit(resubmitted, healthyCapital()), apperrors.ErrReplayRejected)
}

func TestRecordOutcomeAdvancesNonce(t *testing.T) {
	m := newTestManager(t)

	sig := admitSignal("ARBUSDT_mgr00008")
	sig.NonceExpectation = 42
	m.RecordOutcome(sig, core.Outcome{Success: true, NetPnLUSD: decimal.NewFromFloat(0.3)})

	assert.Equal(t, uint64(42), m.replay.NonceHighWaterMark(sig.Pair.String()))
}
