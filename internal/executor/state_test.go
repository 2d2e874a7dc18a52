package executor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "arb_bot/pkg/errors"

	"arb_bot/internal/core"
)

func stateTestSignal() *core.Signal {
	return &core.Signal{
		ID:   "ARBUSDT_st000001",
		Pair: core.Pair{Base: "ARB", Quote: "USDT"},
	}
}

func TestHappyPathTransitions(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())
	require.Equal(t, StateIdle, ec.State())

	arc := []State{
		StateValidating,
		StateLeg1Submitting,
		StateLeg1Pending,
		StateLeg1Filled,
		StateLeg2Submitting,
		StateLeg2Pending,
		StateLeg2Filled,
		StateDone,
	}
	for _, next := range arc {
		require.NoError(t, ec.Transition(next, ""))
	}

	assert.Equal(t, StateDone, ec.State())
	assert.True(t, ec.State().Terminal())
	assert.Len(t, ec.Trail(), len(arc))
	assert.False(t, ec.FinishedAt.IsZero())
}

func TestUnwindingArc(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())

	for _, next := range []State{
		StateValidating,
		StateLeg1Submitting,
		StateLeg1Pending,
		StateLeg1Filled,
		StateLeg2Submitting,
		StateUnwinding,
		StateFailed,
	} {
		require.NoError(t, ec.Transition(next, ""))
	}

	assert.Equal(t, StateFailed, ec.State())
	assert.True(t, ec.State().Terminal())
}

func TestInvalidTransitionRejected(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())

	err := ec.Transition(StateDone, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	// State and trail are untouched by the rejected move.
	assert.Equal(t, StateIdle, ec.State())
	assert.Empty(t, ec.Trail())
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())
	require.NoError(t, ec.Transition(StateValidating, ""))
	require.NoError(t, ec.Transition(StateFailed, "validation"))

	assert.ErrorIs(t, ec.Transition(StateValidating, ""), apperrors.ErrInvalidStateTransition)
	assert.ErrorIs(t, ec.Transition(StateUnwinding, ""), apperrors.ErrInvalidStateTransition)
}

func TestUnwindingOnlyReachesFailed(t *testing.T) {
	assert.True(t, transitionAllowed(StateUnwinding, StateFailed))
	assert.False(t, transitionAllowed(StateUnwinding, StateDone))
	assert.False(t, transitionAllowed(StateUnwinding, StateLeg2Pending))
}

func TestTrailJSONUsesStateNames(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())
	require.NoError(t, ec.Transition(StateValidating, "admission"))
	require.NoError(t, ec.Transition(StateFailed, "denied"))

	var entries []struct {
		From string `json:"from"`
		To   string `json:"to"`
		Note string `json:"note"`
	}
	require.NoError(t, json.Unmarshal(ec.TrailJSON(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "IDLE", entries[0].From)
	assert.Equal(t, "VALIDATING", entries[0].To)
	assert.Equal(t, "admission", entries[0].Note)
	assert.Equal(t, "FAILED", entries[1].To)
}

func TestLatencyMS(t *testing.T) {
	ec := NewExecutionContext(stateTestSignal())
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ec.StartedAt = base
	ec.now = func() time.Time { return base.Add(250 * time.Millisecond) }

	assert.Equal(t, int64(0), ec.LatencyMS())

	require.NoError(t, ec.Transition(StateValidating, ""))
	require.NoError(t, ec.Transition(StateFailed, ""))
	assert.Equal(t, int64(250), ec.LatencyMS())
}

func TestLegFillValue(t *testing.T) {
	fill := LegFill{
		Qty:      decimalFromString(t, "20"),
		AvgPrice: decimalFromString(t, "1.05"),
	}
	assert.True(t, fill.Value().Equal(decimalFromString(t, "21")))
}
