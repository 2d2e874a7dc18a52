// Package executor drives the two-leg execution state machine.
package executor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "arb_bot/pkg/errors"

	"arb_bot/internal/core"
)

// State is a node in the execution lifecycle. Transitions outside the
// table below indicate a logic bug and abort the process.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateLeg1Submitting
	StateLeg1Pending
	StateLeg1Filled
	StateLeg2Submitting
	StateLeg2Pending
	StateLeg2Filled
	StateUnwinding
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "IDLE",
	StateValidating:     "VALIDATING",
	StateLeg1Submitting: "LEG1_SUBMITTING",
	StateLeg1Pending:    "LEG1_PENDING",
	StateLeg1Filled:     "LEG1_FILLED",
	StateLeg2Submitting: "LEG2_SUBMITTING",
	StateLeg2Pending:    "LEG2_PENDING",
	StateLeg2Filled:     "LEG2_FILLED",
	StateUnwinding:      "UNWINDING",
	StateDone:           "DONE",
	StateFailed:         "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// validTransitions is the full transition table. Leg-one failures go
// straight to FAILED when nothing filled; any exposure after leg one
// routes through UNWINDING first.
var validTransitions = map[State][]State{
	StateIdle:           {StateValidating},
	StateValidating:     {StateLeg1Submitting, StateFailed},
	StateLeg1Submitting: {StateLeg1Pending, StateFailed},
	StateLeg1Pending:    {StateLeg1Filled, StateUnwinding, StateFailed},
	StateLeg1Filled:     {StateLeg2Submitting},
	StateLeg2Submitting: {StateLeg2Pending, StateUnwinding},
	StateLeg2Pending:    {StateLeg2Filled, StateUnwinding},
	StateLeg2Filled:     {StateDone},
	StateUnwinding:      {StateFailed},
	StateDone:           {},
	StateFailed:         {},
}

func transitionAllowed(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AuditEntry is one recorded transition. The trail is append-only.
type AuditEntry struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// MarshalJSON renders states by name so the persisted trail is readable.
func (e AuditEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		From string    `json:"from"`
		To   string    `json:"to"`
		At   time.Time `json:"at"`
		Note string    `json:"note,omitempty"`
	}{e.From.String(), e.To.String(), e.At, e.Note})
}

// LegFill captures what actually executed on one venue.
type LegFill struct {
	Venue    string
	OrderID  string
	TxHash   string
	Side     core.Side
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
	FeesUSD  decimal.Decimal
	GasUSD   decimal.Decimal
	FilledAt time.Time
}

// Value returns the fill notional in quote units.
func (f LegFill) Value() decimal.Decimal {
	return f.Qty.Mul(f.AvgPrice)
}

// ExecutionContext carries one signal through the machine. It is owned
// by a single execution goroutine; the mutex only guards snapshot reads
// from the status endpoint.
type ExecutionContext struct {
	mu sync.Mutex

	Signal *core.Signal

	state State
	trail []AuditEntry

	Leg1 *LegFill
	Leg2 *LegFill

	StartedAt  time.Time
	FinishedAt time.Time

	Unwound            bool
	ManualIntervention bool
	Err                error

	now func() time.Time
}

// NewExecutionContext starts a context in IDLE.
func NewExecutionContext(sig *core.Signal) *ExecutionContext {
	ec := &ExecutionContext{
		Signal: sig,
		state:  StateIdle,
		now:    time.Now,
	}
	ec.StartedAt = ec.now()
	return ec
}

// State returns the current state.
func (ec *ExecutionContext) State() State {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.state
}

// Transition moves the machine to the next state, appending to the
// audit trail. An illegal transition returns ErrInvalidStateTransition;
// callers treat that as fatal.
func (ec *ExecutionContext) Transition(to State, note string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if !transitionAllowed(ec.state, to) {
		return fmt.Errorf("%w: %s -> %s (signal %s)",
			apperrors.ErrInvalidStateTransition, ec.state, to, ec.Signal.ID)
	}

	ec.trail = append(ec.trail, AuditEntry{
		From: ec.state,
		To:   to,
		At:   ec.now(),
		Note: note,
	})
	ec.state = to
	if to.Terminal() {
		ec.FinishedAt = ec.now()
	}
	return nil
}

// Trail returns a copy of the audit trail.
func (ec *ExecutionContext) Trail() []AuditEntry {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]AuditEntry, len(ec.trail))
	copy(out, ec.trail)
	return out
}

// TrailJSON serializes the trail for persistence.
func (ec *ExecutionContext) TrailJSON() []byte {
	b, err := json.Marshal(ec.Trail())
	if err != nil {
		return []byte("[]")
	}
	return b
}

// LatencyMS is wall time from start to the terminal state.
func (ec *ExecutionContext) LatencyMS() int64 {
	if ec.FinishedAt.IsZero() {
		return 0
	}
	return ec.FinishedAt.Sub(ec.StartedAt).Milliseconds()
}
