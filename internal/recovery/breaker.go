package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "arb_bot/pkg/errors"
)

// BreakerState is the circuit state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig tunes one breaker scope.
type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	MaxDrawdownUSD   decimal.Decimal
}

// TransitionFunc observes breaker state changes for alerting.
type TransitionFunc func(scope string, from, to BreakerState, reason string)

type failureRec struct {
	at     time.Time
	weight int
}

type pnlRec struct {
	at  time.Time
	usd decimal.Decimal
}

// breaker is a single scope (global or one pair). Permanent failures count
// double; the breaker trips on weighted failures in the window or on
// realized drawdown in the window.
type breaker struct {
	cfg   BreakerConfig
	scope string

	state          BreakerState
	openedAt       time.Time
	probeActive    bool
	probeStartedAt time.Time
	failures       []failureRec
	pnl            []pnlRec
	onTransition   TransitionFunc
}

func newBreaker(cfg BreakerConfig, scope string, onTransition TransitionFunc) *breaker {
	return &breaker{cfg: cfg, scope: scope, state: BreakerClosed, onTransition: onTransition}
}

// allow reports whether a trade may be admitted. In HALF_OPEN exactly one
// probe passes; others are rejected until the probe resolves.
func (b *breaker) allow(now time.Time) error {
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(BreakerHalfOpen, "cooldown elapsed")
			b.probeActive = true
			b.probeStartedAt = now
			return nil
		}
		return fmt.Errorf("%w: %s until %s", apperrors.ErrBreakerOpen, b.scope, b.openedAt.Add(b.cfg.Cooldown).Format(time.RFC3339))
	case BreakerHalfOpen:
		// A probe whose outcome never arrived gives up its slot after a
		// full cooldown so the scope cannot wedge.
		if b.probeActive && now.Sub(b.probeStartedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%w: %s probe in flight", apperrors.ErrBreakerOpen, b.scope)
		}
		b.probeActive = true
		b.probeStartedAt = now
		return nil
	}
	return nil
}

// releaseProbe returns a reserved half-open slot when the admission was
// denied downstream; the denial is neither a success nor a failure.
func (b *breaker) releaseProbe() {
	if b.state == BreakerHalfOpen {
		b.probeActive = false
	}
}

// recordSuccess closes a half-open breaker and decays one old failure.
func (b *breaker) recordSuccess(now time.Time, netPnL decimal.Decimal) {
	b.recordPnL(now, netPnL)

	if b.state == BreakerHalfOpen {
		b.probeActive = false
		b.failures = nil
		b.transition(BreakerClosed, "probe succeeded")
		return
	}
	if len(b.failures) > 0 {
		b.failures = b.failures[1:]
	}
}

// recordFailure counts the failure (permanent failures weigh double) and
// trips the breaker when a threshold is crossed.
func (b *breaker) recordFailure(now time.Time, kind FailureKind, netPnL decimal.Decimal) {
	b.recordPnL(now, netPnL)

	weight := 1
	if kind == KindPermanent {
		weight = 2
	}
	b.failures = append(b.failures, failureRec{at: now, weight: weight})
	b.pruneWindow(now)

	if b.state == BreakerHalfOpen {
		b.probeActive = false
		b.openedAt = now
		b.transition(BreakerOpen, "probe failed")
		return
	}
	if b.state != BreakerClosed {
		return
	}

	if w := b.weightedFailures(); w >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.transition(BreakerOpen, fmt.Sprintf("failures %d >= threshold %d", w, b.cfg.FailureThreshold))
		return
	}
	if dd := b.windowDrawdown(); dd.GreaterThanOrEqual(b.cfg.MaxDrawdownUSD) && b.cfg.MaxDrawdownUSD.GreaterThan(decimal.Zero) {
		b.openedAt = now
		b.transition(BreakerOpen, fmt.Sprintf("drawdown %s >= max %s", dd, b.cfg.MaxDrawdownUSD))
	}
}

// forceOpen trips the breaker regardless of counters, used for unwind
// failures that need manual intervention.
func (b *breaker) forceOpen(now time.Time, reason string) {
	if b.state == BreakerOpen {
		return
	}
	b.openedAt = now
	b.probeActive = false
	b.transition(BreakerOpen, reason)
}

func (b *breaker) recordPnL(now time.Time, usd decimal.Decimal) {
	b.pnl = append(b.pnl, pnlRec{at: now, usd: usd})
	b.pruneWindow(now)
}

func (b *breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].at.Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]

	j := 0
	for j < len(b.pnl) && b.pnl[j].at.Before(cutoff) {
		j++
	}
	b.pnl = b.pnl[j:]
}

func (b *breaker) weightedFailures() int {
	total := 0
	for _, f := range b.failures {
		total += f.weight
	}
	return total
}

// windowDrawdown is the loss accumulated in the window, as a positive number.
func (b *breaker) windowDrawdown() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range b.pnl {
		sum = sum.Add(r.usd)
	}
	if sum.GreaterThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return sum.Neg()
}

func (b *breaker) transition(to BreakerState, reason string) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		b.onTransition(b.scope, from, to, reason)
	}
}

// CircuitBreaker composes the global breaker with per-pair breakers. Both
// the global scope and the pair scope must be CLOSED (or offer a half-open
// probe) for admission.
type CircuitBreaker struct {
	mu         sync.Mutex
	global     *breaker
	perPair    map[string]*breaker
	pairCfg    BreakerConfig
	transition TransitionFunc
	now        func() time.Time
}

// GlobalScope names the global breaker in transition callbacks.
const GlobalScope = "global"

// NewCircuitBreaker creates the breaker set.
func NewCircuitBreaker(pairCfg, globalCfg BreakerConfig, onTransition TransitionFunc) *CircuitBreaker {
	return &CircuitBreaker{
		global:     newBreaker(globalCfg, GlobalScope, onTransition),
		perPair:    make(map[string]*breaker),
		pairCfg:    pairCfg,
		transition: onTransition,
		now:        time.Now,
	}
}

func (c *CircuitBreaker) pairBreaker(pair string) *breaker {
	b, ok := c.perPair[pair]
	if !ok {
		b = newBreaker(c.pairCfg, pair, c.transition)
		c.perPair[pair] = b
	}
	return b
}

// Allow admits a trade only when both scopes admit it.
func (c *CircuitBreaker) Allow(pair string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if err := c.global.allow(now); err != nil {
		return err
	}
	if err := c.pairBreaker(pair).allow(now); err != nil {
		// The global scope may have handed out its probe slot above.
		c.global.releaseProbe()
		return err
	}
	return nil
}

// Release gives back probe slots reserved by Allow for a trade that was
// denied before reaching a venue.
func (c *CircuitBreaker) Release(pair string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global.releaseProbe()
	c.pairBreaker(pair).releaseProbe()
}

// RecordOutcome feeds a terminal result into both scopes.
func (c *CircuitBreaker) RecordOutcome(pair string, success bool, kind FailureKind, netPnL decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if success {
		c.global.recordSuccess(now, netPnL)
		c.pairBreaker(pair).recordSuccess(now, netPnL)
		return
	}
	c.global.recordFailure(now, kind, netPnL)
	c.pairBreaker(pair).recordFailure(now, kind, netPnL)
}

// ForceOpenPair trips a pair breaker immediately.
func (c *CircuitBreaker) ForceOpenPair(pair, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairBreaker(pair).forceOpen(c.now(), reason)
}

// State returns (global, pair) states.
func (c *CircuitBreaker) State(pair string) (BreakerState, BreakerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global.state, c.pairBreaker(pair).state
}

// GlobalState returns the global breaker state.
func (c *CircuitBreaker) GlobalState() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global.state
}
