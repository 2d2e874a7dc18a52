package recovery

import (
	"context"

	"arb_bot/internal/alert"
	"arb_bot/internal/core"
	"arb_bot/internal/safety"
	"arb_bot/pkg/telemetry"
)

// Manager wires classifier, breaker, replay ledger and the safety gate
// behind the two-call contract the executor sees: Admit and RecordOutcome.
type Manager struct {
	classifier Classifier
	breaker    *CircuitBreaker
	replay     *ReplayLedger
	gate       *safety.Gate
	events     core.IEventSink
	alerts     *alert.Manager
	logger     core.ILogger
}

// NewManager creates the recovery plane.
func NewManager(
	pairBreakerCfg, globalBreakerCfg BreakerConfig,
	replayCfg ReplayConfig,
	gate *safety.Gate,
	events core.IEventSink,
	alerts *alert.Manager,
	logger core.ILogger,
) *Manager {
	m := &Manager{
		replay: NewReplayLedger(replayCfg),
		gate:   gate,
		events: events,
		alerts: alerts,
		logger: logger.WithField("component", "recovery"),
	}
	m.breaker = NewCircuitBreaker(pairBreakerCfg, globalBreakerCfg, m.onBreakerTransition)
	return m
}

// Classifier exposes the failure classifier for the executor's retry
// decisions.
func (m *Manager) Classifier() Classifier {
	return m.classifier
}

// Breaker exposes breaker state for the status snapshot.
func (m *Manager) Breaker() *CircuitBreaker {
	return m.breaker
}

// Admit runs the full pre-flight: breaker, replay/staleness/nonce, then
// the absolute safety gate. A denial after the breaker handed out a
// half-open probe slot returns that slot; the signal id is recorded only
// when the whole pipeline passes.
func (m *Manager) Admit(sig *core.Signal, capital core.CapitalState) error {
	if err := m.breaker.Allow(sig.Pair.String()); err != nil {
		return err
	}
	if err := m.replay.Check(sig); err != nil {
		m.breaker.Release(sig.Pair.String())
		return err
	}
	if err := m.gate.Check(sig, capital); err != nil {
		m.breaker.Release(sig.Pair.String())
		telemetry.GetGlobalMetrics().SafetyViolations.Add(context.Background(), 1)
		return err
	}
	m.replay.Commit(sig)
	return nil
}

// Release hands back an admission that never reached a venue, such as a
// failed last-look revalidation. It is not an outcome; no failure is
// counted.
func (m *Manager) Release(sig *core.Signal) {
	m.breaker.Release(sig.Pair.String())
}

// RecordOutcome feeds a terminal execution back into the ledger and the
// breakers. An unwind failure force-opens the pair breaker.
func (m *Manager) RecordOutcome(sig *core.Signal, outcome core.Outcome) {
	m.replay.MarkExecuted(sig)

	kind := KindUnknown
	if outcome.Err != nil {
		kind = m.classifier.Classify(outcome.Err)
	}
	m.breaker.RecordOutcome(sig.Pair.String(), outcome.Success, kind, outcome.NetPnLUSD)

	if outcome.ManualIntervention {
		m.breaker.ForceOpenPair(sig.Pair.String(), "unwind failed, manual intervention required")
		m.alerts.Alert(context.Background(), "Manual intervention required",
			"Unwind failed for "+sig.ID+" on "+sig.Pair.String(), alert.Critical, map[string]string{
				"signal_id": sig.ID,
				"pair":      sig.Pair.String(),
			})
	}
}

func (m *Manager) onBreakerTransition(scope string, from, to BreakerState, reason string) {
	m.logger.Warn("Breaker transition", "scope", scope, "from", from.String(), "to", to.String(), "reason", reason)
	telemetry.GetGlobalMetrics().SetBreakerOpen(scope, to == BreakerOpen)

	var evType core.EventType
	var level alert.AlertLevel
	switch to {
	case BreakerOpen:
		evType, level = core.EventBreakerTrip, alert.Critical
	case BreakerHalfOpen:
		evType, level = core.EventBreakerHalfOpen, alert.Warning
	default:
		evType, level = core.EventBreakerReset, alert.Info
	}

	m.events.Emit(core.NewEvent(evType, scope, "", map[string]string{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	}))
	m.alerts.Alert(context.Background(), "Breaker "+to.String(),
		scope+": "+reason, level, map[string]string{"scope": scope})
}
