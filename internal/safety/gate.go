// Package safety enforces the absolute trading limits and the kill-switch
// protocol.
package safety

import (
	"fmt"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
	apperrors "arb_bot/pkg/errors"
)

// Absolute limits. These are compile-time constants on purpose: no
// configuration surface may relax them at runtime.
const (
	AbsoluteMaxTradeUSD      = 25
	AbsoluteMaxDailyLossUSD  = 20
	AbsoluteMinCapitalUSD    = 50
	AbsoluteMaxTradesPerHour = 30
)

// Gate is the final admission check, evaluated after breaker and replay.
type Gate struct {
	logger core.ILogger
	events core.IEventSink

	maxTrade   decimal.Decimal
	maxLoss    decimal.Decimal
	minCapital decimal.Decimal
}

// NewGate creates the gate.
func NewGate(events core.IEventSink, logger core.ILogger) *Gate {
	return &Gate{
		logger:     logger.WithField("component", "safety_gate"),
		events:     events,
		maxTrade:   decimal.NewFromInt(AbsoluteMaxTradeUSD),
		maxLoss:    decimal.NewFromInt(AbsoluteMaxDailyLossUSD),
		minCapital: decimal.NewFromInt(AbsoluteMinCapitalUSD),
	}
}

// Check validates a candidate trade against the absolute limits. A nil
// return admits the trade.
func (g *Gate) Check(sig *core.Signal, capital core.CapitalState) error {
	if sig.SizeQuote.GreaterThan(g.maxTrade) {
		return g.violation(sig, "max_trade_usd",
			fmt.Sprintf("trade %s exceeds absolute max %s", sig.SizeQuote, g.maxTrade))
	}
	if capital.DailyLossUSD.GreaterThanOrEqual(g.maxLoss) {
		return g.violation(sig, "max_daily_loss",
			fmt.Sprintf("daily loss %s at absolute max %s", capital.DailyLossUSD, g.maxLoss))
	}
	if capital.TotalUSD(sig.Pair.Quote).LessThan(g.minCapital) {
		return g.violation(sig, "min_capital",
			fmt.Sprintf("capital %s below absolute min %s", capital.TotalUSD(sig.Pair.Quote), g.minCapital))
	}
	if capital.TradesLastHour >= AbsoluteMaxTradesPerHour {
		return g.violation(sig, "max_trades_per_hour",
			fmt.Sprintf("%d trades in the last hour, absolute max %d", capital.TradesLastHour, AbsoluteMaxTradesPerHour))
	}
	return nil
}

func (g *Gate) violation(sig *core.Signal, rule, detail string) error {
	g.logger.Warn("Safety violation", "rule", rule, "detail", detail, "signal_id", sig.ID)
	g.events.Emit(core.NewEvent(core.EventSafetyViolation, sig.Pair.String(), sig.ID, map[string]string{
		"rule":   rule,
		"detail": detail,
	}))
	return fmt.Errorf("%w: %s", apperrors.ErrSafetyViolation, rule)
}
