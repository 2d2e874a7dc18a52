package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// routeSample is one observed route outcome.
type routeSample struct {
	gasUSD decimal.Decimal
	failed bool
}

// RouteHealth tracks per-pair, per-route fill failures and gas spend in a
// bounded moving window. The generator subtracts its penalty from a
// route's net profit when choosing between aggregator and direct pool.
type RouteHealth struct {
	mu                sync.Mutex
	window            int
	failurePenaltyUSD decimal.Decimal
	samples           map[string][]routeSample
}

// NewRouteHealth creates a tracker keeping up to window samples per route.
func NewRouteHealth(window int, failurePenaltyUSD decimal.Decimal) *RouteHealth {
	if window <= 0 {
		window = 50
	}
	return &RouteHealth{
		window:            window,
		failurePenaltyUSD: failurePenaltyUSD,
		samples:           make(map[string][]routeSample),
	}
}

func routeKey(pair string, kind core.RouteKind) string {
	return pair + ":" + kind.String()
}

// Record adds an outcome for a route.
func (r *RouteHealth) Record(pair string, kind core.RouteKind, gasUSD decimal.Decimal, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey(pair, kind)
	s := append(r.samples[key], routeSample{gasUSD: gasUSD, failed: failed})
	if len(s) > r.window {
		s = s[len(s)-r.window:]
	}
	r.samples[key] = s
}

// PenaltyUSD returns the unreliability penalty for a route: failure rate
// scaled by the configured penalty. Routes with no history are unpenalized.
func (r *RouteHealth) PenaltyUSD(pair string, kind core.RouteKind) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.samples[routeKey(pair, kind)]
	if len(s) == 0 {
		return decimal.Zero
	}
	failures := 0
	for _, smp := range s {
		if smp.failed {
			failures++
		}
	}
	rate := decimal.NewFromInt(int64(failures)).Div(decimal.NewFromInt(int64(len(s))))
	return rate.Mul(r.failurePenaltyUSD)
}

// AvgGasUSD returns the mean observed gas spend for a route, zero when
// there is no history.
func (r *RouteHealth) AvgGasUSD(pair string, kind core.RouteKind) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.samples[routeKey(pair, kind)]
	if len(s) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, smp := range s {
		total = total.Add(smp.gasUSD)
	}
	return total.Div(decimal.NewFromInt(int64(len(s))))
}
