package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsGeneratedTotal = "arb_signals_generated_total"
	MetricSignalsDroppedTotal   = "arb_signals_dropped_total"
	MetricSignalsQueuedTotal    = "arb_signals_queued_total"
	MetricQueueDepth            = "arb_queue_depth"
	MetricExecutionsTotal       = "arb_executions_total"
	MetricUnwindsTotal          = "arb_unwinds_total"
	MetricPnLRealizedTotal      = "arb_pnl_realized_usd_total"
	MetricLegLatency            = "arb_leg_latency_ms"
	MetricBreakerOpen           = "arb_breaker_open"
	MetricSafetyViolationsTotal = "arb_safety_violations_total"
	MetricSpreadObserved        = "arb_spread_observed_bps"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	SignalsGenerated metric.Int64Counter
	SignalsDropped   metric.Int64Counter
	SignalsQueued    metric.Int64Counter
	QueueDepth       metric.Int64ObservableGauge
	ExecutionsTotal  metric.Int64Counter
	UnwindsTotal     metric.Int64Counter
	PnLRealizedTotal metric.Float64Counter
	LegLatency       metric.Float64Histogram
	BreakerOpen      metric.Int64ObservableGauge
	SafetyViolations metric.Int64Counter
	SpreadObserved   metric.Float64Histogram

	// State for observable gauges
	mu            sync.RWMutex
	queueDepth    int64
	breakerStates map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			breakerStates: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsGenerated, err = meter.Int64Counter(MetricSignalsGeneratedTotal, metric.WithDescription("Signals produced by the generator"))
	if err != nil {
		return err
	}

	m.SignalsDropped, err = meter.Int64Counter(MetricSignalsDroppedTotal, metric.WithDescription("Signals dropped before execution"))
	if err != nil {
		return err
	}

	m.SignalsQueued, err = meter.Int64Counter(MetricSignalsQueuedTotal, metric.WithDescription("Signals accepted into the priority queue"))
	if err != nil {
		return err
	}

	m.ExecutionsTotal, err = meter.Int64Counter(MetricExecutionsTotal, metric.WithDescription("Executions by terminal state"))
	if err != nil {
		return err
	}

	m.UnwindsTotal, err = meter.Int64Counter(MetricUnwindsTotal, metric.WithDescription("Unwind attempts"))
	if err != nil {
		return err
	}

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss in USD"))
	if err != nil {
		return err
	}

	m.LegLatency, err = meter.Float64Histogram(MetricLegLatency, metric.WithDescription("Per-leg submission-to-fill latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.SafetyViolations, err = meter.Int64Counter(MetricSafetyViolationsTotal, metric.WithDescription("Admissions denied by the safety gate"))
	if err != nil {
		return err
	}

	m.SpreadObserved, err = meter.Float64Histogram(MetricSpreadObserved, metric.WithDescription("Gross spread seen at signal generation"), metric.WithUnit("bps"))
	if err != nil {
		return err
	}

	m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth, metric.WithDescription("Signals currently queued"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.BreakerOpen, err = meter.Int64ObservableGauge(MetricBreakerOpen, metric.WithDescription("1 when a breaker scope is open"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for scope, val := range m.breakerStates {
				obs.Observe(val, metric.WithAttributes(attribute.String("scope", scope)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetQueueDepth updates the queue depth gauge state.
func (m *MetricsHolder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	m.queueDepth = depth
	m.mu.Unlock()
}

// SetBreakerOpen updates the breaker gauge state for a scope ("global" or a pair).
func (m *MetricsHolder) SetBreakerOpen(scope string, open bool) {
	m.mu.Lock()
	if open {
		m.breakerStates[scope] = 1
	} else {
		m.breakerStates[scope] = 0
	}
	m.mu.Unlock()
}
