package core

import "time"

// EventType enumerates the structured records the engine emits.
// Transport is pluggable; the engine only knows the sink interface.
type EventType string

const (
	EventSignalGenerated  EventType = "signal_generated"
	EventSignalScored     EventType = "signal_scored"
	EventSignalQueued     EventType = "signal_queued"
	EventSignalDropped    EventType = "signal_dropped"
	EventExecutionStarted EventType = "execution_started"
	EventStateTransition  EventType = "state_transition"
	EventLegSubmitted     EventType = "leg_submitted"
	EventLegFilled        EventType = "leg_filled"
	EventLegFailed        EventType = "leg_failed"
	EventUnwindStarted    EventType = "unwind_started"
	EventExecutionDone    EventType = "execution_done"
	EventExecutionFailed  EventType = "execution_failed"
	EventBreakerTrip      EventType = "breaker_trip"
	EventBreakerHalfOpen  EventType = "breaker_half_open"
	EventBreakerReset     EventType = "breaker_reset"
	EventSafetyViolation  EventType = "safety_violation"
	EventKillSwitchActive EventType = "kill_switch_active"
	EventKillSwitchClear  EventType = "kill_switch_cleared"
)

// Event is one structured record.
type Event struct {
	Type     EventType
	Pair     string
	SignalID string
	Fields   map[string]string
	At       time.Time
}

// IEventSink receives engine events. Implementations must not block.
type IEventSink interface {
	Emit(ev Event)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger ILogger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger ILogger) *LogSink {
	return &LogSink{logger: logger.WithField("component", "events")}
}

// Emit logs the event with its fields flattened.
func (s *LogSink) Emit(ev Event) {
	fields := make([]interface{}, 0, 6+2*len(ev.Fields))
	fields = append(fields, "event", string(ev.Type))
	if ev.Pair != "" {
		fields = append(fields, "pair", ev.Pair)
	}
	if ev.SignalID != "" {
		fields = append(fields, "signal_id", ev.SignalID)
	}
	for k, v := range ev.Fields {
		fields = append(fields, k, v)
	}
	s.logger.Info("engine event", fields...)
}

// NullSink discards events, used in tests.
type NullSink struct{}

func (NullSink) Emit(Event) {}

// MultiSink fans an event out to several sinks.
type MultiSink []IEventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, pair, signalID string, fields map[string]string) Event {
	return Event{Type: t, Pair: pair, SignalID: signalID, Fields: fields, At: time.Now()}
}
