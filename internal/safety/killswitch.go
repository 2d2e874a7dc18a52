package safety

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"arb_bot/internal/core"
)

// SentinelFileName is the well-known kill-switch file name. Its presence
// in the OS temp dir pauses signal admission; removal resumes it.
const SentinelFileName = "arb_bot_kill"

// SentinelPath returns the full kill-switch path.
func SentinelPath() string {
	return filepath.Join(os.TempDir(), SentinelFileName)
}

// KillSwitchActive reports whether the sentinel file exists.
func KillSwitchActive() bool {
	_, err := os.Stat(SentinelPath())
	return err == nil
}

// KillSwitchWatcher polls the sentinel file and reports flips.
type KillSwitchWatcher struct {
	interval time.Duration
	events   core.IEventSink
	logger   core.ILogger
	onChange func(active bool)
}

// NewKillSwitchWatcher creates a watcher. onChange is invoked on every
// state flip; it may be nil.
func NewKillSwitchWatcher(interval time.Duration, events core.IEventSink, logger core.ILogger, onChange func(active bool)) *KillSwitchWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &KillSwitchWatcher{
		interval: interval,
		events:   events,
		logger:   logger.WithField("component", "kill_switch"),
		onChange: onChange,
	}
}

// Run polls until the context is canceled.
func (w *KillSwitchWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := KillSwitchActive()
	if last {
		w.flip(true)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			active := KillSwitchActive()
			if active != last {
				last = active
				w.flip(active)
			}
		}
	}
}

func (w *KillSwitchWatcher) flip(active bool) {
	if active {
		w.logger.Warn("Kill switch activated", "path", SentinelPath())
		w.events.Emit(core.NewEvent(core.EventKillSwitchActive, "", "", nil))
	} else {
		w.logger.Info("Kill switch cleared", "path", SentinelPath())
		w.events.Emit(core.NewEvent(core.EventKillSwitchClear, "", "", nil))
	}
	if w.onChange != nil {
		w.onChange(active)
	}
}
