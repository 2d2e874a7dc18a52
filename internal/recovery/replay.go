package recovery

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"arb_bot/internal/core"
	apperrors "arb_bot/pkg/errors"
)

// ReplayConfig tunes the replay ledger.
type ReplayConfig struct {
	TTL        time.Duration
	MaxAge     time.Duration
	Capacity   int
	NonceCheck bool
}

type replayEntry struct {
	signalID string
	seenAt   time.Time
}

type auditRec struct {
	SignalID string
	Decision string
	At       time.Time
}

const auditRingSize = 500

// ReplayLedger rejects duplicate and stale signals. It keeps a bounded
// LRU of seen signal ids plus a per-pair nonce high-water mark, and a
// small audit ring of recent decisions for post-mortems.
type ReplayLedger struct {
	mu       sync.Mutex
	cfg      ReplayConfig
	order    *list.List
	entries  map[string]*list.Element
	nonceHWM map[string]uint64

	audit    [auditRingSize]auditRec
	auditPos int

	now func() time.Time
}

// NewReplayLedger creates a ledger.
func NewReplayLedger(cfg ReplayConfig) *ReplayLedger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	return &ReplayLedger{
		cfg:      cfg,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		nonceHWM: make(map[string]uint64),
		now:      time.Now,
	}
}

// Check validates a signal without recording it. It rejects ids seen
// within the TTL, signals older than MaxAge, and nonces at or below the
// per-pair high-water mark. Commit records the id once the rest of the
// admission pipeline has passed, so a signal denied elsewhere gets a
// clean second look.
func (r *ReplayLedger) Check(sig *core.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	if el, seen := r.entries[sig.ID]; seen {
		entry := el.Value.(*replayEntry)
		if now.Sub(entry.seenAt) <= r.cfg.TTL {
			r.record(sig.ID, "replay_rejected")
			return fmt.Errorf("%w: %s seen %s ago", apperrors.ErrReplayRejected, sig.ID, now.Sub(entry.seenAt).Round(time.Millisecond))
		}
		// Expired entry: fall through and refresh below.
	}

	if sig.Age(now) > r.cfg.MaxAge {
		r.record(sig.ID, "stale")
		return fmt.Errorf("%w: %s age %s exceeds %s", apperrors.ErrStaleSignal, sig.ID, sig.Age(now).Round(time.Millisecond), r.cfg.MaxAge)
	}

	if r.cfg.NonceCheck && sig.NonceExpectation > 0 {
		if hwm := r.nonceHWM[sig.Pair.String()]; sig.NonceExpectation <= hwm {
			r.record(sig.ID, "nonce_rejected")
			return fmt.Errorf("%w: nonce %d <= high-water mark %d", apperrors.ErrReplayRejected, sig.NonceExpectation, hwm)
		}
	}

	return nil
}

// Commit records an admitted signal id in the ledger.
func (r *ReplayLedger) Commit(sig *core.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(sig.ID, r.now())
	r.record(sig.ID, "admitted")
}

// MarkExecuted refreshes the id entry and advances the nonce high-water
// mark after a terminal execution.
func (r *ReplayLedger) MarkExecuted(sig *core.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.insert(sig.ID, r.now())
	if sig.NonceExpectation > 0 {
		pair := sig.Pair.String()
		if sig.NonceExpectation > r.nonceHWM[pair] {
			r.nonceHWM[pair] = sig.NonceExpectation
		}
	}
	r.record(sig.ID, "executed")
}

// Seen reports whether a signal id is currently in the ledger.
func (r *ReplayLedger) Seen(signalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[signalID]
	return ok
}

// NonceHighWaterMark returns the recorded high-water mark for a pair.
func (r *ReplayLedger) NonceHighWaterMark(pair string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonceHWM[pair]
}

func (r *ReplayLedger) insert(signalID string, at time.Time) {
	if el, ok := r.entries[signalID]; ok {
		el.Value.(*replayEntry).seenAt = at
		r.order.MoveToBack(el)
		return
	}
	for r.order.Len() >= r.cfg.Capacity {
		oldest := r.order.Front()
		r.order.Remove(oldest)
		delete(r.entries, oldest.Value.(*replayEntry).signalID)
	}
	r.entries[signalID] = r.order.PushBack(&replayEntry{signalID: signalID, seenAt: at})
}

func (r *ReplayLedger) record(signalID, decision string) {
	r.audit[r.auditPos] = auditRec{SignalID: signalID, Decision: decision, At: r.now()}
	r.auditPos = (r.auditPos + 1) % auditRingSize
}
