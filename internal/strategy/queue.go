package strategy

import (
	"container/heap"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// QueueConfig bounds the priority queue.
type QueueConfig struct {
	MaxDepth   int
	MaxPerPair int
	MinScore   decimal.Decimal
}

// QueueStats are cumulative counters exposed for observability.
type QueueStats struct {
	TotalPushed  int64
	TotalDropped int64
	TotalYielded int64
	Queued       int
}

type queueEntry struct {
	signal *core.Signal
	index  int
}

// signalHeap orders entries by descending score.
type signalHeap []*queueEntry

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	return h[i].signal.Score.GreaterThan(h[j].signal.Score)
}

func (h signalHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *signalHeap) Push(x interface{}) {
	e := x.(*queueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *signalHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SignalQueue is a bounded max-priority queue over pending signals with
// signal-id dedup and a per-pair cap. Scores decay at drain time so stale
// entries cannot outrank fresh ones.
type SignalQueue struct {
	cfg QueueConfig

	mu      sync.Mutex
	heap    signalHeap
	byID    map[string]*queueEntry
	perPair map[string]int
	stats   QueueStats
	events  core.IEventSink
	now     func() time.Time
}

// NewSignalQueue creates a queue.
func NewSignalQueue(cfg QueueConfig, events core.IEventSink) *SignalQueue {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 200
	}
	if cfg.MaxPerPair <= 0 {
		cfg.MaxPerPair = 3
	}
	return &SignalQueue{
		cfg:     cfg,
		byID:    make(map[string]*queueEntry),
		perPair: make(map[string]int),
		events:  events,
		now:     time.Now,
	}
}

// Push inserts a signal. It rejects duplicates and pairs at their cap; at
// capacity the lowest-scored entry is evicted to make room. The return
// value reports whether the signal was accepted.
func (q *SignalQueue) Push(sig *core.Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.byID[sig.ID]; dup {
		q.dropLocked(sig, "duplicate")
		return false
	}
	pair := sig.Pair.String()
	if q.perPair[pair] >= q.cfg.MaxPerPair {
		q.dropLocked(sig, "pair_cap")
		return false
	}
	if len(q.heap) >= q.cfg.MaxDepth {
		lowest := q.lowestLocked()
		if lowest != nil && lowest.signal.Score.GreaterThanOrEqual(sig.Score) {
			q.dropLocked(sig, "full")
			return false
		}
		q.removeLocked(lowest)
		q.dropLocked(lowest.signal, "evicted")
	}

	entry := &queueEntry{signal: sig}
	heap.Push(&q.heap, entry)
	q.byID[sig.ID] = entry
	q.perPair[pair]++
	q.stats.TotalPushed++

	q.events.Emit(core.NewEvent(core.EventSignalQueued, pair, sig.ID, map[string]string{
		"score": sig.Score.String(),
	}))
	return true
}

// Drain yields signals in descending decayed score, dropping entries that
// expired or decayed below MinScore.
func (q *SignalQueue) Drain() []*core.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]*core.Signal, 0, len(q.heap))

	// Decay changes relative order, so re-rank everything first.
	for _, e := range q.heap {
		e.signal.Score = decayedScore(e.signal, now)
	}
	heap.Init(&q.heap)

	for len(q.heap) > 0 {
		e := heap.Pop(&q.heap).(*queueEntry)
		q.forgetLocked(e)

		sig := e.signal
		if sig.Expired(now) {
			q.dropLocked(sig, "expired")
			continue
		}
		if sig.Score.LessThan(q.cfg.MinScore) {
			q.dropLocked(sig, "decayed_below_min")
			continue
		}
		q.stats.TotalYielded++
		out = append(out, sig)
	}
	return out
}

// Peek returns the highest-scored signal without removing it.
func (q *SignalQueue) Peek() *core.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].signal
}

// Size returns the number of queued signals.
func (q *SignalQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Clear empties the queue.
func (q *SignalQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) > 0 {
		e := heap.Pop(&q.heap).(*queueEntry)
		q.forgetLocked(e)
	}
}

// Stats returns a snapshot of the counters.
func (q *SignalQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = len(q.heap)
	return s
}

// decayedScore applies linear freshness decay: the score halves at TTL
// and reaches zero at twice the TTL.
func decayedScore(sig *core.Signal, now time.Time) decimal.Decimal {
	ttl := sig.ExpiresAt.Sub(sig.CreatedAt)
	if ttl <= 0 {
		return decimal.Zero
	}
	age := decimal.NewFromFloat(now.Sub(sig.CreatedAt).Seconds())
	ttlSec := decimal.NewFromFloat(ttl.Seconds())
	factor := one.Sub(half.Mul(age.Div(ttlSec)))
	if factor.LessThan(decimal.Zero) {
		factor = decimal.Zero
	}
	return sig.Score.Mul(factor).Round(2)
}

func (q *SignalQueue) lowestLocked() *queueEntry {
	var lowest *queueEntry
	for _, e := range q.heap {
		if lowest == nil || e.signal.Score.LessThan(lowest.signal.Score) {
			lowest = e
		}
	}
	return lowest
}

func (q *SignalQueue) removeLocked(e *queueEntry) {
	heap.Remove(&q.heap, e.index)
	q.forgetLocked(e)
}

func (q *SignalQueue) forgetLocked(e *queueEntry) {
	delete(q.byID, e.signal.ID)
	pair := e.signal.Pair.String()
	if q.perPair[pair] > 0 {
		q.perPair[pair]--
	}
	if q.perPair[pair] == 0 {
		delete(q.perPair, pair)
	}
}

func (q *SignalQueue) dropLocked(sig *core.Signal, reason string) {
	q.stats.TotalDropped++
	q.events.Emit(core.NewEvent(core.EventSignalDropped, sig.Pair.String(), sig.ID, map[string]string{
		"reason": reason,
	}))
}
