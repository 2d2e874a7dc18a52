// Package capital tracks balances on both venues, realized results and
// the amortized bridge economics.
package capital

import (
	"sync"

	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

// Venue identifies where an asset sits.
type Venue string

const (
	VenueCex   Venue = "cex"
	VenueChain Venue = "chain"
)

// Balance splits an asset holding into free and locked portions. Locked
// funds back in-flight legs and are not spendable by new signals.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// InventoryTracker is the balance book for both venues.
type InventoryTracker struct {
	mu       sync.Mutex
	balances map[Venue]map[string]Balance
}

// NewInventoryTracker creates an empty tracker.
func NewInventoryTracker() *InventoryTracker {
	return &InventoryTracker{
		balances: map[Venue]map[string]Balance{
			VenueCex:   make(map[string]Balance),
			VenueChain: make(map[string]Balance),
		},
	}
}

// SetFree replaces the free balance of an asset, used when syncing from
// venue adapters.
func (t *InventoryTracker) SetFree(venue Venue, asset string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.balances[venue][asset]
	b.Free = amount
	t.balances[venue][asset] = b
}

// Adjust adds a (possibly negative) delta to the free balance.
func (t *InventoryTracker) Adjust(venue Venue, asset string, delta decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.balances[venue][asset]
	b.Free = b.Free.Add(delta)
	t.balances[venue][asset] = b
}

// Lock moves free funds to locked for an in-flight leg. It fails when
// free funds are insufficient.
func (t *InventoryTracker) Lock(venue Venue, asset string, amount decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.balances[venue][asset]
	if b.Free.LessThan(amount) {
		return false
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	t.balances[venue][asset] = b
	return true
}

// Unlock returns locked funds to free.
func (t *InventoryTracker) Unlock(venue Venue, asset string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.balances[venue][asset]
	b.Locked = b.Locked.Sub(amount)
	if b.Locked.LessThan(decimal.Zero) {
		b.Locked = decimal.Zero
	}
	b.Free = b.Free.Add(amount)
	t.balances[venue][asset] = b
}

// Free returns the free balance of an asset.
func (t *InventoryTracker) Free(venue Venue, asset string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[venue][asset].Free
}

// FreeMap returns a copy of all free balances for a venue.
func (t *InventoryTracker) FreeMap(venue Venue) map[string]decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(t.balances[venue]))
	for asset, b := range t.balances[venue] {
		out[asset] = b.Free
	}
	return out
}

// CanExecute checks that both legs of a signal are fundable. The buffer
// scales the quote requirement to absorb price movement between signal
// and fill.
func (t *InventoryTracker) CanExecute(pair core.Pair, direction core.Direction, sizeBase, sizeQuote, buffer decimal.Decimal) bool {
	need := sizeQuote.Mul(buffer)
	switch direction {
	case core.BuyCexSellDex:
		return t.Free(VenueCex, pair.Quote).GreaterThanOrEqual(need) &&
			t.Free(VenueChain, pair.Base).GreaterThanOrEqual(sizeBase)
	case core.BuyDexSellCex:
		return t.Free(VenueChain, pair.Quote).GreaterThanOrEqual(need) &&
			t.Free(VenueCex, pair.Base).GreaterThanOrEqual(sizeBase)
	}
	return false
}

// BaseSkew is the signed base-unit imbalance: positive when the CEX holds
// more of the base asset than the chain wallet.
func (t *InventoryTracker) BaseSkew(pair core.Pair) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[VenueCex][pair.Base].Total().Sub(t.balances[VenueChain][pair.Base].Total())
}
