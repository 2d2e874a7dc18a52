// Package core defines the domain types and component contracts shared
// across the arbitrage engine.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is an order side on either venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the reversing side, used when unwinding a filled leg.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction identifies which venue buys and which sells.
type Direction int

const (
	BuyCexSellDex Direction = iota
	BuyDexSellCex
)

func (d Direction) String() string {
	switch d {
	case BuyCexSellDex:
		return "BUY_CEX_SELL_DEX"
	case BuyDexSellCex:
		return "BUY_DEX_SELL_CEX"
	default:
		return "UNKNOWN"
	}
}

// Pair is the immutable configuration of one tradable market.
type Pair struct {
	Base             string          `yaml:"base"`
	Quote            string          `yaml:"quote"`
	VenueSymbol      string          `yaml:"venue_symbol"`
	TokenAddress     string          `yaml:"token_address"`
	QuoteTokenAddr   string          `yaml:"quote_token_address"`
	TokenDecimals    int32           `yaml:"token_decimals"`
	QuoteDecimals    int32           `yaml:"quote_decimals"`
	PoolAddress      string          `yaml:"pool_address"`
	PoolFeeTierBps   int64           `yaml:"pool_fee_tier_bps"`
	MinSizeQuote     decimal.Decimal `yaml:"min_size_quote"`
	TierMinSpreadBps decimal.Decimal `yaml:"tier_min_spread_bps"`
}

// String returns the canonical pair identifier, e.g. "ARB/USDT".
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// PriceLevel is one (price, size) entry of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a snapshot of the CEX book: bids descending, asks ascending.
type OrderBook struct {
	Pair      string
	Bids      []PriceLevel
	Asks      []PriceLevel
	FetchedAt time.Time
}

// BestBid returns the highest bid, or zero if the side is empty.
func (b *OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the side is empty.
func (b *OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Validate checks side ordering and the crossed-book invariant.
func (b *OrderBook) Validate() error {
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price.GreaterThan(b.Bids[i-1].Price) {
			return fmt.Errorf("bids not descending at level %d", i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price.LessThan(b.Asks[i-1].Price) {
			return fmt.Errorf("asks not ascending at level %d", i)
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && b.BestBid().GreaterThanOrEqual(b.BestAsk()) {
		return fmt.Errorf("crossed book: bid %s >= ask %s", b.BestBid(), b.BestAsk())
	}
	return nil
}

// VWAPForQuote walks one side of the book and returns the volume-weighted
// average price and base quantity obtained for spending sizeQuote.
// Buying walks asks, selling walks bids. ok is false when the visible
// depth cannot absorb the requested size.
func (b *OrderBook) VWAPForQuote(side Side, sizeQuote decimal.Decimal) (avgPrice, baseQty decimal.Decimal, ok bool) {
	levels := b.Asks
	if side == SideSell {
		levels = b.Bids
	}
	remaining := sizeQuote
	totalBase := decimal.Zero
	totalQuote := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		levelQuote := lvl.Price.Mul(lvl.Size)
		take := decimal.Min(levelQuote, remaining)
		baseTaken := take.Div(lvl.Price)
		totalBase = totalBase.Add(baseTaken)
		totalQuote = totalQuote.Add(take)
		remaining = remaining.Sub(take)
	}
	if remaining.GreaterThan(decimal.Zero) || totalBase.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	return totalQuote.Div(totalBase), totalBase, true
}

// DepthQuote returns the visible quote-denominated depth of one side.
func (b *OrderBook) DepthQuote(side Side) decimal.Decimal {
	levels := b.Asks
	if side == SideSell {
		levels = b.Bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Price.Mul(lvl.Size))
	}
	return total
}

// RouteKind discriminates how a DEX quote was produced.
type RouteKind int

const (
	RouteAggregator RouteKind = iota
	RouteDirectPool
)

func (k RouteKind) String() string {
	if k == RouteDirectPool {
		return "direct_pool"
	}
	return "aggregator"
}

// RouteTag identifies the swap route behind a DEX quote.
type RouteTag struct {
	Kind        RouteKind
	PoolAddress string
	FeeTierBps  int64
}

func (r RouteTag) String() string {
	if r.Kind == RouteDirectPool {
		return fmt.Sprintf("direct_pool(%s,%d)", r.PoolAddress, r.FeeTierBps)
	}
	return "aggregator"
}

// DexQuote is a priced swap route. Amounts are normalized decimals in
// token units, not raw integer amounts. EffectivePrice is always expressed
// as quote per base regardless of swap direction.
type DexQuote struct {
	TokenIn          string
	TokenOut         string
	TokenInDecimals  int32
	TokenOutDecimals int32
	AmountIn         decimal.Decimal
	AmountOut        decimal.Decimal
	GasEstimateUnits int64
	EffectivePrice   decimal.Decimal
	Route            RouteTag
	AggregatorFeeBps decimal.Decimal
	PriceImpactPct   decimal.Decimal
	FetchedAt        time.Time
}

// SwapResult is the outcome of an executed DEX swap.
type SwapResult struct {
	TxHash       string
	EffectiveOut decimal.Decimal
	GasSpentUSD  decimal.Decimal
}

// OrderStatus is the lifecycle state of a CEX order.
type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderRejected
	OrderCanceled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "OPEN"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	case OrderRejected:
		return "REJECTED"
	case OrderCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// OrderUpdate is a poll result for a CEX order.
type OrderUpdate struct {
	Status    OrderStatus
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Reason    string
}

// FeeBreakdown itemizes every cost a signal must clear.
type FeeBreakdown struct {
	CexFeeBps          decimal.Decimal
	DexLPFeeBps        decimal.Decimal
	AggregatorFeeBps   decimal.Decimal
	SlippageBufferBps  decimal.Decimal
	GasUSD             decimal.Decimal
	BridgeAmortizedUSD decimal.Decimal
}

// TotalBps sums the proportional fee components.
func (f FeeBreakdown) TotalBps() decimal.Decimal {
	return f.CexFeeBps.Add(f.DexLPFeeBps).Add(f.AggregatorFeeBps).Add(f.SlippageBufferBps)
}

// FixedUSD sums the size-independent cost components.
func (f FeeBreakdown) FixedUSD() decimal.Decimal {
	return f.GasUSD.Add(f.BridgeAmortizedUSD)
}

// ScoreBreakdown records the weighted components behind a signal score.
type ScoreBreakdown struct {
	Spread    decimal.Decimal
	Depth     decimal.Decimal
	Inventory decimal.Decimal
	History   decimal.Decimal
	Freshness decimal.Decimal
}

// Signal is an immutable opportunity record. Only the scorer-owned fields
// (Score, Breakdown) are set after creation.
type Signal struct {
	ID        string
	Pair      Pair
	Direction Direction

	SizeBase  decimal.Decimal
	SizeQuote decimal.Decimal

	CexSidePrice   decimal.Decimal
	DexSidePrice   decimal.Decimal
	GrossSpreadBps decimal.Decimal

	Fees           FeeBreakdown
	ExpectedNetUSD decimal.Decimal
	BreakevenBps   decimal.Decimal

	Quote       *DexQuote
	RouteScores map[string]decimal.Decimal

	Score     decimal.Decimal
	Breakdown ScoreBreakdown

	NonceExpectation uint64

	CreatedAt time.Time
	ExpiresAt time.Time

	Meta map[string]string
}

// NewSignalID builds the canonical signal identifier: pair without the
// separator plus a short random suffix.
func NewSignalID(p Pair) string {
	raw := strings.ReplaceAll(p.String(), "/", "")
	return raw + "_" + uuid.NewString()[:8]
}

// Age returns how long ago the signal was created.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Expired reports whether the signal TTL has elapsed.
func (s *Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Executable reports whether the signal clears the per-tier spread floor
// and the minimum-profit target.
func (s *Signal) Executable(minProfitUSD decimal.Decimal) bool {
	if s.GrossSpreadBps.LessThan(s.Pair.TierMinSpreadBps) {
		return false
	}
	return s.ExpectedNetUSD.GreaterThanOrEqual(minProfitUSD)
}

// CexSide returns the side of the CEX leg for the signal direction.
func (s *Signal) CexSide() Side {
	if s.Direction == BuyCexSellDex {
		return SideBuy
	}
	return SideSell
}

// CapitalState is a read-only snapshot of balances and realized results.
type CapitalState struct {
	CexBalances   map[string]decimal.Decimal
	ChainBalances map[string]decimal.Decimal

	RealizedPnLUSD        decimal.Decimal
	DailyLossUSD          decimal.Decimal
	TradesLastHour        int
	TradesSinceLastBridge int

	BridgeThresholdUSD decimal.Decimal
	BridgeFixedCostUSD decimal.Decimal
}

// TotalUSD approximates deployed capital as the sum of quote-asset
// balances on both venues.
func (c CapitalState) TotalUSD(quoteAsset string) decimal.Decimal {
	return c.CexBalances[quoteAsset].Add(c.ChainBalances[quoteAsset])
}
