package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ICexAdapter is the capability surface of the centralized exchange.
// Implementations own their rate limiting; callers never bypass it.
type ICexAdapter interface {
	// FetchOrderBook returns a book snapshot with up to depth levels per side.
	FetchOrderBook(ctx context.Context, pair Pair, depth int) (*OrderBook, error)

	// PlaceLimitPostOnly submits a maker-only limit order and returns the
	// venue order id. The venue rejects the order if it would take liquidity.
	PlaceLimitPostOnly(ctx context.Context, pair Pair, side Side, price, size decimal.Decimal) (string, error)

	// PlaceLimitAggressive submits a limit order priced through the book,
	// used for unwinds when market orders are unavailable.
	PlaceLimitAggressive(ctx context.Context, pair Pair, side Side, price, size decimal.Decimal) (string, error)

	// PlaceMarket submits a market order. Only called when
	// SupportsMarketUnwind reports true.
	PlaceMarket(ctx context.Context, pair Pair, side Side, size decimal.Decimal) (string, error)

	// PollOrder returns the current status of an order.
	PollOrder(ctx context.Context, pair Pair, orderID string) (*OrderUpdate, error)

	// Cancel best-effort cancels an open order.
	Cancel(ctx context.Context, pair Pair, orderID string) error

	// FetchBalances returns free balances per asset.
	FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error)

	// SupportsMarketUnwind reports whether the venue accepts market orders
	// for unwinding. When false the executor uses an aggressive limit.
	SupportsMarketUnwind() bool
}

// QuoteRequest asks a DEX adapter to price a single-input swap.
type QuoteRequest struct {
	Pair      Pair
	TokenIn   string
	TokenOut  string
	AmountIn  decimal.Decimal
	RouteHint *RouteTag
}

// IDexAdapter is the capability surface of the on-chain venue.
type IDexAdapter interface {
	// Quote prices a swap without executing it.
	Quote(ctx context.Context, req QuoteRequest) (*DexQuote, error)

	// Swap executes a previously obtained quote.
	Swap(ctx context.Context, quote *DexQuote, deadline time.Duration, slippageBps int64, sender string) (*SwapResult, error)
}

// ILogger defines the logging interface used across all components.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IRecovery is the admission and outcome contract between the executor
// and the recovery plane.
type IRecovery interface {
	// Admit returns nil when the signal may execute, or a sentinel error
	// (breaker open, replay, stale, safety violation) describing the denial.
	Admit(signal *Signal, capital CapitalState) error

	// Release hands back an admitted signal that was denied before any
	// leg was submitted, so a reserved breaker probe slot is not lost.
	Release(signal *Signal)

	// RecordOutcome feeds a terminal execution back into the breaker,
	// replay ledger and alerting.
	RecordOutcome(signal *Signal, outcome Outcome)
}

// Outcome is the terminal result of one execution as seen by recovery
// and capital accounting.
type Outcome struct {
	SignalID           string
	Pair               string
	Success            bool
	Unwound            bool
	NetPnLUSD          decimal.Decimal
	FailureKind        string
	Err                error
	ManualIntervention bool
}

// ITradeStore persists terminal execution records and audit events.
type ITradeStore interface {
	SaveTrade(ctx context.Context, rec *TradeRecord) error
	SaveAudit(ctx context.Context, signalID string, events []byte) error
	RecentTrades(ctx context.Context, pair string, limit int) ([]*TradeRecord, error)
	Close() error
}

// TradeRecord is one completed (or unwound) arbitrage round-trip.
type TradeRecord struct {
	SignalID    string
	Pair        string
	Direction   string
	SizeBase    decimal.Decimal
	SizeQuote   decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	GrossPnLUSD decimal.Decimal
	NetPnLUSD   decimal.Decimal
	ExpectedUSD decimal.Decimal
	FeesUSD     decimal.Decimal
	GasUSD      decimal.Decimal
	LatencyMS   int64
	Unwound     bool
	FinalState  string
	CompletedAt time.Time
}
