// Package mock provides scriptable venue adapters for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "arb_bot/pkg/errors"

	"arb_bot/internal/core"
)

// MockCex implements core.ICexAdapter with scriptable behavior.
type MockCex struct {
	mu sync.Mutex

	book     *core.OrderBook
	balances map[string]decimal.Decimal

	orders         map[string]*mockOrder
	orderIDCounter int

	// FillAfterPolls delays fills by N PollOrder calls. Zero fills
	// immediately.
	FillAfterPolls int

	// PartialFillPct fills only this fraction of placed size when set.
	PartialFillPct decimal.Decimal

	// Error scripting; each fires once then clears.
	NextPlaceErr  error
	NextPollErr   error
	NextCancelErr error

	MarketUnwind bool
}

type mockOrder struct {
	pair      core.Pair
	side      core.Side
	price     decimal.Decimal
	size      decimal.Decimal
	polls     int
	status    core.OrderStatus
	filledQty decimal.Decimal
}

// NewMockCex seeds an exchange with a flat book around the given mid.
func NewMockCex(mid decimal.Decimal) *MockCex {
	m := &MockCex{
		balances:       make(map[string]decimal.Decimal),
		orders:         make(map[string]*mockOrder),
		orderIDCounter: 1000,
		MarketUnwind:   true,
	}
	m.SetBookAroundMid(mid, decimal.NewFromInt(100))
	return m
}

// SetBookAroundMid builds a 5-level book with 1 bps steps.
func (m *MockCex) SetBookAroundMid(mid, levelSize decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := mid.Mul(decimal.NewFromFloat(0.0001))
	book := &core.OrderBook{FetchedAt: time.Now()}
	for i := 1; i <= 5; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, core.PriceLevel{Price: mid.Sub(offset), Size: levelSize})
		book.Asks = append(book.Asks, core.PriceLevel{Price: mid.Add(offset), Size: levelSize})
	}
	m.book = book
}

// SetBook replaces the book snapshot entirely.
func (m *MockCex) SetBook(book *core.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = book
}

// SetBalance sets a free balance.
func (m *MockCex) SetBalance(asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = amount
}

func (m *MockCex) FetchOrderBook(ctx context.Context, pair core.Pair, depth int) (*core.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.book == nil {
		return nil, apperrors.ErrNetwork
	}
	cp := *m.book
	cp.FetchedAt = time.Now()
	return &cp, nil
}

func (m *MockCex) PlaceLimitPostOnly(ctx context.Context, pair core.Pair, side core.Side, price, size decimal.Decimal) (string, error) {
	return m.place(pair, side, price, size)
}

func (m *MockCex) PlaceLimitAggressive(ctx context.Context, pair core.Pair, side core.Side, price, size decimal.Decimal) (string, error) {
	return m.place(pair, side, price, size)
}

func (m *MockCex) PlaceMarket(ctx context.Context, pair core.Pair, side core.Side, size decimal.Decimal) (string, error) {
	price := decimal.Zero
	m.mu.Lock()
	if m.book != nil {
		if side == core.SideBuy {
			price = m.book.BestAsk()
		} else {
			price = m.book.BestBid()
		}
	}
	m.mu.Unlock()
	return m.place(pair, side, price, size)
}

func (m *MockCex) place(pair core.Pair, side core.Side, price, size decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextPlaceErr != nil {
		err := m.NextPlaceErr
		m.NextPlaceErr = nil
		return "", err
	}

	m.orderIDCounter++
	id := fmt.Sprintf("mock-%d", m.orderIDCounter)
	m.orders[id] = &mockOrder{
		pair:   pair,
		side:   side,
		price:  price,
		size:   size,
		status: core.OrderOpen,
	}
	return id, nil
}

func (m *MockCex) PollOrder(ctx context.Context, pair core.Pair, orderID string) (*core.OrderUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextPollErr != nil {
		err := m.NextPollErr
		m.NextPollErr = nil
		return nil, err
	}

	ord, ok := m.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}

	if ord.status == core.OrderOpen {
		ord.polls++
		if ord.polls > m.FillAfterPolls {
			fillQty := ord.size
			if m.PartialFillPct.IsPositive() {
				fillQty = ord.size.Mul(m.PartialFillPct)
				ord.status = core.OrderPartiallyFilled
			} else {
				ord.status = core.OrderFilled
			}
			ord.filledQty = fillQty
		}
	}

	update := &core.OrderUpdate{
		Status:    ord.status,
		FilledQty: ord.filledQty,
		AvgPrice:  ord.price,
	}
	if ord.status == core.OrderPartiallyFilled {
		// A partial that stays partial reports as open until cancel.
		update.Status = core.OrderPartiallyFilled
	}
	return update, nil
}

func (m *MockCex) Cancel(ctx context.Context, pair core.Pair, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextCancelErr != nil {
		err := m.NextCancelErr
		m.NextCancelErr = nil
		return err
	}

	ord, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if ord.status == core.OrderOpen || ord.status == core.OrderPartiallyFilled {
		ord.status = core.OrderCanceled
	}
	return nil
}

func (m *MockCex) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockCex) SupportsMarketUnwind() bool {
	return m.MarketUnwind
}

// MockDex implements core.IDexAdapter with a fixed price curve.
type MockDex struct {
	mu sync.Mutex

	// Price is quote per base. SellPrice, when set, quotes the
	// base-to-quote direction at a different level so the curve can be
	// lopsided like a thin pool.
	Price      decimal.Decimal
	SellPrice  decimal.Decimal
	GasUSD     decimal.Decimal
	GasUnits   int64
	Route      core.RouteTag
	ImpactPct  decimal.Decimal
	SwapCalls  int
	QuoteCalls int

	NextQuoteErr error
	NextSwapErr  error

	// FailSwaps makes the next N swaps fail with NextSwapErr (or a
	// revert when unset).
	FailSwaps int
}

// NewMockDex creates a DEX quoting at the given price.
func NewMockDex(price decimal.Decimal) *MockDex {
	return &MockDex{
		Price:    price,
		GasUSD:   decimal.NewFromFloat(0.02),
		GasUnits: 500000,
		Route:    core.RouteTag{Kind: core.RouteAggregator},
	}
}

func (m *MockDex) Quote(ctx context.Context, req core.QuoteRequest) (*core.DexQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++

	if m.NextQuoteErr != nil {
		err := m.NextQuoteErr
		m.NextQuoteErr = nil
		return nil, err
	}
	if m.Price.IsZero() {
		return nil, apperrors.ErrQuoteUnavailable
	}

	quote := &core.DexQuote{
		TokenIn:          req.TokenIn,
		TokenOut:         req.TokenOut,
		AmountIn:         req.AmountIn,
		GasEstimateUnits: m.GasUnits,
		EffectivePrice:   m.Price,
		Route:            m.Route,
		PriceImpactPct:   m.ImpactPct,
		FetchedAt:        time.Now(),
	}
	// Buying base: input is quote. Selling base: input is base.
	if req.TokenOut == req.Pair.TokenAddress {
		quote.AmountOut = req.AmountIn.Div(m.Price)
	} else {
		sell := m.Price
		if !m.SellPrice.IsZero() {
			sell = m.SellPrice
			quote.EffectivePrice = sell
		}
		quote.AmountOut = req.AmountIn.Mul(sell)
	}
	return quote, nil
}

func (m *MockDex) Swap(ctx context.Context, quote *core.DexQuote, deadline time.Duration, slippageBps int64, sender string) (*core.SwapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SwapCalls++

	if m.FailSwaps > 0 {
		m.FailSwaps--
		if m.NextSwapErr != nil {
			return nil, m.NextSwapErr
		}
		return nil, apperrors.ErrSwapReverted
	}
	if m.NextSwapErr != nil {
		err := m.NextSwapErr
		m.NextSwapErr = nil
		return nil, err
	}

	return &core.SwapResult{
		TxHash:       fmt.Sprintf("0xmock%06d", m.SwapCalls),
		EffectiveOut: quote.AmountOut,
		GasSpentUSD:  m.GasUSD,
	}, nil
}
