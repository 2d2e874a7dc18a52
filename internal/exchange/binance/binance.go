// Package binance implements the CEX adapter against Binance Spot.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "arb_bot/pkg/errors"
	httpclient "arb_bot/pkg/http"

	"arb_bot/internal/core"
)

const defaultSpotURL = "https://api.binance.com"

// Config holds credentials and tuning for the adapter.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`

	// RequestsPerSecond caps outgoing REST calls. Binance weights vary
	// per endpoint; a flat cap below the account limit is sufficient at
	// this call volume.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// signer signs requests Binance-style: HMAC-SHA256 over the query
// string, signature appended as a query parameter.
type signer struct {
	apiKey    string
	secretKey string
}

func (s *signer) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	}

	queryString := q.Encode()
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(queryString))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	req.URL.RawQuery = q.Encode()
	return nil
}

// Adapter implements core.ICexAdapter.
type Adapter struct {
	client  *httpclient.Client
	public  *httpclient.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewAdapter creates the Binance Spot adapter. Public endpoints go
// through an unsigned client so book polling never touches credentials.
func NewAdapter(cfg Config, logger core.ILogger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSpotURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 10
	}

	return &Adapter{
		client:  httpclient.NewClient(cfg.BaseURL, cfg.Timeout, &signer{apiKey: cfg.APIKey, secretKey: cfg.SecretKey}),
		public:  httpclient.NewClient(cfg.BaseURL, cfg.Timeout, nil),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
		logger:  logger.WithField("component", "binance"),
	}
}

func (a *Adapter) FetchOrderBook(ctx context.Context, pair core.Pair, depth int) (*core.OrderBook, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := a.public.Get(ctx, "/api/v3/depth", map[string]string{
		"symbol": pair.VenueSymbol,
		"limit":  fmt.Sprintf("%d", depth),
	})
	if err != nil {
		return nil, a.mapError(err)
	}

	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode depth: %w", err)
	}

	book := &core.OrderBook{Pair: pair.String(), FetchedAt: time.Now()}
	if book.Bids, err = parseLevels(resp.Bids); err != nil {
		return nil, err
	}
	if book.Asks, err = parseLevels(resp.Asks); err != nil {
		return nil, err
	}
	return book, nil
}

func (a *Adapter) PlaceLimitPostOnly(ctx context.Context, pair core.Pair, side core.Side, price, size decimal.Decimal) (string, error) {
	// LIMIT_MAKER rejects any order that would take liquidity.
	return a.placeOrder(ctx, pair, side, map[string]string{
		"type":     "LIMIT_MAKER",
		"price":    price.String(),
		"quantity": size.String(),
	})
}

func (a *Adapter) PlaceLimitAggressive(ctx context.Context, pair core.Pair, side core.Side, price, size decimal.Decimal) (string, error) {
	return a.placeOrder(ctx, pair, side, map[string]string{
		"type":        "LIMIT",
		"timeInForce": "IOC",
		"price":       price.String(),
		"quantity":    size.String(),
	})
}

func (a *Adapter) PlaceMarket(ctx context.Context, pair core.Pair, side core.Side, size decimal.Decimal) (string, error) {
	return a.placeOrder(ctx, pair, side, map[string]string{
		"type":     "MARKET",
		"quantity": size.String(),
	})
}

func (a *Adapter) placeOrder(ctx context.Context, pair core.Pair, side core.Side, params map[string]string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params["symbol"] = pair.VenueSymbol
	params["side"] = string(side)

	raw, err := a.client.PostForm(ctx, "/api/v3/order", params)
	if err != nil {
		return "", a.mapError(err)
	}

	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if resp.Status == "REJECTED" || resp.Status == "EXPIRED" {
		return "", apperrors.ErrOrderRejected
	}

	a.logger.Debug("Order placed",
		"symbol", pair.VenueSymbol,
		"side", string(side),
		"type", params["type"],
		"order_id", resp.OrderID)
	return fmt.Sprintf("%d", resp.OrderID), nil
}

func (a *Adapter) PollOrder(ctx context.Context, pair core.Pair, orderID string) (*core.OrderUpdate, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := a.client.Get(ctx, "/api/v3/order", map[string]string{
		"symbol":  pair.VenueSymbol,
		"orderId": orderID,
	})
	if err != nil {
		return nil, a.mapError(err)
	}

	var resp struct {
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order status: %w", err)
	}

	executed, err := decimal.NewFromString(resp.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executed qty: %w", err)
	}
	quoteQty, err := decimal.NewFromString(resp.CummulativeQuoteQty)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quote qty: %w", err)
	}

	update := &core.OrderUpdate{FilledQty: executed}
	if executed.IsPositive() {
		update.AvgPrice = quoteQty.Div(executed)
	}

	switch resp.Status {
	case "NEW":
		update.Status = core.OrderOpen
	case "PARTIALLY_FILLED":
		update.Status = core.OrderPartiallyFilled
	case "FILLED":
		update.Status = core.OrderFilled
	case "CANCELED", "EXPIRED":
		update.Status = core.OrderCanceled
	case "REJECTED":
		update.Status = core.OrderRejected
		update.Reason = resp.Status
	default:
		return nil, fmt.Errorf("unknown order status %q", resp.Status)
	}
	return update, nil
}

func (a *Adapter) Cancel(ctx context.Context, pair core.Pair, orderID string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := a.client.Delete(ctx, "/api/v3/order", map[string]string{
		"symbol":  pair.VenueSymbol,
		"orderId": orderID,
	})
	if err != nil {
		mapped := a.mapError(err)
		// Cancel racing a fill is not an error worth surfacing.
		if errors.Is(mapped, apperrors.ErrOrderNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

func (a *Adapter) FetchBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := a.client.Get(ctx, "/api/v3/account", map[string]string{
		"omitZeroBalances": "true",
	})
	if err != nil {
		return nil, a.mapError(err)
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		out[b.Asset] = free
	}
	return out, nil
}

func (a *Adapter) SupportsMarketUnwind() bool {
	return true
}

// mapError translates venue error codes onto the shared sentinels.
func (a *Adapter) mapError(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &errResp); jsonErr != nil {
		return err
	}

	switch errResp.Code {
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -2010:
		// Covers both insufficient balance and post-only rejection.
		if strings.Contains(strings.ToLower(errResp.Msg), "balance") {
			return apperrors.ErrInsufficientBalance
		}
		return apperrors.ErrOrderRejected
	case -2011, -2013:
		return apperrors.ErrOrderNotFound
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -1121:
		return apperrors.ErrInvalidSymbol
	}
	return fmt.Errorf("binance error %d: %s", errResp.Code, errResp.Msg)
}

func parseLevels(raw [][2]string) ([]core.PriceLevel, error) {
	levels := make([]core.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse level price: %w", err)
		}
		size, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse level size: %w", err)
		}
		levels = append(levels, core.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}
