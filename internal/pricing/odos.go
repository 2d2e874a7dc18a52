// Package pricing implements the on-chain quote sources: the ODOS
// aggregator and a direct constant-product pool reader.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "arb_bot/pkg/errors"
	httpclient "arb_bot/pkg/http"

	"arb_bot/internal/core"
)

const (
	odosBaseURL    = "https://api.odos.xyz"
	odosQuotePath  = "/sor/quote/v2"
	arbitrumChains = 42161
)

// TxSubmitter signs and broadcasts an assembled swap transaction. The
// engine stays custody-agnostic; wallets plug in here.
type TxSubmitter interface {
	Submit(ctx context.Context, to string, calldata string, value string, gasLimit int64) (*core.SwapResult, error)
}

// OdosConfig tunes the aggregator client.
type OdosConfig struct {
	BaseURL string        `yaml:"base_url"`
	ChainID int64         `yaml:"chain_id"`
	Timeout time.Duration `yaml:"timeout"`
	// UserAddr is the wallet the aggregator routes for.
	UserAddr string `yaml:"user_addr"`
}

// OdosClient implements core.IDexAdapter against the ODOS smart order
// router.
type OdosClient struct {
	cfg       OdosConfig
	client    *httpclient.Client
	submitter TxSubmitter
	logger    core.ILogger

	// pathIDs remembers the router path behind each quote so Swap can
	// assemble it.
	mu      sync.Mutex
	pathIDs map[string]string
}

// NewOdosClient creates the aggregator adapter. submitter may be nil for
// quote-only use (simulation mode).
func NewOdosClient(cfg OdosConfig, submitter TxSubmitter, logger core.ILogger) *OdosClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = odosBaseURL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = arbitrumChains
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &OdosClient{
		cfg:       cfg,
		client:    httpclient.NewClient(cfg.BaseURL, cfg.Timeout, nil),
		submitter: submitter,
		logger:    logger.WithField("component", "odos"),
		pathIDs:   make(map[string]string),
	}
}

type odosQuoteRequest struct {
	ChainID              int64            `json:"chainId"`
	InputTokens          []odosTokenSpec  `json:"inputTokens"`
	OutputTokens         []odosOutputSpec `json:"outputTokens"`
	UserAddr             string           `json:"userAddr,omitempty"`
	SlippageLimitPercent float64          `json:"slippageLimitPercent"`
	Compact              bool             `json:"compact"`
}

type odosTokenSpec struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

type odosOutputSpec struct {
	TokenAddress string  `json:"tokenAddress"`
	Proportion   float64 `json:"proportion"`
}

type odosQuoteResponse struct {
	PathID           string   `json:"pathId"`
	OutAmounts       []string `json:"outAmounts"`
	GasEstimate      float64  `json:"gasEstimate"`
	GasEstimateValue float64  `json:"gasEstimateValue"`
	PriceImpact      float64  `json:"priceImpact"`
	PercentDiff      float64  `json:"percentDiff"`
}

// Quote prices a swap through the router. Amounts cross the wire as raw
// integer strings; the adapter owns the decimal conversion.
func (o *OdosClient) Quote(ctx context.Context, req core.QuoteRequest) (*core.DexQuote, error) {
	inDecimals, outDecimals := o.decimalsFor(req)

	body := odosQuoteRequest{
		ChainID: o.cfg.ChainID,
		InputTokens: []odosTokenSpec{{
			TokenAddress: req.TokenIn,
			Amount:       toRawAmount(req.AmountIn, inDecimals),
		}},
		OutputTokens: []odosOutputSpec{{
			TokenAddress: req.TokenOut,
			Proportion:   1,
		}},
		UserAddr:             o.cfg.UserAddr,
		SlippageLimitPercent: 0.3,
		Compact:              true,
	}

	raw, err := o.client.Post(ctx, odosQuotePath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrQuoteUnavailable, err)
	}

	var resp odosQuoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", apperrors.ErrQuoteUnavailable, err)
	}
	if len(resp.OutAmounts) == 0 {
		return nil, fmt.Errorf("%w: empty route", apperrors.ErrQuoteUnavailable)
	}

	amountOut, err := fromRawAmount(resp.OutAmounts[0], outDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: out amount: %v", apperrors.ErrQuoteUnavailable, err)
	}
	if amountOut.IsZero() {
		return nil, fmt.Errorf("%w: zero output", apperrors.ErrQuoteUnavailable)
	}

	quote := &core.DexQuote{
		TokenIn:          req.TokenIn,
		TokenOut:         req.TokenOut,
		TokenInDecimals:  inDecimals,
		TokenOutDecimals: outDecimals,
		AmountIn:         req.AmountIn,
		AmountOut:        amountOut,
		GasEstimateUnits: int64(resp.GasEstimate),
		Route:            core.RouteTag{Kind: core.RouteAggregator},
		PriceImpactPct:   decimal.NewFromFloat(resp.PriceImpact),
		FetchedAt:        time.Now(),
	}
	quote.EffectivePrice = effectivePrice(req, quote)

	o.mu.Lock()
	o.pathIDs[quoteKey(quote)] = resp.PathID
	o.mu.Unlock()
	o.logger.Debug("Aggregator quote",
		"token_in", req.TokenIn,
		"amount_in", req.AmountIn.String(),
		"amount_out", amountOut.String(),
		"gas_units", quote.GasEstimateUnits,
		"price_impact_pct", resp.PriceImpact)
	return quote, nil
}

type odosAssembleRequest struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
}

type odosAssembleResponse struct {
	Transaction struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   int64  `json:"gas"`
	} `json:"transaction"`
}

// Swap assembles the quoted path into calldata and hands it to the
// submitter for signing and broadcast.
func (o *OdosClient) Swap(ctx context.Context, quote *core.DexQuote, deadline time.Duration, slippageBps int64, sender string) (*core.SwapResult, error) {
	if o.submitter == nil {
		return nil, fmt.Errorf("no transaction submitter configured")
	}
	o.mu.Lock()
	pathID, ok := o.pathIDs[quoteKey(quote)]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: quote has no assembled path", apperrors.ErrQuoteUnavailable)
	}

	raw, err := o.client.Post(ctx, "/sor/assemble", odosAssembleRequest{
		UserAddr: sender,
		PathID:   pathID,
		Simulate: false,
	})
	if err != nil {
		return nil, err
	}

	var resp odosAssembleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode assemble response: %w", err)
	}

	swapCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return o.submitter.Submit(swapCtx, resp.Transaction.To, resp.Transaction.Data, resp.Transaction.Value, resp.Transaction.Gas)
}

func (o *OdosClient) decimalsFor(req core.QuoteRequest) (int32, int32) {
	if req.TokenIn == req.Pair.TokenAddress {
		return req.Pair.TokenDecimals, req.Pair.QuoteDecimals
	}
	return req.Pair.QuoteDecimals, req.Pair.TokenDecimals
}

func quoteKey(q *core.DexQuote) string {
	return q.TokenIn + ":" + q.TokenOut + ":" + q.AmountIn.String()
}

// effectivePrice normalizes any swap direction to quote-per-base.
func effectivePrice(req core.QuoteRequest, quote *core.DexQuote) decimal.Decimal {
	if req.TokenOut == req.Pair.TokenAddress {
		// Buying base with quote.
		return quote.AmountIn.Div(quote.AmountOut)
	}
	// Selling base for quote.
	return quote.AmountOut.Div(quote.AmountIn)
}

// toRawAmount converts a decimal token amount to the integer string the
// chain APIs expect.
func toRawAmount(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(decimals).Truncate(0).String()
}

// fromRawAmount converts an integer amount string back to token units.
func fromRawAmount(raw string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-decimals), nil
}
