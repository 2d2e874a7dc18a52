package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "arb_bot/pkg/errors"
	httpclient "arb_bot/pkg/http"

	"arb_bot/internal/core"
)

const (
	// getReserves() on a v2-style pair contract.
	selGetReserves = "0x0902f1ac"
	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	selSwapExactTokens = "0x38ed1739"
)

// PoolConfig tunes the direct pool reader.
type PoolConfig struct {
	RPCURL        string        `yaml:"rpc_url"`
	RouterAddress string        `yaml:"router_address"`
	Timeout       time.Duration `yaml:"timeout"`
	// StaticGasUnits is used for quote gas estimates; a v2 swap cost is
	// stable enough that reading it per quote is not worth an RPC.
	StaticGasUnits int64 `yaml:"static_gas_units"`
}

// PoolQuoter implements core.IDexAdapter against a single v2-style pool
// per pair, read over raw JSON-RPC.
type PoolQuoter struct {
	cfg       PoolConfig
	client    *httpclient.Client
	submitter TxSubmitter
	logger    core.ILogger
}

// NewPoolQuoter creates the direct pool adapter. submitter may be nil
// for quote-only use.
func NewPoolQuoter(cfg PoolConfig, submitter TxSubmitter, logger core.ILogger) *PoolQuoter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.StaticGasUnits == 0 {
		cfg.StaticGasUnits = 150000
	}
	return &PoolQuoter{
		cfg:       cfg,
		client:    httpclient.NewClient(cfg.RPCURL, cfg.Timeout, nil),
		submitter: submitter,
		logger:    logger.WithField("component", "pool_quoter"),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Quote prices a swap off the pool's current reserves with the
// constant-product formula, net of the pool fee tier.
func (p *PoolQuoter) Quote(ctx context.Context, req core.QuoteRequest) (*core.DexQuote, error) {
	if req.Pair.PoolAddress == "" {
		return nil, fmt.Errorf("%w: pair has no pool address", apperrors.ErrQuoteUnavailable)
	}

	reserve0, reserve1, err := p.getReserves(ctx, req.Pair.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrQuoteUnavailable, err)
	}

	// token0 is the numerically lower address in v2 pairs.
	reserveIn, reserveOut := reserve0, reserve1
	if !addrLess(req.TokenIn, req.TokenOut) {
		reserveIn, reserveOut = reserve1, reserve0
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty reserves", apperrors.ErrQuoteUnavailable)
	}

	inDecimals, outDecimals := p.decimalsFor(req)
	amountInRaw := req.AmountIn.Shift(inDecimals).Truncate(0).BigInt()

	feeBps := req.Pair.PoolFeeTierBps
	if feeBps == 0 {
		feeBps = 30
	}
	amountOutRaw := v2AmountOut(amountInRaw, reserveIn, reserveOut, feeBps)
	amountOut := decimal.NewFromBigInt(amountOutRaw, -outDecimals)
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
		GasEstimateUnits: p.cfg.StaticGasUnits,
		Route: core.RouteTag{
			Kind:        core.RouteDirectPool,
			PoolAddress: req.Pair.PoolAddress,
			FeeTierBps:  feeBps,
		},
		PriceImpactPct: priceImpactPct(amountInRaw, reserveIn),
		FetchedAt:      time.Now(),
	}
	quote.EffectivePrice = effectivePrice(req, quote)
	return quote, nil
}

// Swap routes through the configured v2 router with exact-input
// calldata and the caller's slippage floor.
func (p *PoolQuoter) Swap(ctx context.Context, quote *core.DexQuote, deadline time.Duration, slippageBps int64, sender string) (*core.SwapResult, error) {
	if p.submitter == nil {
		return nil, fmt.Errorf("no transaction submitter configured")
	}
	if p.cfg.RouterAddress == "" {
		return nil, fmt.Errorf("no router address configured")
	}

	amountInRaw := quote.AmountIn.Shift(quote.TokenInDecimals).Truncate(0).BigInt()

	minOut := quote.AmountOut.
		Mul(decimal.NewFromInt(10000 - slippageBps)).
		Div(decimal.NewFromInt(10000))
	minOutRaw := minOut.Shift(quote.TokenOutDecimals).Truncate(0).BigInt()

	deadlineTS := big.NewInt(time.Now().Add(deadline).Unix())
	calldata := encodeSwapExactTokens(amountInRaw, minOutRaw, quote.TokenIn, quote.TokenOut, sender, deadlineTS)

	swapCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return p.submitter.Submit(swapCtx, p.cfg.RouterAddress, calldata, "0", p.cfg.StaticGasUnits*2)
}

func (p *PoolQuoter) getReserves(ctx context.Context, poolAddr string) (*big.Int, *big.Int, error) {
	raw, err := p.client.Post(ctx, "", rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []interface{}{
			map[string]string{"to": poolAddr, "data": selGetReserves},
			"latest",
		},
		ID: 1,
	})
	if err != nil {
		return nil, nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return nil, nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	data := strings.TrimPrefix(resp.Result, "0x")
	if len(data) < 128 {
		return nil, nil, fmt.Errorf("short getReserves result: %d hex chars", len(data))
	}

	reserve0, ok0 := new(big.Int).SetString(data[0:64], 16)
	reserve1, ok1 := new(big.Int).SetString(data[64:128], 16)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("malformed reserve words")
	}
	return reserve0, reserve1, nil
}

func (p *PoolQuoter) decimalsFor(req core.QuoteRequest) (int32, int32) {
	if req.TokenIn == req.Pair.TokenAddress {
		return req.Pair.TokenDecimals, req.Pair.QuoteDecimals
	}
	return req.Pair.QuoteDecimals, req.Pair.TokenDecimals
}

// v2AmountOut is the constant-product output with the fee applied to
// the input amount.
func v2AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	feeFactor := big.NewInt(10000 - feeBps)
	amountInWithFee := new(big.Int).Mul(amountIn, feeFactor)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(10000)),
		amountInWithFee,
	)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(numerator, denominator)
}

// priceImpactPct approximates impact as input over input-side reserve.
func priceImpactPct(amountIn, reserveIn *big.Int) decimal.Decimal {
	if reserveIn.Sign() == 0 {
		return decimal.Zero
	}
	in := decimal.NewFromBigInt(amountIn, 0)
	res := decimal.NewFromBigInt(reserveIn, 0)
	return in.Div(res).Mul(decimal.NewFromInt(100))
}

func addrLess(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

// encodeSwapExactTokens ABI-encodes the v2 router exact-input call with
// a two-hop path.
func encodeSwapExactTokens(amountIn, minOut *big.Int, tokenIn, tokenOut, to string, deadline *big.Int) string {
	var sb strings.Builder
	sb.WriteString(selSwapExactTokens)
	sb.WriteString(padUint(amountIn))
	sb.WriteString(padUint(minOut))
	sb.WriteString(padUint(big.NewInt(0xa0))) // offset of path array
	sb.WriteString(padAddr(to))
	sb.WriteString(padUint(deadline))
	sb.WriteString(padUint(big.NewInt(2))) // path length
	sb.WriteString(padAddr(tokenIn))
	sb.WriteString(padAddr(tokenOut))
	return sb.String()
}

func padUint(v *big.Int) string {
	return fmt.Sprintf("%064x", v)
}

func padAddr(addr string) string {
	clean := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	return strings.Repeat("0", 64-len(clean)) + clean
}
