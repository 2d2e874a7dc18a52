// Package strategy implements the signal pipeline: fee model, generator,
// scorer and the bounded priority queue.
package strategy

import (
	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

var (
	bpsDenominator = decimal.NewFromInt(10000)
	gweiPerEth     = decimal.NewFromInt(1_000_000_000)
)

// FeeModel converts the per-venue fee schedule and current gas conditions
// into a FeeBreakdown for one candidate trade.
type FeeModel struct {
	CexMakerFeeBps    decimal.Decimal
	SlippageBufferBps decimal.Decimal
	GasPriceGwei      decimal.Decimal
	NativeUSD         decimal.Decimal
}

// GasUSD converts a gas-unit estimate to USD at current gas price.
func (f FeeModel) GasUSD(gasUnits int64) decimal.Decimal {
	if gasUnits <= 0 {
		return decimal.Zero
	}
	eth := decimal.NewFromInt(gasUnits).Mul(f.GasPriceGwei).Div(gweiPerEth)
	return eth.Mul(f.NativeUSD)
}

// Breakdown assembles the full cost stack for a quoted route.
func (f FeeModel) Breakdown(pair core.Pair, quote *core.DexQuote, bridgeAmortizedUSD decimal.Decimal) core.FeeBreakdown {
	return core.FeeBreakdown{
		CexFeeBps:          f.CexMakerFeeBps,
		DexLPFeeBps:        decimal.NewFromInt(pair.PoolFeeTierBps),
		AggregatorFeeBps:   quote.AggregatorFeeBps,
		SlippageBufferBps:  f.SlippageBufferBps,
		GasUSD:             f.GasUSD(quote.GasEstimateUnits),
		BridgeAmortizedUSD: bridgeAmortizedUSD,
	}
}

// NetProfitUSD computes the fee-adjusted expected profit for a trade of
// sizeQuote at the given gross spread.
func NetProfitUSD(sizeQuote, grossSpreadBps decimal.Decimal, fees core.FeeBreakdown) decimal.Decimal {
	proportional := sizeQuote.Mul(grossSpreadBps.Sub(fees.TotalBps())).Div(bpsDenominator)
	return proportional.Sub(fees.FixedUSD())
}

// BreakevenBps is the gross spread at which the trade nets zero.
func BreakevenBps(sizeQuote decimal.Decimal, fees core.FeeBreakdown) decimal.Decimal {
	if sizeQuote.IsZero() {
		return decimal.Zero
	}
	fixedBps := fees.FixedUSD().Div(sizeQuote).Mul(bpsDenominator)
	return fees.TotalBps().Add(fixedBps)
}

// SpreadBps returns (sell − buy) / buy in basis points.
func SpreadBps(sellPrice, buyPrice decimal.Decimal) decimal.Decimal {
	if buyPrice.IsZero() {
		return decimal.Zero
	}
	return sellPrice.Sub(buyPrice).Div(buyPrice).Mul(bpsDenominator)
}
