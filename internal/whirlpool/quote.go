package whirlpool

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

type QuoteResult struct {
	InputAmount   uint64 `json:"input_amount"`
	OutputAmount  uint64 `json:"output_amount"`
	MinimumOutput uint64 `json:"minimum_output"`
	FeeAmount     uint64 `json:"fee_amount"`
	// PriceImpactPercent is a linear approximation (input / liquidity), not
	// the curve integral. Always within [0,100].
	PriceImpactPercent float64 `json:"price_impact_percent"`
}

var (
	q128      = new(big.Int).Lsh(big.NewInt(1), 128)
	maxUint64 = new(big.Int).SetUint64(math.MaxUint64)
)

// Price returns token B per token A: sqrt_price^2 / 2^128.
func (p *PoolState) Price() (float64, error) {
	if p.SqrtPrice == nil || p.SqrtPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: pool %s has zero sqrt price", ErrComputation, p.Address)
	}
	squared := new(big.Int).Mul(p.SqrtPrice, p.SqrtPrice)
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(squared), new(big.Float).SetInt(q128)).Float64()
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, fmt.Errorf("%w: pool %s price not finite", ErrComputation, p.Address)
	}
	return price, nil
}

// PriceForBase prices one unit of base in the pool's other token.
func (p *PoolState) PriceForBase(base solana.PublicKey) (float64, error) {
	price, err := p.Price()
	if err != nil {
		return 0, err
	}
	switch {
	case base.Equals(p.MintA):
		return price, nil
	case base.Equals(p.MintB):
		return 1 / price, nil
	default:
		return 0, fmt.Errorf("%w: %s is not traded by pool %s", ErrNoPoolFound, base, p.Address)
	}
}

// Quote prices a swap of inputAmount of inputMint against pool.
func Quote(pool *PoolState, inputMint, outputMint solana.PublicKey, inputAmount uint64, slippagePercent float64) (QuoteResult, error) {
	if pool == nil {
		return QuoteResult{}, ErrNoPoolFound
	}
	var aToB bool
	switch {
	case pool.MintA.Equals(inputMint) && pool.MintB.Equals(outputMint):
		aToB = true
	case pool.MintB.Equals(inputMint) && pool.MintA.Equals(outputMint):
		aToB = false
	default:
		return QuoteResult{}, fmt.Errorf("%w: pool %s does not trade %s -> %s", ErrNoPoolFound, pool.Address, inputMint, outputMint)
	}

	output, err := swapOutput(pool, inputAmount, aToB)
	if err != nil {
		return QuoteResult{}, err
	}
	fee, err := mulDivFloor(inputAmount, pool.FeeNumerator, pool.FeeDenominator)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("%w: fee: %v", ErrComputation, err)
	}

	return QuoteResult{
		InputAmount:        inputAmount,
		OutputAmount:       output,
		MinimumOutput:      minimumOutput(output, slippagePercent),
		FeeAmount:          fee,
		PriceImpactPercent: priceImpact(inputAmount, pool.Liquidity),
	}, nil
}

// swapOutput uses exact integer math on the Q64.64 price: input*sqrt^2/2^128
// for A->B and input*2^128/sqrt^2 for B->A. Results clamp to u64.
func swapOutput(pool *PoolState, inputAmount uint64, aToB bool) (uint64, error) {
	if pool.SqrtPrice == nil || pool.SqrtPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: pool %s has zero sqrt price", ErrComputation, pool.Address)
	}
	squared := new(big.Int).Mul(pool.SqrtPrice, pool.SqrtPrice)
	in := new(big.Int).SetUint64(inputAmount)

	out := new(big.Int)
	if aToB {
		out.Mul(in, squared)
		out.Quo(out, q128)
	} else {
		out.Mul(in, q128)
		out.Quo(out, squared)
	}
	return clampUint64(out), nil
}

// minimumOutput applies slippage using the shortest decimal form of the
// percentage so 0.5 means exactly 0.5. Out of range values never panic.
func minimumOutput(output uint64, slippagePercent float64) uint64 {
	if math.IsNaN(slippagePercent) || math.IsInf(slippagePercent, 1) || slippagePercent >= 100 {
		return 0
	}
	if slippagePercent <= 0 {
		return output
	}
	slippage, ok := new(big.Rat).SetString(strconv.FormatFloat(slippagePercent, 'g', -1, 64))
	if !ok {
		return 0
	}
	keep := new(big.Rat).Sub(big.NewRat(1, 1), slippage.Quo(slippage, big.NewRat(100, 1)))
	scaled := keep.Mul(keep, new(big.Rat).SetInt(new(big.Int).SetUint64(output)))
	floor := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if floor.Sign() < 0 {
		return 0
	}
	if floor.Cmp(new(big.Int).SetUint64(output)) > 0 {
		return output
	}
	return floor.Uint64()
}

func priceImpact(inputAmount uint64, liquidity *big.Int) float64 {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return 100
	}
	scaled := new(big.Float).SetUint64(inputAmount)
	scaled.Mul(scaled, big.NewFloat(100))
	impact, _ := scaled.Quo(scaled, new(big.Float).SetInt(liquidity)).Float64()
	return math.Min(100, impact)
}

func mulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if left.Sign() < 0 || !left.IsUint64() {
		return 0, fmt.Errorf("mulDiv overflow")
	}
	return left.Uint64(), nil
}

func clampUint64(v *big.Int) uint64 {
	if v.Sign() <= 0 {
		return 0
	}
	if v.Cmp(maxUint64) > 0 {
		return math.MaxUint64
	}
	return v.Uint64()
}

// GetQuote finds the first pool trading the pair, in either orientation, and
// quotes against it.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, inputAmount uint64, slippagePercent float64) (QuoteResult, *PoolState, error) {
	pool, err := c.FindPoolForPair(ctx, inputMint, outputMint)
	if err != nil {
		return QuoteResult{}, nil, err
	}
	quote, err := Quote(pool, inputMint, outputMint, inputAmount, slippagePercent)
	if err != nil {
		return QuoteResult{}, nil, err
	}
	return quote, pool, nil
}

// GetTokenPrice prices one unit of baseMint in quoteMint.
func (c *Client) GetTokenPrice(ctx context.Context, baseMint, quoteMint solana.PublicKey) (float64, error) {
	pool, err := c.FindPoolForPair(ctx, baseMint, quoteMint)
	if err != nil {
		return 0, err
	}
	return pool.PriceForBase(baseMint)
}
