package whirlpool

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/coldbell/orca/backend/internal/ledger"
)

const (
	// assumedFeeRate converts fees into traded volume (0.3%), expressed as
	// volume = fee * 1000 / 3.
	assumedFeeRateNum   = 3
	assumedFeeRateDenom = 1000

	signatureScanLimit = 1000
	minKeywordAmount   = 100
	minBareAmount      = 1000
	maxBareAmount      = 1_000_000_000
	keywordLookahead   = 3
)

var volumeKeywords = []string{"amount", "input", "output", "swap", "transfer"}

type PoolHealth struct {
	Pool        solana.PublicKey `json:"pool"`
	Liquidity   float64          `json:"liquidity"`
	Volume24h   uint64           `json:"volume_24h"`
	FeeGrowth   float64          `json:"fee_growth"`
	HealthScore float64          `json:"health_score"`
}

// EstimateVolume returns the larger of the fee-growth and the sampled
// transaction volume estimates. Both are heuristics.
func (c *Client) EstimateVolume(ctx context.Context, pool solana.PublicKey) (uint64, error) {
	state, err := c.GetPoolState(ctx, pool)
	if err != nil {
		return 0, err
	}
	return c.estimateVolume(ctx, state)
}

func (c *Client) estimateVolume(ctx context.Context, state *PoolState) (uint64, error) {
	fromFees := volumeFromFeeGrowth(state.TotalFeeGrowth())
	fromSample, err := c.volumeFromTxSample(ctx, state.Address)
	if err != nil {
		return 0, err
	}
	return max(fromFees, fromSample), nil
}

// PoolHealth combines liquidity, estimated volume and fee growth.
func (c *Client) PoolHealth(ctx context.Context, pool solana.PublicKey) (PoolHealth, error) {
	state, err := c.GetPoolState(ctx, pool)
	if err != nil {
		return PoolHealth{}, err
	}
	volume, err := c.estimateVolume(ctx, state)
	if err != nil {
		return PoolHealth{}, err
	}
	liquidity := bigToFloat(state.Liquidity)
	feeGrowth := bigToFloat(state.TotalFeeGrowth())
	return PoolHealth{
		Pool:        pool,
		Liquidity:   liquidity,
		Volume24h:   volume,
		FeeGrowth:   feeGrowth,
		HealthScore: HealthScore(liquidity, float64(volume), feeGrowth),
	}, nil
}

func volumeFromFeeGrowth(total *big.Int) uint64 {
	volume := new(big.Int).Mul(total, big.NewInt(assumedFeeRateDenom))
	volume.Quo(volume, big.NewInt(assumedFeeRateNum))
	return clampUint64(volume)
}

// volumeFromTxSample averages the implied volume of the most recent
// transactions and scales it by the signature count. Unreadable samples are
// skipped.
func (c *Client) volumeFromTxSample(ctx context.Context, pool solana.PublicKey) (uint64, error) {
	sigs, err := c.ledger.GetSignaturesForAddress(ctx, pool, signatureScanLimit)
	if err != nil {
		return 0, classifyLedgerError("signatures for "+pool.String(), err)
	}
	sample := sigs[:min(len(sigs), c.cfg.TxSampleSize)]
	if len(sample) == 0 {
		return 0, nil
	}

	volumes := make([]uint64, len(sample))
	ok := make([]bool, len(sample))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.TxSampleConcurrency)
	for i, sig := range sample {
		group.Go(func() error {
			tx, err := c.ledger.GetTransaction(groupCtx, sig.Signature)
			if err != nil {
				c.logger.Debug("skip volume sample", "signature", sig.Signature.String(), "err", err)
				return nil
			}
			volumes[i], ok[i] = volumeFromTransaction(tx)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	total := new(big.Int)
	count := 0
	for i := range sample {
		if !ok[i] {
			continue
		}
		total.Add(total, new(big.Int).SetUint64(volumes[i]))
		count++
	}
	if count == 0 {
		return 0, nil
	}
	average := total.Quo(total, big.NewInt(int64(count)))
	scaled := average.Mul(average, big.NewInt(int64(min(len(sigs), signatureScanLimit))))
	return clampUint64(scaled), nil
}

func volumeFromTransaction(tx *ledger.Transaction) (uint64, bool) {
	if tx.Fee != nil {
		volume, err := mulDivFloor(*tx.Fee, assumedFeeRateDenom, assumedFeeRateNum)
		if err != nil {
			return math.MaxUint64, true
		}
		return volume, true
	}
	for _, line := range tx.LogMessages {
		if !strings.Contains(line, "swap") && !strings.Contains(line, "amount") && !strings.Contains(line, "Swap") {
			continue
		}
		if amount, ok := ExtractAmountFromLog(line); ok {
			return amount, true
		}
	}
	return 0, false
}

// ExtractAmountFromLog pulls a token amount out of a free-form log line. A
// number within three tokens after a volume keyword wins over a bare number
// in (1000, 1e9).
func ExtractAmountFromLog(line string) (uint64, bool) {
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == '=' || r == ','
	})

	for i, token := range tokens {
		if !isVolumeKeyword(token) {
			continue
		}
		for j := i + 1; j < len(tokens) && j <= i+keywordLookahead; j++ {
			if value, ok := parseDigitPrefix(tokens[j]); ok && value > minKeywordAmount {
				return value, true
			}
		}
	}

	for _, token := range tokens {
		if value, ok := parseDigitPrefix(token); ok && value > minBareAmount && value < maxBareAmount {
			return value, true
		}
	}
	return 0, false
}

func isVolumeKeyword(token string) bool {
	lower := strings.ToLower(token)
	for _, keyword := range volumeKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func parseDigitPrefix(token string) (uint64, bool) {
	end := 0
	for end < len(token) && token[end] >= '0' && token[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	value, err := strconv.ParseUint(token[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// HealthScore is a bounded heuristic in [0,100]. Each log term is capped at
// 10 before weighting.
func HealthScore(liquidity, volume, feeGrowth float64) float64 {
	term := func(v, scale float64) float64 {
		if v <= 0 || math.IsNaN(v) {
			return 0
		}
		return math.Min(10, math.Log1p(v/scale))
	}
	return 10 * (0.5*term(liquidity, 1e6) + 0.3*term(volume, 1e3) + 0.2*term(feeGrowth, 1e6))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
