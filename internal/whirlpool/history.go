package whirlpool

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/coldbell/orca/backend/internal/ledger"
)

var (
	ammProgramNameHints = []string{"swap", "orca", "token", "amm"}
	amountFieldHints    = []string{"amount", "token", "quantity", "value", "source", "destination"}
)

type PriceDataPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
}

// PriceHistory replays up to limit recent transactions of pool and returns
// the points a price could be extracted from, oldest first. Every point is
// stamped with the pool's current liquidity.
func (c *Client) PriceHistory(ctx context.Context, pool solana.PublicKey, limit int) ([]PriceDataPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	state, err := c.GetPoolState(ctx, pool)
	if err != nil {
		return nil, err
	}
	liquidity := bigToFloat(state.Liquidity)

	sigs, err := c.ledger.GetSignaturesForAddress(ctx, pool, limit)
	if err != nil {
		return nil, classifyLedgerError("signatures for "+pool.String(), err)
	}
	if len(sigs) > limit {
		sigs = sigs[:limit]
	}

	points := make([]PriceDataPoint, 0, len(sigs))
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx, err := c.ledger.GetTransaction(ctx, sig.Signature)
		if err != nil {
			c.logger.Debug("skip history transaction", "signature", sig.Signature.String(), "err", err)
			continue
		}
		blockTime := tx.BlockTime
		if blockTime == nil {
			blockTime = sig.BlockTime
		}
		if blockTime == nil {
			continue
		}
		price, ok := ExtractPrice(tx, c.ammPrograms)
		if !ok {
			continue
		}
		points = append(points, PriceDataPoint{Timestamp: *blockTime, Price: price, Liquidity: liquidity})
	}

	sortPoints(points)
	return points, nil
}

// ExtractPrice derives an implied price from one transaction. Instructions
// are visited in order and the first usable one wins.
func ExtractPrice(tx *ledger.Transaction, ammPrograms map[string]struct{}) (float64, bool) {
	if tx == nil {
		return 0, false
	}
	for _, ix := range tx.Instructions {
		if ix.IsParsed() {
			if price, ok := priceFromParsed(ix); ok {
				return price, true
			}
			continue
		}
		if price, ok := priceFromCompiled(ix, ammPrograms); ok {
			return price, true
		}
	}
	return 0, false
}

func priceFromParsed(ix ledger.Instruction) (float64, bool) {
	if !containsAny(strings.ToLower(ix.Program), ammProgramNameHints) {
		return 0, false
	}
	fields := ix.Parsed
	if info, ok := ix.Parsed["info"].(map[string]any); ok {
		fields = info
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var amounts []float64
	for _, key := range keys {
		if !containsAny(strings.ToLower(key), amountFieldHints) {
			continue
		}
		if value, ok := numericField(fields[key]); ok {
			amounts = append(amounts, value)
		}
	}
	if len(amounts) < 2 || amounts[0] <= 0 {
		return 0, false
	}
	return amounts[1] / amounts[0], true
}

func priceFromCompiled(ix ledger.Instruction, ammPrograms map[string]struct{}) (float64, bool) {
	if _, ok := ammPrograms[ix.ProgramID]; !ok {
		return 0, false
	}
	data, err := decodeInstructionData(ix.Data)
	if err != nil {
		return 0, false
	}
	in, out, err := DecodeSwapAmounts(data)
	if err != nil || in == 0 || out == 0 {
		return 0, false
	}
	return float64(out) / float64(in), true
}

// decodeInstructionData accepts base64 first and falls back to base58, the
// encoding jsonParsed uses for compiled instructions.
func decodeInstructionData(raw string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	data, err := base58.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction data is neither base64 nor base58", ErrDecode)
	}
	return data, nil
}

func numericField(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func sortPoints(points []PriceDataPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Timestamp != points[j].Timestamp {
			return points[i].Timestamp < points[j].Timestamp
		}
		return points[i].Price < points[j].Price
	})
}

// MovingAverage fetches the latest period points of pool and averages them.
func (c *Client) MovingAverage(ctx context.Context, pool solana.PublicKey, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period must be positive", ErrValidation)
	}
	points, err := c.PriceHistory(ctx, pool, period)
	if err != nil {
		return 0, err
	}
	return MovingAverageOf(points, period)
}

// MovingAverageOf averages the price of the latest period points.
func MovingAverageOf(points []PriceDataPoint, period int) (float64, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: no price points", ErrNotFound)
	}
	if period <= 0 || period > len(points) {
		period = len(points)
	}
	var sum float64
	for _, point := range points[len(points)-period:] {
		sum += point.Price
	}
	return sum / float64(period), nil
}
