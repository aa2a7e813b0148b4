package whirlpool

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
)

const (
	MaxTimeframeMinutes = 1440
	MaxKlineLimit       = 500
	// historyPerCandle is how many transactions are replayed per requested candle.
	historyPerCandle = 5
)

// Kline volume counts price points in the bucket, not traded token amounts.
type Kline struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    uint64  `json:"volume"`
}

// BuildCandles buckets points into timeframeMinutes-wide candles. Points are
// sorted first so input order never matters. At most limit candles are
// returned.
func BuildCandles(points []PriceDataPoint, timeframeMinutes int, limit int) []Kline {
	if limit <= 0 || timeframeMinutes <= 0 || len(points) == 0 {
		return nil
	}
	sorted := slices.Clone(points)
	sortPoints(sorted)

	width := int64(timeframeMinutes) * 60
	candles := make([]Kline, 0, min(limit, len(sorted)))
	var current *Kline

	for _, point := range sorted {
		bucket := floorDiv(point.Timestamp, width) * width
		if current != nil && current.Timestamp != bucket {
			candles = append(candles, *current)
			current = nil
			if len(candles) >= limit {
				return candles
			}
		}
		if current == nil {
			current = &Kline{
				Timestamp: bucket,
				Open:      point.Price,
				High:      point.Price,
				Low:       point.Price,
				Close:     point.Price,
			}
		}
		current.High = max(current.High, point.Price)
		current.Low = min(current.Low, point.Price)
		current.Close = point.Price
		current.Volume++
	}
	if current != nil && len(candles) < limit {
		candles = append(candles, *current)
	}
	return candles
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ValidateKlineRequest(timeframeMinutes, limit int) error {
	if timeframeMinutes < 1 || timeframeMinutes > MaxTimeframeMinutes {
		return fmt.Errorf("%w: timeframe must be within [1,%d] minutes, got %d", ErrValidation, MaxTimeframeMinutes, timeframeMinutes)
	}
	if limit < 0 || limit > MaxKlineLimit {
		return fmt.Errorf("%w: limit must be within [0,%d], got %d", ErrValidation, MaxKlineLimit, limit)
	}
	return nil
}

// Candles replays limit*5 transactions and buckets them.
func (c *Client) Candles(ctx context.Context, pool solana.PublicKey, timeframeMinutes, limit int) ([]Kline, error) {
	if err := ValidateKlineRequest(timeframeMinutes, limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return nil, nil
	}
	points, err := c.PriceHistory(ctx, pool, limit*historyPerCandle)
	if err != nil {
		return nil, err
	}
	return BuildCandles(points, timeframeMinutes, limit), nil
}

// GetKlineData is Candles with bounded exponential-backoff retry. Arguments
// are validated before any fetch and validation failures are not retried.
func (c *Client) GetKlineData(ctx context.Context, pool solana.PublicKey, timeframeMinutes, limit int) ([]Kline, error) {
	if err := ValidateKlineRequest(timeframeMinutes, limit); err != nil {
		return nil, err
	}

	var candles []Kline
	err := retry.Do(
		func() error {
			out, err := c.Candles(ctx, pool, timeframeMinutes, limit)
			if err != nil {
				if errors.Is(err, ErrValidation) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			candles = out
			return nil
		},
		retry.Attempts(uint(max(c.cfg.KlineMaxRetries, 0))+1),
		retry.Delay(c.cfg.KlineRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("kline fetch failed, retrying", "pool", pool, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		c.logger.Info("kline fetch returned no candles", "pool", pool, "timeframe_minutes", timeframeMinutes, "limit", limit)
	}
	return candles, nil
}
