package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

const (
	tickSourcePoll   = "poll"
	tickSourceStream = "stream"
)

type PoolPriceTickInput struct {
	Pool       string
	Source     string
	Slot       uint64
	TS         int64
	Price      float64
	Liquidity  float64
	ReceivedAt int64
}

type PoolPriceRecord struct {
	Pool       string  `json:"pool"`
	Source     string  `json:"source"`
	Slot       int64   `json:"slot"`
	TS         int64   `json:"ts"`
	Price      float64 `json:"price"`
	Liquidity  float64 `json:"liquidity"`
	ReceivedAt int64   `json:"received_at"`
}

type CandleRecord struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// InsertPoolPriceTick stores one observed price. Duplicate observations of
// the same slot are ignored and reported as false.
func (s *Store) InsertPoolPriceTick(ctx context.Context, input PoolPriceTickInput) (bool, error) {
	pool := strings.TrimSpace(input.Pool)
	if pool == "" {
		return false, fmt.Errorf("pool is required")
	}
	if input.Price <= 0 {
		return false, fmt.Errorf("price must be > 0")
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = tickSourcePoll
	}
	now := time.Now().Unix()
	ts := input.TS
	if ts <= 0 {
		ts = now
	}
	receivedAt := input.ReceivedAt
	if receivedAt <= 0 {
		receivedAt = now
	}

	result, err := s.db.ExecContext(
		ctx,
		`
		INSERT INTO pool_price_ticks (
			pool, source, slot, ts, price, liquidity, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pool, source, ts, slot) DO NOTHING
		`,
		pool,
		source,
		int64(input.Slot),
		ts,
		input.Price,
		input.Liquidity,
		receivedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil
	}
	return affected > 0, nil
}

func (s *Store) GetLatestPoolPrice(ctx context.Context, pool string) (PoolPriceRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`
		SELECT pool, source, slot, ts, price, liquidity, received_at
		FROM pool_price_ticks
		WHERE pool = ?
		ORDER BY ts DESC, slot DESC, id DESC
		LIMIT 1
		`,
		strings.TrimSpace(pool),
	)

	var item PoolPriceRecord
	if err := row.Scan(
		&item.Pool,
		&item.Source,
		&item.Slot,
		&item.TS,
		&item.Price,
		&item.Liquidity,
		&item.ReceivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PoolPriceRecord{}, ErrNotFound
		}
		return PoolPriceRecord{}, err
	}
	item.Price = round9(item.Price)
	return item, nil
}

// GetPoolCandles aggregates stored ticks into candles. Volume counts ticks,
// matching the live kline builder.
func (s *Store) GetPoolCandles(ctx context.Context, pool string, intervalSec int64, limit int) ([]CandleRecord, error) {
	if intervalSec <= 0 {
		intervalSec = 60
	}
	if limit <= 0 {
		limit = 120
	}
	if limit > 2000 {
		limit = 2000
	}

	lookbackBuckets := int64(limit * 8)
	if lookbackBuckets < 240 {
		lookbackBuckets = 240
	}
	fromUnix := time.Now().Unix() - (lookbackBuckets * intervalSec)

	rows, err := s.db.QueryContext(
		ctx,
		`
		WITH bucketed AS (
			SELECT
				(ts / ?) * ? AS bucket_ts,
				price,
				ROW_NUMBER() OVER (
					PARTITION BY (ts / ?) * ?
					ORDER BY ts ASC, slot ASC, id ASC
				) AS rn_open,
				ROW_NUMBER() OVER (
					PARTITION BY (ts / ?) * ?
					ORDER BY ts DESC, slot DESC, id DESC
				) AS rn_close
			FROM pool_price_ticks
			WHERE pool = ?
			  AND ts >= ?
		),
		aggregated AS (
			SELECT
				bucket_ts,
				MAX(CASE WHEN rn_open = 1 THEN price END) AS open,
				MAX(price) AS high,
				MIN(price) AS low,
				MAX(CASE WHEN rn_close = 1 THEN price END) AS close,
				COUNT(*)::DOUBLE PRECISION AS volume
			FROM bucketed
			GROUP BY bucket_ts
		)
		SELECT bucket_ts, open, high, low, close, volume
		FROM aggregated
		ORDER BY bucket_ts DESC
		LIMIT ?
		`,
		intervalSec,
		intervalSec,
		intervalSec,
		intervalSec,
		intervalSec,
		intervalSec,
		strings.TrimSpace(pool),
		fromUnix,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candles := make([]CandleRecord, 0, limit)
	for rows.Next() {
		var item CandleRecord
		if err := rows.Scan(
			&item.TS,
			&item.Open,
			&item.High,
			&item.Low,
			&item.Close,
			&item.Volume,
		); err != nil {
			return nil, err
		}
		item.Open = round9(item.Open)
		item.High = round9(item.High)
		item.Low = round9(item.Low)
		item.Close = round9(item.Close)
		candles = append(candles, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverseCandles(candles)
	return candles, nil
}

// Query is DESC for efficient LIMIT; chart consumers want ASC.
func reverseCandles(candles []CandleRecord) {
	for left, right := 0, len(candles)-1; left < right; left, right = left+1, right-1 {
		candles[left], candles[right] = candles[right], candles[left]
	}
}

// UpsertBackfilledCandles replaces stored candles for the buckets in klines.
func (s *Store) UpsertBackfilledCandles(ctx context.Context, pool string, timeframeMinutes int, klines []whirlpool.Kline) error {
	if len(klines) == 0 {
		return nil
	}
	now := time.Now().Unix()
	return s.WithTx(ctx, func(tx *Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pool_candles (
				pool, timeframe_minutes, ts, open, high, low, close, volume, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (pool, timeframe_minutes, ts) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, k := range klines {
			if _, err := stmt.ExecContext(
				ctx,
				pool,
				timeframeMinutes,
				k.Timestamp,
				k.Open,
				k.High,
				k.Low,
				k.Close,
				int64(k.Volume),
				now,
			); err != nil {
				return fmt.Errorf("upsert candle %d: %w", k.Timestamp, err)
			}
		}
		return nil
	})
}

func (s *Store) ListBackfilledCandles(ctx context.Context, pool string, timeframeMinutes int, limit int) ([]CandleRecord, error) {
	if limit <= 0 || limit > 2000 {
		limit = 120
	}
	rows, err := s.db.QueryContext(
		ctx,
		`
		SELECT ts, open, high, low, close, volume
		FROM pool_candles
		WHERE pool = ? AND timeframe_minutes = ?
		ORDER BY ts DESC
		LIMIT ?
		`,
		strings.TrimSpace(pool),
		timeframeMinutes,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candles := make([]CandleRecord, 0, limit)
	for rows.Next() {
		var item CandleRecord
		var volume int64
		if err := rows.Scan(&item.TS, &item.Open, &item.High, &item.Low, &item.Close, &volume); err != nil {
			return nil, err
		}
		item.Volume = float64(volume)
		candles = append(candles, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseCandles(candles)
	return candles, nil
}
