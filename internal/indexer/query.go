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
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type PoolFilter struct {
	Mint   string
	Limit  int
	Offset int
}

type PoolRecord struct {
	Address        string  `json:"address"`
	ProgramID      string  `json:"program_id"`
	MintA          string  `json:"mint_a"`
	MintB          string  `json:"mint_b"`
	VaultA         string  `json:"vault_a"`
	VaultB         string  `json:"vault_b"`
	LPMint         string  `json:"lp_mint"`
	FeeAccount     string  `json:"fee_account"`
	FeeNumerator   uint64  `json:"fee_numerator"`
	FeeDenominator uint64  `json:"fee_denominator"`
	TickSpacing    uint16  `json:"tick_spacing"`
	Liquidity      string  `json:"liquidity"`
	SqrtPrice      string  `json:"sqrt_price"`
	Price          float64 `json:"price"`
	Slot           uint64  `json:"slot"`
	UpdatedAt      int64   `json:"updated_at"`
}

type PriceChangeFilter struct {
	Pool   string
	Limit  int
	Offset int
}

type PriceChangeRecord struct {
	ID            string  `json:"id"`
	Pool          string  `json:"pool"`
	MonitorID     string  `json:"monitor_id"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price"`
	ChangePercent float64 `json:"change_percent"`
	TS            int64   `json:"ts"`
}

type HealthSnapshotRecord struct {
	Pool        string  `json:"pool"`
	Liquidity   float64 `json:"liquidity"`
	Volume24h   uint64  `json:"volume_24h"`
	FeeGrowth   float64 `json:"fee_growth"`
	HealthScore float64 `json:"health_score"`
	TS          int64   `json:"ts"`
}

// newPoolRecord flattens a decoded pool into its stored form.
func newPoolRecord(pool *whirlpool.PoolState, price float64, slot uint64, updatedAt int64) PoolRecord {
	return PoolRecord{
		Address:        pool.Address.String(),
		ProgramID:      pool.ProgramID.String(),
		MintA:          pool.MintA.String(),
		MintB:          pool.MintB.String(),
		VaultA:         pool.VaultA.String(),
		VaultB:         pool.VaultB.String(),
		LPMint:         pool.LPMint.String(),
		FeeAccount:     pool.FeeAccount.String(),
		FeeNumerator:   pool.FeeNumerator,
		FeeDenominator: pool.FeeDenominator,
		TickSpacing:    pool.TickSpacing,
		Liquidity:      pool.Liquidity.String(),
		SqrtPrice:      pool.SqrtPrice.String(),
		Price:          price,
		Slot:           slot,
		UpdatedAt:      updatedAt,
	}
}

// UpsertPool stores the latest decoded state of a pool along with its price.
// Older slots never overwrite newer ones.
func (s *Store) UpsertPool(ctx context.Context, pool *whirlpool.PoolState, price float64, slot uint64) error {
	record := newPoolRecord(pool, price, slot, time.Now().Unix())
	_, err := s.db.ExecContext(
		ctx,
		`
		INSERT INTO pools (
			address, program_id, mint_a, mint_b, vault_a, vault_b, lp_mint, fee_account,
			fee_numerator, fee_denominator, tick_spacing, liquidity, sqrt_price,
			price, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			mint_a = EXCLUDED.mint_a,
			mint_b = EXCLUDED.mint_b,
			vault_a = EXCLUDED.vault_a,
			vault_b = EXCLUDED.vault_b,
			lp_mint = EXCLUDED.lp_mint,
			fee_account = EXCLUDED.fee_account,
			fee_numerator = EXCLUDED.fee_numerator,
			fee_denominator = EXCLUDED.fee_denominator,
			tick_spacing = EXCLUDED.tick_spacing,
			liquidity = EXCLUDED.liquidity,
			sqrt_price = EXCLUDED.sqrt_price,
			price = EXCLUDED.price,
			slot = EXCLUDED.slot,
			updated_at = EXCLUDED.updated_at
		WHERE pools.slot <= EXCLUDED.slot
		`,
		record.Address,
		record.ProgramID,
		record.MintA,
		record.MintB,
		record.VaultA,
		record.VaultB,
		record.LPMint,
		record.FeeAccount,
		int64(record.FeeNumerator),
		int64(record.FeeDenominator),
		int(record.TickSpacing),
		record.Liquidity,
		record.SqrtPrice,
		record.Price,
		int64(record.Slot),
		record.UpdatedAt,
	)
	return err
}

func (s *Store) GetPool(ctx context.Context, address string) (PoolRecord, error) {
	items, err := s.queryPools(ctx, "address = ?", []any{strings.TrimSpace(address)}, 1, 0)
	if err != nil {
		return PoolRecord{}, err
	}
	if len(items) == 0 {
		return PoolRecord{}, ErrNotFound
	}
	return items[0], nil
}

func (s *Store) ListPools(ctx context.Context, filter PoolFilter) ([]PoolRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clause := "1 = 1"
	var args []any
	if mint := strings.TrimSpace(filter.Mint); mint != "" {
		clause = "(mint_a = ? OR mint_b = ?)"
		args = append(args, mint, mint)
	}
	items, err := s.queryPools(ctx, clause, args, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}

func (s *Store) queryPools(ctx context.Context, where string, args []any, limit, offset int) ([]PoolRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			address,
			program_id,
			mint_a,
			mint_b,
			vault_a,
			vault_b,
			lp_mint,
			fee_account,
			fee_numerator,
			fee_denominator,
			tick_spacing,
			liquidity,
			sqrt_price,
			price,
			slot,
			updated_at
		FROM pools
		WHERE %s
		ORDER BY updated_at DESC, address ASC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]PoolRecord, 0, limit)
	for rows.Next() {
		var item PoolRecord
		var feeNumerator, feeDenominator, slot int64
		var tickSpacing int
		if err := rows.Scan(
			&item.Address,
			&item.ProgramID,
			&item.MintA,
			&item.MintB,
			&item.VaultA,
			&item.VaultB,
			&item.LPMint,
			&item.FeeAccount,
			&feeNumerator,
			&feeDenominator,
			&tickSpacing,
			&item.Liquidity,
			&item.SqrtPrice,
			&item.Price,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.FeeNumerator = uint64(feeNumerator)
		item.FeeDenominator = uint64(feeDenominator)
		item.TickSpacing = uint16(tickSpacing)
		item.Slot = uint64(slot)
		item.Price = round9(item.Price)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertPriceChange(ctx context.Context, eventID string, update whirlpool.PriceUpdate) error {
	_, err := s.db.ExecContext(
		ctx,
		`
		INSERT INTO price_change_events (
			id, pool, monitor_id, old_price, new_price, change_percent, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
		`,
		eventID,
		update.Pool.String(),
		update.MonitorID,
		update.OldPrice,
		update.NewPrice,
		update.ChangePercent,
		update.Timestamp.Unix(),
	)
	return err
}

func (s *Store) ListPriceChanges(ctx context.Context, filter PriceChangeFilter) ([]PriceChangeRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 3)
	if pool := strings.TrimSpace(filter.Pool); pool != "" {
		clauses = append(clauses, "pool = ?")
		args = append(args, pool)
	}

	query := fmt.Sprintf(`
		SELECT id, pool, monitor_id, old_price, new_price, change_percent, ts
		FROM price_change_events
		WHERE %s
		ORDER BY ts DESC, id ASC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PriceChangeRecord, 0, limit)
	for rows.Next() {
		var item PriceChangeRecord
		if err := rows.Scan(
			&item.ID,
			&item.Pool,
			&item.MonitorID,
			&item.OldPrice,
			&item.NewPrice,
			&item.ChangePercent,
			&item.TS,
		); err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}

func (s *Store) InsertHealthSnapshot(ctx context.Context, health whirlpool.PoolHealth, ts int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`
		INSERT INTO pool_health_snapshots (
			pool, liquidity, volume_24h, fee_growth, health_score, ts
		) VALUES (?, ?, ?, ?, ?, ?)
		`,
		health.Pool.String(),
		health.Liquidity,
		int64(health.Volume24h),
		health.FeeGrowth,
		round2(health.HealthScore),
		ts,
	)
	return err
}

func (s *Store) GetLatestHealthSnapshot(ctx context.Context, pool string) (HealthSnapshotRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`
		SELECT pool, liquidity, volume_24h, fee_growth, health_score, ts
		FROM pool_health_snapshots
		WHERE pool = ?
		ORDER BY ts DESC, id DESC
		LIMIT 1
		`,
		strings.TrimSpace(pool),
	)

	var item HealthSnapshotRecord
	var volume int64
	if err := row.Scan(&item.Pool, &item.Liquidity, &volume, &item.FeeGrowth, &item.HealthScore, &item.TS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HealthSnapshotRecord{}, ErrNotFound
		}
		return HealthSnapshotRecord{}, err
	}
	item.Volume24h = uint64(volume)
	return item, nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
