package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *DB
}

// execer is the query surface shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// rebinder lets queries be written with ? placeholders and rewrites them to
// $n before they reach pgx.
type rebinder struct {
	conn execer
}

func (r rebinder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.conn.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.conn.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (r rebinder) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.conn.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (r rebinder) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return r.conn.PrepareContext(ctx, rebindPostgresPlaceholders(query))
}

type DB struct {
	rebinder
	raw *sql.DB
}

func newDB(raw *sql.DB) *DB {
	return &DB{rebinder: rebinder{conn: raw}, raw: raw}
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	raw, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{rebinder: rebinder{conn: raw}, raw: raw}, nil
}

func (db *DB) Close() error { return db.raw.Close() }

type Tx struct {
	rebinder
	raw *sql.Tx
}

func (tx *Tx) Commit() error   { return tx.raw.Commit() }
func (tx *Tx) Rollback() error { return tx.raw.Rollback() }

// rebindPostgresPlaceholders numbers each ? outside string literals, quoted
// identifiers and line comments.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			// A doubled quote character is an escape and keeps us inside.
			if ch == quote && !(i+1 < len(query) && query[i+1] == quote) {
				quote = 0
			} else if ch == quote {
				out.WriteByte(ch)
				i++
				ch = query[i]
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			out.WriteString(query[i : i+end])
			i += end - 1
			continue
		case ch == '?':
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: newDB(db)}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one transaction, committing only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			last_slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pools (
			address TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			mint_a TEXT NOT NULL,
			mint_b TEXT NOT NULL,
			vault_a TEXT NOT NULL,
			vault_b TEXT NOT NULL,
			lp_mint TEXT NOT NULL,
			fee_account TEXT NOT NULL DEFAULT '',
			fee_numerator BIGINT NOT NULL,
			fee_denominator BIGINT NOT NULL,
			tick_spacing INTEGER NOT NULL,
			liquidity TEXT NOT NULL,
			sqrt_price TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`ALTER TABLE pools ADD COLUMN IF NOT EXISTS fee_account TEXT NOT NULL DEFAULT '';`,
		`CREATE INDEX IF NOT EXISTS idx_pools_mint_a ON pools(mint_a);`,
		`CREATE INDEX IF NOT EXISTS idx_pools_mint_b ON pools(mint_b);`,
		`CREATE TABLE IF NOT EXISTS pool_price_ticks (
			id BIGSERIAL PRIMARY KEY,
			pool TEXT NOT NULL,
			source TEXT NOT NULL,
			slot BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			liquidity DOUBLE PRECISION NOT NULL,
			received_at BIGINT NOT NULL,
			UNIQUE (pool, source, ts, slot)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pool_price_ticks_pool_ts ON pool_price_ticks(pool, ts DESC);`,
		`CREATE TABLE IF NOT EXISTS price_change_events (
			id TEXT PRIMARY KEY,
			pool TEXT NOT NULL,
			monitor_id TEXT NOT NULL,
			old_price DOUBLE PRECISION NOT NULL,
			new_price DOUBLE PRECISION NOT NULL,
			change_percent DOUBLE PRECISION NOT NULL,
			ts BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_change_events_pool_ts ON price_change_events(pool, ts DESC);`,
		`CREATE TABLE IF NOT EXISTS pool_candles (
			pool TEXT NOT NULL,
			timeframe_minutes INTEGER NOT NULL,
			ts BIGINT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (pool, timeframe_minutes, ts)
		);`,
		`CREATE TABLE IF NOT EXISTS pool_health_snapshots (
			id BIGSERIAL PRIMARY KEY,
			pool TEXT NOT NULL,
			liquidity DOUBLE PRECISION NOT NULL,
			volume_24h BIGINT NOT NULL,
			fee_growth DOUBLE PRECISION NOT NULL,
			health_score DOUBLE PRECISION NOT NULL,
			ts BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pool_health_snapshots_pool_ts ON pool_health_snapshots(pool, ts DESC);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) SetLastSlot(ctx context.Context, slot uint64) error {
	_, err := s.db.ExecContext(
		ctx,
		`
		INSERT INTO sync_state (id, last_slot, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_slot = EXCLUDED.last_slot, updated_at = EXCLUDED.updated_at
		`,
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) LastSlot(ctx context.Context) (uint64, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx, `SELECT last_slot FROM sync_state WHERE id = 1`).Scan(&slot)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Pool prices span many orders of magnitude, so they keep more precision
// than the two decimals used for display values.
func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
