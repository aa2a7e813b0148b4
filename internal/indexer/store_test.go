package indexer

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	cases := map[string]string{
		"SELECT 1": "SELECT 1",
		"SELECT * FROM pools WHERE a = ? AND b = ?":  "SELECT * FROM pools WHERE a = $1 AND b = $2",
		"SELECT '?' FROM t WHERE x = ?":              "SELECT '?' FROM t WHERE x = $1",
		"SELECT 'it''s ?' FROM t WHERE x = ? OR y=?": "SELECT 'it''s ?' FROM t WHERE x = $1 OR y=$2",
		`SELECT "odd?col" FROM t WHERE x = ?`:        `SELECT "odd?col" FROM t WHERE x = $1`,
		"SELECT 1 -- why?\nWHERE x = ?":              "SELECT 1 -- why?\nWHERE x = $1",
	}
	for in, want := range cases {
		assert.Equal(t, want, rebindPostgresPlaceholders(in), in)
	}
}

func TestNormalizePagination(t *testing.T) {
	limit, offset := normalizePagination(0, -5)
	assert.Equal(t, defaultPageLimit, limit)
	assert.Equal(t, 0, offset)

	limit, offset = normalizePagination(maxPageLimit+1, 10)
	assert.Equal(t, maxPageLimit, limit)
	assert.Equal(t, 10, offset)
}

func TestReverseCandles(t *testing.T) {
	candles := []CandleRecord{{TS: 3}, {TS: 2}, {TS: 1}}
	reverseCandles(candles)
	assert.Equal(t, []CandleRecord{{TS: 1}, {TS: 2}, {TS: 3}}, candles)

	reverseCandles(nil)
}

func TestRounding(t *testing.T) {
	assert.Equal(t, 1.23, round2(1.2345))
	assert.Equal(t, 0.000000123, round9(0.0000001234))
}

func TestNewPoolRecordKeepsDerivedAccounts(t *testing.T) {
	pool := &whirlpool.PoolState{
		ProgramID:      solana.NewWallet().PublicKey(),
		Address:        solana.NewWallet().PublicKey(),
		MintA:          solana.NewWallet().PublicKey(),
		MintB:          solana.NewWallet().PublicKey(),
		VaultA:         solana.NewWallet().PublicKey(),
		VaultB:         solana.NewWallet().PublicKey(),
		LPMint:         solana.NewWallet().PublicKey(),
		FeeAccount:     solana.NewWallet().PublicKey(),
		FeeNumerator:   3_000,
		FeeDenominator: 1_000_000,
		TickSpacing:    64,
		Liquidity:      big.NewInt(1_000_000),
		SqrtPrice:      new(big.Int).Lsh(big.NewInt(1), 64),
	}

	record := newPoolRecord(pool, 1.5, 99, 1_700_000_000)
	assert.Equal(t, pool.FeeAccount.String(), record.FeeAccount)
	assert.Equal(t, pool.LPMint.String(), record.LPMint)
	assert.Equal(t, "18446744073709551616", record.SqrtPrice)
	assert.Equal(t, uint16(64), record.TickSpacing)
	assert.Equal(t, uint64(99), record.Slot)
	assert.Equal(t, int64(1_700_000_000), record.UpdatedAt)
}
