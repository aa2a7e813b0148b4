package whirlpool

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/dex"
	"github.com/coldbell/orca/backend/internal/ledger"
)

func positionBytes(pool, mint solana.PublicKey, liquidity int64, lower, upper int32) []byte {
	raw := make([]byte, MinPositionAccountLen)
	copy(raw[offsetPositionPool:], pool.Bytes())
	copy(raw[offsetPositionMint:], mint.Bytes())
	putU128(raw, offsetPositionLiquidity, big.NewInt(liquidity))
	binary.LittleEndian.PutUint32(raw[offsetPositionTickLower:], uint32(lower))
	binary.LittleEndian.PutUint32(raw[offsetPositionTickUpper:], uint32(upper))
	return raw
}

func metadataBytes(name, symbol string) []byte {
	raw := make([]byte, 200)
	copy(raw[69:109], name)
	copy(raw[109:119], symbol)
	return raw
}

// mintBytes lays out an SPL mint with both authorities set.
func mintBytes(supply uint64, decimals uint8) []byte {
	raw := make([]byte, 82)
	binary.LittleEndian.PutUint32(raw[0:], 1)
	copy(raw[4:36], solana.NewWallet().PublicKey().Bytes())
	binary.LittleEndian.PutUint64(raw[36:], supply)
	raw[44] = decimals
	raw[45] = 1
	binary.LittleEndian.PutUint32(raw[46:], 1)
	copy(raw[50:82], solana.NewWallet().PublicKey().Bytes())
	return raw
}

func TestDecodePosition(t *testing.T) {
	pool, mint := newKey(), newKey()
	state, err := DecodePosition(newKey(), positionBytes(pool, mint, 5000, -64, 128))
	require.NoError(t, err)
	assert.Equal(t, pool, state.Pool)
	assert.Equal(t, mint, state.Mint)
	assert.Equal(t, int64(5000), state.Liquidity.Int64())
	assert.Equal(t, int32(-64), state.TickLower)
	assert.Equal(t, int32(128), state.TickUpper)

	_, err = DecodePosition(newKey(), make([]byte, MinPositionAccountLen-1))
	require.ErrorIs(t, err, ErrTooShort)
}

func TestPositionAmounts(t *testing.T) {
	sqrtOne := new(big.Int).Lsh(big.NewInt(1), 64)
	liquidity := big.NewInt(1_000_000)

	a, b := PositionAmounts(liquidity, sqrtOne, -100, 100)
	assert.Positive(t, a)
	assert.Positive(t, b)
	assert.InDelta(t, float64(a), float64(b), 1)

	a, b = PositionAmounts(liquidity, sqrtOne, 100, 200)
	assert.Positive(t, a)
	assert.Zero(t, b)

	a, b = PositionAmounts(liquidity, sqrtOne, -200, -100)
	assert.Zero(t, a)
	assert.Positive(t, b)

	a, b = PositionAmounts(liquidity, sqrtOne, 10, 10)
	assert.Zero(t, a+b)
}

func TestGetLiquidityPositionsRunsClassifierChain(t *testing.T) {
	l := newFakeLedger()
	program := config.DefaultWhirlpoolProgramID
	pool := newPoolFixture()
	l.addPool(pool)
	client := newTestClient(t, l)
	poolState := decodeFixture(t, pool)
	owner := newKey()

	// named position token with a readable position account
	namedMint := newKey()
	metaPDA, _, err := dex.DeriveMetadataPDA(config.DefaultMetadataProgramID, namedMint)
	require.NoError(t, err)
	l.setAccount(metaPDA, config.DefaultMetadataProgramID, metadataBytes("Orca Whirlpool Position", "OWP"))
	namedPDA, _, err := dex.DerivePositionPDA(program, namedMint)
	require.NoError(t, err)
	l.setAccount(namedPDA, program, positionBytes(pool.address, namedMint, 1_000_000, -100, 100))

	// decimals plus verified position account
	decimalsMint := newKey()
	l.setAccount(decimalsMint, solana.TokenProgramID, mintBytes(1, 6))
	decimalsPDA, _, err := dex.DerivePositionPDA(program, decimalsMint)
	require.NoError(t, err)
	l.setAccount(decimalsPDA, program, positionBytes(pool.address, decimalsMint, 0, 0, 64))

	// pool lp mint
	lpMint := poolState.LPMint

	// plain token
	plainMint := newKey()
	l.setAccount(plainMint, solana.TokenProgramID, mintBytes(1_000, 0))

	l.tokenAccounts[owner] = []ledger.TokenAccount{
		{Pubkey: newKey(), Mint: namedMint, Owner: owner, Amount: 1},
		{Pubkey: newKey(), Mint: plainMint, Owner: owner, Amount: 10},
		{Pubkey: newKey(), Mint: decimalsMint, Owner: owner, Amount: 1},
		{Pubkey: newKey(), Mint: lpMint, Owner: owner, Amount: 7},
		{Pubkey: newKey(), Mint: newKey(), Owner: owner, Amount: 0},
	}

	positions, err := client.GetLiquidityPositions(t.Context(), owner)
	require.NoError(t, err)
	require.Len(t, positions, 3)

	named := positions[0]
	assert.Equal(t, namedMint, named.PositionMint)
	assert.Equal(t, pool.address, named.Pool)
	assert.Equal(t, int32(-100), named.LowerTick)
	assert.Equal(t, int32(100), named.UpperTick)
	assert.Positive(t, named.TokenAAmount)
	assert.Positive(t, named.TokenBAmount)

	assert.Equal(t, decimalsMint, positions[1].PositionMint)
	assert.Equal(t, lpMint, positions[2].PositionMint)
	assert.Equal(t, uint64(7), positions[2].LPTokenAmount)
	assert.True(t, positions[2].Pool.IsZero())
}

func TestGetTokenMetadataDefaults(t *testing.T) {
	l := newFakeLedger()
	client := newTestClient(t, l)
	mint := newKey()

	meta, err := client.GetTokenMetadata(t.Context(), mint)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", meta.Name)
	assert.Equal(t, "UNK", meta.Symbol)

	pda, _, err := dex.DeriveMetadataPDA(config.DefaultMetadataProgramID, mint)
	require.NoError(t, err)
	l.setAccount(pda, config.DefaultMetadataProgramID, metadataBytes("Wrapped SOL", "SOL"))
	meta, err = client.GetTokenMetadata(t.Context(), mint)
	require.NoError(t, err)
	assert.Equal(t, "Wrapped SOL", meta.Name)
	assert.Equal(t, "SOL", meta.Symbol)

	l.setAccount(pda, config.DefaultMetadataProgramID, make([]byte, 120))
	meta, err = client.GetTokenMetadata(t.Context(), mint)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", meta.Name)
}

func TestTokenBalancesAndSupply(t *testing.T) {
	l := newFakeLedger()
	client := newTestClient(t, l)
	owner, mintA, mintB := newKey(), newKey(), newKey()
	l.tokenAccounts[owner] = []ledger.TokenAccount{
		{Pubkey: newKey(), Mint: mintA, Owner: owner, Amount: 50},
		{Pubkey: newKey(), Mint: mintA, Owner: owner, Amount: 70},
		{Pubkey: newKey(), Mint: mintB, Owner: owner, Amount: 0},
	}

	balance, err := client.GetTokenBalance(t.Context(), owner, mintA)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), balance)

	balance, err = client.GetTokenBalance(t.Context(), owner, newKey())
	require.NoError(t, err)
	assert.Zero(t, balance)

	all, err := client.GetAllTokenBalances(t.Context(), owner)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	l.setAccount(mintA, solana.TokenProgramID, mintBytes(123_456, 9))
	supply, err := client.GetTokenSupply(t.Context(), mintA)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456), supply.Supply)
	assert.Equal(t, uint8(9), supply.Decimals)

	_, err = client.GetTokenSupply(t.Context(), newKey())
	require.ErrorIs(t, err, ErrNotFound)
}
