package whirlpool

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/dex"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
)

func programOf(tx *solana.Transaction, i int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func TestSwapCreatesMissingAccountAndSubmits(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)

	owner, err := ledger.NewRandomSigner()
	require.NoError(t, err)
	inputATA, err := dex.DeriveAssociatedTokenAddress(owner.PublicKey(), fixture.mintA)
	require.NoError(t, err)
	l.setAccount(inputATA, solana.TokenProgramID, make([]byte, 165))

	result, err := client.Swap(t.Context(), owner, fixture.mintA, fixture.mintB, 100_000, 0.5)
	require.NoError(t, err)
	assert.Equal(t, fixture.address, result.Pool)
	assert.Equal(t, uint64(99_500), result.Quote.MinimumOutput)

	require.Len(t, l.submitted, 1)
	tx := l.submitted[0]
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(tx, 0))
	assert.Equal(t, client.ProgramID(), programOf(tx, 1))
	assert.Equal(t, tx.Signatures[0], result.Signature)
}

func TestSwapPrependsComputeBudget(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	cfg := testConfig()
	cfg.ComputeUnitLimit = 200_000
	cfg.ComputeUnitPriceMicroLamports = 1_000
	client, err := New(l, cfg, logging.Nop())
	require.NoError(t, err)

	owner, err := ledger.NewRandomSigner()
	require.NoError(t, err)
	for _, mint := range []solana.PublicKey{fixture.mintA, fixture.mintB} {
		ata, err := dex.DeriveAssociatedTokenAddress(owner.PublicKey(), mint)
		require.NoError(t, err)
		l.setAccount(ata, solana.TokenProgramID, make([]byte, 165))
	}

	_, err = client.Swap(t.Context(), owner, fixture.mintB, fixture.mintA, 10, 1)
	require.NoError(t, err)
	tx := l.submitted[0]
	require.Len(t, tx.Message.Instructions, 3)
	assert.Equal(t, solana.ComputeBudget, programOf(tx, 0))
	assert.Equal(t, solana.ComputeBudget, programOf(tx, 1))
}

func TestSwapValidatesAndMapsSubmissionErrors(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)
	owner, err := ledger.NewRandomSigner()
	require.NoError(t, err)

	_, err = client.Swap(t.Context(), owner, fixture.mintA, fixture.mintB, 0, 1)
	require.ErrorIs(t, err, ErrValidation)
	_, err = client.Swap(t.Context(), owner, fixture.mintA, fixture.mintB, 1, 101)
	require.ErrorIs(t, err, ErrValidation)

	l.submitErr = ledger.ErrTransactionFailed
	_, err = client.Swap(t.Context(), owner, fixture.mintA, fixture.mintB, 1_000, 1)
	require.ErrorIs(t, err, ErrSubmission)
}

func TestAddAndRemoveLiquidity(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)
	owner, err := ledger.NewRandomSigner()
	require.NoError(t, err)

	_, _, err = client.AddLiquidity(t.Context(), owner, AddLiquidityRequest{Pool: fixture.address, LowerTick: 10, UpperTick: 10, TokenAmountA: 1})
	require.ErrorIs(t, err, ErrValidation)

	position, sig, err := client.AddLiquidity(t.Context(), owner, AddLiquidityRequest{
		Pool: fixture.address, LowerTick: -64, UpperTick: 64, TokenAmountA: 1_000, TokenAmountB: 2_000,
	})
	require.NoError(t, err)
	require.Len(t, l.submitted, 1)
	opened := l.submitted[0]
	assert.Equal(t, opened.Signatures[0], sig)
	require.Len(t, opened.Signatures, 2, "owner and position mint both sign")
	assert.Equal(t, position.PositionMint, opened.Message.AccountKeys[1])
	require.Len(t, opened.Message.Instructions, 4, "both token accounts are created before open and increase")
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(opened, 0))
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(opened, 1))
	assert.Equal(t, byte(OpcodeOpenPosition), opened.Message.Instructions[2].Data[0])
	assert.Equal(t, byte(OpcodeIncreaseLiquidity), opened.Message.Instructions[3].Data[0])
	assert.Equal(t, fixture.address, position.Pool)

	expectedATA, err := dex.DeriveAssociatedTokenAddress(owner.PublicKey(), position.PositionMint)
	require.NoError(t, err)
	assert.Equal(t, expectedATA, position.PositionTokenAccount)

	_, err = client.RemoveLiquidity(t.Context(), owner, *position)
	require.NoError(t, err)
	require.Len(t, l.submitted, 2)
	closed := l.submitted[1]
	require.Len(t, closed.Message.Instructions, 2)
	assert.Equal(t, byte(OpcodeDecreaseLiquidity), closed.Message.Instructions[0].Data[0])
	assert.Equal(t, byte(OpcodeClosePosition), closed.Message.Instructions[1].Data[0])

	_, err = client.RemoveLiquidity(t.Context(), owner, LiquidityPosition{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAddLiquidityCreatesOnlyMissingTokenAccounts(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)
	owner, err := ledger.NewRandomSigner()
	require.NoError(t, err)

	ataA, err := dex.DeriveAssociatedTokenAddress(owner.PublicKey(), fixture.mintA)
	require.NoError(t, err)
	l.setAccount(ataA, solana.TokenProgramID, make([]byte, 165))
	ataB, err := dex.DeriveAssociatedTokenAddress(owner.PublicKey(), fixture.mintB)
	require.NoError(t, err)

	_, _, err = client.AddLiquidity(t.Context(), owner, AddLiquidityRequest{
		Pool: fixture.address, LowerTick: -64, UpperTick: 64, TokenAmountB: 500,
	})
	require.NoError(t, err)

	require.Len(t, l.submitted, 1)
	tx := l.submitted[0]
	require.Len(t, tx.Message.Instructions, 3)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(tx, 0))
	create := tx.Message.Instructions[0]
	assert.Equal(t, ataB, tx.Message.AccountKeys[create.Accounts[1]], "only the missing mint B account is created")
	assert.Equal(t, byte(OpcodeOpenPosition), tx.Message.Instructions[1].Data[0])
	assert.Equal(t, byte(OpcodeIncreaseLiquidity), tx.Message.Instructions[2].Data[0])
}
