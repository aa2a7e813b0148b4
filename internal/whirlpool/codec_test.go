package whirlpool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/dex"
)

func TestDecodePoolReadsLayout(t *testing.T) {
	fixture := newPoolFixture()
	fixture.growthA = big.NewInt(777)
	fixture.growthB = new(big.Int).Lsh(big.NewInt(1), 100)
	programID := config.DefaultWhirlpoolProgramID

	state, err := DecodePool(programID, fixture.address, fixture.bytes())
	require.NoError(t, err)

	assert.Equal(t, fixture.address, state.Address)
	assert.Equal(t, fixture.mintA, state.MintA)
	assert.Equal(t, fixture.mintB, state.MintB)
	assert.Equal(t, uint16(64), state.TickSpacing)
	assert.Equal(t, uint64(3000), state.FeeNumerator)
	assert.Equal(t, uint64(FeeRateDenominator), state.FeeDenominator)
	assert.Zero(t, fixture.liquidity.Cmp(state.Liquidity))
	assert.Zero(t, fixture.sqrtPrice.Cmp(state.SqrtPrice))
	assert.Zero(t, fixture.growthA.Cmp(state.FeeGrowthGlobalA))
	assert.Zero(t, fixture.growthB.Cmp(state.FeeGrowthGlobalB))

	vaultA, _, err := dex.DeriveTokenVaultPDA(programID, fixture.address, fixture.mintA)
	require.NoError(t, err)
	assert.Equal(t, vaultA, state.VaultA)
}

func TestDecodePoolIsDeterministic(t *testing.T) {
	fixture := newPoolFixture()
	raw := fixture.bytes()

	first, err := DecodePool(config.DefaultWhirlpoolProgramID, fixture.address, raw)
	require.NoError(t, err)
	second, err := DecodePool(config.DefaultWhirlpoolProgramID, fixture.address, raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first.VaultA, first.VaultB)
	assert.NotEqual(t, first.LPMint, first.FeeAccount)
}

func TestDecodePoolTooShort(t *testing.T) {
	fixture := newPoolFixture()
	for _, size := range []int{0, 1, 100, MinPoolAccountLen - 1} {
		raw := fixture.bytes()[:size]
		require.NotPanics(t, func() {
			_, err := DecodePool(config.DefaultWhirlpoolProgramID, fixture.address, raw)
			require.ErrorIs(t, err, ErrTooShort)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodePoolMinimumLength(t *testing.T) {
	fixture := newPoolFixture()
	fixture.length = MinPoolAccountLen
	fixture.growthB = big.NewInt(5)

	state, err := DecodePool(config.DefaultWhirlpoolProgramID, fixture.address, fixture.bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.FeeGrowthGlobalB.Int64())
}

func TestReadOptionalU128DefaultsToZero(t *testing.T) {
	assert.Zero(t, readOptionalU128(make([]byte, 10), 4).Sign())
}

func TestGetPoolStateClassifiesErrors(t *testing.T) {
	l := newFakeLedger()
	client := newTestClient(t, l)
	fixture := newPoolFixture()

	_, err := client.GetPoolState(t.Context(), fixture.address)
	require.ErrorIs(t, err, ErrNotFound)

	l.accountErr = errors.New("connection refused")
	_, err = client.GetPoolState(t.Context(), fixture.address)
	require.ErrorIs(t, err, ErrConnectivity)
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("definitely not base58!")
	require.ErrorIs(t, err, ErrInvalidAddress)

	pk, err := ParseAddress(" whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc ")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWhirlpoolProgramID, pk)
}

func TestNewRequiresLedger(t *testing.T) {
	_, err := New(nil, config.DefaultWhirlpoolConfig(), nil)
	require.ErrorIs(t, err, ErrConnectivity)
}
