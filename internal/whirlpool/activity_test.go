package whirlpool

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/ledger"
)

func TestExtractAmountFromLog(t *testing.T) {
	cases := []struct {
		line string
		want uint64
		ok   bool
	}{
		{"Program log: swap amount: 1500", 1500, true},
		{"Program log: amount_in=250,amount_out=99", 250, true},
		{"transfer of 42 tokens then 5000000", 5000000, true},
		{"Instruction: Swap 7 8 9 123456", 123456, true},
		{"nothing numeric here", 0, false},
		{"values 50 and 2000000000", 0, false},
		{"output: 12345abc", 12345, true},
	}
	for _, tc := range cases {
		got, ok := ExtractAmountFromLog(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestExtractAmountPrefersKeyword(t *testing.T) {
	got, ok := ExtractAmountFromLog("slot 5000 amount 200")
	require.True(t, ok)
	assert.Equal(t, uint64(200), got)
}

func TestHealthScore(t *testing.T) {
	assert.Zero(t, HealthScore(0, 0, 0))

	low := HealthScore(1e6, 1e3, 1e6)
	high := HealthScore(1e9, 1e6, 1e9)
	assert.Greater(t, high, low)
	assert.InDelta(t, 10*math.Log1p(1), low, 1e-9)

	capped := HealthScore(math.MaxFloat64, math.MaxFloat64, math.MaxFloat64)
	assert.InDelta(t, 100, capped, 1e-9)
}

func TestVolumeFromFeeGrowthClamps(t *testing.T) {
	assert.Equal(t, uint64(1000), volumeFromFeeGrowth(big.NewInt(3)))
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	assert.Equal(t, uint64(math.MaxUint64), volumeFromFeeGrowth(huge))
}

func TestEstimateVolumeUsesSampleWhenLarger(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	fixture.growthA = big.NewInt(30)
	l.addPool(fixture)

	fee := uint64(6000)
	l.addTransaction(1, &ledger.Transaction{Fee: &fee})
	l.addTransaction(2, &ledger.Transaction{LogMessages: []string{"Program log: swap amount: 3000000"}})
	l.addTransaction(3, &ledger.Transaction{LogMessages: []string{"Program log: nothing"}})

	client := newTestClient(t, l)
	volume, err := client.EstimateVolume(t.Context(), fixture.address)
	require.NoError(t, err)
	// samples: 2_000_000 and 3_000_000 averaged, times 3 signatures.
	assert.Equal(t, uint64(7_500_000), volume)
}

func TestEstimateVolumeFallsBackToFeeGrowth(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	fixture.growthA = big.NewInt(30)
	fixture.growthB = big.NewInt(30)
	l.addPool(fixture)

	client := newTestClient(t, l)
	volume, err := client.EstimateVolume(t.Context(), fixture.address)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), volume)

	health, err := client.PoolHealth(t.Context(), fixture.address)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), health.Volume24h)
	assert.Equal(t, 60.0, health.FeeGrowth)
	assert.Equal(t, HealthScore(1e6, 20_000, 60), health.HealthScore)
}
