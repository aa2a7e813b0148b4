package whirlpool

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls
}

func TestMonitorPriceFiresOnSignificantChange(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)

	updates := make(chan PriceUpdate, 16)
	handle, err := client.MonitorPrice(t.Context(), fixture.address, 1, func(u PriceUpdate) { updates <- u })
	require.NoError(t, err)
	defer handle.Shutdown()
	assert.NotEmpty(t, handle.ID())

	require.Eventually(t, func() bool { return l.calls() >= 2 }, time.Second, time.Millisecond)
	select {
	case u := <-updates:
		t.Fatalf("unexpected update without a price move: %+v", u)
	default:
	}

	fixture.sqrtPrice = new(big.Int).Lsh(big.NewInt(2), 64)
	l.setAccount(fixture.address, client.ProgramID(), fixture.bytes())

	select {
	case u := <-updates:
		assert.Equal(t, fixture.address, u.Pool)
		assert.Equal(t, handle.ID(), u.MonitorID)
		assert.InDelta(t, 1.0, u.OldPrice, 1e-12)
		assert.InDelta(t, 4.0, u.NewPrice, 1e-12)
		assert.InDelta(t, 300.0, u.ChangePercent, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no price update received")
	}
}

func TestMonitorStopsAfterConsecutiveErrors(t *testing.T) {
	l := newFakeLedger()
	client := newTestClient(t, l)

	handle, err := client.MonitorPrice(t.Context(), newPoolFixture().address, 0, func(PriceUpdate) {})
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop itself")
	}
	assert.Equal(t, client.cfg.MonitorMaxErrors, l.calls())
	handle.Shutdown()
}

func TestMonitorShutdownIsIdempotent(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)

	handle, err := client.MonitorPrice(t.Context(), fixture.address, 0, func(PriceUpdate) {})
	require.NoError(t, err)

	handle.Shutdown()
	handle.Shutdown()
	select {
	case <-handle.Done():
	default:
		t.Fatal("done not closed after shutdown")
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	l := newFakeLedger()
	fixture := newPoolFixture()
	l.addPool(fixture)
	client := newTestClient(t, l)

	ctx, cancel := context.WithCancel(t.Context())
	handle, err := client.MonitorPrice(ctx, fixture.address, 0, func(PriceUpdate) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor ignored cancellation")
	}
}

func TestMonitorValidatesArguments(t *testing.T) {
	client := newTestClient(t, newFakeLedger())
	_, err := client.MonitorPrice(t.Context(), newPoolFixture().address, 1, nil)
	require.ErrorIs(t, err, ErrValidation)
	_, err = client.MonitorPrice(t.Context(), newPoolFixture().address, -1, func(PriceUpdate) {})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSleepOrStopPrefersPendingShutdown(t *testing.T) {
	client := newTestClient(t, newFakeLedger())
	handle := &MonitorHandle{shutdown: make(chan struct{}, 1), done: make(chan struct{})}
	handle.shutdown <- struct{}{}
	assert.False(t, client.sleepOrStop(t.Context(), handle, 0))
}
