package whirlpool

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type PriceUpdate struct {
	MonitorID     string           `json:"monitor_id"`
	Pool          solana.PublicKey `json:"pool"`
	OldPrice      float64          `json:"old_price"`
	NewPrice      float64          `json:"new_price"`
	ChangePercent float64          `json:"change_percent"`
	Timestamp     time.Time        `json:"timestamp"`
}

type PriceCallback func(PriceUpdate)

// MonitorHandle controls one running price monitor.
type MonitorHandle struct {
	id       string
	pool     solana.PublicKey
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (h *MonitorHandle) ID() string {
	return h.id
}

func (h *MonitorHandle) Pool() solana.PublicKey {
	return h.pool
}

// Done is closed once the monitor task has exited, for any reason.
func (h *MonitorHandle) Done() <-chan struct{} {
	return h.done
}

// Shutdown signals the task and waits for it to exit. Safe to call more than
// once and after the task stopped by itself.
func (h *MonitorHandle) Shutdown() {
	h.once.Do(func() {
		select {
		case h.shutdown <- struct{}{}:
		default:
		}
	})
	<-h.done
}

// MonitorPrice polls the price of pool (mint A as base) and calls callback
// when it moves by at least minChangePercent. The task stops on Shutdown,
// when ctx ends, or after MonitorMaxErrors consecutive failures.
func (c *Client) MonitorPrice(ctx context.Context, pool solana.PublicKey, minChangePercent float64, callback PriceCallback) (*MonitorHandle, error) {
	if callback == nil {
		return nil, fmt.Errorf("%w: callback is required", ErrValidation)
	}
	if minChangePercent < 0 || math.IsNaN(minChangePercent) {
		return nil, fmt.Errorf("%w: min change percent must be >= 0", ErrValidation)
	}

	handle := &MonitorHandle{
		id:       uuid.New().String(),
		pool:     pool,
		shutdown: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.runMonitor(ctx, handle, minChangePercent, callback)
	return handle, nil
}

func (c *Client) runMonitor(ctx context.Context, h *MonitorHandle, minChangePercent float64, callback PriceCallback) {
	defer close(h.done)
	logger := c.logger.With("monitor_id", h.id, "pool", h.pool)
	logger.Info("price monitor started", "poll_interval", c.cfg.MonitorPollInterval.String())
	defer logger.Info("price monitor stopped")

	var lastPrice float64
	consecutiveErrors := 0

	for {
		if !c.sleepOrStop(ctx, h, c.cfg.MonitorPollInterval) {
			return
		}

		price, err := c.currentPrice(ctx, h.pool)
		if err != nil {
			consecutiveErrors++
			logger.Warn("price poll failed", "consecutive_errors", consecutiveErrors, "err", err)
			if consecutiveErrors >= c.cfg.MonitorMaxErrors {
				logger.Error("price monitor giving up", "consecutive_errors", consecutiveErrors)
				return
			}
			if !c.sleepOrStop(ctx, h, c.cfg.MonitorErrorBackoff) {
				return
			}
			continue
		}
		consecutiveErrors = 0

		if lastPrice > 0 {
			change := math.Abs(price-lastPrice) / lastPrice * 100
			if change >= minChangePercent {
				callback(PriceUpdate{
					MonitorID:     h.id,
					Pool:          h.pool,
					OldPrice:      lastPrice,
					NewPrice:      price,
					ChangePercent: change,
					Timestamp:     time.Now().UTC(),
				})
			}
		}
		lastPrice = price
	}
}

// sleepOrStop waits d and reports whether the monitor should keep going. A
// pending stop signal wins over an expired timer.
func (c *Client) sleepOrStop(ctx context.Context, h *MonitorHandle, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-h.shutdown:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	select {
	case <-h.shutdown:
		return false
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Client) currentPrice(ctx context.Context, pool solana.PublicKey) (float64, error) {
	state, err := c.GetPoolState(ctx, pool)
	if err != nil {
		return 0, err
	}
	return state.PriceForBase(state.MintA)
}
