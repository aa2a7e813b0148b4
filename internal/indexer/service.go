package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
	"github.com/coldbell/orca/backend/internal/whirlpool"
)

type slotReader interface {
	GetSlot(ctx context.Context) (uint64, error)
}

type poolReader interface {
	GetPoolState(ctx context.Context, pool solana.PublicKey) (*whirlpool.PoolState, error)
	GetKlineData(ctx context.Context, pool solana.PublicKey, timeframeMinutes, limit int) ([]whirlpool.Kline, error)
	PoolHealth(ctx context.Context, pool solana.PublicKey) (whirlpool.PoolHealth, error)
	MonitorPrice(ctx context.Context, pool solana.PublicKey, minChangePercent float64, callback whirlpool.PriceCallback) (*whirlpool.MonitorHandle, error)
}

type snapshotStore interface {
	UpsertPool(ctx context.Context, pool *whirlpool.PoolState, price float64, slot uint64) error
	InsertPoolPriceTick(ctx context.Context, input PoolPriceTickInput) (bool, error)
	InsertPriceChange(ctx context.Context, eventID string, update whirlpool.PriceUpdate) error
	UpsertBackfilledCandles(ctx context.Context, pool string, timeframeMinutes int, klines []whirlpool.Kline) error
	InsertHealthSnapshot(ctx context.Context, health whirlpool.PoolHealth, ts int64) error
	SetLastSlot(ctx context.Context, slot uint64) error
	LastSlot(ctx context.Context) (uint64, error)
	Close() error
}

type Service struct {
	cfg    config.IndexerConfig
	slots  slotReader
	pools  poolReader
	store  snapshotStore
	logger *slog.Logger
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	rpcClient := ledger.New(cfg.RPC, logging.Component(logger, "ledger"))
	pools, err := whirlpool.New(rpcClient, cfg.Whirlpool, logging.Component(logger, "whirlpool"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init whirlpool client: %w", err)
	}

	return newService(cfg, rpcClient, pools, store, logger), nil
}

func newService(cfg config.IndexerConfig, slots slotReader, pools poolReader, store snapshotStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		cfg:    cfg,
		slots:  slots,
		pools:  pools,
		store:  store,
		logger: logger,
	}
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"rpc", s.cfg.RPC.RPCURL,
		"db_driver", "postgres",
		"commitment", s.cfg.RPC.Commitment,
		"pools", len(s.cfg.Pools),
	)
	if len(s.cfg.Pools) == 0 {
		s.logger.Warn("no pools configured; set INDEXER_POOLS to index anything")
	}
	if last, err := s.store.LastSlot(ctx); err != nil {
		s.logger.Warn("failed to read last synced slot", "err", err)
	} else if last > 0 {
		s.logger.Info("resuming after previous sync", "last_slot", last)
	}

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.runAccountStream(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runMonitors(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runBackfill(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.runPoll(groupCtx)
		return nil
	})

	err := group.Wait()
	s.logger.Info("indexer stopped")
	return err
}

func (s *Service) runPoll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) error {
	var slot uint64
	err := s.withRPCRetry(ctx, "get slot", func() error {
		var err error
		slot, err = s.slots.GetSlot(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	synced, failed := 0, 0
	for _, pool := range s.cfg.Pools {
		var state *whirlpool.PoolState
		err := s.withRPCRetry(ctx, "get pool state", func() error {
			var err error
			state, err = s.pools.GetPoolState(ctx, pool)
			return err
		})
		if err == nil {
			err = s.recordPool(ctx, state, slot, tickSourcePoll)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			s.logger.Warn("failed to sync pool", "pool", pool, "slot", slot, "err", err)
			continue
		}
		synced++
	}

	if err := s.store.SetLastSlot(ctx, slot); err != nil {
		return fmt.Errorf("store slot: %w", err)
	}

	s.logger.Info(
		"sync complete",
		"slot", slot,
		"pools", synced,
		"failed", failed,
	)
	return nil
}

// recordPool stores the pool snapshot and one price tick observed at slot.
func (s *Service) recordPool(ctx context.Context, state *whirlpool.PoolState, slot uint64, source string) error {
	price, err := state.Price()
	if err != nil {
		return err
	}
	if err := s.store.UpsertPool(ctx, state, price, slot); err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	if _, err := s.store.InsertPoolPriceTick(ctx, PoolPriceTickInput{
		Pool:      state.Address.String(),
		Source:    source,
		Slot:      slot,
		Price:     price,
		Liquidity: liquidityFloat(state.Liquidity),
	}); err != nil {
		return fmt.Errorf("store price tick: %w", err)
	}
	return nil
}

// runMonitors starts one price monitor per pool and blocks until all of
// them have exited.
func (s *Service) runMonitors(ctx context.Context) {
	if s.cfg.MonitorMinChangePercent <= 0 {
		return
	}

	var wg sync.WaitGroup
	for _, pool := range s.cfg.Pools {
		handle, err := s.pools.MonitorPrice(ctx, pool, s.cfg.MonitorMinChangePercent, func(update whirlpool.PriceUpdate) {
			s.onPriceChange(ctx, update)
		})
		if err != nil {
			s.logger.Warn("failed to start price monitor", "pool", pool, "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-handle.Done()
		}()
	}
	wg.Wait()
}

func (s *Service) onPriceChange(ctx context.Context, update whirlpool.PriceUpdate) {
	if err := s.store.InsertPriceChange(ctx, uuid.NewString(), update); err != nil {
		s.logger.Warn("failed to store price change", "pool", update.Pool, "err", err)
		return
	}
	s.logger.Info(
		"price change",
		"pool", update.Pool,
		"old_price", update.OldPrice,
		"new_price", update.NewPrice,
		"change_percent", update.ChangePercent,
	)
}

func (s *Service) runBackfill(ctx context.Context) {
	if s.cfg.CandleBackfillInterval <= 0 {
		return
	}

	s.backfillOnce(ctx)
	ticker := time.NewTicker(s.cfg.CandleBackfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.backfillOnce(ctx)
		}
	}
}

// backfillOnce rebuilds recent candles from history and takes a health
// snapshot for every pool. Failures are per pool.
func (s *Service) backfillOnce(ctx context.Context) {
	for _, pool := range s.cfg.Pools {
		if ctx.Err() != nil {
			return
		}

		klines, err := s.pools.GetKlineData(ctx, pool, s.cfg.CandleTimeframeMinutes, s.cfg.CandleBackfillLimit)
		if err != nil {
			s.logger.Warn("candle backfill failed", "pool", pool, "err", err)
		} else if err := s.store.UpsertBackfilledCandles(ctx, pool.String(), s.cfg.CandleTimeframeMinutes, klines); err != nil {
			s.logger.Warn("failed to store candles", "pool", pool, "err", err)
		}

		health, err := s.pools.PoolHealth(ctx, pool)
		if err != nil {
			s.logger.Warn("pool health failed", "pool", pool, "err", err)
			continue
		}
		if err := s.store.InsertHealthSnapshot(ctx, health, time.Now().Unix()); err != nil {
			s.logger.Warn("failed to store health snapshot", "pool", pool, "err", err)
		}
	}
}

// withRPCRetry retries transient RPC failures with exponential backoff.
// Decode and validation errors are returned immediately.
func (s *Service) withRPCRetry(ctx context.Context, op string, fn func() error) error {
	attempts := s.cfg.RPCMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return retry.Do(
		fn,
		retry.Attempts(uint(attempts)),
		retry.Delay(s.cfg.RPCRetryBaseDelay),
		retry.MaxDelay(s.cfg.RPCRetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("retrying rpc call", "op", op, "attempt", n+1, "err", err)
		}),
	)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, whirlpool.ErrDecode),
		errors.Is(err, whirlpool.ErrValidation),
		errors.Is(err, whirlpool.ErrNotFound),
		errors.Is(err, whirlpool.ErrComputation):
		return false
	default:
		return true
	}
}

func liquidityFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
