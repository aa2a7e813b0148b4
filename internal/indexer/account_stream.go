package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"golang.org/x/sync/errgroup"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

// runAccountStream keeps a websocket account subscription open for every
// configured pool, reconnecting after failures until ctx ends.
func (s *Service) runAccountStream(ctx context.Context) {
	if !s.cfg.EnableAccountStream {
		return
	}
	if s.cfg.RPC.WSURL == "" || len(s.cfg.Pools) == 0 {
		s.logger.Warn("account stream disabled due to missing ws url or pools")
		return
	}

	reconnectDelay := s.cfg.StreamReconnectInterval
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}

	s.logger.Info(
		"account stream enabled",
		"ws", s.cfg.RPC.WSURL,
		"pools", len(s.cfg.Pools),
		"reconnect_delay", reconnectDelay.String(),
	)

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		err := s.consumeAccountStream(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("account stream disconnected", "err", err, "retry_in", reconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Service) consumeAccountStream(ctx context.Context) error {
	client, err := ws.Connect(ctx, s.cfg.RPC.WSURL)
	if err != nil {
		return fmt.Errorf("open account stream: %w", err)
	}
	defer client.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, pool := range s.cfg.Pools {
		sub, err := client.AccountSubscribeWithOpts(pool, s.cfg.RPC.Commitment, solana.EncodingBase64)
		if err != nil {
			return fmt.Errorf("subscribe pool %s: %w", pool, err)
		}
		group.Go(func() error {
			defer sub.Unsubscribe()
			for {
				result, err := sub.Recv(groupCtx)
				if err != nil {
					return fmt.Errorf("receive pool %s: %w", pool, err)
				}
				if result == nil || result.Value.Data == nil {
					continue
				}
				data := result.Value.Data.GetBinary()
				if err := s.processPoolUpdate(groupCtx, pool, data, result.Context.Slot); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("failed to process pool update", "pool", pool, "err", err)
				}
			}
		})
	}
	return group.Wait()
}

func (s *Service) processPoolUpdate(ctx context.Context, pool solana.PublicKey, data []byte, slot uint64) error {
	state, err := whirlpool.DecodePool(s.cfg.Whirlpool.WhirlpoolProgramID, pool, data)
	if err != nil {
		return err
	}
	return s.recordPool(ctx, state, slot, tickSourceStream)
}
