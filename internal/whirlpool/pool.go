package whirlpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/ledger"
)

// FindPoolsByToken returns every pool that has mint on either side. Pool
// addresses are cached per mint for the configured TTL; states are always
// fetched fresh.
func (c *Client) FindPoolsByToken(ctx context.Context, mint solana.PublicKey) ([]*PoolState, error) {
	if addresses, ok := c.poolCache.Get(mint); ok {
		return c.loadPools(ctx, addresses)
	}

	pools, err := c.scanPoolsByMint(ctx, mint)
	if err != nil {
		return nil, err
	}
	addresses := make([]solana.PublicKey, 0, len(pools))
	for _, pool := range pools {
		addresses = append(addresses, pool.Address)
	}
	c.poolCache.Add(mint, addresses)
	return pools, nil
}

// FindPoolForPair returns the first pool trading a against b.
func (c *Client) FindPoolForPair(ctx context.Context, a, b solana.PublicKey) (*PoolState, error) {
	pools, err := c.FindPoolsByToken(ctx, a)
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		if pool.HasPair(a, b) {
			return pool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s / %s", ErrNoPoolFound, a, b)
}

// InvalidatePools drops the cached pool set for mint.
func (c *Client) InvalidatePools(mint solana.PublicKey) {
	c.poolCache.Remove(mint)
}

// scanPoolsByMint issues one memcmp query per mint side and unions the
// results; the node ANDs filters inside a single query.
func (c *Client) scanPoolsByMint(ctx context.Context, mint solana.PublicKey) ([]*PoolState, error) {
	seen := make(map[solana.PublicKey]struct{})
	var pools []*PoolState

	for _, offset := range []uint64{offsetMintA, offsetMintB} {
		accounts, err := c.ledger.GetProgramAccounts(ctx, c.cfg.WhirlpoolProgramID, ledger.ProgramAccountsFilter{
			Memcmp: []ledger.MemcmpFilter{{Offset: offset, Bytes: mint.Bytes()}},
		})
		if err != nil {
			return nil, classifyLedgerError("scan pools for "+mint.String(), err)
		}
		for _, item := range accounts {
			if _, ok := seen[item.Pubkey]; ok {
				continue
			}
			pool, err := DecodePool(c.cfg.WhirlpoolProgramID, item.Pubkey, item.Account.Data)
			if err != nil {
				c.logger.Warn("skip undecodable pool account", "pubkey", item.Pubkey, "err", err)
				continue
			}
			seen[item.Pubkey] = struct{}{}
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func (c *Client) loadPools(ctx context.Context, addresses []solana.PublicKey) ([]*PoolState, error) {
	pools := make([]*PoolState, 0, len(addresses))
	for _, address := range addresses {
		pool, err := c.GetPoolState(ctx, address)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDecode) {
				c.logger.Warn("cached pool no longer readable", "pubkey", address, "err", err)
				continue
			}
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}
