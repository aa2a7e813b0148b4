package whirlpool

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/dex"
	"github.com/coldbell/orca/backend/internal/ledger"
)

type AddLiquidityRequest struct {
	Pool         solana.PublicKey
	LowerTick    int32
	UpperTick    int32
	TokenAmountA uint64
	TokenAmountB uint64
}

// AddLiquidity opens a position with a fresh position mint and deposits into
// it in a single transaction, creating the owner's missing token accounts first.
func (c *Client) AddLiquidity(ctx context.Context, owner ledger.Signer, req AddLiquidityRequest) (*LiquidityPosition, solana.Signature, error) {
	if owner == nil {
		return nil, solana.Signature{}, fmt.Errorf("%w: signer is required", ErrValidation)
	}
	if req.LowerTick >= req.UpperTick {
		return nil, solana.Signature{}, fmt.Errorf("%w: lower tick %d must be below upper tick %d", ErrValidation, req.LowerTick, req.UpperTick)
	}
	if req.TokenAmountA == 0 && req.TokenAmountB == 0 {
		return nil, solana.Signature{}, fmt.Errorf("%w: deposit amounts are both zero", ErrValidation)
	}

	pool, err := c.GetPoolState(ctx, req.Pool)
	if err != nil {
		return nil, solana.Signature{}, err
	}

	positionMint, err := ledger.NewRandomSigner()
	if err != nil {
		return nil, solana.Signature{}, err
	}
	wallet := owner.PublicKey()

	positionTokenAccount, err := dex.DeriveAssociatedTokenAddress(wallet, positionMint.PublicKey())
	if err != nil {
		return nil, solana.Signature{}, err
	}
	var instructions []solana.Instruction
	tokenAccountA, createA, err := c.ensureTokenAccount(ctx, wallet, wallet, pool.MintA)
	if err != nil {
		return nil, solana.Signature{}, err
	}
	if createA != nil {
		instructions = append(instructions, createA)
	}
	tokenAccountB, createB, err := c.ensureTokenAccount(ctx, wallet, wallet, pool.MintB)
	if err != nil {
		return nil, solana.Signature{}, err
	}
	if createB != nil {
		instructions = append(instructions, createB)
	}

	openIx, err := c.builder.OpenPosition(OpenPositionParams{
		Owner:                wallet,
		PositionMint:         positionMint.PublicKey(),
		PositionTokenAccount: positionTokenAccount,
		Pool:                 pool.Address,
		LowerTick:            req.LowerTick,
		UpperTick:            req.UpperTick,
	})
	if err != nil {
		return nil, solana.Signature{}, err
	}
	increaseIx, err := c.builder.IncreaseLiquidity(IncreaseLiquidityParams{
		Owner:                wallet,
		PositionMint:         positionMint.PublicKey(),
		PositionTokenAccount: positionTokenAccount,
		Pool:                 pool.Address,
		TokenAccountA:        tokenAccountA,
		TokenAccountB:        tokenAccountB,
		VaultA:               pool.VaultA,
		VaultB:               pool.VaultB,
		TokenAmountA:         req.TokenAmountA,
		TokenAmountB:         req.TokenAmountB,
	})
	if err != nil {
		return nil, solana.Signature{}, err
	}

	sig, err := c.submit(ctx, append(instructions, openIx, increaseIx), owner, positionMint)
	if err != nil {
		return nil, solana.Signature{}, err
	}

	return &LiquidityPosition{
		Pool:                 pool.Address,
		TokenAAmount:         req.TokenAmountA,
		TokenBAmount:         req.TokenAmountB,
		LPTokenAmount:        1,
		LowerTick:            req.LowerTick,
		UpperTick:            req.UpperTick,
		PositionMint:         positionMint.PublicKey(),
		PositionTokenAccount: positionTokenAccount,
	}, sig, nil
}

// RemoveLiquidity withdraws the position's LP amount and closes it.
func (c *Client) RemoveLiquidity(ctx context.Context, owner ledger.Signer, position LiquidityPosition) (solana.Signature, error) {
	if owner == nil {
		return solana.Signature{}, fmt.Errorf("%w: signer is required", ErrValidation)
	}
	if position.Pool.IsZero() || position.PositionMint.IsZero() || position.PositionTokenAccount.IsZero() {
		return solana.Signature{}, fmt.Errorf("%w: position is missing pool, mint or token account", ErrValidation)
	}

	params := PositionParams{
		Owner:                owner.PublicKey(),
		PositionMint:         position.PositionMint,
		PositionTokenAccount: position.PositionTokenAccount,
		Pool:                 position.Pool,
	}
	decreaseIx, err := c.builder.DecreaseLiquidity(params, position.LPTokenAmount)
	if err != nil {
		return solana.Signature{}, err
	}
	closeIx, err := c.builder.ClosePosition(params)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.submit(ctx, []solana.Instruction{decreaseIx, closeIx}, owner)
}
