package whirlpool

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/ledger"
)

type SwapResult struct {
	Signature solana.Signature `json:"signature"`
	Pool      solana.PublicKey `json:"pool"`
	Quote     QuoteResult      `json:"quote"`
}

// Swap quotes the pair, creates missing token accounts and submits the swap
// signed by owner.
func (c *Client) Swap(ctx context.Context, owner ledger.Signer, inputMint, outputMint solana.PublicKey, inputAmount uint64, slippagePercent float64) (*SwapResult, error) {
	if owner == nil {
		return nil, fmt.Errorf("%w: signer is required", ErrValidation)
	}
	if inputAmount == 0 {
		return nil, fmt.Errorf("%w: input amount must be positive", ErrValidation)
	}
	if slippagePercent < 0 || slippagePercent > 100 {
		return nil, fmt.Errorf("%w: slippage must be within [0,100]", ErrValidation)
	}

	quote, pool, err := c.GetQuote(ctx, inputMint, outputMint, inputAmount, slippagePercent)
	if err != nil {
		return nil, err
	}

	wallet := owner.PublicKey()
	var instructions []solana.Instruction

	inputAccount, createInput, err := c.ensureTokenAccount(ctx, wallet, wallet, inputMint)
	if err != nil {
		return nil, err
	}
	if createInput != nil {
		instructions = append(instructions, createInput)
	}
	outputAccount, createOutput, err := c.ensureTokenAccount(ctx, wallet, wallet, outputMint)
	if err != nil {
		return nil, err
	}
	if createOutput != nil {
		instructions = append(instructions, createOutput)
	}

	inputVault, outputVault := pool.VaultA, pool.VaultB
	if inputMint.Equals(pool.MintB) {
		inputVault, outputVault = pool.VaultB, pool.VaultA
	}

	swapIx, err := c.builder.Swap(SwapParams{
		Owner:           wallet,
		Pool:            pool.Address,
		InputAccount:    inputAccount,
		OutputAccount:   outputAccount,
		InputVault:      inputVault,
		OutputVault:     outputVault,
		InputAmount:     inputAmount,
		MinOutputAmount: quote.MinimumOutput,
	})
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, swapIx)

	sig, err := c.submit(ctx, instructions, owner)
	if err != nil {
		return nil, err
	}
	return &SwapResult{Signature: sig, Pool: pool.Address, Quote: quote}, nil
}
