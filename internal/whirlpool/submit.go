package whirlpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/coldbell/orca/backend/internal/dex"
	"github.com/coldbell/orca/backend/internal/ledger"
)

// submit assembles, signs and confirms a transaction. The first signer pays.
func (c *Client) submit(ctx context.Context, instructions []solana.Instruction, signers ...ledger.Signer) (solana.Signature, error) {
	if len(signers) == 0 || signers[0] == nil {
		return solana.Signature{}, fmt.Errorf("%w: fee payer signer is required", ErrValidation)
	}

	budget, err := c.computeBudgetInstructions()
	if err != nil {
		return solana.Signature{}, err
	}
	all := append(budget, instructions...)

	blockhash, err := c.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, classifyLedgerError("latest blockhash", err)
	}

	tx, err := solana.NewTransaction(all, blockhash, solana.TransactionPayer(signers[0].PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if err := ledger.SignTransaction(tx, signers...); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.ledger.SubmitAndConfirm(ctx, tx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sig, err
		}
		return sig, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	c.logger.Info("transaction confirmed", "signature", sig.String(), "instructions", len(all))
	return sig, nil
}

func (c *Client) computeBudgetInstructions() ([]solana.Instruction, error) {
	var out []solana.Instruction
	if c.cfg.ComputeUnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(c.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, ix)
	}
	if c.cfg.ComputeUnitPriceMicroLamports > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(c.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// ensureTokenAccount returns owner's associated account for mint and, when
// it does not exist yet, the instruction creating it.
func (c *Client) ensureTokenAccount(ctx context.Context, payer, owner, mint solana.PublicKey) (solana.PublicKey, solana.Instruction, error) {
	ata, err := dex.DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	_, err = c.ledger.GetAccount(ctx, ata)
	switch {
	case err == nil:
		return ata, nil, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return ata, associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build(), nil
	default:
		return solana.PublicKey{}, nil, classifyLedgerError("token account "+ata.String(), err)
	}
}
