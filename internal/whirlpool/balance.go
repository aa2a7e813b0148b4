package whirlpool

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/coldbell/orca/backend/internal/ledger"
)

type TokenBalance struct {
	Mint    solana.PublicKey `json:"mint"`
	Account solana.PublicKey `json:"account"`
	Amount  uint64           `json:"amount"`
}

type TokenSupply struct {
	Mint     solana.PublicKey `json:"mint"`
	Supply   uint64           `json:"supply"`
	Decimals uint8            `json:"decimals"`
}

// GetTokenBalance returns the amount held in owner's first account for mint,
// or zero when there is none.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	accounts, err := c.ledger.GetTokenAccountsByOwner(ctx, owner, ledger.TokenAccountFilter{Mint: &mint})
	if err != nil {
		return 0, classifyLedgerError("token accounts of "+owner.String(), err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}
	return accounts[0].Amount, nil
}

// GetAllTokenBalances lists every non-empty token account of owner.
func (c *Client) GetAllTokenBalances(ctx context.Context, owner solana.PublicKey) ([]TokenBalance, error) {
	programID := solana.TokenProgramID
	accounts, err := c.ledger.GetTokenAccountsByOwner(ctx, owner, ledger.TokenAccountFilter{ProgramID: &programID})
	if err != nil {
		return nil, classifyLedgerError("token accounts of "+owner.String(), err)
	}
	out := make([]TokenBalance, 0, len(accounts))
	for _, account := range accounts {
		if account.Amount == 0 {
			continue
		}
		out = append(out, TokenBalance{Mint: account.Mint, Account: account.Pubkey, Amount: account.Amount})
	}
	return out, nil
}

func (c *Client) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (TokenSupply, error) {
	decoded, err := c.getMint(ctx, mint)
	if err != nil {
		return TokenSupply{}, err
	}
	return TokenSupply{Mint: mint, Supply: decoded.Supply, Decimals: decoded.Decimals}, nil
}

func (c *Client) getMint(ctx context.Context, mint solana.PublicKey) (*token.Mint, error) {
	account, err := c.ledger.GetAccount(ctx, mint)
	if err != nil {
		return nil, classifyLedgerError("mint "+mint.String(), err)
	}
	var decoded token.Mint
	if err := decoded.UnmarshalWithDecoder(bin.NewBinDecoder(account.Data)); err != nil {
		return nil, fmt.Errorf("%w: mint %s: %v", ErrDecode, mint, err)
	}
	return &decoded, nil
}
