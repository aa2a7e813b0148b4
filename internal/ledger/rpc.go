package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/logging"
)

const defaultConfirmPollInterval = 700 * time.Millisecond

// Client adapts a solana-go JSON-RPC client to the narrow surface the pool
// engine needs.
type Client struct {
	rpc           *rpc.Client
	logger        *slog.Logger
	commitment    rpc.CommitmentType
	skipPreflight bool
	maxRetries    *uint
	txTimeout     time.Duration
	pollInterval  time.Duration
}

func New(cfg config.RPCConfig, logger *slog.Logger) *Client {
	return NewWithRPC(rpc.New(cfg.RPCURL), cfg, logger)
}

func NewWithRPC(client *rpc.Client, cfg config.RPCConfig, logger *slog.Logger) *Client {
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:           client,
		logger:        logging.Component(logger, "ledger"),
		commitment:    commitment,
		skipPreflight: cfg.SkipPreflight,
		maxRetries:    cfg.MaxRetries,
		txTimeout:     cfg.TxTimeout,
		pollInterval:  defaultConfirmPollInterval,
	}
}

func (c *Client) RPC() *rpc.Client {
	return c.rpc
}

func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, c.commitment)
}

func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	result, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return convertAccount(result.Value), nil
}

func (c *Client) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filter ProgramAccountsFilter) ([]KeyedAccount, error) {
	filters := make([]rpc.RPCFilter, 0, len(filter.Memcmp)+1)
	for _, memcmp := range filter.Memcmp {
		filters = append(filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: memcmp.Offset, Bytes: solana.Base58(memcmp.Bytes)},
		})
	}
	if filter.DataSize > 0 {
		filters = append(filters, rpc.RPCFilter{DataSize: filter.DataSize})
	}

	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("scan accounts for program %s: %w", programID, err)
	}

	out := make([]KeyedAccount, 0, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		out = append(out, KeyedAccount{Pubkey: item.Pubkey, Account: *convertAccount(item.Account)})
	}
	return out, nil
}

func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, filter TokenAccountFilter) ([]TokenAccount, error) {
	conf := &rpc.GetTokenAccountsConfig{}
	switch {
	case filter.Mint != nil:
		mint := *filter.Mint
		conf.Mint = &mint
	case filter.ProgramID != nil:
		programID := *filter.ProgramID
		conf.ProgramId = &programID
	default:
		programID := solana.TokenProgramID
		conf.ProgramId = &programID
	}

	result, err := c.rpc.GetTokenAccountsByOwner(ctx, owner, conf, &rpc.GetTokenAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return nil, fmt.Errorf("get token accounts for %s: %w", owner, err)
	}
	if result == nil {
		return nil, nil
	}

	out := make([]TokenAccount, 0, len(result.Value))
	for _, item := range result.Value {
		if item == nil || item.Account.Data == nil {
			continue
		}
		decoded, err := DecodeTokenAccount(item.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("skip undecodable token account", "pubkey", item.Pubkey, "err", err)
			continue
		}
		decoded.Pubkey = item.Pubkey
		out = append(out, decoded)
	}
	return out, nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: empty response")
	}
	return recent.Value.Blockhash, nil
}

// SubmitAndConfirm sends an already signed transaction and polls its status
// until it reaches confirmed or finalized.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	}
	if c.maxRetries != nil {
		retries := *c.maxRetries
		opts.MaxRetries = &retries
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.Info("transaction sent", "signature", sig.String())

	waitCtx := ctx
	if c.txTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.txTimeout)
		defer cancel()
	}
	if err := c.waitForConfirmation(waitCtx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", sig, ctx.Err())
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				c.logger.Debug("signature status poll failed", "signature", sig.String(), "err", err)
				continue
			}
			if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

func (c *Client) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int) ([]SignatureInfo, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment}
	if limit > 0 {
		opts.Limit = &limit
	}
	sigs, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}

	out := make([]SignatureInfo, 0, len(sigs))
	for _, item := range sigs {
		if item == nil {
			continue
		}
		info := SignatureInfo{
			Signature: item.Signature,
			Slot:      item.Slot,
			Failed:    item.Err != nil,
		}
		if item.BlockTime != nil {
			ts := int64(*item.BlockTime)
			info.BlockTime = &ts
		}
		out = append(out, info)
	}
	return out, nil
}

// GetTransaction fetches a transaction in jsonParsed encoding. The raw call is
// used so parsed and compiled instructions both survive decoding.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*Transaction, error) {
	var raw *rawTransaction
	params := []any{
		sig.String(),
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     string(c.commitment),
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.rpc.RPCCallForInto(ctx, &raw, "getTransaction", params); err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
	}
	tx := raw.toTransaction()
	if tx.Signature == "" {
		tx.Signature = sig.String()
	}
	return tx, nil
}

// DecodeTokenAccount reads an SPL token account blob.
func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	var acc token.Account
	if err := acc.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return TokenAccount{}, fmt.Errorf("decode token account: %w", err)
	}
	return TokenAccount{Mint: acc.Mint, Owner: acc.Owner, Amount: acc.Amount}, nil
}

func convertAccount(acc *rpc.Account) *Account {
	out := &Account{
		Owner:      acc.Owner,
		Lamports:   acc.Lamports,
		Executable: acc.Executable,
	}
	if acc.Data != nil {
		out.Data = acc.Data.GetBinary()
	}
	return out
}
