package whirlpool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/dex"
	"github.com/coldbell/orca/backend/internal/ledger"
)

// Position account layout (after the 8 byte discriminator).
const (
	MinPositionAccountLen = 216

	offsetPositionPool      = 8
	offsetPositionMint      = 40
	offsetPositionLiquidity = 72
	offsetPositionTickLower = 88
	offsetPositionTickUpper = 92
)

var positionNameHints = []string{"position", "lp", "liquidity", "whirlpool", "concentrated"}

type LiquidityPosition struct {
	Pool                 solana.PublicKey `json:"pool"`
	TokenAAmount         uint64           `json:"token_a_amount"`
	TokenBAmount         uint64           `json:"token_b_amount"`
	LPTokenAmount        uint64           `json:"lp_token_amount"`
	LowerTick            int32            `json:"lower_tick"`
	UpperTick            int32            `json:"upper_tick"`
	PositionMint         solana.PublicKey `json:"position_mint"`
	PositionTokenAccount solana.PublicKey `json:"position_token_account"`
}

// PositionState is a decoded position account.
type PositionState struct {
	Address   solana.PublicKey
	Pool      solana.PublicKey
	Mint      solana.PublicKey
	Liquidity *big.Int
	TickLower int32
	TickUpper int32
}

func DecodePosition(address solana.PublicKey, raw []byte) (*PositionState, error) {
	if len(raw) < MinPositionAccountLen {
		return nil, fmt.Errorf("%w: position %s has %d bytes, need %d", ErrTooShort, address, len(raw), MinPositionAccountLen)
	}
	pool, err := readPubkey(raw, offsetPositionPool)
	if err != nil {
		return nil, err
	}
	mint, err := readPubkey(raw, offsetPositionMint)
	if err != nil {
		return nil, err
	}
	liquidity, err := readU128(raw, offsetPositionLiquidity)
	if err != nil {
		return nil, err
	}
	lower, err := readI32(raw, offsetPositionTickLower)
	if err != nil {
		return nil, err
	}
	upper, err := readI32(raw, offsetPositionTickUpper)
	if err != nil {
		return nil, err
	}
	return &PositionState{
		Address:   address,
		Pool:      pool,
		Mint:      mint,
		Liquidity: liquidity,
		TickLower: lower,
		TickUpper: upper,
	}, nil
}

type verdict int

const (
	verdictUnknown verdict = iota
	verdictYes
	verdictNo
)

// positionClassifier judges whether a held token is a position token.
type positionClassifier func(ctx context.Context, account ledger.TokenAccount) (verdict, error)

func (c *Client) positionClassifiers() []positionClassifier {
	return []positionClassifier{
		c.classifyByBalance,
		c.classifyByMetadata,
		c.classifyByDecimals,
		c.classifyByProgramHolding,
		c.classifyByPoolAssociation,
	}
}

// isPositionToken runs the classifiers in order. The first yes or no wins;
// unknown falls through, and an exhausted chain means no.
func (c *Client) isPositionToken(ctx context.Context, account ledger.TokenAccount) (bool, error) {
	for _, classify := range c.positionClassifiers() {
		v, err := classify(ctx, account)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false, err
			}
			c.logger.Debug("position classifier failed", "mint", account.Mint, "err", err)
			continue
		}
		switch v {
		case verdictYes:
			return true, nil
		case verdictNo:
			return false, nil
		}
	}
	return false, nil
}

func (c *Client) classifyByBalance(_ context.Context, account ledger.TokenAccount) (verdict, error) {
	if account.Amount == 0 {
		return verdictNo, nil
	}
	return verdictUnknown, nil
}

func (c *Client) classifyByMetadata(ctx context.Context, account ledger.TokenAccount) (verdict, error) {
	meta, err := c.GetTokenMetadata(ctx, account.Mint)
	if err != nil {
		return verdictUnknown, err
	}
	if containsAny(strings.ToLower(meta.Name), positionNameHints) || containsAny(strings.ToLower(meta.Symbol), positionNameHints) {
		return verdictYes, nil
	}
	return verdictUnknown, nil
}

func (c *Client) classifyByDecimals(ctx context.Context, account ledger.TokenAccount) (verdict, error) {
	mint, err := c.getMint(ctx, account.Mint)
	if err != nil {
		return verdictUnknown, err
	}
	if mint.Decimals != 6 && mint.Decimals != 9 {
		return verdictUnknown, nil
	}
	ok, err := c.verifyPositionAccount(ctx, account.Mint)
	if err != nil || !ok {
		return verdictUnknown, err
	}
	return verdictYes, nil
}

// classifyByProgramHolding says yes when the pool program itself holds a
// token account of the mint.
func (c *Client) classifyByProgramHolding(ctx context.Context, account ledger.TokenAccount) (verdict, error) {
	mint := account.Mint
	held, err := c.ledger.GetTokenAccountsByOwner(ctx, c.cfg.WhirlpoolProgramID, ledger.TokenAccountFilter{Mint: &mint})
	if err != nil {
		return verdictUnknown, classifyLedgerError("program holdings of "+mint.String(), err)
	}
	if len(held) > 0 {
		return verdictYes, nil
	}
	return verdictUnknown, nil
}

func (c *Client) classifyByPoolAssociation(ctx context.Context, account ledger.TokenAccount) (verdict, error) {
	pools, err := c.ledger.GetProgramAccounts(ctx, c.cfg.WhirlpoolProgramID, ledger.ProgramAccountsFilter{DataSize: PoolAccountLen})
	if err != nil {
		return verdictUnknown, classifyLedgerError("scan pools", err)
	}
	for _, item := range pools {
		pool, err := DecodePool(c.cfg.WhirlpoolProgramID, item.Pubkey, item.Account.Data)
		if err != nil {
			continue
		}
		if pool.LPMint.Equals(account.Mint) {
			return verdictYes, nil
		}
	}
	return verdictUnknown, nil
}

// verifyPositionAccount checks that the mint's position PDA exists, is owned
// by the pool program and is large enough to be a position.
func (c *Client) verifyPositionAccount(ctx context.Context, mint solana.PublicKey) (bool, error) {
	pda, _, err := dex.DerivePositionPDA(c.cfg.WhirlpoolProgramID, mint)
	if err != nil {
		return false, err
	}
	account, err := c.ledger.GetAccount(ctx, pda)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return false, nil
		}
		return false, classifyLedgerError("position "+pda.String(), err)
	}
	return account.Owner.Equals(c.cfg.WhirlpoolProgramID) && len(account.Data) >= MinPositionAccountLen, nil
}

// GetLiquidityPositions derives owner's positions from current token
// holdings. Nothing is cached.
func (c *Client) GetLiquidityPositions(ctx context.Context, owner solana.PublicKey) ([]LiquidityPosition, error) {
	programID := solana.TokenProgramID
	accounts, err := c.ledger.GetTokenAccountsByOwner(ctx, owner, ledger.TokenAccountFilter{ProgramID: &programID})
	if err != nil {
		return nil, classifyLedgerError("token accounts of "+owner.String(), err)
	}

	var positions []LiquidityPosition
	for _, account := range accounts {
		ok, err := c.isPositionToken(ctx, account)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		positions = append(positions, c.describePosition(ctx, account))
	}
	return positions, nil
}

// describePosition fills pool, ticks and token amounts from the position
// account when it can be read.
func (c *Client) describePosition(ctx context.Context, account ledger.TokenAccount) LiquidityPosition {
	position := LiquidityPosition{
		LPTokenAmount:        account.Amount,
		PositionMint:         account.Mint,
		PositionTokenAccount: account.Pubkey,
	}

	pda, _, err := dex.DerivePositionPDA(c.cfg.WhirlpoolProgramID, account.Mint)
	if err != nil {
		return position
	}
	raw, err := c.ledger.GetAccount(ctx, pda)
	if err != nil {
		return position
	}
	state, err := DecodePosition(pda, raw.Data)
	if err != nil {
		c.logger.Debug("position account undecodable", "position", pda, "err", err)
		return position
	}
	position.Pool = state.Pool
	position.LowerTick = state.TickLower
	position.UpperTick = state.TickUpper

	pool, err := c.GetPoolState(ctx, state.Pool)
	if err != nil {
		return position
	}
	position.TokenAAmount, position.TokenBAmount = PositionAmounts(state.Liquidity, pool.SqrtPrice, state.TickLower, state.TickUpper)
	return position
}

// PositionAmounts converts range liquidity into token amounts at the pool's
// current sqrt price, using float math on prices derived from ticks.
func PositionAmounts(liquidity, sqrtPriceX64 *big.Int, lowerTick, upperTick int32) (uint64, uint64) {
	if liquidity == nil || liquidity.Sign() <= 0 || sqrtPriceX64 == nil || lowerTick >= upperTick {
		return 0, 0
	}
	l := bigToFloat(liquidity)
	current := bigToFloat(sqrtPriceX64) / math.Exp2(64)
	lower := tickToSqrtPrice(lowerTick)
	upper := tickToSqrtPrice(upperTick)

	var amountA, amountB float64
	switch {
	case current <= lower:
		amountA = l * (upper - lower) / (lower * upper)
	case current >= upper:
		amountB = l * (upper - lower)
	default:
		amountA = l * (upper - current) / (current * upper)
		amountB = l * (current - lower)
	}
	return floatToUint64(amountA), floatToUint64(amountB)
}

func tickToSqrtPrice(tick int32) float64 {
	return math.Pow(1.0001, float64(tick)/2)
}

func floatToUint64(v float64) uint64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(v)
	}
}
