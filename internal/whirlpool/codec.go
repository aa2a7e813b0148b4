package whirlpool

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/dex"
)

// Whirlpool account layout. Offsets include the 8 byte account discriminator.
const (
	MinPoolAccountLen = 300
	PoolAccountLen    = 653

	offsetTickSpacing      = 41
	offsetFeeRate          = 45
	offsetLiquidity        = 49
	offsetSqrtPrice        = 65
	offsetMintA            = 101
	offsetFeeGrowthGlobalA = 165
	offsetMintB            = 181
	offsetFeeGrowthGlobalB = 245

	FeeRateDenominator = 1_000_000
)

// PoolState is one decoded snapshot of a pool account. It is rebuilt on
// every decode and never mutated afterwards.
type PoolState struct {
	ProgramID      solana.PublicKey
	Address        solana.PublicKey
	MintA          solana.PublicKey
	MintB          solana.PublicKey
	VaultA         solana.PublicKey
	VaultB         solana.PublicKey
	LPMint         solana.PublicKey
	FeeAccount     solana.PublicKey
	FeeNumerator   uint64
	FeeDenominator uint64
	TickSpacing    uint16
	// Liquidity, SqrtPrice (Q64.64) and the fee growth accumulators are u128.
	Liquidity        *big.Int
	SqrtPrice        *big.Int
	FeeGrowthGlobalA *big.Int
	FeeGrowthGlobalB *big.Int
}

// HasPair reports whether the pool trades a against b in either orientation.
func (p *PoolState) HasPair(a, b solana.PublicKey) bool {
	return (p.MintA.Equals(a) && p.MintB.Equals(b)) || (p.MintA.Equals(b) && p.MintB.Equals(a))
}

func (p *PoolState) TotalFeeGrowth() *big.Int {
	return new(big.Int).Add(p.FeeGrowthGlobalA, p.FeeGrowthGlobalB)
}

// DecodePool decodes raw pool account data owned by programID.
func DecodePool(programID, address solana.PublicKey, raw []byte) (*PoolState, error) {
	if len(raw) < MinPoolAccountLen {
		return nil, fmt.Errorf("%w: pool %s has %d bytes, need %d", ErrTooShort, address, len(raw), MinPoolAccountLen)
	}

	tickSpacing, err := readU16(raw, offsetTickSpacing)
	if err != nil {
		return nil, err
	}
	feeRate, err := readU16(raw, offsetFeeRate)
	if err != nil {
		return nil, err
	}
	liquidity, err := readU128(raw, offsetLiquidity)
	if err != nil {
		return nil, err
	}
	sqrtPrice, err := readU128(raw, offsetSqrtPrice)
	if err != nil {
		return nil, err
	}
	mintA, err := readPubkey(raw, offsetMintA)
	if err != nil {
		return nil, err
	}
	mintB, err := readPubkey(raw, offsetMintB)
	if err != nil {
		return nil, err
	}

	state := &PoolState{
		ProgramID:        programID,
		Address:          address,
		MintA:            mintA,
		MintB:            mintB,
		FeeNumerator:     uint64(feeRate),
		FeeDenominator:   FeeRateDenominator,
		TickSpacing:      tickSpacing,
		Liquidity:        liquidity,
		SqrtPrice:        sqrtPrice,
		FeeGrowthGlobalA: readOptionalU128(raw, offsetFeeGrowthGlobalA),
		FeeGrowthGlobalB: readOptionalU128(raw, offsetFeeGrowthGlobalB),
	}

	if state.VaultA, _, err = dex.DeriveTokenVaultPDA(programID, address, mintA); err != nil {
		return nil, fmt.Errorf("derive vault A: %w", err)
	}
	if state.VaultB, _, err = dex.DeriveTokenVaultPDA(programID, address, mintB); err != nil {
		return nil, fmt.Errorf("derive vault B: %w", err)
	}
	if state.LPMint, _, err = dex.DeriveLPMintPDA(programID, address); err != nil {
		return nil, fmt.Errorf("derive lp mint: %w", err)
	}
	if state.FeeAccount, _, err = dex.DeriveFeeAccountPDA(programID, address); err != nil {
		return nil, fmt.Errorf("derive fee account: %w", err)
	}
	return state, nil
}

// GetPoolState fetches and decodes one pool account.
func (c *Client) GetPoolState(ctx context.Context, address solana.PublicKey) (*PoolState, error) {
	account, err := c.ledger.GetAccount(ctx, address)
	if err != nil {
		return nil, classifyLedgerError("get pool "+address.String(), err)
	}
	return DecodePool(c.cfg.WhirlpoolProgramID, address, account.Data)
}

func readPubkey(data []byte, offset int) (solana.PublicKey, error) {
	if len(data) < offset+32 {
		return solana.PublicKey{}, fmt.Errorf("%w: truncated pubkey at %d", ErrTooShort, offset)
	}
	return solana.PublicKeyFromBytes(data[offset : offset+32]), nil
}

func readU16(data []byte, offset int) (uint16, error) {
	if len(data) < offset+2 {
		return 0, fmt.Errorf("%w: truncated u16 at %d", ErrTooShort, offset)
	}
	return binary.LittleEndian.Uint16(data[offset : offset+2]), nil
}

func readU64(data []byte, offset int) (uint64, error) {
	if len(data) < offset+8 {
		return 0, fmt.Errorf("%w: truncated u64 at %d", ErrTooShort, offset)
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), nil
}

func readI32(data []byte, offset int) (int32, error) {
	if len(data) < offset+4 {
		return 0, fmt.Errorf("%w: truncated i32 at %d", ErrTooShort, offset)
	}
	return int32(binary.LittleEndian.Uint32(data[offset : offset+4])), nil
}

func readU128(data []byte, offset int) (*big.Int, error) {
	if len(data) < offset+16 {
		return nil, fmt.Errorf("%w: truncated u128 at %d", ErrTooShort, offset)
	}
	value, err := bin.NewBinDecoder(data[offset : offset+16]).ReadUint128(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: u128 at %d: %v", ErrDecode, offset, err)
	}
	return value.BigInt(), nil
}

// readOptionalU128 yields zero when the buffer stops before the field.
func readOptionalU128(data []byte, offset int) *big.Int {
	value, err := readU128(data, offset)
	if err != nil {
		return new(big.Int)
	}
	return value
}
