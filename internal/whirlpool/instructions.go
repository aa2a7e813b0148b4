package whirlpool

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type Opcode uint8

const (
	OpcodeSwap              Opcode = 0x01
	OpcodeOpenPosition      Opcode = 0x08
	OpcodeIncreaseLiquidity Opcode = 0x09
	OpcodeDecreaseLiquidity Opcode = 0x0A
	OpcodeClosePosition     Opcode = 0x0B
)

func (o Opcode) String() string {
	switch o {
	case OpcodeSwap:
		return "swap"
	case OpcodeOpenPosition:
		return "open_position"
	case OpcodeIncreaseLiquidity:
		return "increase_liquidity"
	case OpcodeDecreaseLiquidity:
		return "decrease_liquidity"
	case OpcodeClosePosition:
		return "close_position"
	default:
		return fmt.Sprintf("opcode(0x%02x)", uint8(o))
	}
}

// InstructionRequest is a built, immutable pool instruction. It implements
// solana.Instruction.
type InstructionRequest struct {
	programID solana.PublicKey
	opcode    Opcode
	data      []byte
	accounts  solana.AccountMetaSlice
}

var _ solana.Instruction = (*InstructionRequest)(nil)

func (r *InstructionRequest) ProgramID() solana.PublicKey {
	return r.programID
}

func (r *InstructionRequest) Accounts() []*solana.AccountMeta {
	return r.accounts
}

func (r *InstructionRequest) Data() ([]byte, error) {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out, nil
}

func (r *InstructionRequest) Opcode() Opcode {
	return r.opcode
}

type SwapParams struct {
	Owner           solana.PublicKey
	Pool            solana.PublicKey
	InputAccount    solana.PublicKey
	OutputAccount   solana.PublicKey
	InputVault      solana.PublicKey
	OutputVault     solana.PublicKey
	InputAmount     uint64
	MinOutputAmount uint64
}

type OpenPositionParams struct {
	Owner                solana.PublicKey
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Pool                 solana.PublicKey
	LowerTick            int32
	UpperTick            int32
}

type IncreaseLiquidityParams struct {
	Owner                solana.PublicKey
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Pool                 solana.PublicKey
	TokenAccountA        solana.PublicKey
	TokenAccountB        solana.PublicKey
	VaultA               solana.PublicKey
	VaultB               solana.PublicKey
	TokenAmountA         uint64
	TokenAmountB         uint64
}

// PositionParams addresses an existing position for decrease and close.
type PositionParams struct {
	Owner                solana.PublicKey
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Pool                 solana.PublicKey
}

// InstructionBuilder encodes pool instructions. It never touches the network.
type InstructionBuilder struct {
	programID solana.PublicKey
}

func NewInstructionBuilder(programID solana.PublicKey) *InstructionBuilder {
	return &InstructionBuilder{programID: programID}
}

func (b *InstructionBuilder) Swap(p SwapParams) (*InstructionRequest, error) {
	return b.build(OpcodeSwap,
		func(enc *bin.Encoder) error {
			if err := enc.WriteUint64(p.InputAmount, binary.LittleEndian); err != nil {
				return err
			}
			return enc.WriteUint64(p.MinOutputAmount, binary.LittleEndian)
		},
		solana.AccountMetaSlice{
			solana.NewAccountMeta(b.programID, false, false),
			solana.NewAccountMeta(p.Owner, false, true),
			solana.NewAccountMeta(p.Pool, true, false),
			solana.NewAccountMeta(p.InputAccount, true, false),
			solana.NewAccountMeta(p.OutputAccount, true, false),
			solana.NewAccountMeta(p.InputVault, true, false),
			solana.NewAccountMeta(p.OutputVault, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
	)
}

func (b *InstructionBuilder) OpenPosition(p OpenPositionParams) (*InstructionRequest, error) {
	if p.LowerTick >= p.UpperTick {
		return nil, fmt.Errorf("%w: lower tick %d must be below upper tick %d", ErrValidation, p.LowerTick, p.UpperTick)
	}
	return b.build(OpcodeOpenPosition,
		func(enc *bin.Encoder) error {
			if err := enc.WriteInt32(p.LowerTick, binary.LittleEndian); err != nil {
				return err
			}
			return enc.WriteInt32(p.UpperTick, binary.LittleEndian)
		},
		solana.AccountMetaSlice{
			solana.NewAccountMeta(b.programID, false, false),
			solana.NewAccountMeta(p.Owner, false, true),
			solana.NewAccountMeta(p.PositionMint, true, true),
			solana.NewAccountMeta(p.PositionTokenAccount, true, false),
			solana.NewAccountMeta(p.Pool, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		},
	)
}

func (b *InstructionBuilder) IncreaseLiquidity(p IncreaseLiquidityParams) (*InstructionRequest, error) {
	return b.build(OpcodeIncreaseLiquidity,
		func(enc *bin.Encoder) error {
			if err := enc.WriteUint64(p.TokenAmountA, binary.LittleEndian); err != nil {
				return err
			}
			return enc.WriteUint64(p.TokenAmountB, binary.LittleEndian)
		},
		solana.AccountMetaSlice{
			solana.NewAccountMeta(b.programID, false, false),
			solana.NewAccountMeta(p.Owner, false, true),
			solana.NewAccountMeta(p.PositionTokenAccount, true, false),
			solana.NewAccountMeta(p.Pool, true, false),
			solana.NewAccountMeta(p.TokenAccountA, true, false),
			solana.NewAccountMeta(p.TokenAccountB, true, false),
			solana.NewAccountMeta(p.VaultA, true, false),
			solana.NewAccountMeta(p.VaultB, true, false),
			solana.NewAccountMeta(p.PositionMint, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	)
}

func (b *InstructionBuilder) DecreaseLiquidity(p PositionParams, liquidityAmount uint64) (*InstructionRequest, error) {
	return b.build(OpcodeDecreaseLiquidity,
		func(enc *bin.Encoder) error {
			return enc.WriteUint64(liquidityAmount, binary.LittleEndian)
		},
		b.positionAccounts(p),
	)
}

func (b *InstructionBuilder) ClosePosition(p PositionParams) (*InstructionRequest, error) {
	return b.build(OpcodeClosePosition, nil, b.positionAccounts(p))
}

func (b *InstructionBuilder) positionAccounts(p PositionParams) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(b.programID, false, false),
		solana.NewAccountMeta(p.Owner, false, true),
		solana.NewAccountMeta(p.PositionTokenAccount, true, false),
		solana.NewAccountMeta(p.Pool, true, false),
		solana.NewAccountMeta(p.PositionMint, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
}

func (b *InstructionBuilder) build(op Opcode, payload func(enc *bin.Encoder) error, accounts solana.AccountMetaSlice) (*InstructionRequest, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteUint8(uint8(op)); err != nil {
		return nil, fmt.Errorf("encode %s opcode: %w", op, err)
	}
	if payload != nil {
		if err := payload(enc); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
	}
	return &InstructionRequest{
		programID: b.programID,
		opcode:    op,
		data:      buf.Bytes(),
		accounts:  accounts,
	}, nil
}

// DecodeSwapAmounts splits a swap payload into its input and minimum output.
// Compiled swap instructions in transaction history share this layout.
func DecodeSwapAmounts(data []byte) (inputAmount, minOutputAmount uint64, err error) {
	if len(data) < 17 {
		return 0, 0, fmt.Errorf("%w: swap payload has %d bytes, need 17", ErrTooShort, len(data))
	}
	dec := bin.NewBinDecoder(data[1:17])
	if inputAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return 0, 0, fmt.Errorf("%w: input amount: %v", ErrDecode, err)
	}
	if minOutputAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return 0, 0, fmt.Errorf("%w: output amount: %v", ErrDecode, err)
	}
	return inputAmount, minOutputAmount, nil
}
