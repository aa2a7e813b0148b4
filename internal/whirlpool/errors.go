package whirlpool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/ledger"
)

var (
	// ErrConnectivity means the ledger was unreachable or not configured.
	ErrConnectivity = errors.New("ledger connectivity")
	ErrDecode       = errors.New("decode")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation")
	ErrSubmission   = errors.New("transaction submission")
	ErrComputation  = errors.New("computation")

	ErrTooShort       = fmt.Errorf("%w: buffer too short", ErrDecode)
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", ErrDecode)
	ErrNoPoolFound    = fmt.Errorf("%w: no pool for token pair", ErrNotFound)
)

// ParseAddress parses a base58 address.
func ParseAddress(raw string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, raw, err)
	}
	return pk, nil
}

// classifyLedgerError maps adapter failures onto the package taxonomy.
func classifyLedgerError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	case errors.Is(err, ledger.ErrTransactionFailed):
		return fmt.Errorf("%s: %w: %v", op, ErrSubmission, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrConnectivity, err)
	}
}
