package whirlpool

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/dex"
)

const (
	unknownTokenName   = "Unknown"
	unknownTokenSymbol = "UNK"
)

type TokenMetadata struct {
	Mint   solana.PublicKey `json:"mint"`
	Name   string           `json:"name"`
	Symbol string           `json:"symbol"`
}

// GetTokenMetadata reads name and symbol from the mint's metadata account.
// Missing or short accounts yield the Unknown/UNK placeholders.
func (c *Client) GetTokenMetadata(ctx context.Context, mint solana.PublicKey) (TokenMetadata, error) {
	out := TokenMetadata{Mint: mint, Name: unknownTokenName, Symbol: unknownTokenSymbol}

	metadataPDA, _, err := dex.DeriveMetadataPDA(c.cfg.MetadataProgramID, mint)
	if err != nil {
		return out, err
	}
	account, err := c.ledger.GetAccount(ctx, metadataPDA)
	if err != nil {
		err = classifyLedgerError("metadata "+metadataPDA.String(), err)
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		return out, err
	}

	name, symbol := parseMetadataNameSymbol(account.Data)
	if name != "" {
		out.Name = name
	}
	if symbol != "" {
		out.Symbol = symbol
	}
	return out, nil
}

// parseMetadataNameSymbol reads fixed windows of a metadata v1 account.
// Padding and length-prefix bytes that fall inside a window are dropped.
func parseMetadataNameSymbol(data []byte) (string, string) {
	if len(data) <= 120 {
		return "", ""
	}
	return cleanMetadataString(data[69:109]), cleanMetadataString(data[109:119])
}

func cleanMetadataString(raw []byte) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, string(raw))
	return strings.TrimSpace(cleaned)
}
