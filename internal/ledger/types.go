package ledger

import (
	"encoding/json"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionFailed   = errors.New("transaction failed")
)

type Account struct {
	Owner      solana.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
}

type KeyedAccount struct {
	Pubkey  solana.PublicKey
	Account Account
}

// MemcmpFilter matches Bytes at Offset of the account data.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// ProgramAccountsFilter is ANDed by the node: every memcmp must match and,
// when DataSize is non-zero, the account length must equal it.
type ProgramAccountsFilter struct {
	Memcmp   []MemcmpFilter
	DataSize uint64
}

// TokenAccountFilter selects token accounts by mint, or by owning token
// program when Mint is nil.
type TokenAccountFilter struct {
	Mint      *solana.PublicKey
	ProgramID *solana.PublicKey
}

type TokenAccount struct {
	Pubkey solana.PublicKey
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *int64
	Failed    bool
}

// Transaction is the jsonParsed view of a confirmed transaction, reduced to
// the fields price and volume extraction read.
type Transaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *int64
	Fee          *uint64
	Failed       bool
	LogMessages  []string
	AccountKeys  []string
	Instructions []Instruction
}

// Instruction is either parsed (Program and Parsed set) or compiled
// (Data set, base58 or base64 encoded).
type Instruction struct {
	ProgramID string
	Program   string
	Parsed    map[string]any
	Data      string
	Accounts  []string
}

func (i Instruction) IsParsed() bool {
	return i.Parsed != nil
}

type rawTransaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Fee         *uint64         `json:"fee"`
		Err         json.RawMessage `json:"err"`
		LogMessages []string        `json:"logMessages"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []rawAccountKey  `json:"accountKeys"`
			Instructions []rawInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// rawAccountKey accepts both the legacy string form and the jsonParsed
// {"pubkey": ...} object form.
type rawAccountKey string

func (k *rawAccountKey) UnmarshalJSON(body []byte) error {
	var plain string
	if err := json.Unmarshal(body, &plain); err == nil {
		*k = rawAccountKey(plain)
		return nil
	}
	var object struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(body, &object); err != nil {
		return err
	}
	*k = rawAccountKey(object.Pubkey)
	return nil
}

type rawInstruction struct {
	Program        string            `json:"program"`
	ProgramID      string            `json:"programId"`
	ProgramIDIndex *int              `json:"programIdIndex"`
	Parsed         json.RawMessage   `json:"parsed"`
	Data           string            `json:"data"`
	Accounts       []json.RawMessage `json:"accounts"`
}

func (raw *rawTransaction) toTransaction() *Transaction {
	out := &Transaction{
		Slot:      raw.Slot,
		BlockTime: raw.BlockTime,
	}
	if len(raw.Transaction.Signatures) > 0 {
		out.Signature = raw.Transaction.Signatures[0]
	}
	if raw.Meta != nil {
		out.Fee = raw.Meta.Fee
		out.LogMessages = raw.Meta.LogMessages
		out.Failed = len(raw.Meta.Err) > 0 && string(raw.Meta.Err) != "null"
	}

	keys := make([]string, 0, len(raw.Transaction.Message.AccountKeys))
	for _, key := range raw.Transaction.Message.AccountKeys {
		keys = append(keys, string(key))
	}
	out.AccountKeys = keys

	for _, ix := range raw.Transaction.Message.Instructions {
		item := Instruction{
			ProgramID: ix.ProgramID,
			Program:   ix.Program,
			Data:      ix.Data,
		}
		if item.ProgramID == "" && ix.ProgramIDIndex != nil && *ix.ProgramIDIndex >= 0 && *ix.ProgramIDIndex < len(keys) {
			item.ProgramID = keys[*ix.ProgramIDIndex]
		}
		if len(ix.Parsed) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(ix.Parsed, &parsed); err == nil {
				item.Parsed = parsed
			}
		}
		for _, acc := range ix.Accounts {
			var key string
			if err := json.Unmarshal(acc, &key); err == nil {
				item.Accounts = append(item.Accounts, key)
				continue
			}
			var index int
			if err := json.Unmarshal(acc, &index); err == nil && index >= 0 && index < len(keys) {
				item.Accounts = append(item.Accounts, keys[index])
			}
		}
		out.Instructions = append(out.Instructions, item)
	}
	return out
}
