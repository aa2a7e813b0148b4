package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

type Signer interface {
	PublicKey() solana.PublicKey
	Sign(message []byte) (solana.Signature, error)
}

type KeypairSigner struct {
	key solana.PrivateKey
}

func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

func NewRandomSigner() (*KeypairSigner, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeypairSigner{key: key}, nil
}

// LoadKeypairSigner reads a solana-keygen JSON file.
func LoadKeypairSigner(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", path, err)
	}
	return &KeypairSigner{key: key}, nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) Sign(message []byte) (solana.Signature, error) {
	return s.key.Sign(message)
}

// SignTransaction fills every required signature slot from signers. A
// required signer with no matching Signer is an error.
func SignTransaction(tx *solana.Transaction, signers ...Signer) error {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return fmt.Errorf("message requires %d signatures but has %d keys", required, len(tx.Message.AccountKeys))
	}

	signatures := make([]solana.Signature, required)
	for i := 0; i < required; i++ {
		key := tx.Message.AccountKeys[i]
		signer := findSigner(signers, key)
		if signer == nil {
			return fmt.Errorf("missing signer for %s", key)
		}
		sig, err := signer.Sign(message)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", key, err)
		}
		signatures[i] = sig
	}
	tx.Signatures = signatures
	return nil
}

func findSigner(signers []Signer, key solana.PublicKey) Signer {
	for _, signer := range signers {
		if signer != nil && signer.PublicKey().Equals(key) {
			return signer
		}
	}
	return nil
}
