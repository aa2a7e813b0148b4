package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Whirlpool pool-scoped accounts. All of them are a pure function of
// (program id, pool, mint) so callers may recompute instead of caching.

func DeriveTokenVaultPDA(whirlpoolProgramID, pool, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("token_vault"), pool.Bytes(), mint.Bytes()}, whirlpoolProgramID)
}

func DeriveLPMintPDA(whirlpoolProgramID, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("lp_mint"), pool.Bytes()}, whirlpoolProgramID)
}

func DeriveFeeAccountPDA(whirlpoolProgramID, pool solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("fee_account"), pool.Bytes()}, whirlpoolProgramID)
}

func DerivePositionPDA(whirlpoolProgramID, positionMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("position"), positionMint.Bytes()}, whirlpoolProgramID)
}

// DeriveMetadataPDA locates the token-metadata account for mint.
func DeriveMetadataPDA(metadataProgramID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("metadata"), metadataProgramID.Bytes(), mint.Bytes()}, metadataProgramID)
}

func DeriveAssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return ata, nil
}
