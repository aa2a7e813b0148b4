package dex

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")
	testPool    = solana.MustPublicKeyFromBase58("HJPjoWUrhoZzkNfRpHuieeFk9WcZWjwy6PBjZ81ngndJ")
	testMint    = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

func TestPoolPDAsAreStableAndDistinct(t *testing.T) {
	vault1, bump1, err := DeriveTokenVaultPDA(testProgram, testPool, testMint)
	require.NoError(t, err)
	vault2, bump2, err := DeriveTokenVaultPDA(testProgram, testPool, testMint)
	require.NoError(t, err)
	assert.Equal(t, vault1, vault2)
	assert.Equal(t, bump1, bump2)

	lpMint, _, err := DeriveLPMintPDA(testProgram, testPool)
	require.NoError(t, err)
	feeAccount, _, err := DeriveFeeAccountPDA(testProgram, testPool)
	require.NoError(t, err)

	assert.NotEqual(t, vault1, lpMint)
	assert.NotEqual(t, lpMint, feeAccount)
	assert.NotEqual(t, vault1, feeAccount)
}

func TestAssociatedTokenAddressMatchesLibrary(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58("9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP")
	got, err := DeriveAssociatedTokenAddress(owner, testMint)
	require.NoError(t, err)
	want, _, err := solana.FindAssociatedTokenAddress(owner, testMint)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
