package ledger

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/logging"
)

const parsedTransactionJSON = `{
  "slot": 42,
  "blockTime": 1700000000,
  "meta": {"fee": 5000, "err": null, "logMessages": ["Program log: swap amount: 1500"]},
  "transaction": {
    "signatures": ["sig-1"],
    "message": {
      "accountKeys": [
        {"pubkey": "9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP", "signer": true, "writable": true},
        "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
      ],
      "instructions": [
        {"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
         "parsed": {"type": "transfer", "info": {"amount": "10"}}},
        {"programIdIndex": 1, "accounts": [0, 1], "data": "3Bxs4h24hBtQy9rw"},
        {"program": "spl-memo", "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "hello"}
      ]
    }
  }
}`

func TestRawTransactionConversion(t *testing.T) {
	var raw rawTransaction
	require.NoError(t, json.Unmarshal([]byte(parsedTransactionJSON), &raw))
	tx := raw.toTransaction()

	assert.Equal(t, "sig-1", tx.Signature)
	assert.Equal(t, uint64(42), tx.Slot)
	require.NotNil(t, tx.BlockTime)
	assert.Equal(t, int64(1700000000), *tx.BlockTime)
	require.NotNil(t, tx.Fee)
	assert.Equal(t, uint64(5000), *tx.Fee)
	assert.False(t, tx.Failed)
	assert.Equal(t, []string{
		"9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP",
		"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	}, tx.AccountKeys)

	require.Len(t, tx.Instructions, 3)
	assert.True(t, tx.Instructions[0].IsParsed())
	assert.Equal(t, "spl-token", tx.Instructions[0].Program)

	compiled := tx.Instructions[1]
	assert.False(t, compiled.IsParsed())
	assert.Equal(t, "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc", compiled.ProgramID)
	assert.Equal(t, "3Bxs4h24hBtQy9rw", compiled.Data)
	assert.Len(t, compiled.Accounts, 2)

	assert.False(t, tx.Instructions[2].IsParsed(), "string payloads are not field maps")
}

func TestRawTransactionFailedMeta(t *testing.T) {
	var raw rawTransaction
	require.NoError(t, json.Unmarshal([]byte(`{"slot":1,"meta":{"err":{"InstructionError":[0,"Custom"]}},"transaction":{"signatures":[],"message":{"accountKeys":[],"instructions":[]}}}`), &raw))
	tx := raw.toTransaction()
	assert.True(t, tx.Failed)
	assert.Nil(t, tx.Fee)
}

func TestSignTransactionFillsEverySigner(t *testing.T) {
	payer, err := NewRandomSigner()
	require.NoError(t, err)
	cosigner, err := NewRandomSigner()
	require.NoError(t, err)

	ix := solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer.PublicKey(), true, true),
			solana.NewAccountMeta(cosigner.PublicKey(), true, true),
		},
		[]byte{1},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	require.Error(t, SignTransaction(tx, payer), "cosigner missing")
	require.NoError(t, SignTransaction(tx, payer, cosigner))
	require.Len(t, tx.Signatures, 2)
	require.NoError(t, tx.VerifySignatures())
}

func TestDecodeTokenAccountTooShort(t *testing.T) {
	_, err := DecodeTokenAccount([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestGetTokenAccountsByOwnerSkipsAccountsWithoutData(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	tokenAccount := solana.NewWallet().PublicKey()

	data := make([]byte, 165)
	copy(data[0:32], mint.Bytes())
	copy(data[32:64], owner.Bytes())
	binary.LittleEndian.PutUint64(data[64:72], 4_200)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "getTokenAccountsByOwner", req.Method)

		result := map[string]any{
			"context": map[string]any{"slot": 7},
			"value": []any{
				map[string]any{
					"pubkey":  solana.NewWallet().PublicKey().String(),
					"account": map[string]any{"lamports": 1, "owner": solana.TokenProgramID.String(), "executable": false, "rentEpoch": 0},
				},
				map[string]any{
					"pubkey": tokenAccount.String(),
					"account": map[string]any{
						"lamports": 1, "owner": solana.TokenProgramID.String(), "executable": false, "rentEpoch": 0,
						"data": []string{base64.StdEncoding.EncodeToString(data), "base64"},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	client := NewWithRPC(rpc.New(server.URL), config.RPCConfig{}, logging.Nop())
	accounts, err := client.GetTokenAccountsByOwner(t.Context(), owner, TokenAccountFilter{Mint: &mint})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, tokenAccount, accounts[0].Pubkey)
	assert.Equal(t, mint, accounts[0].Mint)
	assert.Equal(t, owner, accounts[0].Owner)
	assert.Equal(t, uint64(4_200), accounts[0].Amount)
}
