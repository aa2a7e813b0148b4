package whirlpool

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
)

type fakeLedger struct {
	mu sync.Mutex

	accounts        map[solana.PublicKey]*ledger.Account
	programAccounts []ledger.KeyedAccount
	tokenAccounts   map[solana.PublicKey][]ledger.TokenAccount
	signatures      []ledger.SignatureInfo
	transactions    map[solana.Signature]*ledger.Transaction

	accountErr     error
	signaturesErrs []error
	submitErr      error

	accountCalls   int
	programCalls   int
	signatureCalls int
	submitted      []*solana.Transaction
	programFilters []ledger.ProgramAccountsFilter
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:      make(map[solana.PublicKey]*ledger.Account),
		tokenAccounts: make(map[solana.PublicKey][]ledger.TokenAccount),
		transactions:  make(map[solana.Signature]*ledger.Transaction),
	}
}

func (f *fakeLedger) setAccount(address solana.PublicKey, owner solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = &ledger.Account{Owner: owner, Data: data}
}

func (f *fakeLedger) GetAccount(_ context.Context, address solana.PublicKey) (*ledger.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	account, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
	}
	copied := *account
	return &copied, nil
}

func (f *fakeLedger) GetProgramAccounts(_ context.Context, _ solana.PublicKey, filter ledger.ProgramAccountsFilter) ([]ledger.KeyedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programCalls++
	f.programFilters = append(f.programFilters, filter)

	var out []ledger.KeyedAccount
	for _, item := range f.programAccounts {
		if filter.DataSize > 0 && uint64(len(item.Account.Data)) != filter.DataSize {
			continue
		}
		if !matchesMemcmp(item.Account.Data, filter.Memcmp) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func matchesMemcmp(data []byte, filters []ledger.MemcmpFilter) bool {
	for _, memcmp := range filters {
		end := int(memcmp.Offset) + len(memcmp.Bytes)
		if end > len(data) || string(data[memcmp.Offset:end]) != string(memcmp.Bytes) {
			return false
		}
	}
	return true
}

func (f *fakeLedger) GetTokenAccountsByOwner(_ context.Context, owner solana.PublicKey, filter ledger.TokenAccountFilter) ([]ledger.TokenAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.TokenAccount
	for _, account := range f.tokenAccounts[owner] {
		if filter.Mint != nil && !account.Mint.Equals(*filter.Mint) {
			continue
		}
		out = append(out, account)
	}
	return out, nil
}

func (f *fakeLedger) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1, 2, 3}, nil
}

func (f *fakeLedger) SubmitAndConfirm(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tx)
	if f.submitErr != nil {
		return solana.Signature{}, f.submitErr
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

func (f *fakeLedger) GetSignaturesForAddress(_ context.Context, _ solana.PublicKey, limit int) ([]ledger.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatureCalls++
	if len(f.signaturesErrs) > 0 {
		err := f.signaturesErrs[0]
		f.signaturesErrs = f.signaturesErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := f.signatures
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, sig solana.Signature) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[sig]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, sig)
	}
	return tx, nil
}

// addTransaction registers tx under a deterministic signature derived from seq.
func (f *fakeLedger) addTransaction(seq byte, tx *ledger.Transaction) solana.Signature {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sig solana.Signature
	sig[0] = seq
	sig[1] = 0xAB
	f.transactions[sig] = tx
	f.signatures = append(f.signatures, ledger.SignatureInfo{Signature: sig, BlockTime: tx.BlockTime})
	return sig
}

type poolFixture struct {
	address   solana.PublicKey
	mintA     solana.PublicKey
	mintB     solana.PublicKey
	sqrtPrice *big.Int
	liquidity *big.Int
	feeRate   uint16
	spacing   uint16
	growthA   *big.Int
	growthB   *big.Int
	length    int
}

func newPoolFixture() poolFixture {
	return poolFixture{
		address:   solana.NewWallet().PublicKey(),
		mintA:     solana.NewWallet().PublicKey(),
		mintB:     solana.NewWallet().PublicKey(),
		sqrtPrice: new(big.Int).Lsh(big.NewInt(1), 64),
		liquidity: big.NewInt(1_000_000),
		feeRate:   3000,
		spacing:   64,
		growthA:   big.NewInt(0),
		growthB:   big.NewInt(0),
		length:    PoolAccountLen,
	}
}

func (p poolFixture) bytes() []byte {
	raw := make([]byte, p.length)
	binary.LittleEndian.PutUint16(raw[offsetTickSpacing:], p.spacing)
	binary.LittleEndian.PutUint16(raw[offsetFeeRate:], p.feeRate)
	putU128(raw, offsetLiquidity, p.liquidity)
	putU128(raw, offsetSqrtPrice, p.sqrtPrice)
	copy(raw[offsetMintA:], p.mintA.Bytes())
	copy(raw[offsetMintB:], p.mintB.Bytes())
	putU128(raw, offsetFeeGrowthGlobalA, p.growthA)
	putU128(raw, offsetFeeGrowthGlobalB, p.growthB)
	return raw
}

func putU128(raw []byte, offset int, v *big.Int) {
	if offset+16 > len(raw) {
		return
	}
	be := v.FillBytes(make([]byte, 16))
	for i := 0; i < 16; i++ {
		raw[offset+i] = be[15-i]
	}
}

func (f *fakeLedger) addPool(p poolFixture) {
	raw := p.bytes()
	f.setAccount(p.address, config.DefaultWhirlpoolProgramID, raw)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programAccounts = append(f.programAccounts, ledger.KeyedAccount{
		Pubkey:  p.address,
		Account: ledger.Account{Owner: config.DefaultWhirlpoolProgramID, Data: raw},
	})
}

func testConfig() config.WhirlpoolConfig {
	cfg := config.DefaultWhirlpoolConfig()
	cfg.KlineRetryDelay = time.Millisecond
	cfg.MonitorPollInterval = 5 * time.Millisecond
	cfg.MonitorErrorBackoff = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, l *fakeLedger) *Client {
	t.Helper()
	client, err := New(l, testConfig(), logging.Nop())
	require.NoError(t, err)
	return client
}
