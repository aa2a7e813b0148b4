package whirlpool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
)

// Ledger is the RPC surface the client depends on. *ledger.Client satisfies it.
type Ledger interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*ledger.Account, error)
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filter ledger.ProgramAccountsFilter) ([]ledger.KeyedAccount, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, filter ledger.TokenAccountFilter) ([]ledger.TokenAccount, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int) ([]ledger.SignatureInfo, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*ledger.Transaction, error)
}

type Client struct {
	ledger    Ledger
	cfg       config.WhirlpoolConfig
	logger    *slog.Logger
	builder   *InstructionBuilder
	poolCache *expirable.LRU[solana.PublicKey, []solana.PublicKey]
	// AMM program ids whose compiled instructions carry swap amounts.
	ammPrograms map[string]struct{}
}

func New(l Ledger, cfg config.WhirlpoolConfig, logger *slog.Logger) (*Client, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: ledger client not configured", ErrConnectivity)
	}
	cfg = withDefaults(cfg)

	c := &Client{
		ledger:    l,
		cfg:       cfg,
		logger:    logging.Component(logger, "whirlpool"),
		builder:   NewInstructionBuilder(cfg.WhirlpoolProgramID),
		poolCache: expirable.NewLRU[solana.PublicKey, []solana.PublicKey](cfg.PoolCacheSize, nil, cfg.PoolCacheTTL),
		ammPrograms: map[string]struct{}{
			cfg.WhirlpoolProgramID.String():  {},
			cfg.StableSwapProgramID.String(): {},
			cfg.SwapProgramV1ID.String():     {},
			cfg.SwapProgramV2ID.String():     {},
		},
	}
	return c, nil
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.cfg.WhirlpoolProgramID
}

func (c *Client) Builder() *InstructionBuilder {
	return c.builder
}

func withDefaults(cfg config.WhirlpoolConfig) config.WhirlpoolConfig {
	def := config.DefaultWhirlpoolConfig()
	if cfg.WhirlpoolProgramID.IsZero() {
		cfg.WhirlpoolProgramID = def.WhirlpoolProgramID
	}
	if cfg.StableSwapProgramID.IsZero() {
		cfg.StableSwapProgramID = def.StableSwapProgramID
	}
	if cfg.SwapProgramV1ID.IsZero() {
		cfg.SwapProgramV1ID = def.SwapProgramV1ID
	}
	if cfg.SwapProgramV2ID.IsZero() {
		cfg.SwapProgramV2ID = def.SwapProgramV2ID
	}
	if cfg.MetadataProgramID.IsZero() {
		cfg.MetadataProgramID = def.MetadataProgramID
	}
	if cfg.PoolCacheTTL <= 0 {
		cfg.PoolCacheTTL = def.PoolCacheTTL
	}
	if cfg.PoolCacheSize <= 0 {
		cfg.PoolCacheSize = def.PoolCacheSize
	}
	if cfg.TxSampleSize <= 0 {
		cfg.TxSampleSize = def.TxSampleSize
	}
	if cfg.TxSampleConcurrency <= 0 {
		cfg.TxSampleConcurrency = def.TxSampleConcurrency
	}
	if cfg.KlineMaxRetries == 0 {
		cfg.KlineMaxRetries = def.KlineMaxRetries
	}
	if cfg.KlineRetryDelay <= 0 {
		cfg.KlineRetryDelay = def.KlineRetryDelay
	}
	if cfg.MonitorPollInterval <= 0 {
		cfg.MonitorPollInterval = def.MonitorPollInterval
	}
	if cfg.MonitorErrorBackoff <= 0 {
		cfg.MonitorErrorBackoff = def.MonitorErrorBackoff
	}
	if cfg.MonitorMaxErrors <= 0 {
		cfg.MonitorMaxErrors = def.MonitorMaxErrors
	}
	return cfg
}
