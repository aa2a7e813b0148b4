package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
	"github.com/coldbell/orca/backend/internal/whirlpool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "close log:", closeErr)
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// app lazily builds the whirlpool client so argument errors never touch
// config or the network.
type app struct {
	verbose     bool
	rpcURL      string
	keypairPath string

	cfg      config.TraderConfig
	logger   *slog.Logger
	closeLog func() error
	client   *whirlpool.Client
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "whirlctl",
		Short:        "Query and trade on concentrated-liquidity pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "emit logs using the LOG_* settings")
	root.PersistentFlags().StringVar(&a.rpcURL, "rpc", "", "override SOLANA_RPC_URL")
	root.PersistentFlags().StringVar(&a.keypairPath, "keypair", "", "override TRADER_KEYPAIR_PATH")

	root.AddCommand(
		newPoolCommand(a),
		newPoolsCommand(a),
		newQuoteCommand(a),
		newPriceCommand(a),
		newCandlesCommand(a),
		newHistoryCommand(a),
		newMovingAverageCommand(a),
		newHealthCommand(a),
		newMonitorCommand(a),
		newSwapCommand(a),
		newAddLiquidityCommand(a),
		newRemoveLiquidityCommand(a),
		newPositionsCommand(a),
		newBalancesCommand(a),
		newSupplyCommand(a),
		newMetadataCommand(a),
	)
	return root
}

func (a *app) whirlpool() (*whirlpool.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	cfg, err := config.LoadTraderConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if url := strings.TrimSpace(a.rpcURL); url != "" {
		cfg.RPC.RPCURL = url
	}
	if path := strings.TrimSpace(a.keypairPath); path != "" {
		cfg.KeypairPath = path
	}
	a.cfg = cfg

	a.logger = logging.Nop()
	a.closeLog = func() error { return nil }
	if a.verbose {
		logger, closeLog, err := logging.New("whirlctl", cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		a.logger, a.closeLog = logger, closeLog
	}

	client, err := whirlpool.New(ledger.New(cfg.RPC, logging.Component(a.logger, "ledger")), cfg.Whirlpool, logging.Component(a.logger, "whirlpool"))
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *app) signer() (*ledger.KeypairSigner, error) {
	if _, err := a.whirlpool(); err != nil {
		return nil, err
	}
	return ledger.LoadKeypairSigner(a.cfg.KeypairPath)
}

// owner resolves an explicit --owner flag, falling back to the keypair.
func (a *app) owner(raw string) (solana.PublicKey, error) {
	if strings.TrimSpace(raw) != "" {
		return whirlpool.ParseAddress(raw)
	}
	signer, err := a.signer()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return signer.PublicKey(), nil
}

func (a *app) slippage(flag float64) float64 {
	if flag >= 0 {
		return flag
	}
	return a.cfg.SlippagePercent
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	return a.closeLog()
}
