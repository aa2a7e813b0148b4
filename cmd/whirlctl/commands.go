package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

type poolView struct {
	Address        solana.PublicKey `json:"address"`
	MintA          solana.PublicKey `json:"mint_a"`
	MintB          solana.PublicKey `json:"mint_b"`
	VaultA         solana.PublicKey `json:"vault_a"`
	VaultB         solana.PublicKey `json:"vault_b"`
	LPMint         solana.PublicKey `json:"lp_mint"`
	FeeNumerator   uint64           `json:"fee_numerator"`
	FeeDenominator uint64           `json:"fee_denominator"`
	TickSpacing    uint16           `json:"tick_spacing"`
	Liquidity      string           `json:"liquidity"`
	SqrtPrice      string           `json:"sqrt_price"`
	Price          float64          `json:"price"`
}

func newPoolView(pool *whirlpool.PoolState) poolView {
	view := poolView{
		Address:        pool.Address,
		MintA:          pool.MintA,
		MintB:          pool.MintB,
		VaultA:         pool.VaultA,
		VaultB:         pool.VaultB,
		LPMint:         pool.LPMint,
		FeeNumerator:   pool.FeeNumerator,
		FeeDenominator: pool.FeeDenominator,
		TickSpacing:    pool.TickSpacing,
		Liquidity:      pool.Liquidity.String(),
		SqrtPrice:      pool.SqrtPrice.String(),
	}
	if price, err := pool.Price(); err == nil {
		view.Price = price
	}
	return view
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addressArg(args []string) (solana.PublicKey, error) {
	return whirlpool.ParseAddress(args[0])
}

func newPoolCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pool <address>",
		Short: "Decode a pool account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			pool, err := client.GetPoolState(cmd.Context(), address)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newPoolView(pool))
		},
	}
}

func newPoolsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pools <mint>",
		Short: "List pools trading a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			pools, err := client.FindPoolsByToken(cmd.Context(), mint)
			if err != nil {
				return err
			}
			views := make([]poolView, 0, len(pools))
			for _, pool := range pools {
				views = append(views, newPoolView(pool))
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
}

type pairFlags struct {
	input    string
	output   string
	amount   uint64
	slippage float64
}

func (f *pairFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.input, "in", "", "input mint")
	cmd.Flags().StringVar(&f.output, "out", "", "output mint")
	cmd.Flags().Uint64Var(&f.amount, "amount", 0, "input amount in base units")
	cmd.Flags().Float64Var(&f.slippage, "slippage", -1, "slippage percent (default TRADER_SLIPPAGE_PERCENT)")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *pairFlags) mints() (solana.PublicKey, solana.PublicKey, error) {
	input, err := whirlpool.ParseAddress(f.input)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("--in: %w", err)
	}
	output, err := whirlpool.ParseAddress(f.output)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("--out: %w", err)
	}
	return input, output, nil
}

func newQuoteCommand(a *app) *cobra.Command {
	var flags pairFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap without submitting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, output, err := flags.mints()
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			quote, pool, err := client.GetQuote(cmd.Context(), input, output, flags.amount, a.slippage(flags.slippage))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"pool": pool.Address, "quote": quote})
		},
	}
	flags.register(cmd)
	return cmd
}

func newPriceCommand(a *app) *cobra.Command {
	var base, quote string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price of base in units of quote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseMint, err := whirlpool.ParseAddress(base)
			if err != nil {
				return fmt.Errorf("--base: %w", err)
			}
			quoteMint, err := whirlpool.ParseAddress(quote)
			if err != nil {
				return fmt.Errorf("--quote: %w", err)
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			price, err := client.GetTokenPrice(cmd.Context(), baseMint, quoteMint)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"base": baseMint, "quote": quoteMint, "price": price})
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base mint")
	cmd.Flags().StringVar(&quote, "quote", "", "quote mint")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("quote")
	return cmd
}

func newCandlesCommand(a *app) *cobra.Command {
	var timeframe, limit int
	cmd := &cobra.Command{
		Use:   "candles <pool>",
		Short: "Build OHLCV candles from recent pool transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := whirlpool.ValidateKlineRequest(timeframe, limit); err != nil {
				return err
			}
			pool, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			candles, err := client.GetKlineData(cmd.Context(), pool, timeframe, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), candles)
		},
	}
	cmd.Flags().IntVar(&timeframe, "timeframe", 5, "candle width in minutes (1-1440)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum candles (0-500)")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <pool>",
		Short: "Prices extracted from recent pool transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			points, err := client.PriceHistory(cmd.Context(), pool, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), points)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "transactions to replay")
	return cmd
}

func newMovingAverageCommand(a *app) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "ma <pool>",
		Short: "Simple moving average of recent prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			value, err := client.MovingAverage(cmd.Context(), pool, period)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"pool": pool, "period": period, "value": value})
		},
	}
	cmd.Flags().IntVar(&period, "period", 20, "number of points to average")
	return cmd
}

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health <pool>",
		Short: "Liquidity, estimated volume and health score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			health, err := client.PoolHealth(cmd.Context(), pool)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), health)
		},
	}
}

func newMonitorCommand(a *app) *cobra.Command {
	var minChange float64
	cmd := &cobra.Command{
		Use:   "monitor <pool>",
		Short: "Print price moves until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := addressArg(args)
			if err != nil {
				return err
			}
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			handle, err := client.MonitorPrice(cmd.Context(), pool, minChange, func(update whirlpool.PriceUpdate) {
				_ = printJSON(out, update)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "monitoring %s (id %s)\n", pool, handle.ID())

			select {
			case <-cmd.Context().Done():
				handle.Shutdown()
			case <-handle.Done():
				return fmt.Errorf("monitor for %s stopped after repeated errors", pool)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minChange, "min-change", 0.5, "minimum change percent to report")
	return cmd
}
