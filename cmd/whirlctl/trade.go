package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldbell/orca/backend/internal/whirlpool"
)

func newSwapCommand(a *app) *cobra.Command {
	var flags pairFlags
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap through the best pool for the pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, output, err := flags.mints()
			if err != nil {
				return err
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			result, err := a.client.Swap(cmd.Context(), signer, input, output, flags.amount, a.slippage(flags.slippage))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newAddLiquidityCommand(a *app) *cobra.Command {
	var (
		pool             string
		lower, upper     int32
		amountA, amountB uint64
	)
	cmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Open a position and deposit into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			poolAddress, err := whirlpool.ParseAddress(pool)
			if err != nil {
				return fmt.Errorf("--pool: %w", err)
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			position, sig, err := a.client.AddLiquidity(cmd.Context(), signer, whirlpool.AddLiquidityRequest{
				Pool:         poolAddress,
				LowerTick:    lower,
				UpperTick:    upper,
				TokenAmountA: amountA,
				TokenAmountB: amountB,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"signature": sig, "position": position})
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "pool address")
	cmd.Flags().Int32Var(&lower, "lower-tick", 0, "lower tick index")
	cmd.Flags().Int32Var(&upper, "upper-tick", 0, "upper tick index")
	cmd.Flags().Uint64Var(&amountA, "amount-a", 0, "maximum token A deposit")
	cmd.Flags().Uint64Var(&amountB, "amount-b", 0, "maximum token B deposit")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("lower-tick")
	_ = cmd.MarkFlagRequired("upper-tick")
	return cmd
}

func newRemoveLiquidityCommand(a *app) *cobra.Command {
	var positionMint string
	cmd := &cobra.Command{
		Use:   "remove-liquidity",
		Short: "Withdraw and close a position owned by the keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mint, err := whirlpool.ParseAddress(positionMint)
			if err != nil {
				return fmt.Errorf("--position-mint: %w", err)
			}
			signer, err := a.signer()
			if err != nil {
				return err
			}
			positions, err := a.client.GetLiquidityPositions(cmd.Context(), signer.PublicKey())
			if err != nil {
				return err
			}
			for _, position := range positions {
				if !position.PositionMint.Equals(mint) {
					continue
				}
				sig, err := a.client.RemoveLiquidity(cmd.Context(), signer, position)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"signature": sig, "position": position})
			}
			return fmt.Errorf("%w: no position with mint %s for %s", whirlpool.ErrNotFound, mint, signer.PublicKey())
		},
	}
	cmd.Flags().StringVar(&positionMint, "position-mint", "", "position NFT mint")
	_ = cmd.MarkFlagRequired("position-mint")
	return cmd
}

func newPositionsCommand(a *app) *cobra.Command {
	var ownerFlag string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List liquidity positions held by an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			owner, err := a.owner(ownerFlag)
			if err != nil {
				return err
			}
			positions, err := client.GetLiquidityPositions(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		},
	}
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "wallet address (default: keypair)")
	return cmd
}

func newBalancesCommand(a *app) *cobra.Command {
	var ownerFlag, mintFlag string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Token balances of an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.whirlpool()
			if err != nil {
				return err
			}
			owner, err := a.owner(ownerFlag)
			if err != nil {
				return err
			}
			if mintFlag != "" {
				mint, err := whirlpool.ParseAddress(mintFlag)
				if err != nil {
					return fmt.Errorf("--mint: %w", err)
				}
				amount, err := client.GetTokenBalance(cmd.Context(), owner, mint)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"owner": owner, "mint": mint, "amount": amount})
			}
			balances, err := client.GetAllTokenBalances(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balances)
		},
	}
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "wallet address (default: keypair)")
	cmd.Flags().StringVar(&mintFlag, "mint", "", "restrict to one mint")
	return cmd
}

func newSupplyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "supply <mint>",
		Short: "Total supply and decimals of a mint",
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
			supply, err := client.GetTokenSupply(cmd.Context(), mint)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), supply)
		},
	}
}

func newMetadataCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <mint>",
		Short: "Token name and symbol",
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
			metadata, err := client.GetTokenMetadata(cmd.Context(), mint)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), metadata)
		},
	}
}
