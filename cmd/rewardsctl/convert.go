package main

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"poolrewards/native/stakingrewards"
)

func parseAmountFlag(name, raw string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func newConvertCommand() *cobra.Command {
	var amount, staked, supply, vault string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Print the vault shares burned to release an amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values := make([]*uint256.Int, 0, 4)
			for _, f := range []struct{ name, raw string }{
				{"amount", amount}, {"staked", staked}, {"supply", supply}, {"vault", vault},
			} {
				v, err := parseAmountFlag(f.name, f.raw)
				if err != nil {
					return err
				}
				values = append(values, v)
			}
			shares := stakingrewards.SharesToBurn(values[0], values[1], values[2], values[3])
			fmt.Fprintln(cmd.OutOrStdout(), shares.Dec())
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "rewards to release in base units")
	cmd.Flags().StringVar(&staked, "staked", "", "pool staked balance")
	cmd.Flags().StringVar(&supply, "supply", "", "pool share supply")
	cmd.Flags().StringVar(&vault, "vault", "", "shares held by the rewards vault")
	return cmd
}
