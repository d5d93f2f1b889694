package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"poolrewards/deploy/ledger"
)

func newLedgerCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or extend a deployment ledger",
	}
	cmd.PersistentFlags().StringVar(&path, "file", "data/rewardsd/deployments.json", "deployment ledger path")

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print one ledger record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.Open(path)
			if err != nil {
				return err
			}
			rec, ok := l.Get(args[0])
			if !ok {
				return fmt.Errorf("no record named %q", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return enc.Encode(rec)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List record names and addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := ledger.Open(path)
			if err != nil {
				return err
			}
			for _, name := range l.Names() {
				rec, _ := l.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, rec.Address)
			}
			return nil
		},
	}

	var (
		kind string
		meta []string
	)
	write := &cobra.Command{
		Use:   "write <name> <address>",
		Short: "Record a deployment unless the name already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[1]) {
				return fmt.Errorf("invalid address %q", args[1])
			}
			metadata := make(map[string]string, len(meta))
			for _, kv := range meta {
				key, value, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("metadata %q must be key=value", kv)
				}
				metadata[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			if len(metadata) == 0 {
				metadata = nil
			}
			l, err := ledger.Open(path)
			if err != nil {
				return err
			}
			written, err := l.Write(ledger.Record{
				Name:       args[0],
				Address:    common.HexToAddress(args[1]).Hex(),
				Kind:       kind,
				DeployedAt: time.Now().Unix(),
				Metadata:   metadata,
			})
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already recorded, left unchanged\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s\n", args[0])
			return nil
		},
	}
	write.Flags().StringVar(&kind, "kind", "", "record kind")
	write.Flags().StringArrayVar(&meta, "meta", nil, "metadata entry key=value (repeatable)")

	cmd.AddCommand(get, list, write)
	return cmd
}
