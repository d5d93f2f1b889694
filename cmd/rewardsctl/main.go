package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const programName = "rewardsctl"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operator tooling for the pool rewards engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLedgerCommand(),
		newCurveCommand(),
		newConvertCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
