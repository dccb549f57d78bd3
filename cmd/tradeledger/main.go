package main

import (
	"context"
	"fmt"
	"os"

	"TradeLedger/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "tradeledger",
		Short:         "Deterministic token exchange and derivatives ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; TL_* environment variables override it")

	load := func() (config.Config, error) { return config.Load(configPath) }
	root.AddCommand(
		newRunCmd(load),
		newVerifyCmd(load),
		newPublishCmd(load),
		newDecodeCmd(),
	)
	return root
}
