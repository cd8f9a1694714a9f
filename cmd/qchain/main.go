package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Jiyansh2006/q-chain2/internal/config"
)

var (
	promptKey bool
	noColor   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qchain",
		Short: "Multi-chain wallet session and quantum NFT minting",
		Long: `qchain connects a local wallet to an EVM or Algorand network, mints
quantum-hash NFTs and tracks submitted transactions until they are final.

Configuration is read from QCHAIN_* environment variables. Run
"qchain env" to list them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&promptKey, "prompt-key", false, "prompt for the EVM private key instead of reading it from the environment")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newEnvCmd(),
		newNetworksCmd(),
		newConnectCmd(),
		newDisconnectCmd(),
		newStatusCmd(),
		newSwitchCmd(),
		newBalanceCmd(),
		newAssetsCmd(),
		newMintCmd(),
		newVerifyCmd(),
		newSendCmd(),
		newRepollCmd(),
		newPendingCmd(),
		newRecoverCmd(),
	)

	root.SetErr(os.Stderr)
	cobra.OnFinalize(func() {
		if current != nil {
			current.close()
		}
	})
	return root
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List supported environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Usage(); err != nil {
				return fmt.Errorf("failed to print usage: %w", err)
			}
			return nil
		},
	}
}
