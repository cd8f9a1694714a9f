package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			def := a.registry.Default().ChainKey
			for _, n := range a.engine.Networks() {
				marker := " "
				if n.ChainKey == def {
					marker = "*"
				}
				kind := color.RedString("mainnet")
				if n.IsTestnet {
					kind = color.CyanString("testnet")
				}
				fmt.Printf("%s %-18s %-13s %-8s %s\n", marker, n.ChainKey, n.Family, kind, n.DisplayName)
			}
			return nil
		},
	}
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [network]",
		Short: "Connect the wallet to a network",
		Long: `Connect the configured local wallet to a network. Without an argument the
default network is used. The session is remembered for later commands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			key := a.registry.Default().ChainKey
			if len(args) == 1 {
				key = args[0]
			}
			ws, err := a.engine.Connect(cmd.Context(), key)
			if err != nil {
				return printFailure(err)
			}
			fmt.Printf("%s Connected\n", okMark)
			printSession(ws, a.network(ws.ChainKey))
			return nil
		},
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the wallet and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			// errors here only mean there is nothing to restore
			_, _ = a.restore(cmd.Context())
			a.engine.Disconnect(cmd.Context())
			fmt.Printf("%s Disconnected\n", okMark)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			ws, err := a.restore(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			color.New(color.Bold).Println("Wallet Session")
			fmt.Println("─────────────────────────────────────────────────────────")
			printSession(ws, a.network(ws.ChainKey))
			return nil
		},
	}
}

func newSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <network>",
		Short: "Move the session to another network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if _, err := a.restore(cmd.Context()); err != nil {
				return printFailure(err)
			}
			ws, err := a.engine.SwitchNetwork(cmd.Context(), args[0])
			if err != nil {
				return printFailure(err)
			}
			fmt.Printf("%s Switched to %s\n", okMark, ws.ChainKey)
			printSession(ws, a.network(ws.ChainKey))
			return nil
		},
	}
}
