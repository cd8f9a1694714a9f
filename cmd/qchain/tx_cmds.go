package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	qchain "github.com/Jiyansh2006/q-chain2"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the native balance of the session address",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			ws, err := a.requireSession(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			balance, err := a.engine.QueryBalance(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			n := a.network(ws.ChainKey)
			fmt.Printf("%s %s\n", formatUnits(balance, n.NativeDecimals), n.NativeCurrencySymbol)
			return nil
		},
	}
}

func newAssetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List assets held by the session address",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if _, err := a.requireSession(cmd.Context()); err != nil {
				return printFailure(err)
			}
			assets, err := a.engine.ListAssets(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if len(assets) == 0 {
				fmt.Println("No assets")
				return nil
			}
			for _, asset := range assets {
				fmt.Printf("%-24s %d\n", asset.AssetID, asset.Amount)
			}
			return nil
		},
	}
}

func newMintCmd() *cobra.Command {
	var (
		name        string
		description string
		imagePath   string
		hash        string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a quantum-hash NFT on the session network",
		Long: `Mint an NFT carrying the quantum hash of an image.

The hash is requested from the hash service unless --hash is given.

Examples:
  qchain mint --name "Aurora" --description "First light" --image aurora.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if _, err := a.requireSession(cmd.Context()); err != nil {
				return printFailure(err)
			}
			image, err := os.ReadFile(imagePath)
			if err != nil {
				return printFailure(errors.Join(qchain.ErrValidation, err))
			}

			a.onStage = func(stage qchain.MintStage) {
				if stage == qchain.StageFailed || stage == qchain.StageCompleted {
					return
				}
				fmt.Printf("  %s %s\n", color.CyanString("→"), stage)
			}

			res, err := a.engine.Mint(cmd.Context(), qchain.MintRequest{
				Name:        name,
				Description: description,
				Image:       image,
				QuantumHash: hash,
			})
			if err != nil {
				return printFailure(err)
			}

			fmt.Printf("%s Minted\n", okMark)
			fmt.Printf("Asset:        %s\n", res.AssetID)
			fmt.Printf("Quantum hash: %s\n", res.QuantumHash)
			fmt.Printf("Token URI:    %s\n", res.TokenURI)
			fmt.Printf("Transaction:  %s\n", res.TxID)
			if res.ExplorerURL != "" {
				fmt.Printf("Explorer:     %s\n", res.ExplorerURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "asset name")
	cmd.Flags().StringVar(&description, "description", "", "asset description")
	cmd.Flags().StringVar(&imagePath, "image", "", "path to the image file")
	cmd.Flags().StringVar(&hash, "hash", "", "use this quantum hash instead of calling the hash service")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <asset-id> <quantum-hash>",
		Short: "Check a quantum hash against a minted NFT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if _, err := a.requireSession(cmd.Context()); err != nil {
				return printFailure(err)
			}
			ok, err := a.engine.Verify(cmd.Context(), args[0], args[1])
			if errors.Is(err, qchain.ErrVerificationUnsupported) {
				fmt.Printf("%s Verification is not available on this network\n", warnMark)
				return nil
			}
			if err != nil {
				return printFailure(err)
			}
			if !ok {
				fmt.Printf("%s Hash does not match asset %s\n", failMark, args[0])
				return nil
			}
			fmt.Printf("%s Hash matches asset %s\n", okMark, args[0])
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		token  bool
		usePQC bool
	)

	cmd := &cobra.Command{
		Use:   "send <to> <amount>",
		Short: "Send native currency or tokens",
		Long: `Send an amount, in base units (wei, microalgos, token units), to an address.

Examples:
  qchain send 0x5FbDB2315678afecb367f032d93F642f64180aa3 1000000000000000
  qchain send 0x5FbDB2315678afecb367f032d93F642f64180aa3 5 --token --pqc`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, ok := new(big.Int).SetString(args[1], 10)
			if !ok || amount.Sign() <= 0 {
				return printFailure(fmt.Errorf("%w: amount must be a positive integer", qchain.ErrValidation))
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			ws, err := a.requireSession(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			res, err := a.engine.Transfer(cmd.Context(), qchain.TransferRequest{
				To:     args[0],
				Amount: amount,
				Token:  token,
				UsePQC: usePQC,
			})
			if err != nil {
				return printFailure(err)
			}
			fmt.Printf("%s Confirmed at %d\n", okMark, res.ConfirmedAt)
			fmt.Printf("Transaction: %s\n", res.TxID)
			if url := a.network(ws.ChainKey).ExplorerTxURL(res.TxID); url != "" {
				fmt.Printf("Explorer:    %s\n", url)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&token, "token", false, "send the network's token instead of native currency")
	cmd.Flags().BoolVar(&usePQC, "pqc", false, "use the post-quantum transfer entry point of the token")
	return cmd
}

func newRepollCmd() *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "repoll <tx-id>",
		Short: "Wait again for a transaction whose confirmation timed out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			// the journal may name a network other than the session's
			_, _ = a.restore(cmd.Context())

			res, err := a.engine.Repoll(cmd.Context(), args[0], rounds)
			if err != nil {
				return printFailure(err)
			}
			fmt.Printf("%s Confirmed at %d\n", okMark, res.ConfirmedAt)
			return nil
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 0, "round budget (default from QCHAIN_CONFIRMATION_ROUNDS)")
	return cmd
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List transactions whose final state is unknown",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			records, err := a.engine.PendingTransactions(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			if len(records) == 0 {
				fmt.Println("No pending transactions")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%-68s %-18s %-15s %s\n", rec.TxID, rec.ChainKey, rec.Kind, color.YellowString(string(rec.Status)))
			}
			return nil
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Re-poll every pending transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return printFailure(err)
			}
			_, _ = a.restore(cmd.Context())

			result, err := a.engine.RecoverPending(cmd.Context(), qchain.DefaultRecoveryOptions())
			if err != nil {
				return printFailure(err)
			}
			fmt.Printf("Checked %d: %s confirmed, %s failed, %s still pending\n",
				result.Checked,
				color.GreenString("%d", result.Confirmed),
				color.RedString("%d", result.Failed),
				color.YellowString("%d", result.StillPending),
			)
			for _, e := range result.Errors {
				fmt.Printf("  %s %v\n", warnMark, e)
			}
			return nil
		},
	}
}
