package main

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/fatih/color"

	qchain "github.com/Jiyansh2006/q-chain2"
)

var (
	okMark   = color.GreenString("✓")
	warnMark = color.YellowString("!")
	failMark = color.RedString("✗")
)

func printSession(ws qchain.WalletSession, network qchain.NetworkConfig) {
	state := string(ws.State)
	switch ws.State {
	case qchain.SessionConnected:
		state = color.GreenString(state)
	case qchain.SessionConnecting:
		state = color.CyanString(state)
	default:
		state = color.YellowString(state)
	}

	fmt.Printf("State:     %s\n", state)
	if ws.State != qchain.SessionConnected {
		return
	}
	fmt.Printf("Network:   %s (%s)\n", network.DisplayName, ws.ChainKey)
	fmt.Printf("Address:   %s\n", ws.Address)
	if ws.Balance != nil {
		fmt.Printf("Balance:   %s %s\n", formatUnits(ws.Balance, network.NativeDecimals), network.NativeCurrencySymbol)
	}
	fmt.Printf("Assets:    %d\n", len(ws.Assets))
	fmt.Printf("Connected: %s\n", ws.ConnectedAt.Format("2006-01-02 15:04:05 MST"))
	if ws.ChainMismatch {
		fmt.Printf("%s wallet is on a different chain than %s\n", warnMark, ws.ChainKey)
	}
	if url := network.ExplorerAddressURL(ws.Address); url != "" {
		fmt.Printf("Explorer:  %s\n", url)
	}
}

// printFailure prints the outcome of a failed operation and returns err
// so commands still exit non-zero.
func printFailure(err error) error {
	var mintErr *qchain.MintError
	var txErr *qchain.TxError
	txID := ""
	switch {
	case errors.As(err, &mintErr):
		txID = mintErr.TxID
	case errors.As(err, &txErr):
		txID = txErr.TxID
	}

	mark := failMark
	if qchain.Describe(err) == qchain.OutcomeMayHaveHappened {
		mark = warnMark
	}
	fmt.Printf("%s %s\n", mark, qchain.UserMessage(err))
	if txID != "" {
		fmt.Printf("  Transaction: %s\n", txID)
		fmt.Printf("  Run \"qchain repoll %s\" to check it again.\n", txID)
	}
	return err
}

// formatUnits renders v with the given number of decimals.
func formatUnits(v *big.Int, decimals uint8) string {
	if decimals == 0 {
		return v.String()
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	whole, frac := s[:len(s)-int(decimals)], strings.TrimRight(s[len(s)-int(decimals):], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
