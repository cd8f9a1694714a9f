package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	qchain "github.com/Jiyansh2006/q-chain2"
)

// promptApprover asks on the terminal before every signature.
type promptApprover struct{}

func (promptApprover) Approve(ctx context.Context, req qchain.SigningRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Println()
	color.New(color.Bold).Println("Signature request")
	fmt.Printf("  Family:  %s\n", req.Family)
	fmt.Printf("  From:    %s\n", req.From)
	if req.To != "" {
		fmt.Printf("  To:      %s\n", req.To)
	}
	fmt.Printf("  Value:   %s\n", req.Value)
	fmt.Printf("  Details: %s\n", req.Summary)

	prompt := promptui.Prompt{
		Label:     "Sign this transaction",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return errors.New("declined by user")
		}
		return err
	}
	return nil
}
