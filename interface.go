package qchain

import (
	"context"
	"math/big"
)

// Manager defines the operations the surrounding application may call.
// This interface allows for easy mocking in tests and provides a stable API contract.
type Manager interface {
	// Networks
	Networks() []NetworkConfig

	// Session
	Connect(ctx context.Context, chainKey string) (WalletSession, error)
	Disconnect(ctx context.Context)
	SessionState() WalletSession
	SwitchNetwork(ctx context.Context, chainKey string) (WalletSession, error)
	// ReconnectSession restores the last session silently; "" means nothing to restore.
	ReconnectSession(ctx context.Context) (string, error)

	// Read paths degrade to zero or empty on query failures
	QueryBalance(ctx context.Context) (*big.Int, error)
	Refresh(ctx context.Context) (WalletSession, error)
	ListAssets(ctx context.Context) ([]OwnedAsset, error)

	// Transactions
	Mint(ctx context.Context, req MintRequest) (*MintResult, error)
	// Verify returns ErrVerificationUnsupported on chains without verification.
	Verify(ctx context.Context, assetID, quantumHash string) (bool, error)
	Transfer(ctx context.Context, req TransferRequest) (*ConfirmationResult, error)
	Repoll(ctx context.Context, txID string, budget int) (*ConfirmationResult, error)
	PendingTransactions(ctx context.Context) ([]*TxRecord, error)
	RecoverPending(ctx context.Context, opts RecoveryOptions) (*RecoveryResult, error)

	Close()
}

// Compile-time check that Engine implements Manager
var _ Manager = (*Engine)(nil)
