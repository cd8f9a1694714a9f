package qchain

import (
	"context"
	"fmt"
	"math/big"
)

// ChainAdapter normalizes one chain family's connect, sign, submit and
// confirm protocol. Implementations hold no per-call state and may be shared.
type ChainAdapter interface {
	Family() ChainFamily
	Network() NetworkConfig

	// Connect asks the wallet for an account and returns its address
	Connect(ctx context.Context) (string, error)
	// Disconnect tears down the wallet session. Remote failures are logged, never returned
	Disconnect(ctx context.Context)
	QueryBalance(ctx context.Context, address string) (*big.Int, error)

	// BuildTransaction constructs an unsigned transaction without network I/O
	BuildTransaction(kind TxKind, params TxParams) (PendingTransaction, error)
	SignTransaction(ctx context.Context, ptx PendingTransaction) (*SignedTransaction, error)
	SubmitTransaction(ctx context.Context, stx *SignedTransaction) (string, error)
	// ConfirmTransaction waits for txID to be final. budget bounds the number
	// of rounds for round-finality chains and is ignored otherwise
	ConfirmTransaction(ctx context.Context, txID string, budget int) (*ConfirmationResult, error)
}

// Optional adapter capabilities, discovered with a type assertion.
type (
	// Reconnector restores a prior wallet session without prompting. It
	// returns "" when there is nothing to restore.
	Reconnector interface {
		Reconnect(ctx context.Context) (string, error)
	}

	// Verifier checks a quantum hash against a minted asset.
	Verifier interface {
		VerifyQuantumHash(ctx context.Context, assetID, quantumHash string) (bool, error)
	}

	// AssetResolver extracts the created asset id from a confirmation.
	AssetResolver interface {
		ResolveAssetID(ctx context.Context, res *ConfirmationResult) (string, error)
	}

	// AssetLister enumerates assets held by an address.
	AssetLister interface {
		ListAssets(ctx context.Context, address string) ([]OwnedAsset, error)
	}

	// EventSource delivers unsolicited wallet notifications.
	EventSource interface {
		Subscribe(handler WalletEventHandler) (unsubscribe func())
	}

	// ChainChecker reports ErrNetworkMismatch when the wallet is on another chain.
	ChainChecker interface {
		CheckChain(ctx context.Context) error
	}

	// MintPricer reads the native value a mint must carry.
	MintPricer interface {
		MintPrice(ctx context.Context) (*big.Int, error)
	}
)

// AdapterFactory creates the adapter for a network.
type AdapterFactory func(ctx context.Context, network NetworkConfig) (ChainAdapter, error)

// adapterFactoryConfig holds what NewAdapterFactory needs to build adapters.
type adapterFactoryConfig struct {
	ethClientFactory      EthClientFactory
	algodClientFactory    AlgodClientFactory
	receiptMonitorFactory ReceiptMonitorFactory
	gasBufferPercent      uint64
}

// AdapterFactoryOption configures NewAdapterFactory.
type AdapterFactoryOption func(*adapterFactoryConfig)

// WithEthClientFactory sets a custom EVM client factory for testing or alternative implementations
func WithEthClientFactory(factory EthClientFactory) AdapterFactoryOption {
	return func(c *adapterFactoryConfig) {
		c.ethClientFactory = factory
	}
}

// WithAlgodClientFactory sets a custom ledger client factory
func WithAlgodClientFactory(factory AlgodClientFactory) AdapterFactoryOption {
	return func(c *adapterFactoryConfig) {
		c.algodClientFactory = factory
	}
}

// WithReceiptMonitorFactory sets a custom receipt monitor factory
func WithReceiptMonitorFactory(factory ReceiptMonitorFactory) AdapterFactoryOption {
	return func(c *adapterFactoryConfig) {
		c.receiptMonitorFactory = factory
	}
}

// WithFactoryGasBufferPercent sets the gas buffer applied by created EVM adapters
func WithFactoryGasBufferPercent(percent uint64) AdapterFactoryOption {
	return func(c *adapterFactoryConfig) {
		c.gasBufferPercent = percent
	}
}

// NewAdapterFactory returns an AdapterFactory that dials the network endpoint
// and pairs it with the wallet of the matching family. A nil wallet makes
// Connect fail with ErrConnection for that family.
func NewAdapterFactory(evmWallet EVMWallet, ledgerWallet LedgerWallet, opts ...AdapterFactoryOption) AdapterFactory {
	cfg := &adapterFactoryConfig{
		ethClientFactory:      DefaultEthClientFactory,
		algodClientFactory:    DefaultAlgodClientFactory,
		receiptMonitorFactory: DefaultReceiptMonitorFactory,
		gasBufferPercent:      DefaultGasBufferPercent,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(ctx context.Context, network NetworkConfig) (ChainAdapter, error) {
		switch network.Family {
		case FamilyEVM:
			client, err := cfg.ethClientFactory(ctx, network)
			if err != nil {
				return nil, err
			}
			adapter, err := NewEVMAdapter(network, client, evmWallet,
				WithReceiptMonitor(cfg.receiptMonitorFactory(network)),
				WithGasBufferPercent(cfg.gasBufferPercent),
			)
			if err != nil {
				return nil, err
			}
			return adapter, nil
		case FamilyLedgerAsset:
			client, err := cfg.algodClientFactory(network)
			if err != nil {
				return nil, err
			}
			adapter, err := NewLedgerAssetAdapter(network, client, ledgerWallet)
			if err != nil {
				return nil, err
			}
			return adapter, nil
		default:
			return nil, fmt.Errorf("%w: unknown chain family %q", ErrValidation, network.Family)
		}
	}
}
