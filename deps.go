// deps.go defines minimal interfaces for external collaborators.
// This allows for easy mocking in tests and decouples the core from specific wallets and nodes.
package qchain

import (
	"context"
	"math/big"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient defines the subset of the EVM JSON-RPC API the core needs.
// *ethclient.Client satisfies it.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReceiptStatus represents the status of a monitored EVM transaction.
type ReceiptStatus string

const (
	// ReceiptMined indicates the transaction was mined successfully
	ReceiptMined ReceiptStatus = "mined"
	// ReceiptReverted indicates the transaction was mined but execution reverted
	ReceiptReverted ReceiptStatus = "reverted"
	// ReceiptLost indicates no receipt appeared before the provider gave up
	ReceiptLost ReceiptStatus = "lost"
	// ReceiptCancelled indicates the wait was cancelled via context
	ReceiptCancelled ReceiptStatus = "cancelled"
)

// ReceiptEvent is the single value delivered by a ReceiptMonitor.
type ReceiptEvent struct {
	Status  ReceiptStatus
	Receipt *types.Receipt
	Err     error
}

// ReceiptMonitor delivers one receipt event for a transaction hash and then
// closes the channel.
type ReceiptMonitor interface {
	WaitReceipt(ctx context.Context, hash common.Hash) <-chan ReceiptEvent
}

// WalletEventKind is the kind of an unsolicited wallet notification.
type WalletEventKind string

const (
	WalletAccountsChanged WalletEventKind = "accountsChanged"
	WalletChainChanged    WalletEventKind = "chainChanged"
)

// WalletEvent is an unsolicited notification from a wallet provider.
type WalletEvent struct {
	Kind     WalletEventKind
	Accounts []string
	ChainID  *big.Int
}

// WalletEventHandler receives wallet notifications.
type WalletEventHandler func(WalletEvent)

// EVMWallet is the browser extension style provider for the EVM family.
type EVMWallet interface {
	// RequestAccounts asks the user to authorize the application
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns already authorized accounts without prompting
	Accounts(ctx context.Context) ([]common.Address, error)
	// ChainID returns the chain the wallet is currently on
	ChainID(ctx context.Context) (*big.Int, error)
	// SignTx asks the user to approve and sign tx
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// Subscribe registers handler for notifications and returns an unsubscribe func
	Subscribe(handler WalletEventHandler) (unsubscribe func())
}

// AlgodClient defines the subset of the round-finality node API the core needs.
type AlgodClient interface {
	// LastRound returns the latest closed round
	LastRound(ctx context.Context) (uint64, error)
	// WaitForRoundAfter blocks until round+1 closes and returns the node's last round
	WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error)
	PendingTransaction(ctx context.Context, txID string) (models.PendingTransactionInfoResponse, error)
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	SuggestedParams(ctx context.Context) (algotypes.SuggestedParams, error)
	AccountInformation(ctx context.Context, address string) (models.Account, error)
}

// LedgerWallet is the wallet-connect style session for the ledger-asset family.
type LedgerWallet interface {
	// Connect opens a new session, prompting the user
	Connect(ctx context.Context) ([]string, error)
	// Reconnect restores an existing session silently. Returns no accounts
	// when there is nothing to restore.
	Reconnect(ctx context.Context) ([]string, error)
	Disconnect(ctx context.Context) error
	// SignTransactions signs a transaction group and returns the signed
	// msgpack blobs in order
	SignTransactions(ctx context.Context, txns []algotypes.Transaction) ([][]byte, error)
}

// KVStore is an origin scoped key/value store. Get returns (nil, nil) when
// the key does not exist.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// TxJournal records submitted transactions so their final state can be
// re-queried later.
type TxJournal interface {
	Save(ctx context.Context, rec *TxRecord) error
	Get(ctx context.Context, txID string) (*TxRecord, error)
	UpdateStatus(ctx context.Context, txID string, status TxRecordStatus, confirmedAt uint64) error
	ListPending(ctx context.Context) ([]*TxRecord, error)
}

// HashGenerator produces the quantum hash of a mint request.
type HashGenerator interface {
	GenerateHash(ctx context.Context, image []byte, name, description string) (string, error)
}

// SigningRequest describes a transaction awaiting approval.
type SigningRequest struct {
	Family  ChainFamily
	From    string
	To      string
	Value   string
	Summary string
}

// SigningApprover asks the human to approve a signature. Returning an error
// rejects the signature.
type SigningApprover interface {
	Approve(ctx context.Context, req SigningRequest) error
}

// EthClientFactory dials an EthClient for a network.
// This allows injecting mock clients for testing.
type EthClientFactory func(ctx context.Context, network NetworkConfig) (EthClient, error)

// AlgodClientFactory creates an AlgodClient for a network.
type AlgodClientFactory func(network NetworkConfig) (AlgodClient, error)

// ReceiptMonitorFactory creates a ReceiptMonitor for a network.
type ReceiptMonitorFactory func(network NetworkConfig) ReceiptMonitor
