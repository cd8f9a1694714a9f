package qchain

import (
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Defaults used when the caller does not override them through options.
const (
	DefaultConfirmationRounds = 10
	DefaultGasBufferPercent   = 50
	DefaultHashTimeout        = 30 * time.Second
	DefaultReceiptTimeout     = 5 * time.Minute
	DefaultReceiptInterval    = 2 * time.Second

	// Mint request limits
	MaxNameLength        = 50
	MaxDescriptionLength = 500

	// Ledger asset parameter limits enforced by the round-finality chain
	MaxLedgerAssetNameBytes = 32
	MaxLedgerUnitNameBytes  = 8
	MaxLedgerAssetURLBytes  = 96
	LedgerNFTUnitName       = "QNFT"
)

// ChainFamily is the structural category of a ledger.
type ChainFamily string

const (
	// FamilyEVM is the account/contract-based family
	FamilyEVM ChainFamily = "EVM"
	// FamilyLedgerAsset is the round-finality asset-based family
	FamilyLedgerAsset ChainFamily = "LEDGER_ASSET"
)

// Valid reports whether f is a known family.
func (f ChainFamily) Valid() bool {
	return f == FamilyEVM || f == FamilyLedgerAsset
}

// NetworkConfig holds the connection parameters of one network. It is
// immutable once the registry has been built.
type NetworkConfig struct {
	ChainKey             string      `json:"chain_key" toml:"chain_key" yaml:"chain_key"`
	Family               ChainFamily `json:"family" toml:"family" yaml:"family"`
	DisplayName          string      `json:"display_name" toml:"display_name" yaml:"display_name"`
	EndpointURL          string      `json:"endpoint_url" toml:"endpoint_url" yaml:"endpoint_url"`
	EndpointToken        string      `json:"endpoint_token,omitempty" toml:"endpoint_token" yaml:"endpoint_token"`
	ExplorerURL          string      `json:"explorer_url" toml:"explorer_url" yaml:"explorer_url"`
	NativeCurrencySymbol string      `json:"native_currency_symbol" toml:"native_currency_symbol" yaml:"native_currency_symbol"`
	NativeDecimals       uint8       `json:"native_decimals" toml:"native_decimals" yaml:"native_decimals"`
	IsTestnet            bool        `json:"is_testnet" toml:"is_testnet" yaml:"is_testnet"`

	// EVM only
	ChainID       uint64 `json:"chain_id,omitempty" toml:"chain_id" yaml:"chain_id"`
	NFTContract   string `json:"nft_contract,omitempty" toml:"nft_contract" yaml:"nft_contract"`
	TokenContract string `json:"token_contract,omitempty" toml:"token_contract" yaml:"token_contract"`
	MintPrice     string `json:"mint_price,omitempty" toml:"mint_price" yaml:"mint_price"` // wei, decimal string
}

// MintPriceWei parses MintPrice, falling back to DefaultMintPriceWei.
func (n NetworkConfig) MintPriceWei() *big.Int {
	if n.MintPrice != "" {
		if v, ok := new(big.Int).SetString(n.MintPrice, 10); ok {
			return v
		}
	}
	return new(big.Int).Set(DefaultMintPriceWei)
}

// ExplorerTxURL returns the explorer link for a transaction, or "" when the
// network has no explorer.
func (n NetworkConfig) ExplorerTxURL(txID string) string {
	if n.ExplorerURL == "" || txID == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + txID
}

// ExplorerAddressURL returns the explorer link for an account.
func (n NetworkConfig) ExplorerAddressURL(addr string) string {
	if n.ExplorerURL == "" || addr == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/address/" + addr
}

// DefaultMintPriceWei is 0.001 ETH.
var DefaultMintPriceWei = big.NewInt(1_000_000_000_000_000)

// SessionState is the connection state of the wallet session.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
)

// WalletSession is a snapshot of the current session. Address is non-empty
// if and only if State is SessionConnected.
type WalletSession struct {
	State         SessionState
	Family        ChainFamily
	ChainKey      string
	Address       string
	ConnectedAt   time.Time
	IsConnecting  bool
	Balance       *big.Int
	Assets        []OwnedAsset
	Generation    uint64
	ChainMismatch bool
}

// OwnedAsset is an NFT or ledger asset held by the session address.
type OwnedAsset struct {
	AssetID string
	Amount  uint64
}

// TxKind selects what BuildTransaction produces.
type TxKind string

const (
	TxKindMint          TxKind = "mint"
	TxKindPayment       TxKind = "payment"
	TxKindTokenTransfer TxKind = "token_transfer"
)

// TxParams carries the inputs of BuildTransaction. Which fields are required
// depends on the kind.
type TxParams struct {
	From        string
	To          string
	Amount      *big.Int
	Name        string
	Description string
	QuantumHash string
	TokenURI    string
	Value       *big.Int // native value attached to a contract call
	UsePQC      bool
}

// PendingTransaction is the tagged union of chain specific unsigned
// transactions: *EVMCall, *LedgerAssetCreate or *LedgerPayment.
type PendingTransaction interface {
	Family() ChainFamily
	Kind() TxKind
	Sender() string
	pendingTransaction()
}

// EVMCall is an unsigned call or transfer on an EVM chain. Gas and nonce are
// filled at signing time.
type EVMCall struct {
	TxKind TxKind
	From   common.Address
	To     common.Address
	Value  *big.Int
	Data   []byte
	Method string
}

func (*EVMCall) Family() ChainFamily { return FamilyEVM }
func (c *EVMCall) Kind() TxKind { return c.TxKind }
func (c *EVMCall) Sender() string { return c.From.Hex() }
func (*EVMCall) pendingTransaction() {}

// LedgerAssetCreate creates a single unit asset on the round-finality chain.
type LedgerAssetCreate struct {
	From         string
	AssetName    string
	UnitName     string
	AssetURL     string
	Total        uint64
	Decimals     uint32
	Note         []byte
	MetadataHash [32]byte
}

func (*LedgerAssetCreate) Family() ChainFamily { return FamilyLedgerAsset }
func (*LedgerAssetCreate) Kind() TxKind { return TxKindMint }
func (c *LedgerAssetCreate) Sender() string { return c.From }
func (*LedgerAssetCreate) pendingTransaction() {}

// LedgerPayment moves base units of the native currency.
type LedgerPayment struct {
	From   string
	To     string
	Amount uint64
	Note   []byte
}

func (*LedgerPayment) Family() ChainFamily { return FamilyLedgerAsset }
func (*LedgerPayment) Kind() TxKind { return TxKindPayment }
func (p *LedgerPayment) Sender() string { return p.From }
func (*LedgerPayment) pendingTransaction() {}

// SignedTransaction is produced once per sign call and can be submitted
// exactly once.
type SignedTransaction struct {
	Pending PendingTransaction
	Payload []byte
	TxID    string

	evmTx    *types.Transaction
	consumed atomic.Bool
}

// Consumed reports whether the transaction was already handed to Submit.
func (s *SignedTransaction) Consumed() bool {
	return s.consumed.Load()
}

func (s *SignedTransaction) consume() error {
	if !s.consumed.CompareAndSwap(false, true) {
		return ErrSignedTxConsumed
	}
	return nil
}

// ConfirmationResult is the terminal value of a confirmation wait. Exactly one
// of Receipt (EVM) and PendingInfo (ledger) is set.
type ConfirmationResult struct {
	TxID        string
	ConfirmedAt uint64 // block number or round
	Receipt     *types.Receipt
	PendingInfo *models.PendingTransactionInfoResponse
}

// MintRequest is the input of a mint. QuantumHash is filled by the workflow
// when empty.
type MintRequest struct {
	Name        string
	Description string
	Image       []byte
	QuantumHash string
}

// MintResult is only ever returned fully populated.
type MintResult struct {
	AssetID     string
	Creator     string
	QuantumHash string
	TxID        string
	CreatedAt   time.Time
	Family      ChainFamily
	ChainKey    string
	Name        string
	Description string
	TokenURI    string
	ExplorerURL string
}

// MintStage is a step of the mint state machine.
type MintStage string

const (
	StageValidating  MintStage = "validating"
	StageHashPending MintStage = "hash_pending"
	StageBuilding    MintStage = "building"
	StageSigning     MintStage = "signing"
	StageSubmitting  MintStage = "submitting"
	StageConfirming  MintStage = "confirming"
	StageCompleted   MintStage = "completed"
	StageFailed      MintStage = "failed"
)

// TxRecordStatus is the journal status of a submitted transaction.
type TxRecordStatus string

const (
	TxRecordSubmitted TxRecordStatus = "submitted"
	TxRecordConfirmed TxRecordStatus = "confirmed"
	TxRecordFailed    TxRecordStatus = "failed"
	TxRecordUnknown   TxRecordStatus = "unknown"
)

// IsPending reports whether the final state of the transaction is not known.
func (s TxRecordStatus) IsPending() bool {
	return s == TxRecordSubmitted || s == TxRecordUnknown
}

// TxRecord is a journal entry for a submitted transaction.
type TxRecord struct {
	TxID        string
	ChainKey    string
	Family      ChainFamily
	Sender      string
	Kind        TxKind
	Status      TxRecordStatus
	ConfirmedAt uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]string
}
