package qchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/KyberNetwork/logger"
	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// ApproverFunc adapts a function to SigningApprover.
type ApproverFunc func(ctx context.Context, req SigningRequest) error

func (f ApproverFunc) Approve(ctx context.Context, req SigningRequest) error {
	return f(ctx, req)
}

// AutoApprove approves every signing request.
var AutoApprove SigningApprover = ApproverFunc(func(context.Context, SigningRequest) error { return nil })

func approve(ctx context.Context, approver SigningApprover, req SigningRequest) error {
	if approver == nil {
		return nil
	}
	if err := approver.Approve(ctx, req); err != nil {
		return ensureKind(err, ErrTransactionRejected)
	}
	return nil
}

// EVMKeyFromHex parses a hex encoded secp256k1 private key.
func EVMKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrValidation, err)
	}
	return key, nil
}

// EVMKeyFromMnemonic derives the key at m/44'/60'/0'/0/index from a BIP-39
// mnemonic.
func EVMKeyFromMnemonic(phrase, passphrase string, index uint32) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(phrase), passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: mnemonic: %v", ErrValidation, err)
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	// m/44'/60'/0'/0/index
	for _, idx := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		index,
	} {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	return crypto.ToECDSA(key.Key)
}

// LocalEVMWallet is an EVMWallet backed by a private key held in process.
// It behaves like a browser extension: accounts must be requested once,
// every signature goes through the approver, and account or chain changes
// are announced to subscribers.
type LocalEVMWallet struct {
	mu         sync.Mutex
	key        *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	approver   SigningApprover
	authorized bool
	store      KVStore
	handlers   map[int]WalletEventHandler
	nextID     int
}

// DefaultEVMWalletKey is where LocalEVMWallet persists its authorization.
const DefaultEVMWalletKey = "qchain:evm-wallet"

type evmWalletState struct {
	Address string `json:"address"`
	ChainID uint64 `json:"chain_id"`
}

// NewLocalEVMWallet creates a wallet on chainID. A nil approver approves
// everything.
func NewLocalEVMWallet(key *ecdsa.PrivateKey, chainID uint64, approver SigningApprover) *LocalEVMWallet {
	return &LocalEVMWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).SetUint64(chainID),
		approver: approver,
		handlers: make(map[int]WalletEventHandler),
	}
}

// Address returns the wallet's account.
func (w *LocalEVMWallet) Address() common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address
}

// Authorize marks the account as already authorized, so Accounts returns it
// without a prior RequestAccounts.
func (w *LocalEVMWallet) Authorize() {
	w.mu.Lock()
	w.authorized = true
	w.mu.Unlock()
}

// UseStore restores the authorization and active chain persisted in store,
// if they belong to this wallet's account, and keeps them updated from then on.
func (w *LocalEVMWallet) UseStore(ctx context.Context, store KVStore) error {
	raw, err := store.Get(ctx, DefaultEVMWalletKey)
	if err != nil {
		return fmt.Errorf("read wallet state: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.store = store
	if raw == nil {
		return nil
	}
	var st evmWalletState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decode wallet state: %w", err)
	}
	if st.Address != w.address.Hex() {
		return nil
	}
	w.authorized = true
	if st.ChainID != 0 {
		w.chainID = new(big.Int).SetUint64(st.ChainID)
	}
	return nil
}

// persistLocked saves the wallet state. Caller must hold w.mu.
func (w *LocalEVMWallet) persistLocked(ctx context.Context) {
	if w.store == nil {
		return
	}
	var err error
	if w.authorized {
		raw, _ := json.Marshal(evmWalletState{Address: w.address.Hex(), ChainID: w.chainID.Uint64()})
		err = w.store.Set(ctx, DefaultEVMWalletKey, raw)
	} else {
		err = w.store.Delete(ctx, DefaultEVMWalletKey)
	}
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Warn("Failed to persist wallet state")
	}
}

func (w *LocalEVMWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.authorized = true
	w.persistLocked(ctx)
	return []common.Address{w.address}, nil
}

func (w *LocalEVMWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized {
		return nil, nil
	}
	return []common.Address{w.address}, nil
}

func (w *LocalEVMWallet) ChainID(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.chainID), nil
}

// SwitchChain changes the active chain and announces it.
func (w *LocalEVMWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	w.mu.Lock()
	if w.chainID.Cmp(chainID) == 0 {
		w.mu.Unlock()
		return nil
	}
	w.chainID = new(big.Int).Set(chainID)
	w.persistLocked(ctx)
	w.mu.Unlock()

	w.emit(WalletEvent{Kind: WalletChainChanged, ChainID: new(big.Int).Set(chainID)})
	return nil
}

// SetKey replaces the active account and announces it.
func (w *LocalEVMWallet) SetKey(key *ecdsa.PrivateKey) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	w.mu.Lock()
	w.key = key
	w.address = addr
	authorized := w.authorized
	w.mu.Unlock()

	if authorized {
		w.emit(WalletEvent{Kind: WalletAccountsChanged, Accounts: []string{addr.Hex()}})
	}
}

// Revoke drops the authorization and announces an empty account list.
func (w *LocalEVMWallet) Revoke() {
	w.mu.Lock()
	w.authorized = false
	w.persistLocked(context.Background())
	w.mu.Unlock()
	w.emit(WalletEvent{Kind: WalletAccountsChanged})
}

func (w *LocalEVMWallet) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	w.mu.Lock()
	key, addr, authorized := w.key, w.address, w.authorized
	w.mu.Unlock()

	if !authorized {
		return nil, fmt.Errorf("account %s is not authorized", from.Hex())
	}
	if from != addr {
		return nil, fmt.Errorf("account %s is not managed by this wallet", from.Hex())
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	err := approve(ctx, w.approver, SigningRequest{
		Family:  FamilyEVM,
		From:    from.Hex(),
		To:      to,
		Value:   tx.Value().String(),
		Summary: fmt.Sprintf("chain %v, nonce %d, gas %d", chainID, tx.Nonce(), tx.Gas()),
	})
	if err != nil {
		return nil, err
	}

	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

func (w *LocalEVMWallet) Subscribe(handler WalletEventHandler) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// emit calls handlers without holding the lock so they may unsubscribe.
func (w *LocalEVMWallet) emit(ev WalletEvent) {
	w.mu.Lock()
	handlers := make([]WalletEventHandler, 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// LedgerAccountFromMnemonic recovers a ledger account from its 25 word
// mnemonic.
func LedgerAccountFromMnemonic(phrase string) (algocrypto.Account, error) {
	sk, err := mnemonic.ToPrivateKey(strings.TrimSpace(phrase))
	if err != nil {
		return algocrypto.Account{}, fmt.Errorf("%w: mnemonic: %v", ErrValidation, err)
	}
	return algocrypto.AccountFromPrivateKey(sk)
}

// DefaultLedgerWalletKey is where LocalLedgerWallet persists its session.
const DefaultLedgerWalletKey = "qchain:ledger-wallet"

// LocalLedgerWallet is a LedgerWallet backed by an in-process account. It
// persists its connect session in a KVStore so Reconnect works across
// restarts, like a wallet-connect session would.
type LocalLedgerWallet struct {
	mu        sync.Mutex
	account   algocrypto.Account
	approver  SigningApprover
	store     KVStore
	connected bool
}

// NewLocalLedgerWallet creates a wallet for account. store may be nil.
func NewLocalLedgerWallet(account algocrypto.Account, approver SigningApprover, store KVStore) *LocalLedgerWallet {
	return &LocalLedgerWallet{account: account, approver: approver, store: store}
}

// Address returns the wallet's account.
func (w *LocalLedgerWallet) Address() string {
	return w.account.Address.String()
}

func (w *LocalLedgerWallet) Connect(ctx context.Context) ([]string, error) {
	addr := w.Address()
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()

	if w.store != nil {
		if err := w.store.Set(ctx, DefaultLedgerWalletKey, []byte(addr)); err != nil {
			return nil, fmt.Errorf("persist wallet session: %w", err)
		}
	}
	return []string{addr}, nil
}

func (w *LocalLedgerWallet) Reconnect(ctx context.Context) ([]string, error) {
	addr := w.Address()
	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()
	if connected {
		return []string{addr}, nil
	}

	if w.store == nil {
		return nil, nil
	}
	stored, err := w.store.Get(ctx, DefaultLedgerWalletKey)
	if err != nil {
		return nil, fmt.Errorf("read wallet session: %w", err)
	}
	if string(stored) != addr {
		return nil, nil
	}

	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return []string{addr}, nil
}

func (w *LocalLedgerWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	if w.store != nil {
		return w.store.Delete(ctx, DefaultLedgerWalletKey)
	}
	return nil
}

func (w *LocalLedgerWallet) SignTransactions(ctx context.Context, txns []algotypes.Transaction) ([][]byte, error) {
	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()
	if !connected {
		return nil, errors.New("wallet session is not connected")
	}

	blobs := make([][]byte, 0, len(txns))
	for _, txn := range txns {
		err := approve(ctx, w.approver, SigningRequest{
			Family:  FamilyLedgerAsset,
			From:    txn.Sender.String(),
			To:      txn.Receiver.String(),
			Value:   fmt.Sprintf("%d", txn.Amount),
			Summary: fmt.Sprintf("%s, fee %d", txn.Type, txn.Fee),
		})
		if err != nil {
			return nil, err
		}
		_, blob, err := algocrypto.SignTransaction(w.account.PrivateKey, txn)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", txn.Type, err)
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}
