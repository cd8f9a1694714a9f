package qchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockEthClient implements EthClient for testing
type mockEthClient struct {
	mu sync.Mutex

	// Function hooks - set these to customize behavior
	ChainIDFn            func() (*big.Int, error)
	BalanceAtFn          func(account common.Address) (*big.Int, error)
	PendingNonceAtFn     func(account common.Address) (uint64, error)
	SuggestGasPriceFn    func() (*big.Int, error)
	SuggestGasTipCapFn   func() (*big.Int, error)
	EstimateGasFn        func(msg ethereum.CallMsg) (uint64, error)
	SendTransactionFn    func(tx *types.Transaction) error
	CallContractFn       func(msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// Call tracking for assertions
	EstimateGasCalls     []ethereum.CallMsg
	SendTransactionCalls []*types.Transaction
	CallContractCalls    []ethereum.CallMsg
}

func (m *mockEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	if m.ChainIDFn != nil {
		return m.ChainIDFn()
	}
	return big.NewInt(31337), nil
}

func (m *mockEthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if m.BalanceAtFn != nil {
		return m.BalanceAtFn(account)
	}
	return new(big.Int).Set(oneEth), nil
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.PendingNonceAtFn != nil {
		return m.PendingNonceAtFn(account)
	}
	return 0, nil
}

func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasPriceFn != nil {
		return m.SuggestGasPriceFn()
	}
	return new(big.Int).Set(twentyGwei), nil
}

func (m *mockEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasTipCapFn != nil {
		return m.SuggestGasTipCapFn()
	}
	return new(big.Int).Set(twoGwei), nil
}

func (m *mockEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	m.EstimateGasCalls = append(m.EstimateGasCalls, msg)
	m.mu.Unlock()
	if m.EstimateGasFn != nil {
		return m.EstimateGasFn(msg)
	}
	return 21000, nil
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	m.SendTransactionCalls = append(m.SendTransactionCalls, tx)
	m.mu.Unlock()
	if m.SendTransactionFn != nil {
		return m.SendTransactionFn(tx)
	}
	return nil
}

func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	m.CallContractCalls = append(m.CallContractCalls, msg)
	m.mu.Unlock()
	if m.CallContractFn != nil {
		return m.CallContractFn(msg, blockNumber)
	}
	return nil, fmt.Errorf("no contract")
}

func (m *mockEthClient) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SendTransactionCalls)
}

// mockReceiptMonitor implements ReceiptMonitor for testing
type mockReceiptMonitor struct {
	mu sync.Mutex

	EventToReturn ReceiptEvent
	// Closed makes WaitReceipt close the channel without an event
	Closed bool

	WaitCalls []common.Hash
}

func (m *mockReceiptMonitor) WaitReceipt(ctx context.Context, hash common.Hash) <-chan ReceiptEvent {
	m.mu.Lock()
	m.WaitCalls = append(m.WaitCalls, hash)
	event, closed := m.EventToReturn, m.Closed
	m.mu.Unlock()

	ch := make(chan ReceiptEvent, 1)
	if !closed {
		ch <- event
	}
	close(ch)
	return ch
}

// mockEVMWallet implements EVMWallet for testing. Without SignTxFn it signs
// with testEVMKey.
type mockEVMWallet struct {
	mu sync.Mutex

	RequestAccountsFn func() ([]common.Address, error)
	AccountsFn        func() ([]common.Address, error)
	ChainIDFn         func() (*big.Int, error)
	SignTxFn          func(from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	SignTxCalls []*types.Transaction
	handlers    map[int]WalletEventHandler
	nextID      int
}

func (m *mockEVMWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if m.RequestAccountsFn != nil {
		return m.RequestAccountsFn()
	}
	return []common.Address{testEVMAddress}, nil
}

func (m *mockEVMWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	if m.AccountsFn != nil {
		return m.AccountsFn()
	}
	return []common.Address{testEVMAddress}, nil
}

func (m *mockEVMWallet) ChainID(ctx context.Context) (*big.Int, error) {
	if m.ChainIDFn != nil {
		return m.ChainIDFn()
	}
	return big.NewInt(31337), nil
}

func (m *mockEVMWallet) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	m.mu.Lock()
	m.SignTxCalls = append(m.SignTxCalls, tx)
	m.mu.Unlock()
	if m.SignTxFn != nil {
		return m.SignTxFn(from, tx, chainID)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), testEVMKey)
}

func (m *mockEVMWallet) Subscribe(handler WalletEventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[int]WalletEventHandler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

func (m *mockEVMWallet) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// mockAlgodClient implements AlgodClient for testing
type mockAlgodClient struct {
	mu sync.Mutex

	LastRoundFn          func() (uint64, error)
	WaitForRoundAfterFn  func(round uint64) (uint64, error)
	PendingTransactionFn func(txID string) (models.PendingTransactionInfoResponse, error)
	SendRawTransactionFn func(raw []byte) (string, error)
	SuggestedParamsFn    func() (algotypes.SuggestedParams, error)
	AccountInformationFn func(address string) (models.Account, error)

	PendingCalls         []string
	WaitCalls            []uint64
	SendRawCalls         [][]byte
	SuggestedParamsCalls int
}

func (m *mockAlgodClient) LastRound(ctx context.Context) (uint64, error) {
	if m.LastRoundFn != nil {
		return m.LastRoundFn()
	}
	return 1000, nil
}

func (m *mockAlgodClient) WaitForRoundAfter(ctx context.Context, round uint64) (uint64, error) {
	m.mu.Lock()
	m.WaitCalls = append(m.WaitCalls, round)
	m.mu.Unlock()
	if m.WaitForRoundAfterFn != nil {
		return m.WaitForRoundAfterFn(round)
	}
	return round + 1, nil
}

func (m *mockAlgodClient) PendingTransaction(ctx context.Context, txID string) (models.PendingTransactionInfoResponse, error) {
	m.mu.Lock()
	m.PendingCalls = append(m.PendingCalls, txID)
	m.mu.Unlock()
	if m.PendingTransactionFn != nil {
		return m.PendingTransactionFn(txID)
	}
	return models.PendingTransactionInfoResponse{}, nil
}

func (m *mockAlgodClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	m.mu.Lock()
	m.SendRawCalls = append(m.SendRawCalls, raw)
	m.mu.Unlock()
	if m.SendRawTransactionFn != nil {
		return m.SendRawTransactionFn(raw)
	}
	return "", nil
}

func (m *mockAlgodClient) SuggestedParams(ctx context.Context) (algotypes.SuggestedParams, error) {
	m.mu.Lock()
	m.SuggestedParamsCalls++
	m.mu.Unlock()
	if m.SuggestedParamsFn != nil {
		return m.SuggestedParamsFn()
	}
	return newTestSuggestedParams(), nil
}

func (m *mockAlgodClient) AccountInformation(ctx context.Context, address string) (models.Account, error) {
	if m.AccountInformationFn != nil {
		return m.AccountInformationFn(address)
	}
	return models.Account{Address: address, Amount: 5_000_000}, nil
}

func (m *mockAlgodClient) counts() (pending, waits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PendingCalls), len(m.WaitCalls)
}

// mockLedgerWallet implements LedgerWallet for testing. Without
// SignTransactionsFn it signs with testLedgerAccount.
type mockLedgerWallet struct {
	mu sync.Mutex

	ConnectFn          func() ([]string, error)
	ReconnectFn        func() ([]string, error)
	DisconnectFn       func() error
	SignTransactionsFn func(txns []algotypes.Transaction) ([][]byte, error)

	DisconnectCalls int
	SignCalls       [][]algotypes.Transaction
}

func (m *mockLedgerWallet) Connect(ctx context.Context) ([]string, error) {
	if m.ConnectFn != nil {
		return m.ConnectFn()
	}
	return []string{testLedgerAccount.Address.String()}, nil
}

func (m *mockLedgerWallet) Reconnect(ctx context.Context) ([]string, error) {
	if m.ReconnectFn != nil {
		return m.ReconnectFn()
	}
	return nil, nil
}

func (m *mockLedgerWallet) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.DisconnectCalls++
	m.mu.Unlock()
	if m.DisconnectFn != nil {
		return m.DisconnectFn()
	}
	return nil
}

func (m *mockLedgerWallet) SignTransactions(ctx context.Context, txns []algotypes.Transaction) ([][]byte, error) {
	m.mu.Lock()
	m.SignCalls = append(m.SignCalls, txns)
	m.mu.Unlock()
	if m.SignTransactionsFn != nil {
		return m.SignTransactionsFn(txns)
	}
	blobs := make([][]byte, 0, len(txns))
	for _, txn := range txns {
		_, blob, err := algocrypto.SignTransaction(testLedgerAccount.PrivateKey, txn)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

// mockAdapter implements ChainAdapter and the optional Reconnector,
// AssetResolver, AssetLister and EventSource capabilities for testing.
type mockAdapter struct {
	mu sync.Mutex

	network NetworkConfig
	address string

	ConnectFn            func() (string, error)
	ReconnectFn          func() (string, error)
	QueryBalanceFn       func(address string) (*big.Int, error)
	ListAssetsFn         func(address string) ([]OwnedAsset, error)
	BuildTransactionFn   func(kind TxKind, params TxParams) (PendingTransaction, error)
	SignTransactionFn    func(ptx PendingTransaction) (*SignedTransaction, error)
	SubmitTransactionFn  func(stx *SignedTransaction) (string, error)
	ConfirmTransactionFn func(txID string, budget int) (*ConfirmationResult, error)
	ResolveAssetIDFn     func(res *ConfirmationResult) (string, error)

	ConnectCalls    int
	DisconnectCalls int
	BuildCalls      []TxParams
	SignCalls       int
	SubmitCalls     int
	ConfirmCalls    []struct {
		TxID   string
		Budget int
	}
	handler WalletEventHandler
}

func newMockAdapter(network NetworkConfig, address string) *mockAdapter {
	return &mockAdapter{network: network, address: address}
}

func (m *mockAdapter) Family() ChainFamily {
	return m.network.Family
}

func (m *mockAdapter) Network() NetworkConfig {
	return m.network
}

func (m *mockAdapter) Connect(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.ConnectCalls++
	m.mu.Unlock()
	if m.ConnectFn != nil {
		return m.ConnectFn()
	}
	return m.address, nil
}

func (m *mockAdapter) Reconnect(ctx context.Context) (string, error) {
	if m.ReconnectFn != nil {
		return m.ReconnectFn()
	}
	return m.address, nil
}

func (m *mockAdapter) Disconnect(ctx context.Context) {
	m.mu.Lock()
	m.DisconnectCalls++
	m.mu.Unlock()
}

func (m *mockAdapter) QueryBalance(ctx context.Context, address string) (*big.Int, error) {
	if m.QueryBalanceFn != nil {
		return m.QueryBalanceFn(address)
	}
	return big.NewInt(1000), nil
}

func (m *mockAdapter) ListAssets(ctx context.Context, address string) ([]OwnedAsset, error) {
	if m.ListAssetsFn != nil {
		return m.ListAssetsFn(address)
	}
	return nil, nil
}

func (m *mockAdapter) BuildTransaction(kind TxKind, params TxParams) (PendingTransaction, error) {
	m.mu.Lock()
	m.BuildCalls = append(m.BuildCalls, params)
	m.mu.Unlock()
	if m.BuildTransactionFn != nil {
		return m.BuildTransactionFn(kind, params)
	}
	if m.network.Family == FamilyEVM {
		return &EVMCall{TxKind: kind, From: common.HexToAddress(params.From), Value: params.Value}, nil
	}
	if kind == TxKindMint {
		return &LedgerAssetCreate{From: params.From, AssetName: params.Name, AssetURL: params.TokenURI, Total: 1}, nil
	}
	return &LedgerPayment{From: params.From, To: params.To}, nil
}

func (m *mockAdapter) SignTransaction(ctx context.Context, ptx PendingTransaction) (*SignedTransaction, error) {
	m.mu.Lock()
	m.SignCalls++
	m.mu.Unlock()
	if m.SignTransactionFn != nil {
		return m.SignTransactionFn(ptx)
	}
	return &SignedTransaction{Pending: ptx, Payload: []byte{0x01}, TxID: "TX1"}, nil
}

func (m *mockAdapter) SubmitTransaction(ctx context.Context, stx *SignedTransaction) (string, error) {
	m.mu.Lock()
	m.SubmitCalls++
	m.mu.Unlock()
	if err := stx.consume(); err != nil {
		return "", err
	}
	if m.SubmitTransactionFn != nil {
		return m.SubmitTransactionFn(stx)
	}
	return stx.TxID, nil
}

func (m *mockAdapter) ConfirmTransaction(ctx context.Context, txID string, budget int) (*ConfirmationResult, error) {
	m.mu.Lock()
	m.ConfirmCalls = append(m.ConfirmCalls, struct {
		TxID   string
		Budget int
	}{txID, budget})
	m.mu.Unlock()
	if m.ConfirmTransactionFn != nil {
		return m.ConfirmTransactionFn(txID, budget)
	}
	return &ConfirmationResult{TxID: txID, ConfirmedAt: 1001}, nil
}

func (m *mockAdapter) ResolveAssetID(ctx context.Context, res *ConfirmationResult) (string, error) {
	if m.ResolveAssetIDFn != nil {
		return m.ResolveAssetIDFn(res)
	}
	return "42", nil
}

func (m *mockAdapter) Subscribe(handler WalletEventHandler) func() {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.handler = nil
		m.mu.Unlock()
	}
}

// emit delivers ev to the subscribed session, if any.
func (m *mockAdapter) emit(ev WalletEvent) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (m *mockAdapter) subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

func (m *mockAdapter) calls() (sign, submit, confirm int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SignCalls, m.SubmitCalls, len(m.ConfirmCalls)
}

// mockVerifierAdapter adds Verifier to mockAdapter
type mockVerifierAdapter struct {
	*mockAdapter
	VerifyFn func(assetID, quantumHash string) (bool, error)
}

func (m *mockVerifierAdapter) VerifyQuantumHash(ctx context.Context, assetID, quantumHash string) (bool, error) {
	if m.VerifyFn != nil {
		return m.VerifyFn(assetID, quantumHash)
	}
	return true, nil
}

// mockHashGenerator implements HashGenerator for testing
type mockHashGenerator struct {
	mu sync.Mutex

	GenerateHashFn func(image []byte, name, description string) (string, error)

	Calls []string
}

func (m *mockHashGenerator) GenerateHash(ctx context.Context, image []byte, name, description string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, name)
	m.mu.Unlock()
	if m.GenerateHashFn != nil {
		return m.GenerateHashFn(image, name, description)
	}
	return "abc123", nil
}

// mockGuard implements SessionGuard for testing
type mockGuard struct {
	mu sync.Mutex

	// FailAfter makes CheckGeneration fail from the nth call on (1-based). 0 never fails.
	FailAfter int
	calls     int
}

func (m *mockGuard) CheckGeneration(gen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailAfter > 0 && m.calls >= m.FailAfter {
		return fmt.Errorf("%w: generation %d", ErrSessionChanged, gen)
	}
	return nil
}

// ============================================================
// Test Fixtures
// ============================================================

var (
	// well known development key, never funded outside local chains
	testEVMKey, _  = crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	testEVMAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testEVMAddr2   = common.HexToAddress("0x2222222222222222222222222222222222222222")

	testLedgerAccount   = algocrypto.GenerateAccount()
	testLedgerRecipient = algocrypto.GenerateAccount()

	oneEth     = big.NewInt(1000000000000000000)
	twentyGwei = big.NewInt(20000000000)
	twoGwei    = big.NewInt(2000000000)
)

func newTestSuggestedParams() algotypes.SuggestedParams {
	genesisHash := make([]byte, 32)
	for i := range genesisHash {
		genesisHash[i] = byte(i + 1)
	}
	return algotypes.SuggestedParams{
		Fee:             0,
		GenesisID:       "testnet-v1.0",
		GenesisHash:     genesisHash,
		FirstRoundValid: 1000,
		LastRoundValid:  2000,
		MinFee:          1000,
	}
}

func testNetwork(t *testing.T, chainKey string) NetworkConfig {
	t.Helper()
	n, err := DefaultRegistry().Resolve(chainKey)
	require.NoError(t, err)
	return n
}

func newTestReceipt(hash common.Hash, status uint64, block int64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(block),
		Logs:        logs,
	}
}

// ============================================================
// Test Helpers
// ============================================================

// adapterSet is an AdapterFactory backed by prebuilt adapters keyed by chain key
type adapterSet struct {
	mu       sync.Mutex
	adapters map[string]ChainAdapter
	err      error
	calls    []string
}

func newAdapterSet(adapters ...*mockAdapter) *adapterSet {
	s := &adapterSet{adapters: make(map[string]ChainAdapter)}
	for _, a := range adapters {
		s.adapters[a.network.ChainKey] = a
	}
	return s
}

func (s *adapterSet) factory(ctx context.Context, network NetworkConfig) (ChainAdapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, network.ChainKey)
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.adapters[network.ChainKey]
	if !ok {
		return nil, fmt.Errorf("no adapter for %s", network.ChainKey)
	}
	return a, nil
}

// testSetup contains the mocks needed for a typical session test
type testSetup struct {
	Registry *NetworkRegistry
	EVM      *mockAdapter
	Ledger   *mockAdapter
	Adapters *adapterSet
	Store    *MemoryStore
	Session  *SessionManager
}

// newTestSetup creates a disconnected session over one EVM and one ledger
// mock adapter
func newTestSetup(t *testing.T, opts ...SessionOption) *testSetup {
	t.Helper()

	registry := DefaultRegistry()
	evm := newMockAdapter(testNetwork(t, NetworkLocalhost), testEVMAddress.Hex())
	ledger := newMockAdapter(testNetwork(t, NetworkAlgorandTestnet), testLedgerAccount.Address.String())
	adapters := newAdapterSet(evm, ledger)
	store := NewMemoryStore()

	session := NewSessionManager(registry, adapters.factory,
		append([]SessionOption{WithSessionStore(store)}, opts...)...)

	return &testSetup{
		Registry: registry,
		EVM:      evm,
		Ledger:   ledger,
		Adapters: adapters,
		Store:    store,
		Session:  session,
	}
}
