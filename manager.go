package qchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// Engine is the boundary the surrounding application talks to. It wires
//  1. the network registry and the adapter factory,
//  2. the single wallet session and its persistence,
//  3. the transaction coordinator and its journal,
//  4. the mint workflow and the hash service.
type Engine struct {
	registry    *NetworkRegistry
	factory     AdapterFactory
	session     *SessionManager
	coordinator *Coordinator
	mint        *MintWorkflow

	store   KVStore
	journal TxJournal
	hasher  HashGenerator
	metrics *Metrics
	budget  int

	sessionOpts []SessionOption
	mintOpts    []MintOption
}

// NewEngine creates an Engine with optional configuration
func NewEngine(registry *NetworkRegistry, factory AdapterFactory, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		factory:  factory,
		budget:   DefaultConfirmationRounds,
	}
	for _, opt := range opts {
		opt(e)
	}

	sessionOpts := []SessionOption{WithSessionMetrics(e.metrics)}
	if e.store != nil {
		sessionOpts = append(sessionOpts, WithSessionStore(e.store))
	}
	e.session = NewSessionManager(registry, factory, append(sessionOpts, e.sessionOpts...)...)

	coordOpts := []CoordinatorOption{WithCoordinatorMetrics(e.metrics)}
	if e.journal != nil {
		coordOpts = append(coordOpts, WithTxJournal(e.journal))
	}
	e.coordinator = NewCoordinator(coordOpts...)

	mintOpts := []MintOption{
		WithConfirmationBudget(e.budget),
		WithMintMetrics(e.metrics),
	}
	e.mint = NewMintWorkflow(e.session, e.hasher, e.coordinator, append(mintOpts, e.mintOpts...)...)

	return e
}

// Session returns the underlying session manager.
func (e *Engine) Session() *SessionManager {
	return e.session
}

// Networks returns the configured networks sorted by key.
func (e *Engine) Networks() []NetworkConfig {
	keys := e.registry.Keys()
	out := make([]NetworkConfig, 0, len(keys))
	for _, k := range keys {
		n, _ := e.registry.Resolve(k)
		out = append(out, n)
	}
	return out
}

func (e *Engine) Connect(ctx context.Context, chainKey string) (WalletSession, error) {
	return e.session.Connect(ctx, chainKey)
}

func (e *Engine) Disconnect(ctx context.Context) {
	e.session.Disconnect(ctx)
}

func (e *Engine) SessionState() WalletSession {
	return e.session.State()
}

func (e *Engine) QueryBalance(ctx context.Context) (*big.Int, error) {
	return e.session.QueryBalance(ctx)
}

func (e *Engine) SwitchNetwork(ctx context.Context, chainKey string) (WalletSession, error) {
	return e.session.SwitchNetwork(ctx, chainKey)
}

func (e *Engine) ReconnectSession(ctx context.Context) (string, error) {
	return e.session.ReconnectSession(ctx)
}

func (e *Engine) Refresh(ctx context.Context) (WalletSession, error) {
	return e.session.Refresh(ctx)
}

// ListAssets refreshes and returns the assets held by the session address.
func (e *Engine) ListAssets(ctx context.Context) ([]OwnedAsset, error) {
	ws, err := e.session.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return ws.Assets, nil
}

func (e *Engine) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	return e.mint.Mint(ctx, req)
}

func (e *Engine) Verify(ctx context.Context, assetID, quantumHash string) (bool, error) {
	return e.mint.Verify(ctx, assetID, quantumHash)
}

// TransferRequest moves native currency, or the configured token when Token
// is set, from the session address.
type TransferRequest struct {
	To     string
	Amount *big.Int // base units
	Token  bool
	UsePQC bool
}

// Transfer builds and runs a payment through the coordinator.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*ConfirmationResult, error) {
	adapter, ws, err := e.session.ActiveAdapter()
	if err != nil {
		return nil, err
	}
	kind := TxKindPayment
	if req.Token {
		kind = TxKindTokenTransfer
	}
	ptx, err := adapter.BuildTransaction(kind, TxParams{
		From:   ws.Address,
		To:     req.To,
		Amount: req.Amount,
		UsePQC: req.UsePQC,
	})
	if err != nil {
		return nil, err
	}
	return e.coordinator.Run(ctx, adapter, ptx, e.budget, WithSessionGuard(e.session, ws.Generation))
}

// Repoll waits again for txID with a fresh budget. budget <= 0 uses the
// engine default.
func (e *Engine) Repoll(ctx context.Context, txID string, budget int) (*ConfirmationResult, error) {
	if budget <= 0 {
		budget = e.budget
	}
	adapter, err := e.adapterForTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	return e.coordinator.Repoll(ctx, adapter, txID, budget)
}

// PendingTransactions lists journaled transactions whose final state is unknown.
func (e *Engine) PendingTransactions(ctx context.Context) ([]*TxRecord, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.ListPending(ctx)
}

// Close releases wallet subscriptions.
func (e *Engine) Close() {
	e.session.Close()
}

// adapterForTx picks the adapter of the network the transaction was sent on,
// falling back to the active session.
func (e *Engine) adapterForTx(ctx context.Context, txID string) (ChainAdapter, error) {
	active, ws, activeErr := e.session.ActiveAdapter()

	if e.journal != nil {
		rec, err := e.journal.Get(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		if rec != nil {
			if activeErr == nil && ws.ChainKey == rec.ChainKey {
				return active, nil
			}
			network, err := e.registry.Resolve(rec.ChainKey)
			if err != nil {
				return nil, err
			}
			return e.factory(ctx, network)
		}
	}

	if activeErr != nil {
		return nil, errors.Join(activeErr, fmt.Errorf("transaction %s is not journaled", txID))
	}
	return active, nil
}
