package qchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/goccy/go-json"
)

// DefaultSessionKeyPrefix prefixes the persisted last-session records.
const DefaultSessionKeyPrefix = "qchain:session:"

// sessionRecord is the persisted form of a connected session.
type sessionRecord struct {
	Address     string      `json:"address"`
	ChainKey    string      `json:"chain_key"`
	Family      ChainFamily `json:"family"`
	ConnectedAt int64       `json:"connected_at"` // Unix seconds
}

// SessionManager owns the single wallet session. All mutations go through
// its methods; adapters and workflows only read snapshots.
//
// States: Disconnected -> Connecting -> Connected -> Disconnected. Every
// transition into Connected and every disconnect or chain change bumps the
// generation, so callers holding an older generation can detect that the
// session they started with is gone.
type SessionManager struct {
	mu sync.Mutex

	registry  *NetworkRegistry
	factory   AdapterFactory
	store     KVStore
	keyPrefix string
	metrics   *Metrics
	eventCtx  context.Context
	now       func() time.Time

	state         SessionState
	network       NetworkConfig
	adapter       ChainAdapter
	address       string
	connectedAt   time.Time
	balance       *big.Int
	assets        []OwnedAsset
	chainMismatch bool
	generation    uint64
	unsubscribe   func()
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionStore sets the key/value store used for silent reconnect.
func WithSessionStore(store KVStore) SessionOption {
	return func(s *SessionManager) {
		s.store = store
	}
}

// WithSessionKeyPrefix sets a custom prefix for persisted session keys.
func WithSessionKeyPrefix(prefix string) SessionOption {
	return func(s *SessionManager) {
		s.keyPrefix = prefix
	}
}

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *SessionManager) {
		s.metrics = m
	}
}

// WithEventContext sets the context used for work triggered by wallet
// notifications, such as an implicit reconnect.
func WithEventContext(ctx context.Context) SessionOption {
	return func(s *SessionManager) {
		s.eventCtx = ctx
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionManager) {
		s.now = now
	}
}

// NewSessionManager creates a disconnected session manager.
func NewSessionManager(registry *NetworkRegistry, factory AdapterFactory, opts ...SessionOption) *SessionManager {
	s := &SessionManager{
		registry:  registry,
		factory:   factory,
		keyPrefix: DefaultSessionKeyPrefix,
		eventCtx:  context.Background(),
		now:       time.Now,
		state:     SessionDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current session.
func (s *SessionManager) State() WalletSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SessionManager) snapshotLocked() WalletSession {
	ws := WalletSession{
		State:         s.state,
		Family:        s.network.Family,
		ChainKey:      s.network.ChainKey,
		Address:       s.address,
		ConnectedAt:   s.connectedAt,
		IsConnecting:  s.state == SessionConnecting,
		Generation:    s.generation,
		ChainMismatch: s.chainMismatch,
	}
	if s.state == SessionConnected {
		ws.Balance = new(big.Int)
		if s.balance != nil {
			ws.Balance.Set(s.balance)
		}
	}
	if len(s.assets) > 0 {
		ws.Assets = append([]OwnedAsset(nil), s.assets...)
	}
	return ws
}

// Generation returns the current session generation.
func (s *SessionManager) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CheckGeneration returns ErrSessionChanged if the session moved past gen.
func (s *SessionManager) CheckGeneration(gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return fmt.Errorf("%w: generation %d, now %d", ErrSessionChanged, gen, s.generation)
	}
	return nil
}

// ActiveAdapter returns the adapter and a snapshot of the connected session.
func (s *SessionManager) ActiveAdapter() (ChainAdapter, WalletSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionConnected || s.adapter == nil {
		return nil, WalletSession{}, ErrNotConnected
	}
	return s.adapter, s.snapshotLocked(), nil
}

// Connect tears down the current session and connects to chainKey. On
// failure the session ends Disconnected and the error wraps ErrConnection.
func (s *SessionManager) Connect(ctx context.Context, chainKey string) (WalletSession, error) {
	network, err := s.registry.Resolve(chainKey)
	if err != nil {
		return WalletSession{}, err
	}

	attempt := s.beginConnecting(ctx, network)

	adapter, err := s.factory(ctx, network)
	if err != nil {
		s.failConnecting(attempt, err)
		return s.State(), ensureKind(err, ErrConnection)
	}

	address, err := adapter.Connect(ctx)
	if err != nil {
		s.failConnecting(attempt, err)
		return s.State(), ensureKind(err, ErrConnection)
	}

	return s.finishConnecting(ctx, attempt, network, adapter, address)
}

// ReconnectSession restores the last persisted session without prompting.
// It is a no-op returning the current address when already connected, and
// returns "" with no error when there is nothing to restore.
func (s *SessionManager) ReconnectSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state == SessionConnected {
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	}
	s.mu.Unlock()

	rec := s.latestRecord(ctx)
	if rec == nil {
		return "", nil
	}
	network, err := s.registry.Resolve(rec.ChainKey)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_key": rec.ChainKey,
		}).Warn("Persisted session refers to unknown network. Dropping it")
		s.deleteRecord(ctx, rec.Family)
		return "", nil
	}

	attempt := s.beginConnecting(ctx, network)

	adapter, err := s.factory(ctx, network)
	if err != nil {
		s.failConnecting(attempt, err)
		return "", ensureKind(err, ErrConnection)
	}

	reconnector, ok := adapter.(Reconnector)
	if !ok {
		s.failConnecting(attempt, nil)
		return "", nil
	}
	address, err := reconnector.Reconnect(ctx)
	if err != nil {
		s.failConnecting(attempt, err)
		return "", ensureKind(err, ErrConnection)
	}
	if address == "" {
		s.failConnecting(attempt, nil)
		s.deleteRecord(ctx, network.Family)
		return "", nil
	}

	ws, err := s.finishConnecting(ctx, attempt, network, adapter, address)
	if err != nil {
		return "", err
	}
	return ws.Address, nil
}

// SwitchNetwork connects to chainKey unless the session is already connected
// to it.
func (s *SessionManager) SwitchNetwork(ctx context.Context, chainKey string) (WalletSession, error) {
	s.mu.Lock()
	if s.state == SessionConnected && s.network.ChainKey == chainKey {
		ws := s.snapshotLocked()
		s.mu.Unlock()
		return ws, nil
	}
	s.mu.Unlock()
	return s.Connect(ctx, chainKey)
}

// Disconnect moves the session to Disconnected from any state and clears the
// persisted record. It is a no-op when already disconnected.
func (s *SessionManager) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == SessionDisconnected && s.adapter == nil {
		s.mu.Unlock()
		return
	}
	adapter, unsubscribe, family := s.adapter, s.unsubscribe, s.network.Family
	s.resetLocked()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if adapter != nil {
		adapter.Disconnect(ctx)
	}
	if family != "" {
		s.deleteRecord(ctx, family)
	}
	s.metrics.recordTransition(SessionDisconnected)

	logger.WithFields(logger.Fields{
		"family":     family,
		"generation": gen,
	}).Info("Wallet session disconnected")
}

// QueryBalance returns the native balance of the session address. Query
// failures degrade to zero.
func (s *SessionManager) QueryBalance(ctx context.Context) (*big.Int, error) {
	adapter, ws, err := s.ActiveAdapter()
	if err != nil {
		return nil, err
	}
	balance, err := adapter.QueryBalance(ctx, ws.Address)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain_key": ws.ChainKey,
			"address":   ws.Address,
			"error":     err,
		}).Warn("Balance query failed. Reporting zero")
		s.metrics.recordDegradedRead(ws.Family, "balance")
		balance = new(big.Int)
	}

	s.mu.Lock()
	if s.generation == ws.Generation {
		s.balance = new(big.Int).Set(balance)
	}
	s.mu.Unlock()
	return balance, nil
}

// Refresh re-reads balance and owned assets. Failures degrade to zero and
// empty rather than failing the refresh.
func (s *SessionManager) Refresh(ctx context.Context) (WalletSession, error) {
	if _, err := s.QueryBalance(ctx); err != nil {
		return s.State(), err
	}
	adapter, ws, err := s.ActiveAdapter()
	if err != nil {
		return s.State(), err
	}

	var assets []OwnedAsset
	if lister, ok := adapter.(AssetLister); ok {
		assets, err = lister.ListAssets(ctx, ws.Address)
		if err != nil {
			logger.WithFields(logger.Fields{
				"chain_key": ws.ChainKey,
				"address":   ws.Address,
				"error":     err,
			}).Warn("Asset listing failed. Reporting none")
			s.metrics.recordDegradedRead(ws.Family, "assets")
			assets = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == ws.Generation {
		s.assets = assets
	}
	return s.snapshotLocked(), nil
}

// Close releases the wallet notification subscription.
func (s *SessionManager) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// beginConnecting tears down whatever session exists and enters Connecting.
// It returns the generation identifying this attempt.
func (s *SessionManager) beginConnecting(ctx context.Context, network NetworkConfig) uint64 {
	s.mu.Lock()
	oldAdapter, oldUnsubscribe, oldFamily := s.adapter, s.unsubscribe, s.network.Family
	switchingFamily := oldFamily != "" && oldFamily != network.Family

	s.resetLocked()
	s.network = network
	s.state = SessionConnecting
	s.generation++
	attempt := s.generation
	s.mu.Unlock()

	if oldUnsubscribe != nil {
		oldUnsubscribe()
	}
	if switchingFamily {
		if oldAdapter != nil {
			oldAdapter.Disconnect(ctx)
		}
		s.deleteRecord(ctx, oldFamily)
		logger.WithFields(logger.Fields{
			"from_family": oldFamily,
			"to_family":   network.Family,
		}).Info("Chain family switched. Previous session torn down")
	}
	s.metrics.recordTransition(SessionConnecting)
	return attempt
}

func (s *SessionManager) failConnecting(attempt uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != attempt {
		return
	}
	s.resetLocked()
	s.metrics.recordTransition(SessionDisconnected)
	if cause != nil {
		logger.WithFields(logger.Fields{
			"generation": attempt,
			"error":      cause,
		}).Warn("Wallet connection failed")
	}
}

func (s *SessionManager) finishConnecting(ctx context.Context, attempt uint64, network NetworkConfig, adapter ChainAdapter, address string) (WalletSession, error) {
	mismatch := false
	if checker, ok := adapter.(ChainChecker); ok {
		mismatch = errors.Is(checker.CheckChain(ctx), ErrNetworkMismatch)
	}

	s.mu.Lock()
	if s.generation != attempt {
		s.mu.Unlock()
		// superseded by a disconnect or another connect
		adapter.Disconnect(ctx)
		return s.State(), fmt.Errorf("%w: connect to %s superseded", ErrSessionChanged, network.ChainKey)
	}
	s.state = SessionConnected
	s.network = network
	s.adapter = adapter
	s.address = address
	s.connectedAt = s.now()
	s.chainMismatch = mismatch
	s.generation++
	gen := s.generation
	connectedAt := s.connectedAt
	s.mu.Unlock()

	if source, ok := adapter.(EventSource); ok {
		unsubscribe := source.Subscribe(s.handleWalletEvent)
		s.mu.Lock()
		if s.generation == gen {
			s.unsubscribe = unsubscribe
			unsubscribe = nil
		}
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	}

	s.saveRecord(ctx, &sessionRecord{
		Address:     address,
		ChainKey:    network.ChainKey,
		Family:      network.Family,
		ConnectedAt: connectedAt.Unix(),
	})
	s.metrics.recordTransition(SessionConnected)

	logger.WithFields(logger.Fields{
		"chain_key":      network.ChainKey,
		"family":         network.Family,
		"address":        address,
		"generation":     gen,
		"chain_mismatch": mismatch,
	}).Info("Wallet session connected")

	return s.Refresh(ctx)
}

// resetLocked clears every session field. Caller must hold s.mu.
func (s *SessionManager) resetLocked() {
	s.state = SessionDisconnected
	s.network = NetworkConfig{}
	s.adapter = nil
	s.address = ""
	s.connectedAt = time.Time{}
	s.balance = nil
	s.assets = nil
	s.chainMismatch = false
	s.unsubscribe = nil
}

// handleWalletEvent reacts to unsolicited wallet notifications.
func (s *SessionManager) handleWalletEvent(ev WalletEvent) {
	switch ev.Kind {
	case WalletAccountsChanged:
		if len(ev.Accounts) == 0 {
			logger.Info("Wallet reported no accounts. Disconnecting")
			s.Disconnect(s.eventCtx)
			return
		}
		s.mu.Lock()
		if s.state == SessionDisconnected {
			s.mu.Unlock()
			return
		}
		chainKey := s.network.ChainKey
		s.mu.Unlock()

		logger.WithFields(logger.Fields{
			"chain_key": chainKey,
		}).Info("Wallet accounts changed. Reconnecting")
		if _, err := s.Connect(s.eventCtx, chainKey); err != nil {
			logger.WithFields(logger.Fields{
				"chain_key": chainKey,
				"error":     err,
			}).Warn("Implicit reconnect failed")
		}

	case WalletChainChanged:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != SessionConnected {
			return
		}
		s.generation++
		s.chainMismatch = ev.ChainID == nil || ev.ChainID.Uint64() != s.network.ChainID
		logger.WithFields(logger.Fields{
			"chain_key":      s.network.ChainKey,
			"chain_id":       ev.ChainID,
			"chain_mismatch": s.chainMismatch,
			"generation":     s.generation,
		}).Info("Wallet chain changed")
	}
}

func (s *SessionManager) recordKey(family ChainFamily) string {
	return s.keyPrefix + string(family)
}

func (s *SessionManager) saveRecord(ctx context.Context, rec *sessionRecord) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err == nil {
		err = s.store.Set(ctx, s.recordKey(rec.Family), data)
	}
	if err != nil {
		logger.WithFields(logger.Fields{
			"family": rec.Family,
			"error":  err,
		}).Warn("Failed to persist wallet session")
	}
}

func (s *SessionManager) deleteRecord(ctx context.Context, family ChainFamily) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, s.recordKey(family)); err != nil {
		logger.WithFields(logger.Fields{
			"family": family,
			"error":  err,
		}).Warn("Failed to clear persisted wallet session")
	}
}

// latestRecord returns the most recently connected persisted session.
func (s *SessionManager) latestRecord(ctx context.Context) *sessionRecord {
	if s.store == nil {
		return nil
	}
	var latest *sessionRecord
	for _, family := range []ChainFamily{FamilyEVM, FamilyLedgerAsset} {
		data, err := s.store.Get(ctx, s.recordKey(family))
		if err != nil {
			logger.WithFields(logger.Fields{
				"family": family,
				"error":  err,
			}).Warn("Failed to read persisted wallet session")
			continue
		}
		if data == nil {
			continue
		}
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.ChainKey == "" {
			continue
		}
		rec.Family = family
		if latest == nil || rec.ConnectedAt > latest.ConnectedAt {
			latest = &rec
		}
	}
	return latest
}

// ensureKind joins kind onto err unless err already matches it.
func ensureKind(err, kind error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return errors.Join(kind, err)
}
