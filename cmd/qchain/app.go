package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	qchain "github.com/Jiyansh2006/q-chain2"
	"github.com/Jiyansh2006/q-chain2/internal/config"
	filestore "github.com/Jiyansh2006/q-chain2/persistence/file"
	redisstore "github.com/Jiyansh2006/q-chain2/persistence/redis"
)

// current is the app built for the running command, closed on exit.
var current *app

type app struct {
	cfg      *config.Config
	registry *qchain.NetworkRegistry
	engine   *qchain.Engine
	redis    redis.UniversalClient

	onStage func(qchain.MintStage)
}

// newApp wires the engine from the environment configuration.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: registry}

	var (
		store   qchain.KVStore
		journal qchain.TxJournal
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid QCHAIN_REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		store = redisstore.NewSessionStore(a.redis, redisstore.WithSessionStoreKeyPrefix(cfg.KeyPrefix))
		journal = redisstore.NewTxStore(a.redis, redisstore.WithTxStoreKeyPrefix(cfg.KeyPrefix))
	} else {
		store = filestore.NewStore(cfg.SessionFile)
		journal = qchain.NewMemoryJournal()
	}

	approver := qchain.SigningApprover(promptApprover{})
	if cfg.AutoApprove {
		approver = qchain.AutoApprove
	}

	evmWallet, err := loadEVMWallet(ctx, cfg, registry, approver, store)
	if err != nil {
		return nil, err
	}
	ledgerWallet, err := loadLedgerWallet(cfg, approver, store)
	if err != nil {
		return nil, err
	}

	// typed nil wallets must not reach the factory
	var factory qchain.AdapterFactory
	switch {
	case evmWallet != nil && ledgerWallet != nil:
		factory = qchain.NewAdapterFactory(evmWallet, ledgerWallet)
	case evmWallet != nil:
		factory = qchain.NewAdapterFactory(evmWallet, nil)
	case ledgerWallet != nil:
		factory = qchain.NewAdapterFactory(nil, ledgerWallet)
	default:
		factory = qchain.NewAdapterFactory(nil, nil)
	}

	hasher := qchain.NewHashClient(cfg.HashServiceURL,
		qchain.WithHashTimeout(cfg.HashTimeout),
		qchain.WithRateLimit(cfg.HashRateLimit, cfg.HashRateBurst),
	)

	a.engine = qchain.NewEngine(registry, factory,
		qchain.WithKVStore(store),
		qchain.WithJournal(journal),
		qchain.WithHasher(hasher),
		qchain.WithMetrics(qchain.NewMetrics(prometheus.NewRegistry())),
		qchain.WithDefaultConfirmationRounds(cfg.ConfirmationRounds),
		qchain.WithMintOptions(qchain.WithStageObserver(func(stage qchain.MintStage, _ *qchain.MintRequest) {
			if a.onStage != nil {
				a.onStage(stage)
			}
		})),
	)
	current = a
	return a, nil
}

// restore silently reconnects the session saved by an earlier run.
func (a *app) restore(ctx context.Context) (qchain.WalletSession, error) {
	if _, err := a.engine.ReconnectSession(ctx); err != nil {
		return qchain.WalletSession{}, err
	}
	return a.engine.SessionState(), nil
}

// requireSession restores the session and fails when there is none.
func (a *app) requireSession(ctx context.Context) (qchain.WalletSession, error) {
	ws, err := a.restore(ctx)
	if err != nil {
		return ws, err
	}
	if ws.State != qchain.SessionConnected {
		return ws, fmt.Errorf("%w: run \"qchain connect <network>\" first", qchain.ErrNotConnected)
	}
	return ws, nil
}

func (a *app) network(chainKey string) qchain.NetworkConfig {
	n, _ := a.registry.Resolve(chainKey)
	return n
}

func (a *app) close() {
	a.engine.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func loadRegistry(cfg *config.Config) (*qchain.NetworkRegistry, error) {
	networks, defaultKey := qchain.DefaultNetworks(), qchain.NetworkSepolia
	if cfg.NetworksFile != "" {
		var err error
		networks, defaultKey, err = qchain.LoadNetworkFile(cfg.NetworksFile)
		if err != nil {
			return nil, err
		}
	}
	if cfg.DefaultNetwork != "" {
		defaultKey = cfg.DefaultNetwork
	}
	return qchain.NewNetworkRegistry(networks, defaultKey)
}

func loadEVMWallet(ctx context.Context, cfg *config.Config, registry *qchain.NetworkRegistry, approver qchain.SigningApprover, store qchain.KVStore) (*qchain.LocalEVMWallet, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	switch {
	case promptKey:
		secret, perr := config.PromptSecret("EVM private key")
		if perr != nil {
			return nil, perr
		}
		key, err = qchain.EVMKeyFromHex(secret)
	case cfg.EVMPrivateKey != "":
		key, err = qchain.EVMKeyFromHex(cfg.EVMPrivateKey)
	case cfg.EVMMnemonic != "":
		key, err = qchain.EVMKeyFromMnemonic(cfg.EVMMnemonic, "", cfg.EVMAccount)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	chainID := registry.Default().ChainID
	if chainID == 0 {
		chainID = 1
	}
	wallet := qchain.NewLocalEVMWallet(key, chainID, approver)
	if err := wallet.UseStore(ctx, store); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", warnMark, err)
	}
	return wallet, nil
}

func loadLedgerWallet(cfg *config.Config, approver qchain.SigningApprover, store qchain.KVStore) (*qchain.LocalLedgerWallet, error) {
	if cfg.LedgerMnemonic == "" {
		return nil, nil
	}
	account, err := qchain.LedgerAccountFromMnemonic(cfg.LedgerMnemonic)
	if err != nil {
		return nil, err
	}
	return qchain.NewLocalLedgerWallet(account, approver, store), nil
}
