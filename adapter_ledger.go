package qchain

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/KyberNetwork/logger"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
)

const (
	maxLedgerNoteBytes = 1024
	ledgerNotePrefix   = "qchain:"
)

// LedgerAssetAdapter implements ChainAdapter for round-finality chains.
type LedgerAssetAdapter struct {
	network NetworkConfig
	client  AlgodClient
	wallet  LedgerWallet
}

// NewLedgerAssetAdapter creates an adapter for a ledger-asset network. wallet
// may be nil, in which case Connect fails with ErrConnection.
func NewLedgerAssetAdapter(network NetworkConfig, client AlgodClient, wallet LedgerWallet) (*LedgerAssetAdapter, error) {
	if network.Family != FamilyLedgerAsset {
		return nil, fmt.Errorf("%w: network %s is not a ledger-asset network", ErrValidation, network.ChainKey)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: nil algod client", ErrValidation)
	}
	return &LedgerAssetAdapter{network: network, client: client, wallet: wallet}, nil
}

func (a *LedgerAssetAdapter) Family() ChainFamily {
	return FamilyLedgerAsset
}

func (a *LedgerAssetAdapter) Network() NetworkConfig {
	return a.network
}

func (a *LedgerAssetAdapter) Connect(ctx context.Context) (string, error) {
	if a.wallet == nil {
		return "", errors.Join(ErrConnection, fmt.Errorf("no ledger wallet connector"))
	}
	accounts, err := a.wallet.Connect(ctx)
	if err != nil {
		return "", errors.Join(ErrConnection, err)
	}
	if len(accounts) == 0 {
		return "", errors.Join(ErrConnection, fmt.Errorf("wallet returned no accounts"))
	}
	return accounts[0], nil
}

// Reconnect restores the wallet-connect session if one exists.
func (a *LedgerAssetAdapter) Reconnect(ctx context.Context) (string, error) {
	if a.wallet == nil {
		return "", errors.Join(ErrConnection, fmt.Errorf("no ledger wallet connector"))
	}
	accounts, err := a.wallet.Reconnect(ctx)
	if err != nil {
		return "", errors.Join(ErrConnection, err)
	}
	if len(accounts) == 0 {
		return "", nil
	}
	return accounts[0], nil
}

func (a *LedgerAssetAdapter) Disconnect(ctx context.Context) {
	if a.wallet == nil {
		return
	}
	if err := a.wallet.Disconnect(ctx); err != nil {
		logger.WithFields(logger.Fields{
			"chain_key": a.network.ChainKey,
			"error":     err,
		}).Warn("Wallet disconnect failed. Session cleared locally")
	}
}

func (a *LedgerAssetAdapter) QueryBalance(ctx context.Context, address string) (*big.Int, error) {
	if _, err := algotypes.DecodeAddress(address); err != nil {
		return nil, fmt.Errorf("%w: invalid address %q: %v", ErrValidation, address, err)
	}
	info, err := a.client.AccountInformation(ctx, address)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	return new(big.Int).SetUint64(info.Amount), nil
}

// ListAssets returns the assets with a non-zero holding.
func (a *LedgerAssetAdapter) ListAssets(ctx context.Context, address string) ([]OwnedAsset, error) {
	if _, err := algotypes.DecodeAddress(address); err != nil {
		return nil, fmt.Errorf("%w: invalid address %q: %v", ErrValidation, address, err)
	}
	info, err := a.client.AccountInformation(ctx, address)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	assets := make([]OwnedAsset, 0, len(info.Assets))
	for _, h := range info.Assets {
		if h.Amount == 0 {
			continue
		}
		assets = append(assets, OwnedAsset{AssetID: strconv.FormatUint(h.AssetId, 10), Amount: h.Amount})
	}
	return assets, nil
}

func (a *LedgerAssetAdapter) BuildTransaction(kind TxKind, params TxParams) (PendingTransaction, error) {
	if _, err := algotypes.DecodeAddress(params.From); err != nil {
		return nil, fmt.Errorf("%w: invalid sender %q", ErrValidation, params.From)
	}

	switch kind {
	case TxKindMint:
		if params.Name == "" || params.QuantumHash == "" || params.TokenURI == "" {
			return nil, fmt.Errorf("%w: mint needs name, quantum hash and asset url", ErrValidation)
		}
		if len(params.Name) > MaxLedgerAssetNameBytes {
			return nil, fmt.Errorf("%w: asset name longer than %d bytes", ErrValidation, MaxLedgerAssetNameBytes)
		}
		if len(params.TokenURI) > MaxLedgerAssetURLBytes {
			return nil, fmt.Errorf("%w: asset url longer than %d bytes", ErrValidation, MaxLedgerAssetURLBytes)
		}
		note := []byte(ledgerNotePrefix + params.QuantumHash)
		if len(note) > maxLedgerNoteBytes {
			return nil, fmt.Errorf("%w: quantum hash does not fit in a transaction note", ErrValidation)
		}
		return &LedgerAssetCreate{
			From:         params.From,
			AssetName:    params.Name,
			UnitName:     LedgerNFTUnitName,
			AssetURL:     params.TokenURI,
			Total:        1,
			Decimals:     0,
			Note:         note,
			MetadataHash: sha256.Sum256([]byte(params.QuantumHash)),
		}, nil

	case TxKindPayment:
		if _, err := algotypes.DecodeAddress(params.To); err != nil {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrValidation, params.To)
		}
		if params.Amount == nil || params.Amount.Sign() <= 0 || !params.Amount.IsUint64() {
			return nil, fmt.Errorf("%w: amount must be a positive number of base units", ErrValidation)
		}
		return &LedgerPayment{
			From:   params.From,
			To:     params.To,
			Amount: params.Amount.Uint64(),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTxKind, kind)
	}
}

// SignTransaction fetches suggested params, encodes the transaction and asks
// the wallet to sign it as a group of one.
func (a *LedgerAssetAdapter) SignTransaction(ctx context.Context, ptx PendingTransaction) (*SignedTransaction, error) {
	if a.wallet == nil {
		return nil, errors.Join(ErrConnection, fmt.Errorf("no ledger wallet connector"))
	}

	switch ptx.(type) {
	case *LedgerAssetCreate, *LedgerPayment:
	default:
		return nil, fmt.Errorf("%w: %T is not a ledger transaction", ErrValidation, ptx)
	}

	sp, err := a.client.SuggestedParams(ctx)
	if err != nil {
		return nil, errors.Join(ErrQuery, fmt.Errorf("suggested params: %w", err))
	}

	var txn algotypes.Transaction
	switch p := ptx.(type) {
	case *LedgerAssetCreate:
		txn, err = transaction.MakeAssetCreateTxn(
			p.From, p.Note, sp, p.Total, p.Decimals, false,
			p.From, p.From, "", "",
			p.UnitName, p.AssetName, p.AssetURL, "",
		)
		if err == nil {
			txn.AssetParams.MetadataHash = p.MetadataHash
		}
	case *LedgerPayment:
		txn, err = transaction.MakePaymentTxn(p.From, p.To, p.Amount, p.Note, "", sp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	txID := crypto.GetTxID(txn)
	blobs, err := a.wallet.SignTransactions(ctx, []algotypes.Transaction{txn})
	if err != nil {
		if errors.Is(err, ErrTransactionRejected) {
			return nil, err
		}
		return nil, errors.Join(ErrConnection, fmt.Errorf("sign: %w", err))
	}
	if len(blobs) != 1 || len(blobs[0]) == 0 {
		return nil, errors.Join(ErrConnection, fmt.Errorf("wallet returned %d signed transactions, expected 1", len(blobs)))
	}

	logger.WithFields(logger.Fields{
		"chain_key": a.network.ChainKey,
		"from":      ptx.Sender(),
		"kind":      ptx.Kind(),
		"tx_id":     txID,
	}).Debug("Ledger transaction signed")

	return &SignedTransaction{Pending: ptx, Payload: blobs[0], TxID: txID}, nil
}

func (a *LedgerAssetAdapter) SubmitTransaction(ctx context.Context, stx *SignedTransaction) (string, error) {
	if stx == nil {
		return "", fmt.Errorf("%w: nil signed transaction", ErrValidation)
	}
	if err := stx.consume(); err != nil {
		return "", err
	}
	txID, err := a.client.SendRawTransaction(ctx, stx.Payload)
	if err != nil {
		return "", submitFailure(stx.TxID, err, nodeAnswered(err))
	}
	if txID == "" {
		txID = stx.TxID
	}
	return txID, nil
}

// ConfirmTransaction polls pending info once per closed round. It issues at
// most budget+1 pending queries and advances exactly budget rounds before
// giving up with ErrConfirmationTimeout. Each advance moves the round forward
// by at least one.
func (a *LedgerAssetAdapter) ConfirmTransaction(ctx context.Context, txID string, budget int) (*ConfirmationResult, error) {
	if budget <= 0 {
		budget = DefaultConfirmationRounds
	}

	round, err := a.client.LastRound(ctx)
	if err != nil {
		return nil, errors.Join(ErrQuery, errSubmittedUnknown, fmt.Errorf("status: %w", err))
	}

	for advanced := 0; ; advanced++ {
		info, err := a.client.PendingTransaction(ctx, txID)
		if err != nil {
			return nil, errors.Join(ErrQuery, errSubmittedUnknown, fmt.Errorf("pending info: %w", err))
		}
		if info.ConfirmedRound > 0 {
			return &ConfirmationResult{
				TxID:        txID,
				ConfirmedAt: info.ConfirmedRound,
				PendingInfo: &info,
			}, nil
		}
		if info.PoolError != "" {
			subErr := NewSubmissionError(txID, errors.New(info.PoolError))
			if subErr.Reason == ReasonUnknown {
				subErr.Reason = ReasonPoolRejected
			}
			return nil, subErr
		}
		if advanced == budget {
			break
		}

		latest, err := a.client.WaitForRoundAfter(ctx, round)
		if err != nil {
			return nil, errors.Join(ErrQuery, errSubmittedUnknown, fmt.Errorf("status after round %d: %w", round, err))
		}
		next := round + 1
		if latest > next {
			next = latest
		}
		round = next
	}

	return nil, errors.Join(ErrConfirmationTimeout, fmt.Errorf("tx %s not confirmed after %d rounds (last round %d)", txID, budget, round))
}

// ResolveAssetID returns the asset index created by a confirmed asset create.
func (a *LedgerAssetAdapter) ResolveAssetID(ctx context.Context, res *ConfirmationResult) (string, error) {
	if res == nil || res.PendingInfo == nil || res.PendingInfo.AssetIndex == 0 {
		return "", ErrAssetUnresolved
	}
	return strconv.FormatUint(res.PendingInfo.AssetIndex, 10), nil
}

// nodeAnswered reports whether algod replied with a client error. The SDK
// renders non-2xx replies as "HTTP <code>: <body>".
func nodeAnswered(err error) bool {
	return strings.Contains(err.Error(), "HTTP 4")
}
