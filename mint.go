package qchain

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KyberNetwork/logger"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ActiveSession is the view of the session a mint needs. *SessionManager
// implements it.
type ActiveSession interface {
	SessionGuard
	ActiveAdapter() (ChainAdapter, WalletSession, error)
}

// MintWorkflow runs one mint attempt end to end:
// Validating -> HashPending -> Building -> Signing -> Submitting -> Confirming -> Completed.
// Callers must not run two attempts for the same session concurrently.
type MintWorkflow struct {
	session     ActiveSession
	hasher      HashGenerator
	coordinator *Coordinator
	budget      int
	metrics     *Metrics
	onStage     func(MintStage, *MintRequest)
	newAttempt  func() string
	now         func() time.Time
}

// MintOption configures a MintWorkflow.
type MintOption func(*MintWorkflow)

// WithConfirmationBudget sets the round budget passed to confirmation.
func WithConfirmationBudget(rounds int) MintOption {
	return func(w *MintWorkflow) {
		w.budget = rounds
	}
}

// WithStageObserver calls fn whenever the attempt enters a stage. fn must not
// retain req.
func WithStageObserver(fn func(stage MintStage, req *MintRequest)) MintOption {
	return func(w *MintWorkflow) {
		w.onStage = fn
	}
}

// WithMintMetrics sets the metrics sink.
func WithMintMetrics(m *Metrics) MintOption {
	return func(w *MintWorkflow) {
		w.metrics = m
	}
}

// WithAttemptIDGenerator overrides how attempt ids are generated.
func WithAttemptIDGenerator(fn func() string) MintOption {
	return func(w *MintWorkflow) {
		w.newAttempt = fn
	}
}

// NewMintWorkflow creates a workflow over the given session, hash service
// and coordinator.
func NewMintWorkflow(session ActiveSession, hasher HashGenerator, coordinator *Coordinator, opts ...MintOption) *MintWorkflow {
	w := &MintWorkflow{
		session:     session,
		hasher:      hasher,
		coordinator: coordinator,
		budget:      DefaultConfirmationRounds,
		newAttempt:  uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.coordinator == nil {
		w.coordinator = NewCoordinator()
	}
	return w
}

// Mint creates an asset on the active chain. It returns either a fully
// populated MintResult or a *MintError, never both.
func (w *MintWorkflow) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	family := ChainFamily("")

	enter := func(stage MintStage) {
		if w.onStage != nil {
			w.onStage(stage, &req)
		}
	}
	fail := func(stage MintStage, txID string, err error) (*MintResult, error) {
		enter(StageFailed)
		w.metrics.recordMint(family, stage)
		logger.WithFields(logger.Fields{
			"stage": stage,
			"tx_id": txID,
			"error": err,
		}).Warn("Mint failed")
		return nil, &MintError{Stage: stage, TxID: txID, Err: err}
	}

	enter(StageValidating)
	if err := validateMintRequest(req); err != nil {
		return fail(StageValidating, "", err)
	}
	_, current, err := w.session.ActiveAdapter()
	if err != nil {
		return fail(StageValidating, "", err)
	}
	family = current.Family

	if req.QuantumHash == "" {
		enter(StageHashPending)
		if w.hasher == nil {
			return fail(StageHashPending, "", errors.Join(ErrExternalService, fmt.Errorf("no hash service configured")))
		}
		hash, err := w.hasher.GenerateHash(ctx, req.Image, req.Name, req.Description)
		if err != nil {
			return fail(StageHashPending, "", ensureKind(err, ErrExternalService))
		}
		req.QuantumHash = hash
	}

	enter(StageBuilding)
	adapter, ws, err := w.session.ActiveAdapter()
	if err != nil {
		return fail(StageBuilding, "", err)
	}
	// the request was validated against the session seen at Validating
	if ws.Generation != current.Generation {
		return fail(StageBuilding, "", fmt.Errorf("%w: generation %d, now %d",
			ErrSessionChanged, current.Generation, ws.Generation))
	}

	attemptID := w.newAttempt()
	tokenURI := ContentLocator(attemptID, req.QuantumHash)

	var value *big.Int
	if pricer, ok := adapter.(MintPricer); ok {
		value, err = pricer.MintPrice(ctx)
		if err != nil {
			return fail(StageBuilding, "", err)
		}
	}

	ptx, err := adapter.BuildTransaction(TxKindMint, TxParams{
		From:        ws.Address,
		Name:        req.Name,
		Description: req.Description,
		QuantumHash: req.QuantumHash,
		TokenURI:    tokenURI,
		Value:       value,
	})
	if err != nil {
		return fail(StageBuilding, "", err)
	}

	res, err := w.coordinator.Run(ctx, adapter, ptx, w.budget,
		WithSessionGuard(w.session, ws.Generation),
		WithStepObserver(enter),
	)
	if err != nil {
		var txErr *TxError
		if errors.As(err, &txErr) {
			return fail(txErr.Step, txErr.TxID, txErr.Err)
		}
		return fail(StageSigning, "", err)
	}

	assetID := ""
	if resolver, ok := adapter.(AssetResolver); ok {
		assetID, err = resolver.ResolveAssetID(ctx, res)
		if err != nil {
			return fail(StageConfirming, res.TxID, ensureKind(err, ErrAssetUnresolved))
		}
	}
	if assetID == "" {
		return fail(StageConfirming, res.TxID, ErrAssetUnresolved)
	}

	network := adapter.Network()
	result := &MintResult{
		AssetID:     assetID,
		Creator:     ws.Address,
		QuantumHash: req.QuantumHash,
		TxID:        res.TxID,
		CreatedAt:   w.now(),
		Family:      ws.Family,
		ChainKey:    ws.ChainKey,
		Name:        req.Name,
		Description: req.Description,
		TokenURI:    tokenURI,
		ExplorerURL: network.ExplorerTxURL(res.TxID),
	}

	enter(StageCompleted)
	w.metrics.recordMint(family, StageCompleted)
	logger.WithFields(logger.Fields{
		"chain_key":    result.ChainKey,
		"asset_id":     result.AssetID,
		"tx_id":        result.TxID,
		"attempt_id":   attemptID,
		"confirmed_at": res.ConfirmedAt,
	}).Info("Mint completed")

	return result, nil
}

// Verify checks quantumHash against a minted asset on the active chain.
// Chains without verification return ErrVerificationUnsupported.
func (w *MintWorkflow) Verify(ctx context.Context, assetID, quantumHash string) (bool, error) {
	adapter, _, err := w.session.ActiveAdapter()
	if err != nil {
		return false, err
	}
	verifier, ok := adapter.(Verifier)
	if !ok {
		return false, ErrVerificationUnsupported
	}
	if assetID == "" || quantumHash == "" {
		return false, fmt.Errorf("%w: asset id and quantum hash are required", ErrValidation)
	}
	return verifier.VerifyQuantumHash(ctx, assetID, quantumHash)
}

func validateMintRequest(req MintRequest) error {
	switch {
	case req.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case req.Description == "":
		return fmt.Errorf("%w: description is required", ErrValidation)
	case len(req.Image) == 0:
		return fmt.Errorf("%w: image is required", ErrValidation)
	case utf8.RuneCountInString(req.Name) > MaxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrValidation, MaxNameLength)
	case utf8.RuneCountInString(req.Description) > MaxDescriptionLength:
		return fmt.Errorf("%w: description longer than %d characters", ErrValidation, MaxDescriptionLength)
	}
	return nil
}

// ContentLocator derives an ipfs:// locator in CIDv0 form from the attempt id
// and quantum hash. It is informational and only unique per attempt.
func ContentLocator(attemptID, quantumHash string) string {
	digest := sha256.Sum256([]byte(attemptID + ":" + quantumHash))
	// sha2-256 multihash: code 0x12, length 0x20
	mh := append([]byte{0x12, 0x20}, digest[:]...)
	return "ipfs://" + base58.Encode(mh)
}
