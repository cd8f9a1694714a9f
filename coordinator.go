package qchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
)

// SessionGuard detects that the wallet session changed since gen was taken.
// *SessionManager implements it.
type SessionGuard interface {
	CheckGeneration(gen uint64) error
}

// TxError reports the step a coordinated run stopped at. TxID is set once
// the transaction has been submitted.
type TxError struct {
	Step MintStage
	TxID string
	Err  error
}

func (e *TxError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("%s %s: %v", e.Step, e.TxID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// Coordinator runs sign, submit and confirm strictly in sequence. It never
// retries: rejections are final and a confirmation timeout is returned as is
// for the caller to re-poll.
type Coordinator struct {
	journal TxJournal
	metrics *Metrics
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTxJournal records submitted transactions in journal.
func WithTxJournal(journal TxJournal) CoordinatorOption {
	return func(c *Coordinator) {
		c.journal = journal
	}
}

// WithCoordinatorMetrics sets the metrics sink.
func WithCoordinatorMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// runConfig holds the per-call options of Run.
type runConfig struct {
	guard      SessionGuard
	generation uint64
	onStep     func(MintStage)
}

// RunOption configures a single Run call.
type RunOption func(*runConfig)

// WithSessionGuard makes Run refuse to submit, or to wait for confirmation,
// once the session has moved past generation.
func WithSessionGuard(guard SessionGuard, generation uint64) RunOption {
	return func(c *runConfig) {
		c.guard = guard
		c.generation = generation
	}
}

// WithStepObserver calls fn as each step starts.
func WithStepObserver(fn func(MintStage)) RunOption {
	return func(c *runConfig) {
		c.onStep = fn
	}
}

// Run signs, submits and confirms ptx with adapter. budget is passed to
// ConfirmTransaction. Failures are returned as *TxError.
func (c *Coordinator) Run(ctx context.Context, adapter ChainAdapter, ptx PendingTransaction, budget int, opts ...RunOption) (*ConfirmationResult, error) {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	step := func(s MintStage) {
		if cfg.onStep != nil {
			cfg.onStep(s)
		}
	}
	if ptx == nil {
		return nil, &TxError{Step: StageSigning, Err: fmt.Errorf("%w: nil pending transaction", ErrValidation)}
	}
	if ptx.Family() != adapter.Family() {
		return nil, &TxError{Step: StageSigning, Err: fmt.Errorf("%w: %s transaction for %s adapter", ErrValidation, ptx.Family(), adapter.Family())}
	}
	network := adapter.Network()

	step(StageSigning)
	stx, err := adapter.SignTransaction(ctx, ptx)
	if err != nil {
		return nil, &TxError{Step: StageSigning, Err: err}
	}

	if cfg.guard != nil {
		if err := cfg.guard.CheckGeneration(cfg.generation); err != nil {
			return nil, &TxError{Step: StageSubmitting, Err: err}
		}
	}

	step(StageSubmitting)
	txID, err := adapter.SubmitTransaction(ctx, stx)
	if err != nil {
		var (
			subErr    *SubmissionError
			uncertain *UncertainSubmissionError
		)
		switch {
		case errors.As(err, &subErr):
			txID = subErr.TxID
		case errors.As(err, &uncertain):
			// the node may hold it; keep it for Repoll
			txID = uncertain.TxID
			c.journalSave(ctx, network, ptx, txID)
			c.journalUpdate(ctx, txID, TxRecordUnknown, 0)
		}
		return nil, &TxError{Step: StageSubmitting, TxID: txID, Err: err}
	}

	logger.WithFields(logger.Fields{
		"chain_key": network.ChainKey,
		"family":    network.Family,
		"kind":      ptx.Kind(),
		"tx_id":     txID,
	}).Info("Transaction submitted")
	c.journalSave(ctx, network, ptx, txID)

	if cfg.guard != nil {
		if err := cfg.guard.CheckGeneration(cfg.generation); err != nil {
			c.journalUpdate(ctx, txID, TxRecordUnknown, 0)
			return nil, &TxError{Step: StageConfirming, TxID: txID, Err: errors.Join(err, errSubmittedUnknown)}
		}
	}

	step(StageConfirming)
	return c.confirm(ctx, adapter, txID, budget)
}

// Repoll waits again for a transaction whose earlier confirmation timed out.
func (c *Coordinator) Repoll(ctx context.Context, adapter ChainAdapter, txID string, budget int) (*ConfirmationResult, error) {
	if txID == "" {
		return nil, &TxError{Step: StageConfirming, Err: fmt.Errorf("%w: empty transaction id", ErrValidation)}
	}
	return c.confirm(ctx, adapter, txID, budget)
}

func (c *Coordinator) confirm(ctx context.Context, adapter ChainAdapter, txID string, budget int) (*ConfirmationResult, error) {
	family := adapter.Family()
	res, err := adapter.ConfirmTransaction(ctx, txID, budget)
	if err != nil {
		var subErr *SubmissionError
		status, result := TxRecordUnknown, "unknown"
		if errors.As(err, &subErr) {
			status, result = TxRecordFailed, "failed"
		} else if errors.Is(err, ErrConfirmationTimeout) {
			result = "timeout"
		}
		c.journalUpdate(ctx, txID, status, 0)
		c.metrics.recordConfirmation(family, result)

		logger.WithFields(logger.Fields{
			"family": family,
			"tx_id":  txID,
			"error":  err,
		}).Warn("Transaction not confirmed")
		return nil, &TxError{Step: StageConfirming, TxID: txID, Err: err}
	}

	c.journalUpdate(ctx, txID, TxRecordConfirmed, res.ConfirmedAt)
	c.metrics.recordConfirmation(family, "confirmed")

	logger.WithFields(logger.Fields{
		"family":       family,
		"tx_id":        txID,
		"confirmed_at": res.ConfirmedAt,
	}).Info("Transaction confirmed")
	return res, nil
}

func (c *Coordinator) journalSave(ctx context.Context, network NetworkConfig, ptx PendingTransaction, txID string) {
	if c.journal == nil {
		return
	}
	now := c.now()
	err := c.journal.Save(ctx, &TxRecord{
		TxID:      txID,
		ChainKey:  network.ChainKey,
		Family:    network.Family,
		Sender:    ptx.Sender(),
		Kind:      ptx.Kind(),
		Status:    TxRecordSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": txID,
			"error": err,
		}).Warn("Failed to journal submitted transaction")
	}
}

func (c *Coordinator) journalUpdate(ctx context.Context, txID string, status TxRecordStatus, confirmedAt uint64) {
	if c.journal == nil {
		return
	}
	if err := c.journal.UpdateStatus(ctx, txID, status, confirmedAt); err != nil {
		logger.WithFields(logger.Fields{
			"tx_id":  txID,
			"status": status,
			"error":  err,
		}).Warn("Failed to update transaction journal")
	}
}
