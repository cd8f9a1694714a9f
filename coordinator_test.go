package qchain

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerMockAdapter(t *testing.T) *mockAdapter {
	t.Helper()
	return newMockAdapter(testNetwork(t, NetworkAlgorandTestnet), testLedgerAccount.Address.String())
}

func testPayment() PendingTransaction {
	return &LedgerPayment{
		From:   testLedgerAccount.Address.String(),
		To:     testLedgerRecipient.Address.String(),
		Amount: 1000,
	}
}

func TestCoordinator_Run_HappyPath(t *testing.T) {
	journal := NewMemoryJournal()
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewCoordinator(WithTxJournal(journal), WithCoordinatorMetrics(metrics))
	adapter := newLedgerMockAdapter(t)

	var steps []MintStage
	res, err := c.Run(context.Background(), adapter, testPayment(), 7, WithStepObserver(func(s MintStage) {
		steps = append(steps, s)
	}))
	require.NoError(t, err)
	assert.Equal(t, "TX1", res.TxID)
	assert.Equal(t, []MintStage{StageSigning, StageSubmitting, StageConfirming}, steps)

	require.Len(t, adapter.ConfirmCalls, 1)
	assert.Equal(t, 7, adapter.ConfirmCalls[0].Budget)

	rec, err := journal.Get(context.Background(), "TX1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, TxRecordConfirmed, rec.Status)
	assert.Equal(t, uint64(1001), rec.ConfirmedAt)
	assert.Equal(t, NetworkAlgorandTestnet, rec.ChainKey)
	assert.Equal(t, TxKindPayment, rec.Kind)
	assert.Equal(t, testLedgerAccount.Address.String(), rec.Sender)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirmations.WithLabelValues(string(FamilyLedgerAsset), "confirmed")))
}

func TestCoordinator_Run_RejectedSignatureStopsEverything(t *testing.T) {
	c := NewCoordinator()
	adapter := newLedgerMockAdapter(t)
	adapter.SignTransactionFn = func(PendingTransaction) (*SignedTransaction, error) {
		return nil, ErrTransactionRejected
	}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, StageSigning, txErr.Step)
	assert.Empty(t, txErr.TxID)
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.Equal(t, OutcomeNothingHappened, Describe(err))

	_, submit, confirm := adapter.calls()
	assert.Zero(t, submit)
	assert.Zero(t, confirm)
}

func TestCoordinator_Run_SubmissionRejectedIsNotRetried(t *testing.T) {
	journal := NewMemoryJournal()
	c := NewCoordinator(WithTxJournal(journal))
	adapter := newLedgerMockAdapter(t)
	adapter.SubmitTransactionFn = func(stx *SignedTransaction) (string, error) {
		return "", NewSubmissionError(stx.TxID, errors.New("overspend"))
	}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, StageSubmitting, txErr.Step)
	assert.Equal(t, "TX1", txErr.TxID)
	assert.Equal(t, OutcomeChainRejected, Describe(err))

	sign, submit, confirm := adapter.calls()
	assert.Equal(t, 1, sign)
	assert.Equal(t, 1, submit)
	assert.Zero(t, confirm)

	pending, err := journal.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCoordinator_Run_TimeoutIsJournaledForRepoll(t *testing.T) {
	journal := NewMemoryJournal()
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewCoordinator(WithTxJournal(journal), WithCoordinatorMetrics(metrics))
	adapter := newLedgerMockAdapter(t)
	adapter.ConfirmTransactionFn = func(txID string, budget int) (*ConfirmationResult, error) {
		return nil, ErrConfirmationTimeout
	}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, StageConfirming, txErr.Step)
	assert.Equal(t, "TX1", txErr.TxID)
	assert.Equal(t, OutcomeMayHaveHappened, Describe(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirmations.WithLabelValues(string(FamilyLedgerAsset), "timeout")))

	pending, err := journal.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, TxRecordUnknown, pending[0].Status)

	// a later repoll settles it
	adapter.ConfirmTransactionFn = nil
	res, err := c.Repoll(context.Background(), adapter, "TX1", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), res.ConfirmedAt)

	rec, err := journal.Get(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, TxRecordConfirmed, rec.Status)

	sign, submit, confirm := adapter.calls()
	assert.Equal(t, 1, sign)
	assert.Equal(t, 1, submit)
	assert.Equal(t, 2, confirm)
}

func TestCoordinator_Run_FailedOnChainIsJournaledAsFailed(t *testing.T) {
	journal := NewMemoryJournal()
	c := NewCoordinator(WithTxJournal(journal))
	adapter := newLedgerMockAdapter(t)
	adapter.ConfirmTransactionFn = func(txID string, budget int) (*ConfirmationResult, error) {
		return nil, &SubmissionError{TxID: txID, Reason: ReasonReverted}
	}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10)
	assert.Equal(t, OutcomeChainRejected, Describe(err))

	rec, err := journal.Get(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, TxRecordFailed, rec.Status)
}

func TestCoordinator_Run_UnacknowledgedSubmitIsJournaled(t *testing.T) {
	journal := NewMemoryJournal()
	c := NewCoordinator(WithTxJournal(journal))
	adapter := newLedgerMockAdapter(t)
	adapter.SubmitTransactionFn = func(stx *SignedTransaction) (string, error) {
		return "", &UncertainSubmissionError{TxID: stx.TxID, Err: context.DeadlineExceeded}
	}
	ctx := context.Background()

	_, err := c.Run(ctx, adapter, testPayment(), 10)

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, StageSubmitting, txErr.Step)
	assert.Equal(t, "TX1", txErr.TxID)
	assert.Equal(t, OutcomeMayHaveHappened, Describe(err))

	_, _, confirm := adapter.calls()
	assert.Zero(t, confirm)

	rec, err := journal.Get(ctx, "TX1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, TxRecordUnknown, rec.Status)

	res, err := c.Repoll(ctx, adapter, "TX1", 5)
	require.NoError(t, err)
	assert.Equal(t, "TX1", res.TxID)
}

func TestCoordinator_Run_SessionChangedBeforeSubmit(t *testing.T) {
	c := NewCoordinator()
	adapter := newLedgerMockAdapter(t)
	guard := &mockGuard{FailAfter: 1}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10, WithSessionGuard(guard, 3))

	assert.ErrorIs(t, err, ErrSessionChanged)
	assert.Equal(t, OutcomeNothingHappened, Describe(err))
	_, submit, _ := adapter.calls()
	assert.Zero(t, submit)
}

func TestCoordinator_Run_SessionChangedAfterSubmit(t *testing.T) {
	journal := NewMemoryJournal()
	c := NewCoordinator(WithTxJournal(journal))
	adapter := newLedgerMockAdapter(t)
	guard := &mockGuard{FailAfter: 2}

	_, err := c.Run(context.Background(), adapter, testPayment(), 10, WithSessionGuard(guard, 3))

	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, StageConfirming, txErr.Step)
	assert.Equal(t, "TX1", txErr.TxID)
	assert.ErrorIs(t, err, ErrSessionChanged)
	assert.Equal(t, OutcomeMayHaveHappened, Describe(err))

	_, submit, confirm := adapter.calls()
	assert.Equal(t, 1, submit)
	assert.Zero(t, confirm)

	rec, err := journal.Get(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, TxRecordUnknown, rec.Status)
}

func TestCoordinator_Run_RejectsFamilyMismatch(t *testing.T) {
	c := NewCoordinator()
	adapter := newLedgerMockAdapter(t)

	_, err := c.Run(context.Background(), adapter, &EVMCall{TxKind: TxKindPayment}, 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = c.Run(context.Background(), adapter, nil, 10)
	assert.ErrorIs(t, err, ErrValidation)

	sign, _, _ := adapter.calls()
	assert.Zero(t, sign)
}

func TestCoordinator_Repoll_EmptyTxID(t *testing.T) {
	_, err := NewCoordinator().Repoll(context.Background(), newLedgerMockAdapter(t), "", 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTxError_Message(t *testing.T) {
	assert.Equal(t, "signing: boom", (&TxError{Step: StageSigning, Err: errors.New("boom")}).Error())
	assert.Equal(t, "confirming T1: boom", (&TxError{Step: StageConfirming, TxID: "T1", Err: errors.New("boom")}).Error())
}
