package qchain

import (
	"context"
	"errors"
	"sync"

	"github.com/KyberNetwork/logger"
)

// RecoveryOptions configures RecoverPending
type RecoveryOptions struct {
	// Budget is the round budget per transaction. <= 0 uses the engine default.
	Budget int

	// MaxConcurrentPolls bounds how many transactions are polled at once
	MaxConcurrentPolls int

	// Callbacks, called from polling goroutines
	OnConfirmed func(rec *TxRecord, res *ConfirmationResult)
	OnFailed    func(rec *TxRecord, err error)
}

// DefaultRecoveryOptions returns sensible defaults for recovery
func DefaultRecoveryOptions() RecoveryOptions {
	return RecoveryOptions{
		Budget:             DefaultConfirmationRounds,
		MaxConcurrentPolls: 4,
	}
}

// RecoveryResult summarizes a recovery run
type RecoveryResult struct {
	Checked      int
	Confirmed    int
	Failed       int
	StillPending int
	Errors       []error
}

// RecoverPending re-polls every journaled transaction whose final state is
// unknown. It should be called once at startup, before new transactions are
// submitted. Records are updated by the coordinator as results come in.
func (e *Engine) RecoverPending(ctx context.Context, opts RecoveryOptions) (*RecoveryResult, error) {
	result := &RecoveryResult{}
	if e.journal == nil {
		return result, nil
	}
	if opts.Budget <= 0 {
		opts.Budget = e.budget
	}
	if opts.MaxConcurrentPolls <= 0 {
		opts.MaxConcurrentPolls = 1
	}

	pending, err := e.journal.ListPending(ctx)
	if err != nil {
		return result, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, opts.MaxConcurrentPolls)
	)

	for _, rec := range pending {
		select {
		case <-ctx.Done():
			wg.Wait()
			return result, ctx.Err()
		default:
		}

		adapter, err := e.adapterForTx(ctx, rec.TxID)
		if err != nil {
			mu.Lock()
			result.Checked++
			result.Errors = append(result.Errors, err)
			mu.Unlock()
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(rec *TxRecord, adapter ChainAdapter) {
			defer func() {
				<-sem
				wg.Done()
			}()
			res, err := e.coordinator.Repoll(ctx, adapter, rec.TxID, opts.Budget)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++

			var subErr *SubmissionError
			switch {
			case err == nil:
				result.Confirmed++
				if opts.OnConfirmed != nil {
					opts.OnConfirmed(rec, res)
				}
			case errors.As(err, &subErr):
				result.Failed++
				if opts.OnFailed != nil {
					opts.OnFailed(rec, err)
				}
			case errors.Is(err, ErrConfirmationTimeout):
				result.StillPending++
			default:
				result.StillPending++
				result.Errors = append(result.Errors, err)
			}
		}(rec, adapter)
	}
	wg.Wait()

	logger.WithFields(logger.Fields{
		"checked":       result.Checked,
		"confirmed":     result.Confirmed,
		"failed":        result.Failed,
		"still_pending": result.StillPending,
	}).Info("Recovered pending transactions")

	return result, nil
}
