package qchain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Detail is attached with errors.Join so callers can match the
// kind with errors.Is.
var (
	ErrConnection          = fmt.Errorf("wallet connection failed")
	ErrNetworkMismatch     = fmt.Errorf("wallet is on a different network")
	ErrTransactionRejected = fmt.Errorf("transaction rejected by user")
	ErrSubmission          = fmt.Errorf("transaction submission rejected")
	ErrConfirmationTimeout = fmt.Errorf("transaction confirmation timed out")
	ErrExternalService     = fmt.Errorf("external service error")
	ErrValidation          = fmt.Errorf("validation failed")
	ErrQuery               = fmt.Errorf("query failed")

	ErrNetworkNotFound         = fmt.Errorf("network not found")
	ErrNotConnected            = fmt.Errorf("wallet not connected")
	ErrSessionChanged          = fmt.Errorf("wallet session changed during transaction")
	ErrSignedTxConsumed        = fmt.Errorf("signed transaction already submitted")
	ErrAssetUnresolved         = fmt.Errorf("could not resolve created asset id")
	ErrVerificationUnsupported = fmt.Errorf("verification not supported on this chain family")
	ErrUnsupportedTxKind       = fmt.Errorf("transaction kind not supported")
)

// Submission rejection reasons recognized from node error messages.
const (
	ReasonInsufficientFunds = "insufficient funds"
	ReasonNonceTooLow       = "nonce too low"
	ReasonUnderpriced       = "transaction underpriced"
	ReasonGas               = "gas limit"
	ReasonReverted          = "execution reverted"
	ReasonPoolRejected      = "rejected by transaction pool"
	ReasonUnknown           = "unknown"
)

// SubmissionError is returned when the node rejects a payload or the
// transaction is included but fails. It unwraps to ErrSubmission.
type SubmissionError struct {
	TxID   string
	Reason string
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	msg := "transaction submission rejected: " + e.Reason
	if e.Detail != "" && e.Detail != e.Reason {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmission}
	}
	return []error{ErrSubmission, e.Err}
}

// NewSubmissionError classifies a node error into a SubmissionError.
func NewSubmissionError(txID string, err error) *SubmissionError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &SubmissionError{
		TxID:   txID,
		Reason: classifySubmission(detail),
		Detail: detail,
		Err:    err,
	}
}

// UncertainSubmissionError is returned when sending failed without an answer
// from the node, so the payload may already be in its pool.
type UncertainSubmissionError struct {
	TxID string
	Err  error
}

func (e *UncertainSubmissionError) Error() string {
	return fmt.Sprintf("submission of %s unacknowledged: %v", e.TxID, e.Err)
}

func (e *UncertainSubmissionError) Unwrap() []error {
	return []error{errSubmittedUnknown, e.Err}
}

// submitFailure turns a send error into a SubmissionError when the node
// answered, and into an UncertainSubmissionError otherwise. A recognized
// rejection reason counts as an answer.
func submitFailure(txID string, err error, nodeAnswered bool) error {
	subErr := NewSubmissionError(txID, err)
	if nodeAnswered || subErr.Reason != ReasonUnknown {
		return subErr
	}
	return &UncertainSubmissionError{TxID: txID, Err: err}
}

func classifySubmission(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "insufficient funds"), strings.Contains(m, "overspend"), strings.Contains(m, "below min"):
		return ReasonInsufficientFunds
	case strings.Contains(m, "nonce too low"), strings.Contains(m, "already known"):
		return ReasonNonceTooLow
	case strings.Contains(m, "underpriced"), strings.Contains(m, "fee too low"):
		return ReasonUnderpriced
	case strings.Contains(m, "gas"):
		return ReasonGas
	case strings.Contains(m, "revert"):
		return ReasonReverted
	case strings.Contains(m, "pool"):
		return ReasonPoolRejected
	default:
		return ReasonUnknown
	}
}

// MintError reports the stage a mint failed at. TxID is set when the
// failure happened after submission.
type MintError struct {
	Stage MintStage
	TxID  string
	Err   error
}

func (e *MintError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("mint failed at %s (tx %s): %v", e.Stage, e.TxID, e.Err)
	}
	return fmt.Sprintf("mint failed at %s: %v", e.Stage, e.Err)
}

func (e *MintError) Unwrap() error {
	return e.Err
}

// Outcome tells the user whether a failed operation left anything on chain.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeNothingHappened
	OutcomeMayHaveHappened
	OutcomeChainRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNothingHappened:
		return "nothing happened"
	case OutcomeMayHaveHappened:
		return "may have happened"
	case OutcomeChainRejected:
		return "chain rejected"
	default:
		return "none"
	}
}

// errSubmittedUnknown marks failures after the transaction left the wallet:
// a session change after submit or an unacknowledged send.
var errSubmittedUnknown = fmt.Errorf("transaction was submitted, final state unknown")

// Describe classifies err by its on-chain consequence.
func Describe(err error) Outcome {
	if err == nil {
		return OutcomeNone
	}
	var subErr *SubmissionError
	switch {
	case errors.As(err, &subErr):
		return OutcomeChainRejected
	case errors.Is(err, ErrConfirmationTimeout), errors.Is(err, errSubmittedUnknown):
		return OutcomeMayHaveHappened
	case errors.Is(err, ErrAssetUnresolved):
		return OutcomeMayHaveHappened
	default:
		return OutcomeNothingHappened
	}
}

// UserMessage renders err as a sentence suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var subErr *SubmissionError
	switch Describe(err) {
	case OutcomeChainRejected:
		errors.As(err, &subErr)
		return fmt.Sprintf("The network rejected the transaction: %s.", subErr.Reason)
	case OutcomeMayHaveHappened:
		txID := ""
		var (
			mintErr   *MintError
			txErr     *TxError
			uncertain *UncertainSubmissionError
		)
		switch {
		case errors.As(err, &mintErr) && mintErr.TxID != "":
			txID = mintErr.TxID
		case errors.As(err, &txErr) && txErr.TxID != "":
			txID = txErr.TxID
		case errors.As(err, &uncertain):
			txID = uncertain.TxID
		}
		if txID != "" {
			return fmt.Sprintf("The transaction %s was sent but its final state is unknown. Check it again before retrying.", txID)
		}
		return "The transaction was sent but its final state is unknown. Check it again before retrying."
	}

	switch {
	case errors.Is(err, ErrTransactionRejected):
		return "You declined the signature request. Nothing was sent."
	case errors.Is(err, ErrValidation):
		return "Some fields are missing or invalid. Nothing was sent."
	case errors.Is(err, ErrNetworkMismatch):
		return "Your wallet is connected to a different network. Switch networks and try again."
	case errors.Is(err, ErrExternalService):
		return "The hash service is unavailable. Nothing was sent."
	case errors.Is(err, ErrConnection), errors.Is(err, ErrNotConnected):
		return "Could not reach your wallet. Nothing was sent."
	case errors.Is(err, ErrSessionChanged):
		return "Your wallet account changed before the transaction was sent. Nothing was sent."
	default:
		return "The operation failed. Nothing was sent: " + err.Error()
	}
}
