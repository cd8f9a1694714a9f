package qchain

// EngineOption is a function that configures an Engine
type EngineOption func(*Engine)

// WithKVStore sets the key/value store used to persist the last session
func WithKVStore(store KVStore) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// WithJournal sets the journal of submitted transactions.
// This enables re-polling transactions whose confirmation timed out, even after a restart.
func WithJournal(journal TxJournal) EngineOption {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithHasher sets the quantum hash service
func WithHasher(hasher HashGenerator) EngineOption {
	return func(e *Engine) {
		e.hasher = hasher
	}
}

// WithMetrics sets the Prometheus metrics sink shared by all components
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithDefaultConfirmationRounds sets the round budget for confirmations on
// round-finality chains
func WithDefaultConfirmationRounds(rounds int) EngineOption {
	return func(e *Engine) {
		if rounds > 0 {
			e.budget = rounds
		}
	}
}

// WithSessionOptions passes extra options to the session manager
func WithSessionOptions(opts ...SessionOption) EngineOption {
	return func(e *Engine) {
		e.sessionOpts = append(e.sessionOpts, opts...)
	}
}

// WithMintOptions passes extra options to the mint workflow
func WithMintOptions(opts ...MintOption) EngineOption {
	return func(e *Engine) {
		e.mintOpts = append(e.mintOpts, opts...)
	}
}
