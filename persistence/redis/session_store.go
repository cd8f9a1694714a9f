package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	qchain "github.com/Jiyansh2006/q-chain2"
)

// SessionStore provides Redis-based persistence for the wallet session
// records written by the session manager. It implements qchain.KVStore.
//
// Records expire automatically when a TTL is configured via WithSessionStoreTTL.
type SessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionStoreKeyPrefix sets a custom prefix for all Redis keys.
// Useful when several applications share the same Redis instance.
func WithSessionStoreKeyPrefix(prefix string) SessionStoreOption {
	return func(s *SessionStore) {
		s.keyPrefix = prefix
	}
}

// WithSessionStoreTTL sets a TTL after which Redis forgets a session.
func WithSessionStoreTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		s.ttl = ttl
	}
}

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) key(key string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

// Get returns the stored value, or nil when the key does not exist.
func (s *SessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return data, nil
}

// Set stores value, refreshing the TTL.
func (s *SessionStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Verify SessionStore implements qchain.KVStore
var _ qchain.KVStore = (*SessionStore)(nil)
