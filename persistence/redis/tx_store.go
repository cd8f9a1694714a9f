package redis

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	qchain "github.com/Jiyansh2006/q-chain2"
)

// Key prefixes for journal storage
const (
	txKeyPrefix          = "qchain:tx:"           // record data by tx id
	txPendingSetKey      = "qchain:tx:pending"    // set of all pending tx ids
	txChainPendingKey    = "qchain:tx:chain:"     // pending tx ids by chain key
	txTimestampSortedSet = "qchain:tx:created_at" // sorted set by creation time
)

const maxWatchRetries = 10

// statusPriority defines the order of journal statuses.
// Higher values are more final and are never overwritten by lower ones.
var statusPriority = map[qchain.TxRecordStatus]int{
	qchain.TxRecordSubmitted: 1,
	qchain.TxRecordUnknown:   2,
	qchain.TxRecordFailed:    3,
	qchain.TxRecordConfirmed: 3,
}

// TxStore provides Redis-based persistence for submitted transactions.
// It implements the qchain.TxJournal interface.
//
// Note: records do not expire. Use DeleteOlderThan for periodic cleanup.
type TxStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// TxStoreOption configures a TxStore.
type TxStoreOption func(*TxStore)

// WithTxStoreKeyPrefix sets a custom prefix for all Redis keys.
func WithTxStoreKeyPrefix(prefix string) TxStoreOption {
	return func(s *TxStore) {
		s.keyPrefix = prefix
	}
}

// NewTxStore creates a new Redis-based transaction journal.
func NewTxStore(client redis.UniversalClient, opts ...TxStoreOption) *TxStore {
	s := &TxStore{
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key returns the full Redis key with optional prefix.
func (s *TxStore) key(parts ...string) string {
	key := strings.Join(parts, "")
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

// txRecordData is the JSON-serializable form of qchain.TxRecord
type txRecordData struct {
	TxID        string            `json:"tx_id"`
	ChainKey    string            `json:"chain_key"`
	Family      string            `json:"family"`
	Sender      string            `json:"sender"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	ConfirmedAt uint64            `json:"confirmed_at,omitempty"`
	CreatedAt   int64             `json:"created_at"` // Nanoseconds
	UpdatedAt   int64             `json:"updated_at"` // Nanoseconds
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Save persists a journal record.
// Uses WATCH/MULTI/EXEC so a concurrent UpdateStatus to a more final status
// is never overwritten.
func (s *TxStore) Save(ctx context.Context, rec *qchain.TxRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.TxID == "" {
		return fmt.Errorf("record has no transaction id")
	}

	recKey := s.key(txKeyPrefix, rec.TxID)
	chainKey := s.chainPendingKey(rec.ChainKey)

	return s.watch(ctx, recKey, "save transaction", func(rtx *redis.Tx) error {
		existing, err := s.getRecord(ctx, rtx, recKey)
		if err != nil {
			return err
		}
		if existing != nil && isMoreFinalStatus(existing.Status, rec.Status) {
			return nil
		}

		data, err := s.serializeRecord(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize record: %w", err)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			s.indexPending(ctx, pipe, rec.TxID, chainKey, rec.Status)
			pipe.ZAdd(ctx, s.key(txTimestampSortedSet), redis.Z{
				Score:  float64(rec.CreatedAt.Unix()),
				Member: rec.TxID,
			})
			return nil
		})
		return err
	})
}

// Get retrieves a record by transaction id. Not found is not an error.
func (s *TxStore) Get(ctx context.Context, txID string) (*qchain.TxRecord, error) {
	data, err := s.client.Get(ctx, s.key(txKeyPrefix, txID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return s.deserializeRecord(data)
}

// ListPending returns all records whose final state is unknown, oldest first.
func (s *TxStore) ListPending(ctx context.Context) ([]*qchain.TxRecord, error) {
	ids, err := s.client.SMembers(ctx, s.key(txPendingSetKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tx ids: %w", err)
	}
	return s.getRecords(ctx, ids)
}

// ListPendingByChain returns pending records sent on one network.
func (s *TxStore) ListPendingByChain(ctx context.Context, chainKey string) ([]*qchain.TxRecord, error) {
	ids, err := s.client.SMembers(ctx, s.chainPendingKey(chainKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tx ids: %w", err)
	}
	return s.getRecords(ctx, ids)
}

// UpdateStatus updates the status of a record. Unknown records and
// downgrades are ignored.
func (s *TxStore) UpdateStatus(ctx context.Context, txID string, status qchain.TxRecordStatus, confirmedAt uint64) error {
	recKey := s.key(txKeyPrefix, txID)

	return s.watch(ctx, recKey, "update transaction status", func(rtx *redis.Tx) error {
		rec, err := s.getRecord(ctx, rtx, recKey)
		if err != nil || rec == nil {
			return err
		}
		if isMoreFinalStatus(rec.Status, status) {
			return nil
		}

		rec.Status = status
		if confirmedAt > 0 {
			rec.ConfirmedAt = confirmedAt
		}
		rec.UpdatedAt = time.Now()

		data, err := s.serializeRecord(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize record: %w", err)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			s.indexPending(ctx, pipe, txID, s.chainPendingKey(rec.ChainKey), status)
			return nil
		})
		return err
	})
}

// Delete removes a record and its index entries.
func (s *TxStore) Delete(ctx context.Context, txID string) error {
	recKey := s.key(txKeyPrefix, txID)

	return s.watch(ctx, recKey, "delete transaction", func(rtx *redis.Tx) error {
		rec, err := s.getRecord(ctx, rtx, recKey)
		if err != nil || rec == nil {
			return err
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			pipe.SRem(ctx, s.key(txPendingSetKey), txID)
			pipe.SRem(ctx, s.chainPendingKey(rec.ChainKey), txID)
			pipe.ZRem(ctx, s.key(txTimestampSortedSet), txID)
			return nil
		})
		return err
	})
}

// DeleteOlderThan removes records created more than age ago. Pending records
// are kept so they can still be re-polled.
func (s *TxStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age).Unix()

	ids, err := s.client.ZRangeByScore(ctx, s.key(txTimestampSortedSet), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get old transactions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	records, err := s.getRecords(ctx, ids)
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	deleted := 0
	for _, rec := range records {
		if rec.Status.IsPending() {
			continue
		}
		pipe.Del(ctx, s.key(txKeyPrefix, rec.TxID))
		pipe.ZRem(ctx, s.key(txTimestampSortedSet), rec.TxID)
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to execute batch delete: %w", err)
	}
	return deleted, nil
}

// watch runs fn under WATCH on key, retrying with exponential backoff and
// jitter when the optimistic lock fails.
func (s *TxStore) watch(ctx context.Context, key, op string, fn func(*redis.Tx) error) error {
	var lastErr error
	for i := 0; i < maxWatchRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		err := s.client.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("failed to %s after %d retries: %w", op, maxWatchRetries, lastErr)
}

func (s *TxStore) indexPending(ctx context.Context, pipe redis.Pipeliner, txID, chainKey string, status qchain.TxRecordStatus) {
	if status.IsPending() {
		pipe.SAdd(ctx, s.key(txPendingSetKey), txID)
		pipe.SAdd(ctx, chainKey, txID)
		return
	}
	pipe.SRem(ctx, s.key(txPendingSetKey), txID)
	pipe.SRem(ctx, chainKey, txID)
}

func (s *TxStore) getRecord(ctx context.Context, rtx *redis.Tx, key string) (*qchain.TxRecord, error) {
	data, err := rtx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return s.deserializeRecord(data)
}

// isMoreFinalStatus returns true if existing is more final than next.
func isMoreFinalStatus(existing, next qchain.TxRecordStatus) bool {
	return statusPriority[existing] > statusPriority[next]
}

func (s *TxStore) chainPendingKey(chainKey string) string {
	return s.key(txChainPendingKey, chainKey, ":pending")
}

func (s *TxStore) getRecords(ctx context.Context, ids []string) ([]*qchain.TxRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(txKeyPrefix, id)
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}

	records := make([]*qchain.TxRecord, 0, len(results))
	var deserializeErrors []string

	for i, result := range results {
		if result == nil {
			// deleted between SMEMBERS and MGET
			continue
		}
		data, ok := result.(string)
		if !ok {
			deserializeErrors = append(deserializeErrors, fmt.Sprintf("tx %s: unexpected type %T", ids[i], result))
			continue
		}
		rec, err := s.deserializeRecord([]byte(data))
		if err != nil {
			deserializeErrors = append(deserializeErrors, fmt.Sprintf("tx %s: %v", ids[i], err))
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(a, b int) bool { return records[a].CreatedAt.Before(records[b].CreatedAt) })

	// Return partial results with error if there were deserialization failures
	if len(deserializeErrors) > 0 {
		return records, fmt.Errorf("failed to deserialize %d records: %s", len(deserializeErrors), strings.Join(deserializeErrors, "; "))
	}
	return records, nil
}

func (s *TxStore) serializeRecord(rec *qchain.TxRecord) ([]byte, error) {
	return json.Marshal(txRecordData{
		TxID:        rec.TxID,
		ChainKey:    rec.ChainKey,
		Family:      string(rec.Family),
		Sender:      rec.Sender,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		ConfirmedAt: rec.ConfirmedAt,
		CreatedAt:   rec.CreatedAt.UnixNano(),
		UpdatedAt:   rec.UpdatedAt.UnixNano(),
		Metadata:    rec.Metadata,
	})
}

func (s *TxStore) deserializeRecord(data []byte) (*qchain.TxRecord, error) {
	var d txRecordData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &qchain.TxRecord{
		TxID:        d.TxID,
		ChainKey:    d.ChainKey,
		Family:      qchain.ChainFamily(d.Family),
		Sender:      d.Sender,
		Kind:        qchain.TxKind(d.Kind),
		Status:      qchain.TxRecordStatus(d.Status),
		ConfirmedAt: d.ConfirmedAt,
		CreatedAt:   time.Unix(0, d.CreatedAt),
		UpdatedAt:   time.Unix(0, d.UpdatedAt),
		Metadata:    d.Metadata,
	}, nil
}

// Verify TxStore implements qchain.TxJournal
var _ qchain.TxJournal = (*TxStore)(nil)
