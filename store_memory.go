package qchain

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process KVStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// MemoryJournal is an in-process TxJournal.
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]*TxRecord
}

// NewMemoryJournal creates an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]*TxRecord)}
}

func (j *MemoryJournal) Save(ctx context.Context, rec *TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *rec
	j.records[rec.TxID] = &cp
	return nil
}

func (j *MemoryJournal) Get(ctx context.Context, txID string) (*TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.records[txID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// journalRank orders statuses. A status never replaces a higher-ranked one.
var journalRank = map[TxRecordStatus]int{
	TxRecordSubmitted: 1,
	TxRecordUnknown:   2,
	TxRecordFailed:    3,
	TxRecordConfirmed: 3,
}

// UpdateStatus is a no-op for unknown transactions and for updates that would
// move a record back to a less final status.
func (j *MemoryJournal) UpdateStatus(ctx context.Context, txID string, status TxRecordStatus, confirmedAt uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.records[txID]
	if !ok || journalRank[rec.Status] > journalRank[status] {
		return nil
	}
	rec.Status = status
	rec.ConfirmedAt = confirmedAt
	rec.UpdatedAt = time.Now()
	return nil
}

// ListPending returns records whose final state is unknown, oldest first.
func (j *MemoryJournal) ListPending(ctx context.Context) ([]*TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*TxRecord
	for _, rec := range j.records {
		if rec.Status.IsPending() {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
