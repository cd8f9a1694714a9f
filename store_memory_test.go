package qchain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	value := []byte("hello")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'j'

	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v), "stored values are copies")

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryJournal_Lifecycle(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	base := time.Now()

	for i, id := range []string{"C", "A", "B"} {
		require.NoError(t, j.Save(ctx, &TxRecord{
			TxID:      id,
			ChainKey:  NetworkAlgorandTestnet,
			Status:    TxRecordSubmitted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	pending, err := j.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{pending[0].TxID, pending[1].TxID, pending[2].TxID})

	require.NoError(t, j.UpdateStatus(ctx, "A", TxRecordConfirmed, 99))
	require.NoError(t, j.UpdateStatus(ctx, "B", TxRecordUnknown, 0))
	require.NoError(t, j.UpdateStatus(ctx, "missing", TxRecordFailed, 0))

	pending, err = j.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "C", pending[0].TxID)
	assert.Equal(t, TxRecordUnknown, pending[1].Status)

	// final statuses are never overwritten by less final ones
	require.NoError(t, j.UpdateStatus(ctx, "A", TxRecordUnknown, 0))
	a, err := j.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, TxRecordConfirmed, a.Status)
	assert.Equal(t, uint64(99), a.ConfirmedAt)

	rec, err := j.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), rec.ConfirmedAt)
	assert.False(t, rec.UpdatedAt.IsZero())

	rec.Status = TxRecordFailed
	again, err := j.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, TxRecordConfirmed, again.Status, "records are returned as copies")

	missing, err := j.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryJournal_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	require.NoError(t, j.Save(ctx, &TxRecord{TxID: "T", Status: TxRecordSubmitted}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = j.UpdateStatus(ctx, "T", TxRecordUnknown, uint64(i))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = j.ListPending(ctx)
		}()
	}
	wg.Wait()

	rec, err := j.Get(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, TxRecordUnknown, rec.Status)
}

func TestTxRecordStatus_IsPending(t *testing.T) {
	assert.True(t, TxRecordSubmitted.IsPending())
	assert.True(t, TxRecordUnknown.IsPending())
	assert.False(t, TxRecordConfirmed.IsPending())
	assert.False(t, TxRecordFailed.IsPending())
}

func TestSignedTransaction_ConsumedOnce(t *testing.T) {
	stx := &SignedTransaction{TxID: "T"}
	assert.False(t, stx.Consumed())
	require.NoError(t, stx.consume())
	assert.True(t, stx.Consumed())
	assert.ErrorIs(t, stx.consume(), ErrSignedTxConsumed)
}
