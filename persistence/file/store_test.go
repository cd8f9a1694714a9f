package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))

	value, err := store.Get(context.Background(), "qchain:session:EVM")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestStore_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewStore(path)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte(`{"address":"0x1"}`)))
	require.NoError(t, store.Set(ctx, "b", []byte("plain")))

	value, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"address":"0x1"}`, string(value))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete(ctx, "a"))
	value, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, value)

	value, err = store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(value))

	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	require.NoError(t, NewStore(path).Set(ctx, "k", []byte("v")))

	value, err := NewStore(path).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewStore(path).Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestStore_ConcurrentSet(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Set(ctx, string(rune('a'+i)), []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		value, err := store.Get(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, value)
	}
}
