package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "vp:A1:V1", Key("A1", "V1"))
	assert.Equal(t, "vp:V1", Key("", "V1"))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store := NewMemoryStore()
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, Key("A1", "V1"), []byte("one"), time.Minute))
	require.NoError(t, store.Set(ctx, Key("", "V2"), []byte("two"), 2*time.Minute))
	require.NoError(t, store.Set(ctx, "other:key", []byte("x"), time.Minute))

	value, err := store.Get(ctx, Key("A1", "V1"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(value))

	keys, err := store.Keys(ctx, Pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"vp:A1:V1", "vp:V2"}, keys)

	now = now.Add(time.Minute)

	_, err = store.Get(ctx, Key("A1", "V1"))
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err = store.Keys(ctx, Pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"vp:V2"}, keys)
}

func TestMemoryStoreOverwriteRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store := NewMemoryStore()
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "vp:V1", []byte("first"), time.Minute))
	now = now.Add(50 * time.Second)
	require.NoError(t, store.Set(ctx, "vp:V1", []byte("second"), time.Minute))
	now = now.Add(50 * time.Second)

	value, err := store.Get(ctx, "vp:V1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(value))
}

func TestMemoryStoreMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "vp:none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreKeysSpanSlashes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, Key("HSL", "22/1234"), []byte("one"), time.Minute))
	require.NoError(t, store.Set(ctx, Key("HSL", "V2"), []byte("two"), time.Minute))
	require.NoError(t, store.Set(ctx, "other:22/1234", []byte("x"), time.Minute))

	keys, err := store.Keys(ctx, Pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"vp:HSL:22/1234", "vp:HSL:V2"}, keys)

	keys, err = store.Keys(ctx, "vp:HSL:22/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"vp:HSL:22/1234"}, keys)
}
