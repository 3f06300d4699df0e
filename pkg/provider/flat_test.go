package provider_test

import (
	"context"
	"testing"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatPersistsWholeValue(t *testing.T) {
	kv := provider.NewMemoryKV()
	store := newStore(t)
	flat := provider.NewFlat(store, kv, "app")

	require.NoError(t, store.Define("todos", []any{},
		statesync.WithSource(flat.Source("todos")),
		statesync.WithStorage(flat.Storage("todos")),
	))
	require.NoError(t, store.Add("todos")(map[string]any{"id": "t1", "done": false}))
	require.NoError(t, store.Add("todos")(map[string]any{"id": "t2", "done": true}))

	assert.Equal(t, []string{"app:todos"}, kv.Keys())
	raw, found, err := kv.Get(context.Background(), "app:todos")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[{"id":"t1","done":false},{"id":"t2","done":true}]`, string(raw))

	// a fresh store restores the persisted value
	restored := newStore(t)
	again := provider.NewFlat(restored, kv, "app")
	require.NoError(t, restored.Define("todos", []any{}, statesync.WithSource(again.Source("todos"))))
	require.NoError(t, restored.Fetch("todos", statesync.ContextInitialize))
	assert.Equal(t, store.Read("todos"), restored.Read("todos"))
}

func TestFlatDecodesIntegralNumbersAsInt(t *testing.T) {
	kv := provider.NewMemoryKV()
	require.NoError(t, kv.Put(context.Background(), "count", []byte(`42`)))
	store := newStore(t)
	flat := provider.NewFlat(store, kv, "")

	require.NoError(t, store.Define("count", 0, statesync.WithSource(flat.Source("count"))))
	require.NoError(t, store.Fetch("count", statesync.ContextInitialize))

	assert.Equal(t, 42, store.Read("count"))
}

func TestFlatRemovalDeletesClearedKey(t *testing.T) {
	kv := provider.NewMemoryKV()
	store := newStore(t)
	flat := provider.NewFlat(store, kv, "app")

	require.NoError(t, store.Define("theme", "dark", statesync.WithStorage(flat.Storage("theme"))))
	require.NoError(t, store.Update("theme")("light"))
	assert.Equal(t, []string{"app:theme"}, kv.Keys())

	require.NoError(t, store.Remove("theme")(nil))
	assert.Empty(t, kv.Keys())
}

func TestFlatKeyPlaceholders(t *testing.T) {
	kv := provider.NewMemoryKV()
	store := newStore(t)
	flat := provider.NewFlat(store, kv, "")

	require.NoError(t, store.Define("userId", nil))
	require.NoError(t, store.Define("prefs", nil, statesync.WithStorage(flat.Storage("prefs/<userId>"))))

	require.NoError(t, store.Update("prefs")(map[string]any{"lang": "en"}))
	assert.Empty(t, kv.Keys(), "unresolved key is skipped")

	require.NoError(t, store.Update("userId")("u1"))
	require.NoError(t, store.Update("prefs")(map[string]any{"lang": "fr"}))
	assert.Equal(t, []string{"prefs/u1"}, kv.Keys())
	assert.Equal(t, "ns:key", provider.NewFlat(store, kv, "ns:").Key("key"))
}
