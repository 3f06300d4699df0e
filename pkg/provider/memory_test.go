package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDocumentsPathKinds(t *testing.T) {
	docs := provider.NewMemoryDocuments()
	ctx := context.Background()

	assert.Error(t, docs.Set(ctx, "events", map[string]any{}))
	_, err := docs.List(ctx, "events/e1")
	assert.Error(t, err)
	_, err = docs.Add(ctx, "events/e1", map[string]any{})
	assert.Error(t, err)

	id, err := docs.Add(ctx, "/events/", map[string]any{"title": "Launch"})
	require.NoError(t, err)
	record, found, err := docs.Get(ctx, "events/"+id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, []string{"events"}, docs.Collections())
}

func TestMemoryDocumentsListOrderAndNesting(t *testing.T) {
	docs := provider.NewMemoryDocuments()
	ctx := context.Background()
	require.NoError(t, docs.Set(ctx, "c/b", map[string]any{"n": 1}))
	require.NoError(t, docs.Set(ctx, "c/a", map[string]any{"n": 2}))
	require.NoError(t, docs.Set(ctx, "c/b/sub/x", map[string]any{"n": 3}))
	require.NoError(t, docs.Set(ctx, "c/b", map[string]any{"n": 4}))

	records, err := docs.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, map[string]any{"n": 4}, records[0].Data)
	assert.Equal(t, "a", records[1].ID)

	require.NoError(t, docs.Delete(ctx, "c/missing"))
	require.NoError(t, docs.Delete(ctx, "c/b"))
	records, err = docs.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestMemoryDocumentsSubscribe(t *testing.T) {
	docs := provider.NewMemoryDocuments()
	ctx := context.Background()
	require.NoError(t, docs.Set(ctx, "c/a", map[string]any{"n": 1}))

	var deliveries [][]provider.Record
	cancel, err := docs.Subscribe(ctx, "c", func(records []provider.Record) {
		deliveries = append(deliveries, records)
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1, "initial snapshot")
	assert.Len(t, deliveries[0], 1)

	require.NoError(t, docs.Set(ctx, "c/b", map[string]any{"n": 2}))
	require.NoError(t, docs.Set(ctx, "other/x", map[string]any{"n": 3}))
	require.Len(t, deliveries, 2)
	assert.Len(t, deliveries[1], 2)

	cancel()
	require.NoError(t, docs.Delete(ctx, "c/a"))
	assert.Len(t, deliveries, 2)
}

func TestMemoryDocumentsSubscribeCancelledByContext(t *testing.T) {
	docs := provider.NewMemoryDocuments()
	ctx, cancel := context.WithCancel(context.Background())

	delivered := make(chan int, 8)
	_, err := docs.Subscribe(ctx, "c/a", func(records []provider.Record) {
		delivered <- len(records)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, <-delivered)

	cancel()
	assert.Eventually(t, func() bool {
		_ = docs.Set(context.Background(), "c/a", map[string]any{})
		select {
		case <-delivered:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond)
}
