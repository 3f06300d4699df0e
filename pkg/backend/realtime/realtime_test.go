package realtime_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/backend/realtime"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	docs   *provider.MemoryDocuments
	server *realtime.Server
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := provider.NewMemoryDocuments()
	server := realtime.NewServer(docs)
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Close()
		httpServer.Close()
	})
	return &fixture{
		docs:   docs,
		server: server,
		url:    "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
}

func (f *fixture) dial(t *testing.T) *realtime.Client {
	t.Helper()
	client, err := realtime.Dial(context.Background(), f.url, realtime.WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientDocumentOperations(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "events/e1", map[string]any{"title": "Launch", "seats": 40}))
	record, found, err := client.Get(ctx, "events/e1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, provider.Record{ID: "e1", Data: map[string]any{"title": "Launch", "seats": 40}}, record)

	_, found, err = client.Get(ctx, "events/nope")
	require.NoError(t, err)
	assert.False(t, found)

	id, err := client.Add(ctx, "events", map[string]any{"title": "Retro"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	records, err := client.List(ctx, "events")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "e1", records[0].ID)
	assert.Equal(t, id, records[1].ID)

	require.NoError(t, client.Delete(ctx, "events/e1"))
	records, err = f.docs.List(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestServerErrorsAreRemoteErrors(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)

	err := client.Set(context.Background(), "events", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, realtime.ErrRemote)
}

func TestSubscriptionDeliversSnapshots(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)
	ctx := context.Background()
	require.NoError(t, f.docs.Set(ctx, "events/e1/guests/g1", map[string]any{"name": "Ada"}))

	var mu sync.Mutex
	var deliveries [][]provider.Record
	cancel, err := client.Subscribe(ctx, "events/e1/guests", func(records []provider.Record) {
		mu.Lock()
		deliveries = append(deliveries, records)
		mu.Unlock()
	})
	require.NoError(t, err)

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(deliveries)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.docs.Set(ctx, "events/e1/guests/g2", map[string]any{"name": "Bob"}))
	require.Eventually(t, func() bool { return count() == 2 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Len(t, deliveries[1], 2)
	mu.Unlock()

	cancel()
	// a round trip guarantees the unsubscribe was processed
	_, err = client.List(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, f.docs.Set(ctx, "events/e1/guests/g3", map[string]any{"name": "Cy"}))
	_, err = client.List(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 2, count())
}

func TestRemoteAdapterOverWebsocket(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)
	other := f.dial(t)
	ctx := context.Background()

	store := statesync.New(statesync.WithDispatcher(statesync.InlineDispatcher{}))
	remote := provider.NewRemote(store, client)
	t.Cleanup(func() { _ = remote.Close() })

	require.NoError(t, store.Define("events", []any{},
		statesync.WithSource(remote.Source("events")),
		statesync.WithStorage(remote.Storage("events")),
	))
	require.NoError(t, store.Fetch("events", statesync.ContextInitialize))

	require.NoError(t, other.Set(ctx, "events/e1", map[string]any{"title": "Launch"}))
	require.Eventually(t, func() bool {
		events, _ := statesync.AsSequence(store.Read("events"))
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Add("events")(map[string]any{"title": "Retro"}))
	require.Eventually(t, func() bool {
		events, _ := statesync.AsSequence(store.Read("events"))
		if len(events) != 2 {
			return false
		}
		_, ok := statesync.ElementID(events[1])
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	records, err := f.docs.List(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, map[string]string{"events": "events"}, remote.Subscriptions())
}

func TestClosedClientFails(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)
	require.NoError(t, client.Close())

	_, err := client.List(context.Background(), "events")
	assert.ErrorIs(t, err, realtime.ErrClosed)

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client not done after Close")
	}
}

func TestServerCloseDropsClients(t *testing.T) {
	f := newFixture(t)
	client := f.dial(t)
	require.Eventually(t, func() bool { return f.server.Connections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.server.Close())
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client still connected")
	}
	require.Eventually(t, func() bool { return f.server.Connections() == 0 }, time.Second, 10*time.Millisecond)
}
