package provider_test

import (
	"testing"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLSourceFollowsNavigation(t *testing.T) {
	location, err := provider.NewMemoryLocation("https://app.test/events?eventId=e1")
	require.NoError(t, err)
	store := newStore(t)
	adapter := provider.NewURL(store, location)
	t.Cleanup(func() { _ = adapter.Close() })

	require.NoError(t, store.Define("eventId", nil, statesync.WithSource(adapter.Source("eventId"))))
	require.NoError(t, store.Fetch("eventId", statesync.ContextInitialize))
	assert.Equal(t, "e1", store.Read("eventId"))

	require.NoError(t, location.SetParam("eventId", "e2"))
	assert.Equal(t, "e2", store.Read("eventId"))

	records := store.History()
	require.Len(t, records, 2)
	assert.Equal(t, provider.LabelURL, records[0].Context)

	require.NoError(t, location.Navigate("https://app.test/events"))
	assert.Equal(t, "e2", store.Read("eventId"), "missing parameter leaves the value alone")
}

func TestURLCloseStopsWatching(t *testing.T) {
	location, err := provider.NewMemoryLocation("/?tab=home")
	require.NoError(t, err)
	store := newStore(t)
	adapter := provider.NewURL(store, location)

	require.NoError(t, store.Define("tab", nil, statesync.WithSource(adapter.Source("tab"))))
	require.NoError(t, store.Fetch("tab", statesync.ContextInitialize))
	require.NoError(t, store.Fetch("tab", statesync.ContextDependency))
	require.NoError(t, adapter.Close())

	require.NoError(t, location.SetParam("tab", "settings"))
	assert.Equal(t, "home", store.Read("tab"))
	assert.Equal(t, "/?tab=settings", location.String())
}
