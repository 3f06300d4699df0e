package binding_test

import (
	"context"
	"sync"
	"testing"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/binding"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaDocs struct {
	*provider.MemoryDocuments
	mu          sync.Mutex
	collections []string
}

func (s *schemaDocs) EnsureCollections(_ context.Context, collections []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = append([]string(nil), collections...)
	return 3, nil
}

type themeChange struct {
	old, new any
	id       string
}

type plannerFixture struct {
	store    *statesync.Store
	res      *binding.Resolution
	remote   *provider.MemoryDocuments
	local    *schemaDocs
	kv       *provider.MemoryKV
	location *provider.MemoryLocation

	mu      sync.Mutex
	changes []themeChange
}

func newPlanner(t *testing.T) *plannerFixture {
	t.Helper()
	ctx := context.Background()
	f := &plannerFixture{
		store:  statesync.New(statesync.WithDispatcher(statesync.InlineDispatcher{})),
		remote: provider.NewMemoryDocuments(),
		local:  &schemaDocs{MemoryDocuments: provider.NewMemoryDocuments()},
		kv:     provider.NewMemoryKV(),
	}
	location, err := provider.NewMemoryLocation("/planner?event=e1")
	require.NoError(t, err)
	f.location = location

	require.NoError(t, f.local.Set(ctx, "events/e1/guests/g1", map[string]any{"name": "Ada"}))
	require.NoError(t, f.kv.Put(ctx, "planner:theme", []byte(`"dark"`)))

	registry := statesync.NewFunctionRegistry()
	registry.MustRegister("logTheme", func(args ...any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changes = append(f.changes, themeChange{old: args[0], new: args[1], id: args[2].(string)})
		return nil, nil
	})

	cfg, err := binding.Parse([]byte(plannerYAML))
	require.NoError(t, err)
	res, err := binding.Resolve(ctx, f.store, cfg, binding.Providers{
		Remote:    f.remote,
		Local:     f.local,
		Flat:      f.kv,
		Location:  location,
		Functions: registry,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })
	f.res = res
	return f
}

func TestResolveInitializesEveryVariable(t *testing.T) {
	f := newPlanner(t)

	assert.Equal(t, "e1", f.store.Read("eventId"))
	assert.Equal(t, []any{}, f.store.Read("events"))
	assert.Equal(t, []any{map[string]any{"id": "g1", "name": "Ada"}}, f.store.Read("guests"))
	assert.Equal(t, "dark", f.store.Read("theme"))
	assert.Equal(t, 1, f.store.Read("total"))

	assert.Equal(t, 3, f.res.SchemaVersion)
	assert.Equal(t, []string{"events"}, f.local.collections)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.changes, 1)
	assert.Equal(t, themeChange{old: "light", new: "dark", id: "theme"}, f.changes[0])
}

func TestResolveMarksDependencies(t *testing.T) {
	f := newPlanner(t)

	eventID, ok := f.store.Variable("eventId")
	require.True(t, ok)
	assert.True(t, eventID.AlertsDependents)

	guests, ok := f.store.Variable("guests")
	require.True(t, ok)
	assert.True(t, guests.AlertsDependents)
	require.NotNil(t, guests.Source)
	assert.Equal(t, provider.LabelLocalIndexed, guests.Source.Label)
	require.NotNil(t, guests.Storage)

	theme, ok := f.store.Variable("theme")
	require.True(t, ok)
	assert.False(t, theme.AlertsDependents)
}

func TestDependencyAlertsRefetchDependents(t *testing.T) {
	f := newPlanner(t)
	ctx := context.Background()
	require.NoError(t, f.local.Set(ctx, "events/e2/guests/h1", map[string]any{"name": "Bob"}))
	require.NoError(t, f.local.Set(ctx, "events/e2/guests/h2", map[string]any{"name": "Cy"}))

	require.NoError(t, f.location.SetParam("event", "e2"))

	assert.Equal(t, "e2", f.store.Read("eventId"))
	assert.Equal(t, []any{
		map[string]any{"id": "h1", "name": "Bob"},
		map[string]any{"id": "h2", "name": "Cy"},
	}, f.store.Read("guests"))
	assert.Equal(t, 2, f.store.Read("total"))
}

func TestResolvedStoragePersists(t *testing.T) {
	f := newPlanner(t)
	ctx := context.Background()

	require.NoError(t, f.store.Update("theme")("solarized"))
	raw, found, err := f.kv.Get(ctx, "planner:theme")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `"solarized"`, string(raw))

	require.NoError(t, f.store.Add("events")(map[string]any{"title": "Launch"}))
	records, err := f.remote.List(ctx, "events")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Launch", records[0].Data["title"])

	events, ok := statesync.AsSequence(f.store.Read("events"))
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, records[0].ID, events[0].(map[string]any)["id"])
}

func TestResolveRequiresBackends(t *testing.T) {
	cfg, err := binding.Parse([]byte(plannerYAML))
	require.NoError(t, err)

	_, err = binding.Resolve(context.Background(), statesync.New(), cfg, binding.Providers{})
	assert.ErrorIs(t, err, binding.ErrMissingBackend)
}

func TestResolveRequiresRegisteredFunctions(t *testing.T) {
	cfg, err := binding.Parse([]byte(`
variables:
  theme: {default: light, onChange: missing}
`))
	require.NoError(t, err)

	_, err = binding.Resolve(context.Background(), statesync.New(), cfg, binding.Providers{})
	assert.ErrorIs(t, err, statesync.ErrFunctionNotRegistered)

	cfg, err = binding.Parse([]byte(`
variables:
  total: {source: {function: {name: compute}}}
`))
	require.NoError(t, err)
	_, err = binding.Resolve(context.Background(), statesync.New(), cfg, binding.Providers{})
	assert.ErrorIs(t, err, statesync.ErrFunctionNotRegistered)
}

func TestResolveRejectsRedefinition(t *testing.T) {
	cfg, err := binding.Parse([]byte(`variables: {a: {default: 1}}`))
	require.NoError(t, err)
	store := statesync.New()
	require.NoError(t, store.Define("a", 0))

	_, err = binding.Resolve(context.Background(), store, cfg, binding.Providers{})
	assert.ErrorIs(t, err, statesync.ErrDuplicateVariable)
}
