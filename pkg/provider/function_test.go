package provider_test

import (
	"errors"
	"sync"
	"testing"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionSourceByName(t *testing.T) {
	registry := statesync.NewFunctionRegistry()
	registry.MustRegister("fullName", func(args ...any) (any, error) {
		snapshot := args[1].(map[string]any)
		return snapshot["first"].(string) + " " + snapshot["last"].(string), nil
	})
	store := newStore(t)
	fn := provider.NewFunction(store, registry)

	require.NoError(t, store.Define("first", "Ada"))
	require.NoError(t, store.Define("last", "Lovelace"))
	require.NoError(t, store.Define("name", nil, statesync.WithSource(fn.Source(provider.FunctionSource{Name: "fullName"}))))
	require.NoError(t, store.Fetch("name", statesync.ContextInitialize))

	assert.Equal(t, "Ada Lovelace", store.Read("name"))
}

func TestFunctionSourceNilResultIsSkipped(t *testing.T) {
	registry := statesync.NewFunctionRegistry()
	registry.MustRegister("nothing", func(...any) (any, error) { return nil, nil })
	store := newStore(t)
	fn := provider.NewFunction(store, registry)

	require.NoError(t, store.Define("value", "kept", statesync.WithSource(fn.Source(provider.FunctionSource{Name: "nothing"}))))
	require.NoError(t, store.Fetch("value", statesync.ContextInitialize))

	assert.Equal(t, "kept", store.Read("value"))
	assert.Empty(t, store.History())
}

func TestFunctionSourceExpression(t *testing.T) {
	store := newStore(t)
	fn := provider.NewFunction(store, nil)

	require.NoError(t, store.Define("price", 10))
	require.NoError(t, store.Define("qty", 3))
	require.NoError(t, store.Define("total", nil, statesync.WithSource(fn.Source(provider.FunctionSource{Expr: "price * qty"}))))
	require.NoError(t, store.Fetch("total", statesync.ContextInitialize))

	assert.Equal(t, 30, store.Read("total"))

	first, err := fn.Evaluator("")
	require.NoError(t, err)
	second, err := fn.Evaluator("EXPR")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFunctionSourceFailureIsLogged(t *testing.T) {
	var mu sync.Mutex
	var failures []error
	logger := statesync.LoggerFunc(func(e statesync.LogEvent) {
		if e.Err != nil {
			mu.Lock()
			failures = append(failures, e.Err)
			mu.Unlock()
		}
	})
	store := newStore(t, statesync.WithLogger(logger))
	fn := provider.NewFunction(store, nil)

	require.NoError(t, store.Define("value", nil, statesync.WithSource(fn.Source(provider.FunctionSource{Name: "missing"}))))
	require.NoError(t, store.Fetch("value", statesync.ContextInitialize))

	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], statesync.ErrFunctionNotRegistered))
}

func TestFunctionStorageArguments(t *testing.T) {
	var calls [][]any
	registry := statesync.NewFunctionRegistry()
	registry.MustRegister("persist", func(args ...any) (any, error) {
		calls = append(calls, args)
		return nil, nil
	})
	store := newStore(t)
	fn := provider.NewFunction(store, registry)

	require.NoError(t, store.Define("items", []any{}, statesync.WithStorage(fn.Storage("persist"))))
	require.NoError(t, store.Add("items")(map[string]any{"id": "a"}))
	require.NoError(t, store.Remove("items", "a")(nil))
	require.NoError(t, store.Mutate("items", []any{"x"}, provider.LabelFunction, statesync.ActionUpdate, ""))

	require.Len(t, calls, 2)
	assert.Equal(t, []any{"items", map[string]any{"id": "a"}, statesync.ContextApp, "add", ""}, calls[0])
	assert.Equal(t, []any{"items", nil, "", "remove", "a"}, calls[1])
}

func TestFunctionStoragePanicIsReported(t *testing.T) {
	var failures []error
	logger := statesync.LoggerFunc(func(e statesync.LogEvent) {
		if e.Err != nil {
			failures = append(failures, e.Err)
		}
	})
	registry := statesync.NewFunctionRegistry()
	registry.MustRegister("explode", func(...any) (any, error) {
		panic("backend exploded")
	})
	store := newStore(t, statesync.WithLogger(logger))
	fn := provider.NewFunction(store, registry)

	require.NoError(t, store.Define("x", 0, statesync.WithStorage(fn.Storage("explode"))))
	require.NotPanics(t, func() {
		require.NoError(t, store.Mutate("x", 1, statesync.ContextApp, statesync.ActionUpdate, ""))
		require.NoError(t, store.Remove("x")(nil))
	})

	assert.Nil(t, store.Read("x"))
	require.Len(t, failures, 2)
	var providerErr *statesync.ProviderError
	require.ErrorAs(t, failures[0], &providerErr)
	assert.Equal(t, provider.LabelFunction, providerErr.Label)
	assert.ErrorIs(t, failures[0], statesync.ErrFunctionPanicked)
	assert.Contains(t, failures[0].Error(), "backend exploded")
}
