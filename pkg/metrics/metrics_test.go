package metrics_test

import (
	"errors"
	"testing"
	"time"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/metrics"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("")
	require.NoError(t, reg.Register(collector))

	collector.Log(statesync.LogEvent{Kind: statesync.LogKindMutation, Action: statesync.ActionUpdate, Context: "app"})
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "statesync_store_mutations_total")
	assert.Contains(t, names, "statesync_store_mutation_duration_seconds")
}

func TestCollectorCountsStoreActivity(t *testing.T) {
	collector := metrics.NewCollector("test")
	store := statesync.New(
		statesync.WithDispatcher(statesync.InlineDispatcher{}),
		statesync.WithLogger(collector),
	)
	kv := provider.NewMemoryKV()
	flat := provider.NewFlat(store, kv, "")

	require.NoError(t, store.Define("theme", "light", statesync.WithStorage(flat.Storage("theme"))))
	require.NoError(t, store.Update("theme")("dark"))
	require.NoError(t, store.Update("theme")("dark"))
	require.NoError(t, store.Update("theme")("solarized"))
	assert.Error(t, store.Mutate("missing", 1, "app", statesync.ActionUpdate, ""))
	assert.Error(t, store.Define("theme", "again"))
	require.NoError(t, store.StepBack())
	assert.Error(t, store.Rewind(10))

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.Mutations().WithLabelValues("update", "app", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Mutations().WithLabelValues("update", "history-replay", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Mutations().WithLabelValues("update", "app", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.ProviderCalls().WithLabelValues(provider.LabelFlatKeyValue, "write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.History().WithLabelValues("rewind", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.History().WithLabelValues("rewind", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ConfigErrors()))
}

func TestCollectorCountsHookFailures(t *testing.T) {
	collector := metrics.NewCollector("test")
	collector.Log(statesync.LogEvent{Kind: statesync.LogKindMutation, Label: "onChange", Err: errors.New("boom")})
	collector.Log(statesync.LogEvent{Kind: statesync.LogKindMutation, Label: "activity", Err: errors.New("boom")})
	collector.Log(statesync.LogEvent{Kind: statesync.LogKindProvider, Label: "url", Op: "read", Duration: time.Millisecond, Err: errors.New("boom")})
	collector.Log(statesync.LogEvent{Kind: statesync.LogKindEval})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HookFailures().WithLabelValues("onChange")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HookFailures().WithLabelValues("activity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ProviderCalls().WithLabelValues("url", "read", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Evaluations().WithLabelValues("ok")))
	assert.Equal(t, 0, testutil.CollectAndCount(collector.Mutations()))
}
