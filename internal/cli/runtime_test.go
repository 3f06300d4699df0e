package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-statesync/pkg/backend/realtime"
	"github.com/goliatone/go-statesync/pkg/binding"
	"github.com/goliatone/go-statesync/pkg/provider"
)

func TestRuntimeOverDocumentServer(t *testing.T) {
	ctx := context.Background()
	docs := provider.NewMemoryDocuments()
	require.NoError(t, docs.Set(ctx, "events/e1", map[string]any{"title": "Launch"}))

	server := realtime.NewServer(docs)
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Close()
		httpServer.Close()
	})

	cfg, err := binding.Parse([]byte(`namespace: planner
variables:
  events:
    default: []
    source: {remote: events}
    storage: {remote: events}
`))
	require.NoError(t, err)

	rt, err := OpenRuntime(ctx, cfg, RuntimeOptions{
		RemoteURL:      "ws" + strings.TrimPrefix(httpServer.URL, "http"),
		RequestTimeout: 5 * time.Second,
	}, nil, nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, []any{map[string]any{"id": "e1", "title": "Launch"}}, rt.Store.Read("events"))

	require.NoError(t, docs.Set(ctx, "events/e2", map[string]any{"title": "Retro"}))
	require.Eventually(t, func() bool {
		events, _ := rt.Store.Read("events").([]any)
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond, "subscription should deliver upstream changes")

	shell, _ := newTestShell(rt, "text")
	_, err = shell.Exec(`add events {"title": "Planning"}`)
	require.NoError(t, err)

	records, err := docs.List(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRuntimePersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg, err := binding.Parse([]byte(`namespace: notes
variables:
  notes:
    default: []
    source: {local: notes}
    storage: {local: notes}
  theme:
    default: light
    source: {flat: theme}
    storage: {flat: theme}
`))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := OpenRuntime(ctx, cfg, RuntimeOptions{DataDir: dir}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Resolution.SchemaVersion)
	assert.Equal(t, []string{"notes"}, first.Resolution.Collections)

	shell, _ := newTestShell(first, "text")
	for _, line := range []string{`add notes {"text": "buy milk"}`, `set theme "dark"`} {
		_, err := shell.Exec(line)
		require.NoError(t, err, line)
	}
	require.NoError(t, first.Close())

	second, err := OpenRuntime(ctx, cfg, RuntimeOptions{DataDir: dir}, nil, nil)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 1, second.Resolution.SchemaVersion, "known collections keep the version")
	assert.Equal(t, "dark", second.Store.Read("theme"))
	notes, ok := second.Store.Read("notes").([]any)
	require.True(t, ok)
	require.Len(t, notes, 1)
	assert.Equal(t, "buy milk", notes[0].(map[string]any)["text"])
}

func TestOpenRuntimeRejectsBadLocation(t *testing.T) {
	cfg, err := binding.Parse([]byte(todoYAML))
	require.NoError(t, err)

	_, err = OpenRuntime(context.Background(), cfg, RuntimeOptions{Location: "://bad"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeMetrics(t *testing.T) {
	rt := newTodoRuntime(t, nil)

	addr, stop, err := serveMetrics(rt, "127.0.0.1:0", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "statesync_store_mutations_total")
	assert.Contains(t, string(body), "statesync_provider_calls_total")
}

func TestSeedDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "events/e1": {"title": "Launch", "seats": 40},
  "events/e1/guests/g1": {"name": "Ada"}
}`), 0o600))

	docs := provider.NewMemoryDocuments()
	n, err := seedDocuments(context.Background(), docs, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	record, found, err := docs.Get(context.Background(), "events/e1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 40, record.Data["seats"])

	require.NoError(t, os.WriteFile(path, []byte(`{"events/e2": 7}`), 0o600))
	_, err = seedDocuments(context.Background(), docs, path)
	assert.Error(t, err)
}

func TestDescribeCommand(t *testing.T) {
	path := writeConfig(t, todoYAML)

	out, err := execute(t, "describe", "--config", path, "--location", "/app?list=l1")
	require.NoError(t, err)
	assert.Contains(t, out, "listId")
	assert.Contains(t, out, "source=url:list")
	assert.Contains(t, out, "storage=local-indexed:lists/<listId>/todos")
	assert.Contains(t, out, "storage=flat-key-value:title")

	var b bytes.Buffer
	writeDescriptors(&b, nil)
	assert.Empty(t, b.String())
}
