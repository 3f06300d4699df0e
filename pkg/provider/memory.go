package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/clone"
	"github.com/google/uuid"
)

// MemoryDocuments is an in-process Documents and Subscriber backend. Ids
// assigned by Add are random UUIDs; List returns records in insertion order.
type MemoryDocuments struct {
	mu       sync.Mutex
	docs     map[string]memoryDoc
	seq      uint64
	watchers map[uint64]*watcher
	nextID   uint64
	newID    func() string
}

type memoryDoc struct {
	seq  uint64
	data map[string]any
}

type watcher struct {
	path string
	fn   func([]Record)
}

// NewMemoryDocuments returns an empty backend.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{
		docs:     make(map[string]memoryDoc),
		watchers: make(map[uint64]*watcher),
		newID:    uuid.NewString,
	}
}

// WithIDGenerator replaces the id generator used by Add. Intended for tests.
func (m *MemoryDocuments) WithIDGenerator(fn func() string) *MemoryDocuments {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.newID = fn
	}
	return m
}

// Get implements Documents.
func (m *MemoryDocuments) Get(_ context.Context, path string) (Record, bool, error) {
	path, err := documentPath(path)
	if err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return Record{}, false, nil
	}
	return Record{ID: lastSegment(path), Data: clone.Value(doc.data)}, true, nil
}

// List implements Documents.
func (m *MemoryDocuments) List(_ context.Context, collection string) ([]Record, error) {
	collection, err := collectionPath(collection)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(collection), nil
}

func (m *MemoryDocuments) listLocked(collection string) []Record {
	type entry struct {
		seq    uint64
		record Record
	}
	var entries []entry
	prefix := collection + "/"
	for path, doc := range m.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		entries = append(entries, entry{seq: doc.seq, record: Record{ID: path[len(prefix):], Data: clone.Value(doc.data)}})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record)
	}
	return out
}

// Set implements Documents. Existing documents keep their list position.
func (m *MemoryDocuments) Set(_ context.Context, path string, data map[string]any) error {
	path, err := documentPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	doc, ok := m.docs[path]
	if !ok {
		m.seq++
		doc.seq = m.seq
	}
	doc.data = clone.Value(data)
	m.docs[path] = doc
	notify := m.collectLocked(path)
	m.mu.Unlock()
	notify()
	return nil
}

// Add implements Documents.
func (m *MemoryDocuments) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	collection, err := collectionPath(collection)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	id := m.newID()
	m.mu.Unlock()
	return id, m.Set(ctx, statesync.JoinPath(collection, id), data)
}

// Delete implements Documents. Deleting a missing document is not an error.
func (m *MemoryDocuments) Delete(_ context.Context, path string) error {
	path, err := documentPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.docs[path]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.docs, path)
	notify := m.collectLocked(path)
	m.mu.Unlock()
	notify()
	return nil
}

// Subscribe implements Subscriber. fn runs on the writer's goroutine.
func (m *MemoryDocuments) Subscribe(ctx context.Context, path string, fn func([]Record)) (func(), error) {
	path = statesync.JoinPath(path)
	if path == "" {
		return nil, fmt.Errorf("provider: empty subscription path")
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	w := &watcher{path: path, fn: fn}
	m.watchers[id] = w
	initial := m.snapshotLocked(path)
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	fn(initial)
	return cancel, nil
}

func (m *MemoryDocuments) snapshotLocked(path string) []Record {
	if statesync.IsDocumentPath(path) {
		doc, ok := m.docs[path]
		if !ok {
			return nil
		}
		return []Record{{ID: lastSegment(path), Data: clone.Value(doc.data)}}
	}
	return m.listLocked(path)
}

// collectLocked gathers the watchers affected by a change to docPath and
// returns a function delivering their snapshots outside the lock.
func (m *MemoryDocuments) collectLocked(docPath string) func() {
	parent := parentPath(docPath)
	type delivery struct {
		fn      func([]Record)
		records []Record
	}
	var deliveries []delivery
	for _, w := range m.watchers {
		if w.path == docPath || w.path == parent {
			deliveries = append(deliveries, delivery{fn: w.fn, records: m.snapshotLocked(w.path)})
		}
	}
	return func() {
		for _, d := range deliveries {
			d.fn(d.records)
		}
	}
}

// Collections returns the distinct collection paths currently holding
// documents.
func (m *MemoryDocuments) Collections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for path := range m.docs {
		seen[parentPath(path)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func documentPath(path string) (string, error) {
	path = statesync.JoinPath(path)
	if !statesync.IsDocumentPath(path) {
		return "", fmt.Errorf("provider: %q is not a document path", path)
	}
	return path, nil
}

func collectionPath(path string) (string, error) {
	path = statesync.JoinPath(path)
	if path == "" || statesync.IsDocumentPath(path) {
		return "", fmt.Errorf("provider: %q is not a collection path", path)
	}
	return path, nil
}

func parentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// MemoryKV is an in-process KV backend.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV returns an empty backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put implements KV.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys sorted.
func (m *MemoryKV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.values))
	for key := range m.values {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
