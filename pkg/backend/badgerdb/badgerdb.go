// Package badgerdb is a local-indexed document backend on BadgerDB. It also
// keeps the persisted schema version marker: a version counter and the list
// of known collections, bumped whenever the configured collection set grows.
package badgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/hydrate"
	"github.com/goliatone/go-statesync/pkg/provider"
	"github.com/google/uuid"
)

// DefaultNamespace prefixes every key when Config.Namespace is empty.
const DefaultNamespace = "statesync"

// MigrationFunc runs when the collection set grows. It receives the previous
// and new versions and the full collection list.
type MigrationFunc func(ctx context.Context, from, to int, collections []string) error

// Config holds configuration for a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool
	// SyncWrites enables synchronous writes.
	SyncWrites bool
	// Namespace scopes document and schema keys.
	Namespace string
	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
	// Migrate is called after a schema version bump is persisted.
	Migrate MigrationFunc
	// NewID generates ids for added documents. Defaults to random UUIDs.
	NewID func() string
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements provider.Documents and provider.SchemaInitializer.
type Store struct {
	db        *badger.DB
	seq       *badger.Sequence
	namespace string
	codec     *hydrate.Codec
	migrate   MigrationFunc
	newID     func() string

	schemaMu sync.Mutex
}

var (
	_ provider.Documents         = (*Store)(nil)
	_ provider.SchemaInitializer = (*Store)(nil)
)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerdb: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerdb: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: open: %w", err)
	}

	namespace := strings.Trim(cfg.Namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	seq, err := db.GetSequence([]byte(namespace+":seq"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badgerdb: sequence: %w", err)
	}

	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{
		db:        db,
		seq:       seq,
		namespace: namespace,
		codec:     hydrate.Default,
		migrate:   cfg.Migrate,
		newID:     newID,
	}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// Namespace returns the key namespace.
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) docKey(path string) []byte {
	return []byte(s.namespace + ":doc:" + path)
}

func (s *Store) collectionPrefix(collection string) []byte {
	return []byte(s.namespace + ":doc:" + collection + "/")
}

// Documents are stored as an 8-byte insertion sequence followed by the JSON
// payload, so List can return records in insertion order.
func (s *Store) encodeDoc(seq uint64, path string, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := s.codec.Encode(hydrate.Context{Key: path}, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint64(out, seq)
	return append(out, payload...), nil
}

func (s *Store) decodeDoc(path string, raw []byte) (uint64, map[string]any, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("badgerdb: corrupt document %q", path)
	}
	data, err := s.codec.DecodeRecord(hydrate.Context{Key: path}, raw[8:])
	if err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint64(raw[:8]), data, nil
}

// Get implements provider.Documents.
func (s *Store) Get(ctx context.Context, path string) (provider.Record, bool, error) {
	path, err := documentPath(path)
	if err != nil {
		return provider.Record{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Record{}, false, err
	}
	var record provider.Record
	found := false
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.docKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			_, data, err := s.decodeDoc(path, raw)
			if err != nil {
				return err
			}
			record = provider.Record{ID: lastSegment(path), Data: data}
			found = true
			return nil
		})
	})
	if err != nil {
		return provider.Record{}, false, fmt.Errorf("badgerdb: get %s: %w", path, err)
	}
	return record, found, nil
}

// List implements provider.Documents.
func (s *Store) List(ctx context.Context, collection string) ([]provider.Record, error) {
	collection, err := collectionPath(collection)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type entry struct {
		seq    uint64
		record provider.Record
	}
	var entries []entry
	prefix := s.collectionPrefix(collection)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			if strings.Contains(id, "/") {
				continue
			}
			err := item.Value(func(raw []byte) error {
				seq, data, err := s.decodeDoc(collection+"/"+id, raw)
				if err != nil {
					return err
				}
				entries = append(entries, entry{seq: seq, record: provider.Record{ID: id, Data: data}})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerdb: list %s: %w", collection, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]provider.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record)
	}
	return out, nil
}

// Set implements provider.Documents. Existing documents keep their list
// position.
func (s *Store) Set(ctx context.Context, path string, data map[string]any) error {
	path, err := documentPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		key := s.docKey(path)
		var seq uint64
		item, err := txn.Get(key)
		switch {
		case err == nil:
			err = item.Value(func(raw []byte) error {
				if len(raw) < 8 {
					return fmt.Errorf("badgerdb: corrupt document %q", path)
				}
				seq = binary.BigEndian.Uint64(raw[:8])
				return nil
			})
			if err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			if seq, err = s.seq.Next(); err != nil {
				return err
			}
		default:
			return err
		}
		value, err := s.encodeDoc(seq, path, data)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badgerdb: set %s: %w", path, err)
	}
	return nil
}

// Add implements provider.Documents.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	collection, err := collectionPath(collection)
	if err != nil {
		return "", err
	}
	id := s.newID()
	if err := s.Set(ctx, collection+"/"+id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements provider.Documents. Deleting a missing document is not
// an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	path, err := documentPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.docKey(path))
	})
	if err != nil {
		return fmt.Errorf("badgerdb: delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) versionKey() []byte {
	return []byte(s.namespace + ":schema:version")
}

func (s *Store) collectionsKey() []byte {
	return []byte(s.namespace + ":schema:collections")
}

// SchemaVersion returns the persisted version and collection list. Both are
// zero before the first EnsureCollections.
func (s *Store) SchemaVersion(ctx context.Context) (int, []string, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	var version int
	var collections []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		version, collections, err = s.readSchema(txn)
		return err
	})
	if err != nil {
		return 0, nil, fmt.Errorf("badgerdb: read schema: %w", err)
	}
	return version, collections, nil
}

func (s *Store) readSchema(txn *badger.Txn) (int, []string, error) {
	var version int
	var collections []string
	item, err := txn.Get(s.versionKey())
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return 0, nil, nil
	case err != nil:
		return 0, nil, err
	}
	err = item.Value(func(raw []byte) error {
		var err error
		version, err = strconv.Atoi(string(raw))
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	item, err = txn.Get(s.collectionsKey())
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return version, nil, nil
	case err != nil:
		return 0, nil, err
	}
	err = item.Value(func(raw []byte) error {
		return json.Unmarshal(raw, &collections)
	})
	return version, collections, err
}

// EnsureCollections implements provider.SchemaInitializer. The version is
// bumped, and the migration hook run, only when collections adds names the
// marker does not list yet.
func (s *Store) EnsureCollections(ctx context.Context, collections []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	var from, to int
	var merged []string
	err := s.db.Update(func(txn *badger.Txn) error {
		version, known, err := s.readSchema(txn)
		if err != nil {
			return err
		}
		from, to = version, version
		set := make(map[string]struct{}, len(known)+len(collections))
		for _, name := range known {
			set[name] = struct{}{}
		}
		grew := false
		for _, name := range collections {
			if _, ok := set[name]; ok || name == "" {
				continue
			}
			set[name] = struct{}{}
			grew = true
		}
		merged = make([]string, 0, len(set))
		for name := range set {
			merged = append(merged, name)
		}
		sort.Strings(merged)
		if !grew {
			return nil
		}
		to = version + 1
		encoded, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		if err := txn.Set(s.versionKey(), []byte(strconv.Itoa(to))); err != nil {
			return err
		}
		return txn.Set(s.collectionsKey(), encoded)
	})
	if err != nil {
		return 0, fmt.Errorf("badgerdb: ensure collections: %w", err)
	}
	if to != from && s.migrate != nil {
		if err := s.migrate(ctx, from, to, merged); err != nil {
			return to, fmt.Errorf("badgerdb: migrate %d->%d: %w", from, to, err)
		}
	}
	return to, nil
}

func documentPath(path string) (string, error) {
	path = statesync.JoinPath(path)
	if !statesync.IsDocumentPath(path) {
		return "", fmt.Errorf("badgerdb: %q is not a document path", path)
	}
	return path, nil
}

func collectionPath(path string) (string, error) {
	path = statesync.JoinPath(path)
	if path == "" || statesync.IsDocumentPath(path) {
		return "", fmt.Errorf("badgerdb: %q is not a collection path", path)
	}
	return path, nil
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
