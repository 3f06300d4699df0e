package provider

import "context"

// Record is one document of a hierarchical backend.
type Record struct {
	ID   string
	Data map[string]any
}

// Documents is a hierarchical document backend. Paths alternate collection
// and document segments: an odd segment count names a collection, an even
// count a single document.
type Documents interface {
	Get(ctx context.Context, path string) (Record, bool, error)
	List(ctx context.Context, collection string) ([]Record, error)
	Set(ctx context.Context, path string, data map[string]any) error
	// Add creates a document with a backend-assigned id and returns it.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Delete(ctx context.Context, path string) error
}

// Subscriber is implemented by document backends with live updates. fn
// receives the current state on subscription and after every change under
// path: at most one record for document paths, the whole collection
// otherwise.
type Subscriber interface {
	Subscribe(ctx context.Context, path string, fn func([]Record)) (cancel func(), err error)
}

// SchemaInitializer prepares the collections a configuration references.
type SchemaInitializer interface {
	EnsureCollections(ctx context.Context, collections []string) (version int, err error)
}

// KV is a flat key-value backend.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
