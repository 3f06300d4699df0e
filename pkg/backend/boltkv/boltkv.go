// Package boltkv is a flat key-value backend on bbolt. Every key lives in a
// single bucket.
package boltkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-statesync/pkg/provider"
	bolt "go.etcd.io/bbolt"
)

// DefaultBucket is used when Open is given an empty bucket name.
const DefaultBucket = "statesync"

// Store implements provider.KV.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

var _ provider.KV = (*Store)(nil)

// Open opens or creates the database file at filename.
func Open(filename, bucket string) (*Store, error) {
	if filename == "" {
		return nil, errors.New("boltkv: filename is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	db, err := bolt.Open(filename, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", filename, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltkv: create bucket %s: %w", bucket, err)
	}
	return &Store{db: db, bucket: []byte(bucket)}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements provider.KV.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(key))
		if raw != nil {
			// bbolt values are only valid for the life of the transaction
			value = append([]byte{}, raw...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("boltkv: get %s: %w", key, err)
	}
	return value, found, nil
}

// Put implements provider.KV.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("boltkv: put %s: %w", key, err)
	}
	return nil
}

// Delete implements provider.KV. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("boltkv: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every key in key order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltkv: keys: %w", err)
	}
	return keys, nil
}
