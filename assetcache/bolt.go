package assetcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStorage keeps one bucket per cache generation.
type BoltStorage struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *BoltStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}

	return &boltCache{db: s.db, name: []byte(name)}, nil
}

func (s *BoltStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			keys = append(keys, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	return keys, nil
}

func (s *BoltStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	deleted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}

		deleted = true
		return tx.DeleteBucket([]byte(name))
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}

	return deleted, nil
}

type boltCache struct {
	db   *bbolt.DB
	name []byte
}

func (c *boltCache) Match(ctx context.Context, url string, opts MatchOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(c.name)
		if bucket == nil {
			return ErrNotFound
		}

		if v := bucket.Get([]byte(url)); v != nil {
			payload = bytes.Clone(v)
			return nil
		}
		if !opts.IgnoreSearch {
			return ErrNotFound
		}

		path := StripSearch(url)
		cur := bucket.Cursor()
		for k, v := cur.Seek([]byte(path)); k != nil && bytes.HasPrefix(k, []byte(path)); k, v = cur.Next() {
			if StripSearch(string(k)) == path {
				payload = bytes.Clone(v)
				return nil
			}
		}

		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	if err := json.Unmarshal(payload, resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response %s: %w", url, err)
	}

	return resp, nil
}

func (c *boltCache) Put(ctx context.Context, url string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response %s: %w", url, err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(c.name)
		if bucket == nil {
			return fmt.Errorf("cache %s was deleted", c.name)
		}

		return bucket.Put([]byte(url), payload)
	})
}
