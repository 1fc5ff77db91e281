// Package assetcache stores HTTP responses in named cache generations.
package assetcache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrNotFound = errors.New("cache entry not found")

type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	c := *r
	c.Header = r.Header.Clone()
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

type MatchOptions struct {
	// IgnoreSearch matches entries regardless of their query string.
	IgnoreSearch bool
}

type Cache interface {
	Match(ctx context.Context, url string, opts MatchOptions) (*Response, error)
	Put(ctx context.Context, url string, resp *Response) error
}

// Storage holds every cache generation. Generation names are opaque.
type Storage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

// StripSearch drops the query string and fragment from a request URI.
func StripSearch(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}

	return url
}
