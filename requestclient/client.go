// Package requestclient fetches JSON and page resources with
// stale-while-revalidate semantics.
package requestclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultEntries        = 256
	defaultRefreshTimeout = 15 * time.Second
	maxBodyBytes          = 32 << 20
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type entry struct {
	body      []byte
	etag      string
	fetchedAt time.Time
}

type Options struct {
	// Entries bounds the number of cached URLs.
	Entries int
	// FreshFor skips background revalidation while an entry is younger.
	FreshFor       time.Duration
	RefreshTimeout time.Duration
}

// Client returns cached bodies immediately and refreshes them in the
// background. Refresh failures are discarded, the stale copy stays in place.
type Client struct {
	log            *slog.Logger
	http           Doer
	cache          *lru.Cache[string, entry]
	group          singleflight.Group
	freshFor       time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	wg sync.WaitGroup
}

func New(doer Doer, opts Options, log *slog.Logger) (*Client, error) {
	if doer == nil {
		doer = http.DefaultClient
	}
	if opts.Entries <= 0 {
		opts.Entries = DefaultEntries
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}

	cache, err := lru.New[string, entry](opts.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create request cache: %w", err)
	}

	return &Client{
		log:            log,
		http:           doer,
		cache:          cache,
		freshFor:       opts.FreshFor,
		refreshTimeout: opts.RefreshTimeout,
		now:            time.Now,
	}, nil
}

func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if e, ok := c.cache.Get(url); ok {
		if c.now().Sub(e.fetchedAt) >= c.freshFor {
			c.revalidate(url)
		}

		return e.body, nil
	}

	// The shared fetch outlives any single caller, each waiter gives up on its
	// own context.
	ch := c.group.DoChan(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		return c.fetch(fctx, url)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}

		return r.Val.(entry).body, nil
	}
}

// Wait blocks until every background refresh has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) revalidate(url string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()

		_, err, _ := c.group.Do(url, func() (any, error) {
			return c.fetch(ctx, url)
		})
		if err != nil {
			c.log.Debug("background refresh failed", slog.String("url", url), slog.String("error", err.Error()))
		}
	}()
}

func (c *Client) fetch(ctx context.Context, url string) (entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entry{}, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	prev, cached := c.cache.Peek(url)
	if cached && prev.etag != "" {
		req.Header.Set("If-None-Match", prev.etag)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return entry{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotModified && cached {
		prev.fetchedAt = c.now()
		c.cache.Add(url, prev)
		return prev, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return entry{}, fmt.Errorf("unexpected status fetching %s: %s", url, res.Status)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return entry{}, fmt.Errorf("failed to read %s: %w", url, err)
	}

	e := entry{body: body, etag: res.Header.Get("ETag"), fetchedAt: c.now()}
	c.cache.Add(url, e)
	return e, nil
}
