// Package serviceworker serves same-origin requests through a versioned asset
// cache. Page loads go to the network first and fall back to the cache, every
// other GET is served from the cache first.
package serviceworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gamma-omg/guidesite/assetcache"
)

const (
	DefaultCachePrefix = "guidesite"
	DefaultVersion     = "v1"
	DefaultOfflinePath = "/offline.html"
)

var ErrNotHandled = errors.New("request is not handled by the worker")

type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type Config struct {
	Origin              *url.URL
	WorkerURL           string
	CachePrefix         string
	DefaultVersion      string
	OfflinePath         string
	CoreAssets          []string
	PrecacheConcurrency int
}

type Worker struct {
	log         *slog.Logger
	storage     assetcache.Storage
	fetcher     Fetcher
	clients     *Clients
	origin      *url.URL
	version     string
	cacheName   string
	offlinePath string
	coreAssets  []string
	concurrency int

	mu    sync.Mutex
	state State
}

// VersionFromURL reads the version token from the worker script URL's "v"
// query parameter.
func VersionFromURL(workerURL, fallback string) string {
	u, err := url.Parse(workerURL)
	if err != nil {
		return fallback
	}

	if v := strings.TrimSpace(u.Query().Get("v")); v != "" {
		return v
	}

	return fallback
}

func CacheName(prefix, version string) string {
	return prefix + "-" + version
}

func New(cfg Config, storage assetcache.Storage, fetcher Fetcher, clients *Clients, log *slog.Logger) (*Worker, error) {
	if cfg.Origin == nil || cfg.Origin.Host == "" {
		return nil, errors.New("worker origin is required")
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = DefaultCachePrefix
	}
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = DefaultVersion
	}
	if cfg.OfflinePath == "" {
		cfg.OfflinePath = DefaultOfflinePath
	}
	if cfg.PrecacheConcurrency <= 0 {
		cfg.PrecacheConcurrency = 4
	}

	version := VersionFromURL(cfg.WorkerURL, cfg.DefaultVersion)
	w := &Worker{
		log:         log,
		storage:     storage,
		fetcher:     fetcher,
		clients:     clients,
		origin:      cfg.Origin,
		version:     version,
		cacheName:   CacheName(cfg.CachePrefix, version),
		offlinePath: cfg.OfflinePath,
		coreAssets:  cfg.CoreAssets,
		concurrency: cfg.PrecacheConcurrency,
		state:       StateInstalling,
	}

	return w, nil
}

func (w *Worker) Version() string   { return w.version }
func (w *Worker) CacheName() string { return w.cacheName }
func (w *Worker) Clients() *Clients { return w.clients }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()

	w.log.Info("worker state changed",
		slog.String("version", w.version),
		slog.String("state", s.String()))
}

// Install precaches the core assets and the offline document. A failed asset
// does not fail the install.
func (w *Worker) Install(ctx context.Context) error {
	assets := append([]string{w.offlinePath}, w.coreAssets...)
	done, err := w.precache(ctx, assets)
	if err != nil {
		return fmt.Errorf("failed to install worker %s: %w", w.version, err)
	}
	if done.Fail > 0 {
		w.log.Warn("some core assets were not cached",
			slog.Int("fail", done.Fail),
			slog.Int("total", done.Total))
	}

	w.setState(StateInstalled)
	return nil
}

// Activate removes every cache generation that does not belong to this worker
// and claims the registered clients.
func (w *Worker) Activate(ctx context.Context) error {
	keys, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache generations: %w", err)
	}

	for _, k := range keys {
		if k == w.cacheName {
			continue
		}

		if _, err := w.storage.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete cache generation %s: %w", k, err)
		}

		generationsDeleted.Inc()
		w.log.Info("deleted old cache generation", slog.String("cache", k))
	}

	claimed := w.clients.Claim(w.version)
	w.log.Info("claimed clients", slog.Int("clients", claimed))

	w.setState(StateActive)
	return nil
}

// Start runs the whole install/activate cycle.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}

	return w.Activate(ctx)
}

// HandleFetch answers a request the way the page's controlling worker would.
// Cross-origin requests yield ErrNotHandled.
func (w *Worker) HandleFetch(ctx context.Context, req *http.Request) (*assetcache.Response, error) {
	if !w.sameOrigin(req.URL) {
		return nil, ErrNotHandled
	}

	if req.Method != http.MethodGet {
		fetchTotal.WithLabelValues("passthrough", "network").Inc()
		return w.fetcher.Fetch(ctx, req)
	}

	if isNavigation(req) {
		return w.networkFirst(ctx, req)
	}

	return w.cacheFirst(ctx, req)
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request) (*assetcache.Response, error) {
	key := req.URL.RequestURI()

	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		w.store(ctx, key, resp)
		fetchTotal.WithLabelValues("network_first", "network").Inc()
		return resp, nil
	}

	w.log.Debug("navigation fetch failed, using cache",
		slog.String("url", key),
		slog.String("error", err.Error()))

	cache, cerr := w.storage.Open(ctx, w.cacheName)
	if cerr != nil {
		w.log.Error("failed to open cache", slog.String("cache", w.cacheName), slog.String("error", cerr.Error()))
		fetchTotal.WithLabelValues("network_first", "unavailable").Inc()
		return offlineResponse(key), nil
	}

	fallbacks := []struct {
		outcome string
		url     string
		opts    assetcache.MatchOptions
	}{
		{outcome: "cache_exact", url: key},
		{outcome: "cache_ignore_search", url: key, opts: assetcache.MatchOptions{IgnoreSearch: true}},
		{outcome: "offline_document", url: w.offlinePath},
	}
	for _, fb := range fallbacks {
		if hit, merr := cache.Match(ctx, fb.url, fb.opts); merr == nil {
			fetchTotal.WithLabelValues("network_first", fb.outcome).Inc()
			return hit, nil
		}
	}

	fetchTotal.WithLabelValues("network_first", "unavailable").Inc()
	return offlineResponse(key), nil
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request) (*assetcache.Response, error) {
	key := req.URL.RequestURI()

	cache, err := w.storage.Open(ctx, w.cacheName)
	if err == nil {
		if hit, merr := cache.Match(ctx, key, assetcache.MatchOptions{}); merr == nil {
			fetchTotal.WithLabelValues("cache_first", "cache_hit").Inc()
			return hit, nil
		}
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		fetchTotal.WithLabelValues("cache_first", "error").Inc()
		return nil, err
	}

	w.store(ctx, key, resp)
	fetchTotal.WithLabelValues("cache_first", "network").Inc()
	return resp, nil
}

// store writes successful responses through to the active generation. Write
// failures are logged and otherwise ignored.
func (w *Worker) store(ctx context.Context, key string, resp *assetcache.Response) {
	if !resp.OK() {
		return
	}

	cache, err := w.storage.Open(ctx, w.cacheName)
	if err == nil {
		err = cache.Put(ctx, key, resp)
	}
	if err != nil {
		w.log.Warn("failed to cache response",
			slog.String("url", key),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	if !u.IsAbs() && u.Host == "" {
		return true
	}

	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}

	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func offlineResponse(url string) *assetcache.Response {
	return &assetcache.Response{
		URL:      url,
		Status:   http.StatusServiceUnavailable,
		Header:   http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:     []byte("Offline"),
		StoredAt: time.Now().UTC(),
	}
}
