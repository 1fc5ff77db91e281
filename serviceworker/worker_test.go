package serviceworker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gamma-omg/guidesite/assetcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("network unavailable")

type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	pages   map[string]string
	calls   []string
}

func newFakeNetwork(pages map[string]string) *fakeNetwork {
	return &fakeNetwork{pages: pages}
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNetwork) getCalls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.calls...)
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (*assetcache.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := req.URL.RequestURI()
	n.calls = append(n.calls, key)
	if n.offline {
		return nil, errOffline
	}

	body, ok := n.pages[key]
	if !ok {
		return &assetcache.Response{URL: key, Status: http.StatusNotFound, Body: []byte("missing")}, nil
	}

	return &assetcache.Response{
		URL:    key,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(body),
	}, nil
}

var testOrigin = &url.URL{Scheme: "https", Host: "guides.example.com"}

func newTestWorker(t *testing.T, storage assetcache.Storage, net Fetcher, workerURL string) *Worker {
	t.Helper()

	w, err := New(Config{
		Origin:     testOrigin,
		WorkerURL:  workerURL,
		CoreAssets: []string{"/index.html", "/app.css"},
	}, storage, net, NewClients(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return w
}

func navigation(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.URL.Host = ""
	req.URL.Scheme = ""
	return req
}

func asset(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.URL.Host = ""
	req.URL.Scheme = ""
	return req
}

func Test_VersionFromURL(t *testing.T) {
	assert.Equal(t, "2024-10", VersionFromURL("/sw.js?v=2024-10", "v1"))
	assert.Equal(t, "v1", VersionFromURL("/sw.js", "v1"))
	assert.Equal(t, "v1", VersionFromURL("/sw.js?v=%20", "v1"))
	assert.Equal(t, "v1", VersionFromURL("%zz", "v1"))
	assert.Equal(t, "guidesite-abc", CacheName("guidesite", "abc"))
}

func Test_New_RequiresOrigin(t *testing.T) {
	_, err := New(Config{}, assetcache.NewMemoryStorage(4), newFakeNetwork(nil), NewClients(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func Test_Worker_Lifecycle(t *testing.T) {
	storage := assetcache.NewMemoryStorage(32)
	net := newFakeNetwork(map[string]string{
		"/offline.html": "offline",
		"/index.html":   "home",
		"/app.css":      "body{}",
	})
	ctx := context.Background()

	for _, old := range []string{"guidesite-old", "unrelated"} {
		_, err := storage.Open(ctx, old)
		require.NoError(t, err)
	}

	w := newTestWorker(t, storage, net, "/sw.js?v=42")
	page := w.Clients().Register("tab-1")
	assert.Equal(t, StateInstalling, w.State())

	require.NoError(t, w.Install(ctx))
	assert.Equal(t, StateInstalled, w.State())
	assert.Equal(t, "", page.Controller())

	require.NoError(t, w.Activate(ctx))
	assert.Equal(t, StateActive, w.State())
	assert.Equal(t, "42", page.Controller())

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guidesite-42"}, keys)

	cache, err := storage.Open(ctx, "guidesite-42")
	require.NoError(t, err)
	for _, u := range []string{"/offline.html", "/index.html", "/app.css"} {
		_, err := cache.Match(ctx, u, assetcache.MatchOptions{})
		assert.NoError(t, err, u)
	}
}

func Test_Worker_ActivateNewVersionDropsOldGeneration(t *testing.T) {
	storage := assetcache.NewMemoryStorage(32)
	net := newFakeNetwork(map[string]string{"/offline.html": "offline", "/index.html": "home"})
	ctx := context.Background()

	first := newTestWorker(t, storage, net, "/sw.js?v=1")
	require.NoError(t, first.Start(ctx))

	second := newTestWorker(t, storage, net, "/sw.js?v=2")
	require.NoError(t, second.Start(ctx))

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guidesite-2"}, keys)
}

func Test_Worker_InstallToleratesFailures(t *testing.T) {
	net := newFakeNetwork(nil)
	net.setOffline(true)

	w := newTestWorker(t, assetcache.NewMemoryStorage(8), net, "")
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, "guidesite-v1", w.CacheName())
	assert.Equal(t, StateActive, w.State())
}

func Test_Worker_NavigationNetworkFirst(t *testing.T) {
	storage := assetcache.NewMemoryStorage(32)
	net := newFakeNetwork(map[string]string{"/offline.html": "offline", "/guides/boss.html": "v1"})
	ctx := context.Background()

	w := newTestWorker(t, storage, net, "/sw.js?v=1")
	require.NoError(t, w.Start(ctx))

	resp, err := w.HandleFetch(ctx, navigation("/guides/boss.html"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(resp.Body))

	net.mu.Lock()
	net.pages["/guides/boss.html"] = "v2"
	net.mu.Unlock()

	resp, err = w.HandleFetch(ctx, navigation("/guides/boss.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(resp.Body), "navigation must prefer the network")

	net.setOffline(true)
	resp, err = w.HandleFetch(ctx, navigation("/guides/boss.html"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "v2", string(resp.Body))
}

func Test_Worker_NavigationFallbacks(t *testing.T) {
	storage := assetcache.NewMemoryStorage(32)
	net := newFakeNetwork(map[string]string{
		"/offline.html":         "offline",
		"/guides/boss.html?p=1": "page one",
	})
	ctx := context.Background()

	w := newTestWorker(t, storage, net, "/sw.js?v=1")
	require.NoError(t, w.Start(ctx))
	_, err := w.HandleFetch(ctx, navigation("/guides/boss.html?p=1"))
	require.NoError(t, err)

	net.setOffline(true)

	resp, err := w.HandleFetch(ctx, navigation("/guides/boss.html?p=2"))
	require.NoError(t, err)
	assert.Equal(t, "page one", string(resp.Body))

	resp, err = w.HandleFetch(ctx, navigation("/never/seen.html"))
	require.NoError(t, err)
	assert.Equal(t, "offline", string(resp.Body))
}

func Test_Worker_NavigationWithoutOfflineDocument(t *testing.T) {
	net := newFakeNetwork(nil)
	net.setOffline(true)
	ctx := context.Background()

	w := newTestWorker(t, assetcache.NewMemoryStorage(8), net, "")
	require.NoError(t, w.Start(ctx))

	resp, err := w.HandleFetch(ctx, navigation("/index.html"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func Test_Worker_AssetCacheFirst(t *testing.T) {
	storage := assetcache.NewMemoryStorage(32)
	net := newFakeNetwork(map[string]string{"/img/map.png": "png"})
	ctx := context.Background()

	w := newTestWorker(t, storage, net, "/sw.js?v=1")

	resp, err := w.HandleFetch(ctx, asset("/img/map.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(resp.Body))

	net.mu.Lock()
	net.pages["/img/map.png"] = "new png"
	net.mu.Unlock()

	resp, err = w.HandleFetch(ctx, asset("/img/map.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(resp.Body), "assets must be served from cache")

	assert.Equal(t, []string{"/img/map.png"}, net.getCalls())
}

func Test_Worker_AssetFailurePropagates(t *testing.T) {
	net := newFakeNetwork(nil)
	net.setOffline(true)

	w := newTestWorker(t, assetcache.NewMemoryStorage(8), net, "")
	_, err := w.HandleFetch(context.Background(), asset("/app.js"))
	assert.ErrorIs(t, err, errOffline)
}

func Test_Worker_DoesNotCacheErrors(t *testing.T) {
	storage := assetcache.NewMemoryStorage(8)
	net := newFakeNetwork(map[string]string{})
	ctx := context.Background()

	w := newTestWorker(t, storage, net, "")
	resp, err := w.HandleFetch(ctx, asset("/missing.js"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	cache, err := storage.Open(ctx, w.CacheName())
	require.NoError(t, err)
	_, err = cache.Match(ctx, "/missing.js", assetcache.MatchOptions{})
	assert.ErrorIs(t, err, assetcache.ErrNotFound)
}

func Test_Worker_CrossOriginNotHandled(t *testing.T) {
	w := newTestWorker(t, assetcache.NewMemoryStorage(8), newFakeNetwork(nil), "")

	req := httptest.NewRequest(http.MethodGet, "https://cdn.example.net/lib.js", nil)
	_, err := w.HandleFetch(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotHandled)

	req = httptest.NewRequest(http.MethodGet, "https://guides.example.com/lib.js", nil)
	_, err = w.HandleFetch(context.Background(), req)
	assert.NoError(t, err)
}

func Test_Worker_NonGetPassesThrough(t *testing.T) {
	storage := assetcache.NewMemoryStorage(8)
	net := newFakeNetwork(map[string]string{"/api/vote": "ok"})
	ctx := context.Background()

	w := newTestWorker(t, storage, net, "")
	req := httptest.NewRequest(http.MethodPost, "/api/vote", nil)
	req.URL.Host = ""
	req.URL.Scheme = ""

	_, err := w.HandleFetch(ctx, req)
	require.NoError(t, err)
	_, err = w.HandleFetch(ctx, req)
	require.NoError(t, err)

	assert.Len(t, net.getCalls(), 2)
}

func Test_isNavigation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, isNavigation(req))

	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.True(t, isNavigation(req))

	req.Header.Set("Sec-Fetch-Mode", "cors")
	assert.False(t, isNavigation(req))
}
