package serviceworker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_HTTPFetcher_Fetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Cookie"))

		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Set-Cookie", "session=1")
		_, _ = io.WriteString(w, "page "+r.URL.RequestURI())
	}))
	defer upstream.Close()

	origin, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/guides/margit.html?tab=2", nil)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Cookie", "session=0")

	resp, err := NewHTTPFetcher(origin, upstream.Client()).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "/guides/margit.html?tab=2", resp.URL)
	assert.Equal(t, "page /guides/margit.html?tab=2", string(resp.Body))
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
}

func Test_HTTPFetcher_ForwardsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	origin, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(`{"ok":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := NewHTTPFetcher(origin, upstream.Client()).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func Test_HTTPFetcher_NonSuccessIsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	origin, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	resp, err := NewHTTPFetcher(origin, nil).Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.OK())
}

func Test_HTTPFetcher_TransportError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	origin, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close()

	_, err = NewHTTPFetcher(origin, nil).Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func Test_HTTPFetcher_KeepsOriginBasePath(t *testing.T) {
	paths := make(chan string, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.EscapedPath() + "?" + r.URL.RawQuery
	}))
	defer upstream.Close()

	origin, err := url.Parse(upstream.URL + "/site/")
	require.NoError(t, err)
	f := NewHTTPFetcher(origin, upstream.Client())

	_, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/guides/margit.html?tab=2", nil))
	require.NoError(t, err)
	assert.Equal(t, "/site/guides/margit.html?tab=2", <-paths)

	_, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/files/a%2Fb.pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, "/site/files/a%2Fb.pdf?", <-paths)
}

func Test_HTTPFetcher_UpstreamURL(t *testing.T) {
	origin, err := url.Parse("https://guides.example.com")
	require.NoError(t, err)
	f := NewHTTPFetcher(origin, nil)

	req := httptest.NewRequest(http.MethodGet, "/a%2Fb?q=1", nil)
	assert.Equal(t, "https://guides.example.com/a%2Fb?q=1", f.upstreamURL(req.URL).String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "https://guides.example.com/", f.upstreamURL(req.URL).String())
}
