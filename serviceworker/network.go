package serviceworker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gamma-omg/guidesite/assetcache"
)

const maxBodyBytes = 32 << 20

type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*assetcache.Response, error)
}

// HTTPFetcher forwards requests to the upstream origin. Non-2xx responses are
// returned as responses, only transport failures are errors.
type HTTPFetcher struct {
	origin *url.URL
	client *http.Client
}

func NewHTTPFetcher(origin *url.URL, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{origin: origin, client: client}
}

var forwardedHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Type",
	"If-None-Match",
	"If-Modified-Since",
	"User-Agent",
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*assetcache.Response, error) {
	target := f.upstreamURL(req.URL)

	var body io.Reader
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = req.Body
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	for _, h := range forwardedHeaders {
		if v := req.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}

	res, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}

	header := res.Header.Clone()
	header.Del("Set-Cookie")

	return &assetcache.Response{
		URL:      req.URL.RequestURI(),
		Status:   res.StatusCode,
		Header:   header,
		Body:     payload,
		StoredAt: time.Now().UTC(),
	}, nil
}

// upstreamURL places the request path below the origin's base path, keeping
// escaped separators such as %2F intact.
func (f *HTTPFetcher) upstreamURL(u *url.URL) *url.URL {
	target := *f.origin
	target.Path = strings.TrimSuffix(f.origin.Path, "/") + "/" + strings.TrimPrefix(u.Path, "/")
	target.RawPath = ""
	if u.RawPath != "" {
		target.RawPath = strings.TrimSuffix(f.origin.EscapedPath(), "/") + "/" + strings.TrimPrefix(u.RawPath, "/")
	}
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	target.RawFragment = ""

	return &target
}
