package serviceworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gamma-omg/guidesite/assetcache"
	"golang.org/x/sync/errgroup"
)

const (
	TypePrecache     = "PRECACHE"
	TypePrecacheDone = "PRECACHE_DONE"

	MaxPrecacheBatch = 100
)

type PrecacheRequest struct {
	RequestID int64
	URLs      []string
}

type PrecacheDone struct {
	Type      string `json:"type"`
	RequestID int64  `json:"requestId"`
	OK        int    `json:"ok"`
	Fail      int    `json:"fail"`
	Total     int    `json:"total"`
}

// DecodePrecache parses a raw PRECACHE message. Anything else, including
// unparseable input, is reported as not ok.
func DecodePrecache(raw []byte) (PrecacheRequest, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return PrecacheRequest{}, false
	}
	if t, _ := m["type"].(string); t != TypePrecache {
		return PrecacheRequest{}, false
	}

	req := PrecacheRequest{}
	if id, ok := m["requestId"].(float64); ok && !math.IsNaN(id) && !math.IsInf(id, 0) {
		req.RequestID = int64(id)
	}

	items, _ := m["urls"].([]any)
	for _, it := range items {
		if s, ok := it.(string); ok {
			req.URLs = append(req.URLs, s)
		}
	}

	return req, true
}

// NormalizeURL resolves a candidate against the origin and returns its request
// URI. Protocol-relative, path-traversing, non-http and cross-origin values
// are rejected.
func NormalizeURL(origin *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, `\\`) {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if hasTraversal(u.Path) || hasTraversal(u.EscapedPath()) || hasTraversal(raw) {
		return "", false
	}

	if u.Scheme != "" || u.Host != "" {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		if !strings.EqualFold(u.Scheme, origin.Scheme) || !strings.EqualFold(u.Host, origin.Host) {
			return "", false
		}
	}

	resolved := origin.ResolveReference(&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery})
	if !strings.HasPrefix(resolved.Path, "/") {
		resolved.Path = "/" + resolved.Path
	}

	return resolved.RequestURI(), true
}

func hasTraversal(p string) bool {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || strings.EqualFold(seg, "%2e%2e") {
			return true
		}
	}

	return false
}

// NormalizeURLs filters and deduplicates a batch, keeping the first
// occurrence order.
func NormalizeURLs(origin *url.URL, raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	res := make([]string, 0, len(raw))

	for _, r := range raw {
		u, ok := NormalizeURL(origin, r)
		if !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}

		seen[u] = struct{}{}
		res = append(res, u)
		if len(res) == MaxPrecacheBatch {
			break
		}
	}

	return res
}

func (w *Worker) Precache(ctx context.Context, req PrecacheRequest) PrecacheDone {
	done, err := w.precache(ctx, req.URLs)
	if err != nil {
		w.log.Error("precache failed", slog.String("error", err.Error()))
	}

	done.RequestID = req.RequestID
	return done
}

func (w *Worker) precache(ctx context.Context, raw []string) (PrecacheDone, error) {
	urls := NormalizeURLs(w.origin, raw)
	done := PrecacheDone{Type: TypePrecacheDone, Total: len(urls)}

	cache, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		done.Fail = len(urls)
		return done, fmt.Errorf("failed to open cache %s: %w", w.cacheName, err)
	}

	var ok, fail atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, u := range urls {
		g.Go(func() error {
			if w.precacheOne(gctx, cache, u) {
				ok.Add(1)
				precacheTotal.WithLabelValues("ok").Inc()
			} else {
				fail.Add(1)
				precacheTotal.WithLabelValues("fail").Inc()
			}

			return nil
		})
	}
	_ = g.Wait()

	done.OK = int(ok.Load())
	done.Fail = int(fail.Load())
	return done, nil
}

func (w *Worker) precacheOne(ctx context.Context, cache assetcache.Cache, u string) bool {
	if _, err := cache.Match(ctx, u, assetcache.MatchOptions{}); err == nil {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.log.Debug("precache fetch failed", slog.String("url", u), slog.String("error", err.Error()))
		return false
	}
	if !resp.OK() {
		return false
	}

	if err := cache.Put(ctx, u, resp); err != nil {
		w.log.Warn("failed to store precached response", slog.String("url", u), slog.String("error", err.Error()))
		return false
	}

	return true
}

// HandleMessage processes a raw client message. The PRECACHE_DONE reply is
// posted back to the client and also returned. Unknown messages return nil.
func (w *Worker) HandleMessage(ctx context.Context, clientID string, raw []byte) *PrecacheDone {
	req, ok := DecodePrecache(raw)
	if !ok {
		return nil
	}

	done := w.Precache(ctx, req)
	if clientID != "" {
		w.clients.Post(clientID, done)
	}

	return &done
}
