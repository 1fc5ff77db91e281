package main

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gamma-omg/guidesite/search"
)

type Searcher interface {
	Init(ctx context.Context, version string, pool search.Pool) (search.ReadyMessage, error)
}

type FileReader interface {
	CanRead(path string) bool
	ReadText(path string) (string, error)
}

type Flattener interface {
	Flatten(entry BundleEntry) string
}

type BundleSource interface {
	Load(ctx context.Context) ([]byte, error)
}

type fileSource struct {
	path string
}

func (s *fileSource) Load(ctx context.Context) ([]byte, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", s.path, err)
	}

	return buf, nil
}

type requestGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type urlSource struct {
	url    string
	client requestGetter
}

func (s *urlSource) Load(ctx context.Context) ([]byte, error) {
	return s.client.Get(ctx, s.url)
}

// BundleRegistry keeps the search worker's pool in step with the data bundle.
type BundleRegistry struct {
	log              *slog.Logger
	source           BundleSource
	root             string
	searcher         Searcher
	flattener        Flattener
	readers          []FileReader
	mergeEventsDelay time.Duration
	pollInterval     time.Duration

	mu      sync.Mutex
	synced  bool
	crc     uint32
	version string
}

func (br *BundleRegistry) RegisterReader(readers ...FileReader) {
	br.readers = append(br.readers, readers...)
}

func (br *BundleRegistry) Version() string {
	br.mu.Lock()
	defer br.mu.Unlock()

	return br.version
}

// Sync loads the bundle and re-initializes the searcher when its content
// changed since the last successful sync.
func (br *BundleRegistry) Sync(ctx context.Context) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	raw, err := br.source.Load(ctx)
	if err != nil {
		return err
	}

	bundle, err := parseBundle(raw)
	if err != nil {
		return err
	}

	pool := search.Pool{
		Games:  br.buildEntries(bundle.Games),
		Guides: br.buildEntries(bundle.Guides),
		Topics: br.buildEntries(bundle.Topics),
	}

	crc := poolChecksum(pool)
	version := bundle.Version
	if version == "" {
		version = fmt.Sprintf("%08x", crc)
	}

	if br.synced && crc == br.crc && version == br.version {
		return nil
	}

	ready, err := br.searcher.Init(ctx, version, pool)
	if err != nil {
		return fmt.Errorf("failed to initialize search pool: %w", err)
	}

	br.synced = true
	br.crc = crc
	br.version = ready.Version
	br.log.Info("bundle synced",
		slog.String("version", ready.Version),
		slog.Int("games", len(pool.Games)),
		slog.Int("guides", len(pool.Guides)),
		slog.Int("topics", len(pool.Topics)))

	return nil
}

func (br *BundleRegistry) buildEntries(entries []BundleEntry) []search.Entry {
	res := make([]search.Entry, 0, len(entries))
	for _, e := range entries {
		blob := br.flattener.Flatten(e)
		if page := e.Page(); page != "" {
			text, err := br.readPage(page)
			if err != nil {
				br.log.Warn("failed to read page", slog.String("page", page), slog.String("error", err.Error()))
			} else if text != "" {
				blob = strings.Join(strings.Fields(blob+" "+text), " ")
			}
		}

		res = append(res, search.Entry{ID: e.ID(), Blob: blob})
	}

	return res
}

func (br *BundleRegistry) readPage(page string) (string, error) {
	if br.root == "" {
		return "", errors.New("doc root is not configured")
	}

	path := filepath.Join(br.root, filepath.Clean("/"+page))
	reader, err := br.findReader(path)
	if err != nil {
		return "", err
	}

	return reader.ReadText(path)
}

func (br *BundleRegistry) findReader(file string) (FileReader, error) {
	for _, r := range br.readers {
		if r.CanRead(file) {
			return r, nil
		}
	}

	return nil, fmt.Errorf("unable to find reader for file type: %s", filepath.Ext(file))
}

func poolChecksum(pool search.Pool) uint32 {
	h := crc32.NewIEEE()
	for _, part := range [][]search.Entry{pool.Games, pool.Guides, pool.Topics} {
		for _, e := range part {
			h.Write([]byte(e.ID))
			h.Write([]byte{0})
			h.Write([]byte(e.Blob))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}

	return h.Sum32()
}

// Watch re-syncs in the background whenever the bundle may have changed.
// Local bundles are watched with fsnotify, remote ones are polled.
func (br *BundleRegistry) Watch(ctx context.Context) error {
	fs, ok := br.source.(*fileSource)
	if !ok {
		go br.poll(ctx)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(fs.path), err)
	}
	if br.root != "" {
		if err := addTree(watcher, br.root); err != nil {
			watcher.Close()
			return err
		}
	}

	go br.watchLoop(ctx, watcher)
	return nil
}

func (br *BundleRegistry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	timer := time.NewTimer(br.mergeEventsDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := addTree(watcher, ev.Name); err != nil {
						br.log.Warn("failed to watch new directory", slog.String("dir", ev.Name), slog.String("error", err.Error()))
					}
				}
			}

			timer.Reset(br.mergeEventsDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			br.log.Error("watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			if err := br.Sync(ctx); err != nil {
				br.log.Error("failed to sync bundle", slog.String("error", err.Error()))
			}
		}
	}
}

// addTree watches root and every directory below it. fsnotify is not
// recursive.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(filepath.Clean(root), func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}

		return nil
	})
}

func (br *BundleRegistry) poll(ctx context.Context) {
	interval := br.pollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := br.Sync(ctx); err != nil {
				br.log.Error("failed to sync bundle", slog.String("error", err.Error()))
			}
		}
	}
}
