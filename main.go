package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamma-omg/guidesite/assetcache"
	"github.com/gamma-omg/guidesite/readers"
	"github.com/gamma-omg/guidesite/requestclient"
	"github.com/gamma-omg/guidesite/search"
	"github.com/gamma-omg/guidesite/serviceworker"
	"github.com/mark3labs/mcp-go/server"
)

func openStorage(cfg *Config) (assetcache.Storage, error) {
	if cfg.Cache.Backend == "memory" {
		return assetcache.NewMemoryStorage(cfg.Cache.MemoryEntries), nil
	}

	store, err := assetcache.OpenBolt(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset cache: %w", err)
	}

	return store, nil
}

func resetStorage(ctx context.Context, storage assetcache.Storage) error {
	keys, err := storage.Keys(ctx)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if _, err := storage.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete cache generation %s: %w", k, err)
		}
	}

	return nil
}

func newBundleSource(cfg *Config, logger *slog.Logger) (BundleSource, error) {
	if !cfg.BundleIsRemote() {
		return &fileSource{path: cfg.Bundle}, nil
	}

	client, err := requestclient.New(&http.Client{Timeout: 30 * time.Second}, requestclient.Options{
		Entries:  cfg.RequestClient.Entries,
		FreshFor: time.Duration(cfg.RequestClient.FreshForSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &urlSource{url: cfg.Bundle, client: client}, nil
}

func main() {
	reset := flag.Bool("reset", false, "Drop every cached asset generation before starting")
	cfgPath := flag.String("config", "cfg/config.yaml", "Configuration file for the guide site")
	flag.Parse()

	cfg, err := readConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %s", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()

	if *reset {
		if err := resetStorage(ctx, storage); err != nil {
			log.Fatal(err)
		}
	}

	origin := cfg.OriginURL()
	sw, err := serviceworker.New(serviceworker.Config{
		Origin:              origin,
		WorkerURL:           cfg.WorkerURL,
		OfflinePath:         cfg.OfflinePath,
		CoreAssets:          cfg.CoreAssets,
		PrecacheConcurrency: cfg.PrecacheConcurrency,
	}, storage, serviceworker.NewHTTPFetcher(origin, &http.Client{}), serviceworker.NewClients(), logger)
	if err != nil {
		log.Fatal(err)
	}

	if err := sw.Start(ctx); err != nil {
		log.Fatal(err)
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sw.Clients().Prune(); n > 0 {
					logger.Info("forgot idle clients", slog.Int("clients", n))
				}
			}
		}
	}()

	searcher := search.NewWorker(logger)
	go func() {
		if err := searcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("search worker stopped", slog.String("error", err.Error()))
		}
	}()

	source, err := newBundleSource(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	reg := &BundleRegistry{
		log:              logger,
		source:           source,
		root:             cfg.DocRoot,
		searcher:         searcher,
		flattener:        NewDefaultFlattener(),
		mergeEventsDelay: time.Duration(cfg.MergeEventsMs) * time.Millisecond,
		pollInterval:     time.Duration(cfg.PollIntervalSec) * time.Second,
	}
	reg.RegisterReader(&readers.HtmlFileReader{}, &readers.TxtFileReader{}, &readers.UniversalFileReader{})

	go func() {
		if err := reg.Sync(ctx); err != nil {
			logger.Error("initial bundle sync failed", slog.String("error", err.Error()))
		}

		if err := reg.Watch(ctx); err != nil {
			log.Fatal(err)
		}
	}()

	mcpSrv := NewGuideServer(searcher, sw)
	sse := server.NewSSEServer(mcpSrv, server.WithBaseURL(fmt.Sprintf("http://%s", cfg.ServerAddr)))

	e := NewHTTPServer(logger, searcher, sw, sse)
	go func() {
		if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}
}
