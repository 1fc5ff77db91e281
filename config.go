package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type CacheConfig struct {
	Backend       string `yaml:"backend" env:"GUIDESITE_CACHE_BACKEND"`
	Path          string `yaml:"path" env:"GUIDESITE_CACHE_PATH"`
	MemoryEntries int    `yaml:"memory_entries" env:"GUIDESITE_CACHE_MEMORY_ENTRIES"`
}

type RequestClientConfig struct {
	Entries     int `yaml:"entries" env:"GUIDESITE_REQUEST_ENTRIES"`
	FreshForSec int `yaml:"fresh_for_s" env:"GUIDESITE_REQUEST_FRESH_FOR_S"`
}

type Config struct {
	LogFile             string              `yaml:"log" env:"GUIDESITE_LOG"`
	ServerAddr          string              `yaml:"server_addr" env:"GUIDESITE_ADDR"`
	Origin              string              `yaml:"origin" env:"GUIDESITE_ORIGIN"`
	WorkerURL           string              `yaml:"worker_url" env:"GUIDESITE_WORKER_URL"`
	Bundle              string              `yaml:"bundle" env:"GUIDESITE_BUNDLE"`
	DocRoot             string              `yaml:"doc_root" env:"GUIDESITE_DOC_ROOT"`
	MergeEventsMs       int                 `yaml:"write_debounce_ms" env:"GUIDESITE_WRITE_DEBOUNCE_MS"`
	PollIntervalSec     int                 `yaml:"poll_interval_s" env:"GUIDESITE_POLL_INTERVAL_S"`
	OfflinePath         string              `yaml:"offline_path" env:"GUIDESITE_OFFLINE_PATH"`
	CoreAssets          []string            `yaml:"core_assets" env:"GUIDESITE_CORE_ASSETS" envSeparator:","`
	PrecacheConcurrency int                 `yaml:"precache_concurrency" env:"GUIDESITE_PRECACHE_CONCURRENCY"`
	Cache               CacheConfig         `yaml:"cache"`
	RequestClient       RequestClientConfig `yaml:"request_client"`
}

func readConfig(cfgPath string) (*Config, error) {
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(cfgFile)
	err = dec.Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	err = env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogFile == "" {
		c.LogFile = "guidesite.log"
	}
	if c.ServerAddr == "" {
		c.ServerAddr = "localhost:8080"
	}
	if c.MergeEventsMs <= 0 {
		c.MergeEventsMs = 300
	}
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = 60
	}
	if c.PrecacheConcurrency <= 0 {
		c.PrecacheConcurrency = 4
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "bolt"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "guidesite-cache.db"
	}
}

func (c *Config) validate() error {
	var errs []error

	u, err := url.Parse(c.Origin)
	if c.Origin == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("origin must be an absolute http(s) url, got %q", c.Origin))
	}
	if strings.TrimSpace(c.Bundle) == "" {
		errs = append(errs, errors.New("bundle is required"))
	}
	if c.Cache.Backend != "bolt" && c.Cache.Backend != "memory" {
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}

func (c *Config) BundleIsRemote() bool {
	return strings.HasPrefix(c.Bundle, "http://") || strings.HasPrefix(c.Bundle, "https://")
}
