package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/storyweave/offline/internal/audiocache"
	"github.com/storyweave/offline/internal/downloadqueue"
	"github.com/storyweave/offline/internal/invalidation"
	"github.com/storyweave/offline/internal/netpolicy"
	"github.com/storyweave/offline/internal/storage"
	"github.com/storyweave/offline/internal/story"
	"github.com/storyweave/offline/internal/storycache"
	"github.com/storyweave/offline/internal/syncworker"
)

// app holds the wired components behind every subcommand.
type app struct {
	cfg appConfig

	store      *storage.FileStore
	utterances *audiocache.UtteranceCache
	words      *audiocache.WordCache
	stories    *storycache.Cache
	queue      *downloadqueue.Queue
	bus        *invalidation.Bus
	monitor    *netpolicy.ProbeMonitor
	policy     *netpolicy.Policy
	client     *story.Client
	worker     *syncworker.Worker
}

// newApp wires all components under cfg.DataDir.
func newApp(cfg appConfig) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "index"))
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	utterances, err := audiocache.NewUtteranceCache(store, filepath.Join(cfg.DataDir, "tts"))
	if err != nil {
		return nil, fmt.Errorf("open utterance cache: %w", err)
	}
	words, err := audiocache.NewWordCache(store, filepath.Join(cfg.DataDir, "tts_words"))
	if err != nil {
		return nil, fmt.Errorf("open word cache: %w", err)
	}

	bus := invalidation.NewBus()
	stories, err := storycache.New(store, filepath.Join(cfg.DataDir, "stories"), bus)
	if err != nil {
		return nil, fmt.Errorf("open story cache: %w", err)
	}

	queue, err := downloadqueue.Open(filepath.Join(cfg.DataDir, "downloads.db"))
	if err != nil {
		return nil, fmt.Errorf("open download queue: %w", err)
	}

	probeAddr, err := probeAddress(cfg.APIBaseURL)
	if err != nil {
		queue.Close()
		return nil, err
	}
	monitor := netpolicy.NewProbeMonitor(probeAddr, cfg.Sync.ProbeInterval)
	policy := netpolicy.New(store, monitor)

	client := story.NewClient(cfg.APIBaseURL, story.StaticToken(cfg.APIToken), nil)

	worker := syncworker.New(queue, client, stories, policy, syncworker.Config{
		Concurrency:  cfg.Sync.Concurrency,
		MaxRetries:   cfg.Sync.MaxRetries,
		RetryBackoff: cfg.Sync.RetryBackoff,
		Interval:     cfg.Sync.Interval,
	}, log.Default())

	return &app{
		cfg:        cfg,
		store:      store,
		utterances: utterances,
		words:      words,
		stories:    stories,
		queue:      queue,
		bus:        bus,
		monitor:    monitor,
		policy:     policy,
		client:     client,
		worker:     worker,
	}, nil
}

// Close releases the queue database.
func (a *app) Close() error {
	return a.queue.Close()
}

// probeAddress derives a host:port connectivity probe target from the API
// base URL.
func probeAddress(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cannot derive probe address from %q", baseURL)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http", "ws":
			port = "80"
		default:
			port = "443"
		}
	}
	return host + ":" + port, nil
}
