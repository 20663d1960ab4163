package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/dashflow/internal/config"
)

// Store is the common surface of the memory-only and hybrid caches.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte) bool
	SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
}

var (
	_ Store = (*HybridCache)(nil)
	_ Store = (*MemoryCache)(nil)
)

// Caches bundles the named cache instances the proxy shares. They are
// created once at startup and injected into the handlers; Close stops the
// janitor (the file tier needs no flushing, it is already durable).
type Caches struct {
	// InitSegment holds initialization segments, keyed by init URL.
	InitSegment *HybridCache
	// Manifest holds raw parsed-manifest documents, keyed by manifest URL.
	// Memory-only: live manifests expire in seconds.
	Manifest *MemoryCache
	// Speedtest holds speed test task records, keyed by task ID.
	Speedtest *HybridCache
	// Extractor holds extractor results, keyed by request fingerprint.
	Extractor *HybridCache

	logger  *slog.Logger
	janitor *cron.Cron
}

// New builds the named caches from configuration. Hybrid cache directories
// live under cfg.BaseDir (the system temp directory when unset), one
// directory per cache label.
func New(cfg config.CacheConfig, logger *slog.Logger) (*Caches, error) {
	if logger == nil {
		logger = slog.Default()
	}
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	newHybrid := func(tier config.CacheTierConfig) (*HybridCache, error) {
		return NewHybridCache(HybridOptions{
			Dir:       filepath.Join(baseDir, tier.Label),
			TTL:       tier.TTL,
			MaxMemory: tier.MaxMemory.Int64(),
			Workers:   cfg.Workers,
			Logger:    logger.With(slog.String("cache", tier.Label)),
		})
	}

	initSegment, err := newHybrid(cfg.InitSegment)
	if err != nil {
		return nil, fmt.Errorf("creating init segment cache: %w", err)
	}
	speedtest, err := newHybrid(cfg.Speedtest)
	if err != nil {
		return nil, fmt.Errorf("creating speedtest cache: %w", err)
	}
	extractor, err := newHybrid(cfg.Extractor)
	if err != nil {
		return nil, fmt.Errorf("creating extractor cache: %w", err)
	}

	c := &Caches{
		InitSegment: initSegment,
		Manifest:    NewMemoryCache(cfg.Manifest.MaxMemory.Int64(), cfg.Manifest.TTL),
		Speedtest:   speedtest,
		Extractor:   extractor,
		logger:      logger,
	}

	if cfg.JanitorEnabled {
		if err := c.startJanitor(cfg.JanitorSchedule); err != nil {
			return nil, fmt.Errorf("starting cache janitor: %w", err)
		}
	}

	return c, nil
}

// startJanitor schedules the expired-file sweep with a 6-field cron spec.
func (c *Caches) startJanitor(schedule string) error {
	c.janitor = cron.New(cron.WithSeconds())
	_, err := c.janitor.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed := 0
		for _, h := range c.hybrids() {
			removed += h.SweepExpired(ctx)
		}
		if removed > 0 {
			c.logger.Info("cache janitor removed expired files",
				slog.Int("removed", removed),
			)
		}
	})
	if err != nil {
		return err
	}
	c.janitor.Start()
	return nil
}

func (c *Caches) hybrids() []*HybridCache {
	return []*HybridCache{c.InitSegment, c.Speedtest, c.Extractor}
}

// Close stops the janitor and waits for an in-flight sweep to finish.
func (c *Caches) Close() {
	if c.janitor != nil {
		<-c.janitor.Stop().Done()
	}
}
