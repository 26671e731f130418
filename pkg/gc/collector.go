// Package gc removes CAS blobs no workspace references any more.
//
// Blobs become unreferenced when the last workspace using them is cleaned
// up or re-prepared without them. Tracking happens in cas.Tracker; the
// collector compares the tracked hashes with what each blob tier holds and
// deletes the difference.
package gc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/cas"
)

// ReferenceSource lists the hashes that must survive collection.
// *cas.Tracker implements it.
type ReferenceSource interface {
	ReferencedHashes(ctx context.Context) ([]string, error)
}

// Tier is one blob store swept by the collector.
type Tier struct {
	Name  string
	Store cas.BlobStore
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether periodic collection runs (default: false).
	// RunNow works regardless.
	Enabled bool

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration

	// BatchSize is how many blobs are deleted per batch (default: 1000).
	// S3 supports up to 1000 objects per DeleteObjects call.
	BatchSize int

	// DryRun logs what would be deleted without deleting anything.
	DryRun bool

	// Metrics observes every run. Optional.
	Metrics Metrics

	// Locker, when set, is held for the whole of every run. Callers share
	// it with whatever stores new blobs so that a run never sees a blob
	// before its reference.
	Locker sync.Locker
}

// Metrics receives the outcome of collection runs.
type Metrics interface {
	ObserveCollection(stats *Stats, err error)
}

// Collector performs garbage collection on CAS tiers.
//
// Collection must not overlap with a preparation that stores new content
// it has not referenced yet; Config.Locker serializes the two.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	refs   ReferenceSource
	tiers  []Tier
	config Config

	runMu     sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCollector creates a collector sweeping tiers in order.
//
// The collector is not started. Call Start() to begin periodic collection.
func NewCollector(refs ReferenceSource, tiers []Tier, config Config) (*Collector, error) {
	if refs == nil {
		return nil, fmt.Errorf("garbage collector needs a reference source")
	}
	for _, t := range tiers {
		if t.Store == nil {
			return nil, fmt.Errorf("garbage collector tier %q has no store", t.Name)
		}
	}

	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		refs:   refs,
		tiers:  tiers,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins background garbage collection. It does nothing when the
// collector is disabled.
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		if !c.config.Enabled {
			logger.Info("Garbage collection disabled")
			return
		}

		logger.Info("Starting garbage collector: interval=%s batch_size=%d dry_run=%v",
			c.config.Interval, c.config.BatchSize, c.config.DryRun)

		c.started.Store(true)
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for an in-progress run to
// finish or ctx to expire. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection and blocks until it completes or ctx is
// cancelled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			logger.Info("Garbage collector worker stopping...")
			return
		}
	}
}

// collect performs a single run:
//  1. Get every referenced hash
//  2. For each tier, list its blobs
//  3. Compute orphaned = existing - referenced
//  4. Batch delete orphaned blobs
func (c *Collector) collect(ctx context.Context) (stats *Stats, err error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.config.Locker != nil {
		c.config.Locker.Lock()
		defer c.config.Locker.Unlock()
	}

	stats = &Stats{StartTime: time.Now()}
	if c.config.Metrics != nil {
		defer func() { c.config.Metrics.ObserveCollection(stats, err) }()
	}

	referenced, err := c.refs.ReferencedHashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced blobs: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	referencedSet := make(map[string]struct{}, len(referenced))
	for _, h := range referenced {
		referencedSet[h] = struct{}{}
	}
	logger.Debug("GC: %d referenced blobs", stats.ReferencedCount)

	for _, tier := range c.tiers {
		if err := c.sweep(ctx, tier, referencedSet, stats); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}
	}

	stats.EndTime = time.Now()
	logger.Info("GC: Completed - %s", stats.Summary())
	return stats, nil
}

// sweep deletes the orphaned blobs of one tier.
func (c *Collector) sweep(ctx context.Context, tier Tier, referenced map[string]struct{}, stats *Stats) error {
	existing, err := tier.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s blobs: %w", tier.Name, err)
	}
	stats.ExistingCount += uint64(len(existing))

	orphaned := make([]string, 0)
	for _, h := range existing {
		if _, ok := referenced[h]; !ok {
			orphaned = append(orphaned, h)
		}
	}
	stats.OrphanedCount += uint64(len(orphaned))

	if len(orphaned) == 0 {
		logger.Debug("GC: no orphaned blobs in %s", tier.Name)
		return nil
	}

	// Sizes are collected before deletion for the freed-bytes figure.
	sizes := make(map[string]int64, len(orphaned))
	for _, h := range orphaned {
		if n, err := tier.Store.Size(ctx, h); err == nil {
			sizes[h] = n
		}
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d blobs from %s:", len(orphaned), tier.Name)
		for i, h := range orphaned {
			if i < 10 {
				logger.Info("  - %s (%s)", h, humanize.IBytes(uint64(sizes[h])))
			}
		}
		if len(orphaned) > 10 {
			logger.Info("  ... and %d more", len(orphaned)-10)
		}
		return nil
	}

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		batch := orphaned[i:end]

		failures := c.deleteBatch(ctx, tier.Store, batch)
		for _, h := range batch {
			if ferr, failed := failures[h]; failed {
				logger.Debug("GC: failed to delete %s from %s: %v", h, tier.Name, ferr)
				stats.FailedCount++
				continue
			}
			stats.DeletedCount++
			stats.FreedBytes += uint64(sizes[h])
		}
	}
	return nil
}

// deleteBatch removes hashes, in one call when the store supports it.
func (c *Collector) deleteBatch(ctx context.Context, store cas.BlobStore, hashes []string) map[string]error {
	if bd, ok := store.(cas.BatchDeleter); ok {
		failures, err := bd.DeleteBatch(ctx, hashes)
		if err == nil {
			return failures
		}
		logger.Warn("GC: batch delete failed: %v", err)
		all := make(map[string]error, len(hashes))
		for _, h := range hashes {
			all[h] = err
		}
		return all
	}

	failures := make(map[string]error)
	for _, h := range hashes {
		if err := store.Delete(ctx, h); err != nil {
			failures[h] = err
		}
	}
	return failures
}

// Stats contains statistics from a garbage collection run. Counts are
// summed over all tiers.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	ReferencedCount uint64
	ExistingCount   uint64
	OrphanedCount   uint64
	DeletedCount    uint64
	FailedCount     uint64
	FreedBytes      uint64
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d freed=%s duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, humanize.IBytes(s.FreedBytes), s.Duration())
}
