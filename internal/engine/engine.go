// Package engine implements the tiering pass: crawl every tier, rank its
// catalog, relieve downward watermark pressure top to bottom, then reclaim
// upward headroom bottom to top. One pass is single-threaded and runs to
// completion; each migration resolves fully before the next candidate is
// considered.
package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/coldshift/coldshift/internal/catalog"
	"github.com/coldshift/coldshift/internal/filter"
	"github.com/coldshift/coldshift/internal/probe"
	"github.com/coldshift/coldshift/internal/stats"
	"github.com/coldshift/coldshift/internal/tier"
	"github.com/coldshift/coldshift/internal/verify"
)

// UsageFunc reports the usage percent of the filesystem holding dir, with
// addBytes hypothetically added. Injectable for tests.
type UsageFunc func(dir string, addBytes int64) (int, error)

// VerifyFunc compares source and destination content after a copy.
type VerifyFunc func(src, dst string) error

// Config holds a pass's dependencies. Topology is required; everything
// else has working defaults.
type Config struct {
	Topology        *tier.Topology
	Filter          *filter.Chain
	DefaultPriority uint64

	// Priority and Pin supply each file's externally assigned ranking
	// value and pin target. They default to the xattr probes.
	Priority func(path string, def uint64) uint64
	Pin      func(path string) string

	// DryRun plans migrations without touching the filesystem. Planned
	// moves are reflected in the catalogs and in predicted usage so the
	// plan stays self-consistent.
	DryRun bool

	Usage  UsageFunc
	Verify VerifyFunc
	Logger *zap.Logger
	Stats  *stats.Collector

	// Now is the clock for the age-based expiry policy.
	Now func() time.Time
}

// Engine executes tiering passes over a fixed topology.
type Engine struct {
	cfg Config

	// pending accumulates planned byte deltas per tier dir during a dry
	// run; real runs leave it at zero because moves actually happen.
	pending map[string]int64
}

// New creates an engine, filling in defaults for unset dependencies.
func New(cfg Config) *Engine {
	if cfg.Usage == nil {
		cfg.Usage = probe.FilesystemUsage
	}
	if cfg.Verify == nil {
		cfg.Verify = func(src, dst string) error {
			return verify.Compare(src, dst, verify.HashXX)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.NewChain()
	}
	return &Engine{
		cfg:     cfg,
		pending: make(map[string]int64),
	}
}

// Run performs one full tiering pass. Topology and crawl-root failures are
// fatal and abort before any migration; per-file failures are contained to
// the file.
func (e *Engine) Run() error {
	if e.cfg.Topology == nil {
		return &tier.TopologyError{Reason: "no topology"}
	}

	e.cfg.Logger.Info("tiering pass started", zap.Int("tiers", e.cfg.Topology.Len()))

	if err := e.crawlAll(); err != nil {
		return err
	}

	e.tierDown()
	e.tierUp()

	snap := e.cfg.Stats.Snapshot()
	e.cfg.Logger.Info("tiering pass complete",
		zap.Int64("crawled", snap.FilesCrawled),
		zap.Int64("demoted", snap.FilesDemoted),
		zap.Int64("promoted", snap.FilesPromoted),
		zap.Int64("bytes_moved", snap.BytesMoved),
		zap.Int64("failures", snap.Failures),
		zap.Int64("pinned_skips", snap.PinnedSkips),
	)
	return nil
}

// Scan rebuilds and ranks every tier's catalog without migrating
// anything. It backs the status dump.
func (e *Engine) Scan() error {
	if e.cfg.Topology == nil {
		return &tier.TopologyError{Reason: "no topology"}
	}
	return e.crawlAll()
}

// crawlAll rebuilds and ranks every tier's catalog.
func (e *Engine) crawlAll() error {
	crawler := &catalog.Crawler{
		Filter:          e.cfg.Filter,
		DefaultPriority: e.cfg.DefaultPriority,
		Priority:        e.cfg.Priority,
		Pin:             e.cfg.Pin,
		Logger:          e.cfg.Logger,
	}
	for i := 0; i < e.cfg.Topology.Len(); i++ {
		t := e.cfg.Topology.Tier(i)
		cat, err := crawler.Crawl(t.Dir)
		if err != nil {
			return err
		}
		cat.Sort()
		t.Catalog = cat
		e.cfg.Stats.AddFilesCrawled(int64(cat.Len()))
		e.cfg.Logger.Debug("crawled tier",
			zap.String("tier", t.ID), zap.Int("files", cat.Len()))
	}
	return nil
}

// tierDown walks the chain top to bottom, skipping the bottommost tier,
// evicting tail-of-catalog files while usage sits at or above the max
// watermark, then applying the age-based expiry policy.
func (e *Engine) tierDown() {
	for i := 0; i < e.cfg.Topology.Len()-1; i++ {
		t := e.cfg.Topology.Tier(i)
		lower := e.cfg.Topology.Lower(i)
		e.relievePressure(t, lower)
		e.demoteExpired(t, lower)
	}
}

// tierUp walks the chain bottom to top, skipping the topmost tier,
// promoting head-of-catalog files while the higher tier has headroom to
// take them.
func (e *Engine) tierUp() {
	for i := e.cfg.Topology.Len() - 1; i >= 1; i-- {
		t := e.cfg.Topology.Tier(i)
		higher := e.cfg.Topology.Higher(i)
		e.reclaimHeadroom(t, higher)
	}
}

func (e *Engine) relievePressure(t, lower *tier.Tier) {
	for !t.Catalog.Empty() {
		usage, err := e.usage(t.Dir, 0)
		if err != nil {
			// Usage unknown: stop deciding for this tier, don't guess.
			e.cfg.Logger.Warn("usage unknown, halting demotion for tier",
				zap.String("tier", t.ID), zap.Error(err))
			return
		}
		if usage < t.MaxWatermark {
			return
		}

		f := t.Catalog.Tail()
		if f.PinnedTo != "" && f.PinnedTo == t.Dir {
			t.Catalog.PopTail()
			e.cfg.Stats.AddPinnedSkips(1)
			e.cfg.Logger.Debug("skipping pinned file", zap.String("path", f.Path))
			continue
		}

		if err := e.migrate(f, t, lower, directionDown); err != nil {
			e.cfg.Logger.Error("demotion failed",
				zap.String("path", f.Path), zap.Error(err))
			e.cfg.Stats.AddFailures(1)
			t.Catalog.PopTail()
			continue
		}

		t.Catalog.PopTail()
		lower.Catalog.Insert(f)
		e.cfg.Stats.AddFilesDemoted(1)
		e.cfg.Stats.AddBytesMoved(f.Size)
	}
}

// demoteExpired applies the per-tier age policy: files not modified within
// t.Expires move down regardless of watermark pressure.
func (e *Engine) demoteExpired(t, lower *tier.Tier) {
	if t.Expires <= 0 {
		return
	}
	cutoff := e.cfg.Now().Add(-t.Expires)

	for _, f := range t.Catalog.Files() {
		if f.MTime.After(cutoff) {
			continue
		}
		if f.PinnedTo != "" && f.PinnedTo == t.Dir {
			e.cfg.Stats.AddPinnedSkips(1)
			continue
		}

		if err := e.migrate(f, t, lower, directionDown); err != nil {
			e.cfg.Logger.Error("expiry demotion failed",
				zap.String("path", f.Path), zap.Error(err))
			e.cfg.Stats.AddFailures(1)
			t.Catalog.Remove(f)
			continue
		}

		t.Catalog.Remove(f)
		lower.Catalog.Insert(f)
		e.cfg.Stats.AddFilesDemoted(1)
		e.cfg.Stats.AddBytesMoved(f.Size)
	}
}

func (e *Engine) reclaimHeadroom(t, higher *tier.Tier) {
	for !t.Catalog.Empty() {
		f := t.Catalog.Head()

		// Would the higher tier still be under its min watermark with
		// this file added?
		usage, err := e.usage(higher.Dir, f.Size)
		if err != nil {
			e.cfg.Logger.Warn("usage unknown, halting promotion into tier",
				zap.String("tier", higher.ID), zap.Error(err))
			return
		}
		if usage >= higher.MinWatermark {
			return
		}

		if f.PinnedTo != "" && f.PinnedTo == t.Dir {
			t.Catalog.PopHead()
			e.cfg.Stats.AddPinnedSkips(1)
			e.cfg.Logger.Debug("skipping pinned file", zap.String("path", f.Path))
			continue
		}

		if err := e.migrate(f, t, higher, directionUp); err != nil {
			e.cfg.Logger.Error("promotion failed",
				zap.String("path", f.Path), zap.Error(err))
			e.cfg.Stats.AddFailures(1)
			t.Catalog.PopHead()
			continue
		}

		t.Catalog.PopHead()
		higher.Catalog.Insert(f)
		e.cfg.Stats.AddFilesPromoted(1)
		e.cfg.Stats.AddBytesMoved(f.Size)
	}
}

// usage applies any dry-run pending deltas on top of the configured probe.
func (e *Engine) usage(dir string, addBytes int64) (int, error) {
	return e.cfg.Usage(dir, e.pending[dir]+addBytes)
}
