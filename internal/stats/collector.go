// Package stats tracks the outcome counters of a tiering pass.
package stats

import (
	"sync/atomic"
	"time"
)

// Collector accumulates pass counters using atomic adds so future callers
// are free to read a snapshot while a pass runs.
type Collector struct {
	filesCrawled  atomic.Int64
	filesDemoted  atomic.Int64
	filesPromoted atomic.Int64
	bytesMoved    atomic.Int64
	failures      atomic.Int64
	pinnedSkips   atomic.Int64
	startTime     time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddFilesCrawled(n int64)  { c.filesCrawled.Add(n) }
func (c *Collector) AddFilesDemoted(n int64)  { c.filesDemoted.Add(n) }
func (c *Collector) AddFilesPromoted(n int64) { c.filesPromoted.Add(n) }
func (c *Collector) AddBytesMoved(n int64)    { c.bytesMoved.Add(n) }
func (c *Collector) AddFailures(n int64)      { c.failures.Add(n) }
func (c *Collector) AddPinnedSkips(n int64)   { c.pinnedSkips.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCrawled  int64
	FilesDemoted  int64
	FilesPromoted int64
	BytesMoved    int64
	Failures      int64
	PinnedSkips   int64
	Elapsed       time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	var elapsed time.Duration
	if !c.startTime.IsZero() {
		elapsed = time.Since(c.startTime)
	}
	return Snapshot{
		FilesCrawled:  c.filesCrawled.Load(),
		FilesDemoted:  c.filesDemoted.Load(),
		FilesPromoted: c.filesPromoted.Load(),
		BytesMoved:    c.bytesMoved.Load(),
		Failures:      c.failures.Load(),
		PinnedSkips:   c.pinnedSkips.Load(),
		Elapsed:       elapsed,
	}
}
