package catalog

import (
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/coldshift/coldshift/internal/filter"
	"github.com/coldshift/coldshift/internal/probe"
)

// Crawler enumerates a tier's directory tree and produces catalog entries.
// Symlinks are never followed or catalogued; they are migration artifacts,
// not data.
type Crawler struct {
	Filter          *filter.Chain
	DefaultPriority uint64

	// Priority and Pin supply the externally assigned ranking value and
	// pin target for a path. They default to the xattr probes.
	Priority func(path string, def uint64) uint64
	Pin      func(path string) string

	Logger *zap.Logger
}

// Crawl walks root and returns a fresh catalog for it, unsorted. A failure
// against root itself is fatal; failures on individual entries are logged
// and skipped.
func (c *Crawler) Crawl(root string) (*Catalog, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	chain := c.Filter
	if chain == nil {
		chain = filter.NewChain()
	}
	priority := c.Priority
	if priority == nil {
		priority = probe.Priority
	}
	pin := c.Pin
	if pin == nil {
		pin = probe.PinTarget
	}

	cat := &Catalog{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return &probe.Error{Op: "crawl", Path: root, Err: err}
			}
			logger.Warn("crawl: skipping entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			// Descend into directories; ignore symlinks and specials.
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			logger.Warn("crawl: rel path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !chain.Match(relPath) {
			return nil
		}

		md, err := probe.Stat(path)
		if err != nil {
			// Raced with an external writer; the file is gone or unreadable.
			logger.Warn("crawl: stat failed", zap.String("path", path), zap.Error(err))
			return nil
		}

		cat.Append(&File{
			Path:     path,
			Size:     md.Size,
			Priority: priority(path, c.DefaultPriority),
			ATime:    md.ATime,
			MTime:    md.MTime,
			UID:      md.UID,
			GID:      md.GID,
			Mode:     md.Mode,
			PinnedTo: pin(path),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return cat, nil
}
