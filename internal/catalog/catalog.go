// Package catalog models a tier's ranked file list: one entry per regular
// file, ordered by migration priority. Catalogs are rebuilt from the live
// filesystem on every tiering pass; entries are per-run projections, not
// persisted objects.
package catalog

import (
	"os"
	"sort"
	"time"
)

// File describes one catalogued regular file.
type File struct {
	// Path is the file's current physical location. The engine updates it
	// after a migration; the tier-root-relative portion is the file's
	// logical identity and never changes.
	Path     string
	Size     int64
	Priority uint64
	ATime    time.Time
	MTime    time.Time
	UID      uint32
	GID      uint32
	Mode     os.FileMode
	// PinnedTo, when set, names the tier directory this file must not
	// leave during the current pass.
	PinnedTo string
}

// RanksAbove reports whether a strictly precedes b in the catalog order:
// priority descending, then access time descending. Files equal on both
// keys are order-equivalent.
func RanksAbove(a, b *File) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ATime.After(b.ATime)
}

// Catalog is a tier's ordered file list. The head is the highest-ranked
// file (first to promote), the tail the lowest (first to evict).
type Catalog struct {
	files []*File
}

func (c *Catalog) Len() int    { return len(c.files) }
func (c *Catalog) Empty() bool { return len(c.files) == 0 }

// Head returns the highest-ranked entry without removing it.
func (c *Catalog) Head() *File { return c.files[0] }

// Tail returns the lowest-ranked entry without removing it.
func (c *Catalog) Tail() *File { return c.files[len(c.files)-1] }

// PopHead removes and returns the highest-ranked entry.
func (c *Catalog) PopHead() *File {
	f := c.files[0]
	c.files = c.files[1:]
	return f
}

// PopTail removes and returns the lowest-ranked entry.
func (c *Catalog) PopTail() *File {
	f := c.files[len(c.files)-1]
	c.files = c.files[:len(c.files)-1]
	return f
}

// Append adds an entry without regard to order. Call Sort before relying
// on the catalog order.
func (c *Catalog) Append(f *File) {
	c.files = append(c.files, f)
}

// Sort establishes the catalog order. The sort is stable, so files equal
// on both ranking keys keep their crawl order within a pass.
func (c *Catalog) Sort() {
	sort.SliceStable(c.files, func(i, j int) bool {
		return RanksAbove(c.files[i], c.files[j])
	})
}

// Insert places f at the position dictated by the catalog order without a
// full re-sort. A file ranking equal to existing entries is placed after
// them.
func (c *Catalog) Insert(f *File) {
	i := sort.Search(len(c.files), func(i int) bool {
		return RanksAbove(f, c.files[i])
	})
	c.files = append(c.files, nil)
	copy(c.files[i+1:], c.files[i:])
	c.files[i] = f
}

// Remove deletes the given entry, matched by identity. It reports whether
// the entry was present.
func (c *Catalog) Remove(f *File) bool {
	for i, g := range c.files {
		if g == f {
			c.files = append(c.files[:i], c.files[i+1:]...)
			return true
		}
	}
	return false
}

// Files returns a snapshot of the current order.
func (c *Catalog) Files() []*File {
	out := make([]*File, len(c.files))
	copy(out, c.files)
	return out
}
