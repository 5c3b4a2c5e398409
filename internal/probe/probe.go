// Package probe answers metadata questions about paths and filesystems:
// ownership, permissions, timestamps, and block-level usage. It is the only
// package that talks to stat/statfs directly.
package probe

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Error wraps a stat or statfs failure against a path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Metadata holds the stat fields the tiering engine cares about.
type Metadata struct {
	Size  int64
	UID   uint32
	GID   uint32
	Mode  os.FileMode
	ATime time.Time
	MTime time.Time
}

// Stat returns metadata for path without following a final symlink.
func Stat(path string) (Metadata, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Metadata{}, &Error{Op: "stat", Path: path, Err: err}
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Metadata{}, &Error{Op: "stat", Path: path, Err: fmt.Errorf("unsupported stat type")}
	}

	return Metadata{
		Size:  info.Size(),
		UID:   stat.Uid,
		GID:   stat.Gid,
		Mode:  info.Mode(),
		ATime: atimeFromStat(stat),
		MTime: info.ModTime(),
	}, nil
}

// FilesystemUsage returns the usage of the filesystem holding dir as an
// integer percentage. addBytes adjusts the free-block count before the ratio
// is computed: a positive value answers "what would usage be if this many
// more bytes were present," a negative value the reverse. The result is
// clamped to [0,100].
func FilesystemUsage(dir string, addBytes int64) (int, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return 0, &Error{Op: "statfs", Path: dir, Err: err}
	}
	if fs.Blocks == 0 {
		return 0, &Error{Op: "statfs", Path: dir, Err: fmt.Errorf("zero block count")}
	}

	blocks := int64(fs.Blocks)
	bfree := int64(fs.Bfree)
	if addBytes != 0 && fs.Bsize > 0 {
		bfree -= addBytes / fs.Bsize
	}

	pct := (blocks - bfree) * 100 / blocks
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return int(pct), nil
}

func atimeFromStat(stat *syscall.Stat_t) time.Time {
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
}
