package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coldshift/coldshift/internal/catalog"
	"github.com/coldshift/coldshift/internal/tier"
)

type direction bool

const (
	directionDown direction = true
	directionUp   direction = false
)

// CopyError reports a migration step that could not be completed. The
// source file is left untouched.
type CopyError struct {
	Src string
	Dst string
	Err error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("migrate %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// migrate moves f from one tier to the other: copy, restore ownership and
// permissions, verify, delete the source, restore timestamps, and fix up
// the symlink redirection. On any error the source is left in place and
// the caller treats the migration as a no-op for this file this pass.
// Catalog bookkeeping belongs to the caller.
func (e *Engine) migrate(f *catalog.File, from, to *tier.Tier, dir direction) error {
	rel, err := filepath.Rel(from.Dir, f.Path)
	if err != nil {
		return &CopyError{Src: f.Path, Dst: to.Dir, Err: err}
	}
	dstPath := filepath.Join(to.Dir, rel)

	if e.cfg.DryRun {
		e.cfg.Logger.Info("would migrate",
			zap.String("src", f.Path),
			zap.String("dst", dstPath),
			zap.Bool("down", bool(dir)),
			zap.Int64("size", f.Size))
		e.pending[from.Dir] -= f.Size
		e.pending[to.Dir] += f.Size
		f.Path = dstPath
		return nil
	}

	e.cfg.Logger.Debug("migrating",
		zap.String("src", f.Path), zap.String("dst", dstPath))

	// An upward move must not write through the stale symlink a prior
	// demotion left at the destination.
	if dir == directionUp {
		if info, lerr := os.Lstat(dstPath); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			if rerr := os.Remove(dstPath); rerr != nil {
				return &CopyError{Src: f.Path, Dst: dstPath, Err: rerr}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return &CopyError{Src: f.Path, Dst: dstPath, Err: err}
	}

	if err := copyContents(f.Path, dstPath); err != nil {
		return &CopyError{Src: f.Path, Dst: dstPath, Err: err}
	}

	if err := copyOwnershipAndPerms(dstPath, f); err != nil {
		return &CopyError{Src: f.Path, Dst: dstPath, Err: err}
	}

	if err := e.cfg.Verify(f.Path, dstPath); err != nil {
		// Destination is left in place for manual inspection and its
		// timestamps are not touched. Source remains authoritative.
		return err
	}

	if err := os.Remove(f.Path); err != nil {
		// Content now exists in both tiers; surface it rather than
		// leave the catalogs claiming a move that half-happened.
		return &CopyError{Src: f.Path, Dst: dstPath, Err: fmt.Errorf("remove source: %w", err)}
	}

	// Reapply the pre-move times so migration is invisible to
	// recency-based ranking.
	if err := restoreTimes(dstPath, f); err != nil {
		e.cfg.Logger.Warn("restore times failed",
			zap.String("path", dstPath), zap.Error(err))
	}

	if dir == directionDown {
		// Preserve the logical path for external consumers.
		if err := os.Symlink(dstPath, f.Path); err != nil {
			return &CopyError{Src: f.Path, Dst: dstPath, Err: fmt.Errorf("leave symlink: %w", err)}
		}
	}

	f.Path = dstPath
	return nil
}

const copyBufferSize = 1 << 20

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// copyContents copies the full file content from src to dst, creating or
// truncating dst. No staging file is used: a crash mid-copy can leave a
// partial destination (see the verification step).
func copyContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	bufp := copyBufPool.Get().(*[]byte)
	_, err = io.CopyBuffer(out, in, *bufp)
	copyBufPool.Put(bufp)
	if err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// copyOwnershipAndPerms applies the source's captured uid/gid and
// permission bits to dst. Ownership may fail without CAP_CHOWN and is
// best-effort, matching plain cp semantics.
func copyOwnershipAndPerms(dst string, f *catalog.File) error {
	_ = unix.Chown(dst, int(f.UID), int(f.GID))
	if err := os.Chmod(dst, f.Mode.Perm()); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// restoreTimes reapplies the access and modify times captured at crawl
// time onto dst.
func restoreTimes(dst string, f *catalog.File) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(f.ATime.UnixNano()),
		unix.NsecToTimespec(f.MTime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, dst, times, 0); err != nil {
		return fmt.Errorf("utimensat: %w", err)
	}
	return nil
}
