// Package verify performs whole-content digest comparison between a source
// file and its freshly copied destination. It is a paranoia check against
// silent copy corruption or truncation, not a security mechanism.
package verify

import (
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Hash selects the digest algorithm.
type Hash string

const (
	// HashXX is the default: xxhash64 with seed 0, fast and order-
	// sensitive, ample for accidental-corruption detection.
	HashXX Hash = "xxh64"
	// HashBlake3 trades speed for a cryptographic digest.
	HashBlake3 Hash = "blake3"
)

const chunkSize = 32 * 1024

// MismatchError reports differing digests between source and destination.
type MismatchError struct {
	Src    string
	Dst    string
	SrcSum string
	DstSum string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verify %s -> %s: digest mismatch (src %s, dst %s)",
		e.Src, e.Dst, e.SrcSum, e.DstSum)
}

// Compare streams both files through h independently and returns nil iff
// the final digests are bit-identical. A differing digest is reported as a
// *MismatchError; read failures are returned as-is.
func Compare(src, dst string, h Hash) error {
	srcSum, err := digestFile(src, h)
	if err != nil {
		return err
	}
	dstSum, err := digestFile(dst, h)
	if err != nil {
		return err
	}
	if srcSum != dstSum {
		return &MismatchError{Src: src, Dst: dst, SrcSum: srcSum, DstSum: dstSum}
	}
	return nil
}

func digestFile(path string, h Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var hasher hash.Hash
	switch h {
	case HashBlake3:
		hasher = blake3.New()
	default:
		hasher = xxhash.New()
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
