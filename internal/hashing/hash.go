// Package hashing computes content digests, tree signatures, and set
// differences between recorded tree states.
package hashing

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"

	"github.com/zeebo/xxh3"
	"golang.org/x/exp/mmap"

	"github.com/karvel/ckpt/internal/fsx"
)

// mmapThreshold is the file size above which hashing goes through a
// memory-mapped reader instead of loading the whole file.
const mmapThreshold = 4 << 20

// Hash returns the hex 128-bit xxh3 digest of data. Change detection
// only; not a security boundary.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes())
}

// HashFile digests the file at path on fsys. Large files on the real
// filesystem are streamed through mmap; everything else is read whole.
func HashFile(fsys fsx.FS, path string) (string, error) {
	if _, ok := fsys.(*fsx.OSFS); ok {
		fi, err := fsys.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat %q: %w", path, err)
		}
		if fi.Size() >= mmapThreshold {
			if h, err := hashMapped(path, fi.Size()); err == nil {
				return h, nil
			}
			// fall through to a plain read when mmap fails
		}
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	return Hash(data), nil
}

func hashMapped(path string, size int64) (string, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return "", fmt.Errorf("mmap %q: %w", path, err)
	}
	defer reader.Close()

	const chunkSize = 16 << 20
	h := xxh3.New()
	buf := make([]byte, chunkSize)
	for off := int64(0); off < size; off += chunkSize {
		n := chunkSize
		if rest := size - off; rest < int64(n) {
			n = int(rest)
		}
		if _, err := reader.ReadAt(buf[:n], off); err != nil && err != io.EOF {
			return "", fmt.Errorf("read mmap chunk at %d: %w", off, err)
		}
		if _, err := h.Write(buf[:n]); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum128().Bytes()), nil
}

// TreeSignature summarizes a whole tree state as one digest: the sorted
// "path:hash" lines for all files plus "path:empty-dir" lines for all
// empty directories, hashed with SHA-256 and truncated to 16 bytes.
// Sorting makes the signature independent of traversal order.
func TreeSignature(fileHashes map[string]string, emptyDirs []string) string {
	lines := make([]string, 0, len(fileHashes)+len(emptyDirs))
	for p, h := range fileHashes {
		lines = append(lines, p+":"+h)
	}
	for _, d := range emptyDirs {
		lines = append(lines, d+":empty-dir")
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte("\n"))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}
