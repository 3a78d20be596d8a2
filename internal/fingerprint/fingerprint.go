// Package fingerprint computes the stable cache identity for a file, per
// spec §4.1: a digest over (path, size, mtime) tolerant of ±1s mtime drift.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// ToleranceSeconds is the mtime drift the store treats as "unchanged" when
// deciding whether a fresh stat still matches a previously stored
// fingerprint.
const ToleranceSeconds = 1

// Result is a computed fingerprint plus the inputs needed to re-check it
// with tolerance, and whether it is safe to use for caching at all (it
// degrades to a path-only, non-cacheable hash on stat failure).
type Result struct {
	Digest    string
	Size      int64
	MTimeUnix int64
	Cacheable bool
}

// Of computes the fingerprint for path using the given size and mtime.
func Of(path string, size int64, mtime time.Time) Result {
	sec := mtime.Unix()
	return Result{
		Digest:    hash(path, size, sec),
		Size:      size,
		MTimeUnix: sec,
		Cacheable: true,
	}
}

// OfFile stats path and computes its fingerprint, degrading to a
// non-cacheable path-only hash if the stat fails.
func OfFile(path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Digest: hash(path, -1, 0), Cacheable: false}
	}
	return Of(path, info.Size(), info.ModTime())
}

// Matches reports whether a freshly observed (size, mtime) still identifies
// the same file as stored, tolerating ±ToleranceSeconds of mtime drift
// (filesystems round mtimes inconsistently across stat calls). Any drift
// outside the window, or a size mismatch, invalidates the cache.
func (r Result) Matches(size int64, mtime time.Time) bool {
	if !r.Cacheable {
		return false
	}
	if size != r.Size {
		return false
	}
	drift := mtime.Unix() - r.MTimeUnix
	if drift < 0 {
		drift = -drift
	}
	return drift <= ToleranceSeconds
}

func hash(path string, size int64, mtimeSec int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", path, size, mtimeSec)
	return hex.EncodeToString(h.Sum(nil))
}
