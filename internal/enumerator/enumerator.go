// Package enumerator implements FileEnumerator: a bounded-depth directory
// walk over audio files with include/exclude/size/extension filters.
// Grounded on the teacher's scanner.Scan, which walks roots with
// filepath.WalkDir and filters by extension; generalized here with
// pattern matching and a depth bound.
package enumerator

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SupportedExtensions lists the audio container formats the pipeline
// accepts, the full §6 set (a superset of the teacher's own narrower
// scanner.SupportedFormats).
var SupportedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true,
	".ogg": true, ".m4a": true, ".aiff": true, ".aif": true,
	".au": true, ".wma": true, ".mp4": true, ".3gp": true,
	".amr": true, ".opus": true, ".webm": true, ".mkv": true,
}

// defaultMinFileSizeKB is the spec §4.4 default lower bound on file size
// applied during enumeration (distinct from AnalysisEngine's own, smaller
// 1 KiB pre-check floor, which runs later against the files this pass
// already selected).
const defaultMinFileSizeKB = 100

// Options configures one enumeration pass.
type Options struct {
	Recursive       bool
	MaxDepth        int // 0 means unbounded
	MinFileSizeKB   int // 0 means the spec default, 100
	IncludePatterns []string
	ExcludePatterns []string
}

// Enumerate walks roots and returns the deduplicated, path-sorted absolute
// paths of every file that passes the directory-exclude, size, extension,
// include, and file-exclude filters, applied in that order per spec §4.4.
// Roots are walked independently; an unreadable root is skipped rather than
// aborting the whole pass.
func Enumerate(roots []string, opts Options) ([]string, error) {
	minSizeBytes := int64(opts.MinFileSizeKB) * 1024
	if opts.MinFileSizeKB == 0 {
		minSizeBytes = defaultMinFileSizeKB * 1024
	}

	seen := map[string]bool{}
	var out []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if err := walk(abs, opts, minSizeBytes, &out, seen); err != nil {
			return out, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func walk(root string, opts Options, minSizeBytes int64, out *[]string, seen map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if matchesDirExclude(path, opts.ExcludePatterns) {
				return filepath.SkipDir
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 && depth(root, path) > opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() < minSizeBytes {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !SupportedExtensions[ext] {
			return nil
		}
		if !matchesIncludes(path, opts.IncludePatterns) {
			return nil
		}
		if matchesExcludes(path, opts.ExcludePatterns) {
			return nil
		}

		if !seen[path] {
			seen[path] = true
			*out = append(*out, path)
		}
		return nil
	})
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator))
}

func matchesIncludes(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchPattern(path, p) {
			return true
		}
	}
	return false
}

func matchesExcludes(path string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(path, p) {
			return true
		}
	}
	return false
}

// matchesDirExclude reports whether a directory's own name (not its
// parent) matches an exclude pattern, for pruning the subtree entirely
// (spec §4.4 "directory exclude patterns (prune subtree)").
func matchesDirExclude(dirPath string, patterns []string) bool {
	base := filepath.Base(dirPath)
	for _, p := range patterns {
		switch {
		case strings.HasPrefix(p, "*/"):
			if base == strings.TrimPrefix(p, "*/") {
				return true
			}
		case strings.Contains(p, "*"):
			if matched, err := filepath.Match(p, base); err == nil && matched {
				return true
			}
		default:
			if strings.Contains(dirPath, p) {
				return true
			}
		}
	}
	return false
}

// matchPattern implements the three pattern forms spec §4.3 defines:
// "*/" prefixed patterns match a directory-name segment; patterns
// containing "*" match the basename; plain patterns match as a substring
// anywhere in the path.
func matchPattern(path, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*/"):
		segment := strings.TrimPrefix(pattern, "*/")
		for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
			if part == segment {
				return true
			}
		}
		return false
	case strings.Contains(pattern, "*"):
		matched, err := filepath.Match(pattern, filepath.Base(path))
		return err == nil && matched
	default:
		return strings.Contains(path, pattern)
	}
}
