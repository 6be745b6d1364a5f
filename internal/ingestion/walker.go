package ingestion

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns are the file patterns ingested when none are configured.
var DefaultPatterns = []string{"**/*.txt", "**/*.md", "**/*.markdown"}

// DefaultExcludes skips hidden files and directories.
var DefaultExcludes = []string{"**/.*"}

// Walker finds ingestible files below a root directory. Patterns use
// doublestar syntax and are matched against slash-separated paths relative
// to the root.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker creates a Walker. Empty includes match every file.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{includes: includes, excludes: excludes}
}

// Walk returns the absolute paths of matching files in lexical order.
// A root that is a regular file is returned as-is without pattern checks.
func (w *Walker) Walk(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matchAny(w.excludes, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if matchAny(w.includes, rel) && !matchAny(w.excludes, rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}
