package watch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Rules decides which paths under a project root never trigger rebuilds.
type Rules struct {
	root    string
	matcher gitignore.Matcher
}

// LoadRules reads every .gitignore below root and appends extra
// gitignore-style patterns.
func LoadRules(root string, extra []string) (*Rules, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	patterns, err := gitignore.ReadPatterns(osfs.New(abs), nil)
	if err != nil {
		return nil, fmt.Errorf("read .gitignore files: %w", err)
	}
	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" && !strings.HasPrefix(p, "#") {
			patterns = append(patterns, gitignore.ParsePattern(p, nil))
		}
	}
	return &Rules{root: abs, matcher: gitignore.NewMatcher(patterns)}, nil
}

// Root returns the absolute project root.
func (r *Rules) Root() string { return r.root }

// Ignored reports whether path should be skipped. Paths outside the root are
// always ignored.
func (r *Rules) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts {
		if isHiddenOrTemp(part) {
			return true
		}
	}
	return r.matcher != nil && r.matcher.Match(parts, isDir)
}

// isHiddenOrTemp matches dot files (including the .mlt state directory and
// the .build.json/.push.json records), editor swap files and OS litter.
func isHiddenOrTemp(base string) bool {
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case base == "4913": // vim's write-permission probe file
		return true
	case base == "Thumbs.db", base == "__pycache__":
		return true
	}
	return false
}
