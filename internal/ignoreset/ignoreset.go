// Package ignoreset resolves the source paths that file mirroring must not
// touch because the bundler already owns them.
package ignoreset

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/schaermu/themesync/internal/pathmap"
)

// DefaultOwnedDirs are the source directories compiled by the bundler
var DefaultOwnedDirs = []string{"assets/scripts", "assets/styles"}

// Set is the read-only ignore set of a watch session
type Set struct {
	dirs     []pathmap.SourcePath
	patterns *ignore.GitIgnore
}

// Resolve checks each owned directory under srcRoot and keeps the ones that
// exist. Directories that cannot be resolved are logged and left out, so the
// result may be empty. patterns are gitignore-style lines matched against
// source paths.
func Resolve(srcRoot string, ownedDirs, patterns []string, logger *slog.Logger) *Set {
	s := &Set{}

	for _, dir := range ownedDirs {
		rel := pathmap.SourcePath(strings.Trim(path.Clean(filepath.ToSlash(dir)), "/"))
		abs := rel.Abs(srcRoot)

		info, err := os.Stat(abs)
		if err != nil {
			logger.Warn("could not resolve ignored directory", "path", abs, "error", err)
			continue
		}
		if !info.IsDir() {
			logger.Warn("ignored path is not a directory", "path", abs)
			continue
		}
		s.dirs = append(s.dirs, rel)
	}

	if len(patterns) > 0 {
		s.patterns = ignore.CompileIgnoreLines(patterns...)
	}

	logger.Debug("resolved ignore set", "dirs", s.Dirs(), "patterns", len(patterns))
	return s
}

// New builds a Set from already resolved directories. Used by tests and by
// callers that know the owned directories exist.
func New(dirs ...pathmap.SourcePath) *Set {
	return &Set{dirs: dirs}
}

// Contains reports whether p is equal to or below an ignored directory, or
// matches an ignore pattern.
func (s *Set) Contains(p pathmap.SourcePath) bool {
	if s == nil {
		return false
	}
	for _, d := range s.dirs {
		if p == d || strings.HasPrefix(string(p), string(d)+"/") {
			return true
		}
	}
	if s.patterns != nil && s.patterns.MatchesPath(string(p)) {
		return true
	}
	return false
}

// IsOwnedDir reports whether p is exactly one of the ignored directories
func (s *Set) IsOwnedDir(p pathmap.SourcePath) bool {
	if s == nil {
		return false
	}
	for _, d := range s.dirs {
		if p == d {
			return true
		}
	}
	return false
}

// Dirs returns the resolved directories
func (s *Set) Dirs() []pathmap.SourcePath {
	if s == nil {
		return nil
	}
	out := make([]pathmap.SourcePath, len(s.dirs))
	copy(out, s.dirs)
	return out
}

// AbsDirs returns the resolved directories joined onto root
func (s *Set) AbsDirs(root string) []string {
	dirs := s.Dirs()
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, d.Abs(root))
	}
	return out
}

// Len returns the number of resolved directories
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.dirs)
}

func (s *Set) String() string {
	return fmt.Sprintf("%v", s.Dirs())
}
