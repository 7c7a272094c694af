package pathmap

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schaermu/themesync/internal/theme"
)

// Index caches the source templates that are eligible for flattening so
// mapping an event never has to rescan the source tree.
type Index struct {
	mu        sync.RWMutex
	templates map[SourcePath]struct{}
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{templates: make(map[SourcePath]struct{})}
}

// Build replaces the index contents with every eligible template under root.
// A missing root yields an empty index.
func (i *Index) Build(root string) error {
	found, err := scan(root, root)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.templates = found
	return nil
}

// ScanDir adds every eligible template below dir, which must be inside root.
// Used when a directory appears in the source tree.
func (i *Index) ScanDir(root, dir string) error {
	found, err := scan(root, dir)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for p := range found {
		i.templates[p] = struct{}{}
	}
	return nil
}

// Add records p if it is eligible for flattening. It reports whether p is
// now in the index.
func (i *Index) Add(p SourcePath) bool {
	if !Eligible(p) {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.templates[p] = struct{}{}
	return true
}

// Remove drops p from the index
func (i *Index) Remove(p SourcePath) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.templates, p)
}

// RemoveDir drops every entry under dir
func (i *Index) RemoveDir(dir SourcePath) {
	prefix := string(dir) + "/"
	i.mu.Lock()
	defer i.mu.Unlock()
	for p := range i.templates {
		if strings.HasPrefix(string(p), prefix) {
			delete(i.templates, p)
		}
	}
}

// Contains reports whether p is an indexed template
func (i *Index) Contains(p SourcePath) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.templates[p]
	return ok
}

// Len returns the number of indexed templates
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.templates)
}

func scan(root, dir string) (map[SourcePath]struct{}, error) {
	found := make(map[SourcePath]struct{})

	files, err := theme.DiscoverTemplates(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return found, nil
		}
		return nil, err
	}

	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			continue
		}
		if p := FromRel(rel); Eligible(p) {
			found[p] = struct{}{}
		}
	}
	return found, nil
}

// Under returns the indexed templates below dir
func (i *Index) Under(dir SourcePath) []SourcePath {
	prefix := string(dir) + "/"
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []SourcePath
	for p := range i.templates {
		if strings.HasPrefix(string(p), prefix) {
			out = append(out, p)
		}
	}
	return out
}
