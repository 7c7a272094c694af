// Package pathmap translates theme source paths into the paths they are
// written to in the destination tree.
package pathmap

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SourcePath is a forward-slash path relative to the source root
type SourcePath string

// OutputPath is a forward-slash path relative to the destination root
type OutputPath string

// MediaRouting selects which asset subdirectories are re-rooted under assets/
type MediaRouting int

const (
	// RouteIntended re-roots both assets/images and assets/fonts.
	RouteIntended MediaRouting = iota
	// RouteLiteral re-roots assets/images only. Older builds checked
	// `includes('assets/images' || 'assets/fonts')`, which never looked at fonts.
	RouteLiteral
)

// ParseMediaRouting converts a config value into a MediaRouting
func ParseMediaRouting(s string) (MediaRouting, error) {
	switch s {
	case "", "intended":
		return RouteIntended, nil
	case "literal":
		return RouteLiteral, nil
	default:
		return RouteIntended, fmt.Errorf("unknown media routing %q", s)
	}
}

func (r MediaRouting) String() string {
	if r == RouteLiteral {
		return "literal"
	}
	return "intended"
}

const (
	assetsDir    = "assets"
	customersDir = "customers"
	templateExt  = ".liquid"
)

// FromRel converts an OS relative path into a SourcePath
func FromRel(rel string) SourcePath {
	return SourcePath(strings.TrimPrefix(filepath.ToSlash(filepath.Clean(rel)), "./"))
}

// Rel computes the SourcePath of abs under root. ok is false when abs is
// not inside root.
func Rel(root, abs string) (SourcePath, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return FromRel(rel), true
}

// Abs joins an OutputPath onto the destination root
func (p OutputPath) Abs(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// Abs joins a SourcePath onto the source root
func (p SourcePath) Abs(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// Eligible reports whether p has the shape <top>/<sub>/.../<file>.liquid
// with top != assets and sub != customers.
func Eligible(p SourcePath) bool {
	segs := strings.Split(string(p), "/")
	if len(segs) < 3 {
		return false
	}
	if segs[0] == assetsDir || segs[1] == customersDir {
		return false
	}
	return path.Ext(segs[len(segs)-1]) == templateExt
}

// Flatten drops every segment between the top directory and the file name
func Flatten(p SourcePath) OutputPath {
	segs := strings.Split(string(p), "/")
	return OutputPath(segs[0] + "/" + segs[len(segs)-1])
}

// RouteMedia places files under assets/images or assets/fonts directly in
// assets/, whatever their depth. ok is false when the rule does not apply.
func RouteMedia(p SourcePath, routing MediaRouting) (OutputPath, bool) {
	segs := strings.Split(string(p), "/")
	if len(segs) < 3 || segs[0] != assetsDir {
		return "", false
	}
	switch segs[1] {
	case "images":
	case "fonts":
		if routing == RouteLiteral {
			return "", false
		}
	default:
		return "", false
	}
	return OutputPath(assetsDir + "/" + segs[len(segs)-1]), true
}

// Map applies the mapping rules by path shape alone: template flattening,
// then media routing, then identity.
func Map(p SourcePath, routing MediaRouting) OutputPath {
	if Eligible(p) {
		return Flatten(p)
	}
	return route(p, routing)
}

func route(p SourcePath, routing MediaRouting) OutputPath {
	if out, ok := RouteMedia(p, routing); ok {
		return out
	}
	return OutputPath(p)
}

// Mapper maps paths using a TemplateIndex for the flattening rule, so only
// templates known to exist in the source tree are flattened.
type Mapper struct {
	index   *Index
	routing MediaRouting
}

// NewMapper creates a Mapper backed by index
func NewMapper(index *Index, routing MediaRouting) *Mapper {
	return &Mapper{index: index, routing: routing}
}

// Index returns the template index backing the mapper
func (m *Mapper) Index() *Index {
	return m.index
}

// Map returns the destination path for p. Eligible templates missing from
// the index keep their directories.
func (m *Mapper) Map(p SourcePath) OutputPath {
	if Eligible(p) && (m.index == nil || !m.index.Contains(p)) {
		return route(p, m.routing)
	}
	return Map(p, m.routing)
}
