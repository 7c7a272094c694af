package theme

import (
	"os"
	"path/filepath"
	"strings"
)

// Dirs are the top-level directories of a Shopify theme
var Dirs = []string{
	"assets",
	"config",
	"layout",
	"locales",
	"sections",
	"snippets",
	"templates",
}

// IsThemeDir returns true if name is a recognized top-level theme directory
func IsThemeDir(name string) bool {
	for _, d := range Dirs {
		if d == name {
			return true
		}
	}
	return false
}

// IsTemplate returns true if the file is a liquid template
func IsTemplate(path string) bool {
	return filepath.Ext(path) == ".liquid"
}

// IsHidden returns true if the base name starts with "."
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// DiscoverFiles finds all files below dir. Hidden files and directories
// (names starting with ".") are skipped, as are directories for which skip
// returns true. skip may be nil.
func DiscoverFiles(dir string, skip func(path string) bool) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path == dir {
			return nil
		}

		// Skip hidden files and directories (e.g. .git, .DS_Store)
		if IsHidden(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if skip != nil && skip(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// DiscoverTemplates finds all liquid templates below dir
func DiscoverTemplates(dir string) ([]string, error) {
	files, err := DiscoverFiles(dir, nil)
	if err != nil {
		return nil, err
	}

	templates := files[:0]
	for _, f := range files {
		if IsTemplate(f) {
			templates = append(templates, f)
		}
	}
	return templates, nil
}
