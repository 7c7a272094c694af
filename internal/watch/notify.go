package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/pathmap"
	"github.com/schaermu/themesync/internal/sync"
	"github.com/schaermu/themesync/internal/theme"
)

// notifySource receives change events from the operating system. fsnotify
// does not recurse, so every directory under root is registered on its own
// and new directories are registered as they appear.
type notifySource struct {
	w      *fsnotify.Watcher
	root   string
	ignore *ignoreset.Set
	logger *slog.Logger
	files  int

	mu   gosync.Mutex
	dirs map[string]struct{}

	events chan sync.Event
	errs   chan error
	done   chan struct{}
	once   gosync.Once
}

func newNotifySource(root string, ignore *ignoreset.Set, logger *slog.Logger) (*notifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	n := &notifySource{
		w:      w,
		root:   root,
		ignore: ignore,
		logger: logger,
		dirs:   make(map[string]struct{}),
		events: make(chan sync.Event, 64),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
	}

	files, err := n.addTree(root, nil)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	n.files = len(files)
	return n, nil
}

// skip reports whether path is hidden or inside the ignore set
func (n *notifySource) skip(path string) bool {
	if path != n.root && theme.IsHidden(path) {
		return true
	}
	rel, ok := pathmap.Rel(n.root, path)
	return ok && n.ignore.Contains(rel)
}

// addTree registers dir and every directory below it, returning the files
// found along the way.
func (n *notifySource) addTree(dir string, files []string) ([]string, error) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if n.skip(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		if err := n.w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		n.mu.Lock()
		n.dirs[path] = struct{}{}
		n.mu.Unlock()
		return nil
	})
	return files, err
}

func (n *notifySource) Start() error {
	go n.run()
	return nil
}

func (n *notifySource) run() {
	for {
		select {
		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}
			for _, e := range n.translate(ev) {
				select {
				case n.events <- e:
				case <-n.done:
					return
				}
			}
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			select {
			case n.errs <- err:
			case <-n.done:
				return
			default:
			}
		case <-n.done:
			return
		}
	}
}

func (n *notifySource) translate(ev fsnotify.Event) []sync.Event {
	if n.skip(ev.Name) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// gone before we could look at it
			return nil
		}
		if !info.IsDir() {
			return []sync.Event{{Op: sync.OpAdded, Path: ev.Name}}
		}
		// Files may land in a new directory before its watch is registered,
		// so report everything already inside it.
		out := []sync.Event{{Op: sync.OpAdded, Path: ev.Name, IsDir: true}}
		files, err := n.addTree(ev.Name, nil)
		if err != nil {
			n.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
		}
		for _, f := range files {
			out = append(out, sync.Event{Op: sync.OpAdded, Path: f})
		}
		return out

	case ev.Has(fsnotify.Write):
		if n.isDir(ev.Name) {
			return nil
		}
		return []sync.Event{{Op: sync.OpModified, Path: ev.Name}}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename is reported on the old name; the new name arrives as Create.
		isDir := n.forgetDir(ev.Name)
		return []sync.Event{{Op: sync.OpRemoved, Path: ev.Name, IsDir: isDir}}
	}

	return nil
}

func (n *notifySource) isDir(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.dirs[path]
	return ok
}

// forgetDir drops path and its subdirectories from the watched set and
// reports whether path was a watched directory.
func (n *notifySource) forgetDir(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.dirs[path]
	if !ok {
		return false
	}
	prefix := path + string(filepath.Separator)
	for d := range n.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(n.dirs, d)
			// the kernel drops watches on deleted directories itself
			_ = n.w.Remove(d)
		}
	}
	return true
}

func (n *notifySource) Events() <-chan sync.Event { return n.events }
func (n *notifySource) Errors() <-chan error      { return n.errs }
func (n *notifySource) WatchedFiles() int         { return n.files }

func (n *notifySource) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.w.Close()
	})
	return err
}
