package watch

import (
	"errors"
	"fmt"
	"os"
	gosync "sync"
	"time"

	"github.com/radovskyb/watcher"

	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/pathmap"
	"github.com/schaermu/themesync/internal/sync"
)

// pollSource detects changes by periodically listing the source tree
type pollSource struct {
	w        *watcher.Watcher
	interval time.Duration
	files    int

	events chan sync.Event
	errs   chan error
	done   chan struct{}
	once   gosync.Once
}

func newPollSource(root string, interval time.Duration, ignore *ignoreset.Set) (*pollSource, error) {
	if interval < time.Millisecond {
		return nil, fmt.Errorf("poll interval %s is too short", interval)
	}

	w := watcher.New()
	w.IgnoreHiddenFiles(true)
	w.FilterOps(watcher.Create, watcher.Write, watcher.Remove, watcher.Rename, watcher.Move)

	if err := w.Ignore(ignore.AbsDirs(root)...); err != nil {
		return nil, fmt.Errorf("failed to ignore owned directories: %w", err)
	}
	w.AddFilterHook(ignoreHook(root, ignore))

	if err := w.AddRecursive(root); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	files := 0
	for _, info := range w.WatchedFiles() {
		if !info.IsDir() {
			files++
		}
	}

	return &pollSource{
		w:        w,
		interval: interval,
		files:    files,
		events:   make(chan sync.Event),
		errs:     make(chan error, 8),
		done:     make(chan struct{}),
	}, nil
}

// ignoreHook skips entries below the owned directories and entries matching
// an ignore pattern. The owned directories themselves pass, so the watcher's
// ignore list prunes them from the walk instead of listing their contents
// on every poll.
func ignoreHook(root string, ignore *ignoreset.Set) watcher.FilterFileHookFunc {
	return func(_ os.FileInfo, fullPath string) error {
		rel, ok := pathmap.Rel(root, fullPath)
		if !ok || ignore.IsOwnedDir(rel) {
			return nil
		}
		if ignore.Contains(rel) {
			return watcher.ErrSkip
		}
		return nil
	}
}

func (p *pollSource) Start() error {
	go p.forward()
	go func() {
		if err := p.w.Start(p.interval); err != nil {
			p.sendErr(err)
		}
	}()
	p.w.Wait()
	return nil
}

// forward translates watcher events until the watcher is closed. Once the
// source is closed events are drained and dropped so the watcher never
// blocks on send.
func (p *pollSource) forward() {
	for {
		select {
		case ev := <-p.w.Event:
			for _, e := range translatePoll(ev) {
				select {
				case p.events <- e:
				case <-p.done:
				}
			}
		case err := <-p.w.Error:
			if errors.Is(err, watcher.ErrWatchedFileDeleted) {
				err = fmt.Errorf("source directory deleted: %w", err)
			}
			p.sendErr(err)
		case <-p.w.Closed:
			return
		}
	}
}

func (p *pollSource) sendErr(err error) {
	select {
	case p.errs <- err:
	case <-p.done:
	default:
	}
}

func translatePoll(ev watcher.Event) []sync.Event {
	isDir := ev.FileInfo != nil && ev.IsDir()
	switch ev.Op {
	case watcher.Create:
		return []sync.Event{{Op: sync.OpAdded, Path: ev.Path, IsDir: isDir}}
	case watcher.Write:
		return []sync.Event{{Op: sync.OpModified, Path: ev.Path, IsDir: isDir}}
	case watcher.Remove:
		return []sync.Event{{Op: sync.OpRemoved, Path: ev.Path, IsDir: isDir}}
	case watcher.Rename, watcher.Move:
		return []sync.Event{
			{Op: sync.OpRemoved, Path: ev.OldPath, IsDir: isDir},
			{Op: sync.OpAdded, Path: ev.Path, IsDir: isDir},
		}
	default:
		return nil
	}
}

func (p *pollSource) Events() <-chan sync.Event { return p.events }
func (p *pollSource) Errors() <-chan error      { return p.errs }
func (p *pollSource) WatchedFiles() int         { return p.files }

func (p *pollSource) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.w.Close()
	})
	return nil
}
