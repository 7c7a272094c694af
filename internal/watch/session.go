// Package watch keeps the destination tree in step with the source tree for
// as long as a session runs.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/sync"
)

// Source produces change events for a source tree
type Source interface {
	// Start begins producing events. It does not block.
	Start() error
	Events() <-chan sync.Event
	Errors() <-chan error
	// WatchedFiles returns the number of files known at start
	WatchedFiles() int
	Close() error
}

// Options configures a Session
type Options struct {
	SrcDir   string
	Mode     config.WatchMode
	Interval time.Duration
	// Settle is how long the session waits after starting the source
	// before it reports the initial state and takes events.
	Settle time.Duration

	// OnReady is called once the initial state has been reported
	OnReady func()
	// OnResult is called after every handled event
	OnResult func(sync.Result)
}

// OptionsFromConfig builds session options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SrcDir:   cfg.Paths.Src,
		Mode:     cfg.Watch.Mode,
		Interval: cfg.Watch.Interval,
		Settle:   cfg.Watch.Settle,
	}
}

// Session feeds source tree changes into the sync engine until its context
// is cancelled.
type Session struct {
	opts   Options
	engine *sync.Engine
	ignore *ignoreset.Set
	logger *slog.Logger
}

// NewSession creates a session. ignore is fixed for the lifetime of the
// session; directories created later are not added to it.
func NewSession(opts Options, engine *sync.Engine, ignore *ignoreset.Set, logger *slog.Logger) *Session {
	return &Session{
		opts:   opts,
		engine: engine,
		ignore: ignore,
		logger: logger,
	}
}

// Run watches the source tree until ctx is cancelled. Only failures to set
// up the watcher are returned; per-event failures are logged.
func (s *Session) Run(ctx context.Context) error {
	index := s.engine.Mapper().Index()
	if err := index.Build(s.opts.SrcDir); err != nil {
		s.logger.Warn("failed to index templates, flattening applies to new files only", "error", err)
	}

	source, err := s.newSource()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			s.logger.Debug("closing watcher", "error", err)
		}
	}()

	if err := source.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	if s.opts.Settle > 0 {
		timer := time.NewTimer(s.opts.Settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	s.logger.Info("watching for changes",
		"src", s.opts.SrcDir,
		"mode", s.opts.Mode,
		"files", source.WatchedFiles(),
		"templates", index.Len(),
		"ignored", s.ignore.Dirs())

	if s.opts.OnReady != nil {
		s.opts.OnReady()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping watch session")
			return nil
		case ev, ok := <-source.Events():
			if !ok {
				return nil
			}
			res := s.engine.Handle(ctx, ev)
			if s.opts.OnResult != nil {
				s.opts.OnResult(res)
			}
		case err, ok := <-source.Errors():
			if !ok {
				continue
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

func (s *Session) newSource() (Source, error) {
	switch s.opts.Mode {
	case config.WatchNotify:
		return newNotifySource(s.opts.SrcDir, s.ignore, s.logger)
	case config.WatchPoll, "":
		return newPollSource(s.opts.SrcDir, s.opts.Interval, s.ignore)
	default:
		return nil, fmt.Errorf("unknown watch mode %q", s.opts.Mode)
	}
}
