package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/pathmap"
	"github.com/schaermu/themesync/internal/theme"
)

// Engine mirrors raw theme files from the source tree into the destination tree
type Engine struct {
	cfg    *config.Config
	mapper *pathmap.Mapper
	ignore *ignoreset.Set
	logger *slog.Logger
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, mapper *pathmap.Mapper, ignore *ignoreset.Set, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		mapper: mapper,
		ignore: ignore,
		logger: logger,
	}
}

// Mapper returns the path mapper used by the engine
func (e *Engine) Mapper() *pathmap.Mapper {
	return e.mapper
}

// Handle applies a single source change to the destination tree. Failures
// are reported in the Result and never stop the caller.
func (e *Engine) Handle(ctx context.Context, ev Event) Result {
	res := Result{Op: ev.Op, Outcome: OutcomeSkipped}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	rel, ok := pathmap.Rel(e.cfg.Paths.Src, ev.Path)
	if !ok {
		e.logger.Debug("event outside source tree", "path", ev.Path)
		return res
	}
	res.Source = rel

	if e.ignore.Contains(rel) {
		res.Outcome = OutcomeIgnored
		return res
	}

	if ev.IsDir {
		e.handleDir(ev, rel)
		return res
	}

	switch ev.Op {
	case OpAdded, OpModified:
		return e.handleCopy(ev, res)
	case OpRemoved:
		return e.handleRemove(res)
	default:
		res.Err = fmt.Errorf("unknown event op %d", ev.Op)
		return res
	}
}

func (e *Engine) handleCopy(ev Event, res Result) Result {
	e.mapper.Index().Add(res.Source)
	res.Output = e.mapper.Map(res.Source)

	if err := e.copyFile(ev.Path, res.Output.Abs(e.cfg.Paths.Dist)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// source vanished between the event and the copy
			e.logger.Debug("source gone before copy", "source", res.Source)
			res.Outcome = OutcomeSkipped
			res.Err = err
			return res
		}
		e.logger.Error("failed to copy file", "source", res.Source, "output", res.Output, "error", err)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	e.logger.Info("file "+ev.Op.String(), "source", res.Source, "output", res.Output)
	res.Outcome = OutcomeCopied
	return res
}

func (e *Engine) handleRemove(res Result) Result {
	res.Output = e.mapper.Map(res.Source)
	e.mapper.Index().Remove(res.Source)

	result, err := Remove(res.Output.Abs(e.cfg.Paths.Dist))
	switch result {
	case Removed:
		e.logger.Info("file deleted", "source", res.Source, "output", res.Output)
		res.Outcome = OutcomeRemoved
	case NotFound:
		e.logger.Info("nothing to delete, output already absent", "source", res.Source, "output", res.Output)
		res.Outcome = OutcomeNotFound
		res.Err = err
	default:
		e.logger.Warn("failed to delete file", "source", res.Source, "output", res.Output, "error", err)
		res.Outcome = OutcomeFailed
		res.Err = err
	}
	return res
}

// handleDir keeps the template index in step with directory changes. Files
// inside the directory arrive as their own events.
func (e *Engine) handleDir(ev Event, rel pathmap.SourcePath) {
	index := e.mapper.Index()

	switch ev.Op {
	case OpAdded:
		if err := index.ScanDir(e.cfg.Paths.Src, ev.Path); err != nil {
			e.logger.Warn("failed to index directory", "path", rel, "error", err)
		}
	case OpRemoved:
		// Flattened outputs must go before the entries are evicted, since
		// the per-file removals may be delivered after this event.
		for _, p := range index.Under(rel) {
			out := pathmap.Flatten(p)
			if result, err := Remove(out.Abs(e.cfg.Paths.Dist)); result == RemoveFailed {
				e.logger.Warn("failed to delete file", "source", p, "output", out, "error", err)
			} else if result == Removed {
				e.logger.Info("file deleted", "source", p, "output", out)
			}
		}
		index.RemoveDir(rel)
	}
}

// Remove deletes a destination file and classifies the outcome
func Remove(path string) (RemoveResult, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return Removed, nil
	case errors.Is(err, fs.ErrNotExist):
		return NotFound, err
	default:
		return RemoveFailed, err
	}
}

// Mirror copies every source file that is not owned by the bundler into the
// destination tree. Files whose destination already has identical content
// are left alone. With dryRun the plan is only logged.
func (e *Engine) Mirror(ctx context.Context, dryRun bool) (*Plan, error) {
	e.logger.Info("mirroring theme files",
		"src", e.cfg.Paths.Src,
		"dist", e.cfg.Paths.Dist,
		"dry_run", dryRun)

	if err := e.mapper.Index().Build(e.cfg.Paths.Src); err != nil {
		return nil, fmt.Errorf("failed to index templates: %w", err)
	}

	plan, err := e.buildPlan()
	if err != nil {
		return nil, fmt.Errorf("failed to build mirror plan: %w", err)
	}

	e.logger.Info("mirror plan",
		"add", len(plan.Add),
		"update", len(plan.Update),
		"unchanged", plan.Unchanged)

	for _, c := range plan.Collisions {
		e.logger.Warn("several sources map to the same output, last one wins",
			"output", c.Output, "sources", c.Sources)
	}

	if dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return plan, nil
	}

	if err := e.applyPlan(ctx, plan); err != nil {
		return plan, fmt.Errorf("failed to apply mirror plan: %w", err)
	}

	return plan, nil
}

// buildPlan computes which files need to be copied
func (e *Engine) buildPlan() (*Plan, error) {
	plan := &Plan{
		Add:    make([]FileOp, 0),
		Update: make([]FileOp, 0),
	}

	srcRoot := e.cfg.Paths.Src
	sourceFiles, err := theme.DiscoverFiles(srcRoot, func(path string) bool {
		rel, ok := pathmap.Rel(srcRoot, path)
		return ok && e.ignore.Contains(rel)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover source files: %w", err)
	}
	sort.Strings(sourceFiles)

	e.logger.Info("discovered source files", "count", len(sourceFiles))

	// outputs keyed by destination; sorted input makes the last source win
	desired := make(map[pathmap.OutputPath]FileOp)
	sources := make(map[pathmap.OutputPath][]pathmap.SourcePath)
	unknownTop := make(map[string]bool)

	for _, srcPath := range sourceFiles {
		rel, ok := pathmap.Rel(srcRoot, srcPath)
		if !ok {
			continue
		}

		top := strings.SplitN(string(rel), "/", 2)[0]
		if !theme.IsThemeDir(top) && !unknownTop[top] {
			unknownTop[top] = true
			e.logger.Warn("file outside theme directories will be mirrored as-is", "dir", top)
		}

		out := e.mapper.Map(rel)
		desired[out] = FileOp{
			SourcePath: srcPath,
			DestPath:   out.Abs(e.cfg.Paths.Dist),
			Source:     rel,
			Output:     out,
		}
		sources[out] = append(sources[out], rel)
	}

	outputs := make([]pathmap.OutputPath, 0, len(desired))
	for out := range desired {
		outputs = append(outputs, out)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i] < outputs[j] })

	for _, out := range outputs {
		op := desired[out]
		if len(sources[out]) > 1 {
			plan.Collisions = append(plan.Collisions, Collision{Output: out, Sources: sources[out]})
		}

		hash, err := fileHash(op.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("failed to compute hash for %s: %w", op.SourcePath, err)
		}
		op.Hash = hash

		destHash, err := fileHash(op.DestPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			plan.Add = append(plan.Add, op)
		case err != nil:
			return nil, fmt.Errorf("failed to compute hash for %s: %w", op.DestPath, err)
		case destHash != hash:
			plan.Update = append(plan.Update, op)
		default:
			plan.Unchanged++
		}
	}

	return plan, nil
}

// applyPlan executes the mirror plan
func (e *Engine) applyPlan(ctx context.Context, plan *Plan) error {
	if err := os.MkdirAll(e.cfg.Paths.Dist, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for _, op := range plan.Add {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Debug("adding file", "output", op.Output)
		if err := e.copyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to add file %s: %w", op.Output, err)
		}
	}

	for _, op := range plan.Update {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Debug("updating file", "output", op.Output)
		if err := e.copyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to update file %s: %w", op.Output, err)
		}
	}

	return nil
}

// copyFile copies a file from src to dst with atomic write
func (e *Engine) copyFile(src, dst string) error {
	// Open source first so a vanished file never leaves directories behind
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".themesync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, op := range plan.Add {
		e.logger.Info("[dry-run] would add", "output", op.Output, "source", op.Source)
	}
	for _, op := range plan.Update {
		e.logger.Info("[dry-run] would update", "output", op.Output, "source", op.Source)
	}
}

// fileHash computes the SHA256 hash of a file
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
