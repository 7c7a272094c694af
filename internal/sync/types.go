package sync

import (
	"github.com/schaermu/themesync/internal/pathmap"
)

// Op is the kind of filesystem change carried by an Event
type Op int

const (
	OpAdded Op = iota
	OpModified
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpModified:
		return "modified"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single change in the source tree
type Event struct {
	Op    Op
	Path  string // absolute path in the source tree
	IsDir bool
}

// Outcome is what handling an event resulted in
type Outcome int

const (
	OutcomeCopied Outcome = iota
	OutcomeRemoved
	OutcomeNotFound // destination was already absent
	OutcomeIgnored  // path belongs to the bundler
	OutcomeSkipped  // nothing to do (directories, paths outside the source tree)
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCopied:
		return "copied"
	case OutcomeRemoved:
		return "removed"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports how an Event was handled
type Result struct {
	Op      Op
	Source  pathmap.SourcePath
	Output  pathmap.OutputPath
	Outcome Outcome
	Err     error
}

// RemoveResult classifies a destination delete
type RemoveResult int

const (
	Removed RemoveResult = iota
	NotFound
	RemoveFailed
)

// Plan represents the copy operations of a full mirror pass
type Plan struct {
	Add        []FileOp
	Update     []FileOp
	Unchanged  int
	Collisions []Collision
}

// FileOp represents a file operation
type FileOp struct {
	SourcePath string             // absolute path in the source tree
	DestPath   string             // absolute path in the destination tree
	Source     pathmap.SourcePath // relative source path
	Output     pathmap.OutputPath // relative destination path
	Hash       string             // content hash of the source
}

// Collision records several sources that map to the same output
type Collision struct {
	Output  pathmap.OutputPath
	Sources []pathmap.SourcePath
}
