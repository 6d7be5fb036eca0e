// Package state persists resolved build graph snapshots so tools can
// query targets without reparsing every declaration file. Backends
// register themselves by name; the sqlite backend is the default and
// keeps the index under .quarry/ in the build root.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of an indexing run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IndexRun records one indexing pass over the build tree.
type IndexRun struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Directories int
	Targets     int
}

// Directory is one indexed directory snapshot row. ContentHash covers
// the declaration file contents, so an unchanged directory can be
// skipped on the next run.
type Directory struct {
	Path        string
	ContentHash string
	TargetCount int
	IndexedAt   time.Time
}

// Target is one persisted target row. Fields holds the declared field
// values, not the defaulted ones, so a row stays valid when an ancestor
// directory changes its defaults.
type Target struct {
	Address      string
	Directory    string
	Name         string
	Kind         string
	Origin       string
	Fields       map[string]any
	Dependencies []string
	IndexedAt    time.Time
}

// TargetFilter narrows ListTargets. Zero values match everything.
type TargetFilter struct {
	Directory string
	Kind      string
}

// Config describes how to reach the backing database.
type Config struct {
	// Backend names the registered store implementation.
	Backend string

	// Path is the database file path for file-based backends.
	Path string

	// DSN is the connection string for server-based backends.
	DSN string
}

// Store is the persistence interface all index backends implement.
type Store interface {
	// Open connects to the database described by cfg.
	Open(ctx context.Context, cfg Config) error

	// Close releases the database connection.
	Close() error

	// Migrate brings the schema up to date.
	Migrate() error

	// BeginRun opens a new indexing run in the running state.
	BeginRun(ctx context.Context) (*IndexRun, error)

	// CompleteRun finishes a run with final status and counters.
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string, directories, targets int) error

	// LatestRun returns the most recent run, or nil when none exist.
	LatestRun(ctx context.Context) (*IndexRun, error)

	// GetDirectory returns one directory row, or nil when not indexed.
	GetDirectory(ctx context.Context, path string) (*Directory, error)

	// ListDirectories returns all indexed directories ordered by path.
	ListDirectories(ctx context.Context) ([]*Directory, error)

	// ReplaceDirectory atomically rewrites a directory row together
	// with its targets and their dependency edges.
	ReplaceDirectory(ctx context.Context, dir *Directory, targets []*Target) error

	// DeleteDirectory removes a directory and its targets.
	DeleteDirectory(ctx context.Context, path string) error

	// GetTarget returns one target row by address, or nil when absent.
	GetTarget(ctx context.Context, address string) (*Target, error)

	// ListTargets returns targets matching the filter ordered by
	// address.
	ListTargets(ctx context.Context, filter TargetFilter) ([]*Target, error)

	// GetDependencies returns the dependency specs declared by a target.
	GetDependencies(ctx context.Context, address string) ([]string, error)

	// GetDependents returns the addresses of targets that declare the
	// given spec as a dependency.
	GetDependents(ctx context.Context, spec string) ([]string, error)
}
