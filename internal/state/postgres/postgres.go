// Package postgres implements the state.Store interface over a
// PostgreSQL database.
//
// Import this package with a blank identifier to register the backend:
//
//	import _ "github.com/quarrybuild/quarry/internal/state/postgres"
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/quarrybuild/quarry/internal/state"
)

func init() {
	state.Register("postgres", func(logger *slog.Logger) state.Store {
		return New(logger)
	})
}

// Store implements state.Store over PostgreSQL. A shared database lets
// several checkouts of the same repository publish into one index.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates an unconnected PostgreSQL store. If logger is nil, a
// discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open connects using cfg.DSN, which accepts both URL and key=value
// connection strings.
func (s *Store) Open(ctx context.Context, cfg state.Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("postgres: state DSN not configured")
	}

	s.logger.Debug("opening postgres state store")

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun opens a new indexing run.
func (s *Store) BeginRun(ctx context.Context) (*state.IndexRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &state.IndexRun{
		ID:        uuid.New().String(),
		Status:    state.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin index run: %w", err)
	}
	return run, nil
}

// CompleteRun finishes a run with final status and counters.
func (s *Store) CompleteRun(ctx context.Context, id string, status state.RunStatus, errMsg string, directories, targets int) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE index_runs SET status = $1, completed_at = $2, error = $3, directories = $4, targets = $5 WHERE id = $6`,
		status, time.Now().UTC(), errPtr, directories, targets, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete index run: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("index run not found: %s", id)
	}
	return nil
}

// LatestRun returns the most recent run, or nil when none exist.
func (s *Store) LatestRun(ctx context.Context) (*state.IndexRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &state.IndexRun{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, started_at, completed_at, error, directories, targets
		 FROM index_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Status, &run.StartedAt, &completedAt, &errMsg, &run.Directories, &run.Targets)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest index run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// GetDirectory returns one directory row, or nil when not indexed.
func (s *Store) GetDirectory(ctx context.Context, path string) (*state.Directory, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	dir := &state.Directory{}
	err := s.db.QueryRowContext(ctx,
		`SELECT path, content_hash, target_count, indexed_at FROM directories WHERE path = $1`,
		path,
	).Scan(&dir.Path, &dir.ContentHash, &dir.TargetCount, &dir.IndexedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get directory %q: %w", path, err)
	}
	return dir, nil
}

// ListDirectories returns all indexed directories ordered by path.
func (s *Store) ListDirectories(ctx context.Context) ([]*state.Directory, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, target_count, indexed_at FROM directories ORDER BY path`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list directories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dirs []*state.Directory
	for rows.Next() {
		dir := &state.Directory{}
		if err := rows.Scan(&dir.Path, &dir.ContentHash, &dir.TargetCount, &dir.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan directory: %w", err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

// ReplaceDirectory atomically rewrites a directory row with its targets
// and dependency edges.
func (s *Store) ReplaceDirectory(ctx context.Context, dir *state.Directory, targets []*state.Target) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO directories (path, content_hash, target_count, indexed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO UPDATE SET content_hash = excluded.content_hash,
		   target_count = excluded.target_count, indexed_at = excluded.indexed_at`,
		dir.Path, dir.ContentHash, dir.TargetCount, dir.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert directory %q: %w", dir.Path, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE directory = $1`, dir.Path); err != nil {
		return fmt.Errorf("failed to clear targets for %q: %w", dir.Path, err)
	}

	for _, target := range targets {
		fields, err := marshalFields(target.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode fields for %q: %w", target.Address, err)
		}
		// The driver sends strings as text, so the jsonb column needs
		// an explicit cast.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO targets (address, directory, name, kind, origin, fields, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			target.Address, target.Directory, target.Name, target.Kind, target.Origin, fields, target.IndexedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert target %q: %w", target.Address, err)
		}
		for _, dep := range target.Dependencies {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO target_deps (address, dependency) VALUES ($1, $2)`,
				target.Address, dep,
			)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %q -> %q: %w", target.Address, dep, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteDirectory removes a directory and, via cascade, its targets.
func (s *Store) DeleteDirectory(ctx context.Context, path string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM directories WHERE path = $1`, path); err != nil {
		return fmt.Errorf("failed to delete directory %q: %w", path, err)
	}
	return nil
}

// GetTarget returns one target row by address, or nil when absent.
func (s *Store) GetTarget(ctx context.Context, address string) (*state.Target, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	target := &state.Target{}
	var fields []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT address, directory, name, kind, origin, fields, indexed_at FROM targets WHERE address = $1`,
		address,
	).Scan(&target.Address, &target.Directory, &target.Name, &target.Kind, &target.Origin, &fields, &target.IndexedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target %q: %w", address, err)
	}

	if target.Fields, err = unmarshalFields(fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields for %q: %w", address, err)
	}
	if target.Dependencies, err = s.GetDependencies(ctx, address); err != nil {
		return nil, err
	}
	return target, nil
}

// ListTargets returns targets matching the filter ordered by address.
func (s *Store) ListTargets(ctx context.Context, filter state.TargetFilter) ([]*state.Target, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT address, directory, name, kind, origin, fields, indexed_at FROM targets
		 WHERE ($1 = '' OR directory = $1) AND ($2 = '' OR kind = $2) ORDER BY address`,
		filter.Directory, filter.Kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []*state.Target
	byAddress := make(map[string]*state.Target)
	for rows.Next() {
		target := &state.Target{}
		var fields []byte
		if err := rows.Scan(&target.Address, &target.Directory, &target.Name, &target.Kind, &target.Origin, &fields, &target.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if target.Fields, err = unmarshalFields(fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields for %q: %w", target.Address, err)
		}
		targets = append(targets, target)
		byAddress[target.Address] = target
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	depRows, err := s.db.QueryContext(ctx,
		`SELECT d.address, d.dependency FROM target_deps d
		 JOIN targets t ON t.address = d.address
		 WHERE ($1 = '' OR t.directory = $1) AND ($2 = '' OR t.kind = $2)`,
		filter.Directory, filter.Kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer func() { _ = depRows.Close() }()

	for depRows.Next() {
		var address, dep string
		if err := depRows.Scan(&address, &dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if target, ok := byAddress[address]; ok {
			target.Dependencies = append(target.Dependencies, dep)
		}
	}
	return targets, depRows.Err()
}

// GetDependencies returns the dependency specs declared by a target.
func (s *Store) GetDependencies(ctx context.Context, address string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT dependency FROM target_deps WHERE address = $1 ORDER BY dependency`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// GetDependents returns addresses of targets that declare the given
// spec as a dependency.
func (s *Store) GetDependents(ctx context.Context, spec string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT address FROM target_deps WHERE dependency = $1 ORDER BY address`, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

func marshalFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalFields(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Ensure Store implements the state.Store interface.
var _ state.Store = (*Store)(nil)
