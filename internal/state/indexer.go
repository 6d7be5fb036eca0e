package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/vfs"
)

// IndexStats summarizes one indexing run.
type IndexStats struct {
	// Scanned counts every directory visited in the walk.
	Scanned int
	// Indexed counts directories whose rows were rewritten.
	Indexed int
	// Skipped counts directories left alone because their declaration
	// content was unchanged.
	Skipped int
	// Removed counts stale rows dropped for directories that no longer
	// declare targets.
	Removed int
	// Targets counts live targets across indexed and skipped
	// directories.
	Targets int
}

// IndexerConfig configures an Indexer.
type IndexerConfig struct {
	// Session resolves directory snapshots. Required.
	Session *session.Session

	// Store receives the rows. Required, already opened and migrated.
	Store Store

	// Salt is mixed into every directory hash. Pass a fingerprint of
	// inputs that affect all directories, like the synthetic manifest
	// contents, so their changes invalidate the whole index.
	Salt string

	Logger *slog.Logger
}

// Indexer walks the build tree and persists each declared directory's
// snapshot. Directories whose declaration files are unchanged since the
// last run are skipped; directories backed only by synthetic providers
// are always re-resolved. Persisted target fields are the declared
// ones, so a skipped directory stays exact even when an ancestor's
// defaults changed since.
type Indexer struct {
	sess     *session.Session
	store    Store
	fs       vfs.FS
	patterns []string
	ignores  []string
	salt     string
	logger   *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("indexer: IndexerConfig.Session is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("indexer: IndexerConfig.Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{
		sess:     cfg.Session,
		store:    cfg.Store,
		fs:       cfg.Session.FS(),
		patterns: cfg.Session.Patterns(),
		ignores:  cfg.Session.Ignores(),
		salt:     cfg.Salt,
		logger:   logger,
	}, nil
}

// Run performs one indexing pass, recording it as an IndexRun.
func (ix *Indexer) Run(ctx context.Context) (*IndexStats, error) {
	run, err := ix.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := ix.index(ctx)
	if err != nil {
		_ = ix.store.CompleteRun(ctx, run.ID, RunStatusFailed, err.Error(), 0, 0)
		return nil, err
	}

	if err := ix.store.CompleteRun(ctx, run.ID, RunStatusCompleted, "", stats.Indexed, stats.Targets); err != nil {
		return nil, err
	}
	ix.logger.Info("index run completed",
		slog.Int("scanned", stats.Scanned),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Int("targets", stats.Targets))
	return stats, nil
}

func (ix *Indexer) index(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}
	declared := make(map[string]bool)

	walkErr := ix.fs.WalkDirs(func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++

		files, err := ix.fs.ReadDeclarations(dir, ix.patterns, ix.ignores)
		if err != nil {
			return err
		}
		hash := DirectoryHash(files, ix.salt)

		if len(files) > 0 {
			existing, err := ix.store.GetDirectory(ctx, dir)
			if err != nil {
				return err
			}
			if existing != nil && existing.ContentHash == hash {
				declared[dir] = true
				stats.Skipped++
				stats.Targets += existing.TargetCount
				return nil
			}
		}

		opt, err := ix.sess.OptionalFamily(ctx, dir)
		if err != nil {
			return err
		}
		if opt.Family == nil {
			return nil
		}
		return ix.persist(ctx, dir, hash, opt.Family, stats, declared)
	})
	if walkErr != nil {
		return nil, walkErr
	}

	// Sweep rows for directories that stopped declaring or went away.
	rows, err := ix.store.ListDirectories(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if declared[row.Path] {
			continue
		}
		if err := ix.store.DeleteDirectory(ctx, row.Path); err != nil {
			return nil, err
		}
		stats.Removed++
	}
	return stats, nil
}

func (ix *Indexer) persist(ctx context.Context, dir, hash string, fam *family.Family, stats *IndexStats, declared map[string]bool) error {
	now := time.Now().UTC()

	names := fam.TargetNames()
	targets := make([]*Target, 0, len(names))
	for _, name := range names {
		adaptor, ok := fam.Target(name)
		if !ok {
			continue
		}
		origin, _ := fam.OriginOf(name)
		addr := address.Address{SpecPath: dir, TargetName: name}
		targets = append(targets, &Target{
			Address:      addr.Spec(),
			Directory:    dir,
			Name:         name,
			Kind:         adaptor.Kind,
			Origin:       origin,
			Fields:       adaptor.Fields,
			Dependencies: adaptor.Dependencies(),
			IndexedAt:    now,
		})
	}

	row := &Directory{
		Path:        dir,
		ContentHash: hash,
		TargetCount: len(targets),
		IndexedAt:   now,
	}
	if err := ix.store.ReplaceDirectory(ctx, row, targets); err != nil {
		return err
	}

	declared[dir] = true
	stats.Indexed++
	stats.Targets += len(targets)
	ix.logger.Debug("indexed directory", slog.String("dir", dir), slog.Int("targets", len(targets)))
	return nil
}

// DirectoryHash fingerprints a directory's declaration file contents,
// mixed with the salt.
func DirectoryHash(files []vfs.FileContent, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	for _, f := range files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write(f.Content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
