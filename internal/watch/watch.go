// Package watch reacts to declaration file edits on disk. Consumers
// hand it a callback; the watcher debounces event bursts so one save in
// an editor, which often produces several events, triggers a single
// invalidation.
package watch

import (
	"context"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/vfs"
)

// DefaultDebounce spaces bursts of filesystem events into one callback.
const DefaultDebounce = 100 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Root is the build root directory on disk. Required.
	Root string

	// Patterns and Ignores select declaration files, with the same
	// semantics the session uses. Nil Patterns uses the session
	// defaults.
	Patterns []string
	Ignores  []string

	// Debounce is the quiet period after the last matching event before
	// OnChange fires. Zero uses DefaultDebounce.
	Debounce time.Duration

	// OnChange runs after each debounced burst, on the watcher's timer
	// goroutine. Required.
	OnChange func()

	Logger *slog.Logger
}

// Watcher delivers debounced declaration-change callbacks.
type Watcher struct {
	root     string
	patterns []string
	ignores  []string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
}

// New creates a Watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch: Config.Root is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watch: Config.OnChange is required")
	}
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = session.DefaultPatterns
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		root:     cfg.Root,
		patterns: patterns,
		ignores:  cfg.Ignores,
		debounce: debounce,
		onChange: cfg.OnChange,
		logger:   logger,
	}, nil
}

// Run watches until the context is cancelled. Directories created while
// running join the watch; dot directories are skipped along with their
// subtrees.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addDirRecursive(watcher, w.root); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.root, err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !strings.HasPrefix(filepath.Base(event.Name), ".") {
						_ = addDirRecursive(watcher, event.Name)
					}
					continue
				}
			}

			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !vfs.MatchesDeclaration(w.patterns, w.ignores, rel) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			changed := rel
			debounceTimer = time.AfterFunc(w.debounce, func() {
				w.logger.Debug("declaration files changed", slog.String("file", changed))
				w.onChange()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", slog.Any("error", err))
		}
	}
}

// addDirRecursive adds a directory and its non-hidden subdirectories to
// the watcher.
func addDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(filepath.Base(p), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}
