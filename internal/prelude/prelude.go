// Package prelude loads shared helper files into one symbol table before
// any declaration file is parsed. Prelude files are Starlark modules
// matched by the configured globs, evaluated once per session in sorted
// path order; a file's exported names become available to every
// declaration file and to every later prelude file.
package prelude

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/internal/vfs"
)

// Error reports a prelude file that failed to load. Any such failure
// aborts the session, since declaration files cannot be evaluated
// against a partial symbol table.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error parsing prelude file %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Symbols is the result of loading all prelude files.
type Symbols struct {
	// Globals holds every exported name. Names starting with "_" are
	// private to their defining file and never appear here.
	Globals starlark.StringDict

	// Files lists the loaded prelude paths in evaluation order.
	Files []string
}

// Loader evaluates prelude files from a filesystem.
type Loader struct {
	fs     vfs.FS
	globs  []string
	logger *slog.Logger
}

// NewLoader creates a Loader reading files matched by globs from fsys.
func NewLoader(fsys vfs.FS, globs []string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{fs: fsys, globs: globs, logger: logger}
}

// Load evaluates every matched prelude file against predeclared plus the
// exports of earlier prelude files. The predeclared table is typically
// the parser's builtin symbols, so helpers defined here can declare
// targets when a declaration file later invokes them.
func (l *Loader) Load(predeclared starlark.StringDict) (*Symbols, error) {
	paths, err := l.matchFiles()
	if err != nil {
		return nil, err
	}

	symbols := &Symbols{Globals: starlark.StringDict{}}
	for _, filePath := range paths {
		content, err := l.fs.ReadFile(filePath)
		if err != nil {
			return nil, &Error{Path: filePath, Err: err}
		}

		env := make(starlark.StringDict, len(predeclared)+len(symbols.Globals))
		for name, value := range predeclared {
			env[name] = value
		}
		for name, value := range symbols.Globals {
			env[name] = value
		}

		thread := &starlark.Thread{
			Name: "prelude:" + filePath,
			Print: func(_ *starlark.Thread, _ string) {
				// Prelude evaluation has no output channel.
			},
		}
		module, err := starlark.ExecFile(thread, filePath, content, env) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
		if err != nil {
			return nil, &Error{Path: filePath, Err: err}
		}

		exported := 0
		for name, value := range module {
			if strings.HasPrefix(name, "_") {
				continue
			}
			symbols.Globals[name] = value
			exported++
		}
		symbols.Files = append(symbols.Files, filePath)
		l.logger.Debug("loaded prelude file", "path", filePath, "symbols", exported)
	}
	return symbols, nil
}

// matchFiles expands the globs to a deduplicated, sorted path list.
func (l *Loader) matchFiles() ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, glob := range l.globs {
		matches, err := l.fs.Glob(glob)
		if err != nil {
			return nil, fmt.Errorf("failed to expand prelude glob %q: %w", glob, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
