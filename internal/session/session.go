// Package session evaluates a build tree's declaration files on demand.
//
// A Session memoizes one immutable snapshot per directory: the parsed
// targets, the frozen field defaults, and the frozen dependency rule
// tables, with defaults and rules inherited from the nearest ancestor
// directory that has declarations of its own. Every request anywhere in
// the session for the same directory shares the identical snapshot;
// failures are part of the snapshot too. A Session never observes
// filesystem changes made after its first read of a directory; start a
// new Session to pick those up.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/kinds"
	"github.com/quarrybuild/quarry/internal/parser"
	"github.com/quarrybuild/quarry/internal/prelude"
	"github.com/quarrybuild/quarry/internal/synthetic"
	"github.com/quarrybuild/quarry/internal/vfs"
)

// DefaultPatterns are the declaration file names recognized when none are
// configured.
var DefaultPatterns = []string{"BUILD", "BUILD.quarry"}

// Config configures a Session.
type Config struct {
	// FS supplies filesystem facts, rooted at the build root. Required.
	FS vfs.FS

	// Kinds is the target kind catalog. Nil uses the builtin catalog.
	Kinds *kinds.Registry

	// Synthetic supplies non-file target sources. Nil means none.
	Synthetic *synthetic.Registry

	// Engine interprets dependency rule tables. Nil allows every edge and
	// rejects rule directives in declaration files.
	Engine deprules.Engine

	// Patterns are declaration file base names (globs allowed). Nil uses
	// DefaultPatterns.
	Patterns []string

	// Ignores removes matches from Patterns.
	Ignores []string

	// PreludeGlobs locate prelude files, relative to the build root.
	PreludeGlobs []string

	// Env is the environment allowlist visible to env() in declarations.
	Env map[string]string

	// Logger receives debug records; nil discards.
	Logger *slog.Logger
}

// Session is the memoizing evaluator. Safe for concurrent use.
type Session struct {
	fs           vfs.FS
	kinds        *kinds.Registry
	synthetic    *synthetic.Registry
	engine       deprules.Engine
	patterns     []string
	ignores      []string
	preludeGlobs []string
	logger       *slog.Logger

	base *parser.Parser

	preludeOnce sync.Once
	preludeSyms *prelude.Symbols
	preludeErr  error
	withPrelude *parser.Parser

	families *memoMap[family.Optional]
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if cfg.FS == nil {
		return nil, fmt.Errorf("session: Config.FS is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := cfg.Kinds
	if registry == nil {
		registry = kinds.DefaultRegistry()
	}
	synth := cfg.Synthetic
	if synth == nil {
		synth = synthetic.NewRegistry()
	}
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultPatterns
	}

	return &Session{
		fs:           cfg.FS,
		kinds:        registry,
		synthetic:    synth,
		engine:       cfg.Engine,
		patterns:     patterns,
		ignores:      cfg.Ignores,
		preludeGlobs: cfg.PreludeGlobs,
		logger:       logger,
		base: parser.New(parser.Config{
			Kinds:  registry,
			Env:    cfg.Env,
			Logger: logger,
		}),
		families: newMemoMap[family.Optional](),
	}, nil
}

// OptionalFamily returns the directory's snapshot, which may legitimately
// be empty. It is computed at most once per session.
func (s *Session) OptionalFamily(ctx context.Context, dir string) (family.Optional, error) {
	dir = normalizeDir(dir)
	return s.families.do(dir, func() (family.Optional, error) {
		return s.buildFamily(ctx, dir)
	})
}

// EnsureFamily is OptionalFamily for callers that require declarations to
// exist in the directory.
func (s *Session) EnsureFamily(ctx context.Context, dir string) (*family.Family, error) {
	opt, err := s.OptionalFamily(ctx, dir)
	if err != nil {
		return nil, err
	}
	return opt.Ensure()
}

// PreludeSymbols loads the preludes if needed and reports what they
// exported.
func (s *Session) PreludeSymbols() (*prelude.Symbols, error) {
	_, syms, err := s.declarationParser()
	return syms, err
}

// ResolvedDirs reports how many directory snapshots the session holds,
// successes and memoized failures alike.
func (s *Session) ResolvedDirs() int {
	return s.families.size()
}

// Engine returns the active dependency rules engine, or nil.
func (s *Session) Engine() deprules.Engine {
	return s.engine
}

// FS returns the filesystem the session resolves against.
func (s *Session) FS() vfs.FS {
	return s.fs
}

// Patterns returns the declaration file name patterns in effect.
func (s *Session) Patterns() []string {
	return s.patterns
}

// Ignores returns the declaration file ignore patterns in effect.
func (s *Session) Ignores() []string {
	return s.ignores
}

// declarationParser returns the parser with prelude symbols attached,
// loading the preludes on first use. A prelude failure poisons the whole
// session; every declaration depends on the shared symbol table.
func (s *Session) declarationParser() (*parser.Parser, *prelude.Symbols, error) {
	s.preludeOnce.Do(func() {
		if len(s.preludeGlobs) == 0 {
			s.preludeSyms = &prelude.Symbols{}
			s.withPrelude = s.base
			return
		}
		loader := prelude.NewLoader(s.fs, s.preludeGlobs, s.logger)
		syms, err := loader.Load(s.base.Symbols())
		if err != nil {
			s.preludeErr = err
			return
		}
		s.preludeSyms = syms
		s.withPrelude = s.base.WithPrelude(syms.Globals)
	})
	if s.preludeErr != nil {
		return nil, nil, s.preludeErr
	}
	return s.withPrelude, s.preludeSyms, nil
}

// buildFamily computes one directory's snapshot: read and parse its
// declaration files in sorted path order, collect synthetic declarations,
// inherit defaults and rules from the nearest declaring ancestor, freeze,
// and merge. Any failure aborts the directory atomically.
func (s *Session) buildFamily(ctx context.Context, dir string) (family.Optional, error) {
	p, _, err := s.declarationParser()
	if err != nil {
		return family.Optional{}, err
	}

	var files []vfs.FileContent
	var decls []synthetic.Declaration
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = s.fs.ReadDeclarations(dir, s.patterns, s.ignores)
		return err
	})
	g.Go(func() error {
		var err error
		decls, err = s.synthetic.Provide(gctx, dir)
		return err
	})
	if err := g.Wait(); err != nil {
		return family.Optional{}, err
	}

	if len(files) == 0 && len(decls) == 0 {
		return family.Optional{Path: dir}, nil
	}

	seedDefaults, seedDependencies, seedDependents, err := s.ancestorSeeds(ctx, dir)
	if err != nil {
		return family.Optional{}, err
	}

	builders := parser.Builders{
		Defaults:          defaults.NewBuilderState(dir, seedDefaults, s.kinds),
		DependenciesRules: deprules.NewBuilderState(dir, "__dependencies_rules__", seedDependencies, s.engine),
		DependentsRules:   deprules.NewBuilderState(dir, "__dependents_rules__", seedDependents, s.engine),
	}

	maps := make([]*family.AddressMap, 0, len(files)+len(decls))
	for _, fc := range files {
		am, err := p.ParseFile(fc.Path, fc.Content, builders)
		if err != nil {
			return family.Optional{}, err
		}
		maps = append(maps, am)
	}

	frozenDefaults := builders.Defaults.Freeze()
	dependenciesRules := builders.DependenciesRules.Freeze()
	dependentsRules := builders.DependentsRules.Freeze()

	for _, decl := range decls {
		if decl.ApplyDefaults != nil {
			if err := decl.ApplyDefaults(frozenDefaults); err != nil {
				return family.Optional{}, fmt.Errorf("failed to apply defaults to synthetic targets in %q: %w", displayDir(dir), err)
			}
		}
		maps = append(maps, decl.Map)
	}

	fam, err := family.NewFamily(dir, maps, frozenDefaults, dependenciesRules, dependentsRules)
	if err != nil {
		return family.Optional{}, err
	}
	s.logger.Debug("resolved directory",
		"dir", displayDir(dir),
		"targets", fam.Len(),
		"files", len(files),
		"synthetic", len(decls))
	return family.Optional{Path: dir, Family: fam}, nil
}

// ancestorSeeds finds the nearest ancestor directory with declarations
// and returns its frozen tables. All ancestors are requested in one
// concurrent fan-out; memoization keeps the repeated suffixes cheap.
func (s *Session) ancestorSeeds(ctx context.Context, dir string) (defaults.Defaults, *deprules.RuleSet, *deprules.RuleSet, error) {
	parents := parentDirs(dir)
	if len(parents) == 0 {
		return nil, nil, nil, nil
	}

	results := make([]family.Optional, len(parents))
	g, gctx := errgroup.WithContext(ctx)
	for i, parent := range parents {
		g.Go(func() error {
			opt, err := s.OptionalFamily(gctx, parent)
			if err != nil {
				return err
			}
			results[i] = opt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	for _, opt := range results {
		if opt.Family != nil {
			return opt.Family.Defaults, opt.Family.DependenciesRules, opt.Family.DependentsRules, nil
		}
	}
	return nil, nil, nil, nil
}

// parentDirs lists dir's ancestors nearest first, ending with the build
// root "".
func parentDirs(dir string) []string {
	if dir == "" {
		return nil
	}
	var out []string
	for dir != "" {
		parent := path.Dir(dir)
		if parent == "." {
			parent = ""
		}
		out = append(out, parent)
		dir = parent
	}
	return out
}

func normalizeDir(dir string) string {
	dir = strings.Trim(strings.TrimSpace(dir), "/")
	if dir == "" || dir == "." {
		return ""
	}
	return path.Clean(dir)
}

func displayDir(dir string) string {
	if dir == "" {
		return "//"
	}
	return dir
}
