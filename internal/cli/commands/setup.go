package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/config"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/state"
	"github.com/quarrybuild/quarry/internal/synthetic"
	"github.com/quarrybuild/quarry/internal/vfs"

	// Rule engines and state backends register themselves for the
	// rules.engine and state.backend config keys.
	_ "github.com/quarrybuild/quarry/internal/deprules/visibility"
	_ "github.com/quarrybuild/quarry/internal/state/postgres"
	_ "github.com/quarrybuild/quarry/internal/state/sqlite"
)

type projectKey struct{}

type loggerKey struct{}

// Project is the loaded build tree a command operates on.
type Project struct {
	// Root is the build root, normally the directory holding quarry.yaml.
	Root string

	// Cfg is the layered configuration loaded for that root.
	Cfg *config.Config
}

// WithProject stores the loaded project in the context. The root command
// calls it once per invocation.
func WithProject(ctx context.Context, p *Project) context.Context {
	return context.WithValue(ctx, projectKey{}, p)
}

// WithLogger stores the CLI logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Root     string
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext assembles the command dependencies from the cobra
// context. Commands invoked without the root command's setup (tests) get
// the built-in defaults and a discard logger.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	proj, ok := cmd.Context().Value(projectKey{}).(*Project)
	if !ok {
		proj = &Project{Root: ".", Cfg: config.Default()}
	}
	logger, ok := cmd.Context().Value(loggerKey{}).(*slog.Logger)
	if !ok {
		logger = slog.New(slog.DiscardHandler)
	}
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(proj.Cfg.Output))
	return &CommandContext{
		Root:     proj.Root,
		Cfg:      proj.Cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// NewSession builds a resolution session over the project's build tree.
func (c *CommandContext) NewSession() (*session.Session, error) {
	return NewProjectSession(c.Root, c.Cfg, c.Logger)
}

// NewProjectSession builds a session for a build root and configuration.
// The explorer's rebuild hook uses it too, so watching and one-shot
// commands resolve identically.
func NewProjectSession(root string, cfg *config.Config, logger *slog.Logger) (*session.Session, error) {
	engine, err := deprules.NewEngine(cfg.Rules.Engine)
	if err != nil {
		return nil, err
	}

	fsys := vfs.NewOS(root)

	var synth *synthetic.Registry
	if !cfg.Synthetic.Disabled {
		manifest := cfg.Synthetic.Manifest
		if manifest == "" {
			manifest = synthetic.DefaultManifestPath
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(manifest))); err == nil {
			synth = synthetic.NewRegistry()
			if err := synth.Register(synthetic.NewManifestProvider(fsys, manifest)); err != nil {
				return nil, err
			}
		}
	}

	return session.New(session.Config{
		FS:           fsys,
		Engine:       engine,
		Synthetic:    synth,
		Patterns:     cfg.Build.Patterns,
		Ignores:      cfg.Build.Ignores,
		PreludeGlobs: cfg.Build.PreludeGlobs,
		Env:          cfg.SessionEnv(),
		Logger:       logger,
	})
}

// OpenStore opens and migrates the configured state store. The returned
// cleanup closes the connection and must be called (typically via defer).
func (c *CommandContext) OpenStore(ctx context.Context) (state.Store, func(), error) {
	storeCfg := state.Config{
		Backend: c.Cfg.State.Backend,
		Path:    c.statePath(),
		DSN:     c.Cfg.State.DSN,
	}
	store, err := state.NewStore(storeCfg, c.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Open(ctx, storeCfg); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	cleanup := func() { _ = store.Close() }
	return store, cleanup, nil
}

// statePath resolves the configured database file against the build root,
// keeping absolute paths as given.
func (c *CommandContext) statePath() string {
	p := c.Cfg.State.Path
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}
