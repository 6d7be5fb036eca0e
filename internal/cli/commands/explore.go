package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/explorer"
	"github.com/quarrybuild/quarry/internal/session"
)

// ExploreOptions holds options for the explore command.
type ExploreOptions struct {
	Listen string
	Watch  bool
}

// NewExploreCommand creates the explore command.
func NewExploreCommand() *cobra.Command {
	opts := &ExploreOptions{}

	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Serve the build graph over a JSON HTTP API",
		Long: `Start a local HTTP server answering build graph queries as JSON.

Endpoints:
  GET /api/health            liveness probe
  GET /api/families/{dir}    one directory's snapshot
  GET /api/targets?spec=...  targets matched by a spec

With --watch, edits to declaration files rebuild the resolution session
so answers never go stale.`,
		Example: `  # Serve on the configured address (default 127.0.0.1:8745)
  quarry explore

  # Serve elsewhere and follow edits
  quarry explore --listen 127.0.0.1:9000 --watch

  # Query it
  curl localhost:8745/api/targets?spec=src/app`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExplore(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address (default from explore.listen)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Rebuild the session when declaration files change")

	return cmd
}

func runExplore(cmd *cobra.Command, opts *ExploreOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	addr := opts.Listen
	if addr == "" {
		addr = cmdCtx.Cfg.Explore.Listen
	}

	root, cfg, logger := cmdCtx.Root, cmdCtx.Cfg, cmdCtx.Logger
	srv, err := explorer.NewServer(explorer.Config{
		Session: sess,
		Rebuild: func() (*session.Session, error) {
			return NewProjectSession(root, cfg, logger)
		},
		Addr:     addr,
		Watch:    opts.Watch,
		Root:     root,
		Debounce: time.Duration(cfg.Watch.DebounceMS) * time.Millisecond,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	r.Printf("Serving build graph API on http://%s\n", addr)
	if opts.Watch {
		r.Muted("watching declaration files for changes")
	}
	r.Muted("press Ctrl+C to stop")

	if err := srv.Serve(cmd.Context()); err != nil {
		return fmt.Errorf("explorer: %w", err)
	}
	return nil
}
