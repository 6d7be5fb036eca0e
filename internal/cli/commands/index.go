package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/config"
	"github.com/quarrybuild/quarry/internal/state"
	"github.com/quarrybuild/quarry/internal/synthetic"
)

// NewIndexCommand creates the index command.
func NewIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Persist the resolved build graph to the state store",
		Long: `Walk the build tree, resolve every directory's declarations, and
write the targets into the configured state store.

Directories whose declaration files are unchanged since the last run are
skipped; rows for directories that no longer declare targets are swept.
The store backend and location come from state.* in quarry.yaml.`,
		Example: `  # Index into the default sqlite store (.quarry/index.db)
  quarry index

  # Index into postgres
  quarry index --state-backend postgres --state-dsn "postgres://..."

  # Machine-readable stats
  quarry index --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd)
		},
	}
	return cmd
}

func runIndex(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	store, cleanup, err := cmdCtx.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ix, err := state.NewIndexer(state.IndexerConfig{
		Session: sess,
		Store:   store,
		Salt:    manifestSalt(cmdCtx.Root, cmdCtx.Cfg),
		Logger:  cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	spinner := r.NewSpinner("Indexing build tree...")
	spinner.Start()
	started := time.Now()

	stats, err := ix.Run(ctx)
	if err != nil {
		spinner.Fail("Indexing failed")
		return err
	}
	spinner.Success(fmt.Sprintf("Indexed in %s", time.Since(started).Round(time.Millisecond)))

	return renderIndexStats(stats, r)
}

// manifestSalt fingerprints the synthetic manifest so editing it
// invalidates every directory hash in the store.
func manifestSalt(root string, cfg *config.Config) string {
	if cfg.Synthetic.Disabled {
		return ""
	}
	manifest := cfg.Synthetic.Manifest
	if manifest == "" {
		manifest = synthetic.DefaultManifestPath
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(manifest)))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func renderIndexStats(stats *state.IndexStats, r *output.Renderer) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		payload := struct {
			Scanned int `json:"scanned"`
			Indexed int `json:"indexed"`
			Skipped int `json:"skipped"`
			Removed int `json:"removed"`
			Targets int `json:"targets"`
		}{stats.Scanned, stats.Indexed, stats.Skipped, stats.Removed, stats.Targets}
		return r.JSON(payload)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Index run"))
		r.Println("")
		r.Println(output.FormatKeyValue("Directories scanned", fmt.Sprintf("%d", stats.Scanned)))
		r.Println(output.FormatKeyValue("Indexed", fmt.Sprintf("%d", stats.Indexed)))
		r.Println(output.FormatKeyValue("Skipped (unchanged)", fmt.Sprintf("%d", stats.Skipped)))
		r.Println(output.FormatKeyValue("Removed", fmt.Sprintf("%d", stats.Removed)))
		r.Println(output.FormatKeyValue("Targets", fmt.Sprintf("%d", stats.Targets)))
		return nil
	default:
		r.Header(1, "Index run")
		r.StatusLine("scanned", "", fmt.Sprintf("%d directories", stats.Scanned))
		r.StatusLine("indexed", "success", fmt.Sprintf("%d directories", stats.Indexed))
		r.StatusLine("skipped", "skipped", fmt.Sprintf("%d unchanged", stats.Skipped))
		if stats.Removed > 0 {
			r.StatusLine("removed", "", fmt.Sprintf("%d stale directories", stats.Removed))
		}
		r.Println("")
		r.Success(fmt.Sprintf("%d targets indexed", stats.Targets))
		return nil
	}
}
