package state_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/state"
	_ "github.com/quarrybuild/quarry/internal/state/sqlite"
	"github.com/quarrybuild/quarry/internal/synthetic"
	"github.com/quarrybuild/quarry/internal/testutil"
	"github.com/quarrybuild/quarry/internal/vfs"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// writeProject lays out a small build tree: defaults at the root, two
// targets in src/app, one in src/lib.
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "BUILD", `__defaults__({"shell_command": {"timeout": 30}})`)
	writeFile(t, root, "src/app/BUILD", `
shell_command(name="app", command="make build", dependencies=["src/lib:lib"])
resources(name="docs", sources=["*.md"])
`)
	writeFile(t, root, "src/lib/BUILD", `resources(name="lib", sources=["**/*.txt"])`)
	return root
}

func openTestStore(t *testing.T) state.Store {
	t.Helper()
	cfg := state.Config{Backend: "sqlite", Path: ":memory:"}
	store, err := state.NewStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.Open(context.Background(), cfg))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newIndexer builds a fresh session over root so file edits made since
// the previous pass are visible.
func newIndexer(t *testing.T, root string, store state.Store, salt string) *state.Indexer {
	t.Helper()
	sess, err := session.New(session.Config{
		FS:     vfs.NewOS(root),
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	ix, err := state.NewIndexer(state.IndexerConfig{
		Session: sess,
		Store:   store,
		Salt:    salt,
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return ix
}

func TestNewIndexer_Validation(t *testing.T) {
	_, err := state.NewIndexer(state.IndexerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Session is required")

	sess, err := session.New(session.Config{FS: vfs.NewOS(t.TempDir())})
	require.NoError(t, err)
	_, err = state.NewIndexer(state.IndexerConfig{Session: sess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Store is required")
}

func TestIndexer_Run_FirstPass(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	stats, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)

	// Visits the root, src, src/app, and src/lib.
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Removed)
	assert.Equal(t, 3, stats.Targets)

	dir, err := store.GetDirectory(ctx, "src/app")
	require.NoError(t, err)
	require.NotNil(t, dir)
	assert.Equal(t, 2, dir.TargetCount)

	target, err := store.GetTarget(ctx, "src/app:app")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "shell_command", target.Kind)
	assert.Equal(t, "src/app/BUILD", target.Origin)
	assert.Equal(t, "make build", target.Fields["command"])
	assert.Equal(t, []string{"src/lib:lib"}, target.Dependencies)

	dependents, err := store.GetDependents(ctx, "src/lib:lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app:app"}, dependents)

	run, err := store.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, state.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Directories)
	assert.Equal(t, 3, run.Targets)
}

func TestIndexer_Run_SecondPassSkips(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	_, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)

	stats, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, stats.Removed)
	// Skipped directories still report their live targets.
	assert.Equal(t, 3, stats.Targets)
}

func TestIndexer_Run_ReindexesChanged(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	_, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)

	writeFile(t, root, "src/lib/BUILD", `
resources(name="lib", sources=["**/*.txt"])
files(name="extra", sources=["*.dat"])
`)

	stats, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 4, stats.Targets)

	dir, err := store.GetDirectory(ctx, "src/lib")
	require.NoError(t, err)
	require.NotNil(t, dir)
	assert.Equal(t, 2, dir.TargetCount)
}

func TestIndexer_Run_SweepsRemoved(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	_, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "src/app/BUILD")))

	stats, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Targets)

	dir, err := store.GetDirectory(ctx, "src/app")
	require.NoError(t, err)
	assert.Nil(t, dir)

	target, err := store.GetTarget(ctx, "src/app:app")
	require.NoError(t, err)
	assert.Nil(t, target)
}

func TestIndexer_Run_SaltInvalidates(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	_, err := newIndexer(t, root, store, "v1").Run(ctx)
	require.NoError(t, err)

	stats, err := newIndexer(t, root, store, "v2").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)
}

func TestIndexer_Run_SyntheticAlwaysResolved(t *testing.T) {
	root := writeProject(t)
	writeFile(t, root, "quarry.synthetic.yaml", `
directories:
  src/vendored:
    - kind: resources
      name: schemas
      fields:
        sources: ["*.json"]
`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src/vendored"), 0o755))
	store := openTestStore(t)
	ctx := context.Background()

	run := func() *state.IndexStats {
		fs := vfs.NewOS(root)
		synth := synthetic.NewRegistry()
		require.NoError(t, synth.Register(synthetic.NewManifestProvider(fs, synthetic.DefaultManifestPath)))

		sess, err := session.New(session.Config{
			FS:        fs,
			Synthetic: synth,
			Logger:    testutil.NewTestLogger(t),
		})
		require.NoError(t, err)

		ix, err := state.NewIndexer(state.IndexerConfig{Session: sess, Store: store, Salt: "v1"})
		require.NoError(t, err)

		stats, err := ix.Run(ctx)
		require.NoError(t, err)
		return stats
	}

	first := run()
	assert.Equal(t, 4, first.Indexed)
	assert.Equal(t, 4, first.Targets)

	target, err := store.GetTarget(ctx, "src/vendored:schemas")
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "resources", target.Kind)

	// File-backed directories skip, the synthetic one re-resolves.
	second := run()
	assert.Equal(t, 1, second.Indexed)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 4, second.Targets)
}

type failingStore struct {
	state.Store
}

func (f *failingStore) ReplaceDirectory(context.Context, *state.Directory, []*state.Target) error {
	return fmt.Errorf("disk full")
}

func TestIndexer_Run_RecordsFailure(t *testing.T) {
	root := writeProject(t)
	store := openTestStore(t)
	ctx := context.Background()

	ix := newIndexerWithStore(t, root, &failingStore{Store: store})
	_, err := ix.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	run, err := store.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")
}

func newIndexerWithStore(t *testing.T, root string, store state.Store) *state.Indexer {
	t.Helper()
	sess, err := session.New(session.Config{
		FS:     vfs.NewOS(root),
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	ix, err := state.NewIndexer(state.IndexerConfig{Session: sess, Store: store, Salt: "v1"})
	require.NoError(t, err)
	return ix
}

func TestDirectoryHash(t *testing.T) {
	files := []vfs.FileContent{{Path: "BUILD", Content: []byte(`resources(name="x")`)}}

	h1 := state.DirectoryHash(files, "salt")
	assert.Len(t, h1, 16)
	assert.Equal(t, h1, state.DirectoryHash(files, "salt"), "hash should be stable")

	assert.NotEqual(t, h1, state.DirectoryHash(files, "other"), "salt should change the hash")

	changed := []vfs.FileContent{{Path: "BUILD", Content: []byte(`resources(name="y")`)}}
	assert.NotEqual(t, h1, state.DirectoryHash(changed, "salt"), "content should change the hash")

	assert.NotEqual(t, h1, state.DirectoryHash(nil, "salt"), "file-less hash should differ")
}
