package explorer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/testutil"
	"github.com/quarrybuild/quarry/internal/vfs"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

func newTestSession(t *testing.T, root string) *session.Session {
	t.Helper()
	sess, err := session.New(session.Config{
		FS:     vfs.NewOS(root),
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return sess
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := writeTree(t, map[string]string{
		"BUILD": `__defaults__({"shell_command": {"timeout": 30}})`,
		"src/app/BUILD": `
shell_command(name="app", command="make build", dependencies=["src/lib:lib"])
resources(name="docs", sources=["*.md"])
`,
		"src/lib/BUILD": `resources(name="lib", sources=["**/*.txt"])`,
		"broken/BUILD":  `shell_command(name="x"`,
	})
	s, err := NewServer(Config{
		Session: newTestSession(t, root),
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	}
	return rec, body
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Session is required")

	sess := newTestSession(t, t.TempDir())
	_, err = NewServer(Config{Session: sess, Watch: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Root is required")

	_, err = NewServer(Config{Session: sess, Watch: true, Root: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rebuild is required")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandleFamily(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/families/src/app")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "src/app", body["directory"])
	assert.Equal(t, false, body["empty"])

	targets, ok := body["targets"].([]any)
	require.True(t, ok, "targets: %v", body["targets"])
	require.Len(t, targets, 2)

	first := targets[0].(map[string]any)
	assert.Equal(t, "src/app:app", first["address"])
	assert.Equal(t, "shell_command", first["kind"])
	assert.Equal(t, "src/app/BUILD", first["origin"])
	fields := first["fields"].(map[string]any)
	assert.Equal(t, "make build", fields["command"])

	// Inherited defaults ride along with the snapshot.
	defaults, ok := body["defaults"].(map[string]any)
	require.True(t, ok)
	shell := defaults["shell_command"].(map[string]any)
	assert.Equal(t, float64(30), shell["timeout"])
}

func TestHandleFamily_Root(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/families/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "//", body["directory"])
	assert.Equal(t, false, body["empty"])
}

func TestHandleFamily_EmptyDirectory(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/families/src")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "src", body["directory"])
	assert.Equal(t, true, body["empty"])
	assert.NotContains(t, body, "targets")
}

func TestHandleFamily_EscapesRoot(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/families/../outside")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "escapes the build root")
}

func TestHandleFamily_ParseError(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/families/broken")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestHandleTargets(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/targets?spec=src/app:app")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "src/app:app", body["spec"])
	targets := body["targets"].([]any)
	require.Len(t, targets, 1)
	assert.Equal(t, "shell_command", targets[0].(map[string]any)["kind"])

	// A directory spec expands to every target declared there.
	rec, body = get(t, s, "/api/targets?spec=src/app")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["targets"].([]any), 2)
}

func TestHandleTargets_Errors(t *testing.T) {
	s := newTestServer(t)

	rec, body := get(t, s, "/api/targets")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "missing spec")

	rec, _ = get(t, s, "/api/targets?spec=src%20app")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, s, "/api/targets?spec=src/app:missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, s, "/api/targets?spec=no/such/dir")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidate_SwapsSession(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/app/BUILD": `shell_command(name="app", command="make build")`,
	})
	s, err := NewServer(Config{
		Session: newTestSession(t, root),
		Rebuild: func() (*session.Session, error) {
			return session.New(session.Config{FS: vfs.NewOS(root)})
		},
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	_, body := get(t, s, "/api/families/src/app")
	assert.Len(t, body["targets"].([]any), 1)

	// The old session serves the memoized snapshot even after the edit.
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/app/BUILD"), []byte(`
shell_command(name="app", command="make build")
resources(name="docs", sources=["*.md"])
`), 0o644))
	_, body = get(t, s, "/api/families/src/app")
	assert.Len(t, body["targets"].([]any), 1)

	s.invalidate()
	_, body = get(t, s, "/api/families/src/app")
	assert.Len(t, body["targets"].([]any), 2)
}

func TestInvalidate_KeepsSessionOnRebuildFailure(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/app/BUILD": `shell_command(name="app", command="make build")`,
	})
	s, err := NewServer(Config{
		Session: newTestSession(t, root),
		Rebuild: func() (*session.Session, error) {
			return nil, fmt.Errorf("rebuild exploded")
		},
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	before := s.session()
	s.invalidate()
	assert.Same(t, before, s.session())
}
