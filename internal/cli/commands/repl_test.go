package commands

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrybuild/quarry/internal/cli/testutil"
	"github.com/quarrybuild/quarry/internal/config"
	"github.com/quarrybuild/quarry/internal/session"
)

func newREPLSession(t *testing.T) *session.Session {
	t.Helper()
	root := testutil.SetupTestProject(t)
	sess, err := NewProjectSession(root, config.Default(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return sess
}

func TestResolveAndPrint_Directory(t *testing.T) {
	sess := newREPLSession(t)
	buf := &bytes.Buffer{}

	require.NoError(t, resolveAndPrint(context.Background(), buf, sess, "src/app"))

	got := buf.String()
	assert.Contains(t, got, "src/app:app")
	assert.Contains(t, got, "src/app:tools")
	assert.Contains(t, got, "shell_command")
}

func TestResolveAndPrint_SingleTargetShowsFields(t *testing.T) {
	sess := newREPLSession(t)
	buf := &bytes.Buffer{}

	require.NoError(t, resolveAndPrint(context.Background(), buf, sess, "src/lib:lib"))

	got := buf.String()
	assert.Contains(t, got, "src/lib:lib")
	assert.Contains(t, got, "sources = [*.txt]")
}

func TestResolveAndPrint_BadSpec(t *testing.T) {
	sess := newREPLSession(t)

	err := resolveAndPrint(context.Background(), &bytes.Buffer{}, sess, "no/such/dir")
	require.Error(t, err)
}

func TestPrintDeclaredDirs(t *testing.T) {
	sess := newREPLSession(t)
	buf := &bytes.Buffer{}

	require.NoError(t, printDeclaredDirs(context.Background(), buf, sess))

	got := buf.String()
	assert.Contains(t, got, "src/app\n")
	assert.Contains(t, got, "src/lib\n")
}

func TestNewSpecCompleter(t *testing.T) {
	sess := newREPLSession(t)

	completer := newSpecCompleter(context.Background(), sess)
	require.NotNil(t, completer)

	// Directory prefixes complete to the declared addresses.
	line := []rune("src/app")
	candidates, _ := completer.Do(line, len(line))
	assert.NotEmpty(t, candidates)
}
