package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/cli/testutil"
	"github.com/quarrybuild/quarry/internal/config"
)

func TestPeekCommand_Directory(t *testing.T) {
	root := testutil.SetupTestProject(t)

	stdout, _, err := execCommand(t, NewPeekCommand(), root, jsonConfig(), "src/app")
	require.NoError(t, err)

	var got []output.FamilyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 1)

	fo := got[0]
	assert.Equal(t, "src/app", fo.Directory)
	assert.False(t, fo.Empty)
	assert.Equal(t, []string{"src/app/BUILD"}, fo.Files)
	require.Len(t, fo.Targets, 2)
	assert.Equal(t, "src/app:app", fo.Targets[0].Address)
	assert.Equal(t, "src/app:tools", fo.Targets[1].Address)

	// The root's __defaults__ ride along and are overlaid on each target.
	assert.Equal(t, float64(30), fo.Defaults["shell_command"]["timeout"])
	assert.Equal(t, "run.sh", fo.Targets[0].Fields["command"])
	assert.Equal(t, float64(30), fo.Targets[0].Fields["timeout"])
}

func TestPeekCommand_SingleTarget(t *testing.T) {
	root := testutil.SetupTestProject(t)

	stdout, _, err := execCommand(t, NewPeekCommand(), root, jsonConfig(), "src/app:tools")
	require.NoError(t, err)

	var got []output.FamilyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 1)
	require.Len(t, got[0].Targets, 1)
	assert.Equal(t, "src/app:tools", got[0].Targets[0].Address)
}

func TestPeekCommand_EmptyDirectory(t *testing.T) {
	root := testutil.SetupTestProject(t)

	stdout, _, err := execCommand(t, NewPeekCommand(), root, jsonConfig(), "src")
	require.NoError(t, err)

	var got []output.FamilyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 1)
	assert.True(t, got[0].Empty)
	assert.Empty(t, got[0].Targets)
}

func TestPeekCommand_UnknownTarget(t *testing.T) {
	root := testutil.SetupTestProject(t)

	_, _, err := execCommand(t, NewPeekCommand(), root, jsonConfig(), "src/app:ap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"src/app:ap"`)
	assert.Contains(t, err.Error(), ":app")
}

func TestPeekCommand_Markdown(t *testing.T) {
	root := testutil.SetupTestProject(t)

	stdout, _, err := execCommand(t, NewPeekCommand(), root, config.Default(), "src/lib")
	require.NoError(t, err)

	testutil.AssertNoANSI(t, stdout)
	testutil.AssertValidMarkdown(t, stdout)
	assert.Contains(t, stdout, "# src/lib")
	assert.Contains(t, stdout, "## src/lib:lib")
	assert.Contains(t, stdout, "- **Kind**: resources")
	assert.Contains(t, stdout, "- **sources**: [*.txt]")
}
