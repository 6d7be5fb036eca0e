package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(t.TempDir(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"BUILD", "BUILD.quarry"}, cfg.Build.Patterns)
	assert.Equal(t, "quarry.synthetic.yaml", cfg.Synthetic.Manifest)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, "auto", cfg.Output)
	assert.Equal(t, 100, cfg.Watch.DebounceMS)
	assert.Empty(t, cfg.Rules.Engine)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, `
build:
  patterns: ["BUILD", "BUILD.oss"]
  prelude_globs: ["preludes/*.star"]
rules:
  engine: visibility
env:
  allow: ["CI"]
output: json
`)

	cfg, err := Load(root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BUILD", "BUILD.oss"}, cfg.Build.Patterns)
	assert.Equal(t, []string{"preludes/*.star"}, cfg.Build.PreludeGlobs)
	assert.Equal(t, "visibility", cfg.Rules.Engine)
	assert.Equal(t, []string{"CI"}, cfg.Env.Allow)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, "sqlite", cfg.State.Backend, "unset keys keep their defaults")
}

func TestLoad_AltExtensionAndExplicitFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileNameAlt, `output: markdown`)

	cfg, err := Load(root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.Output)

	other := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(other, []byte(`output: text`), 0o644))
	cfg, err = Load(root, other, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output, "an explicit config file wins over the root lookup")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, `output: json`)
	t.Setenv("QUARRY_OUTPUT", "markdown")
	t.Setenv("QUARRY_RULES__ENGINE", "visibility")

	cfg, err := Load(root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.Output)
	assert.Equal(t, "visibility", cfg.Rules.Engine)
}

func TestLoad_EnvListSplitsOnComma(t *testing.T) {
	root := t.TempDir()
	t.Setenv("QUARRY_BUILD__PATTERNS", "BUILD,BUILD.bazel")

	cfg, err := Load(root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BUILD", "BUILD.bazel"}, cfg.Build.Patterns)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, `output: json`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "auto", "")
	flags.String("rules-engine", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--output=text", "--verbose"}))

	cfg, err := Load(root, "", flags)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Output, "a changed flag beats the file")
	assert.True(t, cfg.Verbose)
	assert.Empty(t, cfg.Rules.Engine, "an unchanged flag must not clobber other layers")
}

func TestLoad_Validation(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, `output: sideways`)
	_, err := Load(root, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid output mode "sideways"`)

	root = t.TempDir()
	writeConfig(t, root, ConfigFileName, `
state:
  backend: oracle
`)
	_, err = Load(root, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid state backend "oracle"`)

	root = t.TempDir()
	writeConfig(t, root, ConfigFileName, `
build:
  patterns: []
`)
	_, err = Load(root, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.patterns must not be empty")
}

func TestFindBuildRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, `output: auto`)
	nested := filepath.Join(root, "src", "app")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindBuildRoot(nested))
	assert.Equal(t, root, FindBuildRoot(root))

	outside := t.TempDir()
	assert.Equal(t, "", FindBuildRoot(outside))
}

func TestSessionEnv(t *testing.T) {
	t.Setenv("QUARRY_TEST_CI", "true")
	cfg := &Config{Env: EnvConfig{Allow: []string{"QUARRY_TEST_CI", "QUARRY_TEST_UNSET", " "}}}

	env := cfg.SessionEnv()
	assert.Equal(t, map[string]string{"QUARRY_TEST_CI": "true"}, env)
}
