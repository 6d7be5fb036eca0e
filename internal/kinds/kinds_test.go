package kinds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Builtins(t *testing.T) {
	r := DefaultRegistry()

	for _, alias := range []string{"target", "files", "shell_command", "shell_sources", "docker_image", "archive"} {
		assert.True(t, r.IsRegistered(alias), "expected builtin kind %q", alias)
	}

	k, ok := r.Get("shell_sources")
	require.True(t, ok)
	assert.True(t, k.Generator, "shell_sources should be a generator kind")

	k, ok = r.Get("shell_command")
	require.True(t, ok)
	assert.False(t, k.Generator)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Kind{Alias: "go_binary", Doc: "A Go binary."})
	require.NoError(t, err)
	assert.True(t, r.IsRegistered("go_binary"))

	err = r.Register(Kind{Alias: "go_binary"})
	assert.Error(t, err, "duplicate registration should fail")

	err = r.Register(Kind{})
	assert.Error(t, err, "empty alias should fail")
}

func TestRegistry_Aliases_Sorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Kind{Alias: "zeta"}))
	require.NoError(t, r.Register(Kind{Alias: "alpha"}))
	require.NoError(t, r.Register(Kind{Alias: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Aliases())
}
