package state

import (
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct{ Store }

func TestUnknownBackendError_Error(t *testing.T) {
	err := &UnknownBackendError{
		Backend:   "fake_db",
		Available: []string{"postgres", "sqlite"},
	}

	msg := err.Error()

	assert.NotEmpty(t, msg, "error message should not be empty")

	// Should mention the backend
	assert.Contains(t, msg, "fake_db", "error should mention the unknown backend 'fake_db'")

	// Should hint about config
	assert.Contains(t, msg, "quarry.yaml", "error should mention config file")
}

func TestRegister(t *testing.T) {
	Register("test_backend_internal", func(_ *slog.Logger) Store { return &stubStore{} })

	assert.True(t, IsRegistered("test_backend_internal"), "test_backend_internal should be registered after Register()")

	factory, ok := Get("test_backend_internal")
	assert.True(t, ok, "Get(test_backend_internal) should return true after Register()")
	assert.NotNil(t, factory, "Get(test_backend_internal) should return non-nil factory")
}

func TestNewStore_EmptyBackend(t *testing.T) {
	_, err := NewStore(Config{}, nil)
	require.Error(t, err, "NewStore with empty backend should fail")
	assert.Equal(t, "state backend not specified", err.Error(), "error message")
}

func TestNewStore_Unknown(t *testing.T) {
	Register("test_backend_known", func(_ *slog.Logger) Store { return &stubStore{} })

	_, err := NewStore(Config{Backend: "test_backend_missing"}, nil)
	require.Error(t, err)

	var unknownErr *UnknownBackendError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "test_backend_missing", unknownErr.Backend)
	assert.Contains(t, unknownErr.Available, "test_backend_known")
}

func TestNewStore_Registered(t *testing.T) {
	want := &stubStore{}
	Register("test_backend_factory", func(_ *slog.Logger) Store { return want })

	store, err := NewStore(Config{Backend: "test_backend_factory"}, nil)
	require.NoError(t, err)
	assert.Same(t, want, store)
}

func TestListBackends_Sorted(t *testing.T) {
	Register("test_backend_zz", func(_ *slog.Logger) Store { return &stubStore{} })
	Register("test_backend_aa", func(_ *slog.Logger) Store { return &stubStore{} })

	names := ListBackends()
	assert.True(t, sort.StringsAreSorted(names), "backend names should be sorted: %v", names)
	assert.Contains(t, names, "test_backend_aa")
	assert.Contains(t, names, "test_backend_zz")
}
