package quarry_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestQuarryImportsOnly verifies pkg/quarry only imports allowed packages.
// The Golden Rule: pkg/quarry imports ONLY resolution packages and stdlib.
func TestQuarryImportsOnly(t *testing.T) {
	allowedInternal := make(map[string]bool)
	for _, p := range []string{
		"address", "defaults", "deprules", "deprules/visibility", "family",
		"kinds", "parser", "prelude", "session", "synthetic", "vfs",
	} {
		allowedInternal["github.com/quarrybuild/quarry/internal/"+p] = true
	}

	fset := token.NewFileSet()
	quarryDir := "."

	entries, err := os.ReadDir(quarryDir)
	if err != nil {
		t.Fatalf("Failed to read quarry directory: %v", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		path := filepath.Join(quarryDir, entry.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			continue
		}

		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)

			// Allow stdlib (no dots in the first path element)
			if !strings.Contains(strings.SplitN(importPath, "/", 2)[0], ".") {
				continue
			}

			if !allowedInternal[importPath] {
				t.Errorf("%s imports forbidden package: %s", entry.Name(), importPath)
			}
		}
	}
}

// TestQuarryDoesNotImportOperational verifies the facade stays clear of
// the CLI, config, state, explorer, and watch layers.
func TestQuarryDoesNotImportOperational(t *testing.T) {
	forbidden := []string{
		"/internal/cli",
		"/internal/config",
		"/internal/explorer",
		"/internal/state",
		"/internal/watch",
	}

	fset := token.NewFileSet()
	quarryDir := "."

	entries, err := os.ReadDir(quarryDir)
	if err != nil {
		t.Fatalf("Failed to read quarry directory: %v", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		path := filepath.Join(quarryDir, entry.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			continue
		}

		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, frag := range forbidden {
				if strings.Contains(importPath, frag) {
					t.Errorf("%s imports operational package: %s (resolution only in pkg/quarry)", entry.Name(), importPath)
				}
			}
		}
	}
}
