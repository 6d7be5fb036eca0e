package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTree(t *testing.T) *OS {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"BUILD":                "top",
		"src/app/BUILD":        "app",
		"src/app/BUILD.quarry": "app extra",
		"src/app/main.sh":      "#!/bin/sh",
		"src/app/BUILD.bak":    "old",
		"preludes/macros.star": "X = 1",
	}
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewOS(root)
}

func TestOS_ReadDeclarations(t *testing.T) {
	fs := setupTree(t)

	got, err := fs.ReadDeclarations("src/app", []string{"BUILD", "BUILD.*"}, []string{"*.bak"})
	if err != nil {
		t.Fatalf("ReadDeclarations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 declaration files, got %d", len(got))
	}
	if got[0].Path != "src/app/BUILD" || got[1].Path != "src/app/BUILD.quarry" {
		t.Errorf("unexpected paths: %q, %q", got[0].Path, got[1].Path)
	}
	if string(got[0].Content) != "app" {
		t.Errorf("unexpected content %q", got[0].Content)
	}
}

func TestOS_ReadDeclarations_RootDir(t *testing.T) {
	fs := setupTree(t)

	got, err := fs.ReadDeclarations("", []string{"BUILD"}, nil)
	if err != nil {
		t.Fatalf("ReadDeclarations failed: %v", err)
	}
	if len(got) != 1 || got[0].Path != "BUILD" {
		t.Fatalf("expected the root BUILD file, got %+v", got)
	}
}

func TestOS_ReadDeclarations_MissingDir(t *testing.T) {
	fs := setupTree(t)

	got, err := fs.ReadDeclarations("no/such/dir", []string{"BUILD"}, nil)
	if err != nil {
		t.Fatalf("missing directory should not error, got: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no files, got %d", len(got))
	}
}

func TestOS_Stat(t *testing.T) {
	fs := setupTree(t)

	facts, err := fs.Stat("src/app/main.sh")
	if err != nil {
		t.Fatal(err)
	}
	if !facts.IsFile || facts.IsDir {
		t.Errorf("expected file facts, got %+v", facts)
	}

	facts, err = fs.Stat("src/app")
	if err != nil {
		t.Fatal(err)
	}
	if facts.IsFile || !facts.IsDir {
		t.Errorf("expected dir facts, got %+v", facts)
	}

	facts, err = fs.Stat("nope")
	if err != nil {
		t.Fatal(err)
	}
	if facts.IsFile || facts.IsDir {
		t.Errorf("expected empty facts for missing path, got %+v", facts)
	}

	facts, err = fs.Stat("")
	if err != nil {
		t.Fatal(err)
	}
	if !facts.IsDir {
		t.Error("empty path should stat the build root itself")
	}
}

func TestOS_Glob(t *testing.T) {
	fs := setupTree(t)

	got, err := fs.Glob("preludes/*.star")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "preludes/macros.star" {
		t.Fatalf("unexpected glob result: %v", got)
	}
}

func TestOS_ReadFile(t *testing.T) {
	fs := setupTree(t)

	content, err := fs.ReadFile("preludes/macros.star")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "X = 1" {
		t.Errorf("unexpected content %q", content)
	}

	if _, err := fs.ReadFile("no/such/file"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestOS_WalkDirs(t *testing.T) {
	fs := setupTree(t)
	if err := os.MkdirAll(filepath.Join(fs.Root, ".git", "objects"), 0o755); err != nil {
		t.Fatal(err)
	}

	var visited []string
	err := fs.WalkDirs(func(dir string) error {
		visited = append(visited, dir)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDirs failed: %v", err)
	}

	want := []string{"", "preludes", "src", "src/app"}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i, dir := range want {
		if visited[i] != dir {
			t.Errorf("visited[%d] = %q, want %q", i, visited[i], dir)
		}
	}
}

func TestMatchesDeclaration(t *testing.T) {
	tests := []struct {
		relPath  string
		patterns []string
		ignores  []string
		want     bool
	}{
		{"src/app/BUILD", []string{"BUILD"}, nil, true},
		{"src/app/BUILD.quarry", []string{"BUILD", "BUILD.*"}, nil, true},
		{"src/app/BUILD.bak", []string{"BUILD", "BUILD.*"}, []string{"*.bak"}, false},
		{"src/app/main.sh", []string{"BUILD"}, nil, false},
		{"BUILD", []string{"BUILD"}, nil, true},
		{"src/app/BUILD", nil, nil, false},
	}
	for _, tt := range tests {
		got := MatchesDeclaration(tt.patterns, tt.ignores, tt.relPath)
		if got != tt.want {
			t.Errorf("MatchesDeclaration(%v, %v, %q) = %v, want %v", tt.patterns, tt.ignores, tt.relPath, got, tt.want)
		}
	}
}
