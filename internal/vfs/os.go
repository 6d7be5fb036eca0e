package vfs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// OS implements FS over the local filesystem, rooted at a build root
// directory.
type OS struct {
	Root string
}

// NewOS creates an FS rooted at root.
func NewOS(root string) *OS {
	return &OS{Root: root}
}

func (o *OS) abs(rel string) string {
	return filepath.Join(o.Root, filepath.FromSlash(rel))
}

// ReadDeclarations implements FS.
func (o *OS) ReadDeclarations(dir string, patterns, ignores []string) ([]FileContent, error) {
	entries, err := os.ReadDir(o.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}

	var out []FileContent
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		relPath := path.Join(dir, name)
		if !MatchesDeclaration(patterns, ignores, relPath) {
			continue
		}
		content, err := os.ReadFile(o.abs(relPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read declaration file %q: %w", relPath, err)
		}
		out = append(out, FileContent{Path: relPath, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stat implements FS.
func (o *OS) Stat(rel string) (ExistenceFacts, error) {
	if rel == "" {
		rel = "."
	}
	info, err := os.Stat(o.abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return ExistenceFacts{}, nil
		}
		return ExistenceFacts{}, fmt.Errorf("failed to stat %q: %w", rel, err)
	}
	return ExistenceFacts{IsFile: !info.IsDir(), IsDir: info.IsDir()}, nil
}

// Glob implements FS.
func (o *OS) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(o.Root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(o.Root, m)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile implements FS.
func (o *OS) ReadFile(rel string) ([]byte, error) {
	content, err := os.ReadFile(o.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", rel, err)
	}
	return content, nil
}

// WalkDirs implements FS.
func (o *OS) WalkDirs(fn func(dir string) error) error {
	return filepath.WalkDir(o.Root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %q: %w", p, err)
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(o.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return fn("")
		}
		if name := path.Base(rel); len(name) > 0 && name[0] == '.' {
			return filepath.SkipDir
		}
		return fn(rel)
	})
}

// MatchesDeclaration reports whether relPath names a declaration file
// under the given patterns and ignores. Each pattern matches against
// the base name or the full root-relative path.
func MatchesDeclaration(patterns, ignores []string, relPath string) bool {
	name := path.Base(relPath)
	return matchesAny(patterns, name, relPath) && !matchesAny(ignores, name, relPath)
}

// matchesAny reports whether the base name or the root-relative path
// matches one of the glob patterns.
func matchesAny(patterns []string, name, relPath string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, relPath); ok {
			return true
		}
	}
	return false
}
