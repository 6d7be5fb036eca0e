// Package vfs abstracts the filesystem facts resolution needs: which
// declaration files exist in a directory, what their contents are, and
// whether a path names a file or a directory. Implementations are rooted
// at the build root and speak slash-separated root-relative paths.
package vfs

// FileContent is one declaration file's path and raw content. Path is
// root-relative and slash-separated.
type FileContent struct {
	Path    string
	Content []byte
}

// ExistenceFacts reports what a path names on disk.
type ExistenceFacts struct {
	IsFile bool
	IsDir  bool
}

// FS supplies filesystem facts to the resolver. Implementations must be
// safe for concurrent use.
type FS interface {
	// ReadDeclarations returns the contents of files directly inside dir
	// (non-recursive) whose base name matches one of patterns and none of
	// ignores, in sorted path order. A directory with no matches, or no
	// directory at all, yields an empty slice and no error.
	ReadDeclarations(dir string, patterns, ignores []string) ([]FileContent, error)

	// Stat reports whether path names an existing file or directory. A
	// path naming neither is not an error; both facts are simply false.
	Stat(path string) (ExistenceFacts, error)

	// Glob expands a root-relative glob pattern to sorted matching file
	// paths. Used for prelude discovery.
	Glob(pattern string) ([]string, error)

	// ReadFile returns the contents of one file by root-relative path.
	ReadFile(path string) ([]byte, error)

	// WalkDirs visits every directory under the root in lexical order,
	// starting with the root itself as "". Directories whose base name
	// begins with a dot are skipped along with their subtrees.
	WalkDirs(fn func(dir string) error) error
}
