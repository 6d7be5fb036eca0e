package family

import "fmt"

// DuplicateNameError reports two declarations in one directory sharing a
// target name. PreviousPath is empty when both live in the same file.
type DuplicateNameError struct {
	Name         string
	Path         string
	PreviousPath string
}

func (e *DuplicateNameError) Error() string {
	if e.PreviousPath == "" || e.PreviousPath == e.Path {
		return fmt.Sprintf("a target named %q is defined more than once in %q; target names must be unique within a directory", e.Name, e.Path)
	}
	return fmt.Sprintf("a target named %q is already defined in %q, but is defined again in %q; target names must be unique within a directory", e.Name, e.PreviousPath, e.Path)
}
