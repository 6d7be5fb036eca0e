package parser

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
)

// ParseError reports a declaration file whose evaluation failed. The
// whole file is discarded; a directory containing it cannot build a
// snapshot.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	var evalErr *starlark.EvalError
	if errors.As(e.Err, &evalErr) {
		// The backtrace already carries file and line positions.
		return fmt.Sprintf("failed to parse declaration file %q:\n%s", e.Path, evalErr.Backtrace())
	}
	return fmt.Sprintf("failed to parse declaration file %q: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
