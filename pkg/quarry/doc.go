// Package quarry is the public entry point for embedding build graph
// resolution.
//
// This package contains:
//   - Open, which builds a resolution Session over a build tree on disk
//   - Aliases for the core value types (Address, Family, TargetAdaptor)
//   - Spec parsing helpers (Parse, MustParse) and their options
//   - The error types callers match with errors.As
//
// The Golden Rule: pkg/quarry exposes resolution only. It never imports
// the operational packages (cli, config, state, explorer, watch); those
// stay behind the quarry binary.
package quarry
