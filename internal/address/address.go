// Package address defines target addresses and the textual spec grammar
// used to reference them.
//
// An address names one declared target: a directory path, a target name,
// an optional generated-target name, and optional parameters. The textual
// form is
//
//	path/to/dir:name#generated@key=val,key2=val2
//
// where every component after the path is optional. A leading "//" anchors
// the path at the build root, and a bare ":name" is relative to a
// caller-supplied directory.
package address

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Address is the resolved, unambiguous reference to one declared (or
// generated) target. It is an immutable value; use Spec for a canonical
// string form suitable as a map key.
type Address struct {
	// SpecPath is the directory holding the target's declaration,
	// relative to the build root. Empty means the build root itself.
	SpecPath string

	// TargetName is the name of the declared target.
	TargetName string

	// GeneratedName distinguishes a target generated from the declared
	// target named TargetName. File-backed addresses use the file's path
	// relative to SpecPath as their generated name.
	GeneratedName string

	// Parameters are optional key=value qualifiers carried through
	// resolution opaquely.
	Parameters map[string]string
}

// IsGenerated reports whether the address refers to a generated target
// rather than a declared one.
func (a Address) IsGenerated() bool {
	return a.GeneratedName != ""
}

// ToTargetGenerator returns the address of the declaration that owns this
// address: generated name stripped, parameters kept.
func (a Address) ToTargetGenerator() Address {
	return Address{SpecPath: a.SpecPath, TargetName: a.TargetName, Parameters: a.Parameters}
}

// Spec renders the canonical textual form of the address. Parameters are
// rendered in sorted key order so equal addresses render identically.
func (a Address) Spec() string {
	var b strings.Builder
	if a.SpecPath == "" {
		b.WriteString("//")
	} else {
		b.WriteString(a.SpecPath)
	}
	b.WriteByte(':')
	b.WriteString(a.TargetName)
	if a.GeneratedName != "" {
		b.WriteByte('#')
		b.WriteString(a.GeneratedName)
	}
	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('@')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(a.Parameters[k])
		}
	}
	return b.String()
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Spec() }

// Equal reports whether two addresses name the same target, parameters
// included (order-insensitive).
func (a Address) Equal(other Address) bool {
	if a.SpecPath != other.SpecPath || a.TargetName != other.TargetName || a.GeneratedName != other.GeneratedName {
		return false
	}
	if len(a.Parameters) != len(other.Parameters) {
		return false
	}
	for k, v := range a.Parameters {
		if ov, ok := other.Parameters[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// DefaultTargetName returns the target name implied by a directory path
// when a spec omits the target component. The build root implies no name;
// root targets are always referenced explicitly.
func DefaultTargetName(specPath string) string {
	if specPath == "" {
		return ""
	}
	return path.Base(specPath)
}

// validate rejects addresses that could never have been declared.
func (a Address) validate() error {
	if a.SpecPath == "" && a.TargetName == "" {
		return &InvalidSpecError{Spec: a.Spec(), Reason: "addresses at the build root must name a target, like //:example"}
	}
	if a.TargetName == "" {
		return &InvalidSpecError{Spec: a.Spec(), Reason: "target name must not be empty"}
	}
	if strings.ContainsAny(a.TargetName, "#@:/ ") {
		return &InvalidSpecError{Spec: a.Spec(), Reason: fmt.Sprintf("target name %q contains a reserved character", a.TargetName)}
	}
	return nil
}
