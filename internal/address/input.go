package address

import (
	"fmt"
	"path"
	"strings"
)

// Input is a parsed but not yet validated reference: its path component
// has been split from the target/generated/parameter components, but
// nothing has checked what the path names on disk. The zero Input is not
// valid; construct one with Parse.
type Input struct {
	// Path is the file or directory component, relative to the build
	// root, slash-separated and cleaned.
	Path string

	// Target is the explicit target component, if the spec had one.
	Target string

	// Generated is the explicit generated-target component, if any.
	Generated string

	// Parameters holds the parsed @key=value qualifiers, if any.
	Parameters map[string]string

	// OriginDescription says where the spec text came from, for error
	// messages: a CLI argument, a dependencies field, a config key.
	OriginDescription string

	spec string
}

// ParseOption adjusts how Parse interprets a spec.
type ParseOption func(*parseOpts)

type parseOpts struct {
	relativeTo string
	origin     string
}

// RelativeTo resolves specs without a leading "//" against dir. A bare
// ":name" spec refers to a target in dir itself.
func RelativeTo(dir string) ParseOption {
	return func(o *parseOpts) { o.relativeTo = strings.Trim(path.Clean(dir), "/") }
}

// Origin records where the spec text came from, for diagnostics.
func Origin(description string) ParseOption {
	return func(o *parseOpts) { o.origin = description }
}

// Parse splits a textual spec into an Input. The grammar is
//
//	[//]path[:target][#generated][@key=val,...]
//
// Parse performs no filesystem access; pair it with Input.Resolve once
// existence facts are known.
func Parse(spec string, opts ...ParseOption) (Input, error) {
	var o parseOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.relativeTo == "." {
		o.relativeTo = ""
	}
	if strings.TrimSpace(spec) == "" {
		return Input{}, &InvalidSpecError{Spec: spec, Reason: "spec must not be empty"}
	}
	if strings.ContainsAny(spec, " \t\n") {
		return Input{}, &InvalidSpecError{Spec: spec, Reason: "spec must not contain whitespace"}
	}

	rest := spec
	params := map[string]string(nil)
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		var err error
		params, err = parseParameters(spec, rest[i+1:])
		if err != nil {
			return Input{}, err
		}
		rest = rest[:i]
	}

	generated := ""
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		generated = rest[i+1:]
		rest = rest[:i]
		if generated == "" {
			return Input{}, &InvalidSpecError{Spec: spec, Reason: "generated name after '#' must not be empty"}
		}
	}

	target := ""
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		target = rest[i+1:]
		rest = rest[:i]
		if target == "" {
			return Input{}, &InvalidSpecError{Spec: spec, Reason: "target name after ':' must not be empty"}
		}
		if strings.ContainsAny(target, ":/") {
			return Input{}, &InvalidSpecError{Spec: spec, Reason: fmt.Sprintf("target name %q contains a reserved character", target)}
		}
	}

	p, err := normalizePath(spec, rest, o.relativeTo)
	if err != nil {
		return Input{}, err
	}

	return Input{
		Path:              p,
		Target:            target,
		Generated:         generated,
		Parameters:        params,
		OriginDescription: o.origin,
		spec:              spec,
	}, nil
}

// MustParse is Parse for specs known valid at compile time, such as test
// fixtures. It panics on error.
func MustParse(spec string, opts ...ParseOption) Input {
	in, err := Parse(spec, opts...)
	if err != nil {
		panic(err)
	}
	return in
}

func normalizePath(spec, p, relativeTo string) (string, error) {
	rooted := strings.HasPrefix(p, "//")
	if rooted {
		p = p[2:]
	} else if strings.HasPrefix(p, "/") {
		return "", &InvalidSpecError{Spec: spec, Reason: "absolute paths are not allowed; prefix with '//' to anchor at the build root"}
	}
	if p == "" {
		if rooted {
			return "", nil
		}
		return relativeTo, nil
	}
	if !rooted && relativeTo != "" {
		p = relativeTo + "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = ""
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &InvalidSpecError{Spec: spec, Reason: "path escapes the build root"}
	}
	return cleaned, nil
}

func parseParameters(spec, raw string) (map[string]string, error) {
	params := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, &InvalidSpecError{Spec: spec, Reason: fmt.Sprintf("parameter %q must have the form key=value", pair)}
		}
		if _, dup := params[k]; dup {
			return nil, &InvalidSpecError{Spec: spec, Reason: fmt.Sprintf("parameter %q given twice", k)}
		}
		params[k] = v
	}
	return params, nil
}

// Spec returns the original spec text the Input was parsed from.
func (in Input) Spec() string {
	if in.spec != "" {
		return in.spec
	}
	// Fabricated inputs (tests) render from components.
	a := Address{SpecPath: in.Path, TargetName: in.Target, GeneratedName: in.Generated, Parameters: in.Parameters}
	return a.Spec()
}

// ExistenceFacts states what the Input's path component names on disk.
// They are supplied by an external filesystem collaborator; Resolve itself
// performs no I/O.
type ExistenceFacts struct {
	IsFile bool
	IsDir  bool
}

// Resolve validates the Input against filesystem existence facts and
// produces an Address.
//
// A path naming a file resolves to a file-backed (generated) address owned
// by the explicit target, or by the file's directory default target when
// the spec had none. A path naming a directory resolves to the explicit
// target, or the directory's default target name. A path naming neither is
// a *ResolveError carrying the original spec text and its origin.
func (in Input) Resolve(facts ExistenceFacts) (Address, error) {
	switch {
	case facts.IsFile:
		return in.fileAddress()
	case facts.IsDir, in.Path == "":
		return in.dirAddress()
	default:
		return Address{}, &ResolveError{
			Spec:              in.Spec(),
			OriginDescription: in.OriginDescription,
			Problem:           fmt.Sprintf("%q is neither a file nor a directory", in.Path),
		}
	}
}

func (in Input) fileAddress() (Address, error) {
	dir := path.Dir(in.Path)
	if dir == "." {
		dir = ""
	}
	file := path.Base(in.Path)
	if in.Generated != "" {
		return Address{}, &InvalidSpecError{
			Spec:   in.Spec(),
			Reason: "a file path cannot also carry a '#generated' component",
		}
	}
	name := in.Target
	if name == "" {
		name = DefaultTargetName(dir)
	}
	addr := Address{SpecPath: dir, TargetName: name, GeneratedName: file, Parameters: in.Parameters}
	if err := addr.validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func (in Input) dirAddress() (Address, error) {
	name := in.Target
	if name == "" && in.Path != "" {
		name = DefaultTargetName(in.Path)
	}
	addr := Address{SpecPath: in.Path, TargetName: name, GeneratedName: in.Generated, Parameters: in.Parameters}
	if err := addr.validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}
