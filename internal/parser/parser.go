// Package parser evaluates declaration files. A declaration file is a
// Starlark statement sequence with a fixed vocabulary: one callable per
// registered target kind, the __defaults__ and dependency-rules
// directives, env() for allowlisted environment reads, plus whatever
// symbols the session's preludes contributed. There is no load(), no
// print side channel, and no filesystem access.
package parser

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/kinds"
)

// threadStateKey locates the current file's parse state on a Starlark
// thread. Builtins dispatch through it so that helper functions defined
// in preludes can declare targets into whichever file invokes them.
const threadStateKey = "quarry.parse.state"

// Config configures a Parser.
type Config struct {
	// Kinds supplies the target kind callables. Nil uses the builtin
	// catalog.
	Kinds *kinds.Registry

	// Env is the allowlisted environment visible to env().
	Env map[string]string

	// Logger receives debug records; nil discards.
	Logger *slog.Logger
}

// Parser turns declaration file content into address maps. A Parser is
// immutable after construction and safe for concurrent use; per-file
// mutable state lives on the evaluating thread.
type Parser struct {
	kinds    *kinds.Registry
	env      map[string]string
	logger   *slog.Logger
	builtins starlark.StringDict
	predecl  starlark.StringDict
}

// New creates a Parser with no prelude symbols attached.
func New(cfg Config) *Parser {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := cfg.Kinds
	if registry == nil {
		registry = kinds.DefaultRegistry()
	}
	p := &Parser{
		kinds:  registry,
		env:    cfg.Env,
		logger: logger,
	}
	p.builtins = p.buildSymbols()
	p.predecl = p.builtins
	return p
}

// Symbols returns the builtin symbol table: kind callables, directives
// and env(). Prelude files are evaluated against exactly this table so
// the helpers they define resolve the same builtins declaration files do.
func (p *Parser) Symbols() starlark.StringDict {
	return p.builtins
}

// WithPrelude returns a Parser whose declaration files also see the
// given prelude symbols. Builtins shadow prelude symbols of the same
// name.
func (p *Parser) WithPrelude(prelude starlark.StringDict) *Parser {
	merged := make(starlark.StringDict, len(prelude)+len(p.builtins))
	for name, value := range prelude {
		merged[name] = value
	}
	for name, value := range p.builtins {
		merged[name] = value
	}
	clone := *p
	clone.predecl = merged
	return &clone
}

// Builders carries the per-directory mutable state one parse pass threads
// through every file of the directory, in sorted path order. The same
// Builders value must be reused across the directory's files so later
// files observe earlier directives.
type Builders struct {
	Defaults          *defaults.BuilderState
	DependenciesRules *deprules.BuilderState
	DependentsRules   *deprules.BuilderState
}

// ParseFile evaluates one declaration file into an AddressMap. Any
// statement failure aborts the whole file and returns a *ParseError; the
// file contributes nothing in that case.
func (p *Parser) ParseFile(filePath string, content []byte, builders Builders) (*family.AddressMap, error) {
	dir := path.Dir(filePath)
	if dir == "." {
		dir = ""
	}

	st := &fileState{
		path:     filePath,
		dir:      dir,
		builders: builders,
	}

	thread := &starlark.Thread{
		Name: filePath,
		Print: func(_ *starlark.Thread, _ string) {
			// Declaration evaluation has no output channel.
		},
	}
	thread.SetLocal(threadStateKey, st)

	if _, err := starlark.ExecFile(thread, filePath, content, p.predecl); err != nil { //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
		return nil, &ParseError{Path: filePath, Err: err}
	}

	addressMap, err := family.NewAddressMap(filePath, st.adaptors)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("parsed declaration file", "path", filePath, "targets", len(st.adaptors))
	return addressMap, nil
}

// fileState is the mutable evaluation state of one file.
type fileState struct {
	path     string
	dir      string
	builders Builders
	adaptors []*family.TargetAdaptor
}

func stateFrom(thread *starlark.Thread, b *starlark.Builtin) (*fileState, error) {
	st, ok := thread.Local(threadStateKey).(*fileState)
	if !ok {
		return nil, fmt.Errorf("%s may only be called while a declaration file is being parsed", b.Name())
	}
	return st, nil
}

// buildSymbols assembles the builtin symbol table once per Parser.
func (p *Parser) buildSymbols() starlark.StringDict {
	symbols := make(starlark.StringDict, len(p.kinds.Aliases())+4)
	for _, kind := range p.kinds.All() {
		symbols[kind.Alias] = p.kindBuiltin(kind)
	}
	symbols["__defaults__"] = p.defaultsBuiltin()
	symbols["__dependencies_rules__"] = p.rulesBuiltin("__dependencies_rules__")
	symbols["__dependents_rules__"] = p.rulesBuiltin("__dependents_rules__")
	symbols["env"] = p.envBuiltin()
	return symbols
}

// kindBuiltin declares one target of the given kind into the thread's
// current file.
func (p *Parser) kindBuiltin(kind kinds.Kind) *starlark.Builtin {
	return starlark.NewBuiltin(kind.Alias, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		st, err := stateFrom(thread, b)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: target declarations take keyword arguments only", b.Name())
		}

		name := ""
		fields := make(map[string]any, len(kwargs))
		fieldNames := make([]string, 0, len(kwargs))
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			value, err := ToGo(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: field %q: %w", b.Name(), key, err)
			}
			if key == "name" {
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("%s: name must be a string, got %s", b.Name(), kv[1].Type())
				}
				name = s
				continue
			}
			fields[key] = value
			fieldNames = append(fieldNames, key)
		}

		if name == "" {
			if st.dir == "" {
				return nil, fmt.Errorf("%s: targets in the build root's declaration files must be named explicitly", b.Name())
			}
			name = path.Base(st.dir)
		}
		if strings.ContainsAny(name, "#@:/ ") {
			return nil, fmt.Errorf("%s: target name %q contains a reserved character", b.Name(), name)
		}

		st.adaptors = append(st.adaptors, &family.TargetAdaptor{
			Kind:       kind.Alias,
			Name:       name,
			Fields:     fields,
			FieldNames: fieldNames,
			Origin:     st.path,
		})
		return starlark.None, nil
	})
}

// defaultsBuiltin implements __defaults__(*args, all=None, extend=False,
// ignore_unknown_fields=False, ignore_unknown_targets=False).
func (p *Parser) defaultsBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("__defaults__", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		st, err := stateFrom(thread, b)
		if err != nil {
			return nil, err
		}

		var setArgs []defaults.SetArg
		for i, arg := range args {
			dict, ok := arg.(*starlark.Dict)
			if !ok {
				return nil, fmt.Errorf("%s: expected a dict mapping target kinds to field defaults, got %s", b.Name(), arg.Type())
			}
			for _, item := range dict.Items() {
				aliases, err := aliasesFromKey(item[0])
				if err != nil {
					return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
				}
				values, err := fieldDictToGo(item[1])
				if err != nil {
					return nil, fmt.Errorf("%s: defaults for %v: %w", b.Name(), aliases, err)
				}
				setArgs = append(setArgs, defaults.SetArg{Aliases: aliases, Values: values})
			}
		}

		opts := defaults.SetOptions{}
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			switch key {
			case "all":
				if kv[1] == starlark.None {
					continue
				}
				values, err := fieldDictToGo(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: all=: %w", b.Name(), err)
				}
				opts.All = values
			case "extend":
				opts.Extend = bool(kv[1].Truth())
			case "ignore_unknown_targets":
				opts.IgnoreUnknownTargets = bool(kv[1].Truth())
			case "ignore_unknown_fields":
				// Field schemas are not validated here, so this is
				// always satisfied.
			default:
				return nil, fmt.Errorf("%s: unexpected keyword argument %q", b.Name(), key)
			}
		}

		if err := st.builders.Defaults.SetDefaults(setArgs, opts); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

// rulesBuiltin implements __dependencies_rules__ and __dependents_rules__.
func (p *Parser) rulesBuiltin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		st, err := stateFrom(thread, b)
		if err != nil {
			return nil, err
		}
		builder := st.builders.DependenciesRules
		if b.Name() == "__dependents_rules__" {
			builder = st.builders.DependentsRules
		}

		extend := false
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			if key != "extend" {
				return nil, fmt.Errorf("%s: unexpected keyword argument %q", b.Name(), key)
			}
			extend = bool(kv[1].Truth())
		}

		goArgs := make([]any, 0, len(args))
		for i, arg := range args {
			value, err := ToGo(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: ruleset %d: %w", b.Name(), i+1, err)
			}
			goArgs = append(goArgs, value)
		}

		if err := builder.SetRules(goArgs, extend); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

// envBuiltin implements env(name, default=None) over the session's
// allowlisted environment. Unlike the other builtins it needs no file
// state, so preludes may call it at load time.
func (p *Parser) envBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("env", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var fallback starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &fallback); err != nil {
			return nil, err
		}
		if value, ok := p.env[name]; ok {
			return starlark.String(value), nil
		}
		return fallback, nil
	})
}

// aliasesFromKey accepts a kind alias or a tuple of aliases as a
// __defaults__ dict key.
func aliasesFromKey(key starlark.Value) ([]string, error) {
	switch k := key.(type) {
	case starlark.String:
		return []string{string(k)}, nil
	case starlark.Tuple:
		aliases := make([]string, 0, len(k))
		for _, item := range k {
			s, ok := item.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("kind alias must be a string, got %s", item.Type())
			}
			aliases = append(aliases, string(s))
		}
		if len(aliases) == 0 {
			return nil, fmt.Errorf("kind alias tuple must not be empty")
		}
		return aliases, nil
	default:
		return nil, fmt.Errorf("keys must be kind aliases (a string or tuple of strings), got %s", key.Type())
	}
}

// fieldDictToGo converts a Starlark dict of field defaults to Go values.
func fieldDictToGo(value starlark.Value) (map[string]any, error) {
	converted, err := ToGo(value)
	if err != nil {
		return nil, err
	}
	fields, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a dict of field values, got %s", value.Type())
	}
	return fields, nil
}
