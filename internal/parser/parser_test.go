package parser

import (
	"errors"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/kinds"
)

// captureEngine accepts any rule payload unchanged, so tests can inspect
// what the builders captured.
type captureEngine struct{}

func (captureEngine) Name() string { return "capture" }

func (captureEngine) ParseRules(_ string, args []any) ([]any, error) { return args, nil }

func (captureEngine) CheckDependencyRules(_ deprules.TargetView, _ *deprules.RuleSet, _ deprules.TargetView, _ *deprules.RuleSet) deprules.Action {
	return deprules.AllowAll
}

func newBuilders(dir string, engine deprules.Engine) Builders {
	return Builders{
		Defaults:          defaults.NewBuilderState(dir, nil, kinds.DefaultRegistry()),
		DependenciesRules: deprules.NewBuilderState(dir, "__dependencies_rules__", nil, engine),
		DependentsRules:   deprules.NewBuilderState(dir, "__dependents_rules__", nil, engine),
	}
}

func TestParseFile_Targets(t *testing.T) {
	p := New(Config{})
	content := `
shell_command(
    name="gen",
    command="./gen.sh",
    timeout=30,
    tools=["bash", "sed"],
)

target(name="all", dependencies=[":gen"])
`
	am, err := p.ParseFile("src/app/BUILD", []byte(content), newBuilders("src/app", nil))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(am.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(am.Targets))
	}

	gen := am.Targets["gen"]
	if gen == nil {
		t.Fatal("expected target 'gen'")
	}
	if gen.Kind != "shell_command" {
		t.Errorf("unexpected kind %q", gen.Kind)
	}
	if gen.Fields["command"] != "./gen.sh" {
		t.Errorf("unexpected command %v", gen.Fields["command"])
	}
	if gen.Fields["timeout"] != int64(30) {
		t.Errorf("unexpected timeout %v (%T)", gen.Fields["timeout"], gen.Fields["timeout"])
	}
	if got := gen.StringSliceField("tools"); len(got) != 2 || got[0] != "bash" {
		t.Errorf("unexpected tools %v", got)
	}
	if gen.Origin != "src/app/BUILD" {
		t.Errorf("unexpected origin %q", gen.Origin)
	}
	if len(gen.FieldNames) != 3 || gen.FieldNames[0] != "command" {
		t.Errorf("field order should follow the declaration, got %v", gen.FieldNames)
	}

	all := am.Targets["all"]
	if deps := all.Dependencies(); len(deps) != 1 || deps[0] != ":gen" {
		t.Errorf("unexpected dependencies %v", deps)
	}
}

func TestParseFile_DefaultName(t *testing.T) {
	p := New(Config{})

	am, err := p.ParseFile("src/app/BUILD", []byte(`target()`), newBuilders("src/app", nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := am.Targets["app"]; !ok {
		t.Errorf("an unnamed target should take the directory's name, got %v", am.Targets)
	}

	_, err = p.ParseFile("BUILD", []byte(`target()`), newBuilders("", nil))
	if err == nil {
		t.Fatal("unnamed targets at the build root must be rejected")
	}
}

func TestParseFile_Defaults(t *testing.T) {
	p := New(Config{})
	builders := newBuilders("src", nil)

	content := `
__defaults__({"shell_command": {"timeout": 10}})
__defaults__({("shell_command", "test_shell_command"): {"tools": ["bash"]}}, extend=True)
`
	_, err := p.ParseFile("src/BUILD", []byte(content), builders)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	frozen := builders.Defaults.Freeze()
	sc := frozen.For("shell_command")
	if sc["timeout"] != int64(10) {
		t.Errorf("expected timeout default, got %v", sc)
	}
	if sc["tools"] == nil {
		t.Errorf("extend should have kept and added fields, got %v", sc)
	}
	if frozen.For("test_shell_command")["tools"] == nil {
		t.Error("tuple keys should cover every named kind")
	}
}

func TestParseFile_DefaultsAll(t *testing.T) {
	p := New(Config{})
	builders := newBuilders("src", nil)

	_, err := p.ParseFile("src/BUILD", []byte(`__defaults__(all={"tags": ["audited"]})`), builders)
	if err != nil {
		t.Fatal(err)
	}
	frozen := builders.Defaults.Freeze()
	if frozen.For("docker_image")["tags"] == nil {
		t.Error("all= should apply to every registered kind")
	}
}

func TestParseFile_DefaultsUnknownKind(t *testing.T) {
	p := New(Config{})

	_, err := p.ParseFile("src/BUILD", []byte(`__defaults__({"nope": {"x": 1}})`), newBuilders("src", nil))
	if err == nil {
		t.Fatal("unknown kind in __defaults__ should fail the file")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if !strings.Contains(err.Error(), "src/BUILD") {
		t.Errorf("error should carry the file path, got: %v", err)
	}
}

func TestParseFile_DependencyRules(t *testing.T) {
	p := New(Config{})
	builders := newBuilders("src", captureEngine{})

	content := `
__dependencies_rules__(("*", "lib/**", "!**"))
__dependents_rules__(("*", "src/**"), extend=True)
`
	_, err := p.ParseFile("src/BUILD", []byte(content), builders)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	deps := builders.DependenciesRules.Freeze()
	if deps == nil || len(deps.Rules) != 1 {
		t.Fatalf("expected one captured ruleset, got %+v", deps)
	}
	ruleset, ok := deps.Rules[0].([]any)
	if !ok || len(ruleset) != 3 || ruleset[0] != "*" {
		t.Errorf("tuple rulesets should convert to Go slices, got %#v", deps.Rules[0])
	}

	if builders.DependentsRules.Freeze() == nil {
		t.Error("dependents rules should have been captured")
	}
}

func TestParseFile_RulesWithoutEngine(t *testing.T) {
	p := New(Config{})

	_, err := p.ParseFile("src/BUILD", []byte(`__dependencies_rules__(("*", "!**"))`), newBuilders("src", nil))
	if err == nil {
		t.Fatal("rules directives without an installed engine must fail")
	}
	if !strings.Contains(err.Error(), "no dependency rules implementation") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestParseFile_Env(t *testing.T) {
	p := New(Config{Env: map[string]string{"CI": "true"}})
	builders := newBuilders("src", nil)

	content := `
target(name="a", tags=[env("CI", "false")])
target(name="b", tags=[env("MISSING", "fallback")])
`
	am, err := p.ParseFile("src/BUILD", []byte(content), builders)
	if err != nil {
		t.Fatal(err)
	}
	if got := am.Targets["a"].Tags(); got[0] != "true" {
		t.Errorf("env should read the allowlisted value, got %v", got)
	}
	if got := am.Targets["b"].Tags(); got[0] != "fallback" {
		t.Errorf("env should fall back to the default, got %v", got)
	}
}

func TestParseFile_PreludeSymbols(t *testing.T) {
	prelude := starlark.StringDict{
		"COMMON_TIMEOUT": starlark.MakeInt(90),
	}
	p := New(Config{}).WithPrelude(prelude)

	am, err := p.ParseFile("src/BUILD", []byte(`shell_command(name="x", command="true", timeout=COMMON_TIMEOUT)`), newBuilders("src", nil))
	if err != nil {
		t.Fatalf("prelude symbol should be visible: %v", err)
	}
	if am.Targets["x"].Fields["timeout"] != int64(90) {
		t.Errorf("unexpected timeout %v", am.Targets["x"].Fields["timeout"])
	}
}

func TestParseFile_PreludeCannotShadowBuiltins(t *testing.T) {
	prelude := starlark.StringDict{
		"target": starlark.String("not a callable"),
	}
	p := New(Config{}).WithPrelude(prelude)

	am, err := p.ParseFile("src/BUILD", []byte(`target(name="x")`), newBuilders("src", nil))
	if err != nil {
		t.Fatalf("builtin should shadow the prelude symbol: %v", err)
	}
	if _, ok := am.Targets["x"]; !ok {
		t.Error("the kind callable should have run")
	}
}

func TestParseFile_PreludeMacroDeclaresTargets(t *testing.T) {
	p := New(Config{})

	// Evaluate a helper module against the parser's own symbol table,
	// the way the prelude loader does.
	thread := &starlark.Thread{Name: "macros.star"}
	globals, err := starlark.ExecFile(thread, "macros.star", []byte(`
def std_shell(name, command):
    shell_command(name=name, command=command, tags=["std"])
    test_shell_command(name=name + "-check", command=command + " --check")
`), p.Symbols())
	if err != nil {
		t.Fatalf("helper module should load: %v", err)
	}

	am, err := p.WithPrelude(globals).ParseFile("src/BUILD", []byte(`std_shell(name="fmt", command="fmt.sh")`), newBuilders("src", nil))
	if err != nil {
		t.Fatalf("macro call should declare targets: %v", err)
	}
	if len(am.Targets) != 2 {
		t.Fatalf("expected 2 targets from the macro, got %d", len(am.Targets))
	}
	fmtTarget := am.Targets["fmt"]
	if fmtTarget.Kind != "shell_command" || fmtTarget.Tags()[0] != "std" {
		t.Errorf("unexpected target from macro: %+v", fmtTarget)
	}
	check := am.Targets["fmt-check"]
	if check.Kind != "test_shell_command" || check.Fields["command"] != "fmt.sh --check" {
		t.Errorf("unexpected derived target: %+v", check)
	}
	if check.Origin != "src/BUILD" {
		t.Errorf("macro-declared target should originate from the declaration file, got %q", check.Origin)
	}
}

func TestParseFile_DeclarationsOutsideFilesRejected(t *testing.T) {
	p := New(Config{})

	// Declaring a target at helper-module load time has no file to
	// attach it to.
	thread := &starlark.Thread{Name: "macros.star"}
	_, err := starlark.ExecFile(thread, "macros.star", []byte(`target(name="stray")`), p.Symbols())
	if err == nil {
		t.Fatal("expected an error for a top-level declaration outside a declaration file")
	}
	if !strings.Contains(err.Error(), "may only be called while a declaration file is being parsed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseFile_Failures(t *testing.T) {
	p := New(Config{})

	tests := []struct {
		name    string
		content string
	}{
		{"unknown symbol", `python_library(name="x")`},
		{"load is disabled", `load("helpers.star", "helper")`},
		{"positional args", `target("x")`},
		{"syntax error", `target(name=`},
		{"runtime error", `target(name="x" + 1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseFile("src/BUILD", []byte(tt.content), newBuilders("src", nil))
			if err == nil {
				t.Fatalf("expected failure for %s", tt.name)
			}
			if !strings.Contains(err.Error(), "src/BUILD") {
				t.Errorf("error should name the file, got: %v", err)
			}
		})
	}
}

func TestParseFile_DuplicateNames(t *testing.T) {
	p := New(Config{})

	_, err := p.ParseFile("src/BUILD", []byte("target(name=\"lib\")\nfiles(name=\"lib\", sources=[\"*.txt\"])"), newBuilders("src", nil))
	if err == nil {
		t.Fatal("duplicate names within one file must fail")
	}
	var dup *family.DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *family.DuplicateNameError, got %T", err)
	}
}

func TestParseFile_StatementOrderAcrossFiles(t *testing.T) {
	p := New(Config{})
	builders := newBuilders("src", nil)

	if _, err := p.ParseFile("src/BUILD", []byte(`__defaults__({"target": {"tags": ["one"]}})`), builders); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ParseFile("src/BUILD.quarry", []byte(`__defaults__({"target": {"description": "two"}}, extend=True)`), builders); err != nil {
		t.Fatal(err)
	}

	frozen := builders.Defaults.Freeze()
	fields := frozen.For("target")
	if fields["tags"] == nil || fields["description"] != "two" {
		t.Errorf("later files must observe earlier files' directives, got %v", fields)
	}
}
