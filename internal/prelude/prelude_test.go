package prelude

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/internal/parser"
	"github.com/quarrybuild/quarry/internal/vfs"
)

func writeTree(t *testing.T, files map[string]string) *vfs.OS {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return vfs.NewOS(root)
}

func TestLoad_ChainsExports(t *testing.T) {
	fsys := writeTree(t, map[string]string{
		"preludes/a.star": `BASE_TIMEOUT = 30`,
		"preludes/b.star": `LONG_TIMEOUT = BASE_TIMEOUT * 4`,
	})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	symbols, err := loader.Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(symbols.Files) != 2 || symbols.Files[0] != "preludes/a.star" {
		t.Fatalf("unexpected file order: %v", symbols.Files)
	}
	long, ok := symbols.Globals["LONG_TIMEOUT"]
	if !ok {
		t.Fatal("LONG_TIMEOUT should be exported")
	}
	if v, _ := starlark.AsInt32(long); v != 120 {
		t.Errorf("later preludes should see earlier exports, got %v", long)
	}
}

func TestLoad_PrivateNamesNotExported(t *testing.T) {
	fsys := writeTree(t, map[string]string{
		"preludes/a.star": `
_INTERNAL = "hidden"
VISIBLE = _INTERNAL + "!"
`,
	})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	symbols, err := loader.Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := symbols.Globals["_INTERNAL"]; ok {
		t.Error("underscore names must stay private to their file")
	}
	if v := symbols.Globals["VISIBLE"]; v != starlark.String("hidden!") {
		t.Errorf("unexpected VISIBLE value: %v", v)
	}
}

func TestLoad_FailureNamesFile(t *testing.T) {
	fsys := writeTree(t, map[string]string{
		"preludes/bad.star": `def broken(`,
	})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	_, err := loader.Load(nil)
	if err == nil {
		t.Fatal("expected a load error")
	}
	if !strings.HasPrefix(err.Error(), "Error parsing prelude file preludes/bad.star: ") {
		t.Errorf("unexpected error message: %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Path != "preludes/bad.star" {
		t.Errorf("expected a *prelude.Error naming the file, got %#v", err)
	}
}

func TestLoad_LoadStatementDisabled(t *testing.T) {
	fsys := writeTree(t, map[string]string{
		"preludes/a.star": `load("other.star", "thing")`,
	})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	_, err := loader.Load(nil)
	if err == nil {
		t.Fatal("preludes must not import other modules")
	}
	if !strings.HasPrefix(err.Error(), "Error parsing prelude file preludes/a.star: ") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_NoMatches(t *testing.T) {
	fsys := writeTree(t, map[string]string{"BUILD": ""})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	symbols, err := loader.Load(nil)
	if err != nil {
		t.Fatalf("no matches should not be an error: %v", err)
	}
	if len(symbols.Globals) != 0 || len(symbols.Files) != 0 {
		t.Errorf("expected empty symbols, got %+v", symbols)
	}
}

func TestLoad_MacroSeesParserBuiltins(t *testing.T) {
	fsys := writeTree(t, map[string]string{
		"preludes/macros.star": `
def std_sh(name):
    shell_command(name=name, command=name + ".sh")
`,
	})
	p := parser.New(parser.Config{})
	loader := NewLoader(fsys, []string{"preludes/*.star"}, nil)

	symbols, err := loader.Load(p.Symbols())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := symbols.Globals["std_sh"]; !ok {
		t.Fatal("the macro should be exported")
	}
}
