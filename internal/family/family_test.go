package family

import (
	"errors"
	"strings"
	"testing"

	"github.com/quarrybuild/quarry/internal/defaults"
)

func adaptor(kind, name string) *TargetAdaptor {
	return &TargetAdaptor{Kind: kind, Name: name, Fields: map[string]any{}}
}

func TestNewAddressMap_DuplicateWithinFile(t *testing.T) {
	_, err := NewAddressMap("src/BUILD", []*TargetAdaptor{
		adaptor("target", "lib"),
		adaptor("files", "lib"),
	})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
	var dup *DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateNameError, got %T", err)
	}
	if dup.Name != "lib" || dup.Path != "src/BUILD" {
		t.Errorf("unexpected error details: %+v", dup)
	}
}

func TestNewFamily_MergesMaps(t *testing.T) {
	m1, err := NewAddressMap("src/BUILD", []*TargetAdaptor{adaptor("target", "lib")})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := NewAddressMap("src/BUILD.quarry", []*TargetAdaptor{adaptor("files", "lib2")})
	if err != nil {
		t.Fatal(err)
	}

	fam, err := NewFamily("src", []*AddressMap{m1, m2}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewFamily failed: %v", err)
	}

	if fam.Len() != 2 {
		t.Errorf("expected 2 targets, got %d", fam.Len())
	}
	if _, ok := fam.Target("lib"); !ok {
		t.Error("lib should be visible")
	}
	if _, ok := fam.Target("lib2"); !ok {
		t.Error("lib2 should be visible")
	}
	if origin, _ := fam.OriginOf("lib2"); origin != "src/BUILD.quarry" {
		t.Errorf("unexpected origin %q", origin)
	}
	if names := fam.TargetNames(); names[0] != "lib" || names[1] != "lib2" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestNewFamily_DuplicateAcrossMaps(t *testing.T) {
	m1, _ := NewAddressMap("src/BUILD", []*TargetAdaptor{adaptor("target", "lib")})
	m2, _ := NewAddressMap("src/BUILD.quarry", []*TargetAdaptor{adaptor("files", "lib")})

	_, err := NewFamily("src", []*AddressMap{m1, m2}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected duplicate name error across files")
	}
	var dup *DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateNameError, got %T", err)
	}
	if dup.PreviousPath != "src/BUILD" || dup.Path != "src/BUILD.quarry" {
		t.Errorf("error should name both files, got %+v", dup)
	}
}

func TestFamily_Addresses(t *testing.T) {
	m, _ := NewAddressMap("src/BUILD", []*TargetAdaptor{adaptor("target", "b"), adaptor("target", "a")})
	fam, err := NewFamily("src", []*AddressMap{m}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	addrs := fam.Addresses()
	if len(addrs) != 2 || addrs[0].Spec() != "src:a" || addrs[1].Spec() != "src:b" {
		t.Errorf("unexpected addresses: %v", addrs)
	}
}

func TestFamily_View(t *testing.T) {
	a := adaptor("shell_command", "cmd")
	a.Fields["tags"] = []any{"sealed"}
	m, _ := NewAddressMap("src/BUILD", []*TargetAdaptor{a})
	fam, err := NewFamily("src", []*AddressMap{m}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	view, ok := fam.View("cmd")
	if !ok {
		t.Fatal("expected view for declared target")
	}
	if view.Kind != "shell_command" || view.Address.Spec() != "src:cmd" {
		t.Errorf("unexpected view %+v", view)
	}
	if len(view.Tags) != 1 || view.Tags[0] != "sealed" {
		t.Errorf("unexpected tags %v", view.Tags)
	}
	if view.DeclarationPath != "src/BUILD" {
		t.Errorf("unexpected declaration path %q", view.DeclarationPath)
	}
}

func TestOptional_Ensure(t *testing.T) {
	m, _ := NewAddressMap("src/BUILD", []*TargetAdaptor{adaptor("target", "lib")})
	fam, _ := NewFamily("src", []*AddressMap{m}, nil, nil, nil)

	got, err := Optional{Path: "src", Family: fam}.Ensure()
	if err != nil || got != fam {
		t.Errorf("populated Optional should pass through, got %v, %v", got, err)
	}

	_, err = Optional{Path: "empty/dir"}.Ensure()
	if err == nil {
		t.Fatal("empty Optional should escalate")
	}
	if got := err.Error(); !strings.Contains(got, "empty/dir") || !strings.Contains(got, "no declaration files") {
		t.Errorf("unexpected message: %v", got)
	}
}

func TestTargetAdaptor_EffectiveFields(t *testing.T) {
	a := adaptor("shell_command", "cmd")
	a.Fields["timeout"] = int64(30)

	d := defaults.Defaults{"shell_command": {"timeout": int64(10), "tools": []any{"bash"}}}
	eff := a.EffectiveFields(d.For("shell_command"))
	if eff["timeout"] != int64(30) {
		t.Errorf("explicit field must win, got %v", eff["timeout"])
	}
	if eff["tools"] == nil {
		t.Error("defaulted field must fill the gap")
	}
}
