package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/session"
)

// NewPeekCommand creates the peek command.
func NewPeekCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek <spec...>",
		Short: "Show directory snapshots with effective field values",
		Long: `Show what the resolver sees for the named directories: the
declaration files present, every target with directory defaults applied,
the frozen defaults table, and where dependency rules were declared.

A spec naming a single target narrows the snapshot to that target.`,
		Example: `  # Inspect a directory
  quarry peek src/app

  # Inspect one target
  quarry peek src/app:app

  # Machine-readable snapshot
  quarry peek src/app --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeek(cmd, args)
		},
	}
	return cmd
}

func runPeek(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	families, err := buildPeekOutput(ctx, sess, args)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(families)
	case output.ModeMarkdown:
		return peekMarkdown(families, r)
	default:
		return peekText(families, r)
	}
}

// buildPeekOutput resolves each spec into a directory snapshot. Target
// fields are the effective ones: directory defaults overlaid under the
// explicitly declared values. A spec naming a directory with no
// declaration files yields an empty snapshot rather than an error.
func buildPeekOutput(ctx context.Context, sess *session.Session, specs []string) ([]output.FamilyOutput, error) {
	var out []output.FamilyOutput
	seen := make(map[string]bool)

	for _, spec := range specs {
		in, err := address.Parse(spec, address.Origin("the peek command"))
		if err != nil {
			return nil, err
		}

		if in.Target == "" && in.Generated == "" {
			if facts, err := sess.FS().Stat(in.Path); err == nil && facts.IsDir {
				if seen[in.Path+"\x00"] {
					continue
				}
				seen[in.Path+"\x00"] = true

				opt, err := sess.OptionalFamily(ctx, in.Path)
				if err != nil {
					return nil, err
				}
				out = append(out, familySnapshot(sess, in.Path, opt.Family, ""))
				continue
			}
		}

		addr, err := sess.Resolve(in)
		if err != nil {
			return nil, err
		}
		if seen[addr.SpecPath+"\x00"+addr.TargetName] {
			continue
		}
		seen[addr.SpecPath+"\x00"+addr.TargetName] = true

		fam, err := sess.EnsureFamily(ctx, addr.SpecPath)
		if err != nil {
			return nil, err
		}
		if _, ok := fam.Target(addr.TargetName); !ok {
			return nil, address.DidYouMean(addr, "the peek command", fam.TargetNames())
		}
		out = append(out, familySnapshot(sess, addr.SpecPath, fam, addr.TargetName))
	}
	return out, nil
}

// familySnapshot projects one directory's family onto the peek payload.
// A non-empty only narrows the targets to that name; a nil family marks
// the directory empty.
func familySnapshot(sess *session.Session, dir string, fam *family.Family, only string) output.FamilyOutput {
	fo := output.FamilyOutput{
		Directory: displayDir(dir),
		Files:     declarationFiles(sess, dir),
	}
	if fam == nil {
		fo.Empty = true
		return fo
	}
	if len(fam.Defaults) > 0 {
		fo.Defaults = fam.Defaults
	}
	if fam.DependenciesRules != nil {
		fo.DependenciesRules = &output.RuleSetInfo{DeclaredIn: fam.DependenciesRules.Path}
	}
	if fam.DependentsRules != nil {
		fo.DependentsRules = &output.RuleSetInfo{DeclaredIn: fam.DependentsRules.Path}
	}

	for _, name := range fam.TargetNames() {
		if only != "" && name != only {
			continue
		}
		adaptor, ok := fam.Target(name)
		if !ok {
			continue
		}
		origin, _ := fam.OriginOf(name)
		addr := address.Address{SpecPath: dir, TargetName: name}
		fo.Targets = append(fo.Targets, output.TargetInfo{
			Address: addr.Spec(),
			Kind:    adaptor.Kind,
			Origin:  origin,
			Fields:  adaptor.EffectiveFields(fam.Defaults.For(adaptor.Kind)),
		})
	}
	return fo
}

func displayDir(dir string) string {
	if dir == "" {
		return "//"
	}
	return dir
}

// declarationFiles lists the declaration files backing a directory.
func declarationFiles(sess *session.Session, dir string) []string {
	files, err := sess.FS().ReadDeclarations(dir, sess.Patterns(), sess.Ignores())
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Path)
	}
	return names
}

func peekText(families []output.FamilyOutput, r *output.Renderer) error {
	styles := r.Styles()
	for _, fo := range families {
		r.Header(1, fo.Directory)
		if len(fo.Files) > 0 {
			r.Muted("files: " + strings.Join(fo.Files, ", "))
		}
		if fo.DependenciesRules != nil {
			r.Muted("dependencies rules from " + fo.DependenciesRules.DeclaredIn)
		}
		if fo.DependentsRules != nil {
			r.Muted("dependents rules from " + fo.DependentsRules.DeclaredIn)
		}
		r.Println("")

		for _, t := range fo.Targets {
			r.Println(styles.Address.Render(t.Address) + " " + styles.Muted.Render("["+t.Kind+"]"))

			tw := table.NewWriter()
			tw.SetOutputMirror(r.Writer())
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Field", "Value"})
			for _, name := range sortedFieldNames(t.Fields) {
				tw.AppendRow(table.Row{name, formatFieldValue(t.Fields[name])})
			}
			tw.Render()
			r.Println("")
		}
	}
	return nil
}

func peekMarkdown(families []output.FamilyOutput, r *output.Renderer) error {
	for _, fo := range families {
		r.Println(output.FormatHeader(1, fo.Directory))
		r.Println("")
		if len(fo.Files) > 0 {
			r.Println(output.FormatKeyValue("Files", strings.Join(fo.Files, ", ")))
		}
		if fo.DependenciesRules != nil {
			r.Println(output.FormatKeyValue("Dependencies rules", fo.DependenciesRules.DeclaredIn))
		}
		if fo.DependentsRules != nil {
			r.Println(output.FormatKeyValue("Dependents rules", fo.DependentsRules.DeclaredIn))
		}
		r.Println("")

		for _, t := range fo.Targets {
			r.Println(output.FormatHeader(2, t.Address))
			r.Println(output.FormatKeyValue("Kind", t.Kind))
			if t.Origin != "" {
				r.Println(output.FormatKeyValue("Origin", t.Origin))
			}
			for _, name := range sortedFieldNames(t.Fields) {
				r.Println(output.FormatKeyValue(name, formatFieldValue(t.Fields[name])))
			}
			r.Println("")
		}
	}
	return nil
}

func sortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatFieldValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}
