package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/quarrybuild/quarry/internal/kinds"
)

// generateKindDocs generates the target kind catalog.
func generateKindDocs(outDir string) error {
	log.Printf("Generating kind docs to %s", outDir)

	// Create output directory
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := generateKindCatalog(outDir); err != nil {
		return fmt.Errorf("failed to generate kinds.md: %w", err)
	}
	log.Printf("  Generated kinds.md")

	return nil
}

// generateKindCatalog generates the kind catalog page from the built-in registry.
func generateKindCatalog(outDir string) error {
	w := NewMarkdownWriter()

	// Frontmatter
	w.Frontmatter("Target Kinds", "Built-in target kinds for Quarry declaration files")
	w.GeneratedMarker()

	// Title and intro
	w.Header(1, "Target Kinds")
	w.Paragraph("Every target in a declaration file is an instance of a registered kind. Kinds are an alias catalog: Quarry records the field hints listed here for tooling, but field values are never schema-validated. A call to an unregistered alias fails the whole file with an unknown-kind error.")

	// Catalog table
	w.Header(2, "Catalog")

	all := kinds.DefaultRegistry().All()
	headers := []string{"Kind", "Generator", "Description"}
	var rows [][]string
	for _, k := range all {
		gen := ""
		if k.Generator {
			gen = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprintf("[%s](#%s)", InlineCode(k.Alias), k.Alias),
			gen,
			cleanDescription(k.Doc),
		})
	}
	w.Table(headers, rows)

	// Per-kind sections
	for _, k := range all {
		w.Header(2, k.Alias)
		w.Paragraph(k.Doc)
		if k.Generator {
			w.Paragraph("Generator kind: expands into one generated target per matched source, addressed as `name#source`.")
		}
		if len(k.FieldHints) > 0 {
			w.Paragraph("Common fields:")
			var items []string
			for _, f := range k.FieldHints {
				items = append(items, InlineCode(f))
			}
			w.BulletList(items)
		}
	}

	// Usage example
	w.Header(2, "Declaring Targets")
	w.Paragraph("Kinds are invoked as functions in a declaration file:")
	w.CodeBlock("python", `shell_command(
    name="package",
    command="./package.sh dist/",
    tools=["tar", "gzip"],
    timeout=120,
)`)

	// Write file
	filename := filepath.Join(outDir, "kinds.md")
	return os.WriteFile(filename, w.Bytes(), 0600)
}
