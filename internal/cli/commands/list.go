package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/session"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	Kind string
}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list [spec...]",
		Short: "List declared targets",
		Long: `List the targets declared in the build tree.

Without arguments, every directory under the build root is scanned. With
spec arguments, each spec names either a directory (all of its targets)
or a single target.

Output adapts to environment:
  - Terminal: Styled, colored output
  - Piped/Scripted: Markdown format

Use --output to override: auto, text, markdown, json`,
		Example: `  # List every target under the build root
  quarry list

  # List the targets of one directory
  quarry list src/app

  # List a single target
  quarry list src/app:app

  # List as JSON
  quarry list --output json

  # Only shell_command targets
  quarry list --kind shell_command`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "Only list targets of this kind")

	return cmd
}

func runList(cmd *cobra.Command, args []string, opts *ListOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	listings, err := collectListings(ctx, sess, args)
	if err != nil {
		return err
	}
	if opts.Kind != "" {
		filtered := listings[:0]
		for _, l := range listings {
			if l.Adaptor.Kind == opts.Kind {
				filtered = append(filtered, l)
			}
		}
		listings = filtered
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return listJSON(listings, r)
	case output.ModeMarkdown:
		return listMarkdown(listings, r)
	default:
		return listText(listings, r)
	}
}

// collectListings expands the given specs, or walks the whole tree when
// none were given. Directories resolve concurrently through the session's
// snapshot cache; results come back in address order.
func collectListings(ctx context.Context, sess *session.Session, specs []string) ([]session.Listing, error) {
	if len(specs) == 0 {
		var dirs []string
		err := sess.FS().WalkDirs(func(dir string) error {
			dirs = append(dirs, dir)
			return nil
		})
		if err != nil {
			return nil, err
		}

		results := make([][]session.Listing, len(dirs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for i, dir := range dirs {
			g.Go(func() error {
				opt, err := sess.OptionalFamily(gctx, dir)
				if err != nil {
					return err
				}
				if opt.Family == nil {
					return nil
				}
				fam := opt.Family
				for _, name := range fam.TargetNames() {
					adaptor, ok := fam.Target(name)
					if !ok {
						continue
					}
					origin, _ := fam.OriginOf(name)
					results[i] = append(results[i], session.Listing{
						Address: address.Address{SpecPath: dir, TargetName: name},
						Adaptor: adaptor,
						Origin:  origin,
					})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var all []session.Listing
		for _, batch := range results {
			all = append(all, batch...)
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].Address.Spec() < all[j].Address.Spec()
		})
		return all, nil
	}

	var all []session.Listing
	seen := make(map[string]bool)
	for _, spec := range specs {
		listings, err := sess.ListSpec(ctx, spec, address.Origin("the list command"))
		if err != nil {
			return nil, err
		}
		for _, l := range listings {
			key := l.Address.Spec()
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, l)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Address.Spec() < all[j].Address.Spec()
	})
	return all, nil
}

func listText(listings []session.Listing, r *output.Renderer) error {
	r.Header(1, fmt.Sprintf("Targets (%d total)", len(listings)))
	for i, l := range listings {
		r.TargetLine(i+1, l.Address.Spec(), l.Adaptor.Kind, l.Origin)
	}
	return nil
}

func listMarkdown(listings []session.Listing, r *output.Renderer) error {
	r.Println(output.FormatHeader(1, fmt.Sprintf("Targets (%d total)", len(listings))))
	r.Println("")

	for _, l := range listings {
		r.Println(output.FormatHeader(2, l.Address.Spec()))
		r.Println(output.FormatKeyValue("Kind", l.Adaptor.Kind))
		if l.Origin != "" {
			r.Println(output.FormatKeyValue("Origin", l.Origin))
		}
		if deps := l.Adaptor.Dependencies(); len(deps) > 0 {
			r.Println(output.FormatKeyValue("Dependencies", strings.Join(deps, ", ")))
		}
		if tags := l.Adaptor.Tags(); len(tags) > 0 {
			r.Println(output.FormatKeyValue("Tags", strings.Join(tags, ", ")))
		}
		r.Println("")
	}
	return nil
}

func listJSON(listings []session.Listing, r *output.Renderer) error {
	out := output.ListOutput{
		Targets: make([]output.TargetInfo, 0, len(listings)),
		Summary: output.ListSummary{
			Targets: len(listings),
			ByKind:  make(map[string]int),
		},
	}

	dirs := make(map[string]bool)
	for _, l := range listings {
		out.Targets = append(out.Targets, output.TargetInfo{
			Address: l.Address.Spec(),
			Kind:    l.Adaptor.Kind,
			Origin:  l.Origin,
		})
		out.Summary.ByKind[l.Adaptor.Kind]++
		dirs[l.Address.SpecPath] = true
	}
	out.Summary.Directories = len(dirs)

	return r.JSON(out)
}
