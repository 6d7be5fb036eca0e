package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/session"
)

// DepsOptions holds options for the deps command.
type DepsOptions struct {
	Check bool
}

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	opts := &DepsOptions{}

	cmd := &cobra.Command{
		Use:   "deps <spec>",
		Short: "Show a target's declared dependencies",
		Long: `Resolve the dependencies field of a target and print the resolved
addresses.

With --check, the configured dependency rules are evaluated over every
edge. Denied edges fail the command; warned edges are reported but do
not fail it. Without a configured rules engine every edge is allowed.`,
		Example: `  # Show resolved dependencies
  quarry deps src/app:app

  # Evaluate dependency rules over the edges
  quarry deps --check src/app:app

  # Machine-readable verdicts
  quarry deps --check src/app:app --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "Evaluate dependency rules over each edge")

	return cmd
}

func runDeps(cmd *cobra.Command, spec string, opts *DepsOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer
	ctx := cmd.Context()

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	source, err := sess.ResolveSpec(spec, address.Origin("the deps command"))
	if err != nil {
		return err
	}
	adaptor, err := sess.TargetAdaptor(ctx, source, "the deps command")
	if err != nil {
		return err
	}

	deps, err := resolveDependencies(sess, source, adaptor.Dependencies())
	if err != nil {
		return err
	}

	if !opts.Check {
		return renderDeps(source, deps, r)
	}

	app, err := sess.DependenciesRuleAction(ctx, source, deps, "the deps command")
	if err != nil {
		return err
	}
	if err := renderCheck(app, r); err != nil {
		return err
	}
	if denied := len(app.Denials()); denied > 0 {
		return fmt.Errorf("%d of %d dependencies denied by dependency rules", denied, len(app.Verdicts))
	}
	return nil
}

// resolveDependencies parses and resolves each declared dependency spec
// relative to the source target's directory.
func resolveDependencies(sess *session.Session, source address.Address, specs []string) ([]address.Address, error) {
	origin := fmt.Sprintf("the dependencies field of %s", source.Spec())
	out := make([]address.Address, 0, len(specs))
	for _, spec := range specs {
		addr, err := sess.ResolveSpec(spec, address.RelativeTo(source.SpecPath), address.Origin(origin))
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func renderDeps(source address.Address, deps []address.Address, r *output.Renderer) error {
	if r.EffectiveMode() == output.ModeJSON {
		payload := struct {
			Source       string   `json:"source"`
			Dependencies []string `json:"dependencies"`
		}{Source: source.Spec(), Dependencies: make([]string, 0, len(deps))}
		for _, d := range deps {
			payload.Dependencies = append(payload.Dependencies, d.Spec())
		}
		return r.JSON(payload)
	}

	r.Header(1, fmt.Sprintf("Dependencies of %s (%d)", source.Spec(), len(deps)))
	styles := r.Styles()
	for _, d := range deps {
		r.Println("  " + styles.Address.Render(d.Spec()))
	}
	return nil
}

func renderCheck(app *session.RuleApplication, r *output.Renderer) error {
	denied := app.Denials()
	warned := app.Warnings()

	if r.EffectiveMode() == output.ModeJSON {
		out := output.CheckOutput{
			Source:   app.Source.Spec(),
			Verdicts: make([]output.VerdictInfo, 0, len(app.Verdicts)),
			Denied:   len(denied),
			Warned:   len(warned),
		}
		for _, v := range app.Verdicts {
			out.Verdicts = append(out.Verdicts, output.VerdictInfo{
				Dependency: v.Dependency.Spec(),
				Action:     v.Action.Verdict.String(),
				Reason:     v.Action.Reason,
			})
		}
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Dependency check for %s", app.Source.Spec()))
	styles := r.Styles()
	for _, v := range app.Verdicts {
		icon := styles.StatusSuccess.String()
		switch v.Action.Verdict {
		case deprules.Deny:
			icon = styles.StatusFailed.String()
		case deprules.Warn:
			icon = styles.Warning.Render("!")
		}
		line := fmt.Sprintf("  %s %s", icon, styles.Address.Render(v.Dependency.Spec()))
		if v.Action.Reason != "" {
			line += " " + styles.Muted.Render(v.Action.Reason)
		}
		r.Println(line)
	}
	r.Println("")

	summary := fmt.Sprintf("%d allowed", len(app.Verdicts)-len(denied)-len(warned))
	if len(warned) > 0 {
		summary += fmt.Sprintf(", %d warned", len(warned))
	}
	if len(denied) > 0 {
		summary += fmt.Sprintf(", %d denied", len(denied))
	}
	if len(denied) > 0 {
		r.Warning(summary)
	} else {
		r.Success(summary)
	}
	return nil
}
