package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/cli/output"
	"github.com/quarrybuild/quarry/internal/config"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/session"
	"github.com/quarrybuild/quarry/internal/state"
	"github.com/quarrybuild/quarry/internal/synthetic"
	"github.com/quarrybuild/quarry/internal/vfs"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format string // Output format: text, json
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run a comprehensive build tree health check",
		Long: `Analyze the build tree for potential issues.

The doctor command walks every directory and reports:
- Build tree summary (targets, directories, declaration files)
- Health checks grouped by category (configuration, declarations, state)
- Health score (0-100)
- Actionable recommendations

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  quarry doctor

  # Output as JSON
  quarry doctor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, json")

	return cmd
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Summary         BuildSummary  `json:"summary"`
	HealthChecks    []HealthCheck `json:"health_checks"`
	Score           int           `json:"score"`
	Recommendations []string      `json:"recommendations"`
	IssueCount      int           `json:"issue_count"`
}

// BuildSummary contains build tree statistics.
type BuildSummary struct {
	Targets          int `json:"targets"`
	Directories      int `json:"directories"`
	DeclarationFiles int `json:"declaration_files"`
	Kinds            int `json:"kinds"`
	RuleSets         int `json:"rule_sets"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	RuleID     string   `json:"rule_id"`
	Name       string   `json:"name"`
	Group      string   `json:"group"`
	Status     string   `json:"status"` // "pass", "warn", "error"
	IssueCount int      `json:"issue_count"`
	Details    []string `json:"details,omitempty"`
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	// Override renderer if format flag is set
	if opts.Format != "" {
		r = output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(opts.Format))
	}

	doctorOutput, err := buildDoctorOutput(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(doctorOutput)
	case output.ModeMarkdown:
		return renderDoctorMarkdown(r, doctorOutput)
	default:
		return renderDoctorText(r, doctorOutput)
	}
}

func buildDoctorOutput(ctx context.Context, cmdCtx *CommandContext) (*DoctorOutput, error) {
	checks := []HealthCheck{
		checkConfigFile(cmdCtx.Root),
		checkRulesEngine(cmdCtx.Cfg),
		checkSyntheticManifest(ctx, cmdCtx.Root, cmdCtx.Cfg),
	}

	// A broken rules engine or manifest must not stop the walk, so fall
	// back to a session without them. Their checks already cover the
	// failure.
	sess, err := cmdCtx.NewSession()
	if err != nil {
		sess, err = session.New(session.Config{
			FS:           vfs.NewOS(cmdCtx.Root),
			Patterns:     cmdCtx.Cfg.Build.Patterns,
			Ignores:      cmdCtx.Cfg.Build.Ignores,
			PreludeGlobs: cmdCtx.Cfg.Build.PreludeGlobs,
			Env:          cmdCtx.Cfg.SessionEnv(),
			Logger:       cmdCtx.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	checks = append(checks, checkPrelude(sess))

	summary, walkChecks := walkDeclarations(ctx, sess)
	checks = append(checks, walkChecks...)

	checks = append(checks, checkStateBackend(cmdCtx.Cfg))
	checks = append(checks, checkIndexFreshness(ctx, cmdCtx))

	// Sort health checks by group then by rule ID
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Group != checks[j].Group {
			return checks[i].Group < checks[j].Group
		}
		return checks[i].RuleID < checks[j].RuleID
	})

	issueCount := 0
	for _, check := range checks {
		issueCount += check.IssueCount
	}

	return &DoctorOutput{
		Summary:         summary,
		HealthChecks:    checks,
		Score:           calculateHealthScore(checks, summary.Targets),
		Recommendations: generateRecommendations(checks),
		IssueCount:      issueCount,
	}, nil
}

// checkConfigFile reports whether a config file pins the tree's settings.
// Running on built-in defaults works but usually means the build root was
// guessed from the working directory.
func checkConfigFile(root string) HealthCheck {
	check := HealthCheck{
		RuleID: "QC01",
		Name:   "Config file",
		Group:  "configuration",
		Status: "pass",
	}
	for _, name := range []string{config.ConfigFileName, config.ConfigFileNameAlt} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return check
		}
	}
	check.Status = "warn"
	check.IssueCount = 1
	check.Details = []string{"no quarry.yaml found; running on built-in defaults"}
	return check
}

func checkRulesEngine(cfg *config.Config) HealthCheck {
	check := HealthCheck{
		RuleID: "QC02",
		Name:   "Rules engine",
		Group:  "configuration",
		Status: "pass",
	}
	if _, err := deprules.NewEngine(cfg.Rules.Engine); err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{fmt.Sprintf("rules.engine %q is not registered (available: %s)", cfg.Rules.Engine, strings.Join(deprules.EngineNames(), ", "))}
	}
	return check
}

func checkSyntheticManifest(ctx context.Context, root string, cfg *config.Config) HealthCheck {
	check := HealthCheck{
		RuleID: "QC03",
		Name:   "Synthetic manifest",
		Group:  "configuration",
		Status: "pass",
	}
	if cfg.Synthetic.Disabled {
		return check
	}
	manifest := cfg.Synthetic.Manifest
	if manifest == "" {
		manifest = synthetic.DefaultManifestPath
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(manifest))); err != nil {
		return check
	}

	// Loading for the build root surfaces read and parse errors without
	// touching any particular directory.
	provider := synthetic.NewManifestProvider(vfs.NewOS(root), manifest)
	if _, err := provider.Provide(ctx, ""); err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	}
	return check
}

func checkPrelude(sess *session.Session) HealthCheck {
	check := HealthCheck{
		RuleID: "QD02",
		Name:   "Prelude",
		Group:  "declarations",
		Status: "pass",
	}
	if _, err := sess.PreludeSymbols(); err != nil {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{err.Error()}
	}
	return check
}

// walkDeclarations visits every directory once and derives the summary
// plus the parsing, dependency resolution and dependency rule checks.
func walkDeclarations(ctx context.Context, sess *session.Session) (BuildSummary, []HealthCheck) {
	parsing := HealthCheck{RuleID: "QD01", Name: "Declaration parsing", Group: "declarations", Status: "pass"}
	resolution := HealthCheck{RuleID: "QD03", Name: "Dependency resolution", Group: "declarations", Status: "pass"}
	rules := HealthCheck{RuleID: "QD04", Name: "Dependency rules", Group: "declarations", Status: "pass"}

	var summary BuildSummary
	kinds := make(map[string]bool)
	seenParseErr := make(map[string]bool)

	walkErr := sess.FS().WalkDirs(func(dir string) error {
		opt, err := sess.OptionalFamily(ctx, dir)
		if err != nil {
			// A broken manifest fails every directory with the same
			// message; count it once.
			msg := fmt.Sprintf("%s: %v", displayDir(dir), err)
			if strings.Contains(err.Error(), "synthetic manifest") {
				msg = err.Error()
			}
			if !seenParseErr[msg] {
				seenParseErr[msg] = true
				parsing.IssueCount++
				parsing.Details = append(parsing.Details, msg)
			}
			return nil
		}
		if opt.Family == nil {
			return nil
		}

		fam := opt.Family
		summary.Directories++
		summary.DeclarationFiles += len(declarationFiles(sess, dir))
		if fam.DependenciesRules != nil {
			summary.RuleSets++
		}
		if fam.DependentsRules != nil {
			summary.RuleSets++
		}

		for _, name := range fam.TargetNames() {
			summary.Targets++
			adaptor, _ := fam.Target(name)
			kinds[adaptor.Kind] = true

			source := address.Address{SpecPath: dir, TargetName: name}
			deps := checkTargetDependencies(ctx, sess, source, adaptor.Dependencies(), &resolution)
			applyRuleCheck(ctx, sess, source, deps, &rules)
		}
		return nil
	})
	if walkErr != nil {
		parsing.IssueCount++
		parsing.Details = append(parsing.Details, walkErr.Error())
	}
	summary.Kinds = len(kinds)

	if parsing.IssueCount > 0 {
		parsing.Status = "error"
	}
	if resolution.IssueCount > 0 {
		resolution.Status = "error"
	}

	return summary, []HealthCheck{parsing, resolution, rules}
}

// checkTargetDependencies resolves every dependency spec of one target,
// recording failures, and returns the addresses that did resolve.
func checkTargetDependencies(ctx context.Context, sess *session.Session, source address.Address, specs []string, check *HealthCheck) []address.Address {
	desc := fmt.Sprintf("the dependencies field of %s", source.Spec())
	resolved := make([]address.Address, 0, len(specs))
	for _, spec := range specs {
		addr, err := sess.ResolveSpec(spec, address.RelativeTo(source.SpecPath), address.Origin(desc))
		if err == nil {
			_, err = sess.TargetAdaptor(ctx, addr, desc)
		}
		if err != nil {
			check.IssueCount++
			check.Details = append(check.Details, fmt.Sprintf("%s: %v", source.Spec(), err))
			continue
		}
		resolved = append(resolved, addr)
	}
	return resolved
}

// applyRuleCheck runs the dependency rules for one target's resolved
// edges. Denied edges are errors, warned edges stay warnings.
func applyRuleCheck(ctx context.Context, sess *session.Session, source address.Address, deps []address.Address, check *HealthCheck) {
	if sess.Engine() == nil || len(deps) == 0 {
		return
	}
	app, err := sess.DependenciesRuleAction(ctx, source, deps, "the doctor command")
	if err != nil {
		check.Status = "error"
		check.IssueCount++
		check.Details = append(check.Details, fmt.Sprintf("%s: %v", source.Spec(), err))
		return
	}
	for _, v := range app.Denials() {
		check.Status = "error"
		check.IssueCount++
		check.Details = append(check.Details, fmt.Sprintf("%s -> %s: %s", source.Spec(), v.Dependency.Spec(), v.Action.Reason))
	}
	for _, v := range app.Warnings() {
		if check.Status == "pass" {
			check.Status = "warn"
		}
		check.IssueCount++
		check.Details = append(check.Details, fmt.Sprintf("%s -> %s: %s", source.Spec(), v.Dependency.Spec(), v.Action.Reason))
	}
}

func checkStateBackend(cfg *config.Config) HealthCheck {
	check := HealthCheck{
		RuleID: "QS01",
		Name:   "State backend",
		Group:  "state",
		Status: "pass",
	}
	if !state.IsRegistered(cfg.State.Backend) {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{fmt.Sprintf("state.backend %q is not registered (available: %s)", cfg.State.Backend, strings.Join(state.ListBackends(), ", "))}
	}
	return check
}

// checkIndexFreshness inspects the latest recorded index run without
// migrating the schema, so the doctor never mutates the store.
func checkIndexFreshness(ctx context.Context, cmdCtx *CommandContext) HealthCheck {
	check := HealthCheck{
		RuleID: "QS02",
		Name:   "Index freshness",
		Group:  "state",
		Status: "pass",
	}
	warn := func(detail string) HealthCheck {
		check.Status = "warn"
		check.IssueCount = 1
		check.Details = []string{detail}
		return check
	}

	cfg := cmdCtx.Cfg
	if !state.IsRegistered(cfg.State.Backend) {
		return warn("state backend not available; see the state backend check")
	}

	storeCfg := state.Config{Backend: cfg.State.Backend, Path: cmdCtx.statePath(), DSN: cfg.State.DSN}
	if storeCfg.Path != "" && storeCfg.Path != ":memory:" {
		if _, err := os.Stat(storeCfg.Path); err != nil {
			return warn(fmt.Sprintf("no index database at %s; run quarry index", storeCfg.Path))
		}
	}

	store, err := state.NewStore(storeCfg, cmdCtx.Logger)
	if err != nil {
		return warn(err.Error())
	}
	if err := store.Open(ctx, storeCfg); err != nil {
		return warn(fmt.Sprintf("could not open state store: %v", err))
	}
	defer func() { _ = store.Close() }()

	run, err := store.LatestRun(ctx)
	if err != nil {
		return warn("index schema not initialized; run quarry index")
	}
	if run == nil {
		return warn("no index runs recorded; run quarry index")
	}
	if run.Status == state.RunStatusFailed {
		check.Status = "error"
		check.IssueCount = 1
		check.Details = []string{fmt.Sprintf("last index run failed: %s", run.Error)}
		return check
	}
	check.Details = []string{fmt.Sprintf("last run indexed %d targets in %d directories", run.Targets, run.Directories)}
	return check
}

// calculateHealthScore computes a health score from 0-100.
// The scoring weights:
// - Each issue reduces points
// - More targets means issues have less individual impact
func calculateHealthScore(checks []HealthCheck, targetCount int) int {
	if len(checks) == 0 {
		return 100
	}

	// Base score starts at 100
	score := 100.0

	// Calculate penalty per issue
	// With more targets, each individual issue has less impact
	basePenalty := 5.0
	if targetCount > 10 {
		basePenalty = 3.0
	}
	if targetCount > 50 {
		basePenalty = 2.0
	}
	if targetCount > 100 {
		basePenalty = 1.0
	}

	for _, check := range checks {
		switch check.Status {
		case "error":
			score -= float64(check.IssueCount) * basePenalty * 2 // Errors count double
		case "warn":
			score -= float64(check.IssueCount) * basePenalty
		}
	}

	// Clamp to 0-100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return int(score)
}

// generateRecommendations creates actionable recommendations based on findings.
func generateRecommendations(checks []HealthCheck) []string {
	var recommendations []string
	seen := make(map[string]bool)

	for _, check := range checks {
		if check.IssueCount == 0 {
			continue
		}

		rec := getRecommendation(check.RuleID)
		if rec != "" && !seen[rec] {
			recommendations = append(recommendations, rec)
			seen[rec] = true
		}
	}

	// Limit to top 5 recommendations
	if len(recommendations) > 5 {
		recommendations = recommendations[:5]
	}

	return recommendations
}

// getRecommendation returns a recommendation for a specific rule.
func getRecommendation(ruleID string) string {
	switch ruleID {
	case "QC01":
		return "Create quarry.yaml at the build root to pin patterns and rules"
	case "QC02":
		return "Set rules.engine in quarry.yaml to a registered engine"
	case "QC03":
		return "Fix or remove the synthetic target manifest"
	case "QD01":
		return "Fix syntax errors in the listed declaration files"
	case "QD02":
		return "Fix the prelude files so shared macros load"
	case "QD03":
		return "Update dependencies fields to point at existing targets"
	case "QD04":
		return "Adjust the dependency rules or move the denied dependencies"
	case "QS01":
		return "Set state.backend in quarry.yaml to a registered backend"
	case "QS02":
		return "Run quarry index to refresh the target index"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) error {
	styles := r.Styles()

	// Header
	r.Println("")
	r.Println(styles.Header1.Render("Quarry Build Tree Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	// Build Summary
	r.Println(styles.Header2.Render("Build Summary"))
	r.Printf("   Targets: %d | Directories: %d | Declaration files: %d\n", out.Summary.Targets, out.Summary.Directories, out.Summary.DeclarationFiles)
	r.Printf("   Kinds: %d | Rule sets: %d\n", out.Summary.Kinds, out.Summary.RuleSets)
	r.Println("")

	// Health Checks grouped by category
	r.Println(styles.Header2.Render("Health Checks"))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.StatusFailed.String()
		}

		status := fmt.Sprintf("%s %s: %s", icon, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			status += fmt.Sprintf(" (%d issues)", check.IssueCount)
		}
		r.Println("   " + status)

		// Show first 3 details for issues
		for i, detail := range check.Details {
			if i >= 3 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-3)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	// Health Score
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	// Recommendations
	if len(out.Recommendations) > 0 {
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) error {
	r.Println("# Quarry Build Tree Health Report")
	r.Println("")

	// Build Summary
	r.Println("## Build Summary")
	r.Println("")
	r.Printf("- **Targets**: %d\n", out.Summary.Targets)
	r.Printf("- **Directories**: %d\n", out.Summary.Directories)
	r.Printf("- **Declaration Files**: %d\n", out.Summary.DeclarationFiles)
	r.Printf("- **Kinds**: %d\n", out.Summary.Kinds)
	r.Printf("- **Rule Sets**: %d\n", out.Summary.RuleSets)
	r.Println("")

	// Health Checks
	r.Println("## Health Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		status := "PASS"
		switch check.Status {
		case "warn":
			status = "WARN"
		case "error":
			status = "ERROR"
		}

		r.Printf("- **[%s]** %s: %s", status, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			r.Printf(" (%d issues)", check.IssueCount)
		}
		r.Println("")

		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	// Health Score
	r.Println("## Health Score")
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
	r.Println("")

	// Recommendations
	if len(out.Recommendations) > 0 {
		r.Println("## Recommendations")
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}

	return nil
}
