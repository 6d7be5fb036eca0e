package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/deprules"
	"github.com/quarrybuild/quarry/internal/family"
)

// Resolve validates a parsed spec against the filesystem and returns the
// address it names.
func (s *Session) Resolve(in address.Input) (address.Address, error) {
	facts, err := s.fs.Stat(in.Path)
	if err != nil {
		return address.Address{}, err
	}
	return in.Resolve(address.ExistenceFacts{IsFile: facts.IsFile, IsDir: facts.IsDir})
}

// ResolveSpec parses spec text and resolves it in one step.
func (s *Session) ResolveSpec(spec string, opts ...address.ParseOption) (address.Address, error) {
	in, err := address.Parse(spec, opts...)
	if err != nil {
		return address.Address{}, err
	}
	return s.Resolve(in)
}

// Listing is one resolved target of a textual spec.
type Listing struct {
	Address address.Address
	Adaptor *family.TargetAdaptor
	Origin  string
}

// ListSpec expands one spec into its declared targets. A path-only spec
// naming a directory lists every target declared there; any other spec
// names exactly one target.
func (s *Session) ListSpec(ctx context.Context, spec string, opts ...address.ParseOption) ([]Listing, error) {
	in, err := address.Parse(spec, opts...)
	if err != nil {
		return nil, err
	}

	if in.Target == "" && in.Generated == "" {
		facts, err := s.fs.Stat(in.Path)
		if err != nil {
			return nil, err
		}
		if facts.IsDir {
			fam, err := s.EnsureFamily(ctx, in.Path)
			if err != nil {
				return nil, err
			}
			out := make([]Listing, 0, fam.Len())
			for _, name := range fam.TargetNames() {
				adaptor, _ := fam.Target(name)
				origin, _ := fam.OriginOf(name)
				out = append(out, Listing{
					Address: address.Address{SpecPath: in.Path, TargetName: name},
					Adaptor: adaptor,
					Origin:  origin,
				})
			}
			return out, nil
		}
	}

	addr, err := s.Resolve(in)
	if err != nil {
		return nil, err
	}
	adaptor, err := s.TargetAdaptor(ctx, addr, in.OriginDescription)
	if err != nil {
		return nil, err
	}
	return []Listing{{Address: addr, Adaptor: adaptor, Origin: adaptor.Origin}}, nil
}

// TargetAdaptor looks up the declaration behind an address. Generated
// addresses are rejected: they have no declaration of their own, only
// their generator does.
func (s *Session) TargetAdaptor(ctx context.Context, addr address.Address, originDescription string) (*family.TargetAdaptor, error) {
	if addr.IsGenerated() {
		return nil, &address.ResolveError{
			Spec:              addr.Spec(),
			OriginDescription: originDescription,
			Problem:           fmt.Sprintf("generated targets have no declaration of their own; resolve the generator %q instead", addr.ToTargetGenerator().Spec()),
		}
	}
	fam, err := s.EnsureFamily(ctx, addr.SpecPath)
	if err != nil {
		return nil, err
	}
	adaptor, ok := fam.Target(addr.TargetName)
	if !ok {
		return nil, address.DidYouMean(addr, originDescription, fam.TargetNames())
	}
	return adaptor, nil
}

// BuildFileAddress locates the declaration file that defines an address.
// A generated address maps to its generator's declaration; the returned
// value still carries the full original address.
func (s *Session) BuildFileAddress(ctx context.Context, addr address.Address, originDescription string) (*family.BuildFileAddress, error) {
	owner := addr
	if addr.IsGenerated() {
		owner = addr.ToTargetGenerator()
	}
	fam, err := s.EnsureFamily(ctx, owner.SpecPath)
	if err != nil {
		return nil, err
	}
	declPath, ok := fam.OriginOf(owner.TargetName)
	if !ok {
		return nil, address.DidYouMean(owner, originDescription, fam.TargetNames())
	}
	return &family.BuildFileAddress{Address: addr, Path: declPath}, nil
}

// DependencyVerdict pairs one dependency with its evaluated action.
type DependencyVerdict struct {
	Dependency address.Address
	Action     deprules.Action
}

// RuleApplication is the outcome of checking every edge of one target's
// dependency list. Deny and Warn are reported as values; the caller
// decides whether a Deny aborts.
type RuleApplication struct {
	Source   address.Address
	Verdicts []DependencyVerdict
}

// Denials returns the verdicts that denied their edge.
func (a *RuleApplication) Denials() []DependencyVerdict {
	var out []DependencyVerdict
	for _, v := range a.Verdicts {
		if v.Action.Verdict == deprules.Deny {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the verdicts that flagged their edge.
func (a *RuleApplication) Warnings() []DependencyVerdict {
	var out []DependencyVerdict
	for _, v := range a.Verdicts {
		if v.Action.Verdict == deprules.Warn {
			out = append(out, v)
		}
	}
	return out
}

// DependenciesRuleAction evaluates the configured rule tables over each
// (source, dependency) edge. With no engine installed it allows every
// edge without touching the tree. Families for all involved directories
// are fetched in one fan-out; each end of an edge is matched through its
// owning declaration (generated addresses fall back to their generator).
func (s *Session) DependenciesRuleAction(ctx context.Context, source address.Address, dependencies []address.Address, originDescription string) (*RuleApplication, error) {
	app := &RuleApplication{Source: source, Verdicts: make([]DependencyVerdict, 0, len(dependencies))}
	if s.engine == nil {
		for _, dep := range dependencies {
			app.Verdicts = append(app.Verdicts, DependencyVerdict{Dependency: dep, Action: deprules.AllowAll})
		}
		return app, nil
	}

	dirs := map[string]bool{source.SpecPath: true}
	for _, dep := range dependencies {
		dirs[dep.SpecPath] = true
	}
	var mu sync.Mutex
	fams := make(map[string]*family.Family, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	for dir := range dirs {
		g.Go(func() error {
			fam, err := s.EnsureFamily(gctx, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			fams[dir] = fam
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sourceView, err := ruleView(fams, source, originDescription)
	if err != nil {
		return nil, err
	}
	sourceFam := fams[source.SpecPath]

	for _, dep := range dependencies {
		depView, err := ruleView(fams, dep, originDescription)
		if err != nil {
			return nil, err
		}
		depFam := fams[dep.SpecPath]
		action := deprules.Evaluate(s.engine, sourceView, sourceFam.DependenciesRules, depView, depFam.DependentsRules)
		app.Verdicts = append(app.Verdicts, DependencyVerdict{Dependency: dep, Action: action})
	}
	return app, nil
}

// ruleView projects an address onto its owning declaration for rule
// matching.
func ruleView(fams map[string]*family.Family, addr address.Address, originDescription string) (deprules.TargetView, error) {
	owner := addr
	if addr.IsGenerated() {
		owner = addr.ToTargetGenerator()
	}
	fam := fams[owner.SpecPath]
	view, ok := fam.View(owner.TargetName)
	if !ok {
		return deprules.TargetView{}, address.DidYouMean(owner, originDescription, fam.TargetNames())
	}
	return view, nil
}
