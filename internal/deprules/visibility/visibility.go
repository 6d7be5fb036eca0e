// Package visibility is the reference dependency-rules engine. It
// interprets rule tables declared as
//
//	__dependents_rules__(
//	    ({"type": "shell_*"}, "src/app/**", "?tools/**", "!**"),
//	)
//
// Each ruleset starts with a selector choosing which targets it governs,
// followed by directory glob patterns checked against the other end of
// the edge. A "!" prefix denies, "?" warns, no prefix allows. The first
// ruleset whose selector matches is authoritative and its first matching
// pattern decides; when nothing matches the edge is allowed.
package visibility

import (
	"fmt"
	"path"
	"strings"

	"github.com/quarrybuild/quarry/internal/deprules"
)

const EngineName = "visibility"

func init() {
	deprules.Register(EngineName, func() deprules.Engine { return &engine{} })
}

type engine struct{}

// Name implements deprules.Engine.
func (e *engine) Name() string { return EngineName }

// ruleset is one parsed (selector, patterns...) entry.
type ruleset struct {
	selector selector
	rules    []rule
}

type selector struct {
	kindGlob string
	pathGlob string
	nameGlob string
	tags     []string
}

type rule struct {
	verdict     deprules.Verdict
	pattern     string
	raw         string // pattern as written, prefix included
	declaredDir string
}

// ParseRules implements deprules.Engine.
func (e *engine) ParseRules(dir string, args []any) ([]any, error) {
	out := make([]any, 0, len(args))
	for i, arg := range args {
		entries, ok := arg.([]any)
		if !ok || len(entries) == 0 {
			return nil, fmt.Errorf("ruleset %d must be a non-empty tuple of a selector followed by rule patterns, got %T", i+1, arg)
		}
		sel, err := parseSelector(entries[0])
		if err != nil {
			return nil, fmt.Errorf("ruleset %d: %w", i+1, err)
		}
		rs := &ruleset{selector: sel}
		for _, raw := range entries[1:] {
			pattern, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("ruleset %d: rule patterns must be strings, got %T", i+1, raw)
			}
			r, err := parseRule(pattern, dir)
			if err != nil {
				return nil, fmt.Errorf("ruleset %d: %w", i+1, err)
			}
			rs.rules = append(rs.rules, r)
		}
		out = append(out, rs)
	}
	return out, nil
}

func parseSelector(raw any) (selector, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return selector{}, fmt.Errorf("selector must not be empty")
		}
		return selector{kindGlob: v}, nil
	case map[string]any:
		sel := selector{}
		for key, val := range v {
			switch key {
			case "type":
				s, ok := val.(string)
				if !ok {
					return selector{}, fmt.Errorf("selector %q must be a string glob", key)
				}
				sel.kindGlob = s
			case "path":
				s, ok := val.(string)
				if !ok {
					return selector{}, fmt.Errorf("selector %q must be a string glob", key)
				}
				sel.pathGlob = s
			case "name":
				s, ok := val.(string)
				if !ok {
					return selector{}, fmt.Errorf("selector %q must be a string glob", key)
				}
				sel.nameGlob = s
			case "tags":
				items, ok := val.([]any)
				if !ok {
					return selector{}, fmt.Errorf("selector %q must be a list of tags", key)
				}
				for _, item := range items {
					tag, ok := item.(string)
					if !ok {
						return selector{}, fmt.Errorf("selector tags must be strings, got %T", item)
					}
					sel.tags = append(sel.tags, tag)
				}
			default:
				return selector{}, fmt.Errorf("unknown selector key %q (expected type, path, name or tags)", key)
			}
		}
		return sel, nil
	default:
		return selector{}, fmt.Errorf("selector must be a string or a dict, got %T", raw)
	}
}

func parseRule(pattern, dir string) (rule, error) {
	r := rule{verdict: deprules.Allow, raw: pattern, declaredDir: dir}
	switch {
	case strings.HasPrefix(pattern, "!"):
		r.verdict = deprules.Deny
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "?"):
		r.verdict = deprules.Warn
		pattern = pattern[1:]
	}
	if pattern == "" {
		return rule{}, fmt.Errorf("rule pattern must not be empty")
	}
	r.pattern = pattern
	return r, nil
}

// CheckDependencyRules implements deprules.Engine. The outgoing table
// selects on the source and matches the target's directory; the incoming
// table selects on the target and matches the source's directory. Deny
// outranks warn outranks allow across the two directions.
func (e *engine) CheckDependencyRules(source deprules.TargetView, dependenciesRules *deprules.RuleSet, target deprules.TargetView, dependentsRules *deprules.RuleSet) deprules.Action {
	outgoing := check(dependenciesRules, source, target, "dependency")
	incoming := check(dependentsRules, target, source, "dependent")

	if outgoing.Verdict == deprules.Deny {
		return outgoing
	}
	if incoming.Verdict == deprules.Deny {
		return incoming
	}
	if outgoing.Verdict == deprules.Warn {
		return outgoing
	}
	if incoming.Verdict == deprules.Warn {
		return incoming
	}
	return deprules.AllowAll
}

func check(rs *deprules.RuleSet, subject, peer deprules.TargetView, edge string) deprules.Action {
	if rs == nil {
		return deprules.AllowAll
	}
	for _, raw := range rs.Rules {
		spec, ok := raw.(*ruleset)
		if !ok {
			continue
		}
		if !spec.selector.matches(subject) {
			continue
		}
		for _, r := range spec.rules {
			if !globMatch(r.pattern, peer.Address.SpecPath) {
				continue
			}
			if r.verdict == deprules.Allow {
				return deprules.AllowAll
			}
			return deprules.Action{
				Verdict: r.verdict,
				Reason: fmt.Sprintf("%s %s of %s matched rule %q declared in %s",
					edge, peer.Address.Spec(), subject.Address.Spec(), r.raw, displayDir(rs.Path)),
			}
		}
		// The selected ruleset is authoritative for this target.
		return deprules.AllowAll
	}
	return deprules.AllowAll
}

func (s selector) matches(t deprules.TargetView) bool {
	if s.kindGlob != "" && !simpleGlob(s.kindGlob, t.Kind) {
		return false
	}
	if s.nameGlob != "" && !simpleGlob(s.nameGlob, t.Address.TargetName) {
		return false
	}
	if s.pathGlob != "" && !globMatch(s.pathGlob, t.Address.SpecPath) {
		return false
	}
	for _, want := range s.tags {
		found := false
		for _, have := range t.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func simpleGlob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}

// globMatch matches a directory path against a slash glob where "*"
// spans one segment and "**" spans any number, including zero. The
// pattern "//" names the build root, whose path is the empty string.
func globMatch(pattern, dir string) bool {
	pattern = strings.TrimPrefix(pattern, "//")
	var patSegs, dirSegs []string
	if pattern != "" {
		patSegs = strings.Split(pattern, "/")
	}
	if dir != "" {
		dirSegs = strings.Split(dir, "/")
	}
	return matchSegments(patSegs, dirSegs)
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for skip := 0; skip <= len(segs); skip++ {
			if matchSegments(pat[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	if !simpleGlob(pat[0], segs[0]) {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

func displayDir(dir string) string {
	if dir == "" {
		return "//"
	}
	return dir
}
