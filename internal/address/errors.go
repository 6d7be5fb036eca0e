package address

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// InvalidSpecError reports spec text that is malformed regardless of what
// exists on disk.
type InvalidSpecError struct {
	Spec   string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid address spec %q: %s", e.Spec, e.Reason)
}

// ResolveError reports a spec that is well formed but names nothing: the
// path exists as neither file nor directory, the directory has no
// declarations, or the target name is not declared there. The message
// always contains the literal spec text; Suggestions carries close name
// matches when the failure is an unknown target.
type ResolveError struct {
	Spec              string
	OriginDescription string
	Problem           string
	Suggestions       []string
}

func (e *ResolveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot resolve %q", e.Spec)
	if e.OriginDescription != "" {
		fmt.Fprintf(&b, " (from %s)", e.OriginDescription)
	}
	b.WriteString(": ")
	b.WriteString(e.Problem)
	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nDid you mean one of these target names?\n")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&b, "  :%s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// suggestionCutoff is the minimum Levenshtein similarity for a known name
// to count as a plausible correction.
const suggestionCutoff = 0.55

const maxSuggestions = 5

// DidYouMean builds the unknown-target ResolveError for addr, ranking
// knownNames by similarity to the requested target name. When nothing is
// close, the directory's names are listed instead so the caller still sees
// what exists.
func DidYouMean(addr Address, originDescription string, knownNames []string) *ResolveError {
	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(knownNames))
	for _, name := range knownNames {
		score := levenshtein.Match(addr.TargetName, name, nil)
		if score >= suggestionCutoff {
			ranked = append(ranked, scored{name, score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	suggestions := make([]string, 0, maxSuggestions)
	for _, s := range ranked {
		if len(suggestions) == maxSuggestions {
			break
		}
		suggestions = append(suggestions, s.name)
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, knownNames...)
		sort.Strings(suggestions)
		if len(suggestions) > maxSuggestions*2 {
			suggestions = suggestions[:maxSuggestions*2]
		}
	}

	dir := addr.SpecPath
	if dir == "" {
		dir = "//"
	}
	return &ResolveError{
		Spec:              addr.Spec(),
		OriginDescription: originDescription,
		Problem:           fmt.Sprintf("no target named %q is defined in directory %q", addr.TargetName, dir),
		Suggestions:       suggestions,
	}
}
