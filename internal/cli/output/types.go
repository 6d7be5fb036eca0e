package output

// TargetInfo describes one declared target in machine-readable listings.
type TargetInfo struct {
	Address string         `json:"address"`
	Kind    string         `json:"kind"`
	Origin  string         `json:"origin,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// ListSummary aggregates a listing across directories.
type ListSummary struct {
	Targets     int            `json:"targets"`
	Directories int            `json:"directories"`
	ByKind      map[string]int `json:"by_kind,omitempty"`
}

// ListOutput is the JSON payload of the list command.
type ListOutput struct {
	Targets []TargetInfo `json:"targets"`
	Summary ListSummary  `json:"summary"`
}

// RuleSetInfo summarizes where a dependency rule stack was declared.
type RuleSetInfo struct {
	DeclaredIn string `json:"declared_in"`
}

// FamilyOutput is the JSON payload of the peek command for one directory.
type FamilyOutput struct {
	Directory         string                    `json:"directory"`
	Empty             bool                      `json:"empty"`
	Files             []string                  `json:"files,omitempty"`
	Targets           []TargetInfo              `json:"targets,omitempty"`
	Defaults          map[string]map[string]any `json:"defaults,omitempty"`
	DependenciesRules *RuleSetInfo              `json:"dependencies_rules,omitempty"`
	DependentsRules   *RuleSetInfo              `json:"dependents_rules,omitempty"`
}

// VerdictInfo is the outcome of checking one dependency edge.
type VerdictInfo struct {
	Dependency string `json:"dependency"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
}

// CheckOutput is the JSON payload of the deps command.
type CheckOutput struct {
	Source   string        `json:"source"`
	Verdicts []VerdictInfo `json:"verdicts"`
	Denied   int           `json:"denied"`
	Warned   int           `json:"warned"`
}
