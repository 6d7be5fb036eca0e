// Package family assembles per-directory declaration snapshots. An
// AddressMap is one declaration file's parsed targets; a Family merges a
// directory's maps (file-backed and synthetic) with its frozen defaults
// and dependency rule tables into the immutable unit of caching.
package family

import "sort"

// TargetAdaptor is one raw target declaration: a kind alias plus the
// keyword fields exactly as written, before any kind-specific validation.
type TargetAdaptor struct {
	// Kind is the declared target type alias, like "shell_command".
	Kind string

	// Name is the target name, unique within its directory.
	Name string

	// Fields holds the declared keyword arguments. The "name" keyword is
	// extracted into Name and not repeated here.
	Fields map[string]any

	// FieldNames preserves declaration order of Fields.
	FieldNames []string

	// Origin is the declaration file path, or the synthetic provider
	// name for targets not backed by a file.
	Origin string
}

// Field returns a declared field value.
func (t *TargetAdaptor) Field(name string) (any, bool) {
	v, ok := t.Fields[name]
	return v, ok
}

// StringSliceField reads a field as a list of strings, tolerating both
// []string and the []any the declaration evaluator produces. A missing
// field yields nil.
func (t *TargetAdaptor) StringSliceField(name string) []string {
	raw, ok := t.Fields[name]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

// Tags returns the declared tags field.
func (t *TargetAdaptor) Tags() []string {
	return t.StringSliceField("tags")
}

// Dependencies returns the declared dependencies field.
func (t *TargetAdaptor) Dependencies() []string {
	return t.StringSliceField("dependencies")
}

// EffectiveFields overlays directory defaults under the explicitly
// declared fields: explicit values win, defaulted fields fill the gaps.
func (t *TargetAdaptor) EffectiveFields(defaulted map[string]any) map[string]any {
	out := make(map[string]any, len(t.Fields)+len(defaulted))
	for k, v := range defaulted {
		out[k] = v
	}
	for k, v := range t.Fields {
		out[k] = v
	}
	return out
}

// SortedFieldNames returns the field names in lexical order.
func (t *TargetAdaptor) SortedFieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
