package explorer

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/family"
)

// targetPayload is one declared target in an API response.
type targetPayload struct {
	Address string         `json:"address"`
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Origin  string         `json:"origin"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// rulesPayload reports where a rule table was declared.
type rulesPayload struct {
	DeclaredIn string `json:"declared_in"`
}

// familyPayload is one directory snapshot in an API response.
type familyPayload struct {
	Directory         string                    `json:"directory"`
	Empty             bool                      `json:"empty"`
	Targets           []targetPayload           `json:"targets,omitempty"`
	Defaults          map[string]map[string]any `json:"defaults,omitempty"`
	DependenciesRules *rulesPayload             `json:"dependencies_rules,omitempty"`
	DependentsRules   *rulesPayload             `json:"dependents_rules,omitempty"`
}

// targetsPayload answers a spec lookup.
type targetsPayload struct {
	Spec    string          `json:"spec"`
	Targets []targetPayload `json:"targets"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) routes(r chi.Router) {
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/families/*", s.handleFamily)
	r.Get("/api/targets", s.handleTargets)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFamily(w http.ResponseWriter, r *http.Request) {
	dir := strings.Trim(chi.URLParam(r, "*"), "/")
	if dir != "" {
		dir = path.Clean(dir)
		if dir == "." {
			dir = ""
		}
	}
	if dir == ".." || strings.HasPrefix(dir, "../") {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "directory escapes the build root"})
		return
	}

	opt, err := s.session().OptionalFamily(r.Context(), dir)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorPayload{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, buildFamilyPayload(dir, opt.Family))
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	spec := r.URL.Query().Get("spec")
	if spec == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "missing spec parameter"})
		return
	}

	listings, err := s.session().ListSpec(r.Context(), spec, address.Origin("the explorer API"))
	if err != nil {
		writeJSON(w, statusFor(err), errorPayload{Error: err.Error()})
		return
	}

	payload := targetsPayload{Spec: spec, Targets: make([]targetPayload, 0, len(listings))}
	for _, l := range listings {
		payload.Targets = append(payload.Targets, targetPayload{
			Address: l.Address.Spec(),
			Name:    l.Adaptor.Name,
			Kind:    l.Adaptor.Kind,
			Origin:  l.Origin,
			Fields:  l.Adaptor.Fields,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

// statusFor maps resolution errors onto HTTP statuses: malformed specs
// are the client's fault, unresolvable ones name nothing, and anything
// else is a declaration problem.
func statusFor(err error) int {
	var invalid *address.InvalidSpecError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest
	}
	var resolve *address.ResolveError
	if errors.As(err, &resolve) {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

func buildFamilyPayload(dir string, fam *family.Family) familyPayload {
	display := dir
	if display == "" {
		display = "//"
	}
	payload := familyPayload{Directory: display, Empty: fam == nil}
	if fam == nil {
		return payload
	}

	for _, name := range fam.TargetNames() {
		adaptor, _ := fam.Target(name)
		origin, _ := fam.OriginOf(name)
		payload.Targets = append(payload.Targets, targetPayload{
			Address: address.Address{SpecPath: dir, TargetName: name}.Spec(),
			Name:    name,
			Kind:    adaptor.Kind,
			Origin:  origin,
			Fields:  adaptor.Fields,
		})
	}
	if len(fam.Defaults) > 0 {
		payload.Defaults = fam.Defaults
	}
	if fam.DependenciesRules != nil {
		payload.DependenciesRules = &rulesPayload{DeclaredIn: fam.DependenciesRules.Path}
	}
	if fam.DependentsRules != nil {
		payload.DependentsRules = &rulesPayload{DeclaredIn: fam.DependentsRules.Path}
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
