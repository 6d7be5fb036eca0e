package synthetic

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/quarrybuild/quarry/internal/defaults"
	"github.com/quarrybuild/quarry/internal/family"
	"github.com/quarrybuild/quarry/internal/vfs"
)

// DefaultManifestPath is where ManifestProvider looks when no path is
// configured.
const DefaultManifestPath = "quarry.synthetic.yaml"

// manifest is the YAML document shape:
//
//	directories:
//	  src/vendored:
//	    - kind: resources
//	      name: schemas
//	      fields:
//	        sources: ["*.json"]
type manifest struct {
	Directories map[string][]manifestTarget `yaml:"directories"`
}

type manifestTarget struct {
	Kind   string         `yaml:"kind"`
	Name   string         `yaml:"name"`
	Fields map[string]any `yaml:"fields"`
}

// ManifestProvider contributes targets declared in a YAML manifest at
// the build root. A missing manifest contributes nothing; a present but
// invalid one fails every directory it would feed.
type ManifestProvider struct {
	fs   vfs.FS
	path string

	once sync.Once
	man  *manifest
	err  error
}

// NewManifestProvider creates a provider reading manifestPath from fsys.
// An empty path uses DefaultManifestPath.
func NewManifestProvider(fsys vfs.FS, manifestPath string) *ManifestProvider {
	if manifestPath == "" {
		manifestPath = DefaultManifestPath
	}
	return &ManifestProvider{fs: fsys, path: manifestPath}
}

// Name implements Provider.
func (p *ManifestProvider) Name() string {
	return "manifest:" + p.path
}

// Provide implements Provider.
func (p *ManifestProvider) Provide(_ context.Context, dir string) ([]Declaration, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	if p.man == nil {
		return nil, nil
	}
	targets, ok := p.man.Directories[dir]
	if !ok || len(targets) == 0 {
		return nil, nil
	}

	adaptors := make([]*family.TargetAdaptor, 0, len(targets))
	for i, target := range targets {
		adaptor, err := p.adaptor(dir, i, target)
		if err != nil {
			return nil, err
		}
		adaptors = append(adaptors, adaptor)
	}

	addressMap, err := family.NewAddressMap(p.path, adaptors)
	if err != nil {
		return nil, err
	}
	return []Declaration{{
		Map:           addressMap,
		ApplyDefaults: func(d defaults.Defaults) error { return applyDefaults(adaptors, d) },
	}}, nil
}

func (p *ManifestProvider) load() {
	facts, err := p.fs.Stat(p.path)
	if err != nil {
		p.err = err
		return
	}
	if !facts.IsFile {
		return
	}
	content, err := p.fs.ReadFile(p.path)
	if err != nil {
		p.err = fmt.Errorf("failed to read synthetic manifest %q: %w", p.path, err)
		return
	}
	var man manifest
	if err := yaml.Unmarshal(content, &man); err != nil {
		p.err = fmt.Errorf("failed to parse synthetic manifest %q: %w", p.path, err)
		return
	}
	p.man = &man
}

func (p *ManifestProvider) adaptor(dir string, index int, target manifestTarget) (*family.TargetAdaptor, error) {
	if target.Kind == "" {
		return nil, fmt.Errorf("synthetic manifest %q: directory %q entry %d is missing a kind", p.path, dir, index+1)
	}
	name := target.Name
	if name == "" {
		if dir == "" {
			return nil, fmt.Errorf("synthetic manifest %q: targets for the build root must be named explicitly", p.path)
		}
		name = path.Base(dir)
	}
	if strings.ContainsAny(name, "#@:/ ") {
		return nil, fmt.Errorf("synthetic manifest %q: target name %q contains a reserved character", p.path, name)
	}

	fieldNames := make([]string, 0, len(target.Fields))
	for key := range target.Fields {
		fieldNames = append(fieldNames, key)
	}
	sort.Strings(fieldNames)

	return &family.TargetAdaptor{
		Kind:       target.Kind,
		Name:       name,
		Fields:     target.Fields,
		FieldNames: fieldNames,
		Origin:     p.path,
	}, nil
}

// applyDefaults fills unset fields from the directory's frozen defaults.
// Explicit manifest fields always win.
func applyDefaults(adaptors []*family.TargetAdaptor, d defaults.Defaults) error {
	for _, adaptor := range adaptors {
		for key, value := range d.For(adaptor.Kind) {
			if adaptor.Fields == nil {
				adaptor.Fields = make(map[string]any)
			}
			if _, ok := adaptor.Fields[key]; ok {
				continue
			}
			adaptor.Fields[key] = value
			adaptor.FieldNames = append(adaptor.FieldNames, key)
		}
		sort.Strings(adaptor.FieldNames)
	}
	return nil
}
