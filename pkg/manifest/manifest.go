// Package manifest is the manifest model (C5): parses the project manifest
// (agpm.toml) and, if present, the private manifest (agpm.private.toml)
// whose patches must never leak into the public lockfile. Grounded on the
// teacher's TOML-free JSON config patterns generalized to
// pelletier/go-toml/v2 (the library this pack's dependency graph already
// carries indirectly) the way divijg19-rig's rig.lock uses it for its own
// TOML lockfile.
package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/aig787/agpm-sub009/pkg/fsutil"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

// Spec is one manifest dependency entry (spec.md §3's DependencySpec).
// Fields mirror the TOML schema in spec.md §6.
type Spec struct {
	// LocalPath is set when the manifest entry was a bare string instead of
	// a table; all other fields are then zero/empty.
	LocalPath string `toml:"-"`

	Source       string         `toml:"source,omitempty"`
	Path         string         `toml:"path"`
	Version      string         `toml:"version,omitempty"`
	Branch       string         `toml:"branch,omitempty"`
	Rev          string         `toml:"rev,omitempty"`
	Tool         string         `toml:"tool,omitempty"`
	Filename     string         `toml:"filename,omitempty"`
	TemplateVars map[string]any `toml:"template_vars,omitempty"`
	Install      *bool          `toml:"install,omitempty"`
	Flatten      bool           `toml:"flatten,omitempty"`
}

// InstallOrDefault returns the effective install flag: true unless the
// manifest explicitly set install = false (spec.md §3).
func (s Spec) InstallOrDefault() bool {
	if s.Install == nil {
		return true
	}
	return *s.Install
}

// IsLocal reports whether this entry is a bare local-path dependency.
func (s Spec) IsLocal() bool {
	return s.LocalPath != ""
}

// Manifest is the parsed, type-normalized view of a project manifest.
type Manifest struct {
	Sources map[string]resource.Source
	// Entries maps each resource type to its ordered (alias -> Spec) table.
	// Iteration order for deterministic consumers is the sorted alias order,
	// reconstructed by callers from this map plus EntryOrder.
	Entries    map[resource.Type]map[string]Spec
	EntryOrder map[resource.Type][]string
	Project    map[string]any
}

// sectionKeys maps each TOML table name to its ResourceType, per spec.md §6.
var sectionKeys = map[string]resource.Type{
	"agents":      resource.Agent,
	"snippets":    resource.Snippet,
	"commands":    resource.Command,
	"scripts":     resource.Script,
	"hooks":       resource.Hook,
	"mcp-servers": resource.McpServer,
	"skills":      resource.Skill,
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := fsutil.ReadFile(path, "load project manifest", "manifest.Load")
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: parse TOML: %w", err)
	}

	m := &Manifest{
		Sources:    make(map[string]resource.Source),
		Entries:    make(map[resource.Type]map[string]Spec),
		EntryOrder: make(map[resource.Type][]string),
		Project:    make(map[string]any),
	}

	if sourcesRaw, ok := raw["sources"].(map[string]any); ok {
		for name, v := range sourcesRaw {
			url, _ := v.(string)
			m.Sources[name] = resource.Source{Name: name, URL: url}
		}
	}

	if projectRaw, ok := raw["project"].(map[string]any); ok {
		m.Project = projectRaw
	}

	for section, typ := range sectionKeys {
		sectionRaw, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		entries := make(map[string]Spec, len(sectionRaw))
		order := make([]string, 0, len(sectionRaw))
		for alias, v := range sectionRaw {
			spec, err := decodeSpec(v)
			if err != nil {
				return nil, fmt.Errorf("manifest: %s.%s: %w", section, alias, err)
			}
			entries[alias] = spec
			order = append(order, alias)
		}
		m.Entries[typ] = entries
		m.EntryOrder[typ] = order
	}

	return m, nil
}

// decodeSpec normalizes one manifest entry, which is either a bare path
// string or a table, into a Spec.
func decodeSpec(v any) (Spec, error) {
	if path, ok := v.(string); ok {
		return Spec{LocalPath: path, Path: path}, nil
	}

	table, ok := v.(map[string]any)
	if !ok {
		return Spec{}, fmt.Errorf("entry must be a string or table, got %T", v)
	}

	spec := Spec{}
	if s, ok := table["source"].(string); ok {
		spec.Source = s
	}
	if p, ok := table["path"].(string); ok {
		spec.Path = p
	}
	if p, ok := table["version"].(string); ok {
		spec.Version = p
	}
	if p, ok := table["branch"].(string); ok {
		spec.Branch = p
	}
	if p, ok := table["rev"].(string); ok {
		spec.Rev = p
	}
	if p, ok := table["tool"].(string); ok {
		spec.Tool = p
	}
	if p, ok := table["filename"].(string); ok {
		spec.Filename = p
	}
	if p, ok := table["template_vars"].(map[string]any); ok {
		spec.TemplateVars = p
	}
	if p, ok := table["install"].(bool); ok {
		spec.Install = &p
	}
	if p, ok := table["flatten"].(bool); ok {
		spec.Flatten = p
	}

	if spec.Path == "" {
		return Spec{}, fmt.Errorf("missing required field \"path\"")
	}
	return spec, nil
}

// PrivateManifest is the parsed agpm.private.toml: per-(type,alias) patches
// that override frontmatter fields at install time, never written back to
// the public lockfile (spec.md §6).
type PrivateManifest struct {
	// Patches maps "<type>.<alias>" to a field-name -> override-value table.
	Patches map[string]map[string]any
}

// LoadPrivate parses the private manifest at path. A missing file is not an
// error at this layer; callers check errors.Is(err, fs.ErrNotExist) on the
// fsutil error (fsutil wraps the underlying *PathError, which os.IsNotExist
// does not see through).
func LoadPrivate(path string) (*PrivateManifest, error) {
	data, err := fsutil.ReadFile(path, "load private manifest", "manifest.LoadPrivate")
	if err != nil {
		return nil, err
	}
	return parsePrivate(data)
}

func parsePrivate(data []byte) (*PrivateManifest, error) {
	var raw struct {
		Patch map[string]map[string]map[string]any `toml:"patch"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: parse private TOML: %w", err)
	}

	pm := &PrivateManifest{Patches: make(map[string]map[string]any)}
	for typ, aliases := range raw.Patch {
		// Accept the plural section name ("agents") as well as the type ("agent").
		if t, ok := sectionKeys[typ]; ok {
			typ = string(t)
		}
		for alias, fields := range aliases {
			pm.Patches[typ+"."+alias] = fields
		}
	}
	return pm, nil
}

// PatchFor returns the field overrides declared for (type, alias) in the
// private manifest, or nil if there are none.
func (pm *PrivateManifest) PatchFor(typ resource.Type, alias string) map[string]any {
	if pm == nil {
		return nil
	}
	return pm.Patches[string(typ)+"."+alias]
}
