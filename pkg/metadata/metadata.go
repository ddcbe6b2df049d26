// Package metadata is the frontmatter & metadata extractor (C6): it pulls
// YAML frontmatter out of markdown resources (and the equivalent top-level
// fields out of JSON resources), merges the two places a resource can
// declare transitive dependencies, and reports the templating opt-in flag.
// Grounded on the teacher's frontmatter_extraction.go's goccy/go-yaml usage
// and yaml_error.go's downgrade-to-warning posture for malformed blocks.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

// sectionKeys maps each frontmatter dependency-table section name to its
// ResourceType, mirroring pkg/manifest's TOML section keys so a dependency
// declared in frontmatter carries the same Type string as one declared in
// the project manifest.
var sectionKeys = map[string]resource.Type{
	"agents":      resource.Agent,
	"snippets":    resource.Snippet,
	"commands":    resource.Command,
	"scripts":     resource.Script,
	"hooks":       resource.Hook,
	"mcp-servers": resource.McpServer,
	"skills":      resource.Skill,
}

var log = logger.New("metadata")

// MaxFrontmatterBytes bounds the YAML block read per spec.md §4.6/§4.8.
const MaxFrontmatterBytes = 64 * 1024

const delimiter = "---"

// Dependency is one entry of a `dependencies`/`agpm.dependencies` table, the
// same shape a manifest entry takes minus the alias key (frontmatter
// dependency tables are keyed by resource-type section, same as the
// manifest).
type Dependency struct {
	Type         string
	Alias        string
	Source       string
	Path         string
	Version      string
	Branch       string
	Rev          string
	Tool         string
	Filename     string
	TemplateVars map[string]any
	Install      *bool
	Flatten      bool
}

// InstallOrDefault mirrors manifest.Spec.InstallOrDefault.
func (d Dependency) InstallOrDefault() bool {
	if d.Install == nil {
		return true
	}
	return *d.Install
}

// Metadata is the normalized view of one resource's extracted frontmatter.
type Metadata struct {
	// Raw is the full decoded frontmatter map, preserved so unrecognized
	// fields survive (e.g. for patch application against other keys).
	Raw map[string]any
	// Dependencies is the merged dependency list: top-level `dependencies`
	// plus `agpm.dependencies`, top-level winning on duplicate path.
	Dependencies []Dependency
	// Templating is the agpm.templating opt-in flag; false means the file's
	// content is rendered as literal and protected from template sigils.
	Templating bool
	// Warning is set when frontmatter parsing failed and the file is being
	// treated as having no metadata, rather than failing the whole operation.
	Warning string
}

// ExtractMarkdown splits content into (frontmatter, body) and parses the
// frontmatter block. A missing frontmatter block is not an error: it
// returns a zero Metadata and the full content as body.
func ExtractMarkdown(content []byte) (Metadata, []byte, error) {
	text := string(content)
	if !strings.HasPrefix(text, delimiter) {
		return Metadata{}, content, nil
	}

	rest := text[len(delimiter):]
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return Metadata{}, content, nil
	}

	block := rest[:end]
	body := rest[end+1+len(delimiter):]
	body = strings.TrimPrefix(body, "\n")

	if len(block) > MaxFrontmatterBytes {
		log.Printf("frontmatter exceeds %d bytes, treating as no metadata", MaxFrontmatterBytes)
		return Metadata{Warning: fmt.Sprintf("frontmatter exceeds %d byte limit", MaxFrontmatterBytes)}, content, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		log.Printf("frontmatter parse failed, treating as no metadata: %v", err)
		return Metadata{Warning: fmt.Sprintf("frontmatter parse error: %v", err)}, content, nil
	}

	md := buildMetadata(raw)
	return md, []byte(body), nil
}

// ExtractJSON extracts the known top-level fields (`dependencies`,
// `agpm`) from a JSON resource. Parse failures downgrade to a warning in
// the same way as ExtractMarkdown.
func ExtractJSON(content []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		log.Printf("JSON metadata parse failed, treating as no metadata: %v", err)
		return Metadata{Warning: fmt.Sprintf("JSON parse error: %v", err)}, nil
	}
	return buildMetadata(raw), nil
}

func buildMetadata(raw map[string]any) Metadata {
	md := Metadata{Raw: raw}

	var agpmSection map[string]any
	if v, ok := raw["agpm"].(map[string]any); ok {
		agpmSection = v
	}

	if agpmSection != nil {
		if t, ok := agpmSection["templating"].(bool); ok {
			md.Templating = t
		}
	}

	topLevel := parseDependencyTable(raw["dependencies"])
	nested := parseDependencyTable(agpmSection["dependencies"])

	seen := make(map[string]bool, len(topLevel))
	merged := make([]Dependency, 0, len(topLevel)+len(nested))
	for _, d := range topLevel {
		merged = append(merged, d)
		seen[d.Type+"|"+d.Path] = true
	}
	for _, d := range nested {
		if seen[d.Type+"|"+d.Path] {
			continue
		}
		merged = append(merged, d)
	}
	md.Dependencies = merged

	return md
}

// parseDependencyTable parses a `dependencies` table shaped like
// `{ agents: [...], snippets: [...] }` where each entry is either a bare
// path string or a table matching manifest.Spec's fields.
func parseDependencyTable(v any) []Dependency {
	table, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	var deps []Dependency
	for section, entriesRaw := range table {
		typ, ok := sectionKeys[section]
		if !ok {
			continue
		}
		entries, ok := entriesRaw.([]any)
		if !ok {
			continue
		}
		for _, entryRaw := range entries {
			d := Dependency{Type: string(typ)}
			if path, ok := entryRaw.(string); ok {
				d.Path = path
				deps = append(deps, d)
				continue
			}
			entry, ok := entryRaw.(map[string]any)
			if !ok {
				continue
			}
			applyDependencyFields(&d, entry)
			if d.Path == "" {
				continue
			}
			deps = append(deps, d)
		}
	}
	return deps
}

func applyDependencyFields(d *Dependency, entry map[string]any) {
	if s, ok := entry["source"].(string); ok {
		d.Source = s
	}
	if s, ok := entry["path"].(string); ok {
		d.Path = s
	}
	if s, ok := entry["version"].(string); ok {
		d.Version = s
	}
	if s, ok := entry["branch"].(string); ok {
		d.Branch = s
	}
	if s, ok := entry["rev"].(string); ok {
		d.Rev = s
	}
	if s, ok := entry["tool"].(string); ok {
		d.Tool = s
	}
	if s, ok := entry["filename"].(string); ok {
		d.Filename = s
	}
	if s, ok := entry["template_vars"].(map[string]any); ok {
		d.TemplateVars = s
	}
	if b, ok := entry["install"].(bool); ok {
		d.Install = &b
	}
	if b, ok := entry["flatten"].(bool); ok {
		d.Flatten = b
	}
}
