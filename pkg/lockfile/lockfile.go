// Package lockfile is the lockfile writer/reader (C9): canonical TOML
// serialization of resolved resources, sorted by (resource type, canonical
// name, variant-inputs-hash) so identical inputs produce byte-identical
// output across runs and OSes. Grounded on the rig.lock pattern (a
// hand-written deterministic TOML writer rather than relying on the
// encoder's own map/field ordering), generalized from a single flat
// "tools" array to one array of tables per resource type plus a sources
// array.
package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/aig787/agpm-sub009/pkg/fsutil"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

// Schema is the current lockfile format version (spec.md §4.9/§6: "a
// numeric version field enables forward-compatible migrations").
const Schema = 1

// Source is one upserted repository record.
type Source struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Commit   string `toml:"commit"`
	FetchedAt string `toml:"fetched_at"`
}

// Resource mirrors resolver.Locked after C10 has computed install-time
// fields (installed path and checksums); it is the unit the lockfile
// actually persists.
type Resource struct {
	Name          string
	ManifestAlias string
	Source        string
	SourceURL     string
	Path          string
	Version       string
	Commit        string
	Tool          resource.Tool
	Type          resource.Type
	VariantKey    string
	Install       bool
	Flatten       bool
	Filename      string
	InstalledAt   string // Unix-style forward-slash path, empty when install=false
	Checksum      string // "sha256:..." over the bytes written to disk, empty when install=false
	ContextChecksum string // rendering-context checksum, empty when install=false
	TemplateVars  map[string]any
	DependsOn     []resource.Id
	AppliedPatches map[string]any // project-scoped patches only; never private
}

// File is the full decoded/encoded lockfile document.
type File struct {
	Schema    int
	Sources   []Source
	Resources []Resource
}

// Load reads and parses a lockfile from disk. A missing file is not
// reported here; callers distinguish "no lockfile yet" by checking
// errors.Is(err, fs.ErrNotExist) on the returned error themselves, mirroring
// manifest.LoadPrivate.
func Load(path string) (*File, error) {
	data, err := fsutil.ReadFile(path, "load lockfile", "lockfile.Load")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// rawResourceTable is the on-disk shape of one [[<type>]] array-of-tables
// entry; Go structs can't vary their toml tag by resource.Type, so decoding
// goes through this single shape shared by every type-specific array.
type rawResourceTable struct {
	Name            string         `toml:"name"`
	Alias           string         `toml:"alias,omitempty"`
	Source          string         `toml:"source,omitempty"`
	SourceURL       string         `toml:"source_url,omitempty"`
	Path            string         `toml:"path"`
	Version         string         `toml:"version,omitempty"`
	Commit          string         `toml:"commit,omitempty"`
	Tool            string         `toml:"tool"`
	Variant         string         `toml:"variant,omitempty"`
	Install         bool           `toml:"install"`
	Flatten         bool           `toml:"flatten,omitempty"`
	Filename        string         `toml:"filename,omitempty"`
	InstalledAt     string         `toml:"installed_at,omitempty"`
	Checksum        string         `toml:"checksum,omitempty"`
	ContextChecksum string         `toml:"context_checksum,omitempty"`
	TemplateVars    string         `toml:"template_vars,omitempty"`
	DependsOn       []string       `toml:"depends_on,omitempty"`
	AppliedPatches  map[string]any `toml:"applied_patches"`
}

// Parse decodes lockfile TOML bytes into a File.
func Parse(data []byte) (*File, error) {
	var doc struct {
		Schema  int                          `toml:"version"`
		Sources []Source                     `toml:"sources"`
		Agent   []rawResourceTable           `toml:"agent"`
		Snippet []rawResourceTable           `toml:"snippet"`
		Command []rawResourceTable           `toml:"command"`
		Script  []rawResourceTable           `toml:"script"`
		Hook    []rawResourceTable           `toml:"hook"`
		McpServer []rawResourceTable         `toml:"mcp-server"`
		Skill   []rawResourceTable           `toml:"skill"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("lockfile: parse: %w", err)
	}

	byType := map[resource.Type][]rawResourceTable{
		resource.Agent:     doc.Agent,
		resource.Snippet:   doc.Snippet,
		resource.Command:   doc.Command,
		resource.Script:    doc.Script,
		resource.Hook:      doc.Hook,
		resource.McpServer: doc.McpServer,
		resource.Skill:     doc.Skill,
	}

	f := &File{Schema: doc.Schema, Sources: doc.Sources}
	for _, typ := range resource.Types {
		for _, raw := range byType[typ] {
			r := Resource{
				Name:            raw.Name,
				ManifestAlias:   raw.Alias,
				Source:          raw.Source,
				SourceURL:       raw.SourceURL,
				Path:            raw.Path,
				Version:         raw.Version,
				Commit:          raw.Commit,
				Tool:            resource.Tool(raw.Tool),
				Type:            typ,
				VariantKey:      raw.Variant,
				Install:         raw.Install,
				Flatten:         raw.Flatten,
				Filename:        raw.Filename,
				InstalledAt:     raw.InstalledAt,
				Checksum:        raw.Checksum,
				ContextChecksum: raw.ContextChecksum,
				AppliedPatches:  raw.AppliedPatches,
			}
			if raw.TemplateVars != "" {
				var vars map[string]any
				if err := json.Unmarshal([]byte(raw.TemplateVars), &vars); err != nil {
					return nil, fmt.Errorf("lockfile: %s: decode template_vars: %w", raw.Name, err)
				}
				r.TemplateVars = vars
			}
			for _, d := range raw.DependsOn {
				id, err := parseId(d)
				if err != nil {
					return nil, fmt.Errorf("lockfile: %s: %w", raw.Name, err)
				}
				r.DependsOn = append(r.DependsOn, id)
			}
			f.Resources = append(f.Resources, r)
		}
	}
	return f, nil
}

// idString/parseId round-trip a resource.Id through the single string the
// lockfile stores in depends_on, since resource.Id has no TOML shape of its
// own (it is an in-memory-only identity tuple).
func idString(id resource.Id) string {
	return id.String()
}

func parseId(s string) (resource.Id, error) {
	parts := strings.SplitN(s, "|", 5)
	if len(parts) != 5 {
		return resource.Id{}, fmt.Errorf("malformed depends_on entry %q", s)
	}
	return resource.Id{
		Type:       resource.Type(parts[0]),
		Name:       parts[1],
		Tool:       resource.Tool(parts[2]),
		SourceURL:  parts[3],
		VariantKey: parts[4],
	}, nil
}

// Marshal renders f deterministically, never relying on the TOML encoder's
// own field/map ordering (the rig.lock lesson this package is grounded on).
func Marshal(f *File) ([]byte, error) {
	resources := make([]Resource, len(f.Resources))
	copy(resources, f.Resources)
	sort.SliceStable(resources, func(i, j int) bool {
		return resource.Less(toId(resources[i]), toId(resources[j]))
	})

	sources := make([]Source, len(f.Sources))
	copy(sources, f.Sources)
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "version = %d\n", f.Schema)

	if len(sources) > 0 {
		buf.WriteString("\n")
		for _, s := range sources {
			buf.WriteString("[[sources]]\n")
			writeKV(&buf, "name", s.Name)
			writeKV(&buf, "url", s.URL)
			writeKV(&buf, "commit", s.Commit)
			writeKV(&buf, "fetched_at", s.FetchedAt)
			buf.WriteString("\n")
		}
	}

	byType := make(map[resource.Type][]Resource)
	for _, r := range resources {
		byType[r.Type] = append(byType[r.Type], r)
	}

	for _, typ := range resource.Types {
		group := byType[typ]
		if len(group) == 0 {
			continue
		}
		tableName := tomlTableName(typ)
		for _, r := range group {
			fmt.Fprintf(&buf, "[[%s]]\n", tableName)
			writeKV(&buf, "name", r.Name)
			if r.ManifestAlias != "" {
				writeKV(&buf, "alias", r.ManifestAlias)
			}
			if r.Source != "" {
				writeKV(&buf, "source", r.Source)
			}
			if r.SourceURL != "" {
				writeKV(&buf, "source_url", r.SourceURL)
			}
			writeKV(&buf, "path", r.Path)
			if r.Version != "" {
				writeKV(&buf, "version", r.Version)
			}
			if r.Commit != "" {
				writeKV(&buf, "commit", r.Commit)
			}
			writeKV(&buf, "tool", string(r.Tool))
			if r.VariantKey != "" {
				writeKV(&buf, "variant", r.VariantKey)
			}
			writeBoolKV(&buf, "install", r.Install)
			if r.Flatten {
				writeBoolKV(&buf, "flatten", r.Flatten)
			}
			if r.Filename != "" {
				writeKV(&buf, "filename", r.Filename)
			}
			if r.InstalledAt != "" {
				writeKV(&buf, "installed_at", r.InstalledAt)
			}
			if r.Checksum != "" {
				writeKV(&buf, "checksum", r.Checksum)
			}
			if r.ContextChecksum != "" {
				writeKV(&buf, "context_checksum", r.ContextChecksum)
			}
			if len(r.TemplateVars) > 0 {
				encoded, err := json.Marshal(r.TemplateVars)
				if err != nil {
					return nil, fmt.Errorf("lockfile: %s: encode template_vars: %w", r.Name, err)
				}
				writeKV(&buf, "template_vars", string(encoded))
			}
			if len(r.DependsOn) > 0 {
				ids := make([]string, len(r.DependsOn))
				for i, id := range r.DependsOn {
					ids[i] = idString(id)
				}
				sort.Strings(ids)
				writeStringArrayKV(&buf, "depends_on", ids)
			}
			writeInlineTableKV(&buf, "applied_patches", r.AppliedPatches)
			buf.WriteString("\n")
		}
	}

	out := buf.Bytes()
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func toId(r Resource) resource.Id {
	return resource.Id{Name: r.Name, SourceURL: r.SourceURL, Tool: r.Tool, Type: r.Type, VariantKey: r.VariantKey}
}

// tomlTableName maps a resource.Type to its array-of-tables name, which is
// its string value for every type (mcp-server keeps its hyphen, since bare
// TOML keys allow it unquoted).
func tomlTableName(t resource.Type) string {
	return string(t)
}

// WriteAtomic serializes f and writes it to path using fsutil's atomic
// write, so a lockfile write never leaves a half-written file on disk.
func WriteAtomic(path string, f *File) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, data, 0o644, "write lockfile", "lockfile.WriteAtomic")
}

func writeKV(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(" = ")
	buf.WriteString(tomlQuote(value))
	buf.WriteString("\n")
}

func writeBoolKV(buf *bytes.Buffer, key string, value bool) {
	buf.WriteString(key)
	if value {
		buf.WriteString(" = true\n")
	} else {
		buf.WriteString(" = false\n")
	}
}

func writeStringArrayKV(buf *bytes.Buffer, key string, values []string) {
	buf.WriteString(key)
	buf.WriteString(" = [")
	for i, v := range values {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(tomlQuote(v))
	}
	buf.WriteString("]\n")
}

// writeInlineTableKV writes an inline table, always present (possibly empty)
// per spec.md §4.9's "applied_patches is always written as an inline table".
// Keys are sorted for determinism; values are restricted to scalars since
// patch targets are frontmatter field overrides.
func writeInlineTableKV(buf *bytes.Buffer, key string, table map[string]any) {
	buf.WriteString(key)
	buf.WriteString(" = {")
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(k)
		buf.WriteString(" = ")
		buf.WriteString(inlineScalar(table[k]))
	}
	buf.WriteString("}\n")
}

func inlineScalar(v any) string {
	switch val := v.(type) {
	case string:
		return tomlQuote(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return tomlQuote(fmt.Sprintf("%v", val))
		}
		return string(encoded)
	}
}

func tomlQuote(s string) string {
	repl := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return "\"" + repl.Replace(s) + "\""
}
