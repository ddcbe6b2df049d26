// Package resource holds the data model shared by every core component:
// resource types, installation tools, and the identity tuples used to
// deduplicate resolved dependencies across variants.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Type is the closed enumeration of artifact kinds agpm knows how to install.
type Type string

const (
	Agent     Type = "agent"
	Snippet   Type = "snippet"
	Command   Type = "command"
	Script    Type = "script"
	Hook      Type = "hook"
	McpServer Type = "mcp-server"
	Skill     Type = "skill"
)

// Types is every known resource type, in the canonical iteration order used
// by the resolver and lockfile for deterministic output.
var Types = []Type{Agent, Snippet, Command, Script, Hook, McpServer, Skill}

// Valid reports whether t is one of the closed set of resource types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// IsDirectoryValued reports whether resources of this type install as a
// directory tree (only Skill) rather than a single file.
func (t Type) IsDirectoryValued() bool {
	return t == Skill
}

// Tool is the closed enumeration of installation targets.
type Tool string

const (
	ClaudeCode Tool = "claude-code"
	OpenCode   Tool = "opencode"
	AgpmTool   Tool = "agpm"
)

// Tools is every known tool, in canonical order.
var Tools = []Tool{ClaudeCode, OpenCode, AgpmTool}

func (t Tool) Valid() bool {
	for _, known := range Tools {
		if t == known {
			return true
		}
	}
	return false
}

// Source identifies a named remote or local repository. Two sources with the
// same URL (after local-path-to-file://-URL expansion) are the same physical
// repository regardless of the name under which the manifest declares them.
type Source struct {
	Name string
	URL  string
}

// Id is the (name, source, tool, type, variant) identity tuple used to
// deduplicate resolved resources: two dependencies with the same path but
// different effective template variables are distinct resources, while the
// same file with identical variables collapses to one.
type Id struct {
	Name       string // canonical name, e.g. "agent/helper"
	SourceURL  string // empty for a resource with no source (bare local path)
	Tool       Tool
	Type       Type
	VariantKey string // stable hash over effective template variables
}

// String renders the Id as a single deterministic string, used as a map key
// throughout the resolver and as the tie-break sort key for lockfile output.
func (id Id) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", id.Type, id.Name, id.Tool, id.SourceURL, id.VariantKey)
}

// Less gives a total order over Ids: by type, then canonical name, then
// variant hash. Used to produce byte-identical lockfile serialization given
// identical inputs (spec.md §4.9).
func Less(a, b Id) bool {
	if a.Type != b.Type {
		return typeOrder(a.Type) < typeOrder(b.Type)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.VariantKey < b.VariantKey
}

func typeOrder(t Type) int {
	for i, known := range Types {
		if t == known {
			return i
		}
	}
	return len(Types)
}

// VariantHash computes the stable variant-inputs-hash that participates in
// an Id: a SHA-256 over the canonically-key-sorted JSON encoding of the
// effective template variables. Two calls with equal (possibly differently
// ordered, but deep-equal) maps produce the same hash.
func VariantHash(vars map[string]any) string {
	if len(vars) == 0 {
		return ""
	}
	canonical := canonicalizeJSON(vars)
	data, err := json.Marshal(canonical)
	if err != nil {
		// Variables come from parsed TOML/YAML/JSON and must already be
		// JSON-marshalable scalars/maps/slices; a failure here means a caller
		// handed us something malformed, which is a programmer error.
		panic(fmt.Sprintf("resource: variant vars not JSON-marshalable: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalizeJSON recursively sorts map keys so that json.Marshal (which
// already sorts map[string]any keys) also sorts nested maps reached through
// map[string]interface{} produced by TOML/YAML decoders, and normalizes
// slices element-wise.
func canonicalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalizeJSON(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeJSON(e)
		}
		return out
	default:
		return val
	}
}
