package resource

import "fmt"

// Layout describes where resources of a given (Type, Tool) pair are
// materialized on disk, relative to the project root.
type Layout struct {
	// Dir is the installation directory, e.g. ".claude/agents/agpm".
	Dir string
	// Directory is true for directory-valued resources (Skill): the whole
	// resource is a subdirectory of Dir named after the resource, rather
	// than a single file directly inside Dir.
	Directory bool
}

// defaultTool is the fallback tool used when a DependencySpec/frontmatter
// entry doesn't name one explicitly. Per spec.md §6, installed artifacts
// default to the claude-code layout, except Snippets, whose "no tool
// inherited" case is the bare agpm layout (.agpm/snippets/) rather than
// claude-code's namespaced one. This resolves spec.md's Open Question about
// the exhaustive per-type fallback table: the table below is authoritative
// for this implementation and is recorded, with rationale, in DESIGN.md.
var defaultTool = map[Type]Tool{
	Agent:     ClaudeCode,
	Snippet:   AgpmTool,
	Command:   ClaudeCode,
	Script:    ClaudeCode,
	Hook:      ClaudeCode,
	McpServer: ClaudeCode,
	Skill:     ClaudeCode,
}

// DefaultTool returns the fallback tool for a resource type.
func DefaultTool(t Type) Tool {
	if tool, ok := defaultTool[t]; ok {
		return tool
	}
	return AgpmTool
}

// layouts is the (Type, Tool) -> installation directory lookup table. A
// missing entry means the tool doesn't support the type and callers must
// fall back to DefaultTool(t)'s layout instead (spec.md §3's Tool definition
// and §4.8 step 7's "child without explicit tool" inheritance rule).
var layouts = map[Tool]map[Type]Layout{
	ClaudeCode: {
		Agent:     {Dir: ".claude/agents/agpm"},
		Command:   {Dir: ".claude/commands/agpm"},
		Snippet:   {Dir: ".claude/snippets/agpm"},
		Script:    {Dir: ".claude/scripts/agpm"},
		Hook:      {Dir: ".claude/hooks/agpm"},
		McpServer: {Dir: ".claude/mcp-servers/agpm"},
		Skill:     {Dir: ".claude/skills/agpm", Directory: true},
	},
	OpenCode: {
		Agent:     {Dir: ".opencode/agent/agpm"},
		Command:   {Dir: ".opencode/command/agpm"},
		Script:    {Dir: ".opencode/script/agpm"},
		McpServer: {Dir: ".opencode/mcp/agpm"},
		Skill:     {Dir: ".opencode/skill/agpm", Directory: true},
		// Snippet and Hook are not supported by opencode; resolved entries
		// fall back to DefaultTool's layout (see Resolve).
	},
	AgpmTool: {
		Agent:     {Dir: ".agpm/agents"},
		Command:   {Dir: ".agpm/commands"},
		Snippet:   {Dir: ".agpm/snippets"},
		Script:    {Dir: ".agpm/scripts"},
		Hook:      {Dir: ".agpm/hooks"},
		McpServer: {Dir: ".agpm/mcp-servers"},
		Skill:     {Dir: ".agpm/skills", Directory: true},
	},
}

// Supports reports whether tool has an explicit layout for type.
func Supports(tool Tool, t Type) bool {
	m, ok := layouts[tool]
	if !ok {
		return false
	}
	_, ok = m[t]
	return ok
}

// Resolve returns the installation layout for (t, tool), falling back to
// t's default tool when tool doesn't support t at all — "unknown tool for a
// (type) falls back to that type's default rather than failing" (spec.md §8).
func Resolve(t Type, tool Tool) (Tool, Layout, error) {
	if !t.Valid() {
		return "", Layout{}, fmt.Errorf("resource: unknown resource type %q", t)
	}
	if m, ok := layouts[tool]; ok {
		if l, ok := m[t]; ok {
			return tool, l, nil
		}
	}
	fallback := DefaultTool(t)
	m, ok := layouts[fallback]
	if !ok {
		return "", Layout{}, fmt.Errorf("resource: no layout for type %q on any tool", t)
	}
	l, ok := m[t]
	if !ok {
		return "", Layout{}, fmt.Errorf("resource: default tool %q has no layout for type %q", fallback, t)
	}
	return fallback, l, nil
}
