package lockfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub009/pkg/resource"
)

func sampleFile() *File {
	return &File{
		Schema: Schema,
		Sources: []Source{
			{Name: "community", URL: "https://example.com/repo.git", Commit: "abc123", FetchedAt: "2026-01-01T00:00:00Z"},
		},
		Resources: []Resource{
			{
				Name:          "agents/reviewer",
				ManifestAlias: "reviewer",
				Source:        "community",
				SourceURL:     "https://example.com/repo.git",
				Path:          "agents/reviewer.md",
				Version:       "^1.0.0",
				Commit:        "abc123",
				Tool:          resource.ClaudeCode,
				Type:          resource.Agent,
				Install:       true,
				InstalledAt:   ".claude/agents/agpm/reviewer.md",
				Checksum:      "sha256:deadbeef",
				ContextChecksum: "sha256:feedface",
				TemplateVars:  map[string]any{"project": map[string]any{"language": "rust"}},
				AppliedPatches: map[string]any{},
			},
			{
				Name:        "snippets/shared",
				Source:      "community",
				SourceURL:   "https://example.com/repo.git",
				Path:        "snippets/shared.md",
				Commit:      "abc123",
				Tool:        resource.ClaudeCode,
				Type:        resource.Snippet,
				Install:     true,
				InstalledAt: ".claude/snippets/agpm/shared.md",
				Checksum:    "sha256:1111",
				ContextChecksum: "sha256:2222",
				AppliedPatches: map[string]any{},
			},
		},
	}
}

func TestMarshalOrdersResourcesByTypeThenName(t *testing.T) {
	data, err := Marshal(sampleFile())
	require.NoError(t, err)
	text := string(data)

	agentIdx := strings.Index(text, "[[agent]]")
	snippetIdx := strings.Index(text, "[[snippet]]")
	require.True(t, agentIdx >= 0 && snippetIdx >= 0)
	assert.Less(t, agentIdx, snippetIdx, "agent table must precede snippet table")
}

func TestMarshalEncodesTemplateVarsAsJSONString(t *testing.T) {
	data, err := Marshal(sampleFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), `template_vars = "{\"project\":{\"language\":\"rust\"}}"`)
}

func TestMarshalAlwaysWritesAppliedPatchesInlineTable(t *testing.T) {
	data, err := Marshal(sampleFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "applied_patches = {}")
}

func TestMarshalIsDeterministicAcrossRuns(t *testing.T) {
	a, err := Marshal(sampleFile())
	require.NoError(t, err)
	b, err := Marshal(sampleFile())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseRoundTripsMarshal(t *testing.T) {
	original := sampleFile()
	data, err := Marshal(original)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, Schema, parsed.Schema)
	require.Len(t, parsed.Resources, 2)
	require.Len(t, parsed.Sources, 1)

	var reviewer Resource
	for _, r := range parsed.Resources {
		if r.Name == "agents/reviewer" {
			reviewer = r
		}
	}
	assert.Equal(t, "reviewer", reviewer.ManifestAlias)
	assert.Equal(t, "^1.0.0", reviewer.Version)
	assert.Equal(t, map[string]any{"project": map[string]any{"language": "rust"}}, reviewer.TemplateVars)
}

func TestParseDecodesDependsOnAsResourceIds(t *testing.T) {
	f := sampleFile()
	f.Resources[0].DependsOn = []resource.Id{
		{Name: "snippets/shared", SourceURL: "https://example.com/repo.git", Tool: resource.ClaudeCode, Type: resource.Snippet},
	}

	data, err := Marshal(f)
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	var reviewer Resource
	for _, r := range parsed.Resources {
		if r.Name == "agents/reviewer" {
			reviewer = r
		}
	}
	require.Len(t, reviewer.DependsOn, 1)
	assert.Equal(t, "snippets/shared", reviewer.DependsOn[0].Name)
}

func TestMarshalUsesUnixStylePaths(t *testing.T) {
	data, err := Marshal(sampleFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), ".claude/agents/agpm/reviewer.md")
	assert.NotContains(t, string(data), `\`)
}
