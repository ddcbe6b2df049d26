package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantHashStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"project": map[string]any{"language": "rust", "edition": "2021"}}
	b := map[string]any{"project": map[string]any{"edition": "2021", "language": "rust"}}

	require.Equal(t, VariantHash(a), VariantHash(b))
}

func TestVariantHashDiffersOnValue(t *testing.T) {
	a := VariantHash(map[string]any{"project": map[string]any{"language": "python"}})
	b := VariantHash(map[string]any{"project": map[string]any{"language": "rust"}})
	assert.NotEqual(t, a, b)
}

func TestVariantHashEmpty(t *testing.T) {
	assert.Equal(t, "", VariantHash(nil))
	assert.Equal(t, "", VariantHash(map[string]any{}))
}

func TestIdLessOrdersByTypeThenNameThenVariant(t *testing.T) {
	assert.True(t, Less(Id{Type: Agent, Name: "a"}, Id{Type: Agent, Name: "b"}))
	assert.True(t, Less(Id{Type: Agent, Name: "z"}, Id{Type: Snippet, Name: "a"}))
	assert.False(t, Less(Id{Type: Snippet, Name: "a"}, Id{Type: Agent, Name: "z"}))
	assert.True(t, Less(Id{Type: Agent, Name: "a", VariantKey: "1"}, Id{Type: Agent, Name: "a", VariantKey: "2"}))
}

func TestResolveFallsBackToDefaultToolWhenUnsupported(t *testing.T) {
	tool, layout, err := Resolve(Snippet, OpenCode)
	require.NoError(t, err)
	assert.Equal(t, AgpmTool, tool)
	assert.Equal(t, ".agpm/snippets", layout.Dir)
}

func TestResolveHonoursExplicitSupportedTool(t *testing.T) {
	tool, layout, err := Resolve(Agent, ClaudeCode)
	require.NoError(t, err)
	assert.Equal(t, ClaudeCode, tool)
	assert.Equal(t, ".claude/agents/agpm", layout.Dir)
}

func TestResolveSkillIsDirectoryValued(t *testing.T) {
	_, layout, err := Resolve(Skill, ClaudeCode)
	require.NoError(t, err)
	assert.True(t, layout.Directory)
	assert.True(t, Skill.IsDirectoryValued())
	assert.False(t, Agent.IsDirectoryValued())
}

func TestResolveUnknownTypeErrors(t *testing.T) {
	_, _, err := Resolve(Type("bogus"), ClaudeCode)
	assert.Error(t, err)
}
