package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

func runInDir(t *testing.T, dir string, fn func()) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { require.NoError(t, os.Chdir(wd)) }()
	fn()
}

func TestAddCommandCreatesManifestEntry(t *testing.T) {
	dir := t.TempDir()
	runInDir(t, dir, func() {
		cmd := NewAddCommand()
		cmd.SetArgs([]string{"agent", "reviewer", "agents/reviewer.md", "--source", "community", "--version", "^1.0.0"})
		require.NoError(t, cmd.Execute())
	})

	m, err := manifest.Load(filepath.Join(dir, "agpm.toml"))
	require.NoError(t, err)
	spec, ok := m.Entries[resource.Agent]["reviewer"]
	require.True(t, ok)
	assert.Equal(t, "community", spec.Source)
	assert.Equal(t, "agents/reviewer.md", spec.Path)
	assert.Equal(t, "^1.0.0", spec.Version)
}

func TestAddCommandRejectsDuplicateAlias(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agpm.toml"), []byte("[agents.reviewer]\npath = \"agents/reviewer.md\"\n"), 0o644))

	runInDir(t, dir, func() {
		cmd := NewAddCommand()
		cmd.SetArgs([]string{"agent", "reviewer", "agents/other.md"})
		err := cmd.Execute()
		assert.Error(t, err)
	})
}

func TestFilterManifestRestrictsToNamedAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[agents.reviewer]
path = "agents/reviewer.md"

[agents.helper]
path = "agents/helper.md"
`), 0o644))

	m, err := manifest.Load(path)
	require.NoError(t, err)

	filtered := filterManifest(m, []string{"reviewer"})
	agentEntries := filtered.Entries[resource.Agent]
	assert.Len(t, agentEntries, 1)
	_, ok := agentEntries["reviewer"]
	assert.True(t, ok)
}

func TestFilterManifestWithNoNamesReturnsOriginal(t *testing.T) {
	m := &manifest.Manifest{}
	assert.Same(t, m, filterManifest(m, nil))
}

func TestAddCommandExpandsOwnerRepoSourceShorthand(t *testing.T) {
	dir := t.TempDir()
	runInDir(t, dir, func() {
		cmd := NewAddCommand()
		cmd.SetArgs([]string{"agent", "reviewer", "agents/reviewer.md", "--source", "example/community-agpm"})
		require.NoError(t, cmd.Execute())
	})

	m, err := manifest.Load(filepath.Join(dir, "agpm.toml"))
	require.NoError(t, err)
	spec, ok := m.Entries[resource.Agent]["reviewer"]
	require.True(t, ok)
	assert.Equal(t, "community-agpm", spec.Source)
	assert.Equal(t, "https://github.com/example/community-agpm", m.Sources["community-agpm"].URL)
}

func TestResolveSourceShorthandLeavesNamedSourceAlone(t *testing.T) {
	raw := map[string]any{"sources": map[string]any{"community": "https://example.com/repo.git"}}
	assert.Equal(t, "community", resolveSourceShorthand(raw, "community"))
}
