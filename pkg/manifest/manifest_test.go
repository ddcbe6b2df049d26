package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub009/pkg/resource"
)

const sampleManifest = `
[sources]
community = "https://github.com/example/community-agpm"

[project]
name = "demo"
environment = "staging"

[agents]
local-helper = "./local/helper.md"

[agents.reviewer]
source = "community"
path = "agents/reviewer.md"
version = "^1.0.0"

[skills.pdf-toolkit]
source = "community"
path = "skills/pdf-toolkit"
tool = "opencode"
install = false
`

func writeTempManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesSourcesProjectAndEntries(t *testing.T) {
	path := writeTempManifest(t, sampleManifest)
	m, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, m.Sources, "community")
	assert.Equal(t, "https://github.com/example/community-agpm", m.Sources["community"].URL)

	assert.Equal(t, "demo", m.Project["name"])
	assert.Equal(t, "staging", m.Project["environment"])

	reviewer, ok := m.Entries[resource.Agent]["reviewer"]
	require.True(t, ok)
	assert.Equal(t, "community", reviewer.Source)
	assert.Equal(t, "agents/reviewer.md", reviewer.Path)
	assert.Equal(t, "^1.0.0", reviewer.Version)
	assert.True(t, reviewer.InstallOrDefault())
	assert.False(t, reviewer.IsLocal())
}

func TestLoadNormalizesBareStringEntryToLocalPath(t *testing.T) {
	path := writeTempManifest(t, sampleManifest)
	m, err := Load(path)
	require.NoError(t, err)

	helper, ok := m.Entries[resource.Agent]["local-helper"]
	require.True(t, ok)
	assert.True(t, helper.IsLocal())
	assert.Equal(t, "./local/helper.md", helper.LocalPath)
	assert.Equal(t, "./local/helper.md", helper.Path)
}

func TestLoadHonorsExplicitInstallFalse(t *testing.T) {
	path := writeTempManifest(t, sampleManifest)
	m, err := Load(path)
	require.NoError(t, err)

	toolkit, ok := m.Entries[resource.Skill]["pdf-toolkit"]
	require.True(t, ok)
	assert.False(t, toolkit.InstallOrDefault())
	assert.Equal(t, "opencode", toolkit.Tool)
}

func TestLoadRejectsEntryMissingPath(t *testing.T) {
	path := writeTempManifest(t, `
[agents.broken]
source = "community"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

const samplePrivateManifest = `
[patch.agents.reviewer]
model = "opus"
temperature = 0.2

[patch.skills.pdf-toolkit]
enabled = false
`

func TestLoadPrivateParsesPatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.private.toml")
	require.NoError(t, os.WriteFile(path, []byte(samplePrivateManifest), 0o644))

	pm, err := LoadPrivate(path)
	require.NoError(t, err)

	reviewerPatch := pm.PatchFor(resource.Agent, "reviewer")
	require.NotNil(t, reviewerPatch)
	assert.Equal(t, "opus", reviewerPatch["model"])

	toolkitPatch := pm.PatchFor(resource.Skill, "pdf-toolkit")
	require.NotNil(t, toolkitPatch)
	assert.Equal(t, false, toolkitPatch["enabled"])
}

func TestPatchForReturnsNilWhenNoPatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.private.toml")
	require.NoError(t, os.WriteFile(path, []byte(samplePrivateManifest), 0o644))

	pm, err := LoadPrivate(path)
	require.NoError(t, err)

	assert.Nil(t, pm.PatchFor(resource.Command, "nonexistent"))
}

func TestPatchForOnNilPrivateManifestReturnsNil(t *testing.T) {
	var pm *PrivateManifest
	assert.Nil(t, pm.PatchFor(resource.Agent, "reviewer"))
}
