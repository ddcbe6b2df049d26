package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/resolver"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

func manifestPrivateWithPatch(typ, alias string, fields map[string]any) (*manifest.PrivateManifest, error) {
	dir, err := os.MkdirTemp("", "agpm-private-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "agpm.private.toml")
	content := "[patch." + typ + "." + alias + "]\n"
	for k, v := range fields {
		content += k + " = \"" + v.(string) + "\"\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return manifest.LoadPrivate(path)
}

func newLockedAgent(t *testing.T, root, alias, body string) *resolver.Locked {
	t.Helper()
	return &resolver.Locked{
		Id: resource.Id{
			Name: "agents/" + alias,
			Tool: resource.ClaudeCode,
			Type: resource.Agent,
		},
		ManifestAlias: alias,
		Path:          "agents/" + alias + ".md",
		Tool:          resource.ClaudeCode,
		Type:          resource.Agent,
		Install:       true,
		Content:       []byte(body),
	}
}

func TestInstallWritesRenderedFileUnderClaudeLayout(t *testing.T) {
	root := t.TempDir()
	locked := newLockedAgent(t, root, "reviewer", "# {{ .agpm.project.language }} Reviewer\n")
	locked.Frontmatter = map[string]any{"agpm": map[string]any{"templating": true}}

	in := New(nil, nil, map[string]any{"language": "rust"}, Options{Root: root})
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)
	require.Len(t, result.Lockfile.Resources, 1)

	installed := result.Lockfile.Resources[0]
	assert.Equal(t, ".claude/agents/agpm/reviewer.md", installed.InstalledAt)
	assert.NotEmpty(t, installed.Checksum)

	data, err := os.ReadFile(filepath.Join(root, ".claude/agents/agpm/reviewer.md"))
	require.NoError(t, err)
	assert.Equal(t, "# rust Reviewer\n", string(data))
}

func TestInstallAppliesFrontmatterPatchFromPrivateManifest(t *testing.T) {
	root := t.TempDir()
	locked := newLockedAgent(t, root, "reviewer", "# Reviewer\n")
	locked.Frontmatter = map[string]any{"model": "base"}

	private, err := manifestPrivateWithPatch("agent", "reviewer", map[string]any{"model": "opus"})
	require.NoError(t, err)

	in := New(nil, private, map[string]any{}, Options{Root: root})
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, ".claude/agents/agpm/reviewer.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "model: opus")
	assert.NotContains(t, result.Lockfile.Resources[0].AppliedPatches, "model")
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	locked := newLockedAgent(t, root, "reviewer", "# Reviewer\n")

	in := New(nil, nil, map[string]any{}, Options{Root: root, DryRun: true})
	_, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, ".claude/agents/agpm/reviewer.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallCleansUpOrphanedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".claude/agents/agpm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".claude/agents/agpm/stale.md"), []byte("old"), 0o644))

	locked := newLockedAgent(t, root, "reviewer", "# Reviewer\n")
	in := New(nil, nil, map[string]any{}, Options{Root: root})
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)

	assert.Contains(t, result.Removed, filepath.Join(root, ".claude/agents/agpm/stale.md"))
	_, statErr := os.Stat(filepath.Join(root, ".claude/agents/agpm/stale.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallExposesDependencyViewToParentTemplate(t *testing.T) {
	root := t.TempDir()

	snippet := newLockedAgent(t, root, "shared", "shared body")
	snippet.Type = resource.Snippet
	snippet.Id.Type = resource.Snippet
	snippet.Id.Name = "snippets/shared"
	snippet.Path = "snippets/shared.md"
	snippet.Version = "v1.0.0"
	snippet.Source = "community"
	snippet.Install = false

	parent := newLockedAgent(t, root, "reviewer",
		"checksum={{ (index .agpm.deps.snippet \"snippets/shared\").Checksum }} version={{ (index .agpm.deps.snippet \"snippets/shared\").Version }}\n")
	parent.Frontmatter = map[string]any{"templating": true}
	parent.DependsOn = []resource.Id{snippet.Id}

	in := New(nil, nil, map[string]any{}, Options{Root: root})
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{parent, snippet}})
	require.NoError(t, err)
	require.Len(t, result.Lockfile.Resources, 2)

	data, err := os.ReadFile(filepath.Join(root, ".claude/agents/agpm/reviewer.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "checksum=sha256:")
	assert.Contains(t, string(data), "version=v1.0.0")
}

func TestInstallSkipsRewriteWhenContentUnchanged(t *testing.T) {
	root := t.TempDir()
	locked := newLockedAgent(t, root, "reviewer", "# Reviewer\n")

	in := New(nil, nil, map[string]any{}, Options{Root: root})
	_, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)

	installedPath := filepath.Join(root, ".claude/agents/agpm/reviewer.md")
	before, err := os.Stat(installedPath)
	require.NoError(t, err)

	// Re-running install against the same content must not rewrite the file
	// (spec.md §8's no-op-on-unchanged invariant).
	time.Sleep(10 * time.Millisecond)
	locked2 := newLockedAgent(t, root, "reviewer", "# Reviewer\n")
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked2}})
	require.NoError(t, err)
	require.Len(t, result.Lockfile.Resources, 1)

	after, err := os.Stat(installedPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "unchanged content must not be rewritten")
}

func TestInstallContentOnlyResourceWritesNoFile(t *testing.T) {
	root := t.TempDir()
	locked := newLockedAgent(t, root, "helper", "shared body")
	locked.Install = false

	in := New(nil, nil, map[string]any{}, Options{Root: root})
	result, err := in.Install(context.Background(), &resolver.Result{Resources: []*resolver.Locked{locked}})
	require.NoError(t, err)
	require.Len(t, result.Lockfile.Resources, 1)
	assert.Empty(t, result.Lockfile.Resources[0].InstalledAt)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
