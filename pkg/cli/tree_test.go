package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aig787/agpm-sub009/pkg/lockfile"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

func TestResourceIdMatchesDependsOnEntry(t *testing.T) {
	r := lockfile.Resource{
		Name: "snippets/shared", SourceURL: "https://example.com/repo.git",
		Tool: resource.ClaudeCode, Type: resource.Snippet,
	}
	dep := resource.Id{Name: "snippets/shared", SourceURL: "https://example.com/repo.git", Tool: resource.ClaudeCode, Type: resource.Snippet}
	assert.Equal(t, dep.String(), resourceId(r).String())
}

func TestPrintTreeDoesNotLoopOnCycle(t *testing.T) {
	a := resource.Id{Name: "agents/a", Tool: resource.ClaudeCode, Type: resource.Agent}
	b := resource.Id{Name: "agents/b", Tool: resource.ClaudeCode, Type: resource.Agent}

	ra := lockfile.Resource{Name: "agents/a", Tool: resource.ClaudeCode, Type: resource.Agent, DependsOn: []resource.Id{b}}
	rb := lockfile.Resource{Name: "agents/b", Tool: resource.ClaudeCode, Type: resource.Agent, DependsOn: []resource.Id{a}}

	byId := map[string]lockfile.Resource{a.String(): ra, b.String(): rb}

	assert.NotPanics(t, func() {
		printTree(ra, byId, 0, make(map[string]bool))
	})
}
