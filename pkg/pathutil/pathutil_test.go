package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFoldsDotSegments(t *testing.T) {
	assert.Equal(t, "/a/b", Normalize("/a/./b"))
	assert.Equal(t, "/b", Normalize("/a/../b"))
	assert.Equal(t, "a/b", Normalize("a/x/../b"))
	assert.Equal(t, ".", Normalize(""))
}

func TestIsSafeRejectsTraversalOutsideBase(t *testing.T) {
	assert.True(t, IsSafe("/repo", "agents/helper.md"))
	assert.True(t, IsSafe("/repo", "./agents/helper.md"))
	assert.False(t, IsSafe("/repo", "../outside.md"))
	assert.False(t, IsSafe("/repo", "../../etc/passwd"))
	assert.True(t, IsSafe("/repo", "a/../b"))
}

func TestIsSafeAllowsBaseItself(t *testing.T) {
	assert.True(t, IsSafe("/repo", "."))
	assert.True(t, IsSafe("/repo", ""))
}

func TestIsBlacklistedRejectsSensitiveRoots(t *testing.T) {
	assert.True(t, IsBlacklisted("/etc/passwd"))
	assert.True(t, IsBlacklisted("/etc"))
	assert.True(t, IsBlacklisted("/boot/grub"))
	assert.False(t, IsBlacklisted("/home/user/project/agents/helper.md"))
}

func TestCanonicalNameJoinsTypeAndStem(t *testing.T) {
	assert.Equal(t, "agent/helper", CanonicalName("agent", "agents/helper.md"))
	assert.Equal(t, "agent/specialists/reviewer", CanonicalName("agent", "agents/specialists/reviewer.md"))
	assert.Equal(t, "snippet/shared-utils", CanonicalName("snippet", "shared-utils.md"))
}

func TestCacheKeyIsStableAndSchemeAgnostic(t *testing.T) {
	k1 := CacheKey("https://github.com/acme/agents.git")
	k2 := CacheKey("https://github.com/acme/agents.git")
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "github-com")

	k3 := CacheKey("git@github.com:acme/agents.git")
	assert.Contains(t, k3, "github-com")
	assert.NotEqual(t, k1, k3, "different URL forms hash to different keys even for the same logical repo")

	k4 := CacheKey("file:///home/user/local-repo")
	assert.Contains(t, k4, "local")
}

func TestToDisplayAndToUnixRoundTripOnNonWindows(t *testing.T) {
	// On non-Windows platforms ToDisplay/ToUnix are identity functions; the
	// Windows behavior is exercised only by inspection since CI runs Linux.
	assert.Equal(t, "agents/helper.md", ToDisplay("agents/helper.md"))
	assert.Equal(t, "agents/helper.md", ToUnix("agents/helper.md"))
}
