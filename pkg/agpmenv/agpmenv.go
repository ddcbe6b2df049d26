// Package agpmenv reads the process environment once at startup into a
// package-level config, the way pkg/logger reads DEBUG/DEBUG_COLORS once
// into package vars rather than re-reading os.Getenv on every call.
package agpmenv

import "os"

var (
	// TestMode shortens lock/clone/fetch timeouts for hermetic tests.
	TestMode = os.Getenv("AGPM_TEST_MODE") != ""

	// CacheDir overrides the default cache root (~/.cache/agpm) when set.
	CacheDir = os.Getenv("AGPM_CACHE_DIR")

	// NoProgress disables progress indicators in the CLI layer.
	NoProgress = os.Getenv("AGPM_NO_PROGRESS") != ""

	// NoColor disables ANSI color output; honored alongside the platform
	// convention of the same name.
	NoColor = os.Getenv("NO_COLOR") != ""
)

// DefaultCacheDir returns the effective cache root: CacheDir if set, else
// "<user cache dir>/agpm".
func DefaultCacheDir() (string, error) {
	if CacheDir != "" {
		return CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return base + "/agpm", nil
}
