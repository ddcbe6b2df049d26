// Package pathutil normalizes and validates filesystem paths shared across
// the resolver, renderer, and installer: logical folding of "." / "..",
// traversal checks against a base directory, and platform-native display
// conversion. Persisted paths are always Unix-style; conversion to the
// platform separator happens only at display time.
package pathutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"runtime"
	"strings"
)

// blacklistedRoots are OS-sensitive directories a local dependency or
// content-filter read must never resolve into, even indirectly via "..".
var blacklistedRoots = []string{
	"/etc", "/boot", "/sys", "/proc", "/dev", "/bin", "/sbin", "/usr/bin", "/usr/sbin",
	"/root", "/var/run",
	"c:\\windows", "c:\\program files", "c:\\program files (x86)",
}

// Normalize logically folds "." and ".." segments out of a Unix-style path
// without touching the filesystem. It does not resolve symlinks.
func Normalize(p string) string {
	if p == "" {
		return "."
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return cleaned
}

// IsSafe reports whether joining base and p, then normalizing, stays inside
// base. This is the traversal guard used before reading any local dependency
// or content-filter target.
func IsSafe(base, p string) bool {
	normBase := Normalize(base)
	joined := Normalize(path.Join(normBase, p))
	if joined == normBase {
		return true
	}
	return strings.HasPrefix(joined, normBase+"/")
}

// IsBlacklisted reports whether the normalized path falls under an
// OS-sensitive root. Comparison is case-insensitive for every entry, Unix
// roots included.
func IsBlacklisted(p string) bool {
	norm := strings.ToLower(Normalize(p))
	for _, root := range blacklistedRoots {
		r := strings.ToLower(root)
		if norm == r || strings.HasPrefix(norm, r+"/") || strings.HasPrefix(norm, r+"\\") {
			return true
		}
	}
	return false
}

// ToDisplay converts a Unix-style persisted path to the platform's native
// separator for display. Persisted form is always "/"; this never runs on
// paths before they are written back to the lockfile.
func ToDisplay(unixPath string) string {
	if runtime.GOOS != "windows" {
		return unixPath
	}
	return strings.ReplaceAll(unixPath, "/", "\\")
}

// ToUnix converts a platform-native path (as produced by filepath.Join) to
// the Unix-style form used everywhere persisted paths are stored.
func ToUnix(nativePath string) string {
	if runtime.GOOS != "windows" {
		return nativePath
	}
	return strings.ReplaceAll(nativePath, "\\", "/")
}

// Stem returns p with its extension removed, matching the "<path-stem>" half
// of a Git-backed resource's canonical name ("agents/helper.md" -> "helper").
func Stem(p string) string {
	base := path.Base(Normalize(p))
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// CanonicalName derives the stable lockfile identifier for a resource:
// "<type>/<path-stem>", where a leading directory named after the type's
// plural is dropped, e.g. "agent/helper" for "agents/helper.md" and
// "agent/specialists/reviewer" for "agents/specialists/reviewer.md". The
// resolver uses it for local paths as well as Git-backed ones.
func CanonicalName(typ, relPath string) string {
	dir := path.Dir(Normalize(relPath))
	stem := Stem(relPath)
	if dir == typ+"s" {
		dir = "."
	} else {
		dir = strings.TrimPrefix(dir, typ+"s/")
	}
	if dir == "." || dir == "" {
		return typ + "/" + stem
	}
	return typ + "/" + dir + "/" + stem
}

var nonWordRun = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// CacheKey derives the "<host>-<path-hash>" directory name the Git worktree
// cache (spec.md §4.4) uses to key bare clones and lock files per URL, so
// two requests for the same URL always land on the same cache/lock path
// regardless of scheme (https, ssh "git@host:owner/repo", file://).
func CacheKey(rawURL string) string {
	host, rest := splitHostAndRest(rawURL)
	sum := sha256.Sum256([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])[:16]
	slug := nonWordRun.ReplaceAllString(host, "-")
	if slug == "" {
		slug = "local"
	}
	_ = rest
	return strings.Trim(slug, "-") + "-" + hash
}

func splitHostAndRest(rawURL string) (host, rest string) {
	if strings.HasPrefix(rawURL, "git@") {
		// git@host:owner/repo.git
		trimmed := strings.TrimPrefix(rawURL, "git@")
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return trimmed, ""
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host, strings.TrimPrefix(u.Path, "/")
	}
	if strings.HasPrefix(rawURL, "file://") {
		return "local", strings.TrimPrefix(rawURL, "file://")
	}
	return "local", rawURL
}
