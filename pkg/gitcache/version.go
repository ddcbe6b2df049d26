package gitcache

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Spec is the version-selection input for a single resolution: at most one
// of Rev, Version, Branch is set, per spec.md §3's DependencySpec
// mutual-preference ordering (rev, then version, then branch, then default).
type Spec struct {
	Rev     string
	Version string
	Branch  string
}

var fullSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsImmutableRev reports whether s looks like a full, lowercase 40-char hex
// SHA, which per spec.md §4.4 rule 1 is treated as an immutable commit and
// never triggers fetch-for-updates logic.
func IsImmutableRev(s string) bool {
	return fullSHAPattern.MatchString(s)
}

// monorepoTagPattern recognizes "<prefix>-vX.Y.Z" tags (spec.md §4.4 rule 2).
var monorepoTagPattern = regexp.MustCompile(`^(.+)-v(\d+\.\d+\.\d+.*)$`)
var bareTagPattern = regexp.MustCompile(`^v(\d+\.\d+\.\d+.*)$`)

// splitTagPrefix splits a tag into (prefix, semver-string). prefix is ""
// for a bare "vX.Y.Z" tag.
func splitTagPrefix(tag string) (prefix, ver string, ok bool) {
	if m := monorepoTagPattern.FindStringSubmatch(tag); m != nil {
		return m[1], m[2], true
	}
	if m := bareTagPattern.FindStringSubmatch(tag); m != nil {
		return "", m[1], true
	}
	return "", "", false
}

// splitConstraintPrefix splits a version constraint like "agents-^1.0.0"
// into its monorepo prefix ("agents") and the bare semver constraint
// ("^1.0.0"). A constraint with no recognizable prefix returns ("", constraint).
func splitConstraintPrefix(constraint string) (prefix, bare string) {
	// Find the last run that looks like an operator+digit boundary preceded
	// by "-": "<prefix>-<op><digits...>".
	idx := strings.LastIndexByte(constraint, '-')
	for idx >= 0 {
		candidate := constraint[idx+1:]
		if looksLikeSemverConstraint(candidate) {
			return constraint[:idx], candidate
		}
		idx = strings.LastIndexByte(constraint[:idx], '-')
	}
	return "", constraint
}

var semverConstraintStart = regexp.MustCompile(`^[\^~<>=]*\d`)

func looksLikeSemverConstraint(s string) bool {
	return semverConstraintStart.MatchString(s)
}

// IsBranchLike reports whether s should bypass semver parsing entirely
// (spec.md §4.4: "main", "develop", "feature/x", etc.).
func IsBranchLike(s string) bool {
	if s == "" {
		return false
	}
	if _, err := semver.NewConstraint(s); err == nil {
		return false
	}
	if _, bare := splitConstraintPrefix(s); bare != s {
		if _, err := semver.NewConstraint(bare); err == nil {
			return false
		}
	}
	return true
}

// ResolveConstraint picks the newest tag among availableTags that satisfies
// constraint, honoring monorepo "<prefix>-vX.Y.Z" tag families: a prefixed
// constraint only considers same-prefix tags, and a bare constraint only
// considers unprefixed "vX.Y.Z" tags.
func ResolveConstraint(constraint string, availableTags []string) (tag string, err error) {
	wantPrefix, bareConstraint := splitConstraintPrefix(constraint)

	c, err := semver.NewConstraint(bareConstraint)
	if err != nil {
		return "", fmt.Errorf("gitcache: invalid version constraint %q: %w", constraint, err)
	}

	var best *semver.Version
	var bestTag string
	for _, tag := range availableTags {
		prefix, verStr, ok := splitTagPrefix(tag)
		if !ok {
			continue
		}
		if prefix != wantPrefix {
			continue
		}
		v, err := semver.NewVersion(verStr)
		if err != nil {
			continue
		}
		if !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = tag
		}
	}

	if best == nil {
		if wantPrefix != "" {
			return "", fmt.Errorf("gitcache: no tag matching %q among %q-prefixed tags satisfies constraint %q", constraint, wantPrefix, bareConstraint)
		}
		return "", fmt.Errorf("gitcache: no tag satisfies constraint %q", constraint)
	}
	return bestTag, nil
}
