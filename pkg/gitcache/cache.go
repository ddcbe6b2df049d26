// Package gitcache is the Git worktree cache (C4): one bare clone per
// repository URL plus per-(URL, commit) worktrees, cross-process locking via
// pkg/lockmgr, and tag-list caching for version resolution. Grounded on
// vjache-cie's GitExecutor (CommandContext git wrapper with stderr capture)
// and the teacher's action_cache.go/action_resolver.go cache-then-resolve
// pattern, generalized from GitHub-action-pin resolution to arbitrary
// repository refs.
package gitcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/aig787/agpm-sub009/pkg/agpmenv"
	"github.com/aig787/agpm-sub009/pkg/lockmgr"
	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/pathutil"
)

var cacheLog = logger.New("gitcache")

// Timeouts per spec.md §4.4, shortened under AGPM_TEST_MODE.
var (
	CloneTimeout     = pickTimeout(120*time.Second, 5*time.Second)
	FetchTimeout     = pickTimeout(60*time.Second, 5*time.Second)
	WorktreeTimeout  = pickTimeout(60*time.Second, 5*time.Second)
	BatchJoinTimeout = pickTimeout(5*time.Minute, 30*time.Second)
)

func pickTimeout(normal, test time.Duration) time.Duration {
	if agpmenv.TestMode {
		return test
	}
	return normal
}

// Cache is the entry point for resolving a (URL, version/branch/rev) pair to
// a worktree directory.
type Cache struct {
	root  string
	locks *lockmgr.Manager
}

// New creates a Cache rooted at root (typically agpmenv.DefaultCacheDir()).
func New(root string) *Cache {
	return &Cache{
		root:  root,
		locks: lockmgr.New(filepath.Join(root, "locks")),
	}
}

func (c *Cache) bareClonePath(key string) string {
	return filepath.Join(c.root, "sources", key+".git")
}

func (c *Cache) worktreePath(key, sha string) string {
	return filepath.Join(c.root, "sources", "worktrees", key, sha)
}

// isLocal reports whether url is a file:// URL or bare local path, which
// per spec.md §4.4 must never have its working tree mutated: only
// `git clone --bare` and worktree operations run against it.
func isLocal(url string) bool {
	return strings.HasPrefix(url, "file://") || (!strings.Contains(url, "://") && !strings.HasPrefix(url, "git@"))
}

func localPath(url string) string {
	return strings.TrimPrefix(url, "file://")
}

// ensureBareClone creates the bare clone for url if it does not exist yet,
// returning its path; an existing clone is returned as is, without a fetch.
// Must be called with the repository lock held.
func (c *Cache) ensureBareClone(ctx context.Context, url, key string) (string, error) {
	clonePath := c.bareClonePath(key)
	if _, err := os.Stat(clonePath); err == nil {
		return clonePath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("gitcache: stat bare clone %s: %w", clonePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(clonePath), 0o755); err != nil {
		return "", fmt.Errorf("gitcache: create cache dir: %w", err)
	}

	src := url
	if isLocal(url) {
		src = localPath(url)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, CloneTimeout)
	defer cancel()

	exec := NewExecutor("")
	if _, err := exec.Run(cloneCtx, "clone", "--bare", src, clonePath); err != nil {
		return "", fmt.Errorf("gitcache: clone %s: %w", url, err)
	}
	cacheLog.Printf("cloned bare repository: url=%s -> %s", url, clonePath)
	return clonePath, nil
}

// fetchAll updates refs on an existing bare clone.
func (c *Cache) fetchAll(ctx context.Context, clonePath string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()
	exec := NewExecutor(clonePath)
	_, err := exec.Run(fetchCtx, "fetch", "--tags", "--force", "origin", "+refs/heads/*:refs/heads/*")
	return err
}

// listTags returns every tag name in the bare clone.
func (c *Cache) listTags(ctx context.Context, clonePath string) ([]string, error) {
	exec := NewExecutor(clonePath)
	out, err := exec.Run(ctx, "tag", "--list")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	tags := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			tags = append(tags, l)
		}
	}
	return tags, nil
}

// revParse resolves ref to a full SHA within the bare clone.
func (c *Cache) revParse(ctx context.Context, clonePath, ref string) (string, error) {
	exec := NewExecutor(clonePath)
	out, err := exec.Run(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// defaultBranch returns the tip commit of the bare clone's default branch.
func (c *Cache) defaultBranch(ctx context.Context, clonePath string) (string, error) {
	exec := NewExecutor(clonePath)
	out, err := exec.Run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD")
	var ref string
	if err != nil {
		// Fall back to HEAD of the bare clone itself.
		ref = "HEAD"
	} else {
		ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/"))
	}
	return c.revParse(ctx, clonePath, ref)
}

// ResolveVersion implements spec.md §4.4's version-resolution rules,
// returning an immutable commit SHA for a given Spec against url.
func (c *Cache) ResolveVersion(ctx context.Context, url string, spec Spec) (sha string, err error) {
	if spec.Rev != "" {
		if IsImmutableRev(spec.Rev) {
			return spec.Rev, nil
		}
	}

	key := pathutil.CacheKey(url)
	release, err := c.locks.Acquire(ctx, url)
	if err != nil {
		return "", err
	}
	defer release()

	clonePath, err := c.ensureBareClone(ctx, url, key)
	if err != nil {
		return "", err
	}

	tc := newTagCache(c.root, key)
	if err := tc.Load(); err != nil {
		cacheLog.Printf("tag cache load failed for %s: %v", url, err)
	}

	switch {
	case spec.Rev != "":
		return c.revParse(ctx, clonePath, spec.Rev)

	case spec.Version != "":
		if IsBranchLike(spec.Version) {
			return c.revParse(ctx, clonePath, spec.Version)
		}
		if err := c.fetchAll(ctx, clonePath); err != nil {
			cacheLog.Printf("fetch before tag resolution failed (using cached tags): %v", err)
		}
		tags, err := c.listTags(ctx, clonePath)
		if err != nil {
			return "", fmt.Errorf("gitcache: list tags for %s: %w", url, err)
		}
		tag, err := ResolveConstraint(spec.Version, tags)
		if err != nil {
			return "", err
		}
		if cached, ok := tc.Get(tag); ok {
			return cached, nil
		}
		resolved, err := c.revParse(ctx, clonePath, "refs/tags/"+tag)
		if err != nil {
			return "", err
		}
		tc.Set(tag, resolved)
		if err := tc.Save(); err != nil {
			cacheLog.Printf("tag cache save failed for %s: %v", url, err)
		}
		return resolved, nil

	case spec.Branch != "":
		if err := c.fetchAll(ctx, clonePath); err != nil {
			cacheLog.Printf("fetch before branch resolution failed: %v", err)
		}
		return c.revParse(ctx, clonePath, "refs/heads/"+spec.Branch)

	default:
		if err := c.fetchAll(ctx, clonePath); err != nil {
			cacheLog.Printf("fetch before default-branch resolution failed: %v", err)
		}
		return c.defaultBranch(ctx, clonePath)
	}
}

// SatisfiesAt reports whether commit corresponds to a tag for url satisfying
// constraint, without regard to whether it is the newest such tag. Used by
// the resolver's backtracking pass (spec.md §4.8 step 9) to check whether a
// mutable version constraint can accept a sibling requirement's
// already-resolved commit instead of re-deriving its own best match, which
// would otherwise always return the same answer and never converge.
// Branch-like constraints never accept a backtracking candidate: a branch
// names exactly one commit, not a satisfiable range.
func (c *Cache) SatisfiesAt(ctx context.Context, url, commit, constraint string) (bool, error) {
	if constraint == "" || IsBranchLike(constraint) {
		return false, nil
	}

	key := pathutil.CacheKey(url)
	release, err := c.locks.Acquire(ctx, url)
	if err != nil {
		return false, err
	}
	defer release()

	clonePath, err := c.ensureBareClone(ctx, url, key)
	if err != nil {
		return false, err
	}
	tags, err := c.listTags(ctx, clonePath)
	if err != nil {
		return false, fmt.Errorf("gitcache: list tags for %s: %w", url, err)
	}

	wantPrefix, bareConstraint := splitConstraintPrefix(constraint)
	cst, err := semver.NewConstraint(bareConstraint)
	if err != nil {
		return false, fmt.Errorf("gitcache: invalid version constraint %q: %w", constraint, err)
	}

	tc := newTagCache(c.root, key)
	if err := tc.Load(); err != nil {
		cacheLog.Printf("tag cache load failed for %s: %v", url, err)
	}

	for _, tag := range tags {
		prefix, verStr, ok := splitTagPrefix(tag)
		if !ok || prefix != wantPrefix {
			continue
		}
		v, err := semver.NewVersion(verStr)
		if err != nil || !cst.Check(v) {
			continue
		}
		resolved, ok := tc.Get(tag)
		if !ok {
			resolved, err = c.revParse(ctx, clonePath, "refs/tags/"+tag)
			if err != nil {
				continue
			}
			tc.Set(tag, resolved)
		}
		if resolved == commit {
			if err := tc.Save(); err != nil {
				cacheLog.Printf("tag cache save failed for %s: %v", url, err)
			}
			return true, nil
		}
	}
	return false, nil
}

// GetWorktree returns the path to a worktree checked out at commit for url,
// creating it if it doesn't already exist. Concurrent callers for the same
// (url, commit) coalesce to a single Git invocation via the lock manager's
// in-process coordinator.
func (c *Cache) GetWorktree(ctx context.Context, url, commit string) (string, error) {
	key := pathutil.CacheKey(url)
	wtPath := c.worktreePath(key, commit)
	coalesceKey := key + "@" + commit

	result, err := c.locks.Coalesce(coalesceKey, func() (any, error) {
		if _, err := os.Stat(wtPath); err == nil {
			return wtPath, nil
		}

		release, err := c.locks.Acquire(ctx, url)
		if err != nil {
			return nil, err
		}
		defer release()

		// Re-check after acquiring the lock: another process may have
		// created it between our stat and the lock acquisition.
		if _, err := os.Stat(wtPath); err == nil {
			return wtPath, nil
		}

		clonePath, err := c.ensureBareClone(ctx, url, key)
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
			return nil, fmt.Errorf("gitcache: create worktree parent dir: %w", err)
		}

		wtCtx, cancel := context.WithTimeout(ctx, WorktreeTimeout)
		defer cancel()

		exec := NewExecutor(clonePath)
		if _, err := exec.Run(wtCtx, "worktree", "add", "--detach", wtPath, commit); err != nil {
			return nil, fmt.Errorf("gitcache: create worktree for %s@%s: %w", url, commit, err)
		}
		cacheLog.Printf("created worktree: url=%s commit=%s -> %s", url, commit, wtPath)
		return wtPath, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// RemoveWorktree deletes a worktree created by GetWorktree. Nothing in
// resolution, install or the cache commands calls it; `cache clean`
// removes the whole cache root instead.
func (c *Cache) RemoveWorktree(ctx context.Context, url, commit string) error {
	key := pathutil.CacheKey(url)
	clonePath := c.bareClonePath(key)
	wtPath := c.worktreePath(key, commit)

	exec := NewExecutor(clonePath)
	if _, err := exec.Run(ctx, "worktree", "remove", "--force", wtPath); err != nil {
		cacheLog.Printf("worktree remove via git failed, falling back to rm -rf: %v", err)
		return os.RemoveAll(wtPath)
	}
	return nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}
