// Package cli wires agpm's core components (manifest, gitcache, resolver,
// installer, lockfile) into cobra subcommands, the way the teacher's pkg/cli
// wires its compiler/runner packages into the gh-aw command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aig787/agpm-sub009/pkg/agpmenv"
	"github.com/aig787/agpm-sub009/pkg/constants"
	"github.com/aig787/agpm-sub009/pkg/gitcache"
	"github.com/aig787/agpm-sub009/pkg/installer"
	"github.com/aig787/agpm-sub009/pkg/lockfile"
	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/resolver"
)

var cliLog = logger.New("cli")

// project bundles everything a command needs to resolve and install
// dependencies against the manifest rooted at the current directory.
type project struct {
	root     string
	manifest *manifest.Manifest
	private  *manifest.PrivateManifest
	cache    *gitcache.Cache
}

// loadProject reads agpm.toml (and agpm.private.toml, if present) from root
// and wires up the shared Git cache. root defaults to the current directory.
func loadProject(root string) (*project, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cli: %w", err)
		}
		root = wd
	}

	m, err := manifest.Load(filepath.Join(root, constants.ManifestFileName))
	if err != nil {
		return nil, err
	}

	var private *manifest.PrivateManifest
	privatePath := filepath.Join(root, constants.PrivateManifestFileName)
	if pm, err := manifest.LoadPrivate(privatePath); err == nil {
		private = pm
	} else if !errors.Is(err, fs.ErrNotExist) {
		// fsutil wraps the underlying *PathError, so the missing-file case
		// must be detected via errors.Is rather than os.IsNotExist, which
		// only unwraps os's own error types.
		return nil, err
	}

	cacheDir, err := agpmenv.DefaultCacheDir()
	if err != nil {
		return nil, fmt.Errorf("cli: resolve cache dir: %w", err)
	}
	cache := gitcache.New(cacheDir)

	return &project{root: root, manifest: m, private: private, cache: cache}, nil
}

// resolve runs the full dependency resolution algorithm over p's manifest.
func (p *project) resolve(ctx context.Context) (*resolver.Result, error) {
	r := resolver.New(p.manifest, p.cache, p.root)
	return r.Resolve(ctx)
}

// install resolves and materializes every resource under p.root, writing the
// lockfile at agpm.lock unless dryRun is set.
func (p *project) install(ctx context.Context, opts installer.Options, dryRun bool) (*installer.Result, error) {
	result, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	opts.Root = p.root
	opts.DryRun = dryRun
	in := installer.New(p.cache, p.private, p.manifest.Project, opts)

	out, err := in.Install(ctx, result)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		if err := lockfile.WriteAtomic(p.lockPath(), out.Lockfile); err != nil {
			return nil, fmt.Errorf("cli: write lockfile: %w", err)
		}
	}
	return out, nil
}

func (p *project) lockPath() string {
	return filepath.Join(p.root, constants.LockFileName)
}

func (p *project) loadLockfile() (*lockfile.File, error) {
	return lockfile.Load(p.lockPath())
}

func reportWarnings(warnings []resolver.Warning) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, formatWarning(w.File, w.Message))
	}
}
