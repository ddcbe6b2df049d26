// Package installer is the file-materialization engine (C10): it reads
// resolved resource content, renders it (C7), applies private-manifest
// patches to frontmatter, writes atomically (C2), verifies checksums, and
// removes files orphaned by a prior install. Parallelism is bounded by a
// worker pool, grounded on the teacher's downloadRunArtifactsConcurrent
// (pkg/cli/logs.go), which uses sourcegraph/conc's pool.NewWithResults to
// cap concurrent downloads and collect per-item results without a manual
// WaitGroup/mutex.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"github.com/aig787/agpm-sub009/pkg/fsutil"
	"github.com/aig787/agpm-sub009/pkg/gitcache"
	"github.com/aig787/agpm-sub009/pkg/lockfile"
	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/pathutil"
	"github.com/aig787/agpm-sub009/pkg/render"
	"github.com/aig787/agpm-sub009/pkg/resolver"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

var log = logger.New("installer")

// Limits bounds directory-valued (skill) installs per spec.md §4.10.
type Limits struct {
	MaxBytes            int64
	MaxFiles            int
	MaxFrontmatterBytes int
}

// DefaultLimits matches spec.md §4.10's stated defaults.
var DefaultLimits = Limits{MaxBytes: 100 * 1024 * 1024, MaxFiles: 1000, MaxFrontmatterBytes: 64 * 1024}

// Options configures one Install run.
type Options struct {
	// Root is the project directory installed paths are resolved relative to.
	Root string
	// MaxParallel bounds concurrent resource materialization; 0 means CPU count.
	MaxParallel int
	// DryRun reports what would change without writing anything.
	DryRun bool
	// Strict turns a gitignore-coverage warning into a hard error.
	Strict bool
	Limits Limits
}

func (o Options) maxParallel() int {
	if o.MaxParallel > 0 {
		return o.MaxParallel
	}
	return runtime.NumCPU()
}

// Installer materializes a resolver.Result onto disk and produces the
// lockfile describing what it wrote.
type Installer struct {
	cache    *gitcache.Cache
	renderer *render.Renderer
	private  *manifest.PrivateManifest
	project  map[string]any
	opts     Options
}

// New creates an Installer. private may be nil (no private manifest present).
func New(cache *gitcache.Cache, private *manifest.PrivateManifest, project map[string]any, opts Options) *Installer {
	inst := &Installer{cache: cache, private: private, project: project, opts: opts}
	inst.renderer = render.New(inst.readContentFilter)
	if inst.opts.Limits == (Limits{}) {
		inst.opts.Limits = DefaultLimits
	}
	return inst
}

// Warning is a non-fatal, file-scoped diagnostic produced during install.
type Warning struct {
	File    string
	Message string
}

// Result is the outcome of one Install run.
type Result struct {
	Lockfile *lockfile.File
	Warnings []Warning
	Removed  []string // orphaned paths cleaned up
}

type itemResult struct {
	resource lockfile.Resource
	err      error
	skipped  bool
}

// Install materializes every install:true resource in res, in parallel
// bounded by Options.MaxParallel, then cleans up orphaned files under each
// touched target directory (spec.md §4.10).
func (in *Installer) Install(ctx context.Context, res *resolver.Result) (*Result, error) {
	p := pool.NewWithResults[itemResult]().WithMaxGoroutines(in.opts.maxParallel())

	// Every sibling's own rendered content and eventual install path must be
	// known before any resource renders agpm.deps.<type>.<name>, and
	// install_path/version/source are deterministic from the resolved graph
	// regardless of write order — so this runs single-threaded ahead of the
	// parallel materialization pass below (spec.md §4.7).
	depMap := in.buildDepMap(res)

	touched := make(map[string]bool)
	for _, locked := range res.Resources {
		locked := locked
		if !locked.Install {
			continue
		}
		tool, layout, err := resource.Resolve(locked.Type, locked.Tool)
		if err != nil {
			return nil, fmt.Errorf("installer: %s: %w", locked.Path, err)
		}
		touched[layout.Dir] = true

		p.Go(func() itemResult {
			lr, err := in.installOne(ctx, locked, tool, layout, depMap)
			if err != nil {
				return itemResult{err: fmt.Errorf("installer: %s: %w", locked.Path, err)}
			}
			return itemResult{resource: lr}
		})
	}

	items := p.Wait()

	var lockResources []lockfile.Resource
	for _, it := range items {
		if it.err != nil {
			// spec.md §4.10: a single resource failure fails the whole install;
			// no lockfile is written.
			return nil, it.err
		}
		lockResources = append(lockResources, it.resource)
	}

	for _, locked := range res.Resources {
		if locked.Install {
			continue
		}
		lockResources = append(lockResources, toContentOnlyLockEntry(locked))
	}

	sources := in.collectSources(res)

	lf := &lockfile.File{Schema: lockfile.Schema, Sources: sources, Resources: lockResources}

	var removed []string
	if !in.opts.DryRun {
		var err error
		removed, err = in.cleanupOrphans(touched, lockResources)
		if err != nil {
			return nil, err
		}
	}

	warnings := in.checkGitignore(touched)
	if in.opts.Strict && len(warnings) > 0 {
		return nil, fmt.Errorf("installer: %s", warnings[0].Message)
	}

	return &Result{Lockfile: lf, Warnings: warnings, Removed: removed}, nil
}

func (in *Installer) collectSources(res *resolver.Result) []lockfile.Source {
	seen := make(map[string]bool)
	var sources []lockfile.Source
	for _, locked := range res.Resources {
		if locked.SourceURL == "" || seen[locked.SourceURL] {
			continue
		}
		seen[locked.SourceURL] = true
		sources = append(sources, lockfile.Source{Name: locked.Source, URL: locked.SourceURL, Commit: locked.Commit})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].URL < sources[j].URL })
	return sources
}

func toContentOnlyLockEntry(locked *resolver.Locked) lockfile.Resource {
	return lockfile.Resource{
		Name:           locked.Id.Name,
		ManifestAlias:  locked.ManifestAlias,
		Source:         locked.Source,
		SourceURL:      locked.SourceURL,
		Path:           locked.Path,
		Version:        locked.Version,
		Commit:         locked.Commit,
		Tool:           locked.Tool,
		Type:           locked.Type,
		VariantKey:     locked.Id.VariantKey,
		Install:        false,
		TemplateVars:   locked.TemplateVars,
		DependsOn:      locked.DependsOn,
		AppliedPatches: map[string]any{},
	}
}

// installOne materializes a single resource: render, patch, write, checksum.
func (in *Installer) installOne(ctx context.Context, locked *resolver.Locked, tool resource.Tool, layout resource.Layout, depMap map[string]render.DepView) (lockfile.Resource, error) {
	destName := locked.Id.Name[strings.LastIndex(locked.Id.Name, "/")+1:]
	if locked.Filename != "" {
		destName = locked.Filename
	}

	if layout.Directory {
		return in.installDirectory(ctx, locked, tool, layout, destName)
	}
	return in.installFile(ctx, locked, tool, layout, destName, depMap)
}

func (in *Installer) installFile(ctx context.Context, locked *resolver.Locked, tool resource.Tool, layout resource.Layout, destName string, depMap map[string]render.DepView) (lockfile.Resource, error) {
	ext := filepath.Ext(locked.Path)
	if filepath.Ext(destName) == "" && ext != "" {
		destName += ext
	}
	destRel := pathutil.ToUnix(filepath.Join(layout.Dir, destName))
	destAbs := filepath.Join(in.opts.Root, destRel)

	depCtx := in.buildDepView(locked, depMap)
	ctxData := render.Context{
		Project: in.project,
		Resource: map[string]any{
			"name":         locked.Id.Name,
			"install_path": pathutil.ToDisplay(destRel),
			"version":      locked.Version,
			"source":       locked.Source,
		},
		Deps: depCtx,
	}

	templating, _ := locked.Frontmatter["templating"].(bool)
	if v, ok := locked.Frontmatter["agpm"].(map[string]any); ok {
		if t, ok := v["templating"].(bool); ok {
			templating = t
		}
	}

	rendered, err := in.renderer.Render(string(locked.Content), render.Resource{
		Name:   locked.Id.Name,
		Source: locked.Source,
		Path:   locked.Path,
	}, ctxData, templating)
	if err != nil {
		return lockfile.Resource{}, err
	}
	contextChecksum := fsutil.Checksum([]byte(rendered))

	patches := in.private.PatchFor(locked.Type, locked.ManifestAlias)
	frontmatter := mergeFrontmatterPatches(locked.Frontmatter, patches)

	var out strings.Builder
	if len(frontmatter) > 0 {
		block, err := marshalFrontmatter(frontmatter)
		if err != nil {
			return lockfile.Resource{}, fmt.Errorf("apply patches: %w", err)
		}
		out.WriteString("---\n")
		out.Write(block)
		out.WriteString("---\n")
	}
	out.WriteString(rendered)

	data := []byte(out.String())
	checksum := fsutil.Checksum(data)

	if !in.opts.DryRun {
		if same, err := fsutil.ChecksumMatches(destAbs, checksum); err != nil {
			return lockfile.Resource{}, err
		} else if !same {
			if err := fsutil.AtomicWrite(destAbs, data, 0o644, "install resource", "installer.installFile"); err != nil {
				return lockfile.Resource{}, err
			}
		}
	}

	// patches come from the private manifest: they are applied to the
	// written file but never recorded in the lockfile's applied_patches.
	appliedPatches := map[string]any{}

	return lockfile.Resource{
		Name:            locked.Id.Name,
		ManifestAlias:   locked.ManifestAlias,
		Source:          locked.Source,
		SourceURL:       locked.SourceURL,
		Path:            locked.Path,
		Version:         locked.Version,
		Commit:          locked.Commit,
		Tool:            tool,
		Type:            locked.Type,
		VariantKey:      locked.Id.VariantKey,
		Install:         true,
		Flatten:         locked.Flatten,
		Filename:        locked.Filename,
		InstalledAt:     destRel,
		Checksum:        checksum,
		ContextChecksum: contextChecksum,
		TemplateVars:    locked.TemplateVars,
		DependsOn:       locked.DependsOn,
		AppliedPatches:  appliedPatches,
	}, nil
}

// installDirectory handles Skill resources: the entire source directory is
// copied, replacing any existing install, subject to size/count limits
// (spec.md §4.10). Skills are not rendered: embedded template sigils inside
// a skill bundle's many files are out of scope for a single-content render.
func (in *Installer) installDirectory(ctx context.Context, locked *resolver.Locked, tool resource.Tool, layout resource.Layout, destName string) (lockfile.Resource, error) {
	var srcDir string
	if locked.SourceURL == "" {
		srcDir = filepath.Join(in.opts.Root, locked.Path)
	} else {
		wt, err := in.cache.GetWorktree(ctx, locked.SourceURL, locked.Commit)
		if err != nil {
			return lockfile.Resource{}, err
		}
		srcDir = filepath.Join(wt, locked.Path)
	}

	info, err := os.Lstat(srcDir)
	if err != nil {
		return lockfile.Resource{}, err
	}
	if info.Mode()&os.ModeSymlink != 0 && locked.SourceURL == "" {
		return lockfile.Resource{}, fmt.Errorf("refusing to install symlinked local skill %q", locked.Path)
	}

	stats, err := fsutil.WalkDirStats(srcDir)
	if err != nil {
		return lockfile.Resource{}, err
	}
	if stats.TotalBytes > in.opts.Limits.MaxBytes {
		return lockfile.Resource{}, fmt.Errorf("skill %q exceeds size limit (%d > %d bytes)", locked.Path, stats.TotalBytes, in.opts.Limits.MaxBytes)
	}
	if stats.FileCount > in.opts.Limits.MaxFiles {
		return lockfile.Resource{}, fmt.Errorf("skill %q exceeds file count limit (%d > %d)", locked.Path, stats.FileCount, in.opts.Limits.MaxFiles)
	}

	destRel := pathutil.ToUnix(filepath.Join(layout.Dir, destName))
	destAbs := filepath.Join(in.opts.Root, destRel)

	if !in.opts.DryRun {
		if err := fsutil.CopyDir(srcDir, destAbs, "install skill", "installer.installDirectory"); err != nil {
			return lockfile.Resource{}, err
		}
	}

	return lockfile.Resource{
		Name:           locked.Id.Name,
		ManifestAlias:  locked.ManifestAlias,
		Source:         locked.Source,
		SourceURL:      locked.SourceURL,
		Path:           locked.Path,
		Version:        locked.Version,
		Commit:         locked.Commit,
		Tool:           tool,
		Type:           locked.Type,
		VariantKey:     locked.Id.VariantKey,
		Install:        true,
		Flatten:        locked.Flatten,
		Filename:       locked.Filename,
		InstalledAt:    destRel,
		TemplateVars:   locked.TemplateVars,
		DependsOn:      locked.DependsOn,
		AppliedPatches: map[string]any{},
	}, nil
}

// buildDepMap computes a render.DepView for every resolved resource up
// front, keyed by resource.Id.String(), before any resource is installed.
// install_path is deterministic from the resolved graph (layout/filename),
// so it does not require write order; content is rendered here, once, so a
// parent embedding a templated dependency sees the dependency's own
// rendered body rather than its raw source (spec.md §4.7: "content (after
// its own render)"). Depth is bounded to one level: a dependency-of-a-
// dependency's content is not itself re-embedded into this render, since
// that would require resolving render order across the whole graph rather
// than a single pass.
func (in *Installer) buildDepMap(res *resolver.Result) map[string]render.DepView {
	views := make(map[string]render.DepView, len(res.Resources))
	for _, locked := range res.Resources {
		views[locked.Id.String()] = in.depViewFor(locked)
	}
	return views
}

func (in *Installer) depViewFor(locked *resolver.Locked) render.DepView {
	var installPath string
	if _, layout, err := resource.Resolve(locked.Type, locked.Tool); err == nil {
		destName := locked.Id.Name[strings.LastIndex(locked.Id.Name, "/")+1:]
		if locked.Filename != "" {
			destName = locked.Filename
		}
		if ext := filepath.Ext(locked.Path); filepath.Ext(destName) == "" && ext != "" {
			destName += ext
		}
		installPath = pathutil.ToDisplay(pathutil.ToUnix(filepath.Join(layout.Dir, destName)))
	}

	content := string(locked.Content)
	templating, _ := locked.Frontmatter["templating"].(bool)
	if v, ok := locked.Frontmatter["agpm"].(map[string]any); ok {
		if t, ok := v["templating"].(bool); ok {
			templating = t
		}
	}
	if templating {
		rendered, err := in.renderer.Render(content, render.Resource{
			Name:   locked.Id.Name,
			Source: locked.Source,
			Path:   locked.Path,
		}, render.Context{Project: in.project}, true)
		if err == nil {
			content = rendered
		}
	}

	return render.DepView{
		Checksum:    fsutil.Checksum([]byte(content)),
		InstallPath: installPath,
		Version:     locked.Version,
		Content:     content,
		Source:      locked.Source,
	}
}

// buildDepView constructs agpm.deps.<type>.<name> for every resource locked
// depends on directly, per spec.md §4.7, from the pre-computed depMap.
// Dependency lookup keys off the dependency's own resolved resource.Id
// (which carries its explicit tool), never the parent's tool, per spec.md
// §4.7's warning against that bug class.
func (in *Installer) buildDepView(locked *resolver.Locked, depMap map[string]render.DepView) map[string]map[string]render.DepView {
	if len(locked.DependsOn) == 0 {
		return nil
	}
	out := make(map[string]map[string]render.DepView)
	for _, depId := range locked.DependsOn {
		view, ok := depMap[depId.String()]
		if !ok {
			continue
		}
		typeKey := string(depId.Type)
		if out[typeKey] == nil {
			out[typeKey] = make(map[string]render.DepView)
		}
		out[typeKey][depId.Name] = view
	}
	return out
}

// readContentFilter backs the `{{ 'relpath' | content }}` filter during
// install-time rendering. Paths are resolved against the project root for
// local dependencies; cross-source content embedding is not supported.
func (in *Installer) readContentFilter(relPath string) (string, error) {
	full := filepath.Join(in.opts.Root, relPath)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(render.StripFrontmatter(data)), nil
}

func mergeFrontmatterPatches(base map[string]any, patches map[string]any) map[string]any {
	if len(base) == 0 && len(patches) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(patches))
	for k, v := range base {
		if k == "dependencies" || k == "agpm" {
			continue
		}
		out[k] = v
	}
	for k, v := range patches {
		out[k] = v
	}
	return out
}

func projectPatches(patches map[string]any) map[string]any {
	if patches == nil {
		return map[string]any{}
	}
	return patches
}

// marshalFrontmatter renders fm as a YAML block with keys sorted for
// determinism. Full original key-order preservation via yaml.Node is not
// implemented; see DESIGN.md.
func marshalFrontmatter(fm map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var node yaml.Node
	node.Kind = yaml.MappingNode
	node.Tag = "!!map"
	for _, k := range keys {
		var keyNode, valNode yaml.Node
		if err := keyNode.Encode(k); err != nil {
			return nil, err
		}
		if err := valNode.Encode(fm[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &keyNode, &valNode)
	}

	return yaml.Marshal(&node)
}

// cleanupOrphans removes every entry directly inside a touched managed
// directory (a file, or a whole subdirectory) that does not correspond to a
// current lockfile entry's installed_at (spec.md §4.10).
func (in *Installer) cleanupOrphans(touched map[string]bool, resources []lockfile.Resource) ([]string, error) {
	keep := make(map[string]bool, len(resources))
	for _, r := range resources {
		if r.InstalledAt != "" {
			keep[filepath.Join(in.opts.Root, filepath.FromSlash(r.InstalledAt))] = true
		}
	}

	var removed []string
	for dir := range touched {
		abs := filepath.Join(in.opts.Root, filepath.FromSlash(dir))
		entries, err := os.ReadDir(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			full := filepath.Join(abs, e.Name())
			if keep[full] {
				continue
			}
			if err := os.RemoveAll(full); err != nil {
				return nil, err
			}
			removed = append(removed, pathutil.ToUnix(full))
			log.Printf("removed orphaned install: %s", full)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// checkGitignore warns (non-fatal unless Options.Strict) when a touched
// managed target directory is not covered by the project's .gitignore.
func (in *Installer) checkGitignore(touched map[string]bool) []Warning {
	data, err := os.ReadFile(filepath.Join(in.opts.Root, ".gitignore"))
	if err != nil {
		data = nil
	}
	lines := strings.Split(string(data), "\n")

	var warnings []Warning
	dirs := make([]string, 0, len(touched))
	for dir := range touched {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if gitignoreCovers(lines, dir) {
			continue
		}
		warnings = append(warnings, Warning{
			File:    dir,
			Message: fmt.Sprintf("%s is not covered by .gitignore", dir),
		})
	}
	return warnings
}

func gitignoreCovers(lines []string, dir string) bool {
	dir = strings.TrimSuffix(dir, "/")
	for _, line := range lines {
		entry := strings.TrimSpace(line)
		entry = strings.TrimPrefix(entry, "/")
		entry = strings.TrimSuffix(entry, "/")
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		if entry == dir || strings.HasPrefix(dir, entry+"/") {
			return true
		}
	}
	return false
}
