// Package resolver is the dependency resolver (C8): a worklist-driven
// fixed-point expansion from manifest entries to a fully resolved,
// deterministically ordered set of locked resources, with SHA-conflict
// detection and bounded backtracking over mutable version constraints.
// Grounded on the teacher's action_resolver.go's cache-then-resolve
// worklist shape, generalized from a flat action-pin list to a graph with
// transitive discovery, template-path resolution, and conflict resolution.
package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aig787/agpm-sub009/pkg/gitcache"
	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/manifest"
	"github.com/aig787/agpm-sub009/pkg/metadata"
	"github.com/aig787/agpm-sub009/pkg/pathutil"
	"github.com/aig787/agpm-sub009/pkg/render"
	"github.com/aig787/agpm-sub009/pkg/resource"
)

var log = logger.New("resolver")

// MaxBacktrackIterations bounds the conflict-resolution loop (spec.md §4.8
// step 9's MaxIterations termination condition).
const MaxBacktrackIterations = 25

// backtrackTermination names why the backtracking loop stopped, mirroring
// the upstream Rust resolver's termination-reason taxonomy.
type backtrackTermination string

const (
	terminationSuccess             backtrackTermination = "success"
	terminationMaxIterations       backtrackTermination = "max_iterations"
	terminationTimeout             backtrackTermination = "timeout"
	terminationNoProgress          backtrackTermination = "no_progress"
	terminationOscillation         backtrackTermination = "oscillation"
	terminationNoCompatibleVersion backtrackTermination = "no_compatible_version"
)

// requirement is one worklist entry: a concrete (type, source/path) demand
// carrying context inherited from its parent.
type requirement struct {
	Type     resource.Type
	Alias    string // non-empty only for direct (manifest) requirements
	IsDirect bool

	SourceName string
	SourceURL  string // "" for a bare local dependency
	Path       string // concrete path, globs already expanded by the time this is enqueued

	Tool         string
	Version      string
	Branch       string
	Rev          string
	TemplateVars map[string]any
	Install      bool
	Flatten      bool
	Filename     string

	// ParentChain names the requirement's ancestry for error attribution
	// (spec.md §4.8 step 4's "failures propagate with the full parent chain").
	ParentChain []string

	// ParentKey is the resolved key of the requirement that discovered this
	// one, empty for seeded (direct) requirements. Used to record the edge
	// on the parent's DependsOn once this requirement resolves.
	ParentKey string
}

// Locked mirrors one resolved entry prior to lockfile serialization; the
// lockfile package adds the checksum/install-path fields computed by C10.
type Locked struct {
	Id           resource.Id
	ManifestAlias string
	Source       string
	SourceURL    string
	Path         string
	Version      string
	Commit       string // resolved SHA, empty for local
	Tool         resource.Tool
	Type         resource.Type
	Install      bool
	Flatten      bool
	Filename     string
	TemplateVars map[string]any
	DependsOn    []resource.Id
	Content      []byte         // rendered-ready body (frontmatter already stripped for markdown)
	Frontmatter  map[string]any // raw decoded frontmatter map, nil for non-markdown resources; consumed by C10 patch application
}

// Warning is a deduplicated, file-scoped diagnostic collected during a run.
type Warning struct {
	File    string
	Message string
}

// ConflictError reports a SHA conflict surviving backtracking (spec.md §7).
type ConflictError struct {
	Source string
	Path   string
	SHAs   map[string][]string // sha -> requested version strings that produced it
	Reason backtrackTermination // why backtracking gave up; "" for a dedup-branch conflict that never entered the loop
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conflicting resolved commits for %s@%s:\n", e.Source, e.Path)
	shas := make([]string, 0, len(e.SHAs))
	for sha := range e.SHAs {
		shas = append(shas, sha)
	}
	sort.Strings(shas)
	for _, sha := range shas {
		fmt.Fprintf(&b, "  %s <- %s\n", sha, strings.Join(e.SHAs[sha], ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "backtracking gave up: %s\n", e.Reason)
	}
	return b.String()
}

// CycleError reports a self- or mutual-reference cycle (spec.md §4.8 step 10).
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// Resolver runs the fixed-point expansion described in spec.md §4.8.
type Resolver struct {
	manifest *manifest.Manifest
	cache    *gitcache.Cache
	renderer *render.Renderer
	// root is the project directory local ("source"-less) dependency paths
	// and glob patterns are resolved against.
	root string

	resolved  map[string]*Locked // keyed by resource.Id.String()
	order     []string           // insertion order of resolved keys, for stable iteration
	warnings  map[string]Warning
	visiting  map[string]bool // cycle guard, keyed by (source, path)
	conflicts map[string]map[string][]string
}

// New creates a Resolver over m, using cache for version/worktree resolution
// and root as the base directory for local (source-less) dependency paths.
func New(m *manifest.Manifest, cache *gitcache.Cache, root string) *Resolver {
	return &Resolver{
		manifest: m,
		cache:    cache,
		renderer: render.New(nil),
		root:     root,
		resolved:  make(map[string]*Locked),
		warnings:  make(map[string]Warning),
		visiting:  make(map[string]bool),
		conflicts: make(map[string]map[string][]string),
	}
}

// recordConflict notes that (sourceURL, path) resolved to two different
// commits under two different requested version strings.
func (r *Resolver) recordConflict(sourceURL, path, shaA, versionA, shaB, versionB string) {
	gk := sourceURL + "|" + path
	if r.conflicts[gk] == nil {
		r.conflicts[gk] = make(map[string][]string)
	}
	labelA, labelB := versionA, versionB
	if labelA == "" {
		labelA = shaA
	}
	if labelB == "" {
		labelB = shaB
	}
	r.conflicts[gk][shaA] = appendUnique(r.conflicts[gk][shaA], labelA)
	r.conflicts[gk][shaB] = appendUnique(r.conflicts[gk][shaB], labelB)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Result is the outcome of a full resolution run.
type Result struct {
	Resources []*Locked // deterministic order: by resource.Less
	Warnings  []Warning
}

// Resolve runs the full algorithm over every manifest entry.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	worklist := r.seed()

	for len(worklist) > 0 {
		req := worklist[0]
		worklist = worklist[1:]

		children, err := r.resolveOne(ctx, req)
		if err != nil {
			return nil, err
		}
		worklist = append(worklist, children...)
	}

	if err := r.conflictFromDedup(); err != nil {
		return nil, err
	}
	if err := r.detectAndResolveConflicts(ctx); err != nil {
		return nil, err
	}

	return r.buildResult(), nil
}

// conflictFromDedup surfaces a conflict recorded inline in resolveOne's
// dedup branch: two requirements sharing a resource.Id (same source, path,
// tool, type, and variant key) that nonetheless resolved to different
// commits. detectAndResolveConflicts cannot see these, since only one
// Locked entry per resource.Id ever survives into r.resolved.
func (r *Resolver) conflictFromDedup() error {
	if len(r.conflicts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.conflicts))
	for gk := range r.conflicts {
		keys = append(keys, gk)
	}
	sort.Strings(keys)
	gk := keys[0]
	parts := strings.SplitN(gk, "|", 2)
	source := parts[0]
	path := ""
	if len(parts) > 1 {
		path = parts[1]
	}
	return &ConflictError{Source: source, Path: path, SHAs: r.conflicts[gk]}
}

// seed turns every manifest entry into a requirement, sorted by (type,
// alias) so pattern/template expansion order is deterministic (spec.md §5).
func (r *Resolver) seed() []requirement {
	var reqs []requirement
	for _, typ := range resource.Types {
		aliases := append([]string(nil), r.manifest.EntryOrder[typ]...)
		sort.Strings(aliases)
		for _, alias := range aliases {
			spec := r.manifest.Entries[typ][alias]
			req := requirement{
				Type:         typ,
				Alias:        alias,
				IsDirect:     true,
				Path:         spec.Path,
				Tool:         spec.Tool,
				Version:      spec.Version,
				Branch:       spec.Branch,
				Rev:          spec.Rev,
				TemplateVars: mergeVars(r.projectVars(), spec.TemplateVars),
				Install:      spec.InstallOrDefault(),
				Flatten:      spec.Flatten,
				Filename:     spec.Filename,
				ParentChain:  []string{alias},
			}
			if !spec.IsLocal() && spec.Source != "" {
				if src, ok := r.manifest.Sources[spec.Source]; ok {
					req.SourceName = src.Name
					req.SourceURL = src.URL
				}
			}
			if req.Tool == "" {
				req.Tool = string(resource.DefaultTool(typ))
			}
			reqs = append(reqs, req)
		}
	}
	return reqs
}

func (r *Resolver) projectVars() map[string]any {
	return map[string]any{"project": r.manifest.Project}
}

func mergeVars(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// resolveOne performs steps 2-7 of spec.md §4.8 for a single requirement,
// returning the transitive children it discovered.
func (r *Resolver) resolveOne(ctx context.Context, req requirement) ([]requirement, error) {
	if strings.ContainsAny(req.Path, "*?[") {
		matches, err := r.expandGlob(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("resolver: pattern %q matched no files (%s)", req.Path, strings.Join(req.ParentChain, " -> "))
		}
		var children []requirement
		for _, m := range matches {
			child := req
			child.Path = m
			children = append(children, child)
		}
		return children, nil
	}

	renderedPath, err := r.renderTemplateString(req.Path, req)
	if err != nil {
		return nil, fmt.Errorf("resolver: template-path resolution for %q: %w", req.Path, err)
	}
	req.Path = renderedPath

	cycleKey := req.SourceURL + "|" + req.Path
	if r.visiting[cycleKey] {
		return nil, &CycleError{Chain: append(append([]string{}, req.ParentChain...), req.Path)}
	}

	var commit string
	if req.SourceURL != "" {
		commit, err = r.cache.ResolveVersion(ctx, req.SourceURL, gitcache.Spec{Version: req.Version, Branch: req.Branch, Rev: req.Rev})
		if err != nil {
			return nil, fmt.Errorf("resolver: resolve version for %s (%s): %w", req.Path, strings.Join(req.ParentChain, " -> "), err)
		}
	}

	canonicalName := pathutil.CanonicalName(string(req.Type), req.Path)
	tool := resource.Tool(req.Tool)
	id := resource.Id{
		Name:       canonicalName,
		SourceURL:  req.SourceURL,
		Tool:       tool,
		Type:       req.Type,
		VariantKey: resource.VariantHash(req.TemplateVars),
	}

	key := id.String()
	existing, already := r.resolved[key]
	if already {
		// Same identity resolving to two different commits is a conflict
		// only when at least one participant is install:true (spec.md §4.8
		// step 8); install:false participants are content-only. Before
		// recording a conflict, try to converge: two aliases naming the same
		// resource.Id under different mutable version constraints often
		// both accept a single shared commit even though ResolveVersion
		// picked a different "best" tag for each of them independently.
		if existing.Commit != commit && (existing.Install || req.Install) {
			if agreed, ok := r.attemptConverge(ctx, req.Version, commit, existing); ok {
				if agreed != existing.Commit {
					if err := r.migrateLocked(ctx, existing, agreed); err != nil {
						return nil, fmt.Errorf("resolver: converge %s (%s): %w", req.Path, strings.Join(req.ParentChain, " -> "), err)
					}
				}
			} else {
				r.recordConflict(req.SourceURL, req.Path, existing.Commit, existing.Version, commit, req.Version)
			}
		}
		// Direct-wins (spec.md §4.8 step 6): a later direct requirement
		// promotes a previously transitive entry by recording its alias.
		if existing.ManifestAlias == "" && req.IsDirect {
			existing.ManifestAlias = req.Alias
		}
		r.recordEdge(req.ParentKey, id)
		return nil, nil
	}

	content, err := r.readContent(ctx, req, commit)
	if err != nil {
		return nil, fmt.Errorf("resolver: read %s (%s): %w", req.Path, strings.Join(req.ParentChain, " -> "), err)
	}

	var md metadata.Metadata
	var body []byte
	if strings.HasSuffix(req.Path, ".md") {
		md, body, err = metadata.ExtractMarkdown(content)
	} else if strings.HasSuffix(req.Path, ".json") {
		md, err = metadata.ExtractJSON(content)
		body = content
	} else {
		body = content
	}
	if err != nil {
		return nil, err
	}
	if md.Warning != "" {
		r.addWarning(req.Path, md.Warning)
	}

	locked := &Locked{
		Id:            id,
		ManifestAlias: req.Alias,
		Source:        req.SourceName,
		SourceURL:     req.SourceURL,
		Path:          req.Path,
		Version:       req.Version,
		Commit:        commit,
		Tool:          tool,
		Type:          req.Type,
		Install:       req.Install,
		Flatten:       req.Flatten,
		Filename:      req.Filename,
		TemplateVars:  req.TemplateVars,
		Content:       body,
		Frontmatter:   md.Raw,
	}
	r.resolved[key] = locked
	r.order = append(r.order, key)
	r.visiting[cycleKey] = true
	r.recordEdge(req.ParentKey, id)

	var children []requirement
	for _, dep := range md.Dependencies {
		childType := resource.Type(dep.Type)
		childTool := dep.Tool
		if childTool == "" {
			if resource.Supports(tool, childType) {
				childTool = string(tool)
			} else {
				childTool = string(resource.DefaultTool(childType))
			}
		}

		childSourceName := req.SourceName
		childSourceURL := req.SourceURL
		if dep.Source != "" {
			if src, ok := r.manifest.Sources[dep.Source]; ok {
				childSourceName = src.Name
				childSourceURL = src.URL
			}
		}

		child := requirement{
			Type:         childType,
			SourceName:   childSourceName,
			SourceURL:    childSourceURL,
			Path:         resolveRelative(req.Path, dep.Path),
			Tool:         childTool,
			TemplateVars: mergeVars(req.TemplateVars, dep.TemplateVars),
			Install:      dep.InstallOrDefault(),
			Flatten:      dep.Flatten,
			Filename:     dep.Filename,
			ParentChain:  append(append([]string{}, req.ParentChain...), req.Path),
			ParentKey:    key,
		}
		if dep.Version != "" || dep.Branch != "" || dep.Rev != "" {
			child.Version, child.Branch, child.Rev = dep.Version, dep.Branch, dep.Rev
		} else {
			// Inherit the parent's resolved commit, not its version string,
			// to avoid mutable re-resolution (spec.md §4.8 step 7).
			child.Rev = commit
		}
		children = append(children, child)
	}
	delete(r.visiting, cycleKey)

	return children, nil
}

// recordEdge appends childId to the DependsOn list of the requirement
// resolved at parentKey, if any (spec.md §4.8 step 6's "record the new edge
// on the parent" for dedup hits, and the first-resolution case below).
func (r *Resolver) recordEdge(parentKey string, childId resource.Id) {
	if parentKey == "" {
		return
	}
	parent, ok := r.resolved[parentKey]
	if !ok {
		return
	}
	parent.DependsOn = append(parent.DependsOn, childId)
}

func resolveRelative(parentPath, childPath string) string {
	if strings.HasPrefix(childPath, "/") {
		return strings.TrimPrefix(childPath, "/")
	}
	dir := filepath.Dir(parentPath)
	joined := filepath.Join(dir, childPath)
	return pathutil.ToUnix(joined)
}

// expandGlob enumerates files matching req.Path inside the requirement's
// source, sorted for deterministic ordering (spec.md §5).
func (r *Resolver) expandGlob(ctx context.Context, req requirement) ([]string, error) {
	var root string
	if req.SourceURL == "" {
		root = r.root
	} else {
		commit, err := r.cache.ResolveVersion(ctx, req.SourceURL, gitcache.Spec{Version: req.Version, Branch: req.Branch, Rev: req.Rev})
		if err != nil {
			return nil, err
		}
		wt, err := r.cache.GetWorktree(ctx, req.SourceURL, commit)
		if err != nil {
			return nil, err
		}
		root = wt
	}

	matches, err := filepath.Glob(filepath.Join(root, req.Path))
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid pattern %q: %w", req.Path, err)
	}
	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		relPath, err := filepath.Rel(root, m)
		if err != nil {
			continue
		}
		rel = append(rel, pathutil.ToUnix(relPath))
	}
	sort.Strings(rel)
	return rel, nil
}

// renderTemplateString resolves template variables inside a path or version
// string against the requirement's effective context (spec.md §4.8 step 3).
func (r *Resolver) renderTemplateString(s string, req requirement) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	ctx := render.Context{Project: req.TemplateVars}
	return r.renderer.Render(s, render.Resource{Name: req.Path}, ctx, true)
}

// readContent fetches the raw bytes for a requirement: from a worktree for
// Git-sourced requirements, or directly from disk for local dependencies.
func (r *Resolver) readContent(ctx context.Context, req requirement, commit string) ([]byte, error) {
	return r.readContentAt(ctx, req.SourceURL, req.Path, commit)
}

// readContentAt fetches sourceURL@path at commit directly, without a
// requirement. Used by the backtracking pass to re-materialize an already
// resolved entry at a candidate commit other than the one it first resolved
// to.
func (r *Resolver) readContentAt(ctx context.Context, sourceURL, path, commit string) ([]byte, error) {
	if sourceURL == "" {
		return os.ReadFile(filepath.Join(r.root, path))
	}
	wt, err := r.cache.GetWorktree(ctx, sourceURL, commit)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(wt, path))
}

// isMutable reports whether version names a range the resolver is free to
// re-derive a different commit for, as opposed to a branch name (which
// names one commit by definition) or an empty string (a rev/local pin).
func isMutable(version string) bool {
	return version != "" && !gitcache.IsBranchLike(version)
}

// attemptConverge is the single-entry-id counterpart of the group-level
// backtracking below: two manifest aliases that collapse onto the same
// resource.Id (same source, path, tool, type, and variant key) but carry
// different mutable version constraints can independently resolve to
// different commits. Rather than recording that as a conflict immediately,
// check whether either constraint already accepts the other's commit,
// preferring to leave the already-resolved entry untouched.
func (r *Resolver) attemptConverge(ctx context.Context, reqVersion, commit string, existing *Locked) (string, bool) {
	if isMutable(reqVersion) {
		if ok, err := r.cache.SatisfiesAt(ctx, existing.SourceURL, existing.Commit, reqVersion); err == nil && ok {
			return existing.Commit, true
		}
	}
	if isMutable(existing.Version) {
		if ok, err := r.cache.SatisfiesAt(ctx, existing.SourceURL, commit, existing.Version); err == nil && ok {
			return commit, true
		}
	}
	return "", false
}

// migrateLocked moves an already-resolved entry onto newCommit, re-fetching
// and re-parsing its content. It deliberately does not re-walk the entry's
// transitive dependencies: those were discovered from the content at its
// original commit, and backtracking is scoped to narrowing which commit an
// entry occupies, not to re-running discovery against a different tree.
func (r *Resolver) migrateLocked(ctx context.Context, locked *Locked, newCommit string) error {
	if newCommit == locked.Commit {
		return nil
	}
	content, err := r.readContentAt(ctx, locked.SourceURL, locked.Path, newCommit)
	if err != nil {
		return fmt.Errorf("resolver: re-read %s at %s: %w", locked.Path, newCommit, err)
	}

	var md metadata.Metadata
	var body []byte
	switch {
	case strings.HasSuffix(locked.Path, ".md"):
		md, body, err = metadata.ExtractMarkdown(content)
	case strings.HasSuffix(locked.Path, ".json"):
		md, err = metadata.ExtractJSON(content)
		body = content
	default:
		body = content
	}
	if err != nil {
		return err
	}

	locked.Commit = newCommit
	locked.Content = body
	locked.Frontmatter = md.Raw
	return nil
}

func (r *Resolver) addWarning(file, message string) {
	key := pathutil.Normalize(file)
	if _, ok := r.warnings[key]; ok {
		return
	}
	r.warnings[key] = Warning{File: key, Message: message}
	log.Printf("warning: %s: %s", key, message)
}

// backtrackGroup is one (sourceURL, path) cluster of install:true entries
// whose resolved commits must agree (spec.md §4.8 step 8): distinct
// resource.Ids (different tool or template-variant) that nonetheless share
// a concrete install destination.
type backtrackGroup struct {
	sourceURL string
	path      string
	keys      []string // r.resolved keys, in r.order
}

// conflictingGroups partitions every install:true, Git-sourced entry by
// (source, path) and returns only the groups whose members currently
// disagree on the resolved commit.
func (r *Resolver) conflictingGroups() []backtrackGroup {
	index := make(map[string]*backtrackGroup)
	var order []string
	for _, key := range r.order {
		locked := r.resolved[key]
		if !locked.Install || locked.SourceURL == "" {
			continue
		}
		gk := locked.SourceURL + "|" + locked.Path
		g, ok := index[gk]
		if !ok {
			g = &backtrackGroup{sourceURL: locked.SourceURL, path: locked.Path}
			index[gk] = g
			order = append(order, gk)
		}
		g.keys = append(g.keys, key)
	}

	var groups []backtrackGroup
	for _, gk := range order {
		g := index[gk]
		commits := make(map[string]bool, len(g.keys))
		for _, key := range g.keys {
			commits[r.resolved[key].Commit] = true
		}
		if len(commits) > 1 {
			groups = append(groups, *g)
		}
	}
	return groups
}

// distinctCandidates lists g's members' current resolved commits, sorted
// and deduplicated. Every candidate was a valid resolution for at least one
// member's own constraint, so these are the only commits worth testing
// against the rest of the group.
func (r *Resolver) distinctCandidates(g backtrackGroup) []string {
	seen := make(map[string]bool, len(g.keys))
	var out []string
	for _, key := range g.keys {
		commit := r.resolved[key].Commit
		if !seen[commit] {
			seen[commit] = true
			out = append(out, commit)
		}
	}
	sort.Strings(out)
	return out
}

// allAccept reports whether every member of g either already sits on
// candidate or carries a mutable version constraint that SatisfiesAt
// confirms accepts it. A member pinned to a rev or branch cannot move, so
// any mismatch there rules candidate out for the whole group.
func (r *Resolver) allAccept(ctx context.Context, g backtrackGroup, candidate string) (bool, error) {
	for _, key := range g.keys {
		locked := r.resolved[key]
		if locked.Commit == candidate {
			continue
		}
		if !isMutable(locked.Version) {
			return false, nil
		}
		ok, err := r.cache.SatisfiesAt(ctx, g.sourceURL, candidate, locked.Version)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// converge searches g's own candidate commits for one every member accepts,
// applying it in place on success (spec.md §4.8 step 9's "narrow mutable
// version roots across iterations").
func (r *Resolver) converge(ctx context.Context, g backtrackGroup) (bool, error) {
	for _, candidate := range r.distinctCandidates(g) {
		ok, err := r.allAccept(ctx, g, candidate)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		for _, key := range g.keys {
			if err := r.migrateLocked(ctx, r.resolved[key], candidate); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

// groupsSignature fingerprints the current resolved commits of every
// conflicting group, used to detect oscillation: an iteration that leaves
// the exact same unresolved state behind as one already seen is not making
// progress, just cycling.
func groupsSignature(r *Resolver, groups []backtrackGroup) string {
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "%s|%s=", g.sourceURL, g.path)
		commits := make([]string, len(g.keys))
		for i, key := range g.keys {
			commits[i] = r.resolved[key].Commit
		}
		sort.Strings(commits)
		b.WriteString(strings.Join(commits, ","))
		b.WriteString(";")
	}
	return b.String()
}

// conflictError builds the terminal error for a group backtracking could
// not converge, tagged with why the loop gave up.
func (r *Resolver) conflictError(g backtrackGroup, reason backtrackTermination) *ConflictError {
	shas := make(map[string][]string)
	for _, key := range g.keys {
		locked := r.resolved[key]
		label := locked.Version
		if label == "" {
			label = locked.Commit
		}
		shas[locked.Commit] = appendUnique(shas[locked.Commit], label)
	}
	return &ConflictError{Source: g.sourceURL, Path: g.path, SHAs: shas, Reason: reason}
}

// detectAndResolveConflicts implements spec.md §4.8 steps 8-9: group
// install:true entries by (source, path), and where a group's resolved
// commits disagree, iteratively narrow each member's mutable version
// constraint onto a commit the whole group accepts. The loop is bounded by
// MaxBacktrackIterations and ctx, and gives up with a ConflictError whose
// Reason says why: no_compatible_version when a group has no commit every
// member accepts, no_progress, oscillation when the same unresolved state
// repeats, or max_iterations/timeout when a bound is reached.
func (r *Resolver) detectAndResolveConflicts(ctx context.Context) error {
	budget := MaxBacktrackIterations
	seen := make(map[string]bool)

	for {
		groups := r.conflictingGroups()
		if len(groups) == 0 {
			return nil
		}

		signature := groupsSignature(r, groups)
		if seen[signature] {
			log.Printf("backtracking: oscillation detected for %s@%s, giving up", groups[0].sourceURL, groups[0].path)
			return r.conflictError(groups[0], terminationOscillation)
		}
		seen[signature] = true

		progressed := false
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				log.Printf("backtracking: timed out narrowing %s@%s: %v", g.sourceURL, g.path, err)
				return r.conflictError(g, terminationTimeout)
			}
			if budget <= 0 {
				log.Printf("backtracking: exceeded %d iterations narrowing %s@%s", MaxBacktrackIterations, g.sourceURL, g.path)
				return r.conflictError(g, terminationMaxIterations)
			}
			budget--

			ok, err := r.converge(ctx, g)
			if err != nil {
				return err
			}
			if ok {
				progressed = true
				continue
			}
			// converge already exhausted every candidate commit this group
			// currently holds; nothing will appear between now and the next
			// round to change that, since a failed group's own members never
			// move. Report it as definitively incompatible rather than
			// waiting for a round that can't help.
			log.Printf("backtracking: no compatible commit for %s@%s", g.sourceURL, g.path)
			return r.conflictError(g, terminationNoCompatibleVersion)
		}

		// Every group in this round either converged or was reported above;
		// a round that reaches here without resolving every group it started
		// with made no net progress (possible once applying one group's
		// candidate shifts another's content, absent today since
		// migrateLocked never re-walks dependencies, but kept as a bound for
		// future re-walking backtrack passes).
		if !progressed {
			log.Printf("backtracking: no progress narrowing remaining conflicts")
			return r.conflictError(groups[0], terminationNoProgress)
		}
	}
}

// buildResult sorts resolved resources into a deterministic order by
// resource.Less: resource type, then canonical name, then variant key. The
// order is not topological: a dependency sorts before or after the resource
// that requires it by type and name alone, not by discovery.
func (r *Resolver) buildResult() *Result {
	resources := make([]*Locked, 0, len(r.resolved))
	for _, key := range r.order {
		resources = append(resources, r.resolved[key])
	}
	sort.SliceStable(resources, func(i, j int) bool {
		return resource.Less(resources[i].Id, resources[j].Id)
	})

	warnings := make([]Warning, 0, len(r.warnings))
	for _, w := range r.warnings {
		warnings = append(warnings, w)
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].File < warnings[j].File })

	return &Result{Resources: resources, Warnings: warnings}
}
