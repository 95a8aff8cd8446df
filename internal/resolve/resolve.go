// Package resolve turns a manifest's wish-list into a side- and
// version-consistent closure of concrete mod versions. Resolution is an
// iterative fixpoint over a work queue: identifiers only ever move from
// unresolved to resolved, so cycles need no special bookkeeping and a
// later incompatible requirement is a hard conflict, not a reason to
// backtrack.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/registry"
)

// ResolvedMod is the resolver's verdict for one identifier: exactly one
// chosen version per build type. Never mutated after Resolve returns.
type ResolvedMod struct {
	Name       string
	Project    *registry.Project
	Version    registry.Version
	Source     manifest.SourceKind
	Side       mc.Side
	Request    *manifest.ModRequest // nil for transitive dependencies
	Dependents []string             // names of mods that pulled this one in
}

// IsExplicit reports whether the mod was asked for by the manifest
// rather than pulled in as a dependency.
func (r *ResolvedMod) IsExplicit() bool { return r.Request != nil }

// Graph is the resolution result for one build type: a mapping from
// identifier to exactly one ResolvedMod, plus local-file requests that
// bypass resolution and any non-fatal warnings.
type Graph struct {
	BuildType string
	Mods      map[string]*ResolvedMod
	Local     []*manifest.ModRequest
	Warnings  []string
}

// Sources routes each remote source kind to the collaborator that
// answers metadata queries for it. Local sources never consult one.
type Sources map[manifest.SourceKind]registry.Lookup

// For returns the lookup serving a source kind.
func (s Sources) For(name string, kind manifest.SourceKind) (registry.Lookup, error) {
	if lookup, ok := s[kind]; ok && lookup != nil {
		return lookup, nil
	}
	return nil, &apperr.UnsupportedSourceError{Name: name, Source: string(kind)}
}

// workItem is one queue entry: a root request or a dependency edge.
// Dependencies inherit the source and lookup of the mod that declared
// them, so a browser-sourced root's closure stays on its collaborator.
type workItem struct {
	name    string
	request *manifest.ModRequest     // roots only
	edge    *registry.DependencyEdge // dependencies only
	source  manifest.SourceKind
	lookup  registry.Lookup
}

// Resolve computes the dependency-complete graph for one build type.
// locked maps identifier to the previously locked version; it biases
// selection when the manifest does not pin. The result is deterministic
// for fixed inputs regardless of queue processing order.
func Resolve(ctx context.Context, m *manifest.Manifest, bt *manifest.BuildType, sources Sources, locked map[string]string, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Graph{BuildType: bt.Name, Mods: make(map[string]*ResolvedMod)}

	var queue []workItem
	for _, req := range m.BuildTypeMods(bt) {
		if req.Source.IsLocal() {
			g.Local = append(g.Local, req)
			continue
		}
		lookup, err := sources.For(req.Name, req.Source.Kind)
		if err != nil {
			return nil, err
		}
		queue = append(queue, workItem{name: req.Name, request: req, source: req.Source.Kind, lookup: lookup})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if resolved, ok := g.Mods[item.name]; ok {
			// Monotonic: already resolved, only verify the new edge.
			if item.edge != nil {
				if !item.edge.Allows(&resolved.Version) {
					return nil, &apperr.VersionConflictError{
						Name:       item.name,
						Resolved:   resolved.Version.Number,
						ResolvedBy: resolvedBy(resolved),
						Wanted:     wantedConstraint(item.edge),
						WantedBy:   item.edge.From,
					}
				}
				resolved.Dependents = append(resolved.Dependents, item.edge.From)
			}
			continue
		}

		mod, deps, err := resolveOne(ctx, m, bt, locked, g, item, logger)
		if err != nil {
			return nil, err
		}
		if mod == nil {
			continue // side-incompatible dependency, dropped
		}
		g.Mods[item.name] = mod
		queue = append(queue, deps...)
	}
	return g, nil
}

func resolveOne(ctx context.Context, m *manifest.Manifest, bt *manifest.BuildType, locked map[string]string, g *Graph, item workItem, logger *slog.Logger) (*ResolvedMod, []workItem, error) {
	project, err := item.lookup.Project(ctx, item.name)
	if err != nil {
		return nil, nil, err
	}

	side := project.Side()
	if item.request != nil && item.request.Side != mc.SideBoth {
		// Manifest side overrides narrow the registry's declaration.
		side &= item.request.Side
		if side == mc.SideNone {
			side = item.request.Side
		}
	}
	if item.edge != nil && item.edge.RequiredSide != mc.SideNone {
		side &= item.edge.RequiredSide
	}

	if !side.Intersects(bt.Side) {
		if item.request != nil {
			return nil, nil, &apperr.IncompatibleSideError{
				Name:      item.name,
				ModSide:   side.String(),
				BuildSide: bt.Side.String(),
			}
		}
		// A dependency outside the build's side filter is dropped, not
		// an error: a client-only dependency of a both-side mod simply
		// does not appear in a server build.
		logger.Debug("dropping side-incompatible dependency",
			slog.String("mod", item.name),
			slog.String("side", side.String()),
			slog.String("build", bt.Name))
		return nil, nil, nil
	}

	version, warn, err := chooseVersion(ctx, m, locked, item)
	if err != nil {
		return nil, nil, err
	}
	if warn != "" {
		g.Warnings = append(g.Warnings, warn)
	}

	mod := &ResolvedMod{
		Name:    project.Slug,
		Project: project,
		Version: *version,
		Source:  item.source,
		Side:    side,
		Request: item.request,
	}
	if item.edge != nil {
		mod.Dependents = append(mod.Dependents, item.edge.From)
	}

	logger.Info("resolved",
		slog.String("mod", mod.Name),
		slog.String("version", mod.Version.Number),
		slog.String("build", bt.Name))

	edges, err := item.lookup.Dependencies(ctx, project.Slug, version.Number)
	if err != nil {
		return nil, nil, err
	}
	var deps []workItem
	for i := range edges {
		if !edges[i].Required {
			continue
		}
		edge := edges[i]
		if edge.From == "" {
			edge.From = project.Slug
		}
		deps = append(deps, workItem{name: edge.To, edge: &edge, source: item.source, lookup: item.lookup})
	}
	return mod, deps, nil
}

// chooseVersion applies the selection order: explicit pin, then the
// previously locked version when still available and compatible, then
// the newest compatible version (exact game version first, caret
// fallback second).
func chooseVersion(ctx context.Context, m *manifest.Manifest, locked map[string]string, item workItem) (*registry.Version, string, error) {
	versions, err := item.lookup.Versions(ctx, item.name)
	if err != nil {
		return nil, "", err
	}
	if len(versions) == 0 {
		return nil, "", &apperr.UnknownModError{Name: item.name}
	}

	exact := mc.VersionMatch{Version: &m.McVersion}
	fallback := mc.VersionMatch{Version: &m.McVersion, Caret: true}
	typ := mc.TypeMod
	if item.request != nil {
		typ = item.request.Type
		exact = item.request.McVersion
		fallback = item.request.McFallback
	}

	usable := func(v *registry.Version, match mc.VersionMatch) bool {
		if typ == mc.TypeMod && !v.SupportsLoader(m.Loader) {
			return false
		}
		if item.edge != nil && !item.edge.Allows(v) {
			return false
		}
		return match.MatchesAny(v.GameVersions)
	}

	if item.request != nil && item.request.Pin != "" {
		for i := range versions {
			if versions[i].Number == item.request.Pin {
				return &versions[i], "", nil
			}
		}
		return nil, "", fmt.Errorf("resolve: no version of %s matches pin %s", item.name, item.request.Pin)
	}

	if want, ok := locked[item.name]; ok {
		for i := range versions {
			if versions[i].Number == want && (usable(&versions[i], exact) || usable(&versions[i], fallback)) {
				return &versions[i], "", nil
			}
		}
	}

	for i := range versions {
		if usable(&versions[i], exact) {
			return &versions[i], "", nil
		}
	}
	for i := range versions {
		if usable(&versions[i], fallback) {
			warn := fmt.Sprintf("%s: no build for the exact game version, using %s", item.name, versions[i].Number)
			return &versions[i], warn, nil
		}
	}
	return nil, "", fmt.Errorf("resolve: no compatible version of %s for %s/%s", item.name, m.McVersion, m.Loader)
}

func resolvedBy(mod *ResolvedMod) string {
	if mod.IsExplicit() {
		return "manifest"
	}
	if len(mod.Dependents) > 0 {
		return mod.Dependents[0]
	}
	return "resolution"
}

func wantedConstraint(edge *registry.DependencyEdge) string {
	if edge.RawConstraint != "" {
		return edge.RawConstraint
	}
	return "any"
}
