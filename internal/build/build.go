// Package build orchestrates a pack build: resolve the mod graph for a
// build type, fetch every artifact through the cache, lay the output
// tree out under the target directories, apply config patches, and
// commit the lock file once everything succeeded.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/cache"
	"github.com/tvaino/pakkeri/internal/lockfile"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/registry"
	"github.com/tvaino/pakkeri/internal/resolve"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithConcurrency bounds the number of parallel artifact fetches.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithSourceDir sets the pack source directory: the root local mod
// paths and config patch sources are resolved against. Defaults to the
// current directory.
func WithSourceDir(dir string) Option {
	return func(b *Builder) { b.sourceDir = dir }
}

// WithLockDir sets where lock files live. Defaults to the source dir.
func WithLockDir(dir string) Option {
	return func(b *Builder) { b.lockDir = dir }
}

// WithBrowser registers the browser-automation collaborator pair that
// serves mods sourced outside the registry.
func WithBrowser(lookup registry.Lookup, dl registry.Downloader) Option {
	return func(b *Builder) {
		b.sources[manifest.SourceBrowser] = lookup
		b.downloaders[manifest.SourceBrowser] = dl
	}
}

// Builder runs builds for one manifest. Safe for concurrent use across
// build types: each Build writes only under its own output subtree.
type Builder struct {
	manifest    *manifest.Manifest
	sources     resolve.Sources
	downloaders map[manifest.SourceKind]registry.Downloader
	store       *cache.Store
	outputDir   string
	sourceDir   string
	lockDir     string
	concurrency int
	logger      *slog.Logger
}

// New creates a Builder writing under outputDir/<build type>. lookup
// and dl are the registry collaborators; further source kinds are wired
// through options.
func New(m *manifest.Manifest, lookup registry.Lookup, dl registry.Downloader, store *cache.Store, outputDir string, opts ...Option) *Builder {
	b := &Builder{
		manifest:    m,
		sources:     resolve.Sources{manifest.SourceRegistry: lookup},
		downloaders: map[manifest.SourceKind]registry.Downloader{manifest.SourceRegistry: dl},
		store:       store,
		outputDir:   outputDir,
		sourceDir:   ".",
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.lockDir == "" {
		b.lockDir = b.sourceDir
	}
	return b
}

// Result is the outcome of one successful build.
type Result struct {
	BuildType string
	OutputDir string
	LockPath  string
	Graph     *resolve.Graph
	Diffs     map[string]string // patched file -> rendered diff
	Warnings  []string
}

// Build produces the output tree for one build type. The lock file is
// written last, so an interrupted or failed build never moves the lock.
func (b *Builder) Build(ctx context.Context, buildType string) (*Result, error) {
	bt, err := b.manifest.BuildType(buildType)
	if err != nil {
		return nil, err
	}

	lockPath := lockfile.Path(b.lockDir, bt.Name)
	prev, err := lockfile.Read(lockPath)
	if err != nil {
		return nil, err
	}
	var locked map[string]string
	if prev != nil {
		locked = prev.Versions()
	}

	graph, err := resolve.Resolve(ctx, b.manifest, bt, b.sources, locked, b.logger)
	if err != nil {
		return nil, err
	}

	outDir := filepath.Join(b.outputDir, bt.Name)
	if err := b.prepareOutput(outDir, bt); err != nil {
		return nil, err
	}

	entries, err := b.fetchAll(ctx, graph, outDir)
	if err != nil {
		return nil, err
	}

	localEntries, err := b.placeLocal(graph, outDir)
	if err != nil {
		return nil, err
	}
	entries = append(entries, localEntries...)

	res := &Result{
		BuildType: bt.Name,
		OutputDir: outDir,
		LockPath:  lockPath,
		Graph:     graph,
		Diffs:     make(map[string]string),
		Warnings:  graph.Warnings,
	}
	if err := b.applyConfigs(bt, graph, outDir, res); err != nil {
		return nil, err
	}

	lock := &lockfile.File{
		Pack:      b.manifest.Name,
		BuildType: bt.Name,
		McVersion: b.manifest.McVersion.String(),
		Loader:    string(b.manifest.Loader),
		CreatedAt: time.Now().UTC(),
		Mods:      entries,
	}
	if err := lockfile.Write(lockPath, lock); err != nil {
		return nil, err
	}

	b.logger.Info("build complete",
		slog.String("build", bt.Name),
		slog.Int("mods", len(entries)),
		slog.String("output", outDir))
	return res, nil
}

// prepareOutput empties the managed subdirectories so removed mods do
// not linger from a previous build.
func (b *Builder) prepareOutput(outDir string, bt *manifest.BuildType) error {
	dirs := b.manifest.TargetDirs
	if err := resetDir(filepath.Join(outDir, dirs.Config)); err != nil {
		return err
	}
	if bt.Side.HasServer() {
		if err := resetDir(filepath.Join(outDir, dirs.DefaultConfig)); err != nil {
			return err
		}
	}
	for _, sub := range []string{dirs.Mods, dirs.Datapacks, dirs.Resourcepacks, dirs.Shaderpacks} {
		if err := resetDir(filepath.Join(outDir, sub)); err != nil {
			return err
		}
	}
	return nil
}

// fetchAll downloads every resolved artifact through the cache with
// bounded parallelism and places it under its type's target directory.
func (b *Builder) fetchAll(ctx context.Context, graph *resolve.Graph, outDir string) ([]lockfile.Entry, error) {
	mods := make([]*resolve.ResolvedMod, 0, len(graph.Mods))
	for _, m := range graph.Mods {
		mods = append(mods, m)
	}
	// Stable order keeps logs and lock diffs deterministic.
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })

	entries := make([]lockfile.Entry, len(mods))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, mod := range mods {
		i, mod := i, mod
		dl, ok := b.downloaders[mod.Source]
		if !ok {
			return nil, &apperr.UnsupportedSourceError{Name: mod.Name, Source: string(mod.Source)}
		}
		g.Go(func() error {
			data, err := b.store.Fetch(gctx, mod.Name, mod.Version.Number, mod.Version.File.Checksum, dl, mod.Version.File.URL)
			if err != nil {
				return err
			}
			typ := requestType(mod)
			rel := filepath.Join(b.manifest.TargetDirs.Dir(typ), mod.Version.File.Filename)
			if err := writeFile(filepath.Join(outDir, rel), data); err != nil {
				return err
			}
			sum := mod.Version.File.Checksum
			if sum == "" {
				sum = digest.FromBytes(data)
			}
			mu.Lock()
			entries[i] = lockfile.Entry{
				Name:     mod.Name,
				Version:  mod.Version.Number,
				Checksum: sum,
				Source:   string(mod.Source),
				File:     rel,
				Explicit: mod.IsExplicit(),
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// placeLocal copies local mods into the output tree. Directories
// declared as data or resource packs are zipped, everything else is
// copied as-is.
func (b *Builder) placeLocal(graph *resolve.Graph, outDir string) ([]lockfile.Entry, error) {
	var entries []lockfile.Entry
	for _, req := range graph.Local {
		src := req.Source.Path
		if !filepath.IsAbs(src) {
			src = filepath.Join(b.sourceDir, src)
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("build: local mod %s: %w", req.Name, err)
		}

		dir := b.manifest.TargetDirs.Dir(req.Type)
		var rel string
		var sum digest.Digest
		if info.IsDir() {
			if req.Type != mc.TypeDatapack && req.Type != mc.TypeResourcepack {
				return nil, fmt.Errorf("build: local mod %s: directories are only supported for data and resource packs", req.Name)
			}
			rel = filepath.Join(dir, req.Name+".zip")
			sum, err = zipDir(src, filepath.Join(outDir, rel))
		} else {
			rel = filepath.Join(dir, filepath.Base(src))
			sum, err = copyFile(src, filepath.Join(outDir, rel))
		}
		if err != nil {
			return nil, fmt.Errorf("build: local mod %s: %w", req.Name, err)
		}

		entries = append(entries, lockfile.Entry{
			Name:     req.Name,
			Version:  "local",
			Checksum: sum,
			Source:   req.Source.String(),
			File:     rel,
			Explicit: true,
		})
	}
	return entries, nil
}

func requestType(mod *resolve.ResolvedMod) mc.ModType {
	if mod.Request != nil {
		return mod.Request.Type
	}
	return mc.TypeMod
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("build: reset %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("build: mkdir %s: %w", dir, err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("build: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("build: write %s: %w", path, err)
	}
	return nil
}
