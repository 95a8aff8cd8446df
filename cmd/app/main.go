package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tvaino/pakkeri/internal"
	"github.com/tvaino/pakkeri/internal/build"
	"github.com/tvaino/pakkeri/internal/cache"
	"github.com/tvaino/pakkeri/internal/install"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/registry"
	"github.com/tvaino/pakkeri/internal/resolve"
	pkgconfig "github.com/tvaino/pakkeri/pkg/config"
)

// env wires the collaborators every command needs.
type env struct {
	cfg    *internal.Config
	logger *slog.Logger
	store  *cache.Store
	client *registry.Modrinth
}

func setup(cmd *cli.Command) (*env, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := cache.Open(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		store:  store,
		client: registry.NewModrinth(cfg.Registry.BaseURL),
	}, nil
}

func (e *env) builder(cmd *cli.Command) (*build.Builder, *manifest.Manifest, error) {
	manifestPath := cmd.String("manifest")
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	srcDir := filepath.Dir(manifestPath)
	b := build.New(m, e.client, e.client, e.store, cmd.String("output"),
		build.WithLogger(e.logger),
		build.WithSourceDir(srcDir),
		build.WithConcurrency(int(cmd.Int("jobs"))),
	)
	return b, m, nil
}

func buildTypes(cmd *cli.Command, m *manifest.Manifest) []string {
	return uniqueBuildTypes(cmd.Args().Slice(), m)
}

// uniqueBuildTypes returns the requested build types with duplicates
// dropped, or every build type of the manifest when none were named.
func uniqueBuildTypes(args []string, m *manifest.Manifest) []string {
	if len(args) == 0 {
		var out []string
		for name := range m.BuildTypes {
			out = append(out, name)
		}
		return out
	}
	seen := make(map[string]bool, len(args))
	var out []string
	for _, name := range args {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()
	m, err := manifest.Load(cmd.String("manifest"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()
	for _, name := range buildTypes(cmd, m) {
		bt, err := m.BuildType(name)
		if err != nil {
			return err
		}
		graph, err := resolve.Resolve(ctx, m, bt, resolve.Sources{manifest.SourceRegistry: e.client}, nil, e.logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# %s\n", name)
		for _, mod := range graph.Mods {
			origin := "dependency of " + joinOr(mod.Dependents, "?")
			if mod.IsExplicit() {
				origin = "manifest"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mod.Name, mod.Version.Number, mod.Side, origin)
		}
		for _, warn := range graph.Warnings {
			fmt.Fprintf(w, "warning\t%s\n", warn)
		}
	}
	return nil
}

func runBuild(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()
	b, m, err := e.builder(cmd)
	if err != nil {
		return err
	}

	types := buildTypes(cmd, m)
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan *build.Result, len(types))
	for _, name := range types {
		name := name
		g.Go(func() error {
			res, err := b.Build(gctx, name)
			if err != nil {
				return fmt.Errorf("build %s: %w", name, err)
			}
			results <- res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(results)

	for res := range results {
		fmt.Printf("built %s -> %s (lock %s)\n", res.BuildType, res.OutputDir, res.LockPath)
		for _, warn := range res.Warnings {
			fmt.Printf("  warning: %s\n", warn)
		}
		if cmd.Bool("diff") {
			for file, diff := range res.Diffs {
				fmt.Printf("--- %s\n%s", file, diff)
			}
		}
	}
	return nil
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()
	b, m, err := e.builder(cmd)
	if err != nil {
		return err
	}

	failed := false
	for _, name := range buildTypes(cmd, m) {
		problems, err := b.Check(name)
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Printf("%s: %v\n", name, p)
			failed = true
		}
	}
	if failed {
		return errors.New("check failed")
	}
	fmt.Println("ok")
	return nil
}

func runInstall(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	name := cmd.Args().First()
	if name == "" {
		return errors.New("install: build type argument required")
	}
	inst, err := e.cfg.Instance(cmd.String("instance"))
	if err != nil {
		return err
	}
	if world := cmd.String("world"); world != "" {
		inst.World = world
	}
	outDir := filepath.Join(cmd.String("output"), name)
	if err := install.Install(inst, outDir, e.logger); err != nil {
		return err
	}
	fmt.Printf("installed %s into %s (%s)\n", name, inst.Path, inst.Kind)
	return nil
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	typ, err := mc.ParseModType(cmd.String("type"))
	if err != nil {
		return err
	}
	loader, err := mc.ParseLoader(cmd.String("loader"))
	if err != nil {
		return err
	}
	hits, total, err := e.client.Search(ctx, registry.SearchRequest{
		Query:       cmd.Args().First(),
		Type:        typ,
		Loader:      loader,
		GameVersion: cmd.String("mc"),
		Limit:       int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, hit := range hits {
		fmt.Fprintf(w, "%s\t%s\t%d downloads\t%s\n", hit.Slug, hit.Title, hit.Downloads, hit.Description)
	}
	w.Flush()
	fmt.Printf("%d of %d results\n", len(hits), total)
	return nil
}

func runCacheList(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	entries, err := e.store.Entries()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			entry.Name, entry.Version, entry.Size,
			entry.FetchedAt.Format(time.RFC3339), entry.Digest)
	}
	return w.Flush()
}

func runCachePrune(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	cutoff := time.Now().Add(-cmd.Duration("older-than"))
	n, err := e.store.Prune(cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d artifacts\n", n)
	return nil
}

func joinOr(list []string, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	out := list[0]
	for _, s := range list[1:] {
		out += ", " + s
	}
	return out
}

func main() {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file",
			Value:   "pakkeri.yml",
			Sources: cli.EnvVars("PAKKERI_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "manifest",
			Aliases: []string{"m"},
			Usage:   "Path to the pack manifest",
			Value:   "modpak.yml",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Build output directory",
			Value:   "build",
		},
		&cli.IntFlag{
			Name:  "jobs",
			Usage: "Parallel downloads per build",
			Value: 4,
		},
	}

	cmd := &cli.Command{
		Name:  "pakkeri",
		Usage: "Reproducible Minecraft modpack builds from a declarative manifest",
		Flags: commonFlags,
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "Resolve the mod graph without building",
				ArgsUsage: "[build types...]",
				Action:    runResolve,
			},
			{
				Name:      "build",
				Usage:     "Build output trees and write lock files",
				ArgsUsage: "[build types...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "diff", Usage: "Print config patch diffs"},
				},
				Action: runBuild,
			},
			{
				Name:      "check",
				Usage:     "Verify installed artifacts against the lock",
				ArgsUsage: "[build types...]",
				Action:    runCheck,
			},
			{
				Name:      "install",
				Usage:     "Copy a built output tree into a Minecraft instance",
				ArgsUsage: "<build type>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "instance", Aliases: []string{"i"}, Usage: "Instance name from the config"},
					&cli.StringFlag{Name: "world", Usage: "World name for single-player instances"},
				},
				Action: runInstall,
			},
			{
				Name:      "search",
				Usage:     "Search the mod registry",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Content type (mod, datapack, resourcepack, shaderpack)", Value: "mod"},
					&cli.StringFlag{Name: "loader", Usage: "Mod loader facet", Value: "forge"},
					&cli.StringFlag{Name: "mc", Usage: "Game version facet"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum results", Value: 20},
				},
				Action: runSearch,
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the artifact cache",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List cached artifacts",
						Action: runCacheList,
					},
					{
						Name:  "prune",
						Usage: "Remove artifacts fetched before the cutoff",
						Flags: []cli.Flag{
							&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour},
						},
						Action: runCachePrune,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("pakkeri error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
