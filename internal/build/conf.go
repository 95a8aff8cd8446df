package build

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tvaino/pakkeri/internal/confpatch"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/resolve"
)

// confScope names one patch source subtree under <source dir>/conf.
type confScope string

const (
	scopeCommon confScope = "common"
	scopeClient confScope = "client"
	scopeServer confScope = "server"
)

// applyConfigs applies the patch declarations for every explicit mod in
// the graph, including local ones. The scopes applicable to the build
// type are merged first, most specific last, so a client or server
// declaration overrides the common one per key path while unrelated
// common edits survive into the same document.
func (b *Builder) applyConfigs(bt *manifest.BuildType, graph *resolve.Graph, outDir string, res *Result) error {
	apply := func(req *manifest.ModRequest) error {
		spec := req.ConfFor(bt)
		if spec.IsZero() {
			return nil
		}
		if err := b.applySpec(spec, bt, outDir, res); err != nil {
			return fmt.Errorf("build: %s conf: %w", req.Name, err)
		}
		return nil
	}

	for _, req := range graph.Local {
		if err := apply(req); err != nil {
			return err
		}
	}
	for _, mod := range graph.Mods {
		if mod.Request == nil {
			continue
		}
		if err := apply(mod.Request); err != nil {
			return err
		}
	}
	return nil
}

// scopeDirs lists the patch source subtrees consulted for a build type,
// least specific first.
func (b *Builder) scopeDirs(bt *manifest.BuildType) []string {
	scopes := []confScope{scopeCommon}
	if bt.Side.HasClient() {
		scopes = append(scopes, scopeClient)
	}
	if bt.Side.HasServer() {
		scopes = append(scopes, scopeServer)
	}
	dirs := make([]string, len(scopes))
	for i, scope := range scopes {
		dirs[i] = filepath.Join(b.sourceDir, "conf", string(scope))
	}
	return dirs
}

// applySpec writes one mod's merged patch set. Output goes to the live
// config directory; a dedicated server build writes the default-config
// directory instead so each world keeps its own live copy.
func (b *Builder) applySpec(spec confpatch.Spec, bt *manifest.BuildType, outDir string, res *Result) error {
	srcDirs := b.scopeDirs(bt)
	targetRoot := filepath.Join(outDir, b.manifest.TargetDirs.Config)
	if !bt.Side.HasClient() {
		targetRoot = filepath.Join(outDir, b.manifest.TargetDirs.DefaultConfig)
	}

	for _, f := range spec.Files {
		switch f.Mode {
		case confpatch.ModeCopy:
			// Least specific first: a more specific copy of the same
			// file lands last and wins.
			for _, srcRoot := range srcDirs {
				if err := b.copyPattern(srcRoot, targetRoot, f.Pattern); err != nil {
					return err
				}
			}
		case confpatch.ModeOverwrite:
			if err := writeFile(filepath.Join(targetRoot, f.Pattern), []byte(f.Content)); err != nil {
				return err
			}
		case confpatch.ModeEdit:
			if err := b.editFile(srcDirs, targetRoot, f, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyPattern copies every source file matching the glob into the
// target, keeping relative paths.
func (b *Builder) copyPattern(srcRoot, targetRoot, pattern string) error {
	matches, err := filepath.Glob(filepath.Join(srcRoot, pattern))
	if err != nil {
		return fmt.Errorf("glob %s: %w", pattern, err)
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return err
		}
		if info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(srcRoot, match)
		if err != nil {
			return err
		}
		if _, err := copyFile(match, filepath.Join(targetRoot, rel)); err != nil {
			return err
		}
	}
	return nil
}

// editFile loads the shipped default config from the most specific
// scope that carries it, applies the merged edits in one pass, and
// writes the patched document to the target. The rendered diff is
// recorded on the result.
func (b *Builder) editFile(srcDirs []string, targetRoot string, f confpatch.FileSpec, res *Result) error {
	data, err := readDefault(srcDirs, f.Pattern)
	if err != nil {
		return err
	}
	doc, err := confpatch.Parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.Pattern, err)
	}
	log, err := confpatch.ApplyEdits(doc, f.Edits)
	if err != nil {
		return fmt.Errorf("patch %s: %w", f.Pattern, err)
	}
	out, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("render %s: %w", f.Pattern, err)
	}
	if err := writeFile(filepath.Join(targetRoot, f.Pattern), out); err != nil {
		return err
	}

	res.Diffs[f.Pattern] = confpatch.RenderDiff(doc, log)
	b.logger.Debug("patched config",
		slog.String("file", f.Pattern),
		slog.Int("edits", len(log)))
	return nil
}

// readDefault searches the scope subtrees most specific first.
func readDefault(srcDirs []string, pattern string) ([]byte, error) {
	for i := len(srcDirs) - 1; i >= 0; i-- {
		data, err := os.ReadFile(filepath.Join(srcDirs[i], pattern))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read default %s: %w", pattern, err)
		}
	}
	return nil, fmt.Errorf("no shipped default config %s under any conf scope", pattern)
}
