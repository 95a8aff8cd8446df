// Package testutil provides shared test doubles: an in-memory registry
// and a counting downloader.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/registry"
)

// FakeRegistry is an in-memory registry.Lookup.
type FakeRegistry struct {
	mu       sync.Mutex
	projects map[string]*registry.Project
	versions map[string][]registry.Version
	deps     map[string][]registry.DependencyEdge
}

var _ registry.Lookup = (*FakeRegistry)(nil)

// NewFakeRegistry creates an empty fake registry.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		projects: make(map[string]*registry.Project),
		versions: make(map[string][]registry.Version),
		deps:     make(map[string][]registry.DependencyEdge),
	}
}

// AddMod registers a project with the given side and versions, newest
// first (the order version listings are served in).
func (f *FakeRegistry) AddMod(slug string, side mc.Side, versions ...registry.Version) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, server := mc.SupportRequired, mc.SupportRequired
	if !side.HasClient() {
		client = mc.SupportUnsupported
	}
	if !side.HasServer() {
		server = mc.SupportUnsupported
	}
	f.projects[slug] = &registry.Project{
		ID:         "id-" + slug,
		Slug:       slug,
		Title:      slug,
		ClientSide: client,
		ServerSide: server,
	}
	f.versions[slug] = versions
}

// Depend declares that slug@version requires dep, optionally with an
// exact version constraint.
func (f *FakeRegistry) Depend(slug, version, dep, constraint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	edge := registry.DependencyEdge{From: slug, To: dep, Required: true, RawConstraint: constraint}
	if constraint != "" {
		c, err := semver.NewConstraint("=" + constraint)
		if err != nil {
			panic(fmt.Sprintf("testutil: bad constraint %q: %v", constraint, err))
		}
		edge.Constraint = c
	}
	key := slug + "@" + version
	f.deps[key] = append(f.deps[key], edge)
}

// Project implements registry.Lookup.
func (f *FakeRegistry) Project(_ context.Context, slug string) (*registry.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[slug]
	if !ok {
		return nil, &apperr.UnknownModError{Name: slug}
	}
	return p, nil
}

// Versions implements registry.Lookup.
func (f *FakeRegistry) Versions(_ context.Context, slug string) ([]registry.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs, ok := f.versions[slug]
	if !ok {
		return nil, &apperr.UnknownModError{Name: slug}
	}
	return vs, nil
}

// Dependencies implements registry.Lookup.
func (f *FakeRegistry) Dependencies(_ context.Context, slug, version string) ([]registry.DependencyEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deps[slug+"@"+version], nil
}

// Ver builds a registry version for the given game versions. The
// filename and URL are derived so fetch tests can address artifacts.
func Ver(number string, gameVersions ...string) registry.Version {
	v := registry.Version{
		ID:        "v-" + number,
		Number:    number,
		Channel:   "release",
		Published: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		File: registry.VersionFile{
			Filename: fmt.Sprintf("mod-%s.jar", number),
			URL:      fmt.Sprintf("https://example.test/mod-%s.jar", number),
		},
	}
	for _, gv := range gameVersions {
		parsed, err := mc.ParseVersion(gv)
		if err != nil {
			panic(fmt.Sprintf("testutil: bad game version %q: %v", gv, err))
		}
		v.GameVersions = append(v.GameVersions, parsed)
	}
	return v
}

// FakeDownloader serves bytes keyed by "name@version" and counts calls.
type FakeDownloader struct {
	mu    sync.Mutex
	Files map[string][]byte
	Calls int
	Err   error // returned instead of bytes when set
}

var _ registry.Downloader = (*FakeDownloader)(nil)

// NewFakeDownloader creates a downloader with no files.
func NewFakeDownloader() *FakeDownloader {
	return &FakeDownloader{Files: make(map[string][]byte)}
}

// Download implements registry.Downloader.
func (d *FakeDownloader) Download(_ context.Context, name, version, _ string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Err != nil {
		return nil, d.Err
	}
	data, ok := d.Files[name+"@"+version]
	if !ok {
		return nil, &apperr.LookupError{Source: "fake", Name: name, Err: fmt.Errorf("no such file")}
	}
	return data, nil
}

// CallCount returns the number of Download invocations so far.
func (d *FakeDownloader) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Calls
}
