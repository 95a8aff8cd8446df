package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/testutil"
)

func testManifest(t *testing.T, mods string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(`
mc: 1.19.2
loader: forge
build_types:
  client: {side: client}
  server: {side: server}
  sp: {}
mods:
` + mods))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func resolveBuild(t *testing.T, m *manifest.Manifest, build string, reg *testutil.FakeRegistry, locked map[string]string) (*Graph, error) {
	t.Helper()
	bt, err := m.BuildType(build)
	if err != nil {
		t.Fatalf("BuildType: %v", err)
	}
	return Resolve(context.Background(), m, bt, Sources{manifest.SourceRegistry: reg}, locked, nil)
}

func TestResolveTransitiveClosure(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("b", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))
	reg.AddMod("c", mc.SideBoth, testutil.Ver("3.0", "1.19.2"))
	reg.Depend("a", "1.0", "b", "")
	reg.Depend("b", "2.0", "c", "")

	g, err := resolveBuild(t, testManifest(t, "  - a"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 3 {
		t.Fatalf("graph = %v", names(g))
	}
	if !g.Mods["a"].IsExplicit() || g.Mods["b"].IsExplicit() {
		t.Error("explicit flags wrong")
	}
	if got := g.Mods["b"].Dependents; len(got) != 1 || got[0] != "a" {
		t.Errorf("b dependents = %v", got)
	}
}

func TestResolveVersionUniqueness(t *testing.T) {
	// Two roots sharing a dependency resolve it exactly once.
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("b", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("lib", mc.SideBoth, testutil.Ver("5.0", "1.19.2"))
	reg.Depend("a", "1.0", "lib", "")
	reg.Depend("b", "1.0", "lib", "")

	g, err := resolveBuild(t, testManifest(t, "  - a\n  - b"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 3 {
		t.Fatalf("graph = %v", names(g))
	}
	if got := g.Mods["lib"].Dependents; len(got) != 2 {
		t.Errorf("lib dependents = %v", got)
	}
}

func TestResolveCycleTerminates(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("b", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.Depend("a", "1.0", "b", "")
	reg.Depend("b", "1.0", "a", "")

	g, err := resolveBuild(t, testManifest(t, "  - a"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 2 {
		t.Fatalf("graph = %v", names(g))
	}
}

func TestSideIncompatibleDependencyIsDropped(t *testing.T) {
	// A pins 1.0 and depends on client-only B; a server build drops B
	// without error.
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("b", mc.SideClient, testutil.Ver("2.0", "1.19.2"))
	reg.Depend("a", "1.0", "b", "2.0")

	g, err := resolveBuild(t, testManifest(t, "  - a:1.0"), "server", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 1 || g.Mods["a"] == nil {
		t.Fatalf("graph = %v, want only a", names(g))
	}
	if g.Mods["a"].Version.Number != "1.0" {
		t.Errorf("a version = %s", g.Mods["a"].Version.Number)
	}
}

func TestVersionConflictNamesBothRequirements(t *testing.T) {
	// A@1.0 and B@1.0 requested; A requires B@2.0.
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("b", mc.SideBoth, testutil.Ver("2.0", "1.19.2"), testutil.Ver("1.0", "1.19.2"))
	reg.Depend("a", "1.0", "b", "2.0")

	_, err := resolveBuild(t, testManifest(t, "  - a:1.0\n  - b:1.0"), "sp", reg, nil)
	if !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	var vc *apperr.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("err = %T", err)
	}
	if vc.Name != "b" || vc.Resolved != "1.0" || vc.Wanted != "2.0" || vc.WantedBy != "a" {
		t.Errorf("conflict detail = %+v", vc)
	}
}

func TestIncompatibleSideRoot(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("shaders", mc.SideClient, testutil.Ver("1.0", "1.19.2"))

	_, err := resolveBuild(t, testManifest(t, "  - shaders"), "server", reg, nil)
	if !errors.Is(err, apperr.ErrIncompatibleSide) {
		t.Fatalf("err = %v, want ErrIncompatibleSide", err)
	}
}

func TestUnknownMod(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	_, err := resolveBuild(t, testManifest(t, "  - ghost"), "sp", reg, nil)
	if !errors.Is(err, apperr.ErrUnknownMod) {
		t.Fatalf("err = %v, want ErrUnknownMod", err)
	}
}

func TestPinWinsOverLatest(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("2.0", "1.19.2"), testutil.Ver("1.0", "1.19.2"))

	g, err := resolveBuild(t, testManifest(t, "  - a:1.0"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Mods["a"].Version.Number != "1.0" {
		t.Errorf("version = %s, want pinned 1.0", g.Mods["a"].Version.Number)
	}
}

func TestLockedVersionBiasesSelection(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("2.0", "1.19.2"), testutil.Ver("1.0", "1.19.2"))

	g, err := resolveBuild(t, testManifest(t, "  - a"), "sp", reg, map[string]string{"a": "1.0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Mods["a"].Version.Number != "1.0" {
		t.Errorf("version = %s, want locked 1.0", g.Mods["a"].Version.Number)
	}
}

func TestLockedVersionIgnoredWhenGone(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))

	g, err := resolveBuild(t, testManifest(t, "  - a"), "sp", reg, map[string]string{"a": "1.0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Mods["a"].Version.Number != "2.0" {
		t.Errorf("version = %s, want latest 2.0", g.Mods["a"].Version.Number)
	}
}

func TestGameVersionFallback(t *testing.T) {
	// No 1.19.2 build exists; the caret fallback accepts the 1.19.1
	// build and records a warning.
	reg := testutil.NewFakeRegistry()
	reg.AddMod("a", mc.SideBoth, testutil.Ver("1.0", "1.19.1"))

	g, err := resolveBuild(t, testManifest(t, "  - a"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Mods["a"].Version.Number != "1.0" {
		t.Errorf("version = %s", g.Mods["a"].Version.Number)
	}
	if len(g.Warnings) != 1 {
		t.Errorf("warnings = %v", g.Warnings)
	}
}

func TestLocalModsBypassResolution(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	g, err := resolveBuild(t, testManifest(t, "  - ./mods/custom.jar"), "sp", reg, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 0 || len(g.Local) != 1 {
		t.Fatalf("graph = %v local = %v", names(g), g.Local)
	}
	if g.Local[0].Name != "custom.jar" {
		t.Errorf("local name = %q", g.Local[0].Name)
	}
}

func TestBrowserSourceUsesItsOwnCollaborator(t *testing.T) {
	// worldedit lives only on the browser collaborator; its dependency
	// closure resolves through the same collaborator and keeps the
	// browser source kind.
	reg := testutil.NewFakeRegistry()
	browser := testutil.NewFakeRegistry()
	browser.AddMod("worldedit", mc.SideBoth, testutil.Ver("7.2", "1.19.2"))
	browser.AddMod("welib", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	browser.Depend("worldedit", "7.2", "welib", "")

	m := testManifest(t, "  - curse/worldedit")
	bt, err := m.BuildType("sp")
	if err != nil {
		t.Fatalf("BuildType: %v", err)
	}
	g, err := Resolve(context.Background(), m, bt, Sources{
		manifest.SourceRegistry: reg,
		manifest.SourceBrowser:  browser,
	}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Mods) != 2 {
		t.Fatalf("graph = %v", names(g))
	}
	if got := g.Mods["worldedit"].Source; got != manifest.SourceBrowser {
		t.Errorf("worldedit source = %v", got)
	}
	if got := g.Mods["welib"].Source; got != manifest.SourceBrowser {
		t.Errorf("welib source = %v", got)
	}
}

func TestBrowserSourceWithoutCollaboratorFails(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	_, err := resolveBuild(t, testManifest(t, "  - curse/worldedit"), "sp", reg, nil)
	if !errors.Is(err, apperr.ErrUnsupportedSource) {
		t.Fatalf("err = %v, want ErrUnsupportedSource", err)
	}
}

func names(g *Graph) []string {
	var out []string
	for name := range g.Mods {
		out = append(out, name)
	}
	return out
}
