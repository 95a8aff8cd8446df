package build

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/cache"
	"github.com/tvaino/pakkeri/internal/lockfile"
	"github.com/tvaino/pakkeri/internal/manifest"
	"github.com/tvaino/pakkeri/internal/mc"
	"github.com/tvaino/pakkeri/internal/testutil"
)

func testBuilder(t *testing.T, manifestYAML string, reg *testutil.FakeRegistry, dl *testutil.FakeDownloader, opts ...Option) (*Builder, string) {
	t.Helper()
	m, err := manifest.Parse([]byte(manifestYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	store, err := cache.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srcDir := t.TempDir()
	outDir := t.TempDir()
	opts = append([]Option{WithSourceDir(srcDir), WithConcurrency(2)}, opts...)
	b := New(m, reg, dl, store, outDir, opts...)
	return b, srcDir
}

func writeSource(t *testing.T, srcDir, rel, content string) {
	t.Helper()
	path := filepath.Join(srcDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

const buildManifest = `
name: testpack
mc: 1.19.2
build_types:
  server: {side: server}
  sp: {}
mods:
  - name: jei
    conf:
      jei.yml:
        general.max: 50
  - alib
`

func TestBuildProducesTreeAndLock(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("alib", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["jei@1.0"] = []byte("jei jar")
	dl.Files["alib@2.0"] = []byte("alib jar")

	b, srcDir := testBuilder(t, buildManifest, reg, dl)
	writeSource(t, srcDir, "conf/common/jei.yml", "general:\n  max: 10 # cap\n")

	res, err := b.Build(context.Background(), "sp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	jar, err := os.ReadFile(filepath.Join(res.OutputDir, "mods", "mod-1.0.jar"))
	if err != nil || string(jar) != "jei jar" {
		t.Errorf("jei jar = %q, %v", jar, err)
	}

	conf, err := os.ReadFile(filepath.Join(res.OutputDir, "config", "jei.yml"))
	if err != nil {
		t.Fatalf("patched config: %v", err)
	}
	if !strings.Contains(string(conf), "max: 50") || !strings.Contains(string(conf), "# cap") {
		t.Errorf("config = %q", conf)
	}
	if diff := res.Diffs["jei.yml"]; !strings.Contains(diff, "- ") || !strings.Contains(diff, "max: 50") {
		t.Errorf("diff = %q", diff)
	}

	lock, err := lockfile.Read(res.LockPath)
	if err != nil || lock == nil {
		t.Fatalf("lock: %v, %v", lock, err)
	}
	if len(lock.Mods) != 2 {
		t.Fatalf("lock mods = %+v", lock.Mods)
	}
	jei := lock.Entry("jei")
	if jei == nil || jei.Version != "1.0" || jei.Checksum == "" || !jei.Explicit {
		t.Errorf("jei entry = %+v", jei)
	}
}

func TestBuildFailureWritesNoLock(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("alib", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["jei@1.0"] = []byte("jei jar")
	// alib download missing on purpose.

	b, srcDir := testBuilder(t, buildManifest, reg, dl)
	writeSource(t, srcDir, "conf/common/jei.yml", "general:\n  max: 10\n")

	_, err := b.Build(context.Background(), "sp")
	if err == nil {
		t.Fatal("expected build failure")
	}
	lock, err := lockfile.Read(lockfile.Path(srcDir, "sp"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if lock != nil {
		t.Errorf("lock written despite failure: %+v", lock)
	}
}

func TestBuildReusesLockedVersion(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("alib", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["jei@1.0"] = []byte("jei jar")
	dl.Files["alib@2.0"] = []byte("alib jar")

	b, srcDir := testBuilder(t, buildManifest, reg, dl)
	writeSource(t, srcDir, "conf/common/jei.yml", "general:\n  max: 10\n")

	if _, err := b.Build(context.Background(), "sp"); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	// A newer version appears; the lock keeps the build on 1.0.
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.1", "1.19.2"), testutil.Ver("1.0", "1.19.2"))
	res, err := b.Build(context.Background(), "sp")
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if got := res.Graph.Mods["jei"].Version.Number; got != "1.0" {
		t.Errorf("jei version = %s, want locked 1.0", got)
	}
}

func TestServerScopeWritesDefaultConfigs(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("worldgen", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["worldgen@1.0"] = []byte("jar")

	b, srcDir := testBuilder(t, `
mc: 1.19.2
build_types:
  server: {side: server}
mods:
  - name: worldgen
    server_conf:
      gen.yml:
        world.seed: 42
`, reg, dl)
	writeSource(t, srcDir, "conf/server/gen.yml", "world:\n  seed: 0\n")

	res, err := b.Build(context.Background(), "server")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	conf, err := os.ReadFile(filepath.Join(res.OutputDir, "defaultconfigs", "gen.yml"))
	if err != nil {
		t.Fatalf("defaultconfigs: %v", err)
	}
	if !strings.Contains(string(conf), "seed: 42") {
		t.Errorf("config = %q", conf)
	}
}

func TestClientScopeOverrideKeepsCommonEdits(t *testing.T) {
	// The client declaration overrides general.flag but says nothing
	// about general.timeout; the common edit to it must still land in
	// the same patched document.
	reg := testutil.NewFakeRegistry()
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["jei@1.0"] = []byte("jei jar")

	b, srcDir := testBuilder(t, `
mc: 1.19.2
build_types:
  client: {side: client}
mods:
  - name: jei
    conf:
      jei.yml:
        general.flag: false
        general.timeout: 99
    client_conf:
      jei.yml:
        general.flag: true
`, reg, dl)
	writeSource(t, srcDir, "conf/common/jei.yml", "general:\n  flag: false\n  timeout: 30\n")

	res, err := b.Build(context.Background(), "client")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	conf, err := os.ReadFile(filepath.Join(res.OutputDir, "config", "jei.yml"))
	if err != nil {
		t.Fatalf("patched config: %v", err)
	}
	if !strings.Contains(string(conf), "flag: true") {
		t.Errorf("client override lost: %q", conf)
	}
	if !strings.Contains(string(conf), "timeout: 99") {
		t.Errorf("common edit lost: %q", conf)
	}
	if len(res.Diffs) != 1 {
		t.Errorf("diffs = %v, want one merged application", res.Diffs)
	}
}

func TestBrowserSourceFetchesThroughItsDownloader(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	dl := testutil.NewFakeDownloader()
	browser := testutil.NewFakeRegistry()
	browser.AddMod("worldedit", mc.SideBoth, testutil.Ver("7.2", "1.19.2"))
	browserDL := testutil.NewFakeDownloader()
	browserDL.Files["worldedit@7.2"] = []byte("we jar")

	b, _ := testBuilder(t, `
mc: 1.19.2
build_types:
  sp: {}
mods:
  - curse/worldedit
`, reg, dl, WithBrowser(browser, browserDL))

	res, err := b.Build(context.Background(), "sp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	jar, err := os.ReadFile(filepath.Join(res.OutputDir, "mods", "mod-7.2.jar"))
	if err != nil || string(jar) != "we jar" {
		t.Errorf("jar = %q, %v", jar, err)
	}
	if dl.CallCount() != 0 || browserDL.CallCount() != 1 {
		t.Errorf("downloads: registry = %d, browser = %d", dl.CallCount(), browserDL.CallCount())
	}
	lock, err := lockfile.Read(res.LockPath)
	if err != nil || lock == nil {
		t.Fatalf("lock: %v, %v", lock, err)
	}
	if entry := lock.Entry("worldedit"); entry == nil || entry.Source != "browser" {
		t.Errorf("lock entry = %+v", entry)
	}
}

func TestLocalDirectoryIsZipped(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	dl := testutil.NewFakeDownloader()

	b, srcDir := testBuilder(t, `
mc: 1.19.2
build_types:
  sp: {}
mods:
  - name: extra-sounds
    type: resourcepack
    side: both
    source: ./packs/extra-sounds
`, reg, dl)
	writeSource(t, srcDir, "packs/extra-sounds/pack.mcmeta", `{"pack":{}}`)
	writeSource(t, srcDir, "packs/extra-sounds/assets/sound.ogg", "oggbytes")

	res, err := b.Build(context.Background(), "sp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	zr, err := zip.OpenReader(filepath.Join(res.OutputDir, "resourcepacks", "extra-sounds.zip"))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["pack.mcmeta"] || !names["assets/sound.ogg"] {
		t.Errorf("zip contents = %v", names)
	}
}

func TestCheckDetectsTampering(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.AddMod("jei", mc.SideBoth, testutil.Ver("1.0", "1.19.2"))
	reg.AddMod("alib", mc.SideBoth, testutil.Ver("2.0", "1.19.2"))
	dl := testutil.NewFakeDownloader()
	dl.Files["jei@1.0"] = []byte("jei jar")
	dl.Files["alib@2.0"] = []byte("alib jar")

	b, srcDir := testBuilder(t, buildManifest, reg, dl)
	writeSource(t, srcDir, "conf/common/jei.yml", "general:\n  max: 10\n")

	res, err := b.Build(context.Background(), "sp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	problems, err := b.Check("sp")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("fresh build problems = %v", problems)
	}

	if err := os.WriteFile(filepath.Join(res.OutputDir, "mods", "mod-1.0.jar"), []byte("evil"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	problems, err = b.Check("sp")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(problems) != 1 || !errors.Is(problems[0], apperr.ErrChecksumMismatch) {
		t.Errorf("problems = %v", problems)
	}
}
