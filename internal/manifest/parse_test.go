package manifest

import (
	"errors"
	"testing"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/mc"
)

const sampleManifest = `
name: testpack
mc: 1.19.2
loader: forge
build_types:
  client:
    side: client
  server:
    side: server
  sp:
    title: Single player
mods:
  - jei
  - sodium:5.8.0
  - name: appleskin
    side: client
    conf:
      appleskin.yml:
        general.flag: true
  - name: Performance
    side: client
    mods:
      - ferritecore
      - curseforge/oculus
  - ./local/extra-recipes
  - name: worldedit
    disabled: true
`

func parseSample(t *testing.T) *Manifest {
	t.Helper()
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func TestParseBasics(t *testing.T) {
	m := parseSample(t)
	if m.McVersion.String() != "1.19.2" {
		t.Errorf("mc = %s", m.McVersion)
	}
	if m.Loader != mc.LoaderForge {
		t.Errorf("loader = %s", m.Loader)
	}
	if len(m.BuildTypes) != 3 {
		t.Errorf("build types = %v", m.BuildTypes)
	}
	// Side defaults to both when omitted.
	if m.BuildTypes["sp"].Side != mc.SideBoth {
		t.Errorf("sp side = %v", m.BuildTypes["sp"].Side)
	}
}

func TestParseShorthandPin(t *testing.T) {
	m := parseSample(t)
	sodium := m.Mod("sodium")
	if sodium == nil || sodium.Pin != "5.8.0" {
		t.Fatalf("sodium = %+v", sodium)
	}
	if sodium.Source.Kind != SourceRegistry {
		t.Errorf("source = %+v", sodium.Source)
	}
}

func TestParseGroupInheritsDefaults(t *testing.T) {
	m := parseSample(t)
	fc := m.Mod("ferritecore")
	if fc == nil {
		t.Fatal("ferritecore missing")
	}
	if fc.Side != mc.SideClient {
		t.Errorf("side = %v, want client (from group)", fc.Side)
	}
	if fc.Category != "Performance" {
		t.Errorf("category = %q", fc.Category)
	}
	oculus := m.Mod("oculus")
	if oculus == nil || oculus.Source.Kind != SourceBrowser {
		t.Errorf("oculus = %+v", oculus)
	}
}

func TestParseLocalRef(t *testing.T) {
	m := parseSample(t)
	local := m.Mod("extra-recipes")
	if local == nil {
		t.Fatal("local mod missing")
	}
	if !local.Source.IsLocal() || local.Source.Path != "./local/extra-recipes" {
		t.Errorf("source = %+v", local.Source)
	}
}

func TestBuildTypeModsFiltersSideAndDisabled(t *testing.T) {
	m := parseSample(t)
	server := m.BuildTypes["server"]
	names := map[string]bool{}
	for _, r := range m.BuildTypeMods(server) {
		names[r.Name] = true
	}
	if names["appleskin"] || names["ferritecore"] {
		t.Errorf("client-only mods leaked into server build: %v", names)
	}
	if names["worldedit"] {
		t.Error("disabled mod included")
	}
	if !names["jei"] || !names["sodium"] {
		t.Errorf("both-side mods missing: %v", names)
	}
}

func TestInNotInBuilds(t *testing.T) {
	m, err := Parse([]byte(`
mc: 1.19.2
build_types:
  admin: {}
  combo: {}
mods:
  - name: adminmod
    in_builds: [admin]
  - name: nocombomod
    not_in_builds: [combo]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	admin, combo := m.BuildTypes["admin"], m.BuildTypes["combo"]
	if len(m.BuildTypeMods(admin)) != 2 {
		t.Errorf("admin mods = %v", m.BuildTypeMods(admin))
	}
	comboMods := m.BuildTypeMods(combo)
	if len(comboMods) != 0 {
		t.Errorf("combo mods = %v", comboMods)
	}
}

func TestParseRejectsDuplicateMods(t *testing.T) {
	_, err := Parse([]byte(`
mc: 1.19.2
build_types: {sp: {}}
mods: [jei, jei]
`))
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestParseRejectsConflictingPatchSpec(t *testing.T) {
	_, err := Parse([]byte(`
mc: 1.19.2
build_types: {sp: {}}
mods:
  - name: jei
    conf:
      - "*.yml"
      - jei.yml:
          general.flag: true
`))
	if !errors.Is(err, apperr.ErrConflictingPatch) {
		t.Fatalf("err = %v, want ErrConflictingPatch", err)
	}
}

func TestConfForMergesScopes(t *testing.T) {
	m, err := Parse([]byte(`
mc: 1.19.2
build_types:
  client: {side: client}
  server: {side: server}
mods:
  - name: jei
    conf:
      jei.yml:
        general.flag: false
    client_conf:
      jei.yml:
        general.flag: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	jei := m.Mod("jei")
	clientSpec := jei.ConfFor(m.BuildTypes["client"])
	if len(clientSpec.Files) != 1 || clientSpec.Files[0].Edits[0].Value != true {
		t.Errorf("client spec = %+v", clientSpec.Files)
	}
	serverSpec := jei.ConfFor(m.BuildTypes["server"])
	if serverSpec.Files[0].Edits[0].Value != false {
		t.Errorf("server spec = %+v", serverSpec.Files)
	}
}
