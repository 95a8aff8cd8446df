// Package registry defines the mod registry collaborator: lookup of
// project metadata, version listings, and dependency edges, plus the
// artifact downloader contract. The resolver and orchestrator depend
// only on the interfaces here; the Modrinth HTTP client is the
// production implementation.
package registry

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"

	"github.com/tvaino/pakkeri/internal/mc"
)

// Project is registry-level metadata for one mod.
type Project struct {
	ID          string
	Slug        string
	Title       string
	Description string
	ClientSide  mc.SideSupport
	ServerSide  mc.SideSupport
}

// Side derives the installable side set from the support declarations.
func (p *Project) Side() mc.Side { return mc.SideFromSupport(p.ClientSide, p.ServerSide) }

// VersionFile is the downloadable artifact of one version.
type VersionFile struct {
	Filename string
	URL      string
	Size     int64
	Checksum digest.Digest
}

// Version is one published version of a project.
type Version struct {
	ID           string
	Number       string
	Channel      string // release, beta, alpha
	Loaders      []mc.Loader
	GameVersions []mc.Version
	Published    time.Time
	File         VersionFile
	Dependencies []DependencyEdge
}

// Semver parses the version number leniently; nil when the number is
// not semver-shaped (some mods version freely; ordering then falls back
// to publication time).
func (v *Version) Semver() *semver.Version {
	parsed, err := semver.NewVersion(v.Number)
	if err != nil {
		return nil
	}
	return parsed
}

// SupportsLoader reports whether the version runs on the loader. A
// version with no declared loaders is loader-agnostic.
func (v *Version) SupportsLoader(loader mc.Loader) bool {
	if len(v.Loaders) == 0 {
		return true
	}
	for _, l := range v.Loaders {
		if l == loader {
			return true
		}
	}
	return false
}

// DependencyEdge is one declared dependency of a version. Consumed
// transiently during resolution; never persisted.
type DependencyEdge struct {
	From         string
	To           string // dependency project slug
	Constraint   *semver.Constraints
	RawConstraint string // original constraint spelling, for error messages
	RequiredSide mc.Side // zero means: defer to the dependency's own metadata
	Required     bool
}

// Allows reports whether the edge's constraint admits the version. A
// nil constraint admits anything; a version number the constraint
// cannot interpret is rejected.
func (e *DependencyEdge) Allows(v *Version) bool {
	if e.Constraint == nil {
		return true
	}
	sv := v.Semver()
	if sv == nil {
		return false
	}
	return e.Constraint.Check(sv)
}

// Lookup is the registry query surface consumed by the resolver.
type Lookup interface {
	// Project returns metadata for a slug (or registry id).
	Project(ctx context.Context, slug string) (*Project, error)
	// Versions returns all published versions, newest first.
	Versions(ctx context.Context, slug string) ([]Version, error)
	// Dependencies returns the declared dependency edges of one version.
	Dependencies(ctx context.Context, slug, version string) ([]DependencyEdge, error)
}

// Downloader fetches artifact bytes. Both the registry HTTP client and
// the browser-driven collaborator satisfy this.
type Downloader interface {
	Download(ctx context.Context, name, version, url string) ([]byte, error)
}
