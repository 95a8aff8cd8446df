package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/tvaino/pakkeri/internal/apperr"
	"github.com/tvaino/pakkeri/internal/mc"
)

const (
	modrinthBaseURL   = "https://api.modrinth.com"
	modrinthUserAgent = "pakkeri/0.1"
)

// Modrinth is the registry Lookup and Downloader backed by the Modrinth
// v2 HTTP API. Identical in-flight requests are de-duplicated and
// responses are memoized for the lifetime of the client, so a single
// build hits each endpoint at most once.
type Modrinth struct {
	baseURL   string
	userAgent string
	client    *http.Client
	group     singleflight.Group

	mu       sync.Mutex
	projects map[string]*Project
	versions map[string][]Version
}

var _ Lookup = (*Modrinth)(nil)
var _ Downloader = (*Modrinth)(nil)

// NewModrinth creates a client for the given API base URL; empty means
// the public Modrinth API.
func NewModrinth(baseURL string) *Modrinth {
	if baseURL == "" {
		baseURL = modrinthBaseURL
	}
	return &Modrinth{
		baseURL:   baseURL,
		userAgent: modrinthUserAgent,
		client:    &http.Client{Timeout: 60 * time.Second},
		projects:  make(map[string]*Project),
		versions:  make(map[string][]Version),
	}
}

type mrProject struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ClientSide  string `json:"client_side"`
	ServerSide  string `json:"server_side"`
}

type mrFile struct {
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Size     int64             `json:"size"`
	Primary  bool              `json:"primary"`
	Hashes   map[string]string `json:"hashes"`
}

type mrDependency struct {
	ProjectID      string `json:"project_id"`
	VersionID      string `json:"version_id"`
	DependencyType string `json:"dependency_type"`
}

type mrVersion struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	VersionNumber string         `json:"version_number"`
	VersionType   string         `json:"version_type"`
	Loaders       []string       `json:"loaders"`
	GameVersions  []string       `json:"game_versions"`
	DatePublished time.Time      `json:"date_published"`
	Files         []mrFile       `json:"files"`
	Dependencies  []mrDependency `json:"dependencies"`
}

// Project implements Lookup. Accepts a slug or a registry id.
func (m *Modrinth) Project(ctx context.Context, slug string) (*Project, error) {
	m.mu.Lock()
	if p, ok := m.projects[slug]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	var raw mrProject
	if err := m.getJSON(ctx, "/v2/project/"+url.PathEscape(slug), &raw); err != nil {
		return nil, m.lookupErr(slug, err)
	}
	p := &Project{
		ID:          raw.ID,
		Slug:        raw.Slug,
		Title:       raw.Title,
		Description: raw.Description,
		ClientSide:  mc.SideSupport(raw.ClientSide),
		ServerSide:  mc.SideSupport(raw.ServerSide),
	}
	m.mu.Lock()
	// Memoize under both spellings so id-based dependency edges hit.
	m.projects[p.Slug] = p
	m.projects[p.ID] = p
	m.mu.Unlock()
	return p, nil
}

// Versions implements Lookup; the API returns newest first and that
// order is preserved.
func (m *Modrinth) Versions(ctx context.Context, slug string) ([]Version, error) {
	m.mu.Lock()
	if vs, ok := m.versions[slug]; ok {
		m.mu.Unlock()
		return vs, nil
	}
	m.mu.Unlock()

	var raw []mrVersion
	if err := m.getJSON(ctx, "/v2/project/"+url.PathEscape(slug)+"/version", &raw); err != nil {
		return nil, m.lookupErr(slug, err)
	}
	versions := make([]Version, 0, len(raw))
	for _, rv := range raw {
		v, err := m.parseVersion(ctx, rv)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	m.mu.Lock()
	m.versions[slug] = versions
	m.mu.Unlock()
	return versions, nil
}

// Dependencies implements Lookup by locating the version in the cached
// listing; edges were already parsed alongside it.
func (m *Modrinth) Dependencies(ctx context.Context, slug, version string) ([]DependencyEdge, error) {
	versions, err := m.Versions(ctx, slug)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].Number == version || versions[i].ID == version {
			return versions[i].Dependencies, nil
		}
	}
	return nil, &apperr.UnknownModError{Name: slug + "@" + version}
}

func (m *Modrinth) parseVersion(ctx context.Context, rv mrVersion) (Version, error) {
	v := Version{
		ID:        rv.ID,
		Number:    rv.VersionNumber,
		Channel:   rv.VersionType,
		Published: rv.DatePublished,
	}
	for _, l := range rv.Loaders {
		if loader, err := mc.ParseLoader(l); err == nil {
			v.Loaders = append(v.Loaders, loader)
		}
	}
	for _, gv := range rv.GameVersions {
		// Snapshot spellings like 23w31a are skipped; matching is done
		// against release versions only.
		if ver, err := mc.ParseVersion(gv); err == nil {
			v.GameVersions = append(v.GameVersions, ver)
		}
	}
	file := pickPrimary(rv.Files)
	if file != nil {
		v.File = VersionFile{Filename: file.Filename, URL: file.URL, Size: file.Size}
		if hex, ok := file.Hashes["sha512"]; ok {
			v.File.Checksum = digest.NewDigestFromEncoded(digest.SHA512, hex)
		} else if hex, ok := file.Hashes["sha256"]; ok {
			v.File.Checksum = digest.NewDigestFromEncoded(digest.SHA256, hex)
		}
	}
	for _, dep := range rv.Dependencies {
		edge, ok, err := m.parseDependency(ctx, rv, dep)
		if err != nil {
			return Version{}, err
		}
		if ok {
			v.Dependencies = append(v.Dependencies, edge)
		}
	}
	return v, nil
}

func pickPrimary(files []mrFile) *mrFile {
	for i := range files {
		if files[i].Primary {
			return &files[i]
		}
	}
	if len(files) > 0 {
		return &files[0]
	}
	return nil
}

// parseDependency maps a raw dependency onto an edge keyed by slug. A
// version_id pin becomes an exact semver constraint when the pinned
// version number parses; otherwise the raw spelling is kept for the
// error message and the constraint stays open.
func (m *Modrinth) parseDependency(ctx context.Context, rv mrVersion, dep mrDependency) (DependencyEdge, bool, error) {
	if dep.ProjectID == "" && dep.VersionID == "" {
		return DependencyEdge{}, false, nil
	}
	projectID := dep.ProjectID
	if projectID == "" {
		pinned, err := m.version(ctx, dep.VersionID)
		if err != nil {
			return DependencyEdge{}, false, err
		}
		projectID = pinned.ProjectID
	}
	project, err := m.Project(ctx, projectID)
	if err != nil {
		return DependencyEdge{}, false, err
	}
	edge := DependencyEdge{
		From:     rv.ProjectID,
		To:       project.Slug,
		Required: dep.DependencyType == "required",
	}
	if dep.VersionID != "" {
		pinned, err := m.version(ctx, dep.VersionID)
		if err != nil {
			return DependencyEdge{}, false, err
		}
		edge.RawConstraint = pinned.VersionNumber
		if c, err := semver.NewConstraint("=" + pinned.VersionNumber); err == nil {
			edge.Constraint = c
		}
	}
	return edge, true, nil
}

func (m *Modrinth) version(ctx context.Context, id string) (*mrVersion, error) {
	var raw mrVersion
	if err := m.getJSON(ctx, "/v2/version/"+url.PathEscape(id), &raw); err != nil {
		return nil, m.lookupErr(id, err)
	}
	return &raw, nil
}

// Download implements Downloader with a plain GET of the artifact URL.
func (m *Modrinth) Download(ctx context.Context, name, version, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, &apperr.LookupError{Source: "modrinth", Name: name, Err: err}
	}
	req.Header.Set("User-Agent", m.userAgent)
	res, err := m.client.Do(req)
	if err != nil {
		return nil, &apperr.LookupError{Source: "modrinth", Name: name, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, &apperr.LookupError{Source: "modrinth", Name: name,
			Err: fmt.Errorf("download %s@%s: status %s", name, version, res.Status)}
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &apperr.LookupError{Source: "modrinth", Name: name, Err: err}
	}
	return data, nil
}

// getJSON fetches and decodes one API path. Concurrent requests for the
// same path share a single HTTP round trip.
func (m *Modrinth) getJSON(ctx context.Context, path string, out interface{}) error {
	data, err, _ := m.group.Do(path, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", m.userAgent)
		req.Header.Set("Accept", "application/json")
		res, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		if res.StatusCode == http.StatusNotFound {
			return nil, errNotFound
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: status %s", path, res.Status)
		}
		return io.ReadAll(res.Body)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data.([]byte), out)
}

var errNotFound = fmt.Errorf("not found")

func (m *Modrinth) lookupErr(name string, err error) error {
	if err == errNotFound {
		return &apperr.UnknownModError{Name: name}
	}
	return &apperr.LookupError{Source: "modrinth", Name: name, Err: err}
}
