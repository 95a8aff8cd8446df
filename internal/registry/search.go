package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/tvaino/pakkeri/internal/mc"
)

// SearchRequest narrows a registry search.
type SearchRequest struct {
	Query       string
	Type        mc.ModType
	Loader      mc.Loader // only meaningful for mods
	GameVersion string    // exact game version facet, empty for any
	Limit       int
}

// SearchResult is one hit of a registry search.
type SearchResult struct {
	Slug        string
	Title       string
	Description string
	Downloads   int
	Updated     time.Time
}

type mrSearchHit struct {
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Downloads    int       `json:"downloads"`
	DateModified time.Time `json:"date_modified"`
}

type mrSearchPage struct {
	Hits      []mrSearchHit `json:"hits"`
	TotalHits int           `json:"total_hits"`
}

const searchPageSize = 20

// Search queries the registry, paginating until limit hits are
// collected or the result set is exhausted. Returns hits and the total
// number of matches.
func (m *Modrinth) Search(ctx context.Context, req SearchRequest) ([]SearchResult, int, error) {
	if req.Limit <= 0 {
		req.Limit = searchPageSize
	}
	facets := [][]string{{"project_type:" + string(req.Type)}}
	if req.Type == mc.TypeMod && req.Loader != "" {
		facets = append(facets, []string{"categories:" + string(req.Loader)})
	}
	if req.GameVersion != "" {
		facets = append(facets, []string{"versions:" + req.GameVersion})
	}
	facetJSON, err := json.Marshal(facets)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: encode facets: %w", err)
	}

	var results []SearchResult
	total := 0
	for offset := 0; ; offset += searchPageSize {
		limit := req.Limit - offset
		if limit > searchPageSize {
			limit = searchPageSize
		}
		q := url.Values{}
		q.Set("query", req.Query)
		q.Set("facets", string(facetJSON))
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))
		var page mrSearchPage
		if err := m.getJSON(ctx, "/v2/search?"+q.Encode(), &page); err != nil {
			return nil, 0, m.lookupErr(req.Query, err)
		}
		total = page.TotalHits
		for _, hit := range page.Hits {
			results = append(results, SearchResult{
				Slug:        hit.Slug,
				Title:       hit.Title,
				Description: hit.Description,
				Downloads:   hit.Downloads,
				Updated:     hit.DateModified,
			})
		}
		if len(results) >= req.Limit || offset+searchPageSize >= total {
			return results, total, nil
		}
	}
}
