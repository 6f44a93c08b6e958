package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/HyServers/hyservers-web/internal/metrics"
	"github.com/HyServers/hyservers-web/internal/search"
)

// Search defaults.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	DefaultSortBy  = "playerCount"
)

// QueryBy lists the fields free text is matched against.
var QueryBy = []string{"name", "description", "tags"}

// FacetFields are counted on every search.
var FacetFields = []string{"gamemode", "tags", "language", "region", "online"}

var allowedSorts = map[string]bool{
	"playerCount": true,
	"name":        true,
	"createdAt":   true,
}

// Filters narrows a search. Zero values are ignored; Tags matches servers
// carrying any of the listed tags.
type Filters struct {
	Online   *bool
	Gamemode string
	Tags     []string
	Language string
	Region   string
}

// SearchRequest is a directory search as issued by the public surface.
type SearchRequest struct {
	Query     string
	Page      int
	PerPage   int
	Filters   Filters
	SortBy    string
	SortOrder string
}

// FacetCount is one facet bucket.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// SearchResult is the translated engine response.
type SearchResult struct {
	Documents  []Projection            `json:"servers"`
	Facets     map[string][]FacetCount `json:"facets"`
	TotalFound int                     `json:"totalFound"`
	Page       int                     `json:"page"`
	PerPage    int                     `json:"perPage"`
	TotalPages int                     `json:"totalPages"`
	// Unavailable is set when the engine could not answer.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Translator runs directory searches against the engine.
type Translator struct {
	engine  search.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranslator returns a Translator. A zero timeout disables the
// per-request deadline.
func NewTranslator(engine search.Engine, timeout time.Duration, logger *slog.Logger) *Translator {
	return &Translator{engine: engine, timeout: timeout, logger: logger}
}

// Normalize fills defaults and clamps paging and sort.
func (req SearchRequest) Normalize() SearchRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = DefaultPerPage
	}
	if req.PerPage > MaxPerPage {
		req.PerPage = MaxPerPage
	}
	if !allowedSorts[req.SortBy] {
		req.SortBy = DefaultSortBy
	}
	if req.SortOrder != "asc" {
		req.SortOrder = "desc"
	}
	return req
}

// BuildQuery maps req onto an engine query. req should be normalized.
func BuildQuery(req SearchRequest) search.Query {
	q := req.Query
	if q == "" {
		q = "*"
	}
	var conds []search.Condition
	f := req.Filters
	if f.Online != nil {
		conds = append(conds, search.Condition{Field: "online", Values: []any{*f.Online}})
	}
	if f.Gamemode != "" {
		conds = append(conds, search.Condition{Field: "gamemode", Values: []any{f.Gamemode}})
	}
	if len(f.Tags) > 0 {
		vals := make([]any, len(f.Tags))
		for i, t := range f.Tags {
			vals[i] = t
		}
		conds = append(conds, search.Condition{Field: "tags", Values: vals})
	}
	if f.Language != "" {
		conds = append(conds, search.Condition{Field: "language", Values: []any{f.Language}})
	}
	if f.Region != "" {
		conds = append(conds, search.Condition{Field: "region", Values: []any{f.Region}})
	}
	return search.Query{
		Q:       q,
		QueryBy: QueryBy,
		Filters: conds,
		SortBy:  []search.SortField{{Field: req.SortBy, Desc: req.SortOrder == "desc"}},
		Page:    req.Page,
		PerPage: req.PerPage,
		FacetBy: FacetFields,
	}
}

// Search runs req. It never fails: when the engine errors or times out the
// result is empty with Unavailable set.
func (t *Translator) Search(ctx context.Context, req SearchRequest) SearchResult {
	req = req.Normalize()
	q := BuildQuery(req)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := t.engine.Search(ctx, Collection, q)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchesTotal.WithLabelValues(metrics.ResultDegraded).Inc()
		t.logger.Warn("index: search failed",
			slog.String("q", q.Q),
			slog.String("filter_by", q.FilterBy()),
			slog.String("error", err.Error()))
		return degraded(req)
	}

	docs := make([]Projection, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		var p Projection
		if err := json.Unmarshal(hit, &p); err != nil {
			t.logger.Warn("index: skip undecodable hit", slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, p)
	}
	facets := make(map[string][]FacetCount, len(resp.Facets))
	for _, fc := range resp.Facets {
		counts := make([]FacetCount, len(fc.Counts))
		for i, c := range fc.Counts {
			counts[i] = FacetCount{Value: c.Value, Count: c.Count}
		}
		facets[fc.Field] = counts
	}

	metrics.SearchesTotal.WithLabelValues(metrics.ResultOK).Inc()
	return SearchResult{
		Documents:  docs,
		Facets:     facets,
		TotalFound: resp.Found,
		Page:       req.Page,
		PerPage:    req.PerPage,
		TotalPages: TotalPages(resp.Found, req.PerPage),
	}
}

// TotalPages returns ceil(found / perPage).
func TotalPages(found, perPage int) int {
	if perPage <= 0 || found <= 0 {
		return 0
	}
	return (found + perPage - 1) / perPage
}

func degraded(req SearchRequest) SearchResult {
	return SearchResult{
		Documents:   []Projection{},
		Facets:      map[string][]FacetCount{},
		Page:        req.Page,
		PerPage:     req.PerPage,
		Unavailable: true,
	}
}
