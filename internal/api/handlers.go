package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/serverservice"
	"github.com/HyServers/hyservers-web/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds the server directory route handlers.
type Handler struct {
	svc    *serverservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *serverservice.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func parseBool(s string) *bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseTagsParam(values []string) []string {
	return models.ParseTags(strings.Join(values, ","))
}

// parseTime accepts RFC 3339 or Unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func setETag(w http.ResponseWriter, etag string) {
	if etag != "" {
		w.Header().Set("ETag", `"`+etag+`"`)
	}
}

// ifMatch returns the entity tag from If-Match without quotes or weak prefix.
func ifMatch(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "*" {
		return ""
	}
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

type searchResponse struct {
	index.SearchResult
	Error string `json:"error,omitempty"`
}

// SearchServers handles GET /api/servers.
//
//	@Summary		Search the public server directory
//	@Tags			servers
//	@Produce		json
//	@Param			q			query		string	false	"Free text"
//	@Param			page		query		int		false	"Page, 1-based"
//	@Param			per_page	query		int		false	"Page size"
//	@Param			gamemode	query		string	false	"Gamemode filter"
//	@Param			tags		query		string	false	"Comma-separated tags, any of"
//	@Param			online		query		bool	false	"Online filter"
//	@Param			sort		query		string	false	"Sort field"	Enums(playerCount, name, createdAt)
//	@Param			order		query		string	false	"Sort order"	Enums(asc, desc)
//	@Success		200			{object}	searchResponse
//	@Router			/servers [get]
func (h *Handler) SearchServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	req := index.SearchRequest{
		Query:   strings.TrimSpace(q.Get("q")),
		Page:    page,
		PerPage: perPage,
		Filters: index.Filters{
			Online:   parseBool(q.Get("online")),
			Gamemode: strings.TrimSpace(q.Get("gamemode")),
			Tags:     parseTagsParam(q["tags"]),
			Language: strings.TrimSpace(q.Get("language")),
			Region:   strings.TrimSpace(q.Get("region")),
		},
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	res := searchResponse{SearchResult: h.svc.Search(r.Context(), req)}
	if res.Unavailable {
		res.Error = "Search service unavailable"
	}
	writeJSON(w, http.StatusOK, res)
}

// GetServer handles GET /api/servers/{id}.
//
//	@Summary		Get one server
//	@Tags			servers
//	@Produce		json
//	@Param			id	path		string	true	"Server id"
//	@Success		200	{object}	ServerResponse
//	@Failure		404	{object}	errResponse
//	@Router			/servers/{id} [get]
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "get server", err)
		return
	}
	setETag(w, res.ETag)
	writeJSON(w, http.StatusOK, newServerResponse(res))
}

// ServerStats handles GET /api/servers/{id}/stats.
//
//	@Summary		Player-count history of a server, newest first
//	@Tags			servers
//	@Produce		json
//	@Param			id		path		string	true	"Server id"
//	@Param			from	query		string	false	"RFC 3339 or Unix ms, inclusive"
//	@Param			to		query		string	false	"RFC 3339 or Unix ms, inclusive"
//	@Param			limit	query		int		false	"Max snapshots"
//	@Success		200		{object}	map[string][]models.StatsSnapshot
//	@Router			/servers/{id}/stats [get]
func (h *Handler) ServerStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "id"), store.StatsQuery{From: from, To: to, Limit: limit})
	if err != nil {
		writeServiceError(w, h.logger, "server stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// Overview handles GET /api/admin/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.svc.Overview(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "overview", err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// ListServers handles GET /api/admin/servers.
//
//	@Summary		List servers from the record store
//	@Tags			admin
//	@Produce		json
//	@Param			online	query		bool	false	"Online filter"
//	@Param			tags	query		string	false	"Comma-separated tags, all of"
//	@Param			search	query		string	false	"Name or description substring"
//	@Param			sort	query		string	false	"Sort field"	Enums(playerCount, name, createdAt, uptime)
//	@Param			order	query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			skip	query		int		false	"Offset"
//	@Param			limit	query		int		false	"Page size"
//	@Success		200		{object}	ServerListResponse
//	@Router			/admin/servers [get]
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	servers, err := h.svc.List(r.Context(), store.ListOptions{
		Online:  parseBool(q.Get("online")),
		Tags:    parseTagsParam(q["tags"]),
		Search:  strings.TrimSpace(q.Get("search")),
		SortBy:  q.Get("sort"),
		SortAsc: q.Get("order") == "asc",
		Skip:    skip,
		Limit:   limit,
	})
	if err != nil {
		writeServiceError(w, h.logger, "list servers", err)
		return
	}
	writeJSON(w, http.StatusOK, ServerListResponse{Servers: servers})
}

// CreateServer handles POST /api/admin/servers.
//
//	@Summary		Add a server
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateServerRequest	true	"Server to add"
//	@Success		201		{object}	ServerResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/admin/servers [post]
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req CreateServerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Add(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, h.logger, "create server", err)
		return
	}
	setETag(w, res.ETag)
	w.Header().Set("Location", "/api/servers/"+res.Server.ID)
	writeJSON(w, http.StatusCreated, newServerResponse(res))
}

// UpdateServer handles PATCH /api/admin/servers/{id}.
//
//	@Summary		Partially update a server
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Server id"
//	@Param			If-Match	header		string				false	"ETag from a previous read"
//	@Param			body		body		UpdateServerRequest	true	"Fields to change"
//	@Success		200			{object}	ServerResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/admin/servers/{id} [patch]
func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var req UpdateServerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Edit(r.Context(), chi.URLParam(r, "id"), req.patch(), ifMatch(r))
	if err != nil {
		writeServiceError(w, h.logger, "update server", err)
		return
	}
	setETag(w, res.ETag)
	writeJSON(w, http.StatusOK, newServerResponse(res))
}

// DeleteServer handles DELETE /api/admin/servers/{id}.
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "delete server", err)
		return
	}
	out := DeleteResponse{ID: res.Server.ID}
	if res.IndexErr != nil {
		out.IndexWarning = indexWarning
	}
	writeJSON(w, http.StatusOK, out)
}

// RecordStats handles POST /api/admin/servers/{id}/stats.
func (h *Handler) RecordStats(w http.ResponseWriter, r *http.Request) {
	var req StatsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	snap := models.StatsSnapshot{
		ServerID:    chi.URLParam(r, "id"),
		PlayerCount: req.PlayerCount,
		Online:      req.Online,
		Latency:     req.Latency,
	}
	if req.Timestamp != nil {
		snap.Timestamp = *req.Timestamp
	}
	if err := h.svc.RecordStats(r.Context(), snap); err != nil {
		writeServiceError(w, h.logger, "record stats", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebuildIndex handles POST /api/admin/index/rebuild.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RebuildIndex(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "rebuild index", err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{Documents: n})
}
