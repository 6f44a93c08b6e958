// Package index keeps the search engine's servers collection in step with the
// record store and translates directory searches into engine queries.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/metrics"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/search"
)

// Collection is the engine collection holding server projections.
const Collection = "servers"

// ServersSchema is the fixed schema of the servers collection.
var ServersSchema = search.Schema{
	Name: Collection,
	Fields: []search.Field{
		{Name: "name", Type: search.TypeString},
		{Name: "address", Type: search.TypeString},
		{Name: "port", Type: search.TypeInt32},
		{Name: "version", Type: search.TypeString, Optional: true},
		{Name: "description", Type: search.TypeString},
		{Name: "playerCount", Type: search.TypeInt32},
		{Name: "maxPlayers", Type: search.TypeInt32},
		{Name: "gamemode", Type: search.TypeString, Optional: true, Facet: true},
		{Name: "tags", Type: search.TypeStringArray, Facet: true},
		{Name: "language", Type: search.TypeString, Optional: true, Facet: true},
		{Name: "region", Type: search.TypeString, Optional: true, Facet: true},
		{Name: "online", Type: search.TypeBool, Facet: true},
		{Name: "uptime", Type: search.TypeInt32, Optional: true},
		{Name: "claimed", Type: search.TypeBool, Facet: true},
		{Name: "iconUrl", Type: search.TypeString, Optional: true},
		{Name: "createdAt", Type: search.TypeInt64},
		{Name: "updatedAt", Type: search.TypeInt64},
	},
	DefaultSortingField: "playerCount",
}

// Projection is the searchable subset of a server. Dates are epoch
// milliseconds.
type Projection struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Port        int      `json:"port"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description"`
	PlayerCount int      `json:"playerCount"`
	MaxPlayers  int      `json:"maxPlayers"`
	Gamemode    string   `json:"gamemode,omitempty"`
	Tags        []string `json:"tags"`
	Language    string   `json:"language,omitempty"`
	Region      string   `json:"region,omitempty"`
	Online      bool     `json:"online"`
	Uptime      *int     `json:"uptime,omitempty"`
	Claimed     bool     `json:"claimed"`
	IconURL     string   `json:"iconUrl,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// Project derives the projection document from s.
func Project(s *models.Server) Projection {
	tags := append([]string{}, s.Tags...)
	var uptime *int
	if s.Uptime != nil {
		v := *s.Uptime
		uptime = &v
	}
	return Projection{
		ID:          s.ID,
		Name:        s.Name,
		Address:     s.Address,
		Port:        s.Port,
		Version:     s.Version,
		Description: s.Description,
		PlayerCount: s.PlayerCount,
		MaxPlayers:  s.MaxPlayers,
		Gamemode:    s.Gamemode,
		Tags:        tags,
		Language:    s.Language,
		Region:      s.Region,
		Online:      s.Online,
		Uptime:      uptime,
		Claimed:     s.Claimed,
		IconURL:     s.IconURL,
		CreatedAt:   s.CreatedAt.UnixMilli(),
		UpdatedAt:   s.UpdatedAt.UnixMilli(),
	}
}

// Projector writes single projections to the engine.
type Projector struct {
	engine search.Engine
	logger *slog.Logger
}

// NewProjector returns a Projector writing to engine.
func NewProjector(engine search.Engine, logger *slog.Logger) *Projector {
	return &Projector{engine: engine, logger: logger}
}

// EnsureCollection creates the servers collection if it does not exist.
func (p *Projector) EnsureCollection(ctx context.Context) error {
	err := p.engine.CreateCollection(ctx, ServersSchema)
	if err != nil && !errors.Is(err, search.ErrCollectionExists) {
		return err
	}
	return nil
}

// Upsert fully replaces the document for doc.ID. A missing collection is
// recreated and the write retried once.
func (p *Projector) Upsert(ctx context.Context, doc Projection) error {
	err := p.engine.Upsert(ctx, Collection, doc)
	if errors.Is(err, search.ErrCollectionNotFound) {
		metrics.IndexSchemaRecoveriesTotal.Inc()
		p.logger.Info("index: collection missing, recreating", slog.String("id", doc.ID))
		if cerr := p.EnsureCollection(ctx); cerr != nil {
			metrics.IndexWritesTotal.WithLabelValues("upsert", metrics.ResultError).Inc()
			return fmt.Errorf("%w: %w: create collection: %w", apperr.ErrIndexUnavailable, apperr.ErrSchemaMissing, cerr)
		}
		err = p.engine.Upsert(ctx, Collection, doc)
		if errors.Is(err, search.ErrCollectionNotFound) {
			metrics.IndexWritesTotal.WithLabelValues("upsert", metrics.ResultError).Inc()
			return fmt.Errorf("%w: %w: upsert %s: %w", apperr.ErrIndexUnavailable, apperr.ErrSchemaMissing, doc.ID, err)
		}
	}
	if err != nil {
		metrics.IndexWritesTotal.WithLabelValues("upsert", metrics.ResultError).Inc()
		return fmt.Errorf("%w: upsert %s: %w", apperr.ErrIndexUnavailable, doc.ID, err)
	}
	metrics.IndexWritesTotal.WithLabelValues("upsert", metrics.ResultOK).Inc()
	return nil
}

// Remove deletes the document for id. A document or collection that is
// already gone counts as success.
func (p *Projector) Remove(ctx context.Context, id string) error {
	err := p.engine.Delete(ctx, Collection, id)
	if err != nil && !errors.Is(err, search.ErrDocumentNotFound) && !errors.Is(err, search.ErrCollectionNotFound) {
		metrics.IndexWritesTotal.WithLabelValues("delete", metrics.ResultError).Inc()
		return fmt.Errorf("%w: delete %s: %w", apperr.ErrIndexUnavailable, id, err)
	}
	metrics.IndexWritesTotal.WithLabelValues("delete", metrics.ResultOK).Inc()
	return nil
}
