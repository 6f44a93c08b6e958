// Package serverservice coordinates the record store and the search index
// for administrative mutations and public reads.
package serverservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/checksum"
	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/metrics"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/store"
)

// Event kinds passed to the Notifier.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// AdminListLimit is the page size of the admin table when none is given.
const AdminListLimit = 100

// Projector writes single projections to the search index.
type Projector interface {
	Upsert(ctx context.Context, doc index.Projection) error
	Remove(ctx context.Context, id string) error
}

// Rebuilder re-derives the whole index.
type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Searcher answers public searches.
type Searcher interface {
	Search(ctx context.Context, req index.SearchRequest) index.SearchResult
}

// Notifier receives change notifications after a successful store write.
type Notifier interface {
	PublishServerEvent(kind, id string)
	PublishIndexRebuilt(count int)
}

type nopNotifier struct{}

func (nopNotifier) PublishServerEvent(string, string) {}
func (nopNotifier) PublishIndexRebuilt(int)           {}

// CreateInput is a new server submission. Nil Port and MaxPlayers take the
// directory defaults.
type CreateInput struct {
	Name            string
	Address         string
	Port            *int
	Version         string
	Description     string
	LongDescription string
	MaxPlayers      *int
	MOTD            string
	IconURL         string
	BannerURL       string
	Gamemode        string
	Tags            []string
	Language        string
	Region          string
	Website         string
	Discord         string
}

// Result is the outcome of a mutation. The store write always stands; a
// non-nil IndexErr reports that the search index could not follow.
type Result struct {
	Server   *models.Server
	ETag     string
	IndexErr error
}

// Overview summarizes the directory for the admin dashboard.
type Overview struct {
	Total  int `json:"total"`
	Online int `json:"online"`
}

// Service implements the directory operations.
type Service struct {
	repo      store.Repository
	projector Projector
	rebuilder Rebuilder
	searcher  Searcher
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New creates a Service.
func New(repo store.Repository, projector Projector, rebuilder Rebuilder, searcher Searcher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		projector: projector,
		rebuilder: rebuilder,
		searcher:  searcher,
		notifier:  nopNotifier{},
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetNotifier installs n to receive change events.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// ETag returns the entity tag of a server record.
func ETag(srv *models.Server) string {
	return checksum.Of(srv)
}

// Add validates in, rejects a duplicate address/port, stores the new record
// and projects it.
func (s *Service) Add(ctx context.Context, in CreateInput) (*Result, error) {
	now := s.now().UTC()
	srv := &models.Server{
		ID:              s.newID(),
		Name:            strings.TrimSpace(in.Name),
		Address:         strings.ToLower(strings.TrimSpace(in.Address)),
		Port:            models.DefaultPort,
		Version:         strings.TrimSpace(in.Version),
		Description:     strings.TrimSpace(in.Description),
		LongDescription: in.LongDescription,
		MaxPlayers:      models.DefaultMaxPlayers,
		MOTD:            in.MOTD,
		IconURL:         strings.TrimSpace(in.IconURL),
		BannerURL:       strings.TrimSpace(in.BannerURL),
		Gamemode:        strings.TrimSpace(in.Gamemode),
		Tags:            models.NormalizeTags(in.Tags),
		Language:        strings.TrimSpace(in.Language),
		Region:          strings.TrimSpace(in.Region),
		Website:         strings.TrimSpace(in.Website),
		Discord:         strings.TrimSpace(in.Discord),
		CreatedAt:       now,
		LastSeenAt:      now,
		UpdatedAt:       now,
	}
	if in.Port != nil {
		srv.Port = *in.Port
	}
	if in.MaxPlayers != nil {
		srv.MaxPlayers = *in.MaxPlayers
	}
	if err := validateServer(srv); err != nil {
		return nil, err
	}

	if err := s.ensureAddressFree(ctx, srv.Address, srv.Port, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, srv); err != nil {
		metrics.ServerOperationsTotal.WithLabelValues("create", "error").Inc()
		if errors.Is(err, apperr.ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("serverservice: create: %w", err)
	}
	metrics.ServerOperationsTotal.WithLabelValues("create", "ok").Inc()
	s.logger.Info("server created", slog.String("id", srv.ID), slog.String("address", srv.Address))

	res := &Result{Server: srv, ETag: ETag(srv)}
	res.IndexErr = s.project(ctx, "create", srv)
	s.notifier.PublishServerEvent(EventCreated, srv.ID)
	return res, nil
}

// Edit applies patch to the server with the given id. A non-empty ifMatch
// must equal the current ETag.
func (s *Service) Edit(ctx context.Context, id string, patch models.ServerPatch, ifMatch string) (*Result, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != ETag(current) {
		return nil, apperr.ErrConflict
	}

	normalizePatch(&patch)
	merged := *current
	merged.Tags = append([]string{}, current.Tags...)
	patch.Apply(&merged)
	if err := validateServer(&merged); err != nil {
		return nil, err
	}
	if merged.Address != current.Address || merged.Port != current.Port {
		if err := s.ensureAddressFree(ctx, merged.Address, merged.Port, id); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		metrics.ServerOperationsTotal.WithLabelValues("update", "error").Inc()
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("serverservice: update: %w", err)
	}
	metrics.ServerOperationsTotal.WithLabelValues("update", "ok").Inc()
	s.logger.Info("server updated", slog.String("id", id))

	res := &Result{Server: updated, ETag: ETag(updated)}
	res.IndexErr = s.project(ctx, "update", updated)
	s.notifier.PublishServerEvent(EventUpdated, id)
	return res, nil
}

// Delete removes the record, then its projection on a best-effort basis.
func (s *Service) Delete(ctx context.Context, id string) (*Result, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		metrics.ServerOperationsTotal.WithLabelValues("delete", "error").Inc()
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("serverservice: delete: %w", err)
	}
	metrics.ServerOperationsTotal.WithLabelValues("delete", "ok").Inc()
	s.logger.Info("server deleted", slog.String("id", id))

	res := &Result{Server: current}
	if err := s.projector.Remove(ctx, id); err != nil {
		s.logger.Warn("index: delete failed, record removed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		res.IndexErr = err
	}
	s.notifier.PublishServerEvent(EventDeleted, id)
	return res, nil
}

// RebuildIndex re-derives the search index from the store.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	n, err := s.rebuilder.Rebuild(ctx)
	if err != nil {
		return n, err
	}
	s.notifier.PublishIndexRebuilt(n)
	return n, nil
}

// Get returns one server.
func (s *Service) Get(ctx context.Context, id string) (*Result, error) {
	srv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Server: srv, ETag: ETag(srv)}, nil
}

// List returns servers for the admin table.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]models.Server, error) {
	if opts.Limit <= 0 {
		opts.Limit = AdminListLimit
	}
	return s.repo.FindAll(ctx, opts)
}

// Overview returns total and online counts.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	total, err := s.repo.Count(ctx, store.CountFilter{})
	if err != nil {
		return nil, err
	}
	on := true
	online, err := s.repo.Count(ctx, store.CountFilter{Online: &on})
	if err != nil {
		return nil, err
	}
	return &Overview{Total: total, Online: online}, nil
}

// Search runs a public search. It never touches the record store.
func (s *Service) Search(ctx context.Context, req index.SearchRequest) index.SearchResult {
	return s.searcher.Search(ctx, req)
}

// RecordStats appends a monitoring snapshot for an existing server.
func (s *Service) RecordStats(ctx context.Context, snap models.StatsSnapshot) error {
	if _, err := s.repo.FindByID(ctx, snap.ServerID); err != nil {
		return err
	}
	err := validation.ValidateStruct(&snap,
		validation.Field(&snap.PlayerCount, validation.Min(0)),
		validation.Field(&snap.Latency, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}
	return s.repo.AppendStats(ctx, snap)
}

// Stats returns the stats history of a server, newest first.
func (s *Service) Stats(ctx context.Context, id string, q store.StatsQuery) ([]models.StatsSnapshot, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.QueryStats(ctx, id, q)
}

func (s *Service) ensureAddressFree(ctx context.Context, address string, port int, selfID string) error {
	existing, err := s.repo.FindByAddress(ctx, address, port)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("serverservice: check address: %w", err)
	case existing.ID != selfID:
		return apperr.ErrDuplicateKey
	}
	return nil
}

func (s *Service) project(ctx context.Context, op string, srv *models.Server) error {
	err := s.projector.Upsert(ctx, index.Project(srv))
	if err != nil {
		s.logger.Warn("index: projection failed, record kept",
			slog.String("op", op),
			slog.String("id", srv.ID),
			slog.String("error", err.Error()))
	}
	return err
}

func normalizePatch(p *models.ServerPatch) {
	for _, f := range []**string{&p.Name, &p.Version, &p.Description, &p.IconURL, &p.BannerURL,
		&p.Gamemode, &p.Language, &p.Region, &p.Website, &p.Discord} {
		if *f != nil {
			t := strings.TrimSpace(**f)
			*f = &t
		}
	}
	if p.Address != nil {
		a := strings.ToLower(strings.TrimSpace(*p.Address))
		p.Address = &a
	}
	if p.Tags != nil {
		tags := models.NormalizeTags(*p.Tags)
		p.Tags = &tags
	}
}
