package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/metrics"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/search"
)

// RecordSource streams every authoritative record.
type RecordSource interface {
	Each(ctx context.Context, fn func(*models.Server) error) error
}

// Rebuilder re-derives the whole servers collection from the record store.
type Rebuilder struct {
	engine    search.Engine
	source    RecordSource
	projector *Projector
	logger    *slog.Logger
}

// NewRebuilder returns a Rebuilder reading from source and writing to engine.
func NewRebuilder(engine search.Engine, source RecordSource, logger *slog.Logger) *Rebuilder {
	return &Rebuilder{
		engine:    engine,
		source:    source,
		projector: NewProjector(engine, logger),
		logger:    logger,
	}
}

// Rebuild drops and recreates the collection, then projects every record in
// store order. It returns the number of documents written. A failure
// mid-stream leaves a partial collection; running Rebuild again repairs it.
func (r *Rebuilder) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := r.rebuild(ctx)
	metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RebuildsTotal.WithLabelValues(metrics.ResultError).Inc()
		r.logger.Error("index: rebuild failed",
			slog.Int("written", n),
			slog.String("error", err.Error()))
		return n, err
	}
	metrics.RebuildsTotal.WithLabelValues(metrics.ResultOK).Inc()
	metrics.RebuildDocuments.Set(float64(n))
	r.logger.Info("index: rebuilt",
		slog.Int("documents", n),
		slog.Duration("took", time.Since(start)))
	return n, nil
}

func (r *Rebuilder) rebuild(ctx context.Context) (int, error) {
	if err := r.engine.DropCollection(ctx, Collection); err != nil && !errors.Is(err, search.ErrCollectionNotFound) {
		return 0, fmt.Errorf("%w: drop collection: %w", apperr.ErrIndexUnavailable, err)
	}
	if err := r.engine.CreateCollection(ctx, ServersSchema); err != nil {
		return 0, fmt.Errorf("%w: create collection: %w", apperr.ErrIndexUnavailable, err)
	}

	n := 0
	err := r.source.Each(ctx, func(s *models.Server) error {
		if err := r.projector.Upsert(ctx, Project(s)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("index: rebuild: %w", err)
	}
	return n, nil
}
