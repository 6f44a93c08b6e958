// Package store is the authoritative record store for servers and their
// stats history, backed by SQLite.
package store

import (
	"context"
	"time"

	"github.com/HyServers/hyservers-web/internal/models"
)

// Sort fields accepted by FindAll.
const (
	SortPlayerCount = "playerCount"
	SortName        = "name"
	SortCreatedAt   = "createdAt"
	SortUptime      = "uptime"
)

// Defaults applied when list options leave them unset.
const (
	DefaultListLimit  = 50
	DefaultStatsLimit = 100
)

// ListOptions filters, sorts and paginates FindAll.
type ListOptions struct {
	Online *bool
	// Tags requires every listed tag to be present on the server.
	Tags []string
	// Search is a case-insensitive substring matched against name or description.
	Search  string
	SortBy  string
	SortAsc bool
	Skip    int
	Limit   int
}

// CountFilter narrows Count. A nil Online counts every server.
type CountFilter struct {
	Online *bool
}

// StatsQuery bounds a stats history lookup. Zero times leave that side open.
type StatsQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Repository defines the record store operations.
// Consumers depend on this interface so tests can substitute fakes.
type Repository interface {
	FindAll(ctx context.Context, opts ListOptions) ([]models.Server, error)
	FindByID(ctx context.Context, id string) (*models.Server, error)
	FindByAddress(ctx context.Context, address string, port int) (*models.Server, error)
	Create(ctx context.Context, s *models.Server) error
	Update(ctx context.Context, id string, patch models.ServerPatch) (*models.Server, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, f CountFilter) (int, error)
	Each(ctx context.Context, fn func(*models.Server) error) error
	AppendStats(ctx context.Context, snap models.StatsSnapshot) error
	QueryStats(ctx context.Context, serverID string, q StatsQuery) ([]models.StatsSnapshot, error)
	Close() error
}

// Verify *SQLite satisfies Repository at compile time.
var _ Repository = (*SQLite)(nil)
