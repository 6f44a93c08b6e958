package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/models"
)

const serverColumns = `id, name, address, port, version, description, long_description,
	player_count, max_players, motd, icon_url, banner_url, gamemode, tags, language, region,
	online, uptime, latency, website, discord, claimed, owner_id,
	created_at, last_seen_at, updated_at`

var sortColumns = map[string]string{
	SortPlayerCount: "player_count",
	SortName:        "name",
	SortCreatedAt:   "created_at",
	SortUptime:      "uptime",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(r rowScanner) (*models.Server, error) {
	var (
		s                                models.Server
		tagsJSON                         string
		uptime, latency                  sql.NullInt64
		createdAt, lastSeenAt, updatedAt int64
	)
	err := r.Scan(
		&s.ID, &s.Name, &s.Address, &s.Port, &s.Version, &s.Description, &s.LongDescription,
		&s.PlayerCount, &s.MaxPlayers, &s.MOTD, &s.IconURL, &s.BannerURL, &s.Gamemode, &tagsJSON,
		&s.Language, &s.Region, &s.Online, &uptime, &latency, &s.Website, &s.Discord,
		&s.Claimed, &s.OwnerID, &createdAt, &lastSeenAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags for %s: %w", s.ID, err)
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	s.Uptime = nullableInt(uptime)
	s.Latency = nullableInt(latency)
	s.CreatedAt = fromMillis(createdAt)
	s.LastSeenAt = fromMillis(lastSeenAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// FindAll returns servers matching opts.
func (s *SQLite) FindAll(ctx context.Context, opts ListOptions) ([]models.Server, error) {
	var (
		where []string
		args  []any
	)
	if opts.Online != nil {
		where = append(where, "online = ?")
		args = append(args, *opts.Online)
	}
	for _, tag := range opts.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(servers.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if opts.Search != "" {
		where = append(where, "(instr(lower(name), lower(?)) > 0 OR instr(lower(description), lower(?)) > 0)")
		args = append(args, opts.Search, opts.Search)
	}

	col, ok := sortColumns[opts.SortBy]
	if !ok {
		col = sortColumns[SortPlayerCount]
	}
	dir := "DESC"
	if opts.SortAsc {
		dir = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	skip := opts.Skip
	if skip < 0 {
		skip = 0
	}

	q := "SELECT " + serverColumns + " FROM servers"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY %s %s, id ASC LIMIT ? OFFSET ?", col, dir)
	args = append(args, limit, skip)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find all: %w", err)
	}
	defer rows.Close()

	out := []models.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

// FindByID returns the server with the given id or apperr.ErrNotFound.
func (s *SQLite) FindByID(ctx context.Context, id string) (*models.Server, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	return s.scanOne(row, "find by id")
}

// FindByAddress returns the server listening on address:port or apperr.ErrNotFound.
func (s *SQLite) FindByAddress(ctx context.Context, address string, port int) (*models.Server, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE address = ? AND port = ?", address, port)
	return s.scanOne(row, "find by address")
}

func (s *SQLite) scanOne(row *sql.Row, op string) (*models.Server, error) {
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	return srv, nil
}

// Create inserts srv. Timestamps are truncated to millisecond precision in
// place so the caller holds exactly what was stored.
func (s *SQLite) Create(ctx context.Context, srv *models.Server) error {
	srv.CreatedAt = srv.CreatedAt.Truncate(time.Millisecond).UTC()
	srv.LastSeenAt = srv.LastSeenAt.Truncate(time.Millisecond).UTC()
	srv.UpdatedAt = srv.UpdatedAt.Truncate(time.Millisecond).UTC()
	if srv.UpdatedAt.Before(srv.CreatedAt) {
		srv.UpdatedAt = srv.CreatedAt
	}
	if srv.Tags == nil {
		srv.Tags = []string{}
	}

	args, err := serverArgs(srv)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]any{srv.ID}, args...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateKey
		}
		return fmt.Errorf("store: insert server: %w", err)
	}
	return nil
}

// Update merges patch onto the stored server, stamps updated_at and returns
// the merged record.
func (s *SQLite) Update(ctx context.Context, id string, patch models.ServerPatch) (*models.Server, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	row := tx.QueryRowContext(ctx, "SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load for update: %w", err)
	}

	patch.Apply(srv)
	if srv.Tags == nil {
		srv.Tags = []string{}
	}
	srv.UpdatedAt = s.now().Truncate(time.Millisecond).UTC()
	if srv.UpdatedAt.Before(srv.CreatedAt) {
		srv.UpdatedAt = srv.CreatedAt
	}

	args, err := serverArgs(srv)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE servers SET
			name = ?, address = ?, port = ?, version = ?, description = ?, long_description = ?,
			player_count = ?, max_players = ?, motd = ?, icon_url = ?, banner_url = ?, gamemode = ?,
			tags = ?, language = ?, region = ?, online = ?, uptime = ?, latency = ?,
			website = ?, discord = ?, claimed = ?, owner_id = ?,
			created_at = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`, append(args, id)...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.ErrDuplicateKey
		}
		return nil, fmt.Errorf("store: update server: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit update: %w", err)
	}
	return srv, nil
}

// Delete removes the server with the given id.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete server: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Count returns the number of servers matching f.
func (s *SQLite) Count(ctx context.Context, f CountFilter) (int, error) {
	q := `SELECT count(*) FROM servers`
	var args []any
	if f.Online != nil {
		q += ` WHERE online = ?`
		args = append(args, *f.Online)
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Each calls fn for every server in creation order, stopping at the first error.
func (s *SQLite) Each(ctx context.Context, fn func(*models.Server) error) error {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+serverColumns+" FROM servers ORDER BY created_at ASC, id ASC")
	if err != nil {
		return fmt.Errorf("store: each: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return err
		}
		if err := fn(srv); err != nil {
			return err
		}
	}
	return rows.Err()
}

// serverArgs returns every column value after id, in serverColumns order.
func serverArgs(srv *models.Server) ([]any, error) {
	tagsJSON, err := json.Marshal(srv.Tags)
	if err != nil {
		return nil, fmt.Errorf("store: encode tags: %w", err)
	}
	return []any{
		srv.Name, srv.Address, srv.Port, srv.Version, srv.Description, srv.LongDescription,
		srv.PlayerCount, srv.MaxPlayers, srv.MOTD, srv.IconURL, srv.BannerURL, srv.Gamemode,
		string(tagsJSON), srv.Language, srv.Region, srv.Online, intOrNull(srv.Uptime), intOrNull(srv.Latency),
		srv.Website, srv.Discord, srv.Claimed, srv.OwnerID,
		toMillis(srv.CreatedAt), toMillis(srv.LastSeenAt), toMillis(srv.UpdatedAt),
	}, nil
}

func intOrNull(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
