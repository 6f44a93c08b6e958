package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HyServers/hyservers-web/internal/models"
)

// AppendStats records a snapshot. The server id is not checked against the
// servers table; history outlives the server it describes.
func (s *SQLite) AppendStats(ctx context.Context, snap models.StatsSnapshot) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO server_stats (server_id, timestamp, player_count, online, latency)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ServerID, toMillis(snap.Timestamp), snap.PlayerCount, snap.Online, intOrNull(snap.Latency))
	if err != nil {
		return fmt.Errorf("store: append stats: %w", err)
	}
	return nil
}

// QueryStats returns snapshots for serverID, newest first. From and To are
// inclusive when set.
func (s *SQLite) QueryStats(ctx context.Context, serverID string, q StatsQuery) ([]models.StatsSnapshot, error) {
	query := `SELECT server_id, timestamp, player_count, online, latency FROM server_stats WHERE server_id = ?`
	args := []any{serverID}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, toMillis(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, toMillis(q.To))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultStatsLimit
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query stats: %w", err)
	}
	defer rows.Close()

	out := []models.StatsSnapshot{}
	for rows.Next() {
		var (
			snap    models.StatsSnapshot
			ts      int64
			latency sql.NullInt64
		)
		if err := rows.Scan(&snap.ServerID, &ts, &snap.PlayerCount, &snap.Online, &latency); err != nil {
			return nil, fmt.Errorf("store: scan stats: %w", err)
		}
		snap.Timestamp = fromMillis(ts)
		snap.Latency = nullableInt(latency)
		out = append(out, snap)
	}
	return out, rows.Err()
}
