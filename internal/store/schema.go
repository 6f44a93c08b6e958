package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS servers (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	address          TEXT NOT NULL,
	port             INTEGER NOT NULL,
	version          TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL,
	long_description TEXT NOT NULL DEFAULT '',
	player_count     INTEGER NOT NULL DEFAULT 0,
	max_players      INTEGER NOT NULL,
	motd             TEXT NOT NULL DEFAULT '',
	icon_url         TEXT NOT NULL DEFAULT '',
	banner_url       TEXT NOT NULL DEFAULT '',
	gamemode         TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	language         TEXT NOT NULL DEFAULT '',
	region           TEXT NOT NULL DEFAULT '',
	online           INTEGER NOT NULL DEFAULT 0,
	uptime           INTEGER,
	latency          INTEGER,
	website          TEXT NOT NULL DEFAULT '',
	discord          TEXT NOT NULL DEFAULT '',
	claimed          INTEGER NOT NULL DEFAULT 0,
	owner_id         TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_seen_at     INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	UNIQUE(address, port)
);

CREATE INDEX IF NOT EXISTS idx_servers_online ON servers(online);
CREATE INDEX IF NOT EXISTS idx_servers_player_count ON servers(player_count);

CREATE TABLE IF NOT EXISTS server_stats (
	server_id    TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	player_count INTEGER NOT NULL,
	online       INTEGER NOT NULL,
	latency      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_stats_server_ts ON server_stats(server_id, timestamp DESC);
`

// SQLite is the record store backed by a SQLite database.
type SQLite struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the store database and applies the schema.
func Open(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
