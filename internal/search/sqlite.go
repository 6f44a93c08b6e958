package search

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/mattn/go-sqlite3"
)

const metaSQL = `
CREATE TABLE IF NOT EXISTS collections (
	name   TEXT PRIMARY KEY,
	schema TEXT NOT NULL
);
`

var (
	collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	fieldName      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// SQLite is an Engine storing each collection as a table of JSON documents.
type SQLite struct {
	conn *sql.DB
}

// Open opens (or creates) the engine database.
func Open(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("search: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("search: ping: %w", err)
	}
	if _, err := conn.Exec(metaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("search: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (e *SQLite) Close() error {
	return e.conn.Close()
}

func docsTable(name string) string { return "docs_" + name }

func validateSchema(s Schema) error {
	if !collectionName.MatchString(s.Name) {
		return fmt.Errorf("%w: bad collection name %q", ErrInvalidSchema, s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if !fieldName.MatchString(f.Name) || f.Name == "id" {
			return fmt.Errorf("%w: bad field name %q", ErrInvalidSchema, f.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("%w: field %s has unknown type %q", ErrInvalidSchema, f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if s.DefaultSortingField != "" {
		f, ok := s.field(s.DefaultSortingField)
		if !ok || !f.Type.numeric() || f.Optional {
			return fmt.Errorf("%w: default sorting field %q must be a required numeric field",
				ErrInvalidSchema, s.DefaultSortingField)
		}
	}
	return nil
}

// CreateCollection registers s and creates its storage.
func (e *SQLite) CreateCollection(ctx context.Context, s Schema) error {
	if err := validateSchema(s); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("search: encode schema: %w", err)
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `INSERT INTO collections (name, schema) VALUES (?, ?)`, s.Name, string(raw)); err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return ErrCollectionExists
		}
		return fmt.Errorf("search: register collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`CREATE TABLE `+docsTable(s.Name)+` (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("search: create collection table: %w", err)
	}
	if err := createTextIndex(ctx, tx, &s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit create: %w", err)
	}
	return nil
}

// DropCollection removes a collection and every document in it.
func (e *SQLite) DropCollection(ctx context.Context, name string) error {
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := loadSchema(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+docsTable(name)); err != nil {
		return fmt.Errorf("search: drop collection table: %w", err)
	}
	if err := dropTextIndex(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("search: unregister collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit drop: %w", err)
	}
	return nil
}

// RetrieveCollection returns the schema of a collection.
func (e *SQLite) RetrieveCollection(ctx context.Context, name string) (*Schema, error) {
	return loadSchema(ctx, e.conn, name)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSchema(ctx context.Context, q querier, name string) (*Schema, error) {
	if !collectionName.MatchString(name) {
		return nil, ErrCollectionNotFound
	}
	var raw string
	err := q.QueryRowContext(ctx, `SELECT schema FROM collections WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("search: load schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("search: decode schema %s: %w", name, err)
	}
	return &s, nil
}

// Upsert inserts doc or fully replaces the document with the same id.
func (e *SQLite) Upsert(ctx context.Context, collection string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	fields, err := decodeDocument(raw)
	if err != nil {
		return err
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	s, err := loadSchema(ctx, tx, collection)
	if err != nil {
		return err
	}
	id, err := validateDocument(s, fields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+docsTable(collection)+` (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
	`, id, string(raw)); err != nil {
		return fmt.Errorf("search: upsert document: %w", err)
	}
	if err := upsertText(ctx, tx, s, id, fields); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit upsert: %w", err)
	}
	return nil
}

// Delete removes one document by id.
func (e *SQLite) Delete(ctx context.Context, collection, id string) error {
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := loadSchema(ctx, tx, collection); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM `+docsTable(collection)+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("search: delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("search: delete document: %w", err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	if err := deleteText(ctx, tx, collection, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("search: commit delete: %w", err)
	}
	return nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidDocument)
	}
	return fields, nil
}

// validateDocument checks doc against s and returns its id.
func validateDocument(s *Schema, doc map[string]any) (string, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		return "", fmt.Errorf("%w: missing string id", ErrInvalidDocument)
	}
	for _, f := range s.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			if f.Optional {
				continue
			}
			return "", fmt.Errorf("%w: field %s is required", ErrInvalidDocument, f.Name)
		}
		if !typeMatches(f.Type, v) {
			return "", fmt.Errorf("%w: field %s is not %s", ErrInvalidDocument, f.Name, f.Type)
		}
	}
	return id, nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt32, TypeInt64:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		i, err := n.Int64()
		if err != nil {
			return false
		}
		return t == TypeInt64 || (i >= -1<<31 && i < 1<<31)
	case TypeStringArray:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, el := range arr {
			if _, ok := el.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}
