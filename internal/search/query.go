package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Search runs q against a collection.
func (e *SQLite) Search(ctx context.Context, collection string, q Query) (*Response, error) {
	s, err := loadSchema(ctx, e.conn, collection)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(s, q)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(s, q.SortBy)
	if err != nil {
		return nil, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	table := docsTable(collection)
	resp := &Response{Page: page, Hits: []json.RawMessage{}, Facets: []FacetCounts{}}

	if err := e.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM `+table+` AS d`+where, args...).Scan(&resp.Found); err != nil {
		return nil, fmt.Errorf("search: count hits: %w", err)
	}

	rows, err := e.conn.QueryContext(ctx,
		`SELECT d.doc FROM `+table+` AS d`+where+order+` LIMIT ? OFFSET ?`,
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, fmt.Errorf("search: query hits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("search: scan hit: %w", err)
		}
		resp.Hits = append(resp.Hits, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: iterate hits: %w", err)
	}

	maxValues := q.MaxFacetValues
	if maxValues <= 0 {
		maxValues = DefaultMaxFacetValues
	}
	for _, name := range q.FacetBy {
		f, ok := s.field(name)
		if !ok || !f.Facet {
			return nil, fmt.Errorf("%w: %s is not a facet field", ErrInvalidQuery, name)
		}
		counts, err := e.facet(ctx, table, f, where, args, maxValues)
		if err != nil {
			return nil, err
		}
		resp.Facets = append(resp.Facets, FacetCounts{Field: name, Counts: counts})
	}
	return resp, nil
}

func (e *SQLite) facet(ctx context.Context, table string, f Field, where string, args []any, limit int) ([]FacetCount, error) {
	var query string
	if f.Type == TypeStringArray {
		query = `SELECT fv.value, count(*) AS n FROM ` + table + ` AS d, json_each(d.doc, '$.` + f.Name + `') AS fv` +
			where + ` GROUP BY fv.value ORDER BY n DESC, fv.value ASC LIMIT ?`
	} else {
		cond := ` WHERE `
		if where != "" {
			cond = where + ` AND `
		}
		query = `SELECT json_extract(d.doc, '$.` + f.Name + `') AS v, count(*) AS n FROM ` + table + ` AS d` +
			cond + `json_extract(d.doc, '$.` + f.Name + `') IS NOT NULL GROUP BY v ORDER BY n DESC, v ASC LIMIT ?`
	}
	rows, err := e.conn.QueryContext(ctx, query, append(append([]any{}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("search: facet %s: %w", f.Name, err)
	}
	defer rows.Close()

	out := []FacetCount{}
	for rows.Next() {
		var (
			v any
			n int
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("search: scan facet %s: %w", f.Name, err)
		}
		out = append(out, FacetCount{Value: facetValue(f.Type, v), Count: n})
	}
	return out, rows.Err()
}

// facetValue renders a raw SQLite value as the string a client sees. JSON
// booleans come back from json_extract as 0 or 1.
func facetValue(t FieldType, v any) string {
	switch x := v.(type) {
	case int64:
		if t == TypeBool {
			return strconv.FormatBool(x != 0)
		}
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// buildWhere returns a " WHERE ..." clause over alias d, or "" when q matches
// every document.
func buildWhere(s *Schema, q Query) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, c := range q.Filters {
		f, ok := s.field(c.Field)
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown filter field %q", ErrInvalidQuery, c.Field)
		}
		if len(c.Values) == 0 {
			continue
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
		if f.Type == TypeStringArray {
			clauses = append(clauses, `EXISTS (SELECT 1 FROM json_each(d.doc, '$.`+f.Name+`') AS fe WHERE fe.value IN (`+marks+`))`)
		} else {
			clauses = append(clauses, `json_extract(d.doc, '$.`+f.Name+`') IN (`+marks+`)`)
		}
		args = append(args, c.Values...)
	}

	if tokens := tokenize(q.Q); len(tokens) > 0 {
		if len(q.QueryBy) == 0 {
			return "", nil, fmt.Errorf("%w: query_by is required for a text query", ErrInvalidQuery)
		}
		fields := make([]Field, 0, len(q.QueryBy))
		for _, name := range q.QueryBy {
			f, ok := s.field(name)
			if !ok || !f.Type.text() {
				return "", nil, fmt.Errorf("%w: %q is not a text field", ErrInvalidQuery, name)
			}
			fields = append(fields, f)
		}
		clause, textArgs := textClause(s, fields, tokens)
		clauses = append(clauses, clause)
		args = append(args, textArgs...)
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildOrder(s *Schema, sortBy []SortField) (string, error) {
	if len(sortBy) == 0 && s.DefaultSortingField != "" {
		sortBy = []SortField{{Field: s.DefaultSortingField, Desc: true}}
	}
	var parts []string
	for _, sf := range sortBy {
		f, ok := s.field(sf.Field)
		if !ok || f.Type == TypeStringArray {
			return "", fmt.Errorf("%w: cannot sort by %q", ErrInvalidQuery, sf.Field)
		}
		dir := "ASC"
		if sf.Desc {
			dir = "DESC"
		}
		parts = append(parts, `json_extract(d.doc, '$.`+f.Name+`') `+dir)
	}
	parts = append(parts, "d.id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// tokenize lowercases q and splits it on anything that is not a letter or
// digit. The wildcard query yields no tokens.
func tokenize(q string) []string {
	q = strings.TrimSpace(q)
	if q == "" || q == "*" {
		return nil
	}
	return strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
