//go:build !sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"strings"
)

// Without FTS5 the documents table is scanned directly; nothing extra is stored.

func createTextIndex(_ context.Context, _ *sql.Tx, _ *Schema) error { return nil }

func dropTextIndex(_ context.Context, _ *sql.Tx, _ string) error { return nil }

func upsertText(_ context.Context, _ *sql.Tx, _ *Schema, _ string, _ map[string]any) error {
	return nil
}

func deleteText(_ context.Context, _ execer, _, _ string) error { return nil }

// textClause matches documents where every token is a substring of one of
// the fields.
func textClause(_ *Schema, fields []Field, tokens []string) (string, []any) {
	var (
		terms []string
		args  []any
	)
	for _, tok := range tokens {
		var alts []string
		for _, f := range fields {
			if f.Type == TypeStringArray {
				alts = append(alts, `EXISTS (SELECT 1 FROM json_each(d.doc, '$.`+f.Name+`') AS tq WHERE instr(lower(tq.value), ?) > 0)`)
			} else {
				alts = append(alts, `instr(lower(json_extract(d.doc, '$.`+f.Name+`')), ?) > 0`)
			}
			args = append(args, tok)
		}
		terms = append(terms, "("+strings.Join(alts, " OR ")+")")
	}
	return strings.Join(terms, " AND "), args
}
