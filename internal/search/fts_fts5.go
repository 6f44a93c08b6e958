//go:build sqlite_fts5

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func ftsTable(name string) string { return "fts_" + name }

func textFields(s *Schema) []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Type.text() {
			out = append(out, f)
		}
	}
	return out
}

func createTextIndex(ctx context.Context, tx *sql.Tx, s *Schema) error {
	fields := textFields(s)
	if len(fields) == 0 {
		return nil
	}
	cols := []string{"id UNINDEXED"}
	for _, f := range fields {
		cols = append(cols, `"`+f.Name+`"`)
	}
	_, err := tx.ExecContext(ctx, `
		CREATE VIRTUAL TABLE `+ftsTable(s.Name)+` USING fts5(
			`+strings.Join(cols, ", ")+`,
			tokenize = 'unicode61 remove_diacritics 2'
		)`)
	if err != nil {
		return fmt.Errorf("search: create text index: %w", err)
	}
	return nil
}

func dropTextIndex(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+ftsTable(name)); err != nil {
		return fmt.Errorf("search: drop text index: %w", err)
	}
	return nil
}

func upsertText(ctx context.Context, tx *sql.Tx, s *Schema, id string, doc map[string]any) error {
	fields := textFields(s)
	if len(fields) == 0 {
		return nil
	}
	if err := deleteText(ctx, tx, s.Name, id); err != nil {
		return err
	}
	cols := []string{"id"}
	args := []any{id}
	for _, f := range fields {
		cols = append(cols, `"`+f.Name+`"`)
		args = append(args, flattenText(doc[f.Name]))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err := tx.ExecContext(ctx,
		`INSERT INTO `+ftsTable(s.Name)+` (`+strings.Join(cols, ", ")+`) VALUES (`+marks+`)`, args...)
	if err != nil {
		return fmt.Errorf("search: upsert text index: %w", err)
	}
	return nil
}

func deleteText(ctx context.Context, tx execer, name, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM `+ftsTable(name)+` WHERE id = ?`, id)
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("search: delete from text index: %w", err)
	}
	return nil
}

func flattenText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, el := range x {
			if s, ok := el.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// textClause matches documents where every token prefixes a word in one of
// the fields.
func textClause(s *Schema, fields []Field, tokens []string) (string, []any) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	colspec := "{" + strings.Join(names, " ") + "}"
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = colspec + ` : "` + strings.ReplaceAll(tok, `"`, `""`) + `"*`
	}
	table := ftsTable(s.Name)
	return `d.id IN (SELECT id FROM ` + table + ` WHERE ` + table + ` MATCH ?)`,
		[]any{strings.Join(terms, " AND ")}
}
