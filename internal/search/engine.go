// Package search is the document search engine behind the server directory.
//
// The API is shaped after a hosted search service: documents live in named
// collections with a declared schema, are written by id, and are queried with
// free text, exact-match filters, sorting, pagination and facet counts. The
// bundled implementation keeps each collection in a SQLite database separate
// from the record store.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine errors. Callers match them with errors.Is; anything else means the
// engine could not serve the request.
var (
	ErrCollectionNotFound = errors.New("search: collection not found")
	ErrCollectionExists   = errors.New("search: collection already exists")
	ErrDocumentNotFound   = errors.New("search: document not found")
	ErrInvalidDocument    = errors.New("search: invalid document")
	ErrInvalidQuery       = errors.New("search: invalid query")
	ErrInvalidSchema      = errors.New("search: invalid schema")
)

// FieldType is the declared type of a schema field.
type FieldType string

// Supported field types.
const (
	TypeString      FieldType = "string"
	TypeStringArray FieldType = "string[]"
	TypeInt32       FieldType = "int32"
	TypeInt64       FieldType = "int64"
	TypeBool        FieldType = "bool"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeStringArray, TypeInt32, TypeInt64, TypeBool:
		return true
	}
	return false
}

func (t FieldType) numeric() bool { return t == TypeInt32 || t == TypeInt64 }

func (t FieldType) text() bool { return t == TypeString || t == TypeStringArray }

// Field declares one document field.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Optional bool      `json:"optional,omitempty"`
	Facet    bool      `json:"facet,omitempty"`
}

// Schema declares a collection.
type Schema struct {
	Name                string  `json:"name"`
	Fields              []Field `json:"fields"`
	DefaultSortingField string  `json:"default_sorting_field"`
}

func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Condition matches documents whose field equals any of Values. For string[]
// fields a document matches when any element is among Values.
type Condition struct {
	Field  string
	Values []any
}

// SortField orders results by one field.
type SortField struct {
	Field string
	Desc  bool
}

// Query describes a search. Conditions are ANDed.
type Query struct {
	// Q is the free-text query; "" or "*" matches everything.
	Q       string
	QueryBy []string
	Filters []Condition
	SortBy  []SortField
	Page    int
	PerPage int
	FacetBy []string
	// MaxFacetValues caps the values returned per facet; 0 means DefaultMaxFacetValues.
	MaxFacetValues int
}

// Paging limits.
const (
	DefaultPerPage        = 10
	MaxPerPage            = 250
	DefaultMaxFacetValues = 10
)

// FilterBy renders the filters in the filter_by syntax of hosted engines,
// e.g. "online:=true && tags:=[pvp,rpg]". It is used for logging.
func (q Query) FilterBy() string {
	parts := make([]string, 0, len(q.Filters))
	for _, c := range q.Filters {
		vals := make([]string, len(c.Values))
		for i, v := range c.Values {
			vals[i] = filterValue(v)
		}
		if len(vals) == 1 {
			parts = append(parts, c.Field+":="+vals[0])
			continue
		}
		parts = append(parts, c.Field+":=["+strings.Join(vals, ",")+"]")
	}
	return strings.Join(parts, " && ")
}

func filterValue(v any) string {
	switch x := v.(type) {
	case string:
		if strings.ContainsAny(x, " ,[]&|()") {
			return "`" + x + "`"
		}
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// FacetCount is one facet bucket.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FacetCounts holds the buckets of one faceted field, most frequent first.
type FacetCounts struct {
	Field  string       `json:"field_name"`
	Counts []FacetCount `json:"counts"`
}

// Response is the result of a search.
type Response struct {
	Found  int               `json:"found"`
	Page   int               `json:"page"`
	Hits   []json.RawMessage `json:"hits"`
	Facets []FacetCounts     `json:"facet_counts"`
}

// Engine is the collection and document API consumed by the index layer.
type Engine interface {
	CreateCollection(ctx context.Context, s Schema) error
	DropCollection(ctx context.Context, name string) error
	RetrieveCollection(ctx context.Context, name string) (*Schema, error)
	// Upsert writes doc, which must encode to a JSON object with a string "id".
	Upsert(ctx context.Context, collection string, doc any) error
	Delete(ctx context.Context, collection, id string) error
	Search(ctx context.Context, collection string, q Query) (*Response, error)
	Close() error
}

// Verify *SQLite satisfies Engine at compile time.
var _ Engine = (*SQLite)(nil)
