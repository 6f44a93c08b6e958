package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"testing"
)

func testEngine(t *testing.T) *SQLite {
	t.Helper()
	f, err := os.CreateTemp("", "hyservers-search-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	e, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

var gamesSchema = Schema{
	Name: "games",
	Fields: []Field{
		{Name: "name", Type: TypeString},
		{Name: "description", Type: TypeString},
		{Name: "genre", Type: TypeString, Optional: true, Facet: true},
		{Name: "tags", Type: TypeStringArray, Facet: true},
		{Name: "players", Type: TypeInt32},
		{Name: "online", Type: TypeBool, Facet: true},
	},
	DefaultSortingField: "players",
}

type game struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Genre       string   `json:"genre,omitempty"`
	Tags        []string `json:"tags"`
	Players     int      `json:"players"`
	Online      bool     `json:"online"`
}

func seedGames(t *testing.T, e *SQLite) {
	t.Helper()
	ctx := context.Background()
	if err := e.CreateCollection(ctx, gamesSchema); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	games := []game{
		{ID: "g1", Name: "Skyblock Paradise", Description: "islands in the sky", Genre: "skyblock", Tags: []string{"pvp", "economy"}, Players: 50, Online: true},
		{ID: "g2", Name: "Castle Siege", Description: "medieval pvp battles", Genre: "pvp", Tags: []string{"pvp"}, Players: 80, Online: true},
		{ID: "g3", Name: "Quiet Farm", Description: "relaxed farming", Tags: []string{"survival"}, Players: 5, Online: false},
		{ID: "g4", Name: "Sky Wars", Description: "fight on floating islands", Genre: "minigames", Tags: []string{"pvp", "minigames"}, Players: 50, Online: false},
	}
	for _, g := range games {
		if err := e.Upsert(ctx, "games", g); err != nil {
			t.Fatalf("Upsert %s: %v", g.ID, err)
		}
	}
}

func hitIDs(t *testing.T, resp *Response) []string {
	t.Helper()
	out := make([]string, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		var g game
		if err := json.Unmarshal(h, &g); err != nil {
			t.Fatalf("decode hit: %v", err)
		}
		out = append(out, g.ID)
	}
	return out
}

func TestCreateCollection(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := e.CreateCollection(ctx, gamesSchema); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := e.CreateCollection(ctx, gamesSchema); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("second create: err = %v, want ErrCollectionExists", err)
	}
	got, err := e.RetrieveCollection(ctx, "games")
	if err != nil {
		t.Fatalf("RetrieveCollection: %v", err)
	}
	if !reflect.DeepEqual(*got, gamesSchema) {
		t.Errorf("schema = %+v", got)
	}
}

func TestCreateCollection_InvalidSchema(t *testing.T) {
	e := testEngine(t)
	bad := []Schema{
		{Name: "Bad-Name", Fields: []Field{{Name: "a", Type: TypeString}}},
		{Name: "empty"},
		{Name: "types", Fields: []Field{{Name: "a", Type: "float"}}},
		{Name: "dup", Fields: []Field{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeBool}}},
		{Name: "sort", Fields: []Field{{Name: "a", Type: TypeString}}, DefaultSortingField: "a"},
	}
	for _, s := range bad {
		if err := e.CreateCollection(context.Background(), s); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("%s: err = %v, want ErrInvalidSchema", s.Name, err)
		}
	}
}

func TestDropCollection(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedGames(t, e)

	if err := e.DropCollection(ctx, "games"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if err := e.DropCollection(ctx, "games"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("second drop: err = %v, want ErrCollectionNotFound", err)
	}
	if _, err := e.Search(ctx, "games", Query{}); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("search after drop: err = %v, want ErrCollectionNotFound", err)
	}
	// Recreating starts empty.
	if err := e.CreateCollection(ctx, gamesSchema); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	resp, err := e.Search(ctx, "games", Query{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Found != 0 {
		t.Errorf("found = %d after recreate, want 0", resp.Found)
	}
}

func TestUpsert_MissingCollection(t *testing.T) {
	e := testEngine(t)
	err := e.Upsert(context.Background(), "games", game{ID: "x"})
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("err = %v, want ErrCollectionNotFound", err)
	}
}

func TestUpsert_Validation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := e.CreateCollection(ctx, gamesSchema); err != nil {
		t.Fatal(err)
	}
	cases := map[string]any{
		"no id":           map[string]any{"name": "a", "description": "b", "tags": []string{}, "players": 1, "online": true},
		"missing field":   map[string]any{"id": "1", "name": "a", "tags": []string{}, "players": 1, "online": true},
		"wrong type":      map[string]any{"id": "1", "name": "a", "description": "b", "tags": []string{}, "players": "many", "online": true},
		"int32 overflow":  map[string]any{"id": "1", "name": "a", "description": "b", "tags": []string{}, "players": int64(1) << 40, "online": true},
		"tags not string": map[string]any{"id": "1", "name": "a", "description": "b", "tags": []int{1}, "players": 1, "online": true},
		"not an object":   []string{"x"},
	}
	for name, doc := range cases {
		if err := e.Upsert(ctx, "games", doc); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("%s: err = %v, want ErrInvalidDocument", name, err)
		}
	}
}

func TestUpsert_ReplacesDocument(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedGames(t, e)

	repl := game{ID: "g3", Name: "Busy Farm", Description: "farming with friends", Tags: []string{"coop"}, Players: 99, Online: true}
	if err := e.Upsert(ctx, "games", repl); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	resp, err := e.Search(ctx, "games", Query{Q: "quiet", QueryBy: []string{"name"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Found != 0 {
		t.Errorf("old text still matches: %v", hitIDs(t, resp))
	}
	resp, _ = e.Search(ctx, "games", Query{Q: "busy", QueryBy: []string{"name"}})
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, []string{"g3"}) {
		t.Errorf("hits = %v, want [g3]", got)
	}
	all, _ := e.Search(ctx, "games", Query{})
	if all.Found != 4 {
		t.Errorf("found = %d, want 4", all.Found)
	}
}

func TestDelete(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedGames(t, e)

	if err := e.Delete(ctx, "games", "g1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := e.Delete(ctx, "games", "g1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second delete: err = %v, want ErrDocumentNotFound", err)
	}
	if err := e.Delete(ctx, "nope", "g1"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("missing collection: err = %v, want ErrCollectionNotFound", err)
	}
	resp, _ := e.Search(ctx, "games", Query{Q: "paradise", QueryBy: []string{"name"}})
	if resp.Found != 0 {
		t.Errorf("deleted document still found")
	}
}

func TestSearch_DefaultSortAndTiebreak(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)

	resp, err := e.Search(context.Background(), "games", Query{Q: "*"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"g2", "g1", "g4", "g3"}
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, want) {
		t.Errorf("hits = %v, want %v", got, want)
	}
	if resp.Found != 4 || resp.Page != 1 {
		t.Errorf("found=%d page=%d", resp.Found, resp.Page)
	}
}

func TestSearch_Filters(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []Condition
		want    []string
	}{
		{"bool", []Condition{{Field: "online", Values: []any{true}}}, []string{"g2", "g1"}},
		{"string", []Condition{{Field: "genre", Values: []any{"pvp"}}}, []string{"g2"}},
		{"tags any of", []Condition{{Field: "tags", Values: []any{"economy", "survival"}}}, []string{"g1", "g3"}},
		{"anded", []Condition{
			{Field: "tags", Values: []any{"pvp"}},
			{Field: "online", Values: []any{false}},
		}, []string{"g4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Search(ctx, "games", Query{Filters: tt.filters})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got := hitIDs(t, resp); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("hits = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearch_FreeText(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)
	ctx := context.Background()
	by := []string{"name", "description", "tags"}

	resp, err := e.Search(ctx, "games", Query{Q: "Sky", QueryBy: by})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, []string{"g1", "g4"}) {
		t.Errorf("sky hits = %v", got)
	}

	// Every token must match somewhere.
	resp, _ = e.Search(ctx, "games", Query{Q: "sky floating", QueryBy: by})
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, []string{"g4"}) {
		t.Errorf("sky floating hits = %v", got)
	}

	// Tags are searchable text.
	resp, _ = e.Search(ctx, "games", Query{Q: "economy", QueryBy: by})
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, []string{"g1"}) {
		t.Errorf("economy hits = %v", got)
	}

	if _, err := e.Search(ctx, "games", Query{Q: "sky"}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("missing query_by: err = %v, want ErrInvalidQuery", err)
	}
}

func TestSearch_SortAndPaging(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)
	ctx := context.Background()

	resp, err := e.Search(ctx, "games", Query{
		SortBy:  []SortField{{Field: "name"}},
		Page:    2,
		PerPage: 3,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Found != 4 {
		t.Errorf("found = %d, want 4", resp.Found)
	}
	if got := hitIDs(t, resp); !reflect.DeepEqual(got, []string{"g1"}) {
		t.Errorf("page 2 = %v, want [g1]", got)
	}

	resp, _ = e.Search(ctx, "games", Query{Page: 9, PerPage: 3})
	if len(resp.Hits) != 0 || resp.Found != 4 {
		t.Errorf("beyond end: hits=%d found=%d", len(resp.Hits), resp.Found)
	}

	if _, err := e.Search(ctx, "games", Query{SortBy: []SortField{{Field: "tags"}}}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("sort by array: err = %v, want ErrInvalidQuery", err)
	}
}

func TestSearch_Facets(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)

	resp, err := e.Search(context.Background(), "games", Query{FacetBy: []string{"tags", "online", "genre"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []FacetCounts{
		{Field: "tags", Counts: []FacetCount{{"pvp", 3}, {"economy", 1}, {"minigames", 1}, {"survival", 1}}},
		{Field: "online", Counts: []FacetCount{{"false", 2}, {"true", 2}}},
		{Field: "genre", Counts: []FacetCount{{"minigames", 1}, {"pvp", 1}, {"skyblock", 1}}},
	}
	if !reflect.DeepEqual(resp.Facets, want) {
		t.Errorf("facets = %+v\nwant %+v", resp.Facets, want)
	}

	// Facets follow the filtered hit set.
	resp, _ = e.Search(context.Background(), "games", Query{
		Filters: []Condition{{Field: "online", Values: []any{true}}},
		FacetBy: []string{"tags"},
	})
	wantTags := []FacetCount{{"pvp", 2}, {"economy", 1}}
	if !reflect.DeepEqual(resp.Facets[0].Counts, wantTags) {
		t.Errorf("filtered tag facet = %+v", resp.Facets[0].Counts)
	}

	_, err = e.Search(context.Background(), "games", Query{FacetBy: []string{"name"}})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("facet on non-facet field: err = %v", err)
	}
}

func TestSearch_ClosedEngineFails(t *testing.T) {
	e := testEngine(t)
	seedGames(t, e)
	e.Close()
	if _, err := e.Search(context.Background(), "games", Query{}); err == nil {
		t.Error("expected error from closed engine")
	}
}

func TestQuery_FilterBy(t *testing.T) {
	q := Query{Filters: []Condition{
		{Field: "online", Values: []any{true}},
		{Field: "tags", Values: []any{"pvp", "rpg"}},
		{Field: "gamemode", Values: []any{"sky block"}},
	}}
	got := q.FilterBy()
	want := "online:=true && tags:=[pvp,rpg] && gamemode:=`sky block`"
	if got != want {
		t.Errorf("FilterBy = %q, want %q", got, want)
	}
	if got := (Query{}).FilterBy(); got != "" {
		t.Errorf("empty FilterBy = %q", got)
	}
}
