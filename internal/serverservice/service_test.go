package serverservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/search"
	"github.com/HyServers/hyservers-web/internal/store"
	"github.com/HyServers/hyservers-web/internal/testutil"
)

// countingProjector wraps the real projector, counts writes and can fail.
type countingProjector struct {
	inner   *index.Projector
	upserts int
	removes int
	fail    error
}

func (p *countingProjector) Upsert(ctx context.Context, doc index.Projection) error {
	p.upserts++
	if p.fail != nil {
		return fmt.Errorf("%w: %w", apperr.ErrIndexUnavailable, p.fail)
	}
	return p.inner.Upsert(ctx, doc)
}

func (p *countingProjector) Remove(ctx context.Context, id string) error {
	p.removes++
	if p.fail != nil {
		return fmt.Errorf("%w: %w", apperr.ErrIndexUnavailable, p.fail)
	}
	return p.inner.Remove(ctx, id)
}

type recordingNotifier struct {
	events  []string
	rebuilt []int
}

func (n *recordingNotifier) PublishServerEvent(kind, id string) {
	n.events = append(n.events, kind+":"+id)
}

func (n *recordingNotifier) PublishIndexRebuilt(count int) {
	n.rebuilt = append(n.rebuilt, count)
}

type fixture struct {
	svc      *Service
	repo     *store.SQLite
	engine   *search.SQLite
	proj     *countingProjector
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := testutil.TestStore(t)
	engine := testutil.TestEngine(t)
	logger := testutil.Logger()
	proj := &countingProjector{inner: index.NewProjector(engine, logger)}
	svc := New(repo, proj,
		index.NewRebuilder(engine, repo, logger),
		index.NewTranslator(engine, time.Second, logger),
		logger)
	n := &recordingNotifier{}
	svc.SetNotifier(n)

	ids := 0
	svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return &fixture{svc: svc, repo: repo, engine: engine, proj: proj, notifier: n}
}

// indexed returns the projection stored in the engine for id, or nil.
func (f *fixture) indexed(t *testing.T, id string) *index.Projection {
	t.Helper()
	resp, err := f.engine.Search(context.Background(), index.Collection, search.Query{PerPage: search.MaxPerPage})
	if errors.Is(err, search.ErrCollectionNotFound) {
		return nil
	}
	require.NoError(t, err)
	for _, h := range resp.Hits {
		var p index.Projection
		require.NoError(t, json.Unmarshal(h, &p))
		if p.ID == id {
			return &p
		}
	}
	return nil
}

func validInput() CreateInput {
	return CreateInput{
		Name:        "  Orbis Realms ",
		Address:     "Play.Orbis.example",
		Description: "Survival with friends",
		Tags:        []string{"Survival", " PvP", "survival", ""},
		Gamemode:    "survival",
	}
}

func TestAdd_DefaultsAndProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, res.IndexErr)

	srv := res.Server
	assert.Equal(t, "id-1", srv.ID)
	assert.Equal(t, "Orbis Realms", srv.Name)
	assert.Equal(t, "play.orbis.example", srv.Address)
	assert.Equal(t, models.DefaultPort, srv.Port)
	assert.Equal(t, models.DefaultMaxPlayers, srv.MaxPlayers)
	assert.Equal(t, 0, srv.PlayerCount)
	assert.False(t, srv.Online)
	assert.False(t, srv.Claimed)
	assert.Equal(t, []string{"survival", "pvp"}, srv.Tags)
	assert.Equal(t, srv.CreatedAt, srv.UpdatedAt)
	assert.Equal(t, srv.CreatedAt, srv.LastSeenAt)
	assert.Equal(t, ETag(srv), res.ETag)

	stored, err := f.repo.FindByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, srv, stored)

	doc := f.indexed(t, srv.ID)
	require.NotNil(t, doc)
	assert.Equal(t, index.Project(stored), *doc)
	assert.Equal(t, []string{"created:id-1"}, f.notifier.events)
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t)
	bad := 0
	cases := map[string]func(*CreateInput){
		"missing name":        func(in *CreateInput) { in.Name = "  " },
		"missing address":     func(in *CreateInput) { in.Address = "" },
		"bad address":         func(in *CreateInput) { in.Address = "not a host!" },
		"missing description": func(in *CreateInput) { in.Description = "" },
		"bad port":            func(in *CreateInput) { p := 70000; in.Port = &p },
		"zero max players":    func(in *CreateInput) { in.MaxPlayers = &bad },
		"bad website":         func(in *CreateInput) { in.Website = "not a url" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := f.svc.Add(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	n, err := f.repo.Count(context.Background(), store.CountFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.proj.upserts)
}

func TestAdd_DuplicateAddressWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	dup := validInput()
	dup.Name = "Copycat"
	dup.Address = "play.orbis.example"
	_, err = f.svc.Add(ctx, dup)
	require.ErrorIs(t, err, apperr.ErrDuplicateKey)

	n, _ := f.repo.Count(ctx, store.CountFilter{})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.proj.upserts)

	// Same address on another port is a different server.
	other := 25566
	dup.Port = &other
	_, err = f.svc.Add(ctx, dup)
	assert.NoError(t, err)
}

func TestAdd_IndexFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.proj.fail = errors.New("engine down")

	res, err := f.svc.Add(context.Background(), validInput())
	require.NoError(t, err)
	assert.ErrorIs(t, res.IndexErr, apperr.ErrIndexUnavailable)

	_, err = f.repo.FindByID(context.Background(), res.Server.ID)
	assert.NoError(t, err)
	assert.Nil(t, f.indexed(t, res.Server.ID))
}

func TestEdit_PartialUpdateAndProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	f.svc.now = func() time.Time { return created.Server.CreatedAt.Add(time.Minute) }
	players := 37
	online := true
	res, err := f.svc.Edit(ctx, created.Server.ID, models.ServerPatch{PlayerCount: &players, Online: &online}, "")
	require.NoError(t, err)
	require.NoError(t, res.IndexErr)

	want := *created.Server
	want.PlayerCount = 37
	want.Online = true
	want.UpdatedAt = res.Server.UpdatedAt
	assert.Equal(t, &want, res.Server)
	assert.False(t, res.Server.UpdatedAt.Before(res.Server.CreatedAt))

	doc := f.indexed(t, created.Server.ID)
	require.NotNil(t, doc)
	assert.Equal(t, index.Project(res.Server), *doc)
	assert.Equal(t, []string{"created:id-1", "updated:id-1"}, f.notifier.events)
}

func TestEdit_IfMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	name := "Renamed"
	_, err = f.svc.Edit(ctx, created.Server.ID, models.ServerPatch{Name: &name}, "stale-etag")
	require.ErrorIs(t, err, apperr.ErrConflict)

	res, err := f.svc.Edit(ctx, created.Server.ID, models.ServerPatch{Name: &name}, created.ETag)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", res.Server.Name)
	assert.NotEqual(t, created.ETag, res.ETag)
}

func TestEdit_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)
	other := validInput()
	other.Address = "other.example"
	b, err := f.svc.Add(ctx, other)
	require.NoError(t, err)
	upserts := f.proj.upserts

	name := "x"
	_, err = f.svc.Edit(ctx, "missing", models.ServerPatch{Name: &name}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	empty := ""
	_, err = f.svc.Edit(ctx, a.Server.ID, models.ServerPatch{Description: &empty}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	negative := -1
	_, err = f.svc.Edit(ctx, a.Server.ID, models.ServerPatch{PlayerCount: &negative}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	taken := "PLAY.orbis.example"
	_, err = f.svc.Edit(ctx, b.Server.ID, models.ServerPatch{Address: &taken}, "")
	assert.ErrorIs(t, err, apperr.ErrDuplicateKey)

	assert.Equal(t, upserts, f.proj.upserts, "rejected edits must not touch the index")
	stored, _ := f.repo.FindByID(ctx, b.Server.ID)
	assert.Equal(t, "other.example", stored.Address)
}

func TestEdit_KeepOwnAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	same := a.Server.Address
	_, err = f.svc.Edit(ctx, a.Server.ID, models.ServerPatch{Address: &same}, "")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	res, err := f.svc.Delete(ctx, a.Server.ID)
	require.NoError(t, err)
	assert.NoError(t, res.IndexErr)
	assert.Nil(t, f.indexed(t, a.Server.ID))

	_, err = f.repo.FindByID(ctx, a.Server.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Delete(ctx, a.Server.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_IndexFailureStillRemovesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	f.proj.fail = errors.New("engine down")
	res, err := f.svc.Delete(ctx, a.Server.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, res.IndexErr, apperr.ErrIndexUnavailable)

	_, err = f.repo.FindByID(ctx, a.Server.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRebuildIndex_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.proj.fail = errors.New("engine down")
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)
	require.Error(t, a.IndexErr)
	f.proj.fail = nil

	n, err := f.svc.RebuildIndex(ctx)
	require.NoError(t, err)
	total, _ := f.repo.Count(ctx, store.CountFilter{})
	assert.Equal(t, total, n)
	assert.Equal(t, []int{1}, f.notifier.rebuilt)

	doc := f.indexed(t, a.Server.ID)
	require.NotNil(t, doc)
	assert.Equal(t, index.Project(a.Server), *doc)
}

func TestSearch_ReadsIndexOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	res := f.svc.Search(ctx, index.SearchRequest{Query: "orbis"})
	require.False(t, res.Unavailable)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Orbis Realms", res.Documents[0].Name)

	require.NoError(t, f.engine.Close())
	res = f.svc.Search(ctx, index.SearchRequest{Query: "orbis"})
	assert.True(t, res.Unavailable)
	assert.Empty(t, res.Documents)
}

func TestOverviewAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)
	other := validInput()
	other.Address = "other.example"
	_, err = f.svc.Add(ctx, other)
	require.NoError(t, err)

	on := true
	_, err = f.svc.Edit(ctx, a.Server.ID, models.ServerPatch{Online: &on}, "")
	require.NoError(t, err)

	ov, err := f.svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Overview{Total: 2, Online: 1}, ov)

	list, err := f.svc.List(ctx, store.ListOptions{Online: &on})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.Server.ID, list[0].ID)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, validInput())
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.RecordStats(ctx, models.StatsSnapshot{ServerID: a.Server.ID, Timestamp: ts, PlayerCount: 4, Online: true}))
	require.NoError(t, f.svc.RecordStats(ctx, models.StatsSnapshot{ServerID: a.Server.ID, PlayerCount: 6}))

	err = f.svc.RecordStats(ctx, models.StatsSnapshot{ServerID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = f.svc.RecordStats(ctx, models.StatsSnapshot{ServerID: a.Server.ID, PlayerCount: -3})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	history, err := f.svc.Stats(ctx, a.Server.ID, store.StatsQuery{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 6, history[0].PlayerCount)
	assert.Equal(t, ts, history[1].Timestamp)

	_, err = f.svc.Stats(ctx, "missing", store.StatsQuery{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
