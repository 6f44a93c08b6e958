package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/HyServers/hyservers-web/internal/auth"
	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/search"
	"github.com/HyServers/hyservers-web/internal/serverservice"
	"github.com/HyServers/hyservers-web/internal/testutil"
)

const testPassword = "correct horse"

type testEnv struct {
	router   http.Handler
	svc      *serverservice.Service
	sessions *auth.Sessions
	engine   *search.SQLite
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := testutil.TestStore(t)
	engine := testutil.TestEngine(t)
	_, media := testutil.TestMedia(t)
	logger := testutil.Logger()

	proj := index.NewProjector(engine, logger)
	if err := proj.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	svc := serverservice.New(repo, proj,
		index.NewRebuilder(engine, repo, logger),
		index.NewTranslator(engine, time.Second, logger),
		logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := auth.NewSessions(auth.Options{
		PasswordHash: string(hash),
		Secret:       "test-secret",
	}, nil, logger)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	token, _, err := sessions.NewToken()
	if err != nil {
		t.Fatal(err)
	}

	mh := NewMediaHandler(media, logger)
	api := NewRouter(Deps{
		Service:    svc,
		Sessions:   sessions,
		Media:      mh,
		LoginLimit: RateLimitConfig{Burst: 3, RefillPerMin: 1},
		Logger:     logger,
	})
	root := chi.NewRouter()
	root.Mount("/api", api)
	root.Get("/media/{name}", mh.ServeFile)

	return &testEnv{router: root, svc: svc, sessions: sessions, engine: engine, token: token}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, admin bool, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type serverBody struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Port         int      `json:"port"`
	MaxPlayers   int      `json:"maxPlayers"`
	PlayerCount  int      `json:"playerCount"`
	Tags         []string `json:"tags"`
	ETag         string   `json:"etag"`
	IndexWarning string   `json:"index_warning"`
}

func (e *testEnv) create(t *testing.T, name, address string, tags any) serverBody {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/servers", map[string]any{
		"name":        name,
		"address":     address,
		"description": name + " description",
		"tags":        tags,
	}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[serverBody](t, w)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/admin/overview"},
		{http.MethodGet, "/api/admin/servers"},
		{http.MethodPost, "/api/admin/servers"},
		{http.MethodPatch, "/api/admin/servers/x"},
		{http.MethodDelete, "/api/admin/servers/x"},
		{http.MethodPost, "/api/admin/index/rebuild"},
		{http.MethodPost, "/api/admin/media"},
	} {
		w := env.do(t, tc.method, tc.path, nil, false)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": testPassword}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/overview", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview with cookie = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := decode[SessionResponse](t, rec); got.Authenticated {
		t.Error("session should be revoked after logout")
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = env.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "nope"}, false)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("4th attempt = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestCreateAndGetServer(t *testing.T) {
	env := newTestEnv(t)
	created := env.create(t, "Orbis", "Play.Orbis.example", "Survival, pvp,,survival")

	if created.Port != 25565 || created.MaxPlayers != 100 || created.PlayerCount != 0 {
		t.Errorf("defaults not applied: %+v", created)
	}
	if created.Address != "play.orbis.example" {
		t.Errorf("address = %q", created.Address)
	}
	if strings.Join(created.Tags, ",") != "survival,pvp" {
		t.Errorf("tags = %v", created.Tags)
	}
	if created.ETag == "" || created.IndexWarning != "" {
		t.Errorf("etag/index_warning = %q/%q", created.ETag, created.IndexWarning)
	}

	w := env.do(t, http.MethodGet, "/api/servers/"+created.ID, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := w.Header().Get("ETag"); got != `"`+created.ETag+`"` {
		t.Errorf("ETag header = %q", got)
	}

	w = env.do(t, http.MethodGet, "/api/servers/missing", nil, false)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing server = %d, want 404", w.Code)
	}
}

func TestCreateValidationAndDuplicate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/admin/servers", map[string]any{"name": "x"}, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid create = %d", w.Code)
	}
	body := decode[errResponse](t, w)
	if _, ok := body.Fields["address"]; !ok {
		t.Errorf("expected field error for address, got %+v", body)
	}

	w = env.do(t, http.MethodPost, "/api/admin/servers", `{"name":`, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON = %d", w.Code)
	}

	env.create(t, "One", "dup.example", nil)
	w = env.do(t, http.MethodPost, "/api/admin/servers", map[string]any{
		"name": "Two", "address": "DUP.example", "description": "d",
	}, true)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestUpdateServer(t *testing.T) {
	env := newTestEnv(t)
	created := env.create(t, "Orbis", "orbis.example", []string{"pvp"})
	path := "/api/admin/servers/" + created.ID

	w := env.do(t, http.MethodPatch, path, map[string]any{"playerCount": 42}, true,
		"If-Match", `"`+created.ETag+`"`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	updated := decode[serverBody](t, w)
	if updated.PlayerCount != 42 || updated.Name != "Orbis" || updated.ETag == created.ETag {
		t.Errorf("unexpected update result %+v", updated)
	}

	w = env.do(t, http.MethodPatch, path, map[string]any{"name": "Stale"}, true,
		"If-Match", `"`+created.ETag+`"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPatch, path, map[string]any{"tags": "a, B"}, true)
	if got := decode[serverBody](t, w); strings.Join(got.Tags, ",") != "a,b" {
		t.Errorf("tags after patch = %v", got.Tags)
	}

	w = env.do(t, http.MethodPatch, path, map[string]any{"port": 0}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid port = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPatch, "/api/admin/servers/missing", map[string]any{"name": "x"}, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("patch missing = %d, want 404", w.Code)
	}
}

func TestDeleteServer(t *testing.T) {
	env := newTestEnv(t)
	created := env.create(t, "Orbis", "orbis.example", nil)

	w := env.do(t, http.MethodDelete, "/api/admin/servers/"+created.ID, nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if got := decode[DeleteResponse](t, w); got.ID != created.ID || got.IndexWarning != "" {
		t.Errorf("delete response = %+v", got)
	}
	w = env.do(t, http.MethodDelete, "/api/admin/servers/"+created.ID, nil, true)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSearchServers(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "Alpha Survival", "alpha.example", "survival")
	env.create(t, "Beta Creative", "beta.example", "creative")
	env.create(t, "Gamma Survival", "gamma.example", "survival,pvp")

	w := env.do(t, http.MethodGet, "/api/servers?q=survival&sort=name&order=asc", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	res := decode[searchResponse](t, w)
	if res.TotalFound != 2 || len(res.Documents) != 2 || res.Documents[0].Name != "Alpha Survival" {
		t.Errorf("unexpected result %+v", res.SearchResult)
	}
	if res.Error != "" {
		t.Errorf("error = %q", res.Error)
	}

	w = env.do(t, http.MethodGet, "/api/servers?tags=pvp&tags=creative&per_page=1&page=2&sort=name&order=asc", nil, false)
	res = decode[searchResponse](t, w)
	if res.TotalFound != 2 || res.TotalPages != 2 || len(res.Documents) != 1 || res.Documents[0].Name != "Gamma Survival" {
		t.Errorf("tag any-of paging: %+v", res.SearchResult)
	}
	if len(res.Facets["tags"]) == 0 {
		t.Errorf("expected tag facets, got %+v", res.Facets)
	}
}

func TestSearchDegraded(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.DropCollection(context.Background(), index.Collection); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodGet, "/api/servers?q=anything", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("degraded search = %d", w.Code)
	}
	res := decode[searchResponse](t, w)
	if res.Error != "Search service unavailable" || res.TotalFound != 0 || len(res.Documents) != 0 || res.Page != 1 {
		t.Errorf("unexpected degraded result %+v", res)
	}
}

func TestRebuildIndex(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "A", "a.example", nil)
	env.create(t, "B", "b.example", nil)
	if err := env.engine.DropCollection(context.Background(), index.Collection); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/admin/index/rebuild", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d", w.Code)
	}
	if got := decode[RebuildResponse](t, w); got.Documents != 2 {
		t.Errorf("documents = %d, want 2", got.Documents)
	}
	res := decode[searchResponse](t, env.do(t, http.MethodGet, "/api/servers", nil, false))
	if res.TotalFound != 2 {
		t.Errorf("search after rebuild found %d", res.TotalFound)
	}
}

func TestAdminListAndOverview(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Alpha", "a.example", "pvp,eu")
	env.create(t, "Beta", "b.example", "pvp")
	env.do(t, http.MethodPatch, "/api/admin/servers/"+a.ID, map[string]any{"online": true}, true)

	w := env.do(t, http.MethodGet, "/api/admin/servers?tags=pvp,eu", nil, true)
	list := decode[ServerListResponse](t, w)
	if len(list.Servers) != 1 || list.Servers[0].ID != a.ID {
		t.Errorf("all-of tag list = %+v", list.Servers)
	}

	w = env.do(t, http.MethodGet, "/api/admin/overview", nil, true)
	ov := decode[serverservice.Overview](t, w)
	if ov.Total != 2 || ov.Online != 1 {
		t.Errorf("overview = %+v", ov)
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "Alpha", "a.example", nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/admin/servers/"+s.ID+"/stats", map[string]any{
			"playerCount": 10 * i,
			"online":      true,
			"timestamp":   base.Add(time.Duration(i) * time.Hour),
		}, true)
		if w.Code != http.StatusNoContent {
			t.Fatalf("record stats = %d, body = %s", w.Code, w.Body.String())
		}
	}
	w := env.do(t, http.MethodPost, "/api/admin/servers/"+s.ID+"/stats", map[string]any{"playerCount": -1}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative player count = %d", w.Code)
	}

	from := fmt.Sprint(base.Add(time.Hour).UnixMilli())
	w = env.do(t, http.MethodGet, "/api/servers/"+s.ID+"/stats?from="+from, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	got := decode[map[string][]struct {
		PlayerCount int `json:"playerCount"`
	}](t, w)
	if len(got["stats"]) != 2 || got["stats"][0].PlayerCount != 20 {
		t.Errorf("stats = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/api/servers/"+s.ID+"/stats?to=yesterday", nil, false)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad time = %d", w.Code)
	}
}

func TestMediaUploadAndServe(t *testing.T) {
	env := newTestEnv(t)

	upload := func(name string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/media", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+env.token)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	w := upload("icon.png", []byte("png-bytes"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[mediaResponse](t, w); got.URL != "/media/icon.png" || got.Size != 9 {
		t.Errorf("upload response = %+v", got)
	}

	if w := upload("script.sh", []byte("x")); w.Code != http.StatusBadRequest {
		t.Errorf("non-image upload = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/media/icon.png", nil, false)
	if w.Code != http.StatusOK || w.Body.String() != "png-bytes" {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	w = env.do(t, http.MethodGet, "/api/admin/media", nil, true)
	if !strings.Contains(w.Body.String(), "icon.png") {
		t.Errorf("list = %s", w.Body.String())
	}

	if w := env.do(t, http.MethodDelete, "/api/admin/media/icon.png", nil, true); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/media/icon.png", nil, false); w.Code != http.StatusNotFound {
		t.Errorf("serve after delete = %d", w.Code)
	}
}

func TestTagListUnmarshal(t *testing.T) {
	var a, b TagList
	if err := json.Unmarshal([]byte(`["PvP"," eu",""]`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`"PvP, eu,,pvp"`), &b); err != nil {
		t.Fatal(err)
	}
	if strings.Join(a, ",") != "pvp,eu" || strings.Join(b, ",") != "pvp,eu" {
		t.Errorf("a = %v, b = %v", a, b)
	}
	var c TagList
	if err := json.Unmarshal([]byte(`42`), &c); err == nil {
		t.Error("number should be rejected")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	l := newLimiter(RateLimitConfig{Burst: 1, RefillPerMin: 60})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if ok, _, _ := l.allow("ip"); !ok {
		t.Fatal("first request should pass")
	}
	ok, _, retry := l.allow("ip")
	if ok || retry != 1 {
		t.Fatalf("second request ok=%v retry=%d", ok, retry)
	}
	if ok, _, _ := l.allow("other"); !ok {
		t.Error("buckets should be per key")
	}
	now = now.Add(time.Second)
	if ok, _, _ := l.allow("ip"); !ok {
		t.Error("token should refill after a second")
	}
}
