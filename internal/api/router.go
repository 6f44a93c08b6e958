package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HyServers/hyservers-web/internal/metrics"
	"github.com/HyServers/hyservers-web/internal/serverservice"
)

// Deps are the collaborators mounted by NewRouter.
type Deps struct {
	Service  *serverservice.Service
	Sessions SessionManager
	Media    *MediaHandler
	// Events, if non-nil, is mounted at GET /admin/events.
	Events     http.Handler
	LoginLimit RateLimitConfig
	Logger     *slog.Logger
}

// NewRouter creates the /api router. Public routes serve search and server
// detail; everything under /admin except login and session status requires
// an admin session.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Service, d.Logger)
	sh := NewSessionHandler(d.Sessions, d.Logger)

	loginLimit := d.LoginLimit
	if loginLimit.OnLimit == nil {
		loginLimit.OnLimit = func(*http.Request) {
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
		}
	}

	r := chi.NewRouter()

	// Public directory.
	r.Get("/servers", h.SearchServers)
	r.Get("/servers/{id}", h.GetServer)
	r.Get("/servers/{id}/stats", h.ServerStats)

	r.Route("/admin", func(r chi.Router) {
		r.With(RateLimit(loginLimit)).Post("/login", sh.Login)
		r.Post("/logout", sh.Logout)
		r.Get("/session", sh.Session)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(d.Sessions))

			r.Get("/overview", h.Overview)
			r.Get("/servers", h.ListServers)
			r.Post("/servers", h.CreateServer)
			r.Get("/servers/{id}", h.GetServer)
			r.Patch("/servers/{id}", h.UpdateServer)
			r.Delete("/servers/{id}", h.DeleteServer)
			r.Post("/servers/{id}/stats", h.RecordStats)
			r.Post("/index/rebuild", h.RebuildIndex)

			if d.Media != nil {
				r.Get("/media", d.Media.List)
				r.Post("/media", d.Media.Upload)
				r.Delete("/media/{name}", d.Media.Delete)
			}
			if d.Events != nil {
				r.Get("/events", d.Events.ServeHTTP)
			}
		})
	})

	return r
}
