// Package api implements the directory's HTTP surface using chi.
package api

import (
	"net/http"
)

// Authenticator reports whether a request carries an admin session.
type Authenticator interface {
	IsAuthenticated(r *http.Request) bool
}

// RequireAdmin rejects requests without a valid admin session.
func RequireAdmin(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.IsAuthenticated(r) {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
