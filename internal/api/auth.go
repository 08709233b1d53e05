package api

import (
	"context"
	"net/http"
	"strings"

	"syncgate/internal/auth"
)

type ctxKeyPrincipal struct{}

// authenticate verifies the bearer token and stores the principal on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearer(r)
		if tok == "" {
			// Browsers cannot set headers on websocket upgrades.
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
			return
		}
		p, err := s.auth.Verify(r.Context(), tok)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

// requireRole rejects principals below role.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := r.Context().Value(ctxKeyPrincipal{}).(auth.Principal)
			if !p.Allows(role) {
				writeProblem(w, http.StatusForbidden, "Forbidden", role+" required", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
