// ABOUTME: Request gate middleware checking session cookie presence
// ABOUTME: Allow-lists public paths and redirects or rejects everything else

package gate

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentdeck/agentdeck/internal/session"
)

// Gate is a cheap presence check over the cookie jar. It deliberately does
// no cryptographic verification: that is deferred to the endpoint that
// actually needs the secret, so a corrupt cookie can still reach the login
// page instead of looping through redirects.
type Gate struct {
	allowExact  map[string]bool
	allowPrefix []string
	logger      *slog.Logger
}

// New builds a gate with the standard public allow-list plus any extra
// paths (exact matches unless they end in "/", which makes them prefixes).
func New(extra ...string) *Gate {
	g := &Gate{
		allowExact: map[string]bool{
			"/login":   true,
			"/health":  true,
			"/healthz": true,
		},
		allowPrefix: []string{
			"/api/auth/",
			"/oauth/",
			"/static/",
			"/share/",
		},
		logger: slog.Default().With("component", "gate"),
	}
	for _, p := range extra {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			g.allowPrefix = append(g.allowPrefix, p)
		} else {
			g.allowExact[p] = true
		}
	}
	return g
}

// Allowed reports whether the path bypasses the gate unconditionally.
func (g *Gate) Allowed(path string) bool {
	if g.allowExact[path] {
		return true
	}
	for _, prefix := range g.allowPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware enforces cookie presence on every non-allow-listed path.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Allowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if _, err := r.Cookie(session.CookieName); err == nil {
			next.ServeHTTP(w, r)
			return
		}

		switch {
		case r.URL.Path == "/" && isPageNavigation(r):
			// SPA shell: flag the retry in the query so client code can
			// decide between a login modal and a hard redirect.
			if r.URL.Query().Get("auth") == "required" {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "/?auth=required", http.StatusSeeOther)
		case isPageNavigation(r):
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"}}`))
		}
	})
}

// isPageNavigation distinguishes browser navigations from API calls.
func isPageNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
