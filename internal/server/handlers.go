// ABOUTME: Request handlers for login, logout, status, shares, and the shell pages
// ABOUTME: All JSON errors use the uniform error envelope

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/share"
)

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

// handleLogin validates an API key, seals it into the session cookie, and
// returns 200. Pre-validation policy: an explicit backend rejection blocks
// login, an unreachable backend does not. Availability problems should not
// lock users out of a proxy whose whole job is to reach that backend later.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "apiKey is required")
		return
	}

	secret := session.APIKeySecret(req.APIKey)

	if !s.cfg.Auth.SkipValidation {
		if ok := s.validateKey(r, secret); !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "backend rejected the API key")
			return
		}
	}

	value, err := s.codec.Encode(secret)
	if err != nil {
		s.logger.Error("failed to encode session", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to establish session")
		return
	}

	http.SetCookie(w, session.NewCookie(value, s.cfg.Auth.SessionLifetime))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// validateKey checks the API key against the backend's status endpoint.
// Results are cached briefly keyed by the key's binding hash, so the raw key
// never sits in the cache.
func (s *Server) validateKey(r *http.Request, secret session.Secret) bool {
	bindingHash := session.BindingHash(secret)
	if _, ok := s.validCache.Get(bindingHash); ok {
		return true
	}

	u := *s.backend
	u.Path = strings.TrimSuffix(u.Path, "/") + "/status"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return true
	}
	req.Header.Set("Authorization", "Bearer "+secret.Credential())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("login validation skipped, backend unreachable", "error", err)
		return true
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false
	}

	s.validCache.Set(bindingHash, true, validationTTL)
	return true
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ExpiredCookie())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleAuthStatus reports whether the caller holds a decodable session.
// Unlike the gate this does full verification, so the SPA can distinguish a
// present-but-broken cookie from a live session.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	secret, err := s.codec.FromRequest(r)
	if err != nil || secret.Expired(time.Now()) {
		json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
		return
	}

	out := map[string]any{
		"authenticated": true,
		"kind":          secret.Kind,
	}
	if !secret.ExpiresAt.IsZero() {
		out["expiresAt"] = secret.ExpiresAt.UTC().Format(time.RFC3339)
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRuntimeConfig exposes the non-secret settings the web shell needs
// before login.
func (s *Server) handleRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"singleProfile": s.cfg.Auth.SingleProfile,
		"oauthEnabled":  s.oauthFlow != nil,
	})
}

type createShareRequest struct {
	Path string `json:"path"`
	TTL  string `json:"ttl"`
}

// handleCreateShare mints a read-only share link for one backend path. The
// caller must hold a live session; the minted token never embeds the secret.
func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	if _, err := s.codec.FromRequest(r); err != nil {
		s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req createShareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	cleaned := path.Clean("/" + strings.TrimPrefix(req.Path, "/"))
	if cleaned == "/" || strings.Contains(cleaned, "..") {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "path is required")
		return
	}

	ttl := share.DefaultTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", "invalid ttl")
			return
		}
		ttl = d
	}

	token, err := s.issuer.Issue(cleaned, ttl)
	if err != nil {
		s.logger.Error("failed to issue share token", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to create share link")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token": token,
		"url":   "/share/" + token,
	})
}

// handleViewShare serves one backend path to an anonymous holder of a valid
// share token. Strictly read-only: the backend call is a bare GET and never
// carries a credential.
func (s *Server) handleViewShare(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	sharedPath, err := s.issuer.Verify(token)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "not_found", "share link invalid or expired")
		return
	}

	u := *s.backend
	u.Path = strings.TrimSuffix(u.Path, "/") + sharedPath
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to build backend request")
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.collector.UpstreamError()
		s.writeError(w, r, http.StatusBadGateway, "upstream_unreachable", "backend request failed")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, io.LimitReader(resp.Body, 10<<20))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginHTML)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": requestID(r),
		},
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}
