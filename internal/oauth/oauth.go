// ABOUTME: OAuth authorization-code flow with CSRF state verification
// ABOUTME: Exchanges provider codes for access tokens and establishes sessions

package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/internal/session"
)

// Flow errors.
var (
	ErrStateRejected = errors.New("oauth: state missing or mismatched")
	ErrTokenExchange = errors.New("oauth: token exchange failed")
)

// StateCookieName holds the single-use CSRF state between start and callback.
const StateCookieName = "oauth_state"

// stateTTL bounds how long a started flow stays valid.
const stateTTL = 15 * time.Minute

// Config identifies the provider endpoints and client registration.
type Config struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Enabled reports whether an OAuth provider is configured at all.
func (c Config) Enabled() bool {
	return c.AuthorizeURL != "" && c.TokenURL != "" && c.ClientID != ""
}

// Flow drives the authorization-code exchange and hands completed sessions
// to the cookie codec.
type Flow struct {
	cfg             Config
	codec           *session.Codec
	client          *http.Client
	sessionLifetime time.Duration
	logger          *slog.Logger
}

// NewFlow builds an OAuth flow controller. A nil client uses a 15s-timeout
// default; lifetime <= 0 falls back to the session default.
func NewFlow(cfg Config, codec *session.Codec, client *http.Client, lifetime time.Duration) *Flow {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if lifetime <= 0 {
		lifetime = session.DefaultLifetime
	}
	return &Flow{
		cfg:             cfg,
		codec:           codec,
		client:          client,
		sessionLifetime: lifetime,
		logger:          slog.Default().With("component", "oauth"),
	}
}

// startRequest is the optional JSON body accepted by HandleStart.
type startRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// HandleStart begins a flow: generates the CSRF state, stores it in a
// short-lived cookie, and either redirects to the provider or returns the
// authorization URL as JSON for SPA-driven navigation.
func (f *Flow) HandleStart(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		f.logger.Error("failed to generate state", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	redirectURI := f.cfg.RedirectURI
	if r.Body != nil {
		var req startRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err == nil && req.RedirectURI != "" {
			redirectURI = req.RedirectURI
		}
	}

	// The redirect URI rides along with the state: the token exchange must
	// echo the exact value used in the authorization request.
	http.SetCookie(w, stateCookie(packState(state, redirectURI), int(stateTTL/time.Second)))

	authURL := f.authorizationURL(state, redirectURI)
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"auth_url": authURL,
			"state":    state,
		})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback verifies the returned state against the cookie, consumes
// the state, exchanges the code, and establishes the session.
//
// Side-effect ordering is strict: the state cookie is invalidated before the
// session cookie is set, so a half-completed flow never leaves both alive.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		f.rejectCSRF(w, r, "missing code or state")
		return
	}

	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		f.rejectCSRF(w, r, "state cookie absent")
		return
	}
	cookieState, redirectURI := f.unpackState(cookie.Value)
	if subtle.ConstantTimeCompare([]byte(cookieState), []byte(state)) != 1 {
		f.rejectCSRF(w, r, "state mismatch")
		return
	}

	// State is single use: consume it before anything else can fail.
	http.SetCookie(w, stateCookie("", -1))

	token, err := f.exchangeCode(r.Context(), code, redirectURI)
	if err != nil {
		f.logger.Error("token exchange failed", "error", err)
		http.Redirect(w, r, "/login?error=token_exchange", http.StatusSeeOther)
		return
	}

	now := time.Now().UTC()
	secret := session.OAuthSecret(token, now, now.Add(f.sessionLifetime))
	value, err := f.codec.Encode(secret)
	if err != nil {
		f.logger.Error("failed to encode session", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, session.NewCookie(value, f.sessionLifetime))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// tokenResponse is the one explicit schema accepted from the provider's
// token endpoint. Unknown or renamed fields are an exchange failure, not a
// guessing game.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeCode POSTs the authorization code to the provider, echoing the
// redirect URI from the authorization request. Non-2xx or non-JSON responses
// are hard failures; there is no retry.
func (f *Flow) exchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
		"client_id":    {f.cfg.ClientID},
	}
	if f.cfg.ClientSecret != "" {
		form.Set("client_secret", f.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: provider returned %d: %s", ErrTokenExchange, resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: non-JSON response: %v", ErrTokenExchange, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access_token", ErrTokenExchange)
	}
	return token.AccessToken, nil
}

func (f *Flow) authorizationURL(state, redirectURI string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {f.cfg.ClientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
	}
	sep := "?"
	if strings.Contains(f.cfg.AuthorizeURL, "?") {
		sep = "&"
	}
	return f.cfg.AuthorizeURL + sep + params.Encode()
}

// rejectCSRF redirects to the login page with an opaque error code. Never a
// 500: a rejected state is an expected hostile or stale input.
func (f *Flow) rejectCSRF(w http.ResponseWriter, r *http.Request, reason string) {
	f.logger.Warn("oauth callback rejected", "reason", reason)
	http.SetCookie(w, stateCookie("", -1))
	http.Redirect(w, r, "/login?error=oauth_state", http.StatusSeeOther)
}

// packState joins the CSRF state and the flow's redirect URI into one cookie
// value, "<state>.<base64url(redirect)>". The state is base64url and never
// contains the separator.
func packState(state, redirectURI string) string {
	return state + "." + base64.RawURLEncoding.EncodeToString([]byte(redirectURI))
}

// unpackState splits a state cookie back apart. Values without a decodable
// redirect part fall back to the configured redirect URI.
func (f *Flow) unpackState(value string) (state, redirectURI string) {
	state, encoded, ok := strings.Cut(value, ".")
	if !ok {
		return value, f.cfg.RedirectURI
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) == 0 {
		return state, f.cfg.RedirectURI
	}
	return state, string(raw)
}

func stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

// generateState returns a cryptographically random, URL-safe token.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
