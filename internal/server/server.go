// ABOUTME: HTTP server wiring the auth, proxy, share, and metrics surfaces
// ABOUTME: Owns the mux, middleware chain, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agentdeck/agentdeck/internal/cache"
	cookiecipher "github.com/agentdeck/agentdeck/internal/cipher"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/gate"
	"github.com/agentdeck/agentdeck/internal/metrics"
	"github.com/agentdeck/agentdeck/internal/oauth"
	"github.com/agentdeck/agentdeck/internal/proxy"
	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/share"
)

// validationTTL is how long a successful login pre-validation is cached, so
// rapid re-logins with the same key skip the backend round trip.
const validationTTL = 30 * time.Second

// Server is the agentdeck HTTP front end.
type Server struct {
	cfg        *config.Config
	backend    *url.URL
	codec      *session.Codec
	forwarder  *proxy.Forwarder
	oauthFlow  *oauth.Flow
	issuer     *share.Issuer
	gate       *gate.Gate
	collector  *metrics.Collector
	validCache *cache.Cache
	httpClient *http.Client
	httpServer *http.Server
	logger     *slog.Logger
}

// New assembles a server from configuration. It builds the cookie cipher,
// session codec, proxy forwarder, and optional OAuth flow and share issuer.
func New(cfg *config.Config) (*Server, error) {
	backend, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}

	var c *cookiecipher.Cipher
	if cfg.Auth.CipherKey != "" {
		c, err = cookiecipher.NewFromHex(cfg.Auth.CipherKey)
	} else {
		c, err = cookiecipher.NewFromPassphrase(cfg.Auth.CookiePassphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("building cookie cipher: %w", err)
	}

	codec := session.NewCodec(c)
	collector := metrics.NewCollector(nil)

	s := &Server{
		cfg:        cfg,
		backend:    backend,
		codec:      codec,
		forwarder:  proxy.NewForwarder(backend, codec, collector),
		gate:       gate.New(gateExtras(cfg)...),
		collector:  collector,
		validCache: cache.New(time.Minute),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "server"),
	}

	oauthCfg := oauth.Config{
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURI:  cfg.OAuth.RedirectURI,
	}
	if oauthCfg.Enabled() {
		s.oauthFlow = oauth.NewFlow(oauthCfg, codec, nil, cfg.Auth.SessionLifetime)
	}
	if cfg.Share.Secret != "" {
		s.issuer = share.NewIssuer([]byte(cfg.Share.Secret))
	}

	return s, nil
}

// gateExtras lists config-dependent public paths: the scrape endpoint must
// be reachable without a browser session.
func gateExtras(cfg *config.Config) []string {
	if cfg.Metrics.Enabled {
		return []string{cfg.Metrics.Path}
	}
	return nil
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/runtime-config", s.handleRuntimeConfig)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)

	if s.oauthFlow != nil {
		mux.HandleFunc("GET /oauth/start", s.oauthFlow.HandleStart)
		mux.HandleFunc("POST /oauth/start", s.oauthFlow.HandleStart)
		mux.HandleFunc("GET /oauth/callback", s.oauthFlow.HandleCallback)
	}

	if s.issuer != nil {
		mux.HandleFunc("POST /api/share", s.handleCreateShare)
		mux.HandleFunc("GET /share/{token}", s.handleViewShare)
	}

	mux.Handle("/proxy/{path...}", s.forwarder)

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.collector.Handler())
	}

	return s.observe(s.gate.Middleware(mux))
}

// Start runs the HTTP listener until the context is cancelled, then drains
// in-flight requests. WriteTimeout stays zero: SSE relays are long-lived.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.validCache.Close()
	return s.httpServer.Shutdown(shutdownCtx)
}

// observe records per-request metrics around the whole chain.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.collector.ObserveRequest(r.Method, sw.status, time.Since(start).Seconds())
	})
}

// statusWriter captures the response status for metrics. It passes the
// Flusher through so SSE relays still work under the middleware.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
