// ABOUTME: Reverse-proxy core forwarding authenticated requests to the agent backend
// ABOUTME: Injects bearer credentials and merges decrypted client config into headers

package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/session"
)

// maxBodySize bounds proxied request bodies.
const maxBodySize = 10 << 20

// forwardedHeaders is the fixed allow-list of client headers propagated
// upstream. Everything else is dropped so internal routing headers never
// leak.
var forwardedHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Cache-Control",
	"Pragma",
	"Sec-Fetch-Dest",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Site",
}

// Metrics is the slice of the metrics surface the forwarder reports to.
type Metrics interface {
	UpstreamError()
	StreamOpened()
	StreamClosed()
}

// Forwarder rebuilds inbound requests for the agent backend and relays the
// responses, buffered or streaming.
type Forwarder struct {
	backend      *url.URL
	codec        *session.Codec
	client       *http.Client
	streamClient *http.Client
	metrics      Metrics
	logger       *slog.Logger
}

// NewForwarder builds the proxy core. The buffered client carries a request
// timeout; the streaming client must not, since SSE connections are
// long-lived and are torn down by request-context cancellation instead.
func NewForwarder(backend *url.URL, codec *session.Codec, metrics Metrics) *Forwarder {
	return &Forwarder{
		backend:      backend,
		codec:        codec,
		client:       &http.Client{Timeout: 60 * time.Second},
		streamClient: &http.Client{},
		metrics:      metrics,
		logger:       slog.Default().With("component", "proxy"),
	}
}

// ServeHTTP handles ANY /proxy/{path...}. Full session verification happens
// here: the gate upstream only checked cookie presence.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)

	secret, err := f.codec.FromRequest(r)
	if err != nil {
		f.writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestID)
		return
	}
	if secret.Expired(time.Now()) {
		f.writeError(w, http.StatusUnauthorized, "unauthorized", "session expired", requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", requestID)
		return
	}
	if len(body) > maxBodySize {
		f.writeError(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large", requestID)
		return
	}

	headers := f.upstreamHeaders(r, secret)

	// A JSON body may carry an encryptedConfig field: decrypt it for this
	// session, strip it from the forwarded body, and translate the settings
	// into backend headers. Failure never forwards the undecrypted blob.
	if len(body) > 0 && isJSONRequest(r) && bytes.Contains(body, []byte(`"encryptedConfig"`)) {
		body, err = f.applyEncryptedConfig(body, headers, secret, requestID)
		if err != nil {
			f.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid encrypted configuration", requestID)
			return
		}
	}

	upstreamURL := f.upstreamURL(r)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		f.relay(w, r, upstreamURL, headers, requestID)
		return
	}

	f.forwardBuffered(w, r, upstreamURL, headers, body, requestID)
}

// forwardBuffered executes the upstream call and relays the full response.
func (f *Forwarder) forwardBuffered(w http.ResponseWriter, r *http.Request, upstreamURL string, headers http.Header, body []byte, requestID string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		f.writeError(w, http.StatusInternalServerError, "internal", "failed to build upstream request", requestID)
		return
	}
	req.Header = headers

	resp, err := f.client.Do(req)
	if err != nil {
		if f.metrics != nil {
			f.metrics.UpstreamError()
		}
		f.logger.Error("upstream request failed", "error", err, "url", upstreamURL, "request_id", requestID)
		f.writeError(w, http.StatusInternalServerError, "upstream_unreachable", "backend request failed", requestID)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		f.logger.Error("reading upstream response failed", "error", err, "request_id", requestID)
		f.writeError(w, http.StatusInternalServerError, "upstream_unreachable", "backend response failed", requestID)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if f.metrics != nil {
			f.metrics.UpstreamError()
		}
		f.writeUpstreamError(w, resp.StatusCode, respBody, requestID)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		// Parse and re-serialize so clients always receive well-formed JSON.
		var parsed json.RawMessage
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			f.writeError(w, http.StatusInternalServerError, "upstream_error", "backend returned invalid JSON", requestID)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(parsed)
		return
	}

	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// applyEncryptedConfig strips the encryptedConfig field from the body and
// merges the decrypted settings into the upstream headers.
func (f *Forwarder) applyEncryptedConfig(body []byte, headers http.Header, secret session.Secret, requestID string) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing request body: %w", err)
	}
	raw, ok := doc["encryptedConfig"]
	if !ok {
		return body, nil
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("encryptedConfig is not a string: %w", err)
	}

	bindingHash := session.BindingHash(secret)
	cfg, err := DecryptConfig(token, bindingHash, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrConfigBinding):
			f.logger.Warn("config blob bound to a different session", "request_id", requestID)
		case errors.Is(err, ErrConfigStale):
			f.logger.Warn("config blob outside freshness window", "request_id", requestID)
		default:
			f.logger.Warn("config blob failed to decrypt", "request_id", requestID)
		}
		return nil, err
	}

	mergeConfigHeaders(headers, cfg)

	delete(doc, "encryptedConfig")
	stripped, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding request body: %w", err)
	}
	return stripped, nil
}

// mergeConfigHeaders translates decrypted settings into backend headers:
// one header per environment variable, the MCP server list as a single JSON
// header, and scalar overrides as their own headers.
func mergeConfigHeaders(headers http.Header, cfg *ClientConfig) {
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// Assigned directly: Set would canonicalize the env var's name,
		// folding MODEL and model into one header.
		headers["X-Agentapi-Env-"+k] = []string{cfg.Env[k]}
	}
	if len(cfg.McpServers) > 0 {
		headers.Set("X-Agentapi-Mcp-Servers", string(cfg.McpServers))
	}
	if cfg.BaseURL != "" {
		headers.Set("X-Agentapi-Base-Url", cfg.BaseURL)
	}
	if cfg.SystemPrompt != "" {
		headers.Set("X-Agentapi-System-Prompt", cfg.SystemPrompt)
	}
}

// upstreamHeaders builds the backend-bound header set: the allow-listed
// client headers plus the session's bearer credential. Any client-supplied
// Authorization is ignored.
func (f *Forwarder) upstreamHeaders(r *http.Request, secret session.Secret) http.Header {
	headers := make(http.Header)
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			headers.Set(name, v)
		}
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	headers.Set("Authorization", "Bearer "+secret.Credential())
	return headers
}

// upstreamURL maps /proxy/{path...} onto the backend base URL, preserving
// the query string.
func (f *Forwarder) upstreamURL(r *http.Request) string {
	path := r.PathValue("path")
	if path == "" {
		path = strings.TrimPrefix(r.URL.Path, "/proxy/")
	}
	u := *f.backend
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

// writeUpstreamError passes a non-2xx upstream response through with its
// original status, body wrapped in the uniform error envelope.
func (f *Forwarder) writeUpstreamError(w http.ResponseWriter, status int, body []byte, requestID string) {
	message := strings.TrimSpace(string(body))
	if len(message) > 2048 {
		message = message[:2048]
	}
	if message == "" {
		message = http.StatusText(status)
	}
	f.writeError(w, status, "upstream_error", message, requestID)
}

func (f *Forwarder) writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": requestID,
		},
	})
}

func isJSONRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// requestID reuses an inbound X-Request-Id or mints a new one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}
