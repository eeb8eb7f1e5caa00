// ABOUTME: Tests for the reverse-proxy forwarder
// ABOUTME: Covers auth, credential injection, config merging, and upstream errors

package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/cipher"
	"github.com/agentdeck/agentdeck/internal/session"
)

// capturedRequest records what the fake backend saw.
type capturedRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

type fakeBackend struct {
	*httptest.Server
	captured *capturedRequest
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.captured = &capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   body,
		}
		handler(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

type fakeMetrics struct {
	upstreamErrors int
	opened, closed int
}

func (m *fakeMetrics) UpstreamError() { m.upstreamErrors++ }
func (m *fakeMetrics) StreamOpened()  { m.opened++ }
func (m *fakeMetrics) StreamClosed()  { m.closed++ }

func newTestForwarder(t *testing.T, backendURL string) (*Forwarder, *session.Codec, *fakeMetrics) {
	t.Helper()
	c, err := cipher.NewFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	codec := session.NewCodec(c)
	u, err := url.Parse(backendURL)
	require.NoError(t, err)
	m := &fakeMetrics{}
	return NewForwarder(u, codec, m), codec, m
}

func authedRequest(t *testing.T, codec *session.Codec, method, target string, body io.Reader) *http.Request {
	t.Helper()
	value, err := codec.Encode(session.APIKeySecret("sk-live-key"))
	require.NoError(t, err)
	r := httptest.NewRequest(method, target, body)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: value})
	return r
}

func TestForwarder_InjectsCredential(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	f, codec, _ := newTestForwarder(t, backend.URL)

	r := authedRequest(t, codec, http.MethodGet, "/proxy/status?verbose=1", nil)
	r.Header.Set("Authorization", "Bearer attacker-supplied")
	r.Header.Set("User-Agent", "deck-test")
	r.Header.Set("X-Internal-Routing", "leak-me")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, backend.captured)
	assert.Equal(t, "/status", backend.captured.path)
	assert.Equal(t, "verbose=1", backend.captured.query)
	assert.Equal(t, "Bearer sk-live-key", backend.captured.header.Get("Authorization"))
	assert.Equal(t, "deck-test", backend.captured.header.Get("User-Agent"))
	assert.Empty(t, backend.captured.header.Get("X-Internal-Routing"))
}

func TestForwarder_NoCookie(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, _, _ := newTestForwarder(t, backend.URL)

	r := httptest.NewRequest(http.MethodGet, "/proxy/status", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, backend.captured, "unauthenticated request must not reach the backend")
}

func TestForwarder_TamperedCookieIs401Not500(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, codec, _ := newTestForwarder(t, backend.URL)

	r := authedRequest(t, codec, http.MethodGet, "/proxy/status", nil)
	r.Header.Del("Cookie")
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "tampered-garbage"})
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"]["code"])
	assert.NotEmpty(t, body["error"]["requestId"])
}

func TestForwarder_ExpiredOAuthSession(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, codec, _ := newTestForwarder(t, backend.URL)

	expired := session.OAuthSecret("tok", time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	value, err := codec.Encode(expired)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/proxy/status", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: value})
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, backend.captured)
}

func TestForwarder_UpstreamUnreachable(t *testing.T) {
	f, codec, m := newTestForwarder(t, "http://127.0.0.1:1")

	r := authedRequest(t, codec, http.MethodGet, "/proxy/status", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_unreachable")
	assert.Equal(t, 1, m.upstreamErrors)
}

func TestForwarder_UpstreamErrorPassthrough(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent is busy", http.StatusConflict)
	})
	f, codec, m := newTestForwarder(t, backend.URL)

	r := authedRequest(t, codec, http.MethodPost, "/proxy/message", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	// Original status preserved, body wrapped in the error envelope.
	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "upstream_error", body["error"]["code"])
	assert.Equal(t, "agent is busy", body["error"]["message"])
	assert.Equal(t, 1, m.upstreamErrors)
}

func TestForwarder_InvalidUpstreamJSON(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"truncated":`))
	})
	f, codec, _ := newTestForwarder(t, backend.URL)

	r := authedRequest(t, codec, http.MethodGet, "/proxy/status", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestForwarder_OpaquePassthrough(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("plain text body"))
	})
	f, codec, _ := newTestForwarder(t, backend.URL)

	r := authedRequest(t, codec, http.MethodGet, "/proxy/logs", nil)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "plain text body", w.Body.String())
}

func TestForwarder_MergesEncryptedConfig(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	f, codec, _ := newTestForwarder(t, backend.URL)

	secret := session.APIKeySecret("sk-live-key")
	bindingHash := session.BindingHash(secret)
	token, err := EncryptConfig(&ClientConfig{
		Env:          map[string]string{"MODEL": "large", "AREA": "eu"},
		McpServers:   []byte(`[{"name":"files"}]`),
		BaseURL:      "https://api.example.com",
		SystemPrompt: "be brief",
	}, bindingHash, time.Now())
	require.NoError(t, err)

	reqBody, err := json.Marshal(map[string]string{
		"message":         "hello",
		"encryptedConfig": token,
	})
	require.NoError(t, err)

	r := authedRequest(t, codec, http.MethodPost, "/proxy/message", strings.NewReader(string(reqBody)))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, backend.captured)

	// The blob never reaches the backend; the settings do, as headers.
	assert.NotContains(t, string(backend.captured.body), "encryptedConfig")
	assert.Contains(t, string(backend.captured.body), "hello")
	assert.Equal(t, "large", backend.captured.header.Get("X-Agentapi-Env-Model"))
	assert.Equal(t, "eu", backend.captured.header.Get("X-Agentapi-Env-Area"))
	assert.JSONEq(t, `[{"name":"files"}]`, backend.captured.header.Get("X-Agentapi-Mcp-Servers"))
	assert.Equal(t, "https://api.example.com", backend.captured.header.Get("X-Agentapi-Base-Url"))
	assert.Equal(t, "be brief", backend.captured.header.Get("X-Agentapi-System-Prompt"))
}

func TestMergeConfigHeaders_PreservesEnvNameCase(t *testing.T) {
	headers := make(http.Header)
	mergeConfigHeaders(headers, &ClientConfig{
		Env: map[string]string{
			"MODEL":      "large",
			"model":      "small",
			"HTTP_PROXY": "http://proxy:3128",
		},
	})

	// Env var names are case-sensitive, so the header keys must keep the
	// exact spelling instead of being folded to canonical MIME form.
	assert.Equal(t, []string{"large"}, headers["X-Agentapi-Env-MODEL"])
	assert.Equal(t, []string{"small"}, headers["X-Agentapi-Env-model"])
	assert.Equal(t, []string{"http://proxy:3128"}, headers["X-Agentapi-Env-HTTP_PROXY"])
	assert.NotContains(t, headers, "X-Agentapi-Env-Model")
}

func TestForwarder_RejectsForeignConfig(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, codec, _ := newTestForwarder(t, backend.URL)

	// Blob encrypted for a different session's secret.
	otherHash := session.BindingHash(session.APIKeySecret("someone-elses-key"))
	token, err := EncryptConfig(&ClientConfig{Env: map[string]string{"X": "1"}}, otherHash, time.Now())
	require.NoError(t, err)

	reqBody, _ := json.Marshal(map[string]string{"encryptedConfig": token})
	r := authedRequest(t, codec, http.MethodPost, "/proxy/message", strings.NewReader(string(reqBody)))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid encrypted configuration")
	assert.Nil(t, backend.captured, "request with a bad blob must not be forwarded")
}

func TestForwarder_BodyTooLarge(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, codec, _ := newTestForwarder(t, backend.URL)

	big := strings.NewReader(strings.Repeat("a", maxBodySize+1))
	r := authedRequest(t, codec, http.MethodPost, "/proxy/message", big)
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestForwarder_RequestIDPropagation(t *testing.T) {
	backend := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	f, _, _ := newTestForwarder(t, backend.URL)

	r := httptest.NewRequest(http.MethodGet, "/proxy/status", nil)
	r.Header.Set("X-Request-Id", "req-abc-123")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, r)

	assert.Contains(t, w.Body.String(), "req-abc-123")
}
