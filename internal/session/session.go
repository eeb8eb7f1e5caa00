// ABOUTME: Secret model and session cookie codec for the agent backend
// ABOUTME: Seals API keys and OAuth bundles into tamper-evident cookie values

package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"github.com/agentdeck/agentdeck/internal/cipher"
)

// ErrUnauthorized covers every way a client-supplied cookie value can be
// bad: absent plaintext, malformed base64, failed authentication tag. The
// distinction is deliberately not exposed.
var ErrUnauthorized = errors.New("session: cookie missing or invalid")

// CookieName is the session cookie set at login and checked on every request.
const CookieName = "agentapi_token"

// DefaultLifetime is the session cookie lifetime when config leaves it unset.
const DefaultLifetime = 24 * time.Hour

// SecretKind discriminates the two credential shapes a session can hold.
type SecretKind string

const (
	KindAPIKey SecretKind = "api_key"
	KindOAuth  SecretKind = "oauth"
)

// Secret is an opaque credential: either a raw API key or an OAuth access
// token bundle. It exists only inside a request's Session and is never
// persisted server-side.
type Secret struct {
	Kind        SecretKind
	APIKey      string
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// APIKeySecret wraps a bare API key.
func APIKeySecret(key string) Secret {
	return Secret{Kind: KindAPIKey, APIKey: key}
}

// OAuthSecret wraps a provider access token with its validity window.
func OAuthSecret(token string, issuedAt, expiresAt time.Time) Secret {
	return Secret{Kind: KindOAuth, AccessToken: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}
}

// Credential returns the bearer credential sent upstream.
func (s Secret) Credential() string {
	if s.Kind == KindOAuth {
		return s.AccessToken
	}
	return s.APIKey
}

// Expired reports whether an OAuth secret is past its expiry. API key
// secrets never expire on their own.
func (s Secret) Expired(now time.Time) bool {
	return s.Kind == KindOAuth && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// bindingDomainKey is the fixed BLAKE3 key for binding hashes. ASCII,
// zero-padded to 32 bytes; changing it invalidates every outstanding
// encrypted config blob.
var bindingDomainKey = [32]byte{
	'a', 'g', 'e', 'n', 't', 'd', 'e', 'c', 'k', '.', 'b', 'i', 'n', 'd', 'i', 'n',
	'g', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// BindingHash returns a stable one-way fingerprint of the secret's
// credential. It is a correlation key, not a storage hash: other subsystems
// use it to check that an encrypted blob belongs to this session without
// re-exposing the credential. Deterministic across process restarts.
func BindingHash(s Secret) string {
	hasher, err := blake3.NewKeyed(bindingDomainKey[:])
	if err != nil {
		// The key is a compile-time constant of the right size.
		panic("session: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(s.Credential()))
	return hex.EncodeToString(hasher.Sum(nil))
}

// secretDoc is the sealed wire form. The explicit kind discriminant removes
// the ambiguity of inferring the shape by attempting a JSON parse.
type secretDoc struct {
	V           int        `json:"v"`
	Kind        SecretKind `json:"kind"`
	APIKey      string     `json:"apiKey,omitempty"`
	AccessToken string     `json:"accessToken,omitempty"`
	IssuedAt    int64      `json:"issuedAt,omitempty"`
	ExpiresAt   int64      `json:"expiresAt,omitempty"`
}

// Codec builds and parses session cookie values.
type Codec struct {
	cipher *cipher.Cipher
}

// NewCodec wraps an AuthenticatedCipher into a cookie codec.
func NewCodec(c *cipher.Cipher) *Codec {
	return &Codec{cipher: c}
}

// Encode seals the secret into an opaque cookie value.
func (c *Codec) Encode(s Secret) (string, error) {
	doc := secretDoc{
		V:           1,
		Kind:        s.Kind,
		APIKey:      s.APIKey,
		AccessToken: s.AccessToken,
	}
	if !s.IssuedAt.IsZero() {
		doc.IssuedAt = s.IssuedAt.Unix()
	}
	if !s.ExpiresAt.IsZero() {
		doc.ExpiresAt = s.ExpiresAt.Unix()
	}
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding secret: %w", err)
	}
	return c.cipher.Seal(plaintext)
}

// Decode opens a cookie value back into a Secret. Tampered, truncated, or
// otherwise malformed values return ErrUnauthorized, never a server error.
//
// Compatibility seam: plaintexts that are not a versioned document with a
// recognized "kind" field are treated as a bare API key. An API key that
// happens to be valid JSON (a quoted string, a number, an array) still takes
// the bare path because only objects carrying the discriminant parse as
// structured secrets.
func (c *Codec) Decode(value string) (Secret, error) {
	if value == "" {
		return Secret{}, ErrUnauthorized
	}
	plaintext, err := c.cipher.Open(value)
	if err != nil {
		return Secret{}, ErrUnauthorized
	}

	var doc secretDoc
	if err := json.Unmarshal(plaintext, &doc); err == nil {
		switch doc.Kind {
		case KindAPIKey:
			return APIKeySecret(doc.APIKey), nil
		case KindOAuth:
			return OAuthSecret(doc.AccessToken, unixOrZero(doc.IssuedAt), unixOrZero(doc.ExpiresAt)), nil
		}
	}

	// Legacy cookie: the plaintext is the credential itself.
	return APIKeySecret(string(plaintext)), nil
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// NewCookie builds the session cookie with the hardened attribute set.
func NewCookie(value string, lifetime time.Duration) *http.Cookie {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(lifetime / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ExpiredCookie overwrites the session cookie with an empty, immediately
// expired value. Logout is exactly this.
func ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// FromRequest extracts and decodes the session secret from the request's
// cookie jar.
func (c *Codec) FromRequest(r *http.Request) (Secret, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Secret{}, ErrUnauthorized
	}
	return c.Decode(cookie.Value)
}
