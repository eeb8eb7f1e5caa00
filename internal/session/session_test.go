// ABOUTME: Tests for the session secret codec and cookie handling
// ABOUTME: Covers both secret kinds, legacy fallback, and tamper rejection

package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/cipher"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := cipher.NewFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	return NewCodec(c)
}

func TestCodec_APIKeyRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	value, err := codec.Encode(APIKeySecret("sk-test-12345"))
	require.NoError(t, err)
	assert.NotContains(t, value, "sk-test-12345")

	secret, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, secret.Kind)
	assert.Equal(t, "sk-test-12345", secret.Credential())
	assert.False(t, secret.Expired(time.Now()))
}

func TestCodec_OAuthRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(24 * time.Hour)

	value, err := codec.Encode(OAuthSecret("access-token-xyz", issued, expires))
	require.NoError(t, err)

	secret, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, KindOAuth, secret.Kind)
	assert.Equal(t, "access-token-xyz", secret.Credential())
	assert.Equal(t, issued, secret.IssuedAt)
	assert.Equal(t, expires, secret.ExpiresAt)

	assert.False(t, secret.Expired(expires.Add(-time.Minute)))
	assert.True(t, secret.Expired(expires.Add(time.Minute)))
}

func TestCodec_LegacyBareKeyFallback(t *testing.T) {
	c, err := cipher.NewFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	codec := NewCodec(c)

	// Old cookies sealed the raw credential with no JSON wrapper.
	value, err := c.Seal([]byte("legacy-api-key"))
	require.NoError(t, err)

	secret, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, KindAPIKey, secret.Kind)
	assert.Equal(t, "legacy-api-key", secret.Credential())
}

func TestCodec_JSONShapedAPIKeyStaysBare(t *testing.T) {
	c, err := cipher.NewFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	codec := NewCodec(c)

	// Keys that happen to be valid JSON must not be mistaken for the
	// structured document.
	for _, key := range []string{`"quoted"`, `12345`, `[1,2,3]`, `{"foo":"bar"}`} {
		value, err := c.Seal([]byte(key))
		require.NoError(t, err)

		secret, err := codec.Decode(value)
		require.NoError(t, err)
		assert.Equal(t, KindAPIKey, secret.Kind, "key %s", key)
		assert.Equal(t, key, secret.Credential(), "key %s", key)
	}
}

func TestCodec_DecodeRejectsBadInput(t *testing.T) {
	codec := newTestCodec(t)

	for _, value := range []string{"", "garbage", "bm90LWEtdmFsaWQtZW52ZWxvcGU"} {
		_, err := codec.Decode(value)
		assert.ErrorIs(t, err, ErrUnauthorized, "value %q", value)
	}
}

func TestCodec_DecodeRejectsTampered(t *testing.T) {
	codec := newTestCodec(t)

	value, err := codec.Encode(APIKeySecret("sk-test"))
	require.NoError(t, err)

	tampered := value[:len(value)-2] + "xx"
	_, err = codec.Decode(tampered)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCodec_DecodeRejectsOtherKey(t *testing.T) {
	codec := newTestCodec(t)
	other, err := cipher.NewFromHex(strings.Repeat("cd", 32))
	require.NoError(t, err)

	value, err := NewCodec(other).Encode(APIKeySecret("sk-test"))
	require.NoError(t, err)

	_, err = codec.Decode(value)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBindingHash(t *testing.T) {
	a := BindingHash(APIKeySecret("key-a"))
	b := BindingHash(APIKeySecret("key-b"))

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, BindingHash(APIKeySecret("key-a")), "hash must be stable")
	assert.NotContains(t, a, "key-a")
	assert.Len(t, a, 64) // hex of 32 bytes

	// OAuth and API key secrets with the same credential bind identically.
	assert.Equal(t,
		BindingHash(APIKeySecret("tok")),
		BindingHash(OAuthSecret("tok", time.Now(), time.Now())),
	)
}

func TestNewCookie_Attributes(t *testing.T) {
	cookie := NewCookie("opaque-value", time.Hour)

	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, "opaque-value", cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
}

func TestNewCookie_DefaultLifetime(t *testing.T) {
	cookie := NewCookie("v", 0)
	assert.Equal(t, int(DefaultLifetime/time.Second), cookie.MaxAge)
}

func TestExpiredCookie(t *testing.T) {
	cookie := ExpiredCookie()
	assert.Equal(t, CookieName, cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestFromRequest(t *testing.T) {
	codec := newTestCodec(t)

	value, err := codec.Encode(APIKeySecret("sk-test"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: value})

	secret, err := codec.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", secret.Credential())

	// No cookie at all.
	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = codec.FromRequest(bare)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
