// ABOUTME: Encrypted client configuration blobs bound to a session secret
// ABOUTME: Key derivation from binding hash plus timestamp with staleness window

package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/agentdeck/agentdeck/internal/cipher"
)

// Encrypted config errors. All three surface as 401 to the client; binding
// mismatches and decrypt failures are logged as config-tamper events rather
// than routine auth misses.
var (
	ErrConfigStale   = errors.New("proxy: encrypted config timestamp outside freshness window")
	ErrConfigBinding = errors.New("proxy: encrypted config bound to a different session")
	ErrConfigDecrypt = errors.New("proxy: encrypted config failed to decrypt")
)

// configStaleness is the replay/rotation window for encrypted config blobs.
const configStaleness = 24 * time.Hour

// configClockSkew tolerates slightly future-dated client clocks.
const configClockSkew = 5 * time.Minute

// configKeyContext is the BLAKE3 derive-key domain for config blobs. The
// timestamp is folded into the context string so every blob gets its own key.
const configKeyContext = "agentdeck.config.v1"

// ClientConfig is the decrypted settings document a client may attach to a
// proxied request. Bind carries the binding hash of the session the blob was
// encrypted for.
type ClientConfig struct {
	Bind         string            `json:"bind"`
	Env          map[string]string `json:"env,omitempty"`
	McpServers   json.RawMessage   `json:"mcpServers,omitempty"`
	BaseURL      string            `json:"baseUrl,omitempty"`
	SystemPrompt string            `json:"systemPrompt,omitempty"`
}

// configKey derives the per-blob AEAD key from the binding hash and the
// blob's freshness timestamp.
func configKey(bindingHash string, ts int64) []byte {
	key := make([]byte, 32)
	blake3.DeriveKey(configKeyContext+":"+strconv.FormatInt(ts, 10), []byte(bindingHash), key)
	return key
}

// EncryptConfig seals a config document for the session identified by
// bindingHash. The token is "<unix-seconds>.<envelope>". The binding hash is
// embedded in the plaintext as well, so decryption under the right key still
// cross-checks the session.
func EncryptConfig(cfg *ClientConfig, bindingHash string, now time.Time) (string, error) {
	ts := now.Unix()
	doc := *cfg
	doc.Bind = bindingHash
	plaintext, err := json.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	c, err := cipher.NewFromKey(configKey(bindingHash, ts))
	if err != nil {
		return "", err
	}
	envelope, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(ts, 10) + "." + envelope, nil
}

// DecryptConfig opens an encrypted config token for the current session.
// Stale timestamps fail before any key derivation; a blob encrypted for a
// different secret fails either at the AEAD tag (different derived key) or
// at the embedded binding check.
func DecryptConfig(token, bindingHash string, now time.Time) (*ClientConfig, error) {
	tsStr, envelope, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrConfigDecrypt
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, ErrConfigDecrypt
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > configStaleness || age < -configClockSkew {
		return nil, ErrConfigStale
	}

	c, err := cipher.NewFromKey(configKey(bindingHash, ts))
	if err != nil {
		return nil, err
	}
	plaintext, err := c.Open(envelope)
	if err != nil {
		return nil, ErrConfigDecrypt
	}

	var cfg ClientConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, ErrConfigDecrypt
	}
	if cfg.Bind != bindingHash {
		return nil, ErrConfigBinding
	}
	return &cfg, nil
}
