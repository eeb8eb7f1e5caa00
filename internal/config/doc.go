// Package config handles configuration loading for agentdeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// The path comes from the AGENTDECK_CONFIG environment variable, falling
// back to ./config.yaml.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  cipher_key: "${AGENTDECK_CIPHER_KEY}"
//
// Syntax: ${VAR_NAME}
//
// A few well-known variables also override file values directly, so
// container deployments need no config file edits: AGENTDECK_BACKEND_URL,
// AGENTDECK_CIPHER_KEY, AGENTDECK_SINGLE_PROFILE, AGENTDECK_SKIP_VALIDATION.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  session_lifetime: "24h"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":3284"
//
// Backend:
//
//	backend:
//	  base_url: "http://localhost:3000"
//
// Authentication:
//
//	auth:
//	  cipher_key: "${AGENTDECK_CIPHER_KEY}"   # 64 hex chars, preferred
//	  cookie_passphrase: ""                   # Argon2id-stretched fallback
//	  session_lifetime: "24h"
//	  skip_validation: false
//	  single_profile: false
//
// OAuth (optional, all-or-nothing):
//
//	oauth:
//	  authorize_url: "https://id.example.com/authorize"
//	  token_url: "https://id.example.com/token"
//	  client_id: "agentdeck"
//	  client_secret: "${AGENTDECK_OAUTH_SECRET}"
//	  redirect_uri: "https://deck.example.com/oauth/callback"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Backend base URL presence and absoluteness
//   - Cipher key length (exactly 64 hex characters when set)
//   - At least one of cipher_key / cookie_passphrase
//   - OAuth block completeness
//   - Duration format validity
package config
