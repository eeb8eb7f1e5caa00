// Package cipher implements the authenticated-encryption envelopes that
// protect session cookies and client-supplied configuration blobs.
//
// # Envelope Shapes
//
// Two shapes exist on the wire, both base64url-encoded:
//
//   - Stateless: nonce || ciphertext || tag. Produced by a Cipher whose key
//     comes from a strong static secret (the configured 64-hex-char key) or
//     from the application passphrase stretched with the fixed salt. Used
//     for session cookies.
//
//   - Salted: salt || nonce || ciphertext || tag. Produced by SealSalted
//     with a random per-value salt so that independent values never share a
//     derived key. Used for general-purpose sealed cookie values.
//
// # Key Derivation
//
// A fixed 32-byte key is accepted as exactly 64 hex characters. When only a
// low-entropy passphrase is configured, Argon2id (t=1, m=64MiB, p=4)
// stretches it to 32 bytes.
//
// # Failure Modes
//
// Open and OpenSalted verify the GCM tag before returning anything; any
// tampering fails atomically with ErrAuthFailure, and callers cannot tell a
// wrong key from a corrupted envelope. Missing or malformed key material is
// ErrKeyConfig, a server-side configuration error that must surface as a
// 500, never a 401.
package cipher
