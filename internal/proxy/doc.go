// Package proxy is the reverse-proxy core between the browser and the
// agent backend.
//
// Every request is re-authenticated here by decoding the session cookie;
// the gate upstream only checks presence. The forwarder rebuilds the
// backend request from an allow-list of client headers, always injects the
// session's bearer credential, and drops any client-supplied Authorization.
//
// JSON bodies may carry an "encryptedConfig" field: a sealed settings blob
// produced client-side under a key derived from the session's binding hash
// and a freshness timestamp. The forwarder decrypts it, verifies the
// embedded binding hash against the current session, strips the field, and
// translates the settings into backend headers. A blob that fails to
// decrypt is never forwarded.
//
// Requests accepting text/event-stream divert to the stream relay: one
// upstream connection per client connection, raw byte passthrough, and a
// synthesized terminal error frame when the backend fails. Cancellation of
// either side closes the other; there is no retry anywhere in this package.
package proxy
