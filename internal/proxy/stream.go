// ABOUTME: SSE stream relay piping backend bytes to the client unmodified
// ABOUTME: One upstream connection per client stream, cancelled together

package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// relay opens one upstream connection for one client SSE connection and
// forwards raw chunks in receipt order. It never buffers the full stream and
// never re-frames events: byte-for-byte passthrough preserves the backend's
// event boundaries exactly.
//
// The upstream request is built with the client's context, so a client
// disconnect cancels the backend connection promptly. Failures before or
// instead of a stream produce a single well-formed terminal SSE error frame
// rather than a bare connection drop.
func (f *Forwarder) relay(w http.ResponseWriter, r *http.Request, upstreamURL string, headers http.Header, requestID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		f.writeError(w, http.StatusInternalServerError, "internal", "streaming not supported", requestID)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		writeSSEError(w, flusher, http.StatusInternalServerError, "failed to build upstream request", requestID)
		return
	}
	req.Header = headers.Clone()
	req.Header.Set("Accept", "text/event-stream")

	if f.metrics != nil {
		f.metrics.StreamOpened()
		defer f.metrics.StreamClosed()
	}

	resp, err := f.streamClient.Do(req)
	if err != nil {
		if f.metrics != nil {
			f.metrics.UpstreamError()
		}
		f.logger.Error("upstream stream failed", "error", err, "url", upstreamURL, "request_id", requestID)
		writeSSEError(w, flusher, http.StatusInternalServerError, "backend stream failed", requestID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if f.metrics != nil {
			f.metrics.UpstreamError()
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		f.logger.Warn("upstream stream returned error", "status", resp.StatusCode, "request_id", requestID)
		writeSSEError(w, flusher, resp.StatusCode, string(body), requestID)
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; context cancellation tears down upstream.
				f.logger.Debug("client disconnected", "request_id", requestID)
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF {
				f.logger.Debug("upstream stream ended", "error", readErr, "request_id", requestID)
			}
			return
		}
	}
}

// writeSSEError synthesizes one structured terminal data frame and closes
// the stream.
func writeSSEError(w http.ResponseWriter, flusher http.Flusher, status int, message string, requestID string) {
	if message == "" {
		message = http.StatusText(status)
	}
	payload, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":      "upstream_error",
			"status":    status,
			"message":   message,
			"requestId": requestID,
		},
	})
	if err != nil {
		payload = []byte(`{"error":{"code":"upstream_error"}}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
