// ABOUTME: Minimal fake agent backend for E2E testing - echoes messages and streams SSE.
// ABOUTME: Usage: fake-backend [-addr localhost:3000] [-key accepted-api-key]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:3000", "listen address")
	key := flag.String("key", "", "accept only this API key (empty accepts any non-empty key)")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", withAuth(*key, handleStatus))
	mux.HandleFunc("POST /message", withAuth(*key, handleMessage))
	mux.HandleFunc("GET /events", withAuth(*key, handleEvents))

	log.Printf("fake-backend listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

func withAuth(expected string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if key == "" || (expected != "" && key != expected) {
			http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stable"})
}

func handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	// Echo any merged config headers back so proxy tests can see them.
	config := map[string]string{}
	for name, values := range r.Header {
		if strings.HasPrefix(name, "X-Agentapi-") && len(values) > 0 {
			config[name] = values[0]
		}
	}

	log.Printf("received message: %s", req.Message)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"reply":  fmt.Sprintf("Echo: %s", req.Message),
		"config": config,
	})
}

func handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			seq++
			fmt.Fprintf(w, "event: message\ndata: {\"seq\":%d,\"text\":\"tick %d\"}\n\n", seq, seq)
			flusher.Flush()
		}
	}
}
