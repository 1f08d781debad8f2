package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chainmail/go-backend/internal/platform/runtimestate"
)

const (
	rpcTokenHeader       = "X-Chainmail-RPC-Token"
	rpcTokenEnv          = "CHAINMAIL_RPC_TOKEN"
	rpcTokenFileEnv      = "CHAINMAIL_RPC_TOKEN_FILE"
	rpcTokenRotateEnv    = "CHAINMAIL_RPC_TOKEN_ROTATE_ON_START"
	requireRPCTokenEnv   = "CHAINMAIL_REQUIRE_RPC_TOKEN"
	allowNullOriginEnv   = "CHAINMAIL_ALLOW_NULL_ORIGIN"
	deploymentEnvVar     = "CHAINMAIL_ENV"
	streamHeartbeatEvery = 20 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleRPCStream serves the notification backlog from the caller's cursor,
// then live events as SSE frames until the client disconnects.
func (s *Server) handleRPCStream(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	release, ok := s.streams.acquire(rpcClientKey(r))
	if !ok {
		http.Error(w, "too many streams", http.StatusTooManyRequests)
		return
	}
	defer release()
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	cursor := int64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	backlog, live, unsubscribe := s.service.SubscribeNotifications(cursor)
	defer unsubscribe()

	for _, event := range backlog {
		if err := writeSSEEvent(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatEvery)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-live:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event NotificationEvent) error {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"method":  event.Method,
		"params": map[string]any{
			"version":   rpcNotificationVersion,
			"seq":       event.Seq,
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   event.Payload,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !isAllowedOrigin(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+rpcTokenHeader+", "+idempotencyKeyHeader)
}

// authorizeRPC writes the 401 itself; callers just return on false.
func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" && !s.requireRPC {
		return true
	}
	if extractRPCToken(r) == s.rpcToken && s.rpcToken != "" {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func extractRPCToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(rpcTokenHeader)); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// requiresRPCToken defaults to fail-closed: the override to disable auth is
// honored only outside production-like environments.
func requiresRPCToken() bool {
	required, ok := parseBoolEnv(requireRPCTokenEnv)
	if !ok {
		return !isNonProdEnv()
	}
	if !required && !isNonProdEnv() {
		return true
	}
	return required
}

func isNonProdEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(deploymentEnvVar))) {
	case "test", "testing", "dev", "development", "local":
		return true
	default:
		return false
	}
}

func isAllowedOrigin(origin string) bool {
	if origin == "null" {
		allowed, ok := parseBoolEnv(allowNullOriginEnv)
		return ok && allowed
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// rpcClientKey buckets stream slots per caller: token when present, else
// remote host.
func rpcClientKey(r *http.Request) string {
	if token := extractRPCToken(r); token != "" {
		return "token:" + token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// resolveRPCToken turns the "auto" sentinel (or a rotate-on-start request)
// into a generated token, exported back into the process environment so the
// composition layer can hand it to local clients.
func resolveRPCToken() (string, error) {
	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	rotate, ok := parseBoolEnv(rpcTokenRotateEnv)
	if strings.EqualFold(token, "auto") || (ok && rotate) {
		generated, err := generateRPCToken()
		if err != nil {
			return "", err
		}
		if err := os.Setenv(rpcTokenEnv, generated); err != nil {
			return "", fmt.Errorf("export generated rpc token: %w", err)
		}
		if err := persistRPCToken(generated); err != nil {
			return "", err
		}
		return generated, nil
	}
	return token, nil
}

func generateRPCToken() (string, error) {
	token, err := runtimestate.GeneratePrefixedID("rpc", 32)
	if err != nil {
		return "", fmt.Errorf("generate rpc token: %w", err)
	}
	return token, nil
}

func persistRPCToken(token string) error {
	path := strings.TrimSpace(os.Getenv(rpcTokenFileEnv))
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create rpc token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write rpc token file: %w", err)
	}
	return nil
}
