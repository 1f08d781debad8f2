package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxRPCBodyBytes = 1 << 20

type rpcRequest struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         json.RawMessage `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	APIVersion *int            `json:"api_version,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	if s.service == nil {
		writeRPCInvalidRequest(w, nil, -32099, "service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := extractRPCToken(r)
	if !s.rpcLimiter.allow(rpcRateLimitKey(r, token), time.Now()) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	decoder := json.NewDecoder(r.Body)
	var req rpcRequest
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPCInvalidRequest(w, nil, -32700, "parse error")
		return
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeRPCInvalidRequest(w, req.ID, -32600, "invalid request: trailing content")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID, -32600, "invalid request")
		return
	}
	if rpcErr := validateRPCAPIVersion(req.APIVersion); rpcErr != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}

	// Mutating methods honor the idempotency header: a replayed key with the
	// same request hash returns the cached response without re-dispatching.
	idemKey := rpcIdempotencyKey(token, r.Header.Get(idempotencyKeyHeader))
	idemHash := ""
	if idemKey != "" && rpcMethodIsMutating(req.Method) {
		idemHash = rpcRequestHash(req)
		if cached, ok, conflict := s.idem.get(idemKey, idemHash, time.Now()); conflict {
			writeRPC(w, rpcResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &rpcError{Code: -32090, Message: "idempotency key reused with a different request"},
			})
			return
		} else if ok {
			cached.ID = req.ID
			writeRPC(w, cached)
			return
		}
	} else {
		idemKey = ""
	}

	reqID := "rpc_" + uuid.NewString()
	started := time.Now()
	slog.Default().Debug("rpc request", "request_id", reqID, "rpc_method", req.Method)

	result, rpcErr := s.dispatchRPC(r, req.Method, req.Params)
	latency := time.Since(started).Milliseconds()
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		slog.Default().Warn("rpc request failed",
			"request_id", reqID,
			"rpc_method", req.Method,
			"code", rpcErr.Code,
			"latency_ms", latency,
		)
	} else {
		resp.Result = result
		slog.Default().Debug("rpc response",
			"request_id", reqID,
			"rpc_method", req.Method,
			"latency_ms", latency,
		)
		// Only successful outcomes replay; a failed call may be retried
		// under the same key.
		if idemKey != "" {
			s.idem.set(idemKey, idemHash, resp, time.Now())
		}
	}
	writeRPC(w, resp)
}

func rpcMethodIsMutating(method string) bool {
	switch method {
	case "inbox.sync", "inbox.force_refresh", "inbox.import":
		return true
	default:
		return false
	}
}

// dispatchRPC routes a validated request. The HTTP request context rides
// along so a dropped client cancels in-flight sync work.
func (s *Server) dispatchRPC(r *http.Request, method string, params json.RawMessage) (any, *rpcError) {
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := s.dispatchInboxRPC(r, method, params); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchStatusRPC(r, method, params); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Default().Warn("rpc response write failed", "error", err)
	}
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
