package rpc

import (
	"errors"

	"chainmail/go-backend/internal/composition/daemonservice"
	"chainmail/go-backend/internal/syncer"
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

func rpcServiceError(code int, err error) *rpcError {
	return &rpcError{Code: code, Message: err.Error()}
}

// mapInboxRPCError gives the two recoverable service conditions stable codes
// so callers can branch without parsing messages.
func mapInboxRPCError(defaultCode int, err error) *rpcError {
	switch {
	case errors.Is(err, syncer.ErrSyncInFlight):
		return rpcServiceError(-32040, err)
	case errors.Is(err, daemonservice.ErrNoAccount):
		return rpcServiceError(-32041, err)
	default:
		return rpcServiceError(defaultCode, err)
	}
}
