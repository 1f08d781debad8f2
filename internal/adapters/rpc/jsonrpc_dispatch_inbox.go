package rpc

import (
	"encoding/json"
	"net/http"
)

func (s *Server) dispatchInboxRPC(r *http.Request, method string, params json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "inbox.sync":
		account, err := decodeOptionalAccountParam(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		report, err := s.service.SyncInbox(r.Context(), account)
		if err != nil {
			return nil, mapInboxRPCError(-32030, err), true
		}
		return report, nil, true
	case "inbox.force_refresh":
		account, err := decodeOptionalAccountParam(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		report, err := s.service.ForceRefresh(r.Context(), account)
		if err != nil {
			return nil, mapInboxRPCError(-32030, err), true
		}
		return report, nil, true
	case "inbox.import":
		account, id, err := decodeImportParams(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		report, err := s.service.ImportMessage(r.Context(), account, id)
		if err != nil {
			return nil, mapInboxRPCError(-32031, err), true
		}
		return report, nil, true
	case "inbox.cancel_sync":
		account, err := decodeOptionalAccountParam(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		cancelled, err := s.service.CancelSync(account)
		if err != nil {
			return nil, mapInboxRPCError(-32032, err), true
		}
		return map[string]bool{"cancelled": cancelled}, nil, true
	case "inbox.list":
		account, err := decodeOptionalAccountParam(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		messages, err := s.service.ListInbox(account)
		if err != nil {
			return nil, mapInboxRPCError(-32033, err), true
		}
		return map[string]any{"messages": messages, "count": len(messages)}, nil, true
	case "inbox.status":
		account, err := decodeOptionalAccountParam(params)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		status, err := s.service.SyncStatus(account)
		if err != nil {
			return nil, mapInboxRPCError(-32033, err), true
		}
		return status, nil, true
	}
	return nil, nil, false
}
