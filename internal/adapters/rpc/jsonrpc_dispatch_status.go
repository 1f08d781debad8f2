package rpc

import (
	"encoding/json"
	"net/http"
)

func (s *Server) dispatchStatusRPC(r *http.Request, method string, params json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "ledger.status":
		if rpcParamsPresent(params) {
			return nil, rpcInvalidParams(), true
		}
		return s.service.LedgerStatus(r.Context()), nil, true
	case "wallet.status":
		if rpcParamsPresent(params) {
			return nil, rpcInvalidParams(), true
		}
		return s.service.WalletStatus(), nil, true
	case "metrics.get":
		if rpcParamsPresent(params) {
			return nil, rpcInvalidParams(), true
		}
		return s.service.GetMetrics(), nil, true
	case "rpc.capabilities":
		if rpcParamsPresent(params) {
			return nil, rpcInvalidParams(), true
		}
		return rpcCapabilities(), nil, true
	}
	return nil, nil, false
}
