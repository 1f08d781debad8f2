package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errInvalidParams = errors.New("invalid params")

func rpcParamsPresent(params json.RawMessage) bool {
	trimmed := bytes.TrimSpace(params)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// decodeOptionalAccountParam accepts omitted params, a positional
// ["account"] array, or an {"account": ...} object. An empty account means
// "use the wallet's own address".
func decodeOptionalAccountParam(params json.RawMessage) (string, error) {
	if !rpcParamsPresent(params) {
		return "", nil
	}
	var positional []string
	if err := json.Unmarshal(params, &positional); err == nil {
		switch len(positional) {
		case 0:
			return "", nil
		case 1:
			return strings.TrimSpace(positional[0]), nil
		default:
			return "", errInvalidParams
		}
	}
	var named struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &named); err != nil {
		return "", errInvalidParams
	}
	return strings.TrimSpace(named.Account), nil
}

// decodeImportParams accepts ["id"], ["account", "id"] or
// {"account": ..., "id": ...}. The record or transaction id is mandatory.
func decodeImportParams(params json.RawMessage) (string, string, error) {
	if !rpcParamsPresent(params) {
		return "", "", errInvalidParams
	}
	var positional []string
	if err := json.Unmarshal(params, &positional); err == nil {
		switch len(positional) {
		case 1:
			id := strings.TrimSpace(positional[0])
			if id == "" {
				return "", "", errInvalidParams
			}
			return "", id, nil
		case 2:
			id := strings.TrimSpace(positional[1])
			if id == "" {
				return "", "", errInvalidParams
			}
			return strings.TrimSpace(positional[0]), id, nil
		default:
			return "", "", errInvalidParams
		}
	}
	var named struct {
		Account string `json:"account"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(params, &named); err != nil {
		return "", "", errInvalidParams
	}
	id := strings.TrimSpace(named.ID)
	if id == "" {
		return "", "", errInvalidParams
	}
	return strings.TrimSpace(named.Account), id, nil
}
