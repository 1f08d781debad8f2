package rpc

const (
	rpcAPIVersionCurrent   = 1
	rpcAPIVersionMin       = 1
	rpcNotificationVersion = 1
)

var rpcMethodList = []string{
	"health_check",
	"rpc.capabilities",
	"inbox.sync",
	"inbox.force_refresh",
	"inbox.import",
	"inbox.cancel_sync",
	"inbox.list",
	"inbox.status",
	"ledger.status",
	"wallet.status",
	"metrics.get",
}

// validateRPCAPIVersion checks the optional api_version field. An absent
// field means "current" so pre-versioning clients keep working.
func validateRPCAPIVersion(version *int) *rpcError {
	if version == nil {
		return nil
	}
	if *version < rpcAPIVersionMin {
		return &rpcError{Code: -32081, Message: "rpc api version is deprecated and no longer supported"}
	}
	if *version > rpcAPIVersionCurrent {
		return &rpcError{Code: -32080, Message: "rpc api version is not supported by this server"}
	}
	return nil
}

func rpcCapabilities() map[string]any {
	return map[string]any{
		"api_version": map[string]int{
			"current": rpcAPIVersionCurrent,
			"min":     rpcAPIVersionMin,
		},
		"notification_version": rpcNotificationVersion,
		"methods":              rpcMethodList,
	}
}
