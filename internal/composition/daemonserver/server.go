package daemonserver

import (
	"chainmail/go-backend/internal/adapters/rpc"
	"chainmail/go-backend/internal/composition/daemon/servicefactory"
)

// NewRPCServerWithOptions wires the daemon service and the RPC transport.
func NewRPCServerWithOptions(rpcAddr, configPath, dataDir string) (*rpc.Server, error) {
	svc, err := servicefactory.BuildDaemonService(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	return rpc.NewServerWithService(rpcAddr, svc), nil
}
