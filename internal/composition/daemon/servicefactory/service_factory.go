package servicefactory

import (
	"chainmail/go-backend/internal/composition/daemonservice"
	"chainmail/go-backend/internal/config"
)

// BuildDaemonService composes a daemon-ready service from a config path and
// an optional data dir override.
func BuildDaemonService(configPath, dataDir string) (*daemonservice.Service, error) {
	cfg := config.LoadFromPath(configPath)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return daemonservice.NewServiceForDaemon(cfg)
}
