// Package config resolves the daemon configuration from defaults, an
// optional YAML file and environment overrides, in that order.
package config

import (
	"os"
	"strings"
	"time"

	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/storage"
	"chainmail/go-backend/internal/syncer"
	"chainmail/go-backend/internal/wallet"

	"gopkg.in/yaml.v3"
)

const (
	WalletModeLocal  = "local"
	WalletModeBridge = "bridge"

	DefaultRPCAddr      = "127.0.0.1:8790"
	DefaultPollInterval = 30 * time.Second
)

// Config is the fully resolved daemon configuration. DataDir stays empty
// here when nothing set it; the composition layer substitutes the
// per-user default.
type Config struct {
	DataDir        string
	PollInterval   time.Duration
	CacheRetention time.Duration
	Ledger         ledger.Config
	Sync           syncer.Config
	Wallet         WalletConfig
	RPC            RPCConfig
}

type WalletConfig struct {
	Mode            string
	CreateIfMissing bool
	Bridge          wallet.BridgeConfig
}

type RPCConfig struct {
	Addr string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		CacheRetention: storage.DefaultCacheRetention,
		Ledger:         ledger.DefaultConfig(),
		Sync:           syncer.DefaultConfig(),
		Wallet: WalletConfig{
			Mode:            WalletModeLocal,
			CreateIfMissing: true,
		},
		RPC: RPCConfig{Addr: DefaultRPCAddr},
	}
}

// DaemonConfig is the YAML file shape. Pointer fields distinguish an
// explicit false from an absent key.
type DaemonConfig struct {
	DataDir        string             `yaml:"dataDir"`
	PollInterval   time.Duration      `yaml:"pollInterval"`
	CacheRetention time.Duration      `yaml:"cacheRetention"`
	Ledger         DaemonLedgerConfig `yaml:"ledger"`
	Sync           DaemonSyncConfig   `yaml:"sync"`
	Wallet         DaemonWalletConfig `yaml:"wallet"`
	RPC            DaemonRPCConfig    `yaml:"rpc"`
}

type DaemonLedgerConfig struct {
	Endpoints         []string      `yaml:"endpoints"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RetryStep         time.Duration `yaml:"retryStep"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

type DaemonSyncConfig struct {
	ProgramID     string `yaml:"programId"`
	FunctionName  string `yaml:"functionName"`
	ScanWindow    uint64 `yaml:"scanWindow"`
	ScanBatchSize int    `yaml:"scanBatchSize"`
	MaxMatchedTxs int    `yaml:"maxMatchedTxs"`
	ScanThreshold int    `yaml:"scanThreshold"`
}

type DaemonWalletConfig struct {
	Mode            string        `yaml:"mode"`
	CreateIfMissing *bool         `yaml:"createIfMissing"`
	Endpoint        string        `yaml:"endpoint"`
	Token           string        `yaml:"token"`
	Address         string        `yaml:"address"`
	Timeout         time.Duration `yaml:"timeout"`
}

type DaemonRPCConfig struct {
	Addr string `yaml:"addr"`
}

func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src DaemonConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.PollInterval != 0 {
		dst.PollInterval = src.PollInterval
	}
	if src.CacheRetention != 0 {
		dst.CacheRetention = src.CacheRetention
	}
	mergeLedger(&dst.Ledger, src.Ledger)
	mergeSync(&dst.Sync, src.Sync)
	mergeWallet(&dst.Wallet, src.Wallet)
	if src.RPC.Addr != "" {
		dst.RPC.Addr = src.RPC.Addr
	}
}

func mergeLedger(dst *ledger.Config, src DaemonLedgerConfig) {
	if src.Endpoints != nil {
		dst.Endpoints = src.Endpoints
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.MaxAttempts != 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.RetryStep != 0 {
		dst.RetryStep = src.RetryStep
	}
	if src.RequestsPerSecond != 0 {
		dst.RequestsPerSecond = src.RequestsPerSecond
	}
	if src.Burst != 0 {
		dst.Burst = src.Burst
	}
}

func mergeSync(dst *syncer.Config, src DaemonSyncConfig) {
	if src.ProgramID != "" {
		dst.ProgramID = src.ProgramID
	}
	if src.FunctionName != "" {
		dst.FunctionName = src.FunctionName
	}
	if src.ScanWindow != 0 {
		dst.ScanWindow = src.ScanWindow
	}
	if src.ScanBatchSize != 0 {
		dst.ScanBatchSize = src.ScanBatchSize
	}
	if src.MaxMatchedTxs != 0 {
		dst.MaxMatchedTxs = src.MaxMatchedTxs
	}
	if src.ScanThreshold != 0 {
		dst.ScanThreshold = src.ScanThreshold
	}
}

func mergeWallet(dst *WalletConfig, src DaemonWalletConfig) {
	if src.Mode != "" {
		dst.Mode = strings.ToLower(strings.TrimSpace(src.Mode))
	}
	if src.CreateIfMissing != nil {
		dst.CreateIfMissing = *src.CreateIfMissing
	}
	if src.Endpoint != "" {
		dst.Bridge.Endpoint = src.Endpoint
	}
	if src.Token != "" {
		dst.Bridge.Token = src.Token
	}
	if src.Address != "" {
		dst.Bridge.Address = src.Address
	}
	if src.Timeout != 0 {
		dst.Bridge.Timeout = src.Timeout
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if dir := strings.TrimSpace(os.Getenv("CHAINMAIL_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}
	if raw := strings.TrimSpace(os.Getenv("CHAINMAIL_LEDGER_ENDPOINTS")); raw != "" {
		endpoints := make([]string, 0, 2)
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				endpoints = append(endpoints, part)
			}
		}
		if len(endpoints) > 0 {
			cfg.Ledger.Endpoints = endpoints
		}
	}
	if mode := strings.TrimSpace(os.Getenv("CHAINMAIL_WALLET_MODE")); mode != "" {
		cfg.Wallet.Mode = strings.ToLower(mode)
	}
	if program := strings.TrimSpace(os.Getenv("CHAINMAIL_PROGRAM_ID")); program != "" {
		cfg.Sync.ProgramID = program
	}
	if raw := strings.TrimSpace(os.Getenv("CHAINMAIL_POLL_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if addr := strings.TrimSpace(os.Getenv("CHAINMAIL_RPC_ADDR")); addr != "" {
		cfg.RPC.Addr = addr
	}
}
