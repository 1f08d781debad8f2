package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool {
	return &v
}

func TestDefaultConfigFillsEverySection(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Ledger.Endpoints) == 0 {
		t.Fatal("expected a default ledger endpoint")
	}
	if cfg.Sync.ProgramID == "" || cfg.Sync.FunctionName == "" {
		t.Fatal("expected default program filter")
	}
	if cfg.Wallet.Mode != WalletModeLocal {
		t.Fatalf("expected default wallet mode %q, got %q", WalletModeLocal, cfg.Wallet.Mode)
	}
	if !cfg.Wallet.CreateIfMissing {
		t.Fatal("expected createIfMissing=true by default")
	}
	if cfg.RPC.Addr != DefaultRPCAddr {
		t.Fatalf("expected rpc addr %q, got %q", DefaultRPCAddr, cfg.RPC.Addr)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("expected pollInterval=%s, got %s", DefaultPollInterval, cfg.PollInterval)
	}
	if cfg.CacheRetention <= 0 {
		t.Fatal("expected a positive cache retention default")
	}
}

func TestMergeAppliesFileValues(t *testing.T) {
	dst := DefaultConfig()
	src := DaemonConfig{
		DataDir:        "/tmp/chainmail-test",
		PollInterval:   12 * time.Second,
		CacheRetention: 48 * time.Hour,
		Ledger: DaemonLedgerConfig{
			Endpoints:         []string{"http://ledger-a", "http://ledger-b"},
			RequestTimeout:    4 * time.Second,
			MaxAttempts:       3,
			RetryStep:         100 * time.Millisecond,
			RequestsPerSecond: 2.5,
			Burst:             4,
		},
		Sync: DaemonSyncConfig{
			ProgramID:     "other_program.aleo",
			FunctionName:  "deliver",
			ScanWindow:    50,
			ScanBatchSize: 5,
			MaxMatchedTxs: 10,
			ScanThreshold: 2,
		},
		Wallet: DaemonWalletConfig{
			Mode:     "Bridge",
			Endpoint: "http://127.0.0.1:9100",
			Token:    "bridge-token",
			Address:  "cmail1example",
			Timeout:  7 * time.Second,
		},
		RPC: DaemonRPCConfig{Addr: "127.0.0.1:9999"},
	}

	Merge(&dst, src)

	if dst.DataDir != "/tmp/chainmail-test" {
		t.Fatalf("expected dataDir merged, got %q", dst.DataDir)
	}
	if dst.PollInterval != 12*time.Second {
		t.Fatalf("expected pollInterval=12s, got %s", dst.PollInterval)
	}
	if dst.CacheRetention != 48*time.Hour {
		t.Fatalf("expected cacheRetention=48h, got %s", dst.CacheRetention)
	}
	if len(dst.Ledger.Endpoints) != 2 || dst.Ledger.Endpoints[0] != "http://ledger-a" {
		t.Fatalf("expected merged endpoints, got %v", dst.Ledger.Endpoints)
	}
	if dst.Ledger.RequestTimeout != 4*time.Second || dst.Ledger.MaxAttempts != 3 {
		t.Fatalf("expected merged ledger retry settings, got %+v", dst.Ledger)
	}
	if dst.Ledger.RequestsPerSecond != 2.5 || dst.Ledger.Burst != 4 {
		t.Fatalf("expected merged ledger rate settings, got %+v", dst.Ledger)
	}
	if dst.Sync.ProgramID != "other_program.aleo" || dst.Sync.FunctionName != "deliver" {
		t.Fatalf("expected merged program filter, got %+v", dst.Sync)
	}
	if dst.Sync.ScanWindow != 50 || dst.Sync.ScanBatchSize != 5 || dst.Sync.MaxMatchedTxs != 10 || dst.Sync.ScanThreshold != 2 {
		t.Fatalf("expected merged scan bounds, got %+v", dst.Sync)
	}
	if dst.Wallet.Mode != WalletModeBridge {
		t.Fatalf("expected wallet mode normalized to %q, got %q", WalletModeBridge, dst.Wallet.Mode)
	}
	if dst.Wallet.Bridge.Endpoint != "http://127.0.0.1:9100" || dst.Wallet.Bridge.Token != "bridge-token" {
		t.Fatalf("expected merged bridge settings, got %+v", dst.Wallet.Bridge)
	}
	if dst.Wallet.Bridge.Address != "cmail1example" || dst.Wallet.Bridge.Timeout != 7*time.Second {
		t.Fatalf("expected merged bridge identity, got %+v", dst.Wallet.Bridge)
	}
	if dst.RPC.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected merged rpc addr, got %q", dst.RPC.Addr)
	}
}

func TestMergeDoesNotOverwriteDefaultsWhenUnset(t *testing.T) {
	dst := DefaultConfig()
	defaults := dst

	Merge(&dst, DaemonConfig{})

	if dst.Sync.ProgramID != defaults.Sync.ProgramID {
		t.Fatalf("empty config must keep default program id, got %q", dst.Sync.ProgramID)
	}
	if len(dst.Ledger.Endpoints) != len(defaults.Ledger.Endpoints) {
		t.Fatalf("empty config must keep default endpoints, got %v", dst.Ledger.Endpoints)
	}
	if dst.Wallet.Mode != WalletModeLocal {
		t.Fatalf("empty config must keep wallet mode local, got %q", dst.Wallet.Mode)
	}
	if !dst.Wallet.CreateIfMissing {
		t.Fatal("unset createIfMissing must not overwrite the default")
	}
	if dst.PollInterval != defaults.PollInterval {
		t.Fatalf("empty config must keep pollInterval, got %s", dst.PollInterval)
	}
}

func TestMergeAppliesExplicitCreateIfMissingFalse(t *testing.T) {
	dst := DefaultConfig()

	Merge(&dst, DaemonConfig{Wallet: DaemonWalletConfig{CreateIfMissing: boolPtr(false)}})

	if dst.Wallet.CreateIfMissing {
		t.Fatal("expected createIfMissing=false from explicit config")
	}

	Merge(&dst, DaemonConfig{Wallet: DaemonWalletConfig{CreateIfMissing: boolPtr(true)}})

	if !dst.Wallet.CreateIfMissing {
		t.Fatal("expected createIfMissing=true from explicit config")
	}
}

func TestApplyEnvOverridesSplitsEndpointList(t *testing.T) {
	t.Setenv("CHAINMAIL_LEDGER_ENDPOINTS", " http://one , ,http://two ")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if len(cfg.Ledger.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints from env, got %v", cfg.Ledger.Endpoints)
	}
	if cfg.Ledger.Endpoints[0] != "http://one" || cfg.Ledger.Endpoints[1] != "http://two" {
		t.Fatalf("expected trimmed endpoints, got %v", cfg.Ledger.Endpoints)
	}
}

func TestApplyEnvOverridesWalletModeAndDataDir(t *testing.T) {
	t.Setenv("CHAINMAIL_WALLET_MODE", "BRIDGE")
	t.Setenv("CHAINMAIL_DATA_DIR", "/var/lib/chainmail")
	t.Setenv("CHAINMAIL_RPC_ADDR", "127.0.0.1:7001")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.Wallet.Mode != WalletModeBridge {
		t.Fatalf("expected wallet mode bridge from env, got %q", cfg.Wallet.Mode)
	}
	if cfg.DataDir != "/var/lib/chainmail" {
		t.Fatalf("expected data dir from env, got %q", cfg.DataDir)
	}
	if cfg.RPC.Addr != "127.0.0.1:7001" {
		t.Fatalf("expected rpc addr from env, got %q", cfg.RPC.Addr)
	}
}

func TestApplyEnvOverridesIgnoresInvalidPollInterval(t *testing.T) {
	t.Setenv("CHAINMAIL_POLL_INTERVAL", "soon")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("invalid env value must not change pollInterval, got %s", cfg.PollInterval)
	}

	t.Setenv("CHAINMAIL_POLL_INTERVAL", "45s")
	ApplyEnvOverrides(&cfg)
	if cfg.PollInterval != 45*time.Second {
		t.Fatalf("expected pollInterval=45s from env, got %s", cfg.PollInterval)
	}
}

func TestLoadFromPathMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `dataDir: /tmp/from-file
ledger:
  endpoints:
    - http://file-ledger
sync:
  programId: file_program.aleo
  scanWindow: 25
wallet:
  mode: bridge
  endpoint: http://127.0.0.1:9200
  createIfMissing: false
rpc:
  addr: 127.0.0.1:9300
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFromPath(path)

	if cfg.DataDir != "/tmp/from-file" {
		t.Fatalf("expected dataDir from file, got %q", cfg.DataDir)
	}
	if len(cfg.Ledger.Endpoints) != 1 || cfg.Ledger.Endpoints[0] != "http://file-ledger" {
		t.Fatalf("expected file endpoint, got %v", cfg.Ledger.Endpoints)
	}
	if cfg.Sync.ProgramID != "file_program.aleo" || cfg.Sync.ScanWindow != 25 {
		t.Fatalf("expected file sync settings, got %+v", cfg.Sync)
	}
	if cfg.Sync.FunctionName == "" {
		t.Fatal("unset file keys must keep defaults")
	}
	if cfg.Wallet.Mode != WalletModeBridge || cfg.Wallet.Bridge.Endpoint != "http://127.0.0.1:9200" {
		t.Fatalf("expected file wallet settings, got %+v", cfg.Wallet)
	}
	if cfg.Wallet.CreateIfMissing {
		t.Fatal("expected createIfMissing=false from file")
	}
	if cfg.RPC.Addr != "127.0.0.1:9300" {
		t.Fatalf("expected file rpc addr, got %q", cfg.RPC.Addr)
	}
}

func TestLoadFromPathFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	defaults := DefaultConfig()
	if cfg.Sync.ProgramID != defaults.Sync.ProgramID {
		t.Fatalf("missing file must yield defaults, got %+v", cfg.Sync)
	}
	if cfg.RPC.Addr != defaults.RPC.Addr {
		t.Fatalf("missing file must yield default rpc addr, got %q", cfg.RPC.Addr)
	}
}

func TestLoadFromPathEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("wallet:\n  mode: local\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHAINMAIL_WALLET_MODE", "bridge")

	cfg := LoadFromPath(path)

	if cfg.Wallet.Mode != WalletModeBridge {
		t.Fatalf("env override must win over file, got %q", cfg.Wallet.Mode)
	}
}
