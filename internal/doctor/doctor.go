// Package doctor runs preflight checks for a daemon host: data dir, storage
// key posture, RPC bind address and ledger reachability. Checks never mutate
// persisted state beyond creating the data dir itself.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	daemoncomposition "chainmail/go-backend/internal/composition/daemon"
	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/platform/runtimestate"
)

type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type Input struct {
	Config  config.Config
	DataDir string
	RPCAddr string
}

// Run executes every check and reports overall readiness. A failed check
// never aborts the run; later checks still produce their own verdicts.
func Run(ctx context.Context, input Input) Report {
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 8),
		CheckedAt: time.Now().UTC(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, Check{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	dataDir := strings.TrimSpace(input.DataDir)
	if dataDir == "" {
		dataDir = strings.TrimSpace(input.Config.DataDir)
	}
	if dataDir == "" {
		dataDir = daemoncomposition.DefaultDataDir()
	}
	if err := checkDataDirWritable(dataDir); err != nil {
		appendCheck("data_dir_writable", false, err.Error())
	} else {
		appendCheck("data_dir_writable", true, "")
	}

	pass, reason := checkStorageKey(dataDir)
	appendCheck("storage_key_available", pass, reason)

	pass, reason = checkWallet(input.Config.Wallet, dataDir)
	appendCheck("wallet_ready", pass, reason)

	rpcAddr := strings.TrimSpace(input.RPCAddr)
	if rpcAddr == "" {
		rpcAddr = input.Config.RPC.Addr
	}
	if err := checkLoopbackAddr(rpcAddr); err != nil {
		appendCheck("rpc_addr_loopback", false, err.Error())
	} else {
		appendCheck("rpc_addr_loopback", true, "")
		if err := checkPortAvailable(rpcAddr); err != nil {
			appendCheck("rpc_port_available", false, err.Error())
		} else {
			appendCheck("rpc_port_available", true, "")
		}
	}

	if err := checkLedgerEndpoints(input.Config.Ledger.Endpoints); err != nil {
		appendCheck("ledger_endpoints_configured", false, err.Error())
	} else {
		appendCheck("ledger_endpoints_configured", true, "")
		pass, reason = probeLedger(ctx, input.Config.Ledger)
		appendCheck("ledger_reachable", pass, reason)
	}

	return report
}

func checkDataDirWritable(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %v", err)
	}
	probe, err := os.CreateTemp(dataDir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("data dir is not writable: %v", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// checkStorageKey mirrors the daemon's storage key policy without generating
// or writing anything.
func checkStorageKey(dataDir string) (bool, string) {
	if strings.TrimSpace(os.Getenv("CHAINMAIL_STORAGE_PASSPHRASE")) != "" {
		return true, ""
	}
	production := false
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHAINMAIL_ENV"))) {
	case "prod", "production":
		production = true
	}

	keyExists := false
	if dataDir != "" {
		if _, err := os.Stat(filepath.Join(dataDir, "storage.key")); err == nil {
			keyExists = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Sprintf("storage.key is unreadable: %v", err)
		}
	}

	if !production {
		return true, ""
	}
	if !keyExists {
		return false, "production requires CHAINMAIL_STORAGE_PASSPHRASE; auto-generated keys are disabled"
	}
	wrapped := strings.ToLower(strings.TrimSpace(os.Getenv("CHAINMAIL_STORAGE_KEY_WRAPPED")))
	if wrapped == "1" || wrapped == "true" || wrapped == "yes" || wrapped == "on" {
		return true, ""
	}
	return false, "raw storage.key is forbidden in production; set CHAINMAIL_STORAGE_PASSPHRASE or CHAINMAIL_STORAGE_KEY_WRAPPED=true"
}

func checkWallet(cfg config.WalletConfig, dataDir string) (bool, string) {
	switch cfg.Mode {
	case config.WalletModeBridge:
		endpoint := strings.TrimSpace(cfg.Bridge.Endpoint)
		if endpoint == "" {
			return false, "bridge wallet mode needs an endpoint"
		}
		parsed, err := url.Parse(endpoint)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return false, fmt.Sprintf("bridge endpoint is not a valid http(s) url: %q", endpoint)
		}
		return true, ""
	default:
		if _, err := os.Stat(filepath.Join(dataDir, "wallet.enc")); err == nil {
			return true, ""
		}
		if cfg.CreateIfMissing {
			return true, ""
		}
		return false, "wallet file is missing and wallet creation is disabled"
	}
}

func checkLoopbackAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("rpc address is invalid: %q", addr)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("rpc address %q is not loopback; the daemon serves local clients only", addr)
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc address %s is unavailable (daemon already running?): %v", addr, err)
	}
	_ = ln.Close()
	return nil
}

func checkLedgerEndpoints(endpoints []string) error {
	if len(endpoints) == 0 {
		return errors.New("no ledger endpoints configured")
	}
	for _, endpoint := range endpoints {
		parsed, err := url.Parse(strings.TrimSpace(endpoint))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("ledger endpoint is not a valid http(s) url: %q", endpoint)
		}
	}
	return nil
}

func probeLedger(ctx context.Context, cfg ledger.Config) (bool, string) {
	client, err := ledger.New(cfg, runtimestate.DefaultLogger(), nil)
	if err != nil {
		return false, err.Error()
	}
	status := client.Probe(ctx)
	if status.Status != "ok" {
		reason := status.LastError
		if reason == "" {
			reason = "ledger probe failed"
		}
		return false, reason
	}
	return true, ""
}
