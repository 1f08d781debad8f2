package daemonservice

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	daemoncomposition "chainmail/go-backend/internal/composition/daemon"
	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/platform/runtimestate"
	"chainmail/go-backend/internal/wallet"
)

// NewServiceForDaemon resolves the encrypted stores under the configured
// data dir, opens the wallet backend and wires the full service.
func NewServiceForDaemon(cfg config.Config) (*Service, error) {
	resolvedDir, secret, bundle, err := daemoncomposition.ResolveStorage(cfg.DataDir, cfg.CacheRetention)
	if err != nil {
		return nil, err
	}

	logger := runtimestate.DefaultLogger()
	collectors := metrics.New(prometheus.DefaultRegisterer)
	client, err := ledger.New(cfg.Ledger, logger, collectors)
	if err != nil {
		return nil, err
	}
	w, created, err := buildWallet(cfg, bundle.WalletPath, secret, logger)
	if err != nil {
		return nil, err
	}

	svc, err := NewServiceWithOptions(cfg, ServiceOptions{
		Inbox:      bundle.Inbox,
		Cache:      bundle.Records,
		ScanState:  bundle.ScanState,
		Ledger:     client,
		Wallet:     w,
		Logger:     logger,
		Collectors: collectors,
	})
	if err != nil {
		return nil, err
	}
	svc.dataDir = resolvedDir
	svc.storageSecret = secret
	svc.walletPath = bundle.WalletPath
	svc.walletCreated = created
	if created {
		svc.logWarn("wallet.create", "n/a", "created a fresh local wallet, its inbox starts empty", "wallet_path", bundle.WalletPath)
	}
	return svc, nil
}

func buildWallet(cfg config.Config, walletPath, secret string, logger *slog.Logger) (wallet.Wallet, bool, error) {
	switch cfg.Wallet.Mode {
	case config.WalletModeBridge:
		w, err := wallet.NewBridgeWallet(cfg.Wallet.Bridge, logger)
		if err != nil {
			return nil, false, fmt.Errorf("bridge wallet: %w", err)
		}
		return w, false, nil
	case config.WalletModeLocal, "":
		if !cfg.Wallet.CreateIfMissing {
			if _, statErr := os.Stat(walletPath); errors.Is(statErr, fs.ErrNotExist) {
				return nil, false, fmt.Errorf("wallet file %s does not exist and wallet creation is disabled", walletPath)
			}
		}
		w, created, err := wallet.LoadOrCreate(walletPath, secret)
		if err != nil {
			return nil, false, fmt.Errorf("local wallet: %w", err)
		}
		return w, created, nil
	default:
		return nil, false, fmt.Errorf("unknown wallet mode %q", cfg.Wallet.Mode)
	}
}
