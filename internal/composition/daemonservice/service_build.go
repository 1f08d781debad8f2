package daemonservice

import (
	"errors"
	"log/slog"
	"sync"

	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/platform/privacylog"
	"chainmail/go-backend/internal/platform/runtimestate"
	"chainmail/go-backend/internal/records"
	"chainmail/go-backend/internal/storage"
	"chainmail/go-backend/internal/syncer"
	"chainmail/go-backend/internal/wallet"
)

const notificationBacklogLimit = 2048

// ServiceOptions carries the pluggable backends. Nil stores fall back to
// in-memory variants, which keeps tests hermetic; the ledger client has no
// safe default and is required. A nil wallet yields a degraded service that
// can still serve cache- and scan-fed accounts named explicitly per call.
type ServiceOptions struct {
	Inbox      *storage.InboxStore
	Cache      *storage.RecordCache
	ScanState  *storage.ScanStateStore
	Ledger     LedgerClient
	Wallet     wallet.Wallet
	Logger     *slog.Logger
	Collectors *metrics.Collectors
}

func NewServiceWithOptions(cfg config.Config, opts ServiceOptions) (*Service, error) {
	opts = ensureServiceOptions(opts)
	if opts.Ledger == nil {
		return nil, errors.New("daemonservice: ledger client is required")
	}

	svc := &Service{
		cfg:         cfg,
		inbox:       opts.Inbox,
		cache:       opts.Cache,
		scanState:   opts.ScanState,
		ledger:      opts.Ledger,
		wallet:      opts.Wallet,
		notifier:    runtimestate.NewNotificationHub(notificationBacklogLimit),
		logger:      opts.Logger,
		metrics:     runtimestate.NewServiceMetricsState(),
		runtime:     runtimestate.NewServiceRuntime(),
		collectors:  opts.Collectors,
		startStopMu: &sync.Mutex{},
		syncState:   map[string]*accountSyncState{},
	}

	resolver := records.NewResolver(wallet.AsDecrypter(opts.Wallet), svc.logger, opts.Collectors)
	svc.engine = syncer.NewEngine(cfg.Sync, syncer.EngineDeps{
		Ledger:         opts.Ledger,
		Wallet:         opts.Wallet,
		Resolver:       resolver,
		Cache:          opts.Cache,
		ScanState:      opts.ScanState,
		Logger:         svc.logger,
		Metrics:        opts.Collectors,
		Notify:         svc.notify,
		RecordError:    svc.recordError,
		TrackOperation: svc.trackOperation,
	})
	return svc, nil
}

func ensureServiceOptions(opts ServiceOptions) ServiceOptions {
	if opts.Inbox == nil {
		opts.Inbox = storage.NewInboxStore()
	}
	if opts.Cache == nil {
		opts.Cache = storage.NewRecordCache()
	}
	if opts.ScanState == nil {
		opts.ScanState = storage.NewScanStateStore()
	}
	if opts.Logger == nil {
		opts.Logger = runtimestate.DefaultLogger()
	}
	opts.Logger = slog.New(privacylog.WrapHandler(opts.Logger.Handler()))
	return opts
}
