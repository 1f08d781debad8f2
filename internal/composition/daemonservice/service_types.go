package daemonservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/platform/runtimestate"
	"chainmail/go-backend/internal/storage"
	"chainmail/go-backend/internal/syncer"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

// LedgerClient is the ledger surface the service composes: the engine's read
// operations plus the health probe and request counters the daemon reports.
type LedgerClient interface {
	syncer.Ledger
	Probe(ctx context.Context) models.LedgerStatus
	Status() models.LedgerStatus
	Metrics() map[string]int
}

// accountSyncState is the per-account view the status RPC reads: the latest
// progress snapshot while a sync runs, and the last finished report after.
type accountSyncState struct {
	Progress   models.SyncProgress
	LastReport *models.SyncReport
	LastSyncAt time.Time
}

type Service struct {
	cfg config.Config

	inbox     *storage.InboxStore
	cache     *storage.RecordCache
	scanState *storage.ScanStateStore

	ledger LedgerClient
	wallet wallet.Wallet
	engine *syncer.Engine

	notifier   *runtimestate.NotificationHub
	logger     *slog.Logger
	metrics    *runtimestate.ServiceMetricsState
	runtime    *runtimestate.ServiceRuntime
	collectors *metrics.Collectors

	startStopMu *sync.Mutex

	syncMu    sync.Mutex
	syncState map[string]*accountSyncState

	dataDir       string
	storageSecret string
	walletPath    string
	walletCreated bool
}

// DataDir is the resolved storage directory, empty for in-memory services.
func (s *Service) DataDir() string {
	return s.dataDir
}
