// Package rpc exposes the daemon service over loopback HTTP: JSON-RPC 2.0 on
// /rpc, a replayable SSE notification stream on /rpc/stream, a health probe
// and the Prometheus scrape endpoint.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/platform/runtimestate"
	"chainmail/go-backend/pkg/models"
)

const DefaultRPCAddr = "127.0.0.1:8790"

// NotificationEvent is the hub event streamed over SSE.
type NotificationEvent = runtimestate.NotificationEvent

// Service is the daemon surface the transport dispatches into.
type Service interface {
	SyncInbox(ctx context.Context, account string) (*models.SyncReport, error)
	ForceRefresh(ctx context.Context, account string) (*models.SyncReport, error)
	ImportMessage(ctx context.Context, account, id string) (*models.ImportReport, error)
	CancelSync(account string) (bool, error)
	ListInbox(account string) ([]models.InboxMessage, error)
	SyncStatus(account string) (models.SyncStatus, error)
	LedgerStatus(ctx context.Context) models.LedgerStatus
	WalletStatus() models.WalletStatus
	GetMetrics() models.MetricsSnapshot
	SubscribeNotifications(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func())
	StartPolling(ctx context.Context) error
	StopPolling(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	service    Service
	initErr    error
	rpcToken   string
	requireRPC bool
	rpcLimiter *rpcRateLimiter
	streams    *rpcStreamLimiter
	idem       *rpcIdempotencyCache
}

// NewServerWithService resolves the auth posture from the environment and
// builds the server. A production-like environment with no token is a
// construction error surfaced on Run.
func NewServerWithService(rpcAddr string, svc Service) *Server {
	requireRPC := requiresRPCToken()
	rpcToken, err := resolveRPCToken()
	if err != nil {
		return &Server{initErr: err}
	}
	if requireRPC && rpcToken == "" {
		return &Server{
			initErr: errors.New("CHAINMAIL_RPC_TOKEN is required unless CHAINMAIL_REQUIRE_RPC_TOKEN=false or CHAINMAIL_ENV is test/development/local"),
		}
	}
	return newServerWithService(rpcAddr, svc, rpcToken, requireRPC)
}

func newServerWithService(rpcAddr string, svc Service, rpcToken string, requireRPC bool) *Server {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              rpcAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:    svc,
		rpcToken:   rpcToken,
		requireRPC: requireRPC,
		rpcLimiter: newRPCRateLimiter(loadRPCRateLimitConfig()),
		streams:    newRPCStreamLimiter(loadRPCStreamLimitConfig()),
		idem:       newRPCIdempotencyCache(),
	}
	if s.rpcToken == "" && !s.requireRPC {
		slog.Default().Warn("CHAINMAIL_RPC_TOKEN is not set; RPC auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleRPCStream)
	mux.Handle("/metrics", metrics.Handler())
	return s
}

// Run starts the ledger poll loop and serves HTTP until ctx is cancelled,
// then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	if err := s.service.StartPolling(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			cancel()
			return err
		}
		if err := s.service.StopPolling(shutdownCtx); err != nil {
			cancel()
			return err
		}
		cancel()
		return <-errCh
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.service.StopPolling(shutdownCtx)
		cancel()
		return err
	}
}
