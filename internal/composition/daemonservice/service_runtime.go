package daemonservice

import (
	"context"
	"time"

	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

// StartPolling launches the ledger monitor: an immediate probe, then one per
// poll interval, publishing notify.ledger.status whenever the observed
// status changes. Safe to call while already polling.
func (s *Service) StartPolling(ctx context.Context) error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	if s.runtime.IsPolling() {
		return nil
	}
	pollCtx, pollCancel := context.WithCancel(ctx)
	if !s.runtime.TryActivate(pollCtx, pollCancel) {
		pollCancel()
		return nil
	}
	go func() {
		defer s.runtime.PollLoopDone()
		s.runPollLoop(pollCtx)
	}()
	return nil
}

// StopPolling cancels the monitor and waits for the loop to exit.
func (s *Service) StopPolling(ctx context.Context) error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	pollCancel, wasRunning := s.runtime.Deactivate()
	if !wasRunning {
		return nil
	}
	if pollCancel != nil {
		pollCancel()
	}
	s.runtime.WaitPollLoop()
	return nil
}

func (s *Service) runPollLoop(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	s.probeLedger(ctx, true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeLedger(ctx, false)
		}
	}
}

func (s *Service) probeLedger(ctx context.Context, force bool) {
	status := s.ledger.Probe(ctx)
	if s.runtime.UpdateLastLedgerStatus(status, force) {
		s.notify("notify.ledger.status", status)
	}
	if status.Status != "ok" {
		s.logWarn("ledger.probe", "n/a", "ledger probe unhealthy", "status", status.Status, "last_error", status.LastError)
	}
}

// LedgerStatus probes the configured endpoints now and reports the result.
func (s *Service) LedgerStatus(ctx context.Context) models.LedgerStatus {
	return s.ledger.Probe(ctx)
}

// WalletStatus describes the configured backend without touching the
// network.
func (s *Service) WalletStatus() models.WalletStatus {
	status := models.WalletStatus{Mode: s.cfg.Wallet.Mode, Created: s.walletCreated}
	if status.Mode == "" {
		status.Mode = config.WalletModeLocal
	}
	if s.wallet != nil {
		status.Address = s.wallet.Address()
		status.RecordAccess = wallet.HasRecordAccess(s.wallet)
		status.CanDecrypt = wallet.AsDecrypter(s.wallet) != nil
	}
	return status
}
