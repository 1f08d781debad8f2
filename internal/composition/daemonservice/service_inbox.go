package daemonservice

import (
	"context"
	"errors"
	"sort"

	"chainmail/go-backend/internal/syncer"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

// ErrNoAccount means no account was named and no wallet is configured to
// supply a default.
var ErrNoAccount = errors.New("daemonservice: no account: configure a wallet or name an address")

// newMessageEvent is the notify.message.new payload.
type newMessageEvent struct {
	Account string              `json:"account"`
	Message models.InboxMessage `json:"message"`
}

// DefaultAccount is the wallet's own address, used whenever a call does not
// name an account.
func (s *Service) DefaultAccount() string {
	if s.wallet == nil {
		return ""
	}
	return s.wallet.Address()
}

// resolveAccount normalizes the caller's account so the inbox store, the
// engine session registry and the scan state all key on the same literal.
func (s *Service) resolveAccount(account string) (string, error) {
	account = wallet.NormalizeAddress(account)
	if account == "" {
		account = s.DefaultAccount()
	}
	if account == "" {
		return "", ErrNoAccount
	}
	return account, nil
}

// SyncInbox runs one full reconciliation pass for the account and persists
// the merged result.
func (s *Service) SyncInbox(ctx context.Context, account string) (*models.SyncReport, error) {
	return s.runSync(ctx, account, "inbox.sync", s.engine.Sync)
}

// ForceRefresh clears the account's record cache and checked-transaction
// set, then syncs, so every message is re-derived from live sources.
func (s *Service) ForceRefresh(ctx context.Context, account string) (*models.SyncReport, error) {
	return s.runSync(ctx, account, "inbox.force_refresh", s.engine.ForceRefresh)
}

type syncFunc func(ctx context.Context, account string, existing map[string]models.InboxMessage, onProgress syncer.ProgressFunc) (map[string]models.InboxMessage, *models.SyncReport, error)

func (s *Service) runSync(ctx context.Context, account, operation string, run syncFunc) (*models.SyncReport, error) {
	account, err := s.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	correlationID := syncCorrelationID(account)

	existing := s.inbox.Messages(account)
	merged, report, err := run(ctx, account, existing, s.progressRecorder(account))
	if err != nil {
		// The engine already categorized the cause; a failed run still
		// carries the partial report.
		if !errors.Is(err, syncer.ErrSyncInFlight) {
			s.rememberReport(account, report)
			s.logWarn(operation, correlationID, "sync finished with error", "error", err.Error())
		}
		return report, err
	}

	fresh := diffNewMessages(existing, merged)
	if persistErr := s.inbox.ReplaceAccount(account, merged); persistErr != nil {
		s.recordErrorWithContext("storage", persistErr, operation, correlationID)
		return report, persistErr
	}
	for _, msg := range fresh {
		s.notify("notify.message.new", newMessageEvent{Account: account, Message: msg})
	}
	s.rememberReport(account, report)
	s.notify("notify.sync.done", report)
	s.logInfo(operation, correlationID, "inbox sync persisted",
		"outcome", report.Outcome, "new_count", report.NewCount, "total", len(report.Messages))
	return report, nil
}

// ImportMessage runs the single-transaction pipeline and persists anything
// it adds.
func (s *Service) ImportMessage(ctx context.Context, account, id string) (*models.ImportReport, error) {
	account, err := s.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	correlationID := syncCorrelationID(account)

	existing := s.inbox.Messages(account)
	merged, report, err := s.engine.ImportByID(ctx, account, id, existing)
	if err != nil {
		return report, err
	}
	if report.Status == models.ImportStatusAdded {
		fresh := diffNewMessages(existing, merged)
		if persistErr := s.inbox.ReplaceAccount(account, merged); persistErr != nil {
			s.recordErrorWithContext("storage", persistErr, "inbox.import", correlationID)
			return report, persistErr
		}
		for _, msg := range fresh {
			s.notify("notify.message.new", newMessageEvent{Account: account, Message: msg})
		}
		s.logInfo("inbox.import", correlationID, "imported messages", "count", len(fresh))
	}
	return report, nil
}

// CancelSync asks the account's running sync to stop at the next batch
// boundary. False means nothing was in flight.
func (s *Service) CancelSync(account string) (bool, error) {
	account, err := s.resolveAccount(account)
	if err != nil {
		return false, err
	}
	return s.engine.CancelSync(account), nil
}

// ListInbox returns the persisted messages sorted by ledger timestamp.
func (s *Service) ListInbox(account string) ([]models.InboxMessage, error) {
	account, err := s.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	return s.inbox.List(account), nil
}

// SyncStatus reports whether a sync is in flight plus the latest progress
// and last finished report.
func (s *Service) SyncStatus(account string) (models.SyncStatus, error) {
	account, err := s.resolveAccount(account)
	if err != nil {
		return models.SyncStatus{}, err
	}
	inFlight := s.engine.InFlight(account)

	status := models.SyncStatus{
		Account:  account,
		State:    models.SyncStateIdle,
		InFlight: inFlight,
	}
	s.syncMu.Lock()
	if st := s.syncState[account]; st != nil {
		status.Progress = st.Progress
		status.LastSyncAt = st.LastSyncAt
		status.LastReport = st.LastReport
	}
	s.syncMu.Unlock()
	if inFlight && status.Progress.Phase != "" {
		status.State = status.Progress.Phase
	}
	return status, nil
}

func (s *Service) progressRecorder(account string) syncer.ProgressFunc {
	return func(p models.SyncProgress) {
		s.syncMu.Lock()
		s.accountStateLocked(account).Progress = p
		s.syncMu.Unlock()
	}
}

func (s *Service) accountStateLocked(account string) *accountSyncState {
	st, ok := s.syncState[account]
	if !ok {
		st = &accountSyncState{}
		s.syncState[account] = st
	}
	return st
}

func (s *Service) rememberReport(account string, report *models.SyncReport) {
	if report == nil {
		return
	}
	s.syncMu.Lock()
	st := s.accountStateLocked(account)
	st.LastReport = report
	st.LastSyncAt = report.FinishedAt
	st.Progress = models.SyncProgress{}
	s.syncMu.Unlock()
}

// diffNewMessages returns merged entries absent from existing, oldest
// first, for notification fan-out.
func diffNewMessages(existing, merged map[string]models.InboxMessage) []models.InboxMessage {
	var fresh []models.InboxMessage
	for id, msg := range merged {
		if _, ok := existing[id]; !ok {
			fresh = append(fresh, msg)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].LedgerTimestamp != fresh[j].LedgerTimestamp {
			return fresh[i].LedgerTimestamp < fresh[j].LedgerTimestamp
		}
		return fresh[i].ID < fresh[j].ID
	})
	return fresh
}
