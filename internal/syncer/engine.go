// Package syncer reconstructs an account's inbox from three sources in
// order: the wallet's own record list, the local record cache, and a
// bounded scan of recent ledger blocks. All tiers converge on a pure merge
// into the caller's existing message set.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/records"
	"chainmail/go-backend/internal/storage"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

// Ledger is the read-only slice of the ledger client the engine consumes.
type Ledger interface {
	Height(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) *ledger.Block
	Transaction(ctx context.Context, id string) *ledger.Transaction
	FetchByID(ctx context.Context, id string) *ledger.Transaction
}

type Config struct {
	ProgramID     string `yaml:"programId"`
	FunctionName  string `yaml:"functionName"`
	ScanWindow    uint64 `yaml:"scanWindow"`
	ScanBatchSize int    `yaml:"scanBatchSize"`
	MaxMatchedTxs int    `yaml:"maxMatchedTxs"`
	ScanThreshold int    `yaml:"scanThreshold"`
}

func DefaultConfig() Config {
	return Config{
		ProgramID:     "chainmail_v1.aleo",
		FunctionName:  "send_message",
		ScanWindow:    200,
		ScanBatchSize: 10,
		MaxMatchedTxs: 50,
		ScanThreshold: 5,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = def.ProgramID
	}
	if strings.TrimSpace(cfg.FunctionName) == "" {
		cfg.FunctionName = def.FunctionName
	}
	if cfg.ScanWindow == 0 {
		cfg.ScanWindow = def.ScanWindow
	}
	if cfg.ScanBatchSize <= 0 {
		cfg.ScanBatchSize = def.ScanBatchSize
	}
	if cfg.MaxMatchedTxs <= 0 {
		cfg.MaxMatchedTxs = def.MaxMatchedTxs
	}
	if cfg.ScanThreshold <= 0 {
		cfg.ScanThreshold = def.ScanThreshold
	}
	return cfg
}

type EngineDeps struct {
	Ledger    Ledger
	Wallet    wallet.Wallet
	Resolver  *records.Resolver
	Cache     *storage.RecordCache
	ScanState *storage.ScanStateStore

	Logger  *slog.Logger
	Metrics *metrics.Collectors

	Notify         func(method string, payload any)
	RecordError    func(category string, err error)
	TrackOperation func(operation string, errRef *error) func()
	Now            func() time.Time
}

type ProgressFunc func(models.SyncProgress)

type Engine struct {
	cfg      Config
	deps     EngineDeps
	sessions *sessionRegistry
}

func NewEngine(cfg Config, deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		cfg:      normalizeConfig(cfg),
		deps:     deps,
		sessions: newSessionRegistry(),
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Sync reconstructs the inbox for account on top of the caller's existing
// message set and returns the merged set plus a report. The caller owns
// persisting the merged set. A non-nil error is returned only when every
// tier was unusable; partial results always come back merged.
func (e *Engine) Sync(ctx context.Context, account string, existing map[string]models.InboxMessage, onProgress ProgressFunc) (merged map[string]models.InboxMessage, report *models.SyncReport, err error) {
	if e.deps.TrackOperation != nil {
		defer e.deps.TrackOperation("inbox.sync", &err)()
	}
	account = wallet.NormalizeAddress(account)
	if !wallet.IsValidAddress(account) {
		return nil, nil, fmt.Errorf("syncer: %q is not a valid account address", account)
	}

	sess, err := e.sessions.begin(account)
	if err != nil {
		return nil, nil, err
	}
	defer e.sessions.end(account)

	started := e.deps.Now().UTC()
	report = &models.SyncReport{Account: account, StartedAt: started}
	discovered := make(map[string]models.InboxMessage)

	// Tier 1: the wallet's own record list.
	e.emitProgress(account, onProgress, models.SyncProgress{Phase: models.SyncStateWalletRecords})
	walletMsgs, walletRecs, walletErr := e.walletTier(ctx, account)
	if walletErr != nil {
		if errors.Is(walletErr, wallet.ErrNoWalletAccess) {
			e.deps.Logger.Debug("wallet cannot list records, falling back", "error", walletErr)
		} else {
			e.recordError("api", walletErr)
			e.deps.Logger.Warn("wallet record listing failed", "error", walletErr)
		}
	}
	for _, msg := range walletMsgs {
		addDiscovered(discovered, msg)
	}
	report.FromWallet = len(walletMsgs)
	if len(walletRecs) > 0 && e.deps.Cache != nil {
		if cacheErr := e.deps.Cache.Append(account, walletRecs); cacheErr != nil {
			e.recordError("storage", cacheErr)
		}
	}

	// Tier 2: cache fallback, only when the wallet yielded nothing.
	if len(walletMsgs) == 0 {
		e.emitProgress(account, onProgress, models.SyncProgress{Phase: models.SyncStateCheckingCache})
		cacheMsgs := e.cacheTier(account)
		for _, msg := range cacheMsgs {
			addDiscovered(discovered, msg)
		}
		report.FromCache = len(cacheMsgs)
	}

	// Tier 3: bounded block scan when tiers 1+2 came up empty or thin.
	combined := len(discovered)
	needScan := combined == 0 || (combined < e.cfg.ScanThreshold && len(walletMsgs) == 0)
	var scanOut *scanResult
	if needScan {
		scanOut = e.scanLedger(ctx, sess, account, onProgress)
		for _, msg := range scanOut.messages {
			addDiscovered(discovered, msg)
		}
		report.FromScan = len(scanOut.messages)
		report.ScannedBlocks = scanOut.scanned
		report.MatchedTxs = scanOut.matched
		report.Cancelled = scanOut.cancelled
	}

	// Merge and persist, unconditionally: partial progress is kept.
	e.emitProgress(account, onProgress, models.SyncProgress{Phase: models.SyncStateMerging, Percent: 100})
	merged = Merge(existing, discovered)
	report.NewCount = countNew(existing, discovered)

	e.emitProgress(account, onProgress, models.SyncProgress{Phase: models.SyncStatePersisting, Percent: 100})
	if scanOut != nil {
		e.persistScanOutcome(account, scanOut)
	}

	report.Outcome, report.DegradedReason = e.classifyOutcome(walletErr, report, scanOut)
	report.Messages = sortedMessages(merged)
	report.FinishedAt = e.deps.Now().UTC()

	e.deps.Metrics.ObserveSyncRun(report.Outcome, report.FinishedAt.Sub(started).Seconds())
	e.deps.Metrics.AddMessagesConfirmed(report.NewCount)
	e.deps.Logger.Info("inbox sync finished",
		"account", account,
		"outcome", report.Outcome,
		"new_count", report.NewCount,
		"from_wallet", report.FromWallet,
		"from_cache", report.FromCache,
		"from_scan", report.FromScan,
		"scanned_blocks", report.ScannedBlocks)

	if report.Outcome == models.SyncOutcomeFailed {
		err = fmt.Errorf("syncer: every tier unavailable for %s: %w", account, walletErr)
		return merged, report, err
	}
	return merged, report, nil
}

// ForceRefresh drops the account's cache entry and checked-transaction set,
// then runs a full sync so everything is re-derived from the wallet and the
// ledger.
func (e *Engine) ForceRefresh(ctx context.Context, account string, existing map[string]models.InboxMessage, onProgress ProgressFunc) (map[string]models.InboxMessage, *models.SyncReport, error) {
	account = wallet.NormalizeAddress(account)
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Clear(account); err != nil {
			e.recordError("storage", err)
		}
	}
	if e.deps.ScanState != nil {
		if err := e.deps.ScanState.ResetChecked(account); err != nil {
			e.recordError("storage", err)
		}
	}
	return e.Sync(ctx, account, existing, onProgress)
}

// ImportByID runs the extraction/resolution pipeline against one
// transaction or transition id, merging anything addressed to the account.
func (e *Engine) ImportByID(ctx context.Context, account, id string, existing map[string]models.InboxMessage) (merged map[string]models.InboxMessage, report *models.ImportReport, err error) {
	if e.deps.TrackOperation != nil {
		defer e.deps.TrackOperation("inbox.import", &err)()
	}
	account = wallet.NormalizeAddress(account)
	if !wallet.IsValidAddress(account) {
		return nil, nil, fmt.Errorf("syncer: %q is not a valid account address", account)
	}
	id = strings.TrimSpace(id)
	if !ledger.IsTransactionID(id) && !ledger.IsTransitionID(id) {
		return nil, nil, fmt.Errorf("syncer: %q is not a transaction or transition id", id)
	}
	if e.deps.Resolver == nil || wallet.AsDecrypter(e.deps.Wallet) == nil {
		return existing, &models.ImportReport{Status: models.ImportStatusNoAccess}, nil
	}
	if e.deps.Ledger == nil {
		return existing, &models.ImportReport{Status: models.ImportStatusNotFound}, nil
	}

	tx := e.deps.Ledger.FetchByID(ctx, id)
	if tx == nil {
		return existing, &models.ImportReport{Status: models.ImportStatusNotFound}, nil
	}

	now := e.deps.Now().UTC()
	discovered := make(map[string]models.InboxMessage)
	var recs []models.CachedRecord
	for _, cand := range records.ExtractFromTransaction(tx, account, e.filter()) {
		res := e.deps.Resolver.Resolve(ctx, cand.ResolveRequest())
		if res == nil || res.Recipient != account {
			continue
		}
		msg := messageFromResolution(cand, res, 0, now)
		addDiscovered(discovered, msg)
		recs = append(recs, cachedRecordFromMessage(msg, now))
	}
	if len(discovered) == 0 {
		return existing, &models.ImportReport{Status: models.ImportStatusNotFound}, nil
	}

	merged = Merge(existing, discovered)
	if e.deps.Cache != nil {
		if cacheErr := e.deps.Cache.Append(account, recs); cacheErr != nil {
			e.recordError("storage", cacheErr)
		}
	}
	if e.deps.ScanState != nil && tx.ID != "" {
		if stateErr := e.deps.ScanState.MarkChecked(account, []string{tx.ID}); stateErr != nil {
			e.recordError("storage", stateErr)
		}
	}
	e.deps.Metrics.AddMessagesConfirmed(countNew(existing, discovered))
	return merged, &models.ImportReport{Status: models.ImportStatusAdded, Messages: sortedMessages(merged)}, nil
}

// CancelSync asks a running sync to stop at the next batch boundary.
func (e *Engine) CancelSync(account string) bool {
	return e.sessions.cancelActive(wallet.NormalizeAddress(account))
}

func (e *Engine) InFlight(account string) bool {
	return e.sessions.inFlight(wallet.NormalizeAddress(account))
}

// walletTier lists the wallet's records for the program and keeps those
// addressed to the account. The returned error marks the whole tier as
// unavailable; an available wallet with zero records is not an error.
func (e *Engine) walletTier(ctx context.Context, account string) ([]models.InboxMessage, []models.CachedRecord, error) {
	w := e.deps.Wallet
	if w == nil {
		return nil, nil, wallet.ErrNoWalletAccess
	}

	var entries []wallet.RecordEntry
	listed := false
	var lastErr error
	if lister, ok := w.(wallet.RecordPlaintextLister); ok {
		got, err := lister.RequestRecordPlaintexts(ctx, e.cfg.ProgramID)
		if err != nil {
			lastErr = err
		} else {
			entries = got
			listed = true
		}
	}
	if !listed {
		if lister, ok := w.(wallet.RecordLister); ok {
			got, err := lister.RequestRecords(ctx, e.cfg.ProgramID)
			if err != nil {
				lastErr = err
			} else {
				entries = got
				listed = true
			}
		}
	}
	if !listed {
		if lastErr == nil {
			lastErr = wallet.ErrNoWalletAccess
		}
		return nil, nil, lastErr
	}

	now := e.deps.Now().UTC()
	var msgs []models.InboxMessage
	var recs []models.CachedRecord
	for _, entry := range entries {
		msg, ok := e.messageFromWalletEntry(ctx, account, entry, now)
		if !ok {
			continue
		}
		msgs = append(msgs, msg)
		recs = append(recs, cachedRecordFromMessage(msg, now))
	}
	return msgs, recs, nil
}

func (e *Engine) messageFromWalletEntry(ctx context.Context, account string, entry wallet.RecordEntry, now time.Time) (models.InboxMessage, bool) {
	plaintext := strings.TrimSpace(entry.Plaintext)
	var sender, recipient, content string
	var ts int64

	if plaintext != "" {
		fields := records.ParseRecordPlaintext(plaintext)
		sender, recipient, content, ts = fields.Sender, fields.Recipient, fields.Content, fields.Timestamp
	} else {
		if entry.Ciphertext == "" || e.deps.Resolver == nil {
			return models.InboxMessage{}, false
		}
		res := e.deps.Resolver.Resolve(ctx, records.Request{
			Ciphertext:   entry.Ciphertext,
			ProgramID:    e.cfg.ProgramID,
			FunctionName: e.cfg.FunctionName,
		})
		if res == nil {
			return models.InboxMessage{}, false
		}
		plaintext = res.Plaintext
		sender, recipient, content = res.Sender, res.Recipient, res.Content
		ts = records.ParseRecordPlaintext(res.Plaintext).Timestamp
	}

	if recipient != account {
		return models.InboxMessage{}, false
	}
	if ts == 0 {
		ts = entry.LedgerTimestamp
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = syntheticMessageID(sender, ts)
	}
	return models.InboxMessage{
		ID:              id,
		Direction:       models.MessageDirectionReceived,
		Sender:          sender,
		Recipient:       recipient,
		Content:         content,
		RawPlaintext:    plaintext,
		SourceTxID:      strings.TrimSpace(entry.TxID),
		Status:          models.MessageStatusDecrypted,
		LedgerTimestamp: ts,
		ObservedAt:      now,
	}, true
}

// cacheTier converts the account's live cached records, marked with the
// degraded Cached status.
func (e *Engine) cacheTier(account string) []models.InboxMessage {
	if e.deps.Cache == nil {
		return nil
	}
	now := e.deps.Now().UTC()
	var msgs []models.InboxMessage
	for _, rec := range e.deps.Cache.Get(account) {
		if rec.Recipient != account {
			continue
		}
		id := rec.ID
		if id == "" {
			id = syntheticMessageID(rec.Sender, rec.LedgerTimestamp)
		}
		msgs = append(msgs, models.InboxMessage{
			ID:                  id,
			Direction:           models.MessageDirectionReceived,
			Sender:              rec.Sender,
			Recipient:           rec.Recipient,
			Content:             rec.Content,
			RawPlaintext:        rec.RawPlaintext,
			SourceTxID:          rec.TxID,
			SourceTransitionID:  rec.TransitionID,
			OutputIndex:         rec.OutputIndex,
			TransitionPublicKey: rec.TransitionPublicKey,
			Status:              models.MessageStatusCached,
			LedgerTimestamp:     rec.LedgerTimestamp,
			ObservedAt:          now,
		})
	}
	return msgs
}

func (e *Engine) persistScanOutcome(account string, scanOut *scanResult) {
	if e.deps.Cache != nil && len(scanOut.records) > 0 {
		if err := e.deps.Cache.Append(account, scanOut.records); err != nil {
			e.recordError("storage", err)
		}
	}
	if e.deps.ScanState == nil {
		return
	}
	if len(scanOut.checked) > 0 {
		if err := e.deps.ScanState.MarkChecked(account, scanOut.checked); err != nil {
			e.recordError("storage", err)
		}
	}
	if scanOut.windowComplete && scanOut.topHeight > 0 && !scanOut.heightFromFallback {
		if err := e.deps.ScanState.SetLastSyncedHeight(account, scanOut.topHeight); err != nil {
			e.recordError("storage", err)
		}
	}
}

func (e *Engine) classifyOutcome(walletErr error, report *models.SyncReport, scanOut *scanResult) (string, string) {
	if scanOut == nil {
		return models.SyncOutcomeComplete, ""
	}
	if scanOut.emptyWindow {
		if walletErr != nil && report.FromCache == 0 {
			return models.SyncOutcomeFailed, "all_tiers_unavailable"
		}
		return models.SyncOutcomeDegraded, "height_unavailable"
	}
	if scanOut.cancelled {
		return models.SyncOutcomeDegraded, "cancelled"
	}
	if scanOut.heightFromFallback {
		return models.SyncOutcomeDegraded, "height_fallback"
	}
	return models.SyncOutcomeComplete, ""
}

func (e *Engine) filter() records.Filter {
	return records.Filter{ProgramID: e.cfg.ProgramID, FunctionName: e.cfg.FunctionName}
}

// syncProgressEvent is the notification payload: the progress snapshot
// plus the account it belongs to, since several syncs may interleave on
// the stream.
type syncProgressEvent struct {
	Account string `json:"account"`
	models.SyncProgress
}

func (e *Engine) emitProgress(account string, onProgress ProgressFunc, p models.SyncProgress) {
	if onProgress != nil {
		onProgress(p)
	}
	if e.deps.Notify != nil {
		e.deps.Notify("notify.sync.progress", syncProgressEvent{Account: account, SyncProgress: p})
	}
}

func (e *Engine) recordError(category string, err error) {
	if e.deps.RecordError != nil && err != nil {
		e.deps.RecordError(category, err)
	}
}

func addDiscovered(discovered map[string]models.InboxMessage, msg models.InboxMessage) {
	current, ok := discovered[msg.ID]
	if !ok {
		discovered[msg.ID] = msg
		return
	}
	// Within one run a fresh decryption beats a cache copy of the same
	// record; otherwise the earlier tier wins and later finds fill gaps.
	if current.Status == models.MessageStatusCached && msg.Status == models.MessageStatusDecrypted {
		discovered[msg.ID] = fillEmptyFields(msg, current)
	} else {
		discovered[msg.ID] = fillEmptyFields(current, msg)
	}
}

func messageFromResolution(cand records.Candidate, res *records.Resolution, blockTimestamp int64, now time.Time) models.InboxMessage {
	ts := records.ParseRecordPlaintext(res.Plaintext).Timestamp
	if ts == 0 {
		ts = blockTimestamp
	}
	id := cand.OutputID
	if id == "" {
		if cand.TransitionID != "" {
			id = cand.TransitionID + "-" + strconv.Itoa(cand.OutputIndex)
		} else {
			id = syntheticMessageID(res.Sender, ts)
		}
	}
	return models.InboxMessage{
		ID:                  id,
		Direction:           models.MessageDirectionReceived,
		Sender:              res.Sender,
		Recipient:           res.Recipient,
		Content:             res.Content,
		RawPlaintext:        res.Plaintext,
		SourceTxID:          cand.TxID,
		SourceTransitionID:  cand.TransitionID,
		OutputIndex:         cand.OutputIndex,
		TransitionPublicKey: cand.TPK,
		Status:              models.MessageStatusDecrypted,
		LedgerTimestamp:     ts,
		ObservedAt:          now,
	}
}

func cachedRecordFromMessage(msg models.InboxMessage, now time.Time) models.CachedRecord {
	return models.CachedRecord{
		ID:                  msg.ID,
		TxID:                msg.SourceTxID,
		TransitionID:        msg.SourceTransitionID,
		OutputIndex:         msg.OutputIndex,
		TransitionPublicKey: msg.TransitionPublicKey,
		Sender:              msg.Sender,
		Recipient:           msg.Recipient,
		Content:             msg.Content,
		RawPlaintext:        msg.RawPlaintext,
		LedgerTimestamp:     msg.LedgerTimestamp,
		CachedAt:            now,
	}
}

func syntheticMessageID(sender string, ts int64) string {
	return sender + "-" + strconv.FormatInt(ts, 10)
}

func sortedMessages(set map[string]models.InboxMessage) []models.InboxMessage {
	out := make([]models.InboxMessage, 0, len(set))
	for _, msg := range set {
		out = append(out, msg)
	}
	models.SortMessagesByRecency(out)
	return out
}
