package daemonservice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/records"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticAddress(t *testing.T, fill byte) string {
	t.Helper()
	addr, err := wallet.EncodeAddress(bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}
	return addr
}

type fakeLedger struct {
	mu         sync.Mutex
	height     uint64
	txs        map[string]*ledger.Transaction
	probeCalls int
	probeErr   string
}

func (f *fakeLedger) Height(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeLedger) Block(ctx context.Context, height uint64) *ledger.Block { return nil }

func (f *fakeLedger) Transaction(ctx context.Context, id string) *ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[id]
}

func (f *fakeLedger) FetchByID(ctx context.Context, id string) *ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[id]
}

func (f *fakeLedger) Probe(ctx context.Context) models.LedgerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	status := models.LedgerStatus{Status: "ok", Height: f.height, EndpointCount: 1}
	if f.probeErr != "" {
		status.Status = "unreachable"
		status.LastError = f.probeErr
	}
	return status
}

func (f *fakeLedger) Status() models.LedgerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.LedgerStatus{Status: "ok", Height: f.height, EndpointCount: 1}
}

func (f *fakeLedger) Metrics() map[string]int {
	return map[string]int{"requests_total": 1}
}

// listingWallet answers plaintext record listings without decrypt support.
type listingWallet struct {
	address string
	entries []wallet.RecordEntry
	listErr error
}

func (w *listingWallet) Address() string { return w.address }

func (w *listingWallet) RequestRecordPlaintexts(ctx context.Context, programID string) ([]wallet.RecordEntry, error) {
	if w.listErr != nil {
		return nil, w.listErr
	}
	return w.entries, nil
}

func recordPlaintext(t *testing.T, owner, sender, recipient, content string, ts int64) string {
	t.Helper()
	plaintext, err := records.BuildRecordPlaintext(owner, sender, recipient, content, ts)
	if err != nil {
		t.Fatalf("build record plaintext: %v", err)
	}
	return plaintext
}

func newTestService(t *testing.T, led LedgerClient, w wallet.Wallet) *Service {
	t.Helper()
	if led == nil {
		led = &fakeLedger{height: 50}
	}
	svc, err := NewServiceWithOptions(config.DefaultConfig(), ServiceOptions{
		Ledger: led,
		Wallet: w,
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func TestSyncInboxPersistsAndNotifies(t *testing.T) {
	sender := staticAddress(t, 2)
	lw := &listingWallet{address: staticAddress(t, 1)}
	lw.entries = []wallet.RecordEntry{{
		ID:        "rec-1",
		TxID:      "at1source",
		Plaintext: recordPlaintext(t, lw.address, sender, lw.address, "hello from chain", 1700000000),
	}}
	svc := newTestService(t, nil, lw)

	report, err := svc.SyncInbox(context.Background(), "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Account != lw.address {
		t.Fatalf("report account = %s, want wallet default", report.Account)
	}
	if report.Outcome != models.SyncOutcomeComplete || report.NewCount != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	listed, err := svc.ListInbox(lw.address)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Content != "hello from chain" {
		t.Fatalf("inbox not persisted: %+v", listed)
	}

	replay, _, cancel := svc.SubscribeNotifications(0)
	defer cancel()
	seen := map[string]int{}
	for _, event := range replay {
		seen[event.Method]++
	}
	if seen["notify.message.new"] != 1 {
		t.Fatalf("expected one new-message notification, got %d", seen["notify.message.new"])
	}
	if seen["notify.sync.done"] != 1 {
		t.Fatalf("expected one sync-done notification, got %d", seen["notify.sync.done"])
	}
	if seen["notify.sync.progress"] == 0 {
		t.Fatal("expected progress notifications on the hub")
	}
}

func TestSyncInboxSecondRunAddsNothingNew(t *testing.T) {
	sender := staticAddress(t, 2)
	lw := &listingWallet{address: staticAddress(t, 1)}
	lw.entries = []wallet.RecordEntry{{
		ID:        "rec-1",
		Plaintext: recordPlaintext(t, lw.address, sender, lw.address, "once", 1700000000),
	}}
	svc := newTestService(t, nil, lw)

	if _, err := svc.SyncInbox(context.Background(), ""); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	report, err := svc.SyncInbox(context.Background(), "")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.NewCount != 0 {
		t.Fatalf("second run new count = %d, want 0", report.NewCount)
	}

	replay, _, cancel := svc.SubscribeNotifications(0)
	defer cancel()
	newCount := 0
	for _, event := range replay {
		if event.Method == "notify.message.new" {
			newCount++
		}
	}
	if newCount != 1 {
		t.Fatalf("new-message notifications = %d, want 1", newCount)
	}
}

func TestSyncInboxWithoutWalletRequiresAccount(t *testing.T) {
	svc := newTestService(t, nil, nil)
	if _, err := svc.SyncInbox(context.Background(), ""); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got: %v", err)
	}
}

func TestImportMessagePersistsAddedMessages(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	sender := staticAddress(t, 3)
	ciphertext, err := w.EncryptRecord(recordPlaintext(t, w.Address(), sender, w.Address(), "imported", 1700000200), "")
	if err != nil {
		t.Fatalf("seal record: %v", err)
	}
	led := &fakeLedger{height: 80, txs: map[string]*ledger.Transaction{
		"at1import": {
			ID: "at1import",
			Execution: &ledger.Execution{Transitions: []ledger.Transition{{
				ID:       "au1import",
				Program:  "chainmail_v1.aleo",
				Function: "send_message",
				Outputs:  []ledger.Output{{Type: "record", ID: "au1import-o0", Value: ciphertext}},
			}}},
		},
	}}
	svc := newTestService(t, led, w)

	report, err := svc.ImportMessage(context.Background(), "", "at1import")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Status != models.ImportStatusAdded {
		t.Fatalf("import status = %s, want added", report.Status)
	}
	listed, err := svc.ListInbox(w.Address())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Content != "imported" {
		t.Fatalf("import not persisted: %+v", listed)
	}
}

func TestImportMessageUnknownIDIsNotFound(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	svc := newTestService(t, &fakeLedger{height: 10}, w)

	report, err := svc.ImportMessage(context.Background(), "", "at1missing")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Status != models.ImportStatusNotFound {
		t.Fatalf("import status = %s, want not_found", report.Status)
	}
	if listed, _ := svc.ListInbox(w.Address()); len(listed) != 0 {
		t.Fatalf("nothing should be persisted: %+v", listed)
	}
}

func TestSyncStatusTracksLastReport(t *testing.T) {
	sender := staticAddress(t, 2)
	lw := &listingWallet{address: staticAddress(t, 1)}
	lw.entries = []wallet.RecordEntry{{
		ID:        "rec-1",
		Plaintext: recordPlaintext(t, lw.address, sender, lw.address, "status", 1700000000),
	}}
	svc := newTestService(t, nil, lw)

	before, err := svc.SyncStatus("")
	if err != nil {
		t.Fatalf("status before: %v", err)
	}
	if before.InFlight || before.LastReport != nil || before.State != models.SyncStateIdle {
		t.Fatalf("unexpected initial status: %+v", before)
	}

	if _, err := svc.SyncInbox(context.Background(), ""); err != nil {
		t.Fatalf("sync: %v", err)
	}
	after, err := svc.SyncStatus("")
	if err != nil {
		t.Fatalf("status after: %v", err)
	}
	if after.InFlight {
		t.Fatal("sync must not be in flight after returning")
	}
	if after.LastReport == nil || after.LastReport.Outcome != models.SyncOutcomeComplete {
		t.Fatalf("last report not remembered: %+v", after.LastReport)
	}
	if after.LastSyncAt.IsZero() {
		t.Fatal("last sync time not recorded")
	}
}

func TestCancelSyncWithNothingRunning(t *testing.T) {
	svc := newTestService(t, nil, &listingWallet{address: staticAddress(t, 1)})
	cancelled, err := svc.CancelSync("")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled {
		t.Fatal("nothing was running, cancel must report false")
	}
}
