package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/wallet"
	"chainmail/go-backend/pkg/models"
)

func TestSyncBlockScanFindsSealedRecord(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	sender := staticAddress(t, 20)
	tx := sealedTx(t, w, sender, "at1deep", "au1deep", "720914group", "buried treasure", 1700000001)
	led := &fakeLedger{
		height: 5,
		blocks: emptyBlocks(0, 5),
		txs:    map[string]*ledger.Transaction{"at1deep": tx},
	}
	led.blocks[5] = &ledger.Block{Height: 5, Timestamp: 1690000000, Transactions: []ledger.Transaction{thinTx("at1deep", "au1deep")}}
	fx := newTestEngine(t, DefaultConfig(), led, w)
	acct := w.Address()

	merged, report, err := fx.eng.Sync(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	msg := singleMessage(t, merged)
	if msg.ID != "au1deep-o0" {
		t.Fatalf("message id = %q", msg.ID)
	}
	if msg.Sender != sender || msg.Recipient != acct || msg.Content != "buried treasure" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Status != models.MessageStatusDecrypted || msg.TransitionPublicKey != "720914group" || msg.OutputIndex != 0 {
		t.Fatalf("unexpected message detail: %+v", msg)
	}
	if msg.LedgerTimestamp != 1700000001 {
		t.Fatalf("plaintext timestamp should win over block timestamp: %d", msg.LedgerTimestamp)
	}
	if report.Outcome != models.SyncOutcomeComplete || report.FromScan != 1 || report.MatchedTxs != 1 || report.ScannedBlocks != 6 {
		t.Fatalf("report = %+v", report)
	}
	if led.detailCalls != 1 {
		t.Fatalf("detail fetches = %d, want 1", led.detailCalls)
	}
	if _, checked := fx.states.CheckedSet(acct)["at1deep"]; !checked {
		t.Fatalf("matched transaction not in checked set")
	}
	if height, ok := fx.states.LastSyncedHeight(acct); !ok || height != 5 {
		t.Fatalf("last synced height = %d/%v, want 5", height, ok)
	}
	if got := fx.cache.Get(acct); len(got) != 1 || got[0].TxID != "at1deep" {
		t.Fatalf("scan result not cached: %+v", got)
	}

	// A second run finds the transaction in the checked set and never
	// re-fetches its detail; the cache copy must not downgrade the
	// decrypted entry.
	merged2, report2, err := fx.eng.Sync(context.Background(), acct, merged, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report2.FromScan != 0 || led.detailCalls != 1 {
		t.Fatalf("checked transaction was re-examined: report=%+v detail=%d", report2, led.detailCalls)
	}
	msg2 := singleMessage(t, merged2)
	if msg2.Status != models.MessageStatusDecrypted || msg2.Content != "buried treasure" {
		t.Fatalf("merge downgraded message: %+v", msg2)
	}
}

func TestSyncHeightFallbackToWatermark(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	sender := staticAddress(t, 21)
	tx := sealedTx(t, w, sender, "at1fall", "au1fall", "5555group", "found via watermark", 1700000200)
	led := &fakeLedger{
		heightErr: errors.New("height route down"),
		blocks:    emptyBlocks(0, 4),
		txs:       map[string]*ledger.Transaction{"at1fall": tx},
	}
	led.blocks[3] = &ledger.Block{Height: 3, Transactions: []ledger.Transaction{thinTx("at1fall", "au1fall")}}
	fx := newTestEngine(t, DefaultConfig(), led, w)
	acct := w.Address()
	if err := fx.states.SetLastSyncedHeight(acct, 4); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	merged, report, err := fx.eng.Sync(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if msg := singleMessage(t, merged); msg.Content != "found via watermark" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if report.Outcome != models.SyncOutcomeDegraded || report.DegradedReason != "height_fallback" {
		t.Fatalf("report = %+v", report)
	}
	if report.ScannedBlocks != 5 {
		t.Fatalf("scanned = %d, want watermark-sized window of 5", report.ScannedBlocks)
	}
	if height, _ := fx.states.LastSyncedHeight(acct); height != 4 {
		t.Fatalf("fallback scan must not advance the watermark: %d", height)
	}
}

func TestSyncDegradedWhenHeightAndWatermarkMissing(t *testing.T) {
	acct := staticAddress(t, 22)
	sender := staticAddress(t, 23)
	lw := &listingWallet{address: acct, listErr: errors.New("bridge offline")}
	led := &fakeLedger{heightErr: errors.New("every endpoint failed")}
	fx := newTestEngine(t, DefaultConfig(), led, lw)

	if err := fx.cache.Save(acct, []models.CachedRecord{
		{ID: "c-1", TxID: "at1c1", Sender: sender, Recipient: acct, Content: "held one", LedgerTimestamp: 1},
		{ID: "c-2", TxID: "at1c2", Sender: sender, Recipient: acct, Content: "held two", LedgerTimestamp: 2},
	}); err != nil {
		t.Fatalf("preload cache: %v", err)
	}

	merged, report, err := fx.eng.Sync(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("degraded sync must not error: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("cached messages lost: %d", len(merged))
	}
	if report.Outcome != models.SyncOutcomeDegraded || report.DegradedReason != "height_unavailable" {
		t.Fatalf("report = %+v", report)
	}
	if report.ScannedBlocks != 0 || led.blockCalls != 0 {
		t.Fatalf("empty window should scan nothing: %+v", report)
	}
}

func TestSyncFailsOnlyWhenEveryTierUnavailable(t *testing.T) {
	acct := staticAddress(t, 24)
	lw := &listingWallet{address: acct, listErr: errors.New("bridge offline")}
	led := &fakeLedger{heightErr: errors.New("every endpoint failed")}
	fx := newTestEngine(t, DefaultConfig(), led, lw)

	existing := map[string]models.InboxMessage{"keep-1": mergeMsg("keep-1", "survivor", 100)}
	merged, report, err := fx.eng.Sync(context.Background(), acct, existing, nil)
	if err == nil {
		t.Fatalf("expected terminal error when wallet, cache and ledger are all unavailable")
	}
	if report.Outcome != models.SyncOutcomeFailed || report.DegradedReason != "all_tiers_unavailable" {
		t.Fatalf("report = %+v", report)
	}
	if len(merged) != 1 || merged["keep-1"].Content != "survivor" {
		t.Fatalf("existing messages must survive a failed sync: %+v", merged)
	}
	if len(report.Messages) != 1 {
		t.Fatalf("report messages = %d", len(report.Messages))
	}
}

func TestSyncCancellationKeepsPartialProgress(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	sender := staticAddress(t, 25)
	tx := sealedTx(t, w, sender, "at1early", "au1early", "8888group", "rescued before cancel", 1700000300)
	led := &fakeLedger{
		height: 99,
		blocks: emptyBlocks(0, 99),
		txs:    map[string]*ledger.Transaction{"at1early": tx},
	}
	led.blocks[95] = &ledger.Block{Height: 95, Transactions: []ledger.Transaction{thinTx("at1early", "au1early")}}
	fx := newTestEngine(t, DefaultConfig(), led, w)
	acct := w.Address()

	var once sync.Once
	onProgress := func(p models.SyncProgress) {
		if p.Phase == models.SyncStateScanningBlocks {
			once.Do(func() {
				if !fx.eng.CancelSync(acct) {
					t.Errorf("cancel found no active sync")
				}
			})
		}
	}

	merged, report, err := fx.eng.Sync(context.Background(), acct, nil, onProgress)
	if err != nil {
		t.Fatalf("cancelled sync must not error: %v", err)
	}
	if !report.Cancelled || report.Outcome != models.SyncOutcomeDegraded || report.DegradedReason != "cancelled" {
		t.Fatalf("report = %+v", report)
	}
	if report.ScannedBlocks != 10 || led.blockCalls != 10 {
		t.Fatalf("scan did not stop after the first batch: %+v", report)
	}
	if msg := singleMessage(t, merged); msg.Content != "rescued before cancel" {
		t.Fatalf("partial progress discarded: %+v", msg)
	}
	if got := fx.cache.Get(acct); len(got) != 1 {
		t.Fatalf("partial scan results not cached: %+v", got)
	}
	if _, checked := fx.states.CheckedSet(acct)["at1early"]; !checked {
		t.Fatalf("checked set not persisted on cancellation")
	}
	if _, ok := fx.states.LastSyncedHeight(acct); ok {
		t.Fatalf("cancelled scan must not record a synced height")
	}
}

func TestSyncStopsAfterMatchLimit(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	cfg := Config{ScanWindow: 50, ScanBatchSize: 5, MaxMatchedTxs: 3, ScanThreshold: 5}
	blocks := make(map[uint64]*ledger.Block)
	for h := uint64(0); h <= 49; h++ {
		blocks[h] = &ledger.Block{
			Height:       h,
			Transactions: []ledger.Transaction{thinTx(fmt.Sprintf("at1h%d", h), fmt.Sprintf("au1h%d", h))},
		}
	}
	led := &fakeLedger{height: 49, blocks: blocks}
	fx := newTestEngine(t, cfg, led, w)
	acct := w.Address()

	merged, report, err := fx.eng.Sync(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("thin transactions produced messages: %d", len(merged))
	}
	if report.MatchedTxs != 3 {
		t.Fatalf("matched = %d, want exactly the limit", report.MatchedTxs)
	}
	if report.ScannedBlocks != 5 || led.blockCalls != 5 {
		t.Fatalf("scan continued past the stopping batch: %+v", report)
	}
	if report.Outcome != models.SyncOutcomeComplete {
		t.Fatalf("outcome = %q", report.Outcome)
	}
	if height, ok := fx.states.LastSyncedHeight(acct); !ok || height != 49 {
		t.Fatalf("early stop should still advance the watermark: %d/%v", height, ok)
	}
	checked := fx.states.CheckedSet(acct)
	if len(checked) != 3 {
		t.Fatalf("checked set size = %d, want 3", len(checked))
	}
	for _, id := range []string{"at1h49", "at1h48", "at1h47"} {
		if _, ok := checked[id]; !ok {
			t.Fatalf("newest matches should be checked first, missing %s", id)
		}
	}
}

func TestSyncProgressReporting(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	led := &fakeLedger{height: 19, blocks: emptyBlocks(0, 19)}
	fx := newTestEngine(t, DefaultConfig(), led, w)

	var updates []models.SyncProgress
	_, _, err = fx.eng.Sync(context.Background(), w.Address(), nil, func(p models.SyncProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(updates) < 4 {
		t.Fatalf("updates = %d, want at least wallet, cache, scan and merge phases", len(updates))
	}
	if updates[0].Phase != models.SyncStateWalletRecords || updates[1].Phase != models.SyncStateCheckingCache {
		t.Fatalf("unexpected leading phases: %+v", updates[:2])
	}

	var scans []models.SyncProgress
	for _, p := range updates {
		if p.Phase == models.SyncStateScanningBlocks {
			scans = append(scans, p)
		}
	}
	if len(scans) != 2 {
		t.Fatalf("scanning updates = %d, want one per batch", len(scans))
	}
	if scans[0].Percent != 50 || scans[0].ScannedBlocks != 10 || scans[0].WindowSize != 20 {
		t.Fatalf("first batch progress = %+v", scans[0])
	}
	if scans[1].Percent != 100 {
		t.Fatalf("final batch progress = %+v", scans[1])
	}

	last := updates[len(updates)-1]
	if last.Phase != models.SyncStatePersisting || last.Percent != 100 {
		t.Fatalf("final update = %+v", last)
	}
}

func TestForceRefreshRederivesFromLedger(t *testing.T) {
	_, w, err := wallet.CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	sender := staticAddress(t, 26)
	tx := sealedTx(t, w, sender, "at1fresh", "au1fresh", "9999group", "rebuilt from chain", 1700000400)
	led := &fakeLedger{
		height: 2,
		blocks: emptyBlocks(0, 2),
		txs:    map[string]*ledger.Transaction{"at1fresh": tx},
	}
	led.blocks[2] = &ledger.Block{Height: 2, Transactions: []ledger.Transaction{thinTx("at1fresh", "au1fresh")}}
	fx := newTestEngine(t, DefaultConfig(), led, w)
	acct := w.Address()

	if err := fx.cache.Save(acct, []models.CachedRecord{
		{ID: "stale-1", TxID: "at1stale", Sender: sender, Recipient: acct, Content: "stale copy", LedgerTimestamp: 1},
	}); err != nil {
		t.Fatalf("preload cache: %v", err)
	}
	if err := fx.states.MarkChecked(acct, []string{"at1fresh"}); err != nil {
		t.Fatalf("seed checked set: %v", err)
	}

	// A plain sync refuses to re-examine the checked transaction and only
	// sees the stale cache copy.
	plainMerged, plainReport, err := fx.eng.Sync(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("plain sync: %v", err)
	}
	if plainReport.FromScan != 0 {
		t.Fatalf("plain sync re-examined a checked transaction: %+v", plainReport)
	}
	if msg := singleMessage(t, plainMerged); msg.Content != "stale copy" {
		t.Fatalf("unexpected plain sync result: %+v", msg)
	}

	merged, report, err := fx.eng.ForceRefresh(context.Background(), acct, nil, nil)
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if report.FromCache != 0 {
		t.Fatalf("cache served results after a forced clear: %+v", report)
	}
	if report.FromScan != 1 {
		t.Fatalf("forced refresh did not rescan: %+v", report)
	}
	if msg := singleMessage(t, merged); msg.Content != "rebuilt from chain" {
		t.Fatalf("unexpected refreshed message: %+v", msg)
	}
	if got := fx.cache.Get(acct); len(got) != 1 || got[0].TxID != "at1fresh" {
		t.Fatalf("cache not rebuilt from the ledger: %+v", got)
	}
}
