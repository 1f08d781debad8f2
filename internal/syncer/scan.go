package syncer

import (
	"context"
	"sync"
	"time"

	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/records"
	"chainmail/go-backend/pkg/models"
)

// scanResult carries everything a block scan produced plus the facts the
// outcome classifier and the persistence step need.
type scanResult struct {
	messages []models.InboxMessage
	records  []models.CachedRecord
	checked  []string

	topHeight          uint64
	heightFromFallback bool
	emptyWindow        bool
	window             int
	scanned            int
	matched            int
	cancelled          bool
	windowComplete     bool
}

// scanLedger walks the most recent blocks newest first, batching fetches
// and stopping early on cancellation or once enough matching transactions
// were found. Individual fetch failures skip the block; only a missing
// chain height collapses the window entirely.
func (e *Engine) scanLedger(ctx context.Context, sess *session, account string, onProgress ProgressFunc) *scanResult {
	out := &scanResult{}
	if e.deps.Ledger == nil {
		out.emptyWindow = true
		return out
	}

	top, err := e.deps.Ledger.Height(ctx)
	if err != nil {
		e.recordError("ledger", err)
		last, ok := uint64(0), false
		if e.deps.ScanState != nil {
			last, ok = e.deps.ScanState.LastSyncedHeight(account)
		}
		if !ok {
			e.deps.Logger.Warn("chain height unavailable and no synced watermark, skipping block scan", "error", err)
			out.emptyWindow = true
			return out
		}
		e.deps.Logger.Warn("chain height unavailable, scanning from last synced watermark", "height", last, "error", err)
		top = last
		out.heightFromFallback = true
	}
	out.topHeight = top

	window := e.cfg.ScanWindow
	if top+1 < window {
		window = top + 1
	}
	out.window = int(window)
	if window == 0 {
		out.emptyWindow = true
		return out
	}

	var checkedSet map[string]struct{}
	if e.deps.ScanState != nil {
		checkedSet = e.deps.ScanState.CheckedSet(account)
	} else {
		checkedSet = make(map[string]struct{})
	}
	inspected := make(map[string]struct{})
	now := e.deps.Now().UTC()

	heights := make([]uint64, 0, window)
	for h := top; ; h-- {
		heights = append(heights, h)
		if h == top-window+1 {
			break
		}
	}

	stopped := false
	for start := 0; start < len(heights); start += e.cfg.ScanBatchSize {
		if ctx.Err() != nil || sess.cancelled() {
			out.cancelled = true
			break
		}
		if out.matched >= e.cfg.MaxMatchedTxs {
			stopped = true
			break
		}

		end := start + e.cfg.ScanBatchSize
		if end > len(heights) {
			end = len(heights)
		}
		for _, blk := range e.fetchBlocks(ctx, heights[start:end]) {
			out.scanned++
			if blk == nil {
				continue
			}
			e.scanBlock(ctx, account, blk, checkedSet, inspected, now, out)
		}

		e.emitProgress(account, onProgress, models.SyncProgress{
			Phase:         models.SyncStateScanningBlocks,
			Percent:       out.scanned * 100 / out.window,
			ScannedBlocks: out.scanned,
			WindowSize:    out.window,
		})
	}

	out.windowComplete = !out.cancelled && (stopped || out.scanned >= out.window)
	e.deps.Metrics.AddScannedBlocks(out.scanned)
	return out
}

// scanBlock inspects each transaction once, gates it on the program and
// function filter, then runs the extract/resolve pipeline on matches. Ids
// of gate-passing transactions go to the checked set whether or not a
// record decrypted, so later runs never re-decrypt them.
func (e *Engine) scanBlock(ctx context.Context, account string, blk *ledger.Block, checkedSet, inspected map[string]struct{}, now time.Time, out *scanResult) {
	filter := e.filter()
	for i := range blk.Transactions {
		if out.matched >= e.cfg.MaxMatchedTxs {
			return
		}
		tx := &blk.Transactions[i]
		if tx.ID != "" {
			if _, seen := checkedSet[tx.ID]; seen {
				continue
			}
			if _, seen := inspected[tx.ID]; seen {
				continue
			}
			inspected[tx.ID] = struct{}{}
		}
		if !txMatchesFilter(tx, filter) {
			continue
		}
		out.matched++
		if tx.ID != "" {
			checkedSet[tx.ID] = struct{}{}
			out.checked = append(out.checked, tx.ID)
		}

		if e.deps.Resolver == nil {
			continue
		}

		// Block listings often carry thin transactions; the detail
		// fetch recovers full outputs. When it fails the embedded
		// shape is still worth extracting from.
		detail := tx
		if tx.ID != "" {
			if full := e.deps.Ledger.Transaction(ctx, tx.ID); full != nil {
				detail = full
			}
		}
		for _, cand := range records.ExtractFromTransaction(detail, account, filter) {
			res := e.deps.Resolver.Resolve(ctx, cand.ResolveRequest())
			if res == nil || res.Recipient != account {
				continue
			}
			msg := messageFromResolution(cand, res, blk.Timestamp, now)
			out.messages = append(out.messages, msg)
			out.records = append(out.records, cachedRecordFromMessage(msg, now))
		}
	}
}

// fetchBlocks retrieves one batch concurrently, preserving order. A failed
// fetch leaves a nil slot; callers skip it.
func (e *Engine) fetchBlocks(ctx context.Context, heights []uint64) []*ledger.Block {
	blocks := make([]*ledger.Block, len(heights))
	var wg sync.WaitGroup
	for i, h := range heights {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			blocks[i] = e.deps.Ledger.Block(ctx, h)
		}()
	}
	wg.Wait()
	return blocks
}

func txMatchesFilter(tx *ledger.Transaction, filter records.Filter) bool {
	for _, tr := range tx.Transitions() {
		if tr.Program == filter.ProgramID && tr.Function == filter.FunctionName {
			return true
		}
	}
	return false
}
