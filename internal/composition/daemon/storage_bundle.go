package daemon

import (
	"path/filepath"
	"time"

	"chainmail/go-backend/internal/storage"
)

// StorageBundle groups the daemon's persistent stores, all rooted in one
// data dir and sealed with one secret.
type StorageBundle struct {
	Inbox      *storage.InboxStore
	Records    *storage.RecordCache
	ScanState  *storage.ScanStateStore
	WalletPath string
}

func BuildStorageBundle(dataDir, secret string, cacheRetention time.Duration) (StorageBundle, error) {
	inboxPath := filepath.Join(dataDir, "inbox.enc")
	recordsPath := filepath.Join(dataDir, "records.enc")
	scanStatePath := filepath.Join(dataDir, "scanstate.enc")

	inbox, err := storage.NewEncryptedInboxStore(inboxPath, secret)
	if err != nil {
		return StorageBundle{}, err
	}

	records := storage.NewEncryptedRecordCache(recordsPath, secret)
	if cacheRetention > 0 {
		records.SetRetention(cacheRetention)
	}

	scanState := storage.NewScanStateStore()
	scanState.Configure(scanStatePath, secret)
	if err := scanState.Bootstrap(); err != nil {
		return StorageBundle{}, err
	}

	return StorageBundle{
		Inbox:      inbox,
		Records:    records,
		ScanState:  scanState,
		WalletPath: filepath.Join(dataDir, "wallet.enc"),
	}, nil
}
