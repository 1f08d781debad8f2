package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"sync"
	"time"

	"chainmail/go-backend/internal/securestore"
)

const (
	scanStateVersion = 1

	// Only the most recent checked-transaction ids are kept per account so
	// the skip set cannot grow without bound.
	checkedTxCap = 500
)

// AccountScanState records which transactions a block scan has already
// examined for an account and how far the ledger had been walked.
type AccountScanState struct {
	CheckedTxs       []string  `json:"checked_txs"`
	LastSyncedHeight uint64    `json:"last_synced_height"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ScanStateStore persists scan bookkeeping per account. Mutating calls
// persist before updating memory.
type ScanStateStore struct {
	mu     sync.Mutex
	path   string
	secret string
	state  map[string]AccountScanState
}

func NewScanStateStore() *ScanStateStore {
	return &ScanStateStore{state: make(map[string]AccountScanState)}
}

func (s *ScanStateStore) Configure(path, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

// Bootstrap loads the persisted state, creating an empty snapshot on first
// run.
func (s *ScanStateStore) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	plaintext, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persistLocked()
		}
		return err
	}
	var snapshot persistedScanState
	if err := json.Unmarshal(plaintext, &snapshot); err != nil {
		return err
	}
	if snapshot.Version != scanStateVersion {
		return errors.New("scan state persistence payload is invalid")
	}
	if snapshot.Accounts != nil {
		s.state = snapshot.Accounts
	}
	return nil
}

// CheckedSet returns the account's checked-transaction ids as a set.
func (s *ScanStateStore) CheckedSet(account string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.state[account]
	out := make(map[string]struct{}, len(entry.CheckedTxs))
	for _, id := range entry.CheckedTxs {
		out[id] = struct{}{}
	}
	return out
}

// MarkChecked appends newly examined transaction ids, dropping the oldest
// entries beyond the cap.
func (s *ScanStateStore) MarkChecked(account string, txIDs []string) error {
	if len(txIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.state[account]
	seen := make(map[string]struct{}, len(entry.CheckedTxs)+len(txIDs))
	for _, id := range entry.CheckedTxs {
		seen[id] = struct{}{}
	}
	checked := append([]string(nil), entry.CheckedTxs...)
	for _, id := range txIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		checked = append(checked, id)
	}
	if len(checked) > checkedTxCap {
		checked = append([]string(nil), checked[len(checked)-checkedTxCap:]...)
	}
	entry.CheckedTxs = checked
	entry.UpdatedAt = time.Now().UTC()
	return s.putLocked(account, entry)
}

func (s *ScanStateStore) LastSyncedHeight(account string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state[account]
	if !ok || entry.LastSyncedHeight == 0 {
		return 0, false
	}
	return entry.LastSyncedHeight, true
}

func (s *ScanStateStore) SetLastSyncedHeight(account string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.state[account]
	entry.LastSyncedHeight = height
	entry.UpdatedAt = time.Now().UTC()
	return s.putLocked(account, entry)
}

// ResetChecked drops the checked-transaction set so a forced refresh
// re-examines everything. The height watermark survives.
func (s *ScanStateStore) ResetChecked(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state[account]
	if !ok || len(entry.CheckedTxs) == 0 {
		return nil
	}
	entry.CheckedTxs = nil
	entry.UpdatedAt = time.Now().UTC()
	return s.putLocked(account, entry)
}

func (s *ScanStateStore) putLocked(account string, entry AccountScanState) error {
	previous, hadPrevious := s.state[account]
	s.state[account] = entry
	if err := s.persistLocked(); err != nil {
		if hadPrevious {
			s.state[account] = previous
		} else {
			delete(s.state, account)
		}
		return err
	}
	return nil
}

func (s *ScanStateStore) persistLocked() error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	return securestore.WriteEncryptedJSON(s.path, s.secret, persistedScanState{
		Version:  scanStateVersion,
		Accounts: s.state,
	})
}

type persistedScanState struct {
	Version  int                         `json:"version"`
	Accounts map[string]AccountScanState `json:"accounts"`
}
