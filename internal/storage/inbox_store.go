// Package storage persists the reconciled inbox, the record cache and the
// scan bookkeeping as encrypted JSON snapshots scoped by account address.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"chainmail/go-backend/internal/securestore"
	"chainmail/go-backend/pkg/models"
)

const inboxSnapshotVersion = 1

// InboxStore holds the reconciled message set per account. Mutations build
// a new map and persist it before swapping, so readers never observe a
// half-written snapshot.
type InboxStore struct {
	mu       sync.RWMutex
	accounts map[string]map[string]models.InboxMessage
	path     string
	secret   string
}

func NewInboxStore() *InboxStore {
	return &InboxStore{accounts: make(map[string]map[string]models.InboxMessage)}
}

func NewPersistentInboxStore(path string) (*InboxStore, error) {
	return NewEncryptedInboxStore(path, "")
}

func NewEncryptedInboxStore(path, passphrase string) (*InboxStore, error) {
	s := &InboxStore{
		accounts: make(map[string]map[string]models.InboxMessage),
		path:     path,
		secret:   passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Messages returns a copy of the account's message set keyed by message id,
// suitable as merge input.
func (s *InboxStore) Messages(account string) map[string]models.InboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessageSet(s.accounts[account])
}

// List returns the account's messages newest first.
func (s *InboxStore) List(account string) []models.InboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.accounts[account]
	out := make([]models.InboxMessage, 0, len(set))
	for _, msg := range set {
		out = append(out, msg)
	}
	models.SortMessagesByRecency(out)
	return out
}

func (s *InboxStore) Count(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts[account])
}

// ReplaceAccount swaps in the merged message set for an account. The set is
// copied on the way in; persistence failure leaves the previous snapshot in
// place.
func (s *InboxStore) ReplaceAccount(account string, messages map[string]models.InboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]map[string]models.InboxMessage, len(s.accounts)+1)
	for addr, set := range s.accounts {
		next[addr] = set
	}
	next[account] = cloneMessageSet(messages)
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.accounts = next
	return nil
}

// RemoveAccount drops an account's inbox entirely.
func (s *InboxStore) RemoveAccount(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account]; !ok {
		return nil
	}
	next := make(map[string]map[string]models.InboxMessage, len(s.accounts))
	for addr, set := range s.accounts {
		if addr == account {
			continue
		}
		next[addr] = set
	}
	if err := s.persistSnapshotLocked(next); err != nil {
		return err
	}
	s.accounts = next
	return nil
}

func (s *InboxStore) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if s.secret != "" {
		decoded, err = securestore.Decrypt(s.secret, data)
		if err != nil {
			if errors.Is(err, securestore.ErrLegacyData) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot persistedInbox
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	if snapshot.Accounts != nil {
		s.accounts = snapshot.Accounts
	}
	return nil
}

func (s *InboxStore) persistSnapshotLocked(accounts map[string]map[string]models.InboxMessage) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(persistedInbox{Version: inboxSnapshotVersion, Accounts: accounts})
	if err != nil {
		return err
	}
	if s.secret != "" {
		data, err = securestore.Encrypt(s.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

type persistedInbox struct {
	Version  int                                       `json:"version"`
	Accounts map[string]map[string]models.InboxMessage `json:"accounts"`
}

func cloneMessageSet(in map[string]models.InboxMessage) map[string]models.InboxMessage {
	out := make(map[string]models.InboxMessage, len(in))
	for id, msg := range in {
		out[id] = msg
	}
	return out
}
