package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chainmail/go-backend/internal/securestore"
	"chainmail/go-backend/pkg/models"
)

const (
	recordCacheVersion = 1

	// Cached records older than this are treated as stale wholesale; the
	// window covers the bounded block scan's reach with margin.
	DefaultCacheRetention = 7 * 24 * time.Hour
)

type cacheEntry struct {
	UpdatedAt time.Time             `json:"updated_at"`
	Records   []models.CachedRecord `json:"records"`
}

// RecordCache keeps decrypted records per account between syncs so the
// block scan does not start from nothing. Reads never fail: a missing,
// stale or unreadable entry degrades to an empty result.
type RecordCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	path      string
	secret    string
	retention time.Duration
}

func NewRecordCache() *RecordCache {
	return &RecordCache{
		entries:   make(map[string]cacheEntry),
		retention: DefaultCacheRetention,
	}
}

// NewEncryptedRecordCache opens the cache snapshot at path. Unlike the
// inbox store, load failures are swallowed: the cache is reconstructible
// from the ledger, so a corrupt snapshot is just a cold start.
func NewEncryptedRecordCache(path, passphrase string) *RecordCache {
	c := &RecordCache{
		entries:   make(map[string]cacheEntry),
		path:      path,
		secret:    passphrase,
		retention: DefaultCacheRetention,
	}
	c.load()
	return c
}

func (c *RecordCache) SetRetention(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.retention = d
	}
}

// Get returns the account's live cached records. An entry whose last
// update falls outside the retention window is dropped as if Clear had
// been called.
func (c *RecordCache) Get(account string) []models.CachedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[account]
	if !ok {
		return nil
	}
	if time.Since(entry.UpdatedAt) > c.retention {
		next := cloneCacheEntries(c.entries)
		delete(next, account)
		c.entries = next
		c.persistSnapshotLocked(next)
		return nil
	}
	return append([]models.CachedRecord(nil), entry.Records...)
}

// Save replaces the account's cached set wholesale and stamps it as fresh.
func (c *RecordCache) Save(account string, records []models.CachedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(account, records)
}

// Append merges new records into the cached set, de-duplicating by
// transaction id with the newer value winning, sorts newest first and
// saves the result.
func (c *RecordCache) Append(account string, newRecords []models.CachedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make(map[string]models.CachedRecord)
	if entry, ok := c.entries[account]; ok && time.Since(entry.UpdatedAt) <= c.retention {
		for _, rec := range entry.Records {
			merged[recordCacheKey(rec)] = rec
		}
	}
	for _, rec := range newRecords {
		merged[recordCacheKey(rec)] = rec
	}
	out := make([]models.CachedRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	models.SortCachedRecords(out)
	return c.saveLocked(account, out)
}

// Clear removes the account's entry entirely.
func (c *RecordCache) Clear(account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[account]; !ok {
		return nil
	}
	next := cloneCacheEntries(c.entries)
	delete(next, account)
	if err := c.persistSnapshotLocked(next); err != nil {
		return err
	}
	c.entries = next
	return nil
}

func (c *RecordCache) saveLocked(account string, records []models.CachedRecord) error {
	next := cloneCacheEntries(c.entries)
	next[account] = cacheEntry{
		UpdatedAt: time.Now().UTC(),
		Records:   append([]models.CachedRecord(nil), records...),
	}
	if err := c.persistSnapshotLocked(next); err != nil {
		return err
	}
	c.entries = next
	return nil
}

func (c *RecordCache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil || len(data) == 0 {
		return
	}
	decoded := data
	if c.secret != "" {
		decoded, err = securestore.Decrypt(c.secret, data)
		if err != nil {
			if !errors.Is(err, securestore.ErrLegacyData) {
				return
			}
			decoded = data
		}
	}
	var snapshot persistedRecordCache
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return
	}
	if snapshot.Accounts != nil {
		c.entries = snapshot.Accounts
	}
}

func (c *RecordCache) persistSnapshotLocked(entries map[string]cacheEntry) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(persistedRecordCache{Version: recordCacheVersion, Accounts: entries})
	if err != nil {
		return err
	}
	if c.secret != "" {
		data, err = securestore.Encrypt(c.secret, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(c.path, data, 0o600)
}

type persistedRecordCache struct {
	Version  int                   `json:"version"`
	Accounts map[string]cacheEntry `json:"accounts"`
}

func recordCacheKey(rec models.CachedRecord) string {
	if rec.TxID != "" {
		return rec.TxID
	}
	return rec.ID
}

func cloneCacheEntries(in map[string]cacheEntry) map[string]cacheEntry {
	out := make(map[string]cacheEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
