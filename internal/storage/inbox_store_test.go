package storage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"chainmail/go-backend/internal/securestore"
	"chainmail/go-backend/pkg/models"
)

func testMessage(id string, ts int64) models.InboxMessage {
	return models.InboxMessage{
		ID:              id,
		Direction:       models.MessageDirectionReceived,
		Sender:          "cmail1bob",
		Recipient:       "cmail1alice",
		Content:         "hello " + id,
		Status:          models.MessageStatusDecrypted,
		LedgerTimestamp: ts,
		ObservedAt:      time.Now().UTC(),
	}
}

func TestInboxStoreReplaceAndList(t *testing.T) {
	s := NewInboxStore()
	set := map[string]models.InboxMessage{
		"m1": testMessage("m1", 100),
		"m2": testMessage("m2", 300),
		"m3": testMessage("m3", 200),
	}
	if err := s.ReplaceAccount("cmail1alice", set); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if s.Count("cmail1alice") != 3 {
		t.Fatalf("expected 3 messages, got %d", s.Count("cmail1alice"))
	}

	listed := s.List("cmail1alice")
	if len(listed) != 3 {
		t.Fatalf("expected 3 listed, got %d", len(listed))
	}
	if listed[0].ID != "m2" || listed[1].ID != "m3" || listed[2].ID != "m1" {
		t.Fatalf("expected newest-first order, got %s %s %s", listed[0].ID, listed[1].ID, listed[2].ID)
	}

	if got := s.List("cmail1unknown"); len(got) != 0 {
		t.Fatalf("expected empty list for unknown account, got %d", len(got))
	}
}

func TestInboxStoreMessagesReturnsCopy(t *testing.T) {
	s := NewInboxStore()
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m1": testMessage("m1", 1)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got := s.Messages("cmail1alice")
	got["m1"] = testMessage("intruder", 9)
	got["m9"] = testMessage("m9", 9)
	if s.Count("cmail1alice") != 1 {
		t.Fatal("mutating the returned map must not touch the store")
	}
	if fresh := s.Messages("cmail1alice"); fresh["m1"].ID != "m1" {
		t.Fatalf("stored message mutated: %+v", fresh["m1"])
	}
}

func TestEncryptedInboxStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.enc")
	s, err := NewEncryptedInboxStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m1": testMessage("m1", 7)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	reopened, err := NewEncryptedInboxStore(path, "pass")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Count("cmail1alice") != 1 {
		t.Fatalf("snapshot lost across restart: %d messages", reopened.Count("cmail1alice"))
	}
	if got := reopened.List("cmail1alice"); got[0].Content != "hello m1" {
		t.Fatalf("unexpected content after restart: %q", got[0].Content)
	}
}

func TestEncryptedInboxStoreTamperFailsAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.enc")
	s, err := NewEncryptedInboxStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m1": testMessage("m1", 7)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	data[len(data)-3] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write tampered file failed: %v", err)
	}

	_, err = NewEncryptedInboxStore(path, "pass")
	if !errors.Is(err, securestore.ErrAuthFailed) && !errors.Is(err, securestore.ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed or ErrInvalid, got %v", err)
	}
}

func TestInboxStoreRollbackOnPersistError(t *testing.T) {
	s := &InboxStore{
		accounts: map[string]map[string]models.InboxMessage{
			"cmail1alice": {"m1": testMessage("m1", 1)},
		},
		path: t.TempDir(), // directory path forces os.WriteFile error
	}
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m2": testMessage("m2", 2)}); err == nil {
		t.Fatal("expected persist error")
	}
	if got := s.Messages("cmail1alice"); len(got) != 1 || got["m1"].ID != "m1" {
		t.Fatalf("memory must keep the previous snapshot on persist failure: %+v", got)
	}
}

func TestInboxStoreRemoveAccount(t *testing.T) {
	s := NewInboxStore()
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m1": testMessage("m1", 1)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if err := s.RemoveAccount("cmail1alice"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if s.Count("cmail1alice") != 0 {
		t.Fatal("account should be gone")
	}
	if err := s.RemoveAccount("cmail1never"); err != nil {
		t.Fatalf("removing a missing account must be a no-op: %v", err)
	}
}

func TestEncryptedInboxStoreCreatesPrivateDir(t *testing.T) {
	baseDir := t.TempDir()
	path := filepath.Join(baseDir, "secure", "inbox.enc")
	s, err := NewEncryptedInboxStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	if err := s.ReplaceAccount("cmail1alice", map[string]models.InboxMessage{"m1": testMessage("m1", 1)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat dir failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		t.Fatalf("expected dir perm 0700, got %04o", info.Mode().Perm())
	}
}
