package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateAndReopenWalletKeepsAddress(t *testing.T) {
	mnemonic, created, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	reopened, err := NewLocalWallet(mnemonic)
	if err != nil {
		t.Fatalf("reopen wallet: %v", err)
	}
	if created.Address() != reopened.Address() {
		t.Fatalf("address drifted across reopen: %q vs %q", created.Address(), reopened.Address())
	}
	if !IsValidAddress(created.Address()) {
		t.Fatalf("derived address is invalid: %q", created.Address())
	}
}

func TestNewLocalWalletRejectsBadMnemonics(t *testing.T) {
	if _, err := NewLocalWallet("   "); !errors.Is(err, ErrMnemonicRequired) {
		t.Fatalf("expected ErrMnemonicRequired, got %v", err)
	}
	if _, err := NewLocalWallet("definitely not a bip39 phrase"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestRecordSealRoundTrip(t *testing.T) {
	_, w, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	plaintext := "{ owner: cmail1alice, sender: cmail1bob, recipient: cmail1alice, content: 12345field, ts: 1700000000u64 }"

	ciphertext, err := w.EncryptRecord(plaintext, "987654321group")
	if err != nil {
		t.Fatalf("seal record: %v", err)
	}
	if !strings.HasPrefix(ciphertext, RecordCiphertextPrefix) {
		t.Fatalf("expected %q prefix on ciphertext", RecordCiphertextPrefix)
	}

	got, err := w.Decrypt(context.Background(), DecryptRequest{
		Ciphertext:          ciphertext,
		TransitionPublicKey: "987654321",
	})
	if err != nil {
		t.Fatalf("decrypt with canonical tpk: %v", err)
	}
	if got.Plaintext != plaintext {
		t.Fatalf("plaintext mismatch: %q", got.Plaintext)
	}

	// The display form carries the group suffix; sealing binds the canonical
	// digits, so the raw display tpk must not open the record.
	if _, err := w.Decrypt(context.Background(), DecryptRequest{
		Ciphertext:          ciphertext,
		TransitionPublicKey: "987654321group",
	}); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for display tpk, got %v", err)
	}
}

func TestDecryptRejectsForeignCiphertext(t *testing.T) {
	_, alice, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	_, mallory, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ciphertext, err := alice.EncryptRecord("{ owner: cmail1alice }", "42")
	if err != nil {
		t.Fatalf("seal record: %v", err)
	}
	if _, err := mallory.Decrypt(context.Background(), DecryptRequest{
		Ciphertext:          ciphertext,
		TransitionPublicKey: "42",
	}); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for foreign account, got %v", err)
	}
}

func TestDecryptRejectsMalformedCiphertext(t *testing.T) {
	_, w, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	cases := []string{
		"nonsense",
		"record1",
		"record1!!!not-base58!!!",
		"record1abc",
	}
	for _, input := range cases {
		if _, err := w.Decrypt(context.Background(), DecryptRequest{Ciphertext: input, TransitionPublicKey: "1"}); !errors.Is(err, ErrNotRecordCiphertext) {
			t.Fatalf("expected ErrNotRecordCiphertext for %q, got %v", input, err)
		}
	}
}

func TestDecryptHonorsCancelledContext(t *testing.T) {
	_, w, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Decrypt(ctx, DecryptRequest{Ciphertext: "record1abc", TransitionPublicKey: "1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateTransitionKeyShape(t *testing.T) {
	tpk, err := GenerateTransitionKey()
	if err != nil {
		t.Fatalf("generate tpk: %v", err)
	}
	if !strings.HasSuffix(tpk, "group") {
		t.Fatalf("expected group suffix, got %q", tpk)
	}
	canonical := CanonicalTPK(tpk)
	if strings.HasSuffix(canonical, "group") || canonical == "" {
		t.Fatalf("canonical form should strip the suffix, got %q", canonical)
	}
	if CanonicalTPK("  123group ") != "123" {
		t.Fatal("canonical form should trim whitespace before stripping")
	}
}

func TestLoadOrCreatePersistsWallet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.enc")

	first, created, err := LoadOrCreate(path, "storage-secret")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if !created {
		t.Fatal("expected first open to create the wallet")
	}

	second, createdAgain, err := LoadOrCreate(path, "storage-secret")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if createdAgain {
		t.Fatal("expected second open to load the existing wallet")
	}
	if first.Address() != second.Address() {
		t.Fatalf("address drifted across restarts: %q vs %q", first.Address(), second.Address())
	}
}

func TestLoadOrCreateRejectsWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.enc")
	if _, _, err := LoadOrCreate(path, "right-secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := LoadOrCreate(path, "wrong-secret"); err == nil {
		t.Fatal("expected decryption failure with wrong secret")
	}
}

func TestImportMnemonicReplacesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.enc")
	if _, _, err := LoadOrCreate(path, "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}

	mnemonic, fresh, err := CreateLocalWallet()
	if err != nil {
		t.Fatalf("create replacement: %v", err)
	}
	imported, err := ImportMnemonic(path, "secret", mnemonic)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.Address() != fresh.Address() {
		t.Fatalf("import derived a different address: %q vs %q", imported.Address(), fresh.Address())
	}

	reopened, created, err := LoadOrCreate(path, "secret")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if created {
		t.Fatal("expected reopen to load the imported wallet")
	}
	if reopened.Address() != fresh.Address() {
		t.Fatalf("reopen lost the imported account: %q vs %q", reopened.Address(), fresh.Address())
	}
}
