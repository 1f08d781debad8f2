// Package wallet defines the capability surface the inbox engine consumes
// and the two backends that provide it: a mnemonic-seeded local wallet and
// a bridge to an external wallet daemon. Capabilities beyond Address are
// optional; callers probe for them with type assertions.
package wallet

import (
	"context"
	"errors"
)

// RecordCiphertextPrefix marks a serialized record ciphertext. Anything
// without it is not decryptable record data.
const RecordCiphertextPrefix = "record1"

var (
	// ErrNoWalletAccess means the backend cannot list the account's
	// records; the cache and scan tiers remain usable.
	ErrNoWalletAccess = errors.New("wallet: record access not granted")

	ErrNotRecordCiphertext = errors.New("wallet: value is not a record ciphertext")
)

// RecordEntry is one wallet-reported record. Backends populate whichever
// of Plaintext and Ciphertext they hold.
type RecordEntry struct {
	ID              string `json:"id,omitempty"`
	TxID            string `json:"tx_id,omitempty"`
	Plaintext       string `json:"plaintext,omitempty"`
	Ciphertext      string `json:"ciphertext,omitempty"`
	LedgerTimestamp int64  `json:"ledger_timestamp,omitempty"`
}

// DecryptRequest carries the ciphertext plus every optional hint a backend
// may require. Which hints are needed varies by backend and is not
// discoverable in advance.
type DecryptRequest struct {
	Ciphertext          string
	TransitionPublicKey string
	ProgramID           string
	FunctionName        string
	OutputIndex         *int
}

// DecryptResult is a normalized decrypt answer. Plaintext is always set on
// success; Sender, Recipient and Content are set only by backends that
// pre-parse the record.
type DecryptResult struct {
	Plaintext string
	Sender    string
	Recipient string
	Content   string
}

// Wallet is the minimal surface every backend provides.
type Wallet interface {
	Address() string
}

// RecordLister answers tier-1 record queries for a program.
type RecordLister interface {
	RequestRecords(ctx context.Context, programID string) ([]RecordEntry, error)
}

// RecordPlaintextLister is the richer tier-1 variant returning decrypted
// plaintexts directly.
type RecordPlaintextLister interface {
	RequestRecordPlaintexts(ctx context.Context, programID string) ([]RecordEntry, error)
}

// Decrypter is the single opaque decryption primitive searched by the
// resolver. A failed attempt returns an error; it is not terminal.
type Decrypter interface {
	Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error)
}

// StatusChecker reports transaction finality where the backend knows it.
// The daemon does not consume it; bridge backends expose it for clients
// that track their own submissions.
type StatusChecker interface {
	TransactionStatus(ctx context.Context, txID string) (string, error)
}

func HasRecordAccess(w Wallet) bool {
	if _, ok := w.(RecordLister); ok {
		return true
	}
	_, ok := w.(RecordPlaintextLister)
	return ok
}

// AsDecrypter returns the backend's decryption capability, or nil when the
// backend cannot decrypt.
func AsDecrypter(w Wallet) Decrypter {
	if d, ok := w.(Decrypter); ok {
		return d
	}
	return nil
}
