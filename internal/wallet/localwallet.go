package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoScan    = "chainmail/scan/v1"
	hkdfInfoAddress = "chainmail/address/v1"
	hkdfInfoRecord  = "chainmail/record/v1"

	tpkGroupSuffix = "group"
)

var (
	ErrMnemonicRequired = errors.New("wallet: mnemonic is required")
	ErrInvalidMnemonic  = errors.New("wallet: invalid mnemonic")
	ErrDecryptFailed    = errors.New("wallet: record does not decrypt under this account")
)

// LocalWallet holds the scan key material for one account. It provides the
// decrypt capability only; it has no view of the account's record list, so
// tier-1 queries are answered by the scan tiers instead.
type LocalWallet struct {
	address    string
	scanSecret []byte
}

func NewLocalWallet(mnemonic string) (*LocalWallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	scanSecret, err := hkdfExpand(seed, hkdfInfoScan, 32)
	if err != nil {
		return nil, err
	}
	addressSeed, err := hkdfExpand(seed, hkdfInfoAddress, 32)
	if err != nil {
		return nil, err
	}
	pub := ed25519.NewKeyFromSeed(addressSeed).Public().(ed25519.PublicKey)
	address, err := EncodeAddress(pub)
	if err != nil {
		return nil, err
	}
	return &LocalWallet{address: address, scanSecret: scanSecret}, nil
}

func CreateLocalWallet() (mnemonic string, w *LocalWallet, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	w, err = NewLocalWallet(mnemonic)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, w, nil
}

func (w *LocalWallet) Address() string {
	return w.address
}

// Decrypt opens a record ciphertext sealed to this account. The sealing
// key is bound to the transition public key, so the exact canonical tpk
// must be supplied; callers that only hold a display form search over
// normalizations.
func (w *LocalWallet) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ciphertext := strings.TrimSpace(req.Ciphertext)
	if !strings.HasPrefix(ciphertext, RecordCiphertextPrefix) {
		return nil, ErrNotRecordCiphertext
	}
	raw, err := base58.Decode(ciphertext[len(RecordCiphertextPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRecordCiphertext, err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrNotRecordCiphertext
	}

	key, err := w.sealingKey(req.TransitionPublicKey)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := raw[:chacha20poly1305.NonceSizeX]
	box := raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return &DecryptResult{Plaintext: string(plain)}, nil
}

// EncryptRecord seals a record plaintext to this account, bound to the
// canonical form of the transition public key.
func (w *LocalWallet) EncryptRecord(plaintext, tpk string) (string, error) {
	key, err := w.sealingKey(CanonicalTPK(tpk))
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	box := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return RecordCiphertextPrefix + base58.Encode(append(nonce, box...)), nil
}

func (w *LocalWallet) sealingKey(tpk string) ([]byte, error) {
	return hkdfExpandSalted(w.scanSecret, []byte(strings.TrimSpace(tpk)), hkdfInfoRecord, chacha20poly1305.KeySize)
}

// CanonicalTPK strips the group-element display suffix. Ledger payloads
// carry "...group" while sealing uses the bare digits.
func CanonicalTPK(tpk string) string {
	return strings.TrimSuffix(strings.TrimSpace(tpk), tpkGroupSuffix)
}

// GenerateTransitionKey produces a fresh transition public key in display
// form. Sealing counterparts pair it with EncryptRecord.
func GenerateTransitionKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	n := new(big.Int).SetBytes(buf)
	return n.String() + tpkGroupSuffix, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	return hkdfExpandSalted(seed, nil, info, outLen)
}

func hkdfExpandSalted(secret, salt []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
