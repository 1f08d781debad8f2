package wallet

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const AddressPrefix = "cmail1"

// EncodeAddress derives the public account identifier from a scan public key.
func EncodeAddress(scanPublicKey []byte) (string, error) {
	if len(scanPublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid scan public key size: %d", len(scanPublicKey))
	}
	h := blake2b.Sum256(scanPublicKey)
	return AddressPrefix + base58.Encode(h[:]), nil
}

// IsValidAddress checks the prefix and the base58 digest length.
func IsValidAddress(address string) bool {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, AddressPrefix) {
		return false
	}
	raw, err := base58.Decode(address[len(AddressPrefix):])
	if err != nil {
		return false
	}
	return len(raw) == blake2b.Size256
}

// NormalizeAddress trims transport artifacts around an address literal.
func NormalizeAddress(address string) string {
	return strings.Trim(strings.TrimSpace(address), `"'`)
}
