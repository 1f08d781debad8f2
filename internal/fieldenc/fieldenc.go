// Package fieldenc converts short UTF-8 payloads to and from the ledger's
// native field encoding: a decimal big integer over the payload bytes with
// a "field" type suffix. Unsigned counters use the "u64" suffix.
package fieldenc

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	fieldSuffix = "field"
	u64Suffix   = "u64"

	// A field element holds just under 253 bits, so 31 payload bytes.
	maxPayloadBytes = 31
)

var (
	ErrPayloadTooLong = errors.New("fieldenc: payload exceeds field capacity")
	ErrNotAField      = errors.New("fieldenc: value is not a field literal")
	ErrNotAU64        = errors.New("fieldenc: value is not a u64 literal")
)

// Encode packs text into a single field literal.
func Encode(text string) (string, error) {
	raw := []byte(text)
	if len(raw) > maxPayloadBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(raw))
	}
	if len(raw) > 0 && raw[0] == 0 {
		return "", fmt.Errorf("fieldenc: payload must not start with a zero byte")
	}
	n := new(big.Int).SetBytes(raw)
	return n.String() + fieldSuffix, nil
}

// Decode unpacks a field literal produced by Encode back into text.
func Decode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasSuffix(value, fieldSuffix) {
		return "", ErrNotAField
	}
	digits := strings.TrimSuffix(value, fieldSuffix)
	if digits == "" {
		return "", ErrNotAField
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok || n.Sign() < 0 {
		return "", ErrNotAField
	}
	if n.Sign() == 0 {
		return "", nil
	}
	raw := n.Bytes()
	if len(raw) > maxPayloadBytes {
		return "", ErrNotAField
	}
	return string(raw), nil
}

// IsField reports whether the value looks like a field literal.
func IsField(value string) bool {
	value = strings.TrimSpace(value)
	if !strings.HasSuffix(value, fieldSuffix) {
		return false
	}
	digits := strings.TrimSuffix(value, fieldSuffix)
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DecodeDisplay decodes a field literal, falling back to the raw value for
// payloads that were stored as plain text by older senders.
func DecodeDisplay(value string) string {
	if decoded, err := Decode(value); err == nil {
		return decoded
	}
	return strings.TrimSpace(value)
}

// ParseU64 parses a ledger unsigned counter such as "1712345678u64".
func ParseU64(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasSuffix(value, u64Suffix) {
		return 0, ErrNotAU64
	}
	digits := strings.TrimSuffix(value, u64Suffix)
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, ErrNotAU64
	}
	return n, nil
}

// FormatU64 renders n as a ledger unsigned counter literal.
func FormatU64(n uint64) string {
	return strconv.FormatUint(n, 10) + u64Suffix
}
