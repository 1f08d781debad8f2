package records

import (
	"fmt"
	"strings"
	"unicode"

	"chainmail/go-backend/internal/fieldenc"
)

// RecordFields are the labeled values carried by a record plaintext of the
// form `{ owner: cmail1..., sender: cmail1..., recipient: cmail1...,
// content: 123field, ts: 1700000000u64 }`.
type RecordFields struct {
	Owner     string
	Sender    string
	Recipient string
	Content   string
	Timestamp int64
}

// BuildRecordPlaintext renders the canonical record plaintext for an
// outbound message. Content is packed into its field encoding.
func BuildRecordPlaintext(owner, sender, recipient, content string, ts int64) (string, error) {
	encoded, err := fieldenc.Encode(content)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("{ owner: %s, sender: %s, recipient: %s, content: %s, ts: %s }",
		owner, sender, recipient, encoded, fieldenc.FormatU64(uint64(ts))), nil
}

// ParseRecordPlaintext scans the labeled fields out of a record plaintext.
// Unknown labels are ignored and missing labels stay empty; content is
// decoded from its field encoding when it carries one.
func ParseRecordPlaintext(plaintext string) RecordFields {
	fields := RecordFields{
		Owner:     scanLabel(plaintext, "owner"),
		Sender:    scanLabel(plaintext, "sender"),
		Recipient: scanLabel(plaintext, "recipient"),
	}
	if raw := scanLabel(plaintext, "content"); raw != "" {
		fields.Content = fieldenc.DecodeDisplay(raw)
	}
	if raw := scanLabel(plaintext, "ts"); raw != "" {
		if ts, err := fieldenc.ParseU64(raw); err == nil {
			fields.Timestamp = int64(ts)
		}
	}
	return fields
}

// scanLabel returns the value following `label:` up to the next comma,
// closing brace or whitespace, with quote decorations stripped.
func scanLabel(s, label string) string {
	ix := strings.Index(s, label+":")
	if ix < 0 {
		return ""
	}
	rest := s[ix+len(label)+1:]
	rest = strings.TrimLeft(rest, " \t\"")
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == ',' || r == '}' || unicode.IsSpace(r)
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return strings.Trim(rest, "\"\\")
}
