package syncer

import (
	"chainmail/go-backend/pkg/models"
)

// Merge folds newly discovered messages into an existing set by message id
// and returns a fresh map. Ids only in the new set are added; ids in both
// are updated field-wise with existing non-empty values preserved; nothing
// is ever removed. Re-merging the same discoveries is a no-op.
func Merge(existing, discovered map[string]models.InboxMessage) map[string]models.InboxMessage {
	merged := make(map[string]models.InboxMessage, len(existing)+len(discovered))
	for id, msg := range existing {
		merged[id] = msg
	}
	for id, msg := range discovered {
		if current, ok := merged[id]; ok {
			merged[id] = fillEmptyFields(current, msg)
		} else {
			merged[id] = msg
		}
	}
	return merged
}

// fillEmptyFields lets incoming data fill gaps without overwriting anything
// the existing entry already carries.
func fillEmptyFields(existing, incoming models.InboxMessage) models.InboxMessage {
	out := existing
	if out.Direction == "" {
		out.Direction = incoming.Direction
	}
	if out.Sender == "" {
		out.Sender = incoming.Sender
	}
	if out.Recipient == "" {
		out.Recipient = incoming.Recipient
	}
	if out.Content == "" {
		out.Content = incoming.Content
	}
	if out.RawPlaintext == "" {
		out.RawPlaintext = incoming.RawPlaintext
	}
	if out.SourceTxID == "" {
		out.SourceTxID = incoming.SourceTxID
	}
	if out.SourceTransitionID == "" {
		out.SourceTransitionID = incoming.SourceTransitionID
	}
	if out.TransitionPublicKey == "" {
		out.TransitionPublicKey = incoming.TransitionPublicKey
	}
	if out.OutputIndex == 0 {
		out.OutputIndex = incoming.OutputIndex
	}
	if out.Status == "" {
		out.Status = incoming.Status
	}
	if out.LedgerTimestamp == 0 {
		out.LedgerTimestamp = incoming.LedgerTimestamp
	}
	if out.ObservedAt.IsZero() {
		out.ObservedAt = incoming.ObservedAt
	}
	return out
}

// countNew reports how many discovered ids were absent from the existing
// set.
func countNew(existing, discovered map[string]models.InboxMessage) int {
	n := 0
	for id := range discovered {
		if _, ok := existing[id]; !ok {
			n++
		}
	}
	return n
}
