package models

import (
	"sort"
	"strings"
)

const (
	MessageDirectionReceived = "received"
	MessageDirectionSent     = "sent"
)

const (
	MessageStatusDecrypted = "decrypted"
	MessageStatusCached    = "cached"
)

const (
	SyncOutcomeComplete = "complete"
	SyncOutcomeDegraded = "degraded"
	SyncOutcomeFailed   = "failed"
)

const (
	SyncStateIdle           = "idle"
	SyncStateWalletRecords  = "wallet_records"
	SyncStateCheckingCache  = "checking_cache"
	SyncStateScanningBlocks = "scanning_blocks"
	SyncStateMerging        = "merging"
	SyncStatePersisting     = "persisting"
)

const (
	ImportStatusAdded    = "added"
	ImportStatusNotFound = "not_found"
	ImportStatusNoAccess = "no_access"
)

func NormalizeMessageStatus(raw string) string {
	switch strings.TrimSpace(raw) {
	case MessageStatusCached:
		return MessageStatusCached
	default:
		return MessageStatusDecrypted
	}
}

func NormalizeInboxMessage(msg InboxMessage) InboxMessage {
	msg.ID = strings.TrimSpace(msg.ID)
	msg.Sender = strings.TrimSpace(msg.Sender)
	msg.Recipient = strings.TrimSpace(msg.Recipient)
	msg.Status = NormalizeMessageStatus(msg.Status)
	if strings.TrimSpace(msg.Direction) != MessageDirectionSent {
		msg.Direction = MessageDirectionReceived
	}
	return msg
}

// SortMessagesByRecency orders newest first: ledger timestamp, then
// client observation time, then id for a deterministic tie-break.
func SortMessagesByRecency(list []InboxMessage) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].LedgerTimestamp != list[j].LedgerTimestamp {
			return list[i].LedgerTimestamp > list[j].LedgerTimestamp
		}
		if !list[i].ObservedAt.Equal(list[j].ObservedAt) {
			return list[i].ObservedAt.After(list[j].ObservedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func SortCachedRecords(list []CachedRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].LedgerTimestamp != list[j].LedgerTimestamp {
			return list[i].LedgerTimestamp > list[j].LedgerTimestamp
		}
		if !list[i].CachedAt.Equal(list[j].CachedAt) {
			return list[i].CachedAt.After(list[j].CachedAt)
		}
		return list[i].TxID < list[j].TxID
	})
}
