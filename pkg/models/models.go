package models

import (
	"time"
)

type Account struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// InboxMessage is a confirmed, decrypted message visible to one account.
// ID is stable across repeated syncs of the same underlying record.
type InboxMessage struct {
	ID                  string    `json:"id"`
	Direction           string    `json:"direction"`
	Sender              string    `json:"sender"`
	Recipient           string    `json:"recipient"`
	Content             string    `json:"content"`
	RawPlaintext        string    `json:"raw_plaintext,omitempty"`
	SourceTxID          string    `json:"source_tx_id,omitempty"`
	SourceTransitionID  string    `json:"source_transition_id,omitempty"`
	OutputIndex         int       `json:"output_index"`
	TransitionPublicKey string    `json:"transition_public_key,omitempty"`
	Status              string    `json:"status"`
	LedgerTimestamp     int64     `json:"ledger_timestamp,omitempty"`
	ObservedAt          time.Time `json:"observed_at"`
}

// CachedRecord is the compact persisted form of an InboxMessage.
type CachedRecord struct {
	ID                  string    `json:"id"`
	TxID                string    `json:"tx_id"`
	TransitionID        string    `json:"transition_id,omitempty"`
	OutputIndex         int       `json:"output_index"`
	TransitionPublicKey string    `json:"transition_public_key,omitempty"`
	Sender              string    `json:"sender"`
	Recipient           string    `json:"recipient"`
	Content             string    `json:"content"`
	RawPlaintext        string    `json:"raw_plaintext,omitempty"`
	LedgerTimestamp     int64     `json:"ledger_timestamp"`
	CachedAt            time.Time `json:"cached_at"`
}

type SyncProgress struct {
	Phase         string `json:"phase"`
	Percent       int    `json:"percent"`
	ScannedBlocks int    `json:"scanned_blocks"`
	WindowSize    int    `json:"window_size"`
}

type SyncReport struct {
	Account        string         `json:"account"`
	Outcome        string         `json:"outcome"`
	Messages       []InboxMessage `json:"messages"`
	NewCount       int            `json:"new_count"`
	FromWallet     int            `json:"from_wallet"`
	FromCache      int            `json:"from_cache"`
	FromScan       int            `json:"from_scan"`
	ScannedBlocks  int            `json:"scanned_blocks"`
	MatchedTxs     int            `json:"matched_txs"`
	Cancelled      bool           `json:"cancelled,omitempty"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

type ImportReport struct {
	Status   string         `json:"status"`
	Messages []InboxMessage `json:"messages,omitempty"`
}

type SyncStatus struct {
	Account    string       `json:"account"`
	State      string       `json:"state"`
	InFlight   bool         `json:"in_flight"`
	Progress   SyncProgress `json:"progress"`
	LastSyncAt time.Time    `json:"last_sync_at,omitempty"`
	LastReport *SyncReport  `json:"last_report,omitempty"`
}

type WalletStatus struct {
	Mode         string `json:"mode"`
	Address      string `json:"address"`
	RecordAccess bool   `json:"record_access"`
	CanDecrypt   bool   `json:"can_decrypt"`
	Created      bool   `json:"created,omitempty"`
}

type LedgerStatus struct {
	Status        string    `json:"status"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Height        uint64    `json:"height,omitempty"`
	EndpointCount int       `json:"endpoint_count"`
	LastProbeAt   time.Time `json:"last_probe_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

type MetricsSnapshot struct {
	ErrorCounters       map[string]int             `json:"error_counters"`
	OperationStats      map[string]OperationMetric `json:"operation_stats"`
	LedgerMetrics       map[string]int             `json:"ledger_metrics"`
	RetryAttemptsTotal  int                        `json:"retry_attempts_total"`
	NotificationBacklog int                        `json:"notification_backlog"`
	LastUpdatedAt       time.Time                  `json:"last_updated_at"`
}

type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}
