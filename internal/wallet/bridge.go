package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	bridgeTokenHeader = "X-Wallet-Token"

	rpcCodeAccessDenied   = -32001
	rpcCodeMethodNotFound = -32601

	maxBridgeResponseBytes = 4 << 20
)

// BridgeConfig points at an external wallet daemon speaking JSON-RPC 2.0.
type BridgeConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Address  string        `yaml:"address"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BridgeWallet proxies record listing, decryption and status queries to a
// wallet daemon that owns the account keys. It exposes every optional
// capability; the daemon may still refuse individual calls, which surfaces
// as ErrNoWalletAccess.
type BridgeWallet struct {
	cfg    BridgeConfig
	http   *http.Client
	logger *slog.Logger
	nextID atomic.Int64
}

func NewBridgeWallet(cfg BridgeConfig, logger *slog.Logger) (*BridgeWallet, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Address = NormalizeAddress(cfg.Address)
	if cfg.Endpoint == "" {
		return nil, errors.New("wallet: bridge endpoint is required")
	}
	if !IsValidAddress(cfg.Address) {
		return nil, fmt.Errorf("wallet: bridge address %q is not a valid account address", cfg.Address)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeWallet{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (b *BridgeWallet) Address() string {
	return b.cfg.Address
}

func (b *BridgeWallet) RequestRecords(ctx context.Context, programID string) ([]RecordEntry, error) {
	return b.requestRecordList(ctx, "records.list", programID)
}

func (b *BridgeWallet) RequestRecordPlaintexts(ctx context.Context, programID string) ([]RecordEntry, error) {
	return b.requestRecordList(ctx, "records.plaintexts", programID)
}

func (b *BridgeWallet) requestRecordList(ctx context.Context, method, programID string) ([]RecordEntry, error) {
	params := map[string]any{"program": programID}
	raw, err := b.call(ctx, method, params)
	if err != nil {
		return nil, mapRecordAccessError(err)
	}
	var entries []struct {
		ID         string `json:"id"`
		TxID       string `json:"tx_id"`
		Plaintext  string `json:"plaintext"`
		Text       string `json:"text"`
		Ciphertext string `json:"ciphertext"`
		LedgerTS   int64  `json:"ledger_ts"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("wallet: %s payload: %w", method, err)
	}
	out := make([]RecordEntry, 0, len(entries))
	for _, e := range entries {
		plain := e.Plaintext
		if plain == "" {
			plain = e.Text
		}
		out = append(out, RecordEntry{
			ID:              strings.TrimSpace(e.ID),
			TxID:            strings.TrimSpace(e.TxID),
			Plaintext:       plain,
			Ciphertext:      strings.TrimSpace(e.Ciphertext),
			LedgerTimestamp: e.LedgerTS,
		})
	}
	return out, nil
}

func (b *BridgeWallet) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	params := map[string]any{"ciphertext": req.Ciphertext}
	if req.TransitionPublicKey != "" {
		params["tpk"] = req.TransitionPublicKey
	}
	if req.ProgramID != "" {
		params["program"] = req.ProgramID
	}
	if req.FunctionName != "" {
		params["function"] = req.FunctionName
	}
	if req.OutputIndex != nil {
		params["index"] = *req.OutputIndex
	}
	raw, err := b.call(ctx, "records.decrypt", params)
	if err != nil {
		return nil, err
	}
	return normalizeDecryptPayload(raw)
}

func (b *BridgeWallet) TransactionStatus(ctx context.Context, txID string) (string, error) {
	raw, err := b.call(ctx, "transaction.status", map[string]any{"id": txID})
	if err != nil {
		return "", err
	}
	var status string
	if err := json.Unmarshal(raw, &status); err == nil {
		return strings.ToLower(strings.TrimSpace(status)), nil
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("wallet: transaction.status payload: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(payload.Status)), nil
}

// normalizeDecryptPayload accepts the result shapes wallet daemons are
// known to answer with: a bare plaintext string, or an object carrying the
// plaintext under plaintext/text plus optional pre-parsed fields.
func normalizeDecryptPayload(raw json.RawMessage) (*DecryptResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var plain string
	if err := json.Unmarshal(trimmed, &plain); err == nil {
		if strings.TrimSpace(plain) == "" {
			return nil, nil
		}
		return &DecryptResult{Plaintext: plain}, nil
	}
	var payload struct {
		Plaintext string `json:"plaintext"`
		Text      string `json:"text"`
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("wallet: records.decrypt payload: %w", err)
	}
	result := &DecryptResult{
		Plaintext: payload.Plaintext,
		Sender:    strings.TrimSpace(payload.Sender),
		Recipient: strings.TrimSpace(payload.Recipient),
		Content:   payload.Content,
	}
	if result.Plaintext == "" {
		result.Plaintext = payload.Text
	}
	if result.Plaintext == "" && result.Sender == "" && result.Recipient == "" && result.Content == "" {
		return nil, nil
	}
	return result, nil
}

type bridgeRPCError struct {
	Code    int
	Message string
}

func (e *bridgeRPCError) Error() string {
	return fmt.Sprintf("wallet: bridge rpc error %d: %s", e.Code, e.Message)
}

func mapRecordAccessError(err error) error {
	var rpcErr *bridgeRPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rpcCodeMethodNotFound {
		return ErrNoWalletAccess
	}
	return err
}

func (b *BridgeWallet) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      b.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Token != "" {
		req.Header.Set(bridgeTokenHeader, b.cfg.Token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet: bridge %s: %w", method, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBridgeResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("wallet: bridge %s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet: bridge %s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("wallet: bridge %s payload: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == rpcCodeAccessDenied {
			return nil, ErrNoWalletAccess
		}
		b.logger.Warn("wallet bridge call failed",
			"method", method,
			"code", envelope.Error.Code)
		return nil, &bridgeRPCError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return envelope.Result, nil
}
