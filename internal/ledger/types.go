package ledger

import (
	"encoding/json"
	"strings"
)

const (
	TransactionIDPrefix = "at1"
	TransitionIDPrefix  = "au1"
)

type Input struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Value string `json:"value,omitempty"`
}

type Output struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Value string `json:"value,omitempty"`
}

type Transition struct {
	ID       string   `json:"id"`
	Program  string   `json:"program"`
	Function string   `json:"function"`
	Inputs   []Input  `json:"inputs,omitempty"`
	Outputs  []Output `json:"outputs,omitempty"`
	TPK      string   `json:"tpk,omitempty"`
}

type Execution struct {
	Transitions []Transition `json:"transitions,omitempty"`
}

type Transaction struct {
	ID        string     `json:"id"`
	Type      string     `json:"type,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
}

type Block struct {
	Height       uint64        `json:"height"`
	Hash         string        `json:"block_hash,omitempty"`
	Timestamp    int64         `json:"timestamp,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// Transitions is shape-agnostic over execute transactions with and
// without an execution body.
func (t *Transaction) Transitions() []Transition {
	if t == nil || t.Execution == nil {
		return nil
	}
	return t.Execution.Transitions
}

// WrapTransition lifts a bare transition into the transaction shape the
// rest of the pipeline consumes, so callers stay shape-agnostic.
func WrapTransition(tr Transition) *Transaction {
	return &Transaction{
		Execution: &Execution{Transitions: []Transition{tr}},
	}
}

func IsTransactionID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), TransactionIDPrefix)
}

func IsTransitionID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), TransitionIDPrefix)
}

// Indexer nodes wrap block transactions in a confirmation envelope; older
// ones inline them. decodeBlock accepts both.
type rawBlock struct {
	Height       uint64            `json:"height"`
	Hash         string            `json:"block_hash"`
	Timestamp    int64             `json:"timestamp"`
	Header       *rawBlockHeader   `json:"header"`
	Transactions []json.RawMessage `json:"transactions"`
}

type rawBlockHeader struct {
	Metadata struct {
		Height    uint64 `json:"height"`
		Timestamp int64  `json:"timestamp"`
	} `json:"metadata"`
}

type confirmedTransaction struct {
	Status      string       `json:"status"`
	Type        string       `json:"type"`
	Transaction *Transaction `json:"transaction"`
}

func decodeBlock(raw []byte) (*Block, error) {
	var rb rawBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, err
	}

	block := &Block{
		Height:    rb.Height,
		Hash:      rb.Hash,
		Timestamp: rb.Timestamp,
	}
	if rb.Header != nil {
		if block.Height == 0 {
			block.Height = rb.Header.Metadata.Height
		}
		if block.Timestamp == 0 {
			block.Timestamp = rb.Header.Metadata.Timestamp
		}
	}

	for _, entry := range rb.Transactions {
		var wrapped confirmedTransaction
		if err := json.Unmarshal(entry, &wrapped); err == nil && wrapped.Transaction != nil {
			if wrapped.Transaction.ID != "" {
				block.Transactions = append(block.Transactions, *wrapped.Transaction)
			}
			continue
		}
		var tx Transaction
		if err := json.Unmarshal(entry, &tx); err != nil || tx.ID == "" {
			continue
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}
