// Package records turns ledger transitions into decrypted inbox material:
// it extracts candidate record outputs addressed to an account and resolves
// their ciphertexts through whatever decrypt capability the wallet exposes.
package records

import (
	"strings"

	"chainmail/go-backend/internal/ledger"
	"chainmail/go-backend/internal/wallet"
)

// Filter names the program whose sends are worth decrypting.
type Filter struct {
	ProgramID    string
	FunctionName string
}

// Candidate is one record output that may decrypt into a message for the
// queried account.
type Candidate struct {
	TxID         string
	TransitionID string
	OutputIndex  int
	OutputID     string
	Ciphertext   string
	TPK          string
	ProgramID    string
	FunctionName string
}

// ExtractFromTransaction walks every transition of tx and collects record
// outputs addressed to account. A transition qualifies when its program and
// function match the filter and its first input names the account; within a
// qualifying transition every record-typed output carrying the record
// ciphertext prefix becomes a candidate.
func ExtractFromTransaction(tx *ledger.Transaction, account string, filter Filter) []Candidate {
	if tx == nil {
		return nil
	}
	var out []Candidate
	for _, tr := range tx.Transitions() {
		out = append(out, extractFromTransition(tx.ID, tr, account, filter)...)
	}
	return out
}

func extractFromTransition(txID string, tr ledger.Transition, account string, filter Filter) []Candidate {
	if strings.TrimSpace(tr.Program) != filter.ProgramID || strings.TrimSpace(tr.Function) != filter.FunctionName {
		return nil
	}
	if len(tr.Inputs) == 0 {
		return nil
	}
	if wallet.NormalizeAddress(tr.Inputs[0].Value) != account {
		return nil
	}

	var out []Candidate
	for i, output := range tr.Outputs {
		value := strings.Trim(strings.TrimSpace(output.Value), "\"")
		if !isRecordOutput(output.Type, value) {
			continue
		}
		out = append(out, Candidate{
			TxID:         txID,
			TransitionID: strings.TrimSpace(tr.ID),
			OutputIndex:  i,
			OutputID:     strings.TrimSpace(output.ID),
			Ciphertext:   value,
			TPK:          strings.TrimSpace(tr.TPK),
			ProgramID:    filter.ProgramID,
			FunctionName: filter.FunctionName,
		})
	}
	return out
}

// Record outputs are marked type "record"; some indexers omit the type, in
// which case the ciphertext prefix is the only signal.
func isRecordOutput(outputType, value string) bool {
	if !strings.HasPrefix(value, wallet.RecordCiphertextPrefix) {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(outputType))
	return typ == "record" || typ == ""
}
