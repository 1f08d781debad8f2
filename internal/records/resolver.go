package records

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"chainmail/go-backend/internal/fieldenc"
	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/wallet"
)

// The attempt list is capped so a hostile or unlucky candidate cannot stall
// a scan on decrypt calls.
const maxDecryptAttempts = 20

// Resolution is a decrypted record with its labeled fields extracted.
// Content is already decoded to text.
type Resolution struct {
	Plaintext string
	Sender    string
	Recipient string
	Content   string
}

// Request carries everything known about a candidate ciphertext going into
// the parameter search.
type Request struct {
	Ciphertext          string
	TransitionPublicKey string
	ProgramID           string
	FunctionName        string
	CandidateIndexes    []int
}

// ResolveRequest bundles a candidate for the resolver.
func (c Candidate) ResolveRequest() Request {
	return Request{
		Ciphertext:          c.Ciphertext,
		TransitionPublicKey: c.TPK,
		ProgramID:           c.ProgramID,
		FunctionName:        c.FunctionName,
		CandidateIndexes:    []int{c.OutputIndex},
	}
}

// attempt is one parameter combination handed to the decrypt capability.
type attempt struct {
	tpk      string
	program  string
	function string
	index    *int
}

// Resolver drives the bounded parameter search over a wallet decrypt
// capability. The capability's calling convention differs per wallet
// backend and is not discoverable from the ciphertext, so the resolver
// tries an ordered list of parameter combinations and takes the first
// non-empty plaintext.
type Resolver struct {
	dec    wallet.Decrypter
	logger *slog.Logger
	prom   *metrics.Collectors
}

func NewResolver(dec wallet.Decrypter, logger *slog.Logger, prom *metrics.Collectors) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dec: dec, logger: logger, prom: prom}
}

// Resolve returns the decrypted record fields, or nil when no attempt
// produced a plaintext. A nil resolution is not an error: it usually means
// the record belongs to someone else. Capability errors are treated as
// misses and never surface.
func (r *Resolver) Resolve(ctx context.Context, req Request) *Resolution {
	if r == nil || r.dec == nil {
		return nil
	}
	ciphertext := SanitizeCiphertext(req.Ciphertext)
	if ciphertext == "" {
		return nil
	}

	for i, a := range buildAttempts(req) {
		if ctx.Err() != nil {
			return nil
		}
		r.prom.IncDecryptAttempt()
		result, err := r.dec.Decrypt(ctx, wallet.DecryptRequest{
			Ciphertext:          ciphertext,
			TransitionPublicKey: a.tpk,
			ProgramID:           a.program,
			FunctionName:        a.function,
			OutputIndex:         a.index,
		})
		if err != nil || result == nil {
			continue
		}
		resolution := normalizeResult(result)
		if resolution == nil {
			continue
		}
		r.prom.IncDecryptHit()
		r.logger.Debug("record ciphertext resolved", "attempt", i+1)
		return resolution
	}
	return nil
}

// buildAttempts lays out the search order as one flat list, most likely to
// succeed first: bare calls, hinted calls, then each normalized form of the
// transition public key without and with hints, and finally tpk forms
// crossed with candidate output indexes.
func buildAttempts(req Request) []attempt {
	attempts := make([]attempt, 0, maxDecryptAttempts)
	add := func(a attempt) {
		if len(attempts) < maxDecryptAttempts {
			attempts = append(attempts, a)
		}
	}
	hinted := req.ProgramID != "" || req.FunctionName != ""
	forms := tpkForms(req.TransitionPublicKey)
	indexes := candidateIndexes(req.CandidateIndexes)

	add(attempt{})
	if hinted {
		add(attempt{program: req.ProgramID, function: req.FunctionName})
		for _, ix := range []int{0, 1} {
			ix := ix
			add(attempt{program: req.ProgramID, function: req.FunctionName, index: &ix})
		}
	}
	for _, form := range forms {
		add(attempt{tpk: form})
	}
	if hinted {
		for _, form := range forms {
			add(attempt{tpk: form, program: req.ProgramID, function: req.FunctionName})
		}
	}
	for _, form := range forms {
		for _, ix := range indexes {
			ix := ix
			add(attempt{tpk: form, program: req.ProgramID, function: req.FunctionName, index: &ix})
		}
	}
	return attempts
}

// tpkForms returns the distinct normalizations of a transition public key:
// as given, then with the group-element display suffix stripped.
func tpkForms(tpk string) []string {
	tpk = strings.TrimSpace(tpk)
	if tpk == "" {
		return nil
	}
	forms := []string{tpk}
	if canonical := wallet.CanonicalTPK(tpk); canonical != tpk && canonical != "" {
		forms = append(forms, canonical)
	}
	return forms
}

func candidateIndexes(supplied []int) []int {
	if len(supplied) == 0 {
		return []int{0, 1}
	}
	seen := make(map[int]struct{}, len(supplied))
	out := make([]int, 0, len(supplied))
	for _, ix := range supplied {
		if ix < 0 {
			continue
		}
		if _, dup := seen[ix]; dup {
			continue
		}
		seen[ix] = struct{}{}
		out = append(out, ix)
	}
	if len(out) == 0 {
		return []int{0, 1}
	}
	return out
}

// normalizeResult folds the capability's result shapes into a Resolution.
// Pre-parsed fields win over label scanning; an all-empty result is a miss.
func normalizeResult(result *wallet.DecryptResult) *Resolution {
	resolution := &Resolution{
		Plaintext: strings.TrimSpace(result.Plaintext),
		Sender:    strings.TrimSpace(result.Sender),
		Recipient: strings.TrimSpace(result.Recipient),
	}
	if raw := strings.TrimSpace(result.Content); raw != "" {
		resolution.Content = fieldenc.DecodeDisplay(raw)
	}
	if resolution.Plaintext != "" {
		parsed := ParseRecordPlaintext(resolution.Plaintext)
		if resolution.Sender == "" {
			resolution.Sender = parsed.Sender
		}
		if resolution.Recipient == "" {
			resolution.Recipient = parsed.Recipient
		}
		if resolution.Content == "" {
			resolution.Content = parsed.Content
		}
	}
	if resolution.Plaintext == "" && resolution.Sender == "" && resolution.Recipient == "" && resolution.Content == "" {
		return nil
	}
	return resolution
}

// SanitizeCiphertext strips whitespace, control characters and quote
// artifacts. Ciphertexts are alphanumeric, so anything stripped here was
// serialization noise.
func SanitizeCiphertext(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
		case r == '"' || r == '\'' || r == '\\':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
