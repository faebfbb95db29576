// Package ledgertest provides an in-memory ledger fake for unit tests. It
// mimics the contract's observable behavior: sequential candidate ids,
// idempotency errors, phase gating, and deterministic transaction proofs.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"ballotgate/internal/ledger"
)

type candidate struct {
	name     string
	party    string
	votes    int64
	verified bool
}

type voter struct {
	registered bool
	verified   bool
	hasVoted   bool
	votedID    int64
}

// Ledger is a thread-safe fake implementing ledger.Client.
type Ledger struct {
	mu         sync.Mutex
	phase      ledger.Phase
	candidates []*candidate
	voters     map[string]*voter
	nextBlock  uint64
	txSeq      int

	// FailNext, when set, makes the next mutating call fail with a
	// retryable rpc error and then clears itself.
	FailNext bool
}

// New returns a fake ledger in the Registration phase.
func New() *Ledger {
	return &Ledger{
		phase:     ledger.PhaseRegistration,
		voters:    make(map[string]*voter),
		nextBlock: 100,
	}
}

// SetPhase moves the fake's on-chain phase directly.
func (l *Ledger) SetPhase(p ledger.Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phase = p
}

func (l *Ledger) nextTx(op string) ledger.TxResult {
	l.txSeq++
	l.nextBlock++
	return ledger.TxResult{
		TxHash:      fmt.Sprintf("0x%s%04d", op, l.txSeq),
		BlockNumber: l.nextBlock,
		GasUsed:     21000,
	}
}

func (l *Ledger) failNext(op string) error {
	if l.FailNext {
		l.FailNext = false
		return ledger.NewError(op, "rpc failure", true, nil)
	}
	return nil
}

func (l *Ledger) AddCandidate(ctx context.Context, name, party string) (ledger.CandidateResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext("addCandidate"); err != nil {
		return ledger.CandidateResult{}, err
	}
	l.candidates = append(l.candidates, &candidate{name: name, party: party})
	return ledger.CandidateResult{
		TxResult: l.nextTx("cand"),
		LedgerID: int64(len(l.candidates)),
	}, nil
}

func (l *Ledger) VerifyCandidate(ctx context.Context, ledgerID int64) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext("verifyCandidate"); err != nil {
		return ledger.TxResult{}, err
	}
	if ledgerID < 1 || ledgerID > int64(len(l.candidates)) {
		return ledger.TxResult{}, ledger.NewError("verifyCandidate", ledger.ReasonUnknownCandidate, false, nil)
	}
	l.candidates[ledgerID-1].verified = true
	return l.nextTx("vrfc"), nil
}

func (l *Ledger) RegisterVoter(ctx context.Context, wallet string) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext("registerVoter"); err != nil {
		return ledger.TxResult{}, err
	}
	if v, ok := l.voters[wallet]; ok && v.registered {
		return ledger.TxResult{}, ledger.NewError("registerVoter", ledger.ReasonAlreadyRegistered, false, nil)
	}
	l.voters[wallet] = &voter{registered: true}
	return l.nextTx("regv"), nil
}

func (l *Ledger) VerifyVoter(ctx context.Context, wallet string) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext("verifyVoter"); err != nil {
		return ledger.TxResult{}, err
	}
	v, ok := l.voters[wallet]
	if !ok || !v.registered {
		return ledger.TxResult{}, ledger.NewError("verifyVoter", "voter not registered", false, nil)
	}
	v.verified = true
	return l.nextTx("vrfv"), nil
}

func (l *Ledger) CastVote(ctx context.Context, ledgerID int64, wallet string) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext("vote"); err != nil {
		return ledger.TxResult{}, err
	}
	if l.phase != ledger.PhaseVoting {
		return ledger.TxResult{}, ledger.NewError("vote", ledger.ReasonWrongPhase, false, nil)
	}
	v, ok := l.voters[wallet]
	if !ok || !v.verified {
		return ledger.TxResult{}, ledger.NewError("vote", ledger.ReasonNotVerified, false, nil)
	}
	if v.hasVoted {
		return ledger.TxResult{}, ledger.NewError("vote", ledger.ReasonAlreadyVoted, false, nil)
	}
	if ledgerID < 1 || ledgerID > int64(len(l.candidates)) {
		return ledger.TxResult{}, ledger.NewError("vote", ledger.ReasonUnknownCandidate, false, nil)
	}
	v.hasVoted = true
	v.votedID = ledgerID
	l.candidates[ledgerID-1].votes++
	return l.nextTx("vote"), nil
}

func (l *Ledger) Phase(ctx context.Context) (ledger.Phase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase, nil
}

func (l *Ledger) Tally(ctx context.Context) ([]ledger.TallyEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]ledger.TallyEntry, 0, len(l.candidates))
	for i, c := range l.candidates {
		entries = append(entries, ledger.TallyEntry{
			LedgerID:  int64(i + 1),
			Name:      c.name,
			Party:     c.party,
			VoteCount: c.votes,
			Verified:  c.verified,
		})
	}
	return entries, nil
}

func (l *Ledger) VoterStatus(ctx context.Context, wallet string) (ledger.VoterStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.voters[wallet]
	if !ok {
		return ledger.VoterStatus{}, nil
	}
	return ledger.VoterStatus{
		Registered:       v.registered,
		Verified:         v.verified,
		HasVoted:         v.hasVoted,
		VotedCandidateID: v.votedID,
	}, nil
}

// SetTally seeds the fake's candidates and counts directly; used by
// aggregator tests.
func (l *Ledger) SetTally(entries []ledger.TallyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = l.candidates[:0]
	for _, e := range entries {
		l.candidates = append(l.candidates, &candidate{
			name: e.Name, party: e.Party, votes: e.VoteCount, verified: e.Verified,
		})
	}
}

var _ ledger.Client = (*Ledger)(nil)
