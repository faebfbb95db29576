// Package ledger defines the gateway to the append-only vote ledger. The
// ledger is consumed as an opaque transactional service: every call is a
// network round-trip with unbounded latency, so all operations take a
// context and callers must never hold off-chain locks across them.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// TxResult is the proof returned by a confirmed ledger transaction.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// CandidateResult is returned when a candidate is registered on the ledger.
type CandidateResult struct {
	TxResult
	// LedgerID is the candidate's positive identifier on the ledger.
	LedgerID int64
}

// TallyEntry is one ledger-reported candidate with its authoritative count.
type TallyEntry struct {
	LedgerID  int64
	Name      string
	Party     string
	VoteCount int64
	Verified  bool
}

// VoterStatus mirrors the ledger's per-wallet view.
type VoterStatus struct {
	Registered       bool
	Verified         bool
	HasVoted         bool
	VotedCandidateID int64
}

// Phase is the ledger-reported election phase, used only for reconciliation
// logging; the off-chain record stays authoritative for gating.
type Phase string

const (
	PhaseRegistration Phase = "Registration"
	PhaseVoting       Phase = "Voting"
	PhaseEnded        Phase = "Ended"
)

// Client is the transactional gateway the core consumes. CastVote is listed
// for completeness: voters submit their own vote transactions and the core
// only reconciles the resulting proof, but admin tooling drives casting
// through the same interface in tests.
type Client interface {
	AddCandidate(ctx context.Context, name, party string) (CandidateResult, error)
	VerifyCandidate(ctx context.Context, ledgerID int64) (TxResult, error)
	// RegisterVoter is idempotent from the caller's perspective: registering
	// an already-registered wallet is reported as success.
	RegisterVoter(ctx context.Context, wallet string) (TxResult, error)
	VerifyVoter(ctx context.Context, wallet string) (TxResult, error)
	CastVote(ctx context.Context, ledgerID int64, wallet string) (TxResult, error)
	Phase(ctx context.Context) (Phase, error)
	Tally(ctx context.Context) ([]TallyEntry, error)
	VoterStatus(ctx context.Context, wallet string) (VoterStatus, error)
}

// Error carries the ledger's human-readable reason plus whether the caller
// may retry. Off-chain state must remain untouched unless the call
// demonstrably succeeded.
type Error struct {
	Op        string
	Reason    string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Reason, e.cause)
	}
	return fmt.Sprintf("ledger %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a ledger error.
func NewError(op, reason string, retryable bool, cause error) *Error {
	return &Error{Op: op, Reason: reason, Retryable: retryable, cause: cause}
}

// IsAlreadyRegistered detects the ledger's duplicate-registration rejection,
// which callers treat as success.
func IsAlreadyRegistered(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Reason == ReasonAlreadyRegistered
}

// Reason strings the contract reverts with. Matched by value so adapters can
// normalize provider-specific messages.
const (
	ReasonAlreadyRegistered = "voter already registered"
	ReasonAlreadyVoted      = "voter has already voted"
	ReasonNotVerified       = "voter not verified"
	ReasonUnknownCandidate  = "unknown candidate"
	ReasonWrongPhase        = "operation not allowed in current phase"
)
