// Package storage declares the off-chain persistence interfaces. Stores are
// interface-driven so the domain logic stays testable and the in-memory and
// PostgreSQL implementations can be swapped without rewiring business code.
//
// Stores return sentinel errors (pkg/sentinel) or the conflict errors below;
// services translate them into coded domain errors.
package storage

import (
	"context"
	"fmt"
	"time"

	"ballotgate/internal/domain"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/sentinel"
)

// Conflict errors carried by the atomic vote write. Both wrap
// sentinel.ErrConflict; they are distinct because the caller must report the
// exact failed precondition.
var (
	ErrDuplicateTransaction = fmt.Errorf("transaction already recorded: %w", sentinel.ErrConflict)
	ErrAlreadyVoted         = fmt.Errorf("voter already voted in election: %w", sentinel.ErrConflict)
	ErrActiveElection       = fmt.Errorf("an election is already active: %w", sentinel.ErrConflict)
)

type AccountStore interface {
	SaveAccount(ctx context.Context, account domain.Account) error
	FindAccount(ctx context.Context, accountID id.AccountID) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

type IdentityStore interface {
	SaveIdentity(ctx context.Context, record domain.IdentityRecord) error
	FindIdentity(ctx context.Context, accountID id.AccountID) (domain.IdentityRecord, error)
	FindIdentityByNationalID(ctx context.Context, nationalID string) (domain.IdentityRecord, error)
	ListPendingIdentities(ctx context.Context) ([]domain.IdentityRecord, error)
}

type VoterStore interface {
	SaveVoter(ctx context.Context, profile domain.VoterProfile) error
	FindVoter(ctx context.Context, voterID id.VoterID) (domain.VoterProfile, error)
	FindVoterByAccount(ctx context.Context, accountID id.AccountID) (domain.VoterProfile, error)
	ListVoters(ctx context.Context) ([]domain.VoterProfile, error)
	// MarkVoterVerified sets only the verification columns. Verification
	// must not re-save a whole profile snapshot: a vote reconciled between
	// the read and the write would have its has_voted flip erased.
	MarkVoterVerified(ctx context.Context, voterID id.VoterID, verifiedBy id.AccountID, at time.Time) error
}

type CandidateStore interface {
	SaveCandidate(ctx context.Context, candidate domain.Candidate) error
	FindCandidate(ctx context.Context, candidateID id.CandidateID) (domain.Candidate, error)
	FindCandidateByLedgerID(ctx context.Context, ledgerID int64) (domain.Candidate, error)
	FindCandidateByNameParty(ctx context.Context, electionID id.ElectionID, name, party string) (domain.Candidate, error)
	FindCandidateByRegistrant(ctx context.Context, accountID id.AccountID) (domain.Candidate, error)
	ListCandidates(ctx context.Context, electionID id.ElectionID) ([]domain.Candidate, error)
	DeleteCandidate(ctx context.Context, candidateID id.CandidateID) error
}

type ElectionStore interface {
	// SaveElection persists the record. Creating a second active election
	// fails with ErrActiveElection.
	SaveElection(ctx context.Context, election domain.Election) error
	FindElection(ctx context.Context, electionID id.ElectionID) (domain.Election, error)
	FindActiveElection(ctx context.Context) (domain.Election, error)
	// FindLatestElection returns the most recently created election, active
	// or not. Results remain queryable after an election ends and is
	// deactivated.
	FindLatestElection(ctx context.Context) (domain.Election, error)
	// AdjustElectionCounters applies deltas to the voter and candidate
	// totals in place, clamped at zero. Enrollment and the candidate
	// lifecycle bump counters through this instead of re-saving an election
	// snapshot: the snapshot would carry a stale total_votes_cast and erase
	// votes reconciled since the read.
	AdjustElectionCounters(ctx context.Context, electionID id.ElectionID, voterDelta, candidateDelta int64) error
	// RecordPhaseTransition updates the phase, active flag, and transition
	// log only; counter columns belong to other writers.
	RecordPhaseTransition(ctx context.Context, electionID id.ElectionID, phase domain.Phase, active bool, log []domain.PhaseTransition) error
	// RecordDeclaredResult stores the declared result only.
	RecordDeclaredResult(ctx context.Context, electionID id.ElectionID, result domain.DeclaredResult) error
}

type VoteStore interface {
	FindVoteByTxHash(ctx context.Context, txHash string) (domain.VoteRecord, error)
	FindVoteByVoter(ctx context.Context, voterID id.VoterID, electionID id.ElectionID) (domain.VoteRecord, error)
	CountVotes(ctx context.Context, electionID id.ElectionID) (int64, error)
}

// Atomic groups the multi-record writes that must commit together or not at
// all. Implementations scope the transaction to exactly the records named
// and never reach out to the ledger.
type Atomic interface {
	// ApplyVote inserts the vote record, flips the voter profile's voted
	// state, and increments the candidate and election counters in one
	// transaction. Uniqueness of the transaction hash and of
	// (voter, election) is enforced here, not by a read-then-write check:
	// ErrDuplicateTransaction and ErrAlreadyVoted respectively.
	ApplyVote(ctx context.Context, vote domain.VoteRecord) error

	// ResetElection is the destructive administrative escape hatch: deletes
	// the election's vote records, clears voted state on its voter
	// profiles, zeroes candidate counters and the cast-vote total, returns
	// the phase to Registration, and appends the transition log entry.
	ResetElection(ctx context.Context, electionID id.ElectionID, actor id.AccountID, at time.Time) error
}

// Store is the full persistence surface the server wires once at startup.
type Store interface {
	AccountStore
	IdentityStore
	VoterStore
	CandidateStore
	ElectionStore
	VoteStore
	Atomic
}
