package domain

import (
	"time"

	id "ballotgate/pkg/domain"
)

// Phase is the election's current stage. Transitions are strictly forward:
// Registration -> Voting -> Ended. No cycles, no skips.
type Phase string

const (
	PhaseRegistration Phase = "Registration"
	PhaseVoting       Phase = "Voting"
	PhaseEnded        Phase = "Ended"
)

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRegistration, PhaseVoting, PhaseEnded:
		return true
	}
	return false
}

func (p Phase) order() int {
	switch p {
	case PhaseRegistration:
		return 0
	case PhaseVoting:
		return 1
	case PhaseEnded:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether target is the immediate next phase.
// Same-state, backward, and skipping moves are all invalid.
func (p Phase) CanTransitionTo(target Phase) bool {
	if !p.Valid() || !target.Valid() {
		return false
	}
	return target.order() == p.order()+1
}

// PhaseTransition is one append-only audit entry of a phase change.
type PhaseTransition struct {
	Previous Phase
	Next     Phase
	Actor    id.AccountID
	At       time.Time
	// TxHash is the optional ledger proof of the matching on-chain
	// transition.
	TxHash string
}

// DeclaredResult records the winner announced after the election ends.
type DeclaredResult struct {
	Winner     id.CandidateID
	DeclaredBy id.AccountID
	DeclaredAt time.Time
}

// Election is the singleton-per-deployment election record. At most one
// election is Active at a time; all components take an Election reference
// rather than reaching for global state.
type Election struct {
	ID          id.ElectionID
	Name        string
	Description string
	Phase       Phase

	RegistrationStart time.Time
	RegistrationEnd   time.Time
	VotingStart       time.Time
	VotingEnd         time.Time

	TotalVoters     int64
	TotalCandidates int64
	TotalVotesCast  int64

	Active          bool
	ContractAddress string

	TransitionLog []PhaseTransition
	Result        *DeclaredResult

	CreatedAt time.Time
}

// VotingOpen reports whether votes are accepted at the given instant: the
// phase must be Voting and the instant inside the voting window.
func (e Election) VotingOpen(now time.Time) bool {
	return e.Phase == PhaseVoting && !now.Before(e.VotingStart) && !now.After(e.VotingEnd)
}
