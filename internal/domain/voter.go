package domain

import (
	"time"

	id "ballotgate/pkg/domain"
)

// VoterProfile links an account to its identity record and wallet, and
// carries the voting state the eligibility gate inspects.
//
// HasVoted is monotonic: once true it never reverts except through the
// explicit administrative election reset, which also wipes vote records
// and tallies.
type VoterProfile struct {
	ID            id.VoterID
	AccountID     id.AccountID
	ElectionID    id.ElectionID
	WalletAddress string
	NationalID    string // foreign key into identity records

	Registered         bool // on-ledger registration completed
	RegistrationTxHash string
	Verified           bool // eligible to vote
	VerifiedBy         id.AccountID
	VerifiedAt         *time.Time

	HasVoted       bool
	VotedAt        *time.Time
	VotedCandidate id.CandidateID
	VoteTxHash     string

	CreatedAt time.Time
}
