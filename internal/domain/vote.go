package domain

import (
	"time"

	id "ballotgate/pkg/domain"
)

// VoteStatus tracks the recorded outcome of the ledger transaction.
type VoteStatus string

const (
	VoteStatusPending VoteStatus = "pending"
	VoteStatusSuccess VoteStatus = "success"
	VoteStatusFailed  VoteStatus = "failed"
)

// VoteRecord is the off-chain mirror of one confirmed ledger vote.
// TxHash is the global de-duplication key: no two records ever share one,
// which bounds reconciliation to at-most-once per ledger transaction.
// Records are immutable after creation.
type VoteRecord struct {
	ID                id.VoteID
	VoterID           id.VoterID
	CandidateID       id.CandidateID
	LedgerCandidateID int64
	ElectionID        id.ElectionID
	WalletAddress     string

	TxHash      string
	BlockNumber uint64
	GasUsed     uint64

	CastAt   time.Time
	Verified bool
	Status   VoteStatus
}
