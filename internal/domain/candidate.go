package domain

import (
	"time"

	id "ballotgate/pkg/domain"
)

// Candidate is the off-chain candidate profile. The ledger holds the
// authoritative vote count; VoteCount here is the off-chain mirror kept in
// step by the reconciliation protocol.
//
// Lifecycle: off-chain-only -> linked-to-ledger -> verified. Once linked
// (OnLedger true) name and party are immutable and the record cannot be
// deleted; a candidate holding votes cannot be deleted either.
type Candidate struct {
	ID            id.CandidateID
	ElectionID    id.ElectionID
	Name          string
	Party         string
	Age           int
	Qualification string
	Manifesto     string
	Photo         string
	Biography     string

	VoteCount int64

	// LedgerID is the candidate's identifier on the ledger: positive, unique,
	// absent until linked.
	LedgerID     *int64
	OnLedger     bool
	LedgerTxHash string

	Verified     bool
	VerifiedBy   id.AccountID
	VerifiedAt   *time.Time
	RegisteredBy id.AccountID

	CreatedAt time.Time
}

// Linked reports whether the candidate carries a usable ledger identity.
func (c Candidate) Linked() bool {
	return c.OnLedger && c.LedgerID != nil && *c.LedgerID > 0
}

// Deletable reports whether the record may be removed: never once linked,
// never while it holds votes.
func (c Candidate) Deletable() bool {
	return !c.OnLedger && c.VoteCount == 0
}
