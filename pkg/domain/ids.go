// Package domain defines the typed identifiers shared across features.
// Distinct types keep an AccountID from ever being passed where a
// CandidateID is expected; the compiler enforces what code review would
// otherwise have to catch.
package domain

import (
	"github.com/google/uuid"

	"ballotgate/pkg/domainerrors"
)

type (
	AccountID   uuid.UUID
	VoterID     uuid.UUID
	CandidateID uuid.UUID
	ElectionID  uuid.UUID
	VoteID      uuid.UUID
)

func (id AccountID) String() string   { return uuid.UUID(id).String() }
func (id VoterID) String() string     { return uuid.UUID(id).String() }
func (id CandidateID) String() string { return uuid.UUID(id).String() }
func (id ElectionID) String() string  { return uuid.UUID(id).String() }
func (id VoteID) String() string      { return uuid.UUID(id).String() }

func (id AccountID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id VoterID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CandidateID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id ElectionID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id VoteID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }

func NewAccountID() AccountID     { return AccountID(uuid.New()) }
func NewVoterID() VoterID         { return VoterID(uuid.New()) }
func NewCandidateID() CandidateID { return CandidateID(uuid.New()) }
func NewElectionID() ElectionID   { return ElectionID(uuid.New()) }
func NewVoteID() VoteID           { return VoteID(uuid.New()) }

// parse enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parse(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, domainerrors.Newf(domainerrors.CodeInvalidInput, "%s is required", kind)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domainerrors.Newf(domainerrors.CodeInvalidInput, "%s is not a valid id", kind)
	}
	if id == uuid.Nil {
		return uuid.Nil, domainerrors.Newf(domainerrors.CodeInvalidInput, "%s must not be the zero id", kind)
	}
	return id, nil
}

func ParseAccountID(raw string) (AccountID, error) {
	id, err := parse(raw, "account id")
	return AccountID(id), err
}

func ParseVoterID(raw string) (VoterID, error) {
	id, err := parse(raw, "voter id")
	return VoterID(id), err
}

func ParseCandidateID(raw string) (CandidateID, error) {
	id, err := parse(raw, "candidate id")
	return CandidateID(id), err
}

func ParseElectionID(raw string) (ElectionID, error) {
	id, err := parse(raw, "election id")
	return ElectionID(id), err
}

func ParseVoteID(raw string) (VoteID, error) {
	id, err := parse(raw, "vote id")
	return VoteID(id), err
}
