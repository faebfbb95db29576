package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseRegistration, PhaseVoting, true},
		{PhaseVoting, PhaseEnded, true},
		{PhaseRegistration, PhaseEnded, false}, // no skipping
		{PhaseVoting, PhaseRegistration, false},
		{PhaseEnded, PhaseVoting, false},
		{PhaseEnded, PhaseRegistration, false},
		{PhaseRegistration, PhaseRegistration, false}, // same state
		{PhaseVoting, PhaseVoting, false},
		{PhaseVoting, Phase("Paused"), false},
		{Phase(""), PhaseVoting, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestVotingOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	e := Election{Phase: PhaseVoting, VotingStart: start, VotingEnd: end}

	assert.True(t, e.VotingOpen(start))
	assert.True(t, e.VotingOpen(start.Add(time.Hour)))
	assert.True(t, e.VotingOpen(end))
	assert.False(t, e.VotingOpen(start.Add(-time.Minute)))
	assert.False(t, e.VotingOpen(end.Add(time.Minute)))

	e.Phase = PhaseRegistration
	assert.False(t, e.VotingOpen(start.Add(time.Hour)), "window open but phase wrong")
}

func TestCandidateInvariants(t *testing.T) {
	ledgerID := int64(4)

	unlinked := Candidate{}
	assert.False(t, unlinked.Linked())
	assert.True(t, unlinked.Deletable())

	linked := Candidate{OnLedger: true, LedgerID: &ledgerID}
	assert.True(t, linked.Linked())
	assert.False(t, linked.Deletable())

	withVotes := Candidate{VoteCount: 3}
	assert.False(t, withVotes.Deletable())

	// OnLedger without a ledger id is a half-linked record, not usable for
	// vote reconciliation.
	half := Candidate{OnLedger: true}
	assert.False(t, half.Linked())
}

func TestValidateWalletAddress(t *testing.T) {
	got, err := ValidateWalletAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	assert.NoError(t, err)
	assert.Equal(t, "0x8ba1f109551bD432803012645Ac136ddd64DBA72", got)

	_, err = ValidateWalletAddress("")
	assert.Error(t, err)

	_, err = ValidateWalletAddress("not-an-address")
	assert.Error(t, err)
}

func TestIdentityRecordValidate(t *testing.T) {
	rec := IdentityRecord{NationalID: "123456789012", FullName: "A. Voter", PhoneNumber: "0123456789"}
	assert.NoError(t, rec.Validate())

	rec.NationalID = "12345"
	assert.Error(t, rec.Validate(), "national id too short")

	rec.NationalID = "123456789012"
	rec.FullName = ""
	assert.Error(t, rec.Validate())

	rec.FullName = "A. Voter"
	rec.PhoneNumber = "123"
	assert.Error(t, rec.Validate())

	rec.PhoneNumber = ""
	assert.NoError(t, rec.Validate(), "phone is optional")
}
