//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ballotgate/internal/domain"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/sentinel"
	"ballotgate/pkg/testutil/containers"
)

// =============================================================================
// Postgres Store Integration Suite
// =============================================================================
// Justification for integration tests: the atomicity and uniqueness
// guarantees of ApplyVote live in SQL constraints and transaction scoping,
// which the in-memory store only mirrors. These run against a real Postgres.

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store

	now      time.Time
	election domain.Election
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())

	ctx := context.Background()
	store, err := Open(ctx, s.pg.DSN)
	s.Require().NoError(err)
	s.Require().NoError(store.Migrate(ctx))
	s.store = store
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.pg != nil {
		_ = s.pg.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.store.db.ExecContext(ctx,
		`TRUNCATE votes, voters, identities, candidates, elections, accounts CASCADE`)
	s.Require().NoError(err)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.election = domain.Election{
		ID: id.NewElectionID(), Name: "General Election", Phase: domain.PhaseVoting,
		RegistrationStart: s.now.Add(-48 * time.Hour),
		RegistrationEnd:   s.now.Add(-24 * time.Hour),
		VotingStart:       s.now.Add(-time.Hour),
		VotingEnd:         s.now.Add(24 * time.Hour),
		Active:            true,
		CreatedAt:         s.now,
	}
	s.Require().NoError(s.store.SaveElection(ctx, s.election))
}

func (s *PostgresStoreSuite) seedVoter(n int) (domain.Account, domain.VoterProfile) {
	ctx := context.Background()
	account := domain.Account{
		ID:            id.NewAccountID(),
		Username:      fmt.Sprintf("voter%d", n),
		Email:         fmt.Sprintf("voter%d@example.com", n),
		Role:          id.RoleVoter,
		WalletAddress: fmt.Sprintf("0x%040x", n),
		Active:        true,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveAccount(ctx, account))

	profile := domain.VoterProfile{
		ID:            id.NewVoterID(),
		AccountID:     account.ID,
		ElectionID:    s.election.ID,
		WalletAddress: account.WalletAddress,
		Registered:    true,
		Verified:      true,
		CreatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveVoter(ctx, profile))
	return account, profile
}

func (s *PostgresStoreSuite) seedCandidate() domain.Candidate {
	ctx := context.Background()
	ledgerID := int64(1)
	candidate := domain.Candidate{
		ID:         id.NewCandidateID(),
		ElectionID: s.election.ID,
		Name:       "Ada Quorum",
		Party:      "Unity",
		LedgerID:   &ledgerID,
		OnLedger:   true,
		Verified:   true,
		CreatedAt:  s.now,
	}
	s.Require().NoError(s.store.SaveCandidate(ctx, candidate))
	return candidate
}

func (s *PostgresStoreSuite) vote(profile domain.VoterProfile, candidate domain.Candidate, txHash string) domain.VoteRecord {
	return domain.VoteRecord{
		ID:                id.NewVoteID(),
		VoterID:           profile.ID,
		CandidateID:       candidate.ID,
		LedgerCandidateID: *candidate.LedgerID,
		ElectionID:        s.election.ID,
		WalletAddress:     profile.WalletAddress,
		TxHash:            txHash,
		BlockNumber:       117,
		GasUsed:           21000,
		CastAt:            s.now,
		Verified:          true,
		Status:            domain.VoteStatusSuccess,
	}
}

func txHash(n int) string { return fmt.Sprintf("0x%064x", n) }

func (s *PostgresStoreSuite) TestApplyVoteWritesAllFourRecords() {
	ctx := context.Background()
	_, profile := s.seedVoter(1)
	candidate := s.seedCandidate()

	s.Require().NoError(s.store.ApplyVote(ctx, s.vote(profile, candidate, txHash(1))))

	stored, err := s.store.FindVoteByTxHash(ctx, txHash(1))
	s.Require().NoError(err)
	s.Equal(profile.ID, stored.VoterID)

	updatedVoter, err := s.store.FindVoter(ctx, profile.ID)
	s.Require().NoError(err)
	s.True(updatedVoter.HasVoted)
	s.Equal(txHash(1), updatedVoter.VoteTxHash)

	updatedCandidate, err := s.store.FindCandidate(ctx, candidate.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), updatedCandidate.VoteCount)

	updatedElection, err := s.store.FindElection(ctx, s.election.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), updatedElection.TotalVotesCast)
}

func (s *PostgresStoreSuite) TestDuplicateTxHashRejected() {
	ctx := context.Background()
	_, first := s.seedVoter(1)
	_, second := s.seedVoter(2)
	candidate := s.seedCandidate()

	s.Require().NoError(s.store.ApplyVote(ctx, s.vote(first, candidate, txHash(7))))

	err := s.store.ApplyVote(ctx, s.vote(second, candidate, txHash(7)))
	s.Require().ErrorIs(err, storage.ErrDuplicateTransaction)

	// The rejected transaction left no partial writes behind.
	untouched, err := s.store.FindVoter(ctx, second.ID)
	s.Require().NoError(err)
	s.False(untouched.HasVoted)

	updatedElection, err := s.store.FindElection(ctx, s.election.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), updatedElection.TotalVotesCast)
}

func (s *PostgresStoreSuite) TestSecondVoteBySameVoterRejected() {
	ctx := context.Background()
	_, profile := s.seedVoter(1)
	candidate := s.seedCandidate()

	s.Require().NoError(s.store.ApplyVote(ctx, s.vote(profile, candidate, txHash(1))))

	err := s.store.ApplyVote(ctx, s.vote(profile, candidate, txHash(2)))
	s.Require().ErrorIs(err, storage.ErrAlreadyVoted)
}

func (s *PostgresStoreSuite) TestConcurrentApplyVoteExactlyOneWins() {
	ctx := context.Background()
	_, profile := s.seedVoter(1)
	candidate := s.seedCandidate()

	const casters = 16
	var wg sync.WaitGroup
	errs := make([]error, casters)
	for i := 0; i < casters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.store.ApplyVote(ctx, s.vote(profile, candidate, txHash(100+i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.Require().ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Equal(1, succeeded)

	updatedElection, err := s.store.FindElection(ctx, s.election.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), updatedElection.TotalVotesCast)

	updatedCandidate, err := s.store.FindCandidate(ctx, candidate.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), updatedCandidate.VoteCount)
}

func (s *PostgresStoreSuite) TestSecondActiveElectionRejected() {
	ctx := context.Background()
	second := s.election
	second.ID = id.NewElectionID()
	second.Name = "Shadow Election"
	second.CreatedAt = s.now.Add(time.Minute)

	err := s.store.SaveElection(ctx, second)
	s.Require().ErrorIs(err, storage.ErrActiveElection)
}

func (s *PostgresStoreSuite) TestResetElection() {
	ctx := context.Background()
	account, profile := s.seedVoter(1)
	candidate := s.seedCandidate()
	s.Require().NoError(s.store.ApplyVote(ctx, s.vote(profile, candidate, txHash(1))))

	s.Require().NoError(s.store.ResetElection(ctx, s.election.ID, account.ID, s.now.Add(time.Hour)))

	_, err := s.store.FindVoteByTxHash(ctx, txHash(1))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	resetVoter, err := s.store.FindVoter(ctx, profile.ID)
	s.Require().NoError(err)
	s.False(resetVoter.HasVoted)
	s.Empty(resetVoter.VoteTxHash)

	resetCandidate, err := s.store.FindCandidate(ctx, candidate.ID)
	s.Require().NoError(err)
	s.Zero(resetCandidate.VoteCount)

	resetElection, err := s.store.FindElection(ctx, s.election.ID)
	s.Require().NoError(err)
	s.Equal(domain.PhaseRegistration, resetElection.Phase)
	s.Zero(resetElection.TotalVotesCast)
	s.Require().Len(resetElection.TransitionLog, 1)
	s.Equal(domain.PhaseRegistration, resetElection.TransitionLog[0].Next)
}

func (s *PostgresStoreSuite) TestFindLatestElectionSurvivesDeactivation() {
	ctx := context.Background()
	ended := s.election
	ended.Phase = domain.PhaseEnded
	ended.Active = false
	s.Require().NoError(s.store.SaveElection(ctx, ended))

	_, err := s.store.FindActiveElection(ctx)
	s.Require().True(errors.Is(err, sentinel.ErrNotFound))

	latest, err := s.store.FindLatestElection(ctx)
	s.Require().NoError(err)
	s.Equal(s.election.ID, latest.ID)
	s.Equal(domain.PhaseEnded, latest.Phase)
}

func (s *PostgresStoreSuite) TestIdentityRoundTrip() {
	ctx := context.Background()
	account, _ := s.seedVoter(1)

	record := domain.IdentityRecord{
		AccountID:   account.ID,
		NationalID:  "123456789012",
		FullName:    "Vera Voter",
		Address:     "1 Poll St",
		PhoneNumber: "5550001111",
		Email:       "vera@example.com",
		CreatedAt:   s.now,
	}
	s.Require().NoError(s.store.SaveIdentity(ctx, record))

	found, err := s.store.FindIdentityByNationalID(ctx, "123456789012")
	s.Require().NoError(err)
	s.Equal(account.ID, found.AccountID)

	pending, err := s.store.ListPendingIdentities(ctx)
	s.Require().NoError(err)
	s.Len(pending, 1)
}
