package voting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ballotgate/internal/domain"
	"ballotgate/internal/storage/memory"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
)

// =============================================================================
// Voting Service Test Suite
// =============================================================================
// Justification for unit tests: the eligibility gate ordering, the atomic
// reconciliation write, and the duplicate-transaction handling are concurrency
// and precondition logic that E2E tests cannot exercise deterministically.

type VotingServiceSuite struct {
	suite.Suite
	store   *memory.Store
	service *Service

	now       time.Time
	election  domain.Election
	candidate domain.Candidate
}

func TestVotingServiceSuite(t *testing.T) {
	suite.Run(t, new(VotingServiceSuite))
}

func (s *VotingServiceSuite) SetupTest() {
	s.store = memory.New()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.service = NewService(s.store, WithClock(func() time.Time { return s.now }))

	ledgerID := int64(1)
	s.election = domain.Election{
		ID:                id.NewElectionID(),
		Name:              "General Election",
		Phase:             domain.PhaseVoting,
		RegistrationStart: s.now.Add(-48 * time.Hour),
		RegistrationEnd:   s.now.Add(-24 * time.Hour),
		VotingStart:       s.now.Add(-time.Hour),
		VotingEnd:         s.now.Add(time.Hour),
		Active:            true,
		CreatedAt:         s.now.Add(-72 * time.Hour),
	}
	s.Require().NoError(s.store.SaveElection(context.Background(), s.election))

	s.candidate = domain.Candidate{
		ID:         id.NewCandidateID(),
		ElectionID: s.election.ID,
		Name:       "Ada Okafor",
		Party:      "Progress",
		LedgerID:   &ledgerID,
		OnLedger:   true,
		CreatedAt:  s.now.Add(-36 * time.Hour),
	}
	s.Require().NoError(s.store.SaveCandidate(context.Background(), s.candidate))
}

// seedVoter creates an account, a verified identity record, and a fully
// eligible voter profile, and returns the account and profile.
func (s *VotingServiceSuite) seedVoter(wallet string) (domain.Account, domain.VoterProfile) {
	ctx := context.Background()
	nationalID := wallet[len(wallet)-12:]
	account := domain.Account{
		ID:            id.NewAccountID(),
		Username:      "voter-" + wallet[len(wallet)-6:],
		Email:         wallet[len(wallet)-6:] + "@example.com",
		Role:          id.RoleVoter,
		WalletAddress: wallet,
		Verified:      true,
		Active:        true,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveAccount(ctx, account))

	s.Require().NoError(s.store.SaveIdentity(ctx, domain.IdentityRecord{
		AccountID:  account.ID,
		NationalID: nationalID,
		FullName:   "Voter " + wallet[len(wallet)-6:],
		Verified:   true,
		CreatedAt:  s.now,
	}))

	voter := domain.VoterProfile{
		ID:            id.NewVoterID(),
		AccountID:     account.ID,
		ElectionID:    s.election.ID,
		WalletAddress: wallet,
		NationalID:    nationalID,
		Registered:    true,
		Verified:      true,
		CreatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveVoter(ctx, voter))
	return account, voter
}

func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func txHash(i int) string {
	return fmt.Sprintf("0x%064x", i+1)
}

// =============================================================================
// Eligibility Gate Tests
// =============================================================================

func (s *VotingServiceSuite) TestCheckEligibility() {
	ctx := context.Background()

	s.Run("unknown account is not found", func() {
		_, err := s.service.CheckEligibility(ctx, id.NewAccountID())
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.Run("account without wallet fails on wallet first", func() {
		account := domain.Account{
			ID: id.NewAccountID(), Username: "nowallet", Email: "nowallet@example.com",
			Role: id.RoleVoter, Active: true, CreatedAt: s.now, UpdatedAt: s.now,
		}
		s.Require().NoError(s.store.SaveAccount(ctx, account))

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.False(verdict.Eligible)
		s.Equal(CauseMissingWallet, verdict.Cause)
	})

	s.Run("wallet but no profile is not registered", func() {
		account := domain.Account{
			ID: id.NewAccountID(), Username: "noprofile", Email: "noprofile@example.com",
			Role: id.RoleVoter, WalletAddress: wallet(90), Active: true,
			CreatedAt: s.now, UpdatedAt: s.now,
		}
		s.Require().NoError(s.store.SaveAccount(ctx, account))

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.Equal(CauseNotRegistered, verdict.Cause)
	})

	s.Run("unverified voter fails verification before phase", func() {
		account, voter := s.seedVoter(wallet(91))
		voter.Verified = false
		s.Require().NoError(s.store.SaveVoter(ctx, voter))
		// Close the phase too: verification must still be reported first.
		s.setPhase(domain.PhaseEnded)
		defer s.setPhase(domain.PhaseVoting)

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.Equal(CauseNotVerified, verdict.Cause)
	})

	s.Run("verified profile with unverified identity record is not verified", func() {
		account, _ := s.seedVoter(wallet(96))
		record, err := s.store.FindIdentity(ctx, account.ID)
		s.Require().NoError(err)
		record.Verified = false
		s.Require().NoError(s.store.SaveIdentity(ctx, record))

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.Equal(CauseNotVerified, verdict.Cause)
	})

	s.Run("voted voter is reported before phase", func() {
		account, voter := s.seedVoter(wallet(92))
		voter.HasVoted = true
		s.Require().NoError(s.store.SaveVoter(ctx, voter))

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.Equal(CauseAlreadyVoted, verdict.Cause)
	})

	s.Run("closed phase rejects an otherwise eligible voter", func() {
		account, _ := s.seedVoter(wallet(93))
		s.setPhase(domain.PhaseEnded)
		defer s.setPhase(domain.PhaseVoting)

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.Equal(CausePhaseClosed, verdict.Cause)
	})

	s.Run("eligible voter passes", func() {
		account, _ := s.seedVoter(wallet(94))
		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.True(verdict.Eligible)
		s.NotNil(verdict.Voter)
	})

	s.Run("voting window bound is inclusive", func() {
		account, _ := s.seedVoter(wallet(95))
		s.now = s.election.VotingEnd
		defer func() { s.now = s.election.VotingStart.Add(time.Hour) }()

		verdict, err := s.service.CheckEligibility(ctx, account.ID)
		s.NoError(err)
		s.True(verdict.Eligible)
	})
}

func (s *VotingServiceSuite) setPhase(phase domain.Phase) {
	election, err := s.store.FindElection(context.Background(), s.election.ID)
	s.Require().NoError(err)
	election.Phase = phase
	s.Require().NoError(s.store.SaveElection(context.Background(), election))
}

// =============================================================================
// Reconcile Tests
// =============================================================================

func (s *VotingServiceSuite) TestReconcile() {
	ctx := context.Background()

	s.Run("rejects malformed transaction hash", func() {
		account, _ := s.seedVoter(wallet(0))
		_, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID:   account.ID,
			CandidateID: s.candidate.ID,
			TxHash:      "0xnothex",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("rejects candidate not linked to ledger", func() {
		account, _ := s.seedVoter(wallet(1))
		offLedger := domain.Candidate{
			ID: id.NewCandidateID(), ElectionID: s.election.ID,
			Name: "Off Ledger", Party: "None", CreatedAt: s.now,
		}
		s.Require().NoError(s.store.SaveCandidate(ctx, offLedger))

		_, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID:   account.ID,
			CandidateID: offLedger.ID,
			TxHash:      txHash(1),
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeCandidateNotOnLedger))
	})

	s.Run("applies all four records atomically", func() {
		account, voter := s.seedVoter(wallet(2))
		record, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID:   account.ID,
			CandidateID: s.candidate.ID,
			TxHash:      txHash(2),
			BlockNumber: 120,
			GasUsed:     21000,
		})
		s.Require().NoError(err)
		s.Equal(txHash(2), record.TxHash)
		s.Equal(domain.VoteStatusSuccess, record.Status)

		got, err := s.store.FindVoter(ctx, voter.ID)
		s.Require().NoError(err)
		s.True(got.HasVoted)
		s.Equal(s.candidate.ID, got.VotedCandidate)
		s.Equal(txHash(2), got.VoteTxHash)

		candidate, err := s.store.FindCandidate(ctx, s.candidate.ID)
		s.Require().NoError(err)
		s.Equal(int64(1), candidate.VoteCount)

		election, err := s.store.FindElection(ctx, s.election.ID)
		s.Require().NoError(err)
		s.Equal(int64(1), election.TotalVotesCast)
	})

	s.Run("same voter twice is rejected and counters unchanged", func() {
		account, _ := s.seedVoter(wallet(3))
		_, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(3),
		})
		s.Require().NoError(err)

		before, err := s.store.FindCandidate(ctx, s.candidate.ID)
		s.Require().NoError(err)

		_, err = s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(4),
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeAlreadyVoted))

		after, err := s.store.FindCandidate(ctx, s.candidate.ID)
		s.Require().NoError(err)
		s.Equal(before.VoteCount, after.VoteCount)
	})

	s.Run("replaying the same confirmed proof is a duplicate transaction", func() {
		account, _ := s.seedVoter(wallet(4))
		req := ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(8),
		}
		_, err := s.service.Reconcile(ctx, req)
		s.Require().NoError(err)

		// The client retries with the proof that already landed; the answer
		// names the transaction, not the voter's recorded vote.
		_, err = s.service.Reconcile(ctx, req)
		s.True(domainerrors.HasCode(err, domainerrors.CodeDuplicateTransaction))
	})

	s.Run("duplicate transaction hash from another voter is rejected", func() {
		first, _ := s.seedVoter(wallet(5))
		second, _ := s.seedVoter(wallet(6))

		_, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: first.ID, CandidateID: s.candidate.ID, TxHash: txHash(5),
		})
		s.Require().NoError(err)

		_, err = s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: second.ID, CandidateID: s.candidate.ID, TxHash: txHash(5),
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeDuplicateTransaction))

		// The second voter remains free to vote with their own transaction.
		record, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: second.ID, CandidateID: s.candidate.ID, TxHash: txHash(6),
		})
		s.NoError(err)
		s.Equal(txHash(6), record.TxHash)
	})

	s.Run("rejects when voting is closed", func() {
		account, _ := s.seedVoter(wallet(7))
		s.setPhase(domain.PhaseEnded)
		defer s.setPhase(domain.PhaseVoting)

		_, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(7),
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodePhaseClosed))
	})
}

// TestReconcileConcurrent floods the service with N concurrent proofs for
// the same voter; exactly one must land.
func (s *VotingServiceSuite) TestReconcileConcurrent() {
	ctx := context.Background()
	account, voter := s.seedVoter(wallet(10))

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.service.Reconcile(ctx, ReconcileRequest{
				AccountID:   account.ID,
				CandidateID: s.candidate.ID,
				TxHash:      txHash(100 + i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.True(domainerrors.HasCode(err, domainerrors.CodeAlreadyVoted),
				"unexpected error: %v", err)
		}
	}
	s.Equal(1, succeeded)

	got, err := s.store.FindVoter(ctx, voter.ID)
	s.Require().NoError(err)
	s.True(got.HasVoted)

	candidate, err := s.store.FindCandidate(ctx, s.candidate.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), candidate.VoteCount)

	election, err := s.store.FindElection(ctx, s.election.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), election.TotalVotesCast)
}

// =============================================================================
// Verification and History Tests
// =============================================================================

func (s *VotingServiceSuite) TestVerifyVote() {
	ctx := context.Background()
	account, _ := s.seedVoter(wallet(20))

	s.Run("malformed hash is invalid input", func() {
		_, err := s.service.VerifyVote(ctx, strings.Repeat("f", 64))
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("unknown hash is not found", func() {
		_, err := s.service.VerifyVote(ctx, txHash(999))
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.Run("recorded vote is returned", func() {
		record, err := s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(20),
		})
		s.Require().NoError(err)

		got, err := s.service.VerifyVote(ctx, txHash(20))
		s.NoError(err)
		s.Equal(record.ID, got.ID)
		s.Equal(record.TxHash, got.TxHash)
	})
}

func (s *VotingServiceSuite) TestHistory() {
	ctx := context.Background()

	s.Run("account with no profile has no history", func() {
		record, err := s.service.History(ctx, id.NewAccountID())
		s.NoError(err)
		s.Nil(record)
	})

	s.Run("vote appears in history after reconcile", func() {
		account, _ := s.seedVoter(wallet(30))
		record, err := s.service.History(ctx, account.ID)
		s.NoError(err)
		s.Nil(record)

		_, err = s.service.Reconcile(ctx, ReconcileRequest{
			AccountID: account.ID, CandidateID: s.candidate.ID, TxHash: txHash(30),
		})
		s.Require().NoError(err)

		record, err = s.service.History(ctx, account.ID)
		s.NoError(err)
		s.Require().NotNil(record)
		s.Equal(txHash(30), record.TxHash)
	})
}
