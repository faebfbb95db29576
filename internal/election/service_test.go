package election

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ballotgate/internal/domain"
	"ballotgate/internal/ledger"
	"ballotgate/internal/ledger/ledgertest"
	"ballotgate/internal/storage/memory"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
)

// =============================================================================
// Election Service Test Suite
// =============================================================================
// Justification for unit tests: the forward-only phase state machine and the
// reset escape hatch guard destructive operations; every rejected path needs
// deterministic coverage.

type ElectionServiceSuite struct {
	suite.Suite
	store   *memory.Store
	ledger  *ledgertest.Ledger
	service *Service

	now   time.Time
	admin domain.Account
	voter domain.Account
}

func TestElectionServiceSuite(t *testing.T) {
	suite.Run(t, new(ElectionServiceSuite))
}

func (s *ElectionServiceSuite) SetupTest() {
	s.store = memory.New()
	s.ledger = ledgertest.New()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service = NewService(s.store,
		WithLedger(s.ledger),
		WithClock(func() time.Time { return s.now }))

	ctx := context.Background()
	s.admin = domain.Account{
		ID: id.NewAccountID(), Username: "admin", Email: "admin@example.com",
		Role: id.RoleAdmin, Active: true, CreatedAt: s.now, UpdatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveAccount(ctx, s.admin))

	s.voter = domain.Account{
		ID: id.NewAccountID(), Username: "voter", Email: "voter@example.com",
		Role: id.RoleVoter, Active: true, CreatedAt: s.now, UpdatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveAccount(ctx, s.voter))
}

func (s *ElectionServiceSuite) params() CreateParams {
	return CreateParams{
		Name:              "General Election",
		RegistrationStart: s.now,
		RegistrationEnd:   s.now.Add(24 * time.Hour),
		VotingStart:       s.now.Add(24 * time.Hour),
		VotingEnd:         s.now.Add(48 * time.Hour),
	}
}

func (s *ElectionServiceSuite) create() domain.Election {
	election, err := s.service.Create(context.Background(), s.params(), s.admin.ID)
	s.Require().NoError(err)
	return election
}

// =============================================================================
// Create Tests
// =============================================================================

func (s *ElectionServiceSuite) TestCreate() {
	ctx := context.Background()

	s.Run("requires admin role", func() {
		_, err := s.service.Create(ctx, s.params(), s.voter.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("rejects inverted windows", func() {
		params := s.params()
		params.VotingEnd = params.VotingStart.Add(-time.Hour)
		_, err := s.service.Create(ctx, params, s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("starts in registration phase", func() {
		election := s.create()
		s.Equal(domain.PhaseRegistration, election.Phase)
		s.True(election.Active)
	})

	s.Run("rejects a second active election", func() {
		_, err := s.service.Create(ctx, s.params(), s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})
}

// =============================================================================
// Transition Tests
// =============================================================================

func (s *ElectionServiceSuite) TestTransition() {
	ctx := context.Background()
	s.create()

	s.Run("requires admin role", func() {
		_, err := s.service.Transition(ctx, domain.PhaseVoting, s.voter.ID, "")
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("rejects skipping a phase", func() {
		_, err := s.service.Transition(ctx, domain.PhaseEnded, s.admin.ID, "")
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	s.Run("rejects same-state transition", func() {
		_, err := s.service.Transition(ctx, domain.PhaseRegistration, s.admin.ID, "")
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	s.Run("advances forward and logs the entry", func() {
		election, err := s.service.Transition(ctx, domain.PhaseVoting, s.admin.ID, "0xabc")
		s.Require().NoError(err)
		s.Equal(domain.PhaseVoting, election.Phase)
		s.Require().Len(election.TransitionLog, 1)
		entry := election.TransitionLog[0]
		s.Equal(domain.PhaseRegistration, entry.Previous)
		s.Equal(domain.PhaseVoting, entry.Next)
		s.Equal(s.admin.ID, entry.Actor)
		s.Equal("0xabc", entry.TxHash)
	})

	s.Run("rejects moving backward", func() {
		_, err := s.service.Transition(ctx, domain.PhaseRegistration, s.admin.ID, "")
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	s.Run("ending deactivates the election", func() {
		election, err := s.service.Transition(ctx, domain.PhaseEnded, s.admin.ID, "")
		s.Require().NoError(err)
		s.False(election.Active)
		s.Len(election.TransitionLog, 2)

		_, err = s.service.CurrentPhase(ctx)
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})
}

// =============================================================================
// Reset Tests
// =============================================================================

func (s *ElectionServiceSuite) TestReset() {
	ctx := context.Background()
	election := s.create()

	s.Run("requires the exact confirmation token", func() {
		err := s.service.Reset(ctx, election.ID, s.admin.ID, "reset_all_votes")
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("requires admin role", func() {
		err := s.service.Reset(ctx, election.ID, s.voter.ID, ResetConfirmToken)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("unknown election is not found", func() {
		err := s.service.Reset(ctx, id.NewElectionID(), s.admin.ID, ResetConfirmToken)
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})

	s.Run("returns the election to registration", func() {
		_, err := s.service.Transition(ctx, domain.PhaseVoting, s.admin.ID, "")
		s.Require().NoError(err)

		err = s.service.Reset(ctx, election.ID, s.admin.ID, ResetConfirmToken)
		s.Require().NoError(err)

		got, err := s.store.FindElection(ctx, election.ID)
		s.Require().NoError(err)
		s.Equal(domain.PhaseRegistration, got.Phase)
		s.Equal(int64(0), got.TotalVotesCast)
		s.True(got.Active)
		// Transition log keeps the history, reset included.
		s.Len(got.TransitionLog, 2)
	})
}

// =============================================================================
// Phase Reconciliation Tests
// =============================================================================

func (s *ElectionServiceSuite) TestReconcilePhase() {
	ctx := context.Background()
	s.create()

	s.Run("matching phases report no mismatch", func() {
		s.ledger.SetPhase(ledger.PhaseRegistration)
		report, err := s.service.ReconcilePhase(ctx)
		s.Require().NoError(err)
		s.False(report.Mismatch)
		s.Equal(domain.PhaseRegistration, report.OffChain)
	})

	s.Run("drifted ledger phase is reported, not corrected", func() {
		s.ledger.SetPhase(ledger.PhaseVoting)
		report, err := s.service.ReconcilePhase(ctx)
		s.Require().NoError(err)
		s.True(report.Mismatch)

		// Off-chain record is untouched.
		phase, err := s.service.CurrentPhase(ctx)
		s.Require().NoError(err)
		s.Equal(domain.PhaseRegistration, phase)
	})
}

// =============================================================================
// Result Declaration Tests
// =============================================================================

func (s *ElectionServiceSuite) TestDeclareResult() {
	ctx := context.Background()
	election := s.create()

	winner := domain.Candidate{
		ID: id.NewCandidateID(), ElectionID: election.ID,
		Name: "Ada Okafor", Party: "Progress", CreatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveCandidate(ctx, winner))

	s.Run("rejected before the election ends", func() {
		_, err := s.service.DeclareResult(ctx, election.ID, winner.ID, s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodePhaseClosed))
	})

	s.Run("recorded once ended", func() {
		_, err := s.service.Transition(ctx, domain.PhaseVoting, s.admin.ID, "")
		s.Require().NoError(err)
		_, err = s.service.Transition(ctx, domain.PhaseEnded, s.admin.ID, "")
		s.Require().NoError(err)

		got, err := s.service.DeclareResult(ctx, election.ID, winner.ID, s.admin.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.Result)
		s.Equal(winner.ID, got.Result.Winner)
		s.Equal(s.admin.ID, got.Result.DeclaredBy)
	})

	s.Run("rejected when already declared", func() {
		_, err := s.service.DeclareResult(ctx, election.ID, winner.ID, s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("rejects a candidate from another election", func() {
		stranger := domain.Candidate{
			ID: id.NewCandidateID(), ElectionID: id.NewElectionID(),
			Name: "Other", Party: "Other", CreatedAt: s.now,
		}
		s.Require().NoError(s.store.SaveCandidate(ctx, stranger))

		fresh, err := s.store.FindElection(ctx, election.ID)
		s.Require().NoError(err)
		fresh.Result = nil
		s.Require().NoError(s.store.SaveElection(ctx, fresh))

		_, err = s.service.DeclareResult(ctx, election.ID, stranger.ID, s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})
}
