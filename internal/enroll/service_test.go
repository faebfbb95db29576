package enroll

import (
	"context"
	"strings"
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
// Enrollment Service Test Suite
// =============================================================================

const testWallet = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

type EnrollServiceSuite struct {
	suite.Suite
	store   *memory.Store
	ledger  *ledgertest.Ledger
	service *Service

	now   time.Time
	admin domain.Account
}

func TestEnrollServiceSuite(t *testing.T) {
	suite.Run(t, new(EnrollServiceSuite))
}

func (s *EnrollServiceSuite) SetupTest() {
	s.store = memory.New()
	s.ledger = ledgertest.New()
	s.now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.service = NewService(s.store, s.ledger,
		WithClock(func() time.Time { return s.now }))

	s.admin = domain.Account{
		ID: id.NewAccountID(), Username: "admin", Email: "admin@example.com",
		Role: id.RoleAdmin, Active: true, CreatedAt: s.now, UpdatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveAccount(context.Background(), s.admin))
}

func (s *EnrollServiceSuite) enrollParams() EnrollParams {
	return EnrollParams{
		NationalID:  "123456789012",
		FullName:    "Ada Okafor",
		Address:     "12 Station Road",
		PhoneNumber: "5551234567",
	}
}

// =============================================================================
// Account Tests
// =============================================================================

func (s *EnrollServiceSuite) TestCreateAccount() {
	ctx := context.Background()

	s.Run("rejects invalid email", func() {
		_, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ada", Email: "not-an-email",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("defaults to the voter role", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ada", Email: "ada@example.com",
		})
		s.Require().NoError(err)
		s.Equal(id.RoleVoter, account.Role)
		s.True(account.Active)
	})

	s.Run("duplicate username is a conflict", func() {
		_, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ada", Email: "other@example.com",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("normalizes the wallet to checksum form", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ben", Email: "ben@example.com",
			WalletAddress: "0x8ba1f109551bd432803012645ac136ddd64dba72",
		})
		s.Require().NoError(err)
		s.Equal(testWallet, account.WalletAddress)
	})

	s.Run("rejects a malformed wallet", func() {
		_, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "cara", Email: "cara@example.com", WalletAddress: "0x123",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})
}

func (s *EnrollServiceSuite) TestAssignRole() {
	ctx := context.Background()
	account, err := s.service.CreateAccount(ctx, CreateAccountParams{
		Username: "ada", Email: "ada@example.com",
	})
	s.Require().NoError(err)

	s.Run("requires the admin role", func() {
		_, err := s.service.AssignRole(ctx, account.ID, id.RoleCandidate, account.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("admin promotes an account", func() {
		updated, err := s.service.AssignRole(ctx, account.ID, id.RoleCandidate, s.admin.ID)
		s.Require().NoError(err)
		s.Equal(id.RoleCandidate, updated.Role)
	})

	s.Run("admin cannot demote themselves", func() {
		_, err := s.service.AssignRole(ctx, s.admin.ID, id.RoleVoter, s.admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})
}

func (s *EnrollServiceSuite) TestBindWallet() {
	ctx := context.Background()
	account, err := s.service.CreateAccount(ctx, CreateAccountParams{
		Username: "ada", Email: "ada@example.com",
	})
	s.Require().NoError(err)

	s.Run("binds and normalizes", func() {
		updated, err := s.service.BindWallet(ctx, account.ID,
			"0x8ba1f109551bd432803012645ac136ddd64dba72")
		s.Require().NoError(err)
		s.Equal(testWallet, updated.WalletAddress)
	})

	s.Run("refused after enrollment", func() {
		_, err := s.service.Enroll(ctx, account.ID, s.enrollParams())
		s.Require().NoError(err)

		_, err = s.service.BindWallet(ctx, account.ID,
			"0x0000000000000000000000000000000000000009")
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})
}

// =============================================================================
// Enrollment Tests
// =============================================================================

func (s *EnrollServiceSuite) TestEnroll() {
	ctx := context.Background()

	s.Run("requires a bound wallet", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "nowallet", Email: "nowallet@example.com",
		})
		s.Require().NoError(err)

		_, err = s.service.Enroll(ctx, account.ID, s.enrollParams())
		s.True(domainerrors.HasCode(err, domainerrors.CodeMissingWallet))
	})

	s.Run("validates the national id format", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "shortid", Email: "shortid@example.com", WalletAddress: testWallet,
		})
		s.Require().NoError(err)

		params := s.enrollParams()
		params.NationalID = "12345"
		_, err = s.service.Enroll(ctx, account.ID, params)
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("registers the wallet on the ledger", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ada", Email: "ada@example.com", WalletAddress: testWallet,
		})
		s.Require().NoError(err)

		profile, err := s.service.Enroll(ctx, account.ID, s.enrollParams())
		s.Require().NoError(err)
		s.True(profile.Registered)
		s.NotEmpty(profile.RegistrationTxHash)
		s.False(profile.Verified)
	})

	s.Run("double enrollment is a conflict", func() {
		account, err := s.store.ListAccounts(ctx)
		s.Require().NoError(err)
		var ada domain.Account
		for _, a := range account {
			if a.Username == "ada" {
				ada = a
			}
		}
		_, err = s.service.Enroll(ctx, ada.ID, s.enrollParams())
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("duplicate national id is a conflict", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "imposter", Email: "imposter@example.com",
			WalletAddress: "0x0000000000000000000000000000000000000011",
		})
		s.Require().NoError(err)

		_, err = s.service.Enroll(ctx, account.ID, s.enrollParams())
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("already-registered wallet on the ledger is treated as success", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "retrier", Email: "retrier@example.com",
			WalletAddress: "0x0000000000000000000000000000000000000012",
		})
		s.Require().NoError(err)

		// Simulate a prior half-completed attempt: the ledger knows the
		// wallet but no profile exists off-chain.
		_, err = s.ledger.RegisterVoter(ctx, account.WalletAddress)
		s.Require().NoError(err)

		params := s.enrollParams()
		params.NationalID = "999999999999"
		profile, err := s.service.Enroll(ctx, account.ID, params)
		s.Require().NoError(err)
		s.True(profile.Registered)
		s.Empty(profile.RegistrationTxHash)
	})

	s.Run("ledger failure aborts enrollment cleanly", func() {
		account, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "unlucky", Email: "unlucky@example.com",
			WalletAddress: "0x0000000000000000000000000000000000000013",
		})
		s.Require().NoError(err)

		s.ledger.FailNext = true
		params := s.enrollParams()
		params.NationalID = "888888888888"
		_, err = s.service.Enroll(ctx, account.ID, params)
		s.True(domainerrors.HasCode(err, domainerrors.CodeLedgerUnavailable))

		// Voter profile must not exist after the failed attempt.
		_, err = s.service.Profile(ctx, account.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})
}

// reentrantLedger runs a callback on the first RegisterVoter call, modelling
// off-chain work that lands while an enrollment is waiting on the chain.
type reentrantLedger struct {
	ledger.Client
	during func()
}

func (l *reentrantLedger) RegisterVoter(ctx context.Context, wallet string) (ledger.TxResult, error) {
	if l.during != nil {
		fn := l.during
		l.during = nil
		fn()
	}
	return l.Client.RegisterVoter(ctx, wallet)
}

// TestEnrollKeepsConcurrentVoteCount reconciles a vote while an enrollment
// is blocked on ledger registration. The enrollment's counter bump must not
// erase the vote that landed in between.
func (s *EnrollServiceSuite) TestEnrollKeepsConcurrentVoteCount() {
	ctx := context.Background()
	election := domain.Election{
		ID:                id.NewElectionID(),
		Name:              "General Election",
		Phase:             domain.PhaseVoting,
		RegistrationStart: s.now.Add(-48 * time.Hour),
		RegistrationEnd:   s.now.Add(48 * time.Hour),
		VotingStart:       s.now.Add(-time.Hour),
		VotingEnd:         s.now.Add(time.Hour),
		Active:            true,
		CreatedAt:         s.now.Add(-72 * time.Hour),
	}
	s.Require().NoError(s.store.SaveElection(ctx, election))

	voter := domain.VoterProfile{
		ID:            id.NewVoterID(),
		AccountID:     id.NewAccountID(),
		ElectionID:    election.ID,
		WalletAddress: "0x0000000000000000000000000000000000000031",
		NationalID:    "111111111111",
		Registered:    true,
		Verified:      true,
		CreatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveVoter(ctx, voter))
	candidate := domain.Candidate{
		ID: id.NewCandidateID(), ElectionID: election.ID,
		Name: "Ada Okafor", Party: "Progress", CreatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveCandidate(ctx, candidate))

	svc := NewService(s.store, &reentrantLedger{Client: s.ledger, during: func() {
		s.Require().NoError(s.store.ApplyVote(ctx, domain.VoteRecord{
			ID:          id.NewVoteID(),
			VoterID:     voter.ID,
			CandidateID: candidate.ID,
			ElectionID:  election.ID,
			TxHash:      "0x" + strings.Repeat("ab", 32),
			CastAt:      s.now,
			Status:      domain.VoteStatusSuccess,
		}))
	}}, WithClock(func() time.Time { return s.now }))

	account, err := svc.CreateAccount(ctx, CreateAccountParams{
		Username: "late", Email: "late@example.com",
		WalletAddress: "0x0000000000000000000000000000000000000032",
	})
	s.Require().NoError(err)
	params := s.enrollParams()
	params.NationalID = "222222222222"
	_, err = svc.Enroll(ctx, account.ID, params)
	s.Require().NoError(err)

	got, err := s.store.FindElection(ctx, election.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.TotalVotesCast)
	s.Equal(int64(1), got.TotalVoters)
}

// =============================================================================
// Identity Verification Tests
// =============================================================================

func (s *EnrollServiceSuite) TestVerifyIdentity() {
	ctx := context.Background()
	account, err := s.service.CreateAccount(ctx, CreateAccountParams{
		Username: "ada", Email: "ada@example.com", WalletAddress: testWallet,
	})
	s.Require().NoError(err)
	_, err = s.service.Enroll(ctx, account.ID, s.enrollParams())
	s.Require().NoError(err)

	s.Run("requires the admin role", func() {
		_, err := s.service.VerifyIdentity(ctx, account.ID, account.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("appears in the pending queue until verified", func() {
		pending, err := s.service.PendingVerifications(ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(account.ID, pending[0].AccountID)
	})

	s.Run("marks identity and profile verified", func() {
		profile, err := s.service.VerifyIdentity(ctx, account.ID, s.admin.ID)
		s.Require().NoError(err)
		s.True(profile.Verified)
		s.Equal(s.admin.ID, profile.VerifiedBy)

		pending, err := s.service.PendingVerifications(ctx)
		s.Require().NoError(err)
		s.Empty(pending)
	})

	s.Run("ledger failure does not block off-chain verification", func() {
		other, err := s.service.CreateAccount(ctx, CreateAccountParams{
			Username: "ben", Email: "ben@example.com",
			WalletAddress: "0x0000000000000000000000000000000000000021",
		})
		s.Require().NoError(err)
		params := s.enrollParams()
		params.NationalID = "777777777777"
		_, err = s.service.Enroll(ctx, other.ID, params)
		s.Require().NoError(err)

		s.ledger.FailNext = true
		profile, err := s.service.VerifyIdentity(ctx, other.ID, s.admin.ID)
		s.Require().NoError(err)
		s.True(profile.Verified)
	})
}
