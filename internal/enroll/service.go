// Package enroll owns participant onboarding: accounts, wallet binding,
// identity records, voter profiles, and their registration on the ledger.
package enroll

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"ballotgate/internal/domain"
	"ballotgate/internal/ledger"
	"ballotgate/internal/platform/metrics"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/sentinel"
)

// Service manages accounts and voter enrollment.
type Service struct {
	store   storage.Store
	ledger  ledger.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, ledgerClient ledger.Client, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledgerClient,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccountParams describes a new participant account.
type CreateAccountParams struct {
	Username      string
	Email         string
	Role          id.Role
	WalletAddress string
}

// CreateAccount registers a participant. The wallet is optional at signup
// and can be bound later; when present it is validated and normalized.
func (s *Service) CreateAccount(ctx context.Context, params CreateAccountParams) (domain.Account, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return domain.Account{}, domainerrors.New(domainerrors.CodeInvalidInput, "username is required")
	}
	if _, err := mail.ParseAddress(params.Email); err != nil {
		return domain.Account{}, domainerrors.New(domainerrors.CodeInvalidInput, "email is invalid")
	}
	role := params.Role
	if role == "" {
		role = id.RoleVoter
	}
	if !role.Valid() {
		return domain.Account{}, domainerrors.Newf(domainerrors.CodeInvalidInput,
			"unknown role %q", string(params.Role))
	}

	wallet := ""
	if params.WalletAddress != "" {
		normalized, err := domain.ValidateWalletAddress(params.WalletAddress)
		if err != nil {
			return domain.Account{}, err
		}
		wallet = normalized
	}

	now := s.now()
	account := domain.Account{
		ID:            id.NewAccountID(),
		Username:      username,
		Email:         strings.ToLower(strings.TrimSpace(params.Email)),
		Role:          role,
		WalletAddress: wallet,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.SaveAccount(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.Account{}, domainerrors.New(domainerrors.CodeConflict,
				"username or email already taken")
		}
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save account")
	}
	s.logger.InfoContext(ctx, "account created",
		"accountId", account.ID.String(), "role", string(account.Role))
	return account, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, accountID id.AccountID) (domain.Account, error) {
	return s.account(ctx, accountID)
}

// AssignRole changes an account's role. Admin only; an admin cannot demote
// themselves, which would otherwise strand a deployment with no admin.
func (s *Service) AssignRole(ctx context.Context, accountID id.AccountID, role id.Role, actor id.AccountID) (domain.Account, error) {
	actingAccount, err := s.account(ctx, actor)
	if err != nil {
		return domain.Account{}, err
	}
	if !actingAccount.Role.Can(id.CapAssignRoles) {
		return domain.Account{}, domainerrors.New(domainerrors.CodeForbidden,
			"role assignment requires the admin role")
	}
	if !role.Valid() {
		return domain.Account{}, domainerrors.Newf(domainerrors.CodeInvalidInput,
			"unknown role %q", string(role))
	}
	if accountID == actor && role != id.RoleAdmin {
		return domain.Account{}, domainerrors.New(domainerrors.CodeConflict,
			"admins cannot demote themselves")
	}

	account, err := s.account(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	account.Role = role
	account.UpdatedAt = s.now()
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save account")
	}
	return account, nil
}

// BindWallet attaches a wallet address to the account. Rebinding after a
// voter profile exists is refused: the profile's ledger registration is tied
// to the original address.
func (s *Service) BindWallet(ctx context.Context, accountID id.AccountID, address string) (domain.Account, error) {
	normalized, err := domain.ValidateWalletAddress(address)
	if err != nil {
		return domain.Account{}, err
	}
	account, err := s.account(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if _, err := s.store.FindVoterByAccount(ctx, accountID); err == nil {
		return domain.Account{}, domainerrors.New(domainerrors.CodeConflict,
			"wallet cannot change after voter enrollment")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check voter profile")
	}

	account.WalletAddress = normalized
	account.UpdatedAt = s.now()
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save account")
	}
	return account, nil
}

// EnrollParams is the voter's identity submission.
type EnrollParams struct {
	NationalID  string
	FullName    string
	Address     string
	PhoneNumber string
	Email       string
}

// Enroll creates the identity record and voter profile for an account, then
// registers the wallet on the ledger. The ledger registration is idempotent:
// an already-registered wallet is treated as success, so a retried
// enrollment cannot fail halfway.
func (s *Service) Enroll(ctx context.Context, accountID id.AccountID, params EnrollParams) (domain.VoterProfile, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return domain.VoterProfile{}, err
	}
	if !account.HasWallet() {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeMissingWallet,
			"bind a wallet before enrolling")
	}
	if _, err := s.store.FindVoterByAccount(ctx, accountID); err == nil {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeConflict,
			"account is already enrolled")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check voter profile")
	}

	record := domain.IdentityRecord{
		AccountID:   accountID,
		NationalID:  strings.TrimSpace(params.NationalID),
		FullName:    strings.TrimSpace(params.FullName),
		Address:     params.Address,
		PhoneNumber: strings.TrimSpace(params.PhoneNumber),
		Email:       account.Email,
		CreatedAt:   s.now(),
	}
	if params.Email != "" {
		record.Email = strings.ToLower(strings.TrimSpace(params.Email))
	}
	if err := record.Validate(); err != nil {
		return domain.VoterProfile{}, err
	}
	if existing, err := s.store.FindIdentityByNationalID(ctx, record.NationalID); err == nil && existing.AccountID != accountID {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeConflict,
			"national id is already enrolled")
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check national id")
	}
	if err := s.store.SaveIdentity(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeConflict,
				"national id is already enrolled")
		}
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save identity")
	}

	// Enrollment works with or without an active election; profiles created
	// early are attached once an election opens.
	election, electionErr := s.store.FindActiveElection(ctx)
	if electionErr != nil && !errors.Is(electionErr, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.Wrap(electionErr, domainerrors.CodeInternal, "load active election")
	}

	profile := domain.VoterProfile{
		ID:            id.NewVoterID(),
		AccountID:     accountID,
		ElectionID:    election.ID,
		WalletAddress: account.WalletAddress,
		NationalID:    record.NationalID,
		CreatedAt:     s.now(),
	}

	start := s.now()
	result, err := s.ledger.RegisterVoter(ctx, account.WalletAddress)
	if s.metrics != nil {
		s.metrics.ObserveLedgerCall("registerVoter", start, err)
	}
	switch {
	case err == nil:
		profile.Registered = true
		profile.RegistrationTxHash = result.TxHash
	case ledger.IsAlreadyRegistered(err):
		// A prior attempt registered the wallet and failed afterwards;
		// treat as success and move on.
		profile.Registered = true
		s.logger.InfoContext(ctx, "wallet already registered on ledger, continuing",
			"accountId", accountID.String())
	default:
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeLedgerUnavailable,
			"register voter on ledger")
	}

	if err := s.store.SaveVoter(ctx, profile); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeConflict,
				"account is already enrolled")
		}
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save voter profile")
	}

	if !election.ID.IsZero() {
		if err := s.store.AdjustElectionCounters(ctx, election.ID, 1, 0); err != nil {
			return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "update election counters")
		}
	}

	s.logger.InfoContext(ctx, "voter enrolled",
		"accountId", accountID.String(),
		"voterId", profile.ID.String(),
		"registrationTxHash", profile.RegistrationTxHash)
	return profile, nil
}

// Profile returns the account's voter profile.
func (s *Service) Profile(ctx context.Context, accountID id.AccountID) (domain.VoterProfile, error) {
	profile, err := s.store.FindVoterByAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeNotFound, "voter profile not found")
	}
	if err != nil {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load voter profile")
	}
	return profile, nil
}

// VerifyIdentity marks the account's identity and voter profile verified.
// Ledger voter verification is best-effort: a failure is logged and counted
// but does not block off-chain verification, the operator can replay it.
func (s *Service) VerifyIdentity(ctx context.Context, accountID id.AccountID, actor id.AccountID) (domain.VoterProfile, error) {
	actingAccount, err := s.account(ctx, actor)
	if err != nil {
		return domain.VoterProfile{}, err
	}
	if !actingAccount.Role.Can(id.CapVerifyIdentity) {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeForbidden,
			"identity verification requires the admin role")
	}

	record, err := s.store.FindIdentity(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeNotFound, "identity record not found")
	}
	if err != nil {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load identity")
	}
	profile, err := s.store.FindVoterByAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoterProfile{}, domainerrors.New(domainerrors.CodeNotFound, "voter profile not found")
	}
	if err != nil {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load voter profile")
	}
	if record.Verified && profile.Verified {
		return profile, nil
	}

	start := s.now()
	_, err = s.ledger.VerifyVoter(ctx, profile.WalletAddress)
	if s.metrics != nil {
		s.metrics.ObserveLedgerCall("verifyVoter", start, err)
	}
	if err != nil && !ledger.IsAlreadyRegistered(err) {
		if s.metrics != nil {
			s.metrics.Inconsistencies.Inc()
		}
		s.logger.ErrorContext(ctx, "ledger voter verification failed, verifying off-chain only",
			"accountId", accountID.String(), "error", err)
	}

	now := s.now()
	record.Verified = true
	record.VerifiedBy = actor
	record.VerifiedAt = &now
	if err := s.store.SaveIdentity(ctx, record); err != nil {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save identity")
	}
	// Targeted update: re-saving the profile snapshot would erase a vote
	// reconciled since the read above.
	if err := s.store.MarkVoterVerified(ctx, profile.ID, actor, now); err != nil {
		return domain.VoterProfile{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "mark voter verified")
	}
	profile.Verified = true
	profile.VerifiedBy = actor
	profile.VerifiedAt = &now

	s.logger.InfoContext(ctx, "identity verified",
		"accountId", accountID.String(), "actor", actor.String())
	return profile, nil
}

// PendingVerifications lists unverified identity submissions for the admin
// queue.
func (s *Service) PendingVerifications(ctx context.Context) ([]domain.IdentityRecord, error) {
	records, err := s.store.ListPendingIdentities(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list pending identities")
	}
	return records, nil
}

func (s *Service) account(ctx context.Context, accountID id.AccountID) (domain.Account, error) {
	account, err := s.store.FindAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Account{}, domainerrors.New(domainerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load account")
	}
	return account, nil
}
