// Package candidate manages the candidate lifecycle: off-chain creation,
// linking to the ledger, verification, and removal.
package candidate

import (
	"context"
	"errors"
	"log/slog"
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

// Service implements the candidate lifecycle against the off-chain store,
// reaching for the ledger only on admin-driven linking and verification.
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

// CreateParams describes a new candidate. LedgerID and LedgerTxHash are the
// admin-only linking proof; self-nominations must leave them empty.
type CreateParams struct {
	Name          string
	Party         string
	Age           int
	Qualification string
	Manifesto     string
	Photo         string
	Biography     string
	LedgerID      *int64
	LedgerTxHash  string
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "candidate name is required")
	}
	if strings.TrimSpace(p.Party) == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "party is required")
	}
	if p.LedgerID != nil && *p.LedgerID <= 0 {
		return domainerrors.New(domainerrors.CodeInvalidInput, "ledger id must be positive")
	}
	return nil
}

// Create registers a candidate in the active election. Admins may supply a
// ledger proof, which links and auto-verifies the record; candidates
// self-nominate once, unlinked and unverified.
func (s *Service) Create(ctx context.Context, params CreateParams, actor id.AccountID) (domain.Candidate, error) {
	if err := params.validate(); err != nil {
		return domain.Candidate{}, err
	}
	account, err := s.store.FindAccount(ctx, actor)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeUnauthorized, "unknown actor")
	}
	if err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load actor")
	}

	isAdmin := account.Role.Can(id.CapManageCandidates)
	switch {
	case isAdmin:
		// Admins create on behalf of anyone and may link immediately.
	case account.Role.Can(id.CapSelfNominate):
		if params.LedgerID != nil || params.LedgerTxHash != "" {
			return domain.Candidate{}, domainerrors.New(domainerrors.CodeForbidden,
				"self-nomination cannot supply ledger fields")
		}
		if _, err := s.store.FindCandidateByRegistrant(ctx, actor); err == nil {
			return domain.Candidate{}, domainerrors.New(domainerrors.CodeConflict,
				"account has already registered a candidate")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check registrant")
		}
	default:
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeForbidden,
			"role cannot register candidates")
	}

	election, err := s.activeElection(ctx)
	if err != nil {
		return domain.Candidate{}, err
	}

	name := strings.TrimSpace(params.Name)
	party := strings.TrimSpace(params.Party)
	if _, err := s.store.FindCandidateByNameParty(ctx, election.ID, name, party); err == nil {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeConflict,
			"candidate with this name and party already exists")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "check name uniqueness")
	}

	candidate := domain.Candidate{
		ID:            id.NewCandidateID(),
		ElectionID:    election.ID,
		Name:          name,
		Party:         party,
		Age:           params.Age,
		Qualification: params.Qualification,
		Manifesto:     params.Manifesto,
		Photo:         params.Photo,
		Biography:     params.Biography,
		RegisteredBy:  actor,
		CreatedAt:     s.now(),
	}
	if isAdmin && params.LedgerID != nil {
		candidate.LedgerID = params.LedgerID
		candidate.OnLedger = true
		candidate.LedgerTxHash = params.LedgerTxHash
		candidate.Verified = true
		candidate.VerifiedBy = actor
		now := s.now()
		candidate.VerifiedAt = &now
	}

	if err := s.store.SaveCandidate(ctx, candidate); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.Candidate{}, domainerrors.New(domainerrors.CodeConflict,
				"candidate conflicts with an existing record")
		}
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save candidate")
	}

	if err := s.store.AdjustElectionCounters(ctx, election.ID, 0, 1); err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "update election counters")
	}

	s.logger.InfoContext(ctx, "candidate created",
		"candidateId", candidate.ID.String(),
		"name", candidate.Name,
		"party", candidate.Party,
		"onLedger", candidate.OnLedger)
	return candidate, nil
}

// UpdateParams carries the mutable profile fields.
type UpdateParams struct {
	Age           *int
	Qualification *string
	Manifesto     *string
	Photo         *string
	Biography     *string
}

// Update edits profile metadata. Linked candidates are immutable: the ledger
// already carries their identity and an edit would silently fork the two
// records.
func (s *Service) Update(ctx context.Context, candidateID id.CandidateID, params UpdateParams) (domain.Candidate, error) {
	candidate, err := s.get(ctx, candidateID)
	if err != nil {
		return domain.Candidate{}, err
	}
	if candidate.OnLedger {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeConflict,
			"candidate is linked to the ledger and cannot be updated")
	}
	if params.Age != nil {
		candidate.Age = *params.Age
	}
	if params.Qualification != nil {
		candidate.Qualification = *params.Qualification
	}
	if params.Manifesto != nil {
		candidate.Manifesto = *params.Manifesto
	}
	if params.Photo != nil {
		candidate.Photo = *params.Photo
	}
	if params.Biography != nil {
		candidate.Biography = *params.Biography
	}
	if err := s.store.SaveCandidate(ctx, candidate); err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save candidate")
	}
	return candidate, nil
}

// Verify marks the candidate verified. Behavior depends on linking state:
// a linked candidate is additionally verified on the ledger best-effort; an
// unlinked one is first registered there and linked. Ledger failure never
// blocks off-chain verification, it is logged and counted as a
// discrepancy to resolve.
func (s *Service) Verify(ctx context.Context, candidateID id.CandidateID, actor id.AccountID) (domain.Candidate, error) {
	account, err := s.store.FindAccount(ctx, actor)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeUnauthorized, "unknown actor")
	}
	if err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load actor")
	}
	if !account.Role.Can(id.CapManageCandidates) {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeForbidden,
			"candidate verification requires the admin role")
	}

	candidate, err := s.get(ctx, candidateID)
	if err != nil {
		return domain.Candidate{}, err
	}
	if candidate.Verified {
		return candidate, nil
	}

	switch {
	case s.ledger == nil:
		// Off-chain only deployment, nothing to link.
	case candidate.Linked():
		start := s.now()
		_, err := s.ledger.VerifyCandidate(ctx, *candidate.LedgerID)
		if s.metrics != nil {
			s.metrics.ObserveLedgerCall("verifyCandidate", start, err)
		}
		if err != nil {
			s.ledgerDiscrepancy(ctx, "ledger candidate verification failed, verifying off-chain only",
				candidate, err)
		}
	case s.registrantHasWallet(ctx, candidate):
		start := s.now()
		result, err := s.ledger.AddCandidate(ctx, candidate.Name, candidate.Party)
		if s.metrics != nil {
			s.metrics.ObserveLedgerCall("addCandidate", start, err)
		}
		if err != nil {
			s.ledgerDiscrepancy(ctx, "ledger candidate registration failed, verifying off-chain only",
				candidate, err)
		} else {
			candidate.LedgerID = &result.LedgerID
			candidate.OnLedger = true
			candidate.LedgerTxHash = result.TxHash
		}
	}

	candidate.Verified = true
	candidate.VerifiedBy = actor
	now := s.now()
	candidate.VerifiedAt = &now
	if err := s.store.SaveCandidate(ctx, candidate); err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save candidate")
	}
	s.logger.InfoContext(ctx, "candidate verified",
		"candidateId", candidate.ID.String(),
		"onLedger", candidate.OnLedger)
	return candidate, nil
}

// Delete removes an off-chain candidate. Linked candidates and candidates
// holding votes are never deleted.
func (s *Service) Delete(ctx context.Context, candidateID id.CandidateID) error {
	candidate, err := s.get(ctx, candidateID)
	if err != nil {
		return err
	}
	if !candidate.Deletable() {
		return domainerrors.New(domainerrors.CodeConflict,
			"candidate is on the ledger or holds votes and cannot be deleted")
	}
	if err := s.store.DeleteCandidate(ctx, candidateID); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "delete candidate")
	}

	err = s.store.AdjustElectionCounters(ctx, candidate.ElectionID, 0, -1)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "update election counters")
	}
	return nil
}

// Get returns one candidate.
func (s *Service) Get(ctx context.Context, candidateID id.CandidateID) (domain.Candidate, error) {
	return s.get(ctx, candidateID)
}

// List returns all candidates in the active election.
func (s *Service) List(ctx context.Context) ([]domain.Candidate, error) {
	election, err := s.activeElection(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list candidates")
	}
	return candidates, nil
}

// ListVerified returns only verified candidates, the set a ballot shows.
func (s *Service) ListVerified(ctx context.Context) ([]domain.Candidate, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	verified := make([]domain.Candidate, 0, len(all))
	for _, c := range all {
		if c.Verified {
			verified = append(verified, c)
		}
	}
	return verified, nil
}

func (s *Service) get(ctx context.Context, candidateID id.CandidateID) (domain.Candidate, error) {
	candidate, err := s.store.FindCandidate(ctx, candidateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Candidate{}, domainerrors.New(domainerrors.CodeNotFound, "candidate not found")
	}
	if err != nil {
		return domain.Candidate{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load candidate")
	}
	return candidate, nil
}

func (s *Service) activeElection(ctx context.Context) (domain.Election, error) {
	election, err := s.store.FindActiveElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodeNotFound, "no active election")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load active election")
	}
	return election, nil
}

// registrantHasWallet reports whether the registering account can hold a
// ledger identity; without a wallet the candidate stays off-chain only.
func (s *Service) registrantHasWallet(ctx context.Context, candidate domain.Candidate) bool {
	if candidate.RegisteredBy.IsZero() {
		return false
	}
	account, err := s.store.FindAccount(ctx, candidate.RegisteredBy)
	if err != nil {
		return false
	}
	return account.HasWallet()
}

func (s *Service) ledgerDiscrepancy(ctx context.Context, msg string, candidate domain.Candidate, err error) {
	if s.metrics != nil {
		s.metrics.Inconsistencies.Inc()
	}
	s.logger.ErrorContext(ctx, msg,
		"candidateId", candidate.ID.String(),
		"name", candidate.Name,
		"error", err)
}
