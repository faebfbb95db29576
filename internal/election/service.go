// Package election owns the election record and its phase state machine.
package election

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ballotgate/internal/domain"
	"ballotgate/internal/ledger"
	"ballotgate/internal/platform/metrics"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
	"ballotgate/pkg/sentinel"
)

// ResetConfirmToken must be submitted verbatim with a reset request. The
// reset wipes every vote in the election; the token keeps it from being
// reachable by a stray generic admin call.
const ResetConfirmToken = "RESET_ALL_VOTES"

// Service manages the single active election and serializes phase changes.
type Service struct {
	store   storage.Store
	ledger  ledger.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// transitions and resets serialize here; phase changes are rare and a
	// single lock keeps the forward-only check race-free.
	mu sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLedger enables phase reconciliation against the on-chain phase.
func WithLedger(client ledger.Client) Option {
	return func(s *Service) { s.ledger = client }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requireManager loads the actor and checks the election-management
// capability.
func (s *Service) requireManager(ctx context.Context, actor id.AccountID) (domain.Account, error) {
	account, err := s.store.FindAccount(ctx, actor)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Account{}, domainerrors.New(domainerrors.CodeUnauthorized, "unknown actor")
	}
	if err != nil {
		return domain.Account{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load actor")
	}
	if !account.Role.Can(id.CapManageElection) {
		return domain.Account{}, domainerrors.New(domainerrors.CodeForbidden,
			"election management requires the admin role")
	}
	return account, nil
}

// CreateParams describes a new election.
type CreateParams struct {
	Name              string
	Description       string
	RegistrationStart time.Time
	RegistrationEnd   time.Time
	VotingStart       time.Time
	VotingEnd         time.Time
	ContractAddress   string
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "election name is required")
	}
	if !p.RegistrationStart.Before(p.RegistrationEnd) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "registration window is empty")
	}
	if !p.VotingStart.Before(p.VotingEnd) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "voting window is empty")
	}
	if p.VotingStart.Before(p.RegistrationEnd) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "voting must not start before registration ends")
	}
	return nil
}

// Create opens a new election in the Registration phase. At most one
// election is active; creating a second fails with a conflict.
func (s *Service) Create(ctx context.Context, params CreateParams, actor id.AccountID) (domain.Election, error) {
	if _, err := s.requireManager(ctx, actor); err != nil {
		return domain.Election{}, err
	}
	if err := params.validate(); err != nil {
		return domain.Election{}, err
	}
	election := domain.Election{
		ID:                id.NewElectionID(),
		Name:              strings.TrimSpace(params.Name),
		Description:       params.Description,
		Phase:             domain.PhaseRegistration,
		RegistrationStart: params.RegistrationStart,
		RegistrationEnd:   params.RegistrationEnd,
		VotingStart:       params.VotingStart,
		VotingEnd:         params.VotingEnd,
		Active:            true,
		ContractAddress:   params.ContractAddress,
		CreatedAt:         s.now(),
	}
	if err := s.store.SaveElection(ctx, election); err != nil {
		if errors.Is(err, storage.ErrActiveElection) {
			return domain.Election{}, domainerrors.New(domainerrors.CodeConflict,
				"an election is already active")
		}
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save election")
	}
	s.logger.InfoContext(ctx, "election created",
		"electionId", election.ID.String(), "name", election.Name)
	return election, nil
}

// Transition advances the active election to the given phase. Transitions
// are strictly forward: Registration to Voting to Ended. Backward moves,
// skips, and same-state transitions are conflicts, never silent no-ops.
// ledgerTxHash optionally records the proof of the matching on-chain
// transition in the log entry.
func (s *Service) Transition(ctx context.Context, target domain.Phase, actor id.AccountID, ledgerTxHash string) (domain.Election, error) {
	if _, err := s.requireManager(ctx, actor); err != nil {
		return domain.Election{}, err
	}
	if !target.Valid() {
		return domain.Election{}, domainerrors.Newf(domainerrors.CodeInvalidInput,
			"unknown phase %q", string(target))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	election, err := s.active(ctx)
	if err != nil {
		return domain.Election{}, err
	}
	if !election.Phase.CanTransitionTo(target) {
		return domain.Election{}, domainerrors.Newf(domainerrors.CodeInvalidTransition,
			"cannot transition from %s to %s", election.Phase, target)
	}

	entry := domain.PhaseTransition{
		Previous: election.Phase,
		Next:     target,
		Actor:    actor,
		At:       s.now(),
		TxHash:   ledgerTxHash,
	}
	election.Phase = target
	election.TransitionLog = append(election.TransitionLog, entry)
	if target == domain.PhaseEnded {
		election.Active = false
	}
	// Targeted write: a whole-row save here would carry the counters read
	// above and erase votes reconciled since.
	err = s.store.RecordPhaseTransition(ctx, election.ID, election.Phase, election.Active, election.TransitionLog)
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save election")
	}

	if s.metrics != nil {
		s.metrics.PhaseTransitions.WithLabelValues(string(target)).Inc()
	}
	s.logger.InfoContext(ctx, "election phase changed",
		"requestId", requestcontext.RequestID(ctx),
		"electionId", election.ID.String(),
		"from", string(entry.Previous),
		"to", string(entry.Next),
		"actor", actor.String())
	return election, nil
}

// Reset wipes all votes in the election and returns it to Registration.
// The caller must supply the exact confirmation token.
func (s *Service) Reset(ctx context.Context, electionID id.ElectionID, actor id.AccountID, confirmToken string) error {
	if _, err := s.requireManager(ctx, actor); err != nil {
		return err
	}
	if confirmToken != ResetConfirmToken {
		return domainerrors.New(domainerrors.CodeInvalidInput,
			"reset requires the confirmation token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ResetElection(ctx, electionID, actor, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.New(domainerrors.CodeNotFound, "election not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "reset election")
	}
	s.logger.WarnContext(ctx, "election reset: all votes wiped",
		"electionId", electionID.String(), "actor", actor.String())
	return nil
}

// CurrentPhase reports the off-chain phase, which is authoritative for all
// gating decisions.
func (s *Service) CurrentPhase(ctx context.Context) (domain.Phase, error) {
	election, err := s.active(ctx)
	if err != nil {
		return "", err
	}
	return election.Phase, nil
}

// Current returns the active election.
func (s *Service) Current(ctx context.Context) (domain.Election, error) {
	return s.active(ctx)
}

// Latest returns the most recent election, active or ended.
func (s *Service) Latest(ctx context.Context) (domain.Election, error) {
	election, err := s.store.FindLatestElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodeNotFound, "no election exists")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load latest election")
	}
	return election, nil
}

// PhaseReport pairs the authoritative off-chain phase with the
// ledger-reported one.
type PhaseReport struct {
	OffChain domain.Phase
	Ledger   ledger.Phase
	Mismatch bool
}

// ReconcilePhase compares the off-chain phase with the ledger's. A mismatch
// is logged and counted but never auto-corrected: the off-chain record stays
// authoritative and an operator decides what drifted.
func (s *Service) ReconcilePhase(ctx context.Context) (PhaseReport, error) {
	election, err := s.active(ctx)
	if err != nil {
		return PhaseReport{}, err
	}
	report := PhaseReport{OffChain: election.Phase}
	if s.ledger == nil {
		return report, nil
	}

	start := s.now()
	ledgerPhase, err := s.ledger.Phase(ctx)
	if s.metrics != nil {
		s.metrics.ObserveLedgerCall("getPhase", start, err)
	}
	if err != nil {
		return PhaseReport{}, domainerrors.Wrap(err, domainerrors.CodeLedgerUnavailable,
			"read ledger phase")
	}
	report.Ledger = ledgerPhase
	if string(ledgerPhase) != string(election.Phase) {
		report.Mismatch = true
		if s.metrics != nil {
			s.metrics.PhaseMismatches.Inc()
		}
		s.logger.ErrorContext(ctx, "phase mismatch between off-chain record and ledger",
			"electionId", election.ID.String(),
			"offChain", string(election.Phase),
			"ledger", string(ledgerPhase))
	}
	return report, nil
}

// DeclareResult records the winner. Results are declared once, only after
// the election has ended, and only for a candidate of that election.
func (s *Service) DeclareResult(ctx context.Context, electionID id.ElectionID, winner id.CandidateID, actor id.AccountID) (domain.Election, error) {
	if _, err := s.requireManager(ctx, actor); err != nil {
		return domain.Election{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	election, err := s.store.FindElection(ctx, electionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodeNotFound, "election not found")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load election")
	}
	if election.Phase != domain.PhaseEnded {
		return domain.Election{}, domainerrors.New(domainerrors.CodePhaseClosed,
			"results can only be declared after the election has ended")
	}
	if election.Result != nil {
		return domain.Election{}, domainerrors.New(domainerrors.CodeConflict,
			"a result has already been declared")
	}

	candidate, err := s.store.FindCandidate(ctx, winner)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodeNotFound, "winner candidate not found")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load candidate")
	}
	if candidate.ElectionID != election.ID {
		return domain.Election{}, domainerrors.New(domainerrors.CodeInvalidInput,
			"candidate does not belong to this election")
	}

	election.Result = &domain.DeclaredResult{
		Winner:     winner,
		DeclaredBy: actor,
		DeclaredAt: s.now(),
	}
	if err := s.store.RecordDeclaredResult(ctx, election.ID, *election.Result); err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "save election")
	}
	s.logger.InfoContext(ctx, "election result declared",
		"electionId", election.ID.String(),
		"winner", winner.String(),
		"actor", actor.String())
	return election, nil
}

func (s *Service) active(ctx context.Context) (domain.Election, error) {
	election, err := s.store.FindActiveElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodeNotFound, "no active election")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load active election")
	}
	return election, nil
}
