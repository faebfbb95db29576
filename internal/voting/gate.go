package voting

import (
	"context"
	"errors"
	"time"

	"ballotgate/internal/domain"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/sentinel"
)

// RejectionCause labels why the eligibility gate refused a voter. Causes are
// stable strings: they feed the rejection metric and API responses.
type RejectionCause string

const (
	CauseMissingWallet RejectionCause = "missing_wallet"
	CauseNotRegistered RejectionCause = "not_registered"
	CauseNotVerified   RejectionCause = "not_verified"
	CauseAlreadyVoted  RejectionCause = "already_voted"
	CausePhaseClosed   RejectionCause = "phase_closed"
)

// Eligibility is the gate's verdict for one account.
type Eligibility struct {
	Eligible bool
	Cause    RejectionCause
	Reason   string
	// Voter is populated whenever a profile exists, eligible or not.
	Voter *domain.VoterProfile
}

// gate runs the ordered eligibility checks. The order is fixed: wallet
// binding, profile existence, registration, verification, prior vote, phase.
// The first failed check wins; later checks are not evaluated, so a voter
// with no wallet is reported as missing a wallet even when the election has
// also ended.
type gate struct {
	store storage.Store
}

func (g gate) check(ctx context.Context, account domain.Account, election domain.Election, now time.Time) (Eligibility, error) {
	if !account.HasWallet() {
		return Eligibility{Cause: CauseMissingWallet, Reason: "no wallet address bound to account"}, nil
	}

	voter, err := g.store.FindVoterByAccount(ctx, account.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Eligibility{Cause: CauseNotRegistered, Reason: "no voter profile for account"}, nil
	}
	if err != nil {
		return Eligibility{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load voter profile")
	}

	// Verification is a coupled write over the profile and the identity
	// record; the gate checks both rather than trusting the coupling.
	identityVerified := false
	record, err := g.store.FindIdentity(ctx, account.ID)
	if err == nil {
		identityVerified = record.Verified
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Eligibility{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load identity")
	}

	result := Eligibility{Voter: &voter}
	switch {
	case !voter.Registered:
		result.Cause = CauseNotRegistered
		result.Reason = "voter registration incomplete"
	case !voter.Verified || !identityVerified:
		result.Cause = CauseNotVerified
		result.Reason = "identity not verified"
	case voter.HasVoted:
		result.Cause = CauseAlreadyVoted
		result.Reason = "vote already recorded for this voter"
	case !election.VotingOpen(now):
		result.Cause = CausePhaseClosed
		result.Reason = "voting is not open"
	default:
		result.Eligible = true
	}
	return result, nil
}

// errorFor translates a rejection cause into the coded error the transport
// layer maps to a status.
func (e Eligibility) errorFor() error {
	switch e.Cause {
	case CauseMissingWallet:
		return domainerrors.New(domainerrors.CodeMissingWallet, e.Reason)
	case CauseNotRegistered:
		return domainerrors.New(domainerrors.CodeNotRegistered, e.Reason)
	case CauseNotVerified:
		return domainerrors.New(domainerrors.CodeNotVerified, e.Reason)
	case CauseAlreadyVoted:
		return domainerrors.New(domainerrors.CodeAlreadyVoted, e.Reason)
	case CausePhaseClosed:
		return domainerrors.New(domainerrors.CodePhaseClosed, e.Reason)
	}
	return nil
}

// CheckEligibility answers "can this account vote right now" without side
// effects. Handlers expose it so clients can disable the ballot before a
// doomed ledger transaction is submitted.
func (s *Service) CheckEligibility(ctx context.Context, accountID id.AccountID) (Eligibility, error) {
	account, err := s.store.FindAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Eligibility{}, domainerrors.New(domainerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return Eligibility{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load account")
	}
	election, err := s.activeElection(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	return s.gate.check(ctx, account, election, s.now())
}
