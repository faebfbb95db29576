// Package memory is the in-memory storage implementation used by unit tests
// and local development. A single lock guards all maps; the unique indexes
// mirror the constraints the PostgreSQL schema enforces so the two
// implementations reject the same writes.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ballotgate/internal/domain"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/sentinel"
)

type voterElectionKey struct {
	voter    id.VoterID
	election id.ElectionID
}

// Store is the in-memory database.
type Store struct {
	mu sync.RWMutex

	accounts   map[id.AccountID]domain.Account
	identities map[id.AccountID]domain.IdentityRecord
	voters     map[id.VoterID]domain.VoterProfile
	candidates map[id.CandidateID]domain.Candidate
	elections  map[id.ElectionID]domain.Election
	votes      map[id.VoteID]domain.VoteRecord

	// Unique indexes, matching the PostgreSQL constraints.
	accountByUsername map[string]id.AccountID
	accountByEmail    map[string]id.AccountID
	voterByAccount    map[id.AccountID]id.VoterID
	voteByTxHash      map[string]id.VoteID
	voteByVoter       map[voterElectionKey]id.VoteID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:          make(map[id.AccountID]domain.Account),
		identities:        make(map[id.AccountID]domain.IdentityRecord),
		voters:            make(map[id.VoterID]domain.VoterProfile),
		candidates:        make(map[id.CandidateID]domain.Candidate),
		elections:         make(map[id.ElectionID]domain.Election),
		votes:             make(map[id.VoteID]domain.VoteRecord),
		accountByUsername: make(map[string]id.AccountID),
		accountByEmail:    make(map[string]id.AccountID),
		voterByAccount:    make(map[id.AccountID]id.VoterID),
		voteByTxHash:      make(map[string]id.VoteID),
		voteByVoter:       make(map[voterElectionKey]id.VoteID),
	}
}

var _ storage.Store = (*Store)(nil)

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *Store) SaveAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.accountByUsername[account.Username]; ok && owner != account.ID {
		return sentinel.ErrConflict
	}
	if owner, ok := s.accountByEmail[account.Email]; ok && owner != account.ID {
		return sentinel.ErrConflict
	}
	// Updates may change username or email; drop the old index entries.
	if existing, ok := s.accounts[account.ID]; ok {
		delete(s.accountByUsername, existing.Username)
		delete(s.accountByEmail, existing.Email)
	}
	s.accounts[account.ID] = account
	s.accountByUsername[account.Username] = account.ID
	s.accountByEmail[account.Email] = account.ID
	return nil
}

func (s *Store) FindAccount(_ context.Context, accountID id.AccountID) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, sentinel.ErrNotFound
	}
	return account, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Identity records
// ---------------------------------------------------------------------------

func (s *Store) SaveIdentity(_ context.Context, record domain.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, existing := range s.identities {
		if existing.NationalID == record.NationalID && owner != record.AccountID {
			return sentinel.ErrConflict
		}
	}
	s.identities[record.AccountID] = record
	return nil
}

func (s *Store) FindIdentity(_ context.Context, accountID id.AccountID) (domain.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.identities[accountID]
	if !ok {
		return domain.IdentityRecord{}, sentinel.ErrNotFound
	}
	return record, nil
}

func (s *Store) FindIdentityByNationalID(_ context.Context, nationalID string) (domain.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.identities {
		if record.NationalID == nationalID {
			return record, nil
		}
	}
	return domain.IdentityRecord{}, sentinel.ErrNotFound
}

func (s *Store) ListPendingIdentities(_ context.Context) ([]domain.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IdentityRecord
	for _, record := range s.identities {
		if !record.Verified {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Voter profiles
// ---------------------------------------------------------------------------

func (s *Store) SaveVoter(_ context.Context, profile domain.VoterProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.voterByAccount[profile.AccountID]; ok && existing != profile.ID {
		return sentinel.ErrConflict
	}
	s.voters[profile.ID] = profile
	s.voterByAccount[profile.AccountID] = profile.ID
	return nil
}

func (s *Store) FindVoter(_ context.Context, voterID id.VoterID) (domain.VoterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.voters[voterID]
	if !ok {
		return domain.VoterProfile{}, sentinel.ErrNotFound
	}
	return profile, nil
}

func (s *Store) FindVoterByAccount(_ context.Context, accountID id.AccountID) (domain.VoterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voterID, ok := s.voterByAccount[accountID]
	if !ok {
		return domain.VoterProfile{}, sentinel.ErrNotFound
	}
	return s.voters[voterID], nil
}

func (s *Store) MarkVoterVerified(_ context.Context, voterID id.VoterID, verifiedBy id.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	voter, ok := s.voters[voterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	verifiedAt := at
	voter.Verified = true
	voter.VerifiedBy = verifiedBy
	voter.VerifiedAt = &verifiedAt
	s.voters[voterID] = voter
	return nil
}

func (s *Store) ListVoters(_ context.Context) ([]domain.VoterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VoterProfile, 0, len(s.voters))
	for _, v := range s.voters {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

func (s *Store) SaveCandidate(_ context.Context, candidate domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.candidates {
		if existing.ID == candidate.ID {
			continue
		}
		if candidate.LedgerID != nil && existing.LedgerID != nil && *existing.LedgerID == *candidate.LedgerID {
			return sentinel.ErrConflict
		}
	}
	s.candidates[candidate.ID] = candidate
	return nil
}

func (s *Store) FindCandidate(_ context.Context, candidateID id.CandidateID) (domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidate, ok := s.candidates[candidateID]
	if !ok {
		return domain.Candidate{}, sentinel.ErrNotFound
	}
	return candidate, nil
}

func (s *Store) FindCandidateByLedgerID(_ context.Context, ledgerID int64) (domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, candidate := range s.candidates {
		if candidate.LedgerID != nil && *candidate.LedgerID == ledgerID {
			return candidate, nil
		}
	}
	return domain.Candidate{}, sentinel.ErrNotFound
}

func (s *Store) FindCandidateByNameParty(_ context.Context, electionID id.ElectionID, name, party string) (domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, candidate := range s.candidates {
		if candidate.ElectionID == electionID &&
			strings.EqualFold(candidate.Name, name) &&
			strings.EqualFold(candidate.Party, party) {
			return candidate, nil
		}
	}
	return domain.Candidate{}, sentinel.ErrNotFound
}

func (s *Store) FindCandidateByRegistrant(_ context.Context, accountID id.AccountID) (domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, candidate := range s.candidates {
		if candidate.RegisteredBy == accountID {
			return candidate, nil
		}
	}
	return domain.Candidate{}, sentinel.ErrNotFound
}

func (s *Store) ListCandidates(_ context.Context, electionID id.ElectionID) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Candidate
	for _, candidate := range s.candidates {
		if candidate.ElectionID == electionID {
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteCandidate(_ context.Context, candidateID id.CandidateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[candidateID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.candidates, candidateID)
	return nil
}

// ---------------------------------------------------------------------------
// Elections
// ---------------------------------------------------------------------------

func (s *Store) SaveElection(_ context.Context, election domain.Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if election.Active {
		for _, existing := range s.elections {
			if existing.Active && existing.ID != election.ID {
				return storage.ErrActiveElection
			}
		}
	}
	s.elections[election.ID] = cloneElection(election)
	return nil
}

func (s *Store) RecordPhaseTransition(_ context.Context, electionID id.ElectionID, phase domain.Phase, active bool, log []domain.PhaseTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	election, ok := s.elections[electionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	election.Phase = phase
	election.Active = active
	election.TransitionLog = append([]domain.PhaseTransition(nil), log...)
	s.elections[electionID] = election
	return nil
}

func (s *Store) RecordDeclaredResult(_ context.Context, electionID id.ElectionID, result domain.DeclaredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	election, ok := s.elections[electionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	election.Result = &result
	s.elections[electionID] = election
	return nil
}

func (s *Store) AdjustElectionCounters(_ context.Context, electionID id.ElectionID, voterDelta, candidateDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	election, ok := s.elections[electionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	election.TotalVoters = max(election.TotalVoters+voterDelta, 0)
	election.TotalCandidates = max(election.TotalCandidates+candidateDelta, 0)
	s.elections[electionID] = election
	return nil
}

func (s *Store) FindElection(_ context.Context, electionID id.ElectionID) (domain.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	election, ok := s.elections[electionID]
	if !ok {
		return domain.Election{}, sentinel.ErrNotFound
	}
	return cloneElection(election), nil
}

func (s *Store) FindActiveElection(_ context.Context) (domain.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, election := range s.elections {
		if election.Active {
			return cloneElection(election), nil
		}
	}
	return domain.Election{}, sentinel.ErrNotFound
}

func (s *Store) FindLatestElection(_ context.Context) (domain.Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.Election
		found  bool
	)
	for _, election := range s.elections {
		if !found || election.CreatedAt.After(latest.CreatedAt) {
			latest = election
			found = true
		}
	}
	if !found {
		return domain.Election{}, sentinel.ErrNotFound
	}
	return cloneElection(latest), nil
}

// cloneElection deep-copies the transition log so callers can't mutate
// stored state through the returned slice.
func cloneElection(e domain.Election) domain.Election {
	out := e
	out.TransitionLog = append([]domain.PhaseTransition(nil), e.TransitionLog...)
	if e.Result != nil {
		result := *e.Result
		out.Result = &result
	}
	return out
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

func (s *Store) FindVoteByTxHash(_ context.Context, txHash string) (domain.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voteID, ok := s.voteByTxHash[txHash]
	if !ok {
		return domain.VoteRecord{}, sentinel.ErrNotFound
	}
	return s.votes[voteID], nil
}

func (s *Store) FindVoteByVoter(_ context.Context, voterID id.VoterID, electionID id.ElectionID) (domain.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voteID, ok := s.voteByVoter[voterElectionKey{voter: voterID, election: electionID}]
	if !ok {
		return domain.VoteRecord{}, sentinel.ErrNotFound
	}
	return s.votes[voteID], nil
}

func (s *Store) CountVotes(_ context.Context, electionID id.ElectionID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, vote := range s.votes {
		if vote.ElectionID == electionID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Atomic writes
// ---------------------------------------------------------------------------

// ApplyVote performs the four-record reconciliation write under the store
// lock, mirroring the single-transaction PostgreSQL path. The unique index
// checks run first so a rejected write leaves every record untouched.
func (s *Store) ApplyVote(_ context.Context, vote domain.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.voteByTxHash[vote.TxHash]; dup {
		return storage.ErrDuplicateTransaction
	}
	key := voterElectionKey{voter: vote.VoterID, election: vote.ElectionID}
	if _, dup := s.voteByVoter[key]; dup {
		return storage.ErrAlreadyVoted
	}
	voter, ok := s.voters[vote.VoterID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if voter.HasVoted {
		return storage.ErrAlreadyVoted
	}
	candidate, ok := s.candidates[vote.CandidateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	election, ok := s.elections[vote.ElectionID]
	if !ok {
		return sentinel.ErrNotFound
	}

	s.votes[vote.ID] = vote
	s.voteByTxHash[vote.TxHash] = vote.ID
	s.voteByVoter[key] = vote.ID

	castAt := vote.CastAt
	voter.HasVoted = true
	voter.VotedAt = &castAt
	voter.VotedCandidate = vote.CandidateID
	voter.VoteTxHash = vote.TxHash
	s.voters[voter.ID] = voter

	candidate.VoteCount++
	s.candidates[candidate.ID] = candidate

	election.TotalVotesCast++
	s.elections[election.ID] = election
	return nil
}

// ResetElection wipes the election's votes and voting state in one step.
func (s *Store) ResetElection(_ context.Context, electionID id.ElectionID, actor id.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	election, ok := s.elections[electionID]
	if !ok {
		return sentinel.ErrNotFound
	}

	for voteID, vote := range s.votes {
		if vote.ElectionID != electionID {
			continue
		}
		delete(s.votes, voteID)
		delete(s.voteByTxHash, vote.TxHash)
		delete(s.voteByVoter, voterElectionKey{voter: vote.VoterID, election: electionID})
	}
	for voterID, voter := range s.voters {
		if voter.ElectionID != electionID {
			continue
		}
		voter.HasVoted = false
		voter.VotedAt = nil
		voter.VotedCandidate = id.CandidateID{}
		voter.VoteTxHash = ""
		s.voters[voterID] = voter
	}
	for candidateID, candidate := range s.candidates {
		if candidate.ElectionID == electionID {
			candidate.VoteCount = 0
			s.candidates[candidateID] = candidate
		}
	}

	previous := election.Phase
	election.Phase = domain.PhaseRegistration
	election.TotalVotesCast = 0
	election.Active = true
	election.Result = nil
	election.TransitionLog = append(election.TransitionLog, domain.PhaseTransition{
		Previous: previous,
		Next:     domain.PhaseRegistration,
		Actor:    actor,
		At:       at,
	})
	s.elections[electionID] = election
	return nil
}
