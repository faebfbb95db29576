// Package voting implements the vote side of the reconciliation protocol:
// the eligibility gate, the application of confirmed ledger transactions to
// the off-chain store, and vote verification.
package voting

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ballotgate/internal/domain"
	"ballotgate/internal/platform/metrics"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
	"ballotgate/pkg/sentinel"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// voterShards bounds lock contention: reconciliations for different voters
// proceed in parallel, two for the same voter serialize on the same shard.
const voterShards = 128

// Service applies confirmed ledger votes to the off-chain store.
type Service struct {
	store   storage.Store
	gate    gate
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	shards [voterShards]sync.Mutex
}

// Option configures the service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		gate:   gate{store: store},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) shardFor(voterID id.VoterID) *sync.Mutex {
	return &s.shards[fnv32(voterID.String())%voterShards]
}

func fnv32(v string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(v); i++ {
		h ^= uint32(v[i])
		h *= fnvPrime
	}
	return h
}

// ReconcileRequest is the confirmed-transaction proof submitted after the
// voter's ledger vote mined.
type ReconcileRequest struct {
	AccountID   id.AccountID
	CandidateID id.CandidateID
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

func (r ReconcileRequest) validate() error {
	if r.AccountID.IsZero() {
		return domainerrors.New(domainerrors.CodeInvalidInput, "account id is required")
	}
	if r.CandidateID.IsZero() {
		return domainerrors.New(domainerrors.CodeInvalidInput, "candidate id is required")
	}
	if !txHashPattern.MatchString(r.TxHash) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "transaction hash must be 0x-prefixed 32-byte hex")
	}
	return nil
}

// Reconcile records one confirmed ledger vote off-chain. The write is
// atomic: vote record, voter flip, candidate counter and election counter
// commit together or not at all, and the transaction hash is the global
// dedup key, so replays of the same proof fail cleanly.
//
// The gate runs under the voter's shard lock against a fresh read; the store
// constraints are the final arbiter, so a race that slips past the gate
// still cannot double-apply.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (domain.VoteRecord, error) {
	if err := req.validate(); err != nil {
		return domain.VoteRecord{}, err
	}

	account, err := s.store.FindAccount(ctx, req.AccountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return domain.VoteRecord{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load account")
	}

	election, err := s.activeElection(ctx)
	if err != nil {
		return domain.VoteRecord{}, err
	}

	candidate, err := s.store.FindCandidate(ctx, req.CandidateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeNotFound, "candidate not found")
	}
	if err != nil {
		return domain.VoteRecord{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load candidate")
	}
	if !candidate.Linked() {
		return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeCandidateNotOnLedger,
			"candidate is not registered on the ledger")
	}

	// The hash lookup runs before the gate: a client replaying its own
	// confirmed proof must hear duplicate_transaction, not already_voted.
	if err := s.checkReplay(ctx, req.TxHash); err != nil {
		return domain.VoteRecord{}, err
	}

	// Quick pre-check outside the lock so obviously ineligible requests do
	// not contend.
	verdict, err := s.gate.check(ctx, account, election, s.now())
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if !verdict.Eligible {
		return domain.VoteRecord{}, s.rejectVerdict(ctx, verdict, req)
	}

	mu := s.shardFor(verdict.Voter.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the lock, hash first, then the gate; a concurrent
	// reconcile may have landed between the pre-check and here.
	if err := s.checkReplay(ctx, req.TxHash); err != nil {
		return domain.VoteRecord{}, err
	}
	verdict, err = s.gate.check(ctx, account, election, s.now())
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if !verdict.Eligible {
		return domain.VoteRecord{}, s.rejectVerdict(ctx, verdict, req)
	}
	voter := *verdict.Voter

	record := domain.VoteRecord{
		ID:                id.NewVoteID(),
		VoterID:           voter.ID,
		CandidateID:       candidate.ID,
		LedgerCandidateID: *candidate.LedgerID,
		ElectionID:        election.ID,
		WalletAddress:     voter.WalletAddress,
		TxHash:            req.TxHash,
		BlockNumber:       req.BlockNumber,
		GasUsed:           req.GasUsed,
		CastAt:            s.now(),
		Verified:          true,
		Status:            domain.VoteStatusSuccess,
	}

	if err := s.applyWithRetry(ctx, record); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateTransaction):
			s.reject("duplicate_transaction")
			return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeDuplicateTransaction,
				"transaction hash already recorded")
		case errors.Is(err, storage.ErrAlreadyVoted):
			s.reject(CauseAlreadyVoted)
			return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeAlreadyVoted,
				"vote already recorded for this voter")
		default:
			s.inconsistency(ctx, "apply vote failed after confirmed ledger transaction",
				"txHash", req.TxHash, "error", err)
			return domain.VoteRecord{}, domainerrors.Wrap(err, domainerrors.CodeInconsistency,
				"confirmed ledger vote could not be applied off-chain")
		}
	}

	if s.metrics != nil {
		s.metrics.VotesReconciled.Inc()
	}
	s.logger.InfoContext(ctx, "vote reconciled",
		"requestId", requestcontext.RequestID(ctx),
		"voterId", voter.ID.String(),
		"candidateId", candidate.ID.String(),
		"txHash", req.TxHash,
		"blockNumber", req.BlockNumber)
	return record, nil
}

// checkReplay rejects a transaction hash that is already on file. The
// store constraint remains the final arbiter; this check only fixes the
// reported cause for replays.
func (s *Service) checkReplay(ctx context.Context, txHash string) error {
	_, err := s.store.FindVoteByTxHash(ctx, txHash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "check transaction hash")
	}
	s.reject("duplicate_transaction")
	return domainerrors.New(domainerrors.CodeDuplicateTransaction,
		"transaction hash already recorded")
}

// applyWithRetry retries the atomic write on transient store failures.
// Conflict errors are permanent: a duplicate transaction will stay a
// duplicate no matter how often it is retried.
func (s *Service) applyWithRetry(ctx context.Context, record domain.VoteRecord) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := s.store.ApplyVote(ctx, record)
		if err == nil {
			return nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// rejectVerdict turns an ineligible verdict into its coded error, counting
// the rejection and flagging the stale-transaction case: an already-voted
// voter presenting a proof with a different hash than the one on file means
// a ledger transaction exists that the off-chain store will never reflect.
func (s *Service) rejectVerdict(ctx context.Context, verdict Eligibility, req ReconcileRequest) error {
	s.reject(verdict.Cause)
	if verdict.Cause == CauseAlreadyVoted && verdict.Voter != nil &&
		verdict.Voter.VoteTxHash != "" && verdict.Voter.VoteTxHash != req.TxHash {
		s.inconsistency(ctx, "confirmed ledger transaction for voter who already voted",
			"voterId", verdict.Voter.ID.String(),
			"recordedTxHash", verdict.Voter.VoteTxHash,
			"submittedTxHash", req.TxHash)
	}
	return verdict.errorFor()
}

func (s *Service) reject(cause RejectionCause) {
	if s.metrics != nil && cause != "" {
		s.metrics.IncrementVoteRejected(string(cause))
	}
}

func (s *Service) inconsistency(ctx context.Context, msg string, args ...any) {
	if s.metrics != nil {
		s.metrics.Inconsistencies.Inc()
	}
	s.logger.ErrorContext(ctx, msg, args...)
}

func (s *Service) activeElection(ctx context.Context) (domain.Election, error) {
	election, err := s.store.FindActiveElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Election{}, domainerrors.New(domainerrors.CodePhaseClosed, "no active election")
	}
	if err != nil {
		return domain.Election{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load active election")
	}
	return election, nil
}

// VerifyVote looks up the vote recorded for a ledger transaction hash.
func (s *Service) VerifyVote(ctx context.Context, txHash string) (domain.VoteRecord, error) {
	if !txHashPattern.MatchString(txHash) {
		return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeInvalidInput,
			"transaction hash must be 0x-prefixed 32-byte hex")
	}
	record, err := s.store.FindVoteByTxHash(ctx, txHash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.VoteRecord{}, domainerrors.New(domainerrors.CodeNotFound,
			"no vote recorded for transaction")
	}
	if err != nil {
		return domain.VoteRecord{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "find vote")
	}
	return record, nil
}

// History returns the account's vote in the active election, if any.
func (s *Service) History(ctx context.Context, accountID id.AccountID) (*domain.VoteRecord, error) {
	voter, err := s.store.FindVoterByAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load voter profile")
	}
	election, err := s.store.FindActiveElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load active election")
	}
	record, err := s.store.FindVoteByVoter(ctx, voter.ID, election.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "find vote")
	}
	return &record, nil
}
