package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultCooldown         = 30 * time.Second
)

// Breaker wraps a Client with a circuit breaker so a dead RPC endpoint fails
// fast instead of stacking timeouts. Only transport failures count: contract
// reverts are answers, not outages, and never trip the circuit.
//
// Closed passes everything through. After failureThreshold consecutive
// transport failures the circuit opens and calls are rejected locally with a
// retryable error. After the cooldown one probe call is let through
// (half-open); successThreshold consecutive successes close the circuit
// again, any failure reopens it.
type Breaker struct {
	next   Client
	logger *slog.Logger

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	clock            func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

type BreakerOption func(*Breaker)

// WithFailureThreshold sets how many consecutive transport failures open the
// circuit.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets how many consecutive successes close a half-open
// circuit.
func WithSuccessThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.successThreshold = n }
}

// WithCooldown sets how long an open circuit rejects calls before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerLogger sets the logger for state-change events.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// WithBreakerClock overrides the time source for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.clock = now }
}

// NewBreaker wraps the given client.
func NewBreaker(next Client, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		next:             next,
		logger:           slog.Default(),
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		cooldown:         defaultCooldown,
		clock:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed. An open circuit transitions to
// half-open once the cooldown has elapsed, admitting a single probe.
func (b *Breaker) allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.clock().Sub(b.openedAt) < b.cooldown {
			return NewError(op, "circuit open", true, nil)
		}
		b.state = BreakerHalfOpen
		b.successes = 0
		b.logger.Info("ledger circuit half-open, probing", "op", op)
	}
	return nil
}

func (b *Breaker) record(op string, err error) {
	if err != nil && !isTransportFailure(err) {
		// A revert reached the contract, so the endpoint is alive.
		err = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.successes = 0
		b.failures++
		if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.failureThreshold) {
			b.state = BreakerOpen
			b.openedAt = b.clock()
			b.failures = 0
			b.logger.Warn("ledger circuit opened",
				"op", op,
				"cooldown", b.cooldown,
				"error", err.Error())
		}
		return
	}

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.successes = 0
			b.logger.Info("ledger circuit closed", "op", op)
		}
	}
}

// isTransportFailure reports whether the error indicates the endpoint itself
// failed rather than the contract rejecting the operation.
func isTransportFailure(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return true
}

func (b *Breaker) AddCandidate(ctx context.Context, name, party string) (CandidateResult, error) {
	const op = "addCandidate"
	if err := b.allow(op); err != nil {
		return CandidateResult{}, err
	}
	res, err := b.next.AddCandidate(ctx, name, party)
	b.record(op, err)
	return res, err
}

func (b *Breaker) VerifyCandidate(ctx context.Context, ledgerID int64) (TxResult, error) {
	const op = "verifyCandidate"
	if err := b.allow(op); err != nil {
		return TxResult{}, err
	}
	res, err := b.next.VerifyCandidate(ctx, ledgerID)
	b.record(op, err)
	return res, err
}

func (b *Breaker) RegisterVoter(ctx context.Context, wallet string) (TxResult, error) {
	const op = "registerVoter"
	if err := b.allow(op); err != nil {
		return TxResult{}, err
	}
	res, err := b.next.RegisterVoter(ctx, wallet)
	b.record(op, err)
	return res, err
}

func (b *Breaker) VerifyVoter(ctx context.Context, wallet string) (TxResult, error) {
	const op = "verifyVoter"
	if err := b.allow(op); err != nil {
		return TxResult{}, err
	}
	res, err := b.next.VerifyVoter(ctx, wallet)
	b.record(op, err)
	return res, err
}

func (b *Breaker) CastVote(ctx context.Context, ledgerID int64, wallet string) (TxResult, error) {
	const op = "castVote"
	if err := b.allow(op); err != nil {
		return TxResult{}, err
	}
	res, err := b.next.CastVote(ctx, ledgerID, wallet)
	b.record(op, err)
	return res, err
}

func (b *Breaker) Phase(ctx context.Context) (Phase, error) {
	const op = "getPhase"
	if err := b.allow(op); err != nil {
		return "", err
	}
	res, err := b.next.Phase(ctx)
	b.record(op, err)
	return res, err
}

func (b *Breaker) Tally(ctx context.Context) ([]TallyEntry, error) {
	const op = "getTally"
	if err := b.allow(op); err != nil {
		return nil, err
	}
	res, err := b.next.Tally(ctx)
	b.record(op, err)
	return res, err
}

func (b *Breaker) VoterStatus(ctx context.Context, wallet string) (VoterStatus, error) {
	const op = "getVoterStatus"
	if err := b.allow(op); err != nil {
		return VoterStatus{}, err
	}
	res, err := b.next.VoterStatus(ctx, wallet)
	b.record(op, err)
	return res, err
}

var _ Client = (*Breaker)(nil)
