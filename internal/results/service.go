// Package results joins the ledger's authoritative tally with off-chain
// candidate metadata and serves the admin dashboard counts. Everything here
// is read-only.
package results

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ballotgate/internal/domain"
	"ballotgate/internal/ledger"
	"ballotgate/internal/platform/metrics"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/sentinel"
)

// Entry is one row of the published results. Ledger votes are authoritative;
// off-chain metadata decorates them when a matching candidate exists.
type Entry struct {
	LedgerID   int64
	Name       string
	Party      string
	Votes      int64
	Percentage float64
	Verified   bool
	// OnLedger is false for candidates known only off-chain; their votes
	// are zero and excluded from the total.
	OnLedger bool

	// Off-chain decoration, zero-valued for ledger-only entries.
	CandidateID id.CandidateID
	Manifesto   string
	Photo       string
	Biography   string
}

// Summary is the full results payload.
type Summary struct {
	Election   *domain.Election
	TotalVotes int64
	Entries    []Entry
	// Declared mirrors the admin's declared winner when one exists.
	Declared *domain.DeclaredResult
}

// Service aggregates results and dashboard counts.
type Service struct {
	store   storage.Store
	ledger  ledger.Client
	cache   TallyCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCache(cache TallyCache) Option {
	return func(s *Service) { s.cache = cache }
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
	if s.cache == nil {
		s.cache = NewLocalCache(15 * time.Second)
	}
	return s
}

// tally returns the ledger tally, cached. Concurrent refreshes collapse into
// a single ledger call.
func (s *Service) tally(ctx context.Context) ([]ledger.TallyEntry, error) {
	if entries, ok := s.cache.Get(ctx); ok {
		if s.metrics != nil {
			s.metrics.TallyCacheHits.Inc()
		}
		return entries, nil
	}
	if s.metrics != nil {
		s.metrics.TallyCacheMisses.Inc()
	}

	v, err, _ := s.group.Do(tallyKey, func() (any, error) {
		start := s.now()
		entries, err := s.ledger.Tally(ctx)
		if s.metrics != nil {
			s.metrics.ObserveLedgerCall("getTally", start, err)
		}
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, entries)
		return entries, nil
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeLedgerUnavailable, "read ledger tally")
	}
	return v.([]ledger.TallyEntry), nil
}

// Results builds the published tally. The ledger tally and the off-chain
// candidate set are fetched concurrently and joined by ledger id.
func (s *Service) Results(ctx context.Context) (Summary, error) {
	election, err := s.store.FindLatestElection(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Summary{}, domainerrors.New(domainerrors.CodeNotFound, "no election exists")
	}
	if err != nil {
		return Summary{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load election")
	}

	var (
		entries    []ledger.TallyEntry
		candidates []domain.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.tally(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		candidates, err = s.store.ListCandidates(gctx, election.ID)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "list candidates")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	byLedgerID := make(map[int64]domain.Candidate, len(candidates))
	for _, c := range candidates {
		if c.Linked() {
			byLedgerID[*c.LedgerID] = c
		}
	}

	var total int64
	for _, e := range entries {
		total += e.VoteCount
	}

	rows := make([]Entry, 0, len(entries)+len(candidates))
	for _, e := range entries {
		row := Entry{
			LedgerID:   e.LedgerID,
			Name:       e.Name,
			Party:      e.Party,
			Votes:      e.VoteCount,
			Percentage: percentage(e.VoteCount, total),
			Verified:   e.Verified,
			OnLedger:   true,
		}
		if c, ok := byLedgerID[e.LedgerID]; ok {
			row.CandidateID = c.ID
			row.Manifesto = c.Manifesto
			row.Photo = c.Photo
			row.Biography = c.Biography
			// Prefer the off-chain spelling; the two should agree, and when
			// they do not the richer record wins the display.
			row.Name = c.Name
			row.Party = c.Party
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Votes != rows[j].Votes {
			return rows[i].Votes > rows[j].Votes
		}
		return rows[i].LedgerID < rows[j].LedgerID
	})

	// Off-chain candidates the ledger does not know yet: appended after the
	// ranked entries, never counted.
	onLedger := make(map[int64]bool, len(entries))
	for _, e := range entries {
		onLedger[e.LedgerID] = true
	}
	for _, c := range candidates {
		if c.Linked() && onLedger[*c.LedgerID] {
			continue
		}
		rows = append(rows, Entry{
			Name:        c.Name,
			Party:       c.Party,
			Verified:    c.Verified,
			CandidateID: c.ID,
			Manifesto:   c.Manifesto,
			Photo:       c.Photo,
			Biography:   c.Biography,
		})
	}

	summary := Summary{
		Election:   &election,
		TotalVotes: total,
		Entries:    rows,
		Declared:   election.Result,
	}
	return summary, nil
}

func percentage(votes, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(votes)/float64(total)*100*100) / 100
}

// Dashboard is the admin overview.
type Dashboard struct {
	Accounts             int
	Voters               int
	VerifiedVoters       int
	PendingVerifications int
	Candidates           int
	VotesCast            int64
	Election             *domain.Election
}

// DashboardCounts assembles the admin dashboard in one pass over the store.
func (s *Service) DashboardCounts(ctx context.Context) (Dashboard, error) {
	var out Dashboard

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return Dashboard{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list accounts")
	}
	out.Accounts = len(accounts)

	voters, err := s.store.ListVoters(ctx)
	if err != nil {
		return Dashboard{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list voters")
	}
	out.Voters = len(voters)
	for _, v := range voters {
		if v.Verified {
			out.VerifiedVoters++
		}
	}

	pending, err := s.store.ListPendingIdentities(ctx)
	if err != nil {
		return Dashboard{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list pending identities")
	}
	out.PendingVerifications = len(pending)

	election, err := s.store.FindLatestElection(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return out, nil
	case err != nil:
		return Dashboard{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "load election")
	}
	out.Election = &election
	out.VotesCast = election.TotalVotesCast

	candidates, err := s.store.ListCandidates(ctx, election.ID)
	if err != nil {
		return Dashboard{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "list candidates")
	}
	out.Candidates = len(candidates)
	return out, nil
}
