package httptransport

import (
	"time"

	"ballotgate/internal/domain"
	"ballotgate/internal/election"
	"ballotgate/internal/results"
)

// View structs are the JSON shapes returned to callers. They exist so the
// wire format never drifts accidentally when a domain struct gains a field.

type accountView struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	Verified      bool       `json:"verified"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

func toAccountView(a domain.Account) accountView {
	return accountView{
		ID:            a.ID.String(),
		Username:      a.Username,
		Email:         a.Email,
		Role:          string(a.Role),
		WalletAddress: a.WalletAddress,
		Verified:      a.Verified,
		Active:        a.Active,
		CreatedAt:     a.CreatedAt,
		LastLogin:     a.LastLogin,
	}
}

type voterView struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"account_id"`
	ElectionID         string     `json:"election_id,omitempty"`
	WalletAddress      string     `json:"wallet_address"`
	Registered         bool       `json:"registered"`
	RegistrationTxHash string     `json:"registration_tx_hash,omitempty"`
	Verified           bool       `json:"verified"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	HasVoted           bool       `json:"has_voted"`
	VotedAt            *time.Time `json:"voted_at,omitempty"`
	VoteTxHash         string     `json:"vote_tx_hash,omitempty"`
}

func toVoterView(v domain.VoterProfile) voterView {
	out := voterView{
		ID:                 v.ID.String(),
		AccountID:          v.AccountID.String(),
		WalletAddress:      v.WalletAddress,
		Registered:         v.Registered,
		RegistrationTxHash: v.RegistrationTxHash,
		Verified:           v.Verified,
		VerifiedAt:         v.VerifiedAt,
		HasVoted:           v.HasVoted,
		VotedAt:            v.VotedAt,
		VoteTxHash:         v.VoteTxHash,
	}
	if !v.ElectionID.IsZero() {
		out.ElectionID = v.ElectionID.String()
	}
	return out
}

type identityView struct {
	AccountID   string     `json:"account_id"`
	NationalID  string     `json:"national_id"`
	FullName    string     `json:"full_name"`
	Address     string     `json:"address"`
	PhoneNumber string     `json:"phone_number"`
	Email       string     `json:"email"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toIdentityView(r domain.IdentityRecord) identityView {
	return identityView{
		AccountID:   r.AccountID.String(),
		NationalID:  r.NationalID,
		FullName:    r.FullName,
		Address:     r.Address,
		PhoneNumber: r.PhoneNumber,
		Email:       r.Email,
		Verified:    r.Verified,
		VerifiedAt:  r.VerifiedAt,
		CreatedAt:   r.CreatedAt,
	}
}

type candidateView struct {
	ID            string     `json:"id"`
	ElectionID    string     `json:"election_id,omitempty"`
	Name          string     `json:"name"`
	Party         string     `json:"party"`
	Age           int        `json:"age,omitempty"`
	Qualification string     `json:"qualification,omitempty"`
	Manifesto     string     `json:"manifesto,omitempty"`
	Photo         string     `json:"photo,omitempty"`
	Biography     string     `json:"biography,omitempty"`
	VoteCount     int64      `json:"vote_count"`
	LedgerID      *int64     `json:"ledger_id,omitempty"`
	OnLedger      bool       `json:"on_ledger"`
	LedgerTxHash  string     `json:"ledger_tx_hash,omitempty"`
	Verified      bool       `json:"verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toCandidateView(c domain.Candidate) candidateView {
	out := candidateView{
		ID:            c.ID.String(),
		Name:          c.Name,
		Party:         c.Party,
		Age:           c.Age,
		Qualification: c.Qualification,
		Manifesto:     c.Manifesto,
		Photo:         c.Photo,
		Biography:     c.Biography,
		VoteCount:     c.VoteCount,
		LedgerID:      c.LedgerID,
		OnLedger:      c.OnLedger,
		LedgerTxHash:  c.LedgerTxHash,
		Verified:      c.Verified,
		VerifiedAt:    c.VerifiedAt,
		CreatedAt:     c.CreatedAt,
	}
	if !c.ElectionID.IsZero() {
		out.ElectionID = c.ElectionID.String()
	}
	return out
}

func toCandidateViews(cs []domain.Candidate) []candidateView {
	out := make([]candidateView, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCandidateView(c))
	}
	return out
}

type phaseTransitionView struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	By           string    `json:"by"`
	At           time.Time `json:"at"`
	LedgerTxHash string    `json:"ledger_tx_hash,omitempty"`
}

type declaredResultView struct {
	WinnerID   string    `json:"winner_id"`
	DeclaredBy string    `json:"declared_by"`
	DeclaredAt time.Time `json:"declared_at"`
}

type electionView struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Description       string                `json:"description,omitempty"`
	Phase             string                `json:"phase"`
	RegistrationStart time.Time             `json:"registration_start"`
	RegistrationEnd   time.Time             `json:"registration_end"`
	VotingStart       time.Time             `json:"voting_start"`
	VotingEnd         time.Time             `json:"voting_end"`
	TotalVoters       int64                 `json:"total_voters"`
	TotalCandidates   int64                 `json:"total_candidates"`
	TotalVotesCast    int64                 `json:"total_votes_cast"`
	Active            bool                  `json:"active"`
	ContractAddress   string                `json:"contract_address,omitempty"`
	TransitionLog     []phaseTransitionView `json:"transition_log,omitempty"`
	Result            *declaredResultView   `json:"result,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

func toElectionView(e domain.Election) electionView {
	out := electionView{
		ID:                e.ID.String(),
		Name:              e.Name,
		Description:       e.Description,
		Phase:             string(e.Phase),
		RegistrationStart: e.RegistrationStart,
		RegistrationEnd:   e.RegistrationEnd,
		VotingStart:       e.VotingStart,
		VotingEnd:         e.VotingEnd,
		TotalVoters:       e.TotalVoters,
		TotalCandidates:   e.TotalCandidates,
		TotalVotesCast:    e.TotalVotesCast,
		Active:            e.Active,
		ContractAddress:   e.ContractAddress,
		CreatedAt:         e.CreatedAt,
	}
	for _, t := range e.TransitionLog {
		out.TransitionLog = append(out.TransitionLog, phaseTransitionView{
			From:         string(t.Previous),
			To:           string(t.Next),
			By:           t.Actor.String(),
			At:           t.At,
			LedgerTxHash: t.TxHash,
		})
	}
	if e.Result != nil {
		out.Result = &declaredResultView{
			WinnerID:   e.Result.Winner.String(),
			DeclaredBy: e.Result.DeclaredBy.String(),
			DeclaredAt: e.Result.DeclaredAt,
		}
	}
	return out
}

type voteView struct {
	ID                string    `json:"id"`
	CandidateID       string    `json:"candidate_id"`
	LedgerCandidateID int64     `json:"ledger_candidate_id"`
	ElectionID        string    `json:"election_id"`
	WalletAddress     string    `json:"wallet_address"`
	TxHash            string    `json:"tx_hash"`
	BlockNumber       uint64    `json:"block_number"`
	GasUsed           uint64    `json:"gas_used"`
	CastAt            time.Time `json:"cast_at"`
	Verified          bool      `json:"verified"`
	Status            string    `json:"status"`
}

func toVoteView(v domain.VoteRecord) voteView {
	return voteView{
		ID:                v.ID.String(),
		CandidateID:       v.CandidateID.String(),
		LedgerCandidateID: v.LedgerCandidateID,
		ElectionID:        v.ElectionID.String(),
		WalletAddress:     v.WalletAddress,
		TxHash:            v.TxHash,
		BlockNumber:       v.BlockNumber,
		GasUsed:           v.GasUsed,
		CastAt:            v.CastAt,
		Verified:          v.Verified,
		Status:            string(v.Status),
	}
}

type resultEntryView struct {
	LedgerID    int64   `json:"ledger_id,omitempty"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Name        string  `json:"name"`
	Party       string  `json:"party"`
	Votes       int64   `json:"votes"`
	Percentage  float64 `json:"percentage"`
	Verified    bool    `json:"verified"`
	OnLedger    bool    `json:"on_ledger"`
	Manifesto   string  `json:"manifesto,omitempty"`
	Photo       string  `json:"photo,omitempty"`
	Biography   string  `json:"biography,omitempty"`
}

type resultsView struct {
	Election   *electionView       `json:"election,omitempty"`
	TotalVotes int64               `json:"total_votes"`
	Entries    []resultEntryView   `json:"results"`
	Declared   *declaredResultView `json:"declared,omitempty"`
}

func toResultsView(s results.Summary) resultsView {
	out := resultsView{
		TotalVotes: s.TotalVotes,
		Entries:    make([]resultEntryView, 0, len(s.Entries)),
	}
	if s.Election != nil {
		view := toElectionView(*s.Election)
		out.Election = &view
	}
	if s.Declared != nil {
		out.Declared = &declaredResultView{
			WinnerID:   s.Declared.Winner.String(),
			DeclaredBy: s.Declared.DeclaredBy.String(),
			DeclaredAt: s.Declared.DeclaredAt,
		}
	}
	for _, e := range s.Entries {
		entry := resultEntryView{
			LedgerID:   e.LedgerID,
			Name:       e.Name,
			Party:      e.Party,
			Votes:      e.Votes,
			Percentage: e.Percentage,
			Verified:   e.Verified,
			OnLedger:   e.OnLedger,
			Manifesto:  e.Manifesto,
			Photo:      e.Photo,
			Biography:  e.Biography,
		}
		if !e.CandidateID.IsZero() {
			entry.CandidateID = e.CandidateID.String()
		}
		out.Entries = append(out.Entries, entry)
	}
	return out
}

type dashboardView struct {
	Accounts             int           `json:"accounts"`
	Voters               int           `json:"voters"`
	VerifiedVoters       int           `json:"verified_voters"`
	PendingVerifications int           `json:"pending_verifications"`
	Candidates           int           `json:"candidates"`
	VotesCast            int64         `json:"votes_cast"`
	Election             *electionView `json:"election,omitempty"`
}

func toDashboardView(d results.Dashboard) dashboardView {
	out := dashboardView{
		Accounts:             d.Accounts,
		Voters:               d.Voters,
		VerifiedVoters:       d.VerifiedVoters,
		PendingVerifications: d.PendingVerifications,
		Candidates:           d.Candidates,
		VotesCast:            d.VotesCast,
	}
	if d.Election != nil {
		view := toElectionView(*d.Election)
		out.Election = &view
	}
	return out
}

type phaseReportView struct {
	OffChain string `json:"off_chain"`
	Ledger   string `json:"ledger,omitempty"`
	Mismatch bool   `json:"mismatch"`
}

func toPhaseReportView(r election.PhaseReport) phaseReportView {
	return phaseReportView{
		OffChain: string(r.OffChain),
		Ledger:   string(r.Ledger),
		Mismatch: r.Mismatch,
	}
}
