// Package postgres is the PostgreSQL storage implementation. It uses
// database/sql over the pgx stdlib driver; the reconciliation write runs in
// a single transaction and leans on the schema's unique constraints instead
// of read-then-write checks.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ballotgate/internal/domain"
	"ballotgate/internal/storage"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/sentinel"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open connects and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection; integration tests use this.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

var _ storage.Store = (*Store)(nil)

// uniqueViolation reports whether err is a violation of the named constraint.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullUUID(u uuid.UUID) sql.NullString {
	if u == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: u.String(), Valid: true}
}

func uuidOf(s sql.NullString) uuid.UUID {
	if !s.Valid {
		return uuid.Nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return uuid.Nil
	}
	return u
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *Store) SaveAccount(ctx context.Context, a domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, role, wallet_address, verified, active, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			wallet_address = EXCLUDED.wallet_address,
			verified = EXCLUDED.verified,
			active = EXCLUDED.active,
			last_login = EXCLUDED.last_login,
			updated_at = EXCLUDED.updated_at`,
		a.ID.String(), a.Username, a.Email, string(a.Role), a.WalletAddress,
		a.Verified, a.Active, nullTime(a.LastLogin), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var (
		a         domain.Account
		rawID     string
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&rawID, &a.Username, &a.Email, &role, &a.WalletAddress,
		&a.Verified, &a.Active, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Account{}, err
	}
	a.ID = id.AccountID(parsed)
	a.Role = id.Role(role)
	a.LastLogin = timePtr(lastLogin)
	return a, nil
}

const accountColumns = `id, username, email, role, wallet_address, verified, active, last_login, created_at, updated_at`

func (s *Store) FindAccount(ctx context.Context, accountID id.AccountID) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID.String())
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Identity records
// ---------------------------------------------------------------------------

func (s *Store) SaveIdentity(ctx context.Context, r domain.IdentityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (account_id, national_id, full_name, address, phone_number, email, verified, verified_by, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			address = EXCLUDED.address,
			phone_number = EXCLUDED.phone_number,
			email = EXCLUDED.email,
			verified = EXCLUDED.verified,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at`,
		r.AccountID.String(), r.NationalID, r.FullName, r.Address, r.PhoneNumber,
		r.Email, r.Verified, nullUUID(uuid.UUID(r.VerifiedBy)), nullTime(r.VerifiedAt), r.CreatedAt)
	if err != nil {
		if uniqueViolation(err, "identities_national_id_key") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

const identityColumns = `account_id, national_id, full_name, address, phone_number, email, verified, verified_by, verified_at, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (domain.IdentityRecord, error) {
	var (
		r          domain.IdentityRecord
		rawID      string
		verifiedBy sql.NullString
		verifiedAt sql.NullTime
	)
	err := row.Scan(&rawID, &r.NationalID, &r.FullName, &r.Address, &r.PhoneNumber,
		&r.Email, &r.Verified, &verifiedBy, &verifiedAt, &r.CreatedAt)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return domain.IdentityRecord{}, err
	}
	r.AccountID = id.AccountID(parsed)
	r.VerifiedBy = id.AccountID(uuidOf(verifiedBy))
	r.VerifiedAt = timePtr(verifiedAt)
	return r, nil
}

func (s *Store) FindIdentity(ctx context.Context, accountID id.AccountID) (domain.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE account_id = $1`, accountID.String())
	record, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("find identity: %w", err)
	}
	return record, nil
}

func (s *Store) FindIdentityByNationalID(ctx context.Context, nationalID string) (domain.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE national_id = $1`, nationalID)
	record, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("find identity by national id: %w", err)
	}
	return record, nil
}

func (s *Store) ListPendingIdentities(ctx context.Context) ([]domain.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE NOT verified ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending identities: %w", err)
	}
	defer rows.Close()
	var out []domain.IdentityRecord
	for rows.Next() {
		record, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Voter profiles
// ---------------------------------------------------------------------------

const voterColumns = `id, account_id, election_id, wallet_address, national_id, registered, registration_tx_hash, verified, verified_by, verified_at, has_voted, voted_at, voted_candidate, vote_tx_hash, created_at`

func (s *Store) SaveVoter(ctx context.Context, v domain.VoterProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO voters (id, account_id, election_id, wallet_address, national_id, registered, registration_tx_hash, verified, verified_by, verified_at, has_voted, voted_at, voted_candidate, vote_tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			election_id = EXCLUDED.election_id,
			wallet_address = EXCLUDED.wallet_address,
			national_id = EXCLUDED.national_id,
			registered = EXCLUDED.registered,
			registration_tx_hash = EXCLUDED.registration_tx_hash,
			verified = EXCLUDED.verified,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at,
			has_voted = EXCLUDED.has_voted,
			voted_at = EXCLUDED.voted_at,
			voted_candidate = EXCLUDED.voted_candidate,
			vote_tx_hash = EXCLUDED.vote_tx_hash`,
		v.ID.String(), v.AccountID.String(), nullUUID(uuid.UUID(v.ElectionID)), v.WalletAddress,
		v.NationalID, v.Registered, v.RegistrationTxHash, v.Verified,
		nullUUID(uuid.UUID(v.VerifiedBy)), nullTime(v.VerifiedAt), v.HasVoted,
		nullTime(v.VotedAt), nullUUID(uuid.UUID(v.VotedCandidate)), v.VoteTxHash, v.CreatedAt)
	if err != nil {
		if uniqueViolation(err, "voters_account_key") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save voter: %w", err)
	}
	return nil
}

func (s *Store) MarkVoterVerified(ctx context.Context, voterID id.VoterID, verifiedBy id.AccountID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE voters SET verified = TRUE, verified_by = $2, verified_at = $3
		WHERE id = $1`,
		voterID.String(), verifiedBy.String(), at)
	if err != nil {
		return fmt.Errorf("mark voter verified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark voter verified: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanVoter(row interface{ Scan(...any) error }) (domain.VoterProfile, error) {
	var (
		v              domain.VoterProfile
		rawID          string
		rawAccount     string
		electionID     sql.NullString
		verifiedBy     sql.NullString
		verifiedAt     sql.NullTime
		votedAt        sql.NullTime
		votedCandidate sql.NullString
	)
	err := row.Scan(&rawID, &rawAccount, &electionID, &v.WalletAddress, &v.NationalID,
		&v.Registered, &v.RegistrationTxHash, &v.Verified, &verifiedBy, &verifiedAt,
		&v.HasVoted, &votedAt, &votedCandidate, &v.VoteTxHash, &v.CreatedAt)
	if err != nil {
		return domain.VoterProfile{}, err
	}
	parsedID, err := uuid.Parse(rawID)
	if err != nil {
		return domain.VoterProfile{}, err
	}
	parsedAccount, err := uuid.Parse(rawAccount)
	if err != nil {
		return domain.VoterProfile{}, err
	}
	v.ID = id.VoterID(parsedID)
	v.AccountID = id.AccountID(parsedAccount)
	v.ElectionID = id.ElectionID(uuidOf(electionID))
	v.VerifiedBy = id.AccountID(uuidOf(verifiedBy))
	v.VerifiedAt = timePtr(verifiedAt)
	v.VotedAt = timePtr(votedAt)
	v.VotedCandidate = id.CandidateID(uuidOf(votedCandidate))
	return v, nil
}

func (s *Store) FindVoter(ctx context.Context, voterID id.VoterID) (domain.VoterProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voterColumns+` FROM voters WHERE id = $1`, voterID.String())
	voter, err := scanVoter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VoterProfile{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.VoterProfile{}, fmt.Errorf("find voter: %w", err)
	}
	return voter, nil
}

func (s *Store) FindVoterByAccount(ctx context.Context, accountID id.AccountID) (domain.VoterProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voterColumns+` FROM voters WHERE account_id = $1`, accountID.String())
	voter, err := scanVoter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VoterProfile{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.VoterProfile{}, fmt.Errorf("find voter by account: %w", err)
	}
	return voter, nil
}

func (s *Store) ListVoters(ctx context.Context) ([]domain.VoterProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+voterColumns+` FROM voters ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	defer rows.Close()
	var out []domain.VoterProfile
	for rows.Next() {
		voter, err := scanVoter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		out = append(out, voter)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

const candidateColumns = `id, election_id, name, party, age, qualification, manifesto, photo, biography, vote_count, ledger_id, on_ledger, ledger_tx_hash, verified, verified_by, verified_at, registered_by, created_at`

func (s *Store) SaveCandidate(ctx context.Context, c domain.Candidate) error {
	var ledgerID sql.NullInt64
	if c.LedgerID != nil {
		ledgerID = sql.NullInt64{Int64: *c.LedgerID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, election_id, name, party, age, qualification, manifesto, photo, biography, vote_count, ledger_id, on_ledger, ledger_tx_hash, verified, verified_by, verified_at, registered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			party = EXCLUDED.party,
			age = EXCLUDED.age,
			qualification = EXCLUDED.qualification,
			manifesto = EXCLUDED.manifesto,
			photo = EXCLUDED.photo,
			biography = EXCLUDED.biography,
			vote_count = EXCLUDED.vote_count,
			ledger_id = EXCLUDED.ledger_id,
			on_ledger = EXCLUDED.on_ledger,
			ledger_tx_hash = EXCLUDED.ledger_tx_hash,
			verified = EXCLUDED.verified,
			verified_by = EXCLUDED.verified_by,
			verified_at = EXCLUDED.verified_at`,
		c.ID.String(), nullUUID(uuid.UUID(c.ElectionID)), c.Name, c.Party, c.Age,
		c.Qualification, c.Manifesto, c.Photo, c.Biography, c.VoteCount, ledgerID,
		c.OnLedger, c.LedgerTxHash, c.Verified, nullUUID(uuid.UUID(c.VerifiedBy)),
		nullTime(c.VerifiedAt), nullUUID(uuid.UUID(c.RegisteredBy)), c.CreatedAt)
	if err != nil {
		if uniqueViolation(err, "candidates_ledger_id_key") ||
			uniqueViolation(err, "candidates_name_party_key") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save candidate: %w", err)
	}
	return nil
}

func scanCandidate(row interface{ Scan(...any) error }) (domain.Candidate, error) {
	var (
		c            domain.Candidate
		rawID        string
		electionID   sql.NullString
		ledgerID     sql.NullInt64
		verifiedBy   sql.NullString
		verifiedAt   sql.NullTime
		registeredBy sql.NullString
	)
	err := row.Scan(&rawID, &electionID, &c.Name, &c.Party, &c.Age, &c.Qualification,
		&c.Manifesto, &c.Photo, &c.Biography, &c.VoteCount, &ledgerID, &c.OnLedger,
		&c.LedgerTxHash, &c.Verified, &verifiedBy, &verifiedAt, &registeredBy, &c.CreatedAt)
	if err != nil {
		return domain.Candidate{}, err
	}
	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Candidate{}, err
	}
	c.ID = id.CandidateID(parsed)
	c.ElectionID = id.ElectionID(uuidOf(electionID))
	if ledgerID.Valid {
		v := ledgerID.Int64
		c.LedgerID = &v
	}
	c.VerifiedBy = id.AccountID(uuidOf(verifiedBy))
	c.VerifiedAt = timePtr(verifiedAt)
	c.RegisteredBy = id.AccountID(uuidOf(registeredBy))
	return c, nil
}

func (s *Store) findCandidate(ctx context.Context, where string, args ...any) (domain.Candidate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE `+where, args...)
	candidate, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Candidate{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("find candidate: %w", err)
	}
	return candidate, nil
}

func (s *Store) FindCandidate(ctx context.Context, candidateID id.CandidateID) (domain.Candidate, error) {
	return s.findCandidate(ctx, `id = $1`, candidateID.String())
}

func (s *Store) FindCandidateByLedgerID(ctx context.Context, ledgerID int64) (domain.Candidate, error) {
	return s.findCandidate(ctx, `ledger_id = $1`, ledgerID)
}

func (s *Store) FindCandidateByNameParty(ctx context.Context, electionID id.ElectionID, name, party string) (domain.Candidate, error) {
	return s.findCandidate(ctx, `election_id = $1 AND lower(name) = lower($2) AND lower(party) = lower($3)`,
		electionID.String(), name, party)
}

func (s *Store) FindCandidateByRegistrant(ctx context.Context, accountID id.AccountID) (domain.Candidate, error) {
	return s.findCandidate(ctx, `registered_by = $1`, accountID.String())
}

func (s *Store) ListCandidates(ctx context.Context, electionID id.ElectionID) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE election_id = $1 ORDER BY created_at`,
		electionID.String())
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, candidate)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCandidate(ctx context.Context, candidateID id.CandidateID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = $1`, candidateID.String())
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Elections
// ---------------------------------------------------------------------------

// transition log entries and the declared result are stored as JSONB; they
// are append-only blobs read and written whole with the election row.
type transitionJSON struct {
	Previous string    `json:"previous"`
	Next     string    `json:"next"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
	TxHash   string    `json:"txHash,omitempty"`
}

type resultJSON struct {
	Winner     string    `json:"winner"`
	DeclaredBy string    `json:"declaredBy"`
	DeclaredAt time.Time `json:"declaredAt"`
}

func marshalTransitions(log []domain.PhaseTransition) ([]byte, error) {
	out := make([]transitionJSON, 0, len(log))
	for _, t := range log {
		out = append(out, transitionJSON{
			Previous: string(t.Previous),
			Next:     string(t.Next),
			Actor:    t.Actor.String(),
			At:       t.At,
			TxHash:   t.TxHash,
		})
	}
	return json.Marshal(out)
}

func unmarshalTransitions(raw []byte) ([]domain.PhaseTransition, error) {
	var entries []transitionJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]domain.PhaseTransition, 0, len(entries))
	for _, e := range entries {
		actor, _ := uuid.Parse(e.Actor)
		out = append(out, domain.PhaseTransition{
			Previous: domain.Phase(e.Previous),
			Next:     domain.Phase(e.Next),
			Actor:    id.AccountID(actor),
			At:       e.At,
			TxHash:   e.TxHash,
		})
	}
	return out, nil
}

const electionColumns = `id, name, description, phase, registration_start, registration_end, voting_start, voting_end, total_voters, total_candidates, total_votes_cast, active, contract_address, transition_log, result, created_at`

func (s *Store) SaveElection(ctx context.Context, e domain.Election) error {
	transitions, err := marshalTransitions(e.TransitionLog)
	if err != nil {
		return fmt.Errorf("marshal transition log: %w", err)
	}
	var result []byte
	if e.Result != nil {
		result, err = json.Marshal(resultJSON{
			Winner:     e.Result.Winner.String(),
			DeclaredBy: e.Result.DeclaredBy.String(),
			DeclaredAt: e.Result.DeclaredAt,
		})
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO elections (id, name, description, phase, registration_start, registration_end, voting_start, voting_end, total_voters, total_candidates, total_votes_cast, active, contract_address, transition_log, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			phase = EXCLUDED.phase,
			registration_start = EXCLUDED.registration_start,
			registration_end = EXCLUDED.registration_end,
			voting_start = EXCLUDED.voting_start,
			voting_end = EXCLUDED.voting_end,
			total_voters = EXCLUDED.total_voters,
			total_candidates = EXCLUDED.total_candidates,
			total_votes_cast = EXCLUDED.total_votes_cast,
			active = EXCLUDED.active,
			contract_address = EXCLUDED.contract_address,
			transition_log = EXCLUDED.transition_log,
			result = EXCLUDED.result`,
		e.ID.String(), e.Name, e.Description, string(e.Phase),
		e.RegistrationStart, e.RegistrationEnd, e.VotingStart, e.VotingEnd,
		e.TotalVoters, e.TotalCandidates, e.TotalVotesCast, e.Active,
		e.ContractAddress, transitions, result, e.CreatedAt)
	if err != nil {
		if uniqueViolation(err, "elections_one_active") {
			return storage.ErrActiveElection
		}
		return fmt.Errorf("save election: %w", err)
	}
	return nil
}

func (s *Store) RecordPhaseTransition(ctx context.Context, electionID id.ElectionID, phase domain.Phase, active bool, log []domain.PhaseTransition) error {
	transitions, err := marshalTransitions(log)
	if err != nil {
		return fmt.Errorf("marshal transition log: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE elections SET phase = $2, active = $3, transition_log = $4
		WHERE id = $1`,
		electionID.String(), string(phase), active, transitions)
	if err != nil {
		return fmt.Errorf("record phase transition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record phase transition: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) RecordDeclaredResult(ctx context.Context, electionID id.ElectionID, declared domain.DeclaredResult) error {
	raw, err := json.Marshal(resultJSON{
		Winner:     declared.Winner.String(),
		DeclaredBy: declared.DeclaredBy.String(),
		DeclaredAt: declared.DeclaredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE elections SET result = $2 WHERE id = $1`, electionID.String(), raw)
	if err != nil {
		return fmt.Errorf("record declared result: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record declared result: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustElectionCounters(ctx context.Context, electionID id.ElectionID, voterDelta, candidateDelta int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE elections SET
			total_voters = GREATEST(total_voters + $2, 0),
			total_candidates = GREATEST(total_candidates + $3, 0)
		WHERE id = $1`,
		electionID.String(), voterDelta, candidateDelta)
	if err != nil {
		return fmt.Errorf("adjust election counters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust election counters: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanElection(row interface{ Scan(...any) error }) (domain.Election, error) {
	var (
		e           domain.Election
		rawID       string
		phase       string
		transitions []byte
		result      []byte
	)
	err := row.Scan(&rawID, &e.Name, &e.Description, &phase,
		&e.RegistrationStart, &e.RegistrationEnd, &e.VotingStart, &e.VotingEnd,
		&e.TotalVoters, &e.TotalCandidates, &e.TotalVotesCast, &e.Active,
		&e.ContractAddress, &transitions, &result, &e.CreatedAt)
	if err != nil {
		return domain.Election{}, err
	}
	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Election{}, err
	}
	e.ID = id.ElectionID(parsed)
	e.Phase = domain.Phase(phase)
	e.TransitionLog, err = unmarshalTransitions(transitions)
	if err != nil {
		return domain.Election{}, err
	}
	if len(result) > 0 {
		var r resultJSON
		if err := json.Unmarshal(result, &r); err != nil {
			return domain.Election{}, err
		}
		winner, _ := uuid.Parse(r.Winner)
		declaredBy, _ := uuid.Parse(r.DeclaredBy)
		e.Result = &domain.DeclaredResult{
			Winner:     id.CandidateID(winner),
			DeclaredBy: id.AccountID(declaredBy),
			DeclaredAt: r.DeclaredAt,
		}
	}
	return e, nil
}

func (s *Store) FindElection(ctx context.Context, electionID id.ElectionID) (domain.Election, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections WHERE id = $1`, electionID.String())
	election, err := scanElection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Election{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Election{}, fmt.Errorf("find election: %w", err)
	}
	return election, nil
}

func (s *Store) FindActiveElection(ctx context.Context) (domain.Election, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections WHERE active`)
	election, err := scanElection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Election{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Election{}, fmt.Errorf("find active election: %w", err)
	}
	return election, nil
}

func (s *Store) FindLatestElection(ctx context.Context) (domain.Election, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections ORDER BY created_at DESC LIMIT 1`)
	election, err := scanElection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Election{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Election{}, fmt.Errorf("find latest election: %w", err)
	}
	return election, nil
}

// ---------------------------------------------------------------------------
// Votes
// ---------------------------------------------------------------------------

const voteColumns = `id, voter_id, candidate_id, ledger_candidate_id, election_id, wallet_address, tx_hash, block_number, gas_used, cast_at, verified, status`

func scanVote(row interface{ Scan(...any) error }) (domain.VoteRecord, error) {
	var (
		v            domain.VoteRecord
		rawID        string
		rawVoter     string
		rawCandidate string
		rawElection  string
		status       string
	)
	err := row.Scan(&rawID, &rawVoter, &rawCandidate, &v.LedgerCandidateID, &rawElection,
		&v.WalletAddress, &v.TxHash, &v.BlockNumber, &v.GasUsed, &v.CastAt, &v.Verified, &status)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	parsedID, err := uuid.Parse(rawID)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	parsedVoter, err := uuid.Parse(rawVoter)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	parsedCandidate, err := uuid.Parse(rawCandidate)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	parsedElection, err := uuid.Parse(rawElection)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	v.ID = id.VoteID(parsedID)
	v.VoterID = id.VoterID(parsedVoter)
	v.CandidateID = id.CandidateID(parsedCandidate)
	v.ElectionID = id.ElectionID(parsedElection)
	v.Status = domain.VoteStatus(status)
	return v, nil
}

func (s *Store) FindVoteByTxHash(ctx context.Context, txHash string) (domain.VoteRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE tx_hash = $1`, txHash)
	vote, err := scanVote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VoteRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("find vote by tx hash: %w", err)
	}
	return vote, nil
}

func (s *Store) FindVoteByVoter(ctx context.Context, voterID id.VoterID, electionID id.ElectionID) (domain.VoteRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE voter_id = $1 AND election_id = $2`,
		voterID.String(), electionID.String())
	vote, err := scanVote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VoteRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("find vote by voter: %w", err)
	}
	return vote, nil
}

func (s *Store) CountVotes(ctx context.Context, electionID id.ElectionID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM votes WHERE election_id = $1`, electionID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Atomic writes
// ---------------------------------------------------------------------------

// ApplyVote is the reconciliation write. All four mutations run inside one
// transaction; the INSERT carries the uniqueness checks, and the voter
// UPDATE is guarded by has_voted = FALSE so a concurrent cast that slipped
// past the txid check still cannot double-apply.
func (s *Store) ApplyVote(ctx context.Context, vote domain.VoteRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply vote: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO votes (id, voter_id, candidate_id, ledger_candidate_id, election_id, wallet_address, tx_hash, block_number, gas_used, cast_at, verified, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		vote.ID.String(), vote.VoterID.String(), vote.CandidateID.String(),
		vote.LedgerCandidateID, vote.ElectionID.String(), vote.WalletAddress,
		vote.TxHash, vote.BlockNumber, vote.GasUsed, vote.CastAt, vote.Verified,
		string(vote.Status))
	if err != nil {
		if uniqueViolation(err, "votes_tx_hash_key") {
			return storage.ErrDuplicateTransaction
		}
		if uniqueViolation(err, "votes_voter_election_key") {
			return storage.ErrAlreadyVoted
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE voters SET has_voted = TRUE, voted_at = $2, voted_candidate = $3, vote_tx_hash = $4
		WHERE id = $1 AND has_voted = FALSE`,
		vote.VoterID.String(), vote.CastAt, vote.CandidateID.String(), vote.TxHash)
	if err != nil {
		return fmt.Errorf("flip voter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("flip voter: %w", err)
	}
	if affected == 0 {
		return storage.ErrAlreadyVoted
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE candidates SET vote_count = vote_count + 1 WHERE id = $1`,
		vote.CandidateID.String()); err != nil {
		return fmt.Errorf("increment candidate count: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE elections SET total_votes_cast = total_votes_cast + 1 WHERE id = $1`,
		vote.ElectionID.String()); err != nil {
		return fmt.Errorf("increment election count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply vote: %w", err)
	}
	return nil
}

// ResetElection wipes the election's votes and voting state in one
// transaction.
func (s *Store) ResetElection(ctx context.Context, electionID id.ElectionID, actor id.AccountID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections WHERE id = $1 FOR UPDATE`, electionID.String())
	election, err := scanElection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load election: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM votes WHERE election_id = $1`, electionID.String()); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE voters SET has_voted = FALSE, voted_at = NULL, voted_candidate = NULL, vote_tx_hash = ''
		WHERE election_id = $1`, electionID.String()); err != nil {
		return fmt.Errorf("reset voters: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE candidates SET vote_count = 0 WHERE election_id = $1`, electionID.String()); err != nil {
		return fmt.Errorf("reset candidates: %w", err)
	}

	transitions, err := marshalTransitions(append(election.TransitionLog, domain.PhaseTransition{
		Previous: election.Phase,
		Next:     domain.PhaseRegistration,
		Actor:    actor,
		At:       at,
	}))
	if err != nil {
		return fmt.Errorf("marshal transition log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE elections SET phase = $2, total_votes_cast = 0, active = TRUE, result = NULL, transition_log = $3
		WHERE id = $1`,
		electionID.String(), string(domain.PhaseRegistration), transitions); err != nil {
		return fmt.Errorf("reset election: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}
