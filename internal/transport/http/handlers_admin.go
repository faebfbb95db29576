package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ballotgate/internal/domain"
	"ballotgate/internal/election"
	"ballotgate/internal/enroll"
	"ballotgate/internal/platform/middleware"
	"ballotgate/internal/results"
	"ballotgate/internal/transport/http/shared"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
)

// AdminHandler owns the operator surface: dashboard, identity verification,
// role assignment, and the election lifecycle. Every route requires the
// admin role; when an admin API token is configured it is checked as well.
type AdminHandler struct {
	logger     *slog.Logger
	enroll     *enroll.Service
	elections  *election.Service
	results    *results.Service
	validator  middleware.TokenValidator
	adminToken string
}

func NewAdminHandler(
	enrollSvc *enroll.Service,
	elections *election.Service,
	resultsSvc *results.Service,
	validator middleware.TokenValidator,
	adminToken string,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		logger:     logger,
		enroll:     enrollSvc,
		elections:  elections,
		results:    resultsSvc,
		validator:  validator,
		adminToken: adminToken,
	}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Use(middleware.RequireRole(id.RoleAdmin))
		r.Use(middleware.RequireAdminToken(h.adminToken))

		r.Get("/api/admin/dashboard", h.handleDashboard)
		r.Get("/api/admin/verifications", h.handlePendingVerifications)
		r.Post("/api/admin/verifications/{accountID}", h.handleVerifyIdentity)
		r.Put("/api/admin/accounts/{accountID}/role", h.handleAssignRole)

		r.Post("/api/admin/elections", h.handleCreateElection)
		r.Get("/api/admin/elections/current", h.handleCurrentElection)
		r.Post("/api/admin/elections/phase", h.handleTransition)
		r.Get("/api/admin/elections/phase/reconcile", h.handleReconcilePhase)
		r.Post("/api/admin/elections/{electionID}/reset", h.handleReset)
		r.Post("/api/admin/elections/{electionID}/declare", h.handleDeclare)
	})
}

func (h *AdminHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.results.DashboardCounts(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toDashboardView(dashboard))
}

func (h *AdminHandler) handlePendingVerifications(w http.ResponseWriter, r *http.Request) {
	pending, err := h.enroll.PendingVerifications(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	views := make([]identityView, 0, len(pending))
	for _, record := range pending {
		views = append(views, toIdentityView(record))
	}
	shared.WriteJSON(w, http.StatusOK, views)
}

func (h *AdminHandler) handleVerifyIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	profile, err := h.enroll.VerifyIdentity(ctx, accountID, requestcontext.AccountID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "identity verification rejected",
			"request_id", requestcontext.RequestID(ctx),
			"target_account", accountID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toVoterView(profile))
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	account, err := h.enroll.AssignRole(ctx, accountID, role, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toAccountView(account))
}

type createElectionRequest struct {
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
	VotingStart       time.Time `json:"voting_start"`
	VotingEnd         time.Time `json:"voting_end"`
	ContractAddress   string    `json:"contract_address,omitempty"`
}

func (h *AdminHandler) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	created, err := h.elections.Create(ctx, election.CreateParams{
		Name:              req.Name,
		Description:       req.Description,
		RegistrationStart: req.RegistrationStart,
		RegistrationEnd:   req.RegistrationEnd,
		VotingStart:       req.VotingStart,
		VotingEnd:         req.VotingEnd,
		ContractAddress:   req.ContractAddress,
	}, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toElectionView(created))
}

func (h *AdminHandler) handleCurrentElection(w http.ResponseWriter, r *http.Request) {
	latest, err := h.elections.Latest(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toElectionView(latest))
}

type transitionRequest struct {
	Phase        string `json:"phase"`
	LedgerTxHash string `json:"ledger_tx_hash,omitempty"`
}

func (h *AdminHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	target := domain.Phase(req.Phase)
	if !target.Valid() {
		shared.WriteError(w, domainerrors.Newf(domainerrors.CodeInvalidInput,
			"unknown phase %q", req.Phase))
		return
	}

	updated, err := h.elections.Transition(ctx, target, requestcontext.AccountID(ctx), req.LedgerTxHash)
	if err != nil {
		h.logger.WarnContext(ctx, "phase transition rejected",
			"request_id", requestcontext.RequestID(ctx),
			"target_phase", req.Phase,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toElectionView(updated))
}

func (h *AdminHandler) handleReconcilePhase(w http.ResponseWriter, r *http.Request) {
	report, err := h.elections.ReconcilePhase(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toPhaseReportView(report))
}

type resetRequest struct {
	ConfirmToken string `json:"confirm_token"`
}

func (h *AdminHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, err := id.ParseElectionID(chi.URLParam(r, "electionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	if err := h.elections.Reset(ctx, electionID, requestcontext.AccountID(ctx), req.ConfirmToken); err != nil {
		h.logger.WarnContext(ctx, "election reset rejected",
			"request_id", requestcontext.RequestID(ctx),
			"election_id", electionID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type declareRequest struct {
	WinnerID string `json:"winner_id"`
}

func (h *AdminHandler) handleDeclare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	electionID, err := id.ParseElectionID(chi.URLParam(r, "electionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req declareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	winnerID, err := id.ParseCandidateID(req.WinnerID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	updated, err := h.elections.DeclareResult(ctx, electionID, winnerID, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toElectionView(updated))
}
