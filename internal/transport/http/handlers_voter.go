package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ballotgate/internal/enroll"
	"ballotgate/internal/platform/middleware"
	"ballotgate/internal/transport/http/shared"
	"ballotgate/internal/voting"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
)

// VoterHandler owns the voter-facing endpoints: enrollment, eligibility,
// vote reconciliation, and vote lookups.
type VoterHandler struct {
	logger    *slog.Logger
	enroll    *enroll.Service
	voting    *voting.Service
	validator middleware.TokenValidator
}

func NewVoterHandler(enrollSvc *enroll.Service, votingSvc *voting.Service, validator middleware.TokenValidator, logger *slog.Logger) *VoterHandler {
	return &VoterHandler{
		logger:    logger,
		enroll:    enrollSvc,
		voting:    votingSvc,
		validator: validator,
	}
}

func (h *VoterHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/api/voter/profile", h.handleProfile)
		r.Post("/api/voter/wallet", h.handleBindWallet)
		r.Post("/api/voter/enroll", h.handleEnroll)
		r.Get("/api/voter/can-vote", h.handleCanVote)
		r.Post("/api/voter/vote", h.handleVote)
		r.Get("/api/voter/history", h.handleHistory)
		r.Get("/api/votes/verify/{txHash}", h.handleVerifyVote)
	})
}

func (h *VoterHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.enroll.Profile(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toVoterView(profile))
}

type bindWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *VoterHandler) handleBindWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bindWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	account, err := h.enroll.BindWallet(ctx, requestcontext.AccountID(ctx), req.WalletAddress)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toAccountView(account))
}

type enrollRequest struct {
	NationalID  string `json:"national_id"`
	FullName    string `json:"full_name"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

func (h *VoterHandler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	profile, err := h.enroll.Enroll(ctx, requestcontext.AccountID(ctx), enroll.EnrollParams{
		NationalID:  req.NationalID,
		FullName:    req.FullName,
		Address:     req.Address,
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "enrollment rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toVoterView(profile))
}

type eligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Cause    string `json:"cause,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleCanVote reports the gate verdict without mutating anything, so the
// client can block the expensive ledger transaction up front.
func (h *VoterHandler) handleCanVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verdict, err := h.voting.CheckEligibility(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, eligibilityResponse{
		Eligible: verdict.Eligible,
		Cause:    string(verdict.Cause),
		Reason:   verdict.Reason,
	})
}

type voteRequest struct {
	CandidateID string `json:"candidate_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

func (h *VoterHandler) handleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}
	candidateID, err := id.ParseCandidateID(req.CandidateID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.voting.Reconcile(ctx, voting.ReconcileRequest{
		AccountID:   requestcontext.AccountID(ctx),
		CandidateID: candidateID,
		TxHash:      req.TxHash,
		BlockNumber: req.BlockNumber,
		GasUsed:     req.GasUsed,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "vote reconciliation rejected",
			"request_id", requestcontext.RequestID(ctx),
			"tx_hash", req.TxHash,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toVoteView(record))
}

func (h *VoterHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := h.voting.History(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if record == nil {
		shared.WriteJSON(w, http.StatusOK, map[string]any{"vote": nil})
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"vote": toVoteView(*record)})
}

func (h *VoterHandler) handleVerifyVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := h.voting.VerifyVote(ctx, chi.URLParam(r, "txHash"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toVoteView(record))
}
