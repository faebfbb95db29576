package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ballotgate/internal/candidate"
	"ballotgate/internal/platform/middleware"
	"ballotgate/internal/results"
	"ballotgate/internal/transport/http/shared"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
)

// CandidateHandler owns candidate CRUD plus the public results endpoint.
type CandidateHandler struct {
	logger     *slog.Logger
	candidates *candidate.Service
	results    *results.Service
	validator  middleware.TokenValidator
}

func NewCandidateHandler(candidates *candidate.Service, resultsSvc *results.Service, validator middleware.TokenValidator, logger *slog.Logger) *CandidateHandler {
	return &CandidateHandler{
		logger:     logger,
		candidates: candidates,
		results:    resultsSvc,
		validator:  validator,
	}
}

func (h *CandidateHandler) Register(r chi.Router) {
	// Results are public: anyone may audit the tally.
	r.Get("/api/results", h.handleResults)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/api/candidates", h.handleList)
		r.Get("/api/candidates/verified", h.handleListVerified)
		r.Get("/api/candidates/{candidateID}", h.handleGet)
		r.Post("/api/candidates", h.handleCreate)
		r.Put("/api/candidates/{candidateID}", h.handleUpdate)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Use(middleware.RequireRole(id.RoleAdmin))
		r.Post("/api/candidates/{candidateID}/verify", h.handleVerify)
		r.Delete("/api/candidates/{candidateID}", h.handleDelete)
	})
}

func (h *CandidateHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	summary, err := h.results.Results(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResultsView(summary))
}

func (h *CandidateHandler) handleList(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.candidates.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCandidateViews(candidates))
}

func (h *CandidateHandler) handleListVerified(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.candidates.ListVerified(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCandidateViews(candidates))
}

func (h *CandidateHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "candidateID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	c, err := h.candidates.Get(r.Context(), candidateID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCandidateView(c))
}

type createCandidateRequest struct {
	Name          string `json:"name"`
	Party         string `json:"party"`
	Age           int    `json:"age,omitempty"`
	Qualification string `json:"qualification,omitempty"`
	Manifesto     string `json:"manifesto,omitempty"`
	Photo         string `json:"photo,omitempty"`
	Biography     string `json:"biography,omitempty"`
	LedgerID      *int64 `json:"ledger_id,omitempty"`
	LedgerTxHash  string `json:"ledger_tx_hash,omitempty"`
}

func (h *CandidateHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	c, err := h.candidates.Create(ctx, candidate.CreateParams{
		Name:          req.Name,
		Party:         req.Party,
		Age:           req.Age,
		Qualification: req.Qualification,
		Manifesto:     req.Manifesto,
		Photo:         req.Photo,
		Biography:     req.Biography,
		LedgerID:      req.LedgerID,
		LedgerTxHash:  req.LedgerTxHash,
	}, requestcontext.AccountID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "candidate creation rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toCandidateView(c))
}

type updateCandidateRequest struct {
	Age           *int    `json:"age,omitempty"`
	Qualification *string `json:"qualification,omitempty"`
	Manifesto     *string `json:"manifesto,omitempty"`
	Photo         *string `json:"photo,omitempty"`
	Biography     *string `json:"biography,omitempty"`
}

func (h *CandidateHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "candidateID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req updateCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	c, err := h.candidates.Update(r.Context(), candidateID, candidate.UpdateParams{
		Age:           req.Age,
		Qualification: req.Qualification,
		Manifesto:     req.Manifesto,
		Photo:         req.Photo,
		Biography:     req.Biography,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCandidateView(c))
}

func (h *CandidateHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "candidateID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	c, err := h.candidates.Verify(ctx, candidateID, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCandidateView(c))
}

func (h *CandidateHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "candidateID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.candidates.Delete(r.Context(), candidateID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
