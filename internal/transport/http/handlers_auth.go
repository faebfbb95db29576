package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ballotgate/internal/enroll"
	"ballotgate/internal/platform/middleware"
	"ballotgate/internal/token"
	"ballotgate/internal/transport/http/shared"
	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
	"ballotgate/pkg/requestcontext"
)

// AuthHandler owns signup and token endpoints.
type AuthHandler struct {
	logger    *slog.Logger
	enroll    *enroll.Service
	tokens    *token.Service
	validator middleware.TokenValidator
}

func NewAuthHandler(enrollSvc *enroll.Service, tokens *token.Service, validator middleware.TokenValidator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		logger:    logger,
		enroll:    enrollSvc,
		tokens:    tokens,
		validator: validator,
	}
}

// Register mounts the auth routes. Signup is the only unauthenticated write
// in the API.
func (h *AuthHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Post("/api/auth/signup", h.handleSignup)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/api/auth/me", h.handleMe)
		r.Post("/api/auth/refresh", h.handleRefresh)
	})
}

type signupRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Role          string `json:"role,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	Account     accountView `json:"account"`
}

func (h *AuthHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body"))
		return
	}

	params := enroll.CreateAccountParams{
		Username:      req.Username,
		Email:         req.Email,
		WalletAddress: req.WalletAddress,
	}
	if req.Role != "" {
		role, err := id.ParseRole(req.Role)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		// Admin accounts are provisioned through role assignment, never
		// self-declared at signup.
		if role == id.RoleAdmin {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeForbidden,
				"admin accounts cannot be created via signup"))
			return
		}
		params.Role = role
	}

	account, err := h.enroll.CreateAccount(ctx, params)
	if err != nil {
		h.logger.WarnContext(ctx, "signup rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}

	accessToken, err := h.tokens.Issue(account.ID, account.Role)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "failed to issue token"))
		return
	}

	shared.WriteJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Account:     toAccountView(account),
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.enroll.GetAccount(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toAccountView(account))
}

// handleRefresh re-issues a token for the authenticated account with the
// role currently on record, so a role change takes effect without re-signup.
func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.enroll.GetAccount(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	accessToken, err := h.tokens.Issue(account.ID, account.Role)
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "failed to issue token"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Account:     toAccountView(account),
	})
}
