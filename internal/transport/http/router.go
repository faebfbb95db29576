// Package httptransport is the thin HTTP layer. Handlers decode and validate
// requests, delegate to domain services, and translate coded errors to JSON
// responses; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ballotgate/internal/platform/middleware"
	"ballotgate/internal/transport/http/shared"
)

const requestTimeout = 30 * time.Second

// Deps carries everything the router needs. All services are required; the
// admin token may be empty, which disables the extra admin-token check.
type Deps struct {
	Logger     *slog.Logger
	Validator  middleware.TokenValidator
	AdminToken string

	Auth      *AuthHandler
	Voter     *VoterHandler
	Candidate *CandidateHandler
	Admin     *AdminHandler
}

// NewRouter assembles the full API surface plus the operational endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.Auth.Register(r)
	deps.Voter.Register(r)
	deps.Candidate.Register(r)
	deps.Admin.Register(r)

	return r
}
