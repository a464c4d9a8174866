package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/mailmind/internal/api/middleware"
	"github.com/kiranshivaraju/mailmind/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	Login         http.HandlerFunc
	CurrentUser   http.HandlerFunc
	Logout        http.HandlerFunc
	OAuthCallback http.HandlerFunc

	Dashboard      http.HandlerFunc
	ReloadAccounts http.HandlerFunc
	SelectAccount  http.HandlerFunc
	DeleteAccount  http.HandlerFunc
	AddYahoo       http.HandlerFunc
	TestConnection http.HandlerFunc
	AuthorizeGmail http.HandlerFunc
	StartAnalysis  http.HandlerFunc
	StopAnalysis   http.HandlerFunc
	Progress       http.HandlerFunc
	ListRuns       http.HandlerFunc
	MoreRuns       http.HandlerFunc
	RetryRun       http.HandlerFunc
	Coverage       http.HandlerFunc
	SelectGap      http.HandlerFunc
	PollSessions   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Browser-facing routes, limited per client address
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.LimitByIP)

		r.Post("/api/v1/session", orNotImplemented(deps.Login))
		r.Get("/api/v1/session", orNotImplemented(deps.CurrentUser))
		r.Delete("/api/v1/session", orNotImplemented(deps.Logout))
		r.Get("/api/v1/oauth/callback", orNotImplemented(deps.OAuthCallback))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/users/{username}", func(r chi.Router) {
			r.Use(deps.Auth.RequireOwner("username"))

			r.Get("/dashboard", orNotImplemented(deps.Dashboard))
			r.Get("/oauth/authorize", orNotImplemented(deps.AuthorizeGmail))
			r.Get("/analysis/progress", orNotImplemented(deps.Progress))
			r.Get("/runs", orNotImplemented(deps.ListRuns))
			r.Get("/coverage", orNotImplemented(deps.Coverage))
			r.Get("/sessions", orNotImplemented(deps.PollSessions))

			// State-changing routes
			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(mw.ScopeWrite))

				r.Post("/accounts/reload", orNotImplemented(deps.ReloadAccounts))
				r.Put("/accounts/selected", orNotImplemented(deps.SelectAccount))
				r.Post("/accounts/yahoo", orNotImplemented(deps.AddYahoo))
				r.Post("/accounts/test-connection", orNotImplemented(deps.TestConnection))
				r.Delete("/accounts/{accountID}", orNotImplemented(deps.DeleteAccount))

				r.Post("/analysis", orNotImplemented(deps.StartAnalysis))
				r.Post("/analysis/stop", orNotImplemented(deps.StopAnalysis))

				r.Post("/runs/more", orNotImplemented(deps.MoreRuns))
				r.Post("/runs/{runID}/retry", orNotImplemented(deps.RetryRun))

				r.Post("/coverage/select-gap", orNotImplemented(deps.SelectGap))
			})
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
