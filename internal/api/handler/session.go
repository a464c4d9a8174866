package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/cache"
	"github.com/kiranshivaraju/mailmind/internal/dashboard"
	"github.com/kiranshivaraju/mailmind/internal/session"
)

// SessionHeader carries the session id returned by login.
const SessionHeader = "X-Session-ID"

// Sessions remembers which username a browser session is signed in as.
type Sessions struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewSessions(c cache.Cache, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	return &Sessions{cache: c, ttl: ttl}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// Login handles POST /api/v1/session.
func (h *Sessions) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	username, err := session.NormalizeUsername(req.Username)
	if err != nil {
		badRequest(w, "Please enter a username")
		return
	}

	st := session.NewCacheStore(h.cache, session.NewSessionID(), h.ttl)
	if err := st.Save(r.Context(), username); err != nil {
		writeError(w, r, err, "Failed to save session")
		return
	}
	w.Header().Set(SessionHeader, st.ID())
	response.Created(w, sessionResponse{SessionID: st.ID(), Username: username})
}

// Current handles GET /api/v1/session.
func (h *Sessions) Current(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	username, err := st.Load(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoUsername) {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found or expired", nil)
			return
		}
		writeError(w, r, err, "Failed to load session")
		return
	}
	response.JSON(w, sessionResponse{SessionID: st.ID(), Username: username})
}

// Logout handles DELETE /api/v1/session.
func (h *Sessions) Logout(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.Clear(r.Context()); err != nil {
		writeError(w, r, err, "Failed to clear session")
		return
	}
	response.JSON(w, map[string]bool{"logged_out": true})
}

func (h *Sessions) store(w http.ResponseWriter, r *http.Request) (*session.CacheStore, bool) {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if id == "" {
		response.Error(w, http.StatusUnauthorized, "SESSION_REQUIRED", "Missing "+SessionHeader+" header", nil)
		return nil, false
	}
	return session.NewCacheStore(h.cache, id, h.ttl), true
}

// OAuthCallback handles GET /api/v1/oauth/callback. The backend redirects
// here after Gmail sign-in; the result is applied to the user's dashboard
// and the browser is sent on to it with the callback parameters removed.
// Only a dashboard with a sign-in started through AuthorizeGmail accepts a
// callback, and none is ever created here.
func OAuthCallback(screens Screens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb, _ := session.ParseOAuthCallback(*r.URL)
		if !cb.Present() {
			badRequest(w, "No OAuth result in request")
			return
		}

		username := cb.Username
		if username == "" {
			username = r.URL.Query().Get("username")
		}
		if strings.TrimSpace(username) == "" {
			// Without a username there is no dashboard to report to.
			response.Error(w, http.StatusBadRequest, "OAUTH_FAILED", cb.Error, nil)
			return
		}

		s, ok := screens.Lookup(username)
		if !ok {
			writeError(w, r, dashboard.ErrOAuthNotPending, "Failed to apply OAuth result")
			return
		}
		if err := s.HandleOAuth(cb); err != nil {
			writeError(w, r, err, "Failed to apply OAuth result")
			return
		}

		target := url.URL{Path: "/api/v1/users/" + url.PathEscape(s.Username()) + "/dashboard"}
		http.Redirect(w, r, target.String(), http.StatusSeeOther)
	}
}
