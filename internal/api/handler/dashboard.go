package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/dashboard"
	"github.com/kiranshivaraju/mailmind/internal/runs"
	"github.com/kiranshivaraju/mailmind/internal/store"
	"github.com/kiranshivaraju/mailmind/pkg/models"
)

// Screens resolves the dashboard of a username.
type Screens interface {
	Get(ctx context.Context, username string) (*dashboard.Screen, error)
	Lookup(username string) (*dashboard.Screen, bool)
}

// TrackedRunLister lists the poll sessions recorded for a user.
type TrackedRunLister interface {
	ListTrackedRuns(ctx context.Context, filter store.TrackedRunFilter) ([]*models.TrackedRun, error)
}

// Dashboard serves /api/v1/users/{username}/...
type Dashboard struct {
	screens Screens
	tracked TrackedRunLister
}

func NewDashboard(screens Screens, tracked TrackedRunLister) *Dashboard {
	return &Dashboard{screens: screens, tracked: tracked}
}

func (h *Dashboard) screen(w http.ResponseWriter, r *http.Request) (*dashboard.Screen, bool) {
	s, err := h.screens.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, r, err, "Failed to open dashboard")
		return nil, false
	}
	return s, true
}

// View handles GET /dashboard.
func (h *Dashboard) View(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	response.JSON(w, s.View())
}

// ReloadAccounts handles POST /accounts/reload.
func (h *Dashboard) ReloadAccounts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := s.LoadAccounts(r.Context()); err != nil {
		writeError(w, r, err, s.View().Notices.Error)
		return
	}
	response.JSON(w, s.View())
}

// SelectAccount handles PUT /accounts/selected.
func (h *Dashboard) SelectAccount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req struct {
		AccountID int64 `json:"account_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	if req.AccountID <= 0 {
		badRequest(w, "account_id is required")
		return
	}
	if err := s.SelectAccount(r.Context(), req.AccountID); err != nil {
		writeError(w, r, err, "Failed to select account")
		return
	}
	response.JSON(w, s.View())
}

// DeleteAccount handles DELETE /accounts/{accountID}.
func (h *Dashboard) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathInt64(r, "accountID")
	if !ok {
		badRequest(w, "accountID must be a positive integer")
		return
	}
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := s.DeleteAccount(r.Context(), accountID); err != nil {
		writeError(w, r, err, "Failed to delete account")
		return
	}
	response.JSON(w, s.View())
}

// AddYahooAccount handles POST /accounts/yahoo.
func (h *Dashboard) AddYahooAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		AppPassword string `json:"app_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.AppPassword = strings.TrimSpace(req.AppPassword)
	if req.Email == "" || req.AppPassword == "" {
		badRequest(w, "Please enter both email and app password")
		return
	}

	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	acct, err := s.AddYahooAccount(r.Context(), req.Email, req.AppPassword)
	if err != nil {
		writeError(w, r, err, "Failed to add Yahoo account")
		return
	}
	response.Created(w, acct)
}

// TestConnection handles POST /accounts/test-connection.
func (h *Dashboard) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req models.TestConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Credentials = strings.TrimSpace(req.Credentials)
	if req.Provider == "" || req.Email == "" || req.Credentials == "" {
		badRequest(w, "provider, email and credentials are required")
		return
	}

	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	res, err := s.TestConnection(r.Context(), req)
	if err != nil {
		writeError(w, r, err, "Connection test failed")
		return
	}
	response.JSON(w, res)
}

// AuthorizeGmail handles GET /oauth/authorize?email=.
func (h *Dashboard) AuthorizeGmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		badRequest(w, "email is required")
		return
	}
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	auth, err := s.AuthorizeGmail(r.Context(), email)
	if err != nil {
		writeError(w, r, err, "Failed to start OAuth flow")
		return
	}
	response.JSON(w, auth)
}

// StartAnalysis handles POST /analysis.
func (h *Dashboard) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate       string `json:"start_date"`
		EndDate         string `json:"end_date"`
		ForceReanalysis bool   `json:"force_reanalysis"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	start, ok := parseDate(req.StartDate)
	if !ok {
		badRequest(w, "start_date must be an RFC3339 timestamp or YYYY-MM-DD date")
		return
	}
	end, ok := parseDate(req.EndDate)
	if !ok {
		badRequest(w, "end_date must be an RFC3339 timestamp or YYYY-MM-DD date")
		return
	}
	if end.Before(start) {
		badRequest(w, "end_date must not be before start_date")
		return
	}

	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	ref, err := s.StartAnalysis(r.Context(), dashboard.AnalysisRequest{
		StartDate:       start,
		EndDate:         end,
		ForceReanalysis: req.ForceReanalysis,
	})
	if err != nil {
		writeError(w, r, err, "Failed to start analysis")
		return
	}
	response.Accepted(w, ref)
}

// StopAnalysis handles POST /analysis/stop.
func (h *Dashboard) StopAnalysis(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	res, err := s.StopAnalysis(r.Context())
	if err != nil {
		writeError(w, r, err, "Failed to stop analysis")
		return
	}
	response.JSON(w, res)
}

type progressResponse struct {
	Loading      bool             `json:"loading"`
	RunningRunID int64            `json:"running_run_id,omitempty"`
	Progress     *models.Progress `json:"progress"`
}

// Progress handles GET /analysis/progress.
func (h *Dashboard) Progress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	v := s.View()
	response.JSON(w, progressResponse{Loading: v.Loading, RunningRunID: v.RunningRunID, Progress: v.Progress})
}

type runsResponse struct {
	Entries      []runs.Entry `json:"entries"`
	HasMore      bool         `json:"has_more"`
	LoadingMore  bool         `json:"loading_more"`
	Total        int          `json:"total"`
	RunningRunID int64        `json:"running_run_id,omitempty"`
	Loaded       *bool        `json:"loaded,omitempty"`
}

func runsOf(v dashboard.View) runsResponse {
	return runsResponse{
		Entries:      v.Runs,
		HasMore:      v.HasMoreRuns,
		LoadingMore:  v.LoadingMoreRuns,
		Total:        v.TotalRuns,
		RunningRunID: v.RunningRunID,
	}
}

// Runs handles GET /runs.
func (h *Dashboard) Runs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	response.JSON(w, runsOf(s.View()))
}

// MoreRuns handles POST /runs/more.
func (h *Dashboard) MoreRuns(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	loaded, err := s.LoadMoreRuns(r.Context())
	if err != nil {
		writeError(w, r, err, "Failed to load analysis runs")
		return
	}
	res := runsOf(s.View())
	res.Loaded = &loaded
	response.JSON(w, res)
}

// RetryRun handles POST /runs/{runID}/retry.
func (h *Dashboard) RetryRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathInt64(r, "runID")
	if !ok {
		badRequest(w, "runID must be a positive integer")
		return
	}
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	ref, err := s.RetryRun(r.Context(), runID)
	if err != nil {
		writeError(w, r, err, "Failed to retry analysis")
		return
	}
	response.Accepted(w, ref)
}

// Coverage handles GET /coverage.
func (h *Dashboard) Coverage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	v, err := s.Coverage(r.Context())
	if err != nil {
		writeError(w, r, err, "Failed to load processed ranges")
		return
	}
	response.JSON(w, v)
}

// SelectGap handles POST /coverage/select-gap.
func (h *Dashboard) SelectGap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	start, ok1 := parseDate(req.StartDate)
	end, ok2 := parseDate(req.EndDate)
	if !ok1 || !ok2 {
		badRequest(w, "start_date and end_date must be RFC3339 timestamps or YYYY-MM-DD dates")
		return
	}

	s, ok := h.screen(w, r)
	if !ok {
		return
	}
	response.JSON(w, s.SelectGap(models.Gap{
		StartDate: models.NewTimestamp(start),
		EndDate:   models.NewTimestamp(end),
	}))
}

// Sessions handles GET /sessions?account_id=&limit=.
func (h *Dashboard) Sessions(w http.ResponseWriter, r *http.Request) {
	filter := store.TrackedRunFilter{Username: strings.TrimSpace(chi.URLParam(r, "username"))}
	if filter.Username == "" {
		badRequest(w, "username is required")
		return
	}
	q := r.URL.Query()
	if v := q.Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(w, "account_id must be a positive integer")
			return
		}
		filter.AccountID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			badRequest(w, "limit must be between 1 and 100")
			return
		}
		filter.Limit = n
	}

	list, err := h.tracked.ListTrackedRuns(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, "Failed to list poll sessions")
		return
	}
	response.JSON(w, list)
}
