// Package handler implements the dashboard service's HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/mailmind/internal/api/middleware"
	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/dashboard"
	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/kiranshivaraju/mailmind/internal/store"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid JSON body")

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
}

// pathInt64 reads a positive integer URL parameter.
func pathInt64(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// writeError maps dashboard and backend errors onto the error envelope.
// fallback is the message used when err carries none for the user.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var actionErr *dashboard.ActionError
	msg := mailmind.UserMessage(err, fallback)
	if errors.As(err, &actionErr) {
		msg = actionErr.Message
	}

	switch {
	case errors.Is(err, session.ErrEmptyUsername):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Please enter a username", nil)
	case errors.Is(err, dashboard.ErrNoAccount):
		response.Error(w, http.StatusConflict, "NO_ACCOUNT_SELECTED", dashboard.MsgSelectAccount, nil)
	case errors.Is(err, dashboard.ErrAnalysisRunning):
		response.Error(w, http.StatusConflict, "ANALYSIS_RUNNING", "An analysis is already running", nil)
	case errors.Is(err, dashboard.ErrNotRunning):
		response.Error(w, http.StatusConflict, "NO_ANALYSIS_RUNNING", dashboard.MsgNoAnalysis, nil)
	case errors.Is(err, dashboard.ErrNotRetryable):
		response.Error(w, http.StatusConflict, "RUN_NOT_RETRYABLE", "Only failed runs can be retried", nil)
	case errors.Is(err, dashboard.ErrOAuthNotPending):
		response.Error(w, http.StatusBadRequest, "OAUTH_NOT_PENDING", "No Gmail sign-in is pending for this user", nil)
	case errors.Is(err, dashboard.ErrUnknownAccount):
		response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, mailmind.ErrTimeout):
		response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT", msg, nil)
	case errors.Is(err, mailmind.ErrUnreachable):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", msg, nil)
	default:
		status := mailmind.StatusCode(err)
		switch {
		case status == http.StatusTooManyRequests:
			response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", msg, backendMetadata(err))
		case status >= 400 && status < 500:
			response.Error(w, status, backendCode(err), msg, backendMetadata(err))
		case status > 0:
			response.Error(w, http.StatusBadGateway, backendCode(err), msg, backendMetadata(err))
		default:
			slog.Error("request failed",
				"request_id", mw.GetRequestID(r.Context()),
				"path", r.URL.Path,
				"error", err,
			)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", msg, nil)
		}
	}
}

func backendCode(err error) string {
	var apiErr *mailmind.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" && apiErr.Code != mailmind.CodeUnknown {
		return apiErr.Code
	}
	return "BACKEND_ERROR"
}

func backendMetadata(err error) any {
	var apiErr *mailmind.APIError
	if errors.As(err, &apiErr) && len(apiErr.Metadata) > 0 {
		return apiErr.Metadata
	}
	return nil
}
