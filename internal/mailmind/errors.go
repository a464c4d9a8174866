package mailmind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
)

// Sentinel errors for backend client failures.
var (
	ErrUnreachable     = errors.New("mailmind backend unreachable")
	ErrTimeout         = errors.New("mailmind request timed out")
	ErrRequestFailed   = errors.New("mailmind request failed")
	ErrInvalidResponse = errors.New("mailmind backend returned invalid response")
)

// Stable error codes attached to APIError.
const (
	CodeUnknown      = "UNKNOWN_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeNetworkError = "NETWORK_ERROR"
)

// User-facing messages. These strings are part of the dashboard contract.
const (
	msgRateLimitedLater = "Rate limit exceeded. Please try again later."
	msgUpstreamMail     = "Unable to connect to email service. Please check your credentials and try again."
	msgTimeout          = "Request timed out. Please try again."
	msgNoConnection     = "Unable to connect to server. Please check your connection."
	msgUnexpected       = "An unexpected error occurred"
)

// APIError is every failure returned by HTTPClient. It carries the stable
// code and metadata from the backend error envelope plus the message a user
// should see.
type APIError struct {
	Status      int
	Code        string
	Message     string
	Metadata    map[string]any
	UserMessage string

	sentinel error
	cause    error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("mailmind: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("mailmind: %s: %v", e.Code, e.cause)
}

func (e *APIError) Unwrap() []error {
	var errs []error
	if e.sentinel != nil {
		errs = append(errs, e.sentinel)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// UserMessage returns the most specific user-facing message carried by err,
// or fallback when err has none.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.UserMessage != "" {
		return apiErr.UserMessage
	}
	return fallback
}

// StatusCode returns the HTTP status of err, or 0 if no response was received.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports whether the backend answered 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

type errorEnvelope struct {
	Error *struct {
		Message  string         `json:"message"`
		Code     string         `json:"code"`
		Metadata map[string]any `json:"metadata"`
	} `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

// parseAPIError builds an APIError from a non-2xx response.
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:   resp.StatusCode,
		Code:     CodeUnknown,
		Metadata: map[string]any{},
		sentinel: ErrRequestFailed,
	}
	generic := fmt.Sprintf("Request failed with status code %d", resp.StatusCode)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Error != nil {
		apiErr.Message = env.Error.Message
		apiErr.Code = env.Error.Code
		if env.Error.Metadata != nil {
			apiErr.Metadata = env.Error.Metadata
		}
		apiErr.UserMessage = firstNonEmpty(env.Error.Message, generic)
	} else {
		detail := detailString(env.Detail)
		apiErr.Message = firstNonEmpty(detail, generic)
		apiErr.UserMessage = firstNonEmpty(detail, generic, msgUnexpected)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if retryAfter, ok := formatRetryAfter(apiErr.Metadata["retry_after"]); ok {
			apiErr.UserMessage = fmt.Sprintf("Rate limit exceeded. Please try again in %s seconds.", retryAfter)
		} else {
			apiErr.UserMessage = msgRateLimitedLater
		}
	case http.StatusBadGateway:
		apiErr.UserMessage = msgUpstreamMail
	}
	return apiErr
}

func timeoutError(err error) *APIError {
	return &APIError{Code: CodeTimeout, UserMessage: msgTimeout, sentinel: ErrTimeout, cause: err}
}

// classifyError maps transport-level errors to an APIError with no status.
func classifyError(err error) *APIError {
	timeout := timeoutError(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeout
	}

	return &APIError{Code: CodeNetworkError, UserMessage: msgNoConnection, sentinel: ErrUnreachable, cause: err}
}

// detailString extracts FastAPI's "detail" when it is a plain string.
// Validation errors carry a list there, which is not user-facing.
func detailString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func formatRetryAfter(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return "", false
		}
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case string:
		return t, t != ""
	}
	return "", false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
