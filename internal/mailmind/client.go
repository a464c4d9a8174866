package mailmind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kiranshivaraju/mailmind/pkg/models"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// Client is the interface for the MailMind analysis backend.
type Client interface {
	ListAccounts(ctx context.Context, username string) ([]models.EmailAccount, error)
	DeleteAccount(ctx context.Context, username string, accountID int64) error
	AddYahooAccount(ctx context.Context, req models.AddYahooAccountRequest) (*models.EmailAccount, error)
	TestConnection(ctx context.Context, req models.TestConnectionRequest) (*models.TestConnectionResult, error)
	AuthorizeOAuth(ctx context.Context, username, email string) (*models.OAuthAuthorization, error)

	StartAnalysis(ctx context.Context, req models.StartAnalysisRequest) (*models.RunRef, error)
	GetRun(ctx context.Context, username string, runID int64) (*models.AnalysisRun, error)
	RetryRun(ctx context.Context, username string, runID int64) (*models.RunRef, error)
	StopRun(ctx context.Context, username string, runID int64) (*models.StopResult, error)
	ListRuns(ctx context.Context, q RunsQuery) (*models.RunPage, error)

	Summary(ctx context.Context, username string) (*models.Summary, error)
	Senders(ctx context.Context, username string, accountID int64, limit int) (*models.SenderInsights, error)
	Categories(ctx context.Context, username string, accountID int64) (*models.CategoryInsights, error)
	Frequency(ctx context.Context, username string, accountID int64) (*models.FrequencyInsights, error)
	YearlyFrequency(ctx context.Context, username string, accountID int64) (*models.YearlyFrequencyInsights, error)
	ProcessedRanges(ctx context.Context, username string, accountID int64) ([]models.ProcessedRange, error)
	Gaps(ctx context.Context, username string, accountID int64) ([]models.Gap, error)
}

// RunsQuery selects one page of run history.
type RunsQuery struct {
	Username  string
	AccountID int64
	Limit     int
	Offset    int
}

// HTTPClient implements Client using the backend's REST API.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a backend client. timeout applies to requests whose
// context carries no deadline of its own; maxRPS <= 0 disables throttling.
func NewHTTPClient(baseURL string, timeout time.Duration, maxRPS float64) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &HTTPClient{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
	}
	if maxRPS > 0 {
		burst := int(maxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(maxRPS), burst)
	}
	return c
}

// --- Accounts ---

func (c *HTTPClient) ListAccounts(ctx context.Context, username string) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if err := c.do(ctx, http.MethodGet, "/api/emails/accounts", userQuery(username), nil, &accounts); err != nil {
		return nil, err
	}
	if accounts == nil {
		return []models.EmailAccount{}, nil
	}
	return accounts, nil
}

func (c *HTTPClient) DeleteAccount(ctx context.Context, username string, accountID int64) error {
	path := "/api/emails/accounts/" + strconv.FormatInt(accountID, 10)
	return c.do(ctx, http.MethodDelete, path, userQuery(username), nil, nil)
}

func (c *HTTPClient) AddYahooAccount(ctx context.Context, req models.AddYahooAccountRequest) (*models.EmailAccount, error) {
	var account models.EmailAccount
	if err := c.do(ctx, http.MethodPost, "/api/emails/accounts/yahoo", nil, req, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *HTTPClient) TestConnection(ctx context.Context, req models.TestConnectionRequest) (*models.TestConnectionResult, error) {
	var result models.TestConnectionResult
	if err := c.do(ctx, http.MethodPost, "/api/emails/accounts/test-connection", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) AuthorizeOAuth(ctx context.Context, username, email string) (*models.OAuthAuthorization, error) {
	q := userQuery(username)
	q.Set("email", email)
	var auth models.OAuthAuthorization
	if err := c.do(ctx, http.MethodGet, "/api/oauth/authorize", q, nil, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// --- Analysis runs ---

func (c *HTTPClient) StartAnalysis(ctx context.Context, req models.StartAnalysisRequest) (*models.RunRef, error) {
	var ref models.RunRef
	if err := c.do(ctx, http.MethodPost, "/api/analysis/batch", nil, req, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *HTTPClient) GetRun(ctx context.Context, username string, runID int64) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	if err := c.do(ctx, http.MethodGet, runPath(runID, ""), userQuery(username), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *HTTPClient) RetryRun(ctx context.Context, username string, runID int64) (*models.RunRef, error) {
	var ref models.RunRef
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/retry"), userQuery(username), nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *HTTPClient) StopRun(ctx context.Context, username string, runID int64) (*models.StopResult, error) {
	var result models.StopResult
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/stop"), userQuery(username), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) ListRuns(ctx context.Context, q RunsQuery) (*models.RunPage, error) {
	params := userQuery(q.Username)
	if q.AccountID > 0 {
		params.Set("account_id", strconv.FormatInt(q.AccountID, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("offset", strconv.Itoa(q.Offset))

	var page models.RunPage
	if err := c.do(ctx, http.MethodGet, "/api/analysis/runs", params, nil, &page); err != nil {
		return nil, err
	}
	if page.Runs == nil {
		page.Runs = []models.AnalysisRun{}
	}
	return &page, nil
}

// --- Insights ---

func (c *HTTPClient) Summary(ctx context.Context, username string) (*models.Summary, error) {
	var s models.Summary
	if err := c.do(ctx, http.MethodGet, "/api/insights/summary", userQuery(username), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Senders(ctx context.Context, username string, accountID int64, limit int) (*models.SenderInsights, error) {
	q := accountQuery(username, accountID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var s models.SenderInsights
	if err := c.do(ctx, http.MethodGet, "/api/insights/senders", q, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Categories(ctx context.Context, username string, accountID int64) (*models.CategoryInsights, error) {
	var ci models.CategoryInsights
	if err := c.do(ctx, http.MethodGet, "/api/insights/categories", accountQuery(username, accountID), nil, &ci); err != nil {
		return nil, err
	}
	return &ci, nil
}

func (c *HTTPClient) Frequency(ctx context.Context, username string, accountID int64) (*models.FrequencyInsights, error) {
	var f models.FrequencyInsights
	if err := c.do(ctx, http.MethodGet, "/api/insights/frequency", accountQuery(username, accountID), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *HTTPClient) YearlyFrequency(ctx context.Context, username string, accountID int64) (*models.YearlyFrequencyInsights, error) {
	var y models.YearlyFrequencyInsights
	if err := c.do(ctx, http.MethodGet, "/api/insights/frequency/yearly", accountQuery(username, accountID), nil, &y); err != nil {
		return nil, err
	}
	return &y, nil
}

func (c *HTTPClient) ProcessedRanges(ctx context.Context, username string, accountID int64) ([]models.ProcessedRange, error) {
	var ranges []models.ProcessedRange
	if err := c.do(ctx, http.MethodGet, "/api/insights/processed-ranges", accountQuery(username, accountID), nil, &ranges); err != nil {
		return nil, err
	}
	if ranges == nil {
		return []models.ProcessedRange{}, nil
	}
	return ranges, nil
}

func (c *HTTPClient) Gaps(ctx context.Context, username string, accountID int64) ([]models.Gap, error) {
	var gaps []models.Gap
	if err := c.do(ctx, http.MethodGet, "/api/insights/processed-ranges/gaps", accountQuery(username, accountID), nil, &gaps); err != nil {
		return nil, err
	}
	if gaps == nil {
		return []models.Gap{}, nil
	}
	return gaps, nil
}

// do sends one request and decodes a 2xx JSON body into out (if non-nil).
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		// Wait gives up early, with an error that does not wrap the context's,
		// when the deadline would pass before a token is free.
		if err := c.limiter.Wait(ctx); err != nil {
			return timeoutError(err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	return nil
}

func userQuery(username string) url.Values {
	return url.Values{"username": {username}}
}

func accountQuery(username string, accountID int64) url.Values {
	q := userQuery(username)
	q.Set("account_id", strconv.FormatInt(accountID, 10))
	return q
}

func runPath(runID int64, suffix string) string {
	return "/api/analysis/runs/" + strconv.FormatInt(runID, 10) + suffix
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
