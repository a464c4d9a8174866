// Package dashboard holds the per-user dashboard state: accounts, insights,
// run history, and the single analysis run being tracked.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mailmind/internal/cache"
	"github.com/kiranshivaraju/mailmind/internal/coverage"
	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/internal/poller"
	"github.com/kiranshivaraju/mailmind/internal/runs"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/kiranshivaraju/mailmind/internal/store"
	"github.com/kiranshivaraju/mailmind/pkg/models"
)

// ReadAfterWriteDelay is how long to wait after a run ends before reading
// the data it produced back from the backend.
const ReadAfterWriteDelay = 500 * time.Millisecond

// OAuthPendingTTL is how long a started Gmail sign-in accepts its callback.
const OAuthPendingTTL = 10 * time.Minute

var (
	ErrAnalysisRunning = errors.New("an analysis is already running")
	ErrNoAccount       = errors.New("no account selected")
	ErrNotRunning      = errors.New("no analysis running")
	ErrUnknownAccount  = errors.New("account not found")
	ErrNotRetryable    = errors.New("only failed runs can be retried")
	ErrOAuthNotPending = errors.New("no Gmail sign-in is pending")
)

// Notice texts shown to the user.
const (
	MsgSelectAccount    = "Please select an account"
	MsgNoAnalysis       = "No analysis running"
	MsgAnalysisStopped  = "Analysis stopped successfully"
	MsgAccountAdded     = "Account added successfully!"
	MsgAccountsGaveUp   = "Request timed out after multiple attempts. Please refresh to try again."
	msgStartFailed      = "Failed to start analysis"
	msgRetryFailed      = "Failed to retry analysis"
	msgStopFailed       = "Failed to stop analysis"
	msgLoadAccounts     = "Failed to load accounts"
	msgDeleteAccount    = "Failed to delete account"
	msgAddYahoo         = "Failed to add Yahoo account"
	msgTestConnection   = "Connection test failed"
	msgOAuthStart       = "Failed to start OAuth flow"
	msgReanalyzeSuffix  = " (re-analyzing existing ranges)"
	msgRetryingTemplate = "Request timed out. Retrying... (%d/%d)"
)

// RunRecorder keeps the service's own log of poll sessions.
type RunRecorder interface {
	CreateTrackedRun(ctx context.Context, run *models.TrackedRun) error
	FinishTrackedRun(ctx context.Context, id uuid.UUID, result store.TrackedRunResult) error
}

// Options configures a Screen. Zero values fall back to the defaults noted
// on each field.
type Options struct {
	Backend  mailmind.Client
	Cache    cache.Cache  // optional insights cache
	Recorder RunRecorder  // optional
	Clock    poller.Clock // RealClock
	Now      func() time.Time
	Logger   *slog.Logger

	PollInterval     time.Duration // poller.DefaultInterval
	AccountsTimeout  time.Duration // 30s
	AccountsRetries  int           // 2; negative disables retries
	AccountsBackoff  time.Duration // 2s
	StartTimeout     time.Duration // 60s
	StatusTimeout    time.Duration // 60s
	InsightsCacheTTL time.Duration // 5m
	RefreshDelay     time.Duration // ReadAfterWriteDelay
	IdleTTL          time.Duration // 30m; used by Registry
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = poller.RealClock{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AccountsTimeout <= 0 {
		o.AccountsTimeout = 30 * time.Second
	}
	if o.AccountsRetries == 0 {
		o.AccountsRetries = 2
	} else if o.AccountsRetries < 0 {
		o.AccountsRetries = 0
	}
	if o.AccountsBackoff <= 0 {
		o.AccountsBackoff = 2 * time.Second
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 60 * time.Second
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = 60 * time.Second
	}
	if o.InsightsCacheTTL <= 0 {
		o.InsightsCacheTTL = 5 * time.Minute
	}
	if o.RefreshDelay <= 0 {
		o.RefreshDelay = ReadAfterWriteDelay
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
}

// Notices are the banners currently shown. Starting a new action clears them.
type Notices struct {
	Success string `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Info    string `json:"info,omitempty"`
}

// Insights are the charts of the selected account. Yearly is nil when the
// backend has no yearly data.
type Insights struct {
	Senders    *models.SenderInsights          `json:"senders"`
	Categories *models.CategoryInsights        `json:"categories"`
	Frequency  *models.FrequencyInsights       `json:"frequency"`
	Yearly     *models.YearlyFrequencyInsights `json:"yearly"`
}

// View is a consistent snapshot of the whole screen.
type View struct {
	Username          string                `json:"username"`
	Accounts          []models.EmailAccount `json:"accounts"`
	SelectedAccountID int64                 `json:"selected_account_id,omitempty"`
	Summary           *models.Summary       `json:"summary"`
	Insights          Insights              `json:"insights"`
	Runs              []runs.Entry          `json:"runs"`
	HasMoreRuns       bool                  `json:"has_more_runs"`
	LoadingMoreRuns   bool                  `json:"loading_more_runs"`
	TotalRuns         int                   `json:"total_runs"`
	RunningRunID      int64                 `json:"running_run_id,omitempty"`
	Loading           bool                  `json:"loading"`
	Progress          *models.Progress      `json:"progress"`
	NextRange         *coverage.Selection   `json:"next_range,omitempty"`
	Notices           Notices               `json:"notices"`
}

// AnalysisRequest is a date range to analyze for the selected account.
type AnalysisRequest struct {
	StartDate       time.Time
	EndDate         time.Time
	ForceReanalysis bool
}

type pendingOAuth struct {
	state   string
	expires time.Time
}

type tracking struct {
	session   *poller.Session
	runID     int64
	accountID int64
	recordID  uuid.UUID
	done      chan struct{}
}

// Screen is the dashboard of one user. All methods are safe for concurrent
// use. Background work started by a Screen stops when Close is called.
type Screen struct {
	username string
	opts     Options
	backend  mailmind.Client
	poller   *poller.Poller
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	accounts  []models.EmailAccount
	selected  int64
	summary   *models.Summary
	insights  Insights
	history   *runs.History
	running   int64
	tracking  *tracking
	loading   bool
	progress  *models.Progress
	nextRange *coverage.Selection
	notices   Notices
	oauth     *pendingOAuth
}

// NewScreen creates the dashboard of username. Nothing is loaded until
// Open is called.
func NewScreen(username string, opts Options) *Screen {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger.With("username", username)
	return &Screen{
		username: username,
		opts:     opts,
		backend:  opts.Backend,
		poller: poller.New(opts.Backend, poller.Options{
			Interval: opts.PollInterval,
			Clock:    opts.Clock,
			Logger:   opts.Logger,
		}),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		accounts: []models.EmailAccount{},
		history:  runs.NewHistory(opts.Backend, username, 0, runs.DefaultPageSize),
	}
}

// Username returns the owner of the screen.
func (s *Screen) Username() string { return s.username }

// Open loads the summary and the account list, which in turn selects an
// account and loads its insights and runs.
func (s *Screen) Open(ctx context.Context) error {
	s.LoadSummary(ctx)
	return s.LoadAccounts(ctx)
}

// Close stops tracking and waits for background work to finish.
func (s *Screen) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// View returns a snapshot of the screen.
func (s *Screen) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Username:          s.username,
		Accounts:          append([]models.EmailAccount{}, s.accounts...),
		SelectedAccountID: s.selected,
		Summary:           s.summary,
		Insights:          s.insights,
		Runs:              s.history.Entries(),
		HasMoreRuns:       s.history.HasMore(),
		LoadingMoreRuns:   s.history.LoadingMore(),
		TotalRuns:         s.history.Total(),
		RunningRunID:      s.running,
		Loading:           s.loading,
		NextRange:         s.nextRange,
		Notices:           s.notices,
	}
	if s.progress != nil {
		p := *s.progress
		v.Progress = &p
	}
	return v
}

// Progress reports whether an analysis is loading and its latest progress.
func (s *Screen) Progress() (bool, *models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return s.loading, nil
	}
	p := *s.progress
	return s.loading, &p
}

// --- accounts ---

// LoadAccounts fetches the account list. Timeouts are retried with a
// backoff; on any other failure the accounts already loaded are kept.
func (s *Screen) LoadAccounts(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.opts.AccountsTimeout)
		accounts, err := s.backend.ListAccounts(actx, s.username)
		cancel()

		switch {
		case err == nil:
			s.applyAccounts(ctx, accounts, attempt > 0)
			return nil
		case mailmind.IsNotFound(err):
			s.applyAccounts(ctx, nil, attempt > 0)
			return nil
		case errors.Is(err, mailmind.ErrTimeout) && attempt < s.opts.AccountsRetries:
			s.setNotice(func(n *Notices) {
				n.Info = fmt.Sprintf(msgRetryingTemplate, attempt+1, s.opts.AccountsRetries)
			})
			s.logger.Warn("account listing timed out, retrying", "attempt", attempt+1)
			select {
			case <-s.opts.Clock.After(s.opts.AccountsBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		msg := mailmind.UserMessage(err, msgLoadAccounts)
		if errors.Is(err, mailmind.ErrTimeout) && s.opts.AccountsRetries > 0 {
			msg = MsgAccountsGaveUp
		}
		s.setNotice(func(n *Notices) {
			n.Info = ""
			n.Error = msgLoadAccounts + ": " + msg
		})
		s.logger.Error("failed to load accounts", "error", err)
		return fmt.Errorf("load accounts: %w", err)
	}
}

func (s *Screen) applyAccounts(ctx context.Context, accounts []models.EmailAccount, retried bool) {
	if accounts == nil {
		accounts = []models.EmailAccount{}
	}

	s.mu.Lock()
	s.accounts = accounts
	if retried {
		s.notices.Info = ""
	}
	prev := s.selected
	next := prev
	switch {
	case len(accounts) == 0:
		next = 0
	case !containsAccount(accounts, prev):
		next = accounts[0].ID
	}
	s.mu.Unlock()

	if next != prev {
		s.switchAccount(ctx, next)
	}
}

func containsAccount(accounts []models.EmailAccount, id int64) bool {
	if id == 0 {
		return false
	}
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// SelectAccount makes accountID the selected account.
func (s *Screen) SelectAccount(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	known := containsAccount(s.accounts, accountID)
	same := s.selected == accountID
	s.mu.Unlock()
	if !known {
		return ErrUnknownAccount
	}
	if same {
		return nil
	}
	s.switchAccount(ctx, accountID)
	return nil
}

// switchAccount stops tracking, resets the run history, and loads the data
// of the new selection.
func (s *Screen) switchAccount(ctx context.Context, accountID int64) {
	s.stopTracking()

	s.mu.Lock()
	s.selected = accountID
	s.running = 0
	s.loading = false
	s.progress = nil
	s.nextRange = nil
	s.insights = Insights{}
	s.history = runs.NewHistory(s.backend, s.username, accountID, runs.DefaultPageSize)
	s.mu.Unlock()

	if accountID == 0 {
		return
	}
	s.LoadInsights(ctx)
	s.ReloadRuns(ctx)
}

// DeleteAccount removes an account and reloads the list.
func (s *Screen) DeleteAccount(ctx context.Context, accountID int64) error {
	if err := s.backend.DeleteAccount(ctx, s.username, accountID); err != nil {
		s.setNotice(func(n *Notices) {
			n.Error = msgDeleteAccount + ": " + mailmind.UserMessage(err, msgDeleteAccount)
		})
		return fmt.Errorf("delete account %d: %w", accountID, err)
	}
	s.invalidateInsights(ctx, accountID)
	return s.LoadAccounts(ctx)
}

// AddYahooAccount registers a Yahoo mailbox and reloads the list.
func (s *Screen) AddYahooAccount(ctx context.Context, email, appPassword string) (*models.EmailAccount, error) {
	s.clearNotices()
	acct, err := s.backend.AddYahooAccount(ctx, models.AddYahooAccountRequest{
		Email:       email,
		AppPassword: appPassword,
		Username:    s.username,
	})
	if err != nil {
		s.setError(mailmind.UserMessage(err, msgAddYahoo))
		return nil, fmt.Errorf("add yahoo account: %w", err)
	}
	s.setNotice(func(n *Notices) { n.Success = MsgAccountAdded })
	if err := s.LoadAccounts(ctx); err != nil {
		s.logger.Warn("reload after adding account failed", "error", err)
	}
	return acct, nil
}

// TestConnection checks mailbox credentials without storing them.
func (s *Screen) TestConnection(ctx context.Context, req models.TestConnectionRequest) (*models.TestConnectionResult, error) {
	res, err := s.backend.TestConnection(ctx, req)
	if err != nil {
		return nil, &ActionError{Message: mailmind.UserMessage(err, msgTestConnection), Err: err}
	}
	return res, nil
}

// AuthorizeGmail starts the Gmail OAuth flow for email.
func (s *Screen) AuthorizeGmail(ctx context.Context, email string) (*models.OAuthAuthorization, error) {
	auth, err := s.backend.AuthorizeOAuth(ctx, s.username, email)
	if err != nil {
		msg := mailmind.UserMessage(err, msgOAuthStart)
		s.setError(msg)
		return nil, &ActionError{Message: msg, Err: err}
	}
	s.mu.Lock()
	s.oauth = &pendingOAuth{state: auth.State, expires: s.opts.Now().Add(OAuthPendingTTL)}
	s.mu.Unlock()
	return auth, nil
}

// HandleOAuth applies the result of the OAuth redirect. It is accepted only
// while a sign-in started by AuthorizeGmail is pending, and consumes it. A
// state echoed by the callback must match the one the backend issued. On
// success the accounts are reloaded once the backend has had time to store
// the new one.
func (s *Screen) HandleOAuth(cb session.Callback) error {
	s.mu.Lock()
	p := s.oauth
	if p == nil || s.opts.Now().After(p.expires) {
		s.oauth = nil
		s.mu.Unlock()
		return ErrOAuthNotPending
	}
	if cb.State != "" && p.state != "" && cb.State != p.state {
		s.mu.Unlock()
		return ErrOAuthNotPending
	}
	s.oauth = nil
	s.mu.Unlock()

	switch {
	case cb.Success:
		s.setNotice(func(n *Notices) { n.Success = session.OAuthSuccessMessage; n.Error = "" })
		s.after(s.opts.RefreshDelay, func(ctx context.Context) {
			if err := s.LoadAccounts(ctx); err != nil {
				s.logger.Warn("reload after oauth failed", "error", err)
			}
		})
	case cb.Error != "":
		s.setError(cb.Error)
	}
	return nil
}

// Busy reports whether the screen has work a user is waiting on: a tracked
// run, an action in flight or a pending Gmail sign-in.
func (s *Screen) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	oauth := s.oauth != nil && !s.opts.Now().After(s.oauth.expires)
	return s.tracking != nil || s.loading || oauth
}

// checkAccount reports whether the account is still active. Any failure
// reads as active so that the generic failure message is shown.
func (s *Screen) checkAccount(ctx context.Context, accountID int64) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()
	accounts, err := s.backend.ListAccounts(ctx, s.username)
	if err != nil {
		s.logger.Debug("account status check failed", "account_id", accountID, "error", err)
		return true
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return a.IsActive
		}
	}
	return true
}

// --- insights ---

// LoadSummary refreshes the cross-account summary. A 404 means the user
// has nothing yet; other errors keep the previous summary.
func (s *Screen) LoadSummary(ctx context.Context) {
	var sum models.Summary
	if s.cached(ctx, cache.SummaryKey(s.username), &sum) {
		s.mu.Lock()
		s.summary = &sum
		s.mu.Unlock()
		return
	}

	got, err := s.backend.Summary(ctx, s.username)
	switch {
	case err == nil:
		s.store(ctx, cache.SummaryKey(s.username), got)
	case mailmind.IsNotFound(err):
		got = &models.Summary{Accounts: []models.AccountSummary{}}
	default:
		s.logger.Warn("failed to load summary", "error", err)
		return
	}
	s.mu.Lock()
	s.summary = got
	s.mu.Unlock()
}

// LoadInsights refreshes the charts of the selected account. Senders,
// categories, and frequency must all succeed for anything to change;
// yearly data is optional.
func (s *Screen) LoadInsights(ctx context.Context) {
	s.mu.Lock()
	accountID := s.selected
	s.mu.Unlock()
	if accountID == 0 {
		return
	}

	var (
		ins                      Insights
		wg                       sync.WaitGroup
		errSend, errCat, errFreq error
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		ins.Senders, errSend = loadCached(ctx, s, accountID, cache.InsightSenders, func() (*models.SenderInsights, error) {
			return s.backend.Senders(ctx, s.username, accountID, 0)
		})
	}()
	go func() {
		defer wg.Done()
		ins.Categories, errCat = loadCached(ctx, s, accountID, cache.InsightCategories, func() (*models.CategoryInsights, error) {
			return s.backend.Categories(ctx, s.username, accountID)
		})
	}()
	go func() {
		defer wg.Done()
		ins.Frequency, errFreq = loadCached(ctx, s, accountID, cache.InsightFrequency, func() (*models.FrequencyInsights, error) {
			return s.backend.Frequency(ctx, s.username, accountID)
		})
	}()
	go func() {
		defer wg.Done()
		y, err := loadCached(ctx, s, accountID, cache.InsightYearly, func() (*models.YearlyFrequencyInsights, error) {
			return s.backend.YearlyFrequency(ctx, s.username, accountID)
		})
		if err == nil && y != nil && len(y.Years) > 0 {
			ins.Yearly = y
		}
	}()
	wg.Wait()

	if err := errors.Join(errSend, errCat, errFreq); err != nil {
		s.logger.Warn("failed to load insights", "account_id", accountID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == accountID {
		s.insights = ins
	}
}

func loadCached[T any](ctx context.Context, s *Screen, accountID int64, kind string, fetch func() (*T, error)) (*T, error) {
	key := cache.InsightsKey(s.username, accountID, kind)
	var v T
	if s.cached(ctx, key, &v) {
		return &v, nil
	}
	got, err := fetch()
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, got)
	return got, nil
}

func (s *Screen) cached(ctx context.Context, key string, v any) bool {
	if s.opts.Cache == nil {
		return false
	}
	ok, err := cache.GetJSON(ctx, s.opts.Cache, key, v)
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	return ok
}

func (s *Screen) store(ctx context.Context, key string, v any) {
	if s.opts.Cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.opts.Cache, key, v, s.opts.InsightsCacheTTL); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (s *Screen) invalidateInsights(ctx context.Context, accountID int64) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.Delete(ctx, cache.InsightKeys(s.username, accountID)...); err != nil {
		s.logger.Warn("cache invalidation failed", "account_id", accountID, "error", err)
	}
}

// --- runs ---

// ReloadRuns reloads the first page of run history and reconciles the
// running run with it.
func (s *Screen) ReloadRuns(ctx context.Context) {
	s.mu.Lock()
	h := s.history
	selected := s.selected
	s.mu.Unlock()
	if selected == 0 {
		return
	}
	if err := h.Reset(ctx); err != nil {
		s.logger.Warn("failed to load analysis runs", "error", err)
		return
	}
	s.reconcile(h)
}

// LoadMoreRuns appends the next page of run history.
func (s *Screen) LoadMoreRuns(ctx context.Context) (bool, error) {
	s.mu.Lock()
	h := s.history
	s.mu.Unlock()
	loaded, err := h.LoadMore(ctx)
	if err != nil {
		return false, fmt.Errorf("load more runs: %w", err)
	}
	if loaded {
		s.reconcile(h)
	}
	return loaded, nil
}

// reconcile adopts a run the backend still reports active. It only applies
// when no poll session is live, so that a session's own view wins.
func (s *Screen) reconcile(h *runs.History) {
	loaded := h.Runs()

	s.mu.Lock()
	if s.history != h || s.tracking != nil {
		s.mu.Unlock()
		return
	}
	next := runs.ReconcileRunning(s.running, loaded)
	accountID := s.selected
	s.running = next
	s.mu.Unlock()

	if next != 0 {
		s.logger.Info("resuming tracking of active run", "run_id", next)
		s.track(next, accountID, models.TriggerResume)
	}
}

// --- analysis ---

// StartAnalysis asks the backend to analyze a date range of the selected
// account and tracks the new run.
func (s *Screen) StartAnalysis(ctx context.Context, req AnalysisRequest) (*models.RunRef, error) {
	s.mu.Lock()
	accountID := s.selected
	if accountID == 0 {
		s.notices.Error = MsgSelectAccount
		s.mu.Unlock()
		return nil, ErrNoAccount
	}
	if s.loading {
		s.mu.Unlock()
		return nil, ErrAnalysisRunning
	}
	s.loading = true
	s.notices = Notices{}
	s.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	ref, err := s.backend.StartAnalysis(sctx, models.StartAnalysisRequest{
		Username:        s.username,
		AccountID:       accountID,
		StartDate:       models.NewTimestamp(req.StartDate),
		EndDate:         models.NewTimestamp(req.EndDate),
		ForceReanalysis: req.ForceReanalysis,
	})
	cancel()
	if err != nil {
		msg := mailmind.UserMessage(err, msgStartFailed)
		s.mu.Lock()
		s.loading = false
		s.running = 0
		s.notices.Error = msg
		s.mu.Unlock()
		return nil, &ActionError{Message: msg, Err: err}
	}

	msg := fmt.Sprintf("Analysis started! Run ID: %d", ref.RunID)
	if req.ForceReanalysis {
		msg += msgReanalyzeSuffix
	}
	s.mu.Lock()
	s.notices.Success = msg
	s.nextRange = nil
	s.mu.Unlock()

	s.track(ref.RunID, accountID, models.TriggerStart)
	s.ReloadRuns(ctx)
	return ref, nil
}

// RetryRun asks the backend to rerun a failed run and tracks the new run.
// A run shown in the loaded history must have failed; runs beyond the
// loaded pages are left to the backend to judge.
func (s *Screen) RetryRun(ctx context.Context, runID int64) (*models.RunRef, error) {
	s.mu.Lock()
	h := s.history
	s.mu.Unlock()
	if !retryable(h, runID) {
		return nil, ErrNotRetryable
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil, ErrAnalysisRunning
	}
	accountID := s.selected
	s.loading = true
	s.notices = Notices{}
	s.mu.Unlock()

	ref, err := s.backend.RetryRun(ctx, s.username, runID)
	if err != nil {
		msg := mailmind.UserMessage(err, msgRetryFailed)
		s.mu.Lock()
		s.loading = false
		s.notices.Error = msg
		s.mu.Unlock()
		return nil, &ActionError{Message: msg, Err: err}
	}

	s.setNotice(func(n *Notices) { n.Success = fmt.Sprintf("Analysis retry started! Run ID: %d", ref.RunID) })
	s.track(ref.RunID, accountID, models.TriggerRetry)
	s.ReloadRuns(ctx)
	return ref, nil
}

func retryable(h *runs.History, runID int64) bool {
	for _, id := range runs.FailedRunIDs(h.Entries()) {
		if id == runID {
			return true
		}
	}
	for _, r := range h.Runs() {
		if r.ID == runID {
			return false
		}
	}
	return true
}

// StopAnalysis asks the backend to cancel the running run. The poll
// session keeps going until it observes the cancelled status.
func (s *Screen) StopAnalysis(ctx context.Context) (*models.StopResult, error) {
	s.mu.Lock()
	runID := s.running
	if runID == 0 {
		s.notices.Error = MsgNoAnalysis
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.notices = Notices{}
	s.mu.Unlock()

	res, err := s.backend.StopRun(ctx, s.username, runID)
	if err != nil {
		msg := mailmind.UserMessage(err, msgStopFailed)
		s.setError(msg)
		return nil, &ActionError{Message: msg, Err: err}
	}

	msg := res.Message
	if msg == "" {
		msg = MsgAnalysisStopped
	}
	s.mu.Lock()
	s.notices.Success = msg
	s.running = 0
	s.loading = false
	s.mu.Unlock()

	s.ReloadRuns(ctx)
	s.scheduleRefresh()
	return res, nil
}

// SelectGap prefills the next analysis range from a coverage gap.
func (s *Screen) SelectGap(g models.Gap) coverage.Selection {
	sel := coverage.SelectGap(g)
	s.mu.Lock()
	s.nextRange = &sel
	s.notices = Notices{Success: sel.Message}
	s.mu.Unlock()
	return sel
}

// Coverage builds the coverage panel of the selected account. When the
// backend cannot report gaps they are derived from the ranges.
func (s *Screen) Coverage(ctx context.Context) (*coverage.View, error) {
	s.mu.Lock()
	accountID := s.selected
	s.mu.Unlock()
	if accountID == 0 {
		return nil, ErrNoAccount
	}

	ranges, err := s.backend.ProcessedRanges(ctx, s.username, accountID)
	if err != nil {
		return nil, fmt.Errorf("processed ranges: %w", err)
	}
	gaps, err := s.backend.Gaps(ctx, s.username, accountID)
	if err != nil {
		s.logger.Debug("gap listing unavailable, deriving from ranges", "error", err)
		gaps = nil
	}
	v := coverage.Build(ranges, gaps, s.opts.Now())
	return &v, nil
}

// track stops any live session and starts polling runID. Only one session
// is ever live per screen.
func (s *Screen) track(runID, accountID int64, trigger string) {
	s.stopTracking()

	t := &tracking{runID: runID, accountID: accountID, recordID: uuid.New(), done: make(chan struct{})}
	s.record(t, trigger)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		close(t.done)
		return
	}
	s.tracking = t
	s.running = runID
	s.loading = true
	s.progress = &models.Progress{RunID: runID, Status: models.RunStatusProcessing}
	t.session = s.poller.Track(s.ctx, poller.Request{
		Username:     s.username,
		AccountID:    accountID,
		RunID:        runID,
		CheckAccount: s.checkAccount,
	}, poller.Callbacks{
		OnSuccess:  func(msg string) { s.settled(t, Notices{Success: msg}) },
		OnError:    func(msg string) { s.settled(t, Notices{Error: msg}) },
		OnComplete: func() { s.scheduleRefresh() },
	})
	s.wg.Add(1)
	s.mu.Unlock()

	go s.watch(t)
}

// watch drains progress events into the screen and records how the
// session ended.
func (s *Screen) watch(t *tracking) {
	defer s.wg.Done()
	defer close(t.done)

	for p := range t.session.Events() {
		s.mu.Lock()
		if s.tracking == t && s.running == t.runID {
			s.progress = &p
		}
		s.mu.Unlock()
	}
	out := t.session.Wait()

	s.mu.Lock()
	if s.tracking == t {
		s.tracking = nil
		s.progress = nil
		if out.Result != models.OutcomeStopped {
			s.loading = false
			if s.running == t.runID {
				s.running = 0
			}
		}
	}
	s.mu.Unlock()

	s.finishRecord(t, out)
}

func (s *Screen) settled(t *tracking, n Notices) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking != t {
		return
	}
	s.loading = false
	s.progress = nil
	if s.running == t.runID {
		s.running = 0
	}
	if n.Success != "" {
		s.notices.Success = n.Success
	}
	if n.Error != "" {
		s.notices.Error = n.Error
	}
}

func (s *Screen) stopTracking() {
	s.mu.Lock()
	t := s.tracking
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.session.Stop()
	<-t.done
}

func (s *Screen) record(t *tracking, trigger string) {
	if s.opts.Recorder == nil {
		return
	}
	err := s.opts.Recorder.CreateTrackedRun(s.ctx, &models.TrackedRun{
		ID:        t.recordID,
		Username:  s.username,
		AccountID: t.accountID,
		RunID:     t.runID,
		Trigger:   trigger,
		StartedAt: s.opts.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to record poll session", "run_id", t.runID, "error", err)
	}
}

func (s *Screen) finishRecord(t *tracking, out poller.Outcome) {
	if s.opts.Recorder == nil {
		return
	}
	res := store.TrackedRunResult{Outcome: out.Result, Message: out.Message}
	if out.Run != nil {
		res.EmailsProcessed = out.Run.EmailsProcessed
	}
	// The screen context may already be cancelled when the session ends.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.opts.Recorder.FinishTrackedRun(ctx, t.recordID, res); err != nil {
		s.logger.Warn("failed to finish poll session record", "run_id", t.runID, "error", err)
	}
}

// scheduleRefresh reloads everything a finished run may have changed,
// after ReadAfterWriteDelay.
func (s *Screen) scheduleRefresh() {
	s.after(s.opts.RefreshDelay, s.refresh)
}

func (s *Screen) refresh(ctx context.Context) {
	s.mu.Lock()
	accountID := s.selected
	s.mu.Unlock()

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Delete(ctx, cache.SummaryKey(s.username)); err != nil {
			s.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	if accountID != 0 {
		s.invalidateInsights(ctx, accountID)
	}
	s.LoadSummary(ctx)
	s.LoadInsights(ctx)
	s.ReloadRuns(ctx)
}

// after runs fn on a background goroutine once d has elapsed, unless the
// screen is closed first.
func (s *Screen) after(d time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	timer := s.opts.Clock.After(d)
	go func() {
		defer s.wg.Done()
		select {
		case <-timer:
			fn(s.ctx)
		case <-s.ctx.Done():
		}
	}()
}

// --- notices ---

func (s *Screen) setNotice(fn func(n *Notices)) {
	s.mu.Lock()
	fn(&s.notices)
	s.mu.Unlock()
}

func (s *Screen) setError(msg string) {
	s.setNotice(func(n *Notices) { n.Error = msg })
}

func (s *Screen) clearNotices() {
	s.setNotice(func(n *Notices) { *n = Notices{} })
}

// ActionError is a failed user action. Message is what the user sees.
type ActionError struct {
	Message string
	Err     error
}

func (e *ActionError) Error() string { return e.Message }

func (e *ActionError) Unwrap() error { return e.Err }
