// Package poller tracks one backend analysis run from the moment it is
// started until it reaches a terminal status.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/mailmind/pkg/models"
)

// DefaultInterval is the period between two status requests.
const DefaultInterval = 2 * time.Second

// Messages delivered to callbacks. The wording is shown to users as-is.
const (
	MsgStatusCheckFailed    = "Failed to check analysis status"
	MsgStopped              = "Analysis stopped successfully."
	MsgCredentialsExpired   = `Analysis failed: Your email account credentials have expired or been revoked. Please reconnect your account using the "Reconnect" button, then try again.`
	MsgFailedPossibleCauses = `Analysis failed. Possible causes: Expired credentials, network issues, or email service unavailable. Check your account status and try again, or use the "Retry" button.`
	MsgFailedGeneric        = "Analysis failed. Please check your account credentials and try again."
)

const eventBuffer = 16

// CompletedMessage is the success message for a completed run.
func CompletedMessage(emailsProcessed int) string {
	return fmt.Sprintf("Analysis completed! Processed %d emails.", emailsProcessed)
}

// Fetcher reads the current state of a run.
type Fetcher interface {
	GetRun(ctx context.Context, username string, runID int64) (*models.AnalysisRun, error)
}

// AccountChecker reports whether an account's credentials are still valid.
type AccountChecker func(ctx context.Context, accountID int64) bool

// Request identifies the run to track.
type Request struct {
	Username  string
	AccountID int64
	RunID     int64

	// CheckAccount is consulted when the run fails, to tell revoked
	// credentials apart from other failures. Optional.
	CheckAccount AccountChecker
}

// Callbacks are invoked from the session goroutine. All are optional.
// At most one of OnSuccess and OnError fires per session; OnComplete follows
// OnSuccess.
type Callbacks struct {
	OnProgress func(models.Progress)
	OnSuccess  func(msg string)
	OnError    func(msg string)
	OnComplete func()
}

// Outcome is how a session ended.
type Outcome struct {
	Result  string // one of the models.Outcome* values
	Message string
	Run     *models.AnalysisRun
	Err     error
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
}

// Poller starts poll sessions against a Fetcher.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	clock    Clock
	logger   *slog.Logger
}

// New creates a Poller. Zero options fall back to DefaultInterval, the real
// clock, and slog.Default().
func New(fetcher Fetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// Track begins polling req.RunID. The session is loading, with an empty
// processing snapshot, as soon as Track returns. Cancelling ctx tears the
// session down like Stop.
func (p *Poller) Track(ctx context.Context, req Request, cb Callbacks) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		req:     req,
		cb:      cb,
		fetcher: p.fetcher,
		logger:  p.logger.With("run_id", req.RunID, "username", req.Username),
		cancel:  cancel,
		events:  make(chan models.Progress, eventBuffer),
		done:    make(chan struct{}),
		loading: true,
		snapshot: &models.Progress{
			RunID:  req.RunID,
			Status: models.RunStatusProcessing,
		},
	}
	ticker := p.clock.NewTicker(p.interval)
	s.logger.Info("tracking analysis run", "interval", p.interval)
	go s.loop(sctx, ticker)
	return s
}

// Session is one live poll of one run.
type Session struct {
	req     Request
	cb      Callbacks
	fetcher Fetcher
	logger  *slog.Logger
	cancel  context.CancelFunc

	events chan models.Progress
	done   chan struct{}

	mu       sync.Mutex
	loading  bool
	snapshot *models.Progress
	outcome  Outcome
}

// RunID returns the tracked run id.
func (s *Session) RunID() int64 { return s.req.RunID }

// Events yields one Progress per non-terminal tick, in the order received.
// The channel is closed when the session resolves. Consumers must drain it;
// the loop blocks while the buffer is full.
func (s *Session) Events() <-chan models.Progress { return s.events }

// Done is closed once the session has resolved.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session resolves and returns its outcome.
func (s *Session) Wait() Outcome {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Loading reports whether the session is still waiting for a terminal status.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot returns a copy of the latest progress, or nil once resolved.
func (s *Session) Snapshot() *models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	p := *s.snapshot
	return &p
}

// Stop tears the session down without calling any callback and without
// contacting the backend. It does not wait; use Wait for that.
func (s *Session) Stop() {
	s.cancel()
}

func (s *Session) loop(ctx context.Context, ticker Ticker) {
	defer s.cancel()
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			s.teardown()
			return
		case <-ticker.C():
		}

		run, err := s.fetcher.GetRun(ctx, s.req.Username, s.req.RunID)
		if ctx.Err() != nil {
			ticker.Stop()
			s.teardown()
			return
		}
		if err != nil {
			ticker.Stop()
			s.clear()
			s.logger.Warn("status check failed", "error", err)
			call1(s.cb.OnError, MsgStatusCheckFailed)
			s.resolve(Outcome{Result: models.OutcomePollError, Message: MsgStatusCheckFailed, Err: err})
			return
		}

		switch {
		case run.Status.IsActive():
			p := models.Progress{
				RunID:           s.req.RunID,
				EmailsProcessed: run.EmailsProcessed,
				TotalEmails:     run.TotalEmails,
				Status:          run.Status,
			}
			s.mu.Lock()
			s.snapshot = &p
			s.mu.Unlock()

			select {
			case s.events <- p:
			case <-ctx.Done():
				ticker.Stop()
				s.teardown()
				return
			}
			if s.cb.OnProgress != nil {
				s.cb.OnProgress(p)
			}
		case run.Status.IsTerminal():
			ticker.Stop()
			s.clear()
			s.settle(ctx, run)
			return
		default:
			s.logger.Debug("ignoring unknown run status", "status", run.Status)
		}
	}
}

func (s *Session) settle(ctx context.Context, run *models.AnalysisRun) {
	switch run.Status {
	case models.RunStatusCompleted:
		msg := CompletedMessage(run.EmailsProcessed)
		s.logger.Info("analysis run completed", "emails_processed", run.EmailsProcessed)
		call1(s.cb.OnSuccess, msg)
		call0(s.cb.OnComplete)
		s.resolve(Outcome{Result: models.OutcomeCompleted, Message: msg, Run: run})
	case models.RunStatusCancelled:
		s.logger.Info("analysis run cancelled")
		call1(s.cb.OnSuccess, MsgStopped)
		call0(s.cb.OnComplete)
		s.resolve(Outcome{Result: models.OutcomeCancelled, Message: MsgStopped, Run: run})
	default:
		msg := s.failureMessage(ctx, run)
		s.logger.Info("analysis run failed", "reason", msg)
		call1(s.cb.OnError, msg)
		s.resolve(Outcome{Result: models.OutcomeFailed, Message: msg, Run: run})
	}
}

func (s *Session) failureMessage(ctx context.Context, run *models.AnalysisRun) string {
	var serverMsg string
	if run.ErrorMessage != nil {
		serverMsg = strings.TrimSpace(*run.ErrorMessage)
	}

	if s.req.CheckAccount != nil && s.req.AccountID > 0 {
		if !s.req.CheckAccount(ctx, s.req.AccountID) {
			return MsgCredentialsExpired
		}
		if serverMsg != "" {
			return serverMsg
		}
		return MsgFailedPossibleCauses
	}

	if serverMsg != "" {
		return serverMsg
	}
	return MsgFailedGeneric
}

func (s *Session) clear() {
	s.mu.Lock()
	s.loading = false
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.clear()
	s.logger.Debug("poll session stopped")
	s.resolve(Outcome{Result: models.OutcomeStopped})
}

func (s *Session) resolve(o Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}

func call1(fn func(string), msg string) {
	if fn != nil {
		fn(msg)
	}
}
