package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/session"
)

type registryEntry struct {
	screen   *Screen
	ready    chan struct{} // closed once Open has returned
	lastUsed time.Time
}

func (e *registryEntry) opened() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Registry keeps one Screen per username. Screens left idle for longer than
// Options.IdleTTL are closed and dropped unless they are Busy.
type Registry struct {
	opts Options

	mu        sync.Mutex
	entries   map[string]*registryEntry
	lastSweep time.Time
	closed    bool
	evicting  sync.WaitGroup
}

// NewRegistry creates an empty registry whose screens share opts.
func NewRegistry(opts Options) *Registry {
	opts.defaults()
	return &Registry{opts: opts, entries: make(map[string]*registryEntry)}
}

// Get returns the screen of username, creating and opening it on first use.
// Concurrent callers for a new screen all wait until it has been opened.
// A failure to open is reported in the screen's notices, not as an error.
func (r *Registry) Get(ctx context.Context, username string) (*Screen, error) {
	name, err := session.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	now := r.opts.Now()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, context.Canceled
	}
	r.sweepLocked(now)
	e, ok := r.entries[name]
	if !ok {
		e = &registryEntry{screen: NewScreen(name, r.opts), ready: make(chan struct{})}
		r.entries[name] = e
	}
	e.lastUsed = now
	r.mu.Unlock()

	if !ok {
		if err := e.screen.Open(ctx); err != nil {
			e.screen.logger.Warn("dashboard opened with errors", "error", err)
		}
		close(e.ready)
		return e.screen, nil
	}

	select {
	case <-e.ready:
		return e.screen, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns the screen of username if one exists and has been opened.
// It never creates a screen.
func (r *Registry) Lookup(username string) (*Screen, bool) {
	name, err := session.NormalizeUsername(username)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || !e.opened() {
		return nil, false
	}
	e.lastUsed = r.opts.Now()
	return e.screen, true
}

// Len returns the number of screens held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweepLocked evicts idle screens, at most once per minute.
func (r *Registry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < min(r.opts.IdleTTL, time.Minute) {
		return
	}
	r.lastSweep = now
	for name, e := range r.entries {
		if !e.opened() || now.Sub(e.lastUsed) < r.opts.IdleTTL || e.screen.Busy() {
			continue
		}
		delete(r.entries, name)
		r.opts.Logger.Debug("evicting idle dashboard", "username", name)
		r.evicting.Add(1)
		go func(s *Screen) {
			defer r.evicting.Done()
			s.Close()
		}(e.screen)
	}
}

// Close closes every screen.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = map[string]*registryEntry{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *registryEntry) {
			defer wg.Done()
			<-e.ready
			e.screen.Close()
		}(e)
	}
	wg.Wait()
	r.evicting.Wait()
}
