// Package registry tracks live sessions and reaps the ones that go
// idle. It is the sole lifecycle authority: sessions are created,
// looked up, and closed only through it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avannotate/pipechat/internal/metrics"
	"github.com/avannotate/pipechat/internal/runtime"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/session"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultIdleTimeout reaps sessions with no activity for this long.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultSweepInterval bounds how stale the idle check may be.
	DefaultSweepInterval = time.Minute

	// tombstoneSize caps how many expired ids are remembered so that
	// lookups on a reaped session can be told apart from lookups on an
	// id that never existed.
	tombstoneSize = 1024
)

// Registry owns every live session.
type Registry struct {
	directory *catalog.Directory
	planner   ports.Planner

	mu       sync.RWMutex
	sessions map[string]*session.Session
	expired  *lru.Cache[string, time.Time]

	idleTimeout   time.Duration
	sweepInterval time.Duration
	retention     int

	logger  *slog.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures the Registry.
type Option func(*Registry)

// WithIdleTimeout overrides the idle expiry window. Zero disables
// reaping entirely.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

// WithSweepInterval overrides how often the reaper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = d
	}
}

// WithRetention sets the per-session event log retention.
func WithRetention(n int) Option {
	return func(r *Registry) {
		r.retention = n
	}
}

// WithLogger configures the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics wires the session gauges and counters.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = mx
	}
}

// New creates a registry and starts its idle reaper.
func New(dir *catalog.Directory, planner ports.Planner, opts ...Option) *Registry {
	expired, _ := lru.New[string, time.Time](tombstoneSize)
	r := &Registry{
		directory:     dir,
		planner:       planner,
		sessions:      make(map[string]*session.Session),
		expired:       expired,
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.New(slog.DiscardHandler),
		metrics:       metrics.Nop(),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweepLoop()
	return r
}

// Create starts a new session and returns it.
func (r *Registry) Create() *session.Session {
	s := session.New(r.directory, r.planner, r.retention,
		runtime.WithLogger(r.logger),
		runtime.WithMetrics(r.metrics),
	)

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionsCreated.Inc()
	r.metrics.SessionsActive.Set(float64(n))
	r.logger.Info("session created", "session_id", s.ID, "active", n)
	return s
}

// Get looks up a live session. A reaped id returns ErrSessionExpired;
// an id the registry never issued returns ErrSessionNotFound.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if _, was := r.expired.Get(id); was {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionExpired)
	}
	return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
}

// List returns the ids of all live sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close terminates one session explicitly. Explicit closure is not an
// expiry, so a later Get reports not-found rather than expired.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	s.Close()
	r.metrics.SessionsActive.Set(float64(n))
	r.logger.Info("session closed", "session_id", id, "active", n)
	return nil
}

// Shutdown stops the reaper and closes every live session.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.metrics.SessionsActive.Set(0)
	return nil
}

func (r *Registry) sweepLoop() {
	defer close(r.done)
	if r.idleTimeout <= 0 {
		<-r.stopCh
		return
	}
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now().UTC()

	r.mu.Lock()
	var reaped []*session.Session
	for id, s := range r.sessions {
		if s.IdleFor() >= r.idleTimeout {
			delete(r.sessions, id)
			r.expired.Add(id, now)
			reaped = append(reaped, s)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if len(reaped) == 0 {
		return
	}
	for _, s := range reaped {
		s.Close()
		r.metrics.SessionsExpired.Inc()
		r.logger.Info("session expired", "session_id", s.ID, "idle", s.IdleFor().Round(time.Second))
	}
	r.metrics.SessionsActive.Set(float64(n))
}
