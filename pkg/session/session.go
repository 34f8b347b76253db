package session

import (
	"context"
	"sync"
	"time"

	"github.com/avannotate/pipechat/internal/runtime"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/stream"
	"github.com/google/uuid"
)

// Session bundles the per-conversation state: the pipeline graph under
// construction, the ordered event log, and the turn machine that
// mutates both. A session is created by the registry and never shared
// across registries.
type Session struct {
	ID        string
	CreatedAt time.Time

	Graph   *graph.Graph
	Log     *stream.Log
	Machine *runtime.Machine

	mu         sync.Mutex
	lastActive time.Time
}

// New creates a session with a fresh graph, log, and machine.
func New(dir *catalog.Directory, planner ports.Planner, retention int, machineOpts ...runtime.Option) *Session {
	id := uuid.NewString()
	g := graph.New("Untitled Pipeline")
	var logOpts []stream.Option
	if retention > 0 {
		logOpts = append(logOpts, stream.WithRetention(retention))
	}
	log := stream.NewLog(id, logOpts...)
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		Graph:      g,
		Log:        log,
		Machine:    runtime.NewMachine(g, log, dir, planner, machineOpts...),
		lastActive: now,
	}
}

// Touch records activity, deferring idle expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Send starts an asynchronous turn and refreshes the activity clock.
func (s *Session) Send(ctx context.Context, in runtime.TurnInput) error {
	s.Touch()
	return s.Machine.Begin(ctx, in)
}

// Converse runs one turn to completion. Used by the interactive CLI.
func (s *Session) Converse(ctx context.Context, in runtime.TurnInput) error {
	s.Touch()
	return s.Machine.Run(ctx, in)
}

// Feedback forwards a human decision to a suspended turn.
func (s *Session) Feedback(fb ports.Feedback) error {
	s.Touch()
	return s.Machine.Feedback(fb)
}

// Subscribe attaches to the session's event log starting after the
// given sequence number.
func (s *Session) Subscribe(ctx context.Context, fromSeq uint64) (<-chan domain.Event, error) {
	s.Touch()
	return s.Log.Subscribe(ctx, fromSeq)
}

// Close cancels any turn in flight and seals the event log.
func (s *Session) Close() {
	s.Machine.Cancel()
	s.Log.Close()
}
