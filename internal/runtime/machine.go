// Package runtime implements the per-session conversation state
// machine: it consumes user input, invokes the external reasoning
// capability, resolves candidate tools against the directory, mutates
// the pipeline graph through the compatibility validator, and emits
// every transition onto the session's event log.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avannotate/pipechat/internal/metrics"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/stream"
	"github.com/google/uuid"
)

// State names one phase of the conversation machine.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingTask     State = "awaiting_task"
	StatePlanning         State = "planning"
	StateToolSelecting    State = "tool_selecting"
	StateValidating       State = "validating"
	StateAwaitingFeedback State = "awaiting_human_feedback"
	StateStreaming        State = "streaming"
	StateCompleted        State = "completed"
	StateErrored          State = "errored"
	StateCancelled        State = "cancelled"
)

// restable states are the only ones a new turn may start from. This is
// the single-active-turn invariant: turns are serialized, never
// interleaved.
func restable(s State) bool {
	switch s {
	case StateIdle, StateCompleted, StateErrored, StateCancelled:
		return true
	}
	return false
}

// TurnInput is one user message. Task updates the session's task
// description when non-empty.
type TurnInput struct {
	Message string
	Task    string
}

// Machine is one session's turn engine. All graph mutation for the
// session flows through here, strictly ordered.
type Machine struct {
	mu       sync.Mutex
	state    State
	task     string
	history  []ports.Message
	welcomed bool
	cancel   context.CancelFunc
	turnCtx  context.Context

	graph     *graph.Graph
	log       *stream.Log
	directory *catalog.Directory
	planner   ports.Planner

	feedbackCh chan ports.Feedback
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithMetrics wires turn outcome counters.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mx
	}
}

// NewMachine creates an idle machine bound to its session's graph and
// event log.
func NewMachine(g *graph.Graph, log *stream.Log, dir *catalog.Directory, planner ports.Planner, opts ...Option) *Machine {
	m := &Machine{
		state:      StateIdle,
		graph:      g,
		log:        log,
		directory:  dir,
		planner:    planner,
		feedbackCh: make(chan ports.Feedback, 1),
		logger:     slog.New(slog.DiscardHandler),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Task returns the recorded task description.
func (m *Machine) Task() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task
}

// History returns a copy of the accumulated conversation.
func (m *Machine) History() []ports.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.Message, len(m.history))
	copy(out, m.history)
	return out
}

// Begin starts a turn asynchronously. The single-active-turn gate is
// checked synchronously: if another turn is in flight the call fails
// with ErrSessionBusy and nothing is emitted. The turn itself runs on
// its own goroutine under a context derived from ctx.
func (m *Machine) Begin(ctx context.Context, in TurnInput) error {
	if err := m.begin(ctx, &in); err != nil {
		return err
	}
	go m.runTurn(in)
	return nil
}

// Run executes one full turn synchronously. Used by the interactive
// CLI; the HTTP layer uses Begin.
func (m *Machine) Run(ctx context.Context, in TurnInput) error {
	if err := m.begin(ctx, &in); err != nil {
		return err
	}
	m.runTurn(in)
	return nil
}

func (m *Machine) begin(ctx context.Context, in *TurnInput) error {
	var err error
	if in.Message, err = SanitizeInput(in.Message); err != nil {
		return err
	}
	if in.Task, err = SanitizeInput(in.Task); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !restable(m.state) {
		return fmt.Errorf("state %s: %w", m.state, domain.ErrSessionBusy)
	}

	// Idle --start(task)--> AwaitingTask: the task description is
	// recorded here; run_started is the first event of the turn.
	m.state = StateAwaitingTask
	if in.Task != "" {
		m.task = in.Task
	}
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.turnCtx = turnCtx

	// Drain any stale feedback from an abandoned turn.
	select {
	case <-m.feedbackCh:
	default:
	}
	return nil
}

// Cancel aborts the turn in flight, if any. The machine transitions to
// Cancelled at its next suspension point.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Feedback delivers a human decision to a machine suspended in
// AwaitingHumanFeedback.
func (m *Machine) Feedback(fb ports.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingFeedback {
		return fmt.Errorf("state %s: %w", m.state, domain.ErrNoFeedbackPending)
	}
	select {
	case m.feedbackCh <- fb:
		return nil
	default:
		return domain.ErrNoFeedbackPending
	}
}

type candidateResult struct {
	callID   string
	toolName string
	nodeID   string
	edgeID   string
	valid    bool
	hasEdge  bool
}

func (m *Machine) runTurn(in TurnInput) {
	m.mu.Lock()
	ctx := m.turnCtx
	task := m.task
	m.mu.Unlock()

	m.emit(domain.EventRunStarted, map[string]any{
		"message": "Processing your request...",
		"task":    task,
	})

	m.welcome()
	m.record("user", in.Message)

	// AwaitingTask --reason--> Planning: the reasoning capability sees
	// the accumulated conversation plus the current graph snapshot.
	m.setState(StatePlanning)
	proposal, err := m.planner.Propose(ctx, ports.PlanContext{
		Task:     task,
		History:  m.History(),
		Pipeline: m.graph.Document(),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			m.abandon(StateCancelled, domain.ErrTurnCancelled)
			return
		}
		m.abandon(StateErrored, fmt.Errorf("reasoning failure: %w", err))
		return
	}

	if proposal.Reply != "" {
		m.record("assistant", proposal.Reply)
		m.emit(domain.EventTextMessageContent, map[string]any{"content": proposal.Reply})
	}

	// Planning --select(tool)--> ToolSelecting: announce every
	// candidate before any of them is validated.
	m.setState(StateToolSelecting)
	callIDs := make([]string, len(proposal.Candidates))
	for i, cand := range proposal.Candidates {
		callIDs[i] = uuid.NewString()
		m.emit(domain.EventToolCallStart, map[string]any{
			"tool_name":    cand.ToolID,
			"tool_call_id": callIDs[i],
			"reason":       cand.Reason,
		})
	}

	m.setState(StateValidating)
	var results []candidateResult
	for i, cand := range proposal.Candidates {
		td, err := m.directory.Resolve(cand.ToolID)
		if err != nil {
			m.abandon(StateErrored, fmt.Errorf("malformed tool reference %q: %w", cand.ToolID, err))
			return
		}

		if cand.NeedsConfirmation {
			approved, err := m.awaitFeedback(ctx, cand)
			if err != nil {
				m.abandon(StateCancelled, err)
				return
			}
			if !approved {
				m.emit(domain.EventTextMessageContent, map[string]any{
					"content": fmt.Sprintf("Skipping %s. What would you like me to change?", cand.ToolID),
				})
				continue
			}
		}

		prev := m.graph.LastNodeID()
		nodeID := m.graph.AddNode(td, nil)
		res := candidateResult{callID: callIDs[i], toolName: cand.ToolID, nodeID: nodeID, valid: true}
		if prev != "" {
			edge, err := m.graph.AddEdge(prev, nodeID)
			if err != nil {
				// Both endpoints were just resolved; failing here is a
				// graph contract violation, not user input.
				m.abandon(StateErrored, err)
				return
			}
			res.edgeID = edge.ID
			res.valid = edge.Valid
			res.hasEdge = true
		}
		results = append(results, res)
	}

	// Validating --emit--> Streaming --done--> Completed.
	m.setState(StateStreaming)
	for _, res := range results {
		data := map[string]any{
			"tool_name":    res.toolName,
			"tool_call_id": res.callID,
			"result": map[string]any{
				"node_id": res.nodeID,
			},
		}
		if res.hasEdge {
			data["result"].(map[string]any)["edge_id"] = res.edgeID
			data["result"].(map[string]any)["valid"] = res.valid
			if !res.valid {
				data["warning"] = "incompatible connection: output types do not satisfy the tool's input"
			}
		}
		m.emit(domain.EventToolCallResult, data)
	}

	nodes, edges := m.graph.Counts()
	m.emit(domain.EventStateDelta, map[string]any{"nodes": nodes, "edges": edges})
	m.emit(domain.EventRunFinished, map[string]any{"message": "Response complete"})
	m.finish(StateCompleted)
	m.metrics.TurnsTotal.WithLabelValues("completed").Inc()
}

// awaitFeedback suspends the machine until a human decision or
// cancellation. No timeout is enforced here; idle expiry belongs to the
// session registry.
func (m *Machine) awaitFeedback(ctx context.Context, cand ports.Candidate) (bool, error) {
	m.emit(domain.EventValidationRequest, map[string]any{
		"tool_name": cand.ToolID,
		"reason":    cand.Reason,
		"message":   fmt.Sprintf("Please confirm adding %s to the pipeline.", cand.ToolID),
	})
	m.setState(StateAwaitingFeedback)

	select {
	case fb := <-m.feedbackCh:
		m.setState(StateValidating)
		m.emit(domain.EventHumanFeedback, map[string]any{
			"approved": fb.Approved,
			"comments": fb.Comments,
		})
		if fb.Comments != "" {
			m.record("human_feedback", fb.Comments)
		}
		return fb.Approved, nil
	case <-ctx.Done():
		return false, domain.ErrTurnCancelled
	}
}

// welcome emits the greeting once per session, before the first turn's
// planning begins.
func (m *Machine) welcome() {
	m.mu.Lock()
	if m.welcomed {
		m.mu.Unlock()
		return
	}
	m.welcomed = true
	m.mu.Unlock()

	const greeting = "Hello! I can help you assemble multimedia analysis pipelines. " +
		"Describe what you want to analyze and I'll suggest the right tools and chain them for you."
	m.record("assistant", greeting)
	m.emit(domain.EventTextMessageContent, map[string]any{"content": greeting})
}

func (m *Machine) abandon(final State, err error) {
	m.logger.Warn("turn abandoned", "state", final, "err", err)
	m.emit(domain.EventRunError, map[string]any{
		"error":     err.Error(),
		"cancelled": final == StateCancelled,
	})
	m.finish(final)
	m.metrics.TurnsTotal.WithLabelValues(string(final)).Inc()
}

func (m *Machine) finish(final State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = final
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.turnCtx = nil
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) record(role, content string) {
	if content == "" {
		return
	}
	m.mu.Lock()
	m.history = append(m.history, ports.Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
	m.mu.Unlock()
}

func (m *Machine) emit(kind domain.EventKind, data map[string]any) {
	if _, err := m.log.Append(kind, data); err != nil {
		m.logger.Warn("event dropped", "kind", kind, "err", err)
		return
	}
	m.metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
}
