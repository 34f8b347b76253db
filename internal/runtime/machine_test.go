package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlanner struct {
	proposal *ports.Proposal
	err      error
	block    chan struct{}
	calls    int
	lastCtx  ports.PlanContext
}

func (p *stubPlanner) Propose(ctx context.Context, pc ports.PlanContext) (*ports.Proposal, error) {
	p.calls++
	p.lastCtx = pc
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.proposal, nil
}

const machineFixture = `{
  "whisper-wrapper": {
    "name": "whisper-wrapper",
    "description": "Speech to text transcription",
    "latest_version": "v12",
    "metadata": {
      "description": "Speech to text transcription",
      "input": [{"@type": "http://mmif.clams.ai/vocabulary/AudioDocument/v1", "required": true}],
      "output": [{"@type": "http://mmif.clams.ai/vocabulary/TextDocument/v1"}]
    }
  },
  "spacy-wrapper": {
    "name": "spacy-wrapper",
    "description": "Named entity recognition over text",
    "latest_version": "v5",
    "metadata": {
      "description": "Named entity recognition over text",
      "input": [{"@type": "http://mmif.clams.ai/vocabulary/TextDocument/v2", "required": true}],
      "output": [{"@type": "http://mmif.clams.ai/vocabulary/NamedEntity/v1"}]
    }
  }
}`

func newTestMachine(t *testing.T, planner ports.Planner) (*Machine, *stream.Log, *graph.Graph) {
	t.Helper()
	doc, err := catalog.ParseDocument([]byte(machineFixture))
	require.NoError(t, err)
	dir := catalog.New(&catalog.StaticSource{Doc: doc})
	dir.Load(doc)

	g := graph.New("test")
	log := stream.NewLog("sess-1")
	t.Cleanup(log.Close)
	return NewMachine(g, log, dir, planner), log, g
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRun_SingleToolTurn(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Reply:      "Adding whisper for transcription.",
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper", Reason: "audio in, text out"}},
	}}
	m, log, g := newTestMachine(t, planner)

	err := m.Run(context.Background(), TurnInput{Message: "transcribe my audio", Task: "transcription"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.State())
	assert.Equal(t, "transcription", m.Task())

	got := kinds(log.Events())
	want := []domain.EventKind{
		domain.EventRunStarted,
		domain.EventTextMessageContent, // greeting
		domain.EventTextMessageContent, // planner reply
		domain.EventToolCallStart,
		domain.EventToolCallResult,
		domain.EventStateDelta,
		domain.EventRunFinished,
	}
	assert.Equal(t, want, got)

	nodes, edges := g.Counts()
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 0, edges)

	events := log.Events()
	delta := events[len(events)-2]
	assert.Equal(t, 1, delta.Data["nodes"])
	assert.Equal(t, 0, delta.Data["edges"])
}

func TestRun_ChainsOntoExistingNode(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Candidates: []ports.Candidate{
			{ToolID: "whisper-wrapper"},
			{ToolID: "spacy-wrapper"},
		},
	}}
	m, log, g := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "transcribe then find entities"}))
	assert.Equal(t, StateCompleted, m.State())

	nodes, edges := g.Counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
	require.Len(t, g.Edges(), 1)
	assert.True(t, g.Edges()[0].Valid)

	var results []domain.Event
	for _, ev := range log.Events() {
		if ev.Type == domain.EventToolCallResult {
			results = append(results, ev)
		}
	}
	require.Len(t, results, 2)
	second := results[1].Data["result"].(map[string]any)
	assert.Equal(t, "spacy-wrapper-1", second["node_id"])
	assert.Equal(t, "whisper-wrapper-0-spacy-wrapper-1", second["edge_id"])
	assert.Equal(t, true, second["valid"])
}

func TestRun_GreetingOnlyOnFirstTurn(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{Reply: "ok"}}
	m, log, _ := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "hello"}))
	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "again"}))

	greetings := 0
	for _, ev := range log.Events() {
		if ev.Type == domain.EventTextMessageContent && ev.Data["content"] != "ok" {
			greetings++
		}
	}
	assert.Equal(t, 1, greetings)
	assert.Equal(t, 2, planner.calls)
}

func TestRun_PlannerErrorEntersErrored(t *testing.T) {
	planner := &stubPlanner{err: errors.New("model unavailable")}
	m, log, _ := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "do something"}))
	assert.Equal(t, StateErrored, m.State())

	events := log.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.EventRunError, last.Type)
	assert.Equal(t, false, last.Data["cancelled"])
	assert.Contains(t, last.Data["error"], "model unavailable")
}

func TestRun_UnknownToolEntersErrored(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Candidates: []ports.Candidate{{ToolID: "no-such-tool"}},
	}}
	m, _, g := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "use the mystery tool"}))
	assert.Equal(t, StateErrored, m.State())
	nodes, _ := g.Counts()
	assert.Equal(t, 0, nodes)
}

func TestRun_ErroredAcceptsNextTurn(t *testing.T) {
	planner := &stubPlanner{err: errors.New("down")}
	m, _, _ := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "first"}))
	require.Equal(t, StateErrored, m.State())

	planner.err = nil
	planner.proposal = &ports.Proposal{Reply: "recovered"}
	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "retry"}))
	assert.Equal(t, StateCompleted, m.State())
}

func TestBegin_RejectsConcurrentTurn(t *testing.T) {
	planner := &stubPlanner{block: make(chan struct{}), proposal: &ports.Proposal{}}
	m, _, _ := newTestMachine(t, planner)

	require.NoError(t, m.Begin(context.Background(), TurnInput{Message: "slow one"}))
	require.Eventually(t, func() bool { return m.State() == StatePlanning }, time.Second, 5*time.Millisecond)

	err := m.Begin(context.Background(), TurnInput{Message: "impatient"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	close(planner.block)
	require.Eventually(t, func() bool { return m.State() == StateCompleted }, time.Second, 5*time.Millisecond)
}

func TestCancel_MidPlanning(t *testing.T) {
	planner := &stubPlanner{block: make(chan struct{}), proposal: &ports.Proposal{}}
	m, log, _ := newTestMachine(t, planner)

	require.NoError(t, m.Begin(context.Background(), TurnInput{Message: "never mind"}))
	require.Eventually(t, func() bool { return m.State() == StatePlanning }, time.Second, 5*time.Millisecond)

	m.Cancel()
	require.Eventually(t, func() bool { return m.State() == StateCancelled }, time.Second, 5*time.Millisecond)

	events := log.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.EventRunError, last.Type)
	assert.Equal(t, true, last.Data["cancelled"])
}

func TestFeedback_ApproveAddsNode(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper", NeedsConfirmation: true, Reason: "destructive"}},
	}}
	m, log, g := newTestMachine(t, planner)

	require.NoError(t, m.Begin(context.Background(), TurnInput{Message: "transcribe"}))
	require.Eventually(t, func() bool { return m.State() == StateAwaitingFeedback }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Feedback(ports.Feedback{Approved: true, Comments: "go ahead"}))
	require.Eventually(t, func() bool { return m.State() == StateCompleted }, time.Second, 5*time.Millisecond)

	nodes, _ := g.Counts()
	assert.Equal(t, 1, nodes)

	var sawRequest, sawFeedback bool
	for _, ev := range log.Events() {
		switch ev.Type {
		case domain.EventValidationRequest:
			sawRequest = true
		case domain.EventHumanFeedback:
			sawFeedback = true
			assert.Equal(t, true, ev.Data["approved"])
		}
	}
	assert.True(t, sawRequest)
	assert.True(t, sawFeedback)
}

func TestFeedback_RejectSkipsTool(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper", NeedsConfirmation: true}},
	}}
	m, log, g := newTestMachine(t, planner)

	require.NoError(t, m.Begin(context.Background(), TurnInput{Message: "transcribe"}))
	require.Eventually(t, func() bool { return m.State() == StateAwaitingFeedback }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Feedback(ports.Feedback{Approved: false}))
	require.Eventually(t, func() bool { return m.State() == StateCompleted }, time.Second, 5*time.Millisecond)

	nodes, _ := g.Counts()
	assert.Equal(t, 0, nodes)

	got := kinds(log.Events())
	assert.Equal(t, domain.EventRunFinished, got[len(got)-1])
}

func TestFeedback_RejectedWhenNotSuspended(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{}}
	m, _, _ := newTestMachine(t, planner)

	err := m.Feedback(ports.Feedback{Approved: true})
	assert.ErrorIs(t, err, domain.ErrNoFeedbackPending)
}

func TestRun_PlannerSeesPipelineSnapshot(t *testing.T) {
	planner := &stubPlanner{proposal: &ports.Proposal{
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper"}},
	}}
	m, _, _ := newTestMachine(t, planner)

	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "first"}))
	planner.proposal = &ports.Proposal{Reply: "noted"}
	require.NoError(t, m.Run(context.Background(), TurnInput{Message: "second"}))

	require.NotNil(t, planner.lastCtx.Pipeline)
	assert.Len(t, planner.lastCtx.Pipeline.Nodes, 1)
	require.NotEmpty(t, planner.lastCtx.History)
	assert.Equal(t, "second", planner.lastCtx.History[len(planner.lastCtx.History)-1].Content)
}
