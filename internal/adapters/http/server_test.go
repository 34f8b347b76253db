package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/avannotate/pipechat/internal/adapters/http"
	"github.com/avannotate/pipechat/internal/adapters/memory"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const directoryFixture = `{
  "whisper-wrapper": {
    "name": "whisper-wrapper",
    "description": "Speech to text transcription",
    "latest_version": "v12",
    "metadata": {
      "description": "Speech to text transcription",
      "input": [{"@type": "http://mmif.clams.ai/vocabulary/AudioDocument/v1", "required": true}],
      "output": [{"@type": "http://mmif.clams.ai/vocabulary/TextDocument/v1"}]
    }
  }
}`

type scriptedPlanner struct {
	proposal *ports.Proposal
	block    chan struct{}
}

func (p *scriptedPlanner) Propose(ctx context.Context, pc ports.PlanContext) (*ports.Proposal, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.proposal != nil {
		return p.proposal, nil
	}
	return &ports.Proposal{Reply: "noted"}, nil
}

type testEnv struct {
	server  *httptest.Server
	planner *scriptedPlanner
	reg     *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	doc, err := catalog.ParseDocument([]byte(directoryFixture))
	require.NoError(t, err)
	dir := catalog.New(&catalog.StaticSource{Doc: doc})
	dir.Load(doc)

	planner := &scriptedPlanner{}
	reg := registry.New(dir, planner)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	srv := httpadapter.NewServer(reg, dir, memory.New(),
		httpadapter.WithHeartbeat(50*time.Millisecond),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, planner: planner, reg: reg}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// sessionState polls the session endpoint without failing the test on
// transient errors, so it is safe inside Eventually conditions.
func (e *testEnv) sessionState(id string) string {
	resp, err := http.Get(e.server.URL + "/api/sessions/" + id)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	state, _ := body["state"].(string)
	return state
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := e.postJSON(t, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["tools"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, err := http.Get(env.server.URL + "/api/sessions/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "idle", body["state"])

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/api/sessions/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetSession_Unknown(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/sessions/unknown-id")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostMessage_RunsTurn(t *testing.T) {
	env := newTestEnv(t)
	env.planner.proposal = &ports.Proposal{
		Reply:      "Adding whisper.",
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper"}},
	}
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{
		"message": "transcribe my audio",
		"task":    "transcription",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.sessionState(id) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(env.server.URL + "/api/sessions/" + id + "/pipeline")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	nodes, _ := body["nodes"].([]any)
	assert.Len(t, nodes, 1)
}

func TestPostMessage_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostMessage_BusyConflict(t *testing.T) {
	env := newTestEnv(t)
	env.planner.block = make(chan struct{})
	defer close(env.planner.block)
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{"message": "slow"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.sessionState(id) == "planning"
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{"message": "impatient"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPostFeedback_NonePending(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/feedback", map[string]any{"approved": true})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

func readSSE(t *testing.T, resp *http.Response, n int) []sseEvent {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	var events []sseEvent
	var cur sseEvent
	deadline := time.After(5 * time.Second)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	for len(events) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out after %d events: %+v", len(events), events)
		case line, open := <-lines:
			if !open {
				t.Fatalf("stream ended after %d events", len(events))
			}
			switch {
			case strings.HasPrefix(line, "id: "):
				cur.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				cur.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.Event != "":
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	return events
}

func TestStreamEvents_ReplayAndLive(t *testing.T) {
	env := newTestEnv(t)
	env.planner.proposal = &ports.Proposal{
		Reply:      "Adding whisper.",
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper"}},
	}
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{"message": "transcribe"})
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.sessionState(id) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	stream, err := http.Get(env.server.URL + "/api/sessions/" + id + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	events := readSSE(t, stream, 7)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Event
	}
	assert.Equal(t, []string{
		"run_started",
		"text_message_content",
		"text_message_content",
		"tool_call_start",
		"tool_call_result",
		"state_delta",
		"run_finished",
	}, types)
	assert.Equal(t, "1", events[0].ID)
}

func TestStreamEvents_ResumeFromSequence(t *testing.T) {
	env := newTestEnv(t)
	env.planner.proposal = &ports.Proposal{Reply: "ok"}
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{"message": "hello"})
	resp.Body.Close()
	require.Eventually(t, func() bool {
		return env.sessionState(id) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	stream, err := http.Get(env.server.URL + "/api/sessions/" + id + "/events?from=2")
	require.NoError(t, err)
	defer stream.Body.Close()

	events := readSSE(t, stream, 2)
	assert.Equal(t, "3", events[0].ID)
}

func TestStreamEvents_InvalidResume(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, err := http.Get(env.server.URL + "/api/sessions/" + id + "/events?from=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTools(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/tools")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	tools, _ := body["tools"].([]any)
	require.Len(t, tools, 1)

	resp, err = http.Get(env.server.URL + "/api/tools/whisper-wrapper")
	require.NoError(t, err)
	tool := decodeBody(t, resp)
	assert.Equal(t, "whisper-wrapper", tool["id"])

	resp, err = http.Get(env.server.URL + "/api/tools/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPipelinePersistence(t *testing.T) {
	env := newTestEnv(t)
	env.planner.proposal = &ports.Proposal{
		Candidates: []ports.Candidate{{ToolID: "whisper-wrapper"}},
	}
	id := env.createSession(t)

	resp := env.postJSON(t, "/api/sessions/"+id+"/messages", map[string]string{"message": "transcribe"})
	resp.Body.Close()
	require.Eventually(t, func() bool {
		return env.sessionState(id) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.postJSON(t, "/api/sessions/"+id+"/pipeline/save", map[string]string{"name": "Speech Transcription"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(env.server.URL + "/api/pipelines")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, []any{"Speech Transcription"}, body["pipelines"])

	resp, err = http.Get(env.server.URL + "/api/pipelines/" + strings.ReplaceAll("Speech Transcription", " ", "%20"))
	require.NoError(t, err)
	doc := decodeBody(t, resp)
	assert.Equal(t, "Speech Transcription", doc["name"])
	nodes, _ := doc["nodes"].([]any)
	assert.Len(t, nodes, 1)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/pipelines/Speech%20Transcription", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestExportPipeline_YAML(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, err := http.Get(env.server.URL + "/api/sessions/" + id + "/pipeline/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	resp, err = http.Get(env.server.URL + "/api/sessions/" + id + "/pipeline/export?format=csv")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
