// Package http exposes the engine over REST plus Server-Sent Events.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avannotate/pipechat/internal/runtime"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/registry"
	"github.com/avannotate/pipechat/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultHeartbeat keeps idle SSE connections alive through proxies.
const DefaultHeartbeat = 30 * time.Second

// Server wires the session registry, tool directory, and pipeline
// store into an HTTP API.
type Server struct {
	registry  *registry.Registry
	directory *catalog.Directory
	store     ports.PipelineStore
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	heartbeat time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsGatherer exposes the given registry on /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHeartbeat overrides the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// NewServer creates the API server.
func NewServer(reg *registry.Registry, dir *catalog.Directory, store ports.PipelineStore, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		directory: dir,
		store:     store,
		logger:    slog.New(slog.DiscardHandler),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.closeSession)
				r.Post("/messages", s.postMessage)
				r.Post("/feedback", s.postFeedback)
				r.Post("/cancel", s.cancelTurn)
				r.Get("/events", s.streamEvents)
				r.Get("/pipeline", s.getPipeline)
				r.Get("/pipeline/export", s.exportPipeline)
				r.Post("/pipeline/save", s.savePipeline)
			})
		})
		r.Route("/tools", func(r chi.Router) {
			r.Get("/", s.listTools)
			r.Get("/{toolID}", s.getTool)
		})
		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", s.listPipelines)
			r.Get("/{name}", s.loadPipeline)
			r.Delete("/{name}", s.deletePipeline)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
		"tools":    s.directory.Len(),
	})
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Task      string    `json:"task,omitempty"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.registry.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID,
		State:     string(sess.Machine.State()),
		CreatedAt: sess.CreatedAt,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	nodes, edges := sess.Graph.Counts()
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID,
		State:     string(sess.Machine.State()),
		Task:      sess.Machine.Task(),
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: sess.CreatedAt,
	})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.registry.Close(id); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Message string `json:"message"`
	Task    string `json:"task,omitempty"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	err := sess.Send(r.Context(), runtime.TurnInput{Message: body.Message, Task: body.Task})
	if errors.Is(err, domain.ErrSessionBusy) {
		writeError(w, http.StatusConflict, "a turn is already in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sess.ID,
		"state":      string(sess.Machine.State()),
	})
}

type feedbackRequest struct {
	Approved bool   `json:"approved"`
	Comments string `json:"comments,omitempty"`
}

func (s *Server) postFeedback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := sess.Feedback(ports.Feedback{Approved: body.Approved, Comments: body.Comments})
	if errors.Is(err, domain.ErrNoFeedbackPending) {
		writeError(w, http.StatusConflict, "no feedback is pending")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Machine.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents replays the retained log from the requested sequence
// and then follows live events. Reconnecting clients resume via the
// from query parameter or the Last-Event-ID header.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	fromSeq, err := resumePoint(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := sess.Subscribe(r.Context(), fromSeq)
	if err != nil {
		if errors.Is(err, domain.ErrStreamClosed) {
			writeError(w, http.StatusGone, "session stream is closed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("failed to encode event", "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

// resumePoint picks the resume sequence: the from query parameter wins
// over the Last-Event-ID header; absent both, zero replays everything
// retained.
func resumePoint(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume sequence %q", raw)
	}
	return seq, nil
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Graph.Document())
}

func (s *Server) exportPipeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	doc := sess.Graph.Document()

	switch format := r.URL.Query().Get("format"); format {
	case "", "yaml":
		data, err := doc.EncodeYAML()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name+".yaml"))
		_, _ = w.Write(data)
	case "json":
		writeJSON(w, http.StatusOK, doc)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
}

type savePipelineRequest struct {
	Name string `json:"name,omitempty"`
}

func (s *Server) savePipeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body savePipelineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if body.Name != "" {
		sess.Graph.Rename(body.Name)
	}
	doc := sess.Graph.Document()
	if err := s.store.Save(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": doc.Name})
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, map[string]any{"tools": s.directory.Search(q)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.directory.List()})
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	td, err := s.directory.Resolve(chi.URLParam(r, "toolID"))
	if errors.Is(err, domain.ErrToolNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, td)
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": names})
}

func (s *Server) loadPipeline(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Load(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, domain.ErrPipelineNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	err := s.store.Delete(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, domain.ErrPipelineNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Get(id)
	if err != nil {
		s.sessionError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
