package pipechat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avannotate/pipechat/internal/adapters/file"
	"github.com/avannotate/pipechat/internal/adapters/memory"
	openaiAdapter "github.com/avannotate/pipechat/internal/adapters/openai"
	"github.com/avannotate/pipechat/internal/adapters/rule"
	"github.com/avannotate/pipechat/internal/metrics"
	"github.com/avannotate/pipechat/internal/runtime"
	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/registry"
	"github.com/avannotate/pipechat/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Version is the engine release.
const Version = "0.1.0"

// TurnInput aliases the runtime type so library consumers don't need
// to import internal packages.
type TurnInput = runtime.TurnInput

// Feedback aliases the ports type for the same reason.
type Feedback = ports.Feedback

// Engine is the high-level entry point. It wires the tool directory,
// the reasoning capability, the pipeline store, and the session
// registry behind one API so hosts (CLI, HTTP, MCP) stay thin.
type Engine struct {
	directory *catalog.Directory
	planner   ports.Planner
	store     ports.PipelineStore
	registry  *registry.Registry

	catalogSource catalog.Source
	catalogCache  *file.CatalogCache
	registryOpts  []registry.Option
	metrics       *metrics.Metrics
	promRegistry  *prometheus.Registry
	logger        *slog.Logger
	openaiConfig  *openaiAdapter.Config
}

// Option configures the Engine.
type Option func(*Engine)

// WithCatalogSource overrides where the tool directory is fetched
// from. The default is the CLAMS app directory over HTTP.
func WithCatalogSource(src catalog.Source) Option {
	return func(e *Engine) {
		e.catalogSource = src
	}
}

// WithCatalogCache persists directory snapshots at path and falls back
// to them when the remote directory is unreachable.
func WithCatalogCache(path string) Option {
	return func(e *Engine) {
		e.catalogCache = file.NewCatalogCache(path)
	}
}

// WithPlanner injects a custom reasoning capability.
func WithPlanner(p ports.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithOpenAI enables the chat-model planner. Without this (or
// WithPlanner) the deterministic keyword planner is used.
func WithOpenAI(cfg openaiAdapter.Config) Option {
	return func(e *Engine) {
		e.openaiConfig = &cfg
	}
}

// WithStore injects a pipeline persistence backend. The default is
// in-memory.
func WithStore(store ports.PipelineStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithRegistryOptions forwards options to the session registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(e *Engine) {
		e.registryOpts = append(e.registryOpts, opts...)
	}
}

// WithMetrics registers collectors on a fresh Prometheus registry,
// exposed via MetricsGatherer.
func WithMetrics() Option {
	return func(e *Engine) {
		e.promRegistry = prometheus.NewRegistry()
	}
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// DefaultCatalogURL is the public CLAMS app directory.
const DefaultCatalogURL = "https://apps.clams.ai/appdirectory.json"

// New assembles an engine. The tool directory is not loaded yet; call
// LoadCatalog before creating sessions.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.promRegistry != nil {
		e.metrics = metrics.New(e.promRegistry)
	} else {
		e.metrics = metrics.Nop()
	}
	if e.catalogSource == nil {
		e.catalogSource = catalog.NewHTTPSource(DefaultCatalogURL)
	}
	e.directory = catalog.New(e.catalogSource, catalog.WithLogger(e.logger))

	if e.planner == nil {
		if e.openaiConfig != nil {
			if e.openaiConfig.APIKey == "" {
				return nil, fmt.Errorf("openai planner requires an api key")
			}
			e.planner = openaiAdapter.New(*e.openaiConfig, e.directory, openaiAdapter.WithLogger(e.logger))
		} else {
			e.planner = rule.New(e.directory)
		}
	}

	if e.store == nil {
		e.store = memory.New()
	}

	regOpts := append([]registry.Option{
		registry.WithLogger(e.logger),
		registry.WithMetrics(e.metrics),
	}, e.registryOpts...)
	e.registry = registry.New(e.directory, e.planner, regOpts...)

	return e, nil
}

// LoadCatalog fetches the tool directory, falling back to the snapshot
// cache when the fetch fails, and refreshing the cache when it
// succeeds. It fails with ErrDirectoryEmpty when neither source yields
// any tools.
func (e *Engine) LoadCatalog(ctx context.Context) error {
	err := e.directory.Refresh(ctx)
	if err == nil && e.directory.Len() > 0 {
		if e.catalogCache != nil {
			if cacheErr := e.catalogCache.Store(e.directory.Snapshot()); cacheErr != nil {
				e.logger.Warn("failed to write catalog cache", "err", cacheErr)
			}
		}
		return nil
	}

	if e.catalogCache != nil {
		doc, cacheErr := e.catalogCache.Fetch(ctx)
		if cacheErr == nil && len(doc) > 0 {
			e.directory.Load(doc)
			e.logger.Warn("using cached tool directory", "tools", len(doc), "fetch_err", err)
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("load tool directory: %w", err)
	}
	return fmt.Errorf("load tool directory: %w", domain.ErrDirectoryEmpty)
}

// Directory exposes the tool directory.
func (e *Engine) Directory() *catalog.Directory {
	return e.directory
}

// Registry exposes the session registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Store exposes the pipeline store.
func (e *Engine) Store() ports.PipelineStore {
	return e.store
}

// MetricsGatherer returns the Prometheus registry, or nil when
// WithMetrics was not used.
func (e *Engine) MetricsGatherer() *prometheus.Registry {
	return e.promRegistry
}

// NewSession creates a session.
func (e *Engine) NewSession() *session.Session {
	return e.registry.Create()
}

// Session looks up a session by id.
func (e *Engine) Session(id string) (*session.Session, error) {
	return e.registry.Get(id)
}

// Shutdown stops the registry and closes every session.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.registry.Shutdown(ctx)
}
