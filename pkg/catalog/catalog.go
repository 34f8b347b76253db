// Package catalog is the read-only view over the externally fetched
// tool directory. It resolves tool ids to immutable descriptors,
// caching resolved descriptors in an LRU, and falls back to the
// last-known-good document when a refresh fails.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/avannotate/pipechat/pkg/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/mapstructure"
)

// Source fetches the raw directory document. Implementations: HTTP
// endpoint, on-disk cache file, static fixture.
type Source interface {
	Fetch(ctx context.Context) (Document, error)
}

const descriptorCacheSize = 512

// Directory is the tool directory adapter.
type Directory struct {
	mu     sync.RWMutex
	source Source
	doc    Document
	cache  *lru.Cache[string, *domain.ToolDescriptor]
	logger *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// New creates a directory over the given source. No fetch happens until
// Refresh or Load.
func New(source Source, opts ...Option) *Directory {
	cache, _ := lru.New[string, *domain.ToolDescriptor](descriptorCacheSize)
	d := &Directory{
		source: source,
		cache:  cache,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load installs a document directly, replacing the current one.
func (d *Directory) Load(doc Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = doc
	d.cache.Purge()
}

// Refresh fetches the directory from its source. A transient fetch
// error is tolerated when a previous document is still loaded: the
// last-known-good view stays in effect and Refresh returns nil.
func (d *Directory) Refresh(ctx context.Context) error {
	if d.source == nil {
		return fmt.Errorf("catalog: no source configured")
	}
	doc, err := d.source.Fetch(ctx)
	if err != nil {
		d.mu.RLock()
		hasPrevious := d.doc != nil
		d.mu.RUnlock()
		if hasPrevious {
			d.logger.Warn("catalog refresh failed, keeping last-known-good", "err", err)
			return nil
		}
		return fmt.Errorf("catalog refresh: %w", err)
	}
	d.Load(doc)
	d.logger.Info("catalog refreshed", "tools", len(doc))
	return nil
}

// Resolve returns the descriptor for a tool id, building it from the
// directory document on first use.
func (d *Directory) Resolve(id string) (*domain.ToolDescriptor, error) {
	if td, ok := d.cache.Get(id); ok {
		return td, nil
	}

	d.mu.RLock()
	entry, ok := d.doc[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("catalog: %q: %w", id, domain.ErrToolNotFound)
	}

	td, err := buildDescriptor(id, entry)
	if err != nil {
		return nil, fmt.Errorf("catalog: %q: %w", id, err)
	}
	d.cache.Add(id, td)
	return td, nil
}

// List returns every descriptor, sorted by id.
func (d *Directory) List() []*domain.ToolDescriptor {
	d.mu.RLock()
	ids := make([]string, 0, len(d.doc))
	for id := range d.doc {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*domain.ToolDescriptor, 0, len(ids))
	for _, id := range ids {
		td, err := d.Resolve(id)
		if err != nil {
			d.logger.Warn("skipping malformed catalog entry", "tool", id, "err", err)
			continue
		}
		out = append(out, td)
	}
	return out
}

// Search returns descriptors whose id or description contains the query
// (case-insensitive).
func (d *Directory) Search(query string) []*domain.ToolDescriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return d.List()
	}
	var out []*domain.ToolDescriptor
	for _, td := range d.List() {
		if strings.Contains(strings.ToLower(td.ID), q) ||
			strings.Contains(strings.ToLower(td.Description), q) {
			out = append(out, td)
		}
	}
	return out
}

// Snapshot returns a shallow copy of the loaded document, suitable
// for writing to a cache.
func (d *Directory) Snapshot() Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(Document, len(d.doc))
	for id, entry := range d.doc {
		out[id] = entry
	}
	return out
}

// Len returns the number of tools in the loaded document.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.doc)
}

func buildDescriptor(id string, entry AppEntry) (*domain.ToolDescriptor, error) {
	td := &domain.ToolDescriptor{
		ID:          id,
		Version:     entry.LatestVersion,
		Description: firstNonEmpty(entry.Metadata.Description, entry.Description),
	}

	for _, slot := range entry.Metadata.Input {
		ref := domain.TypeRef{Required: true}
		for _, ts := range slot.OneOf {
			ref.OneOf = append(ref.OneOf, toAnnotationType(ts))
			if !ts.Required {
				ref.Required = false
			}
		}
		td.Inputs = append(td.Inputs, ref)
	}
	for _, ts := range entry.Metadata.Output {
		td.Outputs = append(td.Outputs, toAnnotationType(ts))
	}

	if len(entry.Metadata.Parameters) > 0 {
		var params []domain.ToolParameter
		if err := mapstructure.Decode(entry.Metadata.Parameters, &params); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		td.Parameters = params
	}
	return td, nil
}

func toAnnotationType(ts TypeSpec) domain.AnnotationType {
	at := domain.AnnotationType{URI: ts.Type}
	if len(ts.Properties) > 0 {
		at.Properties = make(map[string]string, len(ts.Properties))
		for k, v := range ts.Properties {
			at.Properties[k] = fmt.Sprint(v)
		}
	}
	return at
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
