// Package memory provides an in-process pipeline store. It is the
// default when no persistence backend is configured and the reference
// implementation for the store contract tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
)

// Store implements ports.PipelineStore backed by a map.
type Store struct {
	mu        sync.RWMutex
	pipelines map[string]*graph.Document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{pipelines: make(map[string]*graph.Document)}
}

// Save stores a copy of the document under its name, overwriting any
// previous version.
func (s *Store) Save(ctx context.Context, doc *graph.Document) error {
	if doc == nil || doc.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}
	cp := *doc
	cp.Nodes = append([]graph.NodeDocument(nil), doc.Nodes...)
	cp.Edges = append([]graph.EdgeDocument(nil), doc.Edges...)

	s.mu.Lock()
	s.pipelines[doc.Name] = &cp
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the named document.
func (s *Store) Load(ctx context.Context, name string) (*graph.Document, error) {
	s.mu.RLock()
	doc, ok := s.pipelines[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
	}
	cp := *doc
	cp.Nodes = append([]graph.NodeDocument(nil), doc.Nodes...)
	cp.Edges = append([]graph.EdgeDocument(nil), doc.Edges...)
	return &cp, nil
}

// List returns all stored pipeline names, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// Delete removes the named document.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[name]; !ok {
		return fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
	}
	delete(s.pipelines, name)
	return nil
}
