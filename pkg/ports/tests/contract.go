// Package tests holds reusable contract suites for ports interfaces.
package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	"github.com/avannotate/pipechat/pkg/ports"
)

// PipelineStoreContract verifies that an adapter complies with
// ports.PipelineStore. The store must be empty when the suite starts.
func PipelineStoreContract(t *testing.T, store ports.PipelineStore) {
	t.Helper()
	ctx := context.Background()

	doc := &graph.Document{
		Name: "Speech Transcription",
		Nodes: []graph.NodeDocument{
			{ID: "whisper-wrapper-0", ToolID: "whisper-wrapper", Position: graph.Position{X: 100, Y: 0}},
			{ID: "spacy-wrapper-1", ToolID: "spacy-wrapper", Position: graph.Position{X: 100, Y: 100}},
		},
		Edges: []graph.EdgeDocument{
			{ID: "whisper-wrapper-0-spacy-wrapper-1", Source: "whisper-wrapper-0", Target: "spacy-wrapper-1"},
		},
	}

	t.Run("Load_NotFound", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		if !errors.Is(err, domain.ErrPipelineNotFound) {
			t.Errorf("expected ErrPipelineNotFound, got %v", err)
		}
	})

	t.Run("Save_Load_RoundTrip", func(t *testing.T) {
		if err := store.Save(ctx, doc); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		loaded, err := store.Load(ctx, doc.Name)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if loaded.Name != doc.Name {
			t.Errorf("name mismatch: got %q, want %q", loaded.Name, doc.Name)
		}
		if len(loaded.Nodes) != len(doc.Nodes) || len(loaded.Edges) != len(doc.Edges) {
			t.Fatalf("shape mismatch: got %d/%d, want %d/%d",
				len(loaded.Nodes), len(loaded.Edges), len(doc.Nodes), len(doc.Edges))
		}
		for i := range doc.Nodes {
			if loaded.Nodes[i] != doc.Nodes[i] {
				t.Errorf("node %d mismatch: got %+v, want %+v", i, loaded.Nodes[i], doc.Nodes[i])
			}
		}
		for i := range doc.Edges {
			if loaded.Edges[i] != doc.Edges[i] {
				t.Errorf("edge %d mismatch: got %+v, want %+v", i, loaded.Edges[i], doc.Edges[i])
			}
		}
	})

	t.Run("List", func(t *testing.T) {
		second := &graph.Document{Name: "Chyron Detection"}
		if err := store.Save(ctx, second); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		names, err := store.List(ctx)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		lookup := make(map[string]bool, len(names))
		for _, n := range names {
			lookup[n] = true
		}
		for _, want := range []string{doc.Name, second.Name} {
			if !lookup[want] {
				t.Errorf("pipeline %q missing from list %v", want, names)
			}
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		changed := *doc
		changed.Nodes = doc.Nodes[:1]
		changed.Edges = nil
		if err := store.Save(ctx, &changed); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		loaded, err := store.Load(ctx, doc.Name)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(loaded.Nodes) != 1 || len(loaded.Edges) != 0 {
			t.Errorf("overwrite not applied: got %d nodes, %d edges", len(loaded.Nodes), len(loaded.Edges))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete(ctx, doc.Name); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := store.Load(ctx, doc.Name); !errors.Is(err, domain.ErrPipelineNotFound) {
			t.Errorf("expected ErrPipelineNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, doc.Name); !errors.Is(err, domain.ErrPipelineNotFound) {
			t.Errorf("expected ErrPipelineNotFound on double delete, got %v", err)
		}
	})
}
