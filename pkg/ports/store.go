package ports

import (
	"context"

	"github.com/avannotate/pipechat/pkg/graph"
)

// PipelineStore persists named pipeline documents. Implementations:
// file (YAML on disk), memory (tests, ephemeral runs), redis.
type PipelineStore interface {
	// Save writes the document under its name, overwriting any previous
	// version.
	Save(ctx context.Context, doc *graph.Document) error

	// Load retrieves a document by name. Returns
	// domain.ErrPipelineNotFound when absent.
	Load(ctx context.Context, name string) (*graph.Document, error)

	// List returns the stored pipeline names.
	List(ctx context.Context) ([]string, error)

	// Delete removes a document. Deleting an absent name returns
	// domain.ErrPipelineNotFound.
	Delete(ctx context.Context, name string) error
}
