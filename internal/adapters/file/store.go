// Package file persists pipelines as YAML documents on the local
// filesystem and caches the tool directory as a JSON snapshot.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
)

const pipelineExt = ".yaml"

// Store implements ports.PipelineStore using one YAML file per
// pipeline. File names are derived from pipeline names via Slug, so
// the display name is kept inside the document itself.
type Store struct {
	BasePath string
}

// NewStore creates a Store rooted at basePath. If basePath is empty it
// defaults to ".pipechat/pipelines".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".pipechat", "pipelines")
	}
	return &Store{BasePath: basePath}
}

// Slug derives a filesystem-safe name: lowercased, spaces replaced
// with underscores.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Save writes the document atomically: temp file, fsync, rename.
func (s *Store) Save(ctx context.Context, doc *graph.Document) error {
	if doc == nil || doc.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure pipeline directory: %w", err)
	}

	data, err := doc.EncodeYAML()
	if err != nil {
		return fmt.Errorf("failed to encode pipeline: %w", err)
	}

	slug := Slug(doc.Name)
	destPath := filepath.Join(s.BasePath, slug+pipelineExt)

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+slug+"-*"+pipelineExt)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename replaces an existing destination on POSIX.
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// Load reads the document whose slug matches name. The lookup accepts
// either the display name or the slug itself.
func (s *Store) Load(ctx context.Context, name string) (*graph.Document, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name cannot be empty")
	}

	path := filepath.Join(s.BasePath, Slug(name)+pipelineExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
		}
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	doc, err := graph.DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pipeline %q: %w", name, err)
	}
	return doc, nil
}

// List returns the display names of all stored pipelines, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != pipelineExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.BasePath, entry.Name()))
		if err != nil {
			continue
		}
		doc, err := graph.DecodeYAML(data)
		if err != nil || doc.Name == "" {
			continue
		}
		names = append(names, doc.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the pipeline file.
func (s *Store) Delete(ctx context.Context, name string) error {
	path := filepath.Join(s.BasePath, Slug(name)+pipelineExt)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete pipeline file: %w", err)
	}
	return nil
}
