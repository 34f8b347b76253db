package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avannotate/pipechat/pkg/catalog"
)

// CatalogCache reads and writes a JSON snapshot of the tool directory,
// so the engine can start without reaching the remote directory.
type CatalogCache struct {
	Path string
}

// NewCatalogCache creates a cache at path, defaulting to
// ".pipechat/catalog.json".
func NewCatalogCache(path string) *CatalogCache {
	if path == "" {
		path = filepath.Join(".pipechat", "catalog.json")
	}
	return &CatalogCache{Path: path}
}

// Fetch implements catalog.Source from the snapshot on disk.
func (c *CatalogCache) Fetch(ctx context.Context) (catalog.Document, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog cache: %w", err)
	}
	doc, err := catalog.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog cache: %w", err)
	}
	return doc, nil
}

// Store writes the snapshot atomically.
func (c *CatalogCache) Store(doc catalog.Document) error {
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure cache directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog cache: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-catalog-*.json")
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
	if err := os.Rename(tmpPath, c.Path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
