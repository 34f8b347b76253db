package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSource fetches the directory document from a JSON endpoint.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource creates a source with a sane default timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and parses the directory document.
func (s *HTTPSource) Fetch(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch app directory: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch app directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch app directory: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch app directory: %w", err)
	}
	return ParseDocument(data)
}

// StaticSource serves a fixed document. Used in tests and offline runs.
type StaticSource struct {
	Doc Document
	Err error
}

// Fetch returns the fixed document or error.
func (s *StaticSource) Fetch(ctx context.Context) (Document, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Doc, nil
}
