package catalog

import (
	"encoding/json"
	"fmt"
)

// Document is the externally fetched app-directory document: a mapping
// from tool id to its published versions and metadata. The core treats
// it as read-only input.
type Document map[string]AppEntry

// AppEntry is one tool's record in the directory.
type AppEntry struct {
	Name          string   `json:"name,omitempty"`
	Description   string   `json:"description,omitempty"`
	LatestVersion string   `json:"latest_version"`
	AllVersions   []string `json:"all_versions,omitempty"`
	Metadata      Metadata `json:"metadata"`
}

// Metadata carries the typed I/O declaration of a tool version.
type Metadata struct {
	Description string           `json:"description,omitempty"`
	Input       []InputSpec      `json:"input"`
	Output      []TypeSpec       `json:"output"`
	Parameters  []map[string]any `json:"parameters,omitempty"`
}

// TypeSpec is one annotation type as declared in the directory.
type TypeSpec struct {
	Type       string         `json:"@type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   bool           `json:"required,omitempty"`
}

// InputSpec is one input slot. The wire format is either a single type
// object or an array of alternatives ("one of").
type InputSpec struct {
	OneOf []TypeSpec
}

// UnmarshalJSON accepts both the object and the array form.
func (s *InputSpec) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.OneOf)
	}
	var single TypeSpec
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("input slot: %w", err)
	}
	s.OneOf = []TypeSpec{single}
	return nil
}

// MarshalJSON writes the compact object form for single-type slots.
func (s InputSpec) MarshalJSON() ([]byte, error) {
	if len(s.OneOf) == 1 {
		return json.Marshal(s.OneOf[0])
	}
	return json.Marshal(s.OneOf)
}

// ParseDocument decodes a directory document from JSON.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse app directory: %w", err)
	}
	return doc, nil
}
