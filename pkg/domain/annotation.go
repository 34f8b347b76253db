package domain

import "strings"

// AnnotationType identifies what a tool consumes or produces.
// The identifier is a URI whose last path segment carries the schema
// version (e.g. ".../TextDocument/v1"). Optional properties qualify the
// type (time unit, label set) but never participate in compatibility.
type AnnotationType struct {
	URI        string            `json:"@type" yaml:"type"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Base returns the identifier stripped of its trailing version segment.
// A segment counts as a version when it looks like "v1", "v2.1", etc.
// Identifiers without a version segment are returned unchanged.
func (a AnnotationType) Base() string {
	uri := strings.TrimSuffix(a.URI, "/")
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return uri
	}
	last := uri[idx+1:]
	if isVersionSegment(last) {
		return uri[:idx]
	}
	return uri
}

func isVersionSegment(s string) bool {
	if len(s) < 2 || (s[0] != 'v' && s[0] != 'V') {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

// TypeRef is one input slot of a tool: either a single required type or
// a disjunction of alternatives ("one of"). A slot with exactly one
// alternative behaves like a single required type.
type TypeRef struct {
	OneOf    []AnnotationType `json:"one_of" yaml:"one_of"`
	Required bool             `json:"required,omitempty" yaml:"required,omitempty"`
}

// Single builds a slot requiring exactly one type.
func Single(t AnnotationType) TypeRef {
	return TypeRef{OneOf: []AnnotationType{t}, Required: true}
}

// AnyOf builds a slot satisfied by any of the given types.
func AnyOf(ts ...AnnotationType) TypeRef {
	return TypeRef{OneOf: ts, Required: true}
}
