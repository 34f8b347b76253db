package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Document is the persistence shape of a pipeline. Round-tripping a
// graph through its document preserves node/edge identity, tool
// references, and positions exactly.
type Document struct {
	Name  string         `json:"name" yaml:"name"`
	Nodes []NodeDocument `json:"nodes" yaml:"nodes"`
	Edges []EdgeDocument `json:"edges" yaml:"edges"`
}

// NodeDocument is one node as persisted.
type NodeDocument struct {
	ID       string   `json:"id" yaml:"id"`
	ToolID   string   `json:"tool_id" yaml:"tool_id"`
	Position Position `json:"position" yaml:"position"`
}

// EdgeDocument is one edge as persisted.
type EdgeDocument struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// ToolResolver resolves a tool id to its descriptor when a document is
// loaded. Returning an error leaves the node's Tool nil; edges touching
// such a node are flagged invalid.
type ToolResolver func(toolID string) (*domain.ToolDescriptor, error)

// Document serializes the graph.
func (g *Graph) Document() *Document {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := &Document{
		Name:  g.name,
		Nodes: make([]NodeDocument, 0, len(g.nodes)),
		Edges: make([]EdgeDocument, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		doc.Nodes = append(doc.Nodes, NodeDocument{ID: n.ID, ToolID: n.ToolID, Position: n.Position})
	}
	for _, e := range g.edges {
		doc.Edges = append(doc.Edges, EdgeDocument{ID: e.ID, Source: e.Source, Target: e.Target})
	}
	return doc
}

// FromDocument rebuilds a graph from its persisted form. Node and edge
// ids are restored verbatim; the internal id counter is advanced past
// every restored rank so later AddNode calls never collide. Edge
// validity is recomputed from the resolved descriptors, since the
// document does not carry it. resolve may be nil, in which case every
// node keeps a nil descriptor and every edge is flagged invalid.
func FromDocument(doc *Document, resolve ToolResolver) (*Graph, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil pipeline document")
	}

	g := New(doc.Name)
	for i, nd := range doc.Nodes {
		if nd.ID == "" {
			return nil, fmt.Errorf("node %d: missing id", i)
		}
		if _, dup := g.byID[nd.ID]; dup {
			return nil, fmt.Errorf("node %d: duplicate id %q", i, nd.ID)
		}
		var tool *domain.ToolDescriptor
		if resolve != nil && nd.ToolID != "" {
			t, err := resolve(nd.ToolID)
			if err == nil {
				tool = t
			}
		}
		node := &Node{
			ID:       nd.ID,
			ToolID:   nd.ToolID,
			Tool:     tool,
			Position: nd.Position,
			Rank:     i,
		}
		g.nodes = append(g.nodes, node)
		g.byID[node.ID] = node
	}
	// Node ids carry the counter value they were minted with. A graph
	// saved after removals has gaps, so the node count alone is not a
	// safe resume point; the counter must clear the highest suffix
	// actually in use.
	g.seq = len(doc.Nodes)
	for _, node := range g.nodes {
		if idx := strings.LastIndex(node.ID, "-"); idx >= 0 {
			if n, err := strconv.Atoi(node.ID[idx+1:]); err == nil && n+1 > g.seq {
				g.seq = n + 1
			}
		}
	}

	for i, ed := range doc.Edges {
		src, ok := g.byID[ed.Source]
		if !ok {
			return nil, fmt.Errorf("edge %d (%s): source: %w", i, ed.ID, domain.ErrUnknownNode)
		}
		dst, ok := g.byID[ed.Target]
		if !ok {
			return nil, fmt.Errorf("edge %d (%s): target: %w", i, ed.ID, domain.ErrUnknownNode)
		}
		g.edges = append(g.edges, &Edge{
			ID:     ed.ID,
			Source: ed.Source,
			Target: ed.Target,
			Valid:  validator.Connectable(src.Tool, dst.Tool),
		})
	}
	return g, nil
}

// EncodeYAML renders the document as YAML.
func (d *Document) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// DecodeYAML parses a YAML pipeline document.
func DecodeYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pipeline yaml: %w", err)
	}
	return &doc, nil
}

// EncodeJSON renders the document as JSON.
func (d *Document) EncodeJSON() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeJSON parses a JSON pipeline document.
func DecodeJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode pipeline json: %w", err)
	}
	return &doc, nil
}
