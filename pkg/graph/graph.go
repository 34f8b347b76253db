// Package graph implements the in-progress pipeline: a directed
// structure of tool nodes and validated connections. Incompatible edges
// are stored flagged invalid rather than rejected, and no cycle
// detection is performed. Structural integrity (resolvable endpoints,
// unique ids) is enforced.
package graph

import (
	"fmt"
	"sync"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/validator"
)

// Position is the 2-D layout hint for a node. The core passes it
// through untouched; only the canvas cares.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one tool placed in the pipeline. Tool points at the directory's
// descriptor and may be nil when a persisted graph references a tool the
// directory no longer resolves.
type Node struct {
	ID       string                 `json:"id"`
	ToolID   string                 `json:"tool_id"`
	Tool     *domain.ToolDescriptor `json:"-"`
	Position Position               `json:"position"`
	Rank     int                    `json:"rank"`
}

// Edge is one connection between two nodes. Valid is computed once when
// the edge is created and is not re-derived if a node's tool reference
// changes afterwards (known staleness hazard, accepted).
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Valid  bool   `json:"valid"`
}

// Graph owns a set of nodes and edges. Mutation is append/remove only;
// ids are never renumbered. Reads may happen concurrently with the
// owning session's mutations (pipeline snapshots), hence the lock.
type Graph struct {
	mu    sync.RWMutex
	name  string
	nodes []*Node
	edges []*Edge
	byID  map[string]*Node
	seq   int
}

// New creates an empty graph.
func New(name string) *Graph {
	if name == "" {
		name = "New Pipeline"
	}
	return &Graph{
		name: name,
		byID: make(map[string]*Node),
	}
}

// Name returns the pipeline name.
func (g *Graph) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// Rename sets the pipeline name.
func (g *Graph) Rename(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
}

// AddNode places a tool in the pipeline and returns the new node's id.
// It always succeeds and performs no connectivity validation. When pos
// is nil the node is laid out in a vertical column, one row per node.
func (g *Graph) AddNode(tool *domain.ToolDescriptor, pos *Position) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	rank := g.seq
	g.seq++

	p := Position{X: 100, Y: float64(100 * len(g.nodes))}
	if pos != nil {
		p = *pos
	}

	toolID := ""
	if tool != nil {
		toolID = tool.ID
	}
	node := &Node{
		ID:       fmt.Sprintf("%s-%d", toolID, rank),
		ToolID:   toolID,
		Tool:     tool,
		Position: p,
		Rank:     rank,
	}
	g.nodes = append(g.nodes, node)
	g.byID[node.ID] = node
	return node.ID
}

// AddEdge connects source to target. Both endpoints must resolve or the
// call fails with ErrUnknownNode. Validity is computed here, once, via
// the compatibility validator; an incompatible edge is stored anyway,
// flagged invalid, so the client can warn the user. Adding an edge that
// already exists returns the existing edge.
func (g *Graph) AddEdge(sourceID, targetID string) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.byID[sourceID]
	if !ok {
		return nil, fmt.Errorf("edge source %q: %w", sourceID, domain.ErrUnknownNode)
	}
	dst, ok := g.byID[targetID]
	if !ok {
		return nil, fmt.Errorf("edge target %q: %w", targetID, domain.ErrUnknownNode)
	}

	for _, e := range g.edges {
		if e.Source == sourceID && e.Target == targetID {
			return e, nil
		}
	}

	edge := &Edge{
		ID:     fmt.Sprintf("%s-%s", sourceID, targetID),
		Source: sourceID,
		Target: targetID,
		Valid:  validator.Connectable(src.Tool, dst.Tool),
	}
	g.edges = append(g.edges, edge)
	return edge, nil
}

// RemoveNode deletes a node and every edge incident to it.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byID[id]; !ok {
		return fmt.Errorf("remove node %q: %w", id, domain.ErrUnknownNode)
	}
	delete(g.byID, id)

	nodes := g.nodes[:0]
	for _, n := range g.nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	g.nodes = nodes

	edges := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	g.edges = edges
	return nil
}

// RemoveEdge deletes a single edge.
func (g *Graph) RemoveEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, e := range g.edges {
		if e.ID == id {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove edge %q: %w", id, domain.ErrUnknownEdge)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byID[id]
}

// Nodes returns the nodes in creation order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = *n
	}
	return out
}

// Edges returns the edges in creation order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = *e
	}
	return out
}

// LastNodeID returns the id of the most recently added node, or "".
func (g *Graph) LastNodeID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return ""
	}
	return g.nodes[len(g.nodes)-1].ID
}

// Counts returns the current node and edge counts.
func (g *Graph) Counts() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// Clear removes every node and edge. The id counter is not reset, so
// ids from before the clear are never reused.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.edges = nil
	g.byID = make(map[string]*Node)
}
