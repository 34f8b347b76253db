package graph_test

import (
	"errors"
	"testing"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textOut() domain.AnnotationType {
	return domain.AnnotationType{URI: "http://mmif.clams.ai/vocabulary/TextDocument/v1"}
}

func whisper() *domain.ToolDescriptor {
	return &domain.ToolDescriptor{
		ID:      "whisper-wrapper",
		Version: "v5",
		Inputs:  []domain.TypeRef{domain.Single(domain.AnnotationType{URI: "http://mmif.clams.ai/vocabulary/AudioDocument/v1"})},
		Outputs: []domain.AnnotationType{textOut()},
	}
}

func spacy() *domain.ToolDescriptor {
	return &domain.ToolDescriptor{
		ID:      "spacy-wrapper",
		Version: "v2",
		Inputs:  []domain.TypeRef{domain.Single(domain.AnnotationType{URI: "http://mmif.clams.ai/vocabulary/TextDocument/v2"})},
		Outputs: []domain.AnnotationType{{URI: "http://mmif.clams.ai/vocabulary/NamedEntity/v1"}},
	}
}

func transnet() *domain.ToolDescriptor {
	return &domain.ToolDescriptor{
		ID:      "transnet-wrapper",
		Version: "v3",
		Inputs:  []domain.TypeRef{domain.Single(domain.AnnotationType{URI: "http://mmif.clams.ai/vocabulary/VideoDocument/v1"})},
		Outputs: []domain.AnnotationType{{URI: "http://mmif.clams.ai/vocabulary/TimeFrame/v1"}},
	}
}

func TestAddNode(t *testing.T) {
	g := graph.New("test")

	id1 := g.AddNode(whisper(), nil)
	id2 := g.AddNode(spacy(), &graph.Position{X: 400, Y: 250})

	assert.Equal(t, "whisper-wrapper-0", id1)
	assert.Equal(t, "spacy-wrapper-1", id2)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, graph.Position{X: 100, Y: 0}, nodes[0].Position, "default layout for first node")
	assert.Equal(t, graph.Position{X: 400, Y: 250}, nodes[1].Position, "explicit position passed through")
	assert.Equal(t, 0, nodes[0].Rank)
	assert.Equal(t, 1, nodes[1].Rank)
}

func TestAddNode_IDsNeverReusedAfterRemoval(t *testing.T) {
	g := graph.New("test")
	id1 := g.AddNode(whisper(), nil)
	require.NoError(t, g.RemoveNode(id1))

	id2 := g.AddNode(whisper(), nil)
	assert.NotEqual(t, id1, id2)
}

func TestAddEdge_ValidConnection(t *testing.T) {
	// Scenario: TextDocument/v1 output feeding a TextDocument/v2 input.
	g := graph.New("test")
	src := g.AddNode(whisper(), nil)
	dst := g.AddNode(spacy(), nil)

	edge, err := g.AddEdge(src, dst)
	require.NoError(t, err)
	assert.True(t, edge.Valid)
	assert.Equal(t, src, edge.Source)
	assert.Equal(t, dst, edge.Target)
}

func TestAddEdge_IncompatibleStoredFlagged(t *testing.T) {
	// Scenario: TimeFrame output into a TextDocument input. The edge is
	// stored anyway, flagged invalid, and counts still increment.
	g := graph.New("test")
	src := g.AddNode(transnet(), nil)
	dst := g.AddNode(spacy(), nil)

	edge, err := g.AddEdge(src, dst)
	require.NoError(t, err)
	assert.False(t, edge.Valid)

	nodes, edges := g.Counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
}

func TestAddEdge_UnknownEndpoint(t *testing.T) {
	g := graph.New("test")
	id := g.AddNode(whisper(), nil)

	_, err := g.AddEdge(id, "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownNode)

	_, err = g.AddEdge("ghost", id)
	assert.ErrorIs(t, err, domain.ErrUnknownNode)
}

func TestAddEdge_DuplicateReturnsExisting(t *testing.T) {
	g := graph.New("test")
	src := g.AddNode(whisper(), nil)
	dst := g.AddNode(spacy(), nil)

	first, err := g.AddEdge(src, dst)
	require.NoError(t, err)
	second, err := g.AddEdge(src, dst)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	_, edges := g.Counts()
	assert.Equal(t, 1, edges)
}

func TestRemoveNode_CascadesEdges(t *testing.T) {
	g := graph.New("test")
	a := g.AddNode(whisper(), nil)
	b := g.AddNode(spacy(), nil)
	c := g.AddNode(transnet(), nil)

	_, err := g.AddEdge(a, b)
	require.NoError(t, err)
	_, err = g.AddEdge(b, c)
	require.NoError(t, err)
	_, err = g.AddEdge(a, c)
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode(b))

	nodes, edges := g.Counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges, "only the a->c edge survives")
	assert.Equal(t, a, g.Edges()[0].Source)
	assert.Equal(t, c, g.Edges()[0].Target)
}

func TestRemoveEdge(t *testing.T) {
	g := graph.New("test")
	a := g.AddNode(whisper(), nil)
	b := g.AddNode(spacy(), nil)
	edge, err := g.AddEdge(a, b)
	require.NoError(t, err)

	require.NoError(t, g.RemoveEdge(edge.ID))
	assert.True(t, errors.Is(g.RemoveEdge(edge.ID), domain.ErrUnknownEdge))
}

func TestGraph_CyclesAllowed(t *testing.T) {
	// No cycle detection is performed; client-issued edges may loop.
	g := graph.New("test")
	a := g.AddNode(whisper(), nil)
	b := g.AddNode(spacy(), nil)

	_, err := g.AddEdge(a, b)
	require.NoError(t, err)
	_, err = g.AddEdge(b, a)
	require.NoError(t, err)

	_, edges := g.Counts()
	assert.Equal(t, 2, edges)
}
