// Package dag wraps a gonum directed graph whose nodes carry names, so the
// graph can be rendered to Graphviz.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

type Graph struct {
	*simple.DirectedGraph
}

func New() *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph()}
}

// AddNamedNode allocates a node, adds it to the graph and returns it.
// IDs are handed out in insertion order.
func (g *Graph) AddNamedNode(name string) *Node {
	n := &Node{Node: g.DirectedGraph.NewNode(), name: name}
	g.AddNode(n)
	return n
}

// Connect adds an edge from -> to. Self edges are rejected.
func (g *Graph) Connect(from, to graph.Node) error {
	if from.ID() == to.ID() {
		return fmt.Errorf("self edge on node %d", from.ID())
	}
	g.SetEdge(g.NewEdge(from, to))
	return nil
}

type Node struct {
	graph.Node
	name  string
	attrs encoding.Attributes
}

func (n *Node) Name() string {
	return n.name
}

// DOTID implements dot.Node.
func (n *Node) DOTID() string {
	return n.name
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %v", err)
	}
	return string(data), nil
}
