package domain

// Color classifies a node's role in a rendered transaction graph.
type Color string

const (
	ColorOrigin       Color = "green"
	ColorIntermediary Color = "blue"
	ColorTerminal     Color = "red"
)

// Node is an account rendered in a graph.
type Node struct {
	ID    string
	Color Color
}

// Edge is a directed transfer between two rendered accounts.
type Edge struct {
	Source string
	Target string
}

// Graph is the renderable form of a transaction.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Empty reports whether the graph has nothing to render.
func (g Graph) Empty() bool {
	return len(g.Nodes) == 0
}
