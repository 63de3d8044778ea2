// Package txgraph turns transaction records into renderable account graphs.
//
// Nodes are colored by role: green for the origin, blue for intermediaries and
// red for the terminal account. Every edge endpoint is present in the node set.
package txgraph

import (
	"strings"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/record"
)

// Kind names the layout a graph was built from.
type Kind string

const (
	KindCluster Kind = "cluster"
	KindPath    Kind = "path"
	KindEmpty   Kind = "empty"
)

// Build maps a transaction to its graph. Linked-cluster data takes precedence
// over path data; a record with nothing to draw yields an empty graph.
func Build(tx domain.Transaction) domain.Graph {
	g, _ := Describe(tx)
	return g
}

// Describe builds the graph and reports which layout produced it.
func Describe(tx domain.Transaction) (domain.Graph, Kind) {
	if g, ok := buildCluster(tx.LinkedMembers, tx.LinkedReceiver); ok {
		return g, KindCluster
	}
	g := buildPath(tx.HopPath())
	if g.Empty() {
		return g, KindEmpty
	}
	return g, KindPath
}

// BuildRecord normalizes a raw upstream record and builds its graph.
func BuildRecord(raw []byte) domain.Graph {
	tx, ok := record.DecodeTransaction(raw)
	if !ok {
		return newAssembler().result()
	}
	return Build(tx)
}

// ClusterOrigin returns the member treated as the initiator of a linked
// cluster: the first member, in supplied order, that is not the receiver.
func ClusterOrigin(members []string, receiver string) (string, bool) {
	receiver = strings.TrimSpace(receiver)
	for _, m := range members {
		if m = strings.TrimSpace(m); m != "" && m != receiver {
			return m, true
		}
	}
	return "", false
}

// buildCluster draws a two-layer star-to-sink: origin → each member → receiver.
// No origin → receiver edge is drawn.
func buildCluster(members []string, receiver string) (domain.Graph, bool) {
	receiver = strings.TrimSpace(receiver)
	members = uniqueIDs(members)
	if receiver == "" || len(members) < 2 {
		return domain.Graph{}, false
	}
	origin, ok := ClusterOrigin(members, receiver)
	if !ok {
		return domain.Graph{}, false
	}

	a := newAssembler()
	for _, m := range members {
		switch m {
		case receiver:
			a.node(m, domain.ColorTerminal)
		case origin:
			a.node(m, domain.ColorOrigin)
		default:
			a.node(m, domain.ColorIntermediary)
		}
	}
	a.node(receiver, domain.ColorTerminal)

	for _, m := range members {
		if m == receiver || m == origin {
			continue
		}
		a.edge(origin, m)
		a.edge(m, receiver)
	}
	return a.result(), true
}

func buildPath(path []string) domain.Graph {
	a := newAssembler()
	last := len(path) - 1
	for i, id := range path {
		a.node(id, pathColor(i, last))
	}
	for i := 1; i < len(path); i++ {
		a.edge(path[i-1], path[i])
	}
	return a.result()
}

func pathColor(i, last int) domain.Color {
	switch {
	case i == 0:
		return domain.ColorOrigin
	case i == last:
		return domain.ColorTerminal
	default:
		return domain.ColorIntermediary
	}
}

// assembler collects nodes once per identifier; the first classification wins.
type assembler struct {
	nodes []domain.Node
	edges []domain.Edge
	seen  map[string]struct{}
}

func newAssembler() *assembler {
	return &assembler{
		nodes: []domain.Node{},
		edges: []domain.Edge{},
		seen:  make(map[string]struct{}),
	}
}

func (a *assembler) node(id string, color domain.Color) {
	if _, ok := a.seen[id]; ok {
		return
	}
	a.seen[id] = struct{}{}
	a.nodes = append(a.nodes, domain.Node{ID: id, Color: color})
}

func (a *assembler) edge(source, target string) {
	a.edges = append(a.edges, domain.Edge{Source: source, Target: target})
}

func (a *assembler) result() domain.Graph {
	return domain.Graph{Nodes: a.nodes, Edges: a.edges}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
