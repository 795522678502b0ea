// Package dag holds the typed, acyclic execution graph the scheduler and
// replay engine operate over. Per spec §9 ("Arena+index vs. references"),
// nodes and edges are referenced by id, never by pointer: nodes: id ->
// Node, edges: []( id, id ), which keeps serialization trivial and avoids
// cyclic ownership.
package dag

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
)

// ResourceContract declares the resource bounds a node's tool execution
// requires; the scheduler filters candidate workers against it (spec
// §4.8).
type ResourceContract struct {
	Fuel   uint64
	Memory uint64
	CPU    uint64
}

// Node is one execution node in the DAG.
type Node struct {
	ID                   kernel.ID
	Name                 string
	RequiredCapabilities []kernel.CapabilityKind
	Resources            ResourceContract
}

// Edge is a directed edge from.ID -> to.ID. The DAG's canonical edge
// order (the order newly-ready nodes are enqueued in, spec §4.8) is the
// order edges appear in this slice.
type Edge struct {
	From kernel.ID
	To   kernel.ID
}

// DAG is a typed, acyclic execution graph: nodes keyed by id, edges in
// canonical (construction) order. Acyclicity is an invariant enforced by
// the (out-of-scope) compiler that produces a DAG; this type trusts it and
// is validated defensively by Validate.
type DAG struct {
	Nodes map[kernel.ID]Node
	Edges []Edge

	outgoing map[kernel.ID][]kernel.ID
	incoming map[kernel.ID][]kernel.ID
}

// New builds a DAG from nodes and edges, indexing adjacency for fast
// scheduler lookups.
func New(nodes []Node, edges []Edge) *DAG {
	d := &DAG{
		Nodes:    make(map[kernel.ID]Node, len(nodes)),
		Edges:    append([]Edge(nil), edges...),
		outgoing: make(map[kernel.ID][]kernel.ID),
		incoming: make(map[kernel.ID][]kernel.ID),
	}
	for _, n := range nodes {
		d.Nodes[n.ID] = n
	}
	for _, e := range d.Edges {
		d.outgoing[e.From] = append(d.outgoing[e.From], e.To)
		d.incoming[e.To] = append(d.incoming[e.To], e.From)
	}
	return d
}

// EntryNodes returns nodes with no inbound edges, in the iteration order
// of the d.Nodes map, which is not deterministic. Callers needing a stable
// entry list should use EntryNodesFrom with the original node slice.
func (d *DAG) EntryNodes() []kernel.ID {
	var out []kernel.ID
	for id := range d.Nodes {
		if len(d.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// EntryNodesFrom returns, from orderedIDs (the DAG compiler's original
// construction order), those with no inbound edges — the deterministic
// entry set the scheduler seeds its ready queue from.
func (d *DAG) EntryNodesFrom(orderedIDs []kernel.ID) []kernel.ID {
	out := make([]kernel.ID, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if len(d.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Outgoing returns the targets of node's outgoing edges, in canonical
// (construction) order.
func (d *DAG) Outgoing(node kernel.ID) []kernel.ID {
	return append([]kernel.ID(nil), d.outgoing[node]...)
}

// Incoming returns the sources of node's inbound edges.
func (d *DAG) Incoming(node kernel.ID) []kernel.ID {
	return append([]kernel.ID(nil), d.incoming[node]...)
}

// Validate checks for cycles via Kahn's algorithm and that every edge
// references a known node. It never mutates d.
func (d *DAG) Validate() error {
	for _, e := range d.Edges {
		if _, ok := d.Nodes[e.From]; !ok {
			return errUnknownNode(e.From)
		}
		if _, ok := d.Nodes[e.To]; !ok {
			return errUnknownNode(e.To)
		}
	}

	indeg := make(map[kernel.ID]int, len(d.Nodes))
	for id := range d.Nodes {
		indeg[id] = len(d.incoming[id])
	}
	var queue []kernel.ID
	for id, deg := range indeg {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range d.outgoing[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(d.Nodes) {
		return errCycle
	}
	return nil
}
