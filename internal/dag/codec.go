package dag

import (
	"sort"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
)

// MarshalCanonical implements codec.Marshaler. Nodes are a map and so
// must be sorted by id before encoding to keep the DAG's content hash
// independent of map iteration order; Edges are encoded in their
// original construction order, which is itself canonical-order-sensitive
// (spec §9: the order newly-ready nodes are enqueued in).
func (d *DAG) MarshalCanonical(w *codec.Writer) {
	ids := make([]kernel.ID, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })

	w.SeqHeader(len(ids))
	for _, id := range ids {
		n := d.Nodes[id]
		w.Bytes16(n.ID.Bytes())
		w.String(n.Name)

		caps := append([]kernel.CapabilityKind(nil), n.RequiredCapabilities...)
		sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
		w.SeqHeader(len(caps))
		for _, c := range caps {
			w.U32(uint32(c))
		}

		w.U64(n.Resources.Fuel)
		w.U64(n.Resources.Memory)
		w.U64(n.Resources.CPU)
	}

	w.SeqHeader(len(d.Edges))
	for _, e := range d.Edges {
		w.Bytes16(e.From.Bytes())
		w.Bytes16(e.To.Bytes())
	}
}

// UnmarshalCanonical implements codec.Unmarshaler, rebuilding adjacency
// via New so outgoing/incoming stay consistent with the decoded edges.
func (d *DAG) UnmarshalCanonical(r *codec.Reader) error {
	n, err := r.SeqHeader()
	if err != nil {
		return err
	}
	nodes := make([]Node, n)
	for i := 0; i < n; i++ {
		idb, err := r.Bytes16()
		if err != nil {
			return err
		}
		name, err := r.String()
		if err != nil {
			return err
		}
		capCount, err := r.SeqHeader()
		if err != nil {
			return err
		}
		caps := make([]kernel.CapabilityKind, capCount)
		for j := 0; j < capCount; j++ {
			c, err := r.U32()
			if err != nil {
				return err
			}
			caps[j] = kernel.CapabilityKind(c)
		}
		fuel, err := r.U64()
		if err != nil {
			return err
		}
		mem, err := r.U64()
		if err != nil {
			return err
		}
		cpu, err := r.U64()
		if err != nil {
			return err
		}
		nodes[i] = Node{
			ID:                   kernel.IDFromBytes("node", idb),
			Name:                 name,
			RequiredCapabilities: caps,
			Resources:            ResourceContract{Fuel: fuel, Memory: mem, CPU: cpu},
		}
	}

	m, err := r.SeqHeader()
	if err != nil {
		return err
	}
	edges := make([]Edge, m)
	for i := 0; i < m; i++ {
		fb, err := r.Bytes16()
		if err != nil {
			return err
		}
		tb, err := r.Bytes16()
		if err != nil {
			return err
		}
		edges[i] = Edge{From: kernel.IDFromBytes("node", fb), To: kernel.IDFromBytes("node", tb)}
	}

	*d = *New(nodes, edges)
	return nil
}

func idLess(a, b kernel.ID) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

var (
	_ codec.Marshaler   = (*DAG)(nil)
	_ codec.Unmarshaler = (*DAG)(nil)
)
