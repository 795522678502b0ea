// Package snapshot implements the snapshot engine (spec §4.4): the
// canonical serialization of coordinator/worker/DAG execution state at a
// logical-time boundary, content-hashed, with an incremental delta form.
package snapshot

import (
	"sort"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/policy"
)

// NodeStatus is one DAG node's execution status within a run (spec §3
// "DAG execution state: per-node status and result_hash").
type NodeStatus uint8

const (
	NodePending NodeStatus = iota + 1
	NodeScheduled
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
)

// NodeState is one node's entry in the DAG execution state.
type NodeState struct {
	NodeID     kernel.ID
	Status     NodeStatus
	ResultHash hashid.Hash
	HasResult  bool
}

// WorkerStatus is one worker's liveness/availability status (spec §4.8
// scheduler candidate filter, §5 failure detection).
type WorkerStatus uint8

const (
	WorkerIdle WorkerStatus = iota + 1
	WorkerBusy
	WorkerDraining
	WorkerUnreachable
	WorkerSuspect
	WorkerDown
)

// WorkerState is the persisted view of one worker: what's needed to
// reconstruct scheduler candidate filtering after a restore, not the live
// operational bookkeeping the scheduler itself holds (that lives in
// internal/scheduler and round-trips through this type).
type WorkerState struct {
	WorkerID     kernel.ID
	Status       WorkerStatus
	Capabilities []kernel.CapabilityKind
	Resources    kernel.ResourceBounds
	QueueDepth   int
	Zone         string
	ActiveTasks  []kernel.ID
	QueuedTasks  []kernel.ID
}

// CoordinatorState is the coordinator-level replay-sensitive state: the
// completed/failed node sets, the scheduler's ready queue (order matters:
// it is part of determinism), the current logical time, and rate-limit
// bucket state (spec §9 open question, resolved as "include").
type CoordinatorState struct {
	CompletedNodes     []kernel.ID
	FailedNodes        []kernel.ID
	ReadyQueue         []kernel.ID
	CompletedCount     uint64 // scheduler's sequence counter, drawn from count(completed)
	CurrentLogicalTime kernel.LogicalTime
	RateLimitBuckets   []policy.BucketState
}

// State is the full reconstructable state of a run: coordinator state,
// per-worker state, and DAG execution state (spec §3 "State" entity).
// state_hash = H(canonical_encode(State)).
type State struct {
	Coordinator CoordinatorState
	Workers     []WorkerState
	Nodes       []NodeState
}

// Hash returns H(canonical_encode(s)).
func (s State) Hash() hashid.Hash {
	return hashid.H(codec.Encode(s))
}

// sortedWorkers and sortedNodes return defensive copies of s.Workers/Nodes
// sorted by id bytes, so two States with the same logical content encode
// identically regardless of construction order (the canonical codec
// requires keyed mappings sorted by encoded key bytes; Workers/Nodes here
// are conceptually id-keyed maps represented as ordered sequences).
func sortedWorkers(ws []WorkerState) []WorkerState {
	out := append([]WorkerState(nil), ws...)
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].WorkerID, out[j].WorkerID) })
	return out
}

func sortedNodes(ns []NodeState) []NodeState {
	out := append([]NodeState(nil), ns...)
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].NodeID, out[j].NodeID) })
	return out
}

func sortedIDs(ids []kernel.ID) []kernel.ID {
	out := append([]kernel.ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out
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

// MarshalCanonical implements codec.Marshaler.
func (s State) MarshalCanonical(w *codec.Writer) {
	cs := s.Coordinator
	completed := sortedIDs(cs.CompletedNodes)
	failed := sortedIDs(cs.FailedNodes)

	w.SeqHeader(len(completed))
	for _, id := range completed {
		w.Bytes16(id.Bytes())
	}
	w.SeqHeader(len(failed))
	for _, id := range failed {
		w.Bytes16(id.Bytes())
	}
	// ReadyQueue is NOT sorted: its order is a scheduler-determinism
	// invariant (spec §4.8), not an unordered set.
	w.SeqHeader(len(cs.ReadyQueue))
	for _, id := range cs.ReadyQueue {
		w.Bytes16(id.Bytes())
	}
	w.U64(cs.CompletedCount)
	w.U64(uint64(cs.CurrentLogicalTime))

	buckets := append([]policy.BucketState(nil), cs.RateLimitBuckets...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].ToolName < buckets[j].ToolName })
	w.SeqHeader(len(buckets))
	for _, b := range buckets {
		w.String(b.ToolName)
		w.U64(b.Tokens)
		w.U64(b.LastRefillLogical)
	}

	workers := sortedWorkers(s.Workers)
	w.SeqHeader(len(workers))
	for _, wk := range workers {
		wk.marshal(w)
	}

	nodes := sortedNodes(s.Nodes)
	w.SeqHeader(len(nodes))
	for _, n := range nodes {
		n.marshal(w)
	}
}

func (ws WorkerState) marshal(w *codec.Writer) {
	w.Bytes16(ws.WorkerID.Bytes())
	w.U8(uint8(ws.Status))

	caps := append([]kernel.CapabilityKind(nil), ws.Capabilities...)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	w.SeqHeader(len(caps))
	for _, c := range caps {
		w.U32(uint32(c))
	}

	w.U64(ws.Resources.Fuel)
	w.U64(ws.Resources.Memory)
	w.U64(ws.Resources.CPU)
	w.I64(int64(ws.QueueDepth))
	w.String(ws.Zone)

	active := sortedIDs(ws.ActiveTasks)
	w.SeqHeader(len(active))
	for _, id := range active {
		w.Bytes16(id.Bytes())
	}
	queued := sortedIDs(ws.QueuedTasks)
	w.SeqHeader(len(queued))
	for _, id := range queued {
		w.Bytes16(id.Bytes())
	}
}

func (ns NodeState) marshal(w *codec.Writer) {
	w.Bytes16(ns.NodeID.Bytes())
	w.U8(uint8(ns.Status))
	codec.EncodeOptionalBytes(w, ns.HasResult, func(w *codec.Writer) { w.Bytes32(ns.ResultHash) })
}

// UnmarshalCanonical implements codec.Unmarshaler, the exact inverse of
// MarshalCanonical.
func (s *State) UnmarshalCanonical(r *codec.Reader) error {
	n, err := r.SeqHeader()
	if err != nil {
		return err
	}
	s.Coordinator.CompletedNodes = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		s.Coordinator.CompletedNodes[i] = kernel.IDFromBytes("node", b)
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	s.Coordinator.FailedNodes = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		s.Coordinator.FailedNodes[i] = kernel.IDFromBytes("node", b)
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	s.Coordinator.ReadyQueue = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		s.Coordinator.ReadyQueue[i] = kernel.IDFromBytes("node", b)
	}

	cc, err := r.U64()
	if err != nil {
		return err
	}
	s.Coordinator.CompletedCount = cc

	lt, err := r.U64()
	if err != nil {
		return err
	}
	s.Coordinator.CurrentLogicalTime = kernel.LogicalTime(lt)

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	s.Coordinator.RateLimitBuckets = make([]policy.BucketState, n)
	for i := 0; i < n; i++ {
		name, err := r.String()
		if err != nil {
			return err
		}
		tokens, err := r.U64()
		if err != nil {
			return err
		}
		last, err := r.U64()
		if err != nil {
			return err
		}
		s.Coordinator.RateLimitBuckets[i] = policy.BucketState{ToolName: name, Tokens: tokens, LastRefillLogical: last}
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	s.Workers = make([]WorkerState, n)
	for i := 0; i < n; i++ {
		if err := s.Workers[i].unmarshal(r); err != nil {
			return err
		}
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	s.Nodes = make([]NodeState, n)
	for i := 0; i < n; i++ {
		if err := s.Nodes[i].unmarshal(r); err != nil {
			return err
		}
	}
	return nil
}

func (ws *WorkerState) unmarshal(r *codec.Reader) error {
	idb, err := r.Bytes16()
	if err != nil {
		return err
	}
	ws.WorkerID = kernel.IDFromBytes("worker", idb)

	st, err := r.U8()
	if err != nil {
		return err
	}
	ws.Status = WorkerStatus(st)

	n, err := r.SeqHeader()
	if err != nil {
		return err
	}
	ws.Capabilities = make([]kernel.CapabilityKind, n)
	for i := 0; i < n; i++ {
		c, err := r.U32()
		if err != nil {
			return err
		}
		ws.Capabilities[i] = kernel.CapabilityKind(c)
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
	ws.Resources = kernel.ResourceBounds{Fuel: fuel, Memory: mem, CPU: cpu}

	qd, err := r.I64()
	if err != nil {
		return err
	}
	ws.QueueDepth = int(qd)

	ws.Zone, err = r.String()
	if err != nil {
		return err
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	ws.ActiveTasks = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		ws.ActiveTasks[i] = kernel.IDFromBytes("task", b)
	}

	n, err = r.SeqHeader()
	if err != nil {
		return err
	}
	ws.QueuedTasks = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		ws.QueuedTasks[i] = kernel.IDFromBytes("task", b)
	}
	return nil
}

func (ns *NodeState) unmarshal(r *codec.Reader) error {
	idb, err := r.Bytes16()
	if err != nil {
		return err
	}
	ns.NodeID = kernel.IDFromBytes("node", idb)

	st, err := r.U8()
	if err != nil {
		return err
	}
	ns.Status = NodeStatus(st)

	ns.HasResult, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		ns.ResultHash, err = r.Bytes32()
		return err
	})
	return err
}

var (
	_ codec.Marshaler   = State{}
	_ codec.Unmarshaler = (*State)(nil)
)
