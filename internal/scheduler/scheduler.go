// Package scheduler implements the deterministic DAG scheduler (spec
// §4.8): given a DAG and a worker set, it selects the next (node, worker)
// pair as a pure function of prior state, so every decision is itself
// reproducible as a log entry (spec P5).
package scheduler

import (
	"sort"

	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/invariant"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// Strategy selects which candidate worker a ready node is assigned to
// (spec §4.8 step 4).
type Strategy uint8

const (
	RoundRobin Strategy = iota + 1
	LeastLoaded
	Affinity
	Random
)

// Worker is the scheduler's live, operational view of one worker — richer
// than snapshot.WorkerState (which is the persisted projection this type
// round-trips through at snapshot/restore boundaries).
type Worker struct {
	ID           kernel.ID
	Status       snapshot.WorkerStatus
	Capabilities []kernel.CapabilityKind
	Resources    kernel.ResourceBounds
	QueueDepth   int
	Zone         string
	ActiveTasks  []kernel.ID
	QueuedTasks  []kernel.ID
}

// ToSnapshotState projects w into its persisted form.
func (w Worker) ToSnapshotState() snapshot.WorkerState {
	return snapshot.WorkerState{
		WorkerID:     w.ID,
		Status:       w.Status,
		Capabilities: append([]kernel.CapabilityKind(nil), w.Capabilities...),
		Resources:    w.Resources,
		QueueDepth:   w.QueueDepth,
		Zone:         w.Zone,
		ActiveTasks:  append([]kernel.ID(nil), w.ActiveTasks...),
		QueuedTasks:  append([]kernel.ID(nil), w.QueuedTasks...),
	}
}

// WorkerFromSnapshotState is the inverse of ToSnapshotState, used when
// restoring a Scheduler from a Snapshot.
func WorkerFromSnapshotState(s snapshot.WorkerState) Worker {
	return Worker{
		ID:           s.WorkerID,
		Status:       s.Status,
		Capabilities: append([]kernel.CapabilityKind(nil), s.Capabilities...),
		Resources:    s.Resources,
		QueueDepth:   s.QueueDepth,
		Zone:         s.Zone,
		ActiveTasks:  append([]kernel.ID(nil), s.ActiveTasks...),
		QueuedTasks:  append([]kernel.ID(nil), s.QueuedTasks...),
	}
}

// Decision is one scheduling decision — itself logged as a TaskAssigned /
// NodeScheduled event pair by the caller (spec §3 Task entity, §4.8).
type Decision struct {
	TaskID     kernel.ID
	NodeID     kernel.ID
	WorkerID   kernel.ID
	AssignedAt kernel.LogicalTime
	Reasoning  string
}

// Config bounds the scheduler's queueing and backpressure behavior (spec
// §4.8).
type Config struct {
	MaxQueuePerWorker int
	AcceptThreshold   float64
	ThrottleThreshold float64
	Strategy          Strategy
}

// Scheduler holds the workers map, ready queue, and completed set from
// spec §4.8. It is logically single-threaded per run (spec §5): callers
// must not invoke it concurrently for the same run.
type Scheduler struct {
	dag    *dag.DAG
	cfg    Config
	idGen  func(prefix string) kernel.ID

	workers map[kernel.ID]*Worker
	ready   []kernel.ID
	completed map[kernel.ID]struct{}
	completedCount uint64

	// affinityHistory maps a node's predecessor-group signature to the
	// worker_id last assigned to a sibling (a node sharing that exact
	// predecessor set) — the deterministic "previously-executed sibling"
	// signal the Affinity strategy prefers (spec §4.8).
	affinityHistory map[string]kernel.ID
}

// New builds a Scheduler over d, seeded with d's entry nodes in the given
// canonical order (spec §4.8: "ready queue of node_ids, initialized from
// DAG entry nodes").
func New(d *dag.DAG, orderedNodeIDs []kernel.ID, cfg Config, idGen func(prefix string) kernel.ID) *Scheduler {
	invariant.NotNil(d, "dag")
	if cfg.MaxQueuePerWorker <= 0 {
		cfg.MaxQueuePerWorker = 32
	}
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = 0.8
	}
	if cfg.ThrottleThreshold <= 0 {
		cfg.ThrottleThreshold = 0.5
	}
	if cfg.Strategy == 0 {
		cfg.Strategy = RoundRobin
	}
	if idGen == nil {
		idGen = kernel.NewID
	}
	return &Scheduler{
		dag:             d,
		cfg:             cfg,
		idGen:           idGen,
		workers:         make(map[kernel.ID]*Worker),
		ready:           append([]kernel.ID(nil), d.EntryNodesFrom(orderedNodeIDs)...),
		completed:       make(map[kernel.ID]struct{}),
		affinityHistory: make(map[string]kernel.ID),
	}
}

// AddWorker registers w, replacing any existing worker with the same ID.
func (s *Scheduler) AddWorker(w Worker) {
	cp := w
	s.workers[w.ID] = &cp
}

// RemoveWorker deregisters a worker. Its queued/active tasks are left for
// the caller to re-propose (spec §5 failure detection).
func (s *Scheduler) RemoveWorker(id kernel.ID) {
	delete(s.workers, id)
}

// Workers returns a snapshot of every registered worker, sorted by id for
// deterministic iteration.
func (s *Scheduler) Workers() []Worker {
	ids := make([]kernel.ID, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]Worker, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.workers[id])
	}
	return out
}

// ReadyQueue returns the current ready queue in order (exposed for
// snapshotting).
func (s *Scheduler) ReadyQueue() []kernel.ID { return append([]kernel.ID(nil), s.ready...) }

// CompletedCount returns the scheduler's sequence counter (spec §4.8:
// "a sequence counter drawn from count(completed)").
func (s *Scheduler) CompletedCount() uint64 { return s.completedCount }

// MarkCompleted records nodeID as completed and recomputes the
// newly-ready set: for each outgoing edge from nodeID, if every
// predecessor of the target is now completed, the target is enqueued.
// Newly ready nodes are appended in the DAG's canonical outgoing-edge
// order (spec §4.8).
func (s *Scheduler) MarkCompleted(nodeID kernel.ID) []kernel.ID {
	s.completed[nodeID] = struct{}{}
	s.completedCount++

	var newlyReady []kernel.ID
	for _, target := range s.dag.Outgoing(nodeID) {
		if s.allPredecessorsCompleted(target) {
			s.ready = append(s.ready, target)
			newlyReady = append(newlyReady, target)
		}
	}
	return newlyReady
}

func (s *Scheduler) allPredecessorsCompleted(node kernel.ID) bool {
	for _, p := range s.dag.Incoming(node) {
		if _, ok := s.completed[p]; !ok {
			return false
		}
	}
	return true
}

// NextDecision implements spec §4.8's algorithm. now is the run's current
// logical time, stamped onto the returned Decision's AssignedAt. Returns
// ok=false when there is no decision to make right now (empty queue, or
// the front node's candidates are all unavailable — in which case the
// node is re-enqueued at the back to avoid starvation).
func (s *Scheduler) NextDecision(now kernel.LogicalTime) (Decision, bool) {
	if len(s.ready) == 0 {
		return Decision{}, false
	}

	nodeID := s.ready[0]
	s.ready = s.ready[1:]

	node, ok := s.dag.Nodes[nodeID]
	if !ok {
		invariant.Precondition(false, "ready queue references unknown node %v", nodeID)
	}

	candidates := s.candidatesFor(node)
	if len(candidates) == 0 {
		s.ready = append(s.ready, nodeID) // re-enqueue at the back
		return Decision{}, false
	}

	chosen, reasoning := s.selectWorker(nodeID, candidates)
	s.recordAffinity(nodeID, chosen.ID)
	chosen.QueueDepth++
	chosen.QueuedTasks = append(chosen.QueuedTasks, nodeID)

	return Decision{
		TaskID:     s.idGen("task"),
		NodeID:     nodeID,
		WorkerID:   chosen.ID,
		AssignedAt: now,
		Reasoning:  reasoning,
	}, true
}

// candidatesFor filters workers per spec §4.8 step 2, returning them
// sorted by worker_id ascending (the stable base order every strategy
// selects from).
func (s *Scheduler) candidatesFor(node dag.Node) []*Worker {
	var out []*Worker
	for _, w := range s.workers {
		if w.Status != snapshot.WorkerIdle && w.Status != snapshot.WorkerBusy {
			continue
		}
		if w.QueueDepth >= s.cfg.MaxQueuePerWorker {
			continue
		}
		if !resourcesSatisfy(w.Resources, node.Resources) {
			continue
		}
		if !hasAllCapabilities(w.Capabilities, node.RequiredCapabilities) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

func resourcesSatisfy(have kernel.ResourceBounds, want dag.ResourceContract) bool {
	return want.Fuel <= have.Fuel && want.Memory <= have.Memory && want.CPU <= have.CPU
}

func hasAllCapabilities(have []kernel.CapabilityKind, want []kernel.CapabilityKind) bool {
	set := make(map[kernel.CapabilityKind]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range want {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
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

func sortIDs(ids []kernel.ID) {
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
}
