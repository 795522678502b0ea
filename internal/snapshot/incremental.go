package snapshot

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// Delta is the incremental snapshot form (spec §4.4): rather than
// re-serializing full state, it stores only what changed relative to a
// base snapshot. ApplyTo reconstructs the full state and recomputes
// content_hash.
type Delta struct {
	BaseSnapshotID kernel.ID
	LogicalTime    kernel.LogicalTime
	LogIndex       int

	// ChangedNodes overwrites or adds the named node states; a node not
	// present here keeps its value from the base.
	ChangedNodes []NodeState

	// AddedWorkers/RemovedWorkers mutate the worker set relative to base.
	AddedWorkers   []WorkerState
	RemovedWorkers []kernel.ID

	// NewBlobRefs lists content addresses newly referenced since the
	// base snapshot (e.g. new ToolCompleted result hashes), for the
	// bundle layer's reference tracking — not part of State itself.
	NewBlobRefs []hashid.Address

	Coordinator CoordinatorState
}

// ApplyTo reconstructs the full Snapshot this delta represents, given the
// base snapshot it was computed against. base.SnapshotID must equal
// d.BaseSnapshotID.
func (d Delta) ApplyTo(base Snapshot, newSnapshotID kernel.ID) (Snapshot, error) {
	if base.SnapshotID != d.BaseSnapshotID {
		return Snapshot{}, errBaseMismatch(base.SnapshotID, d.BaseSnapshotID)
	}

	nodeByID := make(map[kernel.ID]NodeState, len(base.State.Nodes))
	for _, n := range base.State.Nodes {
		nodeByID[n.NodeID] = n
	}
	for _, n := range d.ChangedNodes {
		nodeByID[n.NodeID] = n
	}
	nodes := make([]NodeState, 0, len(nodeByID))
	for _, n := range nodeByID {
		nodes = append(nodes, n)
	}

	removed := make(map[kernel.ID]struct{}, len(d.RemovedWorkers))
	for _, id := range d.RemovedWorkers {
		removed[id] = struct{}{}
	}
	workerByID := make(map[kernel.ID]WorkerState, len(base.State.Workers))
	for _, w := range base.State.Workers {
		if _, gone := removed[w.WorkerID]; gone {
			continue
		}
		workerByID[w.WorkerID] = w
	}
	for _, w := range d.AddedWorkers {
		workerByID[w.WorkerID] = w
	}
	workers := make([]WorkerState, 0, len(workerByID))
	for _, w := range workerByID {
		workers = append(workers, w)
	}

	full := State{
		Coordinator: d.Coordinator,
		Workers:     workers,
		Nodes:       nodes,
	}

	return Build(newSnapshotID, base.RunID, d.LogicalTime, d.LogIndex, full, base.SnapshotID, true), nil
}

func errBaseMismatch(got, want kernel.ID) error {
	return &baseMismatchError{got: got, want: want}
}

type baseMismatchError struct {
	got, want kernel.ID
}

func (e *baseMismatchError) Error() string {
	return "snapshot: delta base mismatch: delta expects base " + e.want.String() + ", got " + e.got.String()
}
