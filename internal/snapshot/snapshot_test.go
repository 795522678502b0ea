package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/policy"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

func fixtureState() snapshot.State {
	w1 := kernel.NewID("worker")
	w2 := kernel.NewID("worker")
	n1 := kernel.NewID("node")
	n2 := kernel.NewID("node")

	return snapshot.State{
		Coordinator: snapshot.CoordinatorState{
			CompletedNodes:     []kernel.ID{n1},
			FailedNodes:        nil,
			ReadyQueue:         []kernel.ID{n2},
			CompletedCount:     1,
			CurrentLogicalTime: kernel.LogicalTime(42),
			RateLimitBuckets: []policy.BucketState{
				{ToolName: "fetch", Tokens: 5, LastRefillLogical: 40},
			},
		},
		Workers: []snapshot.WorkerState{
			{WorkerID: w1, Status: snapshot.WorkerIdle, Capabilities: []kernel.CapabilityKind{kernel.CapNetRead}, QueueDepth: 0},
			{WorkerID: w2, Status: snapshot.WorkerBusy, QueueDepth: 2, ActiveTasks: []kernel.ID{kernel.NewID("task")}},
		},
		Nodes: []snapshot.NodeState{
			{NodeID: n1, Status: snapshot.NodeCompleted, HasResult: true},
			{NodeID: n2, Status: snapshot.NodePending},
		},
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := fixtureState()
	encoded := codec.Encode(s)

	var decoded snapshot.State
	require.NoError(t, codec.Decode(encoded, &decoded))
	require.Equal(t, s.Hash(), decoded.Hash())

	reencoded := codec.Encode(decoded)
	require.Equal(t, encoded, reencoded, "re-encoding a decoded State must be byte-identical")
}

func TestStateHashStableUnderConstructionOrder(t *testing.T) {
	s := fixtureState()
	shuffled := s
	shuffled.Workers = []snapshot.WorkerState{s.Workers[1], s.Workers[0]}
	shuffled.Nodes = []snapshot.NodeState{s.Nodes[1], s.Nodes[0]}

	require.Equal(t, s.Hash(), shuffled.Hash(), "Workers/Nodes are id-keyed sets; construction order must not affect the hash")
}

func TestStateHashSensitiveToReadyQueueOrder(t *testing.T) {
	s := fixtureState()
	n1, n2 := s.Coordinator.ReadyQueue[0], kernel.NewID("node")
	s.Coordinator.ReadyQueue = []kernel.ID{n1, n2}
	reordered := s
	reordered.Coordinator.ReadyQueue = []kernel.ID{n2, n1}

	require.NotEqual(t, s.Hash(), reordered.Hash(), "ReadyQueue order is scheduler-deterministic content, not a set")
}

func TestBuildAndValidateContentHash(t *testing.T) {
	s := fixtureState()
	snap := snapshot.Build(kernel.NewID("snap"), kernel.NewID("run"), 42, 7, s, kernel.ID{}, false)
	require.NoError(t, snapshot.ValidateContentHash(snap))

	corrupted := snap
	corrupted.ContentHash[0] ^= 0xFF
	require.Error(t, snapshot.ValidateContentHash(corrupted))
}

func TestValidateChain(t *testing.T) {
	run := kernel.NewID("run")
	s := fixtureState()
	base := snapshot.Build(kernel.NewID("snap"), run, 10, 1, s, kernel.ID{}, false)
	next := snapshot.Build(kernel.NewID("snap"), run, 20, 2, s, base.SnapshotID, true)

	require.NoError(t, snapshot.ValidateChain([]snapshot.Snapshot{base, next}))

	brokenPrior := next
	brokenPrior.PriorSnapshotID = kernel.NewID("snap")
	require.Error(t, snapshot.ValidateChain([]snapshot.Snapshot{base, brokenPrior}))

	nonMonotonic := next
	nonMonotonic.LogicalTime = 5
	require.Error(t, snapshot.ValidateChain([]snapshot.Snapshot{base, nonMonotonic}))
}

func TestDeltaApplyTo(t *testing.T) {
	s := fixtureState()
	base := snapshot.Build(kernel.NewID("snap"), kernel.NewID("run"), 10, 1, s, kernel.ID{}, false)

	changedNode := s.Nodes[1]
	changedNode.Status = snapshot.NodeCompleted
	changedNode.HasResult = true

	delta := snapshot.Delta{
		BaseSnapshotID: base.SnapshotID,
		LogicalTime:    11,
		LogIndex:       2,
		ChangedNodes:   []snapshot.NodeState{changedNode},
		Coordinator:    s.Coordinator,
	}

	full, err := delta.ApplyTo(base, kernel.NewID("snap"))
	require.NoError(t, err)
	require.NoError(t, snapshot.ValidateContentHash(full))
	require.True(t, full.HasPriorSnapshot)
	require.Equal(t, base.SnapshotID, full.PriorSnapshotID)

	var found bool
	for _, n := range full.State.Nodes {
		if n.NodeID == changedNode.NodeID {
			require.Equal(t, snapshot.NodeCompleted, n.Status)
			found = true
		}
	}
	require.True(t, found)
}

func TestDeltaApplyToRejectsBaseMismatch(t *testing.T) {
	s := fixtureState()
	base := snapshot.Build(kernel.NewID("snap"), kernel.NewID("run"), 10, 1, s, kernel.ID{}, false)
	delta := snapshot.Delta{BaseSnapshotID: kernel.NewID("snap"), LogicalTime: 11}
	_, err := delta.ApplyTo(base, kernel.NewID("snap"))
	require.Error(t, err)
}
