package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/replay"
)

func TestAlignIdenticalSequencesAllEqual(t *testing.T) {
	log, _, _ := buildRun(t)
	left := collectEvents(t, log)
	right := collectEvents(t, log)

	aligned := replay.Align(left, right)
	require.Len(t, aligned, len(left))
	for _, a := range aligned {
		require.True(t, a.HasLeft)
		require.True(t, a.HasRight)
		require.True(t, a.Equal)
	}
	require.Equal(t, -1, replay.FirstDivergence(aligned))
}

func TestFirstDivergenceAtToolResponseMismatch(t *testing.T) {
	log, _, _ := buildRun(t)
	left := collectEvents(t, log)
	right := append([]eventlog.Event(nil), left...)

	// Diverge the NodeCompleted event's payload hash on the right side,
	// standing in for a tool result that differs between the two runs.
	for i, e := range right {
		if e.Kind == eventlog.KindNodeCompleted {
			e.PayloadHash = hashid.H([]byte("different"))
			right[i] = e
			break
		}
	}

	aligned := replay.Align(left, right)
	idx := replay.FirstDivergence(aligned)
	require.GreaterOrEqual(t, idx, 0)
	require.False(t, aligned[idx].Equal)
}

func TestCausalAncestorsWalksToRunStarted(t *testing.T) {
	runID := kernel.NewID("run")
	nodeID := kernel.NewID("node")
	log := eventlog.New()

	started := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, 1, eventlog.KindRunStarted, eventlog.EncodePayload(eventlog.RunStartedPayload{}))
	require.NoError(t, log.Append(started))

	scheduled := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, 2, eventlog.KindNodeScheduled, eventlog.EncodePayload(&eventlog.NodeScheduledPayload{NodeID: nodeID})).WithParent(started.EventID)
	require.NoError(t, log.Append(scheduled))

	completed := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, 3, eventlog.KindNodeCompleted, eventlog.EncodePayload(&eventlog.NodeCompletedPayload{NodeID: nodeID})).WithParent(scheduled.EventID)
	require.NoError(t, log.Append(completed))

	ancestors := replay.CausalAncestors(log, completed, 10)
	require.Len(t, ancestors, 3)
	require.Equal(t, eventlog.KindRunStarted, ancestors[0].Kind)
	require.Equal(t, completed.EventID, ancestors[len(ancestors)-1].EventID)
}

func TestCausalAncestorsBoundedByMax(t *testing.T) {
	runID := kernel.NewID("run")
	nodeID := kernel.NewID("node")
	log := eventlog.New()

	started := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, 1, eventlog.KindRunStarted, eventlog.EncodePayload(eventlog.RunStartedPayload{}))
	require.NoError(t, log.Append(started))

	prev := started
	for i := 0; i < 5; i++ {
		e := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, kernel.LogicalTime(i+2), eventlog.KindHeartbeat, eventlog.EncodePayload(&eventlog.HeartbeatPayload{})).WithParent(prev.EventID)
		require.NoError(t, log.Append(e))
		prev = e
	}

	ancestors := replay.CausalAncestors(log, prev, 2)
	require.Len(t, ancestors, 2)
}

func TestSemanticDiffReportsAddedRemovedChanged(t *testing.T) {
	left := map[string]any{"a": 1.0, "b": 2.0}
	right := map[string]any{"a": 1.5, "c": 3.0}

	changes := replay.SemanticDiff(left, right)
	require.Len(t, changes, 3)

	var kinds []string
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	require.ElementsMatch(t, []string{"Added", "Removed", "Changed"}, kinds)
}

func collectEvents(t *testing.T, log *eventlog.Log) []eventlog.Event {
	t.Helper()
	var out []eventlog.Event
	it := log.All()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
