package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/replay"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// buildRun constructs a small well-formed event log: Created -> Scheduled
// -> Started -> Completed -> RunCompleted, chaining prior/post state
// hashes through replay.Apply itself so the fixture can't drift from the
// transition function it exercises.
func buildRun(t *testing.T) (*eventlog.Log, kernel.ID, kernel.ID) {
	t.Helper()
	runID := kernel.NewID("run")
	nodeID := kernel.NewID("node")
	workerID := kernel.NewID("worker")

	log := eventlog.New()
	state := snapshot.State{}
	lt := kernel.LogicalTime(0)

	appendEvent := func(kind eventlog.Kind, payload codec.Marshaler) eventlog.Event {
		lt = lt.Next()
		encoded := eventlog.EncodePayload(payload)
		e := eventlog.NewEvent(kernel.NewID("evt"), runID, nodeID, lt, kind, encoded)
		if h, ok := stateHashSoFar(log, state); ok {
			e = e.WithPriorState(h)
		}
		next, err := replay.Apply(state, e)
		require.NoError(t, err)
		e = e.WithPostState(next.Hash())
		require.NoError(t, log.Append(e))
		state = next
		return e
	}

	appendEvent(eventlog.KindRunCreated, eventlog.RunCreatedPayload{DAGHash: hashid.H([]byte("dag"))})
	appendEvent(eventlog.KindNodeScheduled, &eventlog.NodeScheduledPayload{NodeID: nodeID, WorkerID: workerID})
	appendEvent(eventlog.KindNodeStarted, &eventlog.NodeStartedPayload{NodeID: nodeID})
	appendEvent(eventlog.KindNodeCompleted, &eventlog.NodeCompletedPayload{NodeID: nodeID, ResultHash: hashid.H([]byte("result"))})
	appendEvent(eventlog.KindRunCompleted, eventlog.RunCompletedPayload{FinalStateHash: state.Hash()})

	return log, runID, nodeID
}

func stateHashSoFar(log *eventlog.Log, s snapshot.State) (hashid.Hash, bool) {
	if log.Len() == 0 {
		return hashid.Hash{}, false
	}
	return s.Hash(), true
}

func TestReplayReconstructsFinalState(t *testing.T) {
	log, _, nodeID := buildRun(t)

	result, err := replay.Replay(log, eventlog.Cursor{}, snapshot.State{})
	require.NoError(t, err)
	require.Equal(t, log.Len(), result.EventsProcessed)
	require.Empty(t, result.Divergences)

	require.Len(t, result.FinalState.Nodes, 1)
	require.Equal(t, nodeID, result.FinalState.Nodes[0].NodeID)
	require.Equal(t, snapshot.NodeCompleted, result.FinalState.Nodes[0].Status)
	require.True(t, result.FinalState.Nodes[0].HasResult)
}

// tamperLast rebuilds log with its final event's post_state_hash
// corrupted. It must be the final event: the chain validator on Append
// checks that every event's prior_state_hash matches the *previous*
// event's post_state_hash, so tampering any earlier event would make the
// fixture itself unappendable rather than exercising replay's own
// mismatch detection.
func tamperLast(t *testing.T, log *eventlog.Log) *eventlog.Log {
	t.Helper()
	last, ok := log.Last()
	require.True(t, ok)

	tampered := eventlog.New()
	it := log.All()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.EventID == last.EventID {
			e.PostStateHash = hashid.H([]byte("tampered"))
		}
		require.NoError(t, tampered.Append(e))
	}
	return tampered
}

func TestReplayDetectsStateHashMismatch(t *testing.T) {
	log, _, _ := buildRun(t)
	tampered := tamperLast(t, log)

	_, err := replay.Replay(tampered, eventlog.Cursor{}, snapshot.State{})
	require.Error(t, err)
}

func TestReplayTolerantContinuesPastDivergence(t *testing.T) {
	log, _, _ := buildRun(t)
	tampered := tamperLast(t, log)

	result := replay.ReplayTolerant(tampered, eventlog.Cursor{}, snapshot.State{})
	require.Equal(t, log.Len(), result.EventsProcessed)
	require.Len(t, result.Divergences, 1)
}
