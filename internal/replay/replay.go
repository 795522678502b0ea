// Package replay implements the replay and diff engine (spec §4.9): pure
// state reconstruction from a snapshot plus an event range, and alignment
// of two event sequences to localize the first point of divergence.
package replay

import (
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// Divergence records a single state-hash or chain mismatch encountered
// while replaying a log. Replay stops at the first one and returns an
// error; ReplayTolerant keeps going, so its Result.Divergences can hold
// more than one.
type Divergence struct {
	EventIndex int
	EventID    string
	Expected   hashid.Hash
	Got        hashid.Hash
	Reason     string
}

// Result is the outcome of replaying an event range against a starting
// state (spec §4.9 "ReplayResult{final_state, events_processed,
// divergences}").
type Result struct {
	FinalState      snapshot.State
	EventsProcessed int
	Divergences     []Divergence
}

// Replay applies every event in log from start (inclusive) to the end,
// starting from initial, re-deriving post_state_hash at each step and
// failing with kerr.StateHashMismatch on the first mismatch. This is the
// strict mode a `replay` command or certification check uses.
func Replay(log *eventlog.Log, start eventlog.Cursor, initial snapshot.State) (Result, error) {
	state := initial
	processed := 0
	for i := start.EventIndex; ; i++ {
		e, ok := log.At(i)
		if !ok {
			break
		}
		next, err := Apply(state, e)
		if err != nil {
			return Result{FinalState: state, EventsProcessed: processed}, err
		}
		if e.HasPostState {
			got := next.Hash()
			if got != e.PostStateHash {
				return Result{FinalState: state, EventsProcessed: processed}, kerr.New(
					kerr.StateHashMismatch,
					"replayed state hash does not match event's recorded post_state_hash",
				).WithEvent(e.EventID.String())
			}
		}
		state = next
		processed++
	}
	return Result{FinalState: state, EventsProcessed: processed}, nil
}

// ReplayTolerant behaves like Replay but continues past a state-hash
// mismatch, recording a Divergence and proceeding with the recomputed
// state rather than the event's claimed one. Used by `diff` to localize
// all divergences in one pass rather than stopping at the first.
func ReplayTolerant(log *eventlog.Log, start eventlog.Cursor, initial snapshot.State) Result {
	state := initial
	var divergences []Divergence
	processed := 0
	for i := start.EventIndex; ; i++ {
		e, ok := log.At(i)
		if !ok {
			break
		}
		next, err := Apply(state, e)
		if err != nil {
			divergences = append(divergences, Divergence{
				EventIndex: i,
				EventID:    e.EventID.String(),
				Reason:     err.Error(),
			})
			processed++
			continue
		}
		if e.HasPostState {
			if got := next.Hash(); got != e.PostStateHash {
				divergences = append(divergences, Divergence{
					EventIndex: i,
					EventID:    e.EventID.String(),
					Expected:   e.PostStateHash,
					Got:        got,
					Reason:     "state_hash_mismatch",
				})
			}
		}
		state = next
		processed++
	}
	return Result{FinalState: state, EventsProcessed: processed, Divergences: divergences}
}

// Apply is the pure, total state transition function (spec §4.9: "State
// transitions per kind are pure and total on well-formed inputs"). It
// never performs I/O; non-deterministic tool output is represented only
// by the stored response hash, never re-executed.
func Apply(state snapshot.State, e eventlog.Event) (snapshot.State, error) {
	payload, err := eventlog.DecodePayload(e.Kind, e.Payload)
	if err != nil {
		return state, kerr.Wrap(kerr.InvalidEncoding, "malformed event payload", err).WithEvent(e.EventID.String())
	}

	next := cloneState(state)
	next.Coordinator.CurrentLogicalTime = e.LogicalTime

	switch p := payload.(type) {
	case *eventlog.NodeScheduledPayload:
		setNodeStatus(&next, p.NodeID, snapshot.NodeScheduled)
		removeFromReadyQueue(&next, p.NodeID)

	case *eventlog.NodeStartedPayload:
		setNodeStatus(&next, p.NodeID, snapshot.NodeRunning)

	case *eventlog.NodeCompletedPayload:
		setNodeResult(&next, p.NodeID, p.ResultHash)
		next.Coordinator.CompletedNodes = appendUnique(next.Coordinator.CompletedNodes, p.NodeID)
		next.Coordinator.CompletedCount++
		next.Coordinator.ReadyQueue = append(next.Coordinator.ReadyQueue, p.NewlyReady...)

	case *eventlog.NodeFailedPayload:
		setNodeStatus(&next, p.NodeID, snapshot.NodeFailed)
		next.Coordinator.FailedNodes = appendUnique(next.Coordinator.FailedNodes, p.NodeID)

	case *eventlog.NodeSkippedPayload:
		setNodeStatus(&next, p.NodeID, snapshot.NodeSkipped)

	case *eventlog.TaskAssignedPayload:
		setWorkerBusy(&next, p.WorkerID, p.NodeID)

	case *eventlog.TaskRejectedPayload:
		removeActiveTask(&next, p.WorkerID, p.NodeID)
		next.Coordinator.ReadyQueue = append(next.Coordinator.ReadyQueue, p.NodeID)

	case *eventlog.HeartbeatPayload:
		// Liveness bookkeeping is owned by internal/cluster.LivenessTracker
		// (not replay-sensitive State); Heartbeat still advances
		// logical_time above and is otherwise a no-op here.

	case *eventlog.RunCreatedPayload, *eventlog.RunStartedPayload,
		*eventlog.RunCompletedPayload, *eventlog.RunFailedPayload,
		*eventlog.ToolInvokedPayload, *eventlog.ToolCompletedPayload,
		*eventlog.ToolFailedPayload, *eventlog.ToolTimedOutPayload,
		*eventlog.CapabilityCheckPayload, *eventlog.PolicyDecisionPayload,
		*eventlog.TaskAcceptedPayload, *eventlog.SnapshotCreatedPayload,
		*eventlog.SnapshotRestoredPayload, *eventlog.BlobStoredPayload:
		// These kinds are recorded for audit/provenance (policy decisions,
		// tool hashes, snapshot bookkeeping, blob provenance) but do not by
		// themselves mutate coordinator/worker/node state; their effects
		// surface through the Node/Task events above.

	default:
		return state, kerr.New(kerr.InvalidEncoding, "unrecognized event kind during replay: "+e.Kind.String())
	}

	return next, nil
}

func cloneState(s snapshot.State) snapshot.State {
	out := snapshot.State{
		Coordinator: s.Coordinator,
		Workers:     append([]snapshot.WorkerState(nil), s.Workers...),
		Nodes:       append([]snapshot.NodeState(nil), s.Nodes...),
	}
	out.Coordinator.CompletedNodes = append([]kernel.ID(nil), s.Coordinator.CompletedNodes...)
	out.Coordinator.FailedNodes = append([]kernel.ID(nil), s.Coordinator.FailedNodes...)
	out.Coordinator.ReadyQueue = append([]kernel.ID(nil), s.Coordinator.ReadyQueue...)
	return out
}
