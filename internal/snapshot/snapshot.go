package snapshot

import (
	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// Snapshot is the canonical serialization of State at a logical-time
// boundary, together with the metadata spec §3/§4.4 requires: run_id,
// logical_time, content_hash, log_index, and an optional prior_snapshot_id
// forming a chain that must match the event chain at the same logical
// times.
type Snapshot struct {
	SnapshotID       kernel.ID
	RunID            kernel.ID
	LogicalTime      kernel.LogicalTime
	ContentHash      hashid.Hash
	PriorSnapshotID  kernel.ID
	HasPriorSnapshot bool
	LogIndex         int
	State            State
}

// Build composes coordinator state, per-worker states, and DAG node
// states (already assembled into a State by the caller — the run
// orchestration owns combining its own live bookkeeping into this shape)
// into a content-hashed Snapshot (spec §4.4).
func Build(snapshotID, runID kernel.ID, logicalTime kernel.LogicalTime, logIndex int, state State, prior kernel.ID, hasPrior bool) Snapshot {
	return Snapshot{
		SnapshotID:       snapshotID,
		RunID:            runID,
		LogicalTime:      logicalTime,
		ContentHash:      state.Hash(),
		PriorSnapshotID:  prior,
		HasPriorSnapshot: hasPrior,
		LogIndex:         logIndex,
		State:            state,
	}
}

// MarshalCanonical implements codec.Marshaler for the full
// `Snapshot { metadata, coordinator_state, worker_states, dag_state,
// blobs[] }` layout from spec §6 (the blobs[] list is carried by the
// bundle layer, which references blob addresses the state's NodeState
// result hashes point at — see internal/bundle).
func (s Snapshot) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(s.SnapshotID.Bytes())
	w.Bytes16(s.RunID.Bytes())
	w.U64(uint64(s.LogicalTime))
	w.Bytes32(s.ContentHash)
	codec.EncodeOptionalBytes(w, s.HasPriorSnapshot, func(w *codec.Writer) { w.Bytes16(s.PriorSnapshotID.Bytes()) })
	w.I64(int64(s.LogIndex))
	s.State.MarshalCanonical(w)
}

// UnmarshalCanonical implements codec.Unmarshaler.
func (s *Snapshot) UnmarshalCanonical(r *codec.Reader) error {
	idb, err := r.Bytes16()
	if err != nil {
		return err
	}
	s.SnapshotID = kernel.IDFromBytes("snap", idb)

	runb, err := r.Bytes16()
	if err != nil {
		return err
	}
	s.RunID = kernel.IDFromBytes("run", runb)

	lt, err := r.U64()
	if err != nil {
		return err
	}
	s.LogicalTime = kernel.LogicalTime(lt)

	s.ContentHash, err = r.Bytes32()
	if err != nil {
		return err
	}

	s.HasPriorSnapshot, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		s.PriorSnapshotID = kernel.IDFromBytes("snap", b)
		return nil
	})
	if err != nil {
		return err
	}

	li, err := r.I64()
	if err != nil {
		return err
	}
	s.LogIndex = int(li)

	return s.State.UnmarshalCanonical(r)
}

var (
	_ codec.Marshaler   = Snapshot{}
	_ codec.Unmarshaler = (*Snapshot)(nil)
)
