package snapshot

import (
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/store"
)

// blobAddressFor builds the BLAKE3 content address for a hash value
// already known to be a blob digest (e.g. a NodeState.ResultHash).
func blobAddressFor(h hashid.Hash) hashid.Address {
	return hashid.Address{Algorithm: "blake3", Hash: h}
}

// ValidateContentHash recomputes s.State.Hash() and compares it against
// s.ContentHash, failing with kerr.SnapshotCorrupted on mismatch (spec
// §4.4 validator, scenario 6's bit-flip detection).
func ValidateContentHash(s Snapshot) error {
	if got := s.State.Hash(); got != s.ContentHash {
		return kerr.New(kerr.SnapshotCorrupted, "snapshot content_hash does not match recomputed state hash")
	}
	return nil
}

// ValidateChain checks that chain, ordered oldest-to-newest, forms a
// continuous prior_snapshot_id chain with strictly increasing logical
// time (spec §4.4: "chain of snapshots matches chain of events at their
// logical_time").
func ValidateChain(chain []Snapshot) error {
	for i, s := range chain {
		if i == 0 {
			if s.HasPriorSnapshot {
				return kerr.New(kerr.SnapshotCorrupted, "first snapshot in chain must not have a prior_snapshot_id")
			}
			continue
		}
		prev := chain[i-1]
		if !s.HasPriorSnapshot || s.PriorSnapshotID != prev.SnapshotID {
			return kerr.New(kerr.SnapshotCorrupted, "snapshot chain discontinuity: prior_snapshot_id does not match previous snapshot")
		}
		if !(prev.LogicalTime < s.LogicalTime) {
			return kerr.New(kerr.SnapshotCorrupted, "snapshot chain logical_time did not strictly increase")
		}
	}
	return nil
}

// ValidateLogIndex checks that s.LogIndex names a valid position in log:
// in range, and the event found there has logical_time == s.LogicalTime,
// per spec §4.4 "log_index aligns with an event's position".
func ValidateLogIndex(s Snapshot, log *eventlog.Log) error {
	e, ok := log.At(s.LogIndex)
	if !ok {
		return kerr.New(kerr.SnapshotCorrupted, "snapshot log_index is out of range for the event log")
	}
	if e.LogicalTime != s.LogicalTime {
		return kerr.New(kerr.SnapshotCorrupted, "snapshot log_index does not align with an event at the snapshot's logical_time")
	}
	return nil
}

// ValidateBlobs checks that every NodeState.ResultHash referenced by s is
// present in st (spec §4.4 "all referenced blobs exist").
func ValidateBlobs(s Snapshot, st store.Store) error {
	for _, n := range s.State.Nodes {
		if !n.HasResult {
			continue
		}
		addr := blobAddressFor(n.ResultHash)
		if !st.Contains(addr) {
			return kerr.New(kerr.SnapshotCorrupted, "snapshot references a blob not present in the content store: "+addr.String())
		}
	}
	return nil
}
