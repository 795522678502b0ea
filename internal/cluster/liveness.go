package cluster

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/invariant"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// LivenessConfig carries the logical-time thresholds from
// internal/kernel/config.Cluster, kept as plain fields here so this
// package has no dependency on the config package's YAML concerns.
type LivenessConfig struct {
	HeartbeatIntervalLogical uint64
	SuspectAfterLogical      uint64
	DownAfterLogical         uint64
}

// LivenessTracker derives worker status purely from logical time elapsed
// since each worker's last heartbeat (spec §5: "A per-worker liveness
// channel carries heartbeats; absence beyond a configured timeout moves a
// worker to Suspect and, after a second threshold, to Down"). Never reads
// a wall clock, so replay reproduces the same status transitions.
type LivenessTracker struct {
	cfg          LivenessConfig
	lastHeartbeat map[kernel.ID]kernel.LogicalTime
}

// NewLivenessTracker builds a tracker with the given thresholds.
func NewLivenessTracker(cfg LivenessConfig) *LivenessTracker {
	invariant.Precondition(cfg.SuspectAfterLogical > cfg.HeartbeatIntervalLogical, "suspect threshold must exceed heartbeat interval")
	invariant.Precondition(cfg.DownAfterLogical > cfg.SuspectAfterLogical, "down threshold must exceed suspect threshold")
	return &LivenessTracker{cfg: cfg, lastHeartbeat: make(map[kernel.ID]kernel.LogicalTime)}
}

// Heartbeat records a heartbeat from workerID at the given logical time.
func (lt *LivenessTracker) Heartbeat(workerID kernel.ID, at kernel.LogicalTime) {
	lt.lastHeartbeat[workerID] = at
}

// StatusAt derives workerID's liveness status at logical time now, given
// its last recorded heartbeat. A worker with no recorded heartbeat is
// treated as having last been seen at logical time 0.
func (lt *LivenessTracker) StatusAt(workerID kernel.ID, now kernel.LogicalTime) snapshot.WorkerStatus {
	last := lt.lastHeartbeat[workerID]
	elapsed := uint64(now) - uint64(last)
	switch {
	case elapsed >= lt.cfg.DownAfterLogical:
		return snapshot.WorkerDown
	case elapsed >= lt.cfg.SuspectAfterLogical:
		return snapshot.WorkerSuspect
	default:
		return snapshot.WorkerIdle
	}
}

// DownWorkers returns, from the given candidate worker ids, those whose
// derived status at now is Down — the set whose in-flight tasks must be
// re-proposed (spec §5: "Tasks on Down workers are re-proposed").
func (lt *LivenessTracker) DownWorkers(candidates []kernel.ID, now kernel.LogicalTime) []kernel.ID {
	var down []kernel.ID
	for _, id := range candidates {
		if lt.StatusAt(id, now) == snapshot.WorkerDown {
			down = append(down, id)
		}
	}
	return down
}
