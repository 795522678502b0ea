package scheduler

import (
	"sort"
	"strings"

	"github.com/cathedral-fabric/fabric/internal/kernel"
)

// selectWorker applies s.cfg.Strategy to candidates (already sorted by
// worker_id ascending), returning the chosen worker and a human-readable
// reasoning string for logging (spec §4.8 step 4).
func (s *Scheduler) selectWorker(nodeID kernel.ID, candidates []*Worker) (*Worker, string) {
	switch s.cfg.Strategy {
	case LeastLoaded:
		return s.selectLeastLoaded(candidates), "least_loaded"
	case Affinity:
		return s.selectAffinity(nodeID, candidates)
	case Random:
		idx := deterministicIndex(nodeID, len(candidates))
		return candidates[idx], "random"
	case RoundRobin:
		fallthrough
	default:
		idx := int(s.completedCount) % len(candidates)
		return candidates[idx], "round_robin"
	}
}

// selectLeastLoaded picks the minimum queue_depth, ties broken by
// ascending worker_id (candidates are already worker_id-sorted, so the
// first minimum found is the tie-break winner).
func (s *Scheduler) selectLeastLoaded(candidates []*Worker) *Worker {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.QueueDepth < best.QueueDepth {
			best = c
		}
	}
	return best
}

// selectAffinity prefers a candidate that previously executed a sibling
// of nodeID (same predecessor set) or shares a zone with the most
// recently assigned sibling worker; otherwise falls back to
// least-loaded, then worker_id (spec §4.8 Affinity strategy).
func (s *Scheduler) selectAffinity(nodeID kernel.ID, candidates []*Worker) (*Worker, string) {
	key := s.affinityKey(nodeID)
	if prior, ok := s.affinityHistory[key]; ok {
		for _, c := range candidates {
			if c.ID == prior {
				return c, "affinity:previously_executed_sibling"
			}
		}
		for _, c := range candidates {
			if priorWorker, ok := s.workers[prior]; ok && priorWorker.Zone != "" && c.Zone == priorWorker.Zone {
				return c, "affinity:same_zone"
			}
		}
	}
	return s.selectLeastLoaded(candidates), "affinity:least_loaded_fallback"
}

// affinityKey is a node's deterministic "sibling group" signature: the
// sorted set of its DAG predecessors. Nodes sharing the same predecessor
// set are considered siblings for affinity purposes.
func (s *Scheduler) affinityKey(nodeID kernel.ID) string {
	preds := s.dag.Incoming(nodeID)
	strs := make([]string, len(preds))
	for i, p := range preds {
		strs[i] = p.String()
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}

func (s *Scheduler) recordAffinity(nodeID, workerID kernel.ID) {
	s.affinityHistory[s.affinityKey(nodeID)] = workerID
}

// deterministicIndex computes a stable, deterministic index in
// [0,count) from nodeID, replacing wall-clock/crypto randomness with a
// pure function of (node_id, candidate count) per spec §4.8's Random
// strategy ("deterministic hash of (node_id xor candidate count) mod
// |candidates|").
func deterministicIndex(nodeID kernel.ID, count int) int {
	if count <= 0 {
		return 0
	}
	b := nodeID.Bytes()
	var acc uint64
	for i, v := range b {
		acc ^= uint64(v) << uint((i%8)*8)
	}
	acc ^= uint64(count)
	return int(acc % uint64(count))
}

// ShouldAccept reports whether the scheduler's global queue usage is
// below the configured accept threshold (spec §4.8 backpressure).
func (s *Scheduler) ShouldAccept() bool {
	return s.queueUsage() < s.cfg.AcceptThreshold
}

// ShouldThrottle reports whether global queue usage exceeds the
// configured throttle threshold (default 50%, spec §4.8).
func (s *Scheduler) ShouldThrottle() bool {
	return s.queueUsage() > s.cfg.ThrottleThreshold
}

func (s *Scheduler) queueUsage() float64 {
	if len(s.workers) == 0 {
		return 1 // no capacity at all reads as fully saturated
	}
	capacity := float64(len(s.workers) * s.cfg.MaxQueuePerWorker)
	if capacity == 0 {
		return 1
	}
	var used float64
	for _, w := range s.workers {
		used += float64(w.QueueDepth)
	}
	return used / capacity
}
