package replay

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// setNodeStatus updates nodeID's status in place, appending a fresh
// NodeState if this is the node's first appearance (a well-formed event
// stream always schedules a node before starting/completing it, but
// replay tolerates an out-of-order fixture by creating the entry).
func setNodeStatus(s *snapshot.State, nodeID kernel.ID, status snapshot.NodeStatus) {
	for i := range s.Nodes {
		if s.Nodes[i].NodeID == nodeID {
			s.Nodes[i].Status = status
			return
		}
	}
	s.Nodes = append(s.Nodes, snapshot.NodeState{NodeID: nodeID, Status: status})
}

func setNodeResult(s *snapshot.State, nodeID kernel.ID, resultHash hashid.Hash) {
	for i := range s.Nodes {
		if s.Nodes[i].NodeID == nodeID {
			s.Nodes[i].Status = snapshot.NodeCompleted
			s.Nodes[i].ResultHash = resultHash
			s.Nodes[i].HasResult = true
			return
		}
	}
	s.Nodes = append(s.Nodes, snapshot.NodeState{
		NodeID: nodeID, Status: snapshot.NodeCompleted, ResultHash: resultHash, HasResult: true,
	})
}

func removeFromReadyQueue(s *snapshot.State, nodeID kernel.ID) {
	out := s.Coordinator.ReadyQueue[:0]
	for _, id := range s.Coordinator.ReadyQueue {
		if id != nodeID {
			out = append(out, id)
		}
	}
	s.Coordinator.ReadyQueue = out
}

func setWorkerBusy(s *snapshot.State, workerID, nodeID kernel.ID) {
	for i := range s.Workers {
		if s.Workers[i].WorkerID == workerID {
			s.Workers[i].Status = snapshot.WorkerBusy
			s.Workers[i].ActiveTasks = appendUnique(s.Workers[i].ActiveTasks, nodeID)
			s.Workers[i].QueueDepth++
			return
		}
	}
	s.Workers = append(s.Workers, snapshot.WorkerState{
		WorkerID: workerID, Status: snapshot.WorkerBusy, ActiveTasks: []kernel.ID{nodeID}, QueueDepth: 1,
	})
}

func removeActiveTask(s *snapshot.State, workerID, nodeID kernel.ID) {
	for i := range s.Workers {
		if s.Workers[i].WorkerID != workerID {
			continue
		}
		out := s.Workers[i].ActiveTasks[:0]
		for _, id := range s.Workers[i].ActiveTasks {
			if id != nodeID {
				out = append(out, id)
			}
		}
		s.Workers[i].ActiveTasks = out
		if s.Workers[i].QueueDepth > 0 {
			s.Workers[i].QueueDepth--
		}
		if len(out) == 0 {
			s.Workers[i].Status = snapshot.WorkerIdle
		}
		return
	}
}

func appendUnique(ids []kernel.ID, id kernel.ID) []kernel.ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
