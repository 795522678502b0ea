// Package cluster specifies the contract the kernel requires from a
// clustered deployment (spec §4.8 "In cluster mode", §5 "Failure
// detection in cluster"): the consensus log-entry shape, leader/quorum
// expectations, and per-worker liveness tracking. The RPC transport and
// the Raft-style consensus algorithm itself are out of this kernel's
// scope (spec §1) — Proposer is the interface a real implementation
// satisfies; LocalProposer is the single-node stand-in used by `run` and
// `sim` when no cluster is configured.
package cluster

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Entry is one proposed decision awaiting commit. Payload is the
// canonical-encoded scheduler decision or other coordinator action;
// commit order across all entries is the kernel's total order in cluster
// mode (spec §5 "Ordering").
type Entry struct {
	RunID   kernel.ID
	Index   uint64
	Payload []byte
}

// Proposer is satisfied by whatever consensus primitive backs a cluster
// deployment. Propose blocks until the entry is committed or the proposer
// determines it has lost leadership (kerr.NotLeader) or quorum
// (kerr.QuorumLost).
type Proposer interface {
	Propose(entry Entry) (committedIndex uint64, err error)
	IsLeader() bool
}

// LocalProposer is a single-node Proposer: always leader, commits every
// entry immediately in proposal order. Used when `run`/`sim` operate
// without a configured cluster (spec §4.8: "scheduling is performed only
// by the current leader" — a single node is trivially its own leader).
type LocalProposer struct {
	nextIndex uint64
}

// NewLocalProposer returns a LocalProposer starting at commit index 0.
func NewLocalProposer() *LocalProposer { return &LocalProposer{} }

// Propose commits entry immediately, assigning it the next sequential
// index.
func (p *LocalProposer) Propose(entry Entry) (uint64, error) {
	p.nextIndex++
	return p.nextIndex, nil
}

// IsLeader always reports true for a single-node proposer.
func (p *LocalProposer) IsLeader() bool { return true }

// RequireLeader is the guard every scheduling decision must pass before
// it is proposed in cluster mode (spec §4.8): "scheduling is performed
// only by the current leader."
func RequireLeader(p Proposer) error {
	if !p.IsLeader() {
		return kerr.New(kerr.NotLeader, "scheduling decisions may only be proposed by the current leader")
	}
	return nil
}

var (
	_ Proposer = (*LocalProposer)(nil)
)
