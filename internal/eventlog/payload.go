package eventlog

import (
	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// The payload types below are the canonical-encoded variant bodies
// carried in Event.Payload, one per Kind (spec §3 Event.payload: "canonical
// bytes"). Replay decodes Event.Payload according to Event.Kind before
// applying a state transition; nothing outside this file needs to know
// the per-kind layouts.

// RunCreatedPayload records the DAG a run was submitted with.
type RunCreatedPayload struct {
	DAGHash hashid.Hash
}

func (p RunCreatedPayload) MarshalCanonical(w *codec.Writer) { w.Bytes32(p.DAGHash) }
func (p *RunCreatedPayload) UnmarshalCanonical(r *codec.Reader) (err error) {
	p.DAGHash, err = r.Bytes32()
	return err
}

// RunStartedPayload carries no fields; its occurrence is the signal.
type RunStartedPayload struct{}

func (p RunStartedPayload) MarshalCanonical(w *codec.Writer)          {}
func (p *RunStartedPayload) UnmarshalCanonical(r *codec.Reader) error { return nil }

// RunCompletedPayload records the run's terminal state hash.
type RunCompletedPayload struct {
	FinalStateHash hashid.Hash
}

func (p RunCompletedPayload) MarshalCanonical(w *codec.Writer) { w.Bytes32(p.FinalStateHash) }
func (p *RunCompletedPayload) UnmarshalCanonical(r *codec.Reader) (err error) {
	p.FinalStateHash, err = r.Bytes32()
	return err
}

// RunFailedPayload records why a run terminated in failure.
type RunFailedPayload struct {
	Reason string
}

func (p RunFailedPayload) MarshalCanonical(w *codec.Writer) { w.String(p.Reason) }
func (p *RunFailedPayload) UnmarshalCanonical(r *codec.Reader) (err error) {
	p.Reason, err = r.String()
	return err
}

// NodeScheduledPayload records a scheduler decision assigning nodeID to
// workerID (mirrors internal/scheduler.Decision).
type NodeScheduledPayload struct {
	NodeID   kernel.ID
	WorkerID kernel.ID
}

func (p NodeScheduledPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes16(p.WorkerID.Bytes())
}
func (p *NodeScheduledPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	wb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.WorkerID = kernel.IDFromBytes("worker", wb)
	return nil
}

// NodeStartedPayload marks a node transitioning to Running.
type NodeStartedPayload struct {
	NodeID kernel.ID
}

func (p NodeStartedPayload) MarshalCanonical(w *codec.Writer) { w.Bytes16(p.NodeID.Bytes()) }
func (p *NodeStartedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	return nil
}

// NodeCompletedPayload carries the node's result blob address together
// with the set of sibling nodes the scheduler found newly ready as a
// consequence (their other predecessors were already complete). Carrying
// NewlyReady here, rather than recomputing it from the DAG at replay time,
// keeps Apply a pure function of (state, event) with no DAG dependency —
// the scheduler's own MarkCompleted is the only place this set is ever
// computed, at live-execution time.
type NodeCompletedPayload struct {
	NodeID     kernel.ID
	ResultHash hashid.Hash
	NewlyReady []kernel.ID
}

func (p NodeCompletedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes32(p.ResultHash)
	w.SeqHeader(len(p.NewlyReady))
	for _, id := range p.NewlyReady {
		w.Bytes16(id.Bytes())
	}
}
func (p *NodeCompletedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	if p.ResultHash, err = r.Bytes32(); err != nil {
		return err
	}
	n, err := r.SeqHeader()
	if err != nil {
		return err
	}
	p.NewlyReady = make([]kernel.ID, n)
	for i := 0; i < n; i++ {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		p.NewlyReady[i] = kernel.IDFromBytes("node", b)
	}
	return nil
}

// NodeFailedPayload records a terminal node failure.
type NodeFailedPayload struct {
	NodeID kernel.ID
	Reason string
}

func (p NodeFailedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.String(p.Reason)
}
func (p *NodeFailedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	p.Reason, err = r.String()
	return err
}

// NodeSkippedPayload records a node skipped because an ancestor failed.
type NodeSkippedPayload struct {
	NodeID kernel.ID
	Reason string
}

func (p NodeSkippedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.String(p.Reason)
}
func (p *NodeSkippedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	p.Reason, err = r.String()
	return err
}

// ToolInvokedPayload records the request hash handed to the sandbox for
// nodeID's tool call.
type ToolInvokedPayload struct {
	NodeID      kernel.ID
	ToolName    string
	RequestHash hashid.Hash
}

func (p ToolInvokedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.String(p.ToolName)
	w.Bytes32(p.RequestHash)
}
func (p *ToolInvokedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	if p.ToolName, err = r.String(); err != nil {
		return err
	}
	p.RequestHash, err = r.Bytes32()
	return err
}

// ToolCompletedPayload records the normalized response hash — the oracle
// replay trusts instead of re-executing a possibly non-deterministic tool.
type ToolCompletedPayload struct {
	NodeID       kernel.ID
	ResponseHash hashid.Hash
}

func (p ToolCompletedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes32(p.ResponseHash)
}
func (p *ToolCompletedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	p.ResponseHash, err = r.Bytes32()
	return err
}

// ToolFailedPayload records a tool invocation that errored.
type ToolFailedPayload struct {
	NodeID kernel.ID
	Reason string
}

func (p ToolFailedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.String(p.Reason)
}
func (p *ToolFailedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	p.Reason, err = r.String()
	return err
}

// ToolTimedOutPayload records a tool invocation that exhausted its fuel
// or memory budget, or timed out, before completing (spec §4.6 "a
// timeout... logical during replay").
type ToolTimedOutPayload struct {
	NodeID kernel.ID
}

func (p ToolTimedOutPayload) MarshalCanonical(w *codec.Writer) { w.Bytes16(p.NodeID.Bytes()) }
func (p *ToolTimedOutPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	return nil
}

// CapabilityCheckPayload carries the checked capability's kind and
// resource string; the pass/fail verdict itself lives in
// Event.CapabilityCheck.
type CapabilityCheckPayload struct {
	Kind     kernel.CapabilityKind
	Resource string
}

func (p CapabilityCheckPayload) MarshalCanonical(w *codec.Writer) {
	w.U32(uint32(p.Kind))
	w.String(p.Resource)
}
func (p *CapabilityCheckPayload) UnmarshalCanonical(r *codec.Reader) error {
	k, err := r.U32()
	if err != nil {
		return err
	}
	p.Kind = kernel.CapabilityKind(k)
	p.Resource, err = r.String()
	return err
}

// PolicyDecisionPayload records the decision_id produced by the policy
// engine (spec §4.5's DecisionProof, referenced by id rather than
// embedded whole, since the proof itself is addressable via the blob
// store when large redaction sets are attached).
type PolicyDecisionPayload struct {
	DecisionID kernel.ID
	Allowed    bool
}

func (p PolicyDecisionPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.DecisionID.Bytes())
	w.Bool(p.Allowed)
}
func (p *PolicyDecisionPayload) UnmarshalCanonical(r *codec.Reader) error {
	db, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.DecisionID = kernel.IDFromBytes("dec", db)
	p.Allowed, err = r.Bool()
	return err
}

// TaskAssignedPayload mirrors NodeScheduledPayload at the task-dispatch
// layer: a task (one attempt to execute a node) is handed to a worker.
type TaskAssignedPayload struct {
	NodeID   kernel.ID
	WorkerID kernel.ID
}

func (p TaskAssignedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes16(p.WorkerID.Bytes())
}
func (p *TaskAssignedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	wb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.WorkerID = kernel.IDFromBytes("worker", wb)
	return nil
}

// TaskAcceptedPayload records a worker's acknowledgment of an assignment.
type TaskAcceptedPayload struct {
	NodeID   kernel.ID
	WorkerID kernel.ID
}

func (p TaskAcceptedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes16(p.WorkerID.Bytes())
}
func (p *TaskAcceptedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	wb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.WorkerID = kernel.IDFromBytes("worker", wb)
	return nil
}

// TaskRejectedPayload records a worker declining an assignment (e.g.
// backpressure); the node returns to the ready queue.
type TaskRejectedPayload struct {
	NodeID   kernel.ID
	WorkerID kernel.ID
	Reason   string
}

func (p TaskRejectedPayload) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(p.NodeID.Bytes())
	w.Bytes16(p.WorkerID.Bytes())
	w.String(p.Reason)
}
func (p *TaskRejectedPayload) UnmarshalCanonical(r *codec.Reader) error {
	nb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.NodeID = kernel.IDFromBytes("node", nb)
	wb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.WorkerID = kernel.IDFromBytes("worker", wb)
	p.Reason, err = r.String()
	return err
}

// SnapshotCreatedPayload records a snapshot taken at this event's
// logical_time.
type SnapshotCreatedPayload struct {
	SnapshotID kernel.ID
}

func (p SnapshotCreatedPayload) MarshalCanonical(w *codec.Writer) { w.Bytes16(p.SnapshotID.Bytes()) }
func (p *SnapshotCreatedPayload) UnmarshalCanonical(r *codec.Reader) error {
	sb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.SnapshotID = kernel.IDFromBytes("snap", sb)
	return nil
}

// SnapshotRestoredPayload records replay resuming from a snapshot.
type SnapshotRestoredPayload struct {
	SnapshotID kernel.ID
}

func (p SnapshotRestoredPayload) MarshalCanonical(w *codec.Writer) { w.Bytes16(p.SnapshotID.Bytes()) }
func (p *SnapshotRestoredPayload) UnmarshalCanonical(r *codec.Reader) error {
	sb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.SnapshotID = kernel.IDFromBytes("snap", sb)
	return nil
}

// BlobStoredPayload records a blob landing in the content store.
type BlobStoredPayload struct {
	Address hashid.Address
}

func (p BlobStoredPayload) MarshalCanonical(w *codec.Writer) {
	w.String(p.Address.Algorithm)
	w.Bytes32(p.Address.Hash)
}
func (p *BlobStoredPayload) UnmarshalCanonical(r *codec.Reader) error {
	algo, err := r.String()
	if err != nil {
		return err
	}
	h, err := r.Bytes32()
	if err != nil {
		return err
	}
	p.Address = hashid.Address{Algorithm: algo, Hash: h}
	return nil
}

// HeartbeatPayload records a worker's liveness heartbeat.
type HeartbeatPayload struct {
	WorkerID kernel.ID
}

func (p HeartbeatPayload) MarshalCanonical(w *codec.Writer) { w.Bytes16(p.WorkerID.Bytes()) }
func (p *HeartbeatPayload) UnmarshalCanonical(r *codec.Reader) error {
	wb, err := r.Bytes16()
	if err != nil {
		return err
	}
	p.WorkerID = kernel.IDFromBytes("worker", wb)
	return nil
}

// EncodePayload canonical-encodes a payload value for storage in
// Event.Payload.
func EncodePayload(m codec.Marshaler) []byte { return codec.Encode(m) }

// DecodePayload decodes b into the payload type associated with kind,
// returning it as the concrete pointer type (e.g. *NodeCompletedPayload).
// Replay type-switches on the result.
func DecodePayload(kind Kind, b []byte) (any, error) {
	var target codec.Unmarshaler
	switch kind {
	case KindRunCreated:
		target = &RunCreatedPayload{}
	case KindRunStarted:
		target = &RunStartedPayload{}
	case KindRunCompleted:
		target = &RunCompletedPayload{}
	case KindRunFailed:
		target = &RunFailedPayload{}
	case KindNodeScheduled:
		target = &NodeScheduledPayload{}
	case KindNodeStarted:
		target = &NodeStartedPayload{}
	case KindNodeCompleted:
		target = &NodeCompletedPayload{}
	case KindNodeFailed:
		target = &NodeFailedPayload{}
	case KindNodeSkipped:
		target = &NodeSkippedPayload{}
	case KindToolInvoked:
		target = &ToolInvokedPayload{}
	case KindToolCompleted:
		target = &ToolCompletedPayload{}
	case KindToolFailed:
		target = &ToolFailedPayload{}
	case KindToolTimedOut:
		target = &ToolTimedOutPayload{}
	case KindCapabilityCheck:
		target = &CapabilityCheckPayload{}
	case KindPolicyDecision:
		target = &PolicyDecisionPayload{}
	case KindTaskAssigned:
		target = &TaskAssignedPayload{}
	case KindTaskAccepted:
		target = &TaskAcceptedPayload{}
	case KindTaskRejected:
		target = &TaskRejectedPayload{}
	case KindSnapshotCreated:
		target = &SnapshotCreatedPayload{}
	case KindSnapshotRestored:
		target = &SnapshotRestoredPayload{}
	case KindBlobStored:
		target = &BlobStoredPayload{}
	case KindHeartbeat:
		target = &HeartbeatPayload{}
	case KindError:
		target = &RunFailedPayload{} // Error payload shares RunFailedPayload's {Reason} shape
	default:
		return nil, nil
	}
	if err := codec.Decode(b, target); err != nil {
		return nil, err
	}
	return target, nil
}
