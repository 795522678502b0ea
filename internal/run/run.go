// Package run implements the run orchestrator (spec §2, §3): it wires the
// DAG scheduler, policy engine, capability gate, tool sandbox, and event
// log together into the actual "submit a workflow, execute it, append
// events" entry point. Every state change a Run makes to its own
// bookkeeping goes through internal/replay.Apply, the same pure
// state-transition function replay uses — so a live run and a replay of
// its own log are, by construction, computing identical states.
package run

import (
	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/cluster"
	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/config"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/invariant"
	"github.com/cathedral-fabric/fabric/internal/policy"
	"github.com/cathedral-fabric/fabric/internal/replay"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
	"github.com/cathedral-fabric/fabric/internal/scheduler"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// Status is a run's coarse lifecycle state.
type Status uint8

const (
	StatusRunning Status = iota + 1
	StatusCompleted
	StatusFailed
)

// Options assembles everything a Run needs at construction. Proposer and
// IDGen default to a single-node LocalProposer and kernel.NewID when
// left zero, so callers outside cluster mode and outside tests don't need
// to know about either.
type Options struct {
	ID             kernel.ID
	DAG            *dag.DAG
	Tools          map[string]sandbox.Tool // keyed by dag.Node.Name
	ABI            sandbox.HostABI
	Grants         kernel.CapabilitySet
	Policy         *policy.CompiledPolicy
	Proposer       cluster.Proposer
	Liveness       *cluster.LivenessTracker
	Config         config.Config
	Workers        []scheduler.Worker
	SchedulerOrder []kernel.ID // canonical entry-node order; see dag.EntryNodesFrom
	IDGen          func(prefix string) kernel.ID

	// InitialState resumes a Run from a previously captured snapshot.State
	// (spec §9 open question "rate-limit carryover across snapshot
	// boundaries") rather than starting from zero value state. When its
	// Coordinator.RateLimitBuckets is non-empty, the rate limiter resumes
	// mid-window via policy.RestoreRateLimiter instead of starting every
	// bucket full.
	InitialState *snapshot.State
}

// Run is a single workflow execution: its DAG, its event log, and every
// engine needed to drive it to completion. A Run is not safe for
// concurrent use (spec §5: coordinator state is logically single-threaded
// per run).
type Run struct {
	id       kernel.ID
	dag      *dag.DAG
	log      *eventlog.Log
	sched    *scheduler.Scheduler
	gate     *capability.Gate
	binder   *capability.Binder
	policy   *policy.CompiledPolicy
	tools    map[string]sandbox.Tool
	abi      sandbox.HostABI
	proposer cluster.Proposer
	liveness *cluster.LivenessTracker
	cfg      config.Config
	idGen    func(prefix string) kernel.ID
	limiter  *policy.RateLimiter

	clock kernel.LogicalTime
	state snapshot.State
	status Status

	eventsSinceSnapshot uint64
	lastSnapshotID      kernel.ID
	hasLastSnapshot     bool
	snapshots           []snapshot.Snapshot
}

// New builds a Run ready to Start. It does not append any events itself;
// Start appends RunCreated/RunStarted.
func New(opts Options) *Run {
	invariant.NotNil(opts.DAG, "opts.DAG")
	if opts.Proposer == nil {
		opts.Proposer = cluster.NewLocalProposer()
	}
	if opts.IDGen == nil {
		opts.IDGen = kernel.NewID
	}

	schedCfg := scheduler.Config{
		MaxQueuePerWorker: opts.Config.Scheduler.MaxQueuePerWorker,
		AcceptThreshold:   opts.Config.Scheduler.AcceptThreshold,
		ThrottleThreshold: opts.Config.Scheduler.ThrottleThreshold,
	}
	sched := scheduler.New(opts.DAG, opts.SchedulerOrder, schedCfg, opts.IDGen)
	for _, w := range opts.Workers {
		sched.AddWorker(w)
	}

	runKey := hashid.H(opts.ID.Bytes()[:])

	r := &Run{
		id:       opts.ID,
		dag:      opts.DAG,
		log:      eventlog.New(),
		sched:    sched,
		gate:     capability.New(opts.Grants),
		binder:   capability.NewBinder(runKey[:]),
		policy:   opts.Policy,
		tools:    opts.Tools,
		abi:      opts.ABI,
		proposer: opts.Proposer,
		liveness: opts.Liveness,
		cfg:      opts.Config,
		idGen:    opts.IDGen,
		status:   StatusRunning,
	}

	if opts.InitialState != nil {
		r.state = *opts.InitialState
	}
	if opts.Policy != nil {
		if buckets := r.state.Coordinator.RateLimitBuckets; len(buckets) > 0 {
			r.limiter = policy.RestoreRateLimiter(opts.Policy.RateLimits, buckets)
		} else {
			r.limiter = policy.NewRateLimiter(opts.Policy.RateLimits)
		}
	}

	return r
}

// ID returns the run's identity.
func (r *Run) ID() kernel.ID { return r.id }

// Status reports the run's current lifecycle state.
func (r *Run) Status() Status { return r.status }

// Log returns the run's event log, for bundling or inspection.
func (r *Run) Log() *eventlog.Log { return r.log }

// State returns a copy of the run's current replay-sensitive state.
func (r *Run) State() snapshot.State { return r.state }

// Snapshots returns every snapshot boundary built so far, in order.
func (r *Run) Snapshots() []snapshot.Snapshot { return append([]snapshot.Snapshot(nil), r.snapshots...) }

// Start appends the run's opening RunCreated/RunStarted events.
func (r *Run) Start() error {
	dagHash := hashid.H(codec.Encode(r.dag))
	if _, err := r.appendEvent(eventlog.KindRunCreated, kernel.ID{}, eventlog.RunCreatedPayload{DAGHash: dagHash}); err != nil {
		return err
	}
	_, err := r.appendEvent(eventlog.KindRunStarted, kernel.ID{}, eventlog.RunStartedPayload{})
	return err
}

// Heartbeat records a liveness heartbeat for workerID and logs it (spec
// §5). No-op if the run was built without a LivenessTracker.
func (r *Run) Heartbeat(workerID kernel.ID) error {
	if r.liveness != nil {
		r.liveness.Heartbeat(workerID, r.clock)
	}
	_, err := r.appendEvent(eventlog.KindHeartbeat, kernel.ID{}, eventlog.HeartbeatPayload{WorkerID: workerID})
	return err
}

// ReapDownWorkers re-proposes every active task on a worker the liveness
// tracker now considers Down (spec §5: "Tasks on Down workers are
// re-proposed"), then removes the worker from scheduling. No-op if the
// run was built without a LivenessTracker.
func (r *Run) ReapDownWorkers() error {
	if r.liveness == nil {
		return nil
	}
	workers := r.sched.Workers()
	ids := make([]kernel.ID, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	down := r.liveness.DownWorkers(ids, r.clock)
	for _, workerID := range down {
		for _, w := range workers {
			if w.ID != workerID {
				continue
			}
			for _, nodeID := range w.ActiveTasks {
				if _, err := r.appendEvent(eventlog.KindTaskRejected, nodeID,
					eventlog.TaskRejectedPayload{NodeID: nodeID, WorkerID: workerID, Reason: "worker down"}); err != nil {
					return err
				}
			}
		}
		r.sched.RemoveWorker(workerID)
	}
	return nil
}

// appendEvent stamps logical_time/event_id/parent/prior_state, applies
// the pure replay transition to compute post_state, appends to the log,
// and advances r.state — the single path every event in a Run goes
// through, so live execution and replay can never diverge on how state is
// derived from the log.
func (r *Run) appendEvent(kind eventlog.Kind, nodeID kernel.ID, payload codec.Marshaler, decorations ...func(eventlog.Event) eventlog.Event) (eventlog.Event, error) {
	r.clock = r.clock.Next()
	e := eventlog.NewEvent(r.idGen("evt"), r.id, nodeID, r.clock, kind, eventlog.EncodePayload(payload))

	if last, ok := r.log.Last(); ok {
		e = e.WithParent(last.EventID)
		e = e.WithPriorState(r.state.Hash())
	}

	next, err := replay.Apply(r.state, e)
	if err != nil {
		return eventlog.Event{}, err
	}
	e = e.WithPostState(next.Hash())

	for _, d := range decorations {
		e = d(e)
	}

	if err := r.log.Append(e); err != nil {
		return eventlog.Event{}, err
	}
	r.state = next
	r.eventsSinceSnapshot++

	return e, r.maybeSnapshot()
}

// maybeSnapshot fires the periodic snapshot trigger (spec §4.4) once
// cfg.Snapshot.EventsBetween events have accumulated since the last one.
func (r *Run) maybeSnapshot() error {
	threshold := r.cfg.Snapshot.EventsBetween
	if threshold == 0 || r.eventsSinceSnapshot < threshold {
		return nil
	}
	return r.buildSnapshot()
}

func (r *Run) buildSnapshot() error {
	r.eventsSinceSnapshot = 0
	if r.limiter != nil {
		r.state.Coordinator.RateLimitBuckets = r.limiter.Snapshot()
	}
	snapID := r.idGen("snap")
	snap := snapshot.Build(snapID, r.id, r.clock, r.log.Len(), r.state, r.lastSnapshotID, r.hasLastSnapshot)
	r.snapshots = append(r.snapshots, snap)
	r.lastSnapshotID = snapID
	r.hasLastSnapshot = true

	_, err := r.appendEvent(eventlog.KindSnapshotCreated, kernel.ID{}, eventlog.SnapshotCreatedPayload{SnapshotID: snapID})
	return err
}

func (r *Run) nodeStatus(id kernel.ID) snapshot.NodeStatus {
	for _, n := range r.state.Nodes {
		if n.NodeID == id {
			return n.Status
		}
	}
	return snapshot.NodePending
}

func (r *Run) skippedCount() int {
	n := 0
	for _, ns := range r.state.Nodes {
		if ns.Status == snapshot.NodeSkipped {
			n++
		}
	}
	return n
}

// descendantsOf returns every node transitively reachable from nodeID via
// outgoing edges, each exactly once.
func (r *Run) descendantsOf(nodeID kernel.ID) []kernel.ID {
	seen := make(map[kernel.ID]bool)
	var out []kernel.ID
	queue := append([]kernel.ID(nil), r.dag.Outgoing(nodeID)...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		queue = append(queue, r.dag.Outgoing(n)...)
	}
	return out
}

func resourceOf(req capability.Request) string {
	switch req.Kind {
	case kernel.CapNetRead, kernel.CapNetWrite:
		return req.Host
	case kernel.CapFsRead, kernel.CapFsWrite:
		return req.Path
	case kernel.CapDbRead, kernel.CapDbWrite, kernel.CapEnvRead:
		return req.Name
	default:
		return ""
	}
}

func encodeDecision(dec scheduler.Decision) []byte {
	w := codec.NewWriter()
	w.Bytes16(dec.TaskID.Bytes())
	w.Bytes16(dec.NodeID.Bytes())
	w.Bytes16(dec.WorkerID.Bytes())
	w.U64(uint64(dec.AssignedAt))
	w.String(dec.Reasoning)
	return w.Bytes()
}
