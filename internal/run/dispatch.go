package run

import (
	"github.com/cathedral-fabric/fabric/internal/cluster"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/policy"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
	"github.com/cathedral-fabric/fabric/internal/scheduler"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// Step drives the run forward by exactly one scheduling decision, mediating
// the assigned node's tool through the full spec §4.7 contract and logging
// every intermediate event along the way (spec scenario 1). It returns
// ok=false when the scheduler has nothing to assign right now (empty ready
// queue, or the front node's candidates are all unavailable) — the caller
// retries after a worker state change, exactly as spec §4.8 describes.
//
// In cluster mode the decision is proposed to r.proposer before it is
// logged; a non-leader or a lost quorum surfaces as kerr.NotLeader /
// kerr.QuorumLost without mutating run state (spec §5 "Cancellation never
// leaves state partially updated").
func (r *Run) Step() (bool, error) {
	if r.status != StatusRunning {
		return false, nil
	}

	dec, ok := r.sched.NextDecision(r.clock)
	if !ok {
		return false, r.maybeComplete()
	}

	if err := r.propose(dec); err != nil {
		return false, err
	}

	if _, err := r.appendEvent(eventlog.KindNodeScheduled, dec.NodeID,
		eventlog.NodeScheduledPayload{NodeID: dec.NodeID, WorkerID: dec.WorkerID}); err != nil {
		return false, err
	}
	if _, err := r.appendEvent(eventlog.KindTaskAssigned, dec.NodeID,
		eventlog.TaskAssignedPayload{NodeID: dec.NodeID, WorkerID: dec.WorkerID}); err != nil {
		return false, err
	}
	if _, err := r.appendEvent(eventlog.KindNodeStarted, dec.NodeID,
		eventlog.NodeStartedPayload{NodeID: dec.NodeID}); err != nil {
		return false, err
	}

	if err := r.dispatchTool(dec); err != nil {
		return false, err
	}

	return true, r.maybeComplete()
}

// Run drives Step to exhaustion: every ready node is dispatched until the
// scheduler reports no further decision is currently possible (either the
// DAG is fully resolved, or every remaining node is blocked on workers).
// Callers polling for backpressure relief or new workers call Step
// directly instead.
func (r *Run) Run() error {
	for {
		progressed, err := r.Step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// propose routes dec through the cluster proposer (spec §4.8 "In cluster
// mode, scheduling is performed only by the current leader. Each decision
// is proposed as a consensus log entry; execution proceeds only after
// commit."). A single-node run's LocalProposer commits synchronously.
func (r *Run) propose(dec scheduler.Decision) error {
	if r.proposer == nil {
		return nil
	}
	if err := cluster.RequireLeader(r.proposer); err != nil {
		return err
	}
	_, err := r.proposer.Propose(cluster.Entry{
		RunID:   r.id,
		Index:   uint64(r.log.Len()),
		Payload: encodeDecision(dec),
	})
	return err
}

// dispatchTool resolves the tool assigned to dec.NodeID and walks the
// spec §4.7 seven-step contract directly (rather than through
// sandbox.Mediate, which bundles every step into one call): input
// validation, then capability checks, then policy decide — each logging
// its own event as it happens — and only once all three pass does
// ToolInvoked get logged and the VM actually run. This ordering matters:
// spec scenario 3 (policy deny) expects CapabilityCheck and
// PolicyDecision events but explicitly "no tool invocation event", which
// a single bundled Mediate-then-log call cannot reproduce.
func (r *Run) dispatchTool(dec scheduler.Decision) error {
	node, ok := r.dag.Nodes[dec.NodeID]
	if !ok {
		return kerr.New(kerr.InvalidInput, "scheduled node not found in DAG").WithContext("node_id", dec.NodeID.String())
	}

	tool, ok := r.tools[node.Name]
	if !ok {
		return r.failNode(dec.NodeID, kerr.New(kerr.InvalidInput, "no tool registered for node "+node.Name))
	}

	var input []byte
	if tool.InputSchema != nil {
		if err := tool.InputSchema.Validate(input); err != nil {
			return r.failNode(dec.NodeID, err)
		}
	}

	for _, req := range tool.RequiredCapabilities {
		tok := r.binder.Bind(r.id, dec.NodeID, dec.TaskID)
		allowed, checkErr := r.gate.Authorize(r.binder, tok, r.id, dec.NodeID, dec.TaskID, req)
		matchCtx := policy.MatchContext{ToolName: tool.Name, Capability: req.Kind, HasCapability: true}
		decision := r.policy.Decide(matchCtx, r.clock)

		if _, err := r.appendEvent(eventlog.KindCapabilityCheck, dec.NodeID,
			eventlog.CapabilityCheckPayload{Kind: req.Kind, Resource: resourceOf(req)},
			func(e eventlog.Event) eventlog.Event { return e.WithCapabilityCheck(allowed, decision.DecisionID) },
		); err != nil {
			return err
		}
		if _, err := r.appendEvent(eventlog.KindPolicyDecision, dec.NodeID,
			eventlog.PolicyDecisionPayload{DecisionID: decision.DecisionID, Allowed: decision.Allowed}); err != nil {
			return err
		}

		if checkErr != nil || !allowed {
			return r.failNode(dec.NodeID, kerr.New(kerr.CapabilityDenied, "capability denied for "+tool.Name))
		}
		if !decision.Allowed {
			return r.failNode(dec.NodeID, kerr.New(kerr.PolicyDenied, "policy denied tool "+tool.Name).WithDecision(decision.DecisionID.String()))
		}
	}

	if r.limiter != nil {
		if _, limited := r.policy.RateLimits[tool.Name]; limited {
			allowed := r.limiter.Allow(tool.Name, r.clock)
			decision := policy.DecisionForRateLimit(tool.Name, r.clock, allowed)
			if _, err := r.appendEvent(eventlog.KindPolicyDecision, dec.NodeID,
				eventlog.PolicyDecisionPayload{DecisionID: decision.DecisionID, Allowed: decision.Allowed}); err != nil {
				return err
			}
			if !allowed {
				return r.failNode(dec.NodeID, kerr.New(kerr.PolicyDenied, "rate limit exceeded for "+tool.Name).WithDecision(decision.DecisionID.String()))
			}
		}
	}

	reqHash := hashid.H(input)
	if _, err := r.appendEvent(eventlog.KindToolInvoked, dec.NodeID,
		eventlog.ToolInvokedPayload{NodeID: dec.NodeID, ToolName: tool.Name, RequestHash: reqHash}); err != nil {
		return err
	}

	normalized, runErr := r.runTool(dec, tool, input)
	if runErr != nil {
		return r.failMediation(dec.NodeID, tool.Name, runErr)
	}

	if _, err := r.appendEvent(eventlog.KindToolCompleted, dec.NodeID,
		eventlog.ToolCompletedPayload{NodeID: dec.NodeID, ResponseHash: normalized.Hash},
		func(e eventlog.Event) eventlog.Event { return e.WithToolHashes(reqHash, normalized.Hash) },
	); err != nil {
		return err
	}

	return r.completeNode(dec.NodeID)
}

// runTool executes tool's program in the sandbox VM (spec §4.7 step 4)
// and normalizes its raw output (step 6), validating against the
// declared output schema first (step 5).
func (r *Run) runTool(dec scheduler.Decision, tool sandbox.Tool, input []byte) (sandbox.NormalizedOutput, error) {
	multiplier := r.cfg.Sandbox.HostCallMultiplier
	if multiplier == 0 {
		multiplier = 1000
	}
	vm := sandbox.NewVM(sandbox.Budget{
		Fuel:               r.fuelFor(tool),
		HostCallMultiplier: multiplier,
		MemoryPages:        r.memoryFor(tool),
	}, r.gate, r.binder, r.id, dec.NodeID, dec.TaskID)

	result, err := vm.Run(tool.Program, r.abi)
	if err != nil {
		return sandbox.NormalizedOutput{}, err
	}

	if tool.OutputSchema != nil {
		if err := tool.OutputSchema.Validate(result.Output); err != nil {
			return sandbox.NormalizedOutput{}, err
		}
	}

	return sandbox.Normalize(tool.NormalizeForm, result.Output, tool.NormalizeFunc)
}

// fuelFor and memoryFor honor a configured sandbox-wide default,
// falling back to the tool program's own declared cost when the run was
// built without explicit sandbox config (spec §4.7).
func (r *Run) fuelFor(tool sandbox.Tool) uint64 {
	if r.cfg.Sandbox.DefaultFuel > 0 {
		return r.cfg.Sandbox.DefaultFuel
	}
	return sandbox.DefaultFuelFor(tool)
}

func (r *Run) memoryFor(tool sandbox.Tool) uint64 {
	if r.cfg.Sandbox.MemoryPages > 0 {
		return r.cfg.Sandbox.MemoryPages
	}
	return sandbox.DefaultMemoryFor(tool)
}

// failMediation maps a runTool error onto the terminal event spec §4.7
// step 7 and §7 call for: ToolTimedOut for resource exhaustion (spec
// §4.7's "a timeout... logical during replay" is fuel-derived in this
// kernel, so OutOfFuel/OutOfMemory are the logical-timeout signal —
// there is no separate ToolOutOfFuel/ToolMemoryExceeded discriminant in
// the closed Kind enum, spec §6), ToolFailed otherwise.
func (r *Run) failMediation(nodeID kernel.ID, toolName string, err error) error {
	if kerr.Of(err, kerr.OutOfFuel) || kerr.Of(err, kerr.OutOfMemory) || kerr.Of(err, kerr.Timeout) {
		if _, logErr := r.appendEvent(eventlog.KindToolTimedOut, nodeID, eventlog.ToolTimedOutPayload{NodeID: nodeID}); logErr != nil {
			return logErr
		}
	} else {
		if _, logErr := r.appendEvent(eventlog.KindToolFailed, nodeID,
			eventlog.ToolFailedPayload{NodeID: nodeID, Reason: err.Error()}); logErr != nil {
			return logErr
		}
	}
	return r.failNode(nodeID, err)
}

// completeNode appends NodeCompleted, folding the scheduler's newly-ready
// computation into the event payload so Apply stays a pure function of
// (state, event) with no DAG dependency (spec §4.9), then advances the
// scheduler's own bookkeeping to match.
func (r *Run) completeNode(nodeID kernel.ID) error {
	newlyReady := r.sched.MarkCompleted(nodeID)
	resultHash := r.state.Hash() // the node's own result is its contribution to run state at completion

	_, err := r.appendEvent(eventlog.KindNodeCompleted, nodeID,
		eventlog.NodeCompletedPayload{NodeID: nodeID, ResultHash: resultHash, NewlyReady: newlyReady})
	return err
}

// failNode appends NodeFailed for nodeID and NodeSkipped for every
// descendant (spec §7: a terminal node failure propagates to dependents
// rather than leaving them pending forever).
func (r *Run) failNode(nodeID kernel.ID, cause error) error {
	if _, err := r.appendEvent(eventlog.KindNodeFailed, nodeID,
		eventlog.NodeFailedPayload{NodeID: nodeID, Reason: cause.Error()}); err != nil {
		return err
	}
	for _, desc := range r.descendantsOf(nodeID) {
		if r.nodeStatus(desc) != snapshot.NodePending {
			continue
		}
		if _, err := r.appendEvent(eventlog.KindNodeSkipped, desc,
			eventlog.NodeSkippedPayload{NodeID: desc, Reason: "ancestor " + nodeID.String() + " failed"}); err != nil {
			return err
		}
	}
	return nil
}

// maybeComplete finalizes the run once every DAG node has reached a
// terminal status (spec boundary behavior: "Empty DAG: no decisions;
// RunCompleted event emitted immediately after RunStarted").
func (r *Run) maybeComplete() error {
	if r.status != StatusRunning {
		return nil
	}
	total := len(r.dag.Nodes)
	done := len(r.state.Coordinator.CompletedNodes) + len(r.state.Coordinator.FailedNodes) + r.skippedCount()
	if done < total {
		return nil
	}
	if len(r.state.Coordinator.FailedNodes) > 0 {
		r.status = StatusFailed
		_, err := r.appendEvent(eventlog.KindRunFailed, kernel.ID{},
			eventlog.RunFailedPayload{Reason: "one or more nodes failed"})
		return err
	}
	r.status = StatusCompleted
	_, err := r.appendEvent(eventlog.KindRunCompleted, kernel.ID{},
		eventlog.RunCompletedPayload{FinalStateHash: r.state.Hash()})
	return err
}
