package run_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/config"
	"github.com/cathedral-fabric/fabric/internal/policy"
	"github.com/cathedral-fabric/fabric/internal/run"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
	"github.com/cathedral-fabric/fabric/internal/scheduler"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

func idGenFor(n *int) func(string) kernel.ID {
	return func(p string) kernel.ID {
		*n++
		var b [16]byte
		b[15] = byte(*n)
		return kernel.IDFromBytes(p, b)
	}
}

func echoTool(name string, caps ...capability.Request) sandbox.Tool {
	return sandbox.Tool{
		Name:                 name,
		RequiredCapabilities: caps,
		NormalizeForm:        sandbox.FormBinary,
		Program: sandbox.Program{Instructions: []sandbox.Instruction{
			{HostCall: true, Function: "echo"},
		}},
	}
}

func echoABI() sandbox.HostABI {
	return sandbox.HostABI{
		"echo": sandbox.HostFunction{
			Call: func(hc *sandbox.HostContext, args []byte) ([]byte, error) {
				return []byte("ok"), nil
			},
		},
	}
}

// TestLinearPipelineSingleWorker reproduces spec scenario 1: DAG A -> B ->
// C on a single worker granted NetRead, expecting the full
// NodeScheduled/TaskAssigned/NodeStarted/CapabilityCheck/PolicyDecision/
// ToolInvoked/ToolCompleted/NodeCompleted event sequence for each node and
// a terminal RunCompleted.
func TestLinearPipelineSingleWorker(t *testing.T) {
	a, b, c := kernel.NewID("node"), kernel.NewID("node"), kernel.NewID("node")
	netReq := capability.Request{Kind: kernel.CapNetRead, Host: "api.example.com"}

	d := dag.New(
		[]dag.Node{
			{ID: a, Name: "A", RequiredCapabilities: []kernel.CapabilityKind{kernel.CapNetRead}},
			{ID: b, Name: "B", RequiredCapabilities: []kernel.CapabilityKind{kernel.CapNetRead}},
			{ID: c, Name: "C", RequiredCapabilities: []kernel.CapabilityKind{kernel.CapNetRead}},
		},
		[]dag.Edge{{From: a, To: b}, {From: b, To: c}},
	)

	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapNetRead, HostAllowlist: []string{"*.example.com", "api.example.com"}})
	cp, err := policy.Compile(policy.Policy{Default: policy.ActionAllow})
	require.NoError(t, err)

	w1 := kernel.NewID("worker")
	var n int
	r := run.New(run.Options{
		ID:  kernel.NewID("run"),
		DAG: d,
		Tools: map[string]sandbox.Tool{
			"A": echoTool("A", netReq),
			"B": echoTool("B", netReq),
			"C": echoTool("C", netReq),
		},
		ABI:            echoABI(),
		Grants:         grants,
		Policy:         cp,
		Config:         config.Default(),
		Workers:        []scheduler.Worker{{ID: w1, Status: snapshot.WorkerIdle, Capabilities: []kernel.CapabilityKind{kernel.CapNetRead}}},
		SchedulerOrder: []kernel.ID{a, b, c},
		IDGen:          idGenFor(&n),
	})

	require.NoError(t, r.Start())
	require.NoError(t, r.Run())
	require.Equal(t, run.StatusCompleted, r.Status())

	var kinds []eventlog.Kind
	for i := 0; ; i++ {
		e, ok := r.Log().At(i)
		if !ok {
			break
		}
		kinds = append(kinds, e.Kind)
	}

	require.Equal(t, []eventlog.Kind{
		eventlog.KindRunCreated, eventlog.KindRunStarted,
		eventlog.KindNodeScheduled, eventlog.KindTaskAssigned, eventlog.KindNodeStarted,
		eventlog.KindCapabilityCheck, eventlog.KindPolicyDecision, eventlog.KindToolInvoked, eventlog.KindToolCompleted, eventlog.KindNodeCompleted,
		eventlog.KindNodeScheduled, eventlog.KindTaskAssigned, eventlog.KindNodeStarted,
		eventlog.KindCapabilityCheck, eventlog.KindPolicyDecision, eventlog.KindToolInvoked, eventlog.KindToolCompleted, eventlog.KindNodeCompleted,
		eventlog.KindNodeScheduled, eventlog.KindTaskAssigned, eventlog.KindNodeStarted,
		eventlog.KindCapabilityCheck, eventlog.KindPolicyDecision, eventlog.KindToolInvoked, eventlog.KindToolCompleted, eventlog.KindNodeCompleted,
		eventlog.KindRunCompleted,
	}, kinds)

	// P3/P4: chain continuity and strictly increasing logical time hold
	// across the whole log.
	var last eventlog.Event
	for i := 0; ; i++ {
		e, ok := r.Log().At(i)
		if !ok {
			break
		}
		if i > 0 {
			require.Equal(t, last.PostStateHash, e.PriorStateHash)
			require.Greater(t, e.LogicalTime, last.LogicalTime)
		}
		last = e
	}
}

// TestPolicyDenyNoToolInvocation reproduces spec scenario 3: a node
// requiring a capability explicitly denied by policy logs
// CapabilityCheck and PolicyDecision but never ToolInvoked, and fails the
// node rather than the whole run silently hanging.
func TestPolicyDenyNoToolInvocation(t *testing.T) {
	a := kernel.NewID("node")
	writeReq := capability.Request{Kind: kernel.CapNetWrite, Host: "anywhere.example.com"}

	d := dag.New([]dag.Node{{ID: a, Name: "A", RequiredCapabilities: []kernel.CapabilityKind{kernel.CapNetWrite}}}, nil)

	grants := kernel.NewCapabilitySet(kernel.Capability{Kind: kernel.CapNetWrite, HostAllowlist: []string{"*"}})
	cp, err := policy.Compile(policy.Policy{
		Denies:  []policy.Deny{{Capability: kernel.CapNetWrite, HasCapability: true}},
		Default: policy.ActionAllow,
	})
	require.NoError(t, err)

	w1 := kernel.NewID("worker")
	var n int
	r := run.New(run.Options{
		ID:             kernel.NewID("run"),
		DAG:            d,
		Tools:          map[string]sandbox.Tool{"A": echoTool("A", writeReq)},
		ABI:            echoABI(),
		Grants:         grants,
		Policy:         cp,
		Config:         config.Default(),
		Workers:        []scheduler.Worker{{ID: w1, Status: snapshot.WorkerIdle, Capabilities: []kernel.CapabilityKind{kernel.CapNetWrite}}},
		SchedulerOrder: []kernel.ID{a},
		IDGen:          idGenFor(&n),
	})

	require.NoError(t, r.Start())
	require.NoError(t, r.Run())
	require.Equal(t, run.StatusFailed, r.Status())

	var kinds []eventlog.Kind
	for i := 0; ; i++ {
		e, ok := r.Log().At(i)
		if !ok {
			break
		}
		kinds = append(kinds, e.Kind)
	}

	require.Contains(t, kinds, eventlog.KindCapabilityCheck)
	require.Contains(t, kinds, eventlog.KindPolicyDecision)
	require.NotContains(t, kinds, eventlog.KindToolInvoked)
	require.Contains(t, kinds, eventlog.KindNodeFailed)
	require.Contains(t, kinds, eventlog.KindRunFailed)
}

// TestFuelExhaustionFailsNodeWithoutCompletion reproduces spec scenario 4:
// a tool whose program demands more fuel than its budget allows logs
// ToolTimedOut (the kernel's sole resource-exhaustion discriminant, per
// spec §6's closed Kind enum) and NodeFailed, never ToolCompleted.
func TestFuelExhaustionFailsNodeWithoutCompletion(t *testing.T) {
	a := kernel.NewID("node")
	d := dag.New([]dag.Node{{ID: a, Name: "A"}}, nil)

	tool := sandbox.Tool{
		Name:          "A",
		NormalizeForm: sandbox.FormBinary,
		Program: sandbox.Program{Instructions: []sandbox.Instruction{
			{FuelCost: 1}, // fits the 500-fuel budget configured below; the host call then costs 1000 more and exceeds it.
			{HostCall: true, Function: "echo"},
		}},
	}

	cp, err := policy.Compile(policy.Policy{Default: policy.ActionAllow})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Sandbox.DefaultFuel = 500

	w1 := kernel.NewID("worker")
	var n int
	r := run.New(run.Options{
		ID:             kernel.NewID("run"),
		DAG:            d,
		Tools:          map[string]sandbox.Tool{"A": tool},
		ABI:            echoABI(),
		Grants:         kernel.NewCapabilitySet(),
		Policy:         cp,
		Config:         cfg,
		Workers:        []scheduler.Worker{{ID: w1, Status: snapshot.WorkerIdle}},
		SchedulerOrder: []kernel.ID{a},
		IDGen:          idGenFor(&n),
	})

	require.NoError(t, r.Start())
	require.NoError(t, r.Run())
	require.Equal(t, run.StatusFailed, r.Status())

	var kinds []eventlog.Kind
	for i := 0; ; i++ {
		e, ok := r.Log().At(i)
		if !ok {
			break
		}
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, eventlog.KindToolInvoked)
	require.Contains(t, kinds, eventlog.KindToolTimedOut)
	require.NotContains(t, kinds, eventlog.KindToolCompleted)
}
