package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
)

func netReadGate(t *testing.T) (*capability.Gate, *capability.Binder) {
	t.Helper()
	grants := kernel.NewCapabilitySet(kernel.Capability{
		Kind:          kernel.CapNetRead,
		HostAllowlist: []string{"api.example.com"},
	})
	return capability.New(grants), capability.NewBinder([]byte("run-secret"))
}

func echoABI() sandbox.HostABI {
	req := capability.Request{Kind: kernel.CapNetRead, Host: "api.example.com"}
	return sandbox.HostABI{
		"net_fetch": {
			RequiredCapability: &req,
			Call: func(hc *sandbox.HostContext, args []byte) ([]byte, error) {
				return args, nil
			},
		},
	}
}

// A tool exactly at its fuel limit completes; one instruction past it
// raises OutOfFuel (spec §8 boundary behavior).
func TestFuelExactlyAtLimitSucceeds(t *testing.T) {
	gate, binder := netReadGate(t)
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 1100, HostCallMultiplier: 1000, MemoryPages: 4}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: false, FuelCost: 100},
		{HostCall: true, Function: "net_fetch", Args: []byte("payload")},
	}}
	res, err := vm.Run(prog, echoABI())
	require.NoError(t, err)
	require.Equal(t, uint64(1100), res.FuelUsed)
	require.Equal(t, []byte("payload"), res.Output)
	require.Len(t, res.HostCalls, 1)
	require.True(t, res.HostCalls[0].Allowed)
}

func TestFuelOneOverLimitFails(t *testing.T) {
	gate, binder := netReadGate(t)
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 1099, HostCallMultiplier: 1000, MemoryPages: 4}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: false, FuelCost: 100},
		{HostCall: true, Function: "net_fetch", Args: []byte("payload")},
	}}
	_, err := vm.Run(prog, echoABI())
	require.Error(t, err)
	require.True(t, kerr.Of(err, kerr.OutOfFuel))
}

func TestMemoryPageLimitExceeded(t *testing.T) {
	gate, binder := netReadGate(t)
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 100000, HostCallMultiplier: 1000, MemoryPages: 2}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: false, FuelCost: 1, MemoryPages: 3},
	}}
	_, err := vm.Run(prog, sandbox.HostABI{})
	require.Error(t, err)
	require.True(t, kerr.Of(err, kerr.OutOfMemory))
}

// A host call requiring a capability the run was never granted fails
// closed, and no output is produced (spec P9, §4.6 CapabilityDenied).
func TestHostCallWithoutCapabilityDenied(t *testing.T) {
	grants := kernel.NewCapabilitySet() // nothing granted
	gate := capability.New(grants)
	binder := capability.NewBinder([]byte("run-secret"))
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 10000, HostCallMultiplier: 1000, MemoryPages: 4}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: true, Function: "net_fetch", Args: []byte("payload")},
	}}
	res, err := vm.Run(prog, echoABI())
	require.Error(t, err)
	require.True(t, kerr.Of(err, kerr.CapabilityDenied))
	require.Empty(t, res.Output)
}

func TestUnknownHostFunctionErrors(t *testing.T) {
	gate, binder := netReadGate(t)
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 10000, HostCallMultiplier: 1000, MemoryPages: 4}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: true, Function: "does_not_exist"},
	}}
	_, err := vm.Run(prog, echoABI())
	require.Error(t, err)
	require.True(t, kerr.Of(err, kerr.HostFunctionError))
}

// ChargeFuel lets a host function charge extra fuel beyond the flat
// per-call multiplier, and that charge is reflected in FuelUsed.
func TestHostContextChargeFuel(t *testing.T) {
	gate, binder := netReadGate(t)
	runID, nodeID, taskID := kernel.NewID("run"), kernel.NewID("node"), kernel.NewID("task")

	budget := sandbox.Budget{Fuel: 2000, HostCallMultiplier: 1000, MemoryPages: 4}
	vm := sandbox.NewVM(budget, gate, binder, runID, nodeID, taskID)

	req := capability.Request{Kind: kernel.CapNetRead, Host: "api.example.com"}
	abi := sandbox.HostABI{
		"net_fetch": {
			RequiredCapability: &req,
			Call: func(hc *sandbox.HostContext, args []byte) ([]byte, error) {
				require.NoError(t, hc.ChargeFuel(900))
				return args, nil
			},
		},
	}
	prog := sandbox.Program{Instructions: []sandbox.Instruction{
		{HostCall: true, Function: "net_fetch"},
	}}
	res, err := vm.Run(prog, abi)
	require.NoError(t, err)
	require.Equal(t, uint64(1900), res.FuelUsed)
}
