// Package sandbox implements the tool sandbox and normalizer (spec §4.7):
// a deterministic, resource-bounded virtual machine mediating every tool
// invocation through a capability-gated host ABI, followed by output
// normalization to a canonical byte form.
package sandbox

import (
	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/invariant"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Instruction is one deterministic unit of sandboxed work: either a host
// call (the only way a tool can observe side effects) or a pure
// computation step consuming fuel and, optionally, additional memory
// pages. There is no ambient authority — every side effect routes through
// HostCall.
type Instruction struct {
	HostCall bool

	// HostCall == true
	Function string
	Args     []byte

	// HostCall == false (pure compute)
	FuelCost    uint64
	MemoryPages uint64
}

// Program is the ordered, deterministic sequence of instructions a tool
// invocation executes. Building a Program from a real WASM module is
// outside this kernel's footprint (see DESIGN.md); what matters for
// determinism and resource accounting is this instruction stream.
type Program struct {
	Instructions []Instruction
}

// HostContext is passed to every HostFunction. Budget lets host functions
// report their own fuel cost (the host-call multiplier is applied by the
// VM automatically; a host function that does extra internal work may
// charge more via ChargeFuel).
type HostContext struct {
	RunID  kernel.ID
	NodeID kernel.ID
	TaskID kernel.ID
	vm     *VM
}

// ChargeFuel deducts additional fuel for work the host function performs
// beyond the flat per-call multiplier. Returns kerr.OutOfFuel if it would
// drive the counter negative.
func (hc *HostContext) ChargeFuel(amount uint64) error {
	return hc.vm.charge(amount)
}

// HostFunction is one named entry in the host ABI. RequiredCapability is
// the capability.Request checked before Call runs; a HostFunction with
// RequiredCapability == nil needs no grant (e.g. a pure logical-clock
// read already gated by CapClockRead at a higher level).
type HostFunction struct {
	RequiredCapability *capability.Request
	Call               func(hc *HostContext, args []byte) ([]byte, error)
}

// HostABI is the full set of named host functions a Program may invoke.
type HostABI map[string]HostFunction

// Budget is the VM's resource envelope for one invocation.
type Budget struct {
	Fuel               uint64
	HostCallMultiplier uint64
	MemoryPages        uint64
}

// VM executes one Program against one Budget and HostABI, mediated by a
// capability.Gate/Binder so every host call is capability-checked before
// it runs (spec §4.7, P9).
type VM struct {
	budget    Budget
	usedFuel  uint64
	usedPages uint64

	gate   *capability.Gate
	binder *capability.Binder
	runID  kernel.ID
	nodeID kernel.ID
	taskID kernel.ID
}

// NewVM builds a VM bound to one run/node/task triple, so every host call
// it authorizes is non-transferable to another task (capability.Binder).
func NewVM(budget Budget, gate *capability.Gate, binder *capability.Binder, runID, nodeID, taskID kernel.ID) *VM {
	invariant.NotNil(gate, "gate")
	invariant.NotNil(binder, "binder")
	return &VM{budget: budget, gate: gate, binder: binder, runID: runID, nodeID: nodeID, taskID: taskID}
}

// HostCallEvent records one host call the VM performed, for the caller to
// fold into ToolInvoked/CapabilityCheck logging.
type HostCallEvent struct {
	Function string
	Allowed  bool
}

// Result is everything a Program execution produced.
type Result struct {
	Output    []byte
	HostCalls []HostCallEvent
	FuelUsed  uint64
	PagesUsed uint64
}

// Run executes prog's instructions in order against abi, returning the
// last host call's output bytes as Output (a Program is expected to end
// in exactly one host call whose result is the tool's raw output; pure
// compute instructions only consume resources). Execution halts at the
// first error: kerr.OutOfFuel, kerr.OutOfMemory, or kerr.CapabilityDenied.
func (vm *VM) Run(prog Program, abi HostABI) (Result, error) {
	var res Result

	for _, instr := range prog.Instructions {
		if !instr.HostCall {
			if err := vm.charge(instr.FuelCost); err != nil {
				return res, err
			}
			if err := vm.allocate(instr.MemoryPages); err != nil {
				return res, err
			}
			continue
		}

		fn, ok := abi[instr.Function]
		if !ok {
			return res, kerr.New(kerr.HostFunctionError, "unknown host function: "+instr.Function)
		}

		if err := vm.charge(vm.budget.HostCallMultiplier); err != nil {
			return res, err
		}

		allowed := true
		if fn.RequiredCapability != nil {
			tok := vm.binder.Bind(vm.runID, vm.nodeID, vm.taskID)
			var err error
			allowed, err = vm.gate.Authorize(vm.binder, tok, vm.runID, vm.nodeID, vm.taskID, *fn.RequiredCapability)
			res.HostCalls = append(res.HostCalls, HostCallEvent{Function: instr.Function, Allowed: allowed})
			if err != nil {
				return res, err
			}
		} else {
			res.HostCalls = append(res.HostCalls, HostCallEvent{Function: instr.Function, Allowed: true})
		}

		hc := &HostContext{RunID: vm.runID, NodeID: vm.nodeID, TaskID: vm.taskID, vm: vm}
		out, err := fn.Call(hc, instr.Args)
		if err != nil {
			return res, err
		}
		res.Output = out
	}

	res.FuelUsed = vm.usedFuel
	res.PagesUsed = vm.usedPages
	return res, nil
}

func (vm *VM) charge(amount uint64) error {
	if vm.usedFuel+amount > vm.budget.Fuel {
		return kerr.New(kerr.OutOfFuel, "fuel exhausted")
	}
	vm.usedFuel += amount
	return nil
}

func (vm *VM) allocate(pages uint64) error {
	if vm.usedPages+pages > vm.budget.MemoryPages {
		return kerr.New(kerr.OutOfMemory, "memory page limit exceeded")
	}
	vm.usedPages += pages
	return nil
}
