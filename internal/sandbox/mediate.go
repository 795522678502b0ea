package sandbox

import (
	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/policy"
)

// Tool describes one sandboxed tool's static contract: its declared
// input/output schemas, the capabilities it requires, the program it runs,
// and how its raw output is normalized.
type Tool struct {
	Name                 string
	InputSchema          *Schema
	OutputSchema         *Schema
	RequiredCapabilities []capability.Request
	Program              Program
	NormalizeForm        Form
	NormalizeFunc        CustomFunc
}

// Invocation is one call site: a tool plus its concrete input and the
// identity it executes under.
type Invocation struct {
	Tool   Tool
	Input  []byte
	RunID  kernel.ID
	NodeID kernel.ID
	TaskID kernel.ID
}

// Outcome is everything a mediated invocation produced, ready to be
// folded into ToolInvoked/CapabilityCheck/PolicyDecision/ToolCompleted
// events by the caller.
type Outcome struct {
	CapabilityChecks []capability.Request
	Decision         policy.DecisionProof
	RawOutput        []byte
	Normalized       NormalizedOutput
	RequestHash      hashid.Hash
}

// Mediate runs the full seven-step tool-invocation contract from spec
// §4.7:
//
//  1. validate input against the tool's declared schema
//  2. capability gate check for each required capability
//  3. policy decide for the invocation context
//  4. execute within resource bounds
//  5. validate raw output against the declared schema
//  6. normalize the output
//  7. (left to the caller: logging ToolInvoked/CapabilityCheck/
//     PolicyDecision/ToolCompleted-or-failure events, since that requires
//     the run's event log and logical clock)
func Mediate(inv Invocation, gate *capability.Gate, binder *capability.Binder, cp *policy.CompiledPolicy, matchCtx policy.MatchContext, logicalTime kernel.LogicalTime, abi HostABI) (Outcome, error) {
	var out Outcome

	if inv.Tool.InputSchema != nil {
		if err := inv.Tool.InputSchema.Validate(inv.Input); err != nil {
			return out, err
		}
	}

	for _, req := range inv.Tool.RequiredCapabilities {
		tok := binder.Bind(inv.RunID, inv.NodeID, inv.TaskID)
		allowed, err := gate.Authorize(binder, tok, inv.RunID, inv.NodeID, inv.TaskID, req)
		out.CapabilityChecks = append(out.CapabilityChecks, req)
		if err != nil {
			return out, err
		}
		if !allowed {
			return out, kerr.New(kerr.CapabilityDenied, "capability not granted for tool "+inv.Tool.Name)
		}
	}

	out.Decision = cp.Decide(matchCtx, logicalTime)
	if !out.Decision.Allowed {
		return out, kerr.New(kerr.PolicyDenied, "policy denied tool invocation "+inv.Tool.Name).
			WithDecision(out.Decision.DecisionID.String())
	}

	out.RequestHash = hashid.H(inv.Input)

	vm := NewVM(Budget{
		Fuel:               DefaultFuelFor(inv.Tool),
		HostCallMultiplier: 1000,
		MemoryPages:        DefaultMemoryFor(inv.Tool),
	}, gate, binder, inv.RunID, inv.NodeID, inv.TaskID)

	result, err := vm.Run(inv.Tool.Program, abi)
	if err != nil {
		return out, err
	}
	out.RawOutput = result.Output

	if inv.Tool.OutputSchema != nil {
		if err := inv.Tool.OutputSchema.Validate(out.RawOutput); err != nil {
			return out, err
		}
	}

	normalized, err := Normalize(inv.Tool.NormalizeForm, out.RawOutput, inv.Tool.NormalizeFunc)
	if err != nil {
		return out, err
	}
	out.Normalized = normalized

	return out, nil
}

// DefaultFuelFor and DefaultMemoryFor read resource contracts off the
// tool's program; a tool that declares no bounds falls back to generous
// sandbox-wide defaults supplied via config elsewhere in the run
// orchestration. Kept here as the sandbox's own fallback so Mediate is
// usable standalone (e.g. in tests) without wiring a Config.
func DefaultFuelFor(t Tool) uint64 {
	var total uint64
	for _, i := range t.Program.Instructions {
		if i.HostCall {
			total += 1000
		} else {
			total += i.FuelCost
		}
	}
	if total == 0 {
		return 1_000_000
	}
	return total * 2
}

func DefaultMemoryFor(t Tool) uint64 {
	var total uint64
	for _, i := range t.Program.Instructions {
		total += i.MemoryPages
	}
	if total == 0 {
		return 256
	}
	return total * 2
}
