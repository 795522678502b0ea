package main

import (
	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
)

// builtinTool resolves a scenario node's declared tool name to a concrete
// sandbox.Tool. Real tool authorship (compiling a WASM module, wiring a
// subprocess adapter) is outside this kernel's footprint (spec §1,
// §9 "Dynamic dispatch"); these are the fixed demo tools the CLI ships so
// `run`/`sim` can exercise every subsystem end to end without a tool
// registry of their own.
func builtinTool(name string, caps []kernel.CapabilityKind) (sandbox.Tool, bool) {
	reqs := make([]capability.Request, len(caps))
	for i, k := range caps {
		reqs[i] = requestFor(k)
	}

	switch name {
	case "echo":
		return sandbox.Tool{
			Name:                 name,
			RequiredCapabilities: reqs,
			NormalizeForm:        sandbox.FormBinary,
			Program: sandbox.Program{Instructions: []sandbox.Instruction{
				{FuelCost: 10},
				{HostCall: true, Function: "echo", Args: []byte("ok")},
			}},
		}, true

	case "net_fetch":
		return sandbox.Tool{
			Name:                 name,
			RequiredCapabilities: reqs,
			NormalizeForm:        sandbox.FormJSON,
			Program: sandbox.Program{Instructions: []sandbox.Instruction{
				{FuelCost: 50},
				{HostCall: true, Function: "net_read", Args: []byte(`{"b":2,"a":1}`)},
			}},
		}, true

	case "db_query":
		return sandbox.Tool{
			Name:                 name,
			RequiredCapabilities: reqs,
			NormalizeForm:        sandbox.FormJSON,
			Program: sandbox.Program{Instructions: []sandbox.Instruction{
				{FuelCost: 50},
				{HostCall: true, Function: "db_read", Args: []byte(`{"rows":[]}`)},
			}},
		}, true

	case "fs_write":
		return sandbox.Tool{
			Name:                 name,
			RequiredCapabilities: reqs,
			NormalizeForm:        sandbox.FormBinary,
			Program: sandbox.Program{Instructions: []sandbox.Instruction{
				{FuelCost: 20},
				{HostCall: true, Function: "fs_write", Args: []byte("written")},
			}},
		}, true

	case "heavy_compute":
		// An intentionally fuel-hungry tool used to exercise spec §4.7's
		// OutOfFuel path from scenario files (spec boundary behavior: "Tool
		// exactly at fuel limit... at fuel limit + 1 instruction:
		// OutOfFuel").
		return sandbox.Tool{
			Name:                 name,
			RequiredCapabilities: reqs,
			NormalizeForm:        sandbox.FormBinary,
			Program: sandbox.Program{Instructions: []sandbox.Instruction{
				{FuelCost: 2_000_000},
				{HostCall: true, Function: "echo", Args: []byte("ok")},
			}},
		}, true

	default:
		return sandbox.Tool{}, false
	}
}

func requestFor(kind kernel.CapabilityKind) capability.Request {
	switch kind {
	case kernel.CapNetRead, kernel.CapNetWrite:
		return capability.Request{Kind: kind, Host: "api.example.com"}
	case kernel.CapFsRead, kernel.CapFsWrite:
		return capability.Request{Kind: kind, Path: "/var/data"}
	case kernel.CapDbRead, kernel.CapDbWrite:
		return capability.Request{Kind: kind, Name: "main"}
	case kernel.CapEnvRead:
		return capability.Request{Kind: kind, Name: "PATH"}
	default:
		return capability.Request{Kind: kind}
	}
}
