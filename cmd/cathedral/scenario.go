package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/cathedral-fabric/fabric/internal/capability"
	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/kernel/policycache"
	"github.com/cathedral-fabric/fabric/internal/policy"
	"github.com/cathedral-fabric/fabric/internal/sandbox"
	"github.com/cathedral-fabric/fabric/internal/scheduler"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// processPolicyCache is the process-wide compiled-policy cache named in
// spec §9 ("Global state... (c) the policy compiler cache"): a single
// instance, opened lazily on first use and shared across every scenario
// this process compiles, scoped to the engine process's lifetime.
var (
	processPolicyCacheOnce sync.Once
	processPolicyCache     *policycache.Cache
)

func scenarioPolicyCache() *policycache.Cache {
	processPolicyCacheOnce.Do(func() {
		dir, err := os.UserCacheDir()
		if err != nil {
			processPolicyCache = policycache.New()
			return
		}
		path := filepath.Join(dir, "cathedral-fabric", "policy-cache.cbor")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			processPolicyCache = policycache.New()
			return
		}
		c, err := policycache.Open(path)
		if err != nil {
			c = policycache.New()
		}
		processPolicyCache = c
	})
	return processPolicyCache
}

// scenarioID derives a kernel.ID deterministically from the scenario's
// own names, rather than kernel.NewID's crypto/rand: `sim` relies on
// loading and running the same scenario file repeatedly and comparing
// final state hashes byte for byte, which only holds if the same
// scenario text always compiles to the same node/worker identities.
func scenarioID(prefix, name string) kernel.ID {
	h := hashid.H([]byte(prefix + ":" + name))
	var b [16]byte
	copy(b[:], h[:16])
	return kernel.IDFromBytes(prefix, b)
}

// scenarioFile is the CLI's YAML workflow description: the surface DSL
// and DAG compiler are out of scope (spec §1), so `run`/`sim` consume a
// pre-compiled shape directly rather than parsing a source language.
// Every node's tool names one of the built-in demo tools in tools.go.
type scenarioFile struct {
	Workflow struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"workflow"`

	Nodes    []scenarioNode   `yaml:"nodes"`
	Edges    [][2]string      `yaml:"edges"`
	Workers  []scenarioWorker `yaml:"workers"`
	Strategy string           `yaml:"strategy"` // round_robin | least_loaded | affinity | random
	Grants   []scenarioGrant  `yaml:"grants"`

	Policy struct {
		Default string          `yaml:"default"`
		Rules   []scenarioRule  `yaml:"rules"`
		Denies  []scenarioDeny  `yaml:"denies"`
	} `yaml:"policy"`
}

type scenarioNode struct {
	ID           string   `yaml:"id"`
	Tool         string   `yaml:"tool"`
	Capabilities []string `yaml:"capabilities"`
	Fuel         uint64   `yaml:"fuel"`
	Memory       uint64   `yaml:"memory"`
}

type scenarioWorker struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	Zone         string   `yaml:"zone"`
	Fuel         uint64   `yaml:"fuel"`
	Memory       uint64   `yaml:"memory"`
	CPU          uint64   `yaml:"cpu"`
}

type scenarioGrant struct {
	Kind          string   `yaml:"kind"`
	HostAllowlist []string `yaml:"hosts"`
	PathPrefixes  []string `yaml:"paths"`
	Tables        []string `yaml:"tables"`
	Variables     []string `yaml:"variables"`
	Fuel          uint64   `yaml:"fuel"`
	Memory        uint64   `yaml:"memory"`
	CPU           uint64   `yaml:"cpu"`
}

type scenarioRule struct {
	Name        string `yaml:"name"`
	ToolPattern string `yaml:"tool"`
	Capability  string `yaml:"capability"`
	TenantID    string `yaml:"tenant"`
	Action      string `yaml:"action"`
}

type scenarioDeny struct {
	ToolPattern string `yaml:"tool"`
	Capability  string `yaml:"capability"`
	TenantID    string `yaml:"tenant"`
}

// builtScenario is a scenarioFile resolved into the concrete kernel types
// run.Options needs.
type builtScenario struct {
	WorkflowName    string
	WorkflowVersion string
	DAG             *dag.DAG
	Tools           map[string]sandbox.Tool
	Workers         []scheduler.Worker
	Strategy        scheduler.Strategy // not carried into run.Options; run.New always schedules round-robin
	Grants          kernel.CapabilitySet
	Policy          *policy.CompiledPolicy
	EntryOrder      []kernel.ID
}

func loadScenario(path string) (*builtScenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "read scenario file", err)
	}
	var sf scenarioFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "parse scenario yaml", err)
	}
	return buildScenario(sf)
}

func buildScenario(sf scenarioFile) (*builtScenario, error) {
	ids := make(map[string]kernel.ID, len(sf.Nodes))
	var nodes []dag.Node
	var entryOrder []kernel.ID
	tools := make(map[string]sandbox.Tool, len(sf.Nodes))

	for _, n := range sf.Nodes {
		id := scenarioID("node", n.ID)
		ids[n.ID] = id
		entryOrder = append(entryOrder, id)

		caps, err := parseCapKinds(n.Capabilities)
		if err != nil {
			return nil, err
		}

		tool, ok := builtinTool(n.Tool, caps)
		if !ok {
			return nil, kerr.New(kerr.InvalidInput, "unknown tool: "+n.Tool)
		}
		tools[n.ID] = tool

		nodes = append(nodes, dag.Node{
			ID:                   id,
			Name:                 n.ID,
			RequiredCapabilities: caps,
			Resources:            dag.ResourceContract{Fuel: orDefault(n.Fuel, 1_000_000), Memory: orDefault(n.Memory, 256)},
		})
	}

	var edges []dag.Edge
	for _, e := range sf.Edges {
		from, ok := ids[e[0]]
		if !ok {
			return nil, kerr.New(kerr.InvalidInput, "edge references unknown node: "+e[0])
		}
		to, ok := ids[e[1]]
		if !ok {
			return nil, kerr.New(kerr.InvalidInput, "edge references unknown node: "+e[1])
		}
		edges = append(edges, dag.Edge{From: from, To: to})
	}

	d := dag.New(nodes, edges)
	if err := d.Validate(); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "invalid DAG", err)
	}

	var workers []scheduler.Worker
	for _, w := range sf.Workers {
		caps, err := parseCapKinds(w.Capabilities)
		if err != nil {
			return nil, err
		}
		workers = append(workers, scheduler.Worker{
			ID:           scenarioID("worker", w.ID),
			Status:       snapshot.WorkerIdle,
			Capabilities: caps,
			Resources:    kernel.ResourceBounds{Fuel: orDefault(w.Fuel, 1_000_000), Memory: orDefault(w.Memory, 256), CPU: orDefault(w.CPU, 1_000_000)},
			Zone:         w.Zone,
		})
	}

	var grants []kernel.Capability
	for _, g := range sf.Grants {
		kind, err := parseCapKind(g.Kind)
		if err != nil {
			return nil, err
		}
		grants = append(grants, kernel.Capability{
			Kind:          kind,
			HostAllowlist: g.HostAllowlist,
			PathPrefixes:  g.PathPrefixes,
			Tables:        g.Tables,
			Variables:     g.Variables,
			Bounds:        kernel.ResourceBounds{Fuel: g.Fuel, Memory: g.Memory, CPU: g.CPU},
		})
	}

	cp, err := compileScenarioPolicy(sf)
	if err != nil {
		return nil, err
	}

	toolsByName := make(map[string]sandbox.Tool, len(tools))
	for _, n := range sf.Nodes {
		toolsByName[n.ID] = tools[n.ID]
	}

	return &builtScenario{
		WorkflowName:    sf.Workflow.Name,
		WorkflowVersion: sf.Workflow.Version,
		DAG:             d,
		Tools:           toolsByName,
		Workers:         workers,
		Strategy:        parseStrategy(sf.Strategy),
		Grants:          kernel.NewCapabilitySet(grants...),
		Policy:          cp,
		EntryOrder:      entryOrder,
	}, nil
}

func compileScenarioPolicy(sf scenarioFile) (*policy.CompiledPolicy, error) {
	var p policy.Policy
	switch sf.Policy.Default {
	case "deny", "":
		p.Default = policy.ActionDeny
	case "allow":
		p.Default = policy.ActionAllow
	default:
		return nil, kerr.New(kerr.PolicyParseError, "policy.default must be allow or deny")
	}
	for _, r := range sf.Policy.Rules {
		rule := policy.Rule{Name: r.Name, ToolPattern: r.ToolPattern, TenantID: r.TenantID}
		if r.Capability != "" {
			kind, err := parseCapKind(r.Capability)
			if err != nil {
				return nil, err
			}
			rule.Capability, rule.HasCapability = kind, true
		}
		switch r.Action {
		case "allow":
			rule.Action = policy.ActionAllow
		case "deny":
			rule.Action = policy.ActionDeny
		case "require":
			rule.Action = policy.ActionRequire
		case "redact":
			rule.Action = policy.ActionRedact
		default:
			return nil, kerr.New(kerr.PolicyParseError, "rule action must be allow|deny|require|redact")
		}
		p.Rules = append(p.Rules, rule)
	}
	for _, d := range sf.Policy.Denies {
		deny := policy.Deny{ToolPattern: d.ToolPattern, TenantID: d.TenantID}
		if d.Capability != "" {
			kind, err := parseCapKind(d.Capability)
			if err != nil {
				return nil, err
			}
			deny.Capability, deny.HasCapability = kind, true
		}
		p.Denies = append(p.Denies, deny)
	}

	return compileWithCache(p)
}

// compileWithCache consults the process-wide policy cache before paying
// Compile's conflict-detection cost again for a source it has already
// seen. The cache is purely a convenience layer (spec §9): a miss or a
// decode failure always falls back to compiling fresh, and a hit is never
// trusted over source bytes that hash differently.
func compileWithCache(p policy.Policy) (*policy.CompiledPolicy, error) {
	srcBytes, err := cbor.Marshal(p)
	if err != nil {
		return policy.Compile(p)
	}
	srcHash := hashid.H(srcBytes)

	cache := scenarioPolicyCache()
	if cached, ok := cache.Get(srcHash); ok {
		var cp policy.CompiledPolicy
		if err := cbor.Unmarshal(cached, &cp); err == nil {
			return &cp, nil
		}
	}

	cp, err := policy.Compile(p)
	if err != nil {
		return nil, err
	}
	if encoded, err := cbor.Marshal(cp); err == nil {
		cache.Put(srcHash, encoded)
		_ = cache.Flush()
	}
	return cp, nil
}

func parseStrategy(s string) scheduler.Strategy {
	switch s {
	case "least_loaded":
		return scheduler.LeastLoaded
	case "affinity":
		return scheduler.Affinity
	case "random":
		return scheduler.Random
	default:
		return scheduler.RoundRobin
	}
}

func parseCapKinds(names []string) ([]kernel.CapabilityKind, error) {
	out := make([]kernel.CapabilityKind, 0, len(names))
	for _, n := range names {
		k, err := parseCapKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func parseCapKind(name string) (kernel.CapabilityKind, error) {
	switch name {
	case "NetRead":
		return kernel.CapNetRead, nil
	case "NetWrite":
		return kernel.CapNetWrite, nil
	case "FsRead":
		return kernel.CapFsRead, nil
	case "FsWrite":
		return kernel.CapFsWrite, nil
	case "DbRead":
		return kernel.CapDbRead, nil
	case "DbWrite":
		return kernel.CapDbWrite, nil
	case "Exec":
		return kernel.CapExec, nil
	case "WasmExec":
		return kernel.CapWasmExec, nil
	case "EnvRead":
		return kernel.CapEnvRead, nil
	case "ClockRead":
		return kernel.CapClockRead, nil
	default:
		return 0, kerr.New(kerr.InvalidInput, "unknown capability kind: "+name)
	}
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

// scenarioABI satisfies every builtin tool's host calls with a
// deterministic stub (spec Non-goal: "does not model ... network I/O
// mechanics beyond capability gating").
func scenarioABI() sandbox.HostABI {
	return sandbox.HostABI{
		"net_read":  stubHostFunction(&capability.Request{Kind: kernel.CapNetRead}),
		"net_write": stubHostFunction(&capability.Request{Kind: kernel.CapNetWrite}),
		"fs_read":   stubHostFunction(&capability.Request{Kind: kernel.CapFsRead}),
		"fs_write":  stubHostFunction(&capability.Request{Kind: kernel.CapFsWrite}),
		"db_read":   stubHostFunction(&capability.Request{Kind: kernel.CapDbRead}),
		"db_write":  stubHostFunction(&capability.Request{Kind: kernel.CapDbWrite}),
		"env_read":  stubHostFunction(&capability.Request{Kind: kernel.CapEnvRead}),
		"echo":      stubHostFunction(nil),
	}
}

func stubHostFunction(req *capability.Request) sandbox.HostFunction {
	return sandbox.HostFunction{
		RequiredCapability: req,
		Call: func(hc *sandbox.HostContext, args []byte) ([]byte, error) {
			return args, nil
		},
	}
}
