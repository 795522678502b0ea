// Package capability implements the capability gate (spec §4.6): every
// tool invocation's requested capability is checked against the run's
// frozen CapabilitySet before the caller proceeds, and the outcome is
// recorded as a CapabilityCheck event.
package capability

import (
	"path"
	"strings"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/invariant"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Request is what a tool asks for at a check site.
type Request struct {
	Kind   CapabilityKind
	Host   string                // NetRead/NetWrite
	Path   string                // FsRead/FsWrite
	Name   string                // DbRead/DbWrite, EnvRead
	Bounds kernel.ResourceBounds // Exec/WasmExec
}

// CapabilityKind re-exports kernel.CapabilityKind so callers don't need
// to import both packages for a single request.
type CapabilityKind = kernel.CapabilityKind

// Gate checks requests against a run's frozen CapabilitySet.
type Gate struct {
	grants kernel.CapabilitySet
}

// New builds a Gate over the given frozen set.
func New(grants kernel.CapabilitySet) *Gate {
	return &Gate{grants: grants}
}

// Check evaluates req against the gate's grants, matching spec §4.6's
// per-kind rules. A request for a kind with no corresponding grant is
// always denied.
func (g *Gate) Check(req Request) (allowed bool, err error) {
	grant, ok := g.grants.Find(req.Kind)
	if !ok {
		return false, kerr.New(kerr.CapabilityDenied, "no grant for capability "+req.Kind.String())
	}

	switch req.Kind {
	case kernel.CapNetRead, kernel.CapNetWrite:
		if !hostAllowed(grant.HostAllowlist, req.Host) {
			return false, kerr.New(kerr.CapabilityDenied, "host not in allowlist: "+req.Host)
		}
	case kernel.CapFsRead, kernel.CapFsWrite:
		if !pathAllowed(grant.PathPrefixes, req.Path) {
			return false, kerr.New(kerr.CapabilityDenied, "path not under an allowed prefix: "+req.Path)
		}
	case kernel.CapDbRead, kernel.CapDbWrite:
		if !exactMember(grant.Tables, req.Name) {
			return false, kerr.New(kerr.CapabilityDenied, "table not in allowlist: "+req.Name)
		}
	case kernel.CapEnvRead:
		if !exactMember(grant.Variables, req.Name) {
			return false, kerr.New(kerr.CapabilityDenied, "variable not in allowlist: "+req.Name)
		}
	case kernel.CapExec, kernel.CapWasmExec:
		if !req.Bounds.LessEq(grant.Bounds) {
			return false, kerr.New(kerr.CapabilityDenied, "requested bounds exceed grant")
		}
	case kernel.CapClockRead:
		// unconditional once granted
	default:
		invariant.Precondition(false, "unknown capability kind %v", req.Kind)
	}

	return true, nil
}

// hostAllowed implements the NetRead/NetWrite matching family from spec
// §4.6: "*" matches any host; "*.suffix" matches "suffix" itself and any
// "label.suffix".
func hostAllowed(allowlist []string, host string) bool {
	for _, pattern := range allowlist {
		if pattern == "*" {
			return true
		}
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // ".suffix"
			bare := pattern[2:]   // "suffix"
			if host == bare || strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if pattern == host {
			return true
		}
	}
	return false
}

// pathAllowed implements FsRead/FsWrite matching: the target path, after
// lexical normalization, must have an allowed prefix as a component-wise
// prefix (so "/data2" is not considered under prefix "/data").
func pathAllowed(prefixes []string, target string) bool {
	clean := path.Clean("/" + target)
	for _, prefix := range prefixes {
		cleanPrefix := path.Clean("/" + prefix)
		if clean == cleanPrefix || strings.HasPrefix(clean, cleanPrefix+"/") {
			return true
		}
	}
	return false
}

func exactMember(allowlist []string, name string) bool {
	for _, a := range allowlist {
		if a == name {
			return true
		}
	}
	return false
}
