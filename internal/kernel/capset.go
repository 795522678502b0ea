package kernel

// CapabilityKind is the closed set of capability variants a tool may
// request, matching spec §3's CapabilitySet entity.
type CapabilityKind uint32

// Stable numeric discriminants; never reused once assigned (canonical
// codec contract, spec §4.1).
const (
	CapNetRead CapabilityKind = iota + 1
	CapNetWrite
	CapFsRead
	CapFsWrite
	CapDbRead
	CapDbWrite
	CapExec
	CapWasmExec
	CapEnvRead
	CapClockRead
)

func (k CapabilityKind) String() string {
	switch k {
	case CapNetRead:
		return "NetRead"
	case CapNetWrite:
		return "NetWrite"
	case CapFsRead:
		return "FsRead"
	case CapFsWrite:
		return "FsWrite"
	case CapDbRead:
		return "DbRead"
	case CapDbWrite:
		return "DbWrite"
	case CapExec:
		return "Exec"
	case CapWasmExec:
		return "WasmExec"
	case CapEnvRead:
		return "EnvRead"
	case CapClockRead:
		return "ClockRead"
	default:
		return "Unknown"
	}
}

// ResourceBounds bounds an Exec/WasmExec grant or request.
type ResourceBounds struct {
	Fuel   uint64
	Memory uint64 // pages of 64 KiB, per spec §4.7
	CPU    uint64 // abstract CPU-time units, logical not wall-clock
}

// LessEq reports whether r is within (<=, componentwise) the bounds of other.
func (r ResourceBounds) LessEq(other ResourceBounds) bool {
	return r.Fuel <= other.Fuel && r.Memory <= other.Memory && r.CPU <= other.CPU
}

// Capability is a single typed, allowlist-constrained grant.
type Capability struct {
	Kind CapabilityKind

	// NetRead/NetWrite
	HostAllowlist []string

	// FsRead/FsWrite
	PathPrefixes []string

	// DbRead/DbWrite
	Tables []string

	// EnvRead
	Variables []string

	// Exec/WasmExec
	Bounds ResourceBounds
}

// CapabilitySet is the full, frozen set of capabilities granted to a run.
// It is constructed from policy at run start and never mutated afterward
// (spec §3).
type CapabilitySet struct {
	grants []Capability
}

// NewCapabilitySet builds a frozen CapabilitySet from the given grants.
func NewCapabilitySet(grants ...Capability) CapabilitySet {
	cp := make([]Capability, len(grants))
	copy(cp, grants)
	return CapabilitySet{grants: cp}
}

// Grants returns a defensive copy of the underlying grants, preserving
// source order (needed by the canonical codec, which encodes sequences in
// source order).
func (s CapabilitySet) Grants() []Capability {
	cp := make([]Capability, len(s.grants))
	copy(cp, s.grants)
	return cp
}

// Find returns the first grant of the given kind, if any.
func (s CapabilitySet) Find(kind CapabilityKind) (Capability, bool) {
	for _, g := range s.grants {
		if g.Kind == kind {
			return g, true
		}
	}
	return Capability{}, false
}
