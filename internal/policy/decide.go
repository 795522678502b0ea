package policy

import (
	"sort"
	"strings"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// Decide evaluates ctx against cp in the fixed order from spec §4.5:
//
//  1. Rules in source order; first match short-circuits.
//  2. If no rule matched, capability grants; first match allows.
//  3. Else explicit denies; first match denies.
//  4. Else cp.Default applies.
//
// Decide is a pure function of (cp, ctx, logicalTime): identical inputs
// always produce an identical DecisionProof (spec P6), including
// DecisionID, which is derived deterministically from cp and ctx rather
// than randomly generated.
func (cp *CompiledPolicy) Decide(ctx MatchContext, logicalTime kernel.LogicalTime) DecisionProof {
	allowed, matched, reason := cp.evaluate(ctx)
	return DecisionProof{
		DecisionID:  deriveDecisionID(cp, ctx),
		Allowed:     allowed,
		Matched:     matched,
		Reasoning:   reason,
		LogicalTime: logicalTime,
	}
}

func (cp *CompiledPolicy) evaluate(ctx MatchContext) (allowed bool, matched string, reason ReasonTag) {
	for _, r := range cp.Rules {
		if ruleMatches(r, ctx) {
			return r.Action == ActionAllow || r.Action == ActionRequire || r.Action == ActionRedact,
				"rule:" + r.Name, ReasonRuleMatch
		}
	}

	for _, g := range cp.Grants {
		if grantMatches(g, ctx) {
			return true, "grant:" + g.Capability.String(), ReasonGrantedCapability
		}
	}

	for _, d := range cp.Denies {
		if denyMatches(d, ctx) {
			return false, "deny:" + d.Capability.String(), ReasonDeniedCapability
		}
	}

	return cp.Default == ActionAllow, "default", ReasonDefault
}

func ruleMatches(r Rule, ctx MatchContext) bool {
	if !toolPatternMatches(r.ToolPattern, ctx.ToolName) {
		return false
	}
	if r.HasCapability && (!ctx.HasCapability || r.Capability != ctx.Capability) {
		return false
	}
	if r.TenantID != "" && r.TenantID != ctx.TenantID {
		return false
	}
	return true
}

func grantMatches(g Grant, ctx MatchContext) bool {
	if !ctx.HasCapability || g.Capability != ctx.Capability {
		return false
	}
	if g.TenantID != "" && g.TenantID != ctx.TenantID {
		return false
	}
	return true
}

func denyMatches(d Deny, ctx MatchContext) bool {
	if !toolPatternMatches(d.ToolPattern, ctx.ToolName) {
		return false
	}
	if d.HasCapability && (!ctx.HasCapability || d.Capability != ctx.Capability) {
		return false
	}
	if d.TenantID != "" && d.TenantID != ctx.TenantID {
		return false
	}
	return true
}

// toolPatternMatches implements tool-name pattern matching: "" or "*"
// matches anything; a pattern ending in "*" matches as a prefix; otherwise
// exact match.
func toolPatternMatches(pattern, tool string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(tool, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == tool
}

// deriveDecisionID hashes a canonical encoding of the compiled policy's
// shape together with the match context, so decision_id is a pure
// function of (policy, context) rather than randomly generated (spec P6).
func deriveDecisionID(cp *CompiledPolicy, ctx MatchContext) kernel.ID {
	w := codec.NewWriter()

	w.SeqHeader(len(cp.Rules))
	for _, r := range cp.Rules {
		w.String(r.Name)
		w.String(r.ToolPattern)
		w.Bool(r.HasCapability)
		w.U32(uint32(r.Capability))
		w.String(r.TenantID)
		w.U8(uint8(r.Action))
	}
	w.SeqHeader(len(cp.Grants))
	for _, g := range cp.Grants {
		w.U32(uint32(g.Capability))
		w.String(g.TenantID)
	}
	w.SeqHeader(len(cp.Denies))
	for _, d := range cp.Denies {
		w.String(d.ToolPattern)
		w.Bool(d.HasCapability)
		w.U32(uint32(d.Capability))
		w.String(d.TenantID)
	}
	w.U8(uint8(cp.Default))

	w.String(ctx.ToolName)
	w.Bool(ctx.HasCapability)
	w.U32(uint32(ctx.Capability))
	w.String(ctx.TenantID)

	keys := make([]string, 0, len(ctx.Parameters))
	for k := range ctx.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.SeqHeader(len(keys))
	for _, k := range keys {
		w.String(k)
		w.String(ctx.Parameters[k])
	}

	h := hashid.H(w.Bytes())
	var b [16]byte
	copy(b[:], h[:16])
	return kernel.IDFromBytes("dec", b)
}
