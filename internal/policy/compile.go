package policy

import (
	"fmt"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// CompiledPolicy is the immutable, evaluation-ready form of one or more
// composed Policy sources. Construction is the only place composition
// order and conflicts are resolved; decide() never re-interprets source
// order.
type CompiledPolicy struct {
	Rules      []Rule
	Grants     []Grant
	Denies     []Deny
	RateLimits map[string]RateLimitSpec
	Redactions []RedactionRule
	Default    Action
}

// Compile composes one or more policies into a CompiledPolicy.
//
// Composition order (resolving spec §9's open question "policy
// composition order"): policies are composed "later overrides earlier" by
// placing later policies' rules *ahead* of earlier policies' rules in the
// flattened, first-match-wins Rules list — so a later policy's rule fires
// before an earlier one's for the same context, which is the only way
// "overrides" can mean anything under fixed first-match evaluation order
// (spec §4.5 step 1). The last policy in the argument list is the most
// recently composed ("later"); policies[0] is the base.
//
// Grants and Denies are simply concatenated in the same later-first order
// (still first-match-wins within each of steps 2 and 3). Default is taken
// from the last policy that sets one (zero Action means "unset").
//
// Conflicts are detected statically: if the same (capability, tenant) pair
// is both granted and explicitly denied, and no rule in the composed
// Rules list has a selector that would deterministically pre-empt that
// capability for every tool name, compilation fails with
// kerr.PolicyConflict. This is the only form of cross-policy conflict this
// compiler is required to catch (spec §4.5); a Rule that contradicts
// itself is impossible by construction since Action is a single field.
func Compile(policies ...Policy) (*CompiledPolicy, error) {
	if len(policies) == 0 {
		return &CompiledPolicy{RateLimits: map[string]RateLimitSpec{}, Default: ActionDeny}, nil
	}

	cp := &CompiledPolicy{RateLimits: make(map[string]RateLimitSpec)}

	for i := len(policies) - 1; i >= 0; i-- {
		p := policies[i]
		cp.Rules = append(cp.Rules, p.Rules...)
		cp.Grants = append(cp.Grants, p.Grants...)
		cp.Denies = append(cp.Denies, p.Denies...)
		cp.Redactions = append(cp.Redactions, p.Redactions...)
		for _, rl := range p.RateLimits {
			cp.RateLimits[rl.ToolName] = rl
		}
	}

	// Default: last policy (highest priority) that specifies one wins.
	cp.Default = ActionDeny
	for _, p := range policies {
		if p.Default != 0 {
			cp.Default = p.Default
		}
	}

	if err := detectConflicts(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func detectConflicts(cp *CompiledPolicy) error {
	type key struct {
		cap    kernel.CapabilityKind
		tenant string
	}
	granted := make(map[key]bool)
	denied := make(map[key]bool)
	for _, g := range cp.Grants {
		granted[key{g.Capability, g.TenantID}] = true
	}
	for _, d := range cp.Denies {
		if d.HasCapability {
			denied[key{d.Capability, d.TenantID}] = true
		}
	}

	for k := range granted {
		if !denied[k] {
			continue
		}
		if ruleShadowsCapability(cp.Rules, k.cap, k.tenant) {
			continue
		}
		return kerr.New(kerr.PolicyConflict,
			fmt.Sprintf("capability %s (tenant=%q) is both granted and denied with no rule to disambiguate", k.cap, k.tenant))
	}
	return nil
}

// ruleShadowsCapability reports whether some rule's selector matches any
// tool name for the given capability/tenant, which would deterministically
// pre-empt the grant/deny conflict for every context (since rules are
// checked first).
func ruleShadowsCapability(rules []Rule, cap kernel.CapabilityKind, tenant string) bool {
	for _, r := range rules {
		if r.ToolPattern != "" && r.ToolPattern != "*" {
			continue
		}
		if r.HasCapability && r.Capability != cap {
			continue
		}
		if r.TenantID != "" && r.TenantID != tenant {
			continue
		}
		return true
	}
	return false
}
