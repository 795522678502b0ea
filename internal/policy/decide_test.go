package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/policy"
)

func TestRuleShortCircuitsGrant(t *testing.T) {
	cp, err := policy.Compile(policy.Policy{
		Rules: []policy.Rule{
			{Name: "deny_net_write", ToolPattern: "*", Capability: kernel.CapNetWrite, HasCapability: true, Action: policy.ActionDeny},
		},
		Grants: []policy.Grant{
			{Capability: kernel.CapNetWrite},
		},
		Default: policy.ActionDeny,
	})
	require.NoError(t, err)

	proof := cp.Decide(policy.MatchContext{ToolName: "http.post", Capability: kernel.CapNetWrite, HasCapability: true}, 1)
	require.False(t, proof.Allowed)
	require.Equal(t, policy.ReasonRuleMatch, proof.Reasoning)
}

func TestGrantAppliesWhenNoRuleMatches(t *testing.T) {
	cp, err := policy.Compile(policy.Policy{
		Grants:  []policy.Grant{{Capability: kernel.CapNetRead}},
		Default: policy.ActionDeny,
	})
	require.NoError(t, err)

	proof := cp.Decide(policy.MatchContext{ToolName: "http.get", Capability: kernel.CapNetRead, HasCapability: true}, 1)
	require.True(t, proof.Allowed)
	require.Equal(t, policy.ReasonGrantedCapability, proof.Reasoning)
}

func TestDenyAppliesAfterGrantsMiss(t *testing.T) {
	cp, err := policy.Compile(policy.Policy{
		Denies: []policy.Deny{
			{ToolPattern: "*", Capability: kernel.CapFsWrite, HasCapability: true},
		},
		Default: policy.ActionAllow,
	})
	require.NoError(t, err)

	proof := cp.Decide(policy.MatchContext{ToolName: "fs.write", Capability: kernel.CapFsWrite, HasCapability: true}, 1)
	require.False(t, proof.Allowed)
	require.Equal(t, policy.ReasonDeniedCapability, proof.Reasoning)
}

func TestDefaultAppliesWhenNothingMatches(t *testing.T) {
	cp, err := policy.Compile(policy.Policy{Default: policy.ActionAllow})
	require.NoError(t, err)

	proof := cp.Decide(policy.MatchContext{ToolName: "noop"}, 1)
	require.True(t, proof.Allowed)
	require.Equal(t, policy.ReasonDefault, proof.Reasoning)
}

// P6: decide is a pure function of (policy, context); DecisionID too.
func TestDecideIsDeterministic(t *testing.T) {
	cp, err := policy.Compile(policy.Policy{Default: policy.ActionDeny})
	require.NoError(t, err)

	ctx := policy.MatchContext{ToolName: "x", Capability: kernel.CapNetRead, HasCapability: true}
	p1 := cp.Decide(ctx, 5)
	p2 := cp.Decide(ctx, 5)
	require.Equal(t, p1, p2)
}

func TestCompileDetectsUnresolvableConflict(t *testing.T) {
	_, err := policy.Compile(policy.Policy{
		Grants: []policy.Grant{{Capability: kernel.CapNetWrite}},
		Denies: []policy.Deny{{Capability: kernel.CapNetWrite, HasCapability: true}},
	})
	require.Error(t, err)
}

func TestLaterPolicyOverridesEarlier(t *testing.T) {
	base := policy.Policy{
		Rules: []policy.Rule{
			{Name: "base_allow", ToolPattern: "*", Capability: kernel.CapNetRead, HasCapability: true, Action: policy.ActionAllow},
		},
	}
	override := policy.Policy{
		Rules: []policy.Rule{
			{Name: "override_deny", ToolPattern: "*", Capability: kernel.CapNetRead, HasCapability: true, Action: policy.ActionDeny},
		},
	}
	cp, err := policy.Compile(base, override)
	require.NoError(t, err)

	proof := cp.Decide(policy.MatchContext{ToolName: "x", Capability: kernel.CapNetRead, HasCapability: true}, 1)
	require.False(t, proof.Allowed)
	require.Equal(t, "rule:override_deny", proof.Matched)
}

func TestRateLimiterAdvancesOnLogicalTimeOnly(t *testing.T) {
	rl := policy.NewRateLimiter(map[string]policy.RateLimitSpec{
		"slow_tool": {ToolName: "slow_tool", Capacity: 1, RefillPerTick: 1, TickLogical: 10},
	})
	require.True(t, rl.Allow("slow_tool", 1))
	require.False(t, rl.Allow("slow_tool", 2)) // no refill yet
	require.True(t, rl.Allow("slow_tool", 11)) // one tick elapsed, refilled
}

func TestRateLimiterSnapshotRestoreIsReplayStable(t *testing.T) {
	specs := map[string]policy.RateLimitSpec{
		"tool": {ToolName: "tool", Capacity: 2, RefillPerTick: 1, TickLogical: 5},
	}
	rl := policy.NewRateLimiter(specs)
	require.True(t, rl.Allow("tool", 1))
	require.True(t, rl.Allow("tool", 1))
	require.False(t, rl.Allow("tool", 1))

	snap := rl.Snapshot()
	restored := policy.RestoreRateLimiter(specs, snap)
	require.False(t, restored.Allow("tool", 1))
}
