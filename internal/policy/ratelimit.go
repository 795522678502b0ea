package policy

import (
	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// BucketState is one tool's token-bucket state. It is part of the
// replay-sensitive State (spec §9 open question "rate-limit carryover
// across snapshot boundaries" — resolved here as "include": BucketState
// must be captured by any snapshot that includes policy state, or replay
// of the same event stream cannot re-derive the same accept/reject
// sequence after restoring from that snapshot).
type BucketState struct {
	ToolName          string
	Tokens            uint64
	LastRefillLogical uint64
}

// RateLimiter evaluates token buckets purely in terms of logical time
// (spec §4.5, §9): it never reads a wall clock, so replaying the same
// event stream reproduces the same accept/reject decisions.
type RateLimiter struct {
	specs   map[string]RateLimitSpec
	buckets map[string]BucketState
}

// NewRateLimiter builds a limiter from the compiled policy's specs, with
// every bucket starting full.
func NewRateLimiter(specs map[string]RateLimitSpec) *RateLimiter {
	rl := &RateLimiter{specs: specs, buckets: make(map[string]BucketState, len(specs))}
	for name, spec := range specs {
		rl.buckets[name] = BucketState{ToolName: name, Tokens: spec.Capacity, LastRefillLogical: 0}
	}
	return rl
}

// RestoreRateLimiter rebuilds a limiter from previously snapshotted bucket
// states (spec §9), so replay resumes accept/reject decisions exactly
// where the snapshot left off.
func RestoreRateLimiter(specs map[string]RateLimitSpec, buckets []BucketState) *RateLimiter {
	rl := &RateLimiter{specs: specs, buckets: make(map[string]BucketState, len(specs))}
	for name, spec := range specs {
		rl.buckets[name] = BucketState{ToolName: name, Tokens: spec.Capacity, LastRefillLogical: 0}
	}
	for _, b := range buckets {
		rl.buckets[b.ToolName] = b
	}
	return rl
}

// Snapshot returns a deterministic, sorted-by-name copy of every bucket's
// state, suitable for embedding in a Snapshot.
func (rl *RateLimiter) Snapshot() []BucketState {
	names := make([]string, 0, len(rl.buckets))
	for n := range rl.buckets {
		names = append(names, n)
	}
	sortStrings(names)
	out := make([]BucketState, 0, len(names))
	for _, n := range names {
		out = append(out, rl.buckets[n])
	}
	return out
}

// Allow advances toolName's bucket to logicalTime (refilling by elapsed
// ticks) and consumes one token if available, returning whether the call
// is accepted. A tool with no configured RateLimitSpec is always allowed.
func (rl *RateLimiter) Allow(toolName string, logicalTime kernel.LogicalTime) bool {
	spec, ok := rl.specs[toolName]
	if !ok {
		return true
	}
	b := rl.buckets[toolName]

	if spec.TickLogical > 0 {
		elapsed := uint64(logicalTime) - b.LastRefillLogical
		ticks := elapsed / spec.TickLogical
		if ticks > 0 {
			refill := ticks * spec.RefillPerTick
			b.Tokens += refill
			if b.Tokens > spec.Capacity {
				b.Tokens = spec.Capacity
			}
			b.LastRefillLogical += ticks * spec.TickLogical
		}
	}

	allowed := b.Tokens > 0
	if allowed {
		b.Tokens--
	}
	rl.buckets[toolName] = b
	return allowed
}

// DecisionForRateLimit derives a deterministic DecisionProof for an
// Allow/reject outcome from a tool's token bucket, the same shape
// CompiledPolicy.Decide produces for rule/grant/deny decisions, so
// dispatch can log it as an ordinary PolicyDecision event (spec §4.5,
// P6: pure function of (toolName, logicalTime, allowed), never a random
// id).
func DecisionForRateLimit(toolName string, logicalTime kernel.LogicalTime, allowed bool) DecisionProof {
	return DecisionProof{
		DecisionID:  deriveRateLimitDecisionID(toolName, logicalTime, allowed),
		Allowed:     allowed,
		Matched:     "ratelimit:" + toolName,
		Reasoning:   ReasonRateLimited,
		LogicalTime: logicalTime,
	}
}

func deriveRateLimitDecisionID(toolName string, logicalTime kernel.LogicalTime, allowed bool) kernel.ID {
	w := codec.NewWriter()
	w.String(toolName)
	w.U64(uint64(logicalTime))
	w.Bool(allowed)

	h := hashid.H(w.Bytes())
	var b [16]byte
	copy(b[:], h[:16])
	return kernel.IDFromBytes("dec", b)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
