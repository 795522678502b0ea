package policy

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Explanation is the result of walking the compiled decision tree for a
// context without actually producing a DecisionProof — the `policy
// explain` CLI path (spec §6).
type Explanation struct {
	Allowed     bool
	Matched     string
	Reasoning   ReasonTag
	Suggestions []string // populated only when nothing matched and ctx.ToolName is unknown
}

// Explain mirrors Decide's evaluation but additionally offers "did you
// mean" suggestions when the context's tool name doesn't appear in any
// rule, grant, or deny and the result falls through to Default — the same
// fuzzy-match shape the teacher's planner uses to suggest command names.
func (cp *CompiledPolicy) Explain(ctx MatchContext) Explanation {
	allowed, matched, reason := cp.evaluate(ctx)
	exp := Explanation{Allowed: allowed, Matched: matched, Reasoning: reason}

	if reason != ReasonDefault {
		return exp
	}

	known := cp.knownToolNames()
	if contains(known, ctx.ToolName) || len(known) == 0 {
		return exp
	}
	matches := fuzzy.RankFindFold(ctx.ToolName, known)
	sort.Sort(matches)
	for i, m := range matches {
		if i >= 3 {
			break
		}
		exp.Suggestions = append(exp.Suggestions, m.Target)
	}
	return exp
}

func (cp *CompiledPolicy) knownToolNames() []string {
	seen := make(map[string]struct{})
	for _, r := range cp.Rules {
		if r.ToolPattern != "" && r.ToolPattern != "*" {
			seen[r.ToolPattern] = struct{}{}
		}
	}
	for _, d := range cp.Denies {
		if d.ToolPattern != "" && d.ToolPattern != "*" {
			seen[d.ToolPattern] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
