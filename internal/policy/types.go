// Package policy implements the compiled decision-tree policy engine
// (spec §4.5): rules, capability grants/denies, rate limits and
// redactions, evaluated in a fixed order to produce a DecisionProof for
// every check.
package policy

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
)

// Action is the outcome a matched rule, grant, or deny produces.
type Action uint8

const (
	ActionAllow Action = iota + 1
	ActionDeny
	ActionRequire
	ActionRedact
)

// ReasonTag is the closed enum explaining why a decision came out the way
// it did (spec §4.5).
type ReasonTag string

const (
	ReasonGrantedCapability ReasonTag = "GrantedCapability"
	ReasonDeniedCapability  ReasonTag = "DeniedCapability"
	ReasonRuleMatch         ReasonTag = "RuleMatch"
	ReasonDefault           ReasonTag = "Default"
	ReasonConflict          ReasonTag = "Conflict"
	ReasonRateLimited       ReasonTag = "RateLimited"
)

// MatchContext is the input to a single policy decision.
type MatchContext struct {
	ToolName       string
	Capability     kernel.CapabilityKind
	HasCapability  bool
	TenantID       string
	Parameters     map[string]string
}

// Rule is one source-order entry in the decision tree. Match narrows on
// tool name (glob, "" matches any), capability kind, and tenant id ("" =
// any); the first rule whose Match accepts the context short-circuits
// evaluation.
type Rule struct {
	Name          string
	ToolPattern   string // "", exact, or glob with a single trailing "*"
	Capability    kernel.CapabilityKind
	HasCapability bool
	TenantID      string // "" = any
	Action        Action
}

// Grant is a capability-kind-scoped allow, checked after rules (spec
// §4.5 step 2).
type Grant struct {
	Capability kernel.CapabilityKind
	TenantID   string // "" = any
}

// Deny is an explicit deny, checked after grants (spec §4.5 step 3).
type Deny struct {
	ToolPattern string
	Capability  kernel.CapabilityKind
	HasCapability bool
	TenantID    string
}

// RateLimitSpec configures one tool's token bucket (spec §4.5, §9).
type RateLimitSpec struct {
	ToolName      string
	Capacity      uint64
	RefillPerTick uint64
	TickLogical   uint64
}

// RedactionRule names parameter keys whose values Redactor.Apply replaces
// with a stable placeholder, for tools matching ToolPattern. Apply does
// not look at any Rule's Action; a rule with ActionRedact is evaluated as
// an allow.
type RedactionRule struct {
	ToolPattern string
	ParamKeys   []string
}

// Policy is the uncompiled source form: rules in source order, grants,
// denies, rate limits, redactions, and a default action applied when
// nothing else matches.
type Policy struct {
	Rules       []Rule
	Grants      []Grant
	Denies      []Deny
	RateLimits  []RateLimitSpec
	Redactions  []RedactionRule
	Default     Action
}

// DecisionProof is the deterministic record justifying one decision (spec
// §3, §4.5, P6).
type DecisionProof struct {
	DecisionID  kernel.ID
	Allowed     bool
	Matched     string // rule name, or "grant:<kind>", "deny:<kind>", "default"
	Reasoning   ReasonTag
	LogicalTime kernel.LogicalTime
}
