package eventlog

import (
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// ChainValidator is a stateless-given-last-hash validator for the
// event-hash chain (spec §4.3). Each call to Validate either advances the
// expected prior hash to event.PostStateHash or returns an error.
type ChainValidator struct {
	expectedPrior     hashid.Hash
	haveExpectedPrior bool
	lastLogicalTime   kernel.LogicalTime
	haveLastTime      bool
}

// NewChainValidator returns a validator positioned at the start of a run
// (i.e. the first validated event must have no prior_state_hash).
func NewChainValidator() *ChainValidator {
	return &ChainValidator{}
}

// Validate checks event against the chain invariants (spec P3, P4):
//
//   - payload_hash == H(payload)
//   - prior_state_hash(N) == post_state_hash(N-1), or absent for N==0
//   - logical_time strictly increases
//
// On success it advances internal state to accept the next event.
func (c *ChainValidator) Validate(e Event) error {
	if hashid.H(e.Payload) != e.PayloadHash {
		return kerr.New(kerr.InvalidHash, "payload_hash does not match H(payload)").WithEvent(e.EventID.String())
	}

	if c.haveExpectedPrior {
		if !e.HasPriorState {
			return kerr.New(kerr.MissingHash, "event missing prior_state_hash").WithEvent(e.EventID.String())
		}
		if e.PriorStateHash != c.expectedPrior {
			return kerr.New(kerr.BrokenLink, "prior_state_hash does not match previous post_state_hash").WithEvent(e.EventID.String())
		}
	} else if e.HasPriorState {
		return kerr.New(kerr.BrokenLink, "first event in run must not have prior_state_hash").WithEvent(e.EventID.String())
	}

	if c.haveLastTime && !c.lastLogicalTime.Before(e.LogicalTime) {
		return kerr.New(kerr.ReorderedEvent, "logical_time did not strictly increase").WithEvent(e.EventID.String())
	}

	if e.HasPostState {
		c.expectedPrior = e.PostStateHash
		c.haveExpectedPrior = true
	}
	c.lastLogicalTime = e.LogicalTime
	c.haveLastTime = true
	return nil
}
