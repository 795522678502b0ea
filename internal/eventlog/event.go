package eventlog

import (
	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

// CapabilityCheckRef is the compact capability-check reference embedded in
// an Event, per the bit-exact layout in spec §6:
// {allowed:1B, decision_id:16B}.
type CapabilityCheckRef struct {
	Allowed    bool
	DecisionID kernel.ID
}

// ErrorRef is the optional error payload embedded in an Event: {code:u32
// BE, message:length-prefixed UTF-8}.
type ErrorRef struct {
	Code    uint32
	Message string
}

// Event is the canonical event record (spec §3, §6). Exactly one Event is
// ever appended per call; appended events are never modified or deleted.
type Event struct {
	EventID  kernel.ID
	RunID    kernel.ID
	NodeID   kernel.ID
	ParentEventID  kernel.ID // zero value => absent
	HasParent      bool

	LogicalTime kernel.LogicalTime
	Kind        Kind
	Payload     []byte // already canonical-encoded bytes for Kind's variant

	PayloadHash hashid.Hash

	PriorStateHash hashid.Hash
	HasPriorState  bool
	PostStateHash  hashid.Hash
	HasPostState   bool

	CapabilityCheck    CapabilityCheckRef
	HasCapabilityCheck bool

	ToolRequestHash  hashid.Hash
	HasToolRequest   bool
	ToolResponseHash hashid.Hash
	HasToolResponse  bool

	Error    ErrorRef
	HasError bool
}

// NewEvent builds an Event with PayloadHash derived from payload,
// enforcing spec §3's payload_hash = H(payload) invariant at construction
// time rather than leaving it to the caller.
func NewEvent(eventID, runID, nodeID kernel.ID, logicalTime kernel.LogicalTime, kind Kind, payload []byte) Event {
	return Event{
		EventID:     eventID,
		RunID:       runID,
		NodeID:      nodeID,
		LogicalTime: logicalTime,
		Kind:        kind,
		Payload:     payload,
		PayloadHash: hashid.H(payload),
	}
}

// WithParent sets the optional parent event id.
func (e Event) WithParent(id kernel.ID) Event {
	e.ParentEventID = id
	e.HasParent = true
	return e
}

// WithPriorState sets the optional prior-state hash.
func (e Event) WithPriorState(h hashid.Hash) Event {
	e.PriorStateHash = h
	e.HasPriorState = true
	return e
}

// WithPostState sets the optional post-state hash.
func (e Event) WithPostState(h hashid.Hash) Event {
	e.PostStateHash = h
	e.HasPostState = true
	return e
}

// WithCapabilityCheck sets the optional capability-check reference.
func (e Event) WithCapabilityCheck(allowed bool, decisionID kernel.ID) Event {
	e.CapabilityCheck = CapabilityCheckRef{Allowed: allowed, DecisionID: decisionID}
	e.HasCapabilityCheck = true
	return e
}

// WithToolHashes sets the optional tool request/response hashes.
func (e Event) WithToolHashes(req, resp hashid.Hash) Event {
	e.ToolRequestHash = req
	e.HasToolRequest = true
	e.ToolResponseHash = resp
	e.HasToolResponse = true
	return e
}

// WithError sets the optional error payload.
func (e Event) WithError(code uint32, message string) Event {
	e.Error = ErrorRef{Code: code, Message: message}
	e.HasError = true
	return e
}

// MarshalCanonical implements codec.Marshaler per the bit-exact layout of
// spec §6:
//
//	event_id:16B | run_id:16B | node_id:16B | parent_event_id: 1B tag + 16B?
//	| logical_time: u64 BE | kind: u32 BE | payload: u32 BE length + bytes
//	| payload_hash:32B | prior_state_hash: opt 32B | post_state_hash: opt 32B
//	| capability_check: opt {allowed:1B, decision_id:16B}
//	| tool_request_hash: opt 32B | tool_response_hash: opt 32B
//	| error: opt {code:u32 BE, message:length-prefixed UTF-8}
func (e Event) MarshalCanonical(w *codec.Writer) {
	w.Bytes16(e.EventID.Bytes())
	w.Bytes16(e.RunID.Bytes())
	w.Bytes16(e.NodeID.Bytes())

	codec.EncodeOptionalBytes(w, e.HasParent, func(w *codec.Writer) {
		w.Bytes16(e.ParentEventID.Bytes())
	})

	w.U64(uint64(e.LogicalTime))
	w.U32(uint32(e.Kind))
	w.ByteString(e.Payload)
	w.Bytes32(e.PayloadHash)

	codec.EncodeOptionalBytes(w, e.HasPriorState, func(w *codec.Writer) { w.Bytes32(e.PriorStateHash) })
	codec.EncodeOptionalBytes(w, e.HasPostState, func(w *codec.Writer) { w.Bytes32(e.PostStateHash) })

	codec.EncodeOptionalBytes(w, e.HasCapabilityCheck, func(w *codec.Writer) {
		w.Bool(e.CapabilityCheck.Allowed)
		w.Bytes16(e.CapabilityCheck.DecisionID.Bytes())
	})

	codec.EncodeOptionalBytes(w, e.HasToolRequest, func(w *codec.Writer) { w.Bytes32(e.ToolRequestHash) })
	codec.EncodeOptionalBytes(w, e.HasToolResponse, func(w *codec.Writer) { w.Bytes32(e.ToolResponseHash) })

	codec.EncodeOptionalBytes(w, e.HasError, func(w *codec.Writer) {
		w.U32(e.Error.Code)
		w.String(e.Error.Message)
	})
}

// UnmarshalCanonical implements codec.Unmarshaler, the exact inverse of
// MarshalCanonical.
func (e *Event) UnmarshalCanonical(r *codec.Reader) error {
	eventIDBytes, err := r.Bytes16()
	if err != nil {
		return err
	}
	e.EventID = kernel.IDFromBytes("evt", eventIDBytes)

	runIDBytes, err := r.Bytes16()
	if err != nil {
		return err
	}
	e.RunID = kernel.IDFromBytes("run", runIDBytes)

	nodeIDBytes, err := r.Bytes16()
	if err != nil {
		return err
	}
	e.NodeID = kernel.IDFromBytes("node", nodeIDBytes)

	e.HasParent, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		b, err := r.Bytes16()
		if err != nil {
			return err
		}
		e.ParentEventID = kernel.IDFromBytes("evt", b)
		return nil
	})
	if err != nil {
		return err
	}

	lt, err := r.U64()
	if err != nil {
		return err
	}
	e.LogicalTime = kernel.LogicalTime(lt)

	kindVal, err := r.U32()
	if err != nil {
		return err
	}
	e.Kind = Kind(kindVal)

	if e.Payload, err = r.ByteString(); err != nil {
		return err
	}
	if e.PayloadHash, err = r.Bytes32(); err != nil {
		return err
	}

	e.HasPriorState, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		e.PriorStateHash, err = r.Bytes32()
		return err
	})
	if err != nil {
		return err
	}

	e.HasPostState, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		e.PostStateHash, err = r.Bytes32()
		return err
	})
	if err != nil {
		return err
	}

	e.HasCapabilityCheck, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		allowed, err := r.Bool()
		if err != nil {
			return err
		}
		decBytes, err := r.Bytes16()
		if err != nil {
			return err
		}
		e.CapabilityCheck = CapabilityCheckRef{Allowed: allowed, DecisionID: kernel.IDFromBytes("dec", decBytes)}
		return nil
	})
	if err != nil {
		return err
	}

	e.HasToolRequest, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		e.ToolRequestHash, err = r.Bytes32()
		return err
	})
	if err != nil {
		return err
	}

	e.HasToolResponse, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		e.ToolResponseHash, err = r.Bytes32()
		return err
	})
	if err != nil {
		return err
	}

	e.HasError, err = codec.DecodeOptional(r, func(r *codec.Reader) error {
		code, err := r.U32()
		if err != nil {
			return err
		}
		msg, err := r.String()
		if err != nil {
			return err
		}
		e.Error = ErrorRef{Code: code, Message: msg}
		return nil
	})
	return err
}
