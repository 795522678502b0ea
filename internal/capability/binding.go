package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Token binds a CapabilityCheck's allowance to the exact (run, node, task)
// triple it was granted for. A Token computed for one task must never
// authorize a check performed under a different task, even with the same
// capability kind — the non-transferability property this package adds
// beyond spec §4.6's bare allow/deny rules. Grounded on the teacher's
// runtime/vault SiteID scheme: an HMAC over a canonical site path so a
// reference can't be forged or replayed at an unauthorized site.
type Token [32]byte

// Binder issues and verifies Tokens under a single per-run key, so a
// capability check minted for one run cannot be replayed against another.
type Binder struct {
	runKey []byte
}

// NewBinder builds a Binder from a per-run secret key.
func NewBinder(runKey []byte) *Binder {
	cp := make([]byte, len(runKey))
	copy(cp, runKey)
	return &Binder{runKey: cp}
}

// Bind produces the Token authorizing capability checks for exactly this
// (runID, nodeID, taskID) triple.
func (b *Binder) Bind(runID, nodeID, taskID kernel.ID) Token {
	h := hmac.New(sha256.New, b.runKey)
	runBytes := runID.Bytes()
	nodeBytes := nodeID.Bytes()
	taskBytes := taskID.Bytes()
	h.Write(runBytes[:])
	h.Write(nodeBytes[:])
	h.Write(taskBytes[:])
	var tok Token
	copy(tok[:], h.Sum(nil))
	return tok
}

// Verify reports whether tok authorizes checks for (runID, nodeID, taskID),
// using constant-time comparison so timing differences can't leak the
// valid token.
func (b *Binder) Verify(tok Token, runID, nodeID, taskID kernel.ID) bool {
	want := b.Bind(runID, nodeID, taskID)
	return subtle.ConstantTimeCompare(tok[:], want[:]) == 1
}

// Authorize verifies tok is bound to (runID, nodeID, taskID) before
// delegating to g.Check, so a CapabilityCheck result computed for one
// task can never be presented to authorize a side effect under another.
func (g *Gate) Authorize(b *Binder, tok Token, runID, nodeID, taskID kernel.ID, req Request) (bool, error) {
	if !b.Verify(tok, runID, nodeID, taskID) {
		return false, kerr.New(kerr.CapabilityDenied, "capability token not bound to this run/node/task").
			WithContext("run_id", runID.String()).
			WithContext("node_id", nodeID.String()).
			WithContext("task_id", taskID.String())
	}
	return g.Check(req)
}
