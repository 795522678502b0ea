package policy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Redactor provides keyed redaction for the policy engine's `redact`
// action (spec §4.5, SPEC_FULL.md supplement): Apply replaces matched
// parameter values with a stable per-run placeholder derived from a keyed
// fingerprint, which cannot be correlated across runs. The run
// orchestrator does not call it. Grounded directly on the teacher's
// runtime/scrubber.Scrubber: a random per-run BLAKE2b key and a
// Fingerprint method with the identical "keyed hash, not the raw value"
// shape.
type Redactor struct {
	mu     sync.Mutex
	runKey []byte
}

// NewRedactor generates a fresh per-run BLAKE2b key.
func NewRedactor() *Redactor {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("policy: failed to generate redactor run key: %v", err))
	}
	return &Redactor{runKey: key}
}

// Fingerprint returns a keyed BLAKE2b-256 hex digest of value, used
// internally for logging instead of the raw value — never for display to
// the tool or downstream consumers.
func (r *Redactor) Fingerprint(value string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := blake2b.New256(r.runKey)
	if err != nil {
		panic(fmt.Sprintf("policy: failed to create blake2b hash: %v", err))
	}
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// Placeholder returns the stable placeholder substituted for a redacted
// value: "cathedral:redacted:<fingerprint prefix>".
func (r *Redactor) Placeholder(value string) string {
	fp := r.Fingerprint(value)
	return "cathedral:redacted:" + fp[:16]
}

// Apply redacts every key in rule.ParamKeys present in params whose
// tool name matches rule.ToolPattern, returning a new map (params is never
// mutated in place) and the set of keys actually redacted, in sorted
// order for deterministic logging.
func (r *Redactor) Apply(toolName string, params map[string]string, rules []RedactionRule) (map[string]string, []string) {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}

	redacted := make(map[string]struct{})
	for _, rule := range rules {
		if !toolPatternMatches(rule.ToolPattern, toolName) {
			continue
		}
		for _, key := range rule.ParamKeys {
			if v, ok := out[key]; ok {
				out[key] = r.Placeholder(v)
				redacted[key] = struct{}{}
			}
		}
	}

	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys
}
