package sandbox

import (
	"bytes"
	"encoding/json"

	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Form selects one of the three normalization rules from spec §4.7.
type Form uint8

const (
	FormJSON Form = iota
	FormBinary
	FormCustom
)

// CustomFunc is a deterministic raw-to-normalized transform for Form ==
// FormCustom. It must be a pure function of its input: the same raw bytes
// always normalize identically (spec P10).
type CustomFunc func(raw []byte) ([]byte, error)

// NormalizedOutput is the canonical form of a tool's raw output together
// with its content hash, per spec §4.7: tool_response_hash = H(normalized).
type NormalizedOutput struct {
	Bytes []byte
	Hash  hashid.Hash
}

// Normalize applies form's rule to raw and hashes the result.
//
//   - FormJSON re-emits parsed JSON with keys sorted and no insignificant
//     whitespace, so two byte-different-but-semantically-equal JSON blobs
//     normalize identically.
//   - FormBinary passes raw through unchanged.
//   - FormCustom applies fn, which must be supplied.
func Normalize(form Form, raw []byte, fn CustomFunc) (NormalizedOutput, error) {
	var out []byte
	switch form {
	case FormJSON:
		normalized, err := normalizeJSON(raw)
		if err != nil {
			return NormalizedOutput{}, err
		}
		out = normalized
	case FormBinary:
		out = raw
	case FormCustom:
		if fn == nil {
			return NormalizedOutput{}, kerr.New(kerr.InvalidInput, "FormCustom requires a CustomFunc")
		}
		normalized, err := fn(raw)
		if err != nil {
			return NormalizedOutput{}, err
		}
		out = normalized
	default:
		return NormalizedOutput{}, kerr.New(kerr.InvalidInput, "unknown normalization form")
	}

	return NormalizedOutput{Bytes: out, Hash: hashid.H(out)}, nil
}

// normalizeJSON decodes raw generically (so object key order is
// discarded) and re-encodes with sorted keys and no insignificant
// whitespace. encoding/json's map handling already sorts keys on encode,
// which is exactly the stability property required here.
func normalizeJSON(raw []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // preserve numeric literals exactly instead of round-tripping through float64
	if err := dec.Decode(&v); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "tool output is not valid JSON", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "failed to re-encode normalized JSON", err)
	}

	// json.Encoder.Encode appends a trailing newline; trim it so the
	// normalized form has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
