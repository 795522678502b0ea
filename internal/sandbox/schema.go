package sandbox

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Schema wraps a compiled JSON schema used to validate a tool's declared
// input or output shape (spec §4.7 steps 1 and 5). Tool schemas are
// trusted, policy-like configuration, so they're compiled once and reused
// across every invocation of that tool.
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document (as raw bytes) for
// repeated use. name is used only for error messages and the internal
// resource URL.
func CompileSchema(name string, doc []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(doc)); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "failed to add schema resource "+name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "failed to compile schema "+name, err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks raw (a JSON document) against s, returning
// kerr.InvalidInput on any violation.
func (s *Schema) Validate(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return kerr.Wrap(kerr.InvalidInput, "payload is not valid JSON", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return kerr.Wrap(kerr.InvalidInput, "payload failed schema validation", err)
	}
	return nil
}
