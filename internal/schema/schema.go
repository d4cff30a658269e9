// Package schema validates LLM structured output against JSON Schema
// documents and repairs malformed payloads through bounded model
// round-trips.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Target is the validation capability for one structured payload
// shape. Parse turns raw payload text into a value and Conforms checks
// that value against the shape. There is no "no schema" mode; callers
// without shape requirements simply do not validate.
type Target interface {
	// Name identifies the target in errors and log output.
	Name() string
	// Description is the shape description embedded in repair prompts.
	Description() string
	Parse(raw string) (any, error)
	Conforms(value any) error
}

// Schema is a Target backed by a compiled JSON Schema. The source
// document doubles as the schema description sent to the model during
// repair.
type Schema struct {
	name     string
	document string
	compiled *jsonschema.Schema
}

var _ Target = (*Schema)(nil)

// Compile compiles a JSON Schema document. The name identifies the
// schema in validation errors and log output.
func Compile(name, document string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name, document)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	return &Schema{
		name:     name,
		document: document,
		compiled: compiled,
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for
// package-level schema declarations.
func MustCompile(name, document string) *Schema {
	s, err := Compile(name, document)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema identifier.
func (s *Schema) Name() string {
	return s.name
}

// Description returns the schema source document.
func (s *Schema) Description() string {
	return s.document
}

// Parse decodes raw JSON text into the generic value shape the
// compiled schema validates against.
func (s *Schema) Parse(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return value, nil
}

// Conforms checks a parsed value against the compiled schema.
func (s *Schema) Conforms(value any) error {
	return s.compiled.Validate(value)
}
