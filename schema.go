package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema validates a trigger payload or a step input/output. Validators are
// opaque to the engine: any non-nil error is surfaced as a ValidationError
// by the caller.
type Schema interface {
	Validate(v any) error
}

// SchemaFunc adapts a plain function to the Schema interface.
type SchemaFunc func(v any) error

func (f SchemaFunc) Validate(v any) error { return f(v) }

type jsonSchema struct {
	resolved *jsonschema.Resolved
}

// JSONSchema compiles a raw JSON Schema document into a validator.
func JSONSchema(raw []byte) (Schema, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return &jsonSchema{resolved: resolved}, nil
}

// MustJSONSchema is JSONSchema for schemas known valid at build time.
func MustJSONSchema(raw []byte) Schema {
	s, err := JSONSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the instance against the compiled schema. Values are
// normalized through a JSON round-trip so that struct instances validate
// the same way their persisted forms do.
func (s *jsonSchema) Validate(v any) error {
	normalized, err := normalizeJSON(v)
	if err != nil {
		return err
	}
	return s.resolved.Validate(normalized)
}

func normalizeJSON(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal instance: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return out, nil
}
