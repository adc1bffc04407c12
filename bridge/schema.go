package bridge

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ShapeError reports an inbound message that does not match its wire shape.
type ShapeError struct {
	Type    MessageType
	Details string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("malformed %s message: %s", e.Type, e.Details)
}

var messageSchemas = map[MessageType]string{
	TypeBridgeRequest: `{
		"type": "object",
		"required": ["pluginId", "sessionNonce", "requestNonce", "requestId", "namespace", "action"],
		"properties": {
			"pluginId": {"type": "string"},
			"sessionNonce": {"type": "string"},
			"requestNonce": {"type": "string"},
			"requestId": {"type": "string"},
			"namespace": {"type": "string"},
			"action": {"type": "string"}
		}
	}`,
	TypeConfigUpdate: `{
		"type": "object",
		"required": ["config"],
		"properties": {
			"config": {"type": "object"},
			"persist": {"type": "boolean"}
		}
	}`,
	TypeResize: `{
		"type": "object",
		"properties": {
			"height": {"type": "number"}
		}
	}`,
}

// ShapeValidator checks inbound messages against per-type JSON schemas.
type ShapeValidator struct {
	schemas map[MessageType]*gojsonschema.Schema
}

// NewShapeValidator compiles the built-in message schemas.
func NewShapeValidator() (*ShapeValidator, error) {
	sv := &ShapeValidator{schemas: make(map[MessageType]*gojsonschema.Schema, len(messageSchemas))}
	for typ, src := range messageSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", typ, err)
		}
		sv.schemas[typ] = schema
	}
	return sv, nil
}

// MustShapeValidator is NewShapeValidator for package-level use; the built-in
// schemas are constant, so a failure is a programming error.
func MustShapeValidator() *ShapeValidator {
	sv, err := NewShapeValidator()
	if err != nil {
		panic(err)
	}
	return sv
}

// Validate checks msg against the schema for typ. Types without a schema
// always pass.
func (sv *ShapeValidator) Validate(typ MessageType, msg map[string]any) error {
	schema, ok := sv.schemas[typ]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(msg))
	if err != nil {
		return &ShapeError{Type: typ, Details: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ShapeError{Type: typ, Details: strings.Join(details, "; ")}
}
