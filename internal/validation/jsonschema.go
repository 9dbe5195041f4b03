package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stepline/stepline/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for WorkflowDefinition documents.
// Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepline.dev/schemas/definition.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "agent": { "type": "string" },
    "phase": {
      "type": "integer",
      "minimum": 0
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "defaults": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name", "kind"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "enum": ["display", "elicit", "reflect", "template", "workflow", "sub-workflow", "route", "load_state_machine"]
        },
        "params": {},
        "guard": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// DefinitionValidator validates raw workflow definition documents against
// JSON Schema Draft 2020-12 before they are parsed into typed form.
// It is safe for concurrent use.
type DefinitionValidator struct {
	compiled *jsonschema.Schema
}

// NewDefinitionValidator compiles the embedded definition schema.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource("https://stepline.dev/schemas/definition.json", doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}

	compiled, err := c.Compile("https://stepline.dev/schemas/definition.json")
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	return &DefinitionValidator{compiled: compiled}, nil
}

// Parse validates a raw definition document and decodes it into a
// WorkflowDefinition. Any schema violation or structural problem is a
// DEFINITION_ERROR: a definition that parses is safe to execute.
func (v *DefinitionValidator) Parse(raw []byte) (*schema.WorkflowDefinition, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "definition is not valid JSON").WithCause(err)
	}

	if err := v.compiled.Validate(doc); err != nil {
		return nil, toDefinitionError(err)
	}

	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "decode definition").WithCause(err)
	}

	// Structural checks JSON Schema cannot express: duplicate step names,
	// kind-specific parameter shapes.
	if err := schema.ValidateDefinition(&def).ToError(); err != nil {
		return nil, err
	}

	return &def, nil
}

// toDefinitionError converts a jsonschema.ValidationError into a
// SteplineError with leaf-level violation messages.
func toDefinitionError(err error) *schema.SteplineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeDefinition, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeDefinition, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeDefinition, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("definition invalid with %d schema violations", len(violations))
	return schema.NewError(schema.ErrCodeDefinition, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		loc := "/"
		if len(e.InstanceLocation) > 0 {
			loc += strings.Join(e.InstanceLocation, "/")
		}
		out = append(out, fmt.Sprintf("%s: %s", loc, e.Error()))
	}
	walk(verr)
	return out
}
