package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/heliossim/helios/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for the workflow element mapping.
// Embedded as a constant to avoid filesystem dependencies. The top level is
// an object from element name to element; the per-type field constraints are
// expressed with if/then blocks on the type discriminator.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://heliossim.dev/schemas/workflow.json",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": { "$ref": "#/$defs/element" },
  "$defs": {
    "name_list": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "element": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["data", "parameter", "sim_unit", "plugin"]
        },
        "mode": {
          "type": "string",
          "enum": ["read", "write"]
        },
        "path": { "$ref": "#/$defs/name_list" },
        "output_format": { "type": "string" },
        "source": { "$ref": "#/$defs/name_list" },
        "library": { "type": "string", "minLength": 1 },
        "data_dictionary": { "type": "string", "minLength": 1 },
        "step_size_ms": {
          "type": "number",
          "exclusiveMinimum": 0
        },
        "cancel_condition": { "type": "string" },
        "condition_engine": {
          "type": "string",
          "enum": ["expr", "cel"]
        },
        "vstack_pattern": { "type": "string" },
        "command": { "type": "string", "minLength": 1 },
        "config": { "type": "object" },
        "input": { "$ref": "#/$defs/name_list" },
        "parameter": { "$ref": "#/$defs/name_list" },
        "init": { "$ref": "#/$defs/name_list" },
        "hash_list": { "$ref": "#/$defs/name_list" },
        "produced": { "$ref": "#/$defs/name_list" }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "data" } } },
          "then": { "required": ["mode"] }
        },
        {
          "if": { "properties": { "type": { "const": "parameter" } } },
          "then": { "required": ["mode"] }
        },
        {
          "if": { "properties": { "type": { "const": "sim_unit" } } },
          "then": { "required": ["library", "data_dictionary", "step_size_ms"] }
        },
        {
          "if": { "properties": { "type": { "const": "plugin" } } },
          "then": { "required": ["command"] }
        }
      ]
    }
  }
}`

// dictionarySchemaJSON is the JSON Schema for simulation-unit data
// dictionaries. Alternatives entries are polymorphic (signal name or numeric
// literal), so their deep checks live in the semantic stage.
const dictionarySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://heliossim.dev/schemas/dictionary.json",
  "type": "object",
  "required": ["variables"],
  "properties": {
    "entry_point": { "type": "string", "minLength": 1 },
    "variables": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/variable" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "variable": {
      "type": "object",
      "required": ["name", "datatype", "role"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "datatype": { "type": "string", "minLength": 1 },
        "shape": {
          "type": "array",
          "maxItems": 2,
          "items": { "type": "integer", "minimum": 1 }
        },
        "role": {
          "type": "string",
          "enum": ["input", "output", "parameter"]
        },
        "default": { "type": "number" },
        "alternatives": {
          "type": "array",
          "minItems": 1
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates workflows and data dictionaries against the
// embedded JSON Schemas (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema   *jsonschema.Schema
	dictionarySchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with both schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(url, raw string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
		return c.Compile(url)
	}

	wf, err := compile("https://heliossim.dev/schemas/workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	dict, err := compile("https://heliossim.dev/schemas/dictionary.json", dictionarySchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile dictionary schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wf, dictionarySchema: dict}, nil
}

// ValidateWorkflow validates a workflow against the workflow schema. The
// original document bytes are preferred over the parsed struct: decoding
// drops unknown fields, which additionalProperties must still reject.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	var doc any
	var err error
	if raw := wf.Raw(); raw != nil {
		doc, err = jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	} else {
		doc, err = toJSONValue(wf)
	}
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toHeliosError(err)
	}
	return nil
}

// ValidateDictionary validates a data dictionary against the dictionary schema.
func (v *JSONSchemaValidator) ValidateDictionary(d *schema.DataDictionary) error {
	if d == nil {
		return schema.NewError(schema.ErrCodeSchema, "data dictionary is nil")
	}
	doc, err := toJSONValue(d)
	if err != nil {
		return schema.NewError(schema.ErrCodeSchema, "failed to serialize data dictionary").WithCause(err)
	}
	if err := v.dictionarySchema.Validate(doc); err != nil {
		herr := toHeliosError(err)
		herr.Code = schema.ErrCodeSchema
		return herr
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toHeliosError converts a jsonschema.ValidationError into a HeliosError
// carrying one message per leaf violation.
func toHeliosError(err error) *schema.HeliosError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
