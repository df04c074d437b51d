package validate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaygate/core/llm"
)

// schemaValidator implements schema: content JSON validates against a
// supplied JSON-Schema-shaped document. No JSON-Schema library appears
// anywhere in the retrieval pack (checked every go.mod and every
// other_examples/*.go import line), so this is a small hand-rolled
// structural checker covering the subset the rest of the corpus actually
// exercises: type, required, enum, properties, items.
type schemaValidator struct {
	schema map[string]any
}

func newSchemaValidator(params map[string]any) (Validator, error) {
	raw, ok := params["schema"]
	if !ok {
		return nil, fmt.Errorf("schema validator requires schema param")
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema validator: schema param must be an object")
	}
	return &schemaValidator{schema: doc}, nil
}

func (v *schemaValidator) Name() string { return "schema" }

func (v *schemaValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(primaryText(resp)), &doc); err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content is not valid JSON: %v", err)}, nil
	}
	if reason, ok := matchSchema(doc, v.schema); !ok {
		return ValidationResult{Valid: false, Reasoning: reason}, nil
	}
	return ValidationResult{Valid: true}, nil
}

func matchSchema(doc any, schema map[string]any) (string, bool) {
	if wantType, ok := schema["type"].(string); ok {
		if !matchesJSONType(doc, wantType) {
			return fmt.Sprintf("expected type %q, got %s", wantType, jsonTypeName(doc)), false
		}
	}
	if enum, ok := schema["enum"].([]any); ok {
		found := false
		for _, e := range enum {
			if valuesEqual(e, doc) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("value %v not in enum", doc), false
		}
	}
	obj, isObj := doc.(map[string]any)
	if required, ok := schema["required"].([]any); ok && isObj {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				return fmt.Sprintf("required field %q missing", name), false
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok && isObj {
		for name, propSchemaRaw := range props {
			val, present := obj[name]
			if !present {
				continue
			}
			propSchema, ok := propSchemaRaw.(map[string]any)
			if !ok {
				continue
			}
			if reason, ok := matchSchema(val, propSchema); !ok {
				return fmt.Sprintf("field %q: %s", name, reason), false
			}
		}
	}
	if itemSchemaRaw, ok := schema["items"].(map[string]any); ok {
		arr, isArr := doc.([]any)
		if isArr {
			for i, item := range arr {
				if reason, ok := matchSchema(item, itemSchemaRaw); !ok {
					return fmt.Sprintf("item %d: %s", i, reason), false
				}
			}
		}
	}
	return "", true
}

func matchesJSONType(v any, want string) bool {
	switch want {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "null":
		return v == nil
	default:
		return true
	}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
