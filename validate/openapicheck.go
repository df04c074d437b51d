package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaygate/core/llm"
	"gopkg.in/yaml.v3"
)

// openAPIValidator implements openapi_spec: a structural check (a `paths`
// key plus an `openapi`/`swagger` version key) over the same JSON/YAML
// decode path the CLI proxy's tool-config loader uses, since no
// OpenAPI-schema library appears in the retrieval pack.
type openAPIValidator struct{}

func newOpenAPIValidator(map[string]any) (Validator, error) { return openAPIValidator{}, nil }
func (openAPIValidator) Name() string                        { return "openapi_spec" }

func (openAPIValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	text := primaryText(resp)
	doc, err := decodeJSONOrYAML(text)
	if err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content is not valid JSON or YAML: %v", err)}, nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return ValidationResult{Valid: false, Reasoning: "content is not a document object"}, nil
	}
	if _, hasPaths := obj["paths"]; !hasPaths {
		return ValidationResult{Valid: false, Reasoning: "document has no paths key"}, nil
	}
	_, hasOpenAPI := obj["openapi"]
	_, hasSwagger := obj["swagger"]
	if !hasOpenAPI && !hasSwagger {
		return ValidationResult{Valid: false, Reasoning: "document has neither an openapi nor a swagger version key"}, nil
	}
	return ValidationResult{Valid: true}, nil
}

func decodeJSONOrYAML(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	var doc any
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			return doc, nil
		}
	}
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, err
	}
	return normalizeYAMLMap(doc), nil
}

// normalizeYAMLMap converts map[string]interface{} trees that yaml.v3
// sometimes decodes as map[interface{}]interface{} into map[string]any so
// downstream lookups behave the same as the JSON path.
func normalizeYAMLMap(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAMLMap(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAMLMap(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAMLMap(val)
		}
		return out
	default:
		return v
	}
}
