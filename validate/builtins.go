package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/relaygate/core/llm"
)

func registerBuiltins(r *Registry) {
	r.factories["response_not_empty"] = newNotEmptyValidator
	r.factories["json"] = newJSONValidator
	r.factories["json_string"] = newJSONValidator
	r.factories["field_present"] = newFieldPresentValidator
	r.factories["length"] = newLengthValidator
	r.factories["regex"] = newRegexValidator
	r.factories["contains"] = newContainsValidator
	r.factories["code"] = newCodeValidator
	r.factories["python"] = newCodeValidator
	r.factories["schema"] = newSchemaValidator
	r.factories["sql"] = newSQLValidator
	r.factories["sql_safe"] = newSQLSafeValidator
	r.factories["openapi_spec"] = newOpenAPIValidator
	r.factories["ai_contradiction_check"] = newContradictionValidator
	r.factories["agent_task"] = newAgentTaskValidator
}

func primaryText(resp *llm.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}

// notEmptyValidator implements response_not_empty.
type notEmptyValidator struct{}

func newNotEmptyValidator(map[string]any) (Validator, error) { return notEmptyValidator{}, nil }
func (notEmptyValidator) Name() string                       { return "response_not_empty" }
func (notEmptyValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	text := strings.TrimSpace(primaryText(resp))
	if text == "" {
		return ValidationResult{Valid: false, Reasoning: "response content is empty after trim"}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// jsonValidator implements json / json_string.
type jsonValidator struct{}

func newJSONValidator(map[string]any) (Validator, error) { return jsonValidator{}, nil }
func (jsonValidator) Name() string                        { return "json" }
func (jsonValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	var v any
	if err := json.Unmarshal([]byte(primaryText(resp)), &v); err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content does not parse as JSON: %v", err)}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// fieldPresentValidator implements field_present.
type fieldPresentValidator struct {
	fieldPath     string
	expectedValue any
	hasExpected   bool
}

func newFieldPresentValidator(params map[string]any) (Validator, error) {
	path, _ := params["field_name"].(string)
	if path == "" {
		return nil, fmt.Errorf("field_present validator requires field_name param")
	}
	v := &fieldPresentValidator{fieldPath: path}
	if ev, ok := params["expected_value"]; ok {
		v.expectedValue = ev
		v.hasExpected = true
	}
	return v, nil
}

func (v *fieldPresentValidator) Name() string { return "field_present" }

func (v *fieldPresentValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(primaryText(resp)), &doc); err != nil {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content is not valid JSON: %v", err)}, nil
	}
	val, ok := lookupDotPath(doc, v.fieldPath)
	if !ok {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("field %q not present", v.fieldPath)}, nil
	}
	if v.hasExpected && !valuesEqual(val, v.expectedValue) {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("field %q = %v, expected %v", v.fieldPath, val, v.expectedValue)}, nil
	}
	return ValidationResult{Valid: true}, nil
}

func lookupDotPath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// lengthValidator implements length.
type lengthValidator struct {
	minLength, maxLength int
	hasMin, hasMax        bool
}

func newLengthValidator(params map[string]any) (Validator, error) {
	v := &lengthValidator{}
	if mn, ok := numParam(params, "min_length"); ok {
		v.minLength, v.hasMin = mn, true
	}
	if mx, ok := numParam(params, "max_length"); ok {
		v.maxLength, v.hasMax = mx, true
	}
	return v, nil
}

func numParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (v *lengthValidator) Name() string { return "length" }

func (v *lengthValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	n := len(primaryText(resp))
	if v.hasMin && n < v.minLength {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("length %d below min_length %d", n, v.minLength)}, nil
	}
	if v.hasMax && n > v.maxLength {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("length %d above max_length %d", n, v.maxLength)}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// regexValidator implements regex.
type regexValidator struct {
	re *regexp.Regexp
}

func newRegexValidator(params map[string]any) (Validator, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("regex validator requires pattern param")
	}
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regex validator: invalid pattern: %w", err)
	}
	return &regexValidator{re: re}, nil
}

func (v *regexValidator) Name() string { return "regex" }

func (v *regexValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	text := primaryText(resp)
	if !v.re.MatchString(text) {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content does not match pattern %q", v.re.String())}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// containsValidator implements contains.
type containsValidator struct {
	substr        string
	caseSensitive bool
}

func newContainsValidator(params map[string]any) (Validator, error) {
	s, _ := params["substring"].(string)
	if s == "" {
		return nil, fmt.Errorf("contains validator requires substring param")
	}
	cs, _ := params["case_sensitive"].(bool)
	return &containsValidator{substr: s, caseSensitive: cs}, nil
}

func (v *containsValidator) Name() string { return "contains" }

func (v *containsValidator) Validate(_ context.Context, resp *llm.Response, _ Context) (ValidationResult, error) {
	text := primaryText(resp)
	needle := v.substr
	if !v.caseSensitive {
		text = strings.ToLower(text)
		needle = strings.ToLower(needle)
	}
	if !strings.Contains(text, needle) {
		return ValidationResult{Valid: false, Reasoning: fmt.Sprintf("content does not contain %q", v.substr)}, nil
	}
	return ValidationResult{Valid: true}, nil
}
