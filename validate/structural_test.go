package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/llm"
)

func TestCodeValidator_Go(t *testing.T) {
	v, err := newCodeValidator(map[string]any{"language": "go"})
	require.NoError(t, err)

	res, _ := v.Validate(context.Background(), &llm.Response{Content: "func add(a, b int) int { return a + b }"}, Context{})
	assert.True(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: "func add(a, b int) int { return a + b"}, Context{})
	assert.False(t, res.Valid)
}

func TestCodeValidator_DefaultLanguageBracketBalance(t *testing.T) {
	v, err := newCodeValidator(nil)
	require.NoError(t, err)

	res, _ := v.Validate(context.Background(), &llm.Response{Content: "def f(x):\n    return [x, (x+1)]"}, Context{})
	assert.True(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: "def f(x):\n    return [x, (x+1]"}, Context{})
	assert.False(t, res.Valid)
}

func TestCodeValidator_EmptyContentFails(t *testing.T) {
	v, err := newCodeValidator(nil)
	require.NoError(t, err)
	res, _ := v.Validate(context.Background(), &llm.Response{Content: "   "}, Context{})
	assert.False(t, res.Valid)
}

func TestBracketBalance_IgnoresBracketsInsideStrings(t *testing.T) {
	res, err := validateBracketBalance(`x = "(unbalanced"`)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestSchemaValidator(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
	}
	v, err := newSchemaValidator(map[string]any{"schema": schema})
	require.NoError(t, err)

	res, _ := v.Validate(context.Background(), &llm.Response{Content: `{"name":"bob","age":30}`}, Context{})
	assert.True(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: `{"age":30}`}, Context{})
	assert.False(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: `{"name":"bob","age":"thirty"}`}, Context{})
	assert.False(t, res.Valid)
}

func TestSQLValidator(t *testing.T) {
	v := sqlValidator{}
	res, _ := v.Validate(context.Background(), &llm.Response{Content: "SELECT * FROM users"}, Context{})
	assert.True(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: "not a query"}, Context{})
	assert.False(t, res.Valid)
}

func TestSQLSafeValidator_DefaultDenylist(t *testing.T) {
	v, err := newSQLSafeValidator(nil)
	require.NoError(t, err)

	res, _ := v.Validate(context.Background(), &llm.Response{Content: "SELECT * FROM users"}, Context{})
	assert.True(t, res.Valid)

	res, _ = v.Validate(context.Background(), &llm.Response{Content: "DROP TABLE users"}, Context{})
	assert.False(t, res.Valid)
}

func TestSQLSafeValidator_CustomDenylist(t *testing.T) {
	v, err := newSQLSafeValidator(map[string]any{"denylist": []any{"grant"}})
	require.NoError(t, err)

	res, _ := v.Validate(context.Background(), &llm.Response{Content: "DROP TABLE users"}, Context{})
	assert.True(t, res.Valid, "custom denylist replaces the default, so drop is no longer checked")

	res, _ = v.Validate(context.Background(), &llm.Response{Content: "GRANT ALL ON users TO bob"}, Context{})
	assert.False(t, res.Valid)
}

func TestOpenAPIValidator(t *testing.T) {
	v := openAPIValidator{}
	valid := `{"openapi":"3.0.0","paths":{"/x":{}}}`
	res, _ := v.Validate(context.Background(), &llm.Response{Content: valid}, Context{})
	assert.True(t, res.Valid)

	missingPaths := `{"openapi":"3.0.0"}`
	res, _ = v.Validate(context.Background(), &llm.Response{Content: missingPaths}, Context{})
	assert.False(t, res.Valid)
}

func TestOpenAPIValidator_AcceptsYAML(t *testing.T) {
	v := openAPIValidator{}
	yamlDoc := "openapi: 3.0.0\npaths:\n  /x: {}\n"
	res, _ := v.Validate(context.Background(), &llm.Response{Content: yamlDoc}, Context{})
	assert.True(t, res.Valid)
}
